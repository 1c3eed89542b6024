package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/podclip/backend/internal/db"
	"github.com/podclip/backend/internal/models"
)

// PostgresChatRepository provides PostgreSQL-backed persistence for the
// append-only chat message log.
type PostgresChatRepository struct {
	pool db.Pool
}

// NewPostgresChatRepository constructs a chat repository backed by PostgreSQL.
func NewPostgresChatRepository(pool db.Pool) *PostgresChatRepository {
	return &PostgresChatRepository{pool: pool}
}

// Save appends one chat message.
func (r *PostgresChatRepository) Save(ctx context.Context, msg models.ChatMessage) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO chat_messages (id, role, content, query, citations, edit_plans, user_id, uploaded_file_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `, msg.ID, msg.Role, msg.Content, msg.Query, msg.Citations, msg.EditPlans, msg.UserID, msg.UploadedFileID, msg.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrNotFound
		}
		return fmt.Errorf("insert chat message: %w", err)
	}

	return nil
}

// ListForUser returns a user's messages in chronological order, optionally
// scoped to one uploaded file, capped at limit.
func (r *PostgresChatRepository) ListForUser(ctx context.Context, userID, uploadedFileID string, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	query := `
        SELECT id, role, content, query, citations, edit_plans, user_id, uploaded_file_id, created_at
        FROM chat_messages
        WHERE user_id = $1
    `
	args := []any{userID}
	if uploadedFileID != "" {
		args = append(args, uploadedFileID)
		query += fmt.Sprintf(" AND uploaded_file_id = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at ASC LIMIT $%d", len(args))

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chat messages: %w", err)
	}
	defer rows.Close()

	var messages []models.ChatMessage
	for rows.Next() {
		var msg models.ChatMessage
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &msg.Query, &msg.Citations, &msg.EditPlans, &msg.UserID, &msg.UploadedFileID, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}

	return messages, nil
}

// Clear deletes a user's messages, optionally scoped to one uploaded file.
func (r *PostgresChatRepository) Clear(ctx context.Context, userID, uploadedFileID string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	query := `DELETE FROM chat_messages WHERE user_id = $1`
	args := []any{userID}
	if uploadedFileID != "" {
		args = append(args, uploadedFileID)
		query += " AND uploaded_file_id = $2"
	}

	if _, err := conn.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("delete chat messages: %w", err)
	}

	return nil
}
