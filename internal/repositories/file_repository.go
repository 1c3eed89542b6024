package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/podclip/backend/internal/db"
	"github.com/podclip/backend/internal/models"
)

// PostgresFileRepository provides PostgreSQL-backed persistence for uploaded files.
type PostgresFileRepository struct {
	pool db.Pool
}

// NewPostgresFileRepository constructs a file repository backed by PostgreSQL.
func NewPostgresFileRepository(pool db.Pool) *PostgresFileRepository {
	return &PostgresFileRepository{pool: pool}
}

// Create registers a new uploaded file in the queued state.
func (r *PostgresFileRepository) Create(ctx context.Context, file models.UploadedFile) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO uploaded_files (id, user_id, s3_key, display_name, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, file.ID, file.UserID, file.S3Key, file.DisplayName, file.Status, file.CreatedAt, file.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return ErrConflict
			case "23503":
				return ErrNotFound
			}
		}
		return fmt.Errorf("insert uploaded file: %w", err)
	}

	return nil
}

// FindByID fetches an uploaded file by its identifier.
func (r *PostgresFileRepository) FindByID(ctx context.Context, id string) (models.UploadedFile, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.UploadedFile{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT id, user_id, s3_key, display_name, status, created_at, updated_at
        FROM uploaded_files
        WHERE id = $1
    `, id)

	return scanFile(row)
}

// FindForUser fetches an uploaded file only if the given user owns it.
func (r *PostgresFileRepository) FindForUser(ctx context.Context, id, userID string) (models.UploadedFile, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.UploadedFile{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT id, user_id, s3_key, display_name, status, created_at, updated_at
        FROM uploaded_files
        WHERE id = $1 AND user_id = $2
    `, id, userID)

	return scanFile(row)
}

// UpdateStatus moves an uploaded file to the provided processing status.
func (r *PostgresFileRepository) UpdateStatus(ctx context.Context, id, status string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE uploaded_files
        SET status = $2, updated_at = now()
        WHERE id = $1
    `, id, status)
	if err != nil {
		return fmt.Errorf("update uploaded file status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// ListForUser returns a user's uploads in reverse chronological order.
func (r *PostgresFileRepository) ListForUser(ctx context.Context, userID string) ([]models.UploadedFile, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT id, user_id, s3_key, display_name, status, created_at, updated_at
        FROM uploaded_files
        WHERE user_id = $1
        ORDER BY created_at DESC
    `, userID)
	if err != nil {
		return nil, fmt.Errorf("query uploaded files: %w", err)
	}
	defer rows.Close()

	var files []models.UploadedFile
	for rows.Next() {
		var file models.UploadedFile
		if err := rows.Scan(&file.ID, &file.UserID, &file.S3Key, &file.DisplayName, &file.Status, &file.CreatedAt, &file.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan uploaded file: %w", err)
		}
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate uploaded files: %w", err)
	}

	return files, nil
}

func scanFile(row pgx.Row) (models.UploadedFile, error) {
	var file models.UploadedFile
	if err := row.Scan(&file.ID, &file.UserID, &file.S3Key, &file.DisplayName, &file.Status, &file.CreatedAt, &file.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.UploadedFile{}, ErrNotFound
		}
		return models.UploadedFile{}, fmt.Errorf("select uploaded file: %w", err)
	}
	return file, nil
}
