package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/podclip/backend/internal/db"
	"github.com/podclip/backend/internal/models"
)

// PostgresEditRepository provides PostgreSQL-backed persistence for the
// append-only edit record log.
type PostgresEditRepository struct {
	pool db.Pool
}

// NewPostgresEditRepository constructs an edit repository backed by PostgreSQL.
func NewPostgresEditRepository(pool db.Pool) *PostgresEditRepository {
	return &PostgresEditRepository{pool: pool}
}

const editColumns = `id, edit_type, description, start_time, end_time,
        new_start_time, new_end_time, split_point, status,
        uploaded_file_id, user_id, clip_id, created_at, applied_at`

// Create persists a new edit record, normally in the pending state.
func (r *PostgresEditRepository) Create(ctx context.Context, record models.EditRecord) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO edit_records (`+editColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
    `, record.ID, record.EditType, record.Description, record.StartTime, record.EndTime,
		record.NewStartTime, record.NewEndTime, record.SplitPoint, record.Status,
		record.UploadedFileID, record.UserID, record.ClipID, record.CreatedAt, record.AppliedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrNotFound
		}
		return fmt.Errorf("insert edit record: %w", err)
	}

	return nil
}

// MarkApplied transitions an edit record to applied with its resolved clip
// and application timestamp.
func (r *PostgresEditRepository) MarkApplied(ctx context.Context, id, clipID string, appliedAt time.Time) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE edit_records
        SET status = $2, clip_id = $3, applied_at = $4
        WHERE id = $1
    `, id, models.EditStatusApplied, clipID, appliedAt.UTC())
	if err != nil {
		return fmt.Errorf("mark edit applied: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// MarkFailed transitions an edit record to the failed terminal state.
func (r *PostgresEditRepository) MarkFailed(ctx context.Context, id string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE edit_records
        SET status = $2
        WHERE id = $1
    `, id, models.EditStatusFailed)
	if err != nil {
		return fmt.Errorf("mark edit failed: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// EditHistoryFilter narrows history listings; zero values mean "any".
type EditHistoryFilter struct {
	UploadedFileID string
	ClipID         string
	UserID         string
}

// ListHistory returns edit records matching the filter, newest first.
func (r *PostgresEditRepository) ListHistory(ctx context.Context, filter EditHistoryFilter) ([]models.EditRecord, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	query := `SELECT ` + editColumns + ` FROM edit_records WHERE 1=1`
	var args []any
	if filter.UploadedFileID != "" {
		args = append(args, filter.UploadedFileID)
		query += fmt.Sprintf(" AND uploaded_file_id = $%d", len(args))
	}
	if filter.ClipID != "" {
		args = append(args, filter.ClipID)
		query += fmt.Sprintf(" AND clip_id = $%d", len(args))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query edit records: %w", err)
	}
	defer rows.Close()

	var records []models.EditRecord
	for rows.Next() {
		var rec models.EditRecord
		if err := rows.Scan(&rec.ID, &rec.EditType, &rec.Description, &rec.StartTime, &rec.EndTime,
			&rec.NewStartTime, &rec.NewEndTime, &rec.SplitPoint, &rec.Status,
			&rec.UploadedFileID, &rec.UserID, &rec.ClipID, &rec.CreatedAt, &rec.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan edit record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edit records: %w", err)
	}

	return records, nil
}

// FindByID fetches an edit record by its identifier.
func (r *PostgresEditRepository) FindByID(ctx context.Context, id string) (models.EditRecord, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.EditRecord{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `SELECT `+editColumns+` FROM edit_records WHERE id = $1`, id)

	var rec models.EditRecord
	if err := row.Scan(&rec.ID, &rec.EditType, &rec.Description, &rec.StartTime, &rec.EndTime,
		&rec.NewStartTime, &rec.NewEndTime, &rec.SplitPoint, &rec.Status,
		&rec.UploadedFileID, &rec.UserID, &rec.ClipID, &rec.CreatedAt, &rec.AppliedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.EditRecord{}, ErrNotFound
		}
		return models.EditRecord{}, fmt.Errorf("select edit record: %w", err)
	}

	return rec, nil
}
