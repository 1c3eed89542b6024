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

// PostgresClipRepository provides PostgreSQL-backed persistence for clips
// and their version lineage.
type PostgresClipRepository struct {
	pool db.Pool
}

// NewPostgresClipRepository constructs a clip repository backed by PostgreSQL.
func NewPostgresClipRepository(pool db.Pool) *PostgresClipRepository {
	return &PostgresClipRepository{pool: pool}
}

const clipColumns = `id, s3_key, uploaded_file_id, user_id, clip_index, hook, reason,
        start_time, end_time, virality_score, is_original, original_clip_id, version, created_at`

// Create stores a single clip record.
func (r *PostgresClipRepository) Create(ctx context.Context, clip models.Clip) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if err := insertClip(ctx, conn.Exec, clip); err != nil {
		return err
	}

	return nil
}

// BulkInsert stores the materialized clips for a processing run in one
// transaction, so a run either yields all of its clips or none.
func (r *PostgresClipRepository) BulkInsert(ctx context.Context, clips []models.Clip) error {
	if len(clips) == 0 {
		return nil
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin clip transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, clip := range clips {
		if err := insertClip(ctx, tx.Exec, clip); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit clip transaction: %w", err)
	}

	return nil
}

// FindByID fetches a clip by its identifier.
func (r *PostgresClipRepository) FindByID(ctx context.Context, id string) (models.Clip, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Clip{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `SELECT `+clipColumns+` FROM clips WHERE id = $1`, id)

	clip, err := scanClip(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Clip{}, ErrNotFound
		}
		return models.Clip{}, fmt.Errorf("select clip: %w", err)
	}

	return clip, nil
}

// ListForFile returns every clip of a file ordered by clip index.
func (r *PostgresClipRepository) ListForFile(ctx context.Context, uploadedFileID string) ([]models.Clip, error) {
	return r.list(ctx, `
        SELECT `+clipColumns+`
        FROM clips
        WHERE uploaded_file_id = $1
        ORDER BY clip_index ASC NULLS LAST, created_at ASC
    `, uploadedFileID)
}

// ListOriginals returns only the original clips of a file; edited versions
// are excluded so they are never edit targets by containment search.
func (r *PostgresClipRepository) ListOriginals(ctx context.Context, uploadedFileID string) ([]models.Clip, error) {
	return r.list(ctx, `
        SELECT `+clipColumns+`
        FROM clips
        WHERE uploaded_file_id = $1 AND is_original
        ORDER BY clip_index ASC NULLS LAST, created_at ASC
    `, uploadedFileID)
}

func (r *PostgresClipRepository) list(ctx context.Context, query string, args ...any) ([]models.Clip, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query clips: %w", err)
	}
	defer rows.Close()

	var clips []models.Clip
	for rows.Next() {
		clip, err := scanClip(rows)
		if err != nil {
			return nil, fmt.Errorf("scan clip: %w", err)
		}
		clips = append(clips, clip)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clips: %w", err)
	}

	return clips, nil
}

type execFunc func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)

func insertClip(ctx context.Context, exec execFunc, clip models.Clip) error {
	_, err := exec(ctx, `
        INSERT INTO clips (`+clipColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
    `, clip.ID, clip.S3Key, clip.UploadedFileID, clip.UserID, clip.ClipIndex, clip.Hook, clip.Reason,
		clip.StartTime, clip.EndTime, clip.ViralityScore, clip.IsOriginal, clip.OriginalClipID, clip.Version, clip.CreatedAt)
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
		return fmt.Errorf("insert clip: %w", err)
	}
	return nil
}

func scanClip(row pgx.Row) (models.Clip, error) {
	var clip models.Clip
	err := row.Scan(&clip.ID, &clip.S3Key, &clip.UploadedFileID, &clip.UserID, &clip.ClipIndex, &clip.Hook, &clip.Reason,
		&clip.StartTime, &clip.EndTime, &clip.ViralityScore, &clip.IsOriginal, &clip.OriginalClipID, &clip.Version, &clip.CreatedAt)
	return clip, err
}
