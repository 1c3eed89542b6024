package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/podclip/backend/internal/db"
	"github.com/podclip/backend/internal/models"
	"github.com/podclip/backend/internal/search"
)

// PostgresTranscriptRepository provides PostgreSQL-backed persistence for
// transcripts and their segments.
type PostgresTranscriptRepository struct {
	pool db.Pool
}

// NewPostgresTranscriptRepository constructs a transcript repository backed by PostgreSQL.
func NewPostgresTranscriptRepository(pool db.Pool) *PostgresTranscriptRepository {
	return &PostgresTranscriptRepository{pool: pool}
}

// CreateWithSegments stores a transcript and its ordered segments in one
// transaction. Segment identifiers must be assigned by the caller.
func (r *PostgresTranscriptRepository) CreateWithSegments(ctx context.Context, transcript models.Transcript, segments []models.TranscriptSegment) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transcript transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
        INSERT INTO transcripts (id, uploaded_file_id, created_at)
        VALUES ($1, $2, $3)
    `, transcript.ID, transcript.UploadedFileID, transcript.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}

	for _, seg := range segments {
		_, err = tx.Exec(ctx, `
            INSERT INTO transcript_segments (id, transcript_id, start_time, end_time, text, words)
            VALUES ($1, $2, $3, $4, $5, $6)
        `, seg.ID, transcript.ID, seg.Start, seg.End, seg.Text, seg.Words)
		if err != nil {
			return fmt.Errorf("insert transcript segment: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transcript transaction: %w", err)
	}

	return nil
}

// FullTranscript loads the transcript for a file with all segments ordered
// by start time.
func (r *PostgresTranscriptRepository) FullTranscript(ctx context.Context, uploadedFileID string) (models.Transcript, []models.TranscriptSegment, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Transcript{}, nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT id, uploaded_file_id, created_at
        FROM transcripts
        WHERE uploaded_file_id = $1
    `, uploadedFileID)

	var transcript models.Transcript
	if err := row.Scan(&transcript.ID, &transcript.UploadedFileID, &transcript.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Transcript{}, nil, ErrNotFound
		}
		return models.Transcript{}, nil, fmt.Errorf("select transcript: %w", err)
	}

	rows, err := conn.Query(ctx, `
        SELECT id, transcript_id, start_time, end_time, text, words, embedding
        FROM transcript_segments
        WHERE transcript_id = $1
        ORDER BY start_time ASC
    `, transcript.ID)
	if err != nil {
		return models.Transcript{}, nil, fmt.Errorf("query transcript segments: %w", err)
	}
	defer rows.Close()

	segments, err := scanSegments(rows)
	if err != nil {
		return models.Transcript{}, nil, err
	}

	return transcript, segments, nil
}

// SegmentsInRange returns segments of a file's transcript whose interval
// overlaps [start, end], ordered by start time.
func (r *PostgresTranscriptRepository) SegmentsInRange(ctx context.Context, uploadedFileID string, start, end float64) ([]models.TranscriptSegment, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT s.id, s.transcript_id, s.start_time, s.end_time, s.text, s.words, s.embedding
        FROM transcript_segments s
        JOIN transcripts t ON t.id = s.transcript_id
        WHERE t.uploaded_file_id = $1
          AND s.start_time <= $3
          AND s.end_time >= $2
        ORDER BY s.start_time ASC
    `, uploadedFileID, start, end)
	if err != nil {
		return nil, fmt.Errorf("query segments in range: %w", err)
	}
	defer rows.Close()

	return scanSegments(rows)
}

// AttachEmbedding stores the embedding vector for a segment. Re-attaching
// overwrites the previous vector, which keeps indexing idempotent.
func (r *PostgresTranscriptRepository) AttachEmbedding(ctx context.Context, segmentID string, embedding []float32) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE transcript_segments
        SET embedding = $2
        WHERE id = $1
    `, segmentID, embedding)
	if err != nil {
		return fmt.Errorf("update segment embedding: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// IndexedSegments returns every segment that already carries an embedding,
// optionally scoped to one uploaded file. This feeds the similarity scan.
func (r *PostgresTranscriptRepository) IndexedSegments(ctx context.Context, uploadedFileID string) ([]search.IndexedSegment, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	query := `
        SELECT s.id, s.start_time, s.end_time, s.text, s.embedding, t.uploaded_file_id
        FROM transcript_segments s
        JOIN transcripts t ON t.id = s.transcript_id
        WHERE s.embedding IS NOT NULL
    `
	args := []any{}
	if uploadedFileID != "" {
		query += ` AND t.uploaded_file_id = $1`
		args = append(args, uploadedFileID)
	}

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query indexed segments: %w", err)
	}
	defer rows.Close()

	var segments []search.IndexedSegment
	for rows.Next() {
		var seg search.IndexedSegment
		if err := rows.Scan(&seg.ID, &seg.Start, &seg.End, &seg.Text, &seg.Embedding, &seg.UploadedFileID); err != nil {
			return nil, fmt.Errorf("scan indexed segment: %w", err)
		}
		segments = append(segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate indexed segments: %w", err)
	}

	return segments, nil
}

func scanSegments(rows pgx.Rows) ([]models.TranscriptSegment, error) {
	var segments []models.TranscriptSegment
	for rows.Next() {
		var seg models.TranscriptSegment
		if err := rows.Scan(&seg.ID, &seg.TranscriptID, &seg.Start, &seg.End, &seg.Text, &seg.Words, &seg.Embedding); err != nil {
			return nil, fmt.Errorf("scan transcript segment: %w", err)
		}
		segments = append(segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript segments: %w", err)
	}
	return segments, nil
}

var _ search.SegmentSource = (*PostgresTranscriptRepository)(nil)
var _ search.SegmentIndexer = (*PostgresTranscriptRepository)(nil)
