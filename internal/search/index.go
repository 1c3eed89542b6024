package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/podclip/backend/internal/models"
)

// EmbeddingClient produces embedding vectors for texts.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// IndexedSegment is a transcript segment carrying its stored embedding,
// joined to the file it belongs to.
type IndexedSegment struct {
	ID             string
	Start          float64
	End            float64
	Text           string
	Embedding      []float32
	UploadedFileID string
}

// SegmentSource supplies the candidate segments for a similarity scan.
// An empty uploadedFileID means all files.
type SegmentSource interface {
	IndexedSegments(ctx context.Context, uploadedFileID string) ([]IndexedSegment, error)
}

// SegmentIndexer persists computed embeddings onto segments.
type SegmentIndexer interface {
	AttachEmbedding(ctx context.Context, segmentID string, embedding []float32) error
}

// Result is one similarity match.
type Result struct {
	SegmentID      string  `json:"segmentId"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	Text           string  `json:"text"`
	Similarity     float64 `json:"similarity"`
	UploadedFileID string  `json:"uploadedFileId"`
}

// Index ranks transcript segments against a query by cosine similarity
// over stored embeddings. The scan is brute force, which is fine at the
// scale of one video's segments; the SegmentSource seam lets an
// index-backed store replace it without touching callers.
type Index struct {
	embedder  EmbeddingClient
	source    SegmentSource
	store     SegmentIndexer
	batchSize int
	logger    *slog.Logger
}

// NewIndex constructs an Index. batchSize caps how many segment texts go to
// the embedding service per call; zero or negative selects the default 100.
func NewIndex(embedder EmbeddingClient, source SegmentSource, store SegmentIndexer, batchSize int, logger *slog.Logger) *Index {
	if batchSize <= 0 {
		batchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		embedder:  embedder,
		source:    source,
		store:     store,
		batchSize: batchSize,
		logger:    logger,
	}
}

// IndexSegments computes embeddings for the provided segments in batches
// and persists them. Re-indexing a segment overwrites its embedding, so the
// operation is idempotent and resumable. Returns the number of segments
// indexed.
func (ix *Index) IndexSegments(ctx context.Context, segments []models.TranscriptSegment) (int, error) {
	if len(segments) == 0 {
		return 0, nil
	}

	indexed := 0
	for offset := 0; offset < len(segments); offset += ix.batchSize {
		batch := segments[offset:min(offset+ix.batchSize, len(segments))]

		texts := make([]string, len(batch))
		for i, seg := range batch {
			texts[i] = seg.Text
		}

		vectors, err := ix.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return indexed, fmt.Errorf("embed batch at offset %d: %w", offset, err)
		}

		dim := len(vectors[0])
		for i, vec := range vectors {
			if len(vec) != dim {
				return indexed, fmt.Errorf("embedding dimension mismatch at offset %d: got %d, want %d", offset+i, len(vec), dim)
			}
			if err := ix.store.AttachEmbedding(ctx, batch[i].ID, vec); err != nil {
				return indexed, fmt.Errorf("attach embedding to segment %s: %w", batch[i].ID, err)
			}
			indexed++
		}
	}

	ix.logger.Info("indexed transcript segments", "count", indexed)
	return indexed, nil
}

// Search embeds the query, scans every indexed segment in scope, and
// returns the top limit matches with similarity > 0 in descending order.
func (ix *Index) Search(ctx context.Context, query, uploadedFileID string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}

	queryVec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	segments, err := ix.source.IndexedSegments(ctx, uploadedFileID)
	if err != nil {
		return nil, fmt.Errorf("load indexed segments: %w", err)
	}

	results := make([]Result, 0, len(segments))
	for _, seg := range segments {
		similarity := cosineSimilarity(queryVec, seg.Embedding)
		if similarity <= 0 {
			continue
		}
		results = append(results, Result{
			SegmentID:      seg.ID,
			Start:          seg.Start,
			End:            seg.End,
			Text:           seg.Text,
			Similarity:     similarity,
			UploadedFileID: seg.UploadedFileID,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	if len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}
