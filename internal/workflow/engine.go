package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/podclip/backend/internal/logging"
	"github.com/podclip/backend/internal/models"
)

// FileStore persists uploaded files and their processing status.
type FileStore interface {
	FindByID(ctx context.Context, id string) (models.UploadedFile, error)
	UpdateStatus(ctx context.Context, id, status string) error
}

// AdmissionController gates jobs on the user's credit balance and charges
// for clips produced.
type AdmissionController interface {
	Balance(ctx context.Context, userID string) (int, error)
	Deduct(ctx context.Context, userID string, amount int) (int, error)
}

// TranscriptStore persists transcripts with their segments.
type TranscriptStore interface {
	CreateWithSegments(ctx context.Context, transcript models.Transcript, segments []models.TranscriptSegment) error
}

// ClipStore persists materialized clips.
type ClipStore interface {
	BulkInsert(ctx context.Context, clips []models.Clip) error
}

// SegmentIndexer computes and stores embeddings for transcript segments.
type SegmentIndexer interface {
	IndexSegments(ctx context.Context, segments []models.TranscriptSegment) (int, error)
}

// ObjectLister enumerates storage objects under a folder prefix.
type ObjectLister interface {
	ListFolder(ctx context.Context, prefix string) ([]string, error)
}

var errEngineClosed = errors.New("workflow engine closed")

// clipKeyPattern matches processed clip objects and captures their index.
var clipKeyPattern = regexp.MustCompile(`clips/clip_(\d+)\.mp4$`)

// Config controls the engine's queue and concurrency characteristics.
type Config struct {
	QueueSize     int
	MaxConcurrent int
	JobTimeout    time.Duration
}

// Engine drives uploaded files through the processing pipeline: admission,
// external transform, transcript persistence, embedding indexing, clip
// materialization, credit deduction, terminal status. Jobs for the same
// user are serialized; a new upload queues behind the user's running job.
type Engine struct {
	files       FileStore
	admission   AdmissionController
	transcripts TranscriptStore
	clips       ClipStore
	indexer     SegmentIndexer
	lister      ObjectLister
	transformer Transformer
	logger      *slog.Logger
	jobTimeout  time.Duration

	jobs   chan job
	doneCh chan string
	sem    chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

type job struct {
	fileID string
	userID string
}

// NewEngine constructs and starts a processing engine.
func NewEngine(files FileStore, admission AdmissionController, transcripts TranscriptStore, clips ClipStore,
	indexer SegmentIndexer, lister ObjectLister, transformer Transformer, cfg Config, logger *slog.Logger) *Engine {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		files:       files,
		admission:   admission,
		transcripts: transcripts,
		clips:       clips,
		indexer:     indexer,
		lister:      lister,
		transformer: transformer,
		logger:      logger,
		jobTimeout:  cfg.JobTimeout,
		jobs:        make(chan job, cfg.QueueSize),
		doneCh:      make(chan string),
		sem:         make(chan struct{}, cfg.MaxConcurrent),
		ctx:         ctx,
		cancel:      cancel,
	}

	e.wg.Add(1)
	go e.dispatch()

	return e
}

// Enqueue schedules processing for an uploaded file. The owning user is
// resolved here so the dispatcher can serialize per user.
func (e *Engine) Enqueue(ctx context.Context, uploadedFileID string) error {
	select {
	case <-e.ctx.Done():
		return errEngineClosed
	default:
	}

	file, err := e.files.FindByID(ctx, uploadedFileID)
	if err != nil {
		return fmt.Errorf("load uploaded file %s: %w", uploadedFileID, err)
	}

	j := job{fileID: file.ID, userID: file.UserID}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		return errEngineClosed
	case e.jobs <- j:
		return nil
	}
}

// Shutdown stops accepting jobs and waits for in-flight processing to finish.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.once.Do(func() {
		e.cancel()
	})

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// dispatch serializes jobs per user: at most one in-flight processing job
// per user id, with later uploads queued behind the running one.
func (e *Engine) dispatch() {
	defer e.wg.Done()

	waiting := make(map[string][]job)
	active := make(map[string]bool)

	start := func(j job) {
		active[j.userID] = true
		e.wg.Add(1)
		go e.runJob(j)
	}

	for {
		select {
		case <-e.ctx.Done():
			return
		case j := <-e.jobs:
			if active[j.userID] {
				waiting[j.userID] = append(waiting[j.userID], j)
				continue
			}
			start(j)
		case userID := <-e.doneCh:
			delete(active, userID)
			if queue := waiting[userID]; len(queue) > 0 {
				next := queue[0]
				if len(queue) == 1 {
					delete(waiting, userID)
				} else {
					waiting[userID] = queue[1:]
				}
				start(next)
			}
		}
	}
}

func (e *Engine) runJob(j job) {
	defer e.wg.Done()
	defer func() {
		select {
		case e.doneCh <- j.userID:
		case <-e.ctx.Done():
		}
	}()

	e.sem <- struct{}{}
	defer func() { <-e.sem }()

	ctx, cancel := context.WithTimeout(context.Background(), e.jobTimeout)
	defer cancel()

	logger := e.logger.With("fileId", j.fileID, "userId", j.userID)
	ctx = logging.WithLogger(ctx, logger)

	err := e.runOnce(ctx, j)
	if err != nil && IsTransient(err) {
		logger.Warn("re-attempting workflow after transient failure", "error", err)
		err = e.runOnce(ctx, j)
	}
	if err != nil {
		logger.Error("processing failed", "error", err)
		e.markTerminal(j.fileID, models.FileStatusFailed)
	}
}

// runOnce executes the full step sequence for one attempt. Each attempt
// starts over from admission, since credits may have changed between
// attempts. A nil return means the file reached a terminal status.
func (e *Engine) runOnce(ctx context.Context, j job) error {
	logger := logging.FromContext(ctx)

	file, err := e.files.FindByID(ctx, j.fileID)
	if err != nil {
		return fmt.Errorf("load uploaded file: %w", err)
	}

	// Step 1: admission. Zero credits is a terminal non-error outcome.
	creditsAtStart, err := e.admission.Balance(ctx, file.UserID)
	if err != nil {
		return fmt.Errorf("admission check: %w", err)
	}
	if creditsAtStart <= 0 {
		logger.Info("admission denied, no credits")
		if err := e.files.UpdateStatus(ctx, file.ID, models.FileStatusNoCredits); err != nil {
			return fmt.Errorf("mark no_credits: %w", err)
		}
		return nil
	}

	// Step 2: mark processing before any external work, so a crash leaves a
	// status the retry path can reason about.
	if err := e.files.UpdateStatus(ctx, file.ID, models.FileStatusProcessing); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	// Step 3: external transform call. Failure here is fatal to the attempt.
	spanCtx, span := logging.StartSpan(ctx, "workflow.transform")
	result, err := e.transformer.Transform(spanCtx, file.S3Key)
	span.End()
	if err != nil {
		return fmt.Errorf("transform %s: %w", file.S3Key, err)
	}

	// Steps 4-5: transcript persistence and embedding indexing are
	// best-effort; clip materialization and billing proceed regardless.
	segments := e.saveTranscript(ctx, file, result)
	if len(segments) > 0 {
		if _, err := e.indexer.IndexSegments(ctx, segments); err != nil {
			logger.Error("embedding indexing failed, continuing", "error", err)
		}
	}

	// Step 6: materialize clips from storage joined with transform metadata.
	clipsCreated, err := e.materializeClips(ctx, file, result)
	if err != nil {
		return fmt.Errorf("materialize clips: %w", err)
	}

	// Step 7: charge per clip produced, capped by the admission balance.
	charge := clipsCreated
	if charge > creditsAtStart {
		charge = creditsAtStart
	}
	deducted, err := e.admission.Deduct(ctx, file.UserID, charge)
	if err != nil {
		return fmt.Errorf("deduct credits: %w", err)
	}

	// Step 8: terminal success.
	if err := e.files.UpdateStatus(ctx, file.ID, models.FileStatusProcessed); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}

	logger.Info("processing complete", "clips", clipsCreated, "creditsDeducted", deducted)
	return nil
}

// saveTranscript persists the transform response's transcript when present.
// A missing or malformed transcript is logged and treated as "no transcript
// for this run"; it never aborts the remaining steps.
func (e *Engine) saveTranscript(ctx context.Context, file models.UploadedFile, result TransformResult) []models.TranscriptSegment {
	logger := logging.FromContext(ctx)

	if result.Transcript == nil || len(result.Transcript.Segments) == 0 {
		logger.Info("transform response carried no transcript")
		return nil
	}

	transcript := models.Transcript{
		ID:             uuid.NewString(),
		UploadedFileID: file.ID,
		CreatedAt:      time.Now().UTC(),
	}

	var segments []models.TranscriptSegment
	for _, seg := range result.Transcript.Segments {
		if seg.Start >= seg.End {
			logger.Warn("dropping malformed transcript segment", "start", seg.Start, "end", seg.End)
			continue
		}
		segments = append(segments, models.TranscriptSegment{
			ID:           uuid.NewString(),
			TranscriptID: transcript.ID,
			Start:        seg.Start,
			End:          seg.End,
			Text:         seg.Text,
			Words:        seg.Words,
		})
	}

	if len(segments) == 0 {
		logger.Warn("transcript contained no valid segments")
		return nil
	}

	if err := e.transcripts.CreateWithSegments(ctx, transcript, segments); err != nil {
		logger.Error("transcript save failed, continuing", "error", err)
		return nil
	}

	return segments
}

// materializeClips lists the upload's folder, keeps clip objects matching
// clips/clip_<N>.mp4, joins them to the transform metadata by index, and
// bulk-inserts the resulting original clips. Storage objects without
// matching metadata are dropped.
func (e *Engine) materializeClips(ctx context.Context, file models.UploadedFile, result TransformResult) (int, error) {
	logger := logging.FromContext(ctx)

	folder := path.Dir(file.S3Key)
	keys, err := e.lister.ListFolder(ctx, folder)
	if err != nil {
		return 0, fmt.Errorf("list folder %s: %w", folder, err)
	}

	metaByIndex := make(map[int]GeneratedVideo, len(result.GeneratedVideos))
	for _, video := range result.GeneratedVideos {
		metaByIndex[video.ClipIndex] = video
	}

	now := time.Now().UTC()
	var clips []models.Clip
	for _, key := range keys {
		if key == file.S3Key {
			continue
		}
		m := clipKeyPattern.FindStringSubmatch(key)
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		meta, ok := metaByIndex[idx]
		if !ok {
			logger.Warn("dropping clip object without transform metadata", "key", key, "clipIndex", idx)
			continue
		}

		clipIndex := idx
		clips = append(clips, models.Clip{
			ID:             uuid.NewString(),
			S3Key:          key,
			UploadedFileID: file.ID,
			UserID:         file.UserID,
			ClipIndex:      &clipIndex,
			Hook:           meta.Hook,
			Reason:         meta.Reason,
			StartTime:      meta.StartTime,
			EndTime:        meta.EndTime,
			ViralityScore:  meta.ViralityScore,
			IsOriginal:     true,
			Version:        1,
			CreatedAt:      now,
		})
	}

	if len(clips) == 0 {
		logger.Info("no clips materialized for upload")
		return 0, nil
	}

	if err := e.clips.BulkInsert(ctx, clips); err != nil {
		return 0, fmt.Errorf("insert clips: %w", err)
	}

	return len(clips), nil
}

// markTerminal force-writes a terminal status so no file is left in
// processing limbo; failures here can only be logged.
func (e *Engine) markTerminal(fileID, status string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.files.UpdateStatus(ctx, fileID, status); err != nil {
		e.logger.Error("failed to record terminal status", "fileId", fileID, "status", status, "error", err)
	}
}
