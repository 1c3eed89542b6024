package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/podclip/backend/internal/models"
	"github.com/podclip/backend/internal/repositories"
)

type fileStoreStub struct {
	mu       sync.Mutex
	files    map[string]models.UploadedFile
	statuses map[string][]string
}

func newFileStoreStub(files ...models.UploadedFile) *fileStoreStub {
	s := &fileStoreStub{
		files:    make(map[string]models.UploadedFile),
		statuses: make(map[string][]string),
	}
	for _, f := range files {
		s.files[f.ID] = f
	}
	return s
}

func (s *fileStoreStub) FindByID(ctx context.Context, id string) (models.UploadedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return models.UploadedFile{}, repositories.ErrNotFound
	}
	return f, nil
}

func (s *fileStoreStub) UpdateStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.files[id]
	f.Status = status
	s.files[id] = f
	s.statuses[id] = append(s.statuses[id], status)
	return nil
}

func (s *fileStoreStub) status(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.files[id].Status
}

type admissionStub struct {
	mu        sync.Mutex
	balance   int
	deducted  int
	deductErr error
}

func (s *admissionStub) Balance(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance, nil
}

func (s *admissionStub) Deduct(ctx context.Context, userID string, amount int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deductErr != nil {
		return 0, s.deductErr
	}
	if amount > s.balance {
		amount = s.balance
	}
	s.balance -= amount
	s.deducted += amount
	return amount, nil
}

func (s *admissionStub) totalDeducted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deducted
}

type transcriptStoreStub struct {
	mu       sync.Mutex
	saved    [][]models.TranscriptSegment
	saveErr  error
	attempts int
}

func (s *transcriptStoreStub) CreateWithSegments(ctx context.Context, transcript models.Transcript, segments []models.TranscriptSegment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, segments)
	return nil
}

type clipStoreStub struct {
	mu        sync.Mutex
	clips     []models.Clip
	insertErr error
}

func (s *clipStoreStub) BulkInsert(ctx context.Context, clips []models.Clip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.clips = append(s.clips, clips...)
	return nil
}

func (s *clipStoreStub) all() []models.Clip {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Clip(nil), s.clips...)
}

type segmentIndexerStub struct {
	mu      sync.Mutex
	indexed int
	err     error
}

func (s *segmentIndexerStub) IndexSegments(ctx context.Context, segments []models.TranscriptSegment) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.indexed += len(segments)
	return len(segments), nil
}

type listerStub struct {
	keys []string
	err  error
}

func (s *listerStub) ListFolder(ctx context.Context, prefix string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.keys, nil
}

type transformerStub struct {
	mu         sync.Mutex
	result     TransformResult
	errs       []error
	calls      int
	delay      time.Duration
	concurrent int
	maxSeen    int
}

func (s *transformerStub) Transform(ctx context.Context, s3Key string) (TransformResult, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.concurrent++
	if s.concurrent > s.maxSeen {
		s.maxSeen = s.concurrent
	}
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	s.concurrent--
	var err error
	if call <= len(s.errs) {
		err = s.errs[call-1]
	}
	s.mu.Unlock()

	if err != nil {
		return TransformResult{}, err
	}
	return s.result, nil
}

func (s *transformerStub) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func strPtr(s string) *string { return &s }

func testUpload() models.UploadedFile {
	return models.UploadedFile{
		ID:     "file-1",
		UserID: "user-1",
		S3Key:  "folder/original.mp4",
		Status: models.FileStatusQueued,
	}
}

func successfulTransform() TransformResult {
	return TransformResult{
		Status: "success",
		GeneratedVideos: []GeneratedVideo{
			{ClipIndex: 0, StartTime: 1.0, EndTime: 5.0, Hook: strPtr("H"), VideoURL: "https://cdn/clip_0.mp4"},
		},
		Transcript: &TransformTranscript{
			Segments: []TransformSegment{
				{Start: 0, End: 3.5, Text: "welcome to the show"},
				{Start: 3.5, End: 8.0, Text: "today we talk about go"},
			},
		},
	}
}

func startEngine(t *testing.T, files *fileStoreStub, admission *admissionStub, transcripts *transcriptStoreStub,
	clips *clipStoreStub, indexer *segmentIndexerStub, lister *listerStub, transformer *transformerStub) *Engine {
	t.Helper()

	engine := NewEngine(files, admission, transcripts, clips, indexer, lister, transformer,
		Config{QueueSize: 8, MaxConcurrent: 4, JobTimeout: 5 * time.Second}, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = engine.Shutdown(ctx)
	})
	return engine
}

func TestEngineProcessesUploadEndToEnd(t *testing.T) {
	files := newFileStoreStub(testUpload())
	admission := &admissionStub{balance: 5}
	transcripts := &transcriptStoreStub{}
	clips := &clipStoreStub{}
	indexer := &segmentIndexerStub{}
	lister := &listerStub{keys: []string{
		"folder/original.mp4",
		"folder/clips/clip_0.mp4",
		"folder/clips/thumbnail.png",
	}}
	transformer := &transformerStub{result: successfulTransform()}

	engine := startEngine(t, files, admission, transcripts, clips, indexer, lister, transformer)

	if err := engine.Enqueue(context.Background(), "file-1"); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	waitForCondition(t, 2*time.Second, func() bool {
		return files.status("file-1") == models.FileStatusProcessed
	})

	created := clips.all()
	if len(created) != 1 {
		t.Fatalf("expected 1 clip got %d", len(created))
	}
	clip := created[0]
	if clip.StartTime != 1.0 || clip.EndTime != 5.0 {
		t.Fatalf("unexpected clip window: [%v, %v]", clip.StartTime, clip.EndTime)
	}
	if clip.Hook == nil || *clip.Hook != "H" {
		t.Fatalf("unexpected hook: %v", clip.Hook)
	}
	if !clip.IsOriginal || clip.Version != 1 {
		t.Fatalf("expected original v1 clip, got original=%v version=%d", clip.IsOriginal, clip.Version)
	}
	if clip.S3Key != "folder/clips/clip_0.mp4" {
		t.Fatalf("unexpected clip key: %s", clip.S3Key)
	}

	if admission.totalDeducted() != 1 {
		t.Fatalf("expected 1 credit deducted got %d", admission.totalDeducted())
	}
	if indexer.indexed != 2 {
		t.Fatalf("expected 2 segments indexed got %d", indexer.indexed)
	}
}

func TestEngineNoCreditsIsTerminal(t *testing.T) {
	files := newFileStoreStub(testUpload())
	admission := &admissionStub{balance: 0}
	transformer := &transformerStub{result: successfulTransform()}
	clips := &clipStoreStub{}

	engine := startEngine(t, files, admission, &transcriptStoreStub{}, clips, &segmentIndexerStub{},
		&listerStub{}, transformer)

	if err := engine.Enqueue(context.Background(), "file-1"); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	waitForCondition(t, 2*time.Second, func() bool {
		return files.status("file-1") == models.FileStatusNoCredits
	})

	if transformer.callCount() != 0 {
		t.Fatalf("transform should not run without credits, got %d calls", transformer.callCount())
	}
	if len(clips.all()) != 0 {
		t.Fatal("expected no clips created")
	}
	if admission.totalDeducted() != 0 {
		t.Fatalf("expected no deduction got %d", admission.totalDeducted())
	}
}

func TestEnginePermanentTransformFailure(t *testing.T) {
	files := newFileStoreStub(testUpload())
	transformer := &transformerStub{errs: []error{errors.New("bad request"), errors.New("bad request")}}

	engine := startEngine(t, files, &admissionStub{balance: 5}, &transcriptStoreStub{}, &clipStoreStub{},
		&segmentIndexerStub{}, &listerStub{}, transformer)

	if err := engine.Enqueue(context.Background(), "file-1"); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	waitForCondition(t, 2*time.Second, func() bool {
		return files.status("file-1") == models.FileStatusFailed
	})

	if transformer.callCount() != 1 {
		t.Fatalf("permanent failure should not retry, got %d calls", transformer.callCount())
	}
}

func TestEngineRetriesTransientFailureOnce(t *testing.T) {
	files := newFileStoreStub(testUpload())
	admission := &admissionStub{balance: 5}
	transformer := &transformerStub{
		result: successfulTransform(),
		errs:   []error{markTransient(errors.New("gateway timeout"))},
	}

	engine := startEngine(t, files, admission, &transcriptStoreStub{}, &clipStoreStub{},
		&segmentIndexerStub{}, &listerStub{keys: []string{"folder/clips/clip_0.mp4"}}, transformer)

	if err := engine.Enqueue(context.Background(), "file-1"); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	waitForCondition(t, 2*time.Second, func() bool {
		return files.status("file-1") == models.FileStatusProcessed
	})

	if transformer.callCount() != 2 {
		t.Fatalf("expected one retry (2 calls) got %d", transformer.callCount())
	}
}

func TestEngineTranscriptFailureDoesNotBlockClips(t *testing.T) {
	files := newFileStoreStub(testUpload())
	admission := &admissionStub{balance: 5}
	transcripts := &transcriptStoreStub{saveErr: errors.New("insert failed")}
	clips := &clipStoreStub{}
	transformer := &transformerStub{result: successfulTransform()}

	engine := startEngine(t, files, admission, transcripts, clips, &segmentIndexerStub{},
		&listerStub{keys: []string{"folder/clips/clip_0.mp4"}}, transformer)

	if err := engine.Enqueue(context.Background(), "file-1"); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	waitForCondition(t, 2*time.Second, func() bool {
		return files.status("file-1") == models.FileStatusProcessed
	})

	if len(clips.all()) != 1 {
		t.Fatalf("expected clip materialization despite transcript failure, got %d clips", len(clips.all()))
	}
	if admission.totalDeducted() != 1 {
		t.Fatalf("expected billing despite transcript failure, got %d", admission.totalDeducted())
	}
}

func TestEngineDropsClipsWithoutMetadata(t *testing.T) {
	files := newFileStoreStub(testUpload())
	lister := &listerStub{keys: []string{
		"folder/clips/clip_0.mp4",
		"folder/clips/clip_7.mp4", // no transform metadata for index 7
	}}
	clips := &clipStoreStub{}
	transformer := &transformerStub{result: successfulTransform()}

	engine := startEngine(t, files, &admissionStub{balance: 5}, &transcriptStoreStub{}, clips,
		&segmentIndexerStub{}, lister, transformer)

	if err := engine.Enqueue(context.Background(), "file-1"); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	waitForCondition(t, 2*time.Second, func() bool {
		return files.status("file-1") == models.FileStatusProcessed
	})

	created := clips.all()
	if len(created) != 1 {
		t.Fatalf("expected the unmatched clip to be dropped, got %d clips", len(created))
	}
	if created[0].ClipIndex == nil || *created[0].ClipIndex != 0 {
		t.Fatalf("unexpected clip index: %v", created[0].ClipIndex)
	}
}

func TestEngineSerializesJobsPerUser(t *testing.T) {
	first := testUpload()
	second := testUpload()
	second.ID = "file-2"

	files := newFileStoreStub(first, second)
	transformer := &transformerStub{result: successfulTransform(), delay: 50 * time.Millisecond}

	engine := startEngine(t, files, &admissionStub{balance: 10}, &transcriptStoreStub{}, &clipStoreStub{},
		&segmentIndexerStub{}, &listerStub{keys: []string{"folder/clips/clip_0.mp4"}}, transformer)

	if err := engine.Enqueue(context.Background(), "file-1"); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := engine.Enqueue(context.Background(), "file-2"); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	waitForCondition(t, 3*time.Second, func() bool {
		return files.status("file-1") == models.FileStatusProcessed &&
			files.status("file-2") == models.FileStatusProcessed
	})

	transformer.mu.Lock()
	maxSeen := transformer.maxSeen
	transformer.mu.Unlock()
	if maxSeen != 1 {
		t.Fatalf("expected same-user jobs to run one at a time, saw %d concurrent", maxSeen)
	}
}

func TestEngineRejectsAfterShutdown(t *testing.T) {
	files := newFileStoreStub(testUpload())
	engine := NewEngine(files, &admissionStub{balance: 1}, &transcriptStoreStub{}, &clipStoreStub{},
		&segmentIndexerStub{}, &listerStub{}, &transformerStub{}, Config{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := engine.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	if err := engine.Enqueue(context.Background(), "file-1"); err == nil {
		t.Fatal("expected enqueue to fail after shutdown")
	}
}
