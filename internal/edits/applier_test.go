package edits

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/podclip/backend/internal/models"
	"github.com/podclip/backend/internal/repositories"
)

type fileSourceStub struct {
	file models.UploadedFile
	err  error
}

func (s *fileSourceStub) FindForUser(ctx context.Context, id, userID string) (models.UploadedFile, error) {
	if s.err != nil {
		return models.UploadedFile{}, s.err
	}
	return s.file, nil
}

type clipStoreStub struct {
	clips     map[string]models.Clip
	originals []models.Clip
	created   []models.Clip
	createErr error
}

func (s *clipStoreStub) FindByID(ctx context.Context, id string) (models.Clip, error) {
	clip, ok := s.clips[id]
	if !ok {
		return models.Clip{}, repositories.ErrNotFound
	}
	return clip, nil
}

func (s *clipStoreStub) ListOriginals(ctx context.Context, uploadedFileID string) ([]models.Clip, error) {
	return s.originals, nil
}

func (s *clipStoreStub) Create(ctx context.Context, clip models.Clip) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, clip)
	return nil
}

type editLogStub struct {
	created   []models.EditRecord
	applied   map[string]string
	failed    []string
	createErr error
}

func (s *editLogStub) Create(ctx context.Context, record models.EditRecord) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, record)
	return nil
}

func (s *editLogStub) MarkApplied(ctx context.Context, id, clipID string, appliedAt time.Time) error {
	if s.applied == nil {
		s.applied = make(map[string]string)
	}
	s.applied[id] = clipID
	return nil
}

func (s *editLogStub) MarkFailed(ctx context.Context, id string) error {
	s.failed = append(s.failed, id)
	return nil
}

func floatPtr(v float64) *float64 { return &v }

func testFile() models.UploadedFile {
	return models.UploadedFile{ID: "file-1", UserID: "user-1", S3Key: "uploads-abc/original.mp4"}
}

func targetClip() models.Clip {
	return models.Clip{
		ID:         "clip-1",
		StartTime:  8,
		EndTime:    20,
		Hook:       strPtr("great moment"),
		Reason:     strPtr("high energy"),
		IsOriginal: true,
		Version:    1,
	}
}

func strPtr(s string) *string { return &s }

func newTestApplier(clips *clipStoreStub, log *editLogStub) *Applier {
	return NewApplier(&fileSourceStub{file: testFile()}, clips, log, &transcriptSourceStub{segments: plannerSegments()})
}

func TestApplyTrimInsideClipShortensEnd(t *testing.T) {
	clips := &clipStoreStub{clips: map[string]models.Clip{"clip-1": targetClip()}}
	log := &editLogStub{}
	applier := newTestApplier(clips, log)

	plan := EditPlan{Type: EditTypeTrim, Description: "cut pause", StartTime: 10, EndTime: 12, Confidence: 0.9}

	result, err := applier.Apply(context.Background(), plan, "file-1", "user-1", "clip-1")
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	if len(clips.created) != 1 {
		t.Fatalf("expected 1 new clip got %d", len(clips.created))
	}
	created := clips.created[0]
	// Removal [10,12] is strictly inside [8,20]: 2s come off the end.
	if created.StartTime != 8 || created.EndTime != 18 {
		t.Fatalf("unexpected window: [%v, %v], want [8, 18]", created.StartTime, created.EndTime)
	}
	if created.IsOriginal {
		t.Fatal("edited clip must not be original")
	}
	if created.OriginalClipID == nil || *created.OriginalClipID != "clip-1" {
		t.Fatalf("unexpected lineage: %v", created.OriginalClipID)
	}
	if created.Version != 2 {
		t.Fatalf("expected version 2 got %d", created.Version)
	}
	if created.Hook == nil || *created.Hook != "great moment" {
		t.Fatalf("hook not carried over: %v", created.Hook)
	}

	if log.applied[result.EditRecordID] != "clip-1" {
		t.Fatalf("edit record not applied to target: %v", log.applied)
	}
	if result.ClipID != created.ID {
		t.Fatalf("result clip mismatch: %s vs %s", result.ClipID, created.ID)
	}
}

func TestApplyRemoveAtClipStartMovesStart(t *testing.T) {
	clips := &clipStoreStub{clips: map[string]models.Clip{"clip-1": targetClip()}}
	applier := newTestApplier(clips, &editLogStub{})

	plan := EditPlan{Type: EditTypeRemove, Description: "cut intro", StartTime: 8, EndTime: 11, Confidence: 0.9}

	if _, err := applier.Apply(context.Background(), plan, "file-1", "user-1", "clip-1"); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	created := clips.created[0]
	if created.StartTime != 11 || created.EndTime != 20 {
		t.Fatalf("unexpected window: [%v, %v], want [11, 20]", created.StartTime, created.EndTime)
	}
}

func TestApplyRemoveAtClipEndMovesEnd(t *testing.T) {
	clips := &clipStoreStub{clips: map[string]models.Clip{"clip-1": targetClip()}}
	applier := newTestApplier(clips, &editLogStub{})

	plan := EditPlan{Type: EditTypeRemove, Description: "cut outro", StartTime: 17, EndTime: 25, Confidence: 0.9}

	if _, err := applier.Apply(context.Background(), plan, "file-1", "user-1", "clip-1"); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	created := clips.created[0]
	// Overlap [17,20] is 3s off the end.
	if created.StartTime != 8 || created.EndTime != 17 {
		t.Fatalf("unexpected window: [%v, %v], want [8, 17]", created.StartTime, created.EndTime)
	}
}

func TestApplySplitNarrowsEnd(t *testing.T) {
	clips := &clipStoreStub{clips: map[string]models.Clip{"clip-1": targetClip()}}
	applier := newTestApplier(clips, &editLogStub{})

	plan := EditPlan{Type: EditTypeSplit, Description: "split", StartTime: 8, EndTime: 20,
		SplitPoint: floatPtr(14), Confidence: 0.9}

	if _, err := applier.Apply(context.Background(), plan, "file-1", "user-1", "clip-1"); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	created := clips.created[0]
	if created.StartTime != 8 || created.EndTime != 14 {
		t.Fatalf("unexpected window: [%v, %v], want [8, 14]", created.StartTime, created.EndTime)
	}
}

func TestApplyAdjustTimingUsesNewWindow(t *testing.T) {
	clips := &clipStoreStub{clips: map[string]models.Clip{"clip-1": targetClip()}}
	applier := newTestApplier(clips, &editLogStub{})

	plan := EditPlan{Type: EditTypeAdjustTiming, Description: "shift", StartTime: 8, EndTime: 20,
		NewStartTime: floatPtr(9), NewEndTime: floatPtr(19), Confidence: 0.9}

	if _, err := applier.Apply(context.Background(), plan, "file-1", "user-1", "clip-1"); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	created := clips.created[0]
	if created.StartTime != 9 || created.EndTime != 19 {
		t.Fatalf("unexpected window: [%v, %v], want [9, 19]", created.StartTime, created.EndTime)
	}
}

func TestApplyRejectsInvalidWindow(t *testing.T) {
	applier := newTestApplier(&clipStoreStub{}, &editLogStub{})

	plan := EditPlan{Type: EditTypeTrim, Description: "bad", StartTime: 12, EndTime: 10, Confidence: 0.9}

	if _, err := applier.Apply(context.Background(), plan, "file-1", "user-1", ""); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("expected ErrInvalidWindow got %v", err)
	}
}

func TestApplyRejectsUnownedFile(t *testing.T) {
	applier := NewApplier(&fileSourceStub{err: repositories.ErrNotFound}, &clipStoreStub{}, &editLogStub{},
		&transcriptSourceStub{segments: plannerSegments()})

	plan := EditPlan{Type: EditTypeTrim, Description: "trim", StartTime: 1, EndTime: 2, Confidence: 0.9}

	if _, err := applier.Apply(context.Background(), plan, "file-1", "intruder", ""); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied got %v", err)
	}
}

func TestApplyFailsRecordWhenNoTargetResolves(t *testing.T) {
	clips := &clipStoreStub{originals: []models.Clip{{ID: "clip-1", StartTime: 0, EndTime: 5}}}
	log := &editLogStub{}
	applier := newTestApplier(clips, log)

	// Start time 50 falls outside every original clip.
	plan := EditPlan{Type: EditTypeTrim, Description: "orphan", StartTime: 50, EndTime: 52, Confidence: 0.9}

	_, err := applier.Apply(context.Background(), plan, "file-1", "user-1", "")
	if !errors.Is(err, ErrNoTargetClip) {
		t.Fatalf("expected ErrNoTargetClip got %v", err)
	}
	if len(log.created) != 1 {
		t.Fatalf("expected pending record created got %d", len(log.created))
	}
	if len(log.failed) != 1 || log.failed[0] != log.created[0].ID {
		t.Fatalf("expected record marked failed, got %v", log.failed)
	}
}

func TestApplyResolvesTargetFromOriginals(t *testing.T) {
	target := targetClip()
	clips := &clipStoreStub{
		clips:     map[string]models.Clip{"clip-1": target},
		originals: []models.Clip{target},
	}
	applier := newTestApplier(clips, &editLogStub{})

	plan := EditPlan{Type: EditTypeTrim, Description: "trim", StartTime: 10, EndTime: 12, Confidence: 0.9}

	if _, err := applier.Apply(context.Background(), plan, "file-1", "user-1", ""); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if len(clips.created) != 1 {
		t.Fatalf("expected clip created got %d", len(clips.created))
	}
}

func TestApplyFailsRecordWhenClipInsertFails(t *testing.T) {
	clips := &clipStoreStub{
		clips:     map[string]models.Clip{"clip-1": targetClip()},
		createErr: errors.New("insert failed"),
	}
	log := &editLogStub{}
	applier := newTestApplier(clips, log)

	plan := EditPlan{Type: EditTypeTrim, Description: "trim", StartTime: 10, EndTime: 12, Confidence: 0.9}

	if _, err := applier.Apply(context.Background(), plan, "file-1", "user-1", "clip-1"); err == nil {
		t.Fatal("expected apply to fail")
	}
	if len(log.failed) != 1 {
		t.Fatalf("expected record marked failed got %v", log.failed)
	}
	if len(log.applied) != 0 {
		t.Fatalf("record must not be applied on failure: %v", log.applied)
	}
}

func TestApplyEditedClipKeyUsesTopLevelFolder(t *testing.T) {
	clips := &clipStoreStub{clips: map[string]models.Clip{"clip-1": targetClip()}}
	log := &editLogStub{}
	applier := newTestApplier(clips, log)

	plan := EditPlan{Type: EditTypeTrim, Description: "trim", StartTime: 10, EndTime: 12, Confidence: 0.9}

	result, err := applier.Apply(context.Background(), plan, "file-1", "user-1", "clip-1")
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	want := "uploads-abc/edits/" + result.EditRecordID + ".mp4"
	if clips.created[0].S3Key != want {
		t.Fatalf("unexpected key: %s want %s", clips.created[0].S3Key, want)
	}
}

// observingClipStore tracks how many Create calls are in flight at once so
// tests can assert mutation ordering.
type observingClipStore struct {
	clipStoreStub
	mu      sync.Mutex
	active  int
	maxSeen int
}

func (s *observingClipStore) Create(ctx context.Context, clip models.Clip) error {
	s.mu.Lock()
	s.active++
	if s.active > s.maxSeen {
		s.maxSeen = s.active
	}
	s.mu.Unlock()

	// Hold the store busy long enough for overlapping applies to collide.
	time.Sleep(5 * time.Millisecond)

	s.mu.Lock()
	s.active--
	s.created = append(s.created, clip)
	s.mu.Unlock()
	return nil
}

type lockedEditLog struct {
	mu  sync.Mutex
	log editLogStub
}

func (s *lockedEditLog) Create(ctx context.Context, record models.EditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Create(ctx, record)
}

func (s *lockedEditLog) MarkApplied(ctx context.Context, id, clipID string, appliedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.MarkApplied(ctx, id, clipID, appliedAt)
}

func (s *lockedEditLog) MarkFailed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.MarkFailed(ctx, id)
}

func TestApplySerializesEditsPerClip(t *testing.T) {
	clips := &observingClipStore{}
	clips.clips = map[string]models.Clip{"clip-1": targetClip()}
	log := &lockedEditLog{}
	applier := NewApplier(&fileSourceStub{file: testFile()}, clips, log,
		&transcriptSourceStub{segments: plannerSegments()})

	const applies = 4
	var wg sync.WaitGroup
	errs := make(chan error, applies)
	for i := 0; i < applies; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			plan := EditPlan{Type: EditTypeTrim, Description: "trim", StartTime: 10, EndTime: 12, Confidence: 0.9}
			_, err := applier.Apply(context.Background(), plan, "file-1", "user-1", "clip-1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("apply failed: %v", err)
		}
	}
	if clips.maxSeen != 1 {
		t.Fatalf("applies against one clip must run one at a time, saw %d in flight", clips.maxSeen)
	}
	if len(clips.created) != applies {
		t.Fatalf("expected %d new clips got %d", applies, len(clips.created))
	}
	if len(log.log.applied) != applies {
		t.Fatalf("expected %d applied records got %d", applies, len(log.log.applied))
	}
}

func TestPreviewTrimCollapsesWindow(t *testing.T) {
	applier := newTestApplier(&clipStoreStub{}, &editLogStub{})

	plan := EditPlan{Type: EditTypeTrim, StartTime: 10, EndTime: 12}

	preview, err := applier.PreviewEdit(context.Background(), plan, "file-1")
	if err != nil {
		t.Fatalf("preview failed: %v", err)
	}
	if preview.Before.Duration != 2 {
		t.Fatalf("unexpected before duration: %v", preview.Before.Duration)
	}
	if preview.After.Duration != 0 || preview.After.StartTime != 10 || preview.After.EndTime != 10 {
		t.Fatalf("trim should collapse window, got %+v", preview.After)
	}
	if len(preview.AffectedSegments) != 1 || preview.AffectedSegments[0].Text != "intro" {
		t.Fatalf("unexpected affected segments: %+v", preview.AffectedSegments)
	}
}

func TestPreviewSplitNarrowsWindow(t *testing.T) {
	applier := newTestApplier(&clipStoreStub{}, &editLogStub{})

	plan := EditPlan{Type: EditTypeSplit, StartTime: 10, EndTime: 40, SplitPoint: floatPtr(25)}

	preview, err := applier.PreviewEdit(context.Background(), plan, "file-1")
	if err != nil {
		t.Fatalf("preview failed: %v", err)
	}
	if preview.After.EndTime != 25 || preview.After.Duration != 15 {
		t.Fatalf("split should narrow to the split point, got %+v", preview.After)
	}
	if len(preview.AffectedSegments) != 2 {
		t.Fatalf("expected both segments affected got %d", len(preview.AffectedSegments))
	}
}

func TestPreviewOtherTypesPassThrough(t *testing.T) {
	applier := newTestApplier(&clipStoreStub{}, &editLogStub{})

	plan := EditPlan{Type: EditTypeExtend, StartTime: 5, EndTime: 9}

	preview, err := applier.PreviewEdit(context.Background(), plan, "file-1")
	if err != nil {
		t.Fatalf("preview failed: %v", err)
	}
	if preview.After != preview.Before {
		t.Fatalf("extend should pass through, got before=%+v after=%+v", preview.Before, preview.After)
	}
}
