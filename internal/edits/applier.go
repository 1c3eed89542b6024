package edits

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/podclip/backend/internal/logging"
	"github.com/podclip/backend/internal/models"
)

var (
	// ErrAccessDenied indicates the file does not exist or is not owned by
	// the requesting user.
	ErrAccessDenied = errors.New("file not found or access denied")
	// ErrNoTargetClip indicates no clip could be resolved for the edit.
	ErrNoTargetClip = errors.New("could not find a clip containing this timestamp")
	// ErrInvalidWindow indicates the edit's time window is malformed.
	ErrInvalidWindow = errors.New("edit start time must be before end time")
)

// Window is a time span in full-video coordinates.
type Window struct {
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
	Duration  float64 `json:"duration"`
}

// Preview describes what an edit would do without applying it.
type Preview struct {
	Before           Window           `json:"before"`
	After            Window           `json:"after"`
	AffectedSegments []PreviewSegment `json:"affectedSegments"`
}

// PreviewSegment is a transcript excerpt overlapping the edit window.
type PreviewSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// ApplyResult identifies the edit record and the newly created clip version.
type ApplyResult struct {
	EditRecordID string `json:"editRecordId"`
	ClipID       string `json:"clipId"`
}

// FileSource resolves an uploaded file scoped to its owning user.
type FileSource interface {
	FindForUser(ctx context.Context, id, userID string) (models.UploadedFile, error)
}

// ClipStore gives the applier access to clip lineage.
type ClipStore interface {
	FindByID(ctx context.Context, id string) (models.Clip, error)
	ListOriginals(ctx context.Context, uploadedFileID string) ([]models.Clip, error)
	Create(ctx context.Context, clip models.Clip) error
}

// EditLog persists the append-only edit record lifecycle.
type EditLog interface {
	Create(ctx context.Context, record models.EditRecord) error
	MarkApplied(ctx context.Context, id, clipID string, appliedAt time.Time) error
	MarkFailed(ctx context.Context, id string) error
}

// Applier converts validated edit plans into new clip versions, recording
// every attempt in the edit log.
type Applier struct {
	files       FileSource
	clips       ClipStore
	edits       EditLog
	transcripts TranscriptSource

	// Applies against the same target clip are serialized to keep the
	// lineage free of lost updates; the map grows one mutex per clip ever
	// edited, which is bounded by clip count.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewApplier constructs an Applier.
func NewApplier(files FileSource, clips ClipStore, edits EditLog, transcripts TranscriptSource) *Applier {
	return &Applier{
		files:       files,
		clips:       clips,
		edits:       edits,
		transcripts: transcripts,
		locks:       make(map[string]*sync.Mutex),
	}
}

func (a *Applier) clipLock(clipID string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()

	lock, ok := a.locks[clipID]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[clipID] = lock
	}
	return lock
}

// PreviewEdit computes the before and after windows for a plan plus the
// transcript segments its window overlaps. Read-only.
func (a *Applier) PreviewEdit(ctx context.Context, plan EditPlan, uploadedFileID string) (Preview, error) {
	_, segments, err := a.transcripts.FullTranscript(ctx, uploadedFileID)
	if err != nil {
		return Preview{}, ErrTranscriptMissing
	}

	before := Window{
		StartTime: plan.StartTime,
		EndTime:   plan.EndTime,
		Duration:  plan.EndTime - plan.StartTime,
	}

	after := before
	switch plan.Type {
	case EditTypeTrim, EditTypeRemove:
		after = Window{StartTime: plan.StartTime, EndTime: plan.StartTime, Duration: 0}
	case EditTypeAdjustTiming:
		start, end := plan.StartTime, plan.EndTime
		if plan.NewStartTime != nil {
			start = *plan.NewStartTime
		}
		if plan.NewEndTime != nil {
			end = *plan.NewEndTime
		}
		after = Window{StartTime: start, EndTime: end, Duration: end - start}
	case EditTypeSplit:
		if plan.SplitPoint != nil && *plan.SplitPoint > plan.StartTime && *plan.SplitPoint < plan.EndTime {
			after = Window{StartTime: plan.StartTime, EndTime: *plan.SplitPoint, Duration: *plan.SplitPoint - plan.StartTime}
		}
	}

	affected := make([]PreviewSegment, 0)
	for _, seg := range segments {
		if seg.Start < plan.EndTime && seg.End > plan.StartTime {
			affected = append(affected, PreviewSegment{Start: seg.Start, End: seg.End, Text: seg.Text})
		}
	}

	return Preview{Before: before, After: after, AffectedSegments: affected}, nil
}

// Apply creates a new clip version from the plan. The target clip is
// resolved from the explicit clipID argument, then the plan's targetClipId,
// then a containment search over the file's original clips. Every attempt
// leaves an edit record: applied on success, failed otherwise.
func (a *Applier) Apply(ctx context.Context, plan EditPlan, uploadedFileID, userID, clipID string) (ApplyResult, error) {
	logger := logging.FromContext(ctx)

	if plan.StartTime >= plan.EndTime {
		return ApplyResult{}, ErrInvalidWindow
	}

	file, err := a.files.FindForUser(ctx, uploadedFileID, userID)
	if err != nil {
		return ApplyResult{}, ErrAccessDenied
	}

	record := models.EditRecord{
		ID:             uuid.NewString(),
		EditType:       plan.Type,
		Description:    plan.Description,
		StartTime:      plan.StartTime,
		EndTime:        plan.EndTime,
		NewStartTime:   plan.NewStartTime,
		NewEndTime:     plan.NewEndTime,
		SplitPoint:     plan.SplitPoint,
		Status:         models.EditStatusPending,
		UploadedFileID: uploadedFileID,
		UserID:         userID,
		CreatedAt:      time.Now().UTC(),
	}
	if err := a.edits.Create(ctx, record); err != nil {
		return ApplyResult{}, fmt.Errorf("create edit record: %w", err)
	}

	result, err := a.applyToClip(ctx, plan, file, record, clipID)
	if err != nil {
		if markErr := a.edits.MarkFailed(ctx, record.ID); markErr != nil {
			logger.Error("failed to mark edit record failed", "editRecordId", record.ID, "error", markErr)
		}
		return ApplyResult{}, err
	}

	return result, nil
}

func (a *Applier) applyToClip(ctx context.Context, plan EditPlan, file models.UploadedFile, record models.EditRecord, clipID string) (ApplyResult, error) {
	targetClipID := clipID
	if targetClipID == "" {
		targetClipID = plan.TargetClipID
	}
	if targetClipID == "" {
		originals, err := a.clips.ListOriginals(ctx, file.ID)
		if err != nil {
			return ApplyResult{}, fmt.Errorf("load original clips: %w", err)
		}
		clip, ok := containingClip(originals, plan.StartTime)
		if !ok {
			return ApplyResult{}, ErrNoTargetClip
		}
		targetClipID = clip.ID
	}

	lock := a.clipLock(targetClipID)
	lock.Lock()
	defer lock.Unlock()

	target, err := a.clips.FindByID(ctx, targetClipID)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("load target clip %s: %w", targetClipID, err)
	}

	newStart, newEnd := editedWindow(plan, target)

	newClip := models.Clip{
		ID:             uuid.NewString(),
		S3Key:          editedClipKey(file.S3Key, record.ID),
		UploadedFileID: file.ID,
		UserID:         file.UserID,
		Hook:           target.Hook,
		Reason:         target.Reason,
		StartTime:      newStart,
		EndTime:        newEnd,
		IsOriginal:     false,
		OriginalClipID: &target.ID,
		Version:        target.Version + 1,
		CreatedAt:      time.Now().UTC(),
	}
	if err := a.clips.Create(ctx, newClip); err != nil {
		return ApplyResult{}, fmt.Errorf("create edited clip: %w", err)
	}

	if err := a.edits.MarkApplied(ctx, record.ID, target.ID, time.Now().UTC()); err != nil {
		return ApplyResult{}, fmt.Errorf("mark edit applied: %w", err)
	}

	return ApplyResult{EditRecordID: record.ID, ClipID: newClip.ID}, nil
}

// editedWindow computes the new clip window in full-video coordinates.
// The plan's times are full-video relative; trim, remove, and split
// interpret them against the target clip's own window.
func editedWindow(plan EditPlan, clip models.Clip) (float64, float64) {
	clipStart, clipEnd := clip.StartTime, clip.EndTime
	clipDuration := clipEnd - clipStart

	newStart, newEnd := clipStart, clipEnd

	switch plan.Type {
	case EditTypeAdjustTiming:
		if plan.NewStartTime != nil {
			newStart = *plan.NewStartTime
		}
		if plan.NewEndTime != nil {
			newEnd = *plan.NewEndTime
		}
	case EditTypeTrim, EditTypeRemove:
		// Clamp the edit window to clip-relative coordinates.
		editStart := clamp(plan.StartTime-clipStart, 0, clipDuration)
		editEnd := clamp(plan.EndTime-clipStart, 0, clipDuration)
		removed := editEnd - editStart
		if removed <= 0 {
			break
		}
		switch {
		case editStart == 0:
			newStart = clipStart + removed
		case editEnd >= clipDuration:
			newEnd = clipEnd - removed
		default:
			// Mid-clip removal shortens the end rather than splicing the
			// clip in two. Known limitation.
			newEnd = clipEnd - removed
		}
	case EditTypeSplit:
		if plan.SplitPoint != nil && *plan.SplitPoint >= clipStart && *plan.SplitPoint <= clipEnd {
			newEnd = *plan.SplitPoint
		}
	}

	return newStart, newEnd
}

// editedClipKey builds the placeholder storage key for an edited clip; the
// downstream render job overwrites the object at this key.
func editedClipKey(sourceKey, editRecordID string) string {
	folder := sourceKey
	if i := strings.IndexByte(sourceKey, '/'); i >= 0 {
		folder = sourceKey[:i]
	}
	return fmt.Sprintf("%s/edits/%s.mp4", folder, editRecordID)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
