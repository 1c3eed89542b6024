package edits

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/podclip/backend/internal/logging"
	"github.com/podclip/backend/internal/models"
)

// Edit operation types.
const (
	EditTypeTrim         = "trim"
	EditTypeSplit        = "split"
	EditTypeMerge        = "merge"
	EditTypeAdjustTiming = "adjust_timing"
	EditTypeRemove       = "remove"
	EditTypeExtend       = "extend"
)

var (
	// ErrTranscriptMissing indicates no transcript exists for the file yet,
	// usually because processing has not finished.
	ErrTranscriptMissing = errors.New("transcript not found, video may still be processing")
	// ErrPlanGeneration indicates the structured-generation call produced no
	// usable edit plan.
	ErrPlanGeneration = errors.New("could not generate edit plan from request")
)

// EditPlan is a single validated edit operation in full-video coordinates.
type EditPlan struct {
	Type         string   `json:"type"`
	Description  string   `json:"description"`
	TargetClipID string   `json:"targetClipId,omitempty"`
	StartTime    float64  `json:"startTime"`
	EndTime      float64  `json:"endTime"`
	NewStartTime *float64 `json:"newStartTime,omitempty"`
	NewEndTime   *float64 `json:"newEndTime,omitempty"`
	SplitPoint   *float64 `json:"splitPoint,omitempty"`
	Confidence   float64  `json:"confidence"`
}

// TranscriptSource loads the full transcript for a file.
type TranscriptSource interface {
	FullTranscript(ctx context.Context, uploadedFileID string) (models.Transcript, []models.TranscriptSegment, error)
}

// ClipSource lists the clips the planner offers as targeting context.
type ClipSource interface {
	ListForFile(ctx context.Context, uploadedFileID string) ([]models.Clip, error)
}

// PlanGenerator runs the tool-constrained completion and returns the raw
// edits payload.
type PlanGenerator interface {
	ExtractEditPlan(ctx context.Context, systemPrompt, userPrompt string) (json.RawMessage, error)
}

// Planner turns a free-text edit request into validated, clip-resolved edit
// operations.
type Planner struct {
	transcripts TranscriptSource
	clips       ClipSource
	generator   PlanGenerator
}

// NewPlanner constructs a Planner.
func NewPlanner(transcripts TranscriptSource, clips ClipSource, generator PlanGenerator) *Planner {
	return &Planner{transcripts: transcripts, clips: clips, generator: generator}
}

// Plan loads the file's transcript and clips for context, asks the
// structured-generation service for edit operations, and returns the subset
// that survives validation. Invalid edits are dropped individually; a
// generation failure is surfaced as an error, never as an empty plan.
func (p *Planner) Plan(ctx context.Context, editRequest, uploadedFileID string) ([]EditPlan, error) {
	logger := logging.FromContext(ctx)

	_, segments, err := p.transcripts.FullTranscript(ctx, uploadedFileID)
	if err != nil || len(segments) == 0 {
		return nil, ErrTranscriptMissing
	}
	duration := models.TranscriptDuration(segments)

	clips, err := p.clips.ListForFile(ctx, uploadedFileID)
	if err != nil {
		return nil, fmt.Errorf("load clips for planning: %w", err)
	}

	systemPrompt := plannerSystemPrompt(duration)
	userPrompt := plannerUserPrompt(editRequest, duration, len(segments), clips)

	raw, err := p.generator.ExtractEditPlan(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanGeneration, err)
	}

	var payload struct {
		Edits []struct {
			Type         string   `json:"type"`
			Description  string   `json:"description"`
			TargetClipID string   `json:"targetClipId"`
			StartTime    float64  `json:"startTime"`
			EndTime      float64  `json:"endTime"`
			NewStartTime *float64 `json:"newStartTime"`
			NewEndTime   *float64 `json:"newEndTime"`
			SplitPoint   *float64 `json:"splitPoint"`
			Confidence   *float64 `json:"confidence"`
		} `json:"edits"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: decode edits payload: %v", ErrPlanGeneration, err)
	}

	plans := make([]EditPlan, 0, len(payload.Edits))
	for _, e := range payload.Edits {
		plan := EditPlan{
			Type:         e.Type,
			Description:  e.Description,
			TargetClipID: e.TargetClipID,
			StartTime:    e.StartTime,
			EndTime:      e.EndTime,
			NewStartTime: e.NewStartTime,
			NewEndTime:   e.NewEndTime,
			SplitPoint:   e.SplitPoint,
			Confidence:   0.7,
		}
		if e.Confidence != nil {
			plan.Confidence = *e.Confidence
		}

		if plan.StartTime < 0 || plan.EndTime > duration || plan.StartTime >= plan.EndTime {
			logger.Warn("dropping edit with out-of-range window",
				"type", plan.Type, "start", plan.StartTime, "end", plan.EndTime, "duration", duration)
			continue
		}

		// Edits without an explicit target are resolved to the clip whose
		// window contains the edit's start; unresolved edits stay in the
		// plan and fail later at apply time if still untargeted.
		if plan.TargetClipID == "" {
			if clip, ok := containingClip(clips, plan.StartTime); ok {
				plan.TargetClipID = clip.ID
			}
		}

		plans = append(plans, plan)
	}

	return plans, nil
}

// containingClip returns the first clip whose [startTime, endTime] window
// contains the timestamp.
func containingClip(clips []models.Clip, timestamp float64) (models.Clip, bool) {
	for _, clip := range clips {
		if timestamp >= clip.StartTime && timestamp <= clip.EndTime {
			return clip, true
		}
	}
	return models.Clip{}, false
}

func plannerSystemPrompt(duration float64) string {
	return fmt.Sprintf(`You are a video editing assistant that creates precise edit plans.

IMPORTANT RULES:
- All timestamps must be within video duration (0 - %.1fs)
- startTime must be < endTime
- For trim: remove content between startTime and endTime
- For split: split clip at splitPoint (must be between startTime and endTime)
- For merge: combine two clips (provide both start/end times)
- For adjust_timing: change startTime/endTime to newStartTime/newEndTime
- For remove: delete content from startTime to endTime
- For extend: add time before startTime or after endTime
- Be precise with timestamps - use exact seconds from transcript
- Confidence should reflect how clear the request is (0.5-1.0 for clear requests, 0.3-0.5 for ambiguous)`, duration)
}

func plannerUserPrompt(editRequest string, duration float64, segmentCount int, clips []models.Clip) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Edit request: %q\n\n", editRequest)
	fmt.Fprintf(&b, "Video duration: %.1fs, %d segments", duration, segmentCount)

	if len(clips) == 0 {
		b.WriteString("\nNo existing clips.")
	} else {
		b.WriteString("\nExisting clips:\n")
		for _, clip := range clips {
			index := 0
			if clip.ClipIndex != nil {
				index = *clip.ClipIndex
			}
			hook := ""
			if clip.Hook != nil {
				hook = *clip.Hook
			}
			fmt.Fprintf(&b, "- Clip %d (%.1fs - %.1fs): %q\n", index+1, clip.StartTime, clip.EndTime, hook)
		}
	}

	b.WriteString("\nCreate a precise edit plan with exact timestamps.")
	return b.String()
}
