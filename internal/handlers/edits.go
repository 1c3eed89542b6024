package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/podclip/backend/internal/edits"
	"github.com/podclip/backend/internal/logging"
	"github.com/podclip/backend/internal/models"
	"github.com/podclip/backend/internal/repositories"
)

// EditHandler implements the edit planning, preview, apply, and history
// endpoints.
type EditHandler struct {
	Planner  EditPlanner
	Applier  EditApplier
	History  EditHistory
	Sessions SessionManager
}

type planRequest struct {
	EditRequest    string `json:"editRequest"`
	UploadedFileID string `json:"uploadedFileId"`
}

type previewRequest struct {
	EditPlan       edits.EditPlan `json:"editPlan"`
	UploadedFileID string         `json:"uploadedFileId"`
}

type applyRequest struct {
	EditPlan       edits.EditPlan `json:"editPlan"`
	UploadedFileID string         `json:"uploadedFileId"`
	ClipID         string         `json:"clipId,omitempty"`
}

type editRecordResponse struct {
	ID          string     `json:"id"`
	EditType    string     `json:"editType"`
	Description string     `json:"description"`
	StartTime   float64    `json:"startTime"`
	EndTime     float64    `json:"endTime"`
	Status      string     `json:"status"`
	ClipID      *string    `json:"clipId,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	AppliedAt   *time.Time `json:"appliedAt,omitempty"`
}

// Plan handles POST /api/v1/edits/plan: free-text request in, validated
// structured edit operations out.
func (h EditHandler) Plan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if _, ok := bearerUserID(w, r, h.Sessions); !ok {
		return
	}

	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid plan payload", "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	req.EditRequest = strings.TrimSpace(req.EditRequest)
	if req.EditRequest == "" || req.UploadedFileID == "" {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "editRequest and uploadedFileId are required"})
		return
	}

	plans, err := h.Planner.Plan(ctx, req.EditRequest, req.UploadedFileID)
	if err != nil {
		switch {
		case errors.Is(err, edits.ErrTranscriptMissing):
			respondJSON(ctx, w, http.StatusNotFound, map[string]string{"error": err.Error()})
		case errors.Is(err, edits.ErrPlanGeneration):
			respondJSON(ctx, w, http.StatusBadGateway, map[string]string{"error": "could not generate edit plan from request"})
		default:
			logger.Error("edit planning failed", "error", err, "fileId", req.UploadedFileID)
			respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "edit planning failed"})
		}
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{"edits": plans})
}

// Preview handles POST /api/v1/edits/preview: what the edit would do,
// without mutating anything.
func (h EditHandler) Preview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if _, ok := bearerUserID(w, r, h.Sessions); !ok {
		return
	}

	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid preview payload", "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.UploadedFileID == "" {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "uploadedFileId is required"})
		return
	}

	preview, err := h.Applier.PreviewEdit(ctx, req.EditPlan, req.UploadedFileID)
	if err != nil {
		if errors.Is(err, edits.ErrTranscriptMissing) {
			respondJSON(ctx, w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		logger.Error("edit preview failed", "error", err, "fileId", req.UploadedFileID)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "edit preview failed"})
		return
	}

	respondJSON(ctx, w, http.StatusOK, preview)
}

// Apply handles POST /api/v1/edits/apply: creates a new clip version from a
// confirmed edit plan.
func (h EditHandler) Apply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	userID, ok := bearerUserID(w, r, h.Sessions)
	if !ok {
		return
	}

	var req applyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid apply payload", "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.UploadedFileID == "" {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "uploadedFileId is required"})
		return
	}

	result, err := h.Applier.Apply(ctx, req.EditPlan, req.UploadedFileID, userID, req.ClipID)
	if err != nil {
		switch {
		case errors.Is(err, edits.ErrInvalidWindow):
			respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, edits.ErrAccessDenied):
			respondJSON(ctx, w, http.StatusNotFound, map[string]string{"error": err.Error()})
		case errors.Is(err, edits.ErrNoTargetClip):
			respondJSON(ctx, w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		default:
			logger.Error("edit apply failed", "error", err, "fileId", req.UploadedFileID)
			respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "edit apply failed"})
		}
		return
	}

	respondJSON(ctx, w, http.StatusOK, result)
}

// ListHistory handles GET /api/v1/edits/history?fileId=&clipId=: the
// caller's edit records, newest first.
func (h EditHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	userID, ok := bearerUserID(w, r, h.Sessions)
	if !ok {
		return
	}

	filter := repositories.EditHistoryFilter{
		UploadedFileID: strings.TrimSpace(r.URL.Query().Get("fileId")),
		ClipID:         strings.TrimSpace(r.URL.Query().Get("clipId")),
		UserID:         userID,
	}

	records, err := h.History.ListHistory(ctx, filter)
	if err != nil {
		logger.Error("failed to list edit history", "error", err, "userId", userID)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "failed to list edit history"})
		return
	}

	out := make([]editRecordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toEditRecordResponse(rec))
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{"edits": out})
}

func toEditRecordResponse(rec models.EditRecord) editRecordResponse {
	return editRecordResponse{
		ID:          rec.ID,
		EditType:    rec.EditType,
		Description: rec.Description,
		StartTime:   rec.StartTime,
		EndTime:     rec.EndTime,
		Status:      rec.Status,
		ClipID:      rec.ClipID,
		CreatedAt:   rec.CreatedAt,
		AppliedAt:   rec.AppliedAt,
	}
}
