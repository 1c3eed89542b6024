package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/podclip/backend/internal/logging"
	"github.com/podclip/backend/internal/models"
	"github.com/podclip/backend/internal/repositories"
)

// TranscriptHandler serves a processed file's transcript.
type TranscriptHandler struct {
	Files       FileStore
	Transcripts TranscriptReader
	Sessions    SessionManager
}

type transcriptSegmentResponse struct {
	ID    string          `json:"id"`
	Start float64         `json:"start"`
	End   float64         `json:"end"`
	Text  string          `json:"text"`
	Words json.RawMessage `json:"words,omitempty"`
}

type transcriptResponse struct {
	ID             string                      `json:"id"`
	UploadedFileID string                      `json:"uploadedFileId"`
	Duration       float64                     `json:"duration"`
	SegmentCount   int                         `json:"segmentCount"`
	Segments       []transcriptSegmentResponse `json:"segments"`
}

type transcriptRangeResponse struct {
	Segments []transcriptSegmentResponse `json:"segments"`
	Range    timeRange                   `json:"range"`
}

type timeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Fetch handles GET /api/v1/transcript?fileId=<id>: the file's full
// transcript, or just the segments overlapping [startTime, endTime] when
// both bounds are given.
func (h TranscriptHandler) Fetch(w http.ResponseWriter, r *http.Request) {
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

	fileID := strings.TrimSpace(r.URL.Query().Get("fileId"))
	if fileID == "" {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "fileId is required"})
		return
	}

	if _, err := h.Files.FindForUser(ctx, fileID, userID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondJSON(ctx, w, http.StatusNotFound, map[string]string{"error": "file not found"})
			return
		}
		logger.Error("failed to load upload", "error", err, "fileId", fileID)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "failed to load upload"})
		return
	}

	startRaw := strings.TrimSpace(r.URL.Query().Get("startTime"))
	endRaw := strings.TrimSpace(r.URL.Query().Get("endTime"))
	if startRaw != "" && endRaw != "" {
		h.fetchRange(w, r, fileID, startRaw, endRaw)
		return
	}

	transcript, segments, err := h.Transcripts.FullTranscript(ctx, fileID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondJSON(ctx, w, http.StatusNotFound, map[string]string{"error": "transcript not found"})
			return
		}
		logger.Error("failed to load transcript", "error", err, "fileId", fileID)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "failed to load transcript"})
		return
	}

	respondJSON(ctx, w, http.StatusOK, transcriptResponse{
		ID:             transcript.ID,
		UploadedFileID: transcript.UploadedFileID,
		Duration:       models.TranscriptDuration(segments),
		SegmentCount:   len(segments),
		Segments:       toSegmentResponses(segments),
	})
}

func (h TranscriptHandler) fetchRange(w http.ResponseWriter, r *http.Request, fileID, startRaw, endRaw string) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	start, err := strconv.ParseFloat(startRaw, 64)
	if err != nil {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "startTime must be a number"})
		return
	}
	end, err := strconv.ParseFloat(endRaw, 64)
	if err != nil {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "endTime must be a number"})
		return
	}
	if start < 0 || end <= start {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "startTime must be before endTime"})
		return
	}

	segments, err := h.Transcripts.SegmentsInRange(ctx, fileID, start, end)
	if err != nil {
		logger.Error("failed to load transcript range", "error", err, "fileId", fileID)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "failed to load transcript"})
		return
	}

	respondJSON(ctx, w, http.StatusOK, transcriptRangeResponse{
		Segments: toSegmentResponses(segments),
		Range:    timeRange{Start: start, End: end},
	})
}

func toSegmentResponses(segments []models.TranscriptSegment) []transcriptSegmentResponse {
	out := make([]transcriptSegmentResponse, 0, len(segments))
	for _, s := range segments {
		out = append(out, transcriptSegmentResponse{
			ID:    s.ID,
			Start: s.Start,
			End:   s.End,
			Text:  s.Text,
			Words: s.Words,
		})
	}
	return out
}
