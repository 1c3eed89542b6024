package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/podclip/backend/internal/chat"
	"github.com/podclip/backend/internal/logging"
	"github.com/podclip/backend/internal/models"
)

// ChatHandler implements the transcript question-answering endpoints.
type ChatHandler struct {
	Chat     ChatService
	Sessions SessionManager
}

type askRequest struct {
	Query          string          `json:"query"`
	UploadedFileID string          `json:"uploadedFileId,omitempty"`
	EditPlans      json.RawMessage `json:"editPlans,omitempty"`
}

type chatMessageResponse struct {
	ID             string          `json:"id"`
	Role           string          `json:"role"`
	Content        string          `json:"content"`
	Query          *string         `json:"query,omitempty"`
	Citations      json.RawMessage `json:"citations,omitempty"`
	EditPlans      json.RawMessage `json:"editPlans,omitempty"`
	UploadedFileID *string         `json:"uploadedFileId,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Ask handles POST /api/v1/chat: answers a question about video content
// using retrieved transcript segments.
func (h ChatHandler) Ask(w http.ResponseWriter, r *http.Request) {
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

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid chat payload", "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}

	answer, err := h.Chat.Ask(ctx, req.Query, req.UploadedFileID, userID, req.EditPlans)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrAccessDenied):
			respondJSON(ctx, w, http.StatusNotFound, map[string]string{"error": err.Error()})
		case errors.Is(err, chat.ErrNoRelevantContent):
			respondJSON(ctx, w, http.StatusOK, map[string]any{
				"answer":    "I couldn't find any relevant information in the video transcripts to answer your question.",
				"citations": []chat.Citation{},
				"query":     req.Query,
			})
		default:
			logger.Error("chat answer failed", "error", err)
			respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "failed to answer question"})
		}
		return
	}

	respondJSON(ctx, w, http.StatusOK, answer)
}

// History handles GET and DELETE on /api/v1/chat/history: reading or
// clearing the caller's conversation log, optionally scoped by fileId.
func (h ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listHistory(w, r)
	case http.MethodDelete:
		h.clearHistory(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h ChatHandler) listHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	userID, ok := bearerUserID(w, r, h.Sessions)
	if !ok {
		return
	}

	fileID := strings.TrimSpace(r.URL.Query().Get("fileId"))
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	messages, err := h.Chat.History(ctx, userID, fileID, limit)
	if err != nil {
		logger.Error("failed to load chat history", "error", err, "userId", userID)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "failed to load chat history"})
		return
	}

	out := make([]chatMessageResponse, 0, len(messages))
	for _, msg := range messages {
		out = append(out, toChatMessageResponse(msg))
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{"messages": out})
}

func (h ChatHandler) clearHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	userID, ok := bearerUserID(w, r, h.Sessions)
	if !ok {
		return
	}

	fileID := strings.TrimSpace(r.URL.Query().Get("fileId"))
	if err := h.Chat.Clear(ctx, userID, fileID); err != nil {
		logger.Error("failed to clear chat history", "error", err, "userId", userID)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "failed to clear chat history"})
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]string{"status": "cleared"})
}

func toChatMessageResponse(msg models.ChatMessage) chatMessageResponse {
	return chatMessageResponse{
		ID:             msg.ID,
		Role:           msg.Role,
		Content:        msg.Content,
		Query:          msg.Query,
		Citations:      msg.Citations,
		EditPlans:      msg.EditPlans,
		UploadedFileID: msg.UploadedFileID,
		CreatedAt:      msg.CreatedAt,
	}
}
