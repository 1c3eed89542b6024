package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/podclip/backend/internal/logging"
	"github.com/podclip/backend/internal/models"
	"github.com/podclip/backend/internal/repositories"
)

// FileHandler implements uploaded-file endpoints: registration, processing
// kickoff, and status queries.
type FileHandler struct {
	Files    FileStore
	Clips    ClipReader
	Engine   WorkflowScheduler
	Credits  CreditReader
	Uploads  UploadSigner
	Objects  ObjectSaver
	Sessions SessionManager
	NowFunc  func() time.Time
}

type uploadURLRequest struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
}

type uploadURLResponse struct {
	UploadURL string `json:"uploadUrl"`
	S3Key     string `json:"s3Key"`
}

type createFileRequest struct {
	S3Key       string `json:"s3Key"`
	DisplayName string `json:"displayName"`
}

type fileResponse struct {
	ID          string    `json:"id"`
	S3Key       string    `json:"s3Key"`
	DisplayName string    `json:"displayName"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

type clipResponse struct {
	ID             string   `json:"id"`
	S3Key          string   `json:"s3Key"`
	ClipIndex      *int     `json:"clipIndex,omitempty"`
	Hook           *string  `json:"hook,omitempty"`
	Reason         *string  `json:"reason,omitempty"`
	StartTime      float64  `json:"startTime"`
	EndTime        float64  `json:"endTime"`
	ViralityScore  *float64 `json:"viralityScore,omitempty"`
	IsOriginal     bool     `json:"isOriginal"`
	OriginalClipID *string  `json:"originalClipId,omitempty"`
	Version        int      `json:"version"`
}

func toClipResponse(c models.Clip) clipResponse {
	return clipResponse{
		ID:             c.ID,
		S3Key:          c.S3Key,
		ClipIndex:      c.ClipIndex,
		Hook:           c.Hook,
		Reason:         c.Reason,
		StartTime:      c.StartTime,
		EndTime:        c.EndTime,
		ViralityScore:  c.ViralityScore,
		IsOriginal:     c.IsOriginal,
		OriginalClipID: c.OriginalClipID,
		Version:        c.Version,
	}
}

// UploadURL handles POST /api/v1/files/upload-url: mints the object key for
// a new upload and a presigned PUT URL the client uploads to directly.
func (h FileHandler) UploadURL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if _, ok := bearerUserID(w, r, h.Sessions); !ok {
		return
	}

	var req uploadURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid upload-url payload", "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	ext := strings.ToLower(path.Ext(req.FileName))
	if ext == "" {
		ext = ".mp4"
	}

	key := fmt.Sprintf("%s/original%s", uuid.NewString(), ext)
	uploadURL, err := h.Uploads.PresignUpload(ctx, key, req.ContentType, 10*time.Minute)
	if err != nil {
		logger.Error("failed to presign upload", "error", err, "s3Key", key)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "failed to create upload url"})
		return
	}

	respondJSON(ctx, w, http.StatusOK, uploadURLResponse{UploadURL: uploadURL, S3Key: key})
}

// maxUploadBytes caps server-side uploads; bigger files go through the
// presigned PUT flow.
const maxUploadBytes = 2 << 30

type uploadResponse struct {
	S3Key    string `json:"s3Key"`
	Location string `json:"location"`
}

// Upload handles POST /api/v1/files/upload: streams a multipart upload into
// the bucket on behalf of clients that cannot PUT to a presigned URL.
func (h FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if _, ok := bearerUserID(w, r, h.Sessions); !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		logger.Warn("invalid upload payload", "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "file is required"})
		return
	}
	defer file.Close()

	ext := strings.ToLower(path.Ext(header.Filename))
	if ext == "" {
		ext = ".mp4"
	}
	key := fmt.Sprintf("%s/original%s", uuid.NewString(), ext)

	location, err := h.Objects.Save(ctx, key, file)
	if err != nil {
		logger.Error("failed to store upload", "error", err, "s3Key", key)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "failed to store upload"})
		return
	}

	respondJSON(ctx, w, http.StatusOK, uploadResponse{S3Key: key, Location: location})
}

// Create handles POST /api/v1/files: registers an upload in queued state and
// schedules it for processing.
func (h FileHandler) Create(w http.ResponseWriter, r *http.Request) {
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

	var req createFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid file payload", "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	req.S3Key = strings.TrimSpace(req.S3Key)
	if req.S3Key == "" {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "s3Key is required"})
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.S3Key
	}

	now := h.now()
	file := models.UploadedFile{
		ID:          uuid.NewString(),
		UserID:      userID,
		S3Key:       req.S3Key,
		DisplayName: req.DisplayName,
		Status:      models.FileStatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.Files.Create(ctx, file); err != nil {
		logger.Error("failed to register upload", "error", err, "s3Key", req.S3Key)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "failed to register upload"})
		return
	}

	if err := h.Engine.Enqueue(ctx, file.ID); err != nil {
		logger.Error("failed to schedule processing", "error", err, "fileId", file.ID)
		respondJSON(ctx, w, http.StatusServiceUnavailable, map[string]string{"error": "upload registered but processing could not be scheduled"})
		return
	}

	respondJSON(ctx, w, http.StatusAccepted, fileResponse{
		ID:          file.ID,
		S3Key:       file.S3Key,
		DisplayName: file.DisplayName,
		Status:      file.Status,
		CreatedAt:   file.CreatedAt,
	})
}

// List handles GET /api/v1/files: the caller's uploads, newest first.
func (h FileHandler) List(w http.ResponseWriter, r *http.Request) {
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

	files, err := h.Files.ListForUser(ctx, userID)
	if err != nil {
		logger.Error("failed to list uploads", "error", err, "userId", userID)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "failed to list uploads"})
		return
	}

	out := make([]fileResponse, 0, len(files))
	for _, f := range files {
		out = append(out, fileResponse{
			ID:          f.ID,
			S3Key:       f.S3Key,
			DisplayName: f.DisplayName,
			Status:      f.Status,
			CreatedAt:   f.CreatedAt,
		})
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{"files": out})
}

// Status handles GET /api/v1/files/status?id=<fileId>: the file's current
// processing status plus any clips produced so far.
func (h FileHandler) Status(w http.ResponseWriter, r *http.Request) {
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

	fileID := strings.TrimSpace(r.URL.Query().Get("id"))
	if fileID == "" {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "id is required"})
		return
	}

	file, err := h.Files.FindForUser(ctx, fileID, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondJSON(ctx, w, http.StatusNotFound, map[string]string{"error": "file not found"})
			return
		}
		logger.Error("failed to load upload", "error", err, "fileId", fileID)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "failed to load upload"})
		return
	}

	clips, err := h.Clips.ListForFile(ctx, file.ID)
	if err != nil {
		logger.Error("failed to list clips", "error", err, "fileId", file.ID)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "failed to list clips"})
		return
	}

	clipsOut := make([]clipResponse, 0, len(clips))
	for _, c := range clips {
		clipsOut = append(clipsOut, toClipResponse(c))
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{
		"file": fileResponse{
			ID:          file.ID,
			S3Key:       file.S3Key,
			DisplayName: file.DisplayName,
			Status:      file.Status,
			CreatedAt:   file.CreatedAt,
		},
		"clips": clipsOut,
	})
}

// Balance handles GET /api/v1/credits: the caller's remaining credits.
func (h FileHandler) Balance(w http.ResponseWriter, r *http.Request) {
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

	balance, err := h.Credits.Balance(ctx, userID)
	if err != nil {
		logger.Error("failed to read credit balance", "error", err, "userId", userID)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "failed to read credit balance"})
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]int{"credits": balance})
}

func (h FileHandler) now() time.Time {
	if h.NowFunc != nil {
		return h.NowFunc()
	}
	return time.Now().UTC()
}
