package handlers

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/podclip/backend/internal/chat"
	"github.com/podclip/backend/internal/edits"
	"github.com/podclip/backend/internal/models"
	"github.com/podclip/backend/internal/repositories"
)

// UserStore captures the persistence operations required by the auth handlers.
type UserStore interface {
	Create(ctx context.Context, user models.User) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
}

// SessionManager issues, refreshes, and resolves authentication tokens.
type SessionManager interface {
	Issue(ctx context.Context, userID string) (models.SessionTokens, error)
	Refresh(ctx context.Context, refreshToken string) (models.SessionTokens, error)
	Authenticate(ctx context.Context, accessToken string) (string, error)
}

// FileStore captures persistence for uploaded files.
type FileStore interface {
	Create(ctx context.Context, file models.UploadedFile) error
	FindForUser(ctx context.Context, id, userID string) (models.UploadedFile, error)
	ListForUser(ctx context.Context, userID string) ([]models.UploadedFile, error)
}

// WorkflowScheduler queues an uploaded file for processing.
type WorkflowScheduler interface {
	Enqueue(ctx context.Context, uploadedFileID string) error
}

// CreditReader exposes a user's current credit balance.
type CreditReader interface {
	Balance(ctx context.Context, userID string) (int, error)
}

// EditPlanner turns a free-text request into structured edit operations.
type EditPlanner interface {
	Plan(ctx context.Context, editRequest, uploadedFileID string) ([]edits.EditPlan, error)
}

// EditApplier previews and applies structured edits.
type EditApplier interface {
	PreviewEdit(ctx context.Context, plan edits.EditPlan, uploadedFileID string) (edits.Preview, error)
	Apply(ctx context.Context, plan edits.EditPlan, uploadedFileID, userID, clipID string) (edits.ApplyResult, error)
}

// EditHistory lists past edit records.
type EditHistory interface {
	ListHistory(ctx context.Context, filter repositories.EditHistoryFilter) ([]models.EditRecord, error)
}

// ChatService answers questions about video content and manages the
// conversation log.
type ChatService interface {
	Ask(ctx context.Context, query, uploadedFileID, userID string, editPlans json.RawMessage) (chat.Answer, error)
	History(ctx context.Context, userID, uploadedFileID string, limit int) ([]models.ChatMessage, error)
	Clear(ctx context.Context, userID, uploadedFileID string) error
}

// TranscriptReader fetches a file's transcript for API responses.
type TranscriptReader interface {
	FullTranscript(ctx context.Context, uploadedFileID string) (models.Transcript, []models.TranscriptSegment, error)
	SegmentsInRange(ctx context.Context, uploadedFileID string, start, end float64) ([]models.TranscriptSegment, error)
}

// UploadSigner produces presigned URLs for direct-to-bucket uploads.
type UploadSigner interface {
	PresignUpload(ctx context.Context, key, contentType string, expires time.Duration) (string, error)
}

// ObjectSaver streams an upload into the bucket server-side, for clients
// that cannot PUT to a presigned URL.
type ObjectSaver interface {
	Save(ctx context.Context, name string, r io.Reader) (string, error)
}

// ClipReader lists a file's clips for API responses.
type ClipReader interface {
	ListForFile(ctx context.Context, uploadedFileID string) ([]models.Clip, error)
}
