package models

import (
	"encoding/json"
	"time"
)

// User represents an account that owns uploads and carries a credit balance.
type User struct {
	ID        string
	Email     string
	Password  string
	Credits   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UploadedFile tracks a source video through the processing pipeline.
type UploadedFile struct {
	ID          string
	UserID      string
	S3Key       string
	DisplayName string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Processing statuses for an UploadedFile. The workflow engine is the only
// writer; queued files always end in one of the three terminal statuses.
const (
	FileStatusQueued     = "queued"
	FileStatusProcessing = "processing"
	FileStatusProcessed  = "processed"
	FileStatusNoCredits  = "no_credits"
	FileStatusFailed     = "failed"
)

// Transcript groups the ordered segments produced for one uploaded file.
type Transcript struct {
	ID             string
	UploadedFileID string
	CreatedAt      time.Time
}

// TranscriptSegment is a time-bounded transcript unit. Words carries the
// word-level timing payload opaquely; Embedding is nil until indexed.
type TranscriptSegment struct {
	ID           string
	TranscriptID string
	Start        float64
	End          float64
	Text         string
	Words        json.RawMessage
	Embedding    []float32
}

// TranscriptDuration derives the total video duration from segments ordered
/// by start time: the end of the last segment.
func TranscriptDuration(segments []TranscriptSegment) float64 {
	if len(segments) == 0 {
		return 0
	}
	return segments[len(segments)-1].End
}

// Clip is a time-bounded excerpt of the source video. Original clips come
// out of processing; edited versions reference their original through
// OriginalClipID, forming a lineage tree.
type Clip struct {
	ID             string
	S3Key          string
	UploadedFileID string
	UserID         string
	ClipIndex      *int
	Hook           *string
	Reason         *string
	StartTime      float64
	EndTime        float64
	ViralityScore  *float64
	IsOriginal     bool
	OriginalClipID *string
	Version        int
	CreatedAt      time.Time
}

// EditRecord is the append-only log entry for a single edit operation.
type EditRecord struct {
	ID             string
	EditType       string
	Description    string
	StartTime      float64
	EndTime        float64
	NewStartTime   *float64
	NewEndTime     *float64
	SplitPoint     *float64
	Status         string
	UploadedFileID string
	UserID         string
	ClipID         *string
	CreatedAt      time.Time
	AppliedAt      *time.Time
}

// Edit record statuses.
const (
	EditStatusPending   = "pending"
	EditStatusApplied   = "applied"
	EditStatusFailed    = "failed"
	EditStatusCancelled = "cancelled"
)

// ChatMessage is one entry in the append-only conversation log. Citations
// and EditPlans are stored as raw JSON the way the chat service and edit
// planner shaped them.
type ChatMessage struct {
	ID             string
	Role           string
	Content        string
	Query          *string
	Citations      json.RawMessage
	EditPlans      json.RawMessage
	UserID         string
	UploadedFileID *string
	CreatedAt      time.Time
}

// Chat message roles.
const (
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// SessionTokens groups the bearer credentials issued to authenticated users.
type SessionTokens struct {
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}
