package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/podclip/backend/internal/logging"
	"github.com/podclip/backend/internal/models"
	"github.com/podclip/backend/internal/search"
)

var (
	// ErrAccessDenied indicates the referenced file does not belong to the
	// requesting user.
	ErrAccessDenied = errors.New("file not found or access denied")
	// ErrNoRelevantContent indicates retrieval found nothing to ground an
	// answer on.
	ErrNoRelevantContent = errors.New("no relevant content found in transcripts")
)

// Citation is one retrieved segment backing an answer, with a rendered
// timestamp for display.
type Citation struct {
	SegmentID      string  `json:"segmentId"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	Text           string  `json:"text"`
	Timestamp      string  `json:"timestamp"`
	Similarity     float64 `json:"similarity"`
	UploadedFileID string  `json:"uploadedFileId"`
}

// Answer is a generated response with its supporting citations.
type Answer struct {
	Text      string     `json:"answer"`
	Citations []Citation `json:"citations"`
	Query     string     `json:"query"`
}

// Retriever ranks transcript segments against a question.
type Retriever interface {
	Search(ctx context.Context, query, uploadedFileID string, limit int) ([]search.Result, error)
}

// AnswerGenerator runs the retrieval-augmented completion.
type AnswerGenerator interface {
	Answer(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// FileSource resolves an uploaded file scoped to its owning user.
type FileSource interface {
	FindForUser(ctx context.Context, id, userID string) (models.UploadedFile, error)
}

// ClipSource lists a file's clips for answer context.
type ClipSource interface {
	ListForFile(ctx context.Context, uploadedFileID string) ([]models.Clip, error)
}

// MessageLog persists the append-only conversation history.
type MessageLog interface {
	Save(ctx context.Context, msg models.ChatMessage) error
	ListForUser(ctx context.Context, userID, uploadedFileID string, limit int) ([]models.ChatMessage, error)
	Clear(ctx context.Context, userID, uploadedFileID string) error
}

const (
	retrievalLimit = 10
	citationLimit  = 5
)

// Service answers questions about video content by retrieving relevant
// transcript segments and grounding a completion on them. Every exchange is
// appended to the per-user message log.
type Service struct {
	retriever Retriever
	generator AnswerGenerator
	files     FileSource
	clips     ClipSource
	messages  MessageLog
}

// NewService constructs a chat Service.
func NewService(retriever Retriever, generator AnswerGenerator, files FileSource, clips ClipSource, messages MessageLog) *Service {
	return &Service{
		retriever: retriever,
		generator: generator,
		files:     files,
		clips:     clips,
		messages:  messages,
	}
}

// Ask answers a question about a video. When uploadedFileID is set the
// retrieval scope narrows to that file and ownership is enforced. Returns
// the answer with the top citations; the exchange is persisted best-effort,
// with any editPlans the caller attached stored on the assistant message.
func (s *Service) Ask(ctx context.Context, query, uploadedFileID, userID string, editPlans json.RawMessage) (Answer, error) {
	logger := logging.FromContext(ctx)

	if uploadedFileID != "" {
		if _, err := s.files.FindForUser(ctx, uploadedFileID, userID); err != nil {
			return Answer{}, ErrAccessDenied
		}
	}

	results, err := s.retriever.Search(ctx, query, uploadedFileID, retrievalLimit)
	if err != nil {
		return Answer{}, fmt.Errorf("retrieve segments: %w", err)
	}
	if len(results) == 0 {
		return Answer{}, ErrNoRelevantContent
	}

	var clips []models.Clip
	if uploadedFileID != "" {
		clips, err = s.clips.ListForFile(ctx, uploadedFileID)
		if err != nil {
			logger.Warn("loading clips for answer context failed", "error", err)
		}
	}

	answerText, err := s.generator.Answer(ctx, answerSystemPrompt, answerUserPrompt(query, results, clips))
	if err != nil {
		return Answer{}, fmt.Errorf("generate answer: %w", err)
	}

	citations := make([]Citation, 0, citationLimit)
	for _, r := range results {
		if len(citations) == citationLimit {
			break
		}
		citations = append(citations, Citation{
			SegmentID:      r.SegmentID,
			Start:          r.Start,
			End:            r.End,
			Text:           r.Text,
			Timestamp:      formatTimestamp(r.Start),
			Similarity:     r.Similarity,
			UploadedFileID: r.UploadedFileID,
		})
	}

	answer := Answer{Text: answerText, Citations: citations, Query: query}
	s.persistExchange(ctx, query, answer, uploadedFileID, userID, editPlans)

	return answer, nil
}

// History returns the user's conversation log in chronological order,
// optionally scoped to one file.
func (s *Service) History(ctx context.Context, userID, uploadedFileID string, limit int) ([]models.ChatMessage, error) {
	return s.messages.ListForUser(ctx, userID, uploadedFileID, limit)
}

// Clear deletes the user's conversation log, optionally scoped to one file.
func (s *Service) Clear(ctx context.Context, userID, uploadedFileID string) error {
	return s.messages.Clear(ctx, userID, uploadedFileID)
}

// persistExchange appends the question and answer to the message log.
// Persistence failure never fails the exchange itself.
func (s *Service) persistExchange(ctx context.Context, query string, answer Answer, uploadedFileID, userID string, editPlans json.RawMessage) {
	logger := logging.FromContext(ctx)
	now := time.Now().UTC()

	var fileID *string
	if uploadedFileID != "" {
		fileID = &uploadedFileID
	}

	userMsg := models.ChatMessage{
		ID:             uuid.NewString(),
		Role:           models.ChatRoleUser,
		Content:        query,
		UserID:         userID,
		UploadedFileID: fileID,
		CreatedAt:      now,
	}
	if err := s.messages.Save(ctx, userMsg); err != nil {
		logger.Error("saving user chat message failed", "error", err)
		return
	}

	citationsJSON, err := json.Marshal(answer.Citations)
	if err != nil {
		logger.Error("encoding citations failed", "error", err)
		citationsJSON = nil
	}

	assistantMsg := models.ChatMessage{
		ID:             uuid.NewString(),
		Role:           models.ChatRoleAssistant,
		Content:        answer.Text,
		Query:          &query,
		Citations:      citationsJSON,
		EditPlans:      editPlans,
		UserID:         userID,
		UploadedFileID: fileID,
		CreatedAt:      now,
	}
	if err := s.messages.Save(ctx, assistantMsg); err != nil {
		logger.Error("saving assistant chat message failed", "error", err)
	}
}

const answerSystemPrompt = `You are a helpful assistant that answers questions about video content based on transcript segments.

IMPORTANT:
- Always cite specific timestamps when referencing content
- Use the format [MM:SS] when mentioning times
- Be accurate and only use information from the provided context
- If the question can't be answered from the context, say so
- Format timestamps as clickable references like "(00:12 - 00:45)"`

func answerUserPrompt(query string, results []search.Result, clips []models.Clip) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", query)
	b.WriteString("Relevant transcript segments (with timestamps):\n")

	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %s - %s: %s\n\n", i+1, formatTimestamp(r.Start), formatTimestamp(r.End), r.Text)
	}

	if len(clips) > 0 {
		b.WriteString("Clips in this video:\n")
		for _, clip := range clips {
			index := 0
			if clip.ClipIndex != nil {
				index = *clip.ClipIndex
			}
			hook := ""
			if clip.Hook != nil {
				hook = *clip.Hook
			}
			fmt.Fprintf(&b, "- Clip %d: %q (%s - %s)\n", index+1, hook, formatTimestamp(clip.StartTime), formatTimestamp(clip.EndTime))
		}
		b.WriteString("\n")
	}

	b.WriteString("Please provide a helpful answer to the question, citing specific timestamps where relevant.")
	return b.String()
}

// formatTimestamp renders seconds as M:SS.
func formatTimestamp(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
