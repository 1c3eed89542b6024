package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/podclip/backend/internal/models"
	"github.com/podclip/backend/internal/repositories"
	"github.com/podclip/backend/internal/search"
)

type retrieverStub struct {
	results []search.Result
	err     error
	query   string
	fileID  string
	limit   int
}

func (s *retrieverStub) Search(ctx context.Context, query, uploadedFileID string, limit int) ([]search.Result, error) {
	s.query = query
	s.fileID = uploadedFileID
	s.limit = limit
	return s.results, s.err
}

type generatorStub struct {
	answer     string
	err        error
	userPrompt string
}

func (s *generatorStub) Answer(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	s.userPrompt = userPrompt
	return s.answer, s.err
}

type fileSourceStub struct {
	err error
}

func (s *fileSourceStub) FindForUser(ctx context.Context, id, userID string) (models.UploadedFile, error) {
	if s.err != nil {
		return models.UploadedFile{}, s.err
	}
	return models.UploadedFile{ID: id, UserID: userID}, nil
}

type clipSourceStub struct {
	clips []models.Clip
}

func (s *clipSourceStub) ListForFile(ctx context.Context, uploadedFileID string) ([]models.Clip, error) {
	return s.clips, nil
}

type messageLogStub struct {
	saved    []models.ChatMessage
	saveErr  error
	cleared  bool
	messages []models.ChatMessage
}

func (s *messageLogStub) Save(ctx context.Context, msg models.ChatMessage) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, msg)
	return nil
}

func (s *messageLogStub) ListForUser(ctx context.Context, userID, uploadedFileID string, limit int) ([]models.ChatMessage, error) {
	return s.messages, nil
}

func (s *messageLogStub) Clear(ctx context.Context, userID, uploadedFileID string) error {
	s.cleared = true
	return nil
}

func searchResults(n int) []search.Result {
	results := make([]search.Result, 0, n)
	for i := 0; i < n; i++ {
		results = append(results, search.Result{
			SegmentID:      fmt.Sprintf("seg-%d", i),
			Start:          float64(i * 30),
			End:            float64(i*30 + 25),
			Text:           fmt.Sprintf("segment %d", i),
			Similarity:     1.0 - float64(i)*0.05,
			UploadedFileID: "file-1",
		})
	}
	return results
}

func TestAskReturnsAnswerWithTopCitations(t *testing.T) {
	retriever := &retrieverStub{results: searchResults(8)}
	generator := &generatorStub{answer: "The topic comes up at (0:30 - 0:55)."}
	log := &messageLogStub{}

	svc := NewService(retriever, generator, &fileSourceStub{}, &clipSourceStub{}, log)

	answer, err := svc.Ask(context.Background(), "what is discussed?", "file-1", "user-1", nil)
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}

	if retriever.limit != 10 {
		t.Fatalf("expected retrieval limit 10 got %d", retriever.limit)
	}
	if answer.Text != generator.answer {
		t.Fatalf("unexpected answer: %q", answer.Text)
	}
	if len(answer.Citations) != 5 {
		t.Fatalf("expected top 5 citations got %d", len(answer.Citations))
	}
	if answer.Citations[0].SegmentID != "seg-0" {
		t.Fatalf("citations out of order: %+v", answer.Citations[0])
	}
	if answer.Citations[1].Timestamp != "0:30" {
		t.Fatalf("unexpected timestamp: %q", answer.Citations[1].Timestamp)
	}
}

func TestAskPersistsExchange(t *testing.T) {
	log := &messageLogStub{}
	svc := NewService(&retrieverStub{results: searchResults(3)}, &generatorStub{answer: "answer"},
		&fileSourceStub{}, &clipSourceStub{}, log)

	if _, err := svc.Ask(context.Background(), "question?", "file-1", "user-1", nil); err != nil {
		t.Fatalf("ask failed: %v", err)
	}

	if len(log.saved) != 2 {
		t.Fatalf("expected user and assistant messages got %d", len(log.saved))
	}
	if log.saved[0].Role != models.ChatRoleUser || log.saved[0].Content != "question?" {
		t.Fatalf("unexpected user message: %+v", log.saved[0])
	}
	assistant := log.saved[1]
	if assistant.Role != models.ChatRoleAssistant || assistant.Content != "answer" {
		t.Fatalf("unexpected assistant message: %+v", assistant)
	}
	if assistant.Query == nil || *assistant.Query != "question?" {
		t.Fatalf("assistant message missing query: %+v", assistant.Query)
	}

	var citations []Citation
	if err := json.Unmarshal(assistant.Citations, &citations); err != nil {
		t.Fatalf("citations not valid JSON: %v", err)
	}
	if len(citations) != 3 {
		t.Fatalf("expected 3 stored citations got %d", len(citations))
	}
}

func TestAskStoresEditPlansOnAssistantMessage(t *testing.T) {
	log := &messageLogStub{}
	svc := NewService(&retrieverStub{results: searchResults(1)}, &generatorStub{answer: "answer"},
		&fileSourceStub{}, &clipSourceStub{}, log)

	plans := json.RawMessage(`[{"type":"trim","startTime":10,"endTime":12}]`)
	if _, err := svc.Ask(context.Background(), "trim the pause", "file-1", "user-1", plans); err != nil {
		t.Fatalf("ask failed: %v", err)
	}

	if len(log.saved) != 2 {
		t.Fatalf("expected user and assistant messages got %d", len(log.saved))
	}
	if log.saved[0].EditPlans != nil {
		t.Fatalf("user message must not carry edit plans: %s", log.saved[0].EditPlans)
	}
	if string(log.saved[1].EditPlans) != string(plans) {
		t.Fatalf("assistant message missing edit plans: %s", log.saved[1].EditPlans)
	}
}

func TestAskPersistenceFailureDoesNotFailAnswer(t *testing.T) {
	log := &messageLogStub{saveErr: errors.New("insert failed")}
	svc := NewService(&retrieverStub{results: searchResults(1)}, &generatorStub{answer: "answer"},
		&fileSourceStub{}, &clipSourceStub{}, log)

	answer, err := svc.Ask(context.Background(), "question?", "file-1", "user-1", nil)
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if answer.Text != "answer" {
		t.Fatalf("unexpected answer: %q", answer.Text)
	}
}

func TestAskDeniesUnownedFile(t *testing.T) {
	svc := NewService(&retrieverStub{}, &generatorStub{}, &fileSourceStub{err: repositories.ErrNotFound},
		&clipSourceStub{}, &messageLogStub{})

	if _, err := svc.Ask(context.Background(), "question?", "file-1", "intruder", nil); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied got %v", err)
	}
}

func TestAskSkipsOwnershipCheckWithoutFileScope(t *testing.T) {
	svc := NewService(&retrieverStub{results: searchResults(1)}, &generatorStub{answer: "answer"},
		&fileSourceStub{err: repositories.ErrNotFound}, &clipSourceStub{}, &messageLogStub{})

	if _, err := svc.Ask(context.Background(), "question?", "", "user-1", nil); err != nil {
		t.Fatalf("unscoped ask should not check ownership: %v", err)
	}
}

func TestAskReportsNoRelevantContent(t *testing.T) {
	svc := NewService(&retrieverStub{results: nil}, &generatorStub{}, &fileSourceStub{},
		&clipSourceStub{}, &messageLogStub{})

	if _, err := svc.Ask(context.Background(), "question?", "file-1", "user-1", nil); !errors.Is(err, ErrNoRelevantContent) {
		t.Fatalf("expected ErrNoRelevantContent got %v", err)
	}
}

func TestAskIncludesClipContextInPrompt(t *testing.T) {
	idx := 0
	hook := "big reveal"
	clips := []models.Clip{{ID: "clip-1", ClipIndex: &idx, Hook: &hook, StartTime: 12, EndTime: 45}}
	generator := &generatorStub{answer: "answer"}

	svc := NewService(&retrieverStub{results: searchResults(1)}, generator, &fileSourceStub{},
		&clipSourceStub{clips: clips}, &messageLogStub{})

	if _, err := svc.Ask(context.Background(), "question?", "file-1", "user-1", nil); err != nil {
		t.Fatalf("ask failed: %v", err)
	}

	if !strings.Contains(generator.userPrompt, `"big reveal"`) {
		t.Fatalf("prompt missing clip hook: %s", generator.userPrompt)
	}
	if !strings.Contains(generator.userPrompt, "0:12 - 0:45") {
		t.Fatalf("prompt missing clip window: %s", generator.userPrompt)
	}
}

func TestFormatTimestamp(t *testing.T) {
	cases := []struct {
		seconds float64
		want    string
	}{
		{0, "0:00"},
		{12, "0:12"},
		{65, "1:05"},
		{600.9, "10:00"},
	}
	for _, tc := range cases {
		if got := formatTimestamp(tc.seconds); got != tc.want {
			t.Fatalf("formatTimestamp(%v) = %q, want %q", tc.seconds, got, tc.want)
		}
	}
}

func TestClearDelegatesToLog(t *testing.T) {
	log := &messageLogStub{}
	svc := NewService(&retrieverStub{}, &generatorStub{}, &fileSourceStub{}, &clipSourceStub{}, log)

	if err := svc.Clear(context.Background(), "user-1", "file-1"); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if !log.cleared {
		t.Fatal("expected clear to reach the log")
	}
}
