package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/podclip/backend/internal/config"
)

var (
	// ErrNoToolCall indicates the model did not invoke the structured tool,
	// so no edit plan could be extracted.
	ErrNoToolCall = errors.New("completion returned no tool call")
	// ErrEmptyEmbedding indicates the embedding service returned no vector data.
	ErrEmptyEmbedding = errors.New("embedding response was empty")
)

// Client wraps the OpenAI API for embeddings, answer generation, and
// structured edit-plan extraction. It is injected into collaborators rather
// than shared as a package-level singleton.
type Client struct {
	api            *openai.Client
	embeddingModel openai.EmbeddingModel
	chatModel      string
	timeout        time.Duration
}

// NewClient constructs a Client from configuration.
func NewClient(cfg config.OpenAIConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		api:            openai.NewClient(cfg.APIKey),
		embeddingModel: openai.EmbeddingModel(cfg.EmbeddingModel),
		chatModel:      cfg.ChatModel,
		timeout:        timeout,
	}
}

// Embed generates an embedding vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embedding vectors for the provided texts, preserving
// input order. Callers are expected to chunk inputs to the provider's batch
// limit before calling.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	trimmed := make([]string, len(texts))
	for i, t := range texts {
		trimmed[i] = strings.TrimSpace(t)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: trimmed,
		Model: c.embeddingModel,
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response size mismatch: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if len(item.Embedding) == 0 {
			return nil, ErrEmptyEmbedding
		}
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding response index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}

	return vectors, nil
}

// Answer runs a free-text completion with the provided system and user
// prompts. Used for retrieval-augmented answer generation.
func (c *Client) Answer(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("create chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}

	return resp.Choices[0].Message.Content, nil
}

const editPlanToolName = "create_edit_plan"

// editPlanSchema constrains the completion to the structured edits array.
var editPlanSchema = jsonschema.Definition{
	Type: jsonschema.Object,
	Properties: map[string]jsonschema.Definition{
		"edits": {
			Type:        jsonschema.Array,
			Description: "List of edits to perform",
			Items: &jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"type": {
						Type:        jsonschema.String,
						Enum:        []string{"trim", "split", "merge", "adjust_timing", "remove", "extend"},
						Description: "Type of edit operation",
					},
					"description": {
						Type:        jsonschema.String,
						Description: "Human-readable description of the edit",
					},
					"targetClipId": {
						Type:        jsonschema.String,
						Description: "ID of clip to edit (if editing existing clip)",
					},
					"startTime": {
						Type:        jsonschema.Number,
						Description: "Start time in seconds",
					},
					"endTime": {
						Type:        jsonschema.Number,
						Description: "End time in seconds",
					},
					"newStartTime": {
						Type:        jsonschema.Number,
						Description: "New start time (for adjust_timing)",
					},
					"newEndTime": {
						Type:        jsonschema.Number,
						Description: "New end time (for adjust_timing)",
					},
					"splitPoint": {
						Type:        jsonschema.Number,
						Description: "Time to split at (for split operation)",
					},
					"confidence": {
						Type:        jsonschema.Number,
						Description: "Confidence score 0-1",
					},
				},
				Required: []string{"type", "description", "startTime", "endTime", "confidence"},
			},
		},
	},
	Required: []string{"edits"},
}

// ExtractEditPlan runs a completion constrained to invoke the edit-plan tool
// and returns the raw arguments payload. A response without a tool call is a
// failure, never an empty success.
func (c *Client) ExtractEditPlan(ctx context.Context, systemPrompt, userPrompt string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Tools: []openai.Tool{
			{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        editPlanToolName,
					Description: "Create edit plans for video content based on user request",
					Parameters:  editPlanSchema,
				},
			},
		},
		ToolChoice: openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: editPlanToolName},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("create edit plan completion: %w", err)
	}

	if len(resp.Choices) == 0 || len(resp.Choices[0].Message.ToolCalls) == 0 {
		return nil, ErrNoToolCall
	}

	return json.RawMessage(resp.Choices[0].Message.ToolCalls[0].Function.Arguments), nil
}
