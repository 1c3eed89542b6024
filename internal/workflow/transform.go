package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/podclip/backend/internal/config"
)

// TransformResult is the external transform service's response: generated
// clips plus an optional transcript of the full video.
type TransformResult struct {
	Status          string               `json:"status"`
	GeneratedVideos []GeneratedVideo     `json:"generated_videos"`
	Transcript      *TransformTranscript `json:"transcript,omitempty"`
}

// GeneratedVideo is the per-clip metadata reported by the transform service.
type GeneratedVideo struct {
	ClipIndex     int      `json:"clip_index"`
	StartTime     float64  `json:"start_time"`
	EndTime       float64  `json:"end_time"`
	Hook          *string  `json:"hook,omitempty"`
	Reason        *string  `json:"reason,omitempty"`
	ViralityScore *float64 `json:"virality_score,omitempty"`
	VideoURL      string   `json:"video_url"`
}

// TransformTranscript carries the transcript segments from the transform
// response.
type TransformTranscript struct {
	Segments []TransformSegment `json:"segments"`
}

// TransformSegment is one transcript segment as reported by the transform
// service. Words is stored opaquely.
type TransformSegment struct {
	Start float64         `json:"start"`
	End   float64         `json:"end"`
	Text  string          `json:"text"`
	Words json.RawMessage `json:"words,omitempty"`
}

// Transformer invokes the external video transformation step.
type Transformer interface {
	Transform(ctx context.Context, s3Key string) (TransformResult, error)
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func markTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether the error warrants one automatic re-attempt
// of the workflow.
func IsTransient(err error) bool {
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// HTTPTransformClient calls the transform endpoint with a bearer credential.
type HTTPTransformClient struct {
	endpoint   string
	authToken  string
	httpClient *http.Client
}

// NewHTTPTransformClient constructs a client from configuration. The
// configured timeout bounds the whole request; a timed-out call surfaces as
// a transient failure, never a silent hang.
func NewHTTPTransformClient(cfg config.TransformConfig) *HTTPTransformClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &HTTPTransformClient{
		endpoint:   cfg.Endpoint,
		authToken:  cfg.AuthToken,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Transform posts the storage key to the transform endpoint and decodes the
// response. Any non-2xx status is a hard failure for this attempt; 5xx and
// transport errors are flagged transient so the workflow may retry once.
func (c *HTTPTransformClient) Transform(ctx context.Context, s3Key string) (TransformResult, error) {
	payload, err := json.Marshal(map[string]string{"s3_key": s3Key})
	if err != nil {
		return TransformResult{}, fmt.Errorf("marshal transform request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return TransformResult{}, fmt.Errorf("build transform request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return TransformResult{}, markTransient(fmt.Errorf("call transform endpoint: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("transform endpoint returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
		if resp.StatusCode >= 500 {
			return TransformResult{}, markTransient(err)
		}
		return TransformResult{}, err
	}

	var result TransformResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return TransformResult{}, fmt.Errorf("decode transform response: %w", err)
	}

	return result, nil
}
