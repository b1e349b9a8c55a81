package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mediaforge/internal/engine"
	"mediaforge/internal/infra"
)

// Model ladder, highest quality first.
var models = []string{"tts-1-hd", "tts-1"}

// Options configures the speech synthesis client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client wraps an OpenAI-compatible text-to-speech API behind the sync-mode
// adapter contract: a single POST returns the audio bytes directly.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

type speechInput struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
	Speed string `json:"speed,omitempty"`
}

type speechRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
	Voice string `json:"voice"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewClient constructs a client with sane defaults.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Name implements engine.Adapter.
func (c *Client) Name() string {
	return "speech"
}

// Submit synthesizes speech in one call and returns the audio bytes.
func (c *Client) Submit(ctx context.Context, req engine.Request, credential string) (*engine.Submission, error) {
	var input speechInput
	if err := json.Unmarshal(req.Input, &input); err != nil {
		return nil, fmt.Errorf("speech: decode input: %w", err)
	}
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return nil, &engine.FatalError{Message: "text is required"}
	}
	voice := strings.TrimSpace(input.Voice)
	if voice == "" {
		voice = "alloy"
	}

	payload := speechRequest{
		Model: modelFor(req.Quality),
		Input: text,
		Voice: voice,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("speech: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("speech: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+credential)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("speech: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("speech: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Error.Message != "" {
			return nil, &engine.ProviderError{
				StatusCode: resp.StatusCode,
				Code:       firstNonEmpty(detail.Error.Code, detail.Error.Type),
				Message:    detail.Error.Message,
			}
		}
		return nil, &engine.ProviderError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	if len(raw) == 0 {
		return nil, &engine.FatalError{Message: "no artifact in response"}
	}

	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = "audio/mpeg"
	}

	c.logger.Debug().
		Str("job_id", req.JobID).
		Str("model", payload.Model).
		Int("bytes", len(raw)).
		Msg("speech: synthesized audio")

	return &engine.Submission{
		Mode:   engine.ModeSync,
		Result: &engine.Artifact{Data: raw, Mime: mime},
	}, nil
}

// PollStatus is not supported by the synchronous adapter.
func (c *Client) PollStatus(ctx context.Context, remoteID, credential string) (*engine.PollStatus, error) {
	return nil, &engine.FatalError{Message: "speech adapter does not poll"}
}

func modelFor(quality int) string {
	if quality < 0 {
		quality = 0
	}
	if quality >= len(models) {
		quality = len(models) - 1
	}
	return models[quality]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
