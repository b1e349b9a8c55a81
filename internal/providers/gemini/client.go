package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"mediaforge/internal/engine"
	"mediaforge/internal/infra"
)

// Options configures the Gemini streaming client.
type Options struct {
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client wraps the Gemini streamGenerateContent API behind the stream-mode
// adapter contract. The response body is handed to the engine's stream
// decoder untouched.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

type generateInput struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	Style       string `json:"style,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type generateContentRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Status  string `json:"status,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// NewClient constructs a client with sane defaults.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		// No client-level timeout: streams outlive any sane request
		// deadline, cancellation comes from the caller's context.
		httpClient = &http.Client{Timeout: 0}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gemini-2.5-flash"
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
		model:      model,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Name implements engine.Adapter.
func (c *Client) Name() string {
	return "gemini"
}

// StreamOptions implements engine.StreamFramer; Gemini uses the default
// "data: " SSE framing.
func (c *Client) StreamOptions() engine.DecoderOptions {
	return engine.DecoderOptions{}
}

// Submit opens a live generation stream and returns its body for decoding.
func (c *Client) Submit(ctx context.Context, req engine.Request, credential string) (*engine.Submission, error) {
	var input generateInput
	if err := json.Unmarshal(req.Input, &input); err != nil {
		return nil, fmt.Errorf("gemini: decode input: %w", err)
	}
	prompt := strings.TrimSpace(input.Prompt)
	if prompt == "" {
		return nil, &engine.FatalError{Message: "prompt is required"}
	}

	payload := generateContentRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: buildPrompt(input)}},
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gemini: encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:streamGenerateContent", c.baseURL, url.PathEscape(c.model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: build request: %w", err)
	}
	q := httpReq.URL.Query()
	q.Set("alt", "sse")
	if credential != "" {
		q.Set("key", credential)
	}
	httpReq.URL.RawQuery = q.Encode()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: http request: %w", err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		var apiErr geminiErrorResponse
		if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Error.Message != "" {
			return nil, &engine.ProviderError{
				StatusCode: resp.StatusCode,
				Code:       apiErr.Error.Status,
				Message:    apiErr.Error.Message,
			}
		}
		return nil, &engine.ProviderError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	c.logger.Debug().
		Str("model", c.model).
		Str("job_id", req.JobID).
		Msg("gemini: stream opened")

	return &engine.Submission{Mode: engine.ModeStream, Stream: resp.Body}, nil
}

// PollStatus is not supported by the streaming adapter.
func (c *Client) PollStatus(ctx context.Context, remoteID, credential string) (*engine.PollStatus, error) {
	return nil, &engine.FatalError{Message: "gemini adapter does not poll"}
}

func buildPrompt(input generateInput) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(input.Prompt))
	if aspect := strings.TrimSpace(input.AspectRatio); aspect != "" {
		b.WriteString("\nAspect ratio: ")
		b.WriteString(aspect)
	}
	if style := strings.TrimSpace(input.Style); style != "" {
		b.WriteString("\nStyle: ")
		b.WriteString(style)
	}
	return b.String()
}
