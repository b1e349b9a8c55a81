package wan

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

// Resolution ladder, highest tier first. The runner raises Request.Quality
// to walk down it when the backoff policy asks for degradation.
var resolutions = []string{"1920*1080", "1280*720", "854*480"}

// Options configures the DashScope Wan video client.
type Options struct {
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client wraps the DashScope asynchronous video-synthesis API behind the
// poll-mode adapter contract. Credentials come from the pool per call, not
// from the client.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

type videoInput struct {
	Prompt   string `json:"prompt"`
	Duration int    `json:"duration,omitempty"`
	Size     string `json:"size,omitempty"`
}

type synthesisRequest struct {
	Model      string          `json:"model"`
	Input      synthesisInput  `json:"input"`
	Parameters synthesisParams `json:"parameters"`
}

type synthesisInput struct {
	Prompt string `json:"prompt"`
}

type synthesisParams struct {
	Size     string `json:"size,omitempty"`
	Duration int    `json:"duration,omitempty"`
}

type synthesisResponse struct {
	Output struct {
		TaskID     string `json:"task_id"`
		TaskStatus string `json:"task_status"`
	} `json:"output"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

type taskResponse struct {
	Output struct {
		TaskID     string `json:"task_id"`
		TaskStatus string `json:"task_status"`
		VideoURL   string `json:"video_url"`
		Progress   int    `json:"progress"`
		Code       string `json:"code"`
		Message    string `json:"message"`
	} `json:"output"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// NewClient constructs a client with sane defaults.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://dashscope-intl.aliyuncs.com/api/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "wan2.2-t2v-plus"
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
	return "wan"
}

// Submit creates an asynchronous synthesis task and returns its remote id.
func (c *Client) Submit(ctx context.Context, req engine.Request, credential string) (*engine.Submission, error) {
	var input videoInput
	if err := json.Unmarshal(req.Input, &input); err != nil {
		return nil, fmt.Errorf("wan: decode input: %w", err)
	}
	prompt := strings.TrimSpace(input.Prompt)
	if prompt == "" {
		return nil, &engine.FatalError{Message: "prompt is required"}
	}

	size := strings.TrimSpace(input.Size)
	if size == "" {
		size = resolutionFor(req.Quality)
	}

	payload := synthesisRequest{
		Model: c.model,
		Input: synthesisInput{Prompt: prompt},
		Parameters: synthesisParams{
			Size:     size,
			Duration: input.Duration,
		},
	}

	var decoded synthesisResponse
	if err := c.post(ctx, "/services/aigc/video-generation/video-synthesis", credential, payload, &decoded); err != nil {
		return nil, err
	}
	if decoded.Code != "" {
		return nil, &engine.ProviderError{StatusCode: http.StatusBadRequest, Code: decoded.Code, Message: decoded.Message}
	}
	if decoded.Output.TaskID == "" {
		return nil, &engine.FatalError{Message: "no task id in response"}
	}

	c.logger.Debug().
		Str("model", c.model).
		Str("task_id", decoded.Output.TaskID).
		Str("size", size).
		Str("request_id", decoded.RequestID).
		Msg("wan: task submitted")

	return &engine.Submission{Mode: engine.ModePoll, RemoteID: decoded.Output.TaskID}, nil
}

// PollStatus queries the remote task once.
func (c *Client) PollStatus(ctx context.Context, remoteID, credential string) (*engine.PollStatus, error) {
	endpoint := fmt.Sprintf("%s/tasks/%s", c.baseURL, remoteID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("wan: build poll request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+credential)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("wan: poll task: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("wan: read poll response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, providerError(resp.StatusCode, raw)
	}

	var decoded taskResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("wan: decode poll response: %w", err)
	}

	status := &engine.PollStatus{Progress: -1}
	switch decoded.Output.TaskStatus {
	case "SUCCEEDED":
		status.State = engine.RemoteSucceeded
		status.Progress = 100
		if decoded.Output.VideoURL != "" {
			status.Artifact = &engine.Artifact{URL: decoded.Output.VideoURL, Mime: "video/mp4"}
		}
	case "FAILED", "CANCELED":
		status.State = engine.RemoteFailed
		status.Message = firstNonEmpty(decoded.Output.Message, decoded.Message, "remote task failed")
	case "PENDING":
		status.State = engine.RemotePending
	default:
		status.State = engine.RemoteRunning
		if decoded.Output.Progress > 0 {
			status.Progress = decoded.Output.Progress
		}
	}
	return status, nil
}

func (c *Client) post(ctx context.Context, path, credential string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("wan: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("wan: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+credential)
	httpReq.Header.Set("X-DashScope-Async", "enable")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("wan: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("wan: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return providerError(resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("wan: decode response: %w", err)
	}
	return nil
}

func providerError(statusCode int, raw []byte) error {
	var detail struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &detail); err == nil && detail.Message != "" {
		return &engine.ProviderError{StatusCode: statusCode, Code: detail.Code, Message: detail.Message}
	}
	return &engine.ProviderError{StatusCode: statusCode, Message: strings.TrimSpace(string(raw))}
}

func resolutionFor(quality int) string {
	if quality < 0 {
		quality = 0
	}
	if quality >= len(resolutions) {
		quality = len(resolutions) - 1
	}
	return resolutions[quality]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
