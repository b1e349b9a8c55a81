package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"mediaforge/internal/domain"
)

// SubmitMode distinguishes how an adapter delivers its result.
type SubmitMode string

const (
	ModePoll   SubmitMode = "poll"
	ModeStream SubmitMode = "stream"
	ModeSync   SubmitMode = "sync"
)

// Request is the provider-facing view of a job input. Quality starts at 0
// (the adapter's highest tier) and is raised by the runner when the backoff
// policy asks for degradation.
type Request struct {
	JobID   string
	Kind    domain.JobKind
	Input   json.RawMessage
	Quality int
}

// Artifact is a generated media result, either as raw bytes or as a
// provider-hosted URL.
type Artifact struct {
	URL  string
	Data []byte
	Mime string
}

// Submission is the tagged result of Adapter.Submit. Exactly one of the
// mode-specific fields is populated.
type Submission struct {
	Mode     SubmitMode
	RemoteID string        // ModePoll
	Stream   io.ReadCloser // ModeStream
	Result   *Artifact     // ModeSync
}

// RemoteState enumerates the status of a pollable remote task.
type RemoteState string

const (
	RemotePending   RemoteState = "pending"
	RemoteRunning   RemoteState = "running"
	RemoteSucceeded RemoteState = "succeeded"
	RemoteFailed    RemoteState = "failed"
)

// PollStatus is one observation of a remote task. Progress is 0-100 on the
// remote scale, or -1 when the provider did not report one.
type PollStatus struct {
	State    RemoteState
	Progress int
	Artifact *Artifact
	Message  string
}

// Adapter wraps one upstream generation API behind a uniform submit/poll
// contract. Errors returned from either method should be *ProviderError so
// the backoff classifier can read the upstream status code.
type Adapter interface {
	Name() string
	Submit(ctx context.Context, req Request, credential string) (*Submission, error)
	PollStatus(ctx context.Context, remoteID, credential string) (*PollStatus, error)
}

// ProviderError carries an HTTP-status-like code alongside the upstream
// message so failures can be classified without string-matching call sites.
type ProviderError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider status %d: %s (%s)", e.StatusCode, e.Message, e.Code)
	}
	return fmt.Sprintf("provider status %d: %s", e.StatusCode, e.Message)
}

// QuotaExhausted reports whether the error looks like hard quota exhaustion
// rather than a momentary 429.
func (e *ProviderError) QuotaExhausted() bool {
	if e.StatusCode != 429 {
		return false
	}
	msg := strings.ToLower(e.Message + " " + e.Code)
	for _, marker := range []string{"quota", "exhausted", "insufficient", "limit exceeded", "resource_exhausted"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// BlobStore is the artifact persistence port. Upload failures are recovered
// by the runner, which falls back to the provider URL.
type BlobStore interface {
	Upload(ctx context.Context, data []byte, mime string) (string, error)
	UploadFromURL(ctx context.Context, remoteURL string) (string, error)
}

// ProgressSink mirrors progress updates for cheap reads; best-effort.
type ProgressSink interface {
	Set(ctx context.Context, jobID string, progress int) error
}
