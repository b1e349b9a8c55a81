package domain

import (
	"encoding/json"
	"time"
)

// JobKind selects which provider adapter handles a generation request.
type JobKind string

const (
	JobKindImage     JobKind = "image"
	JobKindVideo     JobKind = "video"
	JobKindSpeech    JobKind = "speech"
	JobKindComposite JobKind = "composite"
)

// Valid reports whether the kind is one of the supported categories.
func (k JobKind) Valid() bool {
	switch k {
	case JobKindImage, JobKindVideo, JobKindSpeech, JobKindComposite:
		return true
	}
	return false
}

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job encapsulates the lifecycle of one generation request. ResultURL and
// ErrorMessage are mutually exclusive and only ever set on a terminal
// transition; Progress keeps its last value once the job is terminal.
type Job struct {
	ID           string
	Kind         JobKind
	Status       JobStatus
	Input        json.RawMessage
	Progress     int
	ResultURL    string
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}

// JobUpdate carries a partial mutation applied atomically by the job store.
// Nil fields are left untouched.
type JobUpdate struct {
	Status      *JobStatus
	Progress    *int
	ResultURL   *string
	Error       *string
	CompletedAt *time.Time
}
