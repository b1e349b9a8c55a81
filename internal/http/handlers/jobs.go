package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"mediaforge/internal/domain"
	"mediaforge/internal/engine"
)

type createJobRequest struct {
	Kind  string          `json:"kind" validate:"required,oneof=image video speech composite"`
	Input json.RawMessage `json:"input" validate:"required"`
}

type jobResponse struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	Status      string     `json:"status"`
	Progress    int        `json:"progress"`
	ResultURL   string     `json:"result_url,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func toJobResponse(job *domain.Job) jobResponse {
	return jobResponse{
		ID:          job.ID,
		Kind:        string(job.Kind),
		Status:      string(job.Status),
		Progress:    job.Progress,
		ResultURL:   job.ResultURL,
		Error:       job.ErrorMessage,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
		CompletedAt: job.CompletedAt,
	}
}

// CreateJob accepts a generation request, persists it as pending and hands
// the id to the dispatch queue. The response is 202: generation happens in
// the worker and callers follow up via GetJob.
func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		a.error(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	job, err := a.enqueue(r.Context(), domain.JobKind(req.Kind), req.Input)
	if err != nil {
		a.Logger.Error().Err(err).Str("kind", req.Kind).Msg("http: enqueue job failed")
		a.error(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	a.json(w, http.StatusAccepted, toJobResponse(job))
}

// GetJob returns the current job record. While the job is processing the
// redis progress mirror may be ahead of the row; the larger value wins.
func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := a.Repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", id).Msg("http: fetch job failed")
		a.error(w, http.StatusInternalServerError, "failed to fetch job")
		return
	}

	if job.Status == domain.JobStatusProcessing {
		if mirrored, ok := a.Progress.Get(r.Context(), id); ok && mirrored > job.Progress {
			job.Progress = mirrored
		}
	}
	a.json(w, http.StatusOK, toJobResponse(job))
}

type batchItemRequest struct {
	Ref   string          `json:"ref"`
	Kind  string          `json:"kind" validate:"required,oneof=image video speech composite"`
	Input json.RawMessage `json:"input" validate:"required"`
}

type batchRequest struct {
	Items []batchItemRequest `json:"items" validate:"required,min=1,max=100,dive"`
}

type batchItemResponse struct {
	Ref     string `json:"ref,omitempty"`
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// CreateBatch enqueues a set of jobs with bounded concurrency. Items are
// independent: one failing to enqueue does not affect the rest, and results
// come back in request order.
func (a *App) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		a.error(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	concurrency := engine.DefaultBatchConcurrency
	if allVideo(req.Items) {
		concurrency = engine.DefaultVideoBatchConcurrency
	}

	results := engine.RunBatch(r.Context(), req.Items, concurrency, func(ctx context.Context, item batchItemRequest) (*domain.Job, error) {
		return a.enqueue(ctx, domain.JobKind(item.Kind), item.Input)
	})

	out := make([]batchItemResponse, len(results))
	for i, res := range results {
		out[i].Ref = req.Items[i].Ref
		if res.Ok() {
			out[i].ID = res.Value.ID
			out[i].Success = true
			continue
		}
		out[i].Error = res.Err.Error()
	}
	a.json(w, http.StatusAccepted, map[string]any{"items": out})
}

func allVideo(items []batchItemRequest) bool {
	for _, item := range items {
		if domain.JobKind(item.Kind) != domain.JobKindVideo {
			return false
		}
	}
	return len(items) > 0
}

func (a *App) enqueue(ctx context.Context, kind domain.JobKind, input json.RawMessage) (*domain.Job, error) {
	now := time.Now().UTC()
	job := &domain.Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    domain.JobStatusPending,
		Input:     input,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.Repo.Create(ctx, job); err != nil {
		return nil, err
	}
	if a.Queue != nil {
		if err := a.Queue.Publish(ctx, job.ID); err != nil {
			// The row is already pending; the worker's Postgres claim loop
			// picks it up even if the broker publish is lost.
			a.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("http: publish to dispatch queue failed")
		}
	}
	return job, nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		first := verrs[0]
		switch first.Tag() {
		case "required":
			return "missing required field: " + fieldName(first)
		case "oneof":
			return "invalid value for field: " + fieldName(first)
		case "min", "max":
			return "field out of range: " + fieldName(first)
		}
		return "invalid field: " + fieldName(first)
	}
	return "invalid request"
}

func fieldName(fe validator.FieldError) string {
	switch fe.Field() {
	case "Kind":
		return "kind"
	case "Input":
		return "input"
	case "Items":
		return "items"
	}
	return fe.Field()
}
