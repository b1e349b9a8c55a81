package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"mediaforge/internal/domain"
	"mediaforge/internal/engine"
	"mediaforge/internal/infra"
)

type memRepo struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job

	createErr error
}

func newMemRepo() *memRepo {
	return &memRepo{jobs: map[string]*domain.Job{}}
}

func (r *memRepo) Create(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	clone := *job
	r.jobs[job.ID] = &clone
	return nil
}

func (r *memRepo) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *job
	return &clone, nil
}

func (r *memRepo) Update(ctx context.Context, jobID string, update domain.JobUpdate) error {
	return nil
}

type memQueue struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (q *memQueue) Publish(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.published = append(q.published, jobID)
	return nil
}

func testApp(repo *memRepo, queue Publisher) *App {
	return NewApp(repo, queue, nil, nil, infra.NewLogger("test", "api"))
}

func TestCreateJobAccepted(t *testing.T) {
	repo := newMemRepo()
	queue := &memQueue{}
	app := testApp(repo, queue)

	body := bytes.NewBufferString(`{"kind":"image","input":{"prompt":"a red fox"}}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", body)
	rec := httptest.NewRecorder()
	app.CreateJob(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp jobResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID == "" || resp.Status != "pending" || resp.Kind != "image" {
		t.Fatalf("response = %+v", resp)
	}
	if _, err := repo.GetByID(context.Background(), resp.ID); err != nil {
		t.Fatalf("job not persisted: %v", err)
	}
	if len(queue.published) != 1 || queue.published[0] != resp.ID {
		t.Fatalf("published = %v", queue.published)
	}
}

func TestCreateJobValidation(t *testing.T) {
	app := testApp(newMemRepo(), nil)

	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"missing kind", `{"input":{"prompt":"x"}}`},
		{"unknown kind", `{"kind":"hologram","input":{"prompt":"x"}}`},
		{"missing input", `{"kind":"image"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()
			app.CreateJob(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestCreateJobPublishFailureStillAccepts(t *testing.T) {
	repo := newMemRepo()
	queue := &memQueue{err: errors.New("broker down")}
	app := testApp(repo, queue)

	body := bytes.NewBufferString(`{"kind":"speech","input":{"text":"hello"}}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", body)
	rec := httptest.NewRecorder()
	app.CreateJob(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestGetJobNotFound(t *testing.T) {
	app := testApp(newMemRepo(), nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/nope", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "nope")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rec := httptest.NewRecorder()
	app.GetJob(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGetJobReturnsRecord(t *testing.T) {
	repo := newMemRepo()
	app := testApp(repo, nil)

	job := &domain.Job{ID: "job-1", Kind: domain.JobKindVideo, Status: domain.JobStatusProcessing, Progress: 40}
	if err := repo.Create(context.Background(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "job-1")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rec := httptest.NewRecorder()
	app.GetJob(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp jobResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "processing" || resp.Progress != 40 {
		t.Fatalf("response = %+v", resp)
	}
}

func TestCreateBatchPreservesOrder(t *testing.T) {
	repo := newMemRepo()
	app := testApp(repo, nil)

	items := `{"items":[
		{"ref":"a","kind":"image","input":{"prompt":"one"}},
		{"ref":"b","kind":"video","input":{"prompt":"two"}},
		{"ref":"c","kind":"speech","input":{"text":"three"}}
	]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/batch", bytes.NewBufferString(items))
	rec := httptest.NewRecorder()
	app.CreateBatch(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Items []batchItemResponse `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Items) != 3 {
		t.Fatalf("items = %d", len(resp.Items))
	}
	for i, ref := range []string{"a", "b", "c"} {
		if resp.Items[i].Ref != ref {
			t.Fatalf("item %d ref = %q, want %q", i, resp.Items[i].Ref, ref)
		}
		if !resp.Items[i].Success || resp.Items[i].ID == "" {
			t.Fatalf("item %d = %+v", i, resp.Items[i])
		}
	}
}

func TestCreateBatchPartialFailure(t *testing.T) {
	repo := newMemRepo()
	repo.createErr = fmt.Errorf("insert failed")
	app := testApp(repo, nil)

	items := `{"items":[{"ref":"a","kind":"image","input":{"prompt":"one"}}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/batch", bytes.NewBufferString(items))
	rec := httptest.NewRecorder()
	app.CreateBatch(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Items []batchItemResponse `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Items[0].Success || resp.Items[0].Error == "" {
		t.Fatalf("item = %+v", resp.Items[0])
	}
}

func TestCreateBatchRejectsEmpty(t *testing.T) {
	app := testApp(newMemRepo(), nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/batch", bytes.NewBufferString(`{"items":[]}`))
	rec := httptest.NewRecorder()
	app.CreateBatch(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestProvidersSortedByName(t *testing.T) {
	pools := map[string]*engine.Pool{
		"wan":    engine.NewPool(engine.PoolOptions{Provider: "wan", Secrets: []string{"k1", "k2"}}),
		"gemini": engine.NewPool(engine.PoolOptions{Provider: "gemini", Secrets: []string{"k3"}}),
	}
	app := NewApp(newMemRepo(), nil, nil, pools, infra.NewLogger("test", "api"))

	req := httptest.NewRequest(http.MethodGet, "/v1/providers", nil)
	rec := httptest.NewRecorder()
	app.Providers(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Providers []engine.PoolStatus `json:"providers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Providers) != 2 {
		t.Fatalf("providers = %+v", resp.Providers)
	}
	if resp.Providers[0].Provider != "gemini" || resp.Providers[1].Provider != "wan" {
		t.Fatalf("order = %+v", resp.Providers)
	}
	if resp.Providers[1].Total != 2 || resp.Providers[1].Available != 2 {
		t.Fatalf("wan status = %+v", resp.Providers[1])
	}
}
