package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"mediaforge/internal/engine"
	"mediaforge/internal/infra"
)

func TestHealthReportsCollaborators(t *testing.T) {
	pools := map[string]*engine.Pool{
		"wan": engine.NewPool(engine.PoolOptions{Provider: "wan", Secrets: []string{"k1", "k2"}}),
	}
	app := NewApp(newMemRepo(), &memQueue{}, nil, pools, infra.NewLogger("test", "api"))

	req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	rec := httptest.NewRecorder()
	app.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Status               string `json:"status"`
		Queue                bool   `json:"queue"`
		CredentialsAvailable int    `json:"credentials_available"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ok" || !resp.Queue || resp.CredentialsAvailable != 2 {
		t.Fatalf("response = %+v", resp)
	}
}

func TestHealthWithoutQueue(t *testing.T) {
	app := testApp(newMemRepo(), nil)

	rec := httptest.NewRecorder()
	app.Health(rec, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))

	var resp struct {
		Queue bool `json:"queue"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Queue {
		t.Fatal("queue should report false when no broker is wired")
	}
}
