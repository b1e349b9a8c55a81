package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"mediaforge/internal/engine"
)

func TestSubmitSynthesizes(t *testing.T) {
	audio := []byte{0x49, 0x44, 0x33, 0x04}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req speechRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "tts-1-hd" {
			t.Errorf("model = %q, want highest tier", req.Model)
		}
		if req.Voice != "alloy" {
			t.Errorf("voice = %q", req.Voice)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write(audio)
	}))
	defer server.Close()

	client := NewClient(Options{BaseURL: server.URL})
	sub, err := client.Submit(context.Background(), engine.Request{
		JobID: "job-1",
		Input: []byte(`{"text":"hello world"}`),
	}, "sk-test")
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if sub.Mode != engine.ModeSync {
		t.Fatalf("mode = %q, want sync", sub.Mode)
	}
	if sub.Result == nil || !bytes.Equal(sub.Result.Data, audio) {
		t.Fatalf("unexpected artifact %+v", sub.Result)
	}
	if sub.Result.Mime != "audio/mpeg" {
		t.Fatalf("mime = %q", sub.Result.Mime)
	}
}

func TestSubmitDegradedModel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req speechRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "tts-1" {
			t.Errorf("model = %q, want tts-1", req.Model)
		}
		_, _ = w.Write([]byte("mp3"))
	}))
	defer server.Close()

	client := NewClient(Options{BaseURL: server.URL})
	if _, err := client.Submit(context.Background(), engine.Request{
		Input:   []byte(`{"text":"hi"}`),
		Quality: 3,
	}, "sk"); err != nil {
		t.Fatalf("Submit error: %v", err)
	}
}

func TestSubmitErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"type":"server_error","message":"The server is overloaded"}}`))
	}))
	defer server.Close()

	client := NewClient(Options{BaseURL: server.URL})
	_, err := client.Submit(context.Background(), engine.Request{Input: []byte(`{"text":"hi"}`)}, "sk")
	var provErr *engine.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProviderError, got %T", err)
	}
	if got := engine.Classify(err); got != engine.ClassTransientServer {
		t.Fatalf("class = %q, want transient_server", got)
	}
}

func TestSubmitMissingText(t *testing.T) {
	client := NewClient(Options{BaseURL: "http://unused.invalid"})
	_, err := client.Submit(context.Background(), engine.Request{Input: []byte(`{}`)}, "sk")
	var fatal *engine.FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected FatalError, got %v", err)
	}
}
