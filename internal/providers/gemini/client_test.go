package gemini

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mediaforge/internal/engine"
)

func TestSubmitOpensStream(t *testing.T) {
	const streamBody = "data: {\"choices\":[{\"delta\":{\"content\":\"progress: 10%\"}}]}\n"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":streamGenerateContent") {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("alt") != "sse" {
			t.Errorf("alt = %q, want sse", r.URL.Query().Get("alt"))
		}
		if r.URL.Query().Get("key") != "api-key" {
			t.Errorf("key = %q", r.URL.Query().Get("key"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(streamBody))
	}))
	defer server.Close()

	client := NewClient(Options{BaseURL: server.URL, Model: "gemini-2.5-flash"})
	sub, err := client.Submit(context.Background(), engine.Request{
		JobID: "job-1",
		Input: []byte(`{"prompt":"a red fox","aspect_ratio":"16:9"}`),
	}, "api-key")
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if sub.Mode != engine.ModeStream {
		t.Fatalf("mode = %q, want stream", sub.Mode)
	}
	defer sub.Stream.Close()
	raw, err := io.ReadAll(sub.Stream)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if string(raw) != streamBody {
		t.Fatalf("stream body = %q", raw)
	}
}

func TestSubmitErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"status":"RESOURCE_EXHAUSTED","message":"Quota exceeded for requests"}}`))
	}))
	defer server.Close()

	client := NewClient(Options{BaseURL: server.URL})
	_, err := client.Submit(context.Background(), engine.Request{Input: []byte(`{"prompt":"a fox"}`)}, "k")
	if err == nil {
		t.Fatal("expected error")
	}
	var provErr *engine.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProviderError, got %T", err)
	}
	if provErr.Code != "RESOURCE_EXHAUSTED" {
		t.Fatalf("code = %q", provErr.Code)
	}
	if got := engine.Classify(err); got != engine.ClassRateLimited {
		t.Fatalf("class = %q, want rate_limited", got)
	}
}

func TestSubmitMissingPrompt(t *testing.T) {
	client := NewClient(Options{BaseURL: "http://unused.invalid"})
	_, err := client.Submit(context.Background(), engine.Request{Input: []byte(`{"prompt":"  "}`)}, "k")
	var fatal *engine.FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected FatalError, got %v", err)
	}
}

func TestPollNotSupported(t *testing.T) {
	client := NewClient(Options{})
	if _, err := client.PollStatus(context.Background(), "x", "k"); err == nil {
		t.Fatal("expected error")
	}
}

func TestBuildPrompt(t *testing.T) {
	got := buildPrompt(generateInput{Prompt: "a fox", AspectRatio: "16:9", Style: "watercolor"})
	want := "a fox\nAspect ratio: 16:9\nStyle: watercolor"
	if got != want {
		t.Fatalf("prompt = %q, want %q", got, want)
	}
}
