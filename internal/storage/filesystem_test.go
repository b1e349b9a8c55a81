package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileStoreUpload(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, "http://localhost:8080/static")
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}

	url, err := store.Upload(context.Background(), []byte("png-bytes"), "image/png")
	if err != nil {
		t.Fatalf("Upload error: %v", err)
	}
	if !strings.HasPrefix(url, "http://localhost:8080/static/artifacts/") {
		t.Fatalf("url = %q", url)
	}
	if !strings.HasSuffix(url, ".png") {
		t.Fatalf("url = %q, want .png extension", url)
	}

	key := strings.TrimPrefix(url, "http://localhost:8080/static/")
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(key)))
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Fatalf("stored bytes = %q", data)
	}
}

func TestFileStoreUploadFromURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("mp4-bytes"))
	}))
	defer server.Close()

	store, err := NewFileStore(t.TempDir(), "http://localhost:8080/static")
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}

	url, err := store.UploadFromURL(context.Background(), server.URL+"/clip.mp4")
	if err != nil {
		t.Fatalf("UploadFromURL error: %v", err)
	}
	if !strings.HasSuffix(url, ".mp4") {
		t.Fatalf("url = %q, want .mp4 extension", url)
	}
}

func TestFileStoreUploadFromURLDownloadError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	store, err := NewFileStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	if _, err := store.UploadFromURL(context.Background(), server.URL+"/gone.png"); err == nil {
		t.Fatal("expected error")
	}
}

func TestFileStoreRequiresBasePath(t *testing.T) {
	if _, err := NewFileStore("  ", ""); err == nil {
		t.Fatal("expected error for empty base path")
	}
}

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"artifacts/ab/x.png", "artifacts/ab/x.png", false},
		{"/leading/slash.png", "leading/slash.png", false},
		{"./dotted/key.png", "dotted/key.png", false},
		{"../escape.png", "", true},
		{"a/../../escape.png", "", true},
		{"  ", "", true},
	}
	for _, tt := range tests {
		got, err := sanitizeKey(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("sanitizeKey(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("sanitizeKey(%q) error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("sanitizeKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExtensionForMIME(t *testing.T) {
	if got := extensionForMIME("image/jpeg; charset=binary"); got != ".jpg" {
		t.Fatalf("extension = %q, want .jpg", got)
	}
	if got := extensionForMIME("application/x-unknown"); got != "" {
		t.Fatalf("extension = %q, want empty", got)
	}
}
