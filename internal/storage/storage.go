// Package storage provides the blob store implementations used to re-host
// generated artifacts: an S3-compatible store for deployments and a
// filesystem store for development and tests. Both satisfy engine.BlobStore.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxArtifactBytes = 512 << 20

var downloadClient = &http.Client{Timeout: 120 * time.Second}

// fetch downloads a provider-hosted artifact for re-hosting.
func fetch(ctx context.Context, remoteURL string) ([]byte, string, error) {
	parsed, err := url.Parse(strings.TrimSpace(remoteURL))
	if err != nil || parsed.Scheme == "" {
		return nil, "", fmt.Errorf("storage: invalid artifact url: %s", remoteURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("storage: build download request: %w", err)
	}
	resp, err := downloadClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("storage: download artifact: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("storage: download status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactBytes))
	if err != nil {
		return nil, "", fmt.Errorf("storage: read artifact: %w", err)
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = mimeForExtension(path.Ext(parsed.Path))
	}
	return data, mime, nil
}

// objectKey builds a collision-free key for a new artifact.
func objectKey(mime string) string {
	ext := extensionForMIME(mime)
	if ext == "" {
		ext = ".bin"
	}
	id := uuid.NewString()
	return fmt.Sprintf("artifacts/%s/%s%s", id[:2], id, ext)
}

func extensionForMIME(mime string) string {
	if idx := strings.IndexByte(mime, ';'); idx >= 0 {
		mime = mime[:idx]
	}
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "video/quicktime":
		return ".mov"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	default:
		return ""
	}
}

func mimeForExtension(ext string) string {
	switch strings.ToLower(ext) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}
