package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Options configures the S3-compatible blob store.
type S3Options struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	UseSSL     bool
	PublicBase string
}

// S3Store re-hosts artifacts in an S3-compatible bucket.
type S3Store struct {
	client     *minio.Client
	bucket     string
	publicBase string
}

// NewS3Store connects to the object storage endpoint.
func NewS3Store(opts S3Options) (*S3Store, error) {
	if strings.TrimSpace(opts.Endpoint) == "" {
		return nil, fmt.Errorf("storage: s3 endpoint is required")
	}
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, fmt.Errorf("storage: s3 bucket is required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: create s3 client: %w", err)
	}
	publicBase := strings.TrimRight(opts.PublicBase, "/")
	if publicBase == "" {
		scheme := "http"
		if opts.UseSSL {
			scheme = "https"
		}
		publicBase = fmt.Sprintf("%s://%s/%s", scheme, opts.Endpoint, opts.Bucket)
	}
	return &S3Store{
		client:     client,
		bucket:     opts.Bucket,
		publicBase: publicBase,
	}, nil
}

// Upload stores the artifact bytes under a fresh key and returns its public URL.
func (s *S3Store) Upload(ctx context.Context, data []byte, mime string) (string, error) {
	if s == nil || s.client == nil {
		return "", fmt.Errorf("storage: s3 client not initialized")
	}
	if mime == "" {
		mime = "application/octet-stream"
	}
	key := objectKey(mime)
	_, err := s.client.PutObject(
		ctx,
		s.bucket,
		key,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: mime},
	)
	if err != nil {
		return "", fmt.Errorf("storage: s3 put object: %w", err)
	}
	return s.publicBase + "/" + key, nil
}

// UploadFromURL downloads a provider-hosted artifact and re-hosts it in the bucket.
func (s *S3Store) UploadFromURL(ctx context.Context, remoteURL string) (string, error) {
	data, mime, err := fetch(ctx, remoteURL)
	if err != nil {
		return "", err
	}
	return s.Upload(ctx, data, mime)
}
