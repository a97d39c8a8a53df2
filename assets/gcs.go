//go:build gcp

package assets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/storage"
)

// GCSStore publishes objects to a Google Cloud Storage bucket.
type GCSStore struct {
	client    *storage.Client
	bucket    string
	prefix    string
	publicURL string
	log       *slog.Logger
}

// NewGCSStore creates a store using application default credentials.
func NewGCSStore(ctx context.Context, cfg GCSConfig, logger *slog.Logger) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	publicURL := cfg.PublicURL
	if publicURL == "" {
		publicURL = "https://storage.googleapis.com/" + cfg.Bucket
	}
	return &GCSStore{
		client:    client,
		bucket:    cfg.Bucket,
		prefix:    cfg.Prefix,
		publicURL: publicURL,
		log:       logger.With("component", "assets", "backend", "gcs", "bucket", cfg.Bucket),
	}, nil
}

func (s *GCSStore) Upload(ctx context.Context, obj Object) (string, error) {
	if err := obj.validate(); err != nil {
		return "", err
	}
	key, _ := obj.Key()
	objectPath := s.prefix + key
	handle := s.client.Bucket(s.bucket).Object(objectPath)

	if _, err := handle.Attrs(ctx); err == nil {
		return joinURL(s.publicURL, objectPath), nil
	} else if !errors.Is(err, storage.ErrObjectNotExist) {
		return "", fmt.Errorf("gcs attrs %s: %w", objectPath, err)
	}

	w := handle.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = obj.ContentType
	w.CacheControl = "public, max-age=31536000, immutable"
	w.Metadata = map[string]string{"content-hash": obj.Hash}
	if _, err := w.Write(obj.Data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs write %s: %w", objectPath, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs close %s: %w", objectPath, err)
	}
	s.log.Debug("asset published", "key", objectPath, "hash", obj.Hash, "size", len(obj.Data))
	return joinURL(s.publicURL, objectPath), nil
}

func (s *GCSStore) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(s.prefix + key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs delete %s: %w", key, err)
	}
	return nil
}

func newGCSUploader(ctx context.Context, cfg GCSConfig, logger *slog.Logger) (Uploader, error) {
	return NewGCSStore(ctx, cfg, logger)
}
