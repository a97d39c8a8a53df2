package assets

import (
	"context"
	"fmt"
	"log/slog"
)

// Backend names an asset store implementation.
type Backend string

const (
	BackendFS     Backend = "fs"
	BackendS3     Backend = "s3"
	BackendGCS    Backend = "gcs"
	BackendMemory Backend = "memory"
)

// Config selects and configures a backend.
type Config struct {
	Backend   Backend
	Dir       string // fs
	PublicURL string // fs, s3, gcs, memory
	S3        S3Config
	GCS       GCSConfig
}

// GCSConfig configures a GCSStore.
type GCSConfig struct {
	Bucket    string
	Prefix    string
	PublicURL string
}

// New creates the Uploader described by cfg. An empty backend means "fs".
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Uploader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Backend {
	case "", BackendFS:
		if cfg.Dir == "" {
			return nil, fmt.Errorf("asset directory is required for the %s backend", BackendFS)
		}
		return NewFileStore(cfg.Dir, cfg.PublicURL, WithFileLogger(logger))
	case BackendS3:
		s3cfg := cfg.S3
		if s3cfg.PublicURL == "" {
			s3cfg.PublicURL = cfg.PublicURL
		}
		return NewS3Store(ctx, s3cfg, logger)
	case BackendGCS:
		gcscfg := cfg.GCS
		if gcscfg.PublicURL == "" {
			gcscfg.PublicURL = cfg.PublicURL
		}
		return newGCSUploader(ctx, gcscfg, logger)
	case BackendMemory:
		base := cfg.PublicURL
		if base == "" {
			base = "memory://assets"
		}
		return NewMemoryStore(base), nil
	default:
		return nil, fmt.Errorf("unsupported asset backend: %s", cfg.Backend)
	}
}
