//go:build !gcp

package assets

import (
	"context"
	"errors"
	"log/slog"
)

func newGCSUploader(context.Context, GCSConfig, *slog.Logger) (Uploader, error) {
	return nil, errors.New("GCS storage is not enabled in this build (use -tags gcp)")
}
