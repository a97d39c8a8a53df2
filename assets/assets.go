// Package assets holds the remote asset stores that publish staged image
// content to permanent storage.
//
// # Design
//
// Every backend implements Uploader: it receives the bytes of one distinct
// piece of content together with its content hash and returns the permanent
// URL under which the content is served. Objects are addressed by the hex
// digest of their hash, so uploading the same content twice produces the
// same key and the same URL.
//
// Backends:
//   - FileStore: a sharded content-addressable directory with JSON sidecars,
//     optionally served over HTTP.
//   - S3Store: an S3 (or S3-compatible) bucket.
//   - GCSStore: a Google Cloud Storage bucket (build tag "gcp").
//   - MemoryStore: process memory, for tests and dry runs.
//
// ObservedUploader wraps any Uploader and records Prometheus metrics.
//
// # Concurrency
//
// Upload is safe for concurrent use on every backend.
package assets

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrKeyLengthExceeds = errors.New("maximal key length exceeds")
	ErrNotFound         = errors.New("asset with key not found")
	ErrEmptyKey         = errors.New("key cannot be empty")
	ErrInvalidKey       = errors.New("key contains invalid characters")
	ErrEmptyObject      = errors.New("asset payload is empty")
	ErrInvalidHash      = errors.New("asset hash is malformed")
	ErrUnsupported      = errors.New("operation not supported by this asset backend")
)

// Object is one distinct piece of content to publish.
type Object struct {
	Hash        string // "<algorithm>:<hex digest>"
	ContentType string
	Data        []byte
}

// Key returns the storage key of o: the hex digest followed by an extension
// derived from the content type, for example "9f86d0....png".
func (o Object) Key() (string, error) {
	_, digest, ok := strings.Cut(o.Hash, ":")
	if !ok || digest == "" {
		return "", fmt.Errorf("%q: %w", o.Hash, ErrInvalidHash)
	}
	for _, r := range digest {
		if !isHexChar(r) {
			return "", fmt.Errorf("%q: %w", o.Hash, ErrInvalidHash)
		}
	}
	return digest + extensionFor(o.ContentType, o.Data), nil
}

func (o Object) validate() error {
	if len(o.Data) == 0 {
		return ErrEmptyObject
	}
	_, err := o.Key()
	return err
}

// Uploader publishes content and returns its permanent URL.
type Uploader interface {
	Upload(ctx context.Context, obj Object) (string, error)
}

// Deleter is implemented by backends that can remove published content.
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

func extensionFor(contentType string, data []byte) string {
	if contentType != "" {
		if m := mimetype.Lookup(contentType); m != nil {
			return m.Extension()
		}
	}
	if len(data) > 0 {
		return mimetype.Detect(data).Extension()
	}
	return ""
}

func isHexChar(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')
}

// joinURL appends key to base, escaping each path segment of key.
func joinURL(base, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.TrimRight(base, "/") + "/" + strings.Join(segments, "/")
}
