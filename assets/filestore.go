package assets

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

const (
	tempDirName    = ".tmp"
	objectsDirName = "objects"
	metaFileName   = "meta.json"
	dataFileName   = "data"

	maxKeyLength = 1024
)

// FileStore publishes objects into a sharded directory tree. Each key maps
// to a directory holding the data file and a JSON sidecar; the key itself is
// hashed or digest-sharded so no directory grows unbounded and no key can
// escape the root. Published URLs are the public base URL joined with the
// key. ServeHTTP serves exactly those URLs.
//
//	fs, err := assets.NewFileStore("/srv/assets", "https://cdn.example.com/a")
//	url, err := fs.Upload(ctx, assets.Object{Hash: h, ContentType: "image/png", Data: b})
type FileStore struct {
	root      string
	publicURL string
	opts      FileOptions
	log       *slog.Logger
}

// NewFileStore creates the store layout under root. publicURL is the base
// under which keys are reachable.
func NewFileStore(root, publicURL string, opts ...FileOption) (*FileStore, error) {
	options := defaultFileOpts
	for _, opt := range opts {
		opt(&options)
	}
	if options.ShardFunc == nil {
		options.ShardFunc = DigestShardFunc
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if publicURL == "" {
		publicURL = "file://" + filepath.ToSlash(filepath.Clean(root))
	}

	root = filepath.Clean(root)
	if err := os.MkdirAll(filepath.Join(root, objectsDirName), options.DirMode); err != nil {
		return nil, fmt.Errorf("creating objects directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(root, tempDirName), options.DirMode); err != nil {
		return nil, fmt.Errorf("creating temp directory: %w", err)
	}

	return &FileStore{
		root:      root,
		publicURL: publicURL,
		opts:      options,
		log:       logger.With("component", "assets", "backend", "fs"),
	}, nil
}

// Upload stores obj under its content key and returns its URL. A key that
// already holds data is never written again, even when obj carries other
// bytes for the same hash, so a published URL always serves what it served
// first.
func (fs *FileStore) Upload(ctx context.Context, obj Object) (string, error) {
	if err := obj.validate(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key, _ := obj.Key()

	exists, err := fs.Exists(ctx, key)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", obj.Hash, err)
	}
	if exists {
		if _, err := fs.Stat(ctx, key); errors.Is(err, ErrNotFound) {
			if err := fs.restoreMeta(key, obj.Hash); err != nil {
				return "", fmt.Errorf("upload %s: %w", obj.Hash, err)
			}
		}
		fs.log.Debug("asset already published", "key", key, "hash", obj.Hash)
		return fs.URL(key), nil
	}

	committed, err := fs.put(key, obj.Hash, obj.ContentType, bytes.NewReader(obj.Data))
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", obj.Hash, err)
	}
	if committed {
		fs.log.Debug("asset published", "key", key, "hash", obj.Hash, "size", len(obj.Data))
	}
	return fs.URL(key), nil
}

func (fs *FileStore) put(key, contentHash, contentType string, r io.Reader) (bool, error) {
	p, err := fs.newPending()
	if err != nil {
		return false, err
	}
	defer p.discard()

	if _, err := io.Copy(p, r); err != nil {
		return false, err
	}
	return p.commitAs(key, contentHash, contentType)
}

// restoreMeta rebuilds the sidecar of a data file whose writer died before
// writing it.
func (fs *FileStore) restoreMeta(key, contentHash string) error {
	storagePath := fs.pathFor(key)
	f, err := os.Open(filepath.Join(storagePath, dataFileName))
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}
	head = head[:n]
	h := sha256.New()
	_, _ = h.Write(head)
	rest, err := io.Copy(h, f)
	if err != nil {
		return err
	}
	size := int64(n) + rest

	info, err := f.Stat()
	if err != nil {
		return err
	}
	fs.log.Warn("restoring missing asset metadata", "key", key)
	return fs.writeMeta(filepath.Join(storagePath, metaFileName), &Meta{
		Key:         key,
		Hash:        contentHash,
		Size:        size,
		Sha256:      hex.EncodeToString(h.Sum(nil)),
		ContentType: mimetype.Detect(head).String(),
		CreatedAt:   info.ModTime(),
		ModifiedAt:  info.ModTime(),
	})
}

// URL returns the public URL of key.
func (fs *FileStore) URL(key string) string {
	return joinURL(fs.publicURL, key)
}

// Get opens the data of key.
func (fs *FileStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(fs.pathFor(key), dataFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("asset %q: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("get asset %q: %w", key, err)
	}
	return f, nil
}

// Stat reads the sidecar of key.
func (fs *FileStore) Stat(ctx context.Context, key string) (*Meta, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	meta, err := fs.readMeta(filepath.Join(fs.pathFor(key), metaFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("asset %q: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("reading metadata for %q: %w", key, err)
	}
	return meta, nil
}

// Exists reports whether the data of key is present.
func (fs *FileStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	_, err := os.Stat(filepath.Join(fs.pathFor(key), dataFileName))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes key and any shard directories left empty. Deleting a
// missing key is not an error.
func (fs *FileStore) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	storagePath := fs.pathFor(key)
	if err := os.RemoveAll(storagePath); err != nil {
		return fmt.Errorf("delete asset %q: %w", key, err)
	}
	fs.cleanupEmptyDirs(storagePath)
	return nil
}

// ServeHTTP serves GET and HEAD requests for keys relative to the handler's
// mount point, so a store mounted at the public base URL serves the URLs
// returned by Upload.
func (fs *FileStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	key := strings.TrimPrefix(r.URL.Path, "/")
	meta, err := fs.Stat(r.Context(), key)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	rc, err := fs.Get(r.Context(), key)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", meta.ContentType)
	w.Header().Set("ETag", `"`+meta.Sha256+`"`)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if f, ok := rc.(io.ReadSeeker); ok {
		http.ServeContent(w, r, "", meta.ModifiedAt, f)
		return
	}
	_, _ = io.Copy(w, rc)
}

// ListResult iterates over objects in a FileStore.
//
//	it := fs.List(ctx, "")
//	defer it.Close()
//	for it.Next() {
//		meta := it.Meta()
//	}
//	if err := it.Err(); err != nil {
//		...
//	}
type ListResult struct {
	// The walk goroutine must observe cancellation for the iterator's
	// whole lifetime, not only at creation.
	ctx    context.Context
	cancel context.CancelFunc

	metaChan chan *Meta
	errChan  chan error

	current *Meta
	err     error
	closed  bool
}

// Next advances to the next object.
func (lr *ListResult) Next() bool {
	if lr.closed || lr.err != nil {
		return false
	}
	select {
	case meta, ok := <-lr.metaChan:
		if !ok {
			return false
		}
		lr.current = meta
		return true
	case err := <-lr.errChan:
		lr.err = err
		return false
	case <-lr.ctx.Done():
		lr.err = lr.ctx.Err()
		return false
	}
}

// Meta returns the current object's metadata.
func (lr *ListResult) Meta() *Meta { return lr.current }

// Key returns the current object's key.
func (lr *ListResult) Key() string {
	if lr.current == nil {
		return ""
	}
	return lr.current.Key
}

// Err returns the error that stopped iteration, if any.
func (lr *ListResult) Err() error { return lr.err }

// Close stops the iteration. It is safe to call multiple times.
func (lr *ListResult) Close() error {
	if lr.closed {
		return nil
	}
	lr.closed = true
	if lr.cancel != nil {
		lr.cancel()
	}
	return nil
}

// List iterates over all objects whose key starts with prefix. The
// iterator must be closed.
func (fs *FileStore) List(ctx context.Context, prefix string) *ListResult {
	ctx, cancel := context.WithCancel(ctx)
	result := &ListResult{
		ctx:      ctx,
		cancel:   cancel,
		metaChan: make(chan *Meta, 10),
		errChan:  make(chan error, 1),
	}
	go fs.walk(ctx, prefix, result.metaChan, result.errChan)
	return result
}

func (fs *FileStore) walk(ctx context.Context, prefix string, metaChan chan<- *Meta, errChan chan<- error) {
	defer close(metaChan)
	defer close(errChan)

	err := filepath.WalkDir(filepath.Join(fs.root, objectsDirName), func(path string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != metaFileName {
			return nil
		}

		meta, err := fs.readMeta(path)
		if err != nil {
			fs.log.Warn("skipping unreadable asset metadata", "path", path, "error", err)
			return nil
		}
		if prefix != "" && !strings.HasPrefix(meta.Key, prefix) {
			return nil
		}

		select {
		case metaChan <- meta:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})

	if err != nil && !errors.Is(err, context.Canceled) {
		select {
		case errChan <- err:
		case <-ctx.Done():
		}
	}
}

// pathFor is the directory holding key's data and sidecar.
func (fs *FileStore) pathFor(key string) string {
	return filepath.Join(fs.root, objectsDirName, fs.opts.ShardFunc(key))
}

func (fs *FileStore) readMeta(path string) (*Meta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var meta Meta
	if err := json.NewDecoder(f).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	return &meta, nil
}

// cleanupEmptyDirs walks up from path removing empty shard directories
// until it reaches the objects directory or a directory that still has
// entries.
func (fs *FileStore) cleanupEmptyDirs(path string) {
	objectsDir := filepath.Join(fs.root, objectsDirName)
	parent := filepath.Dir(path)

	for parent != objectsDir && parent != fs.root && parent != "." && parent != "/" {
		entries, err := os.ReadDir(parent)
		if err != nil || len(entries) > 0 {
			break
		}
		if err := os.Remove(parent); err != nil {
			break
		}
		parent = filepath.Dir(parent)
	}
}

// PruneTemp removes temp files older than maxAge left behind by crashed
// writers.
func (fs *FileStore) PruneTemp(maxAge time.Duration) (int, error) {
	dir := filepath.Join(fs.root, tempDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

func validateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if len(key) > maxKeyLength {
		return ErrKeyLengthExceeds
	}
	if filepath.IsAbs(key) || strings.HasPrefix(key, "/") {
		return fmt.Errorf("absolute paths are not allowed: %w", ErrInvalidKey)
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("relative path traversal not allowed: %w", ErrInvalidKey)
	}
	if strings.Contains(key, "\x00") {
		return fmt.Errorf("null bytes not allowed: %w", ErrInvalidKey)
	}
	for i, r := range key {
		if !isValidKeyChar(r) {
			return fmt.Errorf("invalid character %q at position %d: %w", r, i, ErrInvalidKey)
		}
	}
	if strings.HasSuffix(key, "/") {
		return fmt.Errorf("key cannot end with slash: %w", ErrInvalidKey)
	}
	if strings.Contains(key, "//") {
		return fmt.Errorf("consecutive slashes not allowed: %w", ErrInvalidKey)
	}
	if cleaned := filepath.ToSlash(filepath.Clean(key)); cleaned != key {
		return fmt.Errorf("key is not in canonical form: %w", ErrInvalidKey)
	}
	return nil
}

// isValidKeyChar allows ASCII letters, digits, '-', '_', '.' and '/'.
func isValidKeyChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
		r == '-' || r == '_' || r == '.' || r == '/'
}
