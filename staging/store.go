// Package staging provides the session-scoped, content-addressable store
// that holds image content locally until it is published.
//
// # Design
//
// Every piece of content is keyed by a 256-bit digest of its bytes. Staging
// the same bytes twice in one session returns the same handle and creates no
// new temporary resource; the document may reference that handle any number
// of times. Each entry is backed by a file in a private session directory,
// which plays the role of a local object URL: it can be previewed without a
// network round-trip and must be freed explicitly.
//
// A Store belongs to exactly one editing session. There is no package-level
// store, so concurrent sessions never see each other's handles.
//
// # Usage
//
//	store, err := staging.New(os.TempDir())
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	staged, err := store.Stage(pngBytes)
//	ref := document.Local(staged.Handle)
//
//	// after the content is durably uploaded, or when the draft is dropped
//	_ = store.Release(staged.Handle)
//
// # Concurrency
//
// All methods are safe for concurrent use. Stage is a synchronous map update
// guarded by a mutex and never calls back into user code while holding it,
// so it may be invoked from nested event callbacks. The release hook runs
// after the lock is dropped.
//
// # Errors
//
// Stage reports ErrEmptyContent for zero-length input and
// ErrUnreadableContent when the content cannot be read or is not an image.
// Release never fails for unknown or already released handles.
package staging

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/alexjoedt/docpub/internal/imaging"
)

var (
	ErrEmptyContent      = errors.New("staged content is empty")
	ErrUnreadableContent = errors.New("staged content is unreadable")
	ErrUnknownHandle     = errors.New("unknown staging handle")
	ErrClosed            = errors.New("staging store is closed")
)

// Store maps content hashes to staged entries for one editing session.
type Store struct {
	dir  string
	opts Options
	log  *slog.Logger

	mu      sync.Mutex
	entries map[ContentHash]*Entry // authoritative: one entry per hash
	handles map[string]ContentHash // reverse lookup for handles in entries
	closed  bool
}

// New creates a Store with a fresh session directory under root.
func New(root string, opts ...OptionFunc) (*Store, error) {
	// Copy the defaults so options never mutate the package value.
	options := defaultOpts
	for _, opt := range opts {
		opt(&options)
	}
	if options.Algorithm == "" {
		options.Algorithm = SHA256
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	root = filepath.Clean(root)
	if err := os.MkdirAll(root, options.DirMode); err != nil {
		return nil, fmt.Errorf("creating staging root: %w", err)
	}
	dir, err := os.MkdirTemp(root, "session-*")
	if err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}
	if err := os.Chmod(dir, options.DirMode); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("securing session directory: %w", err)
	}

	return &Store{
		dir:     dir,
		opts:    options,
		log:     logger.With("component", "staging", "dir", dir),
		entries: make(map[ContentHash]*Entry),
		handles: make(map[string]ContentHash),
	}, nil
}

// Dir returns the session directory.
func (s *Store) Dir() string { return s.dir }

// Algorithm returns the configured hash algorithm.
func (s *Store) Algorithm() Algorithm { return s.opts.Algorithm }

// ComputeHash digests data with the store's algorithm.
func (s *Store) ComputeHash(data []byte) ContentHash {
	return s.opts.Algorithm.Sum(data)
}

// Stage registers data and returns its handle. If the same bytes were
// already staged in this session the existing handle is returned and no
// temporary resource is created.
func (s *Store) Stage(data []byte) (Staged, error) {
	if len(data) == 0 {
		return Staged{}, ErrEmptyContent
	}
	hash := s.ComputeHash(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Staged{}, ErrClosed
	}
	if e, ok := s.entries[hash]; ok {
		return Staged{Handle: e.Handle, Hash: hash, Reused: true}, nil
	}

	e, err := s.materialize(hash, data)
	if err != nil {
		return Staged{}, err
	}
	s.entries[hash] = e
	s.handles[e.Handle] = hash
	s.log.Debug("staged content", "hash", hash, "handle", e.Handle, "size", e.Size, "type", e.ContentType)
	return Staged{Handle: e.Handle, Hash: hash}, nil
}

// StageReader reads r to the end and stages the result. A read failure is
// reported as ErrUnreadableContent.
func (s *Store) StageReader(r io.Reader) (Staged, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Staged{}, fmt.Errorf("%w: %v", ErrUnreadableContent, err)
	}
	return s.Stage(data)
}

// materialize sniffs, optionally downscales and writes data. Caller holds mu.
func (s *Store) materialize(hash ContentHash, data []byte) (*Entry, error) {
	contentType := mimetype.Detect(data).String()
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("%w: detected %s", ErrUnreadableContent, contentType)
	}

	e := &Entry{Hash: hash, ContentType: contentType}
	stored := data
	if cfg, _, err := imaging.Config(data); err == nil {
		e.Width, e.Height = cfg.Width, cfg.Height
	}
	if s.opts.MaxDimension > 0 {
		res, err := imaging.Downscale(data, contentType, s.opts.MaxDimension)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreadableContent, err)
		}
		stored = res.Data
		e.ContentType = res.ContentType
		e.Width, e.Height, e.Scaled = res.Width, res.Height, res.Scaled
	}

	w, err := newTempWriter(s.dir, s.opts.Algorithm)
	if err != nil {
		return nil, err
	}
	defer w.discard()

	if _, err := io.Copy(w, bytes.NewReader(stored)); err != nil {
		return nil, fmt.Errorf("writing staged content: %w", err)
	}
	if !e.Scaled && hex.EncodeToString(w.digest()) != hash.Hex() {
		return nil, fmt.Errorf("%w: stored digest does not match %s", ErrUnreadableContent, hash)
	}

	e.Handle = newHandle()
	e.path = filepath.Join(s.dir, e.Handle)
	e.Size = w.size
	e.CreatedAt = time.Now()
	if err := w.commit(e.path, s.opts.FileMode); err != nil {
		return nil, err
	}
	return e, nil
}

// Release frees the temporary resource behind handle. Releasing an unknown
// or already released handle is a no-op.
func (s *Store) Release(handle string) error {
	s.mu.Lock()
	hash, ok := s.handles[handle]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	e := s.entries[hash]
	delete(s.handles, handle)
	delete(s.entries, hash)
	s.mu.Unlock()

	return s.free(e)
}

func (s *Store) free(e *Entry) error {
	err := os.Remove(e.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("releasing staged file", "handle", e.Handle, "error", err)
		err = fmt.Errorf("release %s: %w", e.Handle, err)
	} else {
		err = nil
		s.log.Debug("released staged content", "hash", e.Hash, "handle", e.Handle)
	}
	if s.opts.OnRelease != nil {
		s.opts.OnRelease(*e)
	}
	return err
}

// HashOf returns the content hash behind handle.
func (s *Store) HashOf(handle string) (ContentHash, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash, ok := s.handles[handle]
	return hash, ok
}

// Entry returns the entry registered for hash.
func (s *Store) Entry(hash ContentHash) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[hash]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Lookup returns the entry registered for handle.
func (s *Store) Lookup(handle string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash, ok := s.handles[handle]
	if !ok {
		return Entry{}, false
	}
	return *s.entries[hash], true
}

// Load reads the staged bytes behind handle. It does not change any state.
func (s *Store) Load(handle string) ([]byte, string, error) {
	e, ok := s.Lookup(handle)
	if !ok || !validHandle(handle) {
		return nil, "", fmt.Errorf("handle %q: %w", handle, ErrUnknownHandle)
	}
	data, err := os.ReadFile(e.path)
	if err != nil {
		return nil, "", fmt.Errorf("reading staged %s: %w", handle, err)
	}
	return data, e.ContentType, nil
}

// Entries returns all live entries ordered by creation time.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b Entry) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Handle, b.Handle)
	})
	return out
}

// Len returns the number of live entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close releases every live entry and removes the session directory.
// Further Stage calls fail with ErrClosed. Close is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	live := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		live = append(live, e)
	}
	clear(s.entries)
	clear(s.handles)
	s.mu.Unlock()

	var errs []error
	for _, e := range live {
		if err := s.free(e); err != nil {
			errs = append(errs, err)
		}
	}
	if err := os.RemoveAll(s.dir); err != nil {
		errs = append(errs, fmt.Errorf("removing session directory: %w", err))
	}
	return errors.Join(errs...)
}
