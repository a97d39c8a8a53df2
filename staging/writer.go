package staging

import (
	"errors"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"sync"
)

var errWriterClosed = errors.New("staging writer is closed")

// tempWriter materializes a staged entry. Bytes go to a temporary file next
// to the final location and are renamed into place on commit, so a handle's
// file either holds the complete content or does not exist.
type tempWriter struct {
	tmpFile *os.File
	tmpPath string

	// The stored digest is computed while writing so the committed file
	// can be checked against what the caller handed in without a re-read.
	hasher hash.Hash
	size   int64

	mu     sync.Mutex
	closed bool
	err    error // sticky
}

func newTempWriter(dir string, algo Algorithm) (*tempWriter, error) {
	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	return &tempWriter{
		tmpFile: f,
		tmpPath: f.Name(),
		hasher:  algo.new(),
	}, nil
}

func (w *tempWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, errWriterClosed
	}
	if w.err != nil {
		return 0, w.err
	}

	n, err := w.tmpFile.Write(p)
	if err != nil {
		w.err = err
		return n, err
	}
	_, _ = w.hasher.Write(p[:n])
	w.size += int64(n)
	return n, nil
}

// digest returns the raw digest of everything written so far.
func (w *tempWriter) digest() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hasher.Sum(nil)
}

// commit closes the temp file and renames it to path with the given mode.
func (w *tempWriter) commit(path string, mode os.FileMode) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errWriterClosed
	}
	if w.err != nil {
		return w.err
	}
	w.closed = true

	defer func() {
		if w.err != nil {
			_ = os.Remove(w.tmpPath)
		}
	}()

	if err := w.tmpFile.Sync(); err != nil {
		w.err = err
		_ = w.tmpFile.Close()
		return err
	}
	if err := w.tmpFile.Close(); err != nil {
		w.err = err
		return err
	}
	if err := os.Chmod(w.tmpPath, mode); err != nil {
		w.err = err
		return err
	}
	if err := os.Rename(w.tmpPath, filepath.Clean(path)); err != nil {
		w.err = fmt.Errorf("committing staged file: %w", err)
		return w.err
	}
	return nil
}

// discard removes the temp file. Safe to call after commit or repeatedly.
func (w *tempWriter) discard() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	w.closed = true
	_ = w.tmpFile.Close()
	_ = os.Remove(w.tmpPath)
}
