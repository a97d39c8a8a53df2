package assets

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

var ErrObjectClosed = errors.New("pending object is closed")

// sniffLen is how much of the head of an object is kept for content type
// detection. mimetype reads at most this many bytes.
const sniffLen = 3072

// pendingObject is an object being written to a FileStore. Bytes go to a
// temp file under the store's temp directory and the SHA-256 is computed as
// they arrive. commitAs links the data into place and then writes the
// sidecar, so a key's data file either holds the complete object or does
// not exist.
//
//	p, err := fs.newPending()
//	if err != nil {
//		return err
//	}
//	defer p.discard()
//
//	if _, err = io.Copy(p, r); err != nil {
//		return err
//	}
//	_, err = p.commitAs(key, hash, contentType)
//	return err
type pendingObject struct {
	store *FileStore

	tmpFile *os.File
	tmpPath string

	hasher hash.Hash
	size   int64

	head []byte

	meta *Meta

	mu     sync.Mutex
	closed bool
	err    error // sticky
}

func (fs *FileStore) newPending() (*pendingObject, error) {
	f, err := os.CreateTemp(filepath.Join(fs.root, tempDirName), "obj-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	return &pendingObject{
		store:   fs,
		tmpFile: f,
		tmpPath: f.Name(),
		hasher:  sha256.New(),
		head:    make([]byte, 0, sniffLen),
	}, nil
}

func (p *pendingObject) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, ErrObjectClosed
	}
	if p.err != nil {
		return 0, p.err
	}

	if room := sniffLen - len(p.head); room > 0 {
		p.head = append(p.head, b[:min(room, len(b))]...)
	}

	n, err := p.tmpFile.Write(b)
	if err != nil {
		p.err = err
		return n, err
	}
	_, _ = p.hasher.Write(b[:n])
	p.size += int64(n)
	return n, nil
}

// digest returns the hex SHA-256 of everything written so far.
func (p *pendingObject) digest() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return hex.EncodeToString(p.hasher.Sum(nil))
}

// commitAs validates key and moves the object into place. An empty
// contentType is detected from the first bytes written. An existing data
// file is never replaced: when key is already taken the temp file is
// dropped and committed reports false.
func (p *pendingObject) commitAs(key, contentHash, contentType string) (committed bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false, ErrObjectClosed
	}
	if p.err != nil {
		return false, p.err
	}
	if err := validateKey(key); err != nil {
		p.err = err
		return false, err
	}
	p.closed = true

	// The temp file is linked into place, never renamed, so it always goes.
	defer func() { _ = os.Remove(p.tmpPath) }()

	if err := p.tmpFile.Sync(); err != nil {
		p.err = err
		_ = p.tmpFile.Close()
		return false, err
	}
	if err := p.tmpFile.Close(); err != nil {
		p.err = err
		return false, err
	}

	if contentType == "" {
		contentType = mimetype.Detect(p.head).String()
	}

	fs := p.store
	storagePath := fs.pathFor(key)
	if err := os.MkdirAll(storagePath, fs.opts.DirMode); err != nil {
		p.err = err
		return false, err
	}
	if err := os.Chmod(p.tmpPath, fs.opts.FileMode); err != nil {
		p.err = err
		return false, err
	}

	// Link fails when the data file exists, so a concurrent writer of the
	// same key cannot replace what another already published.
	if err := os.Link(p.tmpPath, filepath.Join(storagePath, dataFileName)); err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		p.err = fmt.Errorf("committing object: %w", err)
		return false, p.err
	}

	now := time.Now()
	meta := &Meta{
		Key:         key,
		Hash:        contentHash,
		Size:        p.size,
		Sha256:      hex.EncodeToString(p.hasher.Sum(nil)),
		ContentType: contentType,
		CreatedAt:   now,
		ModifiedAt:  now,
	}
	if err := fs.writeMeta(filepath.Join(storagePath, metaFileName), meta); err != nil {
		p.err = err
		return false, err
	}
	p.meta = meta
	return true, nil
}

// discard removes the temp file. Safe after commit and when called twice.
func (p *pendingObject) discard() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	_ = p.tmpFile.Close()
	_ = os.Remove(p.tmpPath)
}

func (fs *FileStore) writeMeta(path string, meta *Meta) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".meta-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encoding metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), fs.opts.FileMode); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
