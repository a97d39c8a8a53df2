package assets

import (
	"context"
	"errors"
	"sync"
)

// MemoryStore keeps published objects in process memory. It counts uploads
// per hash, which tests use to assert that content is uploaded once.
type MemoryStore struct {
	mu      sync.Mutex
	baseURL string
	objects map[string][]byte
	uploads map[string]int
	calls   int

	// FailHash makes Upload fail for objects with this hash.
	FailHash string
	// Err is returned for FailHash; a generic error when nil.
	Err error
}

var errMemoryUpload = errors.New("memory store: injected upload failure")

// NewMemoryStore constructs a store whose URLs start with baseURL.
func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{
		baseURL: baseURL,
		objects: make(map[string][]byte),
		uploads: make(map[string]int),
	}
}

// Upload stores obj unless its key is already taken.
func (m *MemoryStore) Upload(ctx context.Context, obj Object) (string, error) {
	if err := obj.validate(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key, _ := obj.Key()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.uploads[obj.Hash]++
	if m.FailHash != "" && obj.Hash == m.FailHash {
		if m.Err != nil {
			return "", m.Err
		}
		return "", errMemoryUpload
	}
	if _, ok := m.objects[key]; !ok {
		m.objects[key] = append([]byte(nil), obj.Data...)
	}
	return joinURL(m.baseURL, key), nil
}

// Delete removes key. Deleting a missing key is not an error.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Bytes returns a copy of the object stored under key.
func (m *MemoryStore) Bytes(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	return append([]byte(nil), data...), ok
}

// Calls returns the total number of Upload calls.
func (m *MemoryStore) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// UploadsOf returns how many times hash was uploaded.
func (m *MemoryStore) UploadsOf(hash string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uploads[hash]
}

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
