package persist

import (
	"context"
	"fmt"
	"sync"

	"github.com/alexjoedt/docpub/document"
)

// MemoryStore keeps articles in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	articles map[string]memoryRow
	creates  int
	failures []error
}

type memoryRow struct {
	title    string
	coverURL string
	body     []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{articles: make(map[string]memoryRow)}
}

// FailNext makes the next len(errs) calls to Create fail with errs, in
// order.
func (m *MemoryStore) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

func (m *MemoryStore) Create(ctx context.Context, title string, body document.Document, coverURL string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, encoded, err := prepare(title, body)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return "", err
	}
	m.articles[id] = memoryRow{title: title, coverURL: coverURL, body: encoded}
	return id, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (document.Article, error) {
	m.mu.Lock()
	row, ok := m.articles[id]
	m.mu.Unlock()
	if !ok {
		return document.Article{}, fmt.Errorf("article %s: %w", id, ErrNotFound)
	}
	body, err := decodeBody(bodyEncoding, row.body)
	if err != nil {
		return document.Article{}, err
	}
	return document.Article{Title: row.title, CoverURL: row.coverURL, Body: body}, nil
}

// Creates returns the number of Create calls, failed ones included.
func (m *MemoryStore) Creates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates
}

// Len returns the number of stored articles.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.articles)
}

func (m *MemoryStore) Close() error { return nil }
