package render

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

type preview struct {
	data        []byte
	contentType string
}

// CachedSource keeps recently loaded previews in memory so repeated
// renders of the same draft do not re-read staged files. Handles never
// change content, so entries only need to be dropped when a handle is
// released.
type CachedSource struct {
	next  Source
	cache *lru.Cache[string, preview]
}

// NewCachedSource wraps next with an LRU of the given size.
func NewCachedSource(next Source, size int) (*CachedSource, error) {
	cache, err := lru.New[string, preview](size)
	if err != nil {
		return nil, fmt.Errorf("creating preview cache: %w", err)
	}
	return &CachedSource{next: next, cache: cache}, nil
}

func (c *CachedSource) Load(handle string) ([]byte, string, error) {
	if p, ok := c.cache.Get(handle); ok {
		return p.data, p.contentType, nil
	}
	data, contentType, err := c.next.Load(handle)
	if err != nil {
		return nil, "", err
	}
	c.cache.Add(handle, preview{data: data, contentType: contentType})
	return data, contentType, nil
}

// Invalidate drops handle from the cache.
func (c *CachedSource) Invalidate(handle string) {
	c.cache.Remove(handle)
}

// Len returns the number of cached previews.
func (c *CachedSource) Len() int { return c.cache.Len() }
