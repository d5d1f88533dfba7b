package testutil

import (
	"context"
	"sync"
)

// MapCache is an in-memory fragment cache that counts hits and builds.
type MapCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	Hits    int
	Builds  int
}

// NewMapCache returns an empty cache.
func NewMapCache() *MapCache {
	return &MapCache{entries: map[string][]byte{}}
}

// Fetch returns the entry for key or builds and stores it.
func (c *MapCache) Fetch(ctx context.Context, key string, build func(context.Context) ([]byte, error)) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if data, ok := c.entries[key]; ok {
		c.Hits++
		return data, true, nil
	}
	data, err := build(ctx)
	if err != nil {
		return nil, false, err
	}
	c.Builds++
	c.entries[key] = data
	return data, false, nil
}

// Len returns the number of entries.
func (c *MapCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
