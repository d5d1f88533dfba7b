// Package buildcache is the incremental build cache: lowered fragments,
// emitted artifact fragments and per-target node manifests, staged per run
// and committed by the orchestrator.
package buildcache

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Key prefixes.
const (
	PrefixFragment = "frag/"
	PrefixArtifact = "art/"
	PrefixManifest = "manifest/"
)

// NodePrefixes are the prefixes of every entry derived from one node.
func NodePrefixes(node string) []string {
	return []string{PrefixFragment + node + "/", PrefixArtifact + node + "/"}
}

// Cache is the shared build cache service. Builds of one key are shared
// across concurrent sessions.
type Cache struct {
	backend Backend
	logger  *zap.Logger
	group   singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New creates a cache over backend.
func New(backend Backend, opts ...Option) *Cache {
	c := &Cache{backend: backend, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Begin starts a session.
func (c *Cache) Begin() *Session {
	return &Session{cache: c, staged: map[string][]byte{}}
}

// Manifest loads a committed manifest.
func (c *Cache) Manifest(ctx context.Context, key string) (*Manifest, error) {
	data, ok, err := c.backend.Get(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", key, err)
	}
	return &m, nil
}

// Keys lists committed keys under prefix.
func (c *Cache) Keys(ctx context.Context, prefix string) ([]string, error) {
	return c.backend.Keys(ctx, prefix)
}

// Session stages one run's writes. Nothing reaches the backend before
// Commit.
type Session struct {
	cache *Cache

	mu      sync.Mutex
	staged  map[string][]byte
	drops   []string
	reused  int
	rebuilt int
	done    bool
}

// Fetch returns the entry for key from this session's staged writes or the
// committed store, or builds it. Concurrent builds of one key run once, on
// a context detached from every caller's cancellation: a caller that gives
// up returns its own ctx.Err() and the build continues for the others.
func (s *Session) Fetch(ctx context.Context, key string, build func(context.Context) ([]byte, error)) ([]byte, bool, error) {
	s.mu.Lock()
	if data, ok := s.staged[key]; ok {
		s.reused++
		s.mu.Unlock()
		return data, true, nil
	}
	s.mu.Unlock()

	data, ok, err := s.cache.backend.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if ok {
		s.count(true)
		return data, true, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := s.cache.group.DoChan(key, func() (any, error) {
		return build(detached)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, false, res.Err
	}
	data = res.Val.([]byte)
	s.mu.Lock()
	s.staged[key] = data
	s.rebuilt++
	s.mu.Unlock()
	return data, false, nil
}

func (s *Session) count(reused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if reused {
		s.reused++
	} else {
		s.rebuilt++
	}
}

// PutManifest stages a manifest.
func (s *Session) PutManifest(key string, m Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged[key] = data
	return nil
}

// Drop schedules every committed entry derived from nodes for deletion at
// commit.
func (s *Session) Drop(nodes ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range nodes {
		s.drops = append(s.drops, NodePrefixes(n)...)
	}
}

// Stats returns how many fetches were served from cache and how many were
// built.
func (s *Session) Stats() (reused, rebuilt int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reused, s.rebuilt
}

// Commit drops stale entries and writes staged entries in one backend
// transaction. It returns the number of entries dropped.
func (s *Session) Commit(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return 0, fmt.Errorf("build cache session already closed")
	}
	s.done = true
	slices.Sort(s.drops)
	dropped, err := s.cache.backend.Apply(ctx, slices.Compact(s.drops), s.staged)
	if err != nil {
		return 0, err
	}
	s.cache.logger.Debug("build cache commit",
		zap.Int("written", len(s.staged)),
		zap.Int("dropped", dropped),
		zap.Int("reused", s.reused),
		zap.Int("rebuilt", s.rebuilt),
	)
	s.staged = nil
	return dropped, nil
}

// Discard abandons staged writes and drops.
func (s *Session) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	s.staged = nil
	s.drops = nil
}

// Staged lists the staged keys.
func (s *Session) Staged() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.staged))
}
