package proofcache

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// Session is one run's view of the cache. Lookups consult the session's
// staged entries, then running flights, then committed witnesses.
type Session struct {
	cache *Cache
	reuse bool

	mu     sync.Mutex
	staged map[string]Entry
	closed bool
}

// Do returns the entry for key, computing it at most once across all
// concurrent requesters. Only definitive entries are staged.
func (s *Session) Do(ctx context.Context, key string, compute ComputeFunc) (Entry, Source, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, "", err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Entry{}, "", ErrSessionClosed
	}
	if e, ok := s.staged[key]; ok {
		s.mu.Unlock()
		s.cache.mu.Lock()
		s.cache.stats.StagedHits++
		s.cache.mu.Unlock()
		s.cache.metrics.CacheLookup(string(SourceStaged))
		return e, SourceStaged, nil
	}
	s.mu.Unlock()

	if s.reuse && !s.cache.inFlight(key) {
		e, ok, err := s.cache.committed(ctx, key)
		if err != nil {
			return Entry{}, "", fmt.Errorf("proof cache lookup: %w", err)
		}
		if ok {
			s.stage(key, e)
			s.cache.metrics.CacheLookup(string(SourceCommitted))
			return e, SourceCommitted, nil
		}
	}

	f, started := s.cache.join(ctx, key, compute)
	e, err := s.cache.wait(ctx, key, f)
	if err != nil {
		return Entry{}, "", err
	}
	if e.Definitive() {
		s.stage(key, e)
	}
	src := SourceShared
	if started {
		src = SourceComputed
	}
	s.cache.metrics.CacheLookup(string(src))
	return e, src, nil
}

func (s *Session) stage(key string, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.staged[key] = e
	}
}

// Staged returns the number of staged entries.
func (s *Session) Staged() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.staged)
}

// Commit writes the staged entries to the backend in one atomic batch and
// closes the session.
func (s *Session) Commit(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrSessionClosed
	}
	keys := make([]string, 0, len(s.staged))
	for k := range s.staged {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	records := make([]Record, 0, len(keys))
	for _, k := range keys {
		e := s.staged[k]
		records = append(records, Record{Obligation: k, Node: e.Node, Witness: *e.Witness})
	}
	s.mu.Unlock()

	if err := s.cache.backend.Put(ctx, records); err != nil {
		return 0, fmt.Errorf("commit proof cache session: %w", err)
	}

	s.mu.Lock()
	s.closed = true
	s.staged = nil
	s.mu.Unlock()

	s.cache.mu.Lock()
	s.cache.stats.Commits++
	s.cache.mu.Unlock()
	s.cache.logger.Debug("proof cache session committed", zap.Int("witnesses", len(records)))
	return len(records), nil
}

// Discard drops the staged entries and closes the session.
func (s *Session) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cache.logger.Debug("proof cache session discarded", zap.Int("witnesses", len(s.staged)))
	s.staged = nil
}
