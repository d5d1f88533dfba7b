// Package proofcache shares proof results between obligations, sessions and
// runs.
//
// A Cache is opened once and handed to every run. Each run works through its
// own Session: definitive results are staged in the session and become
// visible to future runs only when the session commits. Misses are computed
// in a single flight per obligation hash, shared by every concurrent
// requester across sessions.
package proofcache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/roach88/kiln/internal/ir"
	"github.com/roach88/kiln/internal/metrics"
)

// ErrSessionClosed is returned by a session after Commit or Discard.
var ErrSessionClosed = errors.New("proof cache session closed")

// Entry is a resolved obligation. Witness is nil for inconclusive results,
// which are never staged or committed.
type Entry struct {
	Obligation string
	Node       string
	Witness    *ir.Witness
	Reason     string
	TimedOut   bool
}

// Definitive reports whether the entry carries a proof or a refutation.
func (e Entry) Definitive() bool { return e.Witness != nil }

// Source says where a session found an entry.
type Source string

const (
	SourceStaged    Source = "staged"
	SourceCommitted Source = "committed"
	SourceShared    Source = "shared"
	SourceComputed  Source = "computed"
)

// Cached reports whether the entry came from a previous computation.
func (s Source) Cached() bool { return s == SourceStaged || s == SourceCommitted }

// ComputeFunc resolves one obligation. It runs on a context detached from
// any single requester and must honour its cancellation.
type ComputeFunc func(ctx context.Context) (Entry, error)

// Record is one committed witness.
type Record struct {
	Obligation string
	Node       string
	Witness    ir.Witness
}

// Backend is durable witness storage keyed by obligation hash.
type Backend interface {
	Get(ctx context.Context, obligation string) (Record, bool, error)
	// Put writes all records atomically. Existing keys are left unchanged.
	Put(ctx context.Context, records []Record) error
	InvalidatePrefix(ctx context.Context, prefix string) (int, error)
	InvalidateNode(ctx context.Context, nodePrefix string) (int, error)
	// InvalidateEngine drops witnesses produced by engine at any version
	// other than keep.
	InvalidateEngine(ctx context.Context, engine, keep string) (int, error)
}

// Stats counts cache activity since the cache was opened.
type Stats struct {
	Computations  int
	Shared        int
	StagedHits    int
	CommittedHits int
	Commits       int
}

// Cache is the shared proof cache service.
type Cache struct {
	backend Backend
	reuse   bool
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	flights map[string]*flight
	stats   Stats
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithMetrics records lookups by source.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithCommittedReuse controls whether committed witnesses satisfy lookups.
// Disabled, every obligation is re-proven once per run; results are still
// committed.
func WithCommittedReuse(reuse bool) Option {
	return func(c *Cache) { c.reuse = reuse }
}

// New opens a cache over backend. A nil backend uses a fresh Memory.
func New(backend Backend, opts ...Option) *Cache {
	if backend == nil {
		backend = NewMemory()
	}
	c := &Cache{
		backend: backend,
		reuse:   true,
		logger:  zap.NewNop(),
		flights: map[string]*flight{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Begin starts a session.
func (c *Cache) Begin() *Session {
	return c.BeginWithReuse(true)
}

// BeginWithReuse starts a session that consults committed witnesses only
// when reuse is set and the cache allows it. Certification runs re-prove
// everything this way while sharing the cache with other runs.
func (c *Cache) BeginWithReuse(reuse bool) *Session {
	return &Session{cache: c, reuse: reuse && c.reuse, staged: map[string]Entry{}}
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Waiters returns the number of requesters waiting on the flight for key.
func (c *Cache) Waiters(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.flights[key]; ok {
		return f.waiters
	}
	return 0
}

// InvalidatePrefix drops committed witnesses whose obligation hash starts
// with prefix.
func (c *Cache) InvalidatePrefix(ctx context.Context, prefix string) (int, error) {
	n, err := c.backend.InvalidatePrefix(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("invalidate prefix %q: %w", prefix, err)
	}
	return n, nil
}

// InvalidateNode drops committed witnesses whose context node hash starts
// with prefix.
func (c *Cache) InvalidateNode(ctx context.Context, prefix string) (int, error) {
	n, err := c.backend.InvalidateNode(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("invalidate node %q: %w", prefix, err)
	}
	return n, nil
}

// InvalidateEngine drops witnesses produced by other versions of engine.
func (c *Cache) InvalidateEngine(ctx context.Context, engine, version string) (int, error) {
	n, err := c.backend.InvalidateEngine(ctx, engine, version)
	if err != nil {
		return 0, fmt.Errorf("invalidate engine %s: %w", engine, err)
	}
	if n > 0 {
		c.logger.Info("dropped stale witnesses",
			zap.String("engine", engine),
			zap.String("version", version),
			zap.Int("count", n))
	}
	return n, nil
}

// flight is one in-progress computation. waiters counts requesters still
// interested; the computation is cancelled when the last one leaves.
type flight struct {
	done    chan struct{}
	entry   Entry
	err     error
	waiters int
	cancel  context.CancelFunc
}

// join returns the flight for key, starting one if none is running. The
// caller is counted as a waiter.
func (c *Cache) join(ctx context.Context, key string, compute ComputeFunc) (*flight, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.flights[key]; ok {
		f.waiters++
		c.stats.Shared++
		return f, false
	}
	fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &flight{done: make(chan struct{}), waiters: 1, cancel: cancel}
	c.flights[key] = f
	c.stats.Computations++
	go func() {
		defer cancel()
		f.entry, f.err = compute(fctx)
		c.mu.Lock()
		if c.flights[key] == f {
			delete(c.flights, key)
		}
		c.mu.Unlock()
		close(f.done)
	}()
	return f, true
}

// wait blocks until the flight finishes or ctx ends. A requester that
// leaves early gives up its interest.
func (c *Cache) wait(ctx context.Context, key string, f *flight) (Entry, error) {
	select {
	case <-f.done:
		c.mu.Lock()
		f.waiters--
		c.mu.Unlock()
		return f.entry, f.err
	case <-ctx.Done():
		c.mu.Lock()
		f.waiters--
		if f.waiters == 0 {
			f.cancel()
			if c.flights[key] == f {
				delete(c.flights, key)
			}
		}
		c.mu.Unlock()
		return Entry{}, ctx.Err()
	}
}

func (c *Cache) committed(ctx context.Context, key string) (Entry, bool, error) {
	rec, ok, err := c.backend.Get(ctx, key)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	w := rec.Witness
	c.mu.Lock()
	c.stats.CommittedHits++
	c.mu.Unlock()
	return Entry{Obligation: rec.Obligation, Node: rec.Node, Witness: &w}, true, nil
}

func (c *Cache) inFlight(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.flights[key]
	return ok
}
