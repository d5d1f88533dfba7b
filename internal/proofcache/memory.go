package proofcache

import (
	"context"
	"strings"
	"sync"
)

// Memory is an in-process Backend for tests and one-shot runs.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemory returns an empty Memory backend.
func NewMemory() *Memory {
	return &Memory{records: map[string]Record{}}
}

// Get implements Backend.
func (m *Memory) Get(_ context.Context, obligation string) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[obligation]
	return r, ok, nil
}

// Put implements Backend.
func (m *Memory) Put(_ context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if _, ok := m.records[r.Obligation]; !ok {
			m.records[r.Obligation] = r
		}
	}
	return nil
}

// Len returns the number of committed records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// InvalidatePrefix implements Backend.
func (m *Memory) InvalidatePrefix(_ context.Context, prefix string) (int, error) {
	return m.drop(func(r Record) bool { return strings.HasPrefix(r.Obligation, prefix) }), nil
}

// InvalidateNode implements Backend.
func (m *Memory) InvalidateNode(_ context.Context, prefix string) (int, error) {
	return m.drop(func(r Record) bool { return r.Node != "" && strings.HasPrefix(r.Node, prefix) }), nil
}

// InvalidateEngine implements Backend.
func (m *Memory) InvalidateEngine(_ context.Context, engine, keep string) (int, error) {
	return m.drop(func(r Record) bool {
		return r.Witness.Engine == engine && r.Witness.EngineVersion != keep
	}), nil
}

func (m *Memory) drop(match func(Record) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, r := range m.records {
		if match(r) {
			delete(m.records, k)
			n++
		}
	}
	return n
}
