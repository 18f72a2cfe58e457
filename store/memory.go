package store

import (
	"context"
	"sync"
)

// Memory is the in-process backend: a mapping from namespace to a
// mapping or set, guarded by a single RWMutex. Queries are read-heavy
// and short, so coarse locking is fine.
type Memory struct {
	mu     sync.RWMutex
	hashes map[string]map[string][]byte
	sets   map[string]map[string]struct{}

	// Path of the single-file snapshot. Blank disables snapshots.
	snapshotPath string
}

var _ Store = (*Memory)(nil)

func NewMemory(snapshotPath string) *Memory {
	return &Memory{
		hashes:       map[string]map[string][]byte{},
		sets:         map[string]map[string]struct{}{},
		snapshotPath: snapshotPath,
	}
}

func (m *Memory) Get(ctx context.Context, ns, key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.hashes[ns][key]
	return value, ok
}

func (m *Memory) Set(ctx context.Context, ns, key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[ns]
	if !ok {
		h = map[string][]byte{}
		m.hashes[ns] = h
	}
	h[key] = value
}

func (m *Memory) Delete(ctx context.Context, ns, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hashes[ns], key)
}

func (m *Memory) Add(ctx context.Context, ns, member string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[ns]
	if !ok {
		s = map[string]struct{}{}
		m.sets[ns] = s
	}
	s[member] = struct{}{}
}

func (m *Memory) Remove(ctx context.Context, ns, member string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sets[ns], member)
}

func (m *Memory) Has(ctx context.Context, ns, member string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sets[ns][member]
	return ok
}

func (m *Memory) Cardinality(ctx context.Context, ns string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.sets[ns]))
}

func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.hashes = map[string]map[string][]byte{}
	m.sets = map[string]map[string]struct{}{}
	m.mu.Unlock()
	return m.removeSnapshot()
}
