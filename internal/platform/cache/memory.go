package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	values  []string
	expires time.Time
}

// Memory is an in-process cache with per-entry expiry. It is only coherent
// within one process, so it suits the in-memory store and tests.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]entry
	gens    map[string]int64
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
		gens:    make(map[string]int64),
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]string, int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gen := m.gens[key]
	e, ok := m.entries[key]
	if !ok {
		return nil, gen, false, nil
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, key)
		return nil, gen, false, nil
	}
	return append([]string(nil), e.values...), gen, true, nil
}

func (m *Memory) SetIfGeneration(_ context.Context, key string, gen int64, values []string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gens[key] != gen {
		return false, nil
	}
	m.entries[key] = entry{values: append([]string{}, values...), expires: m.now().Add(m.ttl)}
	return true, nil
}

func (m *Memory) Invalidate(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	m.gens[key]++
	return nil
}
