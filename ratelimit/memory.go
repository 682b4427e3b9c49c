// Package ratelimit provides vinylauth.RateLimiter implementations: an
// in-process sliding window for single instances and a Redis backed one
// for deployments with several replicas.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	mu         sync.Mutex
	timestamps []time.Time
}

// Memory is a sliding window log kept in process memory.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*window
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: map[string]*window{}, now: time.Now}
}

func (m *Memory) Allow(ctx context.Context, key string, limit int, span time.Duration) (bool, int, error) {
	m.mu.Lock()
	entry, ok := m.entries[key]
	if !ok {
		entry = &window{}
		m.entries[key] = entry
	}
	m.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	now := m.now()
	cutoff := now.Add(-span)
	kept := entry.timestamps[:0]
	for _, ts := range entry.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	entry.timestamps = kept

	if len(entry.timestamps) >= limit {
		return false, 0, nil
	}
	entry.timestamps = append(entry.timestamps, now)
	return true, limit - len(entry.timestamps), nil
}

func (m *Memory) Reset(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Sweep drops keys with no attempts inside span. Long running servers call
// it periodically so idle keys do not accumulate.
func (m *Memory) Sweep(span time.Duration) int {
	cutoff := m.now().Add(-span)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, entry := range m.entries {
		entry.mu.Lock()
		n := len(entry.timestamps)
		stale := n == 0 || !entry.timestamps[n-1].After(cutoff)
		entry.mu.Unlock()
		if stale {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}
