package ratewindow

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryTracker keeps windows in process memory. The number of keys is
// bounded; the least recently seen key is evicted first.
type MemoryTracker struct {
	window time.Duration

	mu   sync.Mutex
	keys *lru.Cache[string, []time.Time]
}

// NewMemoryTracker creates a tracker with the given window and key bound.
func NewMemoryTracker(window time.Duration, maxKeys int) (*MemoryTracker, error) {
	cache, err := lru.New[string, []time.Time](maxKeys)
	if err != nil {
		return nil, err
	}
	return &MemoryTracker{window: window, keys: cache}, nil
}

func (t *MemoryTracker) Record(_ context.Context, key string, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries, _ := t.keys.Get(key)
	entries = append(entries, now)
	entries = trim(entries, now, t.window)
	t.keys.Add(key, entries)
	return len(entries)
}

func (t *MemoryTracker) Evict(_ context.Context, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keys.Remove(key)
}

func (t *MemoryTracker) Sweep(_ context.Context, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	dropped := 0
	for _, key := range t.keys.Keys() {
		entries, ok := t.keys.Peek(key)
		if !ok {
			continue
		}
		if len(trim(entries, now, t.window)) == 0 {
			t.keys.Remove(key)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of tracked keys.
func (t *MemoryTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.keys.Len()
}

// trim keeps entries with now-t < window. Entries are appended in order, so
// the expired ones form a prefix.
func trim(entries []time.Time, now time.Time, window time.Duration) []time.Time {
	i := 0
	for i < len(entries) && now.Sub(entries[i]) >= window {
		i++
	}
	if i == 0 {
		return entries
	}
	kept := make([]time.Time, len(entries)-i)
	copy(kept, entries[i:])
	return kept
}
