// Package modlogtest provides an in-memory modlog.Recorder for tests.
package modlogtest

import (
	"sync"

	"github.com/ihiteshgupta/telegram-modbot/internal/modlog"
)

// Recorder keeps every recorded entry.
type Recorder struct {
	mu      sync.Mutex
	entries []modlog.Entry
}

// Record implements modlog.Recorder.
func (r *Recorder) Record(e modlog.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

// Entries returns a copy of the recorded entries.
func (r *Recorder) Entries() []modlog.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]modlog.Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Actions returns the action of every recorded entry, in order.
func (r *Recorder) Actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

var _ modlog.Recorder = (*Recorder)(nil)
