// Package health tracks bot activity counters and serves them over HTTP.
package health

import (
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ihiteshgupta/telegram-modbot/internal/telegram"
)

// Status is a snapshot of the bot's health.
type Status struct {
	Polling          bool             `json:"polling"`
	UptimeSeconds    int64            `json:"uptime_seconds"`
	LastUpdate       time.Time        `json:"last_update"`
	LastPollError    string           `json:"last_poll_error,omitempty"`
	PollErrors       int64            `json:"poll_errors"`
	UpdatesReceived  int64            `json:"updates_received"`
	UpdatesDropped   int64            `json:"updates_dropped"`
	LogDropped       int64            `json:"log_entries_dropped"`
	MessagesSent     int64            `json:"messages_sent"`
	UpdatesByType    map[string]int64 `json:"updates_by_type"`
	Suppressed       map[string]int64 `json:"suppressed"`
	Relayed          map[string]int64 `json:"relayed"`
	FailuresByKind   map[string]int64 `json:"failures_by_kind"`
	NextRetryDelayMs int64            `json:"next_retry_delay_ms,omitempty"`
}

// Monitor counts updates, suppressions, relayed messages and transport
// failures. It is safe for concurrent use.
type Monitor struct {
	startTime time.Time
	now       func() time.Time

	updatesReceived atomic.Int64
	updatesDropped  atomic.Int64
	messagesSent    atomic.Int64
	pollErrors      atomic.Int64

	mu            sync.RWMutex
	polling       bool
	lastUpdate    time.Time
	lastPollError string
	nextDelay     time.Duration
	updatesByType map[string]int64
	suppressed    map[string]int64
	relayed       map[string]int64
	failures      map[string]int64
	logDropped    func() int64
}

// NewMonitor creates a monitor whose uptime starts now.
func NewMonitor() *Monitor {
	return &Monitor{
		startTime:     time.Now(),
		now:           time.Now,
		updatesByType: make(map[string]int64),
		suppressed:    make(map[string]int64),
		relayed:       make(map[string]int64),
		failures:      make(map[string]int64),
	}
}

// GetStatus returns the current health status.
func (m *Monitor) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var logDropped int64
	if m.logDropped != nil {
		logDropped = m.logDropped()
	}

	return Status{
		Polling:          m.polling,
		UptimeSeconds:    int64(m.now().Sub(m.startTime).Seconds()),
		LastUpdate:       m.lastUpdate,
		LastPollError:    m.lastPollError,
		PollErrors:       m.pollErrors.Load(),
		UpdatesReceived:  m.updatesReceived.Load(),
		UpdatesDropped:   m.updatesDropped.Load(),
		LogDropped:       logDropped,
		MessagesSent:     m.messagesSent.Load(),
		UpdatesByType:    maps.Clone(m.updatesByType),
		Suppressed:       maps.Clone(m.suppressed),
		Relayed:          maps.Clone(m.relayed),
		FailuresByKind:   maps.Clone(m.failures),
		NextRetryDelayMs: m.nextDelay.Milliseconds(),
	}
}

// RecordUpdate records a processed update of the given kind.
func (m *Monitor) RecordUpdate(kind string) {
	m.updatesReceived.Add(1)
	m.mu.Lock()
	m.updatesByType[kind]++
	m.lastUpdate = m.now()
	m.polling = true
	m.lastPollError = ""
	m.nextDelay = 0
	m.mu.Unlock()
}

// RecordDropped records an update dropped on a full queue.
func (m *Monitor) RecordDropped() {
	m.updatesDropped.Add(1)
}

// WatchLogQueue reports the count returned by dropped as the number of
// moderation log entries lost to a full queue.
func (m *Monitor) WatchLogQueue(dropped func() int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logDropped = dropped
}

// RecordSuppressed records a suppressed message.
func (m *Monitor) RecordSuppressed(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suppressed[reason]++
}

// RecordRelay records one relayed message in direction "out" or "in".
func (m *Monitor) RecordRelay(direction string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relayed[direction]++
}

// ObserveResult counts an outbound call outcome. It matches
// telegram.ResultObserver.
func (m *Monitor) ObserveResult(_ string, r telegram.Result) {
	if r.OK {
		if r.MessageID != 0 {
			m.messagesSent.Add(1)
		}
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[string(r.Kind)]++
}

// RecordPollError records a failed poll and the delay before the retry.
func (m *Monitor) RecordPollError(err error, delay time.Duration) {
	m.pollErrors.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.polling = false
	m.nextDelay = delay
	if err != nil {
		m.lastPollError = err.Error()
	}
}

// SetPolling marks the poller as running or stopped.
func (m *Monitor) SetPolling(polling bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.polling = polling
}

// GetLastUpdateTime returns the time of the last processed update.
func (m *Monitor) GetLastUpdateTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastUpdate
}
