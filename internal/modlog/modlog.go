// Package modlog writes the append-only moderation log. Writes are queued and
// persisted by a background worker so moderation never waits on storage.
package modlog

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ihiteshgupta/telegram-modbot/internal/store"
	"github.com/ihiteshgupta/telegram-modbot/internal/telegram"
)

// Log actions.
const (
	ActionAntiLinkDelete      = "anti_link_delete"
	ActionBadwordDelete       = "badword_delete"
	ActionAntiFloodMute       = "anti_flood_mute"
	ActionAntiSpamDelete      = "anti_spam_delete"
	ActionLockedContentDelete = "locked_content_delete"
	ActionCaptchaVerified     = "captcha_verified"
	ActionCaptchaTimeoutKick  = "captcha_timeout_kick"
	ActionJoin                = "join"
	ActionLeave               = "leave"
	ActionBan                 = "ban"
	ActionUnban               = "unban"
	ActionKick                = "kick"
	ActionMute                = "mute"
	ActionUnmute              = "unmute"
	ActionWarn                = "warn"
	ActionBroadcast           = "broadcast"
)

// Entry is one moderation event to be logged.
type Entry struct {
	ChatID    int64
	ChatTitle string
	Action    string
	ActorID   *int64
	TargetID  *int64
	Reason    string
	Metadata  map[string]any

	// LogChannelID is the group's log channel, if any.
	LogChannelID *int64
}

// Recorder accepts log entries.
type Recorder interface {
	Record(e Entry)
}

// Sink receives every persisted entry, for example an event bus.
type Sink interface {
	Publish(ctx context.Context, e store.LogEntry) error
}

// Writer is the asynchronous Recorder backed by a LogRepository.
type Writer struct {
	logs   store.LogRepository
	client telegram.Client
	sinks  []Sink
	log    *slog.Logger
	now    func() time.Time

	queue   chan Entry
	dropped atomic.Int64

	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
	started bool
}

// NewWriter creates a writer with a queue of queueSize entries. client may be
// nil, in which case log channels are not posted to.
func NewWriter(logs store.LogRepository, client telegram.Client, queueSize int, logger *slog.Logger, sinks ...Sink) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		logs:   logs,
		client: client,
		sinks:  sinks,
		log:    logger,
		now:    time.Now,
		queue:  make(chan Entry, queueSize),
	}
}

// Start launches the worker. Entries still queued when ctx is done are
// written before the worker exits.
func (w *Writer) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true

	w.wg.Add(1)
	go w.run(ctx)
}

// Stop closes the queue and waits for the worker to drain it.
func (w *Writer) Stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	w.wg.Wait()
}

// Record queues e. When the queue is full the entry is dropped.
func (w *Writer) Record(e Entry) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	select {
	case w.queue <- e:
	default:
		w.dropped.Add(1)
		w.log.Warn("moderation log queue full, dropping entry",
			"chat_id", e.ChatID,
			"action", e.Action,
		)
	}
}

// Dropped returns how many entries were dropped because the queue was full.
func (w *Writer) Dropped() int64 {
	return w.dropped.Load()
}

func (w *Writer) run(ctx context.Context) {
	defer w.wg.Done()

	for e := range w.queue {
		// Shutdown still drains the queue; use a context that outlives ctx.
		writeCtx := ctx
		if ctx.Err() != nil {
			writeCtx = context.Background()
		}
		w.write(writeCtx, e)
	}
}

func (w *Writer) write(ctx context.Context, e Entry) {
	entry := w.toLogEntry(e)

	if err := w.logs.Append(ctx, &entry); err != nil {
		w.log.Error("failed to append moderation log",
			"chat_id", e.ChatID,
			"action", e.Action,
			"error", err,
		)
	}

	if e.LogChannelID != nil && w.client != nil {
		r := w.client.SendText(ctx, *e.LogChannelID, FormatChannelPost(e), telegram.SendOptions{})
		if !r.OK {
			w.log.Debug("failed to post to log channel",
				"chat_id", e.ChatID,
				"log_channel_id", *e.LogChannelID,
				"kind", r.Kind,
			)
		}
	}

	for _, sink := range w.sinks {
		if err := sink.Publish(ctx, entry); err != nil {
			w.log.Warn("failed to publish moderation event",
				"action", e.Action,
				"error", err,
			)
		}
	}
}

func (w *Writer) toLogEntry(e Entry) store.LogEntry {
	metadata := make(map[string]any, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		metadata[k] = v
	}
	if e.Reason != "" {
		metadata["reason"] = e.Reason
	}
	if len(metadata) == 0 {
		metadata = nil
	}

	return store.LogEntry{
		ID:        uuid.NewString(),
		ChatID:    e.ChatID,
		Action:    e.Action,
		ActorID:   e.ActorID,
		TargetID:  e.TargetID,
		Metadata:  metadata,
		CreatedAt: w.now().UTC(),
	}
}

// FormatChannelPost renders e the way it is posted to a log channel.
func FormatChannelPost(e Entry) string {
	lines := []string{"#" + e.Action}
	if e.Reason != "" {
		lines = append(lines, "Reason: "+e.Reason)
	}
	if e.TargetID != nil {
		lines = append(lines, "Target: "+strconv.FormatInt(*e.TargetID, 10))
	}
	if e.ChatID != 0 {
		lines = append(lines, fmt.Sprintf("Group: %s (%d)", e.ChatTitle, e.ChatID))
	}
	return strings.Join(lines, "\n")
}

// ID returns a pointer to id, for the optional actor and target fields.
func ID(id int64) *int64 {
	return &id
}
