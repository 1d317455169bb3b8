package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ihiteshgupta/telegram-modbot/internal/captcha"
	"github.com/ihiteshgupta/telegram-modbot/internal/commands"
	"github.com/ihiteshgupta/telegram-modbot/internal/moderation"
	"github.com/ihiteshgupta/telegram-modbot/internal/modlog"
	"github.com/ihiteshgupta/telegram-modbot/internal/ratewindow"
	"github.com/ihiteshgupta/telegram-modbot/internal/relay"
	"github.com/ihiteshgupta/telegram-modbot/internal/store"
	"github.com/ihiteshgupta/telegram-modbot/internal/telegram"
	"github.com/ihiteshgupta/telegram-modbot/internal/wizard"
)

// Metrics counts processed and dropped updates.
type Metrics interface {
	RecordUpdate(kind string)
	RecordDropped()
}

// Deps are the handlers an update can be routed to.
type Deps struct {
	Store     *store.Store
	Client    telegram.Client
	Evaluator *moderation.Evaluator
	Pipeline  *moderation.Pipeline
	Relay     *relay.Router
	Commands  *commands.Handler
	Captcha   *captcha.Service
	Wizard    *wizard.Service
	Recorder  modlog.Recorder

	// Mentions rate-limits admin mention reports per chat and sender.
	Mentions *ratewindow.Cooldown
	Metrics  Metrics
}

// Config configures the dispatcher.
type Config struct {
	QueueSize     int
	CommandPrefix string
}

// Dispatcher queues updates and handles them one at a time on a worker
// goroutine.
type Dispatcher struct {
	deps Deps
	cfg  Config
	log  *slog.Logger

	events  chan Event
	dropped atomic.Int64
	wg      sync.WaitGroup
	once    sync.Once

	now func() time.Time
}

// New creates a dispatcher. Call Start to begin processing.
func New(deps Deps, cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = "."
	}

	return &Dispatcher{
		deps:   deps,
		cfg:    cfg,
		log:    logger,
		events: make(chan Event, cfg.QueueSize),
		now:    time.Now,
	}
}

// Start runs the event worker until Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go d.processEvents(ctx)
}

// Stop closes the queue and waits for queued events to be handled.
func (d *Dispatcher) Stop() {
	d.once.Do(func() { close(d.events) })
	d.wg.Wait()
}

// Enqueue adds an update to the processing queue. It never blocks; when the
// queue is full the update is dropped.
func (d *Dispatcher) Enqueue(u telegram.Update) {
	evt := NewEvent(u)
	select {
	case d.events <- evt:
	default:
		d.dropped.Add(1)
		if d.deps.Metrics != nil {
			d.deps.Metrics.RecordDropped()
		}
		d.log.Warn("event queue full, dropping update", "update_id", u.ID, "type", evt.Type)
	}
}

// Dropped returns the number of updates dropped on a full queue.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

func (d *Dispatcher) processEvents(ctx context.Context) {
	defer d.wg.Done()

	for evt := range d.events {
		d.handleEvent(ctx, evt)
	}
}

func (d *Dispatcher) handleEvent(ctx context.Context, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("update handler panicked", "update_id", evt.Update.ID, "type", evt.Type, "panic", r)
		}
	}()
	d.Handle(ctx, evt.Update)
}

// Handle routes one update synchronously.
func (d *Dispatcher) Handle(ctx context.Context, u telegram.Update) {
	kind := Classify(u)
	d.log.Debug("processing update", "update_id", u.ID, "type", kind)
	if d.deps.Metrics != nil {
		d.deps.Metrics.RecordUpdate(kind.String())
	}

	switch kind {
	case EventCallback:
		d.handleCallback(ctx, u.CallbackQuery)
	case EventPrivateMessage:
		d.handlePrivate(ctx, u.Message)
	case EventChannelPost:
		d.handleChannelPost(ctx, u.Message)
	case EventJoin, EventLeave, EventService, EventGroupMessage:
		d.handleGroup(ctx, kind, u.Message)
	}
}
