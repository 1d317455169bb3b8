package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// AllowedUpdates are the update kinds the bot subscribes to.
var AllowedUpdates = []string{"message", "channel_post", "callback_query"}

// UpdateSource fetches a batch of updates. *tgbotapi.BotAPI satisfies it.
type UpdateSource interface {
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
}

// PollerConfig configures the long-polling loop.
type PollerConfig struct {
	Timeout   time.Duration
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Poller long-polls getUpdates and hands each update to a handler. A failed
// poll is retried forever with exponential backoff; the backoff is reset as
// soon as a poll succeeds.
type Poller struct {
	source UpdateSource
	cfg    PollerConfig
	log    *slog.Logger

	backoff  *backoff.ExponentialBackOff
	offset   int
	failures int
	sleep    func(ctx context.Context, d time.Duration) error

	onError func(err error, delay time.Duration)
}

// NewPoller creates a poller reading from source.
func NewPoller(source UpdateSource, cfg PollerConfig, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.BaseDelay
	bo.MaxInterval = cfg.MaxDelay
	bo.MaxElapsedTime = 0 // Never give up
	bo.Reset()

	return &Poller{
		source:  source,
		cfg:     cfg,
		log:     logger,
		backoff: bo,
		sleep:   sleepCtx,
	}
}

// OnError registers a hook called for every failed poll with the delay before
// the next attempt.
func (p *Poller) OnError(fn func(err error, delay time.Duration)) {
	p.onError = fn
}

// Offset returns the next update id the poller will ask for.
func (p *Poller) Offset() int {
	return p.offset
}

// Run polls until ctx is done. Each update is passed to handle in order.
func (p *Poller) Run(ctx context.Context, handle func(Update)) error {
	p.log.Info("update poller started", "timeout", p.cfg.Timeout)

	for {
		if err := ctx.Err(); err != nil {
			p.log.Info("update poller stopped")
			return nil
		}

		if err := p.poll(ctx, handle); err != nil {
			delay := p.backoff.NextBackOff()
			p.failures++
			p.log.Warn("failed to poll updates",
				"error", err,
				"attempt", p.failures,
				"retry_in", delay,
			)
			if p.onError != nil {
				p.onError(err, delay)
			}
			if err := p.sleep(ctx, delay); err != nil {
				p.log.Info("update poller stopped")
				return nil
			}
			continue
		}

		if p.failures > 0 {
			p.log.Info("update polling restored", "after_attempts", p.failures)
			p.failures = 0
			p.backoff.Reset()
		}
	}
}

func (p *Poller) poll(ctx context.Context, handle func(Update)) error {
	cfg := tgbotapi.NewUpdate(p.offset)
	cfg.Timeout = int(p.cfg.Timeout / time.Second)
	cfg.AllowedUpdates = AllowedUpdates

	updates, err := p.source.GetUpdates(cfg)
	if err != nil {
		return fmt.Errorf("failed to get updates: %w", err)
	}

	for _, u := range updates {
		if u.UpdateID >= p.offset {
			p.offset = u.UpdateID + 1
		}
		if ctx.Err() != nil {
			return nil
		}
		handle(ConvertUpdate(u))
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
