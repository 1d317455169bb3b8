// Package housekeeping runs the periodic sweeps that keep in-memory state
// bounded and recover verification timers lost on restart.
package housekeeping

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ihiteshgupta/telegram-modbot/internal/ratewindow"
	"github.com/ihiteshgupta/telegram-modbot/internal/store"
	"github.com/ihiteshgupta/telegram-modbot/internal/wizard"
)

// VerificationSweeper removes members whose verification deadline passed.
type VerificationSweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// Config sets the sweep schedule and retention.
type Config struct {
	Interval         time.Duration
	WizardSessionTTL time.Duration

	// MappingRetention is how long relay mappings are kept. Zero keeps
	// them forever.
	MappingRetention time.Duration
}

// Deps are the components swept. Nil components are skipped.
type Deps struct {
	Verifications VerificationSweeper
	RateWindow    ratewindow.Tracker
	Cooldown      *ratewindow.Cooldown
	Sessions      wizard.SessionStore
	Mappings      store.RelayMappingRepository
}

// Report counts what one sweep removed.
type Report struct {
	Verifications int
	RateKeys      int
	Cooldowns     int
	Sessions      int
}

// Scheduler runs the sweeps on a cron schedule.
type Scheduler struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
	cron *cron.Cron

	// mu keeps a slow sweep from overlapping the next tick.
	mu  sync.Mutex
	now func() time.Time
}

// New creates a scheduler. Call Start to schedule the jobs.
func New(cfg Config, deps Deps, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Scheduler{
		cfg:  cfg,
		deps: deps,
		log:  logger,
		cron: cron.New(),
		now:  time.Now,
	}
}

// Start registers the jobs and starts the cron runner.
func (s *Scheduler) Start(ctx context.Context) error {
	spec := "@every " + s.cfg.Interval.String()
	if _, err := s.cron.AddFunc(spec, func() { s.Sweep(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	if s.cfg.MappingRetention > 0 && s.deps.Mappings != nil {
		_, err := s.cron.AddFunc("@daily", func() {
			if _, err := s.CollectMappings(ctx); err != nil {
				s.log.Error("relay mapping cleanup failed", "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("failed to schedule mapping cleanup: %w", err)
		}
	}

	s.cron.Start()
	s.log.Info("housekeeping scheduled", "interval", s.cfg.Interval, "mapping_retention", s.cfg.MappingRetention)
	return nil
}

// Stop stops the runner and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("housekeeping stopped")
}

// Jobs returns the number of scheduled jobs.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

// Sweep runs every periodic sweep once.
func (s *Scheduler) Sweep(ctx context.Context) Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var report Report

	if s.deps.Verifications != nil {
		n, err := s.deps.Verifications.SweepExpired(ctx, now)
		if err != nil {
			s.log.Error("verification sweep failed", "error", err)
		}
		report.Verifications = n
	}
	if s.deps.RateWindow != nil {
		report.RateKeys = s.deps.RateWindow.Sweep(ctx, now)
	}
	if s.deps.Cooldown != nil {
		report.Cooldowns = s.deps.Cooldown.Sweep(now)
	}
	if s.deps.Sessions != nil && s.cfg.WizardSessionTTL > 0 {
		report.Sessions = s.deps.Sessions.Sweep(now.Add(-s.cfg.WizardSessionTTL))
	}

	if report != (Report{}) {
		s.log.Debug("housekeeping sweep",
			"verifications", report.Verifications,
			"rate_keys", report.RateKeys,
			"cooldowns", report.Cooldowns,
			"sessions", report.Sessions,
		)
	}
	return report
}

// CollectMappings deletes relay mappings older than the retention period.
func (s *Scheduler) CollectMappings(ctx context.Context) (int64, error) {
	if s.cfg.MappingRetention <= 0 || s.deps.Mappings == nil {
		return 0, nil
	}

	n, err := s.deps.Mappings.DeleteBefore(ctx, s.now().Add(-s.cfg.MappingRetention))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old relay mappings: %w", err)
	}
	s.log.Info("relay mappings cleaned up", "deleted", n)
	return n, nil
}
