package housekeeping

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ihiteshgupta/telegram-modbot/internal/ratewindow"
	"github.com/ihiteshgupta/telegram-modbot/internal/store"
	"github.com/ihiteshgupta/telegram-modbot/internal/wizard"
)

var now = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

type fakeSweeper struct {
	calls  []time.Time
	result int
	err    error
}

func (f *fakeSweeper) SweepExpired(_ context.Context, at time.Time) (int, error) {
	f.calls = append(f.calls, at)
	return f.result, f.err
}

func newScheduler(t *testing.T, cfg Config, deps Deps) *Scheduler {
	t.Helper()
	s := New(cfg, deps, nil)
	s.now = func() time.Time { return now }
	return s
}

func TestSweep(t *testing.T) {
	ctx := context.Background()

	tracker, err := ratewindow.NewMemoryTracker(10*time.Second, 100)
	require.NoError(t, err)
	tracker.Record(ctx, "stale", now.Add(-time.Minute))
	tracker.Record(ctx, "fresh", now.Add(-time.Second))

	cooldown, err := ratewindow.NewCooldown(time.Minute, 100)
	require.NoError(t, err)
	cooldown.Allow("old", now.Add(-2*time.Minute))
	cooldown.Allow("recent", now.Add(-10*time.Second))

	sessions, err := wizard.NewMemorySessionStore(10)
	require.NoError(t, err)
	sessions.Set(wizard.Session{UserID: 1, UpdatedAt: now.Add(-time.Hour)})
	sessions.Set(wizard.Session{UserID: 2, UpdatedAt: now.Add(-time.Minute)})

	verifications := &fakeSweeper{result: 3}

	s := newScheduler(t, Config{Interval: time.Minute, WizardSessionTTL: 30 * time.Minute}, Deps{
		Verifications: verifications,
		RateWindow:    tracker,
		Cooldown:      cooldown,
		Sessions:      sessions,
	})

	report := s.Sweep(ctx)
	assert.Equal(t, Report{Verifications: 3, RateKeys: 1, Cooldowns: 1, Sessions: 1}, report)
	assert.Equal(t, []time.Time{now}, verifications.calls)

	_, ok := sessions.Get(2)
	assert.True(t, ok)
	_, ok = sessions.Get(1)
	assert.False(t, ok)

	// Nothing left to sweep except the verification pass.
	verifications.result = 0
	assert.Equal(t, Report{}, s.Sweep(ctx))
}

func TestSweep_VerificationError(t *testing.T) {
	verifications := &fakeSweeper{result: 1, err: errors.New("store down")}
	s := newScheduler(t, Config{}, Deps{Verifications: verifications})

	report := s.Sweep(context.Background())
	assert.Equal(t, 1, report.Verifications)
	assert.Len(t, verifications.calls, 1)
}

func TestSweep_NoDeps(t *testing.T) {
	s := newScheduler(t, Config{WizardSessionTTL: time.Minute}, Deps{})
	assert.Equal(t, Report{}, s.Sweep(context.Background()))
}

func TestSweep_SessionsNeedTTL(t *testing.T) {
	sessions, err := wizard.NewMemorySessionStore(10)
	require.NoError(t, err)
	sessions.Set(wizard.Session{UserID: 1, UpdatedAt: now.Add(-24 * time.Hour)})

	s := newScheduler(t, Config{}, Deps{Sessions: sessions})
	assert.Zero(t, s.Sweep(context.Background()).Sessions)

	_, ok := sessions.Get(1)
	assert.True(t, ok)
}

func TestCollectMappings(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.RelayMappings.Save(ctx, &store.RelayMapping{
		RelayChatID: 500, RelayMessageID: 1, OriginalChatID: -1001, OriginalMessageID: 2,
		CreatedAt: now.Add(-10 * 24 * time.Hour),
	}))
	require.NoError(t, st.RelayMappings.Save(ctx, &store.RelayMapping{
		RelayChatID: 500, RelayMessageID: 2, OriginalChatID: -1001, OriginalMessageID: 3,
		CreatedAt: now.Add(-time.Hour),
	}))

	s := newScheduler(t, Config{MappingRetention: 7 * 24 * time.Hour}, Deps{Mappings: st.RelayMappings})

	n, err := s.CollectMappings(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = st.RelayMappings.Find(ctx, 500, 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.RelayMappings.Find(ctx, 500, 2)
	assert.NoError(t, err)
}

func TestCollectMappings_RetentionDisabled(t *testing.T) {
	s := newScheduler(t, Config{}, Deps{})

	n, err := s.CollectMappings(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStartStop(t *testing.T) {
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer st.Close()

	t.Run("with retention", func(t *testing.T) {
		s := newScheduler(t, Config{Interval: time.Hour, MappingRetention: time.Hour}, Deps{Mappings: st.RelayMappings})
		require.NoError(t, s.Start(context.Background()))
		assert.Equal(t, 2, s.Jobs())
		s.Stop()
	})

	t.Run("without retention", func(t *testing.T) {
		s := newScheduler(t, Config{Interval: time.Hour}, Deps{Mappings: st.RelayMappings})
		require.NoError(t, s.Start(context.Background()))
		assert.Equal(t, 1, s.Jobs())
		s.Stop()
	})
}

func TestNew_DefaultInterval(t *testing.T) {
	s := New(Config{}, Deps{}, nil)
	assert.Equal(t, time.Minute, s.cfg.Interval)
}
