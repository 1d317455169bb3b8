package captcha

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ihiteshgupta/telegram-modbot/internal/modlog"
	"github.com/ihiteshgupta/telegram-modbot/internal/modlog/modlogtest"
	"github.com/ihiteshgupta/telegram-modbot/internal/state"
	"github.com/ihiteshgupta/telegram-modbot/internal/store"
	"github.com/ihiteshgupta/telegram-modbot/internal/telegram"
	"github.com/ihiteshgupta/telegram-modbot/internal/telegram/telegramtest"
)

const (
	testChat int64 = -1001
	newbie   int64 = 42
)

var group = telegram.Chat{ID: testChat, Type: telegram.ChatSupergroup, Title: "Gophers"}

// manualScheduler collects scheduled checks so tests can fire them at will.
type manualScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
	funcs  []func()
}

func (m *manualScheduler) AfterFunc(d time.Duration, f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays = append(m.delays, d)
	m.funcs = append(m.funcs, f)
}

func (m *manualScheduler) fire(i int) {
	m.mu.Lock()
	f := m.funcs[i]
	m.mu.Unlock()
	f()
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc       *Service
	store     *store.Store
	client    *telegramtest.FakeClient
	recorder  *modlogtest.Recorder
	scheduler *manualScheduler
	clock     *clock
	policy    *store.GroupPolicy
}

func setup(t *testing.T) *fixture {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	policy, err := st.Policies.FindOrDefault(context.Background(), testChat, "Gophers")
	require.NoError(t, err)

	f := &fixture{
		store:     st,
		client:    telegramtest.NewFakeClient(telegram.User{ID: 999, IsBot: true}),
		recorder:  &modlogtest.Recorder{},
		scheduler: &manualScheduler{},
		clock:     &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		policy:    policy,
	}
	f.svc = NewService(st, f.client, f.recorder, 120*time.Second,
		WithScheduler(f.scheduler),
		WithClock(f.clock.Now),
	)
	return f
}

func (f *fixture) member(t *testing.T) *store.MemberState {
	t.Helper()
	m, err := f.store.Members.FindOrDefault(context.Background(), testChat, newbie)
	require.NoError(t, err)
	return m
}

func (f *fixture) join(t *testing.T) {
	t.Helper()
	err := f.svc.OnJoin(context.Background(), group, f.policy, telegram.User{ID: newbie, FirstName: "Alex", Username: "alex"})
	require.NoError(t, err)
}

func (f *fixture) press(t *testing.T, fromID int64) {
	t.Helper()
	cb := &telegram.CallbackQuery{
		ID:      "cb",
		From:    telegram.User{ID: fromID},
		Data:    CallbackData(testChat, newbie),
		Message: &telegram.Message{ID: 500, Chat: group},
	}
	require.NoError(t, f.svc.Verify(context.Background(), cb))
}

func TestOnJoin_StartsVerification(t *testing.T) {
	f := setup(t)
	f.join(t)

	m := f.member(t)
	assert.True(t, m.VerificationPending)
	require.NotNil(t, m.VerificationDeadline)
	assert.True(t, m.VerificationDeadline.Equal(f.clock.Now().Add(120*time.Second)))
	assert.Equal(t, "alex", m.Username)
	assert.Equal(t, state.VerificationPending, m.VerificationState())

	restricts := f.client.CallsTo("Restrict")
	require.Len(t, restricts, 1)
	assert.False(t, restricts[0].Perms.CanSendMessages)

	sends := f.client.CallsTo("SendText")
	require.Len(t, sends, 1)
	assert.Contains(t, sends[0].Text, "Please verify within 120s.")
	assert.Equal(t, telegram.ParseModeHTML, sends[0].Opts.ParseMode)
	require.Len(t, sends[0].Opts.Keyboard, 1)
	assert.Equal(t, "verify:-1001:42", sends[0].Opts.Keyboard[0][0].Data)

	require.Len(t, f.scheduler.delays, 1)
	assert.Equal(t, 120*time.Second, f.scheduler.delays[0])
}

func TestOnJoin_CaptchaDisabled(t *testing.T) {
	f := setup(t)
	f.policy.CaptchaEnabled = false
	f.join(t)

	m := f.member(t)
	assert.False(t, m.VerificationPending)
	assert.Equal(t, "Alex", m.FirstName)
	assert.Empty(t, f.client.Calls())
	assert.Empty(t, f.scheduler.funcs)
}

func TestOnJoin_BotsSkipVerification(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.svc.OnJoin(context.Background(), group, f.policy, telegram.User{ID: 7, IsBot: true, FirstName: "Helper"}))
	assert.Empty(t, f.client.Calls())
}

func TestOnJoin_FlagsDeletedAccounts(t *testing.T) {
	f := setup(t)
	f.policy.CaptchaEnabled = false
	require.NoError(t, f.svc.OnJoin(context.Background(), group, f.policy, telegram.User{ID: newbie, FirstName: "Deleted Account"}))
	assert.True(t, f.member(t).IsDeletedLikely)
}

func TestVerify_BySameUser(t *testing.T) {
	f := setup(t)
	f.join(t)
	f.client.Reset()

	f.clock.Advance(30 * time.Second)
	f.press(t, newbie)

	m := f.member(t)
	assert.False(t, m.VerificationPending)
	assert.Nil(t, m.VerificationDeadline)
	require.NotNil(t, m.VerifiedAt)
	assert.Equal(t, state.VerificationVerified, m.VerificationState())

	restricts := f.client.CallsTo("Restrict")
	require.Len(t, restricts, 1)
	assert.Equal(t, telegram.BaselinePermissions(), restricts[0].Perms)

	answers := f.client.CallsTo("AnswerCallback")
	require.Len(t, answers, 1)
	assert.Equal(t, TextVerified, answers[0].Text)

	edits := f.client.CallsTo("EditText")
	require.Len(t, edits, 1)
	assert.Equal(t, TextVerifiedEdit, edits[0].Text)
	assert.Equal(t, 500, edits[0].MessageID)

	assert.Equal(t, []string{modlog.ActionCaptchaVerified}, f.recorder.Actions())
}

func TestVerify_ByOtherUserIsRejected(t *testing.T) {
	f := setup(t)
	f.join(t)
	f.client.Reset()

	f.press(t, 7)

	assert.True(t, f.member(t).VerificationPending)
	answers := f.client.CallsTo("AnswerCallback")
	require.Len(t, answers, 1)
	assert.Equal(t, TextNotForYou, answers[0].Text)
	assert.True(t, answers[0].Alert)
	assert.Empty(t, f.client.CallsTo("Restrict"))
}

func TestVerify_Twice(t *testing.T) {
	f := setup(t)
	f.join(t)
	f.press(t, newbie)
	f.client.Reset()

	f.press(t, newbie)

	answers := f.client.CallsTo("AnswerCallback")
	require.Len(t, answers, 1)
	assert.Equal(t, TextAlreadyVerified, answers[0].Text)
	assert.Empty(t, f.client.CallsTo("Restrict"))
}

func TestVerify_MalformedData(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.svc.Verify(context.Background(), &telegram.CallbackQuery{ID: "cb", Data: "verify:nope"}))
	assert.Len(t, f.client.CallsTo("AnswerCallback"), 1)
}

func TestTimeout_RemovesPendingMember(t *testing.T) {
	f := setup(t)
	f.join(t)
	f.client.Reset()

	f.clock.Advance(120 * time.Second)
	f.scheduler.fire(0)

	calls := f.client.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "Ban", calls[0].Method)
	assert.Equal(t, "Unban", calls[1].Method)
	assert.Equal(t, newbie, calls[0].UserID)

	m := f.member(t)
	assert.False(t, m.VerificationPending)
	assert.Nil(t, m.VerificationDeadline)
	assert.Equal(t, state.VerificationNone, m.VerificationState())

	assert.Equal(t, []string{modlog.ActionCaptchaTimeoutKick}, f.recorder.Actions())
	assert.Equal(t, "Gophers", f.recorder.Entries()[0].ChatTitle)
}

func TestTimeout_AfterVerificationIsNoop(t *testing.T) {
	f := setup(t)
	f.join(t)
	f.press(t, newbie)
	f.client.Reset()

	f.clock.Advance(120 * time.Second)
	f.scheduler.fire(0)

	assert.Empty(t, f.client.Calls())
	assert.Equal(t, []string{modlog.ActionCaptchaVerified}, f.recorder.Actions())
}

func TestTimeout_StaleCheckAfterRejoinIsNoop(t *testing.T) {
	f := setup(t)
	f.join(t)

	// The member leaves and rejoins 60s later, which writes a new deadline.
	f.clock.Advance(60 * time.Second)
	f.join(t)
	require.Len(t, f.scheduler.funcs, 2)
	f.client.Reset()

	// The first timer fires at the original deadline.
	f.clock.Advance(60 * time.Second)
	f.scheduler.fire(0)
	assert.Empty(t, f.client.Calls())
	assert.True(t, f.member(t).VerificationPending)

	// The second timer fires at the new deadline and removes the member.
	f.clock.Advance(60 * time.Second)
	f.scheduler.fire(1)
	assert.Len(t, f.client.CallsTo("Ban"), 1)
	assert.False(t, f.member(t).VerificationPending)
}

func TestCheckTimeout_BeforeDeadline(t *testing.T) {
	f := setup(t)
	f.join(t)

	removed, err := f.svc.CheckTimeout(context.Background(), testChat, newbie)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestSweepExpired(t *testing.T) {
	f := setup(t)
	f.join(t)
	require.NoError(t, f.svc.OnJoin(context.Background(), group, f.policy, telegram.User{ID: 43, FirstName: "Sam"}))
	f.client.Reset()

	// Nothing is due yet.
	removed, err := f.svc.SweepExpired(context.Background(), f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	f.clock.Advance(121 * time.Second)
	removed, err = f.svc.SweepExpired(context.Background(), f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Len(t, f.client.CallsTo("Ban"), 2)

	// Timers firing afterwards find nothing to do.
	f.scheduler.fire(0)
	assert.Len(t, f.client.CallsTo("Ban"), 2)
}

func TestParseCallbackData(t *testing.T) {
	tests := []struct {
		data   string
		chatID int64
		userID int64
		ok     bool
	}{
		{"verify:-1001:42", -1001, 42, true},
		{"verify:5:6", 5, 6, true},
		{"verify:-1001", 0, 0, false},
		{"verify:a:b", 0, 0, false},
		{"verify:-1001:-3", 0, 0, false},
		{"dm:help", 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.data, func(t *testing.T) {
			chatID, userID, ok := ParseCallbackData(tt.data)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.chatID, chatID)
			assert.Equal(t, tt.userID, userID)
		})
	}
}
