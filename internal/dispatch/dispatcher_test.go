package dispatch

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ihiteshgupta/telegram-modbot/internal/captcha"
	"github.com/ihiteshgupta/telegram-modbot/internal/commands"
	"github.com/ihiteshgupta/telegram-modbot/internal/moderation"
	"github.com/ihiteshgupta/telegram-modbot/internal/modlog"
	"github.com/ihiteshgupta/telegram-modbot/internal/modlog/modlogtest"
	"github.com/ihiteshgupta/telegram-modbot/internal/ratewindow"
	"github.com/ihiteshgupta/telegram-modbot/internal/relay"
	"github.com/ihiteshgupta/telegram-modbot/internal/store"
	"github.com/ihiteshgupta/telegram-modbot/internal/telegram"
	"github.com/ihiteshgupta/telegram-modbot/internal/telegram/telegramtest"
	"github.com/ihiteshgupta/telegram-modbot/internal/wizard"
)

const (
	ownerID int64 = 7
	groupID int64 = -1001234
)

var (
	bot    = telegram.User{ID: 99, IsBot: true, FirstName: "Mod", Username: "modbot"}
	owner  = telegram.User{ID: ownerID, FirstName: "Olive"}
	admin  = telegram.User{ID: 5, FirstName: "Ada"}
	member = telegram.User{ID: 55, FirstName: "Sam", Username: "sam"}
	group  = telegram.Chat{ID: groupID, Type: telegram.ChatSupergroup, Title: "Gophers"}
	now    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type noopScheduler struct{}

func (noopScheduler) AfterFunc(time.Duration, func()) {}

type countingMetrics struct {
	updates map[string]int
	dropped int
}

func (m *countingMetrics) RecordUpdate(kind string) { m.updates[kind]++ }
func (m *countingMetrics) RecordDropped()           { m.dropped++ }

type fixture struct {
	d        *Dispatcher
	store    *store.Store
	client   *telegramtest.FakeClient
	recorder *modlogtest.Recorder
	metrics  *countingMetrics
}

func setup(t *testing.T) *fixture {
	t.Helper()
	return setupWithQueue(t, 10)
}

func setupWithQueue(t *testing.T, queueSize int) *fixture {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	client := telegramtest.NewFakeClient(bot)
	client.SetAdmins(groupID, admin, bot)
	recorder := &modlogtest.Recorder{}
	metrics := &countingMetrics{updates: make(map[string]int)}

	tracker, err := ratewindow.NewMemoryTracker(8*time.Second, 100)
	require.NoError(t, err)
	mentions, err := ratewindow.NewCooldown(45*time.Second, 100)
	require.NoError(t, err)
	sessions, err := wizard.NewMemorySessionStore(10)
	require.NoError(t, err)

	deps := Deps{
		Store:  st,
		Client: client,
		Evaluator: moderation.NewEvaluator(moderation.EvaluatorConfig{
			CommandPrefix:     ".",
			FloodMessageLimit: 6,
			FloodMuteDuration: 5 * time.Minute,
			SpamMaxLength:     900,
		}, tracker),
		Pipeline: moderation.NewPipeline(client, recorder, nil, nil),
		Relay:    relay.NewRouter(st, client, relay.Config{OwnerID: ownerID, CommandPrefix: "."}, nil, nil),
		Commands: commands.NewHandler(st, client, recorder, commands.Config{Prefix: ".", WarningLimit: 3, OwnerID: ownerID}, nil),
		Captcha:  captcha.NewService(st, client, recorder, 2*time.Minute, captcha.WithScheduler(noopScheduler{})),
		Wizard:   wizard.NewService(st, client, sessions, recorder, ownerID, nil),
		Recorder: recorder,
		Mentions: mentions,
		Metrics:  metrics,
	}

	d := New(deps, Config{QueueSize: queueSize, CommandPrefix: "."}, nil)
	d.now = func() time.Time { return now }

	return &fixture{d: d, store: st, client: client, recorder: recorder, metrics: metrics}
}

func (f *fixture) policy(t *testing.T) *store.GroupPolicy {
	t.Helper()
	p, err := f.store.Policies.FindOrDefault(context.Background(), groupID, group.Title)
	require.NoError(t, err)
	return p
}

func (f *fixture) savePolicy(t *testing.T, p *store.GroupPolicy) {
	t.Helper()
	require.NoError(t, f.store.Policies.Save(context.Background(), p))
}

func (f *fixture) enableRelay(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	s, err := f.store.RelaySettings.Get(ctx)
	require.NoError(t, err)
	s.Enabled = true
	require.NoError(t, f.store.RelaySettings.Save(ctx, s))
}

func (f *fixture) message(msg *telegram.Message) {
	f.d.Handle(context.Background(), telegram.Update{ID: 1, Message: msg})
}

func groupMessage(id int, from telegram.User, text string) *telegram.Message {
	u := from
	return &telegram.Message{ID: id, Chat: group, From: &u, Text: text}
}

func privateMessage(from telegram.User, text string) *telegram.Message {
	u := from
	return &telegram.Message{ID: 3, Chat: telegram.Chat{ID: from.ID, Type: telegram.ChatPrivate}, From: &u, Text: text}
}

func TestClassify(t *testing.T) {
	u := member
	tests := []struct {
		name string
		in   telegram.Update
		want EventType
	}{
		{"empty", telegram.Update{}, EventUnknown},
		{"callback", telegram.Update{CallbackQuery: &telegram.CallbackQuery{}}, EventCallback},
		{"private", telegram.Update{Message: privateMessage(member, "hi")}, EventPrivateMessage},
		{"channel", telegram.Update{Message: &telegram.Message{Chat: telegram.Chat{Type: telegram.ChatChannel}}}, EventChannelPost},
		{"group text", telegram.Update{Message: groupMessage(1, member, "hi")}, EventGroupMessage},
		{"join", telegram.Update{Message: &telegram.Message{Chat: group, NewMembers: []telegram.User{u}, ServiceType: telegram.ServiceNewChatMembers}}, EventJoin},
		{"leave", telegram.Update{Message: &telegram.Message{Chat: group, LeftMember: &u, ServiceType: telegram.ServiceLeftChatMember}}, EventLeave},
		{"service", telegram.Update{Message: &telegram.Message{Chat: group, ServiceType: telegram.ServicePinnedMessage}}, EventService},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.in))
		})
	}
}

func TestGroupMessage_TracksMemberAndPolicy(t *testing.T) {
	f := setup(t)
	f.message(groupMessage(10, member, "hello everyone"))

	ids, err := f.store.Policies.ListIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{groupID}, ids)

	m, err := f.store.Members.FindByUsername(context.Background(), groupID, "sam")
	require.NoError(t, err)
	assert.Equal(t, member.ID, m.UserID)
	assert.Equal(t, 1, f.metrics.updates["group_message"])
}

func TestGroupMessage_SuppressedIsNotMirrored(t *testing.T) {
	f := setup(t)
	f.enableRelay(t)

	f.message(groupMessage(10, member, "visit https://spam.example"))

	deletes := f.client.CallsTo("DeleteMessage")
	require.Len(t, deletes, 1)
	assert.Equal(t, 10, deletes[0].MessageID)
	assert.Empty(t, f.client.Texts(ownerID))
	assert.Equal(t, []string{modlog.ActionAntiLinkDelete}, f.recorder.Actions())
}

func TestGroupMessage_MirroredAndReplyResolved(t *testing.T) {
	f := setup(t)
	f.enableRelay(t)

	f.message(groupMessage(40, member, "question for the owner"))

	sends := f.client.CallsTo("SendText")
	require.Len(t, sends, 1)
	assert.Equal(t, ownerID, sends[0].ChatID)
	assert.Contains(t, sends[0].Text, "question for the owner")
	mirroredID := sends[0].Result.MessageID

	f.client.Reset()
	reply := privateMessage(owner, "here is the answer")
	reply.ReplyTo = &telegram.Message{ID: mirroredID, Chat: reply.Chat, Text: sends[0].Text}
	f.message(reply)

	sends = f.client.CallsTo("SendText")
	require.Len(t, sends, 1)
	assert.Equal(t, groupID, sends[0].ChatID)
	assert.Equal(t, "here is the answer", sends[0].Text)
	assert.Equal(t, 40, sends[0].Opts.ReplyTo)
}

func TestGroupMessage_Command(t *testing.T) {
	f := setup(t)
	f.message(groupMessage(10, admin, ".ban 42"))

	bans := f.client.CallsTo("Ban")
	require.Len(t, bans, 1)
	assert.Equal(t, int64(42), bans[0].UserID)
}

func TestGroupMessage_RelayCommand(t *testing.T) {
	f := setup(t)
	f.message(groupMessage(10, owner, ".relay on"))

	s, err := f.store.RelaySettings.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, s.Enabled)
}

func TestGroupMessage_CommandIsMirrored(t *testing.T) {
	f := setup(t)
	f.enableRelay(t)

	f.message(groupMessage(10, member, ".id"))

	require.Len(t, f.client.Texts(groupID), 1)
	mirrored := f.client.Texts(ownerID)
	require.Len(t, mirrored, 1)
	assert.Contains(t, mirrored[0], ".id")
}

func TestRelayDestinationGroup_OwnerReplyWithPrefix(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	destID := int64(-100999)
	s, err := f.store.RelaySettings.Get(ctx)
	require.NoError(t, err)
	s.Enabled = true
	s.Mode = store.RelayModeChannel
	s.ChannelID = &destID
	require.NoError(t, f.store.RelaySettings.Save(ctx, s))

	f.message(groupMessage(40, member, "question for the owner"))
	sends := f.client.CallsTo("SendText")
	require.Len(t, sends, 1)
	require.Equal(t, destID, sends[0].ChatID)
	mirroredID := sends[0].Result.MessageID

	f.client.Reset()
	dest := telegram.Chat{ID: destID, Type: telegram.ChatSupergroup, Title: "Inbox"}
	u := owner
	f.message(&telegram.Message{
		ID:      77,
		Chat:    dest,
		From:    &u,
		Text:    ".relay answer",
		ReplyTo: &telegram.Message{ID: mirroredID, Chat: dest, Text: sends[0].Text},
	})

	sends = f.client.CallsTo("SendText")
	require.Len(t, sends, 1)
	assert.Equal(t, groupID, sends[0].ChatID)
	assert.Equal(t, "answer", sends[0].Text)
	assert.Equal(t, 40, sends[0].Opts.ReplyTo)
	assert.Empty(t, f.client.Texts(destID))
}

func TestGroupMessage_Filter(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.store.Filters.Upsert(context.Background(), &store.Filter{ChatID: groupID, Trigger: "hello", Response: "Hi there!"}))

	f.message(groupMessage(10, member, "  Hello "))
	assert.Equal(t, []string{"Hi there!"}, f.client.Texts(groupID))
}

func TestGroupMessage_AdminCall(t *testing.T) {
	f := setup(t)
	msg := groupMessage(77, member, "@admin someone is spamming")

	f.message(msg)
	texts := f.client.Texts(admin.ID)
	require.Len(t, texts, 1)
	assert.Equal(t, AdminReport(msg), texts[0])
	assert.Contains(t, texts[0], "https://t.me/c/1234/77")
	assert.Empty(t, f.client.Texts(bot.ID))

	// The second call inside the cooldown is not reported.
	f.message(groupMessage(78, member, "@admin hello?"))
	assert.Len(t, f.client.Texts(admin.ID), 1)
}

func TestGroupMessage_DotAdminIsNotACommand(t *testing.T) {
	f := setup(t)
	f.message(groupMessage(10, member, ".admin"))

	assert.Empty(t, f.client.Texts(groupID))
	assert.Len(t, f.client.Texts(admin.ID), 1)
}

func TestJoin_StartsCaptchaAndWelcomes(t *testing.T) {
	f := setup(t)
	p := f.policy(t)
	p.WelcomeEnabled = true
	f.savePolicy(t, p)

	newbie := telegram.User{ID: 60, FirstName: "Nia"}
	f.message(&telegram.Message{
		ID:          20,
		Chat:        group,
		From:        &newbie,
		NewMembers:  []telegram.User{newbie, bot},
		ServiceType: telegram.ServiceNewChatMembers,
	})

	restricts := f.client.CallsTo("Restrict")
	require.Len(t, restricts, 1)
	assert.Equal(t, newbie.ID, restricts[0].UserID)
	assert.Equal(t, telegram.MutedPermissions(), restricts[0].Perms)

	texts := f.client.Texts(groupID)
	require.Len(t, texts, 2)
	assert.Contains(t, texts[0], "Verification required")
	assert.Equal(t, `Welcome <a href="tg://user?id=60">Nia</a> to Gophers!`, texts[1])

	assert.Equal(t, []string{modlog.ActionJoin}, f.recorder.Actions())
	assert.Empty(t, f.client.CallsTo("DeleteMessage"))
}

func TestLeave_SaysGoodbyeAndCleansUp(t *testing.T) {
	f := setup(t)
	p := f.policy(t)
	p.GoodbyeEnabled = true
	p.ServiceDeleteEnabled = true
	f.savePolicy(t, p)

	leaver := member
	f.message(&telegram.Message{ID: 21, Chat: group, From: &leaver, LeftMember: &leaver, ServiceType: telegram.ServiceLeftChatMember})

	assert.Equal(t, []string{`Goodbye <a href="tg://user?id=55">Sam</a>.`}, f.client.Texts(groupID))
	assert.Equal(t, []string{modlog.ActionLeave}, f.recorder.Actions())
	deletes := f.client.CallsTo("DeleteMessage")
	require.Len(t, deletes, 1)
	assert.Equal(t, 21, deletes[0].MessageID)
}

func TestServiceCleanup_KeepsListedTypes(t *testing.T) {
	f := setup(t)
	p := f.policy(t)
	p.ServiceDeleteEnabled = true
	p.KeepServiceTypes = []string{telegram.ServicePinnedMessage}
	f.savePolicy(t, p)

	f.message(&telegram.Message{ID: 30, Chat: group, ServiceType: telegram.ServiceNewChatTitle})
	f.message(&telegram.Message{ID: 31, Chat: group, ServiceType: telegram.ServicePinnedMessage})

	deletes := f.client.CallsTo("DeleteMessage")
	require.Len(t, deletes, 1)
	assert.Equal(t, 30, deletes[0].MessageID)
}

func TestServiceCleanup_Disabled(t *testing.T) {
	f := setup(t)
	f.message(&telegram.Message{ID: 30, Chat: group, ServiceType: telegram.ServiceNewChatTitle})
	assert.Empty(t, f.client.CallsTo("DeleteMessage"))
}

func TestPrivate_WizardStart(t *testing.T) {
	f := setup(t)
	f.message(privateMessage(owner, "/start"))

	texts := f.client.Texts(ownerID)
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "Olive")
}

func TestPrivate_RelayCommand(t *testing.T) {
	f := setup(t)
	f.message(privateMessage(owner, ".relay on"))

	s, err := f.store.RelaySettings.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, s.Enabled)
}

func TestCallback_Verify(t *testing.T) {
	f := setup(t)
	f.d.Handle(context.Background(), telegram.Update{CallbackQuery: &telegram.CallbackQuery{
		ID:   "cb-1",
		From: telegram.User{ID: 56},
		Data: captcha.CallbackData(groupID, member.ID),
	}})

	answers := f.client.CallsTo("AnswerCallback")
	require.Len(t, answers, 1)
	assert.Equal(t, captcha.TextNotForYou, answers[0].Text)
	assert.True(t, answers[0].Alert)
}

func TestCallback_Unknown(t *testing.T) {
	f := setup(t)
	f.d.Handle(context.Background(), telegram.Update{CallbackQuery: &telegram.CallbackQuery{ID: "cb-2", From: member, Data: "something"}})

	answers := f.client.CallsTo("AnswerCallback")
	require.Len(t, answers, 1)
	assert.Equal(t, "cb-2", answers[0].CallbackID)
	assert.Empty(t, answers[0].Text)
}

func TestChannelPost_Ignored(t *testing.T) {
	f := setup(t)
	f.message(&telegram.Message{ID: 5, Chat: telegram.Chat{ID: -100777, Type: telegram.ChatChannel}, Text: "post"})
	assert.Empty(t, f.client.Calls())
}

func TestQueue_DropsWhenFull(t *testing.T) {
	f := setupWithQueue(t, 1)
	start := telegram.Update{ID: 1, Message: privateMessage(owner, "/start")}

	f.d.Enqueue(start)
	f.d.Enqueue(start)
	assert.Equal(t, int64(1), f.d.Dropped())
	assert.Equal(t, 1, f.metrics.dropped)

	f.d.Start(context.Background())
	f.d.Stop()

	assert.Len(t, f.client.Texts(ownerID), 1)
}

func TestJumpLink(t *testing.T) {
	assert.Equal(t, "https://t.me/gophers/9", JumpLink(telegram.Chat{ID: -1005, Username: "gophers"}, 9))
	assert.Equal(t, "https://t.me/c/5551/9", JumpLink(telegram.Chat{ID: -1005551}, 9))
}

func TestHasAdminCall(t *testing.T) {
	for text, want := range map[string]bool{
		"@admin":             true,
		"help /admin please": true,
		".ADMIN":             true,
		"@administrator":     false,
		"email@admin.com":    false,
		"":                   false,
	} {
		assert.Equal(t, want, HasAdminCall(text), text)
	}
	assert.True(t, strings.HasPrefix(AdminReport(groupMessage(1, member, "x")), "🚨 Admin Mentioned"))
}
