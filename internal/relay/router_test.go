package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ihiteshgupta/telegram-modbot/internal/store"
	"github.com/ihiteshgupta/telegram-modbot/internal/telegram"
	"github.com/ihiteshgupta/telegram-modbot/internal/telegram/telegramtest"
)

const (
	ownerID   int64 = 7
	adminID   int64 = 8
	groupID   int64 = -1001
	channelID int64 = -1009
)

var (
	bot    = telegram.User{ID: 99, IsBot: true, FirstName: "Mod", Username: "modbot"}
	owner  = telegram.User{ID: ownerID, FirstName: "Olive"}
	member = telegram.User{ID: 55, FirstName: "Sam", Username: "sam"}
	group  = telegram.Chat{ID: groupID, Type: telegram.ChatSupergroup, Title: "Gophers"}
	dm     = telegram.Chat{ID: ownerID, Type: telegram.ChatPrivate}
)

type countingMetrics struct {
	counts map[string]int
}

func (m *countingMetrics) RecordRelay(direction string) {
	m.counts[direction]++
}

type fixture struct {
	router  *Router
	store   *store.Store
	client  *telegramtest.FakeClient
	metrics *countingMetrics
}

func setup(t *testing.T) *fixture {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	client := telegramtest.NewFakeClient(bot)
	metrics := &countingMetrics{counts: make(map[string]int)}
	router := NewRouter(st, client, Config{
		OwnerID:       ownerID,
		AdminIDs:      []int64{adminID, ownerID},
		CommandPrefix: ".",
	}, metrics, nil)

	return &fixture{router: router, store: st, client: client, metrics: metrics}
}

func (f *fixture) enable(t *testing.T, mode string, channel *int64) {
	t.Helper()
	ctx := context.Background()
	s, err := f.store.RelaySettings.Get(ctx)
	require.NoError(t, err)
	s.Enabled = true
	s.Mode = mode
	s.ChannelID = channel
	require.NoError(t, f.store.RelaySettings.Save(ctx, s))
}

func groupText(id int, text string) *telegram.Message {
	from := member
	return &telegram.Message{ID: id, Chat: group, From: &from, Text: text}
}

func ownerMessage(chat telegram.Chat, text string, replyTo *telegram.Message) *telegram.Message {
	from := owner
	return &telegram.Message{ID: 500, Chat: chat, From: &from, Text: text, ReplyTo: replyTo}
}

func TestCorrelationLineRoundTrip(t *testing.T) {
	line := CorrelationLine(Origin{ChatID: groupID, MessageID: 42})
	assert.Equal(t, "#relay v1 c=-1001 m=42", line)

	origin, ok := ParseCorrelation("📨 Relay from Gophers\n👤 Sam\n" + line + "\n\nhello")
	require.True(t, ok)
	assert.Equal(t, Origin{ChatID: groupID, MessageID: 42}, origin)
}

func TestParseCorrelationRejects(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"no line", "hello there"},
		{"unknown version", "#relay v2 c=-1001 m=42"},
		{"zero message", "#relay v1 c=-1001 m=0"},
		{"inline", "see #relay v1 c=-1001 m=42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := ParseCorrelation(tt.text)
			assert.False(t, ok)
		})
	}
}

func TestHeaderNamesGroupAndSender(t *testing.T) {
	h := Header(groupText(42, "hi"))
	assert.Contains(t, h, "Gophers")
	assert.Contains(t, h, "Sam (@sam)")
	assert.Contains(t, h, "#relay v1 c=-1001 m=42")
}

func TestRecipientsDeduplicates(t *testing.T) {
	f := setup(t)
	assert.Equal(t, []int64{ownerID, adminID}, f.router.Recipients())
}

func TestMirrorDisabledDoesNothing(t *testing.T) {
	f := setup(t)

	n, err := f.router.Mirror(context.Background(), groupText(42, "hi"))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.client.Calls())
}

func TestMirrorTextToPrivateRecipients(t *testing.T) {
	f := setup(t)
	f.enable(t, store.RelayModePrivate, nil)
	ctx := context.Background()

	n, err := f.router.Mirror(ctx, groupText(42, "hello"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	sends := f.client.CallsTo("SendText")
	require.Len(t, sends, 2)
	assert.Equal(t, ownerID, sends[0].ChatID)
	assert.Equal(t, adminID, sends[1].ChatID)
	assert.Contains(t, sends[0].Text, "#relay v1 c=-1001 m=42")
	assert.Contains(t, sends[0].Text, "hello")

	for _, s := range sends {
		m, err := f.store.RelayMappings.Find(ctx, s.ChatID, s.Result.MessageID)
		require.NoError(t, err)
		assert.Equal(t, groupID, m.OriginalChatID)
		assert.Equal(t, 42, m.OriginalMessageID)
	}
	assert.Equal(t, 2, f.metrics.counts[DirectionOut])
}

func TestMirrorChannelMode(t *testing.T) {
	f := setup(t)
	ch := channelID
	f.enable(t, store.RelayModeChannel, &ch)

	n, err := f.router.Mirror(context.Background(), groupText(42, "hello"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sends := f.client.CallsTo("SendText")
	require.Len(t, sends, 1)
	assert.Equal(t, channelID, sends[0].ChatID)
}

func TestMirrorSkipsBotAndDestination(t *testing.T) {
	f := setup(t)
	ch := channelID
	f.enable(t, store.RelayModeChannel, &ch)
	ctx := context.Background()

	self := bot
	n, err := f.router.Mirror(ctx, &telegram.Message{ID: 1, Chat: group, From: &self, Text: "mine"})
	require.NoError(t, err)
	assert.Zero(t, n)

	inChannel := groupText(2, "already here")
	inChannel.Chat = telegram.Chat{ID: channelID, Type: telegram.ChatSupergroup}
	n, err = f.router.Mirror(ctx, inChannel)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Empty(t, f.client.Calls())
}

func TestMirrorCaptionedMedia(t *testing.T) {
	f := setup(t)
	f.enable(t, store.RelayModePrivate, nil)

	msg := groupText(42, "")
	msg.Media = &telegram.Media{Kind: telegram.MediaPhoto, FileID: "photo-1"}
	msg.Caption = "look"

	n, err := f.router.Mirror(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	media := f.client.CallsTo("SendMedia")
	require.Len(t, media, 2)
	assert.Equal(t, "photo-1", media[0].Media.FileID)
	assert.Contains(t, media[0].Text, "#relay v1 c=-1001 m=42")
	assert.Contains(t, media[0].Text, "look")
	assert.Empty(t, f.client.CallsTo("SendText"))
}

func TestMirrorStickerFollowsWithHeader(t *testing.T) {
	f := setup(t)
	ch := channelID
	f.enable(t, store.RelayModeChannel, &ch)
	ctx := context.Background()

	msg := groupText(42, "")
	msg.Media = &telegram.Media{Kind: telegram.MediaSticker, FileID: "sticker-1"}

	n, err := f.router.Mirror(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	media := f.client.CallsTo("SendMedia")
	require.Len(t, media, 1)
	assert.Empty(t, media[0].Text)

	texts := f.client.CallsTo("SendText")
	require.Len(t, texts, 1)
	assert.Equal(t, media[0].Result.MessageID, texts[0].Opts.ReplyTo)
	assert.Contains(t, texts[0].Text, "#relay v1")

	// Either copy routes replies back.
	for _, id := range []int{media[0].Result.MessageID, texts[0].Result.MessageID} {
		_, err := f.store.RelayMappings.Find(ctx, channelID, id)
		assert.NoError(t, err)
	}
}

func TestMirrorPollIsHeaderOnly(t *testing.T) {
	f := setup(t)
	ch := channelID
	f.enable(t, store.RelayModeChannel, &ch)

	msg := groupText(42, "")
	msg.Media = &telegram.Media{Kind: telegram.MediaPoll}

	n, err := f.router.Mirror(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, f.client.CallsTo("SendMedia"))

	texts := f.client.CallsTo("SendText")
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0].Text, "[poll]")
}

func TestMirrorFailuresAreSkipped(t *testing.T) {
	f := setup(t)
	f.enable(t, store.RelayModePrivate, nil)
	f.client.FailOn("SendText", errors.New("blocked"))

	n, err := f.router.Mirror(context.Background(), groupText(42, "hello"))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, f.client.CallsTo("SendText"), 2)
	assert.Zero(t, f.metrics.counts[DirectionOut])
}

func TestRoundTripThroughMapping(t *testing.T) {
	f := setup(t)
	f.enable(t, store.RelayModePrivate, nil)
	ctx := context.Background()

	_, err := f.router.Mirror(ctx, groupText(42, "question?"))
	require.NoError(t, err)
	copyID := f.client.CallsTo("SendText")[0].Result.MessageID
	f.client.Reset()

	// The reply only carries the copy's id; lookup must hit the store.
	reply := ownerMessage(dm, ".relay answer!", &telegram.Message{ID: copyID, Chat: dm})
	assert.True(t, f.router.ResolveReply(ctx, reply))

	sends := f.client.CallsTo("SendText")
	require.Len(t, sends, 1)
	assert.Equal(t, groupID, sends[0].ChatID)
	assert.Equal(t, "answer!", sends[0].Text)
	assert.Equal(t, 42, sends[0].Opts.ReplyTo)
	assert.Equal(t, 1, f.metrics.counts[DirectionIn])
}

func TestResolveReplyFallsBackToCorrelationLine(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	mirrored := &telegram.Message{ID: 3000, Chat: dm, Text: Header(groupText(77, "")) + "\n\nold"}
	assert.True(t, f.router.ResolveReply(ctx, ownerMessage(dm, "late answer", mirrored)))

	sends := f.client.CallsTo("SendText")
	require.Len(t, sends, 1)
	assert.Equal(t, groupID, sends[0].ChatID)
	assert.Equal(t, 77, sends[0].Opts.ReplyTo)
}

func TestResolveReplyUnknownIsNoop(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	unrelated := &telegram.Message{ID: 3000, Chat: dm, Text: "just a note"}
	assert.False(t, f.router.ResolveReply(ctx, ownerMessage(dm, "hello", unrelated)))
	assert.Empty(t, f.client.Calls())
}

func TestResolveReplyIsOwnerOnly(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	mirrored := &telegram.Message{ID: 3000, Chat: dm, Text: Header(groupText(77, ""))}
	from := telegram.User{ID: adminID, FirstName: "Ada"}
	reply := &telegram.Message{ID: 501, Chat: telegram.Chat{ID: adminID, Type: telegram.ChatPrivate}, From: &from, Text: "hi", ReplyTo: mirrored}

	assert.False(t, f.router.ResolveReply(ctx, reply))
	assert.False(t, f.router.ResolveReply(ctx, ownerMessage(dm, "not a reply", nil)))
	assert.Empty(t, f.client.Calls())
}

func TestResolveReplyInGroupNeedsDestination(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	mirrored := &telegram.Message{ID: 3000, Text: Header(groupText(77, ""))}

	relayGroup := telegram.Chat{ID: channelID, Type: telegram.ChatSupergroup}
	assert.False(t, f.router.ResolveReply(ctx, ownerMessage(relayGroup, "hi", mirrored)))

	ch := channelID
	f.enable(t, store.RelayModeChannel, &ch)
	assert.True(t, f.router.ResolveReply(ctx, ownerMessage(relayGroup, "hi", mirrored)))
	assert.Len(t, f.client.CallsTo("SendText"), 1)
}

func TestResolveReplyMedia(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	mirrored := &telegram.Message{ID: 3000, Chat: dm, Text: Header(groupText(77, ""))}

	reply := ownerMessage(dm, "", mirrored)
	reply.Media = &telegram.Media{Kind: telegram.MediaVoice, FileID: "voice-1"}
	reply.Caption = "listen"
	assert.True(t, f.router.ResolveReply(ctx, reply))

	media := f.client.CallsTo("SendMedia")
	require.Len(t, media, 1)
	assert.Equal(t, groupID, media[0].ChatID)
	assert.Equal(t, "voice-1", media[0].Media.FileID)
	assert.Equal(t, "listen", media[0].Text)
	assert.Equal(t, 77, media[0].Opts.ReplyTo)
}

func TestResolveReplyEmptyAfterStrip(t *testing.T) {
	f := setup(t)
	mirrored := &telegram.Message{ID: 3000, Chat: dm, Text: Header(groupText(77, ""))}

	assert.True(t, f.router.ResolveReply(context.Background(), ownerMessage(dm, ".RELAY   ", mirrored)))
	assert.Empty(t, f.client.Calls())
}

func TestIsCommand(t *testing.T) {
	f := setup(t)
	assert.True(t, f.router.IsCommand(".relay"))
	assert.True(t, f.router.IsCommand(" .Relay on"))
	assert.False(t, f.router.IsCommand(".relays"))
	assert.False(t, f.router.IsCommand("relay on"))
}

func TestHandleCommand(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	run := func(text string) string {
		f.client.Reset()
		require.True(t, f.router.HandleCommand(ctx, ownerMessage(dm, text, nil)))
		texts := f.client.Texts(dm.ID)
		require.Len(t, texts, 1)
		return texts[0]
	}

	assert.Equal(t, TextEnabled, run(".relay on"))
	s, err := f.store.RelaySettings.Get(ctx)
	require.NoError(t, err)
	assert.True(t, s.Enabled)

	assert.Equal(t, "✅ Relay destination set to channel/group: -1009", run(".relay channel -1009"))
	s, err = f.store.RelaySettings.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.RelayModeChannel, s.Mode)
	require.NotNil(t, s.ChannelID)
	assert.Equal(t, channelID, *s.ChannelID)

	assert.Equal(t, TextChannelUsage, run(".relay channel abc"))
	assert.Equal(t, TextChannelUsage, run(".relay channel"))

	status := run(".relay")
	assert.Contains(t, status, "• Status: ON")
	assert.Contains(t, status, "• Mode: channel")
	assert.Contains(t, status, "• Channel ID: -1009")

	assert.Equal(t, TextModePrivate, run(".relay private"))
	s, err = f.store.RelaySettings.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.RelayModePrivate, s.Mode)
	assert.Nil(t, s.ChannelID)

	assert.Equal(t, TextDisabled, run(".relay off"))
	assert.Contains(t, run(".relay status"), "• Status: OFF")
}

func TestHandleCommandOwnerOnly(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	from := member
	msg := &telegram.Message{ID: 9, Chat: group, From: &from, Text: ".relay on"}
	assert.True(t, f.router.HandleCommand(ctx, msg))
	assert.Equal(t, []string{TextOwnerOnly}, f.client.Texts(groupID))

	s, err := f.store.RelaySettings.Get(ctx)
	require.NoError(t, err)
	assert.False(t, s.Enabled)

	assert.False(t, f.router.HandleCommand(ctx, groupText(10, "hello")))
}
