package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ihiteshgupta/telegram-modbot/internal/store"
	"github.com/ihiteshgupta/telegram-modbot/internal/telegram"
)

// Telegram length limits for message text and media captions.
const (
	maxTextLength    = 4096
	maxCaptionLength = 1024
)

// Relay directions reported to Metrics.
const (
	DirectionOut = "out"
	DirectionIn  = "in"
)

// Control replies.
const (
	TextOwnerOnly     = "⛔ Relay controls are owner-only."
	TextEnabled       = "✅ Relay is now enabled."
	TextDisabled      = "✅ Relay is now disabled."
	TextModePrivate   = "✅ Relay destination set to private owner/admin inbox."
	TextChannelUsage  = "⚠️ Usage: .relay channel <channel_id>"
	TextSaveFailed    = "⚠️ Failed to update relay settings."
	textModeChannelFm = "✅ Relay destination set to channel/group: %d"
)

// Metrics counts relayed copies.
type Metrics interface {
	RecordRelay(direction string)
}

// Config holds the identities the router trusts.
type Config struct {
	OwnerID       int64
	AdminIDs      []int64
	CommandPrefix string
}

// Router mirrors group messages and resolves replies to mirrored copies.
type Router struct {
	settings store.RelaySettingsRepository
	mappings store.RelayMappingRepository
	client   telegram.Client
	cfg      Config
	metrics  Metrics
	log      *slog.Logger

	stripRe *regexp.Regexp
	now     func() time.Time
}

// NewRouter creates a router over the relay repositories of st. metrics may
// be nil.
func NewRouter(st *store.Store, client telegram.Client, cfg Config, metrics Metrics, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = "."
	}

	return &Router{
		settings: st.RelaySettings,
		mappings: st.RelayMappings,
		client:   client,
		cfg:      cfg,
		metrics:  metrics,
		log:      logger,
		stripRe:  regexp.MustCompile(`(?i)^` + regexp.QuoteMeta(cfg.CommandPrefix) + `relay\s*`),
		now:      time.Now,
	}
}

// Recipients returns the private-mode destinations: the owner followed by
// the relay admins, without duplicates.
func (r *Router) Recipients() []int64 {
	seen := make(map[int64]bool)
	var out []int64
	add := func(id int64) {
		if id == 0 || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}

	add(r.cfg.OwnerID)
	for _, id := range r.cfg.AdminIDs {
		add(id)
	}
	return out
}

// IsDestination reports whether chatID is the configured relay channel.
func (r *Router) IsDestination(ctx context.Context, chatID int64) (bool, error) {
	settings, err := r.settings.Get(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to load relay settings: %w", err)
	}
	return isChannelTarget(settings, chatID), nil
}

func isChannelTarget(s *store.RelaySettings, chatID int64) bool {
	return s.Mode == store.RelayModeChannel && s.ChannelID != nil && *s.ChannelID == chatID
}

func (r *Router) targets(s *store.RelaySettings) []int64 {
	if s.Mode == store.RelayModeChannel && s.ChannelID != nil {
		return []int64{*s.ChannelID}
	}
	return r.Recipients()
}

// Mirror copies a group message to every relay destination and records a
// mapping for each delivered copy. Delivery failures are logged and skipped.
// It returns the number of copies delivered.
func (r *Router) Mirror(ctx context.Context, msg *telegram.Message) (int, error) {
	settings, err := r.settings.Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load relay settings: %w", err)
	}
	if !settings.Enabled {
		return 0, nil
	}
	if msg.From != nil && msg.From.ID == r.client.Self().ID {
		return 0, nil
	}
	if isChannelTarget(settings, msg.Chat.ID) {
		return 0, nil
	}
	if msg.Text == "" && msg.Media == nil {
		return 0, nil
	}

	origin := Origin{ChatID: msg.Chat.ID, MessageID: msg.ID}
	header := Header(msg)

	delivered := 0
	for _, target := range r.targets(settings) {
		for _, res := range r.copyTo(ctx, target, msg, header) {
			if !res.OK {
				r.log.Debug("failed to mirror message",
					"target", target,
					"chat_id", origin.ChatID,
					"message_id", origin.MessageID,
					"kind", res.Kind,
				)
				continue
			}
			delivered++
			r.record(DirectionOut)
			r.saveMapping(ctx, target, res.MessageID, origin)
		}
	}

	return delivered, nil
}

// copyTo sends one reproduction of msg and returns the result of every
// message it produced.
func (r *Router) copyTo(ctx context.Context, target int64, msg *telegram.Message, header string) []telegram.Result {
	switch {
	case msg.Media == nil:
		text := header + "\n\n" + msg.Text
		return []telegram.Result{r.client.SendText(ctx, target, truncate(text, maxTextLength), telegram.SendOptions{})}

	case msg.Media.Kind.SupportsCaption():
		caption := header
		if msg.Caption != "" {
			caption += "\n\n" + msg.Caption
		}
		return []telegram.Result{r.client.SendMedia(ctx, target, *msg.Media, truncate(caption, maxCaptionLength), telegram.SendOptions{})}

	case msg.Media.Kind.Resendable():
		// No caption: the header follows as its own message.
		media := r.client.SendMedia(ctx, target, *msg.Media, "", telegram.SendOptions{})
		opts := telegram.SendOptions{}
		if media.OK {
			opts.ReplyTo = media.MessageID
		}
		return []telegram.Result{media, r.client.SendText(ctx, target, header, opts)}

	default:
		text := header + "\n\n[" + string(msg.Media.Kind) + "]"
		return []telegram.Result{r.client.SendText(ctx, target, text, telegram.SendOptions{})}
	}
}

func (r *Router) saveMapping(ctx context.Context, relayChatID int64, relayMessageID int, origin Origin) {
	err := r.mappings.Save(ctx, &store.RelayMapping{
		RelayChatID:       relayChatID,
		RelayMessageID:    relayMessageID,
		OriginalChatID:    origin.ChatID,
		OriginalMessageID: origin.MessageID,
		CreatedAt:         r.now().UTC(),
	})
	if err != nil {
		r.log.Warn("failed to save relay mapping",
			"relay_chat_id", relayChatID,
			"relay_message_id", relayMessageID,
			"error", err,
		)
	}
}

// ResolveReply forwards the owner's reply to a mirrored copy back to the
// origin chat, as a reply to the origin message. It reports whether msg was
// a reply to a known copy.
func (r *Router) ResolveReply(ctx context.Context, msg *telegram.Message) bool {
	if msg.From == nil || !r.isOwner(msg.From.ID) || msg.ReplyTo == nil {
		return false
	}

	if !msg.Chat.IsPrivate() {
		dest, err := r.IsDestination(ctx, msg.Chat.ID)
		if err != nil {
			r.log.Warn("failed to check relay destination", "chat_id", msg.Chat.ID, "error", err)
			return false
		}
		if !dest {
			return false
		}
	}

	origin, ok := r.lookup(ctx, msg.Chat.ID, msg.ReplyTo)
	if !ok {
		return false
	}

	opts := telegram.SendOptions{ReplyTo: origin.MessageID}
	var res telegram.Result
	switch {
	case msg.Text != "":
		text := strings.TrimSpace(r.stripRe.ReplaceAllString(strings.TrimSpace(msg.Text), ""))
		if text == "" {
			return true
		}
		res = r.client.SendText(ctx, origin.ChatID, text, opts)
	case msg.Media != nil && replyMedia(msg.Media.Kind):
		res = r.client.SendMedia(ctx, origin.ChatID, *msg.Media, msg.Caption, opts)
	default:
		return true
	}

	if !res.OK {
		r.log.Warn("failed to deliver relay reply",
			"chat_id", origin.ChatID,
			"reply_to", origin.MessageID,
			"kind", res.Kind,
		)
		return true
	}

	r.record(DirectionIn)
	r.log.Info("relay reply delivered", "chat_id", origin.ChatID, "reply_to", origin.MessageID)
	return true
}

// lookup resolves a mirrored copy to its origin. The mapping store is
// consulted first; the correlation line is the fallback for copies whose
// mapping row is gone.
func (r *Router) lookup(ctx context.Context, chatID int64, mirrored *telegram.Message) (Origin, bool) {
	m, err := r.mappings.Find(ctx, chatID, mirrored.ID)
	switch {
	case err == nil:
		return Origin{ChatID: m.OriginalChatID, MessageID: m.OriginalMessageID}, true
	case !errors.Is(err, store.ErrNotFound):
		r.log.Warn("failed to find relay mapping", "chat_id", chatID, "message_id", mirrored.ID, "error", err)
	}

	return ParseCorrelation(mirrored.Content())
}

func replyMedia(kind telegram.MediaKind) bool {
	switch kind {
	case telegram.MediaPhoto, telegram.MediaVideo, telegram.MediaVoice,
		telegram.MediaDocument, telegram.MediaSticker, telegram.MediaAnimation:
		return true
	default:
		return false
	}
}

// IsCommand reports whether text is a relay control command.
func (r *Router) IsCommand(text string) bool {
	text = strings.ToLower(strings.TrimSpace(text))
	rest, ok := strings.CutPrefix(text, strings.ToLower(r.cfg.CommandPrefix)+"relay")
	if !ok {
		return false
	}
	return rest == "" || rest[0] == ' ' || rest[0] == '\n' || rest[0] == '\t'
}

// HandleCommand runs a relay control command. It reports whether msg was one.
func (r *Router) HandleCommand(ctx context.Context, msg *telegram.Message) bool {
	if !r.IsCommand(msg.Text) {
		return false
	}

	reply := func(text string) {
		r.client.SendText(ctx, msg.Chat.ID, text, telegram.SendOptions{ReplyTo: msg.ID})
	}

	if msg.From == nil || !r.isOwner(msg.From.ID) {
		reply(TextOwnerOnly)
		return true
	}

	settings, err := r.settings.Get(ctx)
	if err != nil {
		r.log.Error("failed to load relay settings", "error", err)
		reply(TextSaveFailed)
		return true
	}

	args := strings.Fields(r.stripRe.ReplaceAllString(strings.TrimSpace(msg.Text), ""))
	action := ""
	if len(args) > 0 {
		action = strings.ToLower(args[0])
	}

	var text string
	switch action {
	case "on":
		settings.Enabled = true
		text = TextEnabled
	case "off":
		settings.Enabled = false
		text = TextDisabled
	case "private":
		settings.Mode = store.RelayModePrivate
		settings.ChannelID = nil
		text = TextModePrivate
	case "channel":
		if len(args) < 2 {
			reply(TextChannelUsage)
			return true
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil || id == 0 {
			reply(TextChannelUsage)
			return true
		}
		settings.Mode = store.RelayModeChannel
		settings.ChannelID = &id
		text = fmt.Sprintf(textModeChannelFm, id)
	default:
		reply(StatusText(settings))
		return true
	}

	settings.UpdatedAt = r.now().UTC()
	if err := r.settings.Save(ctx, settings); err != nil {
		r.log.Error("failed to save relay settings", "error", err)
		reply(TextSaveFailed)
		return true
	}

	r.log.Info("relay settings changed",
		"enabled", settings.Enabled,
		"mode", settings.Mode,
		"by", msg.From.ID,
	)
	reply(text)
	return true
}

// StatusText renders the relay control panel.
func StatusText(s *store.RelaySettings) string {
	status := "OFF"
	if s.Enabled {
		status = "ON"
	}
	channel := "not set"
	if s.ChannelID != nil {
		channel = strconv.FormatInt(*s.ChannelID, 10)
	}

	return strings.Join([]string{
		"⚙️ Relay Controls",
		"• Status: " + status,
		"• Mode: " + s.Mode,
		"• Channel ID: " + channel,
		"",
		"Commands:",
		".relay on",
		".relay off",
		".relay private",
		".relay channel <channel_id>",
	}, "\n")
}

func (r *Router) isOwner(userID int64) bool {
	return r.cfg.OwnerID != 0 && userID == r.cfg.OwnerID
}

func (r *Router) record(direction string) {
	if r.metrics != nil {
		r.metrics.RecordRelay(direction)
	}
}
