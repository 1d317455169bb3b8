package commands

import (
	"context"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ihiteshgupta/telegram-modbot/internal/greeting"
	"github.com/ihiteshgupta/telegram-modbot/internal/modlog"
	"github.com/ihiteshgupta/telegram-modbot/internal/store"
	"github.com/ihiteshgupta/telegram-modbot/internal/telegram"
)

var durationRe = regexp.MustCompile(`(?i)^(\d+)([smhd])$`)

// ParseDuration parses "30s", "10m", "2h" or "1d". It returns false for
// anything else.
func ParseDuration(s string) (time.Duration, bool) {
	m := durationRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, false
	}

	unit := time.Second
	switch strings.ToLower(m[2]) {
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	}
	return time.Duration(n) * unit, true
}

// HumanizeDuration renders d in the largest whole unit.
func HumanizeDuration(d time.Duration) string {
	secs := int64(d / time.Second)
	plural := func(n int64, unit string) string {
		if n == 1 {
			return fmt.Sprintf("%d %s", n, unit)
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}

	switch {
	case secs <= 0:
		return "until manually unmuted"
	case secs%86400 == 0:
		return plural(secs/86400, "day")
	case secs%3600 == 0:
		return plural(secs/3600, "hour")
	case secs%60 == 0:
		return plural(secs/60, "minute")
	default:
		return fmt.Sprintf("%d seconds", secs)
	}
}

// UserInfo renders the .id reply.
func UserInfo(u telegram.User, chat telegram.Chat) string {
	username := "Not set"
	if u.Username != "" {
		username = "@" + u.Username
	}
	bot := "No"
	if u.IsBot {
		bot = "Yes"
	}
	title := chat.Title
	if title == "" {
		title = strconv.FormatInt(chat.ID, 10)
	}

	return strings.Join([]string{
		"🪪 <b>User Information</b>",
		"👤 Name: " + html.EscapeString(strings.TrimSpace(u.FirstName+" "+u.LastName)),
		fmt.Sprintf("🆔 User ID: <code>%d</code>", u.ID),
		"🔗 Username: " + html.EscapeString(username),
		"🤖 Bot: " + bot,
		fmt.Sprintf("📍 Chat ID: <code>%d</code>", chat.ID),
		"🏠 Chat: " + html.EscapeString(title),
	}, "\n")
}

func (h *Handler) id(ctx context.Context, req *request) error {
	subject := req.actor
	if req.msg.ReplyTo != nil || len(req.args) > 0 {
		target, _, err := h.resolveTarget(ctx, req)
		switch {
		case err == nil:
			subject = target
		case errors.Is(err, errUnresolved):
			if text := ResolutionError(req.args); text != "" {
				h.reply(ctx, req, text)
				return nil
			}
		default:
			return err
		}
	}

	h.replyHTML(ctx, req, UserInfo(subject, req.msg.Chat))
	return nil
}

func (h *Handler) ban(ctx context.Context, req *request) error {
	target, _, ok, err := h.targetOrUsage(ctx, req)
	if !ok || err != nil {
		return err
	}

	if r := h.client.Ban(ctx, req.msg.Chat.ID, target.ID); !r.OK {
		h.reply(ctx, req, "❌ Ban failed: "+failureText(r))
		return nil
	}

	h.announce(ctx, req, action{title: "🚫 User Banned", subject: greeting.MentionHTML(target)})
	h.record(req, modlog.ActionBan, &target, "")
	return nil
}

func (h *Handler) unban(ctx context.Context, req *request) error {
	target, _, ok, err := h.targetOrUsage(ctx, req)
	if !ok || err != nil {
		return err
	}

	if r := h.client.Unban(ctx, req.msg.Chat.ID, target.ID); !r.OK {
		h.reply(ctx, req, "❌ Unban failed: "+failureText(r))
		return nil
	}

	h.announce(ctx, req, action{title: "✅ User Unbanned", subject: greeting.MentionHTML(target)})
	h.record(req, modlog.ActionUnban, &target, "")
	return nil
}

// remove bans then unbans, which removes the member without a lasting ban.
func (h *Handler) remove(ctx context.Context, chatID, userID int64) {
	if r := h.client.Ban(ctx, chatID, userID); !r.OK {
		h.log.Warn("failed to remove member", "chat_id", chatID, "user_id", userID, "kind", r.Kind)
	}
	if r := h.client.Unban(ctx, chatID, userID); !r.OK {
		h.log.Warn("failed to unban removed member", "chat_id", chatID, "user_id", userID, "kind", r.Kind)
	}
}

func (h *Handler) kick(ctx context.Context, req *request) error {
	target, _, ok, err := h.targetOrUsage(ctx, req)
	if !ok || err != nil {
		return err
	}

	h.remove(ctx, req.msg.Chat.ID, target.ID)
	h.announce(ctx, req, action{title: "👢 User Kicked", subject: greeting.MentionHTML(target)})
	h.record(req, modlog.ActionKick, &target, "")
	return nil
}

func (h *Handler) mute(ctx context.Context, req *request) error {
	target, consumed, ok, err := h.targetOrUsage(ctx, req)
	if !ok || err != nil {
		return err
	}

	var duration time.Duration
	if len(req.args) > consumed {
		d, ok := ParseDuration(req.args[consumed])
		if !ok {
			h.usage(ctx, req)
			return nil
		}
		duration = d
	}

	var until time.Time
	if duration > 0 {
		until = h.now().Add(duration)
	}
	if r := h.client.Restrict(ctx, req.msg.Chat.ID, target.ID, telegram.MutedPermissions(), until); !r.OK {
		h.reply(ctx, req, "❌ Mute failed: "+failureText(r))
		return nil
	}

	patch := store.MemberPatch{ClearMutedUntil: true}
	if !until.IsZero() {
		utc := until.UTC()
		patch = store.MemberPatch{MutedUntil: &utc}
	}
	if _, err := h.members.Upsert(ctx, req.msg.Chat.ID, target.ID, patch); err != nil {
		return fmt.Errorf("failed to save mute: %w", err)
	}

	h.announce(ctx, req, action{
		title:    "🔇 User Muted",
		subject:  greeting.MentionHTML(target),
		duration: HumanizeDuration(duration),
	})
	h.replyHTML(ctx, req, "✅ Successfully restricted "+greeting.MentionHTML(target)+".")

	reason := "indefinite"
	if duration > 0 {
		reason = fmt.Sprintf("for %ds", int64(duration/time.Second))
	}
	h.record(req, modlog.ActionMute, &target, reason)
	return nil
}

func (h *Handler) unmute(ctx context.Context, req *request) error {
	target, _, ok, err := h.targetOrUsage(ctx, req)
	if !ok || err != nil {
		return err
	}

	if r := h.client.Restrict(ctx, req.msg.Chat.ID, target.ID, telegram.BaselinePermissions(), time.Time{}); !r.OK {
		h.reply(ctx, req, "❌ Unmute failed: "+failureText(r))
		return nil
	}
	if _, err := h.members.Upsert(ctx, req.msg.Chat.ID, target.ID, store.MemberPatch{ClearMutedUntil: true}); err != nil {
		return fmt.Errorf("failed to clear mute: %w", err)
	}

	h.announce(ctx, req, action{title: "🔊 User Unmuted", subject: greeting.MentionHTML(target)})
	h.replyHTML(ctx, req, "✅ Successfully unrestricted "+greeting.MentionHTML(target)+".")
	h.record(req, modlog.ActionUnmute, &target, "")
	return nil
}

func (h *Handler) warn(ctx context.Context, req *request) error {
	target, _, ok, err := h.targetOrUsage(ctx, req)
	if !ok || err != nil {
		return err
	}

	count, err := h.members.IncrementWarnings(ctx, req.msg.Chat.ID, target.ID)
	if err != nil {
		return fmt.Errorf("failed to add warning: %w", err)
	}

	h.announce(ctx, req, action{
		title:   "⚠️ User Warned",
		subject: greeting.MentionHTML(target),
		detail:  fmt.Sprintf("📊 Warnings: %d/%d", count, h.cfg.WarningLimit),
	})
	h.record(req, modlog.ActionWarn, &target, fmt.Sprintf("Count %d", count))

	if count < h.cfg.WarningLimit {
		return nil
	}

	h.remove(ctx, req.msg.Chat.ID, target.ID)
	zero := 0
	if _, err := h.members.Upsert(ctx, req.msg.Chat.ID, target.ID, store.MemberPatch{Warnings: &zero}); err != nil {
		return fmt.Errorf("failed to reset warnings: %w", err)
	}
	h.replyHTML(ctx, req, "🚨 "+greeting.MentionHTML(target)+" reached the warning limit and was removed.")
	h.record(req, modlog.ActionKick, &target, "Warning limit reached")
	return nil
}

func (h *Handler) warnings(ctx context.Context, req *request) error {
	target, _, ok, err := h.targetOrUsage(ctx, req)
	if !ok || err != nil {
		return err
	}

	m, err := h.members.FindOrDefault(ctx, req.msg.Chat.ID, target.ID)
	if err != nil {
		return fmt.Errorf("failed to load member: %w", err)
	}
	h.replyHTML(ctx, req, fmt.Sprintf("📊 Warnings for %s: %d/%d", greeting.MentionHTML(target), m.Warnings, h.cfg.WarningLimit))
	return nil
}

func (h *Handler) resetWarns(ctx context.Context, req *request) error {
	target, _, ok, err := h.targetOrUsage(ctx, req)
	if !ok || err != nil {
		return err
	}

	zero := 0
	if _, err := h.members.Upsert(ctx, req.msg.Chat.ID, target.ID, store.MemberPatch{Warnings: &zero}); err != nil {
		return fmt.Errorf("failed to reset warnings: %w", err)
	}
	h.replyHTML(ctx, req, "♻️ Warnings reset for "+greeting.MentionHTML(target)+".")
	return nil
}

// purge deletes every message from the replied-to one up to the command,
// one call per id.
func (h *Handler) purge(ctx context.Context, req *request) error {
	if req.msg.ReplyTo == nil {
		h.usage(ctx, req)
		return nil
	}

	deleted := 0
	for id := req.msg.ReplyTo.ID; id <= req.msg.ID; id++ {
		if r := h.client.DeleteMessage(ctx, req.msg.Chat.ID, id); r.OK {
			deleted++
		}
	}

	h.log.Info("messages purged", "chat_id", req.msg.Chat.ID, "from", req.msg.ReplyTo.ID, "to", req.msg.ID, "deleted", deleted)
	h.client.SendText(ctx, req.msg.Chat.ID, fmt.Sprintf("🧹 Purged %d messages.", deleted), telegram.SendOptions{})
	return nil
}

func (h *Handler) del(ctx context.Context, req *request) error {
	if req.msg.ReplyTo == nil {
		h.usage(ctx, req)
		return nil
	}
	h.client.DeleteMessage(ctx, req.msg.Chat.ID, req.msg.ReplyTo.ID)
	h.client.DeleteMessage(ctx, req.msg.Chat.ID, req.msg.ID)
	return nil
}

func (h *Handler) whitelist(ctx context.Context, req *request) error {
	target, _, ok, err := h.targetOrUsage(ctx, req)
	if !ok || err != nil {
		return err
	}

	add := req.name == "whitelist"
	kept := make([]int64, 0, len(req.policy.WhitelistUsers)+1)
	for _, id := range req.policy.WhitelistUsers {
		if id != target.ID {
			kept = append(kept, id)
		}
	}
	if add {
		kept = append(kept, target.ID)
	}
	req.policy.WhitelistUsers = kept
	if err := h.savePolicy(ctx, req.policy); err != nil {
		return err
	}

	if _, err := h.members.Upsert(ctx, req.msg.Chat.ID, target.ID, store.MemberPatch{IsWhitelisted: &add}); err != nil {
		return fmt.Errorf("failed to save whitelist flag: %w", err)
	}

	if add {
		h.replyHTML(ctx, req, "✅ Whitelisted "+greeting.MentionHTML(target))
	} else {
		h.replyHTML(ctx, req, "❎ Removed from whitelist "+greeting.MentionHTML(target))
	}
	return nil
}

func (h *Handler) zombies(ctx context.Context, req *request) error {
	n, err := h.members.CountDeletedLikely(ctx, req.msg.Chat.ID)
	if err != nil {
		return fmt.Errorf("failed to count deleted accounts: %w", err)
	}
	h.reply(ctx, req, fmt.Sprintf("🧟 Deleted accounts found: %d", n))
	return nil
}

func failureText(r telegram.Result) string {
	if r.Err != nil {
		return r.Err.Error()
	}
	return string(r.Kind)
}
