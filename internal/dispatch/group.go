package dispatch

import (
	"context"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/ihiteshgupta/telegram-modbot/internal/greeting"
	"github.com/ihiteshgupta/telegram-modbot/internal/modlog"
	"github.com/ihiteshgupta/telegram-modbot/internal/ratewindow"
	"github.com/ihiteshgupta/telegram-modbot/internal/store"
	"github.com/ihiteshgupta/telegram-modbot/internal/telegram"
)

// deletedAccountName is the first name Telegram shows for deleted accounts.
const deletedAccountName = "Deleted Account"

var adminCall = regexp.MustCompile(`(?i)(^|\s)(@admin|\.admin|/admin)(\s|$)`)

// HasAdminCall reports whether text asks for the group admins.
func HasAdminCall(text string) bool {
	return adminCall.MatchString(text)
}

// JumpLink returns the t.me link to a group message.
func JumpLink(chat telegram.Chat, messageID int) string {
	if chat.Username != "" {
		return fmt.Sprintf("https://t.me/%s/%d", chat.Username, messageID)
	}
	internal := strings.Replace(strconv.FormatInt(chat.ID, 10), "-100", "", 1)
	return fmt.Sprintf("https://t.me/c/%s/%d", internal, messageID)
}

func (d *Dispatcher) handleGroup(ctx context.Context, kind EventType, msg *telegram.Message) {
	policy, err := d.deps.Store.Policies.FindOrDefault(ctx, msg.Chat.ID, msg.Chat.Title)
	if err != nil {
		d.log.Error("failed to load group policy", "chat_id", msg.Chat.ID, "error", err)
		return
	}

	var member *store.MemberState
	if msg.From != nil {
		member, err = d.trackMember(ctx, msg.Chat.ID, *msg.From)
		if err != nil {
			d.log.Warn("failed to track member", "chat_id", msg.Chat.ID, "user_id", msg.From.ID, "error", err)
		}
	}

	switch kind {
	case EventJoin:
		d.handleJoins(ctx, msg, policy)
		d.cleanupService(ctx, msg, policy)
		return
	case EventLeave:
		d.handleLeave(ctx, msg, policy)
		d.cleanupService(ctx, msg, policy)
		return
	case EventService:
		d.cleanupService(ctx, msg, policy)
		return
	}

	// Owner replies in a relay destination group go back to the origin,
	// even when they start with the relay prefix.
	if d.deps.Relay.ResolveReply(ctx, msg) {
		return
	}

	if d.handleCommand(ctx, msg, policy) {
		d.mirror(ctx, msg)
		return
	}

	decision := d.deps.Evaluator.Evaluate(ctx, msg, policy, member, d.now())
	if d.deps.Pipeline.Apply(ctx, msg, policy, decision) {
		return
	}

	d.mirror(ctx, msg)
	d.applyFilter(ctx, msg)
	if HasAdminCall(msg.Text) {
		d.reportAdminCall(ctx, msg)
	}
}

// handleCommand runs relay controls and admin commands. It reports whether
// msg was consumed as a command.
func (d *Dispatcher) handleCommand(ctx context.Context, msg *telegram.Message, policy *store.GroupPolicy) bool {
	if d.deps.Relay.IsCommand(msg.Text) {
		d.deps.Relay.HandleCommand(ctx, msg)
		return true
	}
	if HasAdminCall(msg.Text) {
		return false
	}

	handled, err := d.deps.Commands.Handle(ctx, msg, policy)
	if err != nil {
		d.log.Error("command failed", "chat_id", msg.Chat.ID, "user_id", msg.SenderID(), "error", err)
	}
	return handled
}

func (d *Dispatcher) mirror(ctx context.Context, msg *telegram.Message) {
	if _, err := d.deps.Relay.Mirror(ctx, msg); err != nil {
		d.log.Warn("failed to mirror message", "chat_id", msg.Chat.ID, "message_id", msg.ID, "error", err)
	}
}

// trackMember refreshes the stored profile of a sender.
func (d *Dispatcher) trackMember(ctx context.Context, chatID int64, u telegram.User) (*store.MemberState, error) {
	deleted := !u.IsBot && u.FirstName == deletedAccountName
	return d.deps.Store.Members.Upsert(ctx, chatID, u.ID, store.MemberPatch{
		Username:        &u.Username,
		FirstName:       &u.FirstName,
		LastName:        &u.LastName,
		IsDeletedLikely: &deleted,
	})
}

func (d *Dispatcher) handleJoins(ctx context.Context, msg *telegram.Message, policy *store.GroupPolicy) {
	self := d.deps.Client.Self()
	for _, u := range msg.NewMembers {
		if u.ID == self.ID {
			d.log.Info("added to group", "chat_id", msg.Chat.ID, "title", msg.Chat.Title)
			continue
		}

		if err := d.deps.Captcha.OnJoin(ctx, msg.Chat, policy, u); err != nil {
			d.log.Error("failed to handle join", "chat_id", msg.Chat.ID, "user_id", u.ID, "error", err)
		}
		d.record(msg, policy, modlog.ActionJoin, u.ID, "")

		if !policy.WelcomeEnabled {
			continue
		}
		text, keyboard := greeting.Compose(policy.WelcomeMessage, u, msg.Chat.Title)
		if r := d.deps.Client.SendText(ctx, msg.Chat.ID, text, telegram.SendOptions{
			ParseMode:      telegram.ParseModeHTML,
			Keyboard:       keyboard,
			DisablePreview: true,
		}); !r.OK {
			d.log.Debug("failed to send welcome", "chat_id", msg.Chat.ID, "user_id", u.ID, "kind", r.Kind)
		}
	}
}

func (d *Dispatcher) handleLeave(ctx context.Context, msg *telegram.Message, policy *store.GroupPolicy) {
	u := *msg.LeftMember
	if u.ID == d.deps.Client.Self().ID {
		d.log.Info("removed from group", "chat_id", msg.Chat.ID)
		return
	}

	d.record(msg, policy, modlog.ActionLeave, u.ID, "")

	if !policy.GoodbyeEnabled {
		return
	}
	text := greeting.Render(policy.GoodbyeMessage, u, msg.Chat.Title)
	if r := d.deps.Client.SendText(ctx, msg.Chat.ID, text, telegram.SendOptions{ParseMode: telegram.ParseModeHTML}); !r.OK {
		d.log.Debug("failed to send goodbye", "chat_id", msg.Chat.ID, "user_id", u.ID, "kind", r.Kind)
	}
}

// cleanupService deletes service messages unless the group keeps their type.
func (d *Dispatcher) cleanupService(ctx context.Context, msg *telegram.Message, policy *store.GroupPolicy) {
	if !policy.ServiceDeleteEnabled || !msg.IsService() || policy.KeepsService(msg.ServiceType) {
		return
	}
	if r := d.deps.Client.DeleteMessage(ctx, msg.Chat.ID, msg.ID); !r.OK {
		d.log.Debug("failed to delete service message", "chat_id", msg.Chat.ID, "type", msg.ServiceType, "kind", r.Kind)
	}
}

// applyFilter answers text that exactly matches a stored trigger.
func (d *Dispatcher) applyFilter(ctx context.Context, msg *telegram.Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" || strings.HasPrefix(text, d.cfg.CommandPrefix) {
		return
	}

	f, err := d.deps.Store.Filters.Find(ctx, msg.Chat.ID, strings.ToLower(text))
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		d.log.Warn("failed to look up filter", "chat_id", msg.Chat.ID, "error", err)
		return
	}
	d.deps.Client.SendText(ctx, msg.Chat.ID, f.Response, telegram.SendOptions{})
}

// AdminReport renders the DM sent to admins when they are called.
func AdminReport(msg *telegram.Message) string {
	from := "anonymous"
	if msg.From != nil {
		switch {
		case msg.From.Username != "":
			from = "@" + msg.From.Username
		case msg.From.FirstName != "":
			from = msg.From.FirstName
		default:
			from = strconv.FormatInt(msg.From.ID, 10)
		}
	}
	group := msg.Chat.Title
	if group == "" {
		group = strconv.FormatInt(msg.Chat.ID, 10)
	}

	return strings.Join([]string{
		"🚨 Admin Mentioned",
		"👤 From: " + html.EscapeString(from),
		"💬 Message: " + html.EscapeString(msg.Text),
		"📍 Group: " + html.EscapeString(group),
		`🔗 <a href="` + JumpLink(msg.Chat, msg.ID) + `">Jump to message</a>`,
	}, "\n")
}

// reportAdminCall DMs every human admin of the chat, at most once per
// cooldown period per sender.
func (d *Dispatcher) reportAdminCall(ctx context.Context, msg *telegram.Message) {
	if d.deps.Mentions != nil && !d.deps.Mentions.Allow(ratewindow.Key(msg.Chat.ID, msg.SenderID()), d.now()) {
		return
	}

	admins, err := d.deps.Client.Administrators(ctx, msg.Chat.ID)
	if err != nil {
		d.log.Warn("failed to list admins", "chat_id", msg.Chat.ID, "error", err)
		return
	}

	report := AdminReport(msg)
	notified := 0
	for _, admin := range admins {
		if admin.IsBot {
			continue
		}
		r := d.deps.Client.SendText(ctx, admin.ID, report, telegram.SendOptions{
			ParseMode:      telegram.ParseModeHTML,
			DisablePreview: true,
		})
		if !r.OK {
			d.log.Debug("failed to notify admin", "chat_id", msg.Chat.ID, "user_id", admin.ID, "kind", r.Kind)
			continue
		}
		notified++
	}
	d.log.Info("admin call reported", "chat_id", msg.Chat.ID, "user_id", msg.SenderID(), "notified", notified)
}

func (d *Dispatcher) record(msg *telegram.Message, policy *store.GroupPolicy, action string, targetID int64, reason string) {
	title := msg.Chat.Title
	if title == "" {
		title = policy.Title
	}
	d.deps.Recorder.Record(modlog.Entry{
		ChatID:       msg.Chat.ID,
		ChatTitle:    title,
		Action:       action,
		TargetID:     modlog.ID(targetID),
		Reason:       reason,
		LogChannelID: policy.LogChannelID,
	})
}
