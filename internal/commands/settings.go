package commands

import (
	"context"
	"errors"
	"fmt"
	"html"
	"slices"
	"strconv"
	"strings"

	"github.com/ihiteshgupta/telegram-modbot/internal/store"
	"github.com/ihiteshgupta/telegram-modbot/internal/telegram"
)

func (h *Handler) lock(ctx context.Context, req *request) error {
	if len(req.args) == 0 {
		h.usage(ctx, req)
		return nil
	}

	on := req.name == "lock"
	name := strings.ToLower(req.args[0])
	subject := "all permissions"
	if name == "all" {
		req.policy.Locks.SetAll(on)
	} else {
		if !req.policy.Locks.Set(name, on) {
			h.usage(ctx, req)
			return nil
		}
		subject = "Content: " + name
	}
	if err := h.savePolicy(ctx, req.policy); err != nil {
		return err
	}

	title := "🔓 Lock Disabled"
	if on {
		title = "🔒 Lock Enabled"
	}
	h.announce(ctx, req, action{title: title, subject: subject})
	return nil
}

func (h *Handler) locks(ctx context.Context, req *request) error {
	enabled := req.policy.Locks.Enabled()
	if len(enabled) == 0 {
		h.reply(ctx, req, "🔓 No content locks are active.")
		return nil
	}
	h.reply(ctx, req, "🔒 Active locks: "+strings.Join(enabled, ", "))
	return nil
}

// toggle flips one of the moderation switches named after the command.
func (h *Handler) toggle(ctx context.Context, req *request) error {
	on, ok := parseOnOff(req.args)
	if !ok {
		h.usage(ctx, req)
		return nil
	}

	var label string
	switch req.name {
	case "antilink":
		req.policy.AntiLinkEnabled, label = on, "Anti-link"
	case "antiflood":
		req.policy.AntiFloodEnabled, label = on, "Anti-flood"
	case "antispam":
		req.policy.AntiSpamEnabled, label = on, "Anti-spam"
	case "captcha":
		req.policy.CaptchaEnabled, label = on, "Captcha"
	}
	if err := h.savePolicy(ctx, req.policy); err != nil {
		return err
	}

	h.reply(ctx, req, fmt.Sprintf("⚙️ %s: %s", label, onOffText(on)))
	return nil
}

func (h *Handler) addWord(ctx context.Context, req *request) error {
	word := strings.ToLower(restAfter(req.msg.Text, 0))
	if word == "" {
		h.usage(ctx, req)
		return nil
	}

	if !slices.Contains(req.policy.BadWords, word) {
		req.policy.BadWords = append(req.policy.BadWords, word)
		if err := h.savePolicy(ctx, req.policy); err != nil {
			return err
		}
	}
	h.reply(ctx, req, "🚫 Added banned word: "+word)
	return nil
}

func (h *Handler) removeWord(ctx context.Context, req *request) error {
	word := strings.ToLower(restAfter(req.msg.Text, 0))
	if word == "" {
		h.usage(ctx, req)
		return nil
	}

	idx := slices.Index(req.policy.BadWords, word)
	if idx < 0 {
		h.reply(ctx, req, "ℹ️ Not in the banned word list: "+word)
		return nil
	}
	req.policy.BadWords = slices.Delete(req.policy.BadWords, idx, idx+1)
	if err := h.savePolicy(ctx, req.policy); err != nil {
		return err
	}
	h.reply(ctx, req, "✅ Removed banned word: "+word)
	return nil
}

func (h *Handler) words(ctx context.Context, req *request) error {
	if len(req.policy.BadWords) == 0 {
		h.reply(ctx, req, "No banned words configured.")
		return nil
	}
	h.reply(ctx, req, "🚫 Banned words:\n• "+strings.Join(req.policy.BadWords, "\n• "))
	return nil
}

func (h *Handler) delService(ctx context.Context, req *request) error {
	on, ok := parseOnOff(req.args)
	if !ok {
		h.usage(ctx, req)
		return nil
	}

	req.policy.ServiceDeleteEnabled = on
	if err := h.savePolicy(ctx, req.policy); err != nil {
		return err
	}
	h.reply(ctx, req, "🧰 Service message cleanup: "+onOffText(on))
	return nil
}

func (h *Handler) keepService(ctx context.Context, req *request) error {
	if len(req.args) == 0 {
		h.usage(ctx, req)
		return nil
	}
	kind := strings.ToLower(req.args[0])
	if !slices.Contains(telegram.ServiceTypes, kind) {
		h.usage(ctx, req)
		return nil
	}

	if !req.policy.KeepsService(kind) {
		req.policy.KeepServiceTypes = append(req.policy.KeepServiceTypes, kind)
		if err := h.savePolicy(ctx, req.policy); err != nil {
			return err
		}
	}
	h.reply(ctx, req, "🛟 Keeping service type: "+kind)
	return nil
}

func (h *Handler) serviceStatus(ctx context.Context, req *request) error {
	kept := "none"
	if len(req.policy.KeepServiceTypes) > 0 {
		kept = strings.Join(req.policy.KeepServiceTypes, ", ")
	}
	h.reply(ctx, req, fmt.Sprintf("🧾 Service moderation\n• deletion: %s\n• kept: %s",
		onOffText(req.policy.ServiceDeleteEnabled), kept))
	return nil
}

// greeting handles .welcome and .goodbye. Both take "on|off [message]" or
// "set <message>"; setting a message also enables the greeting.
func (h *Handler) greeting(ctx context.Context, req *request) error {
	if len(req.args) == 0 {
		h.usage(ctx, req)
		return nil
	}

	welcome := req.name == "welcome"
	enabled := &req.policy.GoodbyeEnabled
	message := &req.policy.GoodbyeMessage
	title, subject := "👋 Goodbye", "Departing members"
	if welcome {
		enabled = &req.policy.WelcomeEnabled
		message = &req.policy.WelcomeMessage
		title, subject = "🎉 Welcome", "New members"
	}

	text := restAfter(req.msg.Text, 1)
	if strings.EqualFold(req.args[0], "set") {
		if text == "" {
			h.usage(ctx, req)
			return nil
		}
		*enabled = true
		*message = text
	} else {
		on, ok := parseOnOff(req.args)
		if !ok {
			h.usage(ctx, req)
			return nil
		}
		*enabled = on
		if text != "" {
			*message = text
		}
	}
	if err := h.savePolicy(ctx, req.policy); err != nil {
		return err
	}

	if *enabled {
		title += " Enabled"
	} else {
		title += " Disabled"
	}
	h.announce(ctx, req, action{
		title:   title,
		subject: subject,
		detail:  "💬 Message: " + html.EscapeString(*message),
	})
	return nil
}

func (h *Handler) filter(ctx context.Context, req *request) error {
	response := restAfter(req.msg.Text, 1)
	if len(req.args) == 0 || response == "" {
		h.usage(ctx, req)
		return nil
	}

	f := &store.Filter{ChatID: req.msg.Chat.ID, Trigger: req.args[0], Response: response}
	if err := h.filters.Upsert(ctx, f); err != nil {
		return fmt.Errorf("failed to save filter: %w", err)
	}

	h.announce(ctx, req, action{
		title:   "🧠 Filter Saved",
		subject: "Trigger: " + html.EscapeString(f.Trigger),
		detail:  "💬 Reply: " + html.EscapeString(response),
	})
	return nil
}

func (h *Handler) listFilters(ctx context.Context, req *request) error {
	filters, err := h.filters.List(ctx, req.msg.Chat.ID)
	if err != nil {
		return fmt.Errorf("failed to list filters: %w", err)
	}
	if len(filters) == 0 {
		h.reply(ctx, req, "No filters configured.")
		return nil
	}

	triggers := make([]string, 0, len(filters))
	for _, f := range filters {
		triggers = append(triggers, "• "+f.Trigger)
	}
	h.reply(ctx, req, "🧠 Active Filters:\n"+strings.Join(triggers, "\n"))
	return nil
}

func (h *Handler) stop(ctx context.Context, req *request) error {
	if len(req.args) == 0 {
		h.usage(ctx, req)
		return nil
	}

	trigger := strings.ToLower(req.args[0])
	err := h.filters.Delete(ctx, req.msg.Chat.ID, trigger)
	if errors.Is(err, store.ErrNotFound) {
		h.reply(ctx, req, "ℹ️ No filter found for: "+trigger)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete filter: %w", err)
	}

	h.announce(ctx, req, action{title: "🧹 Filter Removed", subject: "Trigger: " + html.EscapeString(trigger)})
	return nil
}

func (h *Handler) setLog(ctx context.Context, req *request) error {
	if len(req.args) == 0 {
		h.usage(ctx, req)
		return nil
	}
	id, err := strconv.ParseInt(req.args[0], 10, 64)
	if err != nil || id == 0 {
		h.usage(ctx, req)
		return nil
	}

	req.policy.LogChannelID = &id
	if err := h.savePolicy(ctx, req.policy); err != nil {
		return err
	}
	h.reply(ctx, req, fmt.Sprintf("📒 Log channel set to %d", id))
	return nil
}

func (h *Handler) clearLog(ctx context.Context, req *request) error {
	req.policy.LogChannelID = nil
	if err := h.savePolicy(ctx, req.policy); err != nil {
		return err
	}
	h.reply(ctx, req, "🗑 Log channel removed.")
	return nil
}

// setTitle renames the group. The first rename remembers the title it
// replaced so .restoretitle can bring it back.
func (h *Handler) setTitle(ctx context.Context, req *request) error {
	title := restAfter(req.msg.Text, 0)
	if title == "" {
		h.usage(ctx, req)
		return nil
	}

	if r := h.client.SetChatTitle(ctx, req.msg.Chat.ID, title); !r.OK {
		h.reply(ctx, req, "❌ Title update failed: "+failureText(r))
		return nil
	}

	if req.policy.OriginalTitle == "" {
		req.policy.OriginalTitle = req.chatName()
	}
	req.policy.Title = title
	if err := h.savePolicy(ctx, req.policy); err != nil {
		return err
	}
	h.reply(ctx, req, "📝 Group title updated to: "+title)
	return nil
}

func (h *Handler) restoreTitle(ctx context.Context, req *request) error {
	original := req.policy.OriginalTitle
	if original == "" {
		h.reply(ctx, req, "ℹ️ No original title is saved yet.")
		return nil
	}

	if r := h.client.SetChatTitle(ctx, req.msg.Chat.ID, original); !r.OK {
		h.reply(ctx, req, "❌ Title update failed: "+failureText(r))
		return nil
	}

	req.policy.Title = original
	if err := h.savePolicy(ctx, req.policy); err != nil {
		return err
	}
	h.reply(ctx, req, "♻️ Restored title to "+original)
	return nil
}
