package dispatch

import (
	"context"
	"strings"

	"github.com/ihiteshgupta/telegram-modbot/internal/captcha"
	"github.com/ihiteshgupta/telegram-modbot/internal/telegram"
)

// handlePrivate tries, in order: a reply to a mirrored copy, a relay
// control command, a wizard command and wizard text input.
func (d *Dispatcher) handlePrivate(ctx context.Context, msg *telegram.Message) {
	if d.deps.Relay.ResolveReply(ctx, msg) {
		return
	}
	if d.deps.Relay.HandleCommand(ctx, msg) {
		return
	}

	handled, err := d.deps.Wizard.HandleCommand(ctx, msg)
	if err != nil {
		d.log.Error("wizard command failed", "user_id", msg.SenderID(), "error", err)
	}
	if handled {
		return
	}

	if _, err := d.deps.Wizard.HandleText(ctx, msg); err != nil {
		d.log.Error("wizard input failed", "user_id", msg.SenderID(), "error", err)
	}
}

// handleChannelPost only resolves replies posted in the relay channel.
func (d *Dispatcher) handleChannelPost(ctx context.Context, msg *telegram.Message) {
	if !d.deps.Relay.ResolveReply(ctx, msg) {
		d.log.Debug("ignoring channel post", "chat_id", msg.Chat.ID, "message_id", msg.ID)
	}
}

func (d *Dispatcher) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) {
	if strings.HasPrefix(cb.Data, captcha.CallbackPrefix) {
		if err := d.deps.Captcha.Verify(ctx, cb); err != nil {
			d.log.Error("verification failed", "user_id", cb.From.ID, "error", err)
		}
		return
	}

	handled, err := d.deps.Wizard.HandleCallback(ctx, cb)
	if err != nil {
		d.log.Error("panel callback failed", "user_id", cb.From.ID, "data", cb.Data, "error", err)
	}
	if !handled {
		d.deps.Client.AnswerCallback(ctx, cb.ID, "", false)
	}
}
