package moderation

import (
	"context"
	"log/slog"
	"time"

	"github.com/ihiteshgupta/telegram-modbot/internal/modlog"
	"github.com/ihiteshgupta/telegram-modbot/internal/store"
	"github.com/ihiteshgupta/telegram-modbot/internal/telegram"
)

// Metrics counts suppressions.
type Metrics interface {
	RecordSuppressed(reason string)
}

var logActions = map[Reason]string{
	ReasonAntiLink:      modlog.ActionAntiLinkDelete,
	ReasonBadword:       modlog.ActionBadwordDelete,
	ReasonAntiFlood:     modlog.ActionAntiFloodMute,
	ReasonAntiSpam:      modlog.ActionAntiSpamDelete,
	ReasonLockedContent: modlog.ActionLockedContentDelete,
}

var logReasons = map[Reason]string{
	ReasonAntiLink:  "Link blocked",
	ReasonBadword:   "Bad word detected",
	ReasonAntiFlood: "Flood detected",
	ReasonAntiSpam:  "Spam payload too long",
}

// Pipeline carries out suppression decisions. Every transport call is
// best-effort; a failure never stops the remaining steps.
type Pipeline struct {
	client   telegram.Client
	recorder modlog.Recorder
	metrics  Metrics
	log      *slog.Logger
}

// NewPipeline creates a pipeline. metrics may be nil.
func NewPipeline(client telegram.Client, recorder modlog.Recorder, metrics Metrics, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		client:   client,
		recorder: recorder,
		metrics:  metrics,
		log:      logger,
	}
}

// Apply deletes a suppressed message, mutes flooders and logs the event. It
// returns true when the message was suppressed and must not be processed
// further.
func (p *Pipeline) Apply(ctx context.Context, msg *telegram.Message, policy *store.GroupPolicy, d Decision) bool {
	if !d.Suppressed() {
		return false
	}

	senderID := msg.SenderID()

	if r := p.client.DeleteMessage(ctx, msg.Chat.ID, msg.ID); !r.OK {
		p.log.Debug("failed to delete suppressed message",
			"chat_id", msg.Chat.ID,
			"message_id", msg.ID,
			"kind", r.Kind,
		)
	}

	if d.Restrict {
		r := p.client.Restrict(ctx, msg.Chat.ID, senderID, telegram.MutedPermissions(), d.RestrictUntil)
		if !r.OK {
			p.log.Warn("failed to restrict flooding member",
				"chat_id", msg.Chat.ID,
				"user_id", senderID,
				"kind", r.Kind,
			)
		}
	}

	entry := modlog.Entry{
		ChatID:       msg.Chat.ID,
		ChatTitle:    msg.Chat.Title,
		Action:       logActions[d.Reason],
		TargetID:     modlog.ID(senderID),
		Reason:       logReasons[d.Reason],
		LogChannelID: policy.LogChannelID,
	}
	if d.Lock != "" {
		entry.Metadata = map[string]any{"lock": d.Lock}
	}
	if d.Restrict {
		entry.Metadata = map[string]any{"muted_until": d.RestrictUntil.UTC().Format(time.RFC3339)}
	}
	p.recorder.Record(entry)

	p.log.Info("message suppressed",
		"chat_id", msg.Chat.ID,
		"user_id", senderID,
		"message_id", msg.ID,
		"reason", d.Reason,
	)

	if p.metrics != nil {
		p.metrics.RecordSuppressed(string(d.Reason))
	}

	return true
}
