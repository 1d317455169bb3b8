// Package moderation evaluates inbound group messages against the group's
// policy and applies the resulting suppression.
package moderation

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/ihiteshgupta/telegram-modbot/internal/ratewindow"
	"github.com/ihiteshgupta/telegram-modbot/internal/store"
	"github.com/ihiteshgupta/telegram-modbot/internal/telegram"
)

// Action is the verdict on a message.
type Action string

const (
	Allow    Action = "allow"
	Suppress Action = "suppress"
)

// Reason tags why a message was suppressed.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonAntiLink      Reason = "anti_link"
	ReasonBadword       Reason = "badword"
	ReasonAntiFlood     Reason = "anti_flood"
	ReasonAntiSpam      Reason = "anti_spam"
	ReasonLockedContent Reason = "locked_content"
)

// Decision is the outcome of evaluating one message.
type Decision struct {
	Action Action
	Reason Reason

	// Restrict is set for flood suppression: the sender is muted until
	// RestrictUntil.
	Restrict      bool
	RestrictUntil time.Time

	// Lock names the content lock that matched.
	Lock string
}

// Suppressed reports whether the message should be removed.
func (d Decision) Suppressed() bool {
	return d.Action == Suppress
}

func allow() Decision {
	return Decision{Action: Allow}
}

func suppress(reason Reason) Decision {
	return Decision{Action: Suppress, Reason: reason}
}

// textLength counts UTF-16 code units, the unit Telegram measures message
// length in.
func textLength(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

var linkPattern = regexp.MustCompile(`(?i)(https?://|t\.me/|telegram\.me/|www\.)`)

// ContainsLink reports whether text carries a link.
func ContainsLink(text string) bool {
	return linkPattern.MatchString(text)
}

// EvaluatorConfig holds the evaluator thresholds.
type EvaluatorConfig struct {
	CommandPrefix     string
	FloodMessageLimit int
	FloodMuteDuration time.Duration
	SpamMaxLength     int
}

// Evaluator decides whether a group message is allowed. The first matching
// check wins; only the flood check has state.
type Evaluator struct {
	cfg     EvaluatorConfig
	tracker ratewindow.Tracker
}

// NewEvaluator creates an evaluator that counts messages in tracker.
func NewEvaluator(cfg EvaluatorConfig, tracker ratewindow.Tracker) *Evaluator {
	return &Evaluator{cfg: cfg, tracker: tracker}
}

// Evaluate runs the checks in order: whitelist, links, bad words, flood,
// spam length, content locks. member may be nil for an untracked sender.
func (e *Evaluator) Evaluate(ctx context.Context, msg *telegram.Message, policy *store.GroupPolicy, member *store.MemberState, now time.Time) Decision {
	if msg.From == nil {
		return allow()
	}
	if e.cfg.CommandPrefix != "" && strings.HasPrefix(msg.Text, e.cfg.CommandPrefix) {
		return allow()
	}
	if policy.IsWhitelisted(msg.From.ID) || (member != nil && member.IsWhitelisted) {
		return allow()
	}

	text := msg.Content()

	if policy.AntiLinkEnabled && ContainsLink(text) {
		return suppress(ReasonAntiLink)
	}

	if containsBadWord(text, policy.BadWords) {
		return suppress(ReasonBadword)
	}

	if policy.AntiFloodEnabled {
		count := e.tracker.Record(ctx, ratewindow.Key(msg.Chat.ID, msg.From.ID), now)
		if count > e.cfg.FloodMessageLimit {
			d := suppress(ReasonAntiFlood)
			d.Restrict = true
			d.RestrictUntil = now.Add(e.cfg.FloodMuteDuration)
			return d
		}
	}

	if policy.AntiSpamEnabled && textLength(text) > e.cfg.SpamMaxLength {
		return suppress(ReasonAntiSpam)
	}

	if lock := matchLock(msg.Media, policy.Locks); lock != "" {
		d := suppress(ReasonLockedContent)
		d.Lock = lock
		return d
	}

	return allow()
}

func containsBadWord(text string, words []string) bool {
	if len(words) == 0 || text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, w := range words {
		if w == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(w)) {
			return true
		}
	}
	return false
}

// matchLock returns the name of the lock the media falls under, or "".
func matchLock(media *telegram.Media, locks store.Locks) string {
	if media == nil {
		return ""
	}

	isMP4Document := media.Kind == telegram.MediaDocument && media.MimeType == "video/mp4"

	switch {
	case locks.Photos && media.Kind == telegram.MediaPhoto:
		return "photos"
	case locks.Videos && media.Kind == telegram.MediaVideo:
		return "videos"
	case locks.Documents && media.Kind == telegram.MediaDocument:
		return "documents"
	case locks.Voice && (media.Kind == telegram.MediaVoice || media.Kind == telegram.MediaAudio):
		return "voice"
	case locks.Polls && media.Kind == telegram.MediaPoll:
		return "polls"
	case locks.Stickers && media.Kind == telegram.MediaSticker:
		return "stickers"
	case locks.Gifs && (media.Kind == telegram.MediaAnimation || isMP4Document):
		return "gifs"
	default:
		return ""
	}
}
