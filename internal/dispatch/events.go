// Package dispatch routes inbound Telegram updates to the moderation,
// relay, captcha, wizard and command handlers.
package dispatch

import (
	"time"

	"github.com/ihiteshgupta/telegram-modbot/internal/telegram"
)

// EventType classifies an inbound update.
type EventType int

const (
	EventUnknown EventType = iota
	EventGroupMessage
	EventPrivateMessage
	EventChannelPost
	EventJoin
	EventLeave
	EventService
	EventCallback
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventGroupMessage:
		return "group_message"
	case EventPrivateMessage:
		return "private_message"
	case EventChannelPost:
		return "channel_post"
	case EventJoin:
		return "join"
	case EventLeave:
		return "leave"
	case EventService:
		return "service"
	case EventCallback:
		return "callback"
	default:
		return "unknown"
	}
}

// Event is one queued update.
type Event struct {
	Type      EventType
	Update    telegram.Update
	Timestamp time.Time
}

// NewEvent classifies u and stamps it with the current time.
func NewEvent(u telegram.Update) Event {
	return Event{
		Type:      Classify(u),
		Update:    u,
		Timestamp: time.Now(),
	}
}

// Classify returns the event type of u.
func Classify(u telegram.Update) EventType {
	if u.CallbackQuery != nil {
		return EventCallback
	}
	msg := u.Message
	if msg == nil {
		return EventUnknown
	}

	switch {
	case msg.Chat.IsPrivate():
		return EventPrivateMessage
	case msg.Chat.IsChannel():
		return EventChannelPost
	case !msg.Chat.IsGroup():
		return EventUnknown
	case len(msg.NewMembers) > 0:
		return EventJoin
	case msg.LeftMember != nil:
		return EventLeave
	case msg.IsService():
		return EventService
	default:
		return EventGroupMessage
	}
}
