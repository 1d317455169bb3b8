// Package telegram provides the Telegram transport: typed inbound updates,
// the outbound Client interface and its Bot API implementation.
package telegram

import (
	"strconv"
	"strings"
	"time"
)

// Chat types as reported by the Bot API.
const (
	ChatPrivate    = "private"
	ChatGroup      = "group"
	ChatSupergroup = "supergroup"
	ChatChannel    = "channel"
)

// Service message types.
const (
	ServiceNewChatTitle          = "new_chat_title"
	ServiceNewChatPhoto          = "new_chat_photo"
	ServiceDeleteChatPhoto       = "delete_chat_photo"
	ServiceGroupChatCreated      = "group_chat_created"
	ServiceSupergroupChatCreated = "supergroup_chat_created"
	ServiceNewChatMembers        = "new_chat_members"
	ServiceLeftChatMember        = "left_chat_member"
	ServicePinnedMessage         = "pinned_message"
)

// ServiceTypes lists every service type the bot can clean up.
var ServiceTypes = []string{
	ServiceNewChatTitle,
	ServiceNewChatPhoto,
	ServiceDeleteChatPhoto,
	ServiceGroupChatCreated,
	ServiceSupergroupChatCreated,
	ServiceNewChatMembers,
	ServiceLeftChatMember,
	ServicePinnedMessage,
}

// Parse modes.
const (
	ParseModeHTML     = "HTML"
	ParseModeMarkdown = "Markdown"
)

// Chat identifies a chat.
type Chat struct {
	ID       int64
	Type     string
	Title    string
	Username string
}

// IsPrivate returns true for one-to-one chats with the bot.
func (c Chat) IsPrivate() bool { return c.Type == ChatPrivate }

// IsGroup returns true for groups and supergroups.
func (c Chat) IsGroup() bool { return c.Type == ChatGroup || c.Type == ChatSupergroup }

// IsChannel returns true for broadcast channels.
func (c Chat) IsChannel() bool { return c.Type == ChatChannel }

// User identifies a Telegram account.
type User struct {
	ID        int64
	IsBot     bool
	FirstName string
	LastName  string
	Username  string
}

// DisplayName returns "First Last", falling back to @username and the id.
func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return strconv.FormatInt(u.ID, 10)
}

// Mention returns @username when set, otherwise the first name.
func (u User) Mention() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	if u.FirstName != "" {
		return u.FirstName
	}
	return u.DisplayName()
}

// MediaKind is the content type of a non-text message.
type MediaKind string

const (
	MediaPhoto     MediaKind = "photo"
	MediaVideo     MediaKind = "video"
	MediaDocument  MediaKind = "document"
	MediaVoice     MediaKind = "voice"
	MediaAudio     MediaKind = "audio"
	MediaSticker   MediaKind = "sticker"
	MediaAnimation MediaKind = "animation"
	MediaPoll      MediaKind = "poll"
)

// SupportsCaption reports whether the kind can be sent with a caption.
func (k MediaKind) SupportsCaption() bool {
	switch k {
	case MediaPhoto, MediaVideo, MediaDocument, MediaVoice, MediaAudio, MediaAnimation:
		return true
	default:
		return false
	}
}

// Resendable reports whether the kind can be sent again by file reference.
func (k MediaKind) Resendable() bool {
	return k != MediaPoll && k != ""
}

// Media is a file reference attached to a message.
type Media struct {
	Kind     MediaKind
	FileID   string
	MimeType string
}

// Message is an inbound message or channel post.
type Message struct {
	ID          int
	Chat        Chat
	From        *User
	SenderChat  *Chat
	Date        time.Time
	Text        string
	Caption     string
	Media       *Media
	ReplyTo     *Message
	NewMembers  []User
	LeftMember  *User
	ServiceType string
}

// Content returns the text, or the caption for media messages.
func (m *Message) Content() string {
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}

// SenderID returns the sending user's id, or 0 for anonymous senders.
func (m *Message) SenderID() int64 {
	if m.From == nil {
		return 0
	}
	return m.From.ID
}

// IsService returns true for service messages (joins, title changes, pins).
func (m *Message) IsService() bool {
	return m.ServiceType != ""
}

// CallbackQuery is a press of an inline keyboard button.
type CallbackQuery struct {
	ID      string
	From    User
	Message *Message
	Data    string
}

// Update is one inbound event.
type Update struct {
	ID            int
	Message       *Message
	CallbackQuery *CallbackQuery
}

// Button is an inline keyboard button. Exactly one of Data and URL is set.
type Button struct {
	Text string
	Data string
	URL  string
}

// Keyboard is an inline keyboard, one slice per row.
type Keyboard [][]Button

// SendOptions are the optional parts of an outbound message.
type SendOptions struct {
	ReplyTo        int
	ParseMode      string
	Keyboard       Keyboard
	DisablePreview bool
}

// Permissions is the set of actions a restricted member may take.
type Permissions struct {
	CanSendMessages       bool
	CanSendMediaMessages  bool
	CanSendPolls          bool
	CanSendOtherMessages  bool
	CanAddWebPagePreviews bool
	CanChangeInfo         bool
	CanInviteUsers        bool
	CanPinMessages        bool
}

// BaselinePermissions are the rights of an ordinary unrestricted member.
func BaselinePermissions() Permissions {
	return Permissions{
		CanSendMessages:       true,
		CanSendMediaMessages:  true,
		CanSendPolls:          true,
		CanSendOtherMessages:  true,
		CanAddWebPagePreviews: true,
		CanInviteUsers:        true,
	}
}

// MutedPermissions revoke every right.
func MutedPermissions() Permissions {
	return Permissions{}
}
