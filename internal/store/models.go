// Package store provides persistence for group policies, member state, relay
// correlation and the moderation log.
package store

import (
	"slices"
	"strings"
	"time"

	"github.com/ihiteshgupta/telegram-modbot/internal/state"
)

// Default greeting templates for newly observed groups.
const (
	DefaultWelcomeMessage = "Welcome {user} to {group}!"
	DefaultGoodbyeMessage = "Goodbye {user}."
)

// Relay modes.
const (
	RelayModePrivate = "private"
	RelayModeChannel = "channel"
)

// RelaySettingsKey is the key of the relay settings singleton.
const RelaySettingsKey = "global"

// Locks holds the per-content-type locks of a group.
type Locks struct {
	Stickers  bool `json:"stickers" bson:"stickers"`
	Gifs      bool `json:"gifs" bson:"gifs"`
	Photos    bool `json:"photos" bson:"photos"`
	Videos    bool `json:"videos" bson:"videos"`
	Links     bool `json:"links" bson:"links"`
	Voice     bool `json:"voice" bson:"voice"`
	Documents bool `json:"documents" bson:"documents"`
	Polls     bool `json:"polls" bson:"polls"`
}

// LockNames lists the lock names accepted by Set.
var LockNames = []string{"stickers", "gifs", "photos", "videos", "links", "voice", "documents", "polls"}

// Set toggles the named lock. It returns false for an unknown name.
func (l *Locks) Set(name string, on bool) bool {
	switch strings.ToLower(name) {
	case "stickers":
		l.Stickers = on
	case "gifs":
		l.Gifs = on
	case "photos":
		l.Photos = on
	case "videos":
		l.Videos = on
	case "links":
		l.Links = on
	case "voice":
		l.Voice = on
	case "documents":
		l.Documents = on
	case "polls":
		l.Polls = on
	default:
		return false
	}
	return true
}

// SetAll toggles every lock.
func (l *Locks) SetAll(on bool) {
	for _, name := range LockNames {
		l.Set(name, on)
	}
}

// Enabled returns the names of the locks that are on.
func (l Locks) Enabled() []string {
	values := map[string]bool{
		"stickers": l.Stickers, "gifs": l.Gifs, "photos": l.Photos, "videos": l.Videos,
		"links": l.Links, "voice": l.Voice, "documents": l.Documents, "polls": l.Polls,
	}
	var on []string
	for _, name := range LockNames {
		if values[name] {
			on = append(on, name)
		}
	}
	return on
}

// GroupPolicy is the moderation configuration of one group.
type GroupPolicy struct {
	ChatID               int64     `json:"chat_id" bson:"chat_id"`
	Title                string    `json:"title" bson:"title"`
	OriginalTitle        string    `json:"original_title,omitempty" bson:"original_title"`
	WelcomeEnabled       bool      `json:"welcome_enabled" bson:"welcome_enabled"`
	WelcomeMessage       string    `json:"welcome_message" bson:"welcome_message"`
	GoodbyeEnabled       bool      `json:"goodbye_enabled" bson:"goodbye_enabled"`
	GoodbyeMessage       string    `json:"goodbye_message" bson:"goodbye_message"`
	AntiSpamEnabled      bool      `json:"anti_spam_enabled" bson:"anti_spam_enabled"`
	AntiFloodEnabled     bool      `json:"anti_flood_enabled" bson:"anti_flood_enabled"`
	AntiLinkEnabled      bool      `json:"anti_link_enabled" bson:"anti_link_enabled"`
	CaptchaEnabled       bool      `json:"captcha_enabled" bson:"captcha_enabled"`
	ServiceDeleteEnabled bool      `json:"service_delete_enabled" bson:"service_delete_enabled"`
	Locks                Locks     `json:"locks" bson:"locks"`
	BadWords             []string  `json:"bad_words" bson:"bad_words"`
	WhitelistUsers       []int64   `json:"whitelist_users" bson:"whitelist_users"`
	KeepServiceTypes     []string  `json:"keep_service_types" bson:"keep_service_types"`
	LogChannelID         *int64    `json:"log_channel_id,omitempty" bson:"log_channel_id,omitempty"`
	CreatedAt            time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt            time.Time `json:"updated_at" bson:"updated_at"`
}

// NewGroupPolicy returns the policy a group gets when first observed.
func NewGroupPolicy(chatID int64, title string) *GroupPolicy {
	now := time.Now().UTC()
	return &GroupPolicy{
		ChatID:           chatID,
		Title:            title,
		WelcomeMessage:   DefaultWelcomeMessage,
		GoodbyeMessage:   DefaultGoodbyeMessage,
		AntiSpamEnabled:  true,
		AntiFloodEnabled: true,
		AntiLinkEnabled:  true,
		CaptchaEnabled:   true,
		BadWords:         []string{},
		WhitelistUsers:   []int64{},
		KeepServiceTypes: []string{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// IsWhitelisted reports whether userID is on the group whitelist.
func (p *GroupPolicy) IsWhitelisted(userID int64) bool {
	return slices.Contains(p.WhitelistUsers, userID)
}

// KeepsService reports whether the service-message type is exempt from deletion.
func (p *GroupPolicy) KeepsService(serviceType string) bool {
	return slices.Contains(p.KeepServiceTypes, serviceType)
}

// MemberState is the per-group state of one user.
type MemberState struct {
	ChatID               int64      `json:"chat_id" bson:"chat_id"`
	UserID               int64      `json:"user_id" bson:"user_id"`
	Username             string     `json:"username,omitempty" bson:"username"`
	FirstName            string     `json:"first_name,omitempty" bson:"first_name"`
	LastName             string     `json:"last_name,omitempty" bson:"last_name"`
	Warnings             int        `json:"warnings" bson:"warnings"`
	MutedUntil           *time.Time `json:"muted_until,omitempty" bson:"muted_until,omitempty"`
	IsWhitelisted        bool       `json:"is_whitelisted" bson:"is_whitelisted"`
	VerificationPending  bool       `json:"verification_pending" bson:"verification_pending"`
	VerificationDeadline *time.Time `json:"verification_deadline,omitempty" bson:"verification_deadline,omitempty"`
	VerifiedAt           *time.Time `json:"verified_at,omitempty" bson:"verified_at,omitempty"`
	IsDeletedLikely      bool       `json:"is_deleted_likely" bson:"is_deleted_likely"`
	UpdatedAt            time.Time  `json:"updated_at" bson:"updated_at"`
}

// VerificationState derives the captcha machine state from the record.
func (m *MemberState) VerificationState() state.State {
	switch {
	case m.VerificationPending:
		return state.VerificationPending
	case m.VerifiedAt != nil:
		return state.VerificationVerified
	default:
		return state.VerificationNone
	}
}

// DisplayName returns the best human-readable name for the member.
func (m *MemberState) DisplayName() string {
	name := strings.TrimSpace(m.FirstName + " " + m.LastName)
	switch {
	case name != "":
		return name
	case m.Username != "":
		return "@" + m.Username
	default:
		return ""
	}
}

// MemberPatch is a partial update of a MemberState. Nil fields are left as
// they are; ClearX flags reset nullable timestamps.
type MemberPatch struct {
	Username             *string
	FirstName            *string
	LastName             *string
	Warnings             *int
	MutedUntil           *time.Time
	ClearMutedUntil      bool
	IsWhitelisted        *bool
	VerificationPending  *bool
	VerificationDeadline *time.Time
	ClearDeadline        bool
	VerifiedAt           *time.Time
	ClearVerifiedAt      bool
	IsDeletedLikely      *bool
}

// Apply writes the patch onto m.
func (p MemberPatch) Apply(m *MemberState) {
	if p.Username != nil {
		m.Username = *p.Username
	}
	if p.FirstName != nil {
		m.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		m.LastName = *p.LastName
	}
	if p.Warnings != nil {
		m.Warnings = *p.Warnings
	}
	if p.ClearMutedUntil {
		m.MutedUntil = nil
	} else if p.MutedUntil != nil {
		t := *p.MutedUntil
		m.MutedUntil = &t
	}
	if p.IsWhitelisted != nil {
		m.IsWhitelisted = *p.IsWhitelisted
	}
	if p.VerificationPending != nil {
		m.VerificationPending = *p.VerificationPending
	}
	if p.ClearDeadline {
		m.VerificationDeadline = nil
	} else if p.VerificationDeadline != nil {
		t := *p.VerificationDeadline
		m.VerificationDeadline = &t
	}
	if p.ClearVerifiedAt {
		m.VerifiedAt = nil
	} else if p.VerifiedAt != nil {
		t := *p.VerifiedAt
		m.VerifiedAt = &t
	}
	if p.IsDeletedLikely != nil {
		m.IsDeletedLikely = *p.IsDeletedLikely
	}
}

// RelayMapping links a mirrored copy to the message it was mirrored from.
type RelayMapping struct {
	RelayChatID       int64     `json:"relay_chat_id" bson:"relay_chat_id"`
	RelayMessageID    int       `json:"relay_message_id" bson:"relay_message_id"`
	OriginalChatID    int64     `json:"original_chat_id" bson:"original_chat_id"`
	OriginalMessageID int       `json:"original_message_id" bson:"original_message_id"`
	CreatedAt         time.Time `json:"created_at" bson:"created_at"`
}

// RelaySettings is the global relay configuration.
type RelaySettings struct {
	Key       string    `json:"key" bson:"key"`
	Enabled   bool      `json:"enabled" bson:"enabled"`
	Mode      string    `json:"mode" bson:"mode"`
	ChannelID *int64    `json:"channel_id,omitempty" bson:"channel_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// DefaultRelaySettings returns the settings used before the owner changes anything.
func DefaultRelaySettings() *RelaySettings {
	return &RelaySettings{
		Key:       RelaySettingsKey,
		Enabled:   false,
		Mode:      RelayModePrivate,
		UpdatedAt: time.Now().UTC(),
	}
}

// Filter is an exact-match auto reply.
type Filter struct {
	ChatID    int64     `json:"chat_id" bson:"chat_id"`
	Trigger   string    `json:"trigger" bson:"trigger"`
	Response  string    `json:"response" bson:"response"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// LogEntry is one record of the append-only moderation log.
type LogEntry struct {
	ID        string         `json:"id" bson:"_id"`
	ChatID    int64          `json:"chat_id" bson:"chat_id"`
	Action    string         `json:"action" bson:"action"`
	ActorID   *int64         `json:"actor_id,omitempty" bson:"actor_id,omitempty"`
	TargetID  *int64         `json:"target_id,omitempty" bson:"target_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at" bson:"created_at"`
}
