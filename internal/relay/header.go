// Package relay mirrors group traffic to the owner and relay admins and
// routes their replies back to the group the message came from.
package relay

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ihiteshgupta/telegram-modbot/internal/telegram"
)

// HeaderVersion is the correlation line version written by this build.
const HeaderVersion = 1

// correlationRe matches "#relay v<version> c=<chat> m=<message>" on its own line.
var correlationRe = regexp.MustCompile(`(?m)^#relay v(\d+) c=(-?\d+) m=(\d+)$`)

// Origin identifies the message a mirrored copy was made from.
type Origin struct {
	ChatID    int64
	MessageID int
}

// CorrelationLine encodes origin as the versioned line embedded in every
// mirrored copy.
func CorrelationLine(origin Origin) string {
	return fmt.Sprintf("#relay v%d c=%d m=%d", HeaderVersion, origin.ChatID, origin.MessageID)
}

// ParseCorrelation extracts the origin from a mirrored copy's text or
// caption. Unknown versions are rejected.
func ParseCorrelation(text string) (Origin, bool) {
	match := correlationRe.FindStringSubmatch(text)
	if match == nil {
		return Origin{}, false
	}

	version, err := strconv.Atoi(match[1])
	if err != nil || version != HeaderVersion {
		return Origin{}, false
	}
	chatID, err := strconv.ParseInt(match[2], 10, 64)
	if err != nil {
		return Origin{}, false
	}
	messageID, err := strconv.Atoi(match[3])
	if err != nil || messageID <= 0 {
		return Origin{}, false
	}

	return Origin{ChatID: chatID, MessageID: messageID}, true
}

// Header renders the block that precedes mirrored content.
func Header(msg *telegram.Message) string {
	var b strings.Builder

	title := msg.Chat.Title
	if title == "" {
		title = strconv.FormatInt(msg.Chat.ID, 10)
	}
	b.WriteString("📨 Relay from ")
	b.WriteString(title)
	b.WriteString("\n👤 ")
	b.WriteString(senderName(msg))
	b.WriteString("\n")
	b.WriteString(CorrelationLine(Origin{ChatID: msg.Chat.ID, MessageID: msg.ID}))

	return b.String()
}

func senderName(msg *telegram.Message) string {
	switch {
	case msg.From != nil:
		name := msg.From.DisplayName()
		if msg.From.Username != "" && !strings.HasPrefix(name, "@") {
			name += " (@" + msg.From.Username + ")"
		}
		return name
	case msg.SenderChat != nil && msg.SenderChat.Title != "":
		return msg.SenderChat.Title
	default:
		return "anonymous"
	}
}

// truncate cuts s to at most limit runes.
func truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	if limit == 1 {
		return "…"
	}
	return string(runes[:limit-1]) + "…"
}
