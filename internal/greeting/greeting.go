// Package greeting renders welcome and goodbye templates.
//
// Templates understand these placeholders:
//
//	{user}      HTML mention of the member
//	{first}     first name
//	{username}  @username, or the mention when unset
//	{group}     group title
//	{chat}      group title
//
// Lines of the form [Text](https://url) become URL buttons.
package greeting

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/ihiteshgupta/telegram-modbot/internal/telegram"
)

// Fallbacks used when a value is missing.
const (
	fallbackFirst = "there"
	fallbackGroup = "this group"
)

var buttonLine = regexp.MustCompile(`(?i)^\[([^\]]+)]\((https?://[^\s)]+)\)$`)

// MentionHTML returns an HTML link that mentions the user.
func MentionHTML(u telegram.User) string {
	name := u.FirstName
	if name == "" {
		name = u.Username
	}
	if name == "" {
		name = fmt.Sprintf("%d", u.ID)
	}
	return fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, u.ID, html.EscapeString(name))
}

// Render fills the placeholders of template for user in the group called
// groupTitle. The result is meant to be sent with HTML parse mode.
func Render(template string, user telegram.User, groupTitle string) string {
	first := user.FirstName
	if first == "" {
		first = fallbackFirst
	}
	username := MentionHTML(user)
	if user.Username != "" {
		username = "@" + user.Username
	}
	if groupTitle == "" {
		groupTitle = fallbackGroup
	}

	r := strings.NewReplacer(
		"{user}", MentionHTML(user),
		"{first}", html.EscapeString(first),
		"{username}", username,
		"{group}", html.EscapeString(groupTitle),
		"{chat}", html.EscapeString(groupTitle),
	)
	return r.Replace(template)
}

// ParseButtons splits button lines out of text. It returns the remaining
// text and one keyboard row per button, or a nil keyboard when there are
// none.
func ParseButtons(text string) (string, telegram.Keyboard) {
	var kept []string
	var kb telegram.Keyboard

	for _, line := range strings.Split(text, "\n") {
		m := buttonLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			kept = append(kept, line)
			continue
		}
		kb = append(kb, []telegram.Button{{Text: m[1], URL: m[2]}})
	}

	return strings.TrimSpace(strings.Join(kept, "\n")), kb
}

// Compose renders template and extracts its buttons in one step.
func Compose(template string, user telegram.User, groupTitle string) (string, telegram.Keyboard) {
	return ParseButtons(Render(template, user, groupTitle))
}
