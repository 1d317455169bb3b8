// Package commands implements the prefixed admin commands issued inside
// groups: member actions, content locks, moderation toggles, filters and
// greetings.
package commands

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ihiteshgupta/telegram-modbot/internal/greeting"
	"github.com/ihiteshgupta/telegram-modbot/internal/modlog"
	"github.com/ihiteshgupta/telegram-modbot/internal/store"
	"github.com/ihiteshgupta/telegram-modbot/internal/telegram"
)

// Replies shared by several commands.
const (
	TextNeedAdmin = "⛔ You need admin rights in this group to use this command."
	TextUnknown   = "ℹ️ I could not match that command. Open /start in DM for the full guidance panel."
)

// Config configures the command handler.
type Config struct {
	Prefix       string
	WarningLimit int
	OwnerID      int64
}

// request is one parsed command invocation.
type request struct {
	msg    *telegram.Message
	policy *store.GroupPolicy
	name   string
	args   []string
	actor  telegram.User
}

// chatName is the group title used in replies.
func (r *request) chatName() string {
	if r.msg.Chat.Title != "" {
		return r.msg.Chat.Title
	}
	if r.policy.Title != "" {
		return r.policy.Title
	}
	return "this group"
}

// command is one registered command. Public commands skip the admin check.
type command struct {
	usage  string
	public bool
	run    func(h *Handler, ctx context.Context, req *request) error
}

// Handler runs admin commands.
type Handler struct {
	policies store.PolicyRepository
	members  store.MemberRepository
	filters  store.FilterRepository
	client   telegram.Client
	recorder modlog.Recorder
	cfg      Config
	log      *slog.Logger

	commands map[string]command
	now      func() time.Time
}

// NewHandler creates a command handler.
func NewHandler(st *store.Store, client telegram.Client, recorder modlog.Recorder, cfg Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "."
	}
	if cfg.WarningLimit <= 0 {
		cfg.WarningLimit = 3
	}

	h := &Handler{
		policies: st.Policies,
		members:  st.Members,
		filters:  st.Filters,
		client:   client,
		recorder: recorder,
		cfg:      cfg,
		log:      logger,
		now:      time.Now,
	}
	h.commands = h.registry()
	return h
}

func (h *Handler) registry() map[string]command {
	p := h.cfg.Prefix
	target := "[reply/user_id/@username]"
	onOff := "[on/off]"

	return map[string]command{
		"id":            {usage: "Usage: " + p + "id " + target, public: true, run: (*Handler).id},
		"ban":           {usage: "Usage: " + p + "ban " + target, run: (*Handler).ban},
		"unban":         {usage: "Usage: " + p + "unban " + target, run: (*Handler).unban},
		"kick":          {usage: "Usage: " + p + "kick " + target, run: (*Handler).kick},
		"mute":          {usage: "Usage: " + p + "mute " + target + " [1m|1h|1d] (duration optional)", run: (*Handler).mute},
		"unmute":        {usage: "Usage: " + p + "unmute " + target, run: (*Handler).unmute},
		"warn":          {usage: "Usage: " + p + "warn " + target, run: (*Handler).warn},
		"warnings":      {usage: "Usage: " + p + "warnings " + target, run: (*Handler).warnings},
		"resetwarns":    {usage: "Usage: " + p + "resetwarns " + target, run: (*Handler).resetWarns},
		"purge":         {usage: "Usage: " + p + "purge [reply to first message]", run: (*Handler).purge},
		"del":           {usage: "Usage: " + p + "del [reply]", run: (*Handler).del},
		"lock":          {usage: "Usage: " + p + "lock [" + strings.Join(store.LockNames, "|") + "|all]", run: (*Handler).lock},
		"unlock":        {usage: "Usage: " + p + "unlock [" + strings.Join(store.LockNames, "|") + "|all]", run: (*Handler).lock},
		"locks":         {run: (*Handler).locks},
		"antilink":      {usage: "Usage: " + p + "antilink " + onOff, run: (*Handler).toggle},
		"antiflood":     {usage: "Usage: " + p + "antiflood " + onOff, run: (*Handler).toggle},
		"antispam":      {usage: "Usage: " + p + "antispam " + onOff, run: (*Handler).toggle},
		"captcha":       {usage: "Usage: " + p + "captcha " + onOff, run: (*Handler).toggle},
		"addword":       {usage: "Usage: " + p + "addword [word]", run: (*Handler).addWord},
		"rmword":        {usage: "Usage: " + p + "rmword [word]", run: (*Handler).removeWord},
		"words":         {run: (*Handler).words},
		"whitelist":     {usage: "Usage: " + p + "whitelist " + target, run: (*Handler).whitelist},
		"unwhitelist":   {usage: "Usage: " + p + "unwhitelist " + target, run: (*Handler).whitelist},
		"delservice":    {usage: "Usage: " + p + "delservice " + onOff, run: (*Handler).delService},
		"keepservice":   {usage: "Usage: " + p + "keepservice [" + strings.Join(telegram.ServiceTypes, "|") + "]", run: (*Handler).keepService},
		"servicestatus": {run: (*Handler).serviceStatus},
		"welcome":       {usage: "Usage: " + p + "welcome [on/off] [message] or " + p + "welcome set [message]", run: (*Handler).greeting},
		"goodbye":       {usage: "Usage: " + p + "goodbye [on/off] [message] or " + p + "goodbye set [message]", run: (*Handler).greeting},
		"filter":        {usage: "Usage: " + p + "filter [trigger] [response]", run: (*Handler).filter},
		"filters":       {run: (*Handler).listFilters},
		"stop":          {usage: "Usage: " + p + "stop [trigger]", run: (*Handler).stop},
		"setlog":        {usage: "Usage: " + p + "setlog [channel_id]", run: (*Handler).setLog},
		"clearlog":      {run: (*Handler).clearLog},
		"settitle":      {usage: "Usage: " + p + "settitle [new_title]", run: (*Handler).setTitle},
		"restoretitle":  {run: (*Handler).restoreTitle},
		"zombies":       {run: (*Handler).zombies},
	}
}

// IsCommand reports whether text starts with the command prefix.
func (h *Handler) IsCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), h.cfg.Prefix)
}

// Handle runs the command in msg. It reports whether msg was a command.
func (h *Handler) Handle(ctx context.Context, msg *telegram.Message, policy *store.GroupPolicy) (bool, error) {
	if msg.From == nil || !h.IsCommand(msg.Text) {
		return false, nil
	}

	fields := strings.Fields(strings.TrimSpace(msg.Text))
	name := strings.ToLower(strings.TrimPrefix(fields[0], h.cfg.Prefix))
	name, _, _ = strings.Cut(name, "@")
	if name == "" {
		return false, nil
	}

	req := &request{msg: msg, policy: policy, name: name, args: fields[1:], actor: *msg.From}

	cmd, ok := h.commands[name]
	if !ok {
		h.reply(ctx, req, TextUnknown)
		return true, nil
	}

	if !cmd.public {
		admin, err := h.isAdmin(ctx, msg.Chat.ID, msg.From.ID)
		if err != nil {
			h.log.Warn("failed to check admin rights", "chat_id", msg.Chat.ID, "user_id", msg.From.ID, "error", err)
		}
		if !admin {
			h.reply(ctx, req, TextNeedAdmin)
			return true, nil
		}
	}

	if err := cmd.run(h, ctx, req); err != nil {
		return true, fmt.Errorf("failed to run %s%s: %w", h.cfg.Prefix, name, err)
	}

	h.log.Debug("command handled", "chat_id", msg.Chat.ID, "user_id", msg.From.ID, "command", name)
	return true, nil
}

// isAdmin treats the owner as an admin of every group.
func (h *Handler) isAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	if h.cfg.OwnerID != 0 && userID == h.cfg.OwnerID {
		return true, nil
	}
	return h.client.IsAdmin(ctx, chatID, userID)
}

func (h *Handler) usage(ctx context.Context, req *request) {
	text := h.commands[req.name].usage
	if text == "" {
		text = "Please check your command format and try again."
	}
	h.reply(ctx, req, text)
}

func (h *Handler) reply(ctx context.Context, req *request, text string) telegram.Result {
	r := h.client.SendText(ctx, req.msg.Chat.ID, text, telegram.SendOptions{ReplyTo: req.msg.ID})
	if !r.OK {
		h.log.Debug("failed to send command reply", "chat_id", req.msg.Chat.ID, "kind", r.Kind)
	}
	return r
}

func (h *Handler) replyHTML(ctx context.Context, req *request, text string) telegram.Result {
	r := h.client.SendText(ctx, req.msg.Chat.ID, text, telegram.SendOptions{
		ReplyTo:   req.msg.ID,
		ParseMode: telegram.ParseModeHTML,
	})
	if !r.OK {
		h.log.Debug("failed to send command reply", "chat_id", req.msg.Chat.ID, "kind", r.Kind)
	}
	return r
}

func (h *Handler) savePolicy(ctx context.Context, p *store.GroupPolicy) error {
	p.UpdatedAt = h.now().UTC()
	if err := h.policies.Save(ctx, p); err != nil {
		return fmt.Errorf("failed to save policy: %w", err)
	}
	return nil
}

func (h *Handler) record(req *request, action string, target *telegram.User, reason string) {
	entry := modlog.Entry{
		ChatID:       req.msg.Chat.ID,
		ChatTitle:    req.chatName(),
		Action:       action,
		ActorID:      modlog.ID(req.actor.ID),
		Reason:       reason,
		LogChannelID: req.policy.LogChannelID,
	}
	if target != nil {
		entry.TargetID = modlog.ID(target.ID)
	}
	h.recorder.Record(entry)
}

// action describes the outcome of a moderation command.
type action struct {
	title    string
	subject  string
	duration string
	detail   string
}

// ActionMessage renders the reply to a moderation command. chatName and
// admin are expected to be HTML-safe.
func ActionMessage(title, subject, duration, chatName, admin, detail string) string {
	lines := []string{title, "👤 " + subject}
	if duration != "" {
		lines = append(lines, "⏱ Duration: "+duration)
	}
	lines = append(lines, "📍 Group: "+chatName, "🛡 By: "+admin)
	if detail != "" {
		lines = append(lines, detail)
	}
	return strings.Join(lines, "\n")
}

func (h *Handler) announce(ctx context.Context, req *request, a action) {
	h.replyHTML(ctx, req, ActionMessage(a.title, a.subject, a.duration, html.EscapeString(req.chatName()), greeting.MentionHTML(req.actor), a.detail))
}

// errUnresolved reports a target that could not be found.
var errUnresolved = errors.New("target not resolved")

// resolveTarget finds the command's target: the replied-to sender, a numeric
// id, or a tracked @username. It returns how many args were consumed.
func (h *Handler) resolveTarget(ctx context.Context, req *request) (telegram.User, int, error) {
	if req.msg.ReplyTo != nil && req.msg.ReplyTo.From != nil {
		return *req.msg.ReplyTo.From, 0, nil
	}
	if len(req.args) == 0 {
		return telegram.User{}, 0, errUnresolved
	}

	raw := req.args[0]
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id != 0 {
		return telegram.User{ID: id, FirstName: raw}, 1, nil
	}

	username, ok := strings.CutPrefix(raw, "@")
	if !ok || username == "" {
		return telegram.User{}, 0, errUnresolved
	}

	m, err := h.members.FindByUsername(ctx, req.msg.Chat.ID, username)
	if errors.Is(err, store.ErrNotFound) {
		return telegram.User{}, 0, errUnresolved
	}
	if err != nil {
		return telegram.User{}, 0, fmt.Errorf("failed to find member by username: %w", err)
	}

	first := m.FirstName
	if first == "" {
		first = m.Username
	}
	return telegram.User{ID: m.UserID, FirstName: first, LastName: m.LastName, Username: m.Username}, 1, nil
}

// targetOrUsage resolves the target and answers with the resolution error
// or the usage text when there is none.
func (h *Handler) targetOrUsage(ctx context.Context, req *request) (telegram.User, int, bool, error) {
	target, consumed, err := h.resolveTarget(ctx, req)
	if errors.Is(err, errUnresolved) {
		if text := ResolutionError(req.args); text != "" {
			h.reply(ctx, req, text)
		} else {
			h.usage(ctx, req)
		}
		return telegram.User{}, 0, false, nil
	}
	if err != nil {
		return telegram.User{}, 0, false, err
	}
	return target, consumed, true, nil
}

// ResolutionError explains an unresolved @username target. It returns ""
// for any other argument.
func ResolutionError(args []string) string {
	if len(args) == 0 || !strings.HasPrefix(args[0], "@") {
		return ""
	}
	return "❌ I couldn't resolve " + args[0] + ".\n" +
		"• Ensure the username is correct.\n" +
		"• Ask the user to send a message in this group first.\n" +
		"• Or use reply / numeric user ID."
}

// restAfter returns the raw text following the command word and the first
// n arguments, keeping line breaks.
func restAfter(text string, n int) string {
	rest := strings.TrimSpace(text)
	for i := 0; i <= n; i++ {
		idx := strings.IndexFunc(rest, isSpace)
		if idx < 0 {
			return ""
		}
		rest = strings.TrimLeftFunc(rest[idx:], isSpace)
	}
	return strings.TrimSpace(rest)
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}

func parseOnOff(args []string) (bool, bool) {
	if len(args) == 0 {
		return false, false
	}
	switch strings.ToLower(args[0]) {
	case "on":
		return true, true
	case "off":
		return false, true
	default:
		return false, false
	}
}

func onOffText(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
