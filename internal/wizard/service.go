package wizard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ihiteshgupta/telegram-modbot/internal/greeting"
	"github.com/ihiteshgupta/telegram-modbot/internal/modlog"
	"github.com/ihiteshgupta/telegram-modbot/internal/state"
	"github.com/ihiteshgupta/telegram-modbot/internal/store"
	"github.com/ihiteshgupta/telegram-modbot/internal/telegram"
)

// CallbackPrefix starts the data of every panel button.
const CallbackPrefix = "dm:"

// Panel button payloads.
const (
	CallbackHelp             = "dm:help"
	CallbackCommands         = "dm:commands"
	CallbackAdmin            = "dm:admin"
	CallbackBroadcast        = "dm:broadcast"
	CallbackWelcome          = "dm:welcome"
	CallbackFilters          = "dm:filters"
	CallbackStats            = "dm:stats"
	CallbackBroadcastSend    = "dm:bc:send"
	CallbackBroadcastPreview = "dm:bc:preview"
	CallbackCancel           = "dm:cancel"
)

// Replies.
const (
	TextOwnerOnly        = "⛔ This action is owner-only."
	TextHelp             = "🤝 Use /commands for available commands or open the Admin Panel to manage your groups."
	TextHelpCallback     = "🤝 Need help? Use /commands or open Admin Panel for advanced group controls."
	TextCommandsCallback = "📚 Quick commands: /start, /help, /commands, /admin\nModeration commands work only in groups."
	TextNotAdmin         = "🚫 You are not an admin in any tracked group yet."
	TextNoManagedGroups  = "No managed groups found."
	TextAdminPanel       = "🛡 Admin Panel\nChoose an action:"
	TextAskBroadcast     = "📣 Send the broadcast message now. It will be sent to all tracked groups."
	TextAskWelcome       = "🎉 Send new welcome template for your groups. Variables: {user} {first} {username} {group}.\nUse [Button Text](https://example.com) on separate lines for buttons."
	TextEmptyBroadcast   = "⚠️ Empty broadcast ignored. Send plain text to continue."
	TextEmptyWelcome     = "⚠️ Welcome template cannot be empty. Please send text with variables."
	TextNoDraft          = "Nothing to send."
	TextCanceled         = "❌ Canceled."
	TextDraftSaved       = "📝 Draft saved. Send it, preview it, or send new text to replace it."
)

// TextCommands lists the private commands.
var TextCommands = strings.Join([]string{
	"📚 Commands",
	"• /start - Open DM home",
	"• /help - Quick guidance",
	"• /commands - Show this list",
	"• /admin - Open private admin panel",
	"",
	"Group moderation commands stay in groups only (example: .ban, .mute, .warn, .lock).",
}, "\n")

// Synthetic context the welcome preview is rendered against.
var (
	previewUser  = telegram.User{ID: 1, FirstName: "Alex", Username: "alex"}
	previewGroup = "Example Group"
)

// Service handles private-chat commands, panel callbacks and wizard text.
type Service struct {
	sessions SessionStore
	policies store.PolicyRepository
	members  store.MemberRepository
	filters  store.FilterRepository
	client   telegram.Client
	recorder modlog.Recorder
	ownerID  int64
	log      *slog.Logger

	now func() time.Time
}

// NewService creates the wizard service. Only ownerID may start flows.
func NewService(st *store.Store, client telegram.Client, sessions SessionStore, recorder modlog.Recorder, ownerID int64, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sessions: sessions,
		policies: st.Policies,
		members:  st.Members,
		filters:  st.Filters,
		client:   client,
		recorder: recorder,
		ownerID:  ownerID,
		log:      logger,
		now:      time.Now,
	}
}

// State returns the wizard state of userID.
func (s *Service) State(userID int64) state.State {
	sess, ok := s.sessions.Get(userID)
	if !ok || sess.State == "" {
		return state.WizardIdle
	}
	return sess.State
}

func (s *Service) isOwner(userID int64) bool {
	return s.ownerID != 0 && userID == s.ownerID
}

// machine binds the wizard FSM to the session of userID.
func (s *Service) machine(userID int64) *state.Machine {
	accessor := func(context.Context) (state.State, error) {
		return s.State(userID), nil
	}
	mutator := func(_ context.Context, st state.State) error {
		sess, _ := s.sessions.Get(userID)
		sess.UserID = userID
		sess.State = st
		sess.UpdatedAt = s.now()
		if st == state.WizardIdle {
			sess.Draft = ""
		}
		s.sessions.Set(sess)
		return nil
	}

	m := state.NewWizardMachine(accessor, mutator)
	m.OnTransition(func(_ context.Context, from, to state.State, trigger state.Trigger) {
		s.log.Debug("wizard transition", "user_id", userID, "from", from, "to", to, "trigger", trigger)
	})
	return m
}

func (s *Service) fire(ctx context.Context, userID int64, trigger state.Trigger) (bool, error) {
	m := s.machine(userID)
	ok, err := m.CanFire(ctx, trigger)
	if err != nil {
		return false, fmt.Errorf("failed to check wizard trigger: %w", err)
	}
	if !ok {
		return false, nil
	}
	if err := m.Fire(ctx, trigger); err != nil {
		return false, fmt.Errorf("failed to fire wizard trigger %s: %w", trigger, err)
	}
	return true, nil
}

// Reset returns userID's session to idle.
func (s *Service) Reset(ctx context.Context, userID int64) error {
	if _, err := s.fire(ctx, userID, state.TriggerReset); err != nil {
		return err
	}
	return nil
}

func (s *Service) reply(ctx context.Context, chatID int64, text string, opts telegram.SendOptions) {
	if r := s.client.SendText(ctx, chatID, text, opts); !r.OK {
		s.log.Debug("failed to send wizard reply", "chat_id", chatID, "kind", r.Kind)
	}
}

// commandName returns "start" for "/start@bot arg".
func commandName(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	name := strings.Fields(text)[0][1:]
	name, _, _ = strings.Cut(name, "@")
	return strings.ToLower(name), name != ""
}

// HandleCommand runs /start, /help, /commands and /admin in a private chat.
// It reports whether msg was one of them.
func (s *Service) HandleCommand(ctx context.Context, msg *telegram.Message) (bool, error) {
	if !msg.Chat.IsPrivate() || msg.From == nil {
		return false, nil
	}
	name, ok := commandName(msg.Text)
	if !ok {
		return false, nil
	}

	user := *msg.From
	switch name {
	case "start":
		managed, err := s.managedGroups(ctx, user.ID)
		if err != nil {
			return true, err
		}
		s.reply(ctx, msg.Chat.ID, startText(user), telegram.SendOptions{
			ParseMode: telegram.ParseModeHTML,
			Keyboard:  mainKeyboard(len(managed) > 0 || s.isOwner(user.ID)),
		})
	case "help":
		s.reply(ctx, msg.Chat.ID, TextHelp, telegram.SendOptions{})
	case "commands":
		s.reply(ctx, msg.Chat.ID, TextCommands, telegram.SendOptions{})
	case "admin":
		return true, s.openPanel(ctx, msg.Chat.ID, user.ID, "")
	default:
		return false, nil
	}
	return true, nil
}

func startText(u telegram.User) string {
	return "🌹 Welcome " + greeting.MentionHTML(u) + "\n\nI can help you manage your groups."
}

func mainKeyboard(admin bool) telegram.Keyboard {
	kb := telegram.Keyboard{{
		{Text: "❓ Help", Data: CallbackHelp},
		{Text: "📚 Commands", Data: CallbackCommands},
	}}
	if admin {
		kb = append(kb, []telegram.Button{{Text: "🛡 Admin Panel", Data: CallbackAdmin}})
	}
	return kb
}

func adminKeyboard() telegram.Keyboard {
	return telegram.Keyboard{
		{{Text: "📣 Broadcast", Data: CallbackBroadcast}},
		{{Text: "🎉 Edit Welcome Message", Data: CallbackWelcome}},
		{{Text: "🧠 Toggle Filters", Data: CallbackFilters}},
		{{Text: "📊 View Stats", Data: CallbackStats}},
	}
}

func draftKeyboard() telegram.Keyboard {
	return telegram.Keyboard{{
		{Text: "✅ Send", Data: CallbackBroadcastSend},
		{Text: "👀 Preview", Data: CallbackBroadcastPreview},
		{Text: "❌ Cancel", Data: CallbackCancel},
	}}
}

// openPanel resets the session and shows the admin panel. callbackID is set
// when the panel was opened from a button.
func (s *Service) openPanel(ctx context.Context, chatID, userID int64, callbackID string) error {
	managed, err := s.managedGroups(ctx, userID)
	if err != nil {
		return err
	}
	if len(managed) == 0 && !s.isOwner(userID) {
		if callbackID != "" {
			s.client.AnswerCallback(ctx, callbackID, TextNoManagedGroups, true)
			return nil
		}
		s.reply(ctx, chatID, TextNotAdmin, telegram.SendOptions{})
		return nil
	}

	if err := s.Reset(ctx, userID); err != nil {
		return err
	}
	if callbackID != "" {
		s.client.AnswerCallback(ctx, callbackID, "", false)
	}
	s.reply(ctx, chatID, TextAdminPanel, telegram.SendOptions{Keyboard: adminKeyboard()})
	return nil
}

// HandleCallback runs a dm:* button press. It reports whether cb was one.
func (s *Service) HandleCallback(ctx context.Context, cb *telegram.CallbackQuery) (bool, error) {
	if !strings.HasPrefix(cb.Data, CallbackPrefix) {
		return false, nil
	}
	if cb.Message == nil || !cb.Message.Chat.IsPrivate() {
		s.client.AnswerCallback(ctx, cb.ID, "", false)
		return true, nil
	}

	chatID := cb.Message.Chat.ID
	userID := cb.From.ID

	switch cb.Data {
	case CallbackHelp:
		s.client.AnswerCallback(ctx, cb.ID, "", false)
		s.reply(ctx, chatID, TextHelpCallback, telegram.SendOptions{})
		return true, nil
	case CallbackCommands:
		s.client.AnswerCallback(ctx, cb.ID, "", false)
		s.reply(ctx, chatID, TextCommandsCallback, telegram.SendOptions{})
		return true, nil
	case CallbackAdmin:
		return true, s.openPanel(ctx, chatID, userID, cb.ID)
	case CallbackStats:
		return true, s.stats(ctx, cb, chatID)
	}

	// Everything below changes groups or starts a flow.
	if !s.isOwner(userID) {
		if err := s.Reset(ctx, userID); err != nil {
			return true, err
		}
		s.client.AnswerCallback(ctx, cb.ID, TextOwnerOnly, true)
		return true, nil
	}

	switch cb.Data {
	case CallbackBroadcast:
		return true, s.openBroadcast(ctx, cb, chatID)
	case CallbackWelcome:
		return true, s.openWelcome(ctx, cb, chatID)
	case CallbackFilters:
		return true, s.toggleFilters(ctx, cb, chatID)
	case CallbackBroadcastSend:
		return true, s.sendBroadcast(ctx, cb, chatID)
	case CallbackBroadcastPreview:
		return true, s.previewBroadcast(ctx, cb, chatID)
	case CallbackCancel:
		if _, err := s.fire(ctx, userID, state.TriggerCancel); err != nil {
			return true, err
		}
		s.client.AnswerCallback(ctx, cb.ID, "", false)
		s.reply(ctx, chatID, TextCanceled, telegram.SendOptions{})
		return true, nil
	default:
		s.client.AnswerCallback(ctx, cb.ID, "", false)
		return true, nil
	}
}

func (s *Service) openBroadcast(ctx context.Context, cb *telegram.CallbackQuery, chatID int64) error {
	all, err := s.policies.ListIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list groups: %w", err)
	}
	managed, err := s.managedGroups(ctx, cb.From.ID)
	if err != nil {
		return err
	}

	sess, _ := s.sessions.Get(cb.From.ID)
	sess.UserID = cb.From.ID
	sess.AllGroupIDs = all
	sess.ManagedGroupIDs = groupIDs(managed)
	sess.Draft = ""
	sess.UpdatedAt = s.now()
	s.sessions.Set(sess)

	if _, err := s.fire(ctx, cb.From.ID, state.TriggerOpenBroadcast); err != nil {
		return err
	}
	s.client.AnswerCallback(ctx, cb.ID, "", false)
	s.reply(ctx, chatID, TextAskBroadcast, telegram.SendOptions{
		Keyboard: telegram.Keyboard{{{Text: "❌ Cancel", Data: CallbackCancel}}},
	})
	return nil
}

func (s *Service) openWelcome(ctx context.Context, cb *telegram.CallbackQuery, chatID int64) error {
	managed, err := s.managedGroups(ctx, cb.From.ID)
	if err != nil {
		return err
	}
	if len(managed) == 0 {
		s.client.AnswerCallback(ctx, cb.ID, TextNoManagedGroups, true)
		return nil
	}

	sess, _ := s.sessions.Get(cb.From.ID)
	sess.UserID = cb.From.ID
	sess.ManagedGroupIDs = groupIDs(managed)
	sess.Draft = ""
	sess.UpdatedAt = s.now()
	s.sessions.Set(sess)

	if _, err := s.fire(ctx, cb.From.ID, state.TriggerOpenWelcome); err != nil {
		return err
	}
	s.client.AnswerCallback(ctx, cb.ID, "", false)
	s.reply(ctx, chatID, TextAskWelcome, telegram.SendOptions{
		Keyboard: telegram.Keyboard{{{Text: "❌ Cancel", Data: CallbackCancel}}},
	})
	return nil
}

func (s *Service) toggleFilters(ctx context.Context, cb *telegram.CallbackQuery, chatID int64) error {
	managed, err := s.managedGroups(ctx, cb.From.ID)
	if err != nil {
		return err
	}
	if len(managed) == 0 {
		s.client.AnswerCallback(ctx, cb.ID, TextNoManagedGroups, true)
		return nil
	}

	updated := 0
	for i := range managed {
		p := &managed[i]
		p.AntiSpamEnabled = !p.AntiSpamEnabled
		p.UpdatedAt = s.now().UTC()
		if err := s.policies.Save(ctx, p); err != nil {
			s.log.Error("failed to toggle anti-spam", "chat_id", p.ChatID, "error", err)
			continue
		}
		updated++
	}

	s.client.AnswerCallback(ctx, cb.ID, "", false)
	s.reply(ctx, chatID, fmt.Sprintf("🧠 Filters toggled for %d groups (anti-spam switched).", updated), telegram.SendOptions{})
	return nil
}

func (s *Service) stats(ctx context.Context, cb *telegram.CallbackQuery, chatID int64) error {
	managed, err := s.managedGroups(ctx, cb.From.ID)
	if err != nil {
		return err
	}
	if len(managed) == 0 {
		s.client.AnswerCallback(ctx, cb.ID, TextNoManagedGroups, true)
		return nil
	}

	ids := groupIDs(managed)
	users, err := s.members.Count(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to count members: %w", err)
	}
	filters, err := s.filters.Count(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to count filters: %w", err)
	}

	s.client.AnswerCallback(ctx, cb.ID, "", false)
	s.reply(ctx, chatID, StatsText(len(managed), users, filters), telegram.SendOptions{})
	return nil
}

// StatsText renders the admin stats screen.
func StatsText(groups, users, filters int) string {
	return strings.Join([]string{
		"📊 Admin Stats",
		fmt.Sprintf("• Managed groups: %d", groups),
		fmt.Sprintf("• Tracked users: %d", users),
		fmt.Sprintf("• Active filters: %d", filters),
	}, "\n")
}

// BroadcastText is what each group receives.
func BroadcastText(draft string) string {
	return "📣 Broadcast\n\n" + draft
}

func (s *Service) previewBroadcast(ctx context.Context, cb *telegram.CallbackQuery, chatID int64) error {
	ok, err := s.fire(ctx, cb.From.ID, state.TriggerPreview)
	if err != nil {
		return err
	}
	if !ok {
		s.client.AnswerCallback(ctx, cb.ID, TextNoDraft, true)
		return nil
	}

	sess, _ := s.sessions.Get(cb.From.ID)
	s.client.AnswerCallback(ctx, cb.ID, "", false)
	s.reply(ctx, chatID, BroadcastText(sess.Draft), telegram.SendOptions{Keyboard: draftKeyboard()})
	return nil
}

func (s *Service) sendBroadcast(ctx context.Context, cb *telegram.CallbackQuery, chatID int64) error {
	if s.State(cb.From.ID) != state.WizardDraftingBroadcast {
		s.client.AnswerCallback(ctx, cb.ID, TextNoDraft, true)
		return nil
	}
	sess, _ := s.sessions.Get(cb.From.ID)
	text := BroadcastText(sess.Draft)

	if _, err := s.fire(ctx, cb.From.ID, state.TriggerSend); err != nil {
		return err
	}
	s.client.AnswerCallback(ctx, cb.ID, "", false)

	delivered := 0
	for _, groupID := range sess.AllGroupIDs {
		r := s.client.SendText(ctx, groupID, text, telegram.SendOptions{})
		if !r.OK {
			s.log.Debug("failed to deliver broadcast", "chat_id", groupID, "kind", r.Kind)
			continue
		}
		delivered++
		s.recorder.Record(modlog.Entry{
			ChatID:  groupID,
			Action:  modlog.ActionBroadcast,
			ActorID: modlog.ID(cb.From.ID),
			Metadata: map[string]any{
				"message_id": r.MessageID,
			},
		})
	}

	s.log.Info("broadcast sent", "user_id", cb.From.ID, "delivered", delivered, "groups", len(sess.AllGroupIDs))
	s.reply(ctx, chatID, fmt.Sprintf("✅ Broadcast delivered to %d/%d groups.", delivered, len(sess.AllGroupIDs)), telegram.SendOptions{})
	return nil
}

// HandleText continues an in-progress flow with a private message. It
// reports whether the message was consumed.
func (s *Service) HandleText(ctx context.Context, msg *telegram.Message) (bool, error) {
	if !msg.Chat.IsPrivate() || msg.From == nil {
		return false, nil
	}
	userID := msg.From.ID

	current := s.State(userID)
	if !current.IsWizardActive() {
		return false, nil
	}

	if !s.isOwner(userID) {
		if err := s.Reset(ctx, userID); err != nil {
			return true, err
		}
		s.reply(ctx, msg.Chat.ID, TextOwnerOnly, telegram.SendOptions{})
		return true, nil
	}

	text := strings.TrimSpace(msg.Text)

	switch current {
	case state.WizardAwaitingBroadcast, state.WizardDraftingBroadcast:
		if text == "" {
			s.reply(ctx, msg.Chat.ID, TextEmptyBroadcast, telegram.SendOptions{})
			return true, nil
		}

		sess, _ := s.sessions.Get(userID)
		sess.Draft = text
		sess.UpdatedAt = s.now()
		s.sessions.Set(sess)

		if _, err := s.fire(ctx, userID, state.TriggerText); err != nil {
			return true, err
		}
		s.reply(ctx, msg.Chat.ID, TextDraftSaved, telegram.SendOptions{Keyboard: draftKeyboard()})
		return true, nil

	case state.WizardAwaitingWelcome:
		if text == "" {
			s.reply(ctx, msg.Chat.ID, TextEmptyWelcome, telegram.SendOptions{})
			return true, nil
		}
		return true, s.saveWelcome(ctx, msg.Chat.ID, userID, text)
	}

	return false, nil
}

func (s *Service) saveWelcome(ctx context.Context, chatID, userID int64, template string) error {
	sess, _ := s.sessions.Get(userID)

	updated := 0
	for _, groupID := range sess.ManagedGroupIDs {
		p, err := s.policies.Get(ctx, groupID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to load policy: %w", err)
		}
		p.WelcomeMessage = template
		p.WelcomeEnabled = true
		p.UpdatedAt = s.now().UTC()
		if err := s.policies.Save(ctx, p); err != nil {
			return fmt.Errorf("failed to save welcome template: %w", err)
		}
		updated++
	}

	if _, err := s.fire(ctx, userID, state.TriggerText); err != nil {
		return err
	}

	s.log.Info("welcome template updated", "user_id", userID, "groups", updated)
	s.reply(ctx, chatID, fmt.Sprintf("✅ Welcome message updated for %d managed groups. Preview below:", updated), telegram.SendOptions{})

	preview, keyboard := greeting.Compose(template, previewUser, previewGroup)
	s.reply(ctx, chatID, preview, telegram.SendOptions{ParseMode: telegram.ParseModeHTML, Keyboard: keyboard})
	return nil
}

// managedGroups returns the tracked groups where userID is an admin.
func (s *Service) managedGroups(ctx context.Context, userID int64) ([]store.GroupPolicy, error) {
	groups, err := s.policies.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}

	var managed []store.GroupPolicy
	for _, g := range groups {
		ok, err := s.client.IsAdmin(ctx, g.ChatID, userID)
		if err != nil {
			s.log.Debug("failed to check group admin", "chat_id", g.ChatID, "user_id", userID, "error", err)
			continue
		}
		if ok {
			managed = append(managed, g)
		}
	}
	return managed, nil
}

func groupIDs(groups []store.GroupPolicy) []int64 {
	ids := make([]int64, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ChatID)
	}
	return ids
}
