// Package captcha gates new members behind a verify button. A member who
// does not press it before the deadline is removed from the group.
package captcha

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ihiteshgupta/telegram-modbot/internal/greeting"
	"github.com/ihiteshgupta/telegram-modbot/internal/modlog"
	"github.com/ihiteshgupta/telegram-modbot/internal/state"
	"github.com/ihiteshgupta/telegram-modbot/internal/store"
	"github.com/ihiteshgupta/telegram-modbot/internal/telegram"
)

// CallbackPrefix starts the data of every verify button.
const CallbackPrefix = "verify:"

// Replies to verify presses.
const (
	TextNotForYou       = "This button is not for you."
	TextAlreadyVerified = "Already verified."
	TextVerified        = "Verified!"
	TextVerifiedEdit    = "✅ User verified successfully."
)

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func())
}

// TimerScheduler schedules with time.AfterFunc.
type TimerScheduler struct{}

// AfterFunc implements Scheduler.
func (TimerScheduler) AfterFunc(d time.Duration, f func()) {
	time.AfterFunc(d, f)
}

// Service runs the verification lifecycle of group members.
type Service struct {
	members   store.MemberRepository
	policies  store.PolicyRepository
	client    telegram.Client
	recorder  modlog.Recorder
	scheduler Scheduler
	timeout   time.Duration
	log       *slog.Logger

	now func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithScheduler replaces the timer scheduler.
func WithScheduler(s Scheduler) Option {
	return func(svc *Service) { svc.scheduler = s }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(svc *Service) { svc.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(svc *Service) { svc.log = l }
}

// NewService creates a captcha service with the given verification timeout.
func NewService(st *store.Store, client telegram.Client, recorder modlog.Recorder, timeout time.Duration, opts ...Option) *Service {
	svc := &Service{
		members:   st.Members,
		policies:  st.Policies,
		client:    client,
		recorder:  recorder,
		scheduler: TimerScheduler{},
		timeout:   timeout,
		log:       slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// machine binds the verification FSM to the stored member record.
func (s *Service) machine(chatID, userID int64) *state.Machine {
	accessor := func(ctx context.Context) (state.State, error) {
		m, err := s.members.FindOrDefault(ctx, chatID, userID)
		if err != nil {
			return "", fmt.Errorf("failed to load member: %w", err)
		}
		return m.VerificationState(), nil
	}

	mutator := func(ctx context.Context, st state.State) error {
		now := s.now().UTC()
		var patch store.MemberPatch

		switch st {
		case state.VerificationPending:
			deadline := now.Add(s.timeout)
			patch.VerificationPending = boolPtr(true)
			patch.VerificationDeadline = &deadline
			patch.ClearVerifiedAt = true
		case state.VerificationVerified:
			patch.VerificationPending = boolPtr(false)
			patch.ClearDeadline = true
			patch.VerifiedAt = &now
		case state.VerificationNone:
			patch.VerificationPending = boolPtr(false)
			patch.ClearDeadline = true
		default:
			return fmt.Errorf("unexpected verification state %q", st)
		}

		if _, err := s.members.Upsert(ctx, chatID, userID, patch); err != nil {
			return fmt.Errorf("failed to save verification state: %w", err)
		}
		return nil
	}

	return state.NewVerificationMachine(accessor, mutator)
}

// OnJoin records a new member and, when the group has captcha enabled,
// restricts them and posts the verify button.
func (s *Service) OnJoin(ctx context.Context, chat telegram.Chat, policy *store.GroupPolicy, user telegram.User) error {
	deleted := !user.IsBot && user.FirstName == "Deleted Account"
	_, err := s.members.Upsert(ctx, chat.ID, user.ID, store.MemberPatch{
		Username:            &user.Username,
		FirstName:           &user.FirstName,
		LastName:            &user.LastName,
		VerificationPending: boolPtr(false),
		ClearDeadline:       true,
		IsDeletedLikely:     &deleted,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert joining member: %w", err)
	}

	if !policy.CaptchaEnabled || user.IsBot {
		return nil
	}

	if r := s.client.Restrict(ctx, chat.ID, user.ID, telegram.MutedPermissions(), time.Time{}); !r.OK {
		s.log.Warn("failed to restrict unverified member",
			"chat_id", chat.ID,
			"user_id", user.ID,
			"kind", r.Kind,
		)
	}

	if err := s.machine(chat.ID, user.ID).Fire(ctx, state.TriggerJoin); err != nil {
		return fmt.Errorf("failed to start verification: %w", err)
	}

	text := fmt.Sprintf("✅ Verification required for %s. Please verify within %ds.",
		greeting.MentionHTML(user), int(s.timeout/time.Second))
	r := s.client.SendText(ctx, chat.ID, text, telegram.SendOptions{
		ParseMode: telegram.ParseModeHTML,
		Keyboard: telegram.Keyboard{{
			{Text: "✅ Verify", Data: CallbackData(chat.ID, user.ID)},
		}},
	})
	if !r.OK {
		s.log.Warn("failed to send verification prompt",
			"chat_id", chat.ID,
			"user_id", user.ID,
			"kind", r.Kind,
		)
	}

	chatID, userID := chat.ID, user.ID
	s.scheduler.AfterFunc(s.timeout, func() {
		if _, err := s.CheckTimeout(context.Background(), chatID, userID); err != nil {
			s.log.Error("verification timeout check failed",
				"chat_id", chatID,
				"user_id", userID,
				"error", err,
			)
		}
	})

	s.log.Info("verification started", "chat_id", chat.ID, "user_id", user.ID, "timeout", s.timeout)
	return nil
}

// Verify handles a press of the verify button.
func (s *Service) Verify(ctx context.Context, cb *telegram.CallbackQuery) error {
	chatID, userID, ok := ParseCallbackData(cb.Data)
	if !ok {
		s.client.AnswerCallback(ctx, cb.ID, "", false)
		return nil
	}

	if cb.From.ID != userID {
		s.client.AnswerCallback(ctx, cb.ID, TextNotForYou, true)
		return nil
	}

	member, err := s.members.FindOrDefault(ctx, chatID, userID)
	if err != nil {
		return fmt.Errorf("failed to load member: %w", err)
	}
	if member.VerificationState() != state.VerificationPending {
		s.client.AnswerCallback(ctx, cb.ID, TextAlreadyVerified, false)
		return nil
	}

	if r := s.client.Restrict(ctx, chatID, userID, telegram.BaselinePermissions(), time.Time{}); !r.OK {
		s.log.Warn("failed to lift verification restriction",
			"chat_id", chatID,
			"user_id", userID,
			"kind", r.Kind,
		)
	}

	if err := s.machine(chatID, userID).Fire(ctx, state.TriggerVerify); err != nil {
		return fmt.Errorf("failed to complete verification: %w", err)
	}

	s.client.AnswerCallback(ctx, cb.ID, TextVerified, false)
	if cb.Message != nil {
		s.client.EditText(ctx, cb.Message.Chat.ID, cb.Message.ID, TextVerifiedEdit)
	}

	s.record(ctx, chatID, userID, modlog.ActionCaptchaVerified, "")
	s.log.Info("member verified", "chat_id", chatID, "user_id", userID)
	return nil
}

// CheckTimeout removes the member if they are still pending and their
// deadline has passed. A check left over from an earlier join finds a later
// deadline, or no pending state, and does nothing. It reports whether the
// member was removed.
func (s *Service) CheckTimeout(ctx context.Context, chatID, userID int64) (bool, error) {
	member, err := s.members.FindOrDefault(ctx, chatID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to load member: %w", err)
	}

	now := s.now()
	if member.VerificationState() != state.VerificationPending {
		return false, nil
	}
	if member.VerificationDeadline != nil && member.VerificationDeadline.After(now) {
		return false, nil
	}

	// Ban then unban removes the member without a permanent ban.
	if r := s.client.Ban(ctx, chatID, userID); !r.OK {
		s.log.Warn("failed to remove unverified member", "chat_id", chatID, "user_id", userID, "kind", r.Kind)
	}
	if r := s.client.Unban(ctx, chatID, userID); !r.OK {
		s.log.Warn("failed to unban removed member", "chat_id", chatID, "user_id", userID, "kind", r.Kind)
	}

	if err := s.machine(chatID, userID).Fire(ctx, state.TriggerTimeout); err != nil {
		return true, fmt.Errorf("failed to expire verification: %w", err)
	}

	s.record(ctx, chatID, userID, modlog.ActionCaptchaTimeoutKick, "Verification timed out")
	s.log.Info("unverified member removed", "chat_id", chatID, "user_id", userID)
	return true, nil
}

// SweepExpired runs CheckTimeout for every member whose deadline passed
// before now. It recovers checks whose timers were lost, for example on
// restart.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.members.ListPendingExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired verifications: %w", err)
	}

	removed := 0
	for _, m := range expired {
		ok, err := s.CheckTimeout(ctx, m.ChatID, m.UserID)
		if err != nil {
			s.log.Error("failed to expire verification", "chat_id", m.ChatID, "user_id", m.UserID, "error", err)
			continue
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

func (s *Service) record(ctx context.Context, chatID, userID int64, action, reason string) {
	entry := modlog.Entry{
		ChatID:   chatID,
		Action:   action,
		TargetID: modlog.ID(userID),
		Reason:   reason,
	}

	policy, err := s.policies.Get(ctx, chatID)
	switch {
	case err == nil:
		entry.ChatTitle = policy.Title
		entry.LogChannelID = policy.LogChannelID
	case !errors.Is(err, store.ErrNotFound):
		s.log.Warn("failed to load policy for log entry", "chat_id", chatID, "error", err)
	}

	s.recorder.Record(entry)
}

// CallbackData builds the verify button payload.
func CallbackData(chatID, userID int64) string {
	return CallbackPrefix + strconv.FormatInt(chatID, 10) + ":" + strconv.FormatInt(userID, 10)
}

// ParseCallbackData parses a verify button payload.
func ParseCallbackData(data string) (chatID, userID int64, ok bool) {
	rest, found := strings.CutPrefix(data, CallbackPrefix)
	if !found {
		return 0, 0, false
	}
	chatPart, userPart, found := strings.Cut(rest, ":")
	if !found {
		return 0, 0, false
	}

	chatID, err := strconv.ParseInt(chatPart, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	userID, err = strconv.ParseInt(userPart, 10, 64)
	if err != nil || userID <= 0 {
		return 0, 0, false
	}
	return chatID, userID, true
}

func boolPtr(b bool) *bool {
	return &b
}
