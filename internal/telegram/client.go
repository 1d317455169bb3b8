package telegram

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Client defines the outbound Telegram operations used by the bot.
// This allows for easy mocking in tests.
type Client interface {
	Self() User

	// Messaging
	SendText(ctx context.Context, chatID int64, text string, opts SendOptions) Result
	SendMedia(ctx context.Context, chatID int64, media Media, caption string, opts SendOptions) Result
	Forward(ctx context.Context, toChatID, fromChatID int64, messageID int) Result
	DeleteMessage(ctx context.Context, chatID int64, messageID int) Result
	EditText(ctx context.Context, chatID int64, messageID int, text string) Result
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) Result

	// Members
	Restrict(ctx context.Context, chatID, userID int64, perms Permissions, until time.Time) Result
	Ban(ctx context.Context, chatID, userID int64) Result
	Unban(ctx context.Context, chatID, userID int64) Result

	// Chats
	SetChatTitle(ctx context.Context, chatID int64, title string) Result
	IsAdmin(ctx context.Context, chatID, userID int64) (bool, error)
	Administrators(ctx context.Context, chatID int64) ([]User, error)
}

// ErrorKind classifies a failed transport call.
type ErrorKind string

const (
	KindNone             ErrorKind = ""
	KindPermissionDenied ErrorKind = "permission_denied"
	KindRateLimited      ErrorKind = "rate_limited"
	KindNotFound         ErrorKind = "not_found"
	KindBadRequest       ErrorKind = "bad_request"
	KindNetwork          ErrorKind = "network"
	KindCanceled         ErrorKind = "canceled"
	KindUnknown          ErrorKind = "unknown"
)

// Result is the outcome of a fire-and-forget transport call. Callers decide
// whether a failure is worth logging; nothing is retried.
type Result struct {
	OK         bool
	Kind       ErrorKind
	MessageID  int
	RetryAfter time.Duration
	Err        error
}

// Success returns a successful result carrying the sent message id, if any.
func Success(messageID int) Result {
	return Result{OK: true, MessageID: messageID}
}

// Failure classifies err into a failed result.
func Failure(err error) Result {
	kind, retryAfter := Classify(err)
	return Result{OK: false, Kind: kind, RetryAfter: retryAfter, Err: err}
}

// String implements fmt.Stringer.
func (r Result) String() string {
	if r.OK {
		return fmt.Sprintf("ok(message_id=%d)", r.MessageID)
	}
	return fmt.Sprintf("%s: %v", r.Kind, r.Err)
}

// Retryable reports whether the same call could succeed later.
func (r Result) Retryable() bool {
	return r.Kind == KindRateLimited || r.Kind == KindNetwork
}

// Classify maps an error from the Bot API client to an ErrorKind.
func Classify(err error) (ErrorKind, time.Duration) {
	if err == nil {
		return KindNone, 0
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled, 0
	}

	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		retryAfter := time.Duration(apiErr.RetryAfter) * time.Second
		return classifyAPIError(apiErr.Code, apiErr.Message), retryAfter
	}

	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return KindNetwork, 0
	}

	return KindUnknown, 0
}

func classifyAPIError(code int, description string) ErrorKind {
	desc := strings.ToLower(description)
	switch {
	case code == 429:
		return KindRateLimited
	case code == 403:
		return KindPermissionDenied
	case code == 404:
		return KindNotFound
	case strings.Contains(desc, "not enough rights"),
		strings.Contains(desc, "have no rights"),
		strings.Contains(desc, "chat_admin_required"),
		strings.Contains(desc, "can't remove chat owner"),
		strings.Contains(desc, "user is an administrator"):
		return KindPermissionDenied
	case strings.Contains(desc, "not found"),
		strings.Contains(desc, "can't be deleted"),
		strings.Contains(desc, "message to delete"):
		return KindNotFound
	case code == 400:
		return KindBadRequest
	case code >= 500:
		return KindNetwork
	default:
		return KindUnknown
	}
}
