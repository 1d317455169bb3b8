package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		want       ErrorKind
		retryAfter time.Duration
	}{
		{"nil", nil, KindNone, 0},
		{"canceled", context.Canceled, KindCanceled, 0},
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), KindCanceled, 0},
		{
			"rate limited",
			&tgbotapi.Error{Code: 429, Message: "Too Many Requests: retry after 5", ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 5}},
			KindRateLimited, 5 * time.Second,
		},
		{"forbidden", &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}, KindPermissionDenied, 0},
		{"not enough rights", &tgbotapi.Error{Code: 400, Message: "Bad Request: not enough rights to restrict/unrestrict chat member"}, KindPermissionDenied, 0},
		{"message not found", &tgbotapi.Error{Code: 400, Message: "Bad Request: message to delete not found"}, KindNotFound, 0},
		{"chat not found", &tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"}, KindNotFound, 0},
		{"bad request", &tgbotapi.Error{Code: 400, Message: "Bad Request: message text is empty"}, KindBadRequest, 0},
		{"server error", &tgbotapi.Error{Code: 502, Message: "Bad Gateway"}, KindNetwork, 0},
		{"wrapped api error", fmt.Errorf("send: %w", &tgbotapi.Error{Code: 403, Message: "Forbidden"}), KindPermissionDenied, 0},
		{"network", &url.Error{Op: "Post", URL: "https://api.telegram.org", Err: errors.New("connection refused")}, KindNetwork, 0},
		{"unknown", errors.New("boom"), KindUnknown, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, retryAfter := Classify(tt.err)
			assert.Equal(t, tt.want, kind)
			assert.Equal(t, tt.retryAfter, retryAfter)
		})
	}
}

func TestResult(t *testing.T) {
	ok := Success(42)
	assert.True(t, ok.OK)
	assert.Equal(t, 42, ok.MessageID)
	assert.Equal(t, KindNone, ok.Kind)
	assert.Equal(t, "ok(message_id=42)", ok.String())
	assert.False(t, ok.Retryable())

	failed := Failure(&tgbotapi.Error{Code: 429, Message: "Too Many Requests", ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 3}})
	assert.False(t, failed.OK)
	assert.Equal(t, KindRateLimited, failed.Kind)
	assert.Equal(t, 3*time.Second, failed.RetryAfter)
	assert.True(t, failed.Retryable())

	denied := Failure(&tgbotapi.Error{Code: 403, Message: "Forbidden"})
	assert.False(t, denied.Retryable())
	assert.Contains(t, denied.String(), "permission_denied")
}

func TestUser_Names(t *testing.T) {
	assert.Equal(t, "Alex Doe", User{ID: 1, FirstName: "Alex", LastName: "Doe"}.DisplayName())
	assert.Equal(t, "@alex", User{ID: 1, Username: "alex"}.DisplayName())
	assert.Equal(t, "7", User{ID: 7}.DisplayName())

	assert.Equal(t, "@alex", User{ID: 1, FirstName: "Alex", Username: "alex"}.Mention())
	assert.Equal(t, "Alex", User{ID: 1, FirstName: "Alex"}.Mention())
}

func TestMediaKind(t *testing.T) {
	assert.True(t, MediaPhoto.SupportsCaption())
	assert.True(t, MediaAnimation.SupportsCaption())
	assert.False(t, MediaSticker.SupportsCaption())
	assert.False(t, MediaPoll.SupportsCaption())

	assert.True(t, MediaSticker.Resendable())
	assert.False(t, MediaPoll.Resendable())
}

func TestPermissions(t *testing.T) {
	base := BaselinePermissions()
	assert.True(t, base.CanSendMessages)
	assert.True(t, base.CanInviteUsers)
	assert.False(t, base.CanChangeInfo)
	assert.False(t, base.CanPinMessages)

	assert.Equal(t, Permissions{}, MutedPermissions())
}
