// Package telegramtest provides an in-memory telegram.Client for tests.
package telegramtest

import (
	"context"
	"sync"
	"time"

	"github.com/ihiteshgupta/telegram-modbot/internal/telegram"
)

// Call records one outbound call.
type Call struct {
	Method     string
	ChatID     int64
	FromChatID int64
	UserID     int64
	MessageID  int
	Text       string
	Media      telegram.Media
	Opts       telegram.SendOptions
	Perms      telegram.Permissions
	Until      time.Time
	Alert      bool
	CallbackID string
	Result     telegram.Result
}

// FakeClient implements telegram.Client for testing. All calls succeed unless
// a failure is registered with FailOn.
type FakeClient struct {
	mu       sync.Mutex
	self     telegram.User
	calls    []Call
	nextID   int
	failures map[string]error
	admins   map[int64][]telegram.User
}

// NewFakeClient creates a fake whose bot identity is self.
func NewFakeClient(self telegram.User) *FakeClient {
	return &FakeClient{
		self:     self,
		nextID:   1000,
		failures: make(map[string]error),
		admins:   make(map[int64][]telegram.User),
	}
}

// FailOn makes every later call to method fail with err.
func (f *FakeClient) FailOn(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method] = err
}

// SetAdmins sets the administrator list of chatID.
func (f *FakeClient) SetAdmins(chatID int64, admins ...telegram.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.admins[chatID] = admins
}

// Calls returns a copy of every recorded call.
func (f *FakeClient) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsTo returns the recorded calls for one method.
func (f *FakeClient) CallsTo(method string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Texts returns the text of every SendText call to chatID.
func (f *FakeClient) Texts(chatID int64) []string {
	var out []string
	for _, c := range f.CallsTo("SendText") {
		if c.ChatID == chatID {
			out = append(out, c.Text)
		}
	}
	return out
}

// Reset forgets recorded calls.
func (f *FakeClient) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *FakeClient) record(c Call, sends bool) telegram.Result {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.failures[c.Method]; ok {
		c.Result = telegram.Failure(err)
	} else if sends {
		f.nextID++
		c.Result = telegram.Success(f.nextID)
	} else {
		c.Result = telegram.Success(0)
	}
	f.calls = append(f.calls, c)
	return c.Result
}

func (f *FakeClient) Self() telegram.User {
	return f.self
}

func (f *FakeClient) SendText(_ context.Context, chatID int64, text string, opts telegram.SendOptions) telegram.Result {
	return f.record(Call{Method: "SendText", ChatID: chatID, Text: text, Opts: opts}, true)
}

func (f *FakeClient) SendMedia(_ context.Context, chatID int64, media telegram.Media, caption string, opts telegram.SendOptions) telegram.Result {
	return f.record(Call{Method: "SendMedia", ChatID: chatID, Media: media, Text: caption, Opts: opts}, true)
}

func (f *FakeClient) Forward(_ context.Context, toChatID, fromChatID int64, messageID int) telegram.Result {
	return f.record(Call{Method: "Forward", ChatID: toChatID, FromChatID: fromChatID, MessageID: messageID}, true)
}

func (f *FakeClient) DeleteMessage(_ context.Context, chatID int64, messageID int) telegram.Result {
	return f.record(Call{Method: "DeleteMessage", ChatID: chatID, MessageID: messageID}, false)
}

func (f *FakeClient) EditText(_ context.Context, chatID int64, messageID int, text string) telegram.Result {
	return f.record(Call{Method: "EditText", ChatID: chatID, MessageID: messageID, Text: text}, false)
}

func (f *FakeClient) AnswerCallback(_ context.Context, callbackID, text string, alert bool) telegram.Result {
	return f.record(Call{Method: "AnswerCallback", CallbackID: callbackID, Text: text, Alert: alert}, false)
}

func (f *FakeClient) Restrict(_ context.Context, chatID, userID int64, perms telegram.Permissions, until time.Time) telegram.Result {
	return f.record(Call{Method: "Restrict", ChatID: chatID, UserID: userID, Perms: perms, Until: until}, false)
}

func (f *FakeClient) Ban(_ context.Context, chatID, userID int64) telegram.Result {
	return f.record(Call{Method: "Ban", ChatID: chatID, UserID: userID}, false)
}

func (f *FakeClient) Unban(_ context.Context, chatID, userID int64) telegram.Result {
	return f.record(Call{Method: "Unban", ChatID: chatID, UserID: userID}, false)
}

func (f *FakeClient) SetChatTitle(_ context.Context, chatID int64, title string) telegram.Result {
	return f.record(Call{Method: "SetChatTitle", ChatID: chatID, Text: title}, false)
}

func (f *FakeClient) IsAdmin(_ context.Context, chatID, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failures["IsAdmin"]; ok {
		return false, err
	}
	for _, u := range f.admins[chatID] {
		if u.ID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *FakeClient) Administrators(_ context.Context, chatID int64) ([]telegram.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failures["Administrators"]; ok {
		return nil, err
	}
	out := make([]telegram.User, len(f.admins[chatID]))
	copy(out, f.admins[chatID])
	return out, nil
}

var _ telegram.Client = (*FakeClient)(nil)
