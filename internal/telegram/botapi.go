package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ResultObserver is notified of every outbound call outcome.
type ResultObserver func(op string, r Result)

// BotClient implements Client on top of the Bot API.
type BotClient struct {
	api  *tgbotapi.BotAPI
	self User
	log  *slog.Logger

	observersMu sync.RWMutex
	observers   []ResultObserver
}

// NewBotClient authenticates with token and returns a client.
func NewBotClient(token string, logger *slog.Logger) (*BotClient, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot api: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &BotClient{
		api:  api,
		self: convertUser(&api.Self),
		log:  logger,
	}, nil
}

// API returns the underlying Bot API handle, used by the poller.
func (c *BotClient) API() *tgbotapi.BotAPI {
	return c.api
}

// OnResult registers an observer for call outcomes.
func (c *BotClient) OnResult(obs ResultObserver) {
	c.observersMu.Lock()
	defer c.observersMu.Unlock()
	c.observers = append(c.observers, obs)
}

func (c *BotClient) Self() User {
	return c.self
}

// send runs a Chattable that returns a Message.
func (c *BotClient) send(ctx context.Context, op string, chattable tgbotapi.Chattable) Result {
	if err := ctx.Err(); err != nil {
		return c.observe(op, Failure(err))
	}
	msg, err := c.api.Send(chattable)
	if err != nil {
		return c.observe(op, Failure(err))
	}
	return c.observe(op, Success(msg.MessageID))
}

// request runs a Chattable that returns a bare ok.
func (c *BotClient) request(ctx context.Context, op string, chattable tgbotapi.Chattable) Result {
	if err := ctx.Err(); err != nil {
		return c.observe(op, Failure(err))
	}
	if _, err := c.api.Request(chattable); err != nil {
		return c.observe(op, Failure(err))
	}
	return c.observe(op, Success(0))
}

func (c *BotClient) observe(op string, r Result) Result {
	if !r.OK {
		c.log.Debug("telegram call failed", "op", op, "kind", r.Kind, "error", r.Err)
	}

	c.observersMu.RLock()
	observers := make([]ResultObserver, len(c.observers))
	copy(observers, c.observers)
	c.observersMu.RUnlock()

	for _, obs := range observers {
		obs(op, r)
	}
	return r
}

func (c *BotClient) SendText(ctx context.Context, chatID int64, text string, opts SendOptions) Result {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = opts.ParseMode
	msg.DisableWebPagePreview = opts.DisablePreview
	applyBase(&msg.BaseChat, opts)
	return c.send(ctx, "send_text", msg)
}

func (c *BotClient) SendMedia(ctx context.Context, chatID int64, media Media, caption string, opts SendOptions) Result {
	file := tgbotapi.FileID(media.FileID)

	var chattable tgbotapi.Chattable
	switch media.Kind {
	case MediaPhoto:
		cfg := tgbotapi.NewPhoto(chatID, file)
		cfg.Caption, cfg.ParseMode = caption, opts.ParseMode
		applyBase(&cfg.BaseChat, opts)
		chattable = cfg
	case MediaVideo:
		cfg := tgbotapi.NewVideo(chatID, file)
		cfg.Caption, cfg.ParseMode = caption, opts.ParseMode
		applyBase(&cfg.BaseChat, opts)
		chattable = cfg
	case MediaDocument:
		cfg := tgbotapi.NewDocument(chatID, file)
		cfg.Caption, cfg.ParseMode = caption, opts.ParseMode
		applyBase(&cfg.BaseChat, opts)
		chattable = cfg
	case MediaVoice:
		cfg := tgbotapi.NewVoice(chatID, file)
		cfg.Caption, cfg.ParseMode = caption, opts.ParseMode
		applyBase(&cfg.BaseChat, opts)
		chattable = cfg
	case MediaAudio:
		cfg := tgbotapi.NewAudio(chatID, file)
		cfg.Caption, cfg.ParseMode = caption, opts.ParseMode
		applyBase(&cfg.BaseChat, opts)
		chattable = cfg
	case MediaAnimation:
		cfg := tgbotapi.NewAnimation(chatID, file)
		cfg.Caption, cfg.ParseMode = caption, opts.ParseMode
		applyBase(&cfg.BaseChat, opts)
		chattable = cfg
	case MediaSticker:
		cfg := tgbotapi.NewSticker(chatID, file)
		applyBase(&cfg.BaseChat, opts)
		chattable = cfg
	default:
		return c.observe("send_media", Failure(fmt.Errorf("unsupported media kind %q", media.Kind)))
	}

	return c.send(ctx, "send_"+string(media.Kind), chattable)
}

func (c *BotClient) Forward(ctx context.Context, toChatID, fromChatID int64, messageID int) Result {
	return c.send(ctx, "forward", tgbotapi.NewForward(toChatID, fromChatID, messageID))
}

func (c *BotClient) DeleteMessage(ctx context.Context, chatID int64, messageID int) Result {
	return c.request(ctx, "delete_message", tgbotapi.NewDeleteMessage(chatID, messageID))
}

func (c *BotClient) EditText(ctx context.Context, chatID int64, messageID int, text string) Result {
	return c.request(ctx, "edit_text", tgbotapi.NewEditMessageText(chatID, messageID, text))
}

func (c *BotClient) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) Result {
	cb := tgbotapi.NewCallback(callbackID, text)
	cb.ShowAlert = alert
	return c.request(ctx, "answer_callback", cb)
}

func (c *BotClient) Restrict(ctx context.Context, chatID, userID int64, perms Permissions, until time.Time) Result {
	cfg := tgbotapi.RestrictChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
		Permissions:      convertPermissions(perms),
	}
	if !until.IsZero() {
		cfg.UntilDate = until.Unix()
	}
	return c.request(ctx, "restrict", cfg)
}

func (c *BotClient) Ban(ctx context.Context, chatID, userID int64) Result {
	cfg := tgbotapi.BanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
	}
	return c.request(ctx, "ban", cfg)
}

func (c *BotClient) Unban(ctx context.Context, chatID, userID int64) Result {
	cfg := tgbotapi.UnbanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
		OnlyIfBanned:     true,
	}
	return c.request(ctx, "unban", cfg)
}

func (c *BotClient) SetChatTitle(ctx context.Context, chatID int64, title string) Result {
	return c.request(ctx, "set_chat_title", tgbotapi.SetChatTitleConfig{ChatID: chatID, Title: title})
}

func (c *BotClient) IsAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	member, err := c.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: userID},
	})
	if err != nil {
		return false, fmt.Errorf("failed to get chat member: %w", err)
	}
	return member.IsAdministrator() || member.IsCreator(), nil
}

func (c *BotClient) Administrators(ctx context.Context, chatID int64) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	members, err := c.api.GetChatAdministrators(tgbotapi.ChatAdministratorsConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get chat administrators: %w", err)
	}

	admins := make([]User, 0, len(members))
	for _, m := range members {
		if m.User == nil {
			continue
		}
		admins = append(admins, convertUser(m.User))
	}
	return admins, nil
}

func applyBase(base *tgbotapi.BaseChat, opts SendOptions) {
	base.ReplyToMessageID = opts.ReplyTo
	if len(opts.Keyboard) > 0 {
		base.ReplyMarkup = convertKeyboard(opts.Keyboard)
	}
}

func convertKeyboard(kb Keyboard) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			if b.URL != "" {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
			} else {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
			}
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func convertPermissions(p Permissions) *tgbotapi.ChatPermissions {
	return &tgbotapi.ChatPermissions{
		CanSendMessages:       p.CanSendMessages,
		CanSendMediaMessages:  p.CanSendMediaMessages,
		CanSendPolls:          p.CanSendPolls,
		CanSendOtherMessages:  p.CanSendOtherMessages,
		CanAddWebPagePreviews: p.CanAddWebPagePreviews,
		CanChangeInfo:         p.CanChangeInfo,
		CanInviteUsers:        p.CanInviteUsers,
		CanPinMessages:        p.CanPinMessages,
	}
}
