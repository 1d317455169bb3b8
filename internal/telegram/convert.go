package telegram

import (
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ConvertUpdate maps a Bot API update onto the bot's types. Updates the bot
// does not handle come back with neither Message nor CallbackQuery set.
func ConvertUpdate(u tgbotapi.Update) Update {
	out := Update{ID: u.UpdateID}

	switch {
	case u.Message != nil:
		out.Message = convertMessage(u.Message)
	case u.ChannelPost != nil:
		out.Message = convertMessage(u.ChannelPost)
	case u.CallbackQuery != nil:
		cq := u.CallbackQuery
		out.CallbackQuery = &CallbackQuery{
			ID:      cq.ID,
			Data:    cq.Data,
			Message: convertMessage(cq.Message),
		}
		if cq.From != nil {
			out.CallbackQuery.From = convertUser(cq.From)
		}
	}

	return out
}

func convertMessage(m *tgbotapi.Message) *Message {
	if m == nil {
		return nil
	}

	msg := &Message{
		ID:      m.MessageID,
		Date:    time.Unix(int64(m.Date), 0).UTC(),
		Text:    m.Text,
		Caption: m.Caption,
		Media:   convertMedia(m),
		ReplyTo: convertMessage(m.ReplyToMessage),
	}
	if m.Chat != nil {
		msg.Chat = convertChat(m.Chat)
	}
	if m.From != nil {
		u := convertUser(m.From)
		msg.From = &u
	}
	if m.SenderChat != nil {
		c := convertChat(m.SenderChat)
		msg.SenderChat = &c
	}
	for i := range m.NewChatMembers {
		msg.NewMembers = append(msg.NewMembers, convertUser(&m.NewChatMembers[i]))
	}
	if m.LeftChatMember != nil {
		u := convertUser(m.LeftChatMember)
		msg.LeftMember = &u
	}
	msg.ServiceType = serviceType(m)

	return msg
}

func convertChat(c *tgbotapi.Chat) Chat {
	return Chat{
		ID:       c.ID,
		Type:     c.Type,
		Title:    c.Title,
		Username: c.UserName,
	}
}

func convertUser(u *tgbotapi.User) User {
	return User{
		ID:        u.ID,
		IsBot:     u.IsBot,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.UserName,
	}
}

// convertMedia picks the content type. Animations also carry a Document, so
// they are checked first.
func convertMedia(m *tgbotapi.Message) *Media {
	switch {
	case len(m.Photo) > 0:
		largest := m.Photo[len(m.Photo)-1]
		return &Media{Kind: MediaPhoto, FileID: largest.FileID}
	case m.Animation != nil:
		return &Media{Kind: MediaAnimation, FileID: m.Animation.FileID, MimeType: m.Animation.MimeType}
	case m.Video != nil:
		return &Media{Kind: MediaVideo, FileID: m.Video.FileID, MimeType: m.Video.MimeType}
	case m.Document != nil:
		return &Media{Kind: MediaDocument, FileID: m.Document.FileID, MimeType: m.Document.MimeType}
	case m.Voice != nil:
		return &Media{Kind: MediaVoice, FileID: m.Voice.FileID, MimeType: m.Voice.MimeType}
	case m.Audio != nil:
		return &Media{Kind: MediaAudio, FileID: m.Audio.FileID, MimeType: m.Audio.MimeType}
	case m.Sticker != nil:
		return &Media{Kind: MediaSticker, FileID: m.Sticker.FileID}
	case m.Poll != nil:
		return &Media{Kind: MediaPoll}
	default:
		return nil
	}
}

func serviceType(m *tgbotapi.Message) string {
	switch {
	case m.NewChatTitle != "":
		return ServiceNewChatTitle
	case len(m.NewChatPhoto) > 0:
		return ServiceNewChatPhoto
	case m.DeleteChatPhoto:
		return ServiceDeleteChatPhoto
	case m.GroupChatCreated:
		return ServiceGroupChatCreated
	case m.SuperGroupChatCreated:
		return ServiceSupergroupChatCreated
	case len(m.NewChatMembers) > 0:
		return ServiceNewChatMembers
	case m.LeftChatMember != nil:
		return ServiceLeftChatMember
	case m.PinnedMessage != nil:
		return ServicePinnedMessage
	default:
		return ""
	}
}
