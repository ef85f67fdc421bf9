package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender is the outbound delivery channel contract. Failures are per
// recipient; callers count them and move on.
type Sender interface {
	SendMessage(chatID int64, text string) error
	SendDocument(chatID int64, documentURL, caption string) error
}

type Bot struct {
	api *tgbotapi.BotAPI
}

func NewBot(token string) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &Bot{api: api}, nil
}

func (b *Bot) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "HTML"
	msg.DisableWebPagePreview = true

	_, err := b.api.Send(msg)
	return err
}

// SendDocument sends a document by URL; Telegram fetches it server side, so
// the attachment bytes never pass through this process.
func (b *Bot) SendDocument(chatID int64, documentURL, caption string) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileURL(documentURL))
	doc.Caption = caption
	doc.ParseMode = "HTML"

	_, err := b.api.Send(doc)
	return err
}
