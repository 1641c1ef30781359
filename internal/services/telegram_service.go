package services

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramService шлёт в служебный чат алерты о событиях безопасности.
// Коды и письма пользователям через него не идут.
type TelegramService struct {
	bot     botSender
	chatID  int64
	appName string
}

func NewTelegramService(token string, chatID int64, appName string) (*TelegramService, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return newTelegramService(bot, chatID, appName), nil
}

func newTelegramService(bot botSender, chatID int64, appName string) *TelegramService {
	return &TelegramService{bot: bot, chatID: chatID, appName: appName}
}

func (s *TelegramService) Send(ctx context.Context, recipient string, purpose Purpose, payload Payload) error {
	var event string
	switch purpose {
	case PurposePasswordChanged:
		event = "password changed"
	case PurposeAccountDeactivated:
		event = "account deactivated"
	default:
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	text := fmt.Sprintf("[%s] %s: %s (%s)", s.appName, event, payload.Username, maskEmail(recipient))
	if _, err := s.bot.Send(tgbotapi.NewMessage(s.chatID, text)); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
