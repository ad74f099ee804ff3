package notify

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// Telegram allows roughly 30 messages a minute per chat.
const telegramSendInterval = 2 * time.Second

type chatSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender posts notices to one chat.
type TelegramSender struct {
	bot     chatSender
	chatID  int64
	limiter *rate.Limiter
}

// NewTelegramSender connects the bot and checks the token.
func NewTelegramSender(token string, chatID int64) (*TelegramSender, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	bot.Debug = false
	return newTelegramSender(bot, chatID), nil
}

func newTelegramSender(bot chatSender, chatID int64) *TelegramSender {
	return &TelegramSender{
		bot:     bot,
		chatID:  chatID,
		limiter: rate.NewLimiter(rate.Every(telegramSendInterval), 1),
	}
}

func (s *TelegramSender) Send(ctx context.Context, n Notice) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(s.chatID, n.Text())
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
