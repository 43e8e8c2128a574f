// Package notify delivers operator alerts over Telegram. Alerts cover the
// conditions that need a human: wrong-side stops, a tripped entry gate and
// flatten timeouts. A missing token disables delivery without changing any
// caller.
package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"gridbot/config"
	"gridbot/logger"
)

// Telegram sends messages to one operator chat.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// New connects the Telegram bot. With an empty token it returns (nil, nil)
// and callers fall back to logs only.
func New(cfg config.TelegramConfig) (*Telegram, error) {
	if cfg.Token == "" {
		logger.Info("[Notify] no telegram token, operator alerts disabled")
		return nil, nil
	}
	if cfg.ChatID == 0 {
		return nil, fmt.Errorf("telegram chat_id is required when a token is set")
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}
	logger.Infof("[Notify] telegram alerts enabled as @%s", bot.Self.UserName)

	return &Telegram{bot: bot, chatID: cfg.ChatID}, nil
}

// Notify sends one message to the operator chat. Delivery failures are
// logged, never propagated: an alert must not take a trading loop down.
func (t *Telegram) Notify(text string) {
	if t == nil {
		return
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		logger.Warnf("[Notify] telegram send failed: %v", err)
	}
}
