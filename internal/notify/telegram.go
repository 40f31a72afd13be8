package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/avivamar/palm-sub009/internal/models"
)

// MessageSender is the slice of the bot API the notifier needs.
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier pushes critical pipeline alerts to an operations chat.
type TelegramNotifier struct {
	sender MessageSender
	chatID int64
	log    zerolog.Logger
}

func NewTelegramNotifier(token string, chatID int64, logger *zerolog.Logger) (*TelegramNotifier, error) {
	botAPI, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return newTelegramNotifier(botAPI, chatID, logger), nil
}

func newTelegramNotifier(sender MessageSender, chatID int64, logger *zerolog.Logger) *TelegramNotifier {
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "notify").Logger()
	}
	return &TelegramNotifier{sender: sender, chatID: chatID, log: log}
}

// Notify sends the alert text to the configured chat. The context is honored
// before sending; the bot API itself has no context support.
func (n *TelegramNotifier) Notify(ctx context.Context, alert models.PaymentAlert) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	text := fmt.Sprintf("🚨 [%s] %s\n%s\n%s",
		alert.Severity, alert.Type, alert.Message, alert.Timestamp.Format("2006-01-02 15:04:05"))

	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.sender.Send(msg); err != nil {
		n.log.Error().Err(err).Str("alert_type", alert.Type).Msg("failed to send alert")
		return fmt.Errorf("send alert: %w", err)
	}

	n.log.Info().Str("alert_type", alert.Type).Str("severity", alert.Severity).Msg("alert delivered")
	return nil
}
