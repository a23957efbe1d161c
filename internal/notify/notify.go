package notify

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// Notifier is the best-effort message sink. A failed delivery is the
// caller's problem to retry or drop; it never rolls anything back.
type Notifier interface {
	Notify(ctx context.Context, telegramID int64, text string) error
}

type TelegramNotifier struct {
	bot *telego.Bot
}

func NewTelegramNotifier(bot *telego.Bot) *TelegramNotifier {
	return &TelegramNotifier{bot: bot}
}

func (n *TelegramNotifier) Notify(ctx context.Context, telegramID int64, text string) error {
	_, err := n.bot.SendMessage(ctx, tu.Message(tu.ID(telegramID), text))
	if err != nil {
		return fmt.Errorf("failed to send message to %d: %w", telegramID, err)
	}
	return nil
}
