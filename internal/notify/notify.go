package notify

import (
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Event - операционное событие релея для внешних уведомлений
type Event struct {
	Title   string
	Details string
}

// Notifier рассылает операционные события. Уведомления best-effort,
// их доставка никогда не блокирует и не роняет основную операцию.
type Notifier interface {
	Notify(event Event)
}

// NopNotifier молча игнорирует события
type NopNotifier struct{}

func (NopNotifier) Notify(Event) {}

// TelegramNotifier шлет события в Telegram чат оператора
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
}

// NewTelegramNotifier создает Telegram нотификатор
func NewTelegramNotifier(token string, chatID int64, logger *slog.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	logger.Info("✅ Telegram notifier authorized", slog.String("username", bot.Self.UserName))

	return &TelegramNotifier{
		bot:    bot,
		chatID: chatID,
		logger: logger,
	}, nil
}

// Notify отправляет событие в фоне
func (n *TelegramNotifier) Notify(event Event) {
	go func() {
		text := fmt.Sprintf("<b>%s</b>\n%s", event.Title, event.Details)

		msg := tgbotapi.NewMessage(n.chatID, text)
		msg.ParseMode = "HTML"

		if _, err := n.bot.Send(msg); err != nil {
			n.logger.Error("Failed to send telegram notification", slog.Any("error", err))
		}
	}()
}
