// listener.go — слушатель входящих сообщений бота.
// Обрабатывает команду /start: выдаёт код подтверждения и отправляет
// его пользователю в чат.
package telegram

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// CodeIssuer выдаёт код подтверждения для identity.
// Реализуется auth.Registry.
type CodeIssuer interface {
	Issue(identity, displayName string) string
}

// Listener — фоновый обработчик входящих обновлений бота.
type Listener struct {
	client *Client
	codes  CodeIssuer
	logger *slog.Logger
}

// NewListener создаёт слушатель обновлений.
func NewListener(client *Client, codes CodeIssuer, logger *slog.Logger) *Listener {
	return &Listener{
		client: client,
		codes:  codes,
		logger: logger.With(slog.String("component", "bot_listener")),
	}
}

// Start запускает горутину long polling обновлений.
// Останавливается по отмене контекста.
func (l *Listener) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := l.client.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				l.client.bot.StopReceivingUpdates()
				l.logger.Info("Слушатель бота остановлен")
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				l.handleUpdate(update)
			}
		}
	}()

	l.logger.Info("Слушатель бота запущен")
}

// handleUpdate обрабатывает одно обновление. Интересует только /start.
func (l *Listener) handleUpdate(update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || !msg.IsCommand() || msg.Command() != "start" {
		return
	}
	if msg.From == nil {
		return
	}

	identity := fmt.Sprintf("%d", msg.From.ID)
	displayName := msg.From.UserName
	if displayName == "" {
		displayName = "Unknown"
	}

	l.logger.Info("Пользователь запустил бота",
		slog.String("identity", identity),
		slog.String("username", displayName),
	)

	code := l.codes.Issue(identity, displayName)

	text := fmt.Sprintf(
		"Your verification code is: *%s*\n\nEnter this code in the app to complete your authentication.",
		code,
	)
	if err := l.client.SendMessage(identity, text); err != nil {
		l.logger.Error("Не удалось отправить код подтверждения",
			slog.String("identity", identity),
			slog.String("error", err.Error()),
		)
	}
}
