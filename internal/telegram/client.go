// Пакет telegram — адаптер хранилища блобов поверх Telegram Bot API.
//
// Файлы пользователей живут как вложения в чате с ботом: при загрузке
// бот отправляет документ и получает непрозрачный file_id, по которому
// файл позже скачивается или пересылается обратно в чат.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Ошибки адаптера.
var (
	// ErrUnavailable — передача или разрешение file_id через Telegram не удались.
	ErrUnavailable = errors.New("telegram недоступен")
	// ErrNotFound — Telegram сообщил, что file_id неизвестен.
	ErrNotFound = errors.New("файл не найден в telegram")
)

// botAPI — минимальный срез Bot API, используемый клиентом.
// Выделен в интерфейс для подмены в тестах.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// BlobRef — результат сохранения файла в Telegram.
type BlobRef struct {
	// FileID — непрозрачный идентификатор блоба, выданный Telegram.
	// Назначается ровно один раз; никогда не перегенерируется.
	FileID string
	// MessageID — идентификатор сообщения-носителя в чате
	MessageID int
}

// Client — клиент Telegram Bot API.
type Client struct {
	bot    botAPI
	httpc  *http.Client
	logger *slog.Logger
}

// New создаёт клиент по токену бота. timeout ограничивает скачивание
// файлов с серверов Telegram.
func New(token string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации бота: %w", err)
	}
	return newClient(bot, timeout, logger), nil
}

// newClient — внутренний конструктор, используется тестами с фейковым botAPI.
func newClient(bot botAPI, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		bot:    bot,
		httpc:  &http.Client{Timeout: timeout},
		logger: logger.With(slog.String("component", "telegram")),
	}
}

// SendDocument отправляет локальный файл в чат identity и возвращает
// выданный Telegram file_id и message_id. При любой ошибке передачи
// возвращает ErrUnavailable: вызывающий код не должен создавать запись
// метаданных.
func (c *Client) SendDocument(identity, path, caption string) (*BlobRef, error) {
	chatID, err := chatIDFromIdentity(identity)
	if err != nil {
		return nil, err
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(path))
	doc.Caption = caption

	msg, err := c.bot.Send(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: отправка документа: %s", ErrUnavailable, err)
	}
	if msg.Document == nil || msg.Document.FileID == "" {
		return nil, fmt.Errorf("%w: telegram не вернул file_id", ErrUnavailable)
	}

	c.logger.Debug("Документ отправлен в чат",
		slog.String("identity", identity),
		slog.String("file_id", msg.Document.FileID),
		slog.Int("message_id", msg.MessageID),
	)

	return &BlobRef{FileID: msg.Document.FileID, MessageID: msg.MessageID}, nil
}

// Redeliver повторно отправляет уже сохранённый блоб в чат identity по
// file_id, без повторной загрузки содержимого.
func (c *Client) Redeliver(identity, fileID, caption string) error {
	chatID, err := chatIDFromIdentity(identity)
	if err != nil {
		return err
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileID(fileID))
	doc.Caption = caption

	if _, err := c.bot.Send(doc); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, err)
		}
		return fmt.Errorf("%w: повторная отправка: %s", ErrUnavailable, err)
	}
	return nil
}

// SendMessage отправляет текстовое сообщение в чат identity.
// parse_mode — Markdown, как в сообщениях с кодом подтверждения.
func (c *Client) SendMessage(identity, text string) error {
	chatID, err := chatIDFromIdentity(identity)
	if err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := c.bot.Send(msg); err != nil {
		return fmt.Errorf("%w: отправка сообщения: %s", ErrUnavailable, err)
	}
	return nil
}

// FetchFile разрешает file_id в прямой URL и скачивает содержимое.
// Таймаут задаётся http-клиентом (TD_BOT_TIMEOUT).
func (c *Client) FetchFile(ctx context.Context, fileID string) ([]byte, error) {
	url, err := c.bot.GetFileDirectURL(fileID)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, err)
		}
		return nil, fmt.Errorf("%w: разрешение file_id: %s", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: скачивание: %s", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: http 404", ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: http %d", ErrUnavailable, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: чтение тела ответа: %s", ErrUnavailable, err)
	}
	return data, nil
}

// chatIDFromIdentity преобразует строковый identity в числовой chat_id.
func chatIDFromIdentity(identity string) (int64, error) {
	chatID, err := strconv.ParseInt(identity, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректный identity %q: %w", identity, err)
	}
	return chatID, nil
}

// isNotFound распознаёт ответ Telegram "файл не найден" по тексту ошибки.
// Bot API возвращает 400 Bad Request с текстом, отдельного кода нет.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "file not found") ||
		strings.Contains(msg, "wrong file_id") ||
		strings.Contains(msg, "invalid file_id")
}
