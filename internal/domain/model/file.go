// Пакет model — доменные модели TeleDrive.
// FileRecord — единая структура записи о файле, используется как
// in-memory представление и как формат снапшота userFiles.json на диске.
package model

import (
	"time"
)

// FileRecord — запись о файле, сохранённом в чате Telegram.
// JSON-имена полей совпадают с форматом снапшота на диске:
// фронтенд и уже существующие userFiles.json продолжают работать.
type FileRecord struct {
	// ID — непрозрачный file_id, выданный Telegram Bot API при загрузке.
	// Назначается ровно один раз и далее неизменен.
	ID string `json:"id"`

	// Name — имя файла, под которым он был загружен
	Name string `json:"name"`

	// Size — размер файла в байтах
	Size int64 `json:"size"`

	// UploadedAt — дата и время загрузки (UTC)
	UploadedAt time.Time `json:"uploadDate"`

	// MessageID — идентификатор сообщения Telegram, в котором хранится файл
	MessageID int `json:"telegramMessageId"`

	// IsDeleted — файл перемещён в корзину
	IsDeleted bool `json:"isDeleted,omitempty"`

	// DeletedAt — момент перемещения в корзину.
	// Инвариант: DeletedAt != nil тогда и только тогда, когда IsDeleted.
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// MarkDeleted переводит запись в состояние "в корзине".
func (r *FileRecord) MarkDeleted(now time.Time) {
	r.IsDeleted = true
	t := now.UTC()
	r.DeletedAt = &t
}

// Restore возвращает запись в активное состояние.
// Идемпотентен: повторный вызов для активной записи ничего не меняет.
func (r *FileRecord) Restore() {
	r.IsDeleted = false
	r.DeletedAt = nil
}
