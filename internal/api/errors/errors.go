// Пакет errors — конструкторы стандартных ошибок в формате TeleDrive API.
// Единый формат: {"success": false, "message": "..."}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // имя совпадает со stdlib намеренно: импортируется как apierrors

import (
	"encoding/json"
	"net/http"
)

// errorBody — структура тела ответа ошибки.
// Поле message — текст для фронтенда, формат унаследован от первой версии API.
type errorBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате TeleDrive.
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Success: false,
		Message: message,
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные (в т.ч. неизвестный
// или просроченный код подтверждения).
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, message)
}

// Unauthorized — 401 сессионный токен отсутствует или недействителен.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, message)
}

// NotFound — 404 пользователь или файл не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, message)
}

// Conflict — 409 операция недопустима для текущего состояния записи.
func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, message)
}

// FileTooLarge — 413 файл превышает лимит.
func FileTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, message)
}

// InternalError — 500 внутренняя ошибка или недоступность Telegram.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, message)
}
