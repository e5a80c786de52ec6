// bin.go — HTTP-обработчики корзины: список, восстановление,
// безвозвратное удаление одной записи и очистка всей корзины.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/teledrive/internal/api/errors"
	"github.com/bigkaa/teledrive/internal/storage/index"
)

// ListBin обрабатывает GET /api/bin: записи в корзине.
func (h *APIHandler) ListBin(w http.ResponseWriter, r *http.Request) {
	identity := identityFromRequest(r)
	if identity == "" {
		apierrors.ValidationError(w, "Telegram ID is required")
		return
	}

	writeJSON(w, http.StatusOK, filesResponse{
		Success: true,
		Files:   h.idx.ListDeleted(identity),
	})
}

// RestoreFile обрабатывает POST /api/bin/restore/{fileId}.
// Восстановление уже активной записи — идемпотентный no-op.
func (h *APIHandler) RestoreFile(w http.ResponseWriter, r *http.Request) {
	identity := identityFromRequest(r)
	fileID := chi.URLParam(r, "fileId")
	if identity == "" || fileID == "" {
		apierrors.ValidationError(w, "Telegram ID and file ID are required")
		return
	}

	if err := h.idx.Restore(identity, fileID); err != nil {
		apierrors.NotFound(w, "File not found")
		return
	}

	if h.persistNow(w) {
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{
		Success: true,
		Message: "File restored successfully",
	})
}

// PurgeFile обрабатывает DELETE /api/bin/{fileId}: безвозвратное удаление.
// Активная запись не может быть удалена мимо корзины: 409.
func (h *APIHandler) PurgeFile(w http.ResponseWriter, r *http.Request) {
	identity := identityFromRequest(r)
	fileID := chi.URLParam(r, "fileId")
	if identity == "" || fileID == "" {
		apierrors.ValidationError(w, "Telegram ID and file ID are required")
		return
	}

	if err := h.idx.PurgeOne(identity, fileID); err != nil {
		if errors.Is(err, index.ErrActiveRecord) {
			apierrors.Conflict(w, "File is not in the recycle bin")
			return
		}
		apierrors.NotFound(w, "File not found")
		return
	}

	if h.persistNow(w) {
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{
		Success: true,
		Message: "File permanently deleted",
	})
}

// EmptyBin обрабатывает DELETE /api/bin/empty: удаляет все записи корзины.
// Идемпотентен: пустая корзина — тоже успех.
func (h *APIHandler) EmptyBin(w http.ResponseWriter, r *http.Request) {
	identity := identityFromRequest(r)
	if identity == "" {
		apierrors.ValidationError(w, "Telegram ID is required")
		return
	}

	purged, err := h.idx.PurgeAllDeleted(identity)
	if err != nil {
		apierrors.NotFound(w, "User not found")
		return
	}

	if h.persistNow(w) {
		return
	}

	h.logger.Info("Корзина очищена",
		slog.String("identity", identity),
		slog.Int("purged", purged),
	)

	writeJSON(w, http.StatusOK, messageResponse{
		Success: true,
		Message: "Recycle bin emptied successfully",
	})
}

// persistNow сохраняет снапшот после durable-now мутации.
// При ошибке пишет 500 и возвращает true (ответ уже отправлен).
func (h *APIHandler) persistNow(w http.ResponseWriter) bool {
	if err := h.snapshot.SaveNow(); err != nil {
		h.logger.Error("Сохранение снапшота не удалось",
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Failed to persist changes")
		return true
	}
	return false
}
