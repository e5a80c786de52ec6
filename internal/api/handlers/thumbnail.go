// thumbnail.go — HTTP-обработчик миниатюр изображений.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/teledrive/internal/api/errors"
	"github.com/bigkaa/teledrive/internal/service"
	"github.com/bigkaa/teledrive/internal/storage/index"
	"github.com/bigkaa/teledrive/internal/telegram"
)

// Thumbnail обрабатывает GET /api/thumbnail/{fileId}.
// Расширение определяется по имени записи; не-изображения дают 400.
// Ответ кэшируется браузером на сутки.
func (h *APIHandler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	identity := identityFromRequest(r)
	fileID := chi.URLParam(r, "fileId")
	if identity == "" || fileID == "" {
		apierrors.ValidationError(w, "Telegram ID and file ID are required")
		return
	}

	rec, err := h.idx.Find(identity, fileID)
	if err != nil {
		apierrors.NotFound(w, "File not found")
		return
	}

	ext := filepath.Ext(rec.Name)

	fetch := func(ctx context.Context) ([]byte, error) {
		data, _, fetchErr := h.downloadSvc.Fetch(ctx, identity, fileID)
		return data, fetchErr
	}

	data, contentType, err := h.thumbSvc.GetOrCreate(r.Context(), fileID, ext, fetch)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnsupportedType):
			apierrors.ValidationError(w, "Not an image file")
		case errors.Is(err, index.ErrNotFound), errors.Is(err, telegram.ErrNotFound):
			apierrors.NotFound(w, "File not found")
		default:
			apierrors.InternalError(w, "Thumbnail generation failed")
		}
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
