// files.go — HTTP-обработчики файловых операций: загрузка, список,
// проксирование содержимого, повторная доставка в чат, мягкое удаление.
package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/teledrive/internal/api/errors"
	"github.com/bigkaa/teledrive/internal/domain/model"
	"github.com/bigkaa/teledrive/internal/service"
	"github.com/bigkaa/teledrive/internal/storage/index"
	"github.com/bigkaa/teledrive/internal/telegram"
)

// multipartMemoryLimit — буфер парсинга multipart form в памяти;
// остальное уходит на диск средствами net/http.
const multipartMemoryLimit = 32 << 20 // 32 MiB

// filesResponse — ответ со списком записей.
type filesResponse struct {
	Success bool                `json:"success"`
	Files   []*model.FileRecord `json:"files"`
}

// messageResponse — ответ-подтверждение без полезной нагрузки.
type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// uploadResponse — ответ успешной загрузки.
type uploadResponse struct {
	Success bool   `json:"success"`
	FileID  string `json:"fileId"`
	Message string `json:"message"`
}

// Upload обрабатывает POST /api/upload.
// Multipart form: file (обязательно), telegramId (если нет Bearer-токена),
// filename (опционально, переопределяет имя).
func (h *APIHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+multipartMemoryLimit)

	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Failed to parse upload: %s", err.Error()))
		return
	}

	identity := identityFromRequest(r)
	if identity == "" {
		apierrors.ValidationError(w, "Telegram ID is required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "No file uploaded")
		return
	}
	defer file.Close()

	filename := r.FormValue("filename")
	if filename == "" {
		filename = header.Filename
	}

	rec, err := h.uploadSvc.Upload(service.UploadParams{
		Reader:   file,
		Filename: filename,
		Size:     header.Size,
		Identity: identity,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrFileTooLarge):
			apierrors.FileTooLarge(w, "File exceeds the maximum allowed size")
		case errors.Is(err, telegram.ErrUnavailable):
			apierrors.InternalError(w, "Upload failed: could not deliver file to Telegram")
		default:
			h.logger.Error("Ошибка загрузки",
				slog.String("identity", identity),
				slog.String("error", err.Error()),
			)
			apierrors.InternalError(w, "Upload failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		Success: true,
		FileID:  rec.ID,
		Message: "File uploaded successfully",
	})
}

// ListFiles обрабатывает GET /api/files: активные файлы пользователя.
// Для нового пользователя возвращает пустой список, не ошибку.
func (h *APIHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	identity := identityFromRequest(r)
	if identity == "" {
		apierrors.ValidationError(w, "Telegram ID is required")
		return
	}

	writeJSON(w, http.StatusOK, filesResponse{
		Success: true,
		Files:   h.idx.ListActive(identity),
	})
}

// GetFile обрабатывает GET /api/file/{fileId}: проксирует байты файла
// из Telegram с заголовками attachment.
func (h *APIHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	identity := identityFromRequest(r)
	fileID := chi.URLParam(r, "fileId")
	if identity == "" || fileID == "" {
		apierrors.ValidationError(w, "Telegram ID and file ID are required")
		return
	}

	data, rec, err := h.downloadSvc.Fetch(r.Context(), identity, fileID)
	if err != nil {
		switch {
		case errors.Is(err, index.ErrNotFound), errors.Is(err, telegram.ErrNotFound):
			apierrors.NotFound(w, "File not found")
		default:
			apierrors.InternalError(w, "Download failed")
		}
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.Name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// DownloadToChat обрабатывает GET /api/download/{fileId}: пересылает
// сохранённый файл обратно в чат пользователя.
func (h *APIHandler) DownloadToChat(w http.ResponseWriter, r *http.Request) {
	identity := identityFromRequest(r)
	fileID := chi.URLParam(r, "fileId")
	if identity == "" || fileID == "" {
		apierrors.ValidationError(w, "Telegram ID and file ID are required")
		return
	}

	if _, err := h.downloadSvc.Redeliver(identity, fileID); err != nil {
		switch {
		case errors.Is(err, index.ErrNotFound), errors.Is(err, telegram.ErrNotFound):
			apierrors.NotFound(w, "File not found")
		default:
			apierrors.InternalError(w, "Download failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{
		Success: true,
		Message: "File sent to your Telegram chat",
	})
}

// SoftDelete обрабатывает DELETE /api/file/{fileId}: перемещает запись
// в корзину и сразу сохраняет снапшот (durable-now мутация).
func (h *APIHandler) SoftDelete(w http.ResponseWriter, r *http.Request) {
	identity := identityFromRequest(r)
	fileID := chi.URLParam(r, "fileId")
	if identity == "" || fileID == "" {
		apierrors.ValidationError(w, "Telegram ID and file ID are required")
		return
	}

	if err := h.idx.SoftDelete(identity, fileID, time.Now()); err != nil {
		apierrors.NotFound(w, "File not found")
		return
	}

	if h.persistNow(w) {
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{
		Success: true,
		Message: "File moved to recycle bin",
	})
}
