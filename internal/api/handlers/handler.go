// Пакет handlers — HTTP-обработчики TeleDrive API.
// handler.go — основной обработчик: зависимости, маршруты, общие помощники.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/teledrive/internal/api/middleware"
	"github.com/bigkaa/teledrive/internal/auth"
	"github.com/bigkaa/teledrive/internal/service"
	"github.com/bigkaa/teledrive/internal/storage/index"
)

// APIHandler — основной обработчик TeleDrive API.
// Делегирует бизнес-логику сервисному слою и индексу.
type APIHandler struct {
	codes       *auth.Registry
	tokens      *auth.TokenManager
	idx         *index.Index
	uploadSvc   *service.UploadService
	downloadSvc *service.DownloadService
	thumbSvc    *service.ThumbnailService
	snapshot    *service.SnapshotService
	health      *HealthHandler
	maxFileSize int64
	logger      *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	codes *auth.Registry,
	tokens *auth.TokenManager,
	idx *index.Index,
	uploadSvc *service.UploadService,
	downloadSvc *service.DownloadService,
	thumbSvc *service.ThumbnailService,
	snapshot *service.SnapshotService,
	health *HealthHandler,
	maxFileSize int64,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		codes:       codes,
		tokens:      tokens,
		idx:         idx,
		uploadSvc:   uploadSvc,
		downloadSvc: downloadSvc,
		thumbSvc:    thumbSvc,
		snapshot:    snapshot,
		health:      health,
		maxFileSize: maxFileSize,
		logger:      logger.With(slog.String("component", "api_handler")),
	}
}

// Routes регистрирует все маршруты API на роутере.
// Литеральный /api/bin/empty объявлен раньше параметрического
// /api/bin/{fileId}: chi отдаёт приоритет статическим сегментам.
func (h *APIHandler) Routes(r chi.Router) {
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Post("/api/verify", h.Verify)
	r.Post("/api/upload", h.Upload)
	r.Get("/api/files", h.ListFiles)
	r.Get("/api/download/{fileId}", h.DownloadToChat)
	r.Get("/api/file/{fileId}", h.GetFile)
	r.Delete("/api/file/{fileId}", h.SoftDelete)
	r.Get("/api/thumbnail/{fileId}", h.Thumbnail)

	r.Get("/api/bin", h.ListBin)
	r.Post("/api/bin/restore/{fileId}", h.RestoreFile)
	r.Delete("/api/bin/empty", h.EmptyBin)
	r.Delete("/api/bin/{fileId}", h.PurgeFile)
}

// identityFromRequest возвращает identity запроса: сначала из контекста
// (сессионный токен), затем из параметра telegramId (query или form).
// Пустая строка — identity не передан.
func identityFromRequest(r *http.Request) string {
	if identity := middleware.IdentityFromContext(r.Context()); identity != "" {
		return identity
	}
	if identity := r.URL.Query().Get("telegramId"); identity != "" {
		return identity
	}
	return r.FormValue("telegramId")
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
