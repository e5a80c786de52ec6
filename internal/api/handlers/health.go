// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"net/http"
	"os"
	"time"

	"github.com/bigkaa/teledrive/internal/config"
)

// statusFail — строковая константа для статуса "fail" в health checks.
const statusFail = "fail"

// IndexStats — срез состояния индекса для readiness и диагностики.
type IndexStats interface {
	Accounts() int
	Count() int
}

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version string
	// dataDir — путь к директории данных (для проверки FS)
	dataDir string
	// idx — статистика индекса
	idx IndexStats
}

// NewHealthHandler создаёт обработчик health endpoints.
func NewHealthHandler(dataDir string, idx IndexStats) *HealthHandler {
	return &HealthHandler{
		version: config.Version,
		dataDir: dataDir,
		idx:     idx,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "teledrive",
	})
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет доступность директории данных: без неё снапшот невозможен.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	checks := map[string]string{
		"data_dir": "ok",
	}
	status := "ok"
	code := http.StatusOK

	if _, err := os.Stat(h.dataDir); err != nil {
		checks["data_dir"] = statusFail
		status = statusFail
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"checks":    checks,
		"accounts":  h.idx.Accounts(),
		"files":     h.idx.Count(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
