// thumbnail.go — кэш производных артефактов (миниатюр).
//
// Двухуровневый кэш по ключу (file_id, расширение): LRU в памяти поверх
// файлов на диске. Промах обоих уровней запускает fetch из Telegram,
// декодирование и вписывание 300×300 (cover). Фоновая очистка удаляет
// миниатюры старше максимального возраста по mtime.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	// Регистрация webp-декодера: imaging.Decode использует image.Decode.
	_ "golang.org/x/image/webp"
)

// ErrUnsupportedType — расширение вне списка растровых форматов.
var ErrUnsupportedType = errors.New("не является изображением поддерживаемого формата")

// thumbSuffix — часть имени файла миниатюры на диске: {file_id}_thumb{ext}.
const thumbSuffix = "_thumb"

// memCacheSize — ёмкость LRU в памяти.
const memCacheSize = 256

// Prometheus-метрики кэша миниатюр.
var (
	thumbCacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "td_thumb_cache_hits_total",
		Help: "Попадания в кэш миниатюр (по уровню: memory, disk)",
	}, []string{"layer"})

	thumbCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "td_thumb_cache_misses_total",
		Help: "Промахи кэша миниатюр (миниатюра сгенерирована заново)",
	})

	thumbSweepRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "td_thumb_sweep_removed_total",
		Help: "Количество миниатюр, удалённых фоновой очисткой",
	})

	thumbGenerateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "td_thumb_generate_duration_seconds",
		Help:    "Длительность генерации миниатюры (fetch + resize + encode)",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})
)

// imageExts — фиксированный список растровых расширений.
var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
}

// contentTypes — фиксированное отображение расширения в Content-Type.
// Неизвестные расширения из списка получают image/jpeg.
// .webp отсутствует намеренно: imaging не кодирует webp, такие миниатюры
// перекодируются в JPEG и отдаются как image/jpeg.
var contentTypes = map[string]string{
	".png": "image/png",
	".gif": "image/gif",
	".bmp": "image/bmp",
}

// cachedThumb — значение в LRU: байты миниатюры и её Content-Type.
type cachedThumb struct {
	data        []byte
	contentType string
}

// ThumbnailService — кэш миниатюр с фоновой очисткой по возрасту.
type ThumbnailService struct {
	dir           string
	size          int
	maxAge        time.Duration
	sweepInterval time.Duration
	mem           *expirable.LRU[string, cachedThumb]
	logger        *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска SweepExpired
	cancel context.CancelFunc
}

// NewThumbnailService создаёт сервис миниатюр.
// dir — директория кэша (создаётся при отсутствии), size — сторона
// миниатюры в пикселях, maxAge — возраст до удаления при очистке.
func NewThumbnailService(
	dir string,
	size int,
	maxAge time.Duration,
	sweepInterval time.Duration,
	logger *slog.Logger,
) (*ThumbnailService, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию миниатюр %s: %w", dir, err)
	}

	return &ThumbnailService{
		dir:           dir,
		size:          size,
		maxAge:        maxAge,
		sweepInterval: sweepInterval,
		mem:           expirable.NewLRU[string, cachedThumb](memCacheSize, nil, maxAge),
		logger:        logger.With(slog.String("component", "thumbnails")),
	}, nil
}

// GetOrCreate возвращает миниатюру для (fileID, ext).
//
// Порядок: LRU в памяти → файл на диске → fetch + генерация. fetch
// вызывается не более одного раза и только при промахе обоих уровней.
// Для расширения вне списка возвращает ErrUnsupportedType без обращения
// к backend.
func (ts *ThumbnailService) GetOrCreate(
	ctx context.Context,
	fileID, ext string,
	fetch func(context.Context) ([]byte, error),
) ([]byte, string, error) {
	ext = strings.ToLower(ext)
	if !imageExts[ext] {
		return nil, "", ErrUnsupportedType
	}

	key := fileID + ext
	contentType := contentTypeFor(ext)

	// Уровень 1: память
	if cached, ok := ts.mem.Get(key); ok {
		thumbCacheHitsTotal.WithLabelValues("memory").Inc()
		return cached.data, cached.contentType, nil
	}

	// Уровень 2: диск
	path := ts.thumbPath(fileID, ext)
	if data, err := os.ReadFile(path); err == nil {
		thumbCacheHitsTotal.WithLabelValues("disk").Inc()
		ts.mem.Add(key, cachedThumb{data: data, contentType: contentType})
		return data, contentType, nil
	}

	// Промах: генерация
	thumbCacheMissesTotal.Inc()
	start := time.Now()

	src, err := fetch(ctx)
	if err != nil {
		return nil, "", err
	}

	img, err := imaging.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, "", fmt.Errorf("декодирование изображения: %w", err)
	}

	thumb := imaging.Fill(img, ts.size, ts.size, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, encodeFormat(ext)); err != nil {
		return nil, "", fmt.Errorf("кодирование миниатюры: %w", err)
	}
	data := buf.Bytes()

	// Запись на диск через temp → rename: никогда не отдаём частично
	// записанный файл при параллельном чтении.
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o640); err != nil {
		return nil, "", fmt.Errorf("запись миниатюры: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return nil, "", fmt.Errorf("переименование миниатюры: %w", err)
	}

	ts.mem.Add(key, cachedThumb{data: data, contentType: contentType})
	thumbGenerateDuration.Observe(time.Since(start).Seconds())

	ts.logger.Debug("Миниатюра сгенерирована",
		slog.String("file_id", fileID),
		slog.String("ext", ext),
		slog.Int("bytes", len(data)),
	)

	return data, contentType, nil
}

// Start запускает фоновую горутину периодической очистки кэша.
func (ts *ThumbnailService) Start(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	ts.cancel = cancel

	go func() {
		ticker := time.NewTicker(ts.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				ts.SweepExpired(time.Now())
			}
		}
	}()

	ts.logger.Info("Очистка кэша миниатюр запущена",
		slog.String("interval", ts.sweepInterval.String()),
		slog.String("max_age", ts.maxAge.String()),
	)
}

// Stop останавливает фоновую очистку.
func (ts *ThumbnailService) Stop() {
	if ts.cancel != nil {
		ts.cancel()
	}
}

// SweepExpired удаляет миниатюры старше maxAge по времени записи на диск.
// Best-effort: ошибки stat/remove отдельных файлов логируются и
// пропускаются, очистка продолжается. Возвращает количество удалённых.
func (ts *ThumbnailService) SweepExpired(now time.Time) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	entries, err := os.ReadDir(ts.dir)
	if err != nil {
		ts.logger.Error("Очистка миниатюр: ошибка чтения директории",
			slog.String("dir", ts.dir),
			slog.String("error", err.Error()),
		)
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			ts.logger.Warn("Очистка миниатюр: ошибка stat",
				slog.String("name", entry.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}

		if now.Sub(info.ModTime()) <= ts.maxAge {
			continue
		}

		if err := os.Remove(filepath.Join(ts.dir, entry.Name())); err != nil {
			ts.logger.Warn("Очистка миниатюр: ошибка удаления",
				slog.String("name", entry.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}

		ts.mem.Remove(keyFromFilename(entry.Name()))
		removed++
	}

	thumbSweepRemovedTotal.Add(float64(removed))
	if removed > 0 {
		ts.logger.Info("Очистка миниатюр завершена", slog.Int("removed", removed))
	}
	return removed
}

// thumbPath возвращает путь файла миниатюры: {dir}/{file_id}_thumb{ext}.
func (ts *ThumbnailService) thumbPath(fileID, ext string) string {
	return filepath.Join(ts.dir, fileID+thumbSuffix+ext)
}

// keyFromFilename восстанавливает ключ кэша из имени файла миниатюры.
func keyFromFilename(name string) string {
	i := strings.LastIndex(name, thumbSuffix)
	if i < 0 {
		return name
	}
	return name[:i] + name[i+len(thumbSuffix):]
}

// contentTypeFor возвращает Content-Type для расширения из фиксированного
// отображения; по умолчанию image/jpeg.
func contentTypeFor(ext string) string {
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	return "image/jpeg"
}

// encodeFormat возвращает формат кодирования миниатюры для расширения.
// imaging не кодирует webp — такие миниатюры перекодируются в JPEG.
func encodeFormat(ext string) imaging.Format {
	switch ext {
	case ".png":
		return imaging.PNG
	case ".gif":
		return imaging.GIF
	case ".bmp":
		return imaging.BMP
	default:
		return imaging.JPEG
	}
}
