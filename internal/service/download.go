// download.go — сервис выдачи файлов: проксирование байт из Telegram
// и повторная доставка блоба в чат ("скачать в Telegram").
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/teledrive/internal/domain/model"
	"github.com/bigkaa/teledrive/internal/storage/index"
)

// Prometheus-метрики выдачи.
var (
	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "td_downloads_total",
		Help: "Общее количество запросов выдачи файла (по типу и результату)",
	}, []string{"kind", "result"})

	downloadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "td_download_bytes_total",
		Help: "Общее количество байт, отданных при проксировании",
	})
)

// BlobFetcher скачивает содержимое блоба по file_id.
// Реализуется telegram.Client.
type BlobFetcher interface {
	FetchFile(ctx context.Context, fileID string) ([]byte, error)
}

// Redeliverer повторно отправляет сохранённый блоб в чат identity.
// Реализуется telegram.Client.
type Redeliverer interface {
	Redeliver(identity, fileID, caption string) error
}

// DownloadService — сервис выдачи файлов.
type DownloadService struct {
	idx         *index.Index
	fetcher     BlobFetcher
	redeliverer Redeliverer
	logger      *slog.Logger
}

// NewDownloadService создаёт сервис выдачи.
func NewDownloadService(
	idx *index.Index,
	fetcher BlobFetcher,
	redeliverer Redeliverer,
	logger *slog.Logger,
) *DownloadService {
	return &DownloadService{
		idx:         idx,
		fetcher:     fetcher,
		redeliverer: redeliverer,
		logger:      logger.With(slog.String("component", "download_service")),
	}
}

// Fetch возвращает байты файла и его запись метаданных.
// Запись ищется независимо от состояния корзины: файл из корзины всё ещё
// скачиваем. index.ErrNotFound — записи нет; ошибки telegram пробрасываются.
func (ds *DownloadService) Fetch(ctx context.Context, identity, fileID string) ([]byte, *model.FileRecord, error) {
	rec, err := ds.idx.Find(identity, fileID)
	if err != nil {
		downloadsTotal.WithLabelValues("proxy", "not_found").Inc()
		return nil, nil, err
	}

	data, err := ds.fetcher.FetchFile(ctx, fileID)
	if err != nil {
		downloadsTotal.WithLabelValues("proxy", "backend_error").Inc()
		return nil, nil, fmt.Errorf("скачивание из telegram: %w", err)
	}

	downloadsTotal.WithLabelValues("proxy", "success").Inc()
	downloadBytesTotal.Add(float64(len(data)))

	ds.logger.Debug("Файл отдан",
		slog.String("identity", identity),
		slog.String("file_id", fileID),
		slog.Int("bytes", len(data)),
	)

	return data, rec, nil
}

// Redeliver пересылает уже сохранённый файл обратно в чат identity
// без повторной загрузки содержимого.
func (ds *DownloadService) Redeliver(identity, fileID string) (*model.FileRecord, error) {
	rec, err := ds.idx.Find(identity, fileID)
	if err != nil {
		downloadsTotal.WithLabelValues("chat", "not_found").Inc()
		return nil, err
	}

	caption := fmt.Sprintf("\U0001F4E5 Here's your requested file: %s", rec.Name)
	if err := ds.redeliverer.Redeliver(identity, fileID, caption); err != nil {
		downloadsTotal.WithLabelValues("chat", "backend_error").Inc()
		return nil, fmt.Errorf("повторная доставка: %w", err)
	}

	downloadsTotal.WithLabelValues("chat", "success").Inc()
	return rec, nil
}
