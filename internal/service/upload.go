// Пакет service — бизнес-логика TeleDrive.
// upload.go — конвейер загрузки файла: буфер на диске → отправка боту →
// запись метаданных. При ошибке передачи запись не создаётся, временный
// файл удаляется в любом случае.
package service

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/teledrive/internal/domain/model"
	"github.com/bigkaa/teledrive/internal/storage/index"
	"github.com/bigkaa/teledrive/internal/storage/tmpstore"
	"github.com/bigkaa/teledrive/internal/telegram"
)

// ErrFileTooLarge — размер файла превышает настроенный лимит.
var ErrFileTooLarge = errors.New("размер файла превышает лимит")

// Prometheus-метрики загрузки.
var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "td_uploads_total",
		Help: "Общее количество загрузок (по результату)",
	}, []string{"result"})

	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "td_upload_bytes_total",
		Help: "Общее количество загруженных байт",
	})

	uploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "td_upload_duration_seconds",
		Help:    "Длительность конвейера загрузки в секундах",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})
)

// DocumentSender отправляет локальный файл в чат identity.
// Реализуется telegram.Client.
type DocumentSender interface {
	SendDocument(identity, path, caption string) (*telegram.BlobRef, error)
}

// UploadParams — параметры загрузки файла.
type UploadParams struct {
	// Reader — поток данных файла
	Reader io.Reader
	// Filename — имя файла, под которым он сохраняется
	Filename string
	// Size — заявленный размер файла в байтах
	Size int64
	// Identity — владелец файла
	Identity string
}

// UploadService — сервис загрузки файлов.
type UploadService struct {
	spool       *tmpstore.Store
	sender      DocumentSender
	idx         *index.Index
	maxFileSize int64
	logger      *slog.Logger
}

// NewUploadService создаёт сервис загрузки.
func NewUploadService(
	spool *tmpstore.Store,
	sender DocumentSender,
	idx *index.Index,
	maxFileSize int64,
	logger *slog.Logger,
) *UploadService {
	return &UploadService{
		spool:       spool,
		sender:      sender,
		idx:         idx,
		maxFileSize: maxFileSize,
		logger:      logger.With(slog.String("component", "upload_service")),
	}
}

// Upload выполняет конвейер загрузки:
//
//  1. Проверка размера
//  2. Буферизация потока во временный файл
//  3. Отправка документа боту (выдаёт file_id)
//  4. Добавление записи в индекс
//
// Временный файл удаляется до возврата независимо от исхода.
// При ошибке передачи (telegram.ErrUnavailable) запись метаданных
// не создаётся: нет осиротевших записей без блоба.
func (s *UploadService) Upload(params UploadParams) (*model.FileRecord, error) {
	start := time.Now()

	if params.Size > s.maxFileSize {
		uploadsTotal.WithLabelValues("too_large").Inc()
		return nil, fmt.Errorf("%w: %d байт при лимите %d", ErrFileTooLarge, params.Size, s.maxFileSize)
	}

	spooled, err := s.spool.Save(params.Reader, params.Filename)
	if err != nil {
		uploadsTotal.WithLabelValues("spool_error").Inc()
		return nil, fmt.Errorf("буферизация загрузки: %w", err)
	}
	defer func() {
		if rmErr := s.spool.Remove(spooled.Path); rmErr != nil {
			s.logger.Error("Не удалось удалить временный файл",
				slog.String("path", spooled.Path),
				slog.String("error", rmErr.Error()),
			)
		}
	}()

	caption := fmt.Sprintf("\U0001F4C1 File uploaded from TeleDrive: %s", params.Filename)
	ref, err := s.sender.SendDocument(params.Identity, spooled.Path, caption)
	if err != nil {
		uploadsTotal.WithLabelValues("backend_error").Inc()
		return nil, fmt.Errorf("передача файла в telegram: %w", err)
	}

	rec := &model.FileRecord{
		ID:         ref.FileID,
		Name:       params.Filename,
		Size:       spooled.Size,
		UploadedAt: time.Now().UTC(),
		MessageID:  ref.MessageID,
	}
	s.idx.Append(params.Identity, rec)

	uploadsTotal.WithLabelValues("success").Inc()
	uploadBytesTotal.Add(float64(spooled.Size))
	uploadDuration.Observe(time.Since(start).Seconds())

	s.logger.Info("Файл загружен",
		slog.String("identity", params.Identity),
		slog.String("file_id", rec.ID),
		slog.String("name", rec.Name),
		slog.Int64("size", rec.Size),
	)

	return rec, nil
}
