// snapshot.go — фоновый сервис периодического сохранения индекса метаданных.
//
// Двойная стратегия персистентности: обработчики корзины сохраняют индекс
// сразу (SaveNow), периодический тикер покрывает загрузки. Окно потери при
// сбое ограничено интервалом и касается только не сохранённых загрузок.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/teledrive/internal/storage/index"
)

// Prometheus-метрики снапшота.
var (
	snapshotRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "td_snapshot_runs_total",
		Help: "Общее количество сохранений снапшота индекса (по результату)",
	}, []string{"result"})

	snapshotDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "td_snapshot_duration_seconds",
		Help:    "Длительность записи снапшота индекса в секундах",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
)

// SnapshotService — фоновое периодическое сохранение индекса.
type SnapshotService struct {
	idx      *index.Index
	interval time.Duration
	logger   *slog.Logger
	cancel   context.CancelFunc
}

// NewSnapshotService создаёт сервис снапшота.
func NewSnapshotService(idx *index.Index, interval time.Duration, logger *slog.Logger) *SnapshotService {
	return &SnapshotService{
		idx:      idx,
		interval: interval,
		logger:   logger.With(slog.String("component", "snapshot")),
	}
}

// Start запускает фоновую горутину с периодическим тикером.
// Фоновые сохранения никогда не пробрасывают ошибку: логируют и продолжают.
func (ss *SnapshotService) Start(ctx context.Context) {
	snapCtx, cancel := context.WithCancel(ctx)
	ss.cancel = cancel

	go func() {
		ticker := time.NewTicker(ss.interval)
		defer ticker.Stop()

		for {
			select {
			case <-snapCtx.Done():
				return
			case <-ticker.C:
				if err := ss.SaveNow(); err != nil {
					ss.logger.Error("Фоновое сохранение снапшота не удалось",
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}()

	ss.logger.Info("Периодический снапшот запущен",
		slog.String("interval", ss.interval.String()),
	)
}

// Stop останавливает фоновое сохранение.
func (ss *SnapshotService) Stop() {
	if ss.cancel != nil {
		ss.cancel()
	}
}

// SaveNow синхронно сохраняет индекс на диск.
// Используется обработчиками durable-now мутаций и при завершении процесса.
func (ss *SnapshotService) SaveNow() error {
	start := time.Now()

	if err := ss.idx.Save(); err != nil {
		snapshotRunsTotal.WithLabelValues("error").Inc()
		return err
	}

	snapshotRunsTotal.WithLabelValues("success").Inc()
	snapshotDuration.Observe(time.Since(start).Seconds())

	ss.logger.Debug("Снапшот индекса сохранён",
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}
