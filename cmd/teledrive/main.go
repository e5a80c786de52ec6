// Точка входа TeleDrive — сервиса хранения файлов поверх Telegram.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/bigkaa/teledrive/internal/api/handlers"
	"github.com/bigkaa/teledrive/internal/api/middleware"
	"github.com/bigkaa/teledrive/internal/auth"
	"github.com/bigkaa/teledrive/internal/config"
	"github.com/bigkaa/teledrive/internal/server"
	"github.com/bigkaa/teledrive/internal/service"
	"github.com/bigkaa/teledrive/internal/storage/index"
	"github.com/bigkaa/teledrive/internal/storage/tmpstore"
	"github.com/bigkaa/teledrive/internal/telegram"
)

func main() {
	// .env необязателен, в контейнере переменные приходят из окружения
	_ = godotenv.Load()

	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("TeleDrive запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("data_dir", cfg.DataDir),
	)

	// --- Инициализация компонентов ---

	// 1. Индекс метаданных файлов (JSON-снимок на диске)
	idx := index.New(cfg.DataDir, logger)
	if err := idx.Load(); err != nil {
		logger.Error("Ошибка загрузки индекса", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Индекс метаданных загружен",
		slog.Int("accounts", idx.Accounts()),
		slog.Int("files", idx.Count()),
	)

	// 2. Telegram-клиент
	tg, err := telegram.New(cfg.BotToken, cfg.BotTimeout, logger)
	if err != nil {
		logger.Error("Ошибка инициализации Telegram-клиента", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 3. Временное хранилище для принятых загрузок
	spool, err := tmpstore.New(cfg.UploadsDir)
	if err != nil {
		logger.Error("Ошибка инициализации временного хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Коды привязки и сессионные токены
	codes := auth.NewRegistry(cfg.CodeTTL, logger)
	tokens := auth.NewTokenManager(cfg.SessionSecret, cfg.SessionTTL)

	// 5. Сервисы
	uploadSvc := service.NewUploadService(spool, tg, idx, cfg.MaxFileSize, logger)
	downloadSvc := service.NewDownloadService(idx, tg, tg, logger)

	thumbSvc, err := service.NewThumbnailService(
		cfg.ThumbnailsDir,
		cfg.ThumbSize,
		cfg.ThumbMaxAge,
		cfg.ThumbSweepInterval,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка инициализации кэша миниатюр", slog.String("error", err.Error()))
		os.Exit(1)
	}

	snapshotSvc := service.NewSnapshotService(idx, cfg.SnapshotInterval, logger)

	// 6. Фоновые процессы
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 6.1 Приём /start от бота и выдача кодов привязки
	listener := telegram.NewListener(tg, codes, logger)
	listener.Start(ctx)

	// 6.2 Очистка просроченных кодов
	codes.StartJanitor(ctx)

	// 6.3 Периодический снимок индекса
	snapshotSvc.Start(ctx)

	// 6.4 Вытеснение устаревших миниатюр
	thumbSvc.Start(ctx)

	// 6.5 topologymetrics — мониторинг доступности Telegram Bot API
	dephealthSvc, dephealthErr := service.NewDephealthService(
		cfg.DephealthGroup,
		cfg.DephealthDepName,
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("dep_name", cfg.DephealthDepName),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 7. Handlers
	healthHandler := handlers.NewHealthHandler(cfg.DataDir, idx)
	apiHandler := handlers.NewAPIHandler(
		codes,
		tokens,
		idx,
		uploadSvc,
		downloadSvc,
		thumbSvc,
		snapshotSvc,
		healthHandler,
		cfg.MaxFileSize,
		logger,
	)

	// 8. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler,
		middleware.RequestLogger(logger),
		middleware.MetricsMiddleware(),
		middleware.SessionAuth(tokens, logger),
	)

	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// --- Graceful shutdown фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")
	cancel()
	snapshotSvc.Stop()
	thumbSvc.Stop()
	if dephealthErr == nil {
		dephealthSvc.Stop()
	}

	// Финальный снимок индекса перед завершением
	if err := snapshotSvc.SaveNow(); err != nil {
		logger.Error("Ошибка финального снимка индекса", slog.String("error", err.Error()))
	}

	logger.Info("TeleDrive остановлен")
}
