// Пакет config — загрузка и валидация конфигурации TeleDrive
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации TeleDrive backend.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Токен Telegram-бота (обязательный параметр)
	BotToken string
	// Путь к директории данных (снапшот userFiles.json)
	DataDir string
	// Путь к директории временного буфера загрузок
	UploadsDir string
	// Путь к директории кэша миниатюр
	ThumbnailsDir string
	// Время жизни кода подтверждения
	CodeTTL time.Duration
	// Интервал периодического снапшота индекса метаданных
	SnapshotInterval time.Duration
	// Интервал очистки кэша миниатюр
	ThumbSweepInterval time.Duration
	// Максимальный возраст миниатюры до удаления
	ThumbMaxAge time.Duration
	// Размер стороны миниатюры в пикселях
	ThumbSize int
	// Максимальный размер принимаемого файла в байтах
	MaxFileSize int64
	// Таймаут HTTP-вызовов к Telegram Bot API
	BotTimeout time.Duration
	// Секрет подписи сессионных JWT (обязательный параметр)
	SessionSecret string
	// Время жизни сессионного JWT
	SessionTTL time.Duration
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string
	// Имя зависимости (Telegram Bot API) в метриках topologymetrics
	DephealthDepName string
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}

	// TD_PORT — порт HTTP-сервера (по умолчанию 3000)
	port, err := getEnvInt("TD_PORT", 3000)
	if err != nil {
		return nil, fmt.Errorf("TD_PORT: %w", err)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("TD_PORT: значение %d вне допустимого диапазона 1-65535", port)
	}
	cfg.Port = port

	// TD_BOT_TOKEN — обязательный
	cfg.BotToken, err = getEnvRequired("TD_BOT_TOKEN")
	if err != nil {
		return nil, err
	}

	// TD_DATA_DIR — директория снапшота (по умолчанию ./data)
	cfg.DataDir = getEnvDefault("TD_DATA_DIR", "data")

	// TD_UPLOADS_DIR — буфер загрузок (по умолчанию ./uploads)
	cfg.UploadsDir = getEnvDefault("TD_UPLOADS_DIR", "uploads")

	// TD_THUMBNAILS_DIR — кэш миниатюр (по умолчанию ./thumbnails)
	cfg.ThumbnailsDir = getEnvDefault("TD_THUMBNAILS_DIR", "thumbnails")

	// TD_CODE_TTL — время жизни кода подтверждения (по умолчанию 10m)
	cfg.CodeTTL, err = getEnvDuration("TD_CODE_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("TD_CODE_TTL: %w", err)
	}

	// TD_SNAPSHOT_INTERVAL — интервал снапшота индекса (по умолчанию 5m)
	cfg.SnapshotInterval, err = getEnvDuration("TD_SNAPSHOT_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("TD_SNAPSHOT_INTERVAL: %w", err)
	}

	// TD_THUMB_SWEEP_INTERVAL — интервал очистки миниатюр (по умолчанию 24h)
	cfg.ThumbSweepInterval, err = getEnvDuration("TD_THUMB_SWEEP_INTERVAL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("TD_THUMB_SWEEP_INTERVAL: %w", err)
	}

	// TD_THUMB_MAX_AGE — максимальный возраст миниатюры (по умолчанию 168h = 7 дней)
	cfg.ThumbMaxAge, err = getEnvDuration("TD_THUMB_MAX_AGE", 7*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("TD_THUMB_MAX_AGE: %w", err)
	}

	// TD_THUMB_SIZE — размер стороны миниатюры (по умолчанию 300)
	cfg.ThumbSize, err = getEnvInt("TD_THUMB_SIZE", 300)
	if err != nil {
		return nil, fmt.Errorf("TD_THUMB_SIZE: %w", err)
	}
	if cfg.ThumbSize <= 0 {
		return nil, fmt.Errorf("TD_THUMB_SIZE: значение должно быть положительным")
	}

	// TD_MAX_FILE_SIZE — максимальный размер файла (по умолчанию 2000 MiB)
	maxFileSize, err := getEnvInt64("TD_MAX_FILE_SIZE", 2000*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("TD_MAX_FILE_SIZE: %w", err)
	}
	if maxFileSize <= 0 {
		return nil, fmt.Errorf("TD_MAX_FILE_SIZE: значение должно быть положительным")
	}
	cfg.MaxFileSize = maxFileSize

	// TD_BOT_TIMEOUT — таймаут вызовов Telegram Bot API (по умолчанию 60s)
	cfg.BotTimeout, err = getEnvDuration("TD_BOT_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TD_BOT_TIMEOUT: %w", err)
	}

	// TD_SESSION_SECRET — обязательный
	cfg.SessionSecret, err = getEnvRequired("TD_SESSION_SECRET")
	if err != nil {
		return nil, err
	}

	// TD_SESSION_TTL — время жизни сессионного JWT (по умолчанию 24h)
	cfg.SessionTTL, err = getEnvDuration("TD_SESSION_TTL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("TD_SESSION_TTL: %w", err)
	}

	// TD_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("TD_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("TD_LOG_LEVEL: %w", err)
	}

	// TD_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("TD_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("TD_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// TD_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 10s)
	cfg.ShutdownTimeout, err = getEnvDuration("TD_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TD_SHUTDOWN_TIMEOUT: %w", err)
	}

	// TD_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("TD_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TD_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// TD_DEPHEALTH_GROUP — имя группы в метриках topologymetrics
	cfg.DephealthGroup = getEnvDefault("TD_DEPHEALTH_GROUP", "teledrive")

	// TD_DEPHEALTH_DEP_NAME — имя зависимости в метриках topologymetrics
	cfg.DephealthDepName = getEnvDefault("TD_DEPHEALTH_DEP_NAME", "telegram-api")

	return cfg, nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 5m, 24h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
