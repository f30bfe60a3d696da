// Пакет config — загрузка и валидация конфигурации Pickup Module
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

// Config содержит все параметры конфигурации Pickup Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration

	// --- PostgreSQL ---

	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Имя пользователя PostgreSQL
	DBUser string
	// Пароль пользователя PostgreSQL
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Redis (durable KV для sync-курсоров) ---

	// Адрес Redis (host:port)
	RedisAddr string
	// Пароль Redis (опционально)
	RedisPassword string
	// Номер базы Redis
	RedisDB int

	// --- Calendar Service ---

	// Базовый URL Calendar Service
	CalendarURL string
	// Статический Bearer-токен для Calendar Service (опционально)
	CalendarToken string
	// Путь к CA-сертификату для TLS-соединений (опционально)
	CalendarCACertPath string
	// Доменный суффикс идентификаторов событий; варианты id с суффиксом
	// и без считаются одним и тем же событием
	EventIDSuffix string

	// --- JWT (опциональная защита API) ---

	// URL JWKS endpoint; пустая строка — API без аутентификации
	JWTJWKSURL string
	// Ожидаемый issuer JWT (опционально)
	JWTIssuer string

	// --- Процессор задач ---

	// Интервал фонового запуска процессора
	ProcessInterval time.Duration
	// Максимум обрабатываемых записей за один проход
	MaxTasksPerRun int

	// --- Синхронизация календарей ---

	// Интервал фонового запуска синхронизации
	SyncInterval time.Duration
	// Глубина lookback-выборки при отсутствии курсора (в днях)
	SyncLookbackDays int
	// Максимум календарей за один проход
	SyncMaxCalendars int
	// Максимум страниц листинга на один календарь
	SyncMaxPages int
	// Суммарный потолок событий за один проход
	SyncMaxEvents int
	// Размер страницы листинга событий
	SyncPageSize int

	// --- Блокировка запусков ---

	// Таймаут ожидания advisory lock; не успели — тихий пропуск запуска
	LockTimeout time.Duration

	// --- Кэш мастер-данных исполнителей ---

	// Максимальный размер LRU-кэша
	AssigneeCacheSize int
	// TTL записи кэша
	AssigneeCacheTTL time.Duration

	// --- Уведомления ---

	// Webhook-и чата по каналам (канал default — по умолчанию)
	NotifyWebhooks map[string]string
	// Пользователь для упоминания в уведомлениях (опционально)
	NotifyMentionUser string
	// Виды уведомлений, в которых добавляется упоминание
	NotifyMentionKinds []string
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// PM_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("PM_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("PM_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("PM_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// PM_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("PM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("PM_LOG_LEVEL: %w", err)
	}

	// PM_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("PM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("PM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// PM_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("PM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PM_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	// PM_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("PM_DB_HOST")
	if err != nil {
		return nil, err
	}

	// PM_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = getEnvInt("PM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("PM_DB_PORT: %w", err)
	}

	// PM_DB_NAME — обязательный
	cfg.DBName, err = getEnvRequired("PM_DB_NAME")
	if err != nil {
		return nil, err
	}

	// PM_DB_USER — обязательный
	cfg.DBUser, err = getEnvRequired("PM_DB_USER")
	if err != nil {
		return nil, err
	}

	// PM_DB_PASSWORD — обязательный
	cfg.DBPassword, err = getEnvRequired("PM_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	// PM_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("PM_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("PM_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Redis ---

	// PM_REDIS_ADDR — обязательный (host:port)
	cfg.RedisAddr, err = getEnvRequired("PM_REDIS_ADDR")
	if err != nil {
		return nil, err
	}

	// PM_REDIS_PASSWORD — опциональный
	cfg.RedisPassword = getEnvDefault("PM_REDIS_PASSWORD", "")

	// PM_REDIS_DB — номер базы (по умолчанию 0)
	cfg.RedisDB, err = getEnvInt("PM_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("PM_REDIS_DB: %w", err)
	}

	// --- Calendar Service ---

	// PM_CALENDAR_URL — обязательный
	cfg.CalendarURL, err = getEnvRequired("PM_CALENDAR_URL")
	if err != nil {
		return nil, err
	}
	// Убираем trailing slash
	cfg.CalendarURL = strings.TrimRight(cfg.CalendarURL, "/")

	// PM_CALENDAR_TOKEN — опциональный
	cfg.CalendarToken = getEnvDefault("PM_CALENDAR_TOKEN", "")

	// PM_CALENDAR_CA_CERT_PATH — опциональный
	cfg.CalendarCACertPath = getEnvDefault("PM_CALENDAR_CA_CERT_PATH", "")

	// PM_EVENT_ID_SUFFIX — доменный суффикс id событий (по умолчанию "@calendar.local")
	cfg.EventIDSuffix = getEnvDefault("PM_EVENT_ID_SUFFIX", "@calendar.local")

	// --- JWT ---

	// PM_JWT_JWKS_URL — пустая строка отключает аутентификацию API
	cfg.JWTJWKSURL = getEnvDefault("PM_JWT_JWKS_URL", "")

	// PM_JWT_ISSUER — ожидаемый issuer (опционально)
	cfg.JWTIssuer = getEnvDefault("PM_JWT_ISSUER", "")

	// --- Процессор задач ---

	// PM_PROCESS_INTERVAL — интервал процессора (по умолчанию 5m)
	cfg.ProcessInterval, err = getEnvDuration("PM_PROCESS_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("PM_PROCESS_INTERVAL: %w", err)
	}

	// PM_MAX_TASKS_PER_RUN — лимит записей за проход (по умолчанию 20)
	cfg.MaxTasksPerRun, err = getEnvInt("PM_MAX_TASKS_PER_RUN", 20)
	if err != nil {
		return nil, fmt.Errorf("PM_MAX_TASKS_PER_RUN: %w", err)
	}
	if cfg.MaxTasksPerRun < 1 || cfg.MaxTasksPerRun > 500 {
		return nil, fmt.Errorf("PM_MAX_TASKS_PER_RUN: значение %d вне допустимого диапазона 1-500", cfg.MaxTasksPerRun)
	}

	// --- Синхронизация ---

	// PM_SYNC_INTERVAL — интервал синхронизации (по умолчанию 5m)
	cfg.SyncInterval, err = getEnvDuration("PM_SYNC_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("PM_SYNC_INTERVAL: %w", err)
	}

	// PM_SYNC_LOOKBACK_DAYS — глубина lookback (по умолчанию 30)
	cfg.SyncLookbackDays, err = getEnvInt("PM_SYNC_LOOKBACK_DAYS", 30)
	if err != nil {
		return nil, fmt.Errorf("PM_SYNC_LOOKBACK_DAYS: %w", err)
	}
	if cfg.SyncLookbackDays < 1 || cfg.SyncLookbackDays > 365 {
		return nil, fmt.Errorf("PM_SYNC_LOOKBACK_DAYS: значение %d вне допустимого диапазона 1-365", cfg.SyncLookbackDays)
	}

	// PM_SYNC_MAX_CALENDARS — максимум календарей за проход (по умолчанию 20)
	cfg.SyncMaxCalendars, err = getEnvInt("PM_SYNC_MAX_CALENDARS", 20)
	if err != nil {
		return nil, fmt.Errorf("PM_SYNC_MAX_CALENDARS: %w", err)
	}

	// PM_SYNC_MAX_PAGES — максимум страниц на календарь (по умолчанию 3)
	cfg.SyncMaxPages, err = getEnvInt("PM_SYNC_MAX_PAGES", 3)
	if err != nil {
		return nil, fmt.Errorf("PM_SYNC_MAX_PAGES: %w", err)
	}

	// PM_SYNC_MAX_EVENTS — суммарный потолок событий за проход (по умолчанию 500)
	cfg.SyncMaxEvents, err = getEnvInt("PM_SYNC_MAX_EVENTS", 500)
	if err != nil {
		return nil, fmt.Errorf("PM_SYNC_MAX_EVENTS: %w", err)
	}

	// PM_SYNC_PAGE_SIZE — размер страницы листинга (по умолчанию 250)
	cfg.SyncPageSize, err = getEnvInt("PM_SYNC_PAGE_SIZE", 250)
	if err != nil {
		return nil, fmt.Errorf("PM_SYNC_PAGE_SIZE: %w", err)
	}
	if cfg.SyncPageSize < 1 || cfg.SyncPageSize > 2500 {
		return nil, fmt.Errorf("PM_SYNC_PAGE_SIZE: значение %d вне допустимого диапазона 1-2500", cfg.SyncPageSize)
	}

	// --- Блокировка ---

	// PM_LOCK_TIMEOUT — таймаут ожидания лока (по умолчанию 1s)
	cfg.LockTimeout, err = getEnvDuration("PM_LOCK_TIMEOUT", time.Second)
	if err != nil {
		return nil, fmt.Errorf("PM_LOCK_TIMEOUT: %w", err)
	}

	// --- Кэш исполнителей ---

	// PM_ASSIGNEE_CACHE_SIZE — размер LRU-кэша (по умолчанию 256)
	cfg.AssigneeCacheSize, err = getEnvInt("PM_ASSIGNEE_CACHE_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("PM_ASSIGNEE_CACHE_SIZE: %w", err)
	}

	// PM_ASSIGNEE_CACHE_TTL — TTL записи кэша (по умолчанию 5m)
	cfg.AssigneeCacheTTL, err = getEnvDuration("PM_ASSIGNEE_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("PM_ASSIGNEE_CACHE_TTL: %w", err)
	}

	// --- Уведомления ---

	// PM_NOTIFY_WEBHOOKS — webhook-и по каналам: "default=https://...,spot_clinic=https://..."
	cfg.NotifyWebhooks, err = parseKeyValueCSV(getEnvDefault("PM_NOTIFY_WEBHOOKS", ""))
	if err != nil {
		return nil, fmt.Errorf("PM_NOTIFY_WEBHOOKS: %w", err)
	}

	// PM_NOTIFY_MENTION_USER — пользователь для упоминания (опционально)
	cfg.NotifyMentionUser = getEnvDefault("PM_NOTIFY_MENTION_USER", "")

	// PM_NOTIFY_MENTION_KINDS — виды с упоминанием (по умолчанию "ошибка")
	cfg.NotifyMentionKinds = parseCSV(getEnvDefault("PM_NOTIFY_MENTION_KINDS", "ошибка"))

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
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

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
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

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// parseKeyValueCSV разбирает строку вида "key1=val1,key2=val2" в map.
// Пустая строка — пустой map (уведомления отключены).
func parseKeyValueCSV(s string) (map[string]string, error) {
	result := make(map[string]string)
	for _, part := range parseCSV(s) {
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("некорректный элемент %q, ожидается формат key=url", part)
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		if key == "" || val == "" {
			return nil, fmt.Errorf("некорректный элемент %q, ожидается формат key=url", part)
		}
		result[key] = val
	}
	return result, nil
}
