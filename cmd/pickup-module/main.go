// Точка входа Pickup Module — модуль ведения заявок на вывоз.
// Загружает конфигурацию, подключается к PostgreSQL и Redis, применяет
// миграции, создаёт клиент Calendar Service, репозитории и сервисный слой,
// запускает фоновые проходы (процессор задач, синхронизация календарей),
// HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/arturkryukov/pickup-module/internal/api/handlers"
	"github.com/arturkryukov/pickup-module/internal/api/middleware"
	"github.com/arturkryukov/pickup-module/internal/assignees"
	"github.com/arturkryukov/pickup-module/internal/calclient"
	"github.com/arturkryukov/pickup-module/internal/config"
	"github.com/arturkryukov/pickup-module/internal/database"
	"github.com/arturkryukov/pickup-module/internal/kvstore"
	"github.com/arturkryukov/pickup-module/internal/notifier"
	"github.com/arturkryukov/pickup-module/internal/repository"
	"github.com/arturkryukov/pickup-module/internal/runlock"
	"github.com/arturkryukov/pickup-module/internal/server"
	"github.com/arturkryukov/pickup-module/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Pickup Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 5. Redis — durable-хранилище sync-курсоров
	kv, err := kvstore.NewRedisStore(ctx, cfg)
	if err != nil {
		logger.Error("Ошибка подключения к Redis", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer kv.Close()
	logger.Info("Redis подключен", slog.String("addr", cfg.RedisAddr))

	// 6. Клиент Calendar Service
	calClient, err := calclient.New(cfg.CalendarURL, cfg.CalendarToken, cfg.CalendarCACertPath, logger)
	if err != nil {
		logger.Error("Ошибка создания клиента Calendar Service", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Клиент Calendar Service создан", slog.String("url", cfg.CalendarURL))

	// 7. Repositories
	recordRepo := repository.NewRecordRepository(pool)
	assigneeRepo := repository.NewAssigneeRepository(pool)

	// 8. Резолвинг исполнителей с LRU-кэшем
	resolver := assignees.New(assigneeRepo, cfg.AssigneeCacheSize, cfg.AssigneeCacheTTL)

	// 9. Уведомления в чат
	ntf := notifier.New(cfg, logger)

	// 10. Лок запусков (PostgreSQL advisory lock)
	guard := runlock.New(pool, cfg.LockTimeout, logger)

	// 11. Фоновые сервисы: процессор задач и синхронизация календарей
	processor := service.NewProcessor(
		recordRepo, calClient, resolver, ntf, guard,
		cfg.MaxTasksPerRun, cfg.ProcessInterval,
		logger,
	)
	syncEngine := service.NewSyncEngine(
		recordRepo, calClient, resolver, ntf, kv, guard,
		service.SyncOptions{
			Interval:      cfg.SyncInterval,
			LookbackDays:  cfg.SyncLookbackDays,
			MaxCalendars:  cfg.SyncMaxCalendars,
			MaxPages:      cfg.SyncMaxPages,
			MaxEvents:     cfg.SyncMaxEvents,
			PageSize:      cfg.SyncPageSize,
			EventIDSuffix: cfg.EventIDSuffix,
		},
		logger,
	)

	// 12. Readiness checkers (PostgreSQL + Redis + Calendar Service)
	pgChecker := database.NewReadinessChecker(pool)
	healthHandler := handlers.NewHealthHandler(pgChecker, kv, calClient)

	// 13. API handler
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		recordRepo,
		assigneeRepo,
		resolver,
		processor,
		syncEngine,
		logger,
	)

	// 14. JWT middleware (опционально: пустой PM_JWT_JWKS_URL — API без auth)
	var jwtAuth *middleware.JWTAuth
	if cfg.JWTJWKSURL != "" {
		jwtAuth, err = middleware.NewJWTAuth(cfg.JWTJWKSURL, cfg.JWTIssuer, time.Hour, logger)
		if err != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWTJWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	} else {
		logger.Warn("PM_JWT_JWKS_URL не задан, API работает без аутентификации")
	}

	// 15. Запуск фоновых проходов
	processor.Start(ctx)
	syncEngine.Start(ctx)

	// 16. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, jwtAuth)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 17. Graceful shutdown фоновых проходов
	logger.Info("Останавливаем фоновые задачи...")
	processor.Stop()
	syncEngine.Stop()

	logger.Info("Pickup Module остановлен")
}
