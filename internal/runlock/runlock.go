// Пакет runlock — защита от параллельных запусков фоновых проходов.
// Построен на advisory-локах PostgreSQL: лок держится на выделенном
// соединении пула и отпускается по завершении прохода. Не успели
// получить лок за таймаут — проход тихо пропускается.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики.
var (
	lockSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pm_lock_skipped_total",
		Help: "Общее количество пропущенных запусков из-за занятого лока.",
	}, []string{"name"})
)

// ErrBusy — лок занят другим запуском, проход пропущен.
var ErrBusy = errors.New("лок занят, запуск пропущен")

// Key — единый ключ advisory-лока для всех фоновых проходов.
// Процессор задач и синхронизация делят один лок: одновременно во
// всём развёртывании выполняется не более одного прохода любого вида.
// Значение произвольное, но стабильное между инстансами.
const Key int64 = 730001

// retryInterval — период повторных попыток получить лок.
const retryInterval = 100 * time.Millisecond

// Guard — защита запусков через advisory-локи PostgreSQL.
type Guard struct {
	pool    *pgxpool.Pool
	timeout time.Duration
	logger  *slog.Logger
}

// New создаёт Guard с таймаутом ожидания лока.
func New(pool *pgxpool.Pool, timeout time.Duration, logger *slog.Logger) *Guard {
	return &Guard{
		pool:    pool,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "runlock")),
	}
}

// Run выполняет fn под advisory-локом key.
// Лок пытается взяться в течение таймаута; если не удалось —
// возвращает ErrBusy, а fn не вызывается.
func (g *Guard) Run(ctx context.Context, name string, key int64, fn func(ctx context.Context) error) error {
	// Лок привязан к сессии, поэтому держим выделенное соединение
	conn, err := g.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("ошибка получения соединения для лока: %w", err)
	}
	defer conn.Release()

	acquired, err := g.tryAcquire(ctx, conn, key)
	if err != nil {
		return err
	}
	if !acquired {
		g.logger.Info("Лок занят, запуск пропущен", slog.String("name", name))
		lockSkippedTotal.WithLabelValues(name).Inc()
		return ErrBusy
	}

	defer func() {
		// Разблокировка в фоне, чтобы отмена ctx не оставила лок висеть
		unlockCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock($1)`, key); err != nil {
			g.logger.Error("Ошибка освобождения лока",
				slog.String("name", name),
				slog.String("error", err.Error()),
			)
		}
	}()

	return fn(ctx)
}

// tryAcquire пытается взять лок с повторами до таймаута.
func (g *Guard) tryAcquire(ctx context.Context, conn *pgxpool.Conn, key int64) (bool, error) {
	deadline := time.Now().Add(g.timeout)

	for {
		var acquired bool
		if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&acquired); err != nil {
			return false, fmt.Errorf("ошибка получения лока: %w", err)
		}
		if acquired {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}
