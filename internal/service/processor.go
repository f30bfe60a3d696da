// processor.go — процессор отложенных задач реестра.
//
// Processor запускает фоновую горутину с ticker (PM_PROCESS_INTERVAL),
// которая выбирает записи в ожидающих статусах и выполняет по каждой
// ровно одно действие над календарём:
//
//	«к регистрации»       → создать событие        → «в календаре»
//	«к обновлению»        → обновить событие       → «обновлено»
//	«к отмене»            → удалить событие        → «отменено»
//	«к смене исполнителя» → перенести событие      → «обновлено»
//
// За один проход обрабатывается не более PM_MAX_TASKS_PER_RUN записей;
// остаток дожидается следующего прохода. Ошибка одной записи не
// прерывает проход: запись переводится в статус «ошибка», отправляется
// уведомление, обработка продолжается. Повторный запуск возможен
// только после ручного сброса статуса.
//
// Prometheus-метрики:
//   - pm_tasks_processed_total — обработанные задачи (по операциям и результату)
//   - pm_process_duration_seconds — длительность прохода процессора
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arturkryukov/pickup-module/internal/domain/model"
	"github.com/arturkryukov/pickup-module/internal/domain/status"
	"github.com/arturkryukov/pickup-module/internal/notifier"
	"github.com/arturkryukov/pickup-module/internal/repository"
	"github.com/arturkryukov/pickup-module/internal/runlock"
)

// Prometheus-метрики процессора задач.
var (
	tasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pm_tasks_processed_total",
		Help: "Количество обработанных задач процессора",
	}, []string{"operation", "result"}) // result: ok, error

	processDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pm_process_duration_seconds",
		Help:    "Длительность одного прохода процессора задач",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 0.05s … ~102s
	})
)

// Человекочитаемые названия операций для уведомлений и метрик.
var operationNames = map[status.Status]string{
	status.CalendarRegister:       "регистрация",
	status.ResyncRegister:         "обновление",
	status.CancelRegister:         "отмена",
	status.AssigneeChangeRegister: "смена исполнителя",
}

// Processor — фоновый процессор отложенных задач.
type Processor struct {
	records     repository.RecordRepository
	calendar    CalendarClient
	resolver    AssigneeResolver
	notifier    notifier.Notifier
	guard       RunGuard
	transferrer *transferrer
	maxPerRun   int
	interval    time.Duration
	logger      *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewProcessor создаёт процессор отложенных задач.
func NewProcessor(
	records repository.RecordRepository,
	calendar CalendarClient,
	resolver AssigneeResolver,
	ntf notifier.Notifier,
	guard RunGuard,
	maxPerRun int,
	interval time.Duration,
	logger *slog.Logger,
) *Processor {
	logger = logger.With(slog.String("component", "processor"))
	return &Processor{
		records:   records,
		calendar:  calendar,
		resolver:  resolver,
		notifier:  ntf,
		guard:     guard,
		maxPerRun: maxPerRun,
		interval:  interval,
		logger:    logger,
		transferrer: &transferrer{
			records:  records,
			calendar: calendar,
			resolver: resolver,
			notifier: ntf,
			logger:   logger,
		},
	}
}

// Start запускает фоновую горутину с периодической обработкой задач.
// Вызывается один раз при старте приложения.
func (p *Processor) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)

		p.logger.Info("Процессор задач запущен",
			slog.String("interval", p.interval.String()),
			slog.Int("max_per_run", p.maxPerRun),
		)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.logger.Info("Процессор задач остановлен")
				return
			case <-ticker.C:
				result, err := p.Run(ctx)
				switch {
				case errors.Is(err, runlock.ErrBusy):
					// Блокировка занята другим проходом: молча пропускаем
				case err != nil:
					p.logger.Error("Ошибка прохода процессора", slog.String("error", err.Error()))
				default:
					p.logger.Info("Проход процессора завершён",
						slog.Int("processed", result.Processed),
						slog.Int("succeeded", result.Succeeded),
						slog.Int("failed", result.Failed),
					)
				}
			}
		}
	}()
}

// Stop останавливает фоновую горутину и ждёт завершения.
func (p *Processor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	if p.done != nil {
		<-p.done
	}
}

// Run выполняет один проход процессора под блокировкой запусков.
// Возвращает runlock.ErrBusy, если блокировка занята.
func (p *Processor) Run(ctx context.Context) (*model.ProcessResult, error) {
	var result *model.ProcessResult
	err := p.guard.Run(ctx, "processor", runlock.Key, func(ctx context.Context) error {
		var runErr error
		result, runErr = p.runOnce(ctx)
		return runErr
	})
	return result, err
}

// runOnce обрабатывает до maxPerRun ожидающих записей в порядке создания.
func (p *Processor) runOnce(ctx context.Context) (*model.ProcessResult, error) {
	result := &model.ProcessResult{StartedAt: time.Now()}
	defer func() {
		result.CompletedAt = time.Now()
		processDuration.Observe(result.CompletedAt.Sub(result.StartedAt).Seconds())
	}()

	pending, err := p.records.ListPending(ctx, p.maxPerRun)
	if err != nil {
		return nil, fmt.Errorf("выборка ожидающих записей: %w", err)
	}
	result.Scanned = len(pending)
	result.LimitReached = len(pending) == p.maxPerRun

	for _, rec := range pending {
		operation := operationNames[rec.Status]
		result.Processed++

		if err := p.processOne(ctx, rec); err != nil {
			tasksProcessed.WithLabelValues(operation, "error").Inc()
			result.Failed++
			p.logger.Error("Ошибка обработки записи",
				slog.String("record_id", rec.ID.String()),
				slog.String("operation", operation),
				slog.String("error", err.Error()),
			)
			p.markFailed(ctx, rec, operation, err)
			continue
		}

		tasksProcessed.WithLabelValues(operation, "ok").Inc()
		result.Succeeded++
	}

	return result, nil
}

// processOne выполняет действие, соответствующее ожидающему статусу записи.
func (p *Processor) processOne(ctx context.Context, rec *model.Record) error {
	switch rec.Status {
	case status.CalendarRegister:
		return p.register(ctx, rec)
	case status.ResyncRegister:
		return p.resync(ctx, rec)
	case status.CancelRegister:
		return p.cancelTask(ctx, rec)
	case status.AssigneeChangeRegister:
		return p.transferrer.handleRecordDriven(ctx, rec)
	default:
		return fmt.Errorf("неожиданный статус %q", rec.Status)
	}
}

// markFailed переводит запись в статус «ошибка» и отправляет
// уведомление с деталями. Запись пропускается последующими проходами,
// пока человек не сбросит статус.
func (p *Processor) markFailed(ctx context.Context, rec *model.Record, operation string, cause error) {
	rec.Status = status.Error
	stampUpdate(rec, model.SourceRecord)
	if err := p.records.Update(ctx, rec); err != nil {
		p.logger.Error("Не удалось сохранить статус «ошибка»",
			slog.String("record_id", rec.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	p.notifier.Notify(ctx, rec.Category, notifier.KindError, fmt.Sprintf(
		"Не удалось выполнить операцию над заявкой.\n"+
			"Операция: %s\nКлиент: %s\nИсполнитель: %s\nОшибка: %s\n"+
			"Запись переведена в статус «ошибка»; после исправления сбросьте статус для повторной обработки.",
		operation, rec.CustomerName, rec.Assignee, cause))
}
