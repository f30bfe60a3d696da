// sync.go — сервис синхронизации календарей с реестром.
//
// SyncEngine запускает фоновую горутину с ticker (PM_SYNC_INTERVAL),
// которая обходит календари всех привязанных записей и переносит
// изменения событий обратно в реестр:
//
//  1. По привязанным записям строится таблица «(календарь, событие) → запись».
//  2. Для каждого календаря запрашиваются изменения по сохранённому
//     sync-токену; без токена — окно за PM_SYNC_LOOKBACK_DAYS дней.
//  3. Отменённое событие переводит запись в «удалено из календаря»,
//     незаполненный маркер передачи запускает перенос (transfer.go),
//     иначе время события копируется в запись.
//
// Свежий sync-токен сохраняется в KV сразу по завершении страницы,
// чтобы частичный прогресс переживал сбой посреди прохода. Истёкший
// токен восстанавливается одним полным перечитыванием окна. Ошибка
// одного календаря не прерывает обход остальных.
//
// Prometheus-метрики:
//   - pm_sync_duration_seconds — длительность прохода синхронизации
//   - pm_sync_events_total — обработанные события (по операциям)
//   - pm_sync_cursor_resets_total — восстановления после истёкшего токена
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arturkryukov/pickup-module/internal/calclient"
	"github.com/arturkryukov/pickup-module/internal/domain/model"
	"github.com/arturkryukov/pickup-module/internal/domain/status"
	"github.com/arturkryukov/pickup-module/internal/kvstore"
	"github.com/arturkryukov/pickup-module/internal/notifier"
	"github.com/arturkryukov/pickup-module/internal/repository"
	"github.com/arturkryukov/pickup-module/internal/runlock"
)

// Prometheus-метрики синхронизации календарей.
var (
	syncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pm_sync_duration_seconds",
		Help:    "Длительность одного прохода синхронизации календарей",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 0.05s … ~102s
	})

	syncEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pm_sync_events_total",
		Help: "Количество обработанных событий синхронизации",
	}, []string{"operation"}) // operation: updated, deleted, transferred, ignored

	syncCursorResets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pm_sync_cursor_resets_total",
		Help: "Количество восстановлений после истёкшего sync-токена",
	})
)

// SyncOptions — настройки синхронизации из конфигурации.
type SyncOptions struct {
	// Interval — период между проходами
	Interval time.Duration
	// LookbackDays — окно перечитывания при отсутствии токена
	LookbackDays int
	// MaxCalendars — максимум календарей за проход
	MaxCalendars int
	// MaxPages — максимум страниц листинга на календарь
	MaxPages int
	// MaxEvents — суммарный потолок событий за проход
	MaxEvents int
	// PageSize — размер страницы листинга
	PageSize int
	// EventIDSuffix — доменный суффикс, отбрасываемый при сопоставлении id
	EventIDSuffix string
}

// SyncEngine — фоновый сервис синхронизации календарей.
type SyncEngine struct {
	records     repository.RecordRepository
	calendar    CalendarClient
	resolver    AssigneeResolver
	notifier    notifier.Notifier
	kv          kvstore.Store
	guard       RunGuard
	transferrer *transferrer
	opts        SyncOptions
	logger      *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSyncEngine создаёт сервис синхронизации календарей.
func NewSyncEngine(
	records repository.RecordRepository,
	calendar CalendarClient,
	resolver AssigneeResolver,
	ntf notifier.Notifier,
	kv kvstore.Store,
	guard RunGuard,
	opts SyncOptions,
	logger *slog.Logger,
) *SyncEngine {
	logger = logger.With(slog.String("component", "sync"))
	return &SyncEngine{
		records:  records,
		calendar: calendar,
		resolver: resolver,
		notifier: ntf,
		kv:       kv,
		guard:    guard,
		opts:     opts,
		logger:   logger,
		transferrer: &transferrer{
			records:  records,
			calendar: calendar,
			resolver: resolver,
			notifier: ntf,
			logger:   logger,
		},
	}
}

// syncTokenKey — ключ KV-хранилища для sync-токена календаря.
func syncTokenKey(calendarID string) string {
	return "synctoken:" + calendarID
}

// Start запускает фоновую горутину с периодической синхронизацией.
// Вызывается один раз при старте приложения.
func (s *SyncEngine) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("Синхронизация календарей запущена",
			slog.String("interval", s.opts.Interval.String()),
			slog.Int("lookback_days", s.opts.LookbackDays),
		)

		ticker := time.NewTicker(s.opts.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Синхронизация календарей остановлена")
				return
			case <-ticker.C:
				result, err := s.Run(ctx)
				switch {
				case errors.Is(err, runlock.ErrBusy):
					// Блокировка занята другим проходом: молча пропускаем
				case err != nil:
					s.logger.Error("Ошибка прохода синхронизации", slog.String("error", err.Error()))
				default:
					s.logger.Info("Проход синхронизации завершён",
						slog.Int("calendars", result.Calendars),
						slog.Int("events", result.Events),
						slog.Int("updated", result.Updated),
						slog.Int("deleted", result.Deleted),
						slog.Int("transfers", result.Transfers),
					)
				}
			}
		}
	}()
}

// Stop останавливает фоновую горутину и ждёт завершения.
func (s *SyncEngine) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// Run выполняет один проход синхронизации под блокировкой запусков.
// Лок общий с процессором задач: проходы не пересекаются между собой.
// Возвращает runlock.ErrBusy, если блокировка занята.
func (s *SyncEngine) Run(ctx context.Context) (*model.SyncResult, error) {
	var result *model.SyncResult
	err := s.guard.Run(ctx, "sync", runlock.Key, func(ctx context.Context) error {
		var runErr error
		result, runErr = s.runOnce(ctx)
		return runErr
	})
	return result, err
}

// runOnce обходит календари привязанных записей и сверяет события.
func (s *SyncEngine) runOnce(ctx context.Context) (*model.SyncResult, error) {
	result := &model.SyncResult{StartedAt: time.Now()}
	defer func() {
		result.CompletedAt = time.Now()
		syncDuration.Observe(result.CompletedAt.Sub(result.StartedAt).Seconds())
	}()

	lookup, err := s.buildLookup(ctx)
	if err != nil {
		return nil, err
	}
	if len(lookup) == 0 {
		s.logger.Info("Нет привязанных записей, синхронизация не требуется")
		return result, nil
	}

	calendars, err := s.records.DistinctCalendarIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение списка календарей: %w", err)
	}
	if len(calendars) > s.opts.MaxCalendars {
		s.logger.Warn("Количество календарей превышает лимит прохода",
			slog.Int("calendars", len(calendars)),
			slog.Int("limit", s.opts.MaxCalendars),
		)
		calendars = calendars[:s.opts.MaxCalendars]
	}

	for _, calendarID := range calendars {
		if result.Events >= s.opts.MaxEvents {
			s.logger.Warn("Достигнут суммарный потолок событий за проход",
				slog.Int("limit", s.opts.MaxEvents),
			)
			break
		}
		result.Calendars++
		if err := s.syncCalendar(ctx, calendarID, lookup, result); err != nil {
			// Ошибка одного календаря не прерывает обход остальных
			result.SoftErrors = append(result.SoftErrors, fmt.Sprintf("календарь %s: %v", calendarID, err))
			s.logger.Warn("Ошибка синхронизации календаря",
				slog.String("calendar_id", calendarID),
				slog.String("error", err.Error()),
			)
		}
	}

	return result, nil
}

// buildLookup строит таблицу «(календарь, нормализованный id события) → запись»
// по всем привязанным записям. Записи без календаря (легаси) попадают
// под ключ с пустым календарём и сопоставляются по одному id события.
func (s *SyncEngine) buildLookup(ctx context.Context) (map[string]*model.Record, error) {
	linked, err := s.records.ListLinked(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение привязанных записей: %w", err)
	}

	lookup := make(map[string]*model.Record, len(linked))
	for _, rec := range linked {
		normID := strings.ToLower(normalizeEventID(rec.CalendarEventID, s.opts.EventIDSuffix))
		lookup[strings.ToLower(rec.CalendarID)+"|"+normID] = rec
	}
	return lookup, nil
}

// matchRecord находит запись по событию: сначала точное соответствие
// календаря и id, затем id без календаря (легаси-записи).
func (s *SyncEngine) matchRecord(lookup map[string]*model.Record, calendarID, eventID string) *model.Record {
	normID := strings.ToLower(normalizeEventID(eventID, s.opts.EventIDSuffix))
	if rec, ok := lookup[strings.ToLower(calendarID)+"|"+normID]; ok {
		return rec
	}
	if rec, ok := lookup["|"+normID]; ok {
		return rec
	}
	return nil
}

// syncCalendar сверяет изменения одного календаря с реестром.
// Свежий sync-токен сохраняется сразу по завершении полной страницы.
// Истёкший токен сбрасывается; если свежий токен в этом проходе ещё
// не записан, выполняется одно полное перечитывание окна.
func (s *SyncEngine) syncCalendar(ctx context.Context, calendarID string, lookup map[string]*model.Record, result *model.SyncResult) error {
	key := syncTokenKey(calendarID)

	token, err := s.kv.Get(ctx, key)
	if err != nil && !errors.Is(err, kvstore.ErrKeyNotFound) {
		return fmt.Errorf("чтение sync-токена: %w", err)
	}

	wroteToken := false
	recovered := false
	pageToken := ""

	for page := 0; page < s.opts.MaxPages; page++ {
		if result.Events >= s.opts.MaxEvents {
			return nil
		}

		opts := calclient.ListOptions{
			SyncToken:   token,
			PageToken:   pageToken,
			MaxResults:  s.opts.PageSize,
			ShowDeleted: true,
		}
		if token == "" {
			opts.UpdatedMin = time.Now().AddDate(0, 0, -s.opts.LookbackDays)
		}

		list, err := s.calendar.List(ctx, calendarID, opts)
		if errors.Is(err, calclient.ErrSyncTokenExpired) {
			if err := s.kv.Delete(ctx, key); err != nil {
				s.logger.Warn("Не удалось удалить истёкший sync-токен",
					slog.String("calendar_id", calendarID),
					slog.String("error", err.Error()),
				)
			}
			result.CursorResets++
			syncCursorResets.Inc()
			if wroteToken || recovered {
				// Свежий токен уже записан в этом проходе либо
				// восстановление уже выполнялось: второго не будет
				return nil
			}
			s.logger.Info("Sync-токен истёк, полное перечитывание окна",
				slog.String("calendar_id", calendarID),
			)
			recovered = true
			token = ""
			pageToken = ""
			continue
		}
		if err != nil {
			return fmt.Errorf("листинг событий: %w", err)
		}

		for i := range list.Items {
			if result.Events >= s.opts.MaxEvents {
				break
			}
			result.Events++
			s.reconcileEvent(ctx, calendarID, &list.Items[i], lookup, result)
		}

		if list.NextPageToken == "" {
			if list.NextSyncToken != "" {
				if err := s.kv.Set(ctx, key, list.NextSyncToken); err != nil {
					s.logger.Warn("Не удалось сохранить sync-токен",
						slog.String("calendar_id", calendarID),
						slog.String("error", err.Error()),
					)
				} else {
					wroteToken = true
				}
			}
			return nil
		}
		pageToken = list.NextPageToken
	}

	// Лимит страниц исчерпан, остаток догоняем следующим проходом
	s.logger.Warn("Достигнут лимит страниц листинга за проход",
		slog.String("calendar_id", calendarID),
		slog.Int("limit", s.opts.MaxPages),
	)
	return nil
}

// reconcileEvent сверяет одно событие с реестром. События без
// соответствующей записи молча игнорируются: календарь может
// содержать события, созданные не этим модулем.
func (s *SyncEngine) reconcileEvent(ctx context.Context, calendarID string, ev *calclient.Event, lookup map[string]*model.Record, result *model.SyncResult) {
	rec := s.matchRecord(lookup, calendarID, ev.ID)
	if rec == nil {
		syncEventsTotal.WithLabelValues("ignored").Inc()
		return
	}

	if ev.IsCancelled() {
		s.reconcileCancelled(ctx, rec, ev, result)
		return
	}

	handled, err := s.transferrer.handleCalendarDriven(ctx, rec, ev, calendarID)
	if err != nil {
		// Мягкий сбой обработки маркера не отменяет сверку времени
		result.SoftErrors = append(result.SoftErrors, fmt.Sprintf("событие %s: %v", ev.ID, err))
		s.logger.Warn("Ошибка обработки маркера передачи",
			slog.String("event_id", ev.ID),
			slog.String("error", err.Error()),
		)
	}
	if handled {
		syncEventsTotal.WithLabelValues("transferred").Inc()
		result.Transfers++
		return
	}

	if err := s.reconcileTimes(ctx, rec, ev, calendarID); err != nil {
		result.SoftErrors = append(result.SoftErrors, fmt.Sprintf("событие %s: %v", ev.ID, err))
		s.logger.Warn("Ошибка сверки времени события",
			slog.String("event_id", ev.ID),
			slog.String("record_id", rec.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	syncEventsTotal.WithLabelValues("updated").Inc()
	result.Updated++
}

// reconcileCancelled обрабатывает отменённое событие: запись переходит
// в статус «удалено из календаря», связка очищается.
func (s *SyncEngine) reconcileCancelled(ctx context.Context, rec *model.Record, ev *calclient.Event, result *model.SyncResult) {
	if rec.Status.IsCancelled() {
		return
	}

	rec.Status = status.CalendarDeleted
	rec.CalendarID = ""
	rec.CalendarEventID = ""
	stampDeletion(rec, eventUpdatedTime(ev), model.SourceCalendar)
	stampUpdate(rec, model.SourceCalendar)

	if err := s.records.Update(ctx, rec); err != nil {
		result.SoftErrors = append(result.SoftErrors, fmt.Sprintf("событие %s: %v", ev.ID, err))
		s.logger.Warn("Не удалось пометить запись удалённой",
			slog.String("record_id", rec.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	syncEventsTotal.WithLabelValues("deleted").Inc()
	result.Deleted++
	s.notifier.Notify(ctx, rec.Category, notifier.KindDeleted, fmt.Sprintf(
		"Событие удалено из календаря, заявка снята с графика.\nКлиент: %s\nЗапись: %s",
		rec.CustomerName, rec.ID))
}

// reconcileTimes копирует время события в запись: для связанных
// записей время календаря авторитетно. Владелец календаря, если он
// известен справочнику, становится исполнителем записи.
func (s *SyncEngine) reconcileTimes(ctx context.Context, rec *model.Record, ev *calclient.Event, calendarID string) error {
	if date, hhmm, ok := parseEventTime(ev.Start); ok {
		rec.ScheduledDate = &date
		rec.StartTime = hhmm
	}
	if _, hhmm, ok := parseEventTime(ev.End); ok {
		rec.EndTime = hhmm
	}

	// Запись, только что помеченную сменой исполнителя из календаря,
	// в «в календаре» не переводим
	if rec.Status != status.AssigneeChangedFromCalendar {
		rec.Status = status.CalendarComplete
	}
	stampUpdate(rec, model.SourceCalendar)

	name, err := s.resolver.ResolveName(ctx, calendarID)
	if err != nil {
		s.logger.Warn("Не удалось определить владельца календаря",
			slog.String("calendar_id", calendarID),
			slog.String("error", err.Error()),
		)
	} else if name != "" {
		rec.Assignee = name
	}

	return s.records.Update(ctx, rec)
}

// parseEventTime разбирает время события. Для событий на весь день
// возвращает дату и пустое время.
func parseEventTime(et *calclient.EventTime) (date time.Time, hhmm string, ok bool) {
	if et == nil {
		return time.Time{}, "", false
	}
	if et.DateTime != "" {
		t, err := time.Parse(time.RFC3339, et.DateTime)
		if err != nil {
			return time.Time{}, "", false
		}
		t = t.In(time.Local)
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.Local), t.Format("15:04"), true
	}
	if et.Date != "" {
		t, err := time.ParseInLocation("2006-01-02", et.Date, time.Local)
		if err != nil {
			return time.Time{}, "", false
		}
		return t, "", true
	}
	return time.Time{}, "", false
}

// eventUpdatedTime — время последнего изменения события;
// при отсутствии или нечитаемом значении — текущее время.
func eventUpdatedTime(ev *calclient.Event) time.Time {
	t, err := time.Parse(time.RFC3339, ev.Updated)
	if err != nil {
		return time.Now()
	}
	return t
}
