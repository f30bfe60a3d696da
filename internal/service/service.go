// Пакет service — бизнес-логика Pickup Module: процессор задач,
// синхронизация календарей и протокол передачи исполнителю.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/arturkryukov/pickup-module/internal/calclient"
	"github.com/arturkryukov/pickup-module/internal/domain/model"
)

// CalendarClient — операции Calendar Service, используемые сервисами.
// Реализуется calclient.Client; в тестах подменяется фейком.
type CalendarClient interface {
	Get(ctx context.Context, calendarID, eventID string) (*calclient.Event, error)
	Insert(ctx context.Context, calendarID string, event *calclient.Event) (*calclient.Event, error)
	Patch(ctx context.Context, calendarID, eventID string, event *calclient.Event) (*calclient.Event, error)
	Delete(ctx context.Context, calendarID, eventID string) error
	List(ctx context.Context, calendarID string, opts calclient.ListOptions) (*calclient.EventList, error)
}

// AssigneeResolver — резолвинг исполнителей по справочнику.
// Реализуется assignees.Service.
type AssigneeResolver interface {
	// ResolveCalendarID возвращает календарь по имени, пустая строка — не найден.
	ResolveCalendarID(ctx context.Context, name string) (string, error)
	// ResolveName возвращает имя по календарю, пустая строка — не найден.
	ResolveName(ctx context.Context, calendarID string) (string, error)
}

// RunGuard — защита от параллельных запусков.
// Реализуется runlock.Guard.
type RunGuard interface {
	Run(ctx context.Context, name string, key int64, fn func(ctx context.Context) error) error
}

// updatedBy — значение поля updated_by при изменениях, сделанных модулем.
const updatedBy = "pickup-module"

// stampUpdate проставляет метаданные последнего обновления записи.
func stampUpdate(rec *model.Record, source string) {
	now := time.Now()
	rec.UpdatedAtMeta = &now
	rec.UpdatedBy = updatedBy
	rec.UpdateSource = source
}

// stampDeletion проставляет метаданные отмены записи.
func stampDeletion(rec *model.Record, at time.Time, source string) {
	rec.DeletedAtMeta = &at
	rec.DeleteSource = source
}

// mergeDateTime совмещает дату и время "HH:MM" в один момент времени.
func mergeDateTime(date time.Time, hhmm string) (time.Time, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(hhmm))
	if err != nil {
		return time.Time{}, fmt.Errorf("некорректное время %q: %w", hhmm, err)
	}
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, time.Local), nil
}

// normalizeEventID приводит id события к канонической форме:
// убирает доменный суффикс (без учёта регистра) и пробелы по краям.
func normalizeEventID(id, suffix string) string {
	id = strings.TrimSpace(id)
	if suffix != "" && len(id) > len(suffix) {
		if strings.EqualFold(id[len(id)-len(suffix):], suffix) {
			id = id[:len(id)-len(suffix)]
		}
	}
	return id
}
