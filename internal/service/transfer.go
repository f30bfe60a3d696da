// transfer.go — протокол передачи записи другому исполнителю.
//
// Передача — это перенос события между календарями исполнителей:
// копия события создаётся в календаре нового исполнителя, оригинал
// удаляется, связка (calendar_id, calendar_event_id) в записи
// переписывается на копию. Вставка всегда предшествует удалению:
// при сбое удаления остаётся дубликат, а не потеря события.
//
// Два входа в протокол:
//   - со стороны реестра: оператор меняет исполнителя у записи и
//     ставит статус «к смене исполнителя» (handleRecordDriven);
//   - со стороны календаря: исполнитель вписывает имя в маркер
//     передачи в описании события (handleCalendarDriven).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/arturkryukov/pickup-module/internal/calclient"
	"github.com/arturkryukov/pickup-module/internal/domain/model"
	"github.com/arturkryukov/pickup-module/internal/domain/status"
	"github.com/arturkryukov/pickup-module/internal/notifier"
	"github.com/arturkryukov/pickup-module/internal/repository"
)

// transferrer — общий механизм передачи для процессора и синхронизации.
type transferrer struct {
	records  repository.RecordRepository
	calendar CalendarClient
	resolver AssigneeResolver
	notifier notifier.Notifier
	logger   *slog.Logger
}

// move переносит событие ev из календаря fromCal в календарь toCal
// нового исполнителя newName и переписывает связку в записи.
// Поля записи (статус, исполнитель), выставленные вызывающим до move,
// сохраняются тем же Update.
//
// Сбой удаления оригинала после успешной вставки — жёсткая ошибка:
// связка записи остаётся на оригинале, в календаре нового исполнителя
// остаётся дубликат, который убирают вручную.
func (t *transferrer) move(ctx context.Context, rec *model.Record, ev *calclient.Event, fromCal, toCal, newName string) error {
	copyEvent := &calclient.Event{
		Summary:         ev.Summary,
		Location:        ev.Location,
		Description:     annotateMarker(ev.Description, newName, markerProcessed),
		Start:           ev.Start,
		End:             ev.End,
		GuestsCanModify: true,
	}

	inserted, err := t.calendar.Insert(ctx, toCal, copyEvent)
	if err != nil {
		return fmt.Errorf("создание копии события в календаре %s: %w", toCal, err)
	}

	if err := t.calendar.Delete(ctx, fromCal, rec.CalendarEventID); err != nil && !errors.Is(err, calclient.ErrNotFound) {
		return fmt.Errorf("удаление оригинала из календаря %s (в календаре %s остался дубликат %s): %w",
			fromCal, toCal, inserted.ID, err)
	}

	rec.CalendarID = toCal
	rec.CalendarEventID = inserted.ID
	stampUpdate(rec, model.SourceCalendar)
	if err := t.records.Update(ctx, rec); err != nil {
		return fmt.Errorf("сохранение новой связки записи: %w", err)
	}

	t.logger.Info("Событие передано другому исполнителю",
		slog.String("record_id", rec.ID.String()),
		slog.String("from_calendar", fromCal),
		slog.String("to_calendar", toCal),
		slog.String("assignee", newName),
	)
	return nil
}

// handleRecordDriven выполняет передачу, инициированную из реестра:
// поле исполнителя записи уже содержит нового исполнителя.
// По завершении запись переходит в статус «обновлено».
func (t *transferrer) handleRecordDriven(ctx context.Context, rec *model.Record) error {
	newName := strings.TrimSpace(rec.Assignee)
	if newName == "" {
		return errors.New("у записи не задан исполнитель")
	}

	if !rec.IsLinked() {
		return errors.New("запись не связана с событием календаря")
	}

	toCal, err := t.resolver.ResolveCalendarID(ctx, newName)
	if err != nil {
		return fmt.Errorf("резолвинг исполнителя %q: %w", newName, err)
	}
	if toCal == "" {
		return fmt.Errorf("исполнитель %q не найден в справочнике", newName)
	}

	rec.Status = status.ResyncComplete

	// Календарь не изменился — переносить нечего
	if toCal == rec.CalendarID {
		stampUpdate(rec, model.SourceRecord)
		return t.records.Update(ctx, rec)
	}

	ev, err := t.calendar.Get(ctx, rec.CalendarID, rec.CalendarEventID)
	if err != nil {
		return fmt.Errorf("получение события %s: %w", rec.CalendarEventID, err)
	}

	fromCal := rec.CalendarID
	if err := t.move(ctx, rec, ev, fromCal, toCal, newName); err != nil {
		return err
	}

	t.notifier.Notify(ctx, rec.Category, notifier.KindTransfer, fmt.Sprintf(
		"Заявка передана исполнителю %s.\nКлиент: %s\nЗапись: %s",
		newName, rec.CustomerName, rec.ID))
	return nil
}

// handleCalendarDriven обрабатывает маркер передачи в описании события.
// Возвращает true, если событие обработано как передача и сверка
// времени для него не нужна. Ошибка — мягкая: логируется вызывающим
// и не прерывает синхронизацию.
func (t *transferrer) handleCalendarDriven(ctx context.Context, rec *model.Record, ev *calclient.Event, calendarID string) (bool, error) {
	m := parseTransferMarker(ev.Description)
	if m == nil || m.Annotated || m.Name == "" {
		return false, nil
	}

	toCal, err := t.resolver.ResolveCalendarID(ctx, m.Name)
	if err != nil {
		return false, fmt.Errorf("резолвинг исполнителя %q: %w", m.Name, err)
	}

	if toCal == "" {
		// Имя не найдено: аннотируем маркер ошибкой, передачи нет
		t.annotate(ctx, calendarID, ev, m.Name, markerError)
		return false, fmt.Errorf("исполнитель %q из маркера не найден в справочнике", m.Name)
	}

	if toCal == calendarID {
		// Событие уже в календаре этого исполнителя
		t.annotate(ctx, calendarID, ev, m.Name, markerProcessed)
		return false, nil
	}

	prevAssignee, prevStatus := rec.Assignee, rec.Status
	rec.Assignee = m.Name
	rec.Status = status.AssigneeChangedFromCalendar
	if err := t.move(ctx, rec, ev, calendarID, toCal, m.Name); err != nil {
		// Перенос не состоялся: запись возвращается в исходное
		// состояние, маркер аннотируется ошибкой, чтобы следующий
		// проход не создал второй дубликат
		rec.Assignee, rec.Status = prevAssignee, prevStatus
		t.annotate(ctx, calendarID, ev, m.Name, markerError)
		return false, err
	}

	t.notifier.Notify(ctx, rec.Category, notifier.KindTransfer, fmt.Sprintf(
		"Заявка передана исполнителю %s (из календаря).\nКлиент: %s\nЗапись: %s",
		m.Name, rec.CustomerName, rec.ID))
	return true, nil
}

// annotate переписывает маркер в описании события с аннотацией.
// Сбой аннотации только логируется.
func (t *transferrer) annotate(ctx context.Context, calendarID string, ev *calclient.Event, name, annotation string) {
	patch := &calclient.Event{Description: annotateMarker(ev.Description, name, annotation)}
	if _, err := t.calendar.Patch(ctx, calendarID, ev.ID, patch); err != nil {
		t.logger.Warn("Не удалось аннотировать маркер передачи",
			slog.String("calendar_id", calendarID),
			slog.String("event_id", ev.ID),
			slog.String("error", err.Error()),
		)
	}
}
