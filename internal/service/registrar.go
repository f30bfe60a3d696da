// registrar.go — операции процессора над календарём: регистрация,
// обновление и отмена события по заявке.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arturkryukov/pickup-module/internal/calclient"
	"github.com/arturkryukov/pickup-module/internal/domain/model"
	"github.com/arturkryukov/pickup-module/internal/domain/status"
	"github.com/arturkryukov/pickup-module/internal/notifier"
)

// weekdayTokens — обозначения дней недели в поле blocked_weekdays.
var weekdayTokens = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// ValidateForRegister проверяет, что заявка готова к регистрации
// в календаре: заполнены дата, время, исполнитель и район, а для
// регулярных заявок дата не выпадает на запрещённый день недели.
func ValidateForRegister(rec *model.Record) error {
	if !rec.HasSchedule() {
		return errors.New("для регистрации нужны дата, время начала и время окончания")
	}
	if strings.TrimSpace(rec.Assignee) == "" {
		return errors.New("для регистрации нужен исполнитель")
	}
	if strings.TrimSpace(rec.Area) == "" {
		return errors.New("для регистрации нужен район")
	}
	return checkBlockedWeekday(rec)
}

// checkBlockedWeekday проверяет дату регулярной заявки по списку
// запрещённых дней недели. Для разовых заявок проверка не выполняется.
func checkBlockedWeekday(rec *model.Record) error {
	if rec.Category != model.CategoryRegular || rec.BlockedWeekdays == "" || rec.ScheduledDate == nil {
		return nil
	}
	day := rec.ScheduledDate.Weekday()
	for _, tok := range strings.Split(rec.BlockedWeekdays, ",") {
		if wd, ok := weekdayTokens[strings.ToLower(strings.TrimSpace(tok))]; ok && wd == day {
			return fmt.Errorf("дата %s выпадает на запрещённый день недели (%s)",
				rec.ScheduledDate.Format("02.01.2006"), strings.TrimSpace(tok))
		}
	}
	return nil
}

// buildEventTitle — заголовок события: клиент и район.
func buildEventTitle(rec *model.Record) string {
	return fmt.Sprintf("Вывоз: %s (%s)", rec.CustomerName, rec.Area)
}

// buildEventLocation — адрес события с индексом, если он задан.
func buildEventLocation(rec *model.Record) string {
	if rec.PostalCode != "" && rec.Address != "" {
		return fmt.Sprintf("%s, %s", rec.PostalCode, rec.Address)
	}
	if rec.Address != "" {
		return rec.Address
	}
	return rec.PostalCode
}

// buildEventDescription собирает описание события: сводка заявки,
// шаблон маркера передачи и служебный блок с идентификатором записи.
func buildEventDescription(rec *model.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Клиент: %s\n", rec.CustomerName)
	if loc := buildEventLocation(rec); loc != "" {
		fmt.Fprintf(&b, "Адрес: %s\n", loc)
	}
	if rec.ContactName != "" || rec.Phone != "" {
		fmt.Fprintf(&b, "Контакт: %s", rec.ContactName)
		if rec.Phone != "" {
			fmt.Fprintf(&b, ", тел. %s", rec.Phone)
		}
		b.WriteString("\n")
	}
	if rec.ScheduledDate != nil {
		fmt.Fprintf(&b, "Выезд: %s %s—%s\n",
			rec.ScheduledDate.Format("02.01.2006"), rec.StartTime, rec.EndTime)
	}
	if rec.Notes != "" {
		fmt.Fprintf(&b, "Примечания: %s\n", rec.Notes)
	}
	b.WriteString("\n")
	b.WriteString(emptyMarkerLine)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Запись: %s\n", rec.ID)
	fmt.Fprintf(&b, "Исполнитель: %s\n", rec.Assignee)
	return b.String()
}

// buildEventTimes — время начала и окончания события в формате RFC3339.
func buildEventTimes(rec *model.Record) (*calclient.EventTime, *calclient.EventTime, error) {
	start, err := mergeDateTime(*rec.ScheduledDate, rec.StartTime)
	if err != nil {
		return nil, nil, fmt.Errorf("время начала: %w", err)
	}
	end, err := mergeDateTime(*rec.ScheduledDate, rec.EndTime)
	if err != nil {
		return nil, nil, fmt.Errorf("время окончания: %w", err)
	}
	return &calclient.EventTime{DateTime: start.Format(time.RFC3339)},
		&calclient.EventTime{DateTime: end.Format(time.RFC3339)}, nil
}

// register создаёт событие в календаре исполнителя по заявке
// со статусом «к регистрации».
//
// Перед созданием повторно проверяется, что у записи ещё нет
// идентификатора события: защита от двойной регистрации при
// рассинхронизации статуса.
func (p *Processor) register(ctx context.Context, rec *model.Record) error {
	if rec.CalendarEventID != "" {
		return fmt.Errorf("запись уже связана с событием %s, повторная регистрация невозможна", rec.CalendarEventID)
	}
	if err := ValidateForRegister(rec); err != nil {
		return err
	}

	calendarID, err := p.resolver.ResolveCalendarID(ctx, rec.Assignee)
	if err != nil {
		return fmt.Errorf("резолвинг исполнителя %q: %w", rec.Assignee, err)
	}
	if calendarID == "" {
		return fmt.Errorf("исполнитель %q не найден в справочнике", rec.Assignee)
	}

	start, end, err := buildEventTimes(rec)
	if err != nil {
		return err
	}

	event := &calclient.Event{
		Summary:         buildEventTitle(rec),
		Location:        buildEventLocation(rec),
		Description:     buildEventDescription(rec),
		Start:           start,
		End:             end,
		GuestsCanModify: true,
	}

	inserted, err := p.calendar.Insert(ctx, calendarID, event)
	if err != nil {
		return fmt.Errorf("создание события в календаре %s: %w", calendarID, err)
	}

	rec.CalendarID = calendarID
	rec.CalendarEventID = inserted.ID
	rec.Status = status.CalendarComplete
	stampUpdate(rec, model.SourceRecord)
	if err := p.records.Update(ctx, rec); err != nil {
		return err
	}

	p.notifier.Notify(ctx, rec.Category, notifier.KindRegister, fmt.Sprintf(
		"Заявка зарегистрирована в календаре исполнителя %s.\nКлиент: %s\nВыезд: %s %s—%s\nЗапись: %s",
		rec.Assignee, rec.CustomerName,
		rec.ScheduledDate.Format("02.01.2006"), rec.StartTime, rec.EndTime, rec.ID))
	return nil
}

// resync обновляет время, описание и адрес уже созданного события
// по данным заявки со статусом «к обновлению».
func (p *Processor) resync(ctx context.Context, rec *model.Record) error {
	if !rec.IsLinked() {
		return errors.New("запись не связана с событием календаря")
	}
	if !rec.HasSchedule() {
		return errors.New("для обновления нужны дата, время начала и время окончания")
	}

	start, end, err := buildEventTimes(rec)
	if err != nil {
		return err
	}

	patch := &calclient.Event{
		Summary:     buildEventTitle(rec),
		Location:    buildEventLocation(rec),
		Description: buildEventDescription(rec),
		Start:       start,
		End:         end,
	}
	if _, err := p.calendar.Patch(ctx, rec.CalendarID, rec.CalendarEventID, patch); err != nil {
		return fmt.Errorf("обновление события %s: %w", rec.CalendarEventID, err)
	}

	rec.Status = status.ResyncComplete
	stampUpdate(rec, model.SourceRecord)
	return p.records.Update(ctx, rec)
}

// cancelTask удаляет событие из календаря и отмечает заявку отменённой.
// Уже удалённое событие ошибкой не считается. Запись с событием
// не связана — отмена сводится к смене статуса.
func (p *Processor) cancelTask(ctx context.Context, rec *model.Record) error {
	if rec.CalendarEventID != "" {
		err := p.calendar.Delete(ctx, rec.CalendarID, rec.CalendarEventID)
		if err != nil && !errors.Is(err, calclient.ErrNotFound) {
			return fmt.Errorf("удаление события %s: %w", rec.CalendarEventID, err)
		}
	}

	rec.CalendarID = ""
	rec.CalendarEventID = ""
	rec.Status = status.CancelComplete
	stampDeletion(rec, time.Now(), model.SourceRecord)
	stampUpdate(rec, model.SourceRecord)
	if err := p.records.Update(ctx, rec); err != nil {
		return err
	}

	p.notifier.Notify(ctx, rec.Category, notifier.KindCancel, fmt.Sprintf(
		"Заявка отменена, событие удалено из календаря.\nКлиент: %s\nЗапись: %s",
		rec.CustomerName, rec.ID))
	return nil
}
