// Пакет status — статусная модель заявки на вывоз.
//
// Две группы статусов:
//   - квиесцентные — запись не требует действий процессора;
//   - ожидающие (pending) — запись поставлена в очередь на обработку
//     (выставляются оператором или детектором правок, снимаются процессором).
//
// Значения статусов — строки, которые видят операторы в реестре,
// поэтому они заданы по-русски и фиксированы.
package status

import "fmt"

// Status — статус заявки в реестре.
type Status string

const (
	// Unhandled — новая заявка, ещё не обработана оператором.
	Unhandled Status = "не обработано"
	// Hold — заявка отложена оператором.
	Hold Status = "отложено"
	// CalendarRegister — оператор запросил регистрацию в календаре.
	CalendarRegister Status = "к регистрации"
	// CalendarComplete — событие создано, запись синхронна с календарём.
	CalendarComplete Status = "в календаре"
	// ResyncRegister — оператор запросил обновление события.
	ResyncRegister Status = "к обновлению"
	// ResyncComplete — событие обновлено из реестра.
	ResyncComplete Status = "обновлено"
	// CancelRegister — оператор запросил отмену.
	CancelRegister Status = "к отмене"
	// CancelComplete — заявка отменена со стороны реестра.
	CancelComplete Status = "отменено"
	// CalendarDeleted — событие удалено напрямую в календаре.
	CalendarDeleted Status = "удалено из календаря"
	// AssigneeChangeRegister — исполнитель изменён в реестре, требуется перенос события.
	AssigneeChangeRegister Status = "к смене исполнителя"
	// AssigneeChangedFromCalendar — исполнитель изменён через календарь.
	AssigneeChangedFromCalendar Status = "исполнитель изменён из календаря"
	// Error — обработка завершилась ошибкой; до ручного сброса запись пропускается.
	Error Status = "ошибка"
)

// pendingCompletions — таблица переходов процессора:
// ожидающий статус → статус после успешной обработки.
var pendingCompletions = map[Status]Status{
	CalendarRegister:       CalendarComplete,
	ResyncRegister:         ResyncComplete,
	CancelRegister:         CancelComplete,
	AssigneeChangeRegister: ResyncComplete,
}

// all — множество допустимых статусов.
var all = map[Status]bool{
	Unhandled:                   true,
	Hold:                        true,
	CalendarRegister:            true,
	CalendarComplete:            true,
	ResyncRegister:              true,
	ResyncComplete:              true,
	CancelRegister:              true,
	CancelComplete:              true,
	CalendarDeleted:             true,
	AssigneeChangeRegister:      true,
	AssigneeChangedFromCalendar: true,
	Error:                       true,
}

// IsValid проверяет, является ли значение допустимым статусом.
func (s Status) IsValid() bool {
	return all[s]
}

// IsPending возвращает true для статусов, ожидающих обработки процессором.
func (s Status) IsPending() bool {
	_, ok := pendingCompletions[s]
	return ok
}

// IsCancelled возвращает true для терминальных статусов отмены.
func (s Status) IsCancelled() bool {
	return s == CancelComplete || s == CalendarDeleted
}

// Completion возвращает статус после успешной обработки ожидающего статуса.
// Для не-pending статусов возвращает ("", false).
func (s Status) Completion() (Status, bool) {
	next, ok := pendingCompletions[s]
	return next, ok
}

// CanRequest сообщает, допустим ли запрос оператора на перевод записи
// из статуса current в ожидающий статус target. Регистрация доступна
// только из квиесцентных статусов: пока в очереди висит другая
// операция, регистрация не ставится. Обновление, отмена и смена
// исполнителя запрашиваются из любого статуса. Целевые статусы вне
// таблицы переходов процессора оператором не запрашиваются — их
// выставляет только ручной сброс.
func CanRequest(current, target Status) bool {
	switch target {
	case CalendarRegister:
		return !current.IsPending()
	case ResyncRegister, CancelRegister, AssigneeChangeRegister:
		return true
	default:
		return false
	}
}

// Parse преобразует строку в Status.
// Возвращает ошибку для недопустимых значений.
func Parse(s string) (Status, error) {
	st := Status(s)
	if !st.IsValid() {
		return "", fmt.Errorf("недопустимый статус: %q", s)
	}
	return st, nil
}

// Pending возвращает список ожидающих статусов (в порядке обработки процессором).
func Pending() []Status {
	return []Status{CalendarRegister, ResyncRegister, CancelRegister, AssigneeChangeRegister}
}
