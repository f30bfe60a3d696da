// Пакет model — доменные модели Pickup Module.
package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/arturkryukov/pickup-module/internal/domain/status"
)

// Источники последнего обновления записи.
const (
	// SourceRecord — изменение выполнено со стороны реестра (оператор, процессор).
	SourceRecord = "record"
	// SourceCalendar — изменение пришло из календаря (синхронизация, перенос).
	SourceCalendar = "calendar"
)

// Категории заявок. Определяют тип заявки и канал уведомлений.
const (
	CategoryRegular    = "regular"
	CategorySpotClinic = "spot_clinic"
	CategorySpotDealer = "spot_dealer"
)

// Record — одна заявка на вывоз в реестре (таблица pickup_records).
// Записи никогда не удаляются физически: отмена — смена статуса.
type Record struct {
	ID       uuid.UUID     `json:"id"`
	Category string        `json:"category"`
	Status   status.Status `json:"status"`

	// Данные клиента (используются в заголовке/описании/локации события).
	CustomerName string `json:"customer_name"`
	PostalCode   string `json:"postal_code,omitempty"`
	Address      string `json:"address,omitempty"`
	ContactName  string `json:"contact_name,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Notes        string `json:"notes,omitempty"`

	// Планирование.
	Area          string     `json:"area"`
	Assignee      string     `json:"assignee"`
	ScheduledDate *time.Time `json:"scheduled_date,omitempty"`
	// StartTime/EndTime — время в формате "HH:MM".
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
	// BlockedWeekdays — дни недели, когда вывоз невозможен (CSV: mon,tue,...).
	// Проверяется при регистрации только для категории regular.
	BlockedWeekdays string `json:"blocked_weekdays,omitempty"`

	// Связка с календарём. Инвариант: либо оба поля заданы, либо оба пусты.
	CalendarID      string `json:"calendar_id,omitempty"`
	CalendarEventID string `json:"calendar_event_id,omitempty"`

	// Метаданные последнего обновления.
	UpdatedAtMeta *time.Time `json:"updated_at_meta,omitempty"`
	UpdatedBy     string     `json:"updated_by,omitempty"`
	UpdateSource  string     `json:"update_source,omitempty"`

	// Метаданные отмены (ставятся при отмене, источник — record или calendar).
	DeletedAtMeta *time.Time `json:"deleted_at_meta,omitempty"`
	DeleteSource  string     `json:"delete_source,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsLinked возвращает true, если запись связана с событием календаря.
func (r *Record) IsLinked() bool {
	return r.CalendarEventID != "" && r.CalendarID != ""
}

// HasSchedule возвращает true, если заданы дата и оба времени.
func (r *Record) HasSchedule() bool {
	return r.ScheduledDate != nil && r.StartTime != "" && r.EndTime != ""
}
