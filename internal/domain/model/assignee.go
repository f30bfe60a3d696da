package model

import (
	"time"

	"github.com/google/uuid"
)

// Assignee — мастер-данные исполнителя выездов.
// Связывает имя исполнителя с идентификатором его календаря.
type Assignee struct {
	// Уникальный идентификатор
	ID uuid.UUID `json:"id"`
	// Имя исполнителя, как оно пишется в записях и маркерах передачи
	Name string `json:"name"`
	// Идентификатор календаря исполнителя в Calendar Service
	CalendarID string `json:"calendar_id"`
	// Активен ли исполнитель (неактивные не участвуют в резолвинге)
	Active bool `json:"active"`
	// Время создания
	CreatedAt time.Time `json:"created_at"`
	// Время последнего обновления
	UpdatedAt time.Time `json:"updated_at"`
}
