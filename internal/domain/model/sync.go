package model

import "time"

// ProcessResult — результат одного прохода процессора задач.
type ProcessResult struct {
	// Scanned — количество просмотренных записей
	Scanned int `json:"scanned"`
	// Processed — количество обработанных ожидающих записей
	Processed int `json:"processed"`
	// Succeeded — успешно завершённых операций
	Succeeded int `json:"succeeded"`
	// Failed — записей, переведённых в статус «ошибка»
	Failed int `json:"failed"`
	// LimitReached — достигнут ли лимит обработки за проход
	LimitReached bool `json:"limit_reached"`
	// StartedAt — время начала прохода
	StartedAt time.Time `json:"started_at"`
	// CompletedAt — время завершения прохода
	CompletedAt time.Time `json:"completed_at"`
}

// SyncResult — результат одного прохода синхронизации календарей.
type SyncResult struct {
	// Calendars — количество обработанных календарей
	Calendars int `json:"calendars"`
	// Events — количество полученных из календарей событий
	Events int `json:"events"`
	// Updated — записей, обновлённых по данным событий
	Updated int `json:"updated"`
	// Deleted — записей, помеченных как удалённые из календаря
	Deleted int `json:"deleted"`
	// Transfers — выполненных переносов исполнителя (из календаря)
	Transfers int `json:"transfers"`
	// CursorResets — восстановлений после истёкшего sync-токена
	CursorResets int `json:"cursor_resets"`
	// SoftErrors — мягкие сбои (обработка маркеров, аннотации описаний),
	// не прервавшие синхронизацию. Доступны для ассертов в тестах.
	SoftErrors []string `json:"soft_errors,omitempty"`
	// StartedAt — время начала прохода
	StartedAt time.Time `json:"started_at"`
	// CompletedAt — время завершения прохода
	CompletedAt time.Time `json:"completed_at"`
}
