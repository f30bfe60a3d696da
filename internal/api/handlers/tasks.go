// tasks.go — внешние триггеры фоновых проходов.
// POST /api/v1/tasks/run — проход процессора задач,
// POST /api/v1/sync/run — проход синхронизации календарей.
//
// Проходы защищены локом от параллельных запусков: если лок занят
// (уже идёт проход по тикеру или другому запросу), возвращается
// 200 c {"skipped": true} — это штатная ситуация, не ошибка.
package handlers

import (
	"errors"
	"net/http"

	apierrors "github.com/arturkryukov/pickup-module/internal/api/errors"
	"github.com/arturkryukov/pickup-module/internal/runlock"
)

// skippedResponse — ответ при занятом локе.
type skippedResponse struct {
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason"`
}

// RunTasks — POST /api/v1/tasks/run.
// Запускает один проход процессора и возвращает его результат.
func (h *APIHandler) RunTasks(w http.ResponseWriter, r *http.Request) {
	result, err := h.processor.Run(r.Context())
	if err != nil {
		if errors.Is(err, runlock.ErrBusy) {
			writeJSON(w, http.StatusOK, skippedResponse{
				Skipped: true,
				Reason:  "проход процессора уже выполняется",
			})
			return
		}
		h.logger.Error("Ошибка прохода процессора", "error", err)
		apierrors.InternalError(w, "Ошибка прохода процессора задач")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// RunSync — POST /api/v1/sync/run.
// Запускает один проход синхронизации и возвращает его результат.
func (h *APIHandler) RunSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.syncer.Run(r.Context())
	if err != nil {
		if errors.Is(err, runlock.ErrBusy) {
			writeJSON(w, http.StatusOK, skippedResponse{
				Skipped: true,
				Reason:  "проход синхронизации уже выполняется",
			})
			return
		}
		h.logger.Error("Ошибка прохода синхронизации", "error", err)
		apierrors.InternalError(w, "Ошибка прохода синхронизации")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
