// assignees.go — обработчики /api/v1/assignees endpoints.
// Управление справочником исполнителей. После каждого изменения
// сбрасывается кэш резолвинга, чтобы процессор и синхронизация
// сразу видели актуальный справочник.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/arturkryukov/pickup-module/internal/api/errors"
	"github.com/arturkryukov/pickup-module/internal/domain/model"
	"github.com/arturkryukov/pickup-module/internal/repository"
)

// assigneeRequest — тело POST и PUT /api/v1/assignees.
type assigneeRequest struct {
	Name       string `json:"name" validate:"required,max=255"`
	CalendarID string `json:"calendar_id" validate:"required,max=255"`
	Active     *bool  `json:"active"`
}

// assigneeListResponse — ответ GET /api/v1/assignees.
type assigneeListResponse struct {
	Items []*model.Assignee `json:"items"`
	Total int               `json:"total"`
}

// ListAssignees — GET /api/v1/assignees.
// ?active=true возвращает только активных исполнителей.
func (h *APIHandler) ListAssignees(w http.ResponseWriter, r *http.Request) {
	var (
		items []*model.Assignee
		err   error
	)
	if r.URL.Query().Get("active") == "true" {
		items, err = h.assignees.ListActive(r.Context())
	} else {
		items, err = h.assignees.List(r.Context())
	}
	if err != nil {
		h.logger.Error("Ошибка получения списка исполнителей", "error", err)
		apierrors.InternalError(w, "Ошибка получения списка исполнителей")
		return
	}

	if items == nil {
		items = []*model.Assignee{}
	}
	writeJSON(w, http.StatusOK, assigneeListResponse{Items: items, Total: len(items)})
}

// CreateAssignee — POST /api/v1/assignees.
func (h *APIHandler) CreateAssignee(w http.ResponseWriter, r *http.Request) {
	var req assigneeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		apierrors.ValidationError(w, "Ошибка валидации: "+err.Error())
		return
	}

	a := &model.Assignee{
		Name:       req.Name,
		CalendarID: req.CalendarID,
		Active:     true,
	}
	if req.Active != nil {
		a.Active = *req.Active
	}

	if err := h.assignees.Create(r.Context(), a); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			apierrors.Conflict(w, err.Error())
			return
		}
		h.logger.Error("Ошибка создания исполнителя", "error", err)
		apierrors.InternalError(w, "Ошибка создания исполнителя")
		return
	}

	h.resolver.Invalidate()
	writeJSON(w, http.StatusCreated, a)
}

// UpdateAssignee — PUT /api/v1/assignees/{id}.
func (h *APIHandler) UpdateAssignee(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.ValidationError(w, "Некорректный идентификатор исполнителя")
		return
	}

	var req assigneeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		apierrors.ValidationError(w, "Ошибка валидации: "+err.Error())
		return
	}

	a := &model.Assignee{
		ID:         id,
		Name:       req.Name,
		CalendarID: req.CalendarID,
		Active:     true,
	}
	if req.Active != nil {
		a.Active = *req.Active
	}

	if err := h.assignees.Update(r.Context(), a); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			apierrors.NotFound(w, "Исполнитель не найден")
		case errors.Is(err, repository.ErrConflict):
			apierrors.Conflict(w, err.Error())
		default:
			h.logger.Error("Ошибка обновления исполнителя", "assignee_id", id, "error", err)
			apierrors.InternalError(w, "Ошибка обновления исполнителя")
		}
		return
	}

	h.resolver.Invalidate()
	writeJSON(w, http.StatusOK, a)
}

// DeleteAssignee — DELETE /api/v1/assignees/{id}.
func (h *APIHandler) DeleteAssignee(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.ValidationError(w, "Некорректный идентификатор исполнителя")
		return
	}

	if err := h.assignees.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.NotFound(w, "Исполнитель не найден")
			return
		}
		h.logger.Error("Ошибка удаления исполнителя", "assignee_id", id, "error", err)
		apierrors.InternalError(w, "Ошибка удаления исполнителя")
		return
	}

	h.resolver.Invalidate()
	w.WriteHeader(http.StatusNoContent)
}
