// records.go — обработчики /api/v1/records endpoints.
// CRUD по реестру заявок и операторские действия: регистрация,
// обновление, отмена, откладывание, смена исполнителя, сброс статуса.
//
// Действия не трогают календарь напрямую: они переводят запись
// в ожидающий статус, который подхватывает процессор задач.
// Вся валидация действий выполняется синхронно, до смены статуса.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/arturkryukov/pickup-module/internal/api/errors"
	"github.com/arturkryukov/pickup-module/internal/domain/model"
	"github.com/arturkryukov/pickup-module/internal/domain/status"
	"github.com/arturkryukov/pickup-module/internal/repository"
	"github.com/arturkryukov/pickup-module/internal/service"
)

// recordCreateRequest — тело POST /api/v1/records.
type recordCreateRequest struct {
	Category        string `json:"category" validate:"omitempty,oneof=regular spot_clinic spot_dealer"`
	CustomerName    string `json:"customer_name" validate:"required,max=255"`
	PostalCode      string `json:"postal_code" validate:"omitempty,max=16"`
	Address         string `json:"address" validate:"omitempty,max=512"`
	ContactName     string `json:"contact_name" validate:"omitempty,max=255"`
	Phone           string `json:"phone" validate:"omitempty,max=32"`
	Notes           string `json:"notes"`
	Area            string `json:"area" validate:"omitempty,max=255"`
	Assignee        string `json:"assignee" validate:"omitempty,max=255"`
	ScheduledDate   string `json:"scheduled_date" validate:"omitempty,datetime=2006-01-02"`
	StartTime       string `json:"start_time" validate:"omitempty,datetime=15:04"`
	EndTime         string `json:"end_time" validate:"omitempty,datetime=15:04"`
	BlockedWeekdays string `json:"blocked_weekdays" validate:"omitempty,max=64"`
}

// recordUpdateRequest — тело PUT /api/v1/records/{id}.
// Обновляет данные заявки; статус, исполнитель и связка с календарём
// меняются отдельными действиями.
type recordUpdateRequest struct {
	Category        string `json:"category" validate:"omitempty,oneof=regular spot_clinic spot_dealer"`
	CustomerName    string `json:"customer_name" validate:"required,max=255"`
	PostalCode      string `json:"postal_code" validate:"omitempty,max=16"`
	Address         string `json:"address" validate:"omitempty,max=512"`
	ContactName     string `json:"contact_name" validate:"omitempty,max=255"`
	Phone           string `json:"phone" validate:"omitempty,max=32"`
	Notes           string `json:"notes"`
	Area            string `json:"area" validate:"omitempty,max=255"`
	ScheduledDate   string `json:"scheduled_date" validate:"omitempty,datetime=2006-01-02"`
	StartTime       string `json:"start_time" validate:"omitempty,datetime=15:04"`
	EndTime         string `json:"end_time" validate:"omitempty,datetime=15:04"`
	BlockedWeekdays string `json:"blocked_weekdays" validate:"omitempty,max=64"`
}

// recordListResponse — ответ GET /api/v1/records.
type recordListResponse struct {
	Items   []*model.Record `json:"items"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
	HasMore bool            `json:"has_more"`
}

// parseScheduledDate разбирает дату "2006-01-02" в местной тайм-зоне.
func parseScheduledDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return nil
	}
	return &t
}

// recordByID загружает запись по path-параметру id.
// При ошибке пишет ответ и возвращает nil.
func (h *APIHandler) recordByID(w http.ResponseWriter, r *http.Request) *model.Record {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.ValidationError(w, "Некорректный идентификатор записи")
		return nil
	}

	rec, err := h.records.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.NotFound(w, "Запись не найдена")
			return nil
		}
		h.logger.Error("Ошибка получения записи", "record_id", id, "error", err)
		apierrors.InternalError(w, "Ошибка получения записи")
		return nil
	}
	return rec
}

// CreateRecord — POST /api/v1/records.
// Создаёт заявку в статусе «не обработано».
func (h *APIHandler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	var req recordCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		apierrors.ValidationError(w, "Ошибка валидации: "+err.Error())
		return
	}

	rec := &model.Record{
		Category:        req.Category,
		Status:          status.Unhandled,
		CustomerName:    req.CustomerName,
		PostalCode:      req.PostalCode,
		Address:         req.Address,
		ContactName:     req.ContactName,
		Phone:           req.Phone,
		Notes:           req.Notes,
		Area:            req.Area,
		Assignee:        req.Assignee,
		ScheduledDate:   parseScheduledDate(req.ScheduledDate),
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		BlockedWeekdays: req.BlockedWeekdays,
	}

	if err := h.records.Create(r.Context(), rec); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			apierrors.Conflict(w, err.Error())
			return
		}
		h.logger.Error("Ошибка создания записи", "error", err)
		apierrors.InternalError(w, "Ошибка создания записи")
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// ListRecords — GET /api/v1/records.
// Фильтры: status, category, assignee; пагинация limit/offset.
func (h *APIHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationDefaults(r)

	var filters repository.RecordListFilters
	q := r.URL.Query()
	if v := q.Get("status"); v != "" {
		if _, err := status.Parse(v); err != nil {
			apierrors.ValidationError(w, err.Error())
			return
		}
		filters.Status = &v
	}
	if v := q.Get("category"); v != "" {
		filters.Category = &v
	}
	if v := q.Get("assignee"); v != "" {
		filters.Assignee = &v
	}

	items, err := h.records.List(r.Context(), filters, limit, offset)
	if err != nil {
		h.logger.Error("Ошибка получения списка записей", "error", err)
		apierrors.InternalError(w, "Ошибка получения списка записей")
		return
	}

	total, err := h.records.Count(r.Context(), filters)
	if err != nil {
		h.logger.Error("Ошибка подсчёта записей", "error", err)
		apierrors.InternalError(w, "Ошибка подсчёта записей")
		return
	}

	if items == nil {
		items = []*model.Record{}
	}
	writeJSON(w, http.StatusOK, recordListResponse{
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	})
}

// GetRecord — GET /api/v1/records/{id}.
func (h *APIHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	rec := h.recordByID(w, r)
	if rec == nil {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// UpdateRecord — PUT /api/v1/records/{id}.
// Обновляет данные заявки без смены статуса.
func (h *APIHandler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	rec := h.recordByID(w, r)
	if rec == nil {
		return
	}

	var req recordUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		apierrors.ValidationError(w, "Ошибка валидации: "+err.Error())
		return
	}

	if req.Category != "" {
		rec.Category = req.Category
	}
	rec.CustomerName = req.CustomerName
	rec.PostalCode = req.PostalCode
	rec.Address = req.Address
	rec.ContactName = req.ContactName
	rec.Phone = req.Phone
	rec.Notes = req.Notes
	rec.Area = req.Area
	rec.ScheduledDate = parseScheduledDate(req.ScheduledDate)
	rec.StartTime = req.StartTime
	rec.EndTime = req.EndTime
	rec.BlockedWeekdays = req.BlockedWeekdays
	h.stampActor(rec, r)

	if err := h.records.Update(r.Context(), rec); err != nil {
		h.logger.Error("Ошибка обновления записи", "record_id", rec.ID, "error", err)
		apierrors.InternalError(w, "Ошибка обновления записи")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// RegisterRecord — POST /api/v1/records/{id}/register.
// Проверяет готовность заявки и переводит её в статус «к регистрации».
// Повторная регистрация связанной записи отклоняется синхронно.
func (h *APIHandler) RegisterRecord(w http.ResponseWriter, r *http.Request) {
	rec := h.recordByID(w, r)
	if rec == nil {
		return
	}

	if !status.CanRequest(rec.Status, status.CalendarRegister) {
		apierrors.Conflict(w, "Регистрация недоступна: запись уже ожидает обработки другой операции")
		return
	}
	if rec.CalendarEventID != "" {
		apierrors.Conflict(w, "Запись уже связана с событием календаря, повторная регистрация невозможна")
		return
	}
	if err := service.ValidateForRegister(rec); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	rec.Status = status.CalendarRegister
	h.setStatusAndRespond(w, r, rec)
}

// RefreshRecord — POST /api/v1/records/{id}/refresh.
// Переводит связанную запись в статус «к обновлению».
func (h *APIHandler) RefreshRecord(w http.ResponseWriter, r *http.Request) {
	rec := h.recordByID(w, r)
	if rec == nil {
		return
	}

	if !status.CanRequest(rec.Status, status.ResyncRegister) {
		apierrors.Conflict(w, "Обновление недоступно из текущего статуса")
		return
	}
	if rec.CalendarEventID == "" {
		apierrors.Conflict(w, "Запись не связана с событием календаря: сначала выполните регистрацию")
		return
	}

	rec.Status = status.ResyncRegister
	h.setStatusAndRespond(w, r, rec)
}

// CancelRecord — POST /api/v1/records/{id}/cancel.
// Связанная запись уходит в «к отмене» (событие удалит процессор);
// несвязанная отменяется сразу, без обращения к календарю.
func (h *APIHandler) CancelRecord(w http.ResponseWriter, r *http.Request) {
	rec := h.recordByID(w, r)
	if rec == nil {
		return
	}

	if !status.CanRequest(rec.Status, status.CancelRegister) {
		apierrors.Conflict(w, "Отмена недоступна из текущего статуса")
		return
	}
	if rec.CalendarEventID == "" {
		rec.Status = status.CancelComplete
		now := time.Now()
		rec.DeletedAtMeta = &now
		rec.DeleteSource = model.SourceRecord
	} else {
		rec.Status = status.CancelRegister
	}
	h.setStatusAndRespond(w, r, rec)
}

// HoldRecord — POST /api/v1/records/{id}/hold.
// Откладывает заявку: процессор её не трогает.
func (h *APIHandler) HoldRecord(w http.ResponseWriter, r *http.Request) {
	rec := h.recordByID(w, r)
	if rec == nil {
		return
	}

	rec.Status = status.Hold
	h.setStatusAndRespond(w, r, rec)
}

// assigneeChangeRequest — тело PUT /api/v1/records/{id}/assignee.
type assigneeChangeRequest struct {
	Assignee string `json:"assignee" validate:"required,max=255"`
}

// ChangeAssignee — PUT /api/v1/records/{id}/assignee.
// Меняет исполнителя заявки. Связанная запись уходит в статус
// «к смене исполнителя»: событие перенесёт процессор.
func (h *APIHandler) ChangeAssignee(w http.ResponseWriter, r *http.Request) {
	rec := h.recordByID(w, r)
	if rec == nil {
		return
	}

	var req assigneeChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		apierrors.ValidationError(w, "Ошибка валидации: "+err.Error())
		return
	}

	if !status.CanRequest(rec.Status, status.AssigneeChangeRegister) {
		apierrors.Conflict(w, "Смена исполнителя недоступна из текущего статуса")
		return
	}
	rec.Assignee = req.Assignee
	if rec.CalendarEventID != "" {
		rec.Status = status.AssigneeChangeRegister
	}
	h.setStatusAndRespond(w, r, rec)
}

// statusResetRequest — тело POST /api/v1/records/{id}/status.
type statusResetRequest struct {
	Status string `json:"status" validate:"required"`
}

// SetRecordStatus — POST /api/v1/records/{id}/status.
// Ручная установка статуса: сброс «ошибки» для повторной обработки.
// Матрица допустимых запросов здесь не применяется: это явный ручной
// сброс, допускающий любой валидный статус.
func (h *APIHandler) SetRecordStatus(w http.ResponseWriter, r *http.Request) {
	rec := h.recordByID(w, r)
	if rec == nil {
		return
	}

	var req statusResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	st, err := status.Parse(req.Status)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	rec.Status = st
	h.setStatusAndRespond(w, r, rec)
}

// stampActor проставляет метаданные обновления от имени API-пользователя.
func (h *APIHandler) stampActor(rec *model.Record, r *http.Request) {
	now := time.Now()
	rec.UpdatedAtMeta = &now
	rec.UpdatedBy = actor(r)
	rec.UpdateSource = model.SourceRecord
}

// setStatusAndRespond сохраняет запись после смены статуса и пишет ответ.
func (h *APIHandler) setStatusAndRespond(w http.ResponseWriter, r *http.Request, rec *model.Record) {
	h.stampActor(rec, r)
	if err := h.records.Update(r.Context(), rec); err != nil {
		h.logger.Error("Ошибка обновления записи", "record_id", rec.ID, "error", err)
		apierrors.InternalError(w, "Ошибка обновления записи")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
