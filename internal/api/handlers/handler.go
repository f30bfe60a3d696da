// handler.go — основной обработчик HTTP API Pickup Module.
// Объединяет доменные обработчики (записи, исполнители, триггеры)
// и делегирует запросы в репозитории и сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/arturkryukov/pickup-module/internal/api/middleware"
	"github.com/arturkryukov/pickup-module/internal/assignees"
	"github.com/arturkryukov/pickup-module/internal/domain/model"
	"github.com/arturkryukov/pickup-module/internal/repository"
)

// TaskRunner — внешний триггер прохода процессора задач.
// Реализуется service.Processor.
type TaskRunner interface {
	Run(ctx context.Context) (*model.ProcessResult, error)
}

// SyncRunner — внешний триггер прохода синхронизации.
// Реализуется service.SyncEngine.
type SyncRunner interface {
	Run(ctx context.Context) (*model.SyncResult, error)
}

// APIHandler — основной обработчик API Pickup Module.
type APIHandler struct {
	health    *HealthHandler
	records   repository.RecordRepository
	assignees repository.AssigneeRepository
	resolver  *assignees.Service
	processor TaskRunner
	syncer    SyncRunner
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	records repository.RecordRepository,
	assigneeRepo repository.AssigneeRepository,
	resolver *assignees.Service,
	processor TaskRunner,
	syncer SyncRunner,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:    health,
		records:   records,
		assignees: assigneeRepo,
		resolver:  resolver,
		processor: processor,
		syncer:    syncer,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// paginationDefaults нормализует параметры пагинации из query string.
func paginationDefaults(r *http.Request) (limit, offset int) {
	limit = 100
	offset = 0

	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 1000 {
		limit = 1000
	}

	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// actor возвращает имя пользователя из JWT для полей updated_by.
// Без аутентификации — "api".
func actor(r *http.Request) string {
	if claims := middleware.ClaimsFromContext(r.Context()); claims != nil {
		if claims.PreferredUsername != "" {
			return claims.PreferredUsername
		}
		if claims.Subject != "" {
			return claims.Subject
		}
	}
	return "api"
}
