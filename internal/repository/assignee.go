package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/arturkryukov/pickup-module/internal/domain/model"
)

// AssigneeRepository — интерфейс CRUD для таблицы assignees.
type AssigneeRepository interface {
	// Create создаёт исполнителя.
	Create(ctx context.Context, a *model.Assignee) error
	// List возвращает всех исполнителей.
	List(ctx context.Context) ([]*model.Assignee, error)
	// ListActive возвращает активных исполнителей.
	ListActive(ctx context.Context) ([]*model.Assignee, error)
	// Update обновляет исполнителя.
	Update(ctx context.Context, a *model.Assignee) error
	// Delete удаляет исполнителя.
	Delete(ctx context.Context, id uuid.UUID) error
}

// assigneeRepo — реализация AssigneeRepository.
type assigneeRepo struct {
	db DBTX
}

// NewAssigneeRepository создаёт репозиторий исполнителей.
func NewAssigneeRepository(db DBTX) AssigneeRepository {
	return &assigneeRepo{db: db}
}

func (r *assigneeRepo) Create(ctx context.Context, a *model.Assignee) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	query := `
		INSERT INTO assignees (id, name, calendar_id, active)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query, a.ID, a.Name, a.CalendarID, a.Active).
		Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: исполнитель с таким именем или календарём уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания исполнителя: %w", err)
	}
	return nil
}

func (r *assigneeRepo) List(ctx context.Context) ([]*model.Assignee, error) {
	return r.list(ctx, `SELECT id, name, calendar_id, active, created_at, updated_at
		FROM assignees ORDER BY name`)
}

func (r *assigneeRepo) ListActive(ctx context.Context) ([]*model.Assignee, error) {
	return r.list(ctx, `SELECT id, name, calendar_id, active, created_at, updated_at
		FROM assignees WHERE active ORDER BY name`)
}

func (r *assigneeRepo) list(ctx context.Context, query string) ([]*model.Assignee, error) {
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка исполнителей: %w", err)
	}
	defer rows.Close()

	var result []*model.Assignee
	for rows.Next() {
		a := &model.Assignee{}
		if err := rows.Scan(&a.ID, &a.Name, &a.CalendarID, &a.Active, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования исполнителя: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (r *assigneeRepo) Update(ctx context.Context, a *model.Assignee) error {
	query := `
		UPDATE assignees
		SET name = $2, calendar_id = $3, active = $4, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query, a.ID, a.Name, a.CalendarID, a.Active).Scan(&a.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrNotFound
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: исполнитель с таким именем или календарём уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка обновления исполнителя: %w", err)
	}
	return nil
}

func (r *assigneeRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM assignees WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления исполнителя: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
