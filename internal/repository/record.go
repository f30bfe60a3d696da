package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/arturkryukov/pickup-module/internal/domain/model"
	"github.com/arturkryukov/pickup-module/internal/domain/status"
)

// RecordRepository — интерфейс CRUD для таблицы pickup_records.
type RecordRepository interface {
	// Create создаёт новую запись заявки.
	Create(ctx context.Context, rec *model.Record) error
	// GetByID возвращает запись по UUID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Record, error)
	// List возвращает список записей с фильтрацией.
	List(ctx context.Context, filters RecordListFilters, limit, offset int) ([]*model.Record, error)
	// Count возвращает количество записей с фильтрацией.
	Count(ctx context.Context, filters RecordListFilters) (int, error)
	// ListPending возвращает записи в ожидающих статусах в порядке создания.
	ListPending(ctx context.Context, limit int) ([]*model.Record, error)
	// ListLinked возвращает записи, привязанные к событию календаря.
	ListLinked(ctx context.Context) ([]*model.Record, error)
	// DistinctCalendarIDs возвращает календари привязанных записей.
	DistinctCalendarIDs(ctx context.Context) ([]string, error)
	// Update обновляет все изменяемые поля записи.
	Update(ctx context.Context, rec *model.Record) error
}

// RecordListFilters — фильтры для списка записей.
type RecordListFilters struct {
	Status   *string
	Category *string
	Assignee *string
}

// recordRepo — реализация RecordRepository.
type recordRepo struct {
	db DBTX
}

// NewRecordRepository создаёт репозиторий записей заявок.
func NewRecordRepository(db DBTX) RecordRepository {
	return &recordRepo{db: db}
}

// recordColumns — общий список колонок для SELECT.
const recordColumns = `id, category, status, customer_name, postal_code, address,
	contact_name, phone, notes, area, assignee,
	scheduled_date, start_time, end_time, blocked_weekdays,
	calendar_id, calendar_event_id,
	updated_at_meta, updated_by, update_source, deleted_at_meta, delete_source,
	created_at, updated_at`

// scanRecord сканирует одну строку в model.Record.
func scanRecord(row pgx.Row) (*model.Record, error) {
	rec := &model.Record{}
	err := row.Scan(
		&rec.ID, &rec.Category, &rec.Status, &rec.CustomerName, &rec.PostalCode, &rec.Address,
		&rec.ContactName, &rec.Phone, &rec.Notes, &rec.Area, &rec.Assignee,
		&rec.ScheduledDate, &rec.StartTime, &rec.EndTime, &rec.BlockedWeekdays,
		&rec.CalendarID, &rec.CalendarEventID,
		&rec.UpdatedAtMeta, &rec.UpdatedBy, &rec.UpdateSource, &rec.DeletedAtMeta, &rec.DeleteSource,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *recordRepo) Create(ctx context.Context, rec *model.Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Status == "" {
		rec.Status = status.Unhandled
	}
	if rec.Category == "" {
		rec.Category = model.CategoryRegular
	}

	query := `
		INSERT INTO pickup_records (id, category, status, customer_name, postal_code, address,
			contact_name, phone, notes, area, assignee,
			scheduled_date, start_time, end_time, blocked_weekdays,
			calendar_id, calendar_event_id,
			updated_at_meta, updated_by, update_source, deleted_at_meta, delete_source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		rec.ID, rec.Category, rec.Status, rec.CustomerName, rec.PostalCode, rec.Address,
		rec.ContactName, rec.Phone, rec.Notes, rec.Area, rec.Assignee,
		rec.ScheduledDate, rec.StartTime, rec.EndTime, rec.BlockedWeekdays,
		rec.CalendarID, rec.CalendarEventID,
		rec.UpdatedAtMeta, rec.UpdatedBy, rec.UpdateSource, rec.DeletedAtMeta, rec.DeleteSource,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: запись с таким ID уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания записи: %w", err)
	}
	return nil
}

func (r *recordRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM pickup_records WHERE id = $1`, recordColumns)

	rec, err := scanRecord(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи: %w", err)
	}
	return rec, nil
}

// buildRecordWhere строит WHERE-условие и аргументы для фильтрации записей.
func buildRecordWhere(filters RecordListFilters, startArg int) (string, []any) {
	var conditions []string
	var args []any
	argNum := startArg

	if filters.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, *filters.Status)
		argNum++
	}
	if filters.Category != nil {
		conditions = append(conditions, fmt.Sprintf("category = $%d", argNum))
		args = append(args, *filters.Category)
		argNum++
	}
	if filters.Assignee != nil {
		conditions = append(conditions, fmt.Sprintf("assignee = $%d", argNum))
		args = append(args, *filters.Assignee)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}

func (r *recordRepo) List(ctx context.Context, filters RecordListFilters, limit, offset int) ([]*model.Record, error) {
	where, args := buildRecordWhere(filters, 1)
	argNum := len(args) + 1

	query := fmt.Sprintf(`
		SELECT %s
		FROM pickup_records
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, recordColumns, where, argNum, argNum+1)

	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка записей: %w", err)
	}
	defer rows.Close()

	var result []*model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (r *recordRepo) Count(ctx context.Context, filters RecordListFilters) (int, error) {
	where, args := buildRecordWhere(filters, 1)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM pickup_records %s`, where)

	var count int
	err := r.db.QueryRow(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта записей: %w", err)
	}
	return count, nil
}

// ListPending возвращает записи в ожидающих статусах в порядке создания,
// не больше limit. Процессор обходит их сверху вниз.
func (r *recordRepo) ListPending(ctx context.Context, limit int) ([]*model.Record, error) {
	pending := status.Pending()
	statuses := make([]string, len(pending))
	for i, s := range pending {
		statuses[i] = string(s)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM pickup_records
		WHERE status = ANY($1)
		ORDER BY created_at
		LIMIT $2`, recordColumns)

	rows, err := r.db.Query(ctx, query, statuses, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения ожидающих записей: %w", err)
	}
	defer rows.Close()

	var result []*model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// ListLinked возвращает записи с непустым calendar_event_id.
// Синхронизация строит по ним таблицу соответствия «событие → запись».
func (r *recordRepo) ListLinked(ctx context.Context) ([]*model.Record, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM pickup_records
		WHERE calendar_event_id <> ''
		ORDER BY created_at`, recordColumns)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения привязанных записей: %w", err)
	}
	defer rows.Close()

	var result []*model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// DistinctCalendarIDs возвращает календари, к которым привязана
// хотя бы одна запись.
func (r *recordRepo) DistinctCalendarIDs(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT calendar_id
		FROM pickup_records
		WHERE calendar_id <> '' AND calendar_event_id <> ''
		ORDER BY calendar_id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка календарей: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ошибка сканирования календаря: %w", err)
		}
		result = append(result, id)
	}
	return result, rows.Err()
}

func (r *recordRepo) Update(ctx context.Context, rec *model.Record) error {
	query := `
		UPDATE pickup_records
		SET category = $2, status = $3, customer_name = $4, postal_code = $5, address = $6,
			contact_name = $7, phone = $8, notes = $9, area = $10, assignee = $11,
			scheduled_date = $12, start_time = $13, end_time = $14, blocked_weekdays = $15,
			calendar_id = $16, calendar_event_id = $17,
			updated_at_meta = $18, updated_by = $19, update_source = $20,
			deleted_at_meta = $21, delete_source = $22,
			updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		rec.ID, rec.Category, rec.Status, rec.CustomerName, rec.PostalCode, rec.Address,
		rec.ContactName, rec.Phone, rec.Notes, rec.Area, rec.Assignee,
		rec.ScheduledDate, rec.StartTime, rec.EndTime, rec.BlockedWeekdays,
		rec.CalendarID, rec.CalendarEventID,
		rec.UpdatedAtMeta, rec.UpdatedBy, rec.UpdateSource,
		rec.DeletedAtMeta, rec.DeleteSource,
	).Scan(&rec.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления записи: %w", err)
	}
	return nil
}
