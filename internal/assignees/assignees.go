// Пакет assignees — резолвинг мастер-данных исполнителей.
// Кэширует справочник «имя ↔ календарь» в LRU с TTL
// (hashicorp/golang-lru/v2/expirable), чтобы не ходить в PostgreSQL
// на каждое событие синхронизации.
package assignees

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arturkryukov/pickup-module/internal/domain/model"
	"github.com/arturkryukov/pickup-module/internal/repository"
)

// Prometheus-метрики кэша исполнителей.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pm_assignee_cache_hits_total",
		Help: "Общее количество попаданий в кэш справочника исполнителей.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pm_assignee_cache_misses_total",
		Help: "Общее количество промахов кэша справочника исполнителей.",
	})
)

// directoryKey — единственный ключ кэша: справочник целиком.
const directoryKey = "directory"

// directory — снимок справочника активных исполнителей.
type directory struct {
	// имя → календарь
	byName map[string]string
	// календарь → имя
	byCalendarID map[string]string
}

// Service — резолвинг исполнителей со сквозным LRU-кэшем.
type Service struct {
	repo  repository.AssigneeRepository
	cache *expirable.LRU[string, *directory]
}

// New создаёт сервис резолвинга исполнителей.
// maxSize и ttl задают параметры кэша.
func New(repo repository.AssigneeRepository, maxSize int, ttl time.Duration) *Service {
	cache := expirable.NewLRU[string, *directory](maxSize, nil, ttl)
	return &Service{repo: repo, cache: cache}
}

// load возвращает справочник из кэша или загружает его из репозитория.
func (s *Service) load(ctx context.Context) (*directory, error) {
	if dir, ok := s.cache.Get(directoryKey); ok {
		cacheHitsTotal.Inc()
		return dir, nil
	}
	cacheMissesTotal.Inc()

	list, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки справочника исполнителей: %w", err)
	}

	dir := &directory{
		byName:       make(map[string]string, len(list)),
		byCalendarID: make(map[string]string, len(list)),
	}
	for _, a := range list {
		dir.byName[a.Name] = a.CalendarID
		dir.byCalendarID[a.CalendarID] = a.Name
	}

	s.cache.Add(directoryKey, dir)
	return dir, nil
}

// Invalidate сбрасывает кэш. Вызывается после изменения справочника.
func (s *Service) Invalidate() {
	s.cache.Remove(directoryKey)
}

// ResolveCalendarID возвращает календарь исполнителя по имени.
// Сначала ищет точное совпадение, затем совпадение без пробелов
// (имена в записях встречаются и с пробелами, и без).
// Пустая строка — исполнитель не найден.
func (s *Service) ResolveCalendarID(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil
	}

	dir, err := s.load(ctx)
	if err != nil {
		return "", err
	}

	if calID, ok := dir.byName[name]; ok {
		return calID, nil
	}

	// Совпадение без пробелов
	stripped := stripSpaces(name)
	for n, calID := range dir.byName {
		if stripSpaces(n) == stripped {
			return calID, nil
		}
	}
	return "", nil
}

// ResolveName возвращает имя исполнителя по его календарю.
// Пустая строка — календарь не принадлежит ни одному исполнителю.
func (s *Service) ResolveName(ctx context.Context, calendarID string) (string, error) {
	if calendarID == "" {
		return "", nil
	}

	dir, err := s.load(ctx)
	if err != nil {
		return "", err
	}
	return dir.byCalendarID[calendarID], nil
}

// ListActive возвращает активных исполнителей (мимо кэша, для API).
func (s *Service) ListActive(ctx context.Context) ([]*model.Assignee, error) {
	return s.repo.ListActive(ctx)
}

// stripSpaces убирает обычные и неразрывные пробелы.
func stripSpaces(s string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == ' ' || r == '　' {
			return -1
		}
		return r
	}, s)
}
