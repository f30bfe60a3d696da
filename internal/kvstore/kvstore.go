// Пакет kvstore — долговечное key-value хранилище курсоров
// инкрементальной синхронизации.
package kvstore

import (
	"context"
	"errors"
)

// ErrKeyNotFound — ключ отсутствует в хранилище.
var ErrKeyNotFound = errors.New("ключ не найден")

// Store — интерфейс key-value хранилища.
// Реализации: Redis (prod) и Memory (тесты).
type Store interface {
	// Get возвращает значение по ключу или ErrKeyNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set сохраняет значение по ключу.
	Set(ctx context.Context, key, value string) error
	// Delete удаляет ключ. Отсутствующий ключ — не ошибка.
	Delete(ctx context.Context, key string) error
}
