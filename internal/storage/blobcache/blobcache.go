// Пакет blobcache — LRU-кэш содержимого поверх любого ContentStore.
// Обёртка над hashicorp/golang-lru/v2/expirable.
//
// Содержимое неизменяемо после записи, поэтому кэш не требует
// инвалидации, кроме удаления. Доступ к содержимому всегда проходит
// через реестр, так что запись кэша не переживает срок жизни объекта
// с точки зрения клиента.
package blobcache

import (
	"context"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/secureshare/internal/domain/model"
	"github.com/bigkaa/secureshare/internal/storage"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ss_cache_hits_total",
		Help: "Общее количество попаданий в кэш содержимого.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ss_cache_misses_total",
		Help: "Общее количество промахов кэша содержимого.",
	})
)

// Store — ContentStore с кэшированием чтений.
type Store struct {
	next    storage.ContentStore
	cache   *expirable.LRU[string, []byte]
	maxItem int
}

// New оборачивает next кэшем на maxEntries объектов с временем жизни ttl.
// Объекты крупнее maxItem байт не кэшируются (0 — без ограничения).
func New(next storage.ContentStore, maxEntries int, ttl time.Duration, maxItem int) *Store {
	return &Store{
		next:    next,
		cache:   expirable.NewLRU[string, []byte](maxEntries, nil, ttl),
		maxItem: maxItem,
	}
}

// Put записывает в нижележащее хранилище и кладёт копию в кэш.
func (s *Store) Put(ctx context.Context, storedName string, data []byte) error {
	if err := s.next.Put(ctx, storedName, data); err != nil {
		return err
	}
	s.add(storedName, data)
	return nil
}

// Get отдаёт содержимое из кэша или читает из нижележащего хранилища.
func (s *Store) Get(ctx context.Context, storedName string) ([]byte, error) {
	if data, ok := s.cache.Get(storedName); ok {
		cacheHitsTotal.Inc()
		return slices.Clone(data), nil
	}
	cacheMissesTotal.Inc()

	data, err := s.next.Get(ctx, storedName)
	if err != nil {
		return nil, err
	}
	s.add(storedName, data)
	return data, nil
}

// Delete удаляет из кэша и из нижележащего хранилища.
func (s *Store) Delete(ctx context.Context, storedName string) error {
	s.cache.Remove(storedName)
	return s.next.Delete(ctx, storedName)
}

// List не кэшируется.
func (s *Store) List(ctx context.Context) ([]model.BlobInfo, error) {
	return s.next.List(ctx)
}

// Len возвращает число объектов в кэше.
func (s *Store) Len() int {
	return s.cache.Len()
}

func (s *Store) add(storedName string, data []byte) {
	if s.maxItem > 0 && len(data) > s.maxItem {
		return
	}
	// Кэш хранит свою копию: вызывающий может менять переданный срез
	s.cache.Add(storedName, slices.Clone(data))
}

var _ storage.ContentStore = (*Store)(nil)
