// Пакет storage — контракты хранилищ Secure Share.
//
// Registry — реестр метаданных, единственный источник истины о сроке
// жизни, счётчике просмотров и флагах политики. ContentStore — хранилище
// содержимого без знания о метаданных.
package storage

import (
	"context"
	"iter"
	"time"

	"github.com/bigkaa/secureshare/internal/domain/model"
)

// Registry — реестр метаданных.
// Каждая операция атомарна относительно любой другой операции над тем же
// или другим handle.
type Registry interface {
	// Insert добавляет запись; model.ErrHandleExists, если handle занят.
	Insert(ctx context.Context, rec *model.Record) error
	// Get возвращает снимок; model.ErrNotFound, если записи нет или она истекла.
	Get(ctx context.Context, handle string, now time.Time) (*model.Record, error)
	// IncrementView увеличивает ViewCount на 1 и возвращает новый снимок.
	IncrementView(ctx context.Context, handle string, now time.Time) (*model.Record, error)
	// Delete удаляет и возвращает запись; model.ErrNotFound, если её нет.
	Delete(ctx context.Context, handle string) (*model.Record, error)
	// ListExpired — ленивая одноразовая последовательность записей
	// с ExpiresAt <= now на момент сканирования.
	ListExpired(ctx context.Context, now time.Time) iter.Seq2[*model.Record, error]
	Close() error
}

// ContentStore — хранилище содержимого.
type ContentStore interface {
	// Put атомарно записывает содержимое: после возврата видно всё или ничего.
	// Существующее содержимое не перезаписывается: model.ErrContentExists.
	Put(ctx context.Context, storedName string, data []byte) error
	// Get возвращает содержимое; model.ErrContentNotFound, если его нет.
	Get(ctx context.Context, storedName string) ([]byte, error)
	// Delete идемпотентно удаляет содержимое.
	Delete(ctx context.Context, storedName string) error
	// List перечисляет объекты хранилища.
	List(ctx context.Context) ([]model.BlobInfo, error)
}
