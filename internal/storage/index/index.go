// Пакет index — файловый реестр метаданных (Metadata Registry).
//
// Реестр хранится в одном документе {metaDir}/registry.json.
// Каждая операция — атомарный read-modify-write:
//  1. sync.Mutex (сериализация внутри процесса)
//  2. flock на {metaDir}/registry.lock (сериализация между процессами)
//  3. чтение документа → изменение → запись temp → fsync → rename
//
// Документ перечитывается под блокировкой при каждой операции, поэтому
// несколько процессов могут работать с одной директорией без потери
// обновлений и без «воскрешения» удалённых записей.
package index

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bigkaa/secureshare/internal/domain/model"
	"github.com/bigkaa/secureshare/internal/storage"
)

const (
	documentFile = "registry.json"
	lockFile     = "registry.lock"
)

// Index — файловый реестр метаданных.
type Index struct {
	mu     sync.Mutex
	path   string
	lock   *fileLock
	logger *slog.Logger
}

// New открывает (или создаёт) реестр в директории metaDir.
func New(metaDir string, logger *slog.Logger) (*Index, error) {
	if err := os.MkdirAll(metaDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию метаданных %s: %w", metaDir, err)
	}

	lock, err := openLock(filepath.Join(metaDir, lockFile))
	if err != nil {
		return nil, err
	}

	idx := &Index{
		path:   filepath.Join(metaDir, documentFile),
		lock:   lock,
		logger: logger.With(slog.String("component", "index")),
	}

	// Проверяем, что существующий документ читается
	var count int
	if err := idx.view(func(doc *document) error {
		count = len(doc.Records)
		return nil
	}); err != nil {
		lock.close()
		return nil, err
	}

	idx.logger.Info("Реестр метаданных открыт",
		slog.String("path", idx.path),
		slog.Int("records", count),
	)

	return idx, nil
}

// Insert добавляет запись. Возвращает model.ErrHandleExists, если
// handle уже присутствует.
func (idx *Index) Insert(_ context.Context, rec *model.Record) error {
	return idx.update(func(doc *document) (bool, error) {
		if _, ok := doc.Records[rec.Handle]; ok {
			return false, fmt.Errorf("%s: %w", rec.Handle, model.ErrHandleExists)
		}
		doc.Records[rec.Handle] = rec.Clone()
		return true, nil
	})
}

// Get возвращает снимок записи. Истёкшая запись считается отсутствующей.
func (idx *Index) Get(_ context.Context, handle string, now time.Time) (*model.Record, error) {
	var result *model.Record
	err := idx.view(func(doc *document) error {
		rec, ok := doc.Records[handle]
		if !ok || rec.IsExpired(now) {
			return fmt.Errorf("%s: %w", handle, model.ErrNotFound)
		}
		result = rec.Clone()
		return nil
	})
	return result, err
}

// IncrementView атомарно увеличивает ViewCount на 1 и возвращает
// обновлённый снимок. Истёкшая запись считается отсутствующей.
func (idx *Index) IncrementView(_ context.Context, handle string, now time.Time) (*model.Record, error) {
	var result *model.Record
	err := idx.update(func(doc *document) (bool, error) {
		rec, ok := doc.Records[handle]
		if !ok || rec.IsExpired(now) {
			return false, fmt.Errorf("%s: %w", handle, model.ErrNotFound)
		}
		rec.ViewCount++
		result = rec.Clone()
		return true, nil
	})
	return result, err
}

// Delete атомарно удаляет запись и возвращает её.
// model.ErrNotFound, если записи нет.
func (idx *Index) Delete(_ context.Context, handle string) (*model.Record, error) {
	var result *model.Record
	err := idx.update(func(doc *document) (bool, error) {
		rec, ok := doc.Records[handle]
		if !ok {
			return false, fmt.Errorf("%s: %w", handle, model.ErrNotFound)
		}
		delete(doc.Records, handle)
		result = rec
		return true, nil
	})
	return result, err
}

// ListExpired возвращает последовательность записей с ExpiresAt <= now.
// Снимок берётся под блокировкой при первой итерации; сама итерация
// блокировку не держит, поэтому потребитель может вызывать Delete.
func (idx *Index) ListExpired(_ context.Context, now time.Time) iter.Seq2[*model.Record, error] {
	return func(yield func(*model.Record, error) bool) {
		var expired []*model.Record
		err := idx.view(func(doc *document) error {
			for _, rec := range doc.Records {
				if rec.IsExpired(now) {
					expired = append(expired, rec.Clone())
				}
			}
			return nil
		})
		if err != nil {
			yield(nil, err)
			return
		}

		sort.Slice(expired, func(i, j int) bool {
			return expired[i].ExpiresAt.Before(expired[j].ExpiresAt)
		})

		for _, rec := range expired {
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// Close освобождает файл блокировки.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.lock.close()
}

// view выполняет fn над документом под блокировкой без записи.
func (idx *Index) view(fn func(doc *document) error) error {
	return idx.update(func(doc *document) (bool, error) {
		return false, fn(doc)
	})
}

// update выполняет полный цикл read-modify-write под обеими блокировками.
// fn возвращает true, если документ изменён и его нужно записать.
func (idx *Index) update(fn func(doc *document) (bool, error)) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := idx.lock.lock(); err != nil {
		return err
	}
	defer func() {
		if err := idx.lock.unlock(); err != nil {
			idx.logger.Error("Ошибка снятия блокировки реестра", slog.String("error", err.Error()))
		}
	}()

	doc, err := readDocument(idx.path)
	if err != nil {
		return err
	}

	dirty, err := fn(doc)
	if err != nil {
		return err
	}
	if !dirty {
		return nil
	}

	return writeDocument(idx.path, doc)
}

// Проверка соответствия интерфейсу на этапе компиляции.
var _ storage.Registry = (*Index)(nil)
