// Пакет registrytest — общий набор проверок контракта storage.Registry.
// Каждый бэкенд реестра запускает Run из своих тестов.
package registrytest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/secureshare/internal/domain/model"
	"github.com/bigkaa/secureshare/internal/storage"
)

// Factory создаёт пустой реестр для одного подтеста.
type Factory func(t *testing.T) storage.Registry

// base — опорное время тестов, выровненное до миллисекунды.
var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// NewRecord создаёт тестовую запись со сроком жизни ttl от base.
func NewRecord(handle string, ttl time.Duration) *model.Record {
	return &model.Record{
		Handle:       handle,
		OriginalName: "report " + handle + ".pdf",
		StoredName:   handle + ".pdf",
		ContentType:  "application/pdf",
		Size:         10,
		Checksum:     "sha256-" + handle,
		CreatedAt:    base,
		ExpiresAt:    base.Add(ttl),
		Policy: model.Policy{
			BlockDownload: true,
			Watermark:     true,
		},
	}
}

// Run выполняет весь набор проверок контракта.
func Run(t *testing.T, factory Factory) {
	t.Run("InsertGet", func(t *testing.T) { testInsertGet(t, factory(t)) })
	t.Run("InsertDuplicate", func(t *testing.T) { testInsertDuplicate(t, factory(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, factory(t)) })
	t.Run("GetExpired", func(t *testing.T) { testGetExpired(t, factory(t)) })
	t.Run("IncrementSequential", func(t *testing.T) { testIncrementSequential(t, factory(t)) })
	t.Run("IncrementConcurrent", func(t *testing.T) { testIncrementConcurrent(t, factory(t)) })
	t.Run("IncrementExpired", func(t *testing.T) { testIncrementExpired(t, factory(t)) })
	t.Run("DeleteIdempotent", func(t *testing.T) { testDeleteIdempotent(t, factory(t)) })
	t.Run("DeleteRacesIncrement", func(t *testing.T) { testDeleteRacesIncrement(t, factory(t)) })
	t.Run("ListExpired", func(t *testing.T) { testListExpired(t, factory(t)) })
	t.Run("ListExpiredEarlyStop", func(t *testing.T) { testListExpiredEarlyStop(t, factory(t)) })
}

func assertSameRecord(t *testing.T, want, got *model.Record) {
	t.Helper()
	assert.Equal(t, want.Handle, got.Handle)
	assert.Equal(t, want.OriginalName, got.OriginalName)
	assert.Equal(t, want.StoredName, got.StoredName)
	assert.Equal(t, want.ContentType, got.ContentType)
	assert.Equal(t, want.Size, got.Size)
	assert.Equal(t, want.Checksum, got.Checksum)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "CreatedAt: %v != %v", want.CreatedAt, got.CreatedAt)
	assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt), "ExpiresAt: %v != %v", want.ExpiresAt, got.ExpiresAt)
	assert.Equal(t, want.ViewCount, got.ViewCount)
	assert.Equal(t, want.Policy, got.Policy)
}

func testInsertGet(t *testing.T, reg storage.Registry) {
	ctx := context.Background()
	rec := NewRecord("h-insert", time.Hour)
	rec.Policy = model.Policy{BlockScreenshot: true, BlockCopy: true}

	require.NoError(t, reg.Insert(ctx, rec))

	got, err := reg.Get(ctx, rec.Handle, base)
	require.NoError(t, err)
	assertSameRecord(t, rec, got)

	// Снимок не связан с хранимой записью
	got.ViewCount = 100
	again, err := reg.Get(ctx, rec.Handle, base)
	require.NoError(t, err)
	assert.Equal(t, int64(0), again.ViewCount)
}

func testInsertDuplicate(t *testing.T, reg storage.Registry) {
	ctx := context.Background()
	rec := NewRecord("h-dup", time.Hour)

	require.NoError(t, reg.Insert(ctx, rec))

	other := NewRecord("h-dup", 2*time.Hour)
	other.OriginalName = "other.pdf"
	err := reg.Insert(ctx, other)
	require.ErrorIs(t, err, model.ErrHandleExists)

	got, err := reg.Get(ctx, rec.Handle, base)
	require.NoError(t, err)
	assert.Equal(t, rec.OriginalName, got.OriginalName)
}

func testGetMissing(t *testing.T, reg storage.Registry) {
	_, err := reg.Get(context.Background(), "h-missing", base)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func testGetExpired(t *testing.T, reg storage.Registry) {
	ctx := context.Background()
	rec := NewRecord("h-exp", time.Second)
	require.NoError(t, reg.Insert(ctx, rec))

	_, err := reg.Get(ctx, rec.Handle, base.Add(999*time.Millisecond))
	require.NoError(t, err)

	// Граница: ExpiresAt == now уже истекла
	_, err = reg.Get(ctx, rec.Handle, rec.ExpiresAt)
	require.ErrorIs(t, err, model.ErrNotFound)

	_, err = reg.Get(ctx, rec.Handle, rec.ExpiresAt.Add(time.Hour))
	require.ErrorIs(t, err, model.ErrNotFound)
}

func testIncrementSequential(t *testing.T, reg storage.Registry) {
	ctx := context.Background()
	rec := NewRecord("h-seq", time.Hour)
	require.NoError(t, reg.Insert(ctx, rec))

	for i := int64(1); i <= 10; i++ {
		got, err := reg.IncrementView(ctx, rec.Handle, base)
		require.NoError(t, err)
		assert.Equal(t, i, got.ViewCount)
		assert.Equal(t, rec.Policy, got.Policy)
	}

	got, err := reg.Get(ctx, rec.Handle, base)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.ViewCount)
}

func testIncrementConcurrent(t *testing.T, reg storage.Registry) {
	const workers = 40

	ctx := context.Background()
	rec := NewRecord("h-conc", time.Hour)
	require.NoError(t, reg.Insert(ctx, rec))

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		values []int64
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := reg.IncrementView(ctx, rec.Handle, base)
			if err != nil {
				t.Errorf("IncrementView: %v", err)
				return
			}
			mu.Lock()
			values = append(values, got.ViewCount)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, values, workers)
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	for i, v := range values {
		assert.Equal(t, int64(i+1), v, "значения просмотров должны быть уникальны")
	}

	got, err := reg.Get(ctx, rec.Handle, base)
	require.NoError(t, err)
	assert.Equal(t, int64(workers), got.ViewCount)
}

func testIncrementExpired(t *testing.T, reg storage.Registry) {
	ctx := context.Background()
	rec := NewRecord("h-incexp", time.Minute)
	require.NoError(t, reg.Insert(ctx, rec))

	_, err := reg.IncrementView(ctx, rec.Handle, rec.ExpiresAt)
	require.ErrorIs(t, err, model.ErrNotFound)

	_, err = reg.IncrementView(ctx, "h-never", base)
	require.ErrorIs(t, err, model.ErrNotFound)

	// Счётчик истёкшей записи не изменился
	deleted, err := reg.Delete(ctx, rec.Handle)
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted.ViewCount)
}

func testDeleteIdempotent(t *testing.T, reg storage.Registry) {
	ctx := context.Background()
	rec := NewRecord("h-del", time.Hour)
	require.NoError(t, reg.Insert(ctx, rec))

	deleted, err := reg.Delete(ctx, rec.Handle)
	require.NoError(t, err)
	assertSameRecord(t, rec, deleted)

	_, err = reg.Delete(ctx, rec.Handle)
	require.ErrorIs(t, err, model.ErrNotFound)

	_, err = reg.Get(ctx, rec.Handle, base)
	require.ErrorIs(t, err, model.ErrNotFound)

	_, err = reg.IncrementView(ctx, rec.Handle, base)
	require.ErrorIs(t, err, model.ErrNotFound)
}

// testDeleteRacesIncrement: удаление и просмотры одного handle взаимно
// исключают друг друга. Удалённая запись содержит ровно столько
// просмотров, сколько вызовов IncrementView завершилось успешно.
func testDeleteRacesIncrement(t *testing.T, reg storage.Registry) {
	const workers = 30

	ctx := context.Background()
	rec := NewRecord("h-race", time.Hour)
	require.NoError(t, reg.Insert(ctx, rec))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int64
		deleted   *model.Record
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := reg.IncrementView(ctx, rec.Handle, base)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, model.ErrNotFound) {
				t.Errorf("IncrementView: %v", err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		d, err := reg.Delete(ctx, rec.Handle)
		if err != nil {
			t.Errorf("Delete: %v", err)
			return
		}
		mu.Lock()
		deleted = d
		mu.Unlock()
	}()

	close(start)
	wg.Wait()

	require.NotNil(t, deleted)
	assert.Equal(t, succeeded, deleted.ViewCount)

	_, err := reg.Get(ctx, rec.Handle, base)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func testListExpired(t *testing.T, reg storage.Registry) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, reg.Insert(ctx, NewRecord(fmt.Sprintf("h-old-%d", i), time.Duration(i+1)*time.Second)))
	}
	require.NoError(t, reg.Insert(ctx, NewRecord("h-fresh", time.Hour)))

	now := base.Add(3 * time.Second)

	var handles []string
	for rec, err := range reg.ListExpired(ctx, now) {
		require.NoError(t, err)
		handles = append(handles, rec.Handle)
		// Потребитель может удалять записи во время итерации
		_, err := reg.Delete(ctx, rec.Handle)
		require.NoError(t, err)
	}
	sort.Strings(handles)
	assert.Equal(t, []string{"h-old-0", "h-old-1", "h-old-2"}, handles)

	// Повторное сканирование: удалённые не возвращаются
	for rec, err := range reg.ListExpired(ctx, now) {
		require.NoError(t, err)
		t.Errorf("неожиданная запись %s", rec.Handle)
	}

	_, err := reg.Get(ctx, "h-fresh", now)
	require.NoError(t, err)
	_, err = reg.Get(ctx, "h-old-4", now)
	require.NoError(t, err)
}

func testListExpiredEarlyStop(t *testing.T, reg storage.Registry) {
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, reg.Insert(ctx, NewRecord(fmt.Sprintf("h-stop-%d", i), time.Second)))
	}

	seen := 0
	for _, err := range reg.ListExpired(ctx, base.Add(time.Minute)) {
		require.NoError(t, err)
		seen++
		if seen == 2 {
			break
		}
	}
	assert.Equal(t, 2, seen)
}
