package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bigkaa/secureshare/internal/domain/model"
	"github.com/bigkaa/secureshare/internal/handle"
	"github.com/bigkaa/secureshare/internal/storage"
	"github.com/bigkaa/secureshare/internal/storage/filestore"
	"github.com/bigkaa/secureshare/internal/storage/index"
	"github.com/bigkaa/secureshare/internal/storage/wal"
)

// testClock — управляемое время для сервисов.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testEnv — полный набор сервисов поверх файловых бэкендов.
type testEnv struct {
	clock    *testClock
	content  storage.ContentStore
	registry storage.Registry
	journal  *wal.WAL
	reaper   *Reaper
	ingest   *IngestService
	access   *AccessService
}

func newTestEnv(t *testing.T, limits Limits) *testEnv {
	t.Helper()
	dir := t.TempDir()
	logger := silentLogger()

	content, err := filestore.New(dir + "/data")
	require.NoError(t, err)
	registry, err := index.New(dir+"/meta", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = registry.Close() })
	journal, err := wal.New(dir+"/wal", logger)
	require.NoError(t, err)

	return newTestEnvWith(t, limits, registry, content, journal)
}

func newTestEnvWith(t *testing.T, limits Limits, registry storage.Registry, content storage.ContentStore, journal *wal.WAL) *testEnv {
	t.Helper()
	logger := silentLogger()
	clock := newTestClock()

	reaper := NewReaper(registry, content, journal, time.Hour, logger)
	reaper.now = clock.Now
	ingest := NewIngestService(limits, handle.New(), registry, content, journal, reaper, logger)
	ingest.now = clock.Now
	access := NewAccessService(registry, content, reaper, logger)
	access.now = clock.Now

	return &testEnv{
		clock:    clock,
		content:  content,
		registry: registry,
		journal:  journal,
		reaper:   reaper,
		ingest:   ingest,
		access:   access,
	}
}

func ttlOf(d time.Duration) *time.Duration {
	return &d
}

func requireKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	require.Error(t, err)
	var se *Error
	require.True(t, errors.As(err, &se), "ожидалась *service.Error, получено %T: %v", err, err)
	require.Equal(t, kind, se.Kind, "неверный класс ошибки: %v", err)
}

// failingRegistry — реестр, отказывающий во вставке.
type failingRegistry struct {
	storage.Registry
	insertErr error
}

func (f *failingRegistry) Insert(context.Context, *model.Record) error {
	return f.insertErr
}

// failingContent — хранилище содержимого с управляемыми отказами.
type failingContent struct {
	storage.ContentStore
	putErr    error
	deleteErr error
}

func (f *failingContent) Put(ctx context.Context, name string, data []byte) error {
	if f.putErr != nil {
		return f.putErr
	}
	return f.ContentStore.Put(ctx, name, data)
}

func (f *failingContent) Delete(ctx context.Context, name string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.ContentStore.Delete(ctx, name)
}
