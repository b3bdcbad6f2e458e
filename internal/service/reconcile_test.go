package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/secureshare/internal/domain/model"
)

// newReconcileEnv синхронизирует тестовые часы с реальным временем:
// сверка сравнивает их с mtime файлов.
func newReconcileEnv(t *testing.T) (*testEnv, *ReconcileService) {
	t.Helper()
	env := newTestEnv(t, DefaultLimits())
	env.clock.now = time.Now().UTC()

	rs := NewReconcileService(env.registry, env.content, env.journal, time.Hour, time.Hour, silentLogger())
	rs.now = env.clock.Now
	return env, rs
}

func TestReconcile_DeletesOldOrphans(t *testing.T) {
	env, rs := newReconcileEnv(t)
	ctx := context.Background()

	live := ingestN(t, env, 2, 24*time.Hour)
	orphan := "0123456789abcdef0123456789abcdef.pdf"
	require.NoError(t, env.content.Put(ctx, orphan, []byte("lost")))

	env.clock.Advance(2 * time.Hour)
	result, skipped, err := rs.RunOnce(ctx)
	require.NoError(t, err)
	require.False(t, skipped)

	assert.Equal(t, 3, result.ObjectsScanned)
	assert.Equal(t, 1, result.OrphansDeleted)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, IssueOrphanedContent, result.Issues[0].Type)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", result.Issues[0].Handle)
	assert.True(t, result.Issues[0].Resolved)
	assert.Equal(t, 2, result.WALCleaned, "две закоммиченные загрузки")

	_, err = env.content.Get(ctx, orphan)
	assert.ErrorIs(t, err, model.ErrContentNotFound)
	for _, rec := range live {
		_, err := env.content.Get(ctx, rec.StoredName)
		assert.NoError(t, err)
	}
}

// TestReconcile_KeepsYoungOrphans: объект моложе grace может принадлежать
// незавершённой загрузке.
func TestReconcile_KeepsYoungOrphans(t *testing.T) {
	env, rs := newReconcileEnv(t)
	ctx := context.Background()

	require.NoError(t, env.content.Put(ctx, "ffffffffffffffffffffffffffffffff", []byte("in flight")))

	result, _, err := rs.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.OrphansDeleted)
	assert.Empty(t, result.Issues)

	_, err = env.content.Get(ctx, "ffffffffffffffffffffffffffffffff")
	assert.NoError(t, err)
}

// TestReconcile_ExpiredRecordContentIsOrphan: содержимое истёкшей, но ещё
// не очищенной записи удаляется; запись затем убирает очистка.
func TestReconcile_ExpiredRecordContentIsOrphan(t *testing.T) {
	env, rs := newReconcileEnv(t)
	ctx := context.Background()

	recs := ingestN(t, env, 1, time.Minute)
	env.clock.Advance(2 * time.Hour)

	result, _, err := rs.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.OrphansDeleted)

	reaped, err := env.reaper.Sweep(ctx, env.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	_, err = env.content.Get(ctx, recs[0].StoredName)
	assert.ErrorIs(t, err, model.ErrContentNotFound)
}

func TestReconcile_ReportsSizeMismatch(t *testing.T) {
	env, rs := newReconcileEnv(t)
	ctx := context.Background()

	rec := ingestN(t, env, 1, 24*time.Hour)[0]
	require.NoError(t, env.content.Delete(ctx, rec.StoredName))
	require.NoError(t, env.content.Put(ctx, rec.StoredName, []byte("изменено в обход сервиса")))

	result, _, err := rs.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, IssueSizeMismatch, result.Issues[0].Type)
	assert.False(t, result.Issues[0].Resolved)

	_, err = env.content.Get(ctx, rec.StoredName)
	assert.NoError(t, err, "при расхождении размера объект не удаляется")
}

func TestReconcile_SkipsWhenInProgress(t *testing.T) {
	_, rs := newReconcileEnv(t)

	rs.mu.Lock()
	rs.inProcess = true
	rs.mu.Unlock()
	assert.True(t, rs.IsInProgress())

	result, skipped, err := rs.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, skipped)
	assert.Nil(t, result)
}
