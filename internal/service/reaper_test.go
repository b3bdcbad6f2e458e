package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/secureshare/internal/domain/model"
)

func ingestN(t *testing.T, env *testEnv, n int, ttl time.Duration) []*model.Record {
	t.Helper()
	recs := make([]*model.Record, 0, n)
	for i := 0; i < n; i++ {
		rec, err := env.ingest.Ingest(context.Background(), IngestParams{
			Content:      []byte(fmt.Sprintf("payload-%d", i)),
			OriginalName: fmt.Sprintf("f%d.txt", i),
			ContentType:  "text/plain",
			TTL:          ttlOf(ttl),
		})
		require.NoError(t, err)
		recs = append(recs, rec)
	}
	return recs
}

func TestSweep_NothingExpired(t *testing.T) {
	env := newTestEnv(t, DefaultLimits())
	ingestN(t, env, 3, time.Hour)

	reaped, err := env.reaper.Sweep(context.Background(), env.clock.Now())
	require.NoError(t, err)
	assert.Zero(t, reaped)
}

// TestSweep_Idempotent: повторная очистка с тем же now ничего не удаляет.
func TestSweep_Idempotent(t *testing.T) {
	env := newTestEnv(t, DefaultLimits())
	ctx := context.Background()

	short := ingestN(t, env, 3, time.Minute)
	long := ingestN(t, env, 2, time.Hour)

	now := env.clock.Now().Add(time.Minute)
	reaped, err := env.reaper.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 3, reaped)

	reaped, err = env.reaper.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, reaped)

	for _, rec := range short {
		_, err := env.content.Get(ctx, rec.StoredName)
		assert.ErrorIs(t, err, model.ErrContentNotFound)
		_, err = env.registry.Delete(ctx, rec.Handle)
		assert.ErrorIs(t, err, model.ErrNotFound)
	}
	for _, rec := range long {
		_, err := env.registry.Get(ctx, rec.Handle, now)
		assert.NoError(t, err)
		_, err = env.content.Get(ctx, rec.StoredName)
		assert.NoError(t, err)
	}

	pending, err := env.journal.RecoverPending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// TestSweep_ContentDeleteFailure: запись удаляется, даже если содержимое
// удалить не удалось.
func TestSweep_ContentDeleteFailure(t *testing.T) {
	base := newTestEnv(t, DefaultLimits())
	recs := ingestN(t, base, 2, time.Second)

	content := &failingContent{ContentStore: base.content, deleteErr: errors.New("EIO")}
	env := newTestEnvWith(t, DefaultLimits(), base.registry, content, base.journal)
	ctx := context.Background()

	reaped, err := env.reaper.Sweep(ctx, base.clock.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, reaped)

	for _, rec := range recs {
		_, err := base.registry.Delete(ctx, rec.Handle)
		assert.ErrorIs(t, err, model.ErrNotFound)
		_, err = base.content.Get(ctx, rec.StoredName)
		assert.NoError(t, err, "содержимое осталось до сверки")
	}
}

func TestSweepIfIdle_SkipsWhenBusy(t *testing.T) {
	env := newTestEnv(t, DefaultLimits())
	ingestN(t, env, 1, time.Second)
	env.clock.Advance(time.Second)

	env.reaper.mu.Lock()
	env.reaper.SweepIfIdle(context.Background())
	env.reaper.mu.Unlock()

	reaped, err := env.reaper.Sweep(context.Background(), env.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, reaped, "попутная очистка должна была пропустить проход")
}

func TestReaper_StartStop(t *testing.T) {
	env := newTestEnv(t, DefaultLimits())
	recs := ingestN(t, env, 2, time.Second)
	env.clock.Advance(time.Minute)
	env.reaper.interval = 10 * time.Millisecond

	env.reaper.Start(context.Background())
	require.Eventually(t, func() bool {
		_, err := env.content.Get(context.Background(), recs[1].StoredName)
		return errors.Is(err, model.ErrContentNotFound)
	}, 2*time.Second, 10*time.Millisecond)
	env.reaper.Stop()
	env.reaper.Stop()
}
