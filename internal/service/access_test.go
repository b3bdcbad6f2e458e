package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/secureshare/internal/domain/model"
	"github.com/bigkaa/secureshare/internal/storage"
)

// TestScenario_TenBytesOneHour: загрузка 10 байт с TTL 3600 с и
// blockDownload, два просмотра, истечение срока, очистка.
func TestScenario_TenBytesOneHour(t *testing.T) {
	env := newTestEnv(t, DefaultLimits())
	ctx := context.Background()
	payload := []byte("0123456789")

	rec, err := env.ingest.Ingest(ctx, IngestParams{
		Content:      payload,
		OriginalName: "notes.txt",
		ContentType:  "text/plain",
		TTL:          ttlOf(3600 * time.Second),
		Policy:       model.Policy{BlockDownload: true},
	})
	require.NoError(t, err)

	first, data, err := env.access.Access(ctx, rec.Handle)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Equal(t, int64(1), first.ViewCount)
	assert.True(t, first.Policy.BlockDownload)
	assert.False(t, first.Policy.BlockScreenshot)

	env.clock.Advance(1800 * time.Second)
	second, _, err := env.access.Access(ctx, rec.Handle)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.ViewCount)

	env.clock.Advance(1800 * time.Second)
	_, _, err = env.access.Access(ctx, rec.Handle)
	requireKind(t, err, KindNotFound)

	// Попутная очистка в Access уже удалила запись и содержимое
	reaped, err := env.reaper.Sweep(ctx, env.clock.Now())
	require.NoError(t, err)
	assert.Zero(t, reaped)

	_, err = env.content.Get(ctx, rec.StoredName)
	assert.ErrorIs(t, err, model.ErrContentNotFound)
}

func TestAccess_UnknownAndMalformedHandles(t *testing.T) {
	env := newTestEnv(t, DefaultLimits())
	ctx := context.Background()

	for _, h := range []string{"", "nope", "../../etc/passwd", "0123456789abcdef0123456789abcdef"} {
		_, _, err := env.access.Access(ctx, h)
		requireKind(t, err, KindNotFound)
	}
}

// TestAccess_ExpiredEqualsUnknown: истёкший handle неотличим от неизвестного.
func TestAccess_ExpiredEqualsUnknown(t *testing.T) {
	env := newTestEnv(t, DefaultLimits())
	env.reaper = nil
	env.access.reaper = nil
	ctx := context.Background()

	rec, err := env.ingest.Ingest(ctx, IngestParams{Content: []byte("x"), ContentType: "text/plain", TTL: ttlOf(time.Second)})
	require.NoError(t, err)

	env.clock.Advance(time.Second)
	_, _, expiredErr := env.access.Access(ctx, rec.Handle)
	_, _, unknownErr := env.access.Access(ctx, "ffffffffffffffffffffffffffffffff")

	requireKind(t, expiredErr, KindNotFound)
	requireKind(t, unknownErr, KindNotFound)
	assert.Equal(t, expiredErr.(*Error).Message, unknownErr.(*Error).Message)
}

func TestAccess_MissingContentIsInconsistency(t *testing.T) {
	env := newTestEnv(t, DefaultLimits())
	ctx := context.Background()

	rec, err := env.ingest.Ingest(ctx, IngestParams{Content: []byte("x"), ContentType: "text/plain"})
	require.NoError(t, err)
	require.NoError(t, env.content.Delete(ctx, rec.StoredName))

	_, _, err = env.access.Access(ctx, rec.Handle)
	requireKind(t, err, KindInternalInconsistency)
}

// reapingContent — хранилище, у которого между счётчиком и чтением
// запись reaped удаляет очистка.
type reapingContent struct {
	storage.ContentStore
	registry storage.Registry
	reaped   string
}

func (r *reapingContent) Get(ctx context.Context, name string) ([]byte, error) {
	if r.reaped != "" {
		_, _ = r.registry.Delete(ctx, r.reaped)
		_ = r.ContentStore.Delete(ctx, name)
	}
	return r.ContentStore.Get(ctx, name)
}

func TestAccess_ReapedDuringReadIsNotFound(t *testing.T) {
	base := newTestEnv(t, DefaultLimits())
	content := &reapingContent{ContentStore: base.content, registry: base.registry}
	env := newTestEnvWith(t, DefaultLimits(), base.registry, content, base.journal)
	ctx := context.Background()

	rec, err := env.ingest.Ingest(ctx, IngestParams{Content: []byte("x"), OriginalName: "a.txt", ContentType: "text/plain"})
	require.NoError(t, err)
	content.reaped = rec.Handle

	_, _, err = env.access.Access(ctx, rec.Handle)
	requireKind(t, err, KindNotFound)
}

// TestAccess_ConcurrentViews: K параллельных просмотров дают значения 1..K.
func TestAccess_ConcurrentViews(t *testing.T) {
	const workers = 30

	env := newTestEnv(t, DefaultLimits())
	ctx := context.Background()

	rec, err := env.ingest.Ingest(ctx, IngestParams{Content: []byte("shared"), ContentType: "text/plain"})
	require.NoError(t, err)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		counts []int64
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, data, err := env.access.Access(ctx, rec.Handle)
			if err != nil {
				t.Errorf("Access: %v", err)
				return
			}
			if string(data) != "shared" {
				t.Errorf("неверное содержимое: %q", data)
			}
			mu.Lock()
			counts = append(counts, got.ViewCount)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, counts, workers)
	sort.Slice(counts, func(i, j int) bool { return counts[i] < counts[j] })
	for i, c := range counts {
		assert.Equal(t, int64(i+1), c)
	}
}

// TestAccess_RoundTripProperty: любое допустимое содержимое возвращается
// без изменений, а счётчик растёт на 1 с каждым просмотром.
func TestAccess_RoundTripProperty(t *testing.T) {
	env := newTestEnv(t, smallLimits())
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 40
	parameters.MaxSize = 64
	properties := gopter.NewProperties(parameters)

	properties.Property("ingest → access возвращает те же байты", prop.ForAll(
		func(payload []byte, ttlSeconds int, views int) bool {
			rec, err := env.ingest.Ingest(ctx, IngestParams{
				Content:     payload,
				ContentType: "text/plain",
				TTL:         ttlOf(time.Duration(ttlSeconds) * time.Second),
			})
			if err != nil {
				return false
			}
			for i := 1; i <= views; i++ {
				got, data, err := env.access.Access(ctx, rec.Handle)
				if err != nil || string(data) != string(payload) || got.ViewCount != int64(i) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.UInt8()).SuchThat(func(b []byte) bool { return len(b) > 0 }),
		gen.IntRange(1, 86400),
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}

func TestExpiresIn(t *testing.T) {
	tests := []struct {
		remaining time.Duration
		want      string
	}{
		{0, "0 seconds"},
		{-5 * time.Second, "0 seconds"},
		{59*time.Second + 900*time.Millisecond, "59 seconds"},
		{60 * time.Second, "1 minutes"},
		{3599 * time.Second, "59 minutes"},
		{3600 * time.Second, "1 hours"},
		{50 * time.Hour, "50 hours"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExpiresIn(tt.remaining), "остаток %s", tt.remaining)
	}
}
