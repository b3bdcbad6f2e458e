package blobcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/secureshare/internal/domain/model"
	"github.com/bigkaa/secureshare/internal/storage/filestore"
)

// countingStore считает обращения к нижележащему хранилищу.
type countingStore struct {
	*filestore.FileStore
	gets int
}

func (c *countingStore) Get(ctx context.Context, name string) ([]byte, error) {
	c.gets++
	return c.FileStore.Get(ctx, name)
}

func newBacking(t *testing.T) *countingStore {
	t.Helper()
	fs, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	return &countingStore{FileStore: fs}
}

func TestGet_HitAfterPut(t *testing.T) {
	backing := newBacking(t)
	store := New(backing, 10, time.Minute, 0)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "a.txt", []byte("hello")))

	data, err := store.Get(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
	assert.Equal(t, 0, backing.gets)
}

func TestGet_MissFillsCache(t *testing.T) {
	backing := newBacking(t)
	ctx := context.Background()
	require.NoError(t, backing.Put(ctx, "b.txt", []byte("world")))

	store := New(backing, 10, time.Minute, 0)
	for i := 0; i < 3; i++ {
		data, err := store.Get(ctx, "b.txt")
		require.NoError(t, err)
		assert.Equal(t, []byte("world"), data)
	}
	assert.Equal(t, 1, backing.gets)
	assert.Equal(t, 1, store.Len())
}

func TestDelete_Evicts(t *testing.T) {
	backing := newBacking(t)
	store := New(backing, 10, time.Minute, 0)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "c.txt", []byte("bye")))
	require.NoError(t, store.Delete(ctx, "c.txt"))

	_, err := store.Get(ctx, "c.txt")
	assert.ErrorIs(t, err, model.ErrContentNotFound)
	assert.Equal(t, 0, store.Len())
}

func TestMaxItem_SkipsLargeObjects(t *testing.T) {
	backing := newBacking(t)
	store := New(backing, 10, time.Minute, 4)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "big.bin", []byte("0123456789")))
	require.NoError(t, store.Put(ctx, "small.bin", []byte("ab")))
	assert.Equal(t, 1, store.Len())

	_, err := store.Get(ctx, "big.bin")
	require.NoError(t, err)
	assert.Equal(t, 1, backing.gets)
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	backing := newBacking(t)
	store := New(backing, 2, time.Minute, 0)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "1.txt", []byte("1")))
	require.NoError(t, store.Put(ctx, "2.txt", []byte("2")))
	require.NoError(t, store.Put(ctx, "3.txt", []byte("3")))

	_, err := store.Get(ctx, "1.txt")
	require.NoError(t, err)
	assert.Equal(t, 1, backing.gets)

	blobs, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, blobs, 3)
}

func TestCache_IsolatedFromCallerSlices(t *testing.T) {
	store := New(newBacking(t), 10, time.Minute, 0)
	ctx := context.Background()

	payload := []byte("hello")
	require.NoError(t, store.Put(ctx, "a.txt", payload))
	payload[0] = 'J'

	first, err := store.Get(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), first, "изменение исходного среза попало в кэш")
	first[0] = 'Y'

	second, err := store.Get(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), second, "изменение выданного среза попало в кэш")
}
