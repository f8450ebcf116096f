package kvstore

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/concussionrehab/internal/domain/providers"
)

func TestMemoryStore_GetSet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, found, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Set(ctx, "a", []byte(`{"v":1}`)))
	value, found, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `{"v":1}`, string(value))

	// callers must not be able to mutate stored bytes
	value[0] = 'x'
	again, _, _ := store.Get(ctx, "a")
	assert.JSONEq(t, `{"v":1}`, string(again))
}

func TestMemoryStore_GetByPrefix(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Set(ctx, "training_data_2", []byte(`2`)))
	require.NoError(t, store.Set(ctx, "training_data_1", []byte(`1`)))
	require.NoError(t, store.Set(ctx, "trainingXdata_3", []byte(`3`)))
	require.NoError(t, store.Set(ctx, "model_metrics_rule-based", []byte(`{}`)))

	entries, err := store.GetByPrefix(ctx, "training_data_")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "training_data_1", entries[0].Key)
	assert.Equal(t, "training_data_2", entries[1].Key)

	entries, err = store.GetByPrefix(ctx, "nothing_")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMemoryStore_UpdateSerializes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	increment := func(current []byte, found bool) ([]byte, error) {
		n := 0
		if found {
			n, _ = strconv.Atoi(string(current))
		}
		return []byte(strconv.Itoa(n + 1)), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Update(ctx, "counter", increment))
		}()
	}
	wg.Wait()

	value, _, err := store.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, "100", string(value))
}

func TestMemoryStore_UpdateAbort(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Set(ctx, "k", []byte(`"before"`)))

	boom := errors.New("boom")
	err := store.Update(ctx, "k", func([]byte, bool) ([]byte, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	value, _, _ := store.Get(ctx, "k")
	assert.Equal(t, `"before"`, string(value))
}

var (
	_ providers.KeyValueStore = (*MemoryStore)(nil)
	_ providers.AtomicUpdater = (*MemoryStore)(nil)
	_ providers.KeyValueStore = (*RedisStore)(nil)
	_ providers.AtomicUpdater = (*RedisStore)(nil)
	_ providers.KeyValueStore = (*PostgresStore)(nil)
	_ providers.AtomicUpdater = (*PostgresStore)(nil)
)
