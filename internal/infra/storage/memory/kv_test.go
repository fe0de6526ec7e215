package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/inspectra/internal/state"
)

func TestKV_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	var kv KV

	_, err := kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, state.ErrNotFound)

	value := []byte("https://example.com")
	require.NoError(t, kv.Set(ctx, "k", value))
	value[0] = 'X'

	got, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", string(got), "stored value must not alias the caller's slice")

	require.NoError(t, kv.Delete(ctx, "k"))
	require.NoError(t, kv.Delete(ctx, "k"))
	assert.Equal(t, 0, kv.Len())
}

func TestKV_Update(t *testing.T) {
	ctx := context.Background()
	kv := New()

	require.NoError(t, kv.Update(ctx, "n", func(cur []byte) ([]byte, error) {
		assert.Nil(t, cur)
		return []byte("1"), nil
	}))
	require.NoError(t, kv.Update(ctx, "n", func(cur []byte) ([]byte, error) {
		return append(cur, '2'), nil
	}))

	boom := errors.New("boom")
	err := kv.Update(ctx, "n", func([]byte) ([]byte, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	got, err := kv.Get(ctx, "n")
	require.NoError(t, err)
	assert.Equal(t, "12", string(got))
}

func TestKV_UpdateIsAtomic(t *testing.T) {
	ctx := context.Background()
	kv := New()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, kv.Update(ctx, "n", func(cur []byte) ([]byte, error) {
				return append(cur, 'x'), nil
			}))
		}()
	}
	wg.Wait()

	got, err := kv.Get(ctx, "n")
	require.NoError(t, err)
	assert.Len(t, got, 50)
}
