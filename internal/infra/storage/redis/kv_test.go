package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/inspectra/internal/infra/storage"
	"github.com/ahrav/inspectra/internal/state"
)

func TestKV_Get(t *testing.T) {
	db, mock := redismock.NewClientMock()
	kv := NewWithClient(db, "inspectra:", storage.NoOpTracer())
	ctx := context.TODO()

	mock.ExpectGet("inspectra:" + state.KeyTargetURL).SetVal("https://example.com")
	got, err := kv.Get(ctx, state.KeyTargetURL)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", string(got))

	mock.ExpectGet("inspectra:" + state.KeyBaselineURL).RedisNil()
	_, err = kv.Get(ctx, state.KeyBaselineURL)
	assert.ErrorIs(t, err, state.ErrNotFound)

	mock.ExpectGet("inspectra:" + state.KeyScanResult).SetErr(errors.New("redis error"))
	_, err = kv.Get(ctx, state.KeyScanResult)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis get failure")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKV_Set(t *testing.T) {
	db, mock := redismock.NewClientMock()
	kv := NewWithClient(db, "inspectra:", storage.NoOpTracer())
	ctx := context.TODO()

	payload := []byte(`{"success":true}`)
	mock.ExpectSet("inspectra:"+state.KeyScanResult, payload, 0).SetVal("OK")
	require.NoError(t, kv.Set(ctx, state.KeyScanResult, payload))

	mock.ExpectSet("inspectra:"+state.KeyScanResult, payload, 0).SetErr(errors.New("redis error"))
	err := kv.Set(ctx, state.KeyScanResult, payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis set failure")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKV_DeleteAndPing(t *testing.T) {
	db, mock := redismock.NewClientMock()
	kv := NewWithClient(db, "", storage.NoOpTracer())
	ctx := context.TODO()

	mock.ExpectDel(state.KeyScanHistory).SetVal(1)
	require.NoError(t, kv.Delete(ctx, state.KeyScanHistory))

	mock.ExpectPing().SetVal("PONG")
	require.NoError(t, kv.Ping(ctx))

	mock.ExpectPing().SetErr(errors.New("down"))
	assert.Error(t, kv.Ping(ctx))

	assert.NoError(t, mock.ExpectationsWereMet())
}
