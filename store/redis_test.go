package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStoreWithClient(client, "")
}

func TestRedisStore(t *testing.T) {
	runStoreConformance(t, newTestRedisStore(t))
}

func TestRedisStoreSkipsUndecodableEntries(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	s := NewRedisStoreWithClient(client, "")

	ctx := context.Background()
	require.NoError(t, s.AppendEvent(ctx, "run-x", sampleEvent(0)))
	require.NoError(t, client.RPush(ctx, s.eventsKey("run-x"), "not json").Err())
	require.NoError(t, s.AppendEvent(ctx, "run-x", sampleEvent(1)))

	events, err := s.LoadEvents(ctx, "run-x", -1)
	require.NoError(t, err)
	require.Len(t, events, 2, "a corrupt entry must not poison the rest of the log")
	assert.Equal(t, "ev-0", events[0].ID)
	assert.Equal(t, "ev-1", events[1].ID)
}

func TestRedisStorePing(t *testing.T) {
	s := newTestRedisStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}
