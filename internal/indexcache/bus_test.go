package indexcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"luma-backend/models"
)

func TestRedisBus_PropagatesInvalidation(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newSQLite(t)
	doc := models.DocumentScope("alice", primitive.NewObjectID().Hex())

	newNode := func() *Cache {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { rdb.Close() })
		c := newCache(t, store, Options{})
		require.NoError(t, NewRedisBus(rdb, "test:index").Attach(ctx, c))
		return c
	}
	api, worker := newNode(), newNode()

	require.NoError(t, store.UpsertTokens(ctx, doc, records("alpha")))
	_, err := api.Load(ctx, doc)
	require.NoError(t, err)
	require.Equal(t, StateReady, api.Info(doc).State)

	require.NoError(t, worker.SaveTokens(ctx, doc, records("alpha", "beta")))

	assert.Eventually(t, func() bool { return api.Info(doc).State == StateStale }, 2*time.Second, 10*time.Millisecond)

	idx, err := api.Load(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())
}

func TestRedisBus_EvictReachesPeers(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	store := newSQLite(t)
	doc := models.DocumentScope("alice", primitive.NewObjectID().Hex())
	require.NoError(t, store.UpsertTokens(ctx, doc, records("alpha")))

	peer := newCache(t, store, Options{})
	require.NoError(t, NewRedisBus(rdb, "test:index").Attach(ctx, peer))
	_, err := peer.Load(ctx, doc)
	require.NoError(t, err)

	// a publisher that never subscribes, as a one-shot CLI would
	sender := NewRedisBus(rdb, "test:index")
	require.NoError(t, sender.Publish(ctx, Event{Op: OpEvict, UserID: "alice"}))

	assert.Eventually(t, func() bool { return peer.Info(doc).State == StateAbsent }, 2*time.Second, 10*time.Millisecond)
}
