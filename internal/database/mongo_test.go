package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"luma-backend/models"
)

// newMongoTestStore connects to MONGO_TEST_URI and skips when it is unset.
func newMongoTestStore(t *testing.T) *MongoStore {
	t.Helper()
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	require.NoError(t, client.Ping(ctx, nil))

	db := client.Database("luma_test_" + primitive.NewObjectID().Hex())
	t.Cleanup(func() {
		db.Drop(context.Background())
		client.Disconnect(context.Background())
	})
	return NewMongoStore(db, nil)
}

func TestMongoStore_TokensRoundTrip(t *testing.T) {
	s := newMongoTestStore(t)
	ctx := context.Background()
	doc := models.DocumentScope("alice", primitive.NewObjectID().Hex())

	require.NoError(t, s.UpsertTokens(ctx, doc, []models.TokenRecord{
		{ChunkID: 1, Method: models.TokenMethodBM25, Tokens: []string{"b"}},
		{ChunkID: 0, Method: models.TokenMethodBM25, Tokens: []string{"a", "a"}},
	}))

	got, err := s.LoadTokens(ctx, models.UserScope("alice"), models.TokenMethodBM25, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].ChunkID)
	assert.Equal(t, 2, got[0].DocLength)

	n, err := s.PruneTokens(ctx, doc, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMongoStore_CompressedChunks(t *testing.T) {
	s := newMongoTestStore(t)
	ctx := context.Background()
	doc := models.DocumentScope("alice", primitive.NewObjectID().Hex())

	long := ""
	for len(long) < 4096 {
		long += "Compression keeps large chunks small on disk. "
	}
	require.NoError(t, s.SaveChunks(ctx, doc, []models.DocumentChunk{{ChunkIndex: 0, Text: long}}))

	ref := models.ChunkRef{DocumentID: doc.DocumentID, Index: 0}
	got, err := s.FetchChunks(ctx, "alice", []models.ChunkRef{ref})
	require.NoError(t, err)
	assert.Equal(t, long, got[ref].Text)
}
