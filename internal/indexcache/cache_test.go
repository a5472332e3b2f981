package indexcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"luma-backend/internal/database"
	"luma-backend/internal/lexical"
	"luma-backend/models"
)

// countingStore wraps a real store and can block or fail LoadTokens.
type countingStore struct {
	database.TokenStore
	loads   atomic.Int32
	gate    chan struct{}
	failErr error
}

func (s *countingStore) LoadTokens(ctx context.Context, scope models.Scope, method string, limit int) ([]models.TokenRecord, error) {
	if method == models.TokenMethodBM25 {
		s.loads.Add(1)
	}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.failErr != nil {
		return nil, s.failErr
	}
	return s.TokenStore.LoadTokens(ctx, scope, method, limit)
}

func newSQLite(t *testing.T) *database.SQLiteStore {
	t.Helper()
	s, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func records(texts ...string) []models.TokenRecord {
	var out []models.TokenRecord
	for i, text := range texts {
		out = append(out,
			models.TokenRecord{ChunkID: i, Method: models.TokenMethodBM25, Tokens: lexical.Tokenize(text)},
			models.TokenRecord{ChunkID: i, Method: models.TokenMethodTFIDF, Tokens: lexical.AnalyzeTerms(text)},
		)
	}
	return out
}

func newCache(t *testing.T, store database.TokenStore, opts Options) *Cache {
	t.Helper()
	opts.Advanced = true
	c, err := New(store, opts)
	require.NoError(t, err)
	return c
}

func TestLoad_EmptyScopeIsNotAnError(t *testing.T) {
	c := newCache(t, newSQLite(t), Options{})
	idx, err := c.Load(context.Background(), models.UserScope("nobody"))
	require.NoError(t, err)
	assert.True(t, idx.Empty())
	assert.Equal(t, StateReady, c.Info(models.UserScope("nobody")).State)
}

func TestLoad_InvalidScope(t *testing.T) {
	c := newCache(t, newSQLite(t), Options{})
	_, err := c.Load(context.Background(), models.DocumentScope("alice", "xyz"))
	assert.ErrorIs(t, err, models.ErrInvalidScope)
}

func TestLoad_BuildsOnceThenHits(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{TokenStore: newSQLite(t)}
	c := newCache(t, store, Options{})
	doc := models.DocumentScope("alice", primitive.NewObjectID().Hex())
	require.NoError(t, c.SaveTokens(ctx, doc, records("The cat sat on the mat.", "Dogs are loyal animals.")))

	idx, err := c.Load(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())
	assert.True(t, idx.HasTFIDF())

	again, err := c.Load(ctx, doc)
	require.NoError(t, err)
	assert.Same(t, idx, again)
	assert.Equal(t, int32(1), store.loads.Load())

	st := c.Stats()
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, uint64(1), st.Misses)
}

func TestSaveTokens_InvalidatesDocumentAndUser(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, newSQLite(t), Options{})
	docA := models.DocumentScope("alice", primitive.NewObjectID().Hex())
	docB := models.DocumentScope("alice", primitive.NewObjectID().Hex())
	require.NoError(t, c.SaveTokens(ctx, docA, records("alpha beta")))
	require.NoError(t, c.SaveTokens(ctx, docB, records("gamma delta")))

	_, err := c.Load(ctx, docA)
	require.NoError(t, err)
	_, err = c.Load(ctx, docB)
	require.NoError(t, err)
	user, err := c.Load(ctx, models.UserScope("alice"))
	require.NoError(t, err)
	require.Equal(t, 2, user.Len())

	require.NoError(t, c.SaveTokens(ctx, docA, records("alpha beta", "epsilon")))

	assert.Equal(t, StateStale, c.Info(docA).State)
	assert.Equal(t, StateStale, c.Info(models.UserScope("alice")).State)
	assert.Equal(t, StateReady, c.Info(docB).State)

	user, err = c.Load(ctx, models.UserScope("alice"))
	require.NoError(t, err)
	assert.Equal(t, 3, user.Len())
}

func TestDeleteScope_EvictsAllUserEntries(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, newSQLite(t), Options{})
	doc := models.DocumentScope("alice", primitive.NewObjectID().Hex())
	bob := models.DocumentScope("bob", primitive.NewObjectID().Hex())
	require.NoError(t, c.SaveTokens(ctx, doc, records("alpha")))
	require.NoError(t, c.SaveTokens(ctx, bob, records("alpha")))
	for _, s := range []models.Scope{doc, doc.User(), bob} {
		_, err := c.Load(ctx, s)
		require.NoError(t, err)
	}

	n, err := c.DeleteScope(ctx, models.UserScope("alice"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, StateAbsent, c.Info(doc).State)
	assert.Equal(t, StateAbsent, c.Info(doc.User()).State)
	assert.Equal(t, StateReady, c.Info(bob).State)

	idx, err := c.Load(ctx, doc)
	require.NoError(t, err)
	assert.True(t, idx.Empty())
}

func TestLoad_ConcurrentCallersShareOneBuild(t *testing.T) {
	ctx := context.Background()
	base := newSQLite(t)
	doc := models.DocumentScope("alice", primitive.NewObjectID().Hex())
	require.NoError(t, base.UpsertTokens(ctx, doc, records("one fish", "two fish")))

	store := &countingStore{TokenStore: base, gate: make(chan struct{})}
	c := newCache(t, store, Options{})

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*lexical.Index, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			idx, err := c.Load(ctx, doc)
			assert.NoError(t, err)
			results[i] = idx
		}(i)
	}

	require.Eventually(t, func() bool { return c.Info(doc).State == StateBuilding }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(store.gate)
	wg.Wait()

	assert.Equal(t, int32(1), store.loads.Load())
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestLoad_InvalidatedDuringBuildIsNotPromoted(t *testing.T) {
	ctx := context.Background()
	base := newSQLite(t)
	doc := models.DocumentScope("alice", primitive.NewObjectID().Hex())
	require.NoError(t, base.UpsertTokens(ctx, doc, records("old text")))

	store := &countingStore{TokenStore: base, gate: make(chan struct{})}
	c := newCache(t, store, Options{})

	done := make(chan *lexical.Index)
	go func() {
		idx, err := c.Load(ctx, doc)
		assert.NoError(t, err)
		done <- idx
	}()
	require.Eventually(t, func() bool { return c.Info(doc).State == StateBuilding }, time.Second, time.Millisecond)

	c.Invalidate(ctx, doc)
	close(store.gate)
	first := <-done
	require.NotNil(t, first)
	assert.Equal(t, StateStale, c.Info(doc).State)

	second, err := c.Load(ctx, doc)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, StateReady, c.Info(doc).State)
}

func TestLoad_StorageFailureIsUnavailable(t *testing.T) {
	store := &countingStore{TokenStore: newSQLite(t), failErr: errors.New("connection reset")}
	c := newCache(t, store, Options{})
	doc := models.DocumentScope("alice", primitive.NewObjectID().Hex())

	_, err := c.Load(context.Background(), doc)
	assert.ErrorIs(t, err, ErrIndexUnavailable)
	assert.Equal(t, StateAbsent, c.Info(doc).State)

	store.failErr = nil
	_, err = c.Load(context.Background(), doc)
	assert.NoError(t, err)
}

func TestLoad_TruncatesAtMaxRecords(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, newSQLite(t), Options{MaxRecords: 2})
	doc := models.DocumentScope("alice", primitive.NewObjectID().Hex())
	require.NoError(t, c.SaveTokens(ctx, doc, records("a1 b1", "a2 b2", "a3 b3")))

	idx, err := c.Load(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())
}

func TestLoad_BM25OnlyWhenTermRecordsMissing(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, newSQLite(t), Options{})
	doc := models.DocumentScope("alice", primitive.NewObjectID().Hex())
	require.NoError(t, c.SaveTokens(ctx, doc, []models.TokenRecord{
		{ChunkID: 0, Method: models.TokenMethodBM25, Tokens: []string{"cat"}},
	}))

	idx, err := c.Load(ctx, doc)
	require.NoError(t, err)
	assert.False(t, idx.HasTFIDF())
	assert.False(t, c.Info(doc).HasTFIDF)
}

func TestSweepStale(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, newSQLite(t), Options{})
	doc := models.DocumentScope("alice", primitive.NewObjectID().Hex())
	require.NoError(t, c.SaveTokens(ctx, doc, records("alpha")))
	_, err := c.Load(ctx, doc)
	require.NoError(t, err)

	c.Invalidate(ctx, doc)
	assert.Equal(t, 1, c.SweepStale())
	assert.Equal(t, StateAbsent, c.Info(doc).State)
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestLRUBound(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, newSQLite(t), Options{MaxEntries: 2})
	for _, u := range []string{"a", "b", "c"} {
		_, err := c.Load(ctx, models.UserScope(u))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, c.Stats().Entries)
	assert.Equal(t, StateAbsent, c.Info(models.UserScope("a")).State)
}
