package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"luma-backend/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func tokenRecords(method string, tokens ...[]string) []models.TokenRecord {
	out := make([]models.TokenRecord, len(tokens))
	for i, tk := range tokens {
		out[i] = models.TokenRecord{ChunkID: i, Method: method, Tokens: tk}
	}
	return out
}

func TestSQLiteStore_UpsertAndLoadTokens(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	doc := models.DocumentScope("alice", primitive.NewObjectID().Hex())

	require.NoError(t, s.UpsertTokens(ctx, doc, tokenRecords(models.TokenMethodBM25,
		[]string{"a", "b"}, []string{"c"}, []string{"d", "e", "f"})))

	got, err := s.LoadTokens(ctx, doc, models.TokenMethodBM25, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, r := range got {
		assert.Equal(t, i, r.ChunkID)
		assert.Equal(t, doc.DocumentID, r.DocumentID.Hex())
		assert.Equal(t, "alice", r.UserID)
	}
	assert.Equal(t, []string{"d", "e", "f"}, got[2].Tokens)
	assert.Equal(t, 3, got[2].DocLength)

	// replacing a record keeps one row per (chunk, method)
	require.NoError(t, s.UpsertTokens(ctx, doc, []models.TokenRecord{{ChunkID: 1, Method: models.TokenMethodBM25, Tokens: []string{"z"}}}))
	got, err = s.LoadTokens(ctx, doc, models.TokenMethodBM25, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"z"}, got[1].Tokens)

	// methods are kept apart
	tfidf, err := s.LoadTokens(ctx, doc, models.TokenMethodTFIDF, 0)
	require.NoError(t, err)
	assert.Empty(t, tfidf)
}

func TestSQLiteStore_UserScopeOrdering(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	first := primitive.NewObjectID().Hex()
	second := primitive.NewObjectID().Hex()
	require.Less(t, first, second)

	require.NoError(t, s.UpsertTokens(ctx, models.DocumentScope("u1", second), tokenRecords(models.TokenMethodBM25, []string{"x"}, []string{"y"})))
	require.NoError(t, s.UpsertTokens(ctx, models.DocumentScope("u1", first), tokenRecords(models.TokenMethodBM25, []string{"p"}, []string{"q"})))
	require.NoError(t, s.UpsertTokens(ctx, models.DocumentScope("u2", first), tokenRecords(models.TokenMethodBM25, []string{"other"})))

	got, err := s.LoadTokens(ctx, models.UserScope("u1"), models.TokenMethodBM25, 0)
	require.NoError(t, err)
	refs := make([]models.ChunkRef, len(got))
	for i, r := range got {
		refs[i] = r.Ref()
	}
	assert.Equal(t, []models.ChunkRef{
		{DocumentID: first, Index: 0},
		{DocumentID: second, Index: 0},
		{DocumentID: first, Index: 1},
		{DocumentID: second, Index: 1},
	}, refs)

	limited, err := s.LoadTokens(ctx, models.UserScope("u1"), models.TokenMethodBM25, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestSQLiteStore_PruneAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	doc := models.DocumentScope("alice", primitive.NewObjectID().Hex())
	other := models.DocumentScope("alice", primitive.NewObjectID().Hex())

	require.NoError(t, s.UpsertTokens(ctx, doc, tokenRecords(models.TokenMethodBM25, []string{"a"}, []string{"b"}, []string{"c"})))
	require.NoError(t, s.UpsertTokens(ctx, other, tokenRecords(models.TokenMethodBM25, []string{"a"})))

	n, err := s.PruneTokens(ctx, doc, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.PruneTokens(ctx, models.UserScope("alice"), 0)
	assert.ErrorIs(t, err, models.ErrInvalidScope)

	n, err = s.DeleteTokens(ctx, models.UserScope("alice"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestSQLiteStore_Chunks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	doc := models.DocumentScope("alice", primitive.NewObjectID().Hex())

	chunks := []models.DocumentChunk{
		{ChunkIndex: 0, Text: "first chunk", WordCount: 2},
		{ChunkIndex: 1, Text: "second chunk", WordCount: 2, StartSentence: 1, EndSentence: 1},
	}
	require.NoError(t, s.SaveChunks(ctx, doc, chunks))

	n, err := s.CountChunks(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	ref := models.ChunkRef{DocumentID: doc.DocumentID, Index: 1}
	missing := models.ChunkRef{DocumentID: doc.DocumentID, Index: 9}
	got, err := s.FetchChunks(ctx, "alice", []models.ChunkRef{ref, missing})
	require.NoError(t, err)
	require.Contains(t, got, ref)
	assert.NotContains(t, got, missing)
	assert.Equal(t, "second chunk", got[ref].Text)
	assert.Equal(t, 1, got[ref].EndSentence)

	// other users cannot read the chunk
	got, err = s.FetchChunks(ctx, "mallory", []models.ChunkRef{ref})
	require.NoError(t, err)
	assert.Empty(t, got)

	pruned, err := s.PruneChunks(ctx, doc, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	deleted, err := s.DeleteChunks(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestSQLiteStore_RejectsInvalidScope(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.UpsertTokens(ctx, models.UserScope("alice"), tokenRecords(models.TokenMethodBM25, []string{"a"}))
	assert.ErrorIs(t, err, models.ErrInvalidScope)

	_, err = s.LoadTokens(ctx, models.DocumentScope("alice", "not-hex"), models.TokenMethodBM25, 0)
	assert.ErrorIs(t, err, models.ErrInvalidScope)

	_, err = s.LoadTokens(ctx, models.UserScope(""), models.TokenMethodBM25, 0)
	assert.ErrorIs(t, err, models.ErrInvalidScope)
}

func TestSQLiteStore_Documents(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	doc, err := s.UpsertDocument(ctx, &models.Document{UserID: "alice", URL: "https://example.com/a", Title: "A", Status: models.DocumentStatusPending})
	require.NoError(t, err)
	assert.False(t, doc.ID.IsZero())

	again, err := s.UpsertDocument(ctx, &models.Document{UserID: "alice", URL: "https://example.com/a", Title: "A2", Status: models.DocumentStatusIndexing})
	require.NoError(t, err)
	assert.Equal(t, doc.ID, again.ID)
	assert.Equal(t, "A2", again.Title)

	pasted, err := s.UpsertDocument(ctx, &models.Document{UserID: "alice", Title: "Pasted"})
	require.NoError(t, err)
	assert.NotEqual(t, doc.ID, pasted.ID)

	ready := models.DocumentStatusReady
	chunks := 7
	now := time.Now()
	require.NoError(t, s.UpdateDocument(ctx, doc.Scope(), DocumentUpdate{Status: &ready, ChunkCount: &chunks, IndexedAt: &now}))

	got, err := s.GetDocument(ctx, doc.Scope())
	require.NoError(t, err)
	assert.Equal(t, ready, got.Status)
	assert.Equal(t, 7, got.ChunkCount)
	require.NotNil(t, got.IndexedAt)

	list, err := s.ListDocuments(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, s.DeleteDocument(ctx, doc.Scope()))
	_, err = s.GetDocument(ctx, doc.Scope())
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.ErrorIs(t, s.DeleteDocument(ctx, doc.Scope()), ErrNotFound)
}

func TestIndexError(t *testing.T) {
	base := errors.New("write conflict")
	err := newIndexError([]int{3, 1}, base)
	assert.Equal(t, []int{1, 3}, err.Failed)
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "[1,3]")
}

func TestSQLiteStore_Jobs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now()

	job := &models.ExtractionJob{
		ID: "job-1", UserID: "alice", Type: models.JobTypeExtract, URL: "https://example.com",
		Status: models.JobStatusPending, CreatedAt: now, UpdatedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	require.NoError(t, s.CreateJob(ctx, job))
	expired := *job
	expired.ID, expired.ExpiresAt = "job-0", now.Add(-time.Minute)
	require.NoError(t, s.CreateJob(ctx, &expired))

	_, err := s.GetJob(ctx, "bob", "job-1")
	assert.ErrorIs(t, err, ErrNotFound)

	done, progress, chunks := models.JobStatusCompleted, 100, 4
	require.NoError(t, s.UpdateJob(ctx, "job-1", models.JobUpdate{Status: &done, Progress: &progress, ChunksIndexed: &chunks}))
	assert.ErrorIs(t, s.UpdateJob(ctx, "missing", models.JobUpdate{Progress: &progress}), ErrNotFound)

	got, err := s.GetJob(ctx, "alice", "job-1")
	require.NoError(t, err)
	assert.Equal(t, done, got.Status)
	assert.Equal(t, 4, got.ChunksIndexed)
	require.NotNil(t, got.CompletedAt)

	n, err := s.PurgeJobs(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	list, err := s.ListJobs(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "job-1", list[0].ID)
}
