package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"luma-backend/internal/crawler"
	"luma-backend/internal/database"
	"luma-backend/internal/fusion"
	"luma-backend/internal/indexcache"
	"luma-backend/internal/lexical"
	"luma-backend/models"
	"luma-backend/services"
)

type stubFetcher struct {
	page *crawler.Page
	err  error
}

func (f stubFetcher) Fetch(ctx context.Context, rawURL string) (*crawler.Page, error) {
	if f.err != nil {
		return nil, f.err
	}
	p := *f.page
	p.URL = rawURL
	return &p, nil
}

type nopEnqueuer struct{}

func (nopEnqueuer) EnqueueExtract(context.Context, *models.ExtractionJob) error { return nil }

func newProcessor(t *testing.T, fetcher services.PageFetcher) (*TaskProcessor, *services.ExtractionService) {
	t.Helper()
	store, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cache, err := indexcache.New(store, indexcache.Options{Advanced: true, Lexical: lexical.DefaultOptions()})
	require.NoError(t, err)
	retrieval := services.NewRetrievalService(store, cache, services.RetrievalConfig{
		TopK: 4, MaxTopK: 20, Advanced: true, DefaultMethod: fusion.Hybrid, Fusion: fusion.DefaultOptions(),
	}, nil)
	splitter, err := services.NewSplitter(50, 10, services.StrategySentence)
	require.NoError(t, err)
	library := services.NewLibraryService(store, retrieval, splitter)
	extraction := services.NewExtractionService(store, library, fetcher, nopEnqueuer{}, time.Hour)
	return NewTaskProcessor(extraction, services.NewMaintenanceService(cache, store)), extraction
}

func TestNewExtractTask(t *testing.T) {
	job := &models.ExtractionJob{ID: "job-1", UserID: "alice", URL: "https://example.com/"}
	task, err := NewExtractTask(job)
	require.NoError(t, err)
	assert.Equal(t, TaskExtractURL, task.Type())

	var payload ExtractPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, ExtractPayload{JobID: "job-1", UserID: "alice", URL: "https://example.com/"}, payload)
}

func TestClient_EnqueueExtract(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	defer c.Close()

	job := &models.ExtractionJob{ID: "job-42", UserID: "alice", URL: "https://example.com/"}
	require.NoError(t, c.EnqueueExtract(context.Background(), job))

	pending, err := mr.List("asynq:{" + QueueCritical + "}:pending")
	require.NoError(t, err)
	assert.Equal(t, []string{"job-42"}, pending)

	// the job id doubles as the task id, so a duplicate is rejected
	assert.Error(t, c.EnqueueExtract(context.Background(), job))
}

func TestProcessExtract_BadPayloadSkipsRetry(t *testing.T) {
	p, _ := newProcessor(t, stubFetcher{})
	err := p.ProcessExtract(context.Background(), asynq.NewTask(TaskExtractURL, []byte("{not json")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	err = p.ProcessExtract(context.Background(), asynq.NewTask(TaskExtractURL, []byte(`{"job_id":"x"}`)))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestProcessExtract_RunsJob(t *testing.T) {
	p, extraction := newProcessor(t, stubFetcher{page: &crawler.Page{
		Title: "Raft",
		Text:  "Raft elects a leader. The leader replicates the log to followers.",
	}})
	ctx := context.Background()

	job, err := extraction.Submit(ctx, "alice", "https://example.com/raft")
	require.NoError(t, err)
	task, err := NewExtractTask(job)
	require.NoError(t, err)

	require.NoError(t, p.ProcessExtract(ctx, task))
	got, err := extraction.GetJob(ctx, "alice", job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, 1, got.ChunksIndexed)
}

func TestProcessExtract_ScrapeFailureSkipsRetry(t *testing.T) {
	p, extraction := newProcessor(t, stubFetcher{err: crawler.ErrNoContent})
	ctx := context.Background()

	job, err := extraction.Submit(ctx, "alice", "https://example.com/empty")
	require.NoError(t, err)
	task, err := NewExtractTask(job)
	require.NoError(t, err)

	err = p.ProcessExtract(ctx, task)
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	got, err := extraction.GetJob(ctx, "alice", job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
}

func TestProcessPurgeJobs(t *testing.T) {
	p, _ := newProcessor(t, stubFetcher{})
	assert.NoError(t, p.ProcessPurgeJobs(context.Background(), NewPurgeJobsTask()))
}
