package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"luma-backend/internal/logger"
	"luma-backend/models"
	"luma-backend/services"
)

const (
	TaskExtractURL = "extract:url"
	TaskPurgeJobs  = "maintenance:purge_jobs"

	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

type ExtractPayload struct {
	JobID  string `json:"job_id"`
	UserID string `json:"user_id"`
	URL    string `json:"url"`
}

// Task creators
func NewExtractTask(job *models.ExtractionJob) (*asynq.Task, error) {
	payload, err := json.Marshal(ExtractPayload{
		JobID:  job.ID,
		UserID: job.UserID,
		URL:    job.URL,
	})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskExtractURL,
		payload,
		asynq.TaskID(job.ID),
		asynq.MaxRetry(3),
		asynq.Timeout(5*time.Minute),
		asynq.Queue(QueueCritical),
	), nil
}

func NewPurgeJobsTask() *asynq.Task {
	return asynq.NewTask(
		TaskPurgeJobs,
		nil,
		asynq.MaxRetry(1),
		asynq.Timeout(time.Minute),
		asynq.Queue(QueueLow),
	)
}

// Client enqueues tasks for the worker.
type Client struct {
	client *asynq.Client
}

func NewClient(opt asynq.RedisConnOpt) *Client {
	return &Client{client: asynq.NewClient(opt)}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueExtract implements services.ExtractEnqueuer.
func (c *Client) EnqueueExtract(ctx context.Context, job *models.ExtractionJob) error {
	task, err := NewExtractTask(job)
	if err != nil {
		return err
	}
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", TaskExtractURL, err)
	}
	logger.Debug("Task enqueued", "type", TaskExtractURL, "task_id", info.ID, "queue", info.Queue)
	return nil
}

// Task handlers
type TaskProcessor struct {
	extraction  *services.ExtractionService
	maintenance *services.MaintenanceService
}

func NewTaskProcessor(extraction *services.ExtractionService, maintenance *services.MaintenanceService) *TaskProcessor {
	return &TaskProcessor{
		extraction:  extraction,
		maintenance: maintenance,
	}
}

// Register wires every handler into mux.
func (p *TaskProcessor) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskExtractURL, p.ProcessExtract)
	mux.HandleFunc(TaskPurgeJobs, p.ProcessPurgeJobs)
}

func (p *TaskProcessor) ProcessExtract(ctx context.Context, t *asynq.Task) error {
	var payload ExtractPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}
	if payload.JobID == "" || payload.UserID == "" || payload.URL == "" {
		return fmt.Errorf("incomplete extract payload: %w", asynq.SkipRetry)
	}

	logger.Info("Processing extraction", "job_id", payload.JobID, "user_id", payload.UserID, "url", payload.URL)

	err := p.extraction.Run(ctx, payload.JobID, payload.UserID, payload.URL, finalAttempt(ctx))
	if err != nil && services.IsTerminal(err) {
		// scraping and validation failures will not improve on retry
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

func (p *TaskProcessor) ProcessPurgeJobs(ctx context.Context, t *asynq.Task) error {
	return p.maintenance.PurgeExpiredJobs(ctx)
}

// finalAttempt reports whether asynq will not retry this task again. Outside
// a worker there is no retry budget, so every attempt is final.
func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}
