package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"luma-backend/internal/crawler"
	"luma-backend/internal/database"
	"luma-backend/internal/logger"
	"luma-backend/models"
	"luma-backend/utils"
)

// PageFetcher downloads and cleans one page. *crawler.Scraper implements it.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*crawler.Page, error)
}

// ExtractEnqueuer hands an extraction job to the background worker.
type ExtractEnqueuer interface {
	EnqueueExtract(ctx context.Context, job *models.ExtractionJob) error
}

// ExtractionService turns URLs into indexed documents through tracked jobs.
type ExtractionService struct {
	jobs     database.JobStore
	library  *LibraryService
	fetcher  PageFetcher
	enqueuer ExtractEnqueuer
	jobTTL   time.Duration
}

func NewExtractionService(jobs database.JobStore, library *LibraryService, fetcher PageFetcher, enqueuer ExtractEnqueuer, jobTTL time.Duration) *ExtractionService {
	if jobTTL <= 0 {
		jobTTL = 24 * time.Hour
	}
	return &ExtractionService{jobs: jobs, library: library, fetcher: fetcher, enqueuer: enqueuer, jobTTL: jobTTL}
}

// Submit records a pending job and enqueues it. The job is marked failed if
// it cannot be enqueued.
func (s *ExtractionService) Submit(ctx context.Context, userID, rawURL string) (*models.ExtractionJob, error) {
	if err := models.UserScope(userID).Validate(); err != nil {
		return nil, err
	}
	target, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}

	now := time.Now().UTC()
	job := &models.ExtractionJob{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      models.JobTypeExtract,
		URL:       target,
		Status:    models.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.jobTTL),
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	if err := s.enqueuer.EnqueueExtract(ctx, job); err != nil {
		s.fail(ctx, job.ID, fmt.Errorf("enqueue failed: %w", err))
		return nil, err
	}
	logger.Info("Extraction job queued", "job_id", job.ID, "user_id", userID, "url", target)
	return job, nil
}

func (s *ExtractionService) GetJob(ctx context.Context, userID, id string) (*models.ExtractionJob, error) {
	return s.jobs.GetJob(ctx, userID, id)
}

func (s *ExtractionService) ListJobs(ctx context.Context, userID string, limit int) ([]models.ExtractionJob, error) {
	if limit <= 0 || limit > MaxLibraryLimit {
		limit = DefaultLibraryLimit
	}
	return s.jobs.ListJobs(ctx, userID, limit)
}

// IsTerminal reports whether a failed extraction should not be retried.
func IsTerminal(err error) bool {
	return errors.Is(err, crawler.ErrScrapingFailed) ||
		errors.Is(err, crawler.ErrNoContent) ||
		errors.Is(err, models.ErrInvalidInput) ||
		errors.Is(err, models.ErrInvalidScope)
}

// Run executes a job: scrape, record the document, chunk and index. The job
// is marked failed when the error is terminal or this is the final attempt;
// otherwise it stays processing for the retry.
func (s *ExtractionService) Run(ctx context.Context, jobID, userID, rawURL string, finalAttempt bool) (err error) {
	start := time.Now()
	log := logger.With("job_id", jobID, "user_id", userID)
	defer func() {
		if err == nil {
			return
		}
		if finalAttempt || IsTerminal(err) {
			s.fail(ctx, jobID, err)
		}
		log.Error("Extraction job failed", "error", err, "terminal", IsTerminal(err))
	}()

	s.progress(ctx, jobID, models.JobStatusProcessing, 5)

	page, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return err
	}
	s.progress(ctx, jobID, models.JobStatusProcessing, 30)

	doc, err := s.library.docs.UpsertDocument(ctx, &models.Document{
		UserID: userID,
		URL:    page.URL,
		Title:  page.Title,
		Source: "url",
		Status: models.DocumentStatusIndexing,
	})
	if err != nil {
		return err
	}

	chunks := s.library.splitter.Split(page.Text)
	log.Debug("Chunked page", "chunks", len(chunks), "estimated", s.library.splitter.Estimate(page.Text))
	s.progress(ctx, jobID, models.JobStatusProcessing, 60)

	if _, err := s.library.retrieval.Index(ctx, doc.Scope(), chunks, page.URL); err != nil {
		s.library.markFailed(ctx, doc.Scope(), err)
		return err
	}
	if err := s.library.markReady(ctx, doc.Scope(), len(chunks), page.Text); err != nil {
		return err
	}

	status, progress := models.JobStatusCompleted, 100
	docID, count := doc.ID.Hex(), len(chunks)
	if err := s.jobs.UpdateJob(ctx, jobID, models.JobUpdate{
		Status:        &status,
		Progress:      &progress,
		DocumentID:    &docID,
		ChunksIndexed: &count,
	}); err != nil {
		return err
	}
	log.Info("Extraction job completed", "document_id", docID, "chunks", count, "duration", time.Since(start))
	return nil
}

func (s *ExtractionService) progress(ctx context.Context, jobID, status string, pct int) {
	if err := s.jobs.UpdateJob(ctx, jobID, models.JobUpdate{Status: &status, Progress: &pct}); err != nil {
		logger.Warn("Failed to update job progress", "job_id", jobID, "error", err)
	}
}

func (s *ExtractionService) fail(ctx context.Context, jobID string, cause error) {
	status, msg := models.JobStatusFailed, cause.Error()
	// the job record must reflect the failure even if the task context expired
	ctx, cancel := utils.Detached(ctx, utils.ShortTimeout)
	defer cancel()
	if err := s.jobs.UpdateJob(ctx, jobID, models.JobUpdate{Status: &status, Error: &msg}); err != nil {
		logger.Warn("Failed to mark job failed", "job_id", jobID, "error", err)
	}
}
