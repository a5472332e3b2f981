// Package database persists documents, chunk text, token records and jobs.
// Mongo backs the server; SQLite backs the CLI and tests.
package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"luma-backend/models"
)

var ErrNotFound = errors.New("not found")

// IndexError reports chunk indices that failed to persist. The remaining
// chunks of the same call were written.
type IndexError struct {
	Failed []int
	Err    error
}

func (e *IndexError) Error() string {
	idx := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		idx[i] = fmt.Sprint(f)
	}
	return fmt.Sprintf("failed to index chunks [%s]: %v", strings.Join(idx, ","), e.Err)
}

func (e *IndexError) Unwrap() error {
	return e.Err
}

func newIndexError(failed []int, err error) *IndexError {
	sort.Ints(failed)
	return &IndexError{Failed: failed, Err: err}
}

// TokenStore is the durable home of per-chunk token lists.
type TokenStore interface {
	// UpsertTokens writes records for one document scope, replacing any record
	// with the same (chunk, method).
	UpsertTokens(ctx context.Context, scope models.Scope, records []models.TokenRecord) error
	// LoadTokens returns at most limit records of one method. Document scopes
	// are ordered by chunk index; user scopes by chunk index then document id.
	LoadTokens(ctx context.Context, scope models.Scope, method string, limit int) ([]models.TokenRecord, error)
	// PruneTokens removes records of a document with chunk index >= keepBelow.
	PruneTokens(ctx context.Context, scope models.Scope, keepBelow int) (int64, error)
	DeleteTokens(ctx context.Context, scope models.Scope) (int64, error)
}

// ChunkStore holds chunk text keyed by ChunkRef.
type ChunkStore interface {
	SaveChunks(ctx context.Context, scope models.Scope, chunks []models.DocumentChunk) error
	FetchChunks(ctx context.Context, userID string, refs []models.ChunkRef) (map[models.ChunkRef]models.DocumentChunk, error)
	PruneChunks(ctx context.Context, scope models.Scope, keepBelow int) (int64, error)
	CountChunks(ctx context.Context, scope models.Scope) (int64, error)
	DeleteChunks(ctx context.Context, scope models.Scope) (int64, error)
}

// DocumentUpdate is a partial document update. Nil fields are left untouched.
type DocumentUpdate struct {
	Title      *string
	Status     *string
	ChunkCount *int
	CharCount  *int
	WordCount  *int
	Error      *string
	IndexedAt  *time.Time
}

type DocumentStore interface {
	// UpsertDocument creates the document, or returns the existing one for the
	// same user and non-empty URL so re-extraction keeps the document id.
	UpsertDocument(ctx context.Context, doc *models.Document) (*models.Document, error)
	GetDocument(ctx context.Context, scope models.Scope) (*models.Document, error)
	ListDocuments(ctx context.Context, userID string, limit int) ([]models.Document, error)
	UpdateDocument(ctx context.Context, scope models.Scope, upd DocumentUpdate) error
	DeleteDocument(ctx context.Context, scope models.Scope) error
}

type JobStore interface {
	CreateJob(ctx context.Context, job *models.ExtractionJob) error
	GetJob(ctx context.Context, userID, id string) (*models.ExtractionJob, error)
	ListJobs(ctx context.Context, userID string, limit int) ([]models.ExtractionJob, error)
	UpdateJob(ctx context.Context, id string, upd models.JobUpdate) error
	PurgeJobs(ctx context.Context, before time.Time) (int64, error)
}

// RetrievalStore is what the retrieval service needs from persistence.
type RetrievalStore interface {
	TokenStore
	ChunkStore
}

func requireDocumentScope(scope models.Scope) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	if !scope.IsDocument() {
		return fmt.Errorf("%w: document id is required", models.ErrInvalidScope)
	}
	return nil
}
