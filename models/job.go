package models

import (
	"time"
)

// ExtractionJob tracks an asynchronous URL extraction.
type ExtractionJob struct {
	ID            string     `bson:"_id" json:"id"`
	UserID        string     `bson:"user_id" json:"user_id"`
	Type          string     `bson:"type" json:"type"`
	URL           string     `bson:"url" json:"url"`
	Status        string     `bson:"status" json:"status"` // pending, processing, completed, failed
	Progress      int        `bson:"progress" json:"progress"`
	DocumentID    string     `bson:"document_id,omitempty" json:"document_id,omitempty"`
	ChunksIndexed int        `bson:"chunks_indexed,omitempty" json:"chunks_indexed,omitempty"`
	Error         string     `bson:"error,omitempty" json:"error,omitempty"`
	RetryCount    int        `bson:"retry_count,omitempty" json:"retry_count,omitempty"`
	CreatedAt     time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `bson:"updated_at" json:"updated_at"`
	CompletedAt   *time.Time `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
	ExpiresAt     time.Time  `bson:"expires_at" json:"-"`
}

// Job type and status constants
const (
	JobTypeExtract = "extract"

	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// JobUpdate is a partial job update. Nil fields are left untouched.
type JobUpdate struct {
	Status        *string
	Progress      *int
	DocumentID    *string
	ChunksIndexed *int
	Error         *string
}
