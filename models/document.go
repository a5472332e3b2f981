package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Document is a source that was extracted and indexed for a user.
type Document struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID     string             `bson:"user_id" json:"user_id"`
	URL        string             `bson:"url" json:"url"`
	Title      string             `bson:"title" json:"title"`
	Source     string             `bson:"source" json:"source"` // url, uploaded
	Status     string             `bson:"status" json:"status"`
	ChunkCount int                `bson:"chunk_count" json:"chunk_count"`
	CharCount  int                `bson:"char_count" json:"char_count"`
	WordCount  int                `bson:"word_count" json:"word_count"`
	Error      string             `bson:"error,omitempty" json:"error,omitempty"`
	CreatedAt  time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time          `bson:"updated_at" json:"updated_at"`
	IndexedAt  *time.Time         `bson:"indexed_at,omitempty" json:"indexed_at,omitempty"`
}

// Document status constants
const (
	DocumentStatusPending  = "pending"
	DocumentStatusIndexing = "indexing"
	DocumentStatusReady    = "ready"
	DocumentStatusFailed   = "failed"
)

// Scope returns the document-level index scope.
func (d *Document) Scope() Scope {
	return DocumentScope(d.UserID, d.ID.Hex())
}

// DocumentChunk is a persisted chunk of document text.
type DocumentChunk struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	UserID         string             `bson:"user_id" json:"user_id"`
	DocumentID     primitive.ObjectID `bson:"document_id" json:"document_id"`
	ChunkIndex     int                `bson:"chunk_index" json:"chunk_index"`
	Text           string             `bson:"text,omitempty" json:"text"`
	CompressedText []byte             `bson:"compressed_text,omitempty" json:"-"`
	Compression    string             `bson:"compression,omitempty" json:"-"`
	StartSentence  int                `bson:"start_sentence" json:"start_sentence"`
	EndSentence    int                `bson:"end_sentence" json:"end_sentence"`
	WordCount      int                `bson:"word_count" json:"word_count"`
	Source         string             `bson:"source,omitempty" json:"source,omitempty"`
	CreatedAt      time.Time          `bson:"created_at" json:"created_at"`
}

// Ref returns the chunk identity.
func (c *DocumentChunk) Ref() ChunkRef {
	return ChunkRef{DocumentID: c.DocumentID.Hex(), Index: c.ChunkIndex}
}
