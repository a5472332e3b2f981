package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Token record methods. One record exists per (scope, chunk, method).
const (
	TokenMethodBM25  = "bm25"
	TokenMethodTFIDF = "tfidf"
)

// TokenRecord is the persisted token list of one chunk.
type TokenRecord struct {
	UserID     string             `bson:"user_id" json:"user_id"`
	DocumentID primitive.ObjectID `bson:"document_id" json:"document_id"`
	ChunkID    int                `bson:"chunk_id" json:"chunk_id"`
	Method     string             `bson:"method" json:"method"`
	Tokens     []string           `bson:"bm25_tokens" json:"tokens"`
	DocLength  int                `bson:"bm25_doc_length" json:"doc_length"`
	UpdatedAt  time.Time          `bson:"updated_at" json:"updated_at"`
}

// Ref returns the identity of the chunk the record belongs to.
func (r *TokenRecord) Ref() ChunkRef {
	return ChunkRef{DocumentID: r.DocumentID.Hex(), Index: r.ChunkID}
}
