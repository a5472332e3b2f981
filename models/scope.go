package models

import (
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrInvalidScope is returned when a scope cannot address an index partition.
	ErrInvalidScope = errors.New("invalid scope")
	// ErrInvalidInput covers malformed request data that never reaches storage.
	ErrInvalidInput = errors.New("invalid input")
)

// Scope identifies an index partition: a user's whole corpus, or a single
// document owned by that user when DocumentID is set.
type Scope struct {
	UserID     string `json:"user_id" bson:"user_id"`
	DocumentID string `json:"document_id,omitempty" bson:"document_id,omitempty"`
}

// UserScope returns the whole-corpus scope for a user.
func UserScope(userID string) Scope {
	return Scope{UserID: userID}
}

// DocumentScope returns the scope for one document of a user.
func DocumentScope(userID, documentID string) Scope {
	return Scope{UserID: userID, DocumentID: documentID}
}

// IsDocument reports whether the scope is limited to one document.
func (s Scope) IsDocument() bool {
	return s.DocumentID != ""
}

// User returns the user-wide scope that subsumes s.
func (s Scope) User() Scope {
	return Scope{UserID: s.UserID}
}

// Key is the cache key for the scope. Document keys are prefixed with their
// user key so that user-wide invalidation can match by prefix.
func (s Scope) Key() string {
	if s.DocumentID == "" {
		return UserKeyPrefix(s.UserID)
	}
	return UserKeyPrefix(s.UserID) + "/d:" + s.DocumentID
}

// UserKeyPrefix is the cache key of a user scope.
func UserKeyPrefix(userID string) string {
	return "u:" + userID
}

func (s Scope) String() string {
	return s.Key()
}

// Validate checks identifiers before any storage access.
func (s Scope) Validate() error {
	if strings.TrimSpace(s.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidScope)
	}
	if strings.ContainsAny(s.UserID, "/\x00") {
		return fmt.Errorf("%w: user id contains reserved characters", ErrInvalidScope)
	}
	if s.DocumentID != "" {
		if _, err := primitive.ObjectIDFromHex(s.DocumentID); err != nil {
			return fmt.Errorf("%w: malformed document id %q", ErrInvalidScope, s.DocumentID)
		}
	}
	return nil
}

// DocumentObjectID parses the document id. Callers must Validate first.
func (s Scope) DocumentObjectID() (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(s.DocumentID)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: malformed document id %q", ErrInvalidScope, s.DocumentID)
	}
	return oid, nil
}

// ChunkRef is the stable identity of a chunk within a user's corpus.
type ChunkRef struct {
	DocumentID string `json:"document_id" bson:"document_id"`
	Index      int    `json:"chunk_index" bson:"chunk_index"`
}

func (r ChunkRef) String() string {
	return fmt.Sprintf("%s#%d", r.DocumentID, r.Index)
}
