package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"luma-backend/internal/database"
	"luma-backend/internal/logger"
	"luma-backend/models"
	"luma-backend/utils"
)

const (
	DefaultLibraryLimit = 50
	MaxLibraryLimit     = 200
)

// LibraryService manages a user's documents and indexes pasted text.
type LibraryService struct {
	docs      database.DocumentStore
	retrieval *RetrievalService
	splitter  *Splitter
}

func NewLibraryService(docs database.DocumentStore, retrieval *RetrievalService, splitter *Splitter) *LibraryService {
	return &LibraryService{docs: docs, retrieval: retrieval, splitter: splitter}
}

// List returns the newest documents first.
func (s *LibraryService) List(ctx context.Context, userID string, limit int) ([]models.Document, error) {
	if err := models.UserScope(userID).Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLibraryLimit
	}
	return s.docs.ListDocuments(ctx, userID, min(limit, MaxLibraryLimit))
}

func (s *LibraryService) Get(ctx context.Context, scope models.Scope) (*models.Document, error) {
	if err := documentScope(scope); err != nil {
		return nil, err
	}
	return s.docs.GetDocument(ctx, scope)
}

// Delete removes the document with its chunks, token records and cache entries.
func (s *LibraryService) Delete(ctx context.Context, scope models.Scope) (*DeleteResult, error) {
	if _, err := s.Get(ctx, scope); err != nil {
		return nil, err
	}
	res, err := s.retrieval.Delete(ctx, scope)
	if err != nil {
		return nil, err
	}
	if err := s.docs.DeleteDocument(ctx, scope); err != nil {
		return nil, err
	}
	return res, nil
}

// IndexText indexes pasted text or pre-chunked input under a new document, or
// re-indexes an existing one when req.DocumentID is set.
func (s *LibraryService) IndexText(ctx context.Context, userID string, req models.IndexRequest) (*models.IndexResponse, error) {
	chunks := req.Chunks
	text := strings.TrimSpace(req.Text)
	if len(chunks) == 0 {
		if text == "" {
			return nil, fmt.Errorf("%w: text or chunks are required", models.ErrInvalidInput)
		}
		chunks = s.splitter.Split(text)
	} else if text == "" {
		parts := make([]string, len(chunks))
		for i, ch := range chunks {
			parts[i] = ch.Text
		}
		text = strings.Join(parts, "\n\n")
	}

	var doc *models.Document
	if req.DocumentID != "" {
		existing, err := s.Get(ctx, models.DocumentScope(userID, req.DocumentID))
		if err != nil {
			return nil, err
		}
		doc = existing
	} else {
		source := req.Source
		if source == "" {
			source = "uploaded"
		}
		title := req.Title
		if title == "" {
			title = firstWords(text, 8)
		}
		created, err := s.docs.UpsertDocument(ctx, &models.Document{
			UserID: userID,
			Title:  title,
			Source: source,
			Status: models.DocumentStatusIndexing,
		})
		if err != nil {
			return nil, err
		}
		doc = created
	}

	source := req.Source
	if source == "" {
		source = doc.Source
	}
	resp, err := s.retrieval.Index(ctx, doc.Scope(), chunks, source)
	if err != nil {
		s.markFailed(ctx, doc.Scope(), err)
		return nil, err
	}
	if err := s.markReady(ctx, doc.Scope(), len(chunks), text); err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *LibraryService) markReady(ctx context.Context, scope models.Scope, chunks int, text string) error {
	status := models.DocumentStatusReady
	chars := utf8.RuneCountInString(text)
	words := len(strings.Fields(text))
	now := time.Now()
	empty := ""
	return s.docs.UpdateDocument(ctx, scope, database.DocumentUpdate{
		Status:     &status,
		ChunkCount: &chunks,
		CharCount:  &chars,
		WordCount:  &words,
		Error:      &empty,
		IndexedAt:  &now,
	})
}

func (s *LibraryService) markFailed(ctx context.Context, scope models.Scope, cause error) {
	status := models.DocumentStatusFailed
	msg := cause.Error()
	ctx, cancel := utils.Detached(ctx, utils.ShortTimeout)
	defer cancel()
	if err := s.docs.UpdateDocument(ctx, scope, database.DocumentUpdate{Status: &status, Error: &msg}); err != nil {
		logger.Warn("Failed to mark document failed", "scope", scope.Key(), "error", err)
	}
}

func firstWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) > n {
		return strings.Join(words[:n], " ") + "..."
	}
	return strings.Join(words, " ")
}
