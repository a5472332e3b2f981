package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"luma-backend/internal/telemetry"
	"luma-backend/models"
	"luma-backend/utils"
)

// Collection names
const (
	CollectionDocuments = "documents"
	CollectionChunks    = "document_chunks"
	CollectionTokens    = "bm25_tokens"
	CollectionJobs      = "jobs"
)

// fetchBatchSize bounds the $or clauses of one chunk lookup.
const fetchBatchSize = 500

// MongoStore implements every store interface on one database.
type MongoStore struct {
	db      *mongo.Database
	metrics *telemetry.Metrics
}

func NewMongoStore(db *mongo.Database, metrics *telemetry.Metrics) *MongoStore {
	return &MongoStore{db: db, metrics: metrics}
}

func (s *MongoStore) record(op, collection string, err error) {
	s.metrics.RecordDatabaseOperation(op, collection, err == nil)
}

func scopeFilter(scope models.Scope) (bson.M, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	filter := bson.M{"user_id": scope.UserID}
	if scope.IsDocument() {
		oid, err := scope.DocumentObjectID()
		if err != nil {
			return nil, err
		}
		filter["document_id"] = oid
	}
	return filter, nil
}

// failedPositions maps bulk write error indexes back to chunk indices.
func failedPositions(err error, chunkAt func(int) int) ([]int, bool) {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || len(bwe.WriteErrors) == 0 {
		return nil, false
	}
	failed := make([]int, 0, len(bwe.WriteErrors))
	for _, we := range bwe.WriteErrors {
		failed = append(failed, chunkAt(we.Index))
	}
	return failed, true
}

// ---- tokens ----

func (s *MongoStore) UpsertTokens(ctx context.Context, scope models.Scope, records []models.TokenRecord) error {
	if err := requireDocumentScope(scope); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	oid, _ := scope.DocumentObjectID()
	now := time.Now()

	batch := make([]mongo.WriteModel, 0, len(records))
	for _, r := range records {
		batch = append(batch, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"user_id": scope.UserID, "document_id": oid, "chunk_id": r.ChunkID, "method": r.Method}).
			SetUpdate(bson.M{"$set": bson.M{
				"bm25_tokens":     r.Tokens,
				"bm25_doc_length": len(r.Tokens),
				"updated_at":      now,
			}}).
			SetUpsert(true))
	}

	_, err := s.db.Collection(CollectionTokens).BulkWrite(ctx, batch, options.BulkWrite().SetOrdered(false))
	s.record("bulk_upsert", CollectionTokens, err)
	if err != nil {
		if failed, ok := failedPositions(err, func(i int) int { return records[i].ChunkID }); ok {
			return newIndexError(failed, err)
		}
		return fmt.Errorf("failed to upsert tokens: %w", err)
	}
	return nil
}

func (s *MongoStore) LoadTokens(ctx context.Context, scope models.Scope, method string, limit int) ([]models.TokenRecord, error) {
	filter, err := scopeFilter(scope)
	if err != nil {
		return nil, err
	}
	filter["method"] = method

	opts := options.Find().
		SetSort(bson.D{{Key: "chunk_id", Value: 1}, {Key: "document_id", Value: 1}}).
		SetProjection(bson.M{"_id": 0})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.db.Collection(CollectionTokens).Find(ctx, filter, opts)
	s.record("find", CollectionTokens, err)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokens: %w", err)
	}
	defer cursor.Close(ctx)

	var records []models.TokenRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode tokens: %w", err)
	}
	return records, nil
}

func (s *MongoStore) PruneTokens(ctx context.Context, scope models.Scope, keepBelow int) (int64, error) {
	if err := requireDocumentScope(scope); err != nil {
		return 0, err
	}
	filter, _ := scopeFilter(scope)
	filter["chunk_id"] = bson.M{"$gte": keepBelow}

	res, err := s.db.Collection(CollectionTokens).DeleteMany(ctx, filter)
	s.record("delete_many", CollectionTokens, err)
	if err != nil {
		return 0, fmt.Errorf("failed to prune tokens: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) DeleteTokens(ctx context.Context, scope models.Scope) (int64, error) {
	filter, err := scopeFilter(scope)
	if err != nil {
		return 0, err
	}
	res, err := s.db.Collection(CollectionTokens).DeleteMany(ctx, filter)
	s.record("delete_many", CollectionTokens, err)
	if err != nil {
		return 0, fmt.Errorf("failed to delete tokens: %w", err)
	}
	return res.DeletedCount, nil
}

// ---- chunks ----

func (s *MongoStore) SaveChunks(ctx context.Context, scope models.Scope, chunks []models.DocumentChunk) error {
	if err := requireDocumentScope(scope); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	oid, _ := scope.DocumentObjectID()
	now := time.Now()

	batch := make([]mongo.WriteModel, 0, len(chunks))
	for _, ch := range chunks {
		set := bson.M{
			"start_sentence": ch.StartSentence,
			"end_sentence":   ch.EndSentence,
			"word_count":     ch.WordCount,
			"source":         ch.Source,
			"created_at":     now,
		}
		unset := bson.M{}
		compressed, algo, err := utils.CompressText(ch.Text)
		if err == nil && algo != utils.CompressionNone {
			set["compressed_text"] = compressed
			set["compression"] = string(algo)
			unset["text"] = ""
		} else {
			set["text"] = ch.Text
			unset["compressed_text"] = ""
			unset["compression"] = ""
		}
		batch = append(batch, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"user_id": scope.UserID, "document_id": oid, "chunk_index": ch.ChunkIndex}).
			SetUpdate(bson.M{"$set": set, "$unset": unset}).
			SetUpsert(true))
	}

	_, err := s.db.Collection(CollectionChunks).BulkWrite(ctx, batch, options.BulkWrite().SetOrdered(false))
	s.record("bulk_upsert", CollectionChunks, err)
	if err != nil {
		if failed, ok := failedPositions(err, func(i int) int { return chunks[i].ChunkIndex }); ok {
			return newIndexError(failed, err)
		}
		return fmt.Errorf("failed to save chunks: %w", err)
	}
	return nil
}

func (s *MongoStore) FetchChunks(ctx context.Context, userID string, refs []models.ChunkRef) (map[models.ChunkRef]models.DocumentChunk, error) {
	out := make(map[models.ChunkRef]models.DocumentChunk, len(refs))
	col := s.db.Collection(CollectionChunks)

	for start := 0; start < len(refs); start += fetchBatchSize {
		end := min(start+fetchBatchSize, len(refs))
		or := make(bson.A, 0, end-start)
		for _, ref := range refs[start:end] {
			oid, err := primitive.ObjectIDFromHex(ref.DocumentID)
			if err != nil {
				return nil, fmt.Errorf("%w: malformed document id %q", models.ErrInvalidScope, ref.DocumentID)
			}
			or = append(or, bson.M{"document_id": oid, "chunk_index": ref.Index})
		}

		cursor, err := col.Find(ctx, bson.M{"user_id": userID, "$or": or})
		s.record("find", CollectionChunks, err)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch chunks: %w", err)
		}
		var batch []models.DocumentChunk
		err = cursor.All(ctx, &batch)
		cursor.Close(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to decode chunks: %w", err)
		}

		for _, ch := range batch {
			if ch.Compression != "" && ch.Compression != string(utils.CompressionNone) {
				text, err := utils.DecompressText(ch.CompressedText, utils.CompressionAlgorithm(ch.Compression))
				if err != nil {
					return nil, fmt.Errorf("failed to decompress chunk %s: %w", ch.Ref(), err)
				}
				ch.Text = text
				ch.CompressedText = nil
			}
			out[ch.Ref()] = ch
		}
	}
	return out, nil
}

func (s *MongoStore) PruneChunks(ctx context.Context, scope models.Scope, keepBelow int) (int64, error) {
	if err := requireDocumentScope(scope); err != nil {
		return 0, err
	}
	filter, _ := scopeFilter(scope)
	filter["chunk_index"] = bson.M{"$gte": keepBelow}

	res, err := s.db.Collection(CollectionChunks).DeleteMany(ctx, filter)
	s.record("delete_many", CollectionChunks, err)
	if err != nil {
		return 0, fmt.Errorf("failed to prune chunks: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) CountChunks(ctx context.Context, scope models.Scope) (int64, error) {
	filter, err := scopeFilter(scope)
	if err != nil {
		return 0, err
	}
	n, err := s.db.Collection(CollectionChunks).CountDocuments(ctx, filter)
	s.record("count", CollectionChunks, err)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

func (s *MongoStore) DeleteChunks(ctx context.Context, scope models.Scope) (int64, error) {
	filter, err := scopeFilter(scope)
	if err != nil {
		return 0, err
	}
	res, err := s.db.Collection(CollectionChunks).DeleteMany(ctx, filter)
	s.record("delete_many", CollectionChunks, err)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	return res.DeletedCount, nil
}

// ---- documents ----

func (s *MongoStore) UpsertDocument(ctx context.Context, doc *models.Document) (*models.Document, error) {
	if err := models.UserScope(doc.UserID).Validate(); err != nil {
		return nil, err
	}
	now := time.Now()
	col := s.db.Collection(CollectionDocuments)

	if doc.URL == "" {
		doc.ID = primitive.NewObjectID()
		doc.CreatedAt, doc.UpdatedAt = now, now
		_, err := col.InsertOne(ctx, doc)
		s.record("insert", CollectionDocuments, err)
		if err != nil {
			return nil, fmt.Errorf("failed to create document: %w", err)
		}
		return doc, nil
	}

	update := bson.M{
		"$setOnInsert": bson.M{
			"_id":        primitive.NewObjectID(),
			"source":     doc.Source,
			"created_at": now,
		},
		"$set": bson.M{
			"title":      doc.Title,
			"status":     doc.Status,
			"updated_at": now,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var out models.Document
	err := col.FindOneAndUpdate(ctx, bson.M{"user_id": doc.UserID, "url": doc.URL}, update, opts).Decode(&out)
	s.record("upsert", CollectionDocuments, err)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert document: %w", err)
	}
	return &out, nil
}

func documentFilter(scope models.Scope) (bson.M, error) {
	if err := requireDocumentScope(scope); err != nil {
		return nil, err
	}
	oid, _ := scope.DocumentObjectID()
	return bson.M{"_id": oid, "user_id": scope.UserID}, nil
}

func (s *MongoStore) GetDocument(ctx context.Context, scope models.Scope) (*models.Document, error) {
	filter, err := documentFilter(scope)
	if err != nil {
		return nil, err
	}
	var doc models.Document
	err = s.db.Collection(CollectionDocuments).FindOne(ctx, filter).Decode(&doc)
	s.record("find_one", CollectionDocuments, err)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

func (s *MongoStore) ListDocuments(ctx context.Context, userID string, limit int) ([]models.Document, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.db.Collection(CollectionDocuments).Find(ctx, bson.M{"user_id": userID}, opts)
	s.record("find", CollectionDocuments, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer cursor.Close(ctx)

	docs := []models.Document{}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode documents: %w", err)
	}
	return docs, nil
}

func (s *MongoStore) UpdateDocument(ctx context.Context, scope models.Scope, upd DocumentUpdate) error {
	filter, err := documentFilter(scope)
	if err != nil {
		return err
	}
	set := bson.M{"updated_at": time.Now()}
	if upd.Title != nil {
		set["title"] = *upd.Title
	}
	if upd.Status != nil {
		set["status"] = *upd.Status
	}
	if upd.ChunkCount != nil {
		set["chunk_count"] = *upd.ChunkCount
	}
	if upd.CharCount != nil {
		set["char_count"] = *upd.CharCount
	}
	if upd.WordCount != nil {
		set["word_count"] = *upd.WordCount
	}
	if upd.Error != nil {
		set["error"] = *upd.Error
	}
	if upd.IndexedAt != nil {
		set["indexed_at"] = *upd.IndexedAt
	}

	res, err := s.db.Collection(CollectionDocuments).UpdateOne(ctx, filter, bson.M{"$set": set})
	s.record("update", CollectionDocuments, err)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) DeleteDocument(ctx context.Context, scope models.Scope) error {
	filter, err := documentFilter(scope)
	if err != nil {
		return err
	}
	res, err := s.db.Collection(CollectionDocuments).DeleteOne(ctx, filter)
	s.record("delete", CollectionDocuments, err)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- jobs ----

func (s *MongoStore) CreateJob(ctx context.Context, job *models.ExtractionJob) error {
	_, err := s.db.Collection(CollectionJobs).InsertOne(ctx, job)
	s.record("insert", CollectionJobs, err)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *MongoStore) GetJob(ctx context.Context, userID, id string) (*models.ExtractionJob, error) {
	var job models.ExtractionJob
	err := s.db.Collection(CollectionJobs).FindOne(ctx, bson.M{"_id": id, "user_id": userID}).Decode(&job)
	s.record("find_one", CollectionJobs, err)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *MongoStore) ListJobs(ctx context.Context, userID string, limit int) ([]models.ExtractionJob, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.db.Collection(CollectionJobs).Find(ctx, bson.M{"user_id": userID}, opts)
	s.record("find", CollectionJobs, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer cursor.Close(ctx)

	jobs := []models.ExtractionJob{}
	if err := cursor.All(ctx, &jobs); err != nil {
		return nil, fmt.Errorf("failed to decode jobs: %w", err)
	}
	return jobs, nil
}

func (s *MongoStore) UpdateJob(ctx context.Context, id string, upd models.JobUpdate) error {
	now := time.Now()
	set := bson.M{"updated_at": now}
	if upd.Status != nil {
		set["status"] = *upd.Status
		if *upd.Status == models.JobStatusCompleted || *upd.Status == models.JobStatusFailed {
			set["completed_at"] = now
		}
	}
	if upd.Progress != nil {
		set["progress"] = *upd.Progress
	}
	if upd.DocumentID != nil {
		set["document_id"] = *upd.DocumentID
	}
	if upd.ChunksIndexed != nil {
		set["chunks_indexed"] = *upd.ChunksIndexed
	}
	if upd.Error != nil {
		set["error"] = *upd.Error
	}

	res, err := s.db.Collection(CollectionJobs).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	s.record("update", CollectionJobs, err)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) PurgeJobs(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.Collection(CollectionJobs).DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": before}})
	s.record("delete_many", CollectionJobs, err)
	if err != nil {
		return 0, fmt.Errorf("failed to purge jobs: %w", err)
	}
	return res.DeletedCount, nil
}

var (
	_ RetrievalStore = (*MongoStore)(nil)
	_ DocumentStore  = (*MongoStore)(nil)
	_ JobStore       = (*MongoStore)(nil)
)
