package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	_ "modernc.org/sqlite" // SQLite driver

	"luma-backend/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	url         TEXT NOT NULL DEFAULT '',
	title       TEXT NOT NULL DEFAULT '',
	source      TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT '',
	chunk_count INTEGER NOT NULL DEFAULT 0,
	char_count  INTEGER NOT NULL DEFAULT 0,
	word_count  INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL,
	indexed_at  INTEGER
);
CREATE UNIQUE INDEX IF NOT EXISTS documents_user_url ON documents(user_id, url) WHERE url <> '';

CREATE TABLE IF NOT EXISTS document_chunks (
	user_id        TEXT NOT NULL,
	document_id    TEXT NOT NULL,
	chunk_index    INTEGER NOT NULL,
	text           TEXT NOT NULL,
	start_sentence INTEGER NOT NULL DEFAULT 0,
	end_sentence   INTEGER NOT NULL DEFAULT 0,
	word_count     INTEGER NOT NULL DEFAULT 0,
	source         TEXT NOT NULL DEFAULT '',
	created_at     INTEGER NOT NULL,
	PRIMARY KEY (user_id, document_id, chunk_index)
);

CREATE TABLE IF NOT EXISTS bm25_tokens (
	user_id     TEXT NOT NULL,
	document_id TEXT NOT NULL,
	chunk_id    INTEGER NOT NULL,
	method      TEXT NOT NULL,
	tokens      TEXT NOT NULL,
	doc_length  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL,
	PRIMARY KEY (user_id, document_id, chunk_id, method)
);
CREATE INDEX IF NOT EXISTS bm25_tokens_user_method ON bm25_tokens(user_id, method, chunk_id, document_id);

CREATE TABLE IF NOT EXISTS jobs (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	type           TEXT NOT NULL,
	url            TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	progress       INTEGER NOT NULL DEFAULT 0,
	document_id    TEXT NOT NULL DEFAULT '',
	chunks_indexed INTEGER NOT NULL DEFAULT 0,
	error          TEXT NOT NULL DEFAULT '',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	created_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL,
	completed_at   INTEGER,
	expires_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS jobs_user_created ON jobs(user_id, created_at);
`

// SQLiteStore is an embedded TokenStore, ChunkStore and DocumentStore.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) a database at path. ":memory:" gives a
// private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// one connection keeps :memory: databases shared and serialises writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func scopeWhere(scope models.Scope) (string, []any, error) {
	if err := scope.Validate(); err != nil {
		return "", nil, err
	}
	if scope.IsDocument() {
		return "user_id = ? AND document_id = ?", []any{scope.UserID, scope.DocumentID}, nil
	}
	return "user_id = ?", []any{scope.UserID}, nil
}

func (s *SQLiteStore) deleteWhere(ctx context.Context, table string, scope models.Scope, extra string, extraArgs ...any) (int64, error) {
	where, args, err := scopeWhere(scope)
	if err != nil {
		return 0, err
	}
	if extra != "" {
		where += " AND " + extra
		args = append(args, extraArgs...)
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE "+where, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting from %s: %w", table, err)
	}
	return res.RowsAffected()
}

// ---- tokens ----

// UpsertTokens writes all records in one transaction: either every chunk is
// indexed or none is.
func (s *SQLiteStore) UpsertTokens(ctx context.Context, scope models.Scope, records []models.TokenRecord) error {
	if err := requireDocumentScope(scope); err != nil {
		return err
	}
	now := time.Now().UnixNano()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO bm25_tokens (user_id, document_id, chunk_id, method, tokens, doc_length, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id, document_id, chunk_id, method)
			DO UPDATE SET tokens = excluded.tokens, doc_length = excluded.doc_length, updated_at = excluded.updated_at`)
		if err != nil {
			return fmt.Errorf("preparing token upsert: %w", err)
		}
		defer stmt.Close()

		for _, r := range records {
			tokens := r.Tokens
			if tokens == nil {
				tokens = []string{}
			}
			raw, err := json.Marshal(tokens)
			if err == nil {
				_, err = stmt.ExecContext(ctx, scope.UserID, scope.DocumentID, r.ChunkID, r.Method, string(raw), len(tokens), now)
			}
			if err != nil {
				return newIndexError(tokenChunkIDs(records), err)
			}
		}
		return nil
	})
}

// tokenChunkIDs lists the distinct chunk ids of records. A rolled back
// transaction loses every record, so all of them are reported.
func tokenChunkIDs(records []models.TokenRecord) []int {
	seen := make(map[int]bool, len(records))
	ids := make([]int, 0, len(records))
	for _, r := range records {
		if !seen[r.ChunkID] {
			seen[r.ChunkID] = true
			ids = append(ids, r.ChunkID)
		}
	}
	return ids
}

func chunkIndexes(chunks []models.DocumentChunk) []int {
	ids := make([]int, len(chunks))
	for i, ch := range chunks {
		ids[i] = ch.ChunkIndex
	}
	return ids
}

func (s *SQLiteStore) LoadTokens(ctx context.Context, scope models.Scope, method string, limit int) ([]models.TokenRecord, error) {
	where, args, err := scopeWhere(scope)
	if err != nil {
		return nil, err
	}
	query := `SELECT user_id, document_id, chunk_id, method, tokens, doc_length, updated_at
		FROM bm25_tokens WHERE ` + where + ` AND method = ? ORDER BY chunk_id, document_id`
	args = append(args, method)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("loading tokens: %w", err)
	}
	defer rows.Close()

	var records []models.TokenRecord
	for rows.Next() {
		var (
			r       models.TokenRecord
			docID   string
			raw     string
			updated int64
		)
		if err := rows.Scan(&r.UserID, &docID, &r.ChunkID, &r.Method, &raw, &r.DocLength, &updated); err != nil {
			return nil, fmt.Errorf("scanning token record: %w", err)
		}
		if r.DocumentID, err = primitive.ObjectIDFromHex(docID); err != nil {
			return nil, fmt.Errorf("corrupt document id %q: %w", docID, err)
		}
		if err := json.Unmarshal([]byte(raw), &r.Tokens); err != nil {
			return nil, fmt.Errorf("decoding tokens of %s#%d: %w", docID, r.ChunkID, err)
		}
		r.UpdatedAt = time.Unix(0, updated)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) PruneTokens(ctx context.Context, scope models.Scope, keepBelow int) (int64, error) {
	if err := requireDocumentScope(scope); err != nil {
		return 0, err
	}
	return s.deleteWhere(ctx, "bm25_tokens", scope, "chunk_id >= ?", keepBelow)
}

func (s *SQLiteStore) DeleteTokens(ctx context.Context, scope models.Scope) (int64, error) {
	return s.deleteWhere(ctx, "bm25_tokens", scope, "")
}

// ---- chunks ----

func (s *SQLiteStore) SaveChunks(ctx context.Context, scope models.Scope, chunks []models.DocumentChunk) error {
	if err := requireDocumentScope(scope); err != nil {
		return err
	}
	now := time.Now().UnixNano()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO document_chunks (user_id, document_id, chunk_index, text, start_sentence, end_sentence, word_count, source, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id, document_id, chunk_index)
			DO UPDATE SET text = excluded.text, start_sentence = excluded.start_sentence,
				end_sentence = excluded.end_sentence, word_count = excluded.word_count,
				source = excluded.source, created_at = excluded.created_at`)
		if err != nil {
			return fmt.Errorf("preparing chunk upsert: %w", err)
		}
		defer stmt.Close()

		for _, ch := range chunks {
			if _, err := stmt.ExecContext(ctx, scope.UserID, scope.DocumentID, ch.ChunkIndex, ch.Text,
				ch.StartSentence, ch.EndSentence, ch.WordCount, ch.Source, now); err != nil {
				return newIndexError(chunkIndexes(chunks), err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) FetchChunks(ctx context.Context, userID string, refs []models.ChunkRef) (map[models.ChunkRef]models.DocumentChunk, error) {
	out := make(map[models.ChunkRef]models.DocumentChunk, len(refs))
	for start := 0; start < len(refs); start += fetchBatchSize {
		end := min(start+fetchBatchSize, len(refs))
		clauses := make([]string, 0, end-start)
		args := []any{userID}
		for _, ref := range refs[start:end] {
			clauses = append(clauses, "(document_id = ? AND chunk_index = ?)")
			args = append(args, ref.DocumentID, ref.Index)
		}
		query := `SELECT user_id, document_id, chunk_index, text, start_sentence, end_sentence, word_count, source, created_at
			FROM document_chunks WHERE user_id = ? AND (` + strings.Join(clauses, " OR ") + `)`

		if err := s.scanChunks(ctx, query, args, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLiteStore) scanChunks(ctx context.Context, query string, args []any, out map[models.ChunkRef]models.DocumentChunk) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("fetching chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ch      models.DocumentChunk
			docID   string
			created int64
		)
		if err := rows.Scan(&ch.UserID, &docID, &ch.ChunkIndex, &ch.Text, &ch.StartSentence,
			&ch.EndSentence, &ch.WordCount, &ch.Source, &created); err != nil {
			return fmt.Errorf("scanning chunk: %w", err)
		}
		if ch.DocumentID, err = primitive.ObjectIDFromHex(docID); err != nil {
			return fmt.Errorf("corrupt document id %q: %w", docID, err)
		}
		ch.CreatedAt = time.Unix(0, created)
		out[ch.Ref()] = ch
	}
	return rows.Err()
}

func (s *SQLiteStore) PruneChunks(ctx context.Context, scope models.Scope, keepBelow int) (int64, error) {
	if err := requireDocumentScope(scope); err != nil {
		return 0, err
	}
	return s.deleteWhere(ctx, "document_chunks", scope, "chunk_index >= ?", keepBelow)
}

func (s *SQLiteStore) CountChunks(ctx context.Context, scope models.Scope) (int64, error) {
	where, args, err := scopeWhere(scope)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM document_chunks WHERE "+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) DeleteChunks(ctx context.Context, scope models.Scope) (int64, error) {
	return s.deleteWhere(ctx, "document_chunks", scope, "")
}

// ---- documents ----

const documentColumns = `id, user_id, url, title, source, status, chunk_count, char_count, word_count, error, created_at, updated_at, indexed_at`

func scanDocument(row interface{ Scan(...any) error }) (*models.Document, error) {
	var (
		doc              models.Document
		id               string
		created, updated int64
		indexed          sql.NullInt64
	)
	if err := row.Scan(&id, &doc.UserID, &doc.URL, &doc.Title, &doc.Source, &doc.Status, &doc.ChunkCount,
		&doc.CharCount, &doc.WordCount, &doc.Error, &created, &updated, &indexed); err != nil {
		return nil, err
	}
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("corrupt document id %q: %w", id, err)
	}
	doc.ID = oid
	doc.CreatedAt = time.Unix(0, created)
	doc.UpdatedAt = time.Unix(0, updated)
	if indexed.Valid {
		t := time.Unix(0, indexed.Int64)
		doc.IndexedAt = &t
	}
	return &doc, nil
}

func (s *SQLiteStore) UpsertDocument(ctx context.Context, doc *models.Document) (*models.Document, error) {
	if err := models.UserScope(doc.UserID).Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UnixNano()

	if doc.URL != "" {
		res, err := s.db.ExecContext(ctx, `UPDATE documents SET title = ?, status = ?, updated_at = ? WHERE user_id = ? AND url = ?`,
			doc.Title, doc.Status, now, doc.UserID, doc.URL)
		if err != nil {
			return nil, fmt.Errorf("updating document: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			row := s.db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE user_id = ? AND url = ?", doc.UserID, doc.URL)
			return scanDocument(row)
		}
	}

	id := primitive.NewObjectID()
	_, err := s.db.ExecContext(ctx, `INSERT INTO documents (id, user_id, url, title, source, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, id.Hex(), doc.UserID, doc.URL, doc.Title, doc.Source, doc.Status, now, now)
	if err != nil {
		return nil, fmt.Errorf("creating document: %w", err)
	}
	return s.GetDocument(ctx, models.DocumentScope(doc.UserID, id.Hex()))
}

func (s *SQLiteStore) GetDocument(ctx context.Context, scope models.Scope) (*models.Document, error) {
	if err := requireDocumentScope(scope); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = ? AND user_id = ?", scope.DocumentID, scope.UserID)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting document: %w", err)
	}
	return doc, nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, userID string, limit int) ([]models.Document, error) {
	query := "SELECT " + documentColumns + " FROM documents WHERE user_id = ? ORDER BY created_at DESC, id DESC"
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	docs := []models.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) UpdateDocument(ctx context.Context, scope models.Scope, upd DocumentUpdate) error {
	if err := requireDocumentScope(scope); err != nil {
		return err
	}
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UnixNano()}
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if upd.Title != nil {
		add("title", *upd.Title)
	}
	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.ChunkCount != nil {
		add("chunk_count", *upd.ChunkCount)
	}
	if upd.CharCount != nil {
		add("char_count", *upd.CharCount)
	}
	if upd.WordCount != nil {
		add("word_count", *upd.WordCount)
	}
	if upd.Error != nil {
		add("error", *upd.Error)
	}
	if upd.IndexedAt != nil {
		add("indexed_at", upd.IndexedAt.UnixNano())
	}
	args = append(args, scope.DocumentID, scope.UserID)

	res, err := s.db.ExecContext(ctx, "UPDATE documents SET "+strings.Join(sets, ", ")+" WHERE id = ? AND user_id = ?", args...)
	if err != nil {
		return fmt.Errorf("updating document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, scope models.Scope) error {
	if err := requireDocumentScope(scope); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ? AND user_id = ?", scope.DocumentID, scope.UserID)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- jobs ----

const jobColumns = `id, user_id, type, url, status, progress, document_id, chunks_indexed, error, retry_count, created_at, updated_at, completed_at, expires_at`

func scanJob(row interface{ Scan(...any) error }) (*models.ExtractionJob, error) {
	var (
		job                       models.ExtractionJob
		created, updated, expires int64
		completed                 sql.NullInt64
	)
	if err := row.Scan(&job.ID, &job.UserID, &job.Type, &job.URL, &job.Status, &job.Progress, &job.DocumentID,
		&job.ChunksIndexed, &job.Error, &job.RetryCount, &created, &updated, &completed, &expires); err != nil {
		return nil, err
	}
	job.CreatedAt = time.Unix(0, created)
	job.UpdatedAt = time.Unix(0, updated)
	job.ExpiresAt = time.Unix(0, expires)
	if completed.Valid {
		t := time.Unix(0, completed.Int64)
		job.CompletedAt = &t
	}
	return &job, nil
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *models.ExtractionJob) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO jobs (id, user_id, type, url, status, progress, document_id, chunks_indexed, error, retry_count, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.UserID, job.Type, job.URL, job.Status, job.Progress, job.DocumentID, job.ChunksIndexed,
		job.Error, job.RetryCount, job.CreatedAt.UnixNano(), job.UpdatedAt.UnixNano(), job.ExpiresAt.UnixNano())
	if err != nil {
		return fmt.Errorf("creating job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, userID, id string) (*models.ExtractionJob, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ? AND user_id = ?", id, userID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting job: %w", err)
	}
	return job, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, userID string, limit int) ([]models.ExtractionJob, error) {
	query := "SELECT " + jobColumns + " FROM jobs WHERE user_id = ? ORDER BY created_at DESC, id DESC"
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	jobs := []models.ExtractionJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, id string, upd models.JobUpdate) error {
	now := time.Now().UnixNano()
	sets := []string{"updated_at = ?"}
	args := []any{now}
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if upd.Status != nil {
		add("status", *upd.Status)
		if *upd.Status == models.JobStatusCompleted || *upd.Status == models.JobStatusFailed {
			add("completed_at", now)
		}
	}
	if upd.Progress != nil {
		add("progress", *upd.Progress)
	}
	if upd.DocumentID != nil {
		add("document_id", *upd.DocumentID)
	}
	if upd.ChunksIndexed != nil {
		add("chunks_indexed", *upd.ChunksIndexed)
	}
	if upd.Error != nil {
		add("error", *upd.Error)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, "UPDATE jobs SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("updating job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) PurgeJobs(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE expires_at < ?", before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purging jobs: %w", err)
	}
	return res.RowsAffected()
}

var (
	_ RetrievalStore = (*SQLiteStore)(nil)
	_ DocumentStore  = (*SQLiteStore)(nil)
	_ JobStore       = (*SQLiteStore)(nil)
)
