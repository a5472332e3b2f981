// Package indexcache owns built lexical indexes per scope and keeps them
// coherent with the token store.
package indexcache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"luma-backend/internal/database"
	"luma-backend/internal/lexical"
	"luma-backend/internal/logger"
	"luma-backend/internal/telemetry"
	"luma-backend/models"
)

// State of a scope in the cache.
type State string

const (
	StateAbsent   State = "absent"
	StateBuilding State = "building"
	StateReady    State = "ready"
	StateStale    State = "stale"
)

// ErrIndexUnavailable wraps storage failures while building an index.
var ErrIndexUnavailable = errors.New("index unavailable")

const (
	DefaultMaxEntries = 512
	DefaultMaxRecords = 50000
)

type Options struct {
	MaxEntries int
	// MaxRecords bounds the token records read per method for one build.
	MaxRecords int
	// Advanced also builds TF-IDF from stored term records.
	Advanced bool
	Lexical  lexical.Options
	Metrics  *telemetry.Metrics
}

type entry struct {
	state   State
	index   *lexical.Index
	done    chan struct{}
	err     error
	builtAt time.Time
}

// Cache is safe for concurrent use. Concurrent loads of one scope share a
// single build.
type Cache struct {
	store   database.TokenStore
	opts    Options
	mu      sync.Mutex
	entries *lru.Cache[string, *entry]
	bus     Publisher

	hits, misses, waits atomic.Uint64
}

func New(store database.TokenStore, opts Options) (*Cache, error) {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.MaxRecords <= 0 {
		opts.MaxRecords = DefaultMaxRecords
	}
	if opts.Lexical.MaxFeatures <= 0 {
		opts.Lexical = lexical.DefaultOptions()
	}
	entries, err := lru.New[string, *entry](opts.MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("creating index cache: %w", err)
	}
	return &Cache{store: store, opts: opts, entries: entries}, nil
}

// SetPublisher makes local invalidations visible to other processes.
func (c *Cache) SetPublisher(p Publisher) {
	c.mu.Lock()
	c.bus = p
	c.mu.Unlock()
}

// Load returns the index for scope, building it from stored tokens when the
// scope is absent or stale. A scope without records yields a nil index and a
// nil error; use (*lexical.Index).Empty to test for it.
func (c *Cache) Load(ctx context.Context, scope models.Scope) (*lexical.Index, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	key := scope.Key()

	for {
		c.mu.Lock()
		e, ok := c.entries.Get(key)
		switch {
		case ok && e.state == StateReady:
			c.mu.Unlock()
			c.hits.Add(1)
			c.opts.Metrics.RecordCacheLookup(ctx, "hit")
			return e.index, nil

		case ok && e.state == StateBuilding:
			done := e.done
			c.mu.Unlock()
			c.waits.Add(1)
			c.opts.Metrics.RecordCacheLookup(ctx, "wait")
			select {
			case <-done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			// a builder whose own request was cancelled leaves the scope absent
			if e.err != nil && !isContextErr(e.err) {
				return nil, e.err
			}
			continue
		}

		ne := &entry{state: StateBuilding, done: make(chan struct{})}
		c.entries.Add(key, ne)
		c.mu.Unlock()
		c.misses.Add(1)
		c.opts.Metrics.RecordCacheLookup(ctx, "miss")
		return c.build(ctx, scope, key, ne)
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (c *Cache) build(ctx context.Context, scope models.Scope, key string, e *entry) (*lexical.Index, error) {
	start := time.Now()
	idx, err := c.read(ctx, scope)

	c.mu.Lock()
	defer c.mu.Unlock()
	defer close(e.done)

	cur, present := c.entries.Peek(key)
	if err != nil {
		e.err = fmt.Errorf("%w: %w", ErrIndexUnavailable, err)
		if present && cur == e {
			c.entries.Remove(key)
		}
		return nil, e.err
	}

	e.index = idx
	if present && cur == e && e.state == StateBuilding {
		e.state = StateReady
		e.builtAt = time.Now()
	} else {
		logger.Debug("Index invalidated during build, not cached", "scope", key)
	}

	kind := "user"
	if scope.IsDocument() {
		kind = "document"
	}
	c.opts.Metrics.RecordIndexBuild(ctx, kind, idx.Len(), time.Since(start).Seconds())
	logger.Debug("Index built", "scope", key, "chunks", idx.Len(), "tfidf", idx.HasTFIDF(), "duration", time.Since(start))
	return idx, nil
}

// read loads token records for every method concurrently and builds the index.
func (c *Cache) read(ctx context.Context, scope models.Scope) (*lexical.Index, error) {
	limit := c.opts.MaxRecords
	var bm25, tfidf []models.TokenRecord

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		recs, err := c.store.LoadTokens(gctx, scope, models.TokenMethodBM25, limit+1)
		bm25 = recs
		return err
	})
	if c.opts.Advanced {
		g.Go(func() error {
			recs, err := c.store.LoadTokens(gctx, scope, models.TokenMethodTFIDF, limit+1)
			tfidf = recs
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(bm25) > limit {
		logger.Warn("Token records truncated for scope", "scope", scope.Key(), "limit", limit)
		bm25 = bm25[:limit]
	}
	if len(bm25) == 0 {
		return nil, nil
	}

	corpus := lexical.Corpus{
		Refs:   make([]models.ChunkRef, len(bm25)),
		Tokens: make([][]string, len(bm25)),
	}
	for i := range bm25 {
		corpus.Refs[i] = bm25[i].Ref()
		corpus.Tokens[i] = bm25[i].Tokens
	}
	if c.opts.Advanced {
		corpus.Terms = alignTerms(corpus.Refs, tfidf)
		if corpus.Terms == nil {
			logger.Debug("TF-IDF records incomplete, building BM25 only", "scope", scope.Key())
		}
	}
	return lexical.Build(corpus, c.opts.Lexical)
}

// alignTerms orders term records to match refs, nil if any ref lacks one.
func alignTerms(refs []models.ChunkRef, records []models.TokenRecord) [][]string {
	if len(records) < len(refs) {
		return nil
	}
	byRef := make(map[models.ChunkRef][]string, len(records))
	for i := range records {
		byRef[records[i].Ref()] = records[i].Tokens
	}
	terms := make([][]string, len(refs))
	for i, ref := range refs {
		t, ok := byRef[ref]
		if !ok {
			return nil
		}
		terms[i] = t
	}
	return terms
}

// SaveTokens persists records for a document scope and invalidates that
// document and its user scope. Partial failures still invalidate, since some
// records were written.
func (c *Cache) SaveTokens(ctx context.Context, scope models.Scope, records []models.TokenRecord) error {
	err := c.store.UpsertTokens(ctx, scope, records)
	var ierr *database.IndexError
	if err == nil || errors.As(err, &ierr) {
		c.Invalidate(ctx, scope)
	}
	return err
}

// DeleteScope removes stored tokens for scope and evicts every affected entry.
func (c *Cache) DeleteScope(ctx context.Context, scope models.Scope) (int64, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}
	n, err := c.store.DeleteTokens(ctx, scope)
	if err != nil {
		return 0, err
	}
	c.Evict(ctx, scope)
	return n, nil
}

// Invalidate marks scope and every scope containing it stale, locally and on
// the bus.
func (c *Cache) Invalidate(ctx context.Context, scope models.Scope) {
	c.apply(Event{Op: OpInvalidate, UserID: scope.UserID, DocumentID: scope.DocumentID})
	c.publish(ctx, Event{Op: OpInvalidate, UserID: scope.UserID, DocumentID: scope.DocumentID})
}

// Evict drops scope and every scope that overlaps it, locally and on the bus.
func (c *Cache) Evict(ctx context.Context, scope models.Scope) {
	c.apply(Event{Op: OpEvict, UserID: scope.UserID, DocumentID: scope.DocumentID})
	c.publish(ctx, Event{Op: OpEvict, UserID: scope.UserID, DocumentID: scope.DocumentID})
}

func (c *Cache) publish(ctx context.Context, ev Event) {
	c.mu.Lock()
	bus := c.bus
	c.mu.Unlock()
	if bus == nil {
		return
	}
	if err := bus.Publish(ctx, ev); err != nil {
		logger.Warn("Failed to publish index invalidation", "op", ev.Op, "user_id", ev.UserID, "error", err)
	}
}

// apply changes local state only.
func (c *Cache) apply(ev Event) {
	scope := models.Scope{UserID: ev.UserID, DocumentID: ev.DocumentID}
	keys := c.affectedKeys(scope)

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		e, ok := c.entries.Peek(key)
		if !ok {
			continue
		}
		switch ev.Op {
		case OpEvict:
			c.entries.Remove(key)
		default:
			e.state = StateStale
		}
	}
}

// affectedKeys lists cached keys a change to scope touches: for a document,
// the document and its user; for a user, every key of that user.
func (c *Cache) affectedKeys(scope models.Scope) []string {
	userKey := models.UserKeyPrefix(scope.UserID)
	if scope.IsDocument() {
		return []string{scope.Key(), userKey}
	}
	var keys []string
	for _, k := range c.entries.Keys() {
		if k == userKey || strings.HasPrefix(k, userKey+"/") {
			keys = append(keys, k)
		}
	}
	return keys
}

// SweepStale drops stale entries so their memory is released before the LRU
// would evict them.
func (c *Cache) SweepStale() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, k := range c.entries.Keys() {
		if e, ok := c.entries.Peek(k); ok && e.state == StateStale {
			c.entries.Remove(k)
			n++
		}
	}
	return n
}

// EntryInfo describes one scope without triggering a build.
type EntryInfo struct {
	State    State
	Chunks   int
	HasTFIDF bool
	BuiltAt  time.Time
}

func (c *Cache) Info(scope models.Scope) EntryInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries.Peek(scope.Key())
	if !ok {
		return EntryInfo{State: StateAbsent}
	}
	return EntryInfo{State: e.state, Chunks: e.index.Len(), HasTFIDF: e.index.HasTFIDF(), BuiltAt: e.builtAt}
}

type Stats struct {
	Entries  int    `json:"entries"`
	Ready    int    `json:"ready"`
	Building int    `json:"building"`
	Stale    int    `json:"stale"`
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
	Waits    uint64 `json:"waits"`
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Waits: c.waits.Load()}
	for _, k := range c.entries.Keys() {
		e, ok := c.entries.Peek(k)
		if !ok {
			continue
		}
		st.Entries++
		switch e.state {
		case StateReady:
			st.Ready++
		case StateBuilding:
			st.Building++
		case StateStale:
			st.Stale++
		}
	}
	return st
}
