package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"luma-backend/internal/config"
	"luma-backend/internal/database"
	"luma-backend/internal/fusion"
	"luma-backend/internal/indexcache"
	"luma-backend/internal/lexical"
	"luma-backend/internal/logger"
	"luma-backend/internal/telemetry"
	"luma-backend/models"
)

// MethodFallback labels results returned for queries too short to score.
const MethodFallback = "fallback"

// minQueryLength is the number of non-whitespace characters below which a
// query is answered with the first chunks in stored order.
const minQueryLength = 3

// RetrievalConfig holds the ranking defaults of the service.
type RetrievalConfig struct {
	TopK          int
	MaxTopK       int
	Advanced      bool
	DefaultMethod fusion.Method
	Fusion        fusion.Options
}

func RetrievalConfigFrom(cfg *config.Config) RetrievalConfig {
	method, err := fusion.ParseMethod(cfg.DefaultSearchMethod, fusion.Hybrid)
	if err != nil {
		method = fusion.Hybrid
	}
	return RetrievalConfig{
		TopK:          cfg.RAGTopK,
		MaxTopK:       cfg.MaxTopK,
		Advanced:      cfg.AdvancedRAG,
		DefaultMethod: method,
		Fusion:        fusion.Options{Alpha: cfg.HybridAlpha, RRFK: cfg.RRFK},
	}
}

// IndexCacheOptions derives cache settings from configuration.
func IndexCacheOptions(cfg *config.Config, metrics *telemetry.Metrics) indexcache.Options {
	return indexcache.Options{
		MaxEntries: cfg.IndexCacheMaxEntries,
		MaxRecords: cfg.IndexMaxRecords,
		Advanced:   cfg.AdvancedRAG,
		Lexical: lexical.Options{
			BM25:        lexical.BM25Params{K1: cfg.BM25K1, B: cfg.BM25B},
			MaxFeatures: cfg.TFIDFMaxFeatures,
		},
		Metrics: metrics,
	}
}

// RetrievalService is the entry point for indexing and ranked search.
type RetrievalService struct {
	store   database.RetrievalStore
	cache   *indexcache.Cache
	cfg     RetrievalConfig
	metrics *telemetry.Metrics
}

func NewRetrievalService(store database.RetrievalStore, cache *indexcache.Cache, cfg RetrievalConfig, metrics *telemetry.Metrics) *RetrievalService {
	if cfg.TopK <= 0 {
		cfg.TopK = 4
	}
	if cfg.MaxTopK < cfg.TopK {
		cfg.MaxTopK = cfg.TopK
	}
	if !cfg.DefaultMethod.Valid() {
		cfg.DefaultMethod = fusion.Hybrid
	}
	return &RetrievalService{store: store, cache: cache, cfg: cfg, metrics: metrics}
}

func (s *RetrievalService) Advanced() bool {
	return s.cfg.Advanced
}

func documentScope(scope models.Scope) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	if !scope.IsDocument() {
		return fmt.Errorf("%w: indexing requires a document id", models.ErrInvalidScope)
	}
	return nil
}

// Index persists chunk text and token records for one document, then drops
// any records beyond the new chunk count. Chunk indices must cover 0..n-1
// exactly and every chunk needs non-blank text.
func (s *RetrievalService) Index(ctx context.Context, scope models.Scope, chunks []models.IndexChunk, source string) (*models.IndexResponse, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "RetrievalService.Index")
	defer span.End()
	span.SetAttributes(attribute.String("scope", scope.Key()), attribute.Int("chunks", len(chunks)))

	if err := documentScope(scope); err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no chunks to index", models.ErrInvalidInput)
	}
	ordered := append([]models.IndexChunk(nil), chunks...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })
	for i, ch := range ordered {
		if ch.Index != i {
			return nil, fmt.Errorf("%w: chunk indices must run 0..%d without gaps", models.ErrInvalidInput, len(ordered)-1)
		}
		if strings.TrimSpace(ch.Text) == "" {
			return nil, fmt.Errorf("%w: chunk %d has no text", models.ErrInvalidInput, ch.Index)
		}
	}

	docChunks := make([]models.DocumentChunk, len(ordered))
	records := make([]models.TokenRecord, 0, 2*len(ordered))
	tfidfAvailable := false
	for i, ch := range ordered {
		docChunks[i] = models.DocumentChunk{
			ChunkIndex:    ch.Index,
			Text:          ch.Text,
			StartSentence: ch.StartSentence,
			EndSentence:   ch.EndSentence,
			WordCount:     len(strings.Fields(ch.Text)),
			Source:        source,
		}
		records = append(records, models.TokenRecord{
			ChunkID: ch.Index,
			Method:  models.TokenMethodBM25,
			Tokens:  lexical.Tokenize(ch.Text),
		})
		if s.cfg.Advanced {
			terms := lexical.AnalyzeTerms(ch.Text)
			tfidfAvailable = tfidfAvailable || len(terms) > 0
			records = append(records, models.TokenRecord{
				ChunkID: ch.Index,
				Method:  models.TokenMethodTFIDF,
				Tokens:  terms,
			})
		}
	}

	if err := s.store.SaveChunks(ctx, scope, docChunks); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save chunks failed")
		return nil, err
	}
	if err := s.cache.SaveTokens(ctx, scope, records); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save tokens failed")
		return nil, err
	}

	keepBelow := len(ordered)
	prunedTokens, err := s.store.PruneTokens(ctx, scope, keepBelow)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.PruneChunks(ctx, scope, keepBelow); err != nil {
		return nil, err
	}
	if prunedTokens > 0 {
		// a load between the upsert and the prune may have cached the old tail
		s.cache.Invalidate(ctx, scope)
	}

	s.metrics.RecordIndexed(ctx, len(ordered))
	logger.Debug("Indexed document", "scope", scope.Key(), "chunks", len(ordered), "pruned", prunedTokens)

	return &models.IndexResponse{
		DocumentID:     scope.DocumentID,
		IndexedChunks:  len(ordered),
		PrunedRecords:  prunedTokens,
		TFIDFAvailable: tfidfAvailable,
	}, nil
}

// SearchOptions are the per-call knobs of Search. Zero values use defaults.
type SearchOptions struct {
	Query    string
	K        int
	Method   string
	Alpha    *float64
	Advanced *bool
}

func (s *RetrievalService) clampK(k int) int {
	if k <= 0 {
		return s.cfg.TopK
	}
	if k > s.cfg.MaxTopK {
		return s.cfg.MaxTopK
	}
	return k
}

// resolveMethod picks the requested method, downgraded to BM25 when advanced
// ranking is off for this call.
func (s *RetrievalService) resolveMethod(opts SearchOptions) (fusion.Method, error) {
	method, err := fusion.ParseMethod(opts.Method, s.cfg.DefaultMethod)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	advanced := s.cfg.Advanced
	if opts.Advanced != nil {
		advanced = advanced && *opts.Advanced
	}
	if !advanced {
		return fusion.BM25, nil
	}
	return method, nil
}

// Search ranks the chunks of scope against the query. An empty scope yields
// an empty response; only storage or build failures are errors.
func (s *RetrievalService) Search(ctx context.Context, scope models.Scope, opts SearchOptions) (*models.SearchResponse, error) {
	start := time.Now()
	ctx, span := telemetry.Tracer().Start(ctx, "RetrievalService.Search")
	defer span.End()
	span.SetAttributes(attribute.String("scope", scope.Key()))

	if err := scope.Validate(); err != nil {
		return nil, err
	}
	method, err := s.resolveMethod(opts)
	if err != nil {
		return nil, err
	}
	k := s.clampK(opts.K)

	idx, err := s.cache.Load(ctx, scope)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "index load failed")
		return nil, err
	}
	if idx.Empty() {
		return &models.SearchResponse{Results: []models.SearchResult{}, Method: string(method)}, nil
	}

	var ranked []fusion.Ranked
	label := string(method)
	if lexical.NonSpaceLen(opts.Query) < minQueryLength {
		label = MethodFallback
		n := min(k, idx.Len())
		ranked = make([]fusion.Ranked, n)
		for i := 0; i < n; i++ {
			ranked[i] = fusion.Ranked{Position: i, Score: 1.0}
		}
	} else {
		if method.NeedsTFIDF() && !idx.HasTFIDF() {
			logger.Debug("TF-IDF unavailable, falling back to BM25", "scope", scope.Key(), "method", method)
			method = fusion.BM25
			label = string(method)
		}
		ranked, err = s.rank(ctx, idx, method, opts, k)
		if err != nil {
			return nil, err
		}
	}

	results, err := s.resolve(ctx, scope, idx, ranked, label)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chunk lookup failed")
		return nil, err
	}

	span.SetAttributes(attribute.String("method", label), attribute.Int("results", len(results)))
	s.metrics.RecordSearch(ctx, label, len(results), time.Since(start).Seconds())
	return &models.SearchResponse{Results: results, Method: label, Count: len(results)}, nil
}

// rank scores the query with every signal the method needs, concurrently.
func (s *RetrievalService) rank(ctx context.Context, idx *lexical.Index, method fusion.Method, opts SearchOptions, k int) ([]fusion.Ranked, error) {
	var signals fusion.Signals
	g, _ := errgroup.WithContext(ctx)
	if method.NeedsBM25() {
		g.Go(func() error {
			signals.BM25 = idx.ScoreBM25(opts.Query)
			return nil
		})
	}
	if method.NeedsTFIDF() {
		g.Go(func() error {
			signals.TFIDF = idx.ScoreTFIDF(opts.Query)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fopts := s.cfg.Fusion
	if opts.Alpha != nil {
		fopts.Alpha = *opts.Alpha
	}
	return fusion.Fuse(method, signals, k, fopts)
}

// resolve maps ranked positions to chunk content with one batched lookup.
// Positions whose text is gone are skipped.
func (s *RetrievalService) resolve(ctx context.Context, scope models.Scope, idx *lexical.Index, ranked []fusion.Ranked, label string) ([]models.SearchResult, error) {
	results := make([]models.SearchResult, 0, len(ranked))
	if len(ranked) == 0 {
		return results, nil
	}
	refs := make([]models.ChunkRef, len(ranked))
	for i, r := range ranked {
		refs[i] = idx.Refs[r.Position]
	}
	chunks, err := s.store.FetchChunks(ctx, scope.UserID, refs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", indexcache.ErrIndexUnavailable, err)
	}

	for i, r := range ranked {
		ch, ok := chunks[refs[i]]
		if !ok {
			logger.Warn("Chunk text missing for indexed tokens", "scope", scope.Key(), "chunk", refs[i].String())
			continue
		}
		source := ch.Source
		if source == "" {
			source = "unknown"
		}
		results = append(results, models.SearchResult{
			Content:    ch.Text,
			Score:      r.Score,
			Source:     source,
			DocumentID: refs[i].DocumentID,
			ChunkIndex: refs[i].Index,
			Method:     label,
			TFIDFScore: r.TFIDFScore,
			BM25Score:  r.BM25Score,
			TFIDFRank:  r.TFIDFRank,
			BM25Rank:   r.BM25Rank,
		})
	}
	return results, nil
}

// DeleteResult counts what Delete removed.
type DeleteResult struct {
	TokenRecords int64 `json:"token_records"`
	Chunks       int64 `json:"chunks"`
}

// Delete purges token records and chunk text of scope and evicts every
// affected cache entry. A user scope purges the whole corpus.
func (s *RetrievalService) Delete(ctx context.Context, scope models.Scope) (*DeleteResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "RetrievalService.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("scope", scope.Key()))

	tokens, err := s.cache.DeleteScope(ctx, scope)
	if err != nil {
		return nil, err
	}
	chunks, err := s.store.DeleteChunks(ctx, scope)
	if err != nil {
		return nil, err
	}
	logger.Info("Deleted index scope", "scope", scope.Key(), "token_records", tokens, "chunks", chunks)
	return &DeleteResult{TokenRecords: tokens, Chunks: chunks}, nil
}

// Info loads the scope index and reports its state.
func (s *RetrievalService) Info(ctx context.Context, scope models.Scope) (*models.IndexInfo, error) {
	idx, err := s.cache.Load(ctx, scope)
	if err != nil {
		return nil, err
	}
	entry := s.cache.Info(scope)

	methods := fusion.Available(idx.HasTFIDF() && s.cfg.Advanced)
	names := make([]string, len(methods))
	for i, m := range methods {
		names[i] = string(m)
	}
	info := &models.IndexInfo{
		Scope:          scope.Key(),
		State:          string(entry.State),
		Chunks:         idx.Len(),
		TFIDFAvailable: idx.HasTFIDF(),
		SearchMethods:  names,
	}
	if !entry.BuiltAt.IsZero() {
		info.BuiltAt = entry.BuiltAt.UTC().Format(time.RFC3339)
	}
	return info, nil
}

// IsUnavailable reports whether err means the index could not be served.
func IsUnavailable(err error) bool {
	return errors.Is(err, indexcache.ErrIndexUnavailable)
}
