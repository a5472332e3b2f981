package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	RequestCounter      metric.Int64Counter
	RequestDuration     metric.Float64Histogram
	SearchDuration      metric.Float64Histogram
	SearchResults       metric.Int64Histogram
	IndexedChunks       metric.Int64Counter
	CacheLookups        metric.Int64Counter
	IndexBuildDuration  metric.Float64Histogram
	CircuitBreakerState metric.Int64Counter
	DatabaseOperations  metric.Int64Counter
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)

	requestCounter, err := meter.Int64Counter(
		"http.requests.total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	searchDuration, err := meter.Float64Histogram(
		"retrieval.search.duration",
		metric.WithDescription("Search latency including index load, in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	searchResults, err := meter.Int64Histogram(
		"retrieval.search.results",
		metric.WithDescription("Number of chunks returned per search"),
	)
	if err != nil {
		return nil, err
	}

	indexedChunks, err := meter.Int64Counter(
		"retrieval.index.chunks",
		metric.WithDescription("Chunks written to the token store"),
	)
	if err != nil {
		return nil, err
	}

	cacheLookups, err := meter.Int64Counter(
		"retrieval.cache.lookups",
		metric.WithDescription("Index cache lookups by outcome"),
	)
	if err != nil {
		return nil, err
	}

	indexBuildDuration, err := meter.Float64Histogram(
		"retrieval.index.build.duration",
		metric.WithDescription("Index build duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	circuitBreakerState, err := meter.Int64Counter(
		"scraper.breaker.state_changes",
		metric.WithDescription("Circuit breaker state changes"),
	)
	if err != nil {
		return nil, err
	}

	databaseOperations, err := meter.Int64Counter(
		"database.operations.total",
		metric.WithDescription("Total database operations"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RequestCounter:      requestCounter,
		RequestDuration:     requestDuration,
		SearchDuration:      searchDuration,
		SearchResults:       searchResults,
		IndexedChunks:       indexedChunks,
		CacheLookups:        cacheLookups,
		IndexBuildDuration:  indexBuildDuration,
		CircuitBreakerState: circuitBreakerState,
		DatabaseOperations:  databaseOperations,
	}, nil
}

// RecordRequest records HTTP request metrics
func (m *Metrics) RecordRequest(method, path, status string, duration float64) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.String("http.status", status),
	}

	m.RequestCounter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	m.RequestDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordSearch records one completed search
func (m *Metrics) RecordSearch(ctx context.Context, method string, results int, duration float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("retrieval.method", method))
	m.SearchDuration.Record(ctx, duration, attrs)
	m.SearchResults.Record(ctx, int64(results), attrs)
}

// RecordIndexed records chunks written for one document
func (m *Metrics) RecordIndexed(ctx context.Context, chunks int) {
	if m == nil {
		return
	}
	m.IndexedChunks.Add(ctx, int64(chunks))
}

// RecordCacheLookup records a cache outcome: hit, miss, wait or empty
func (m *Metrics) RecordCacheLookup(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("cache.outcome", outcome)))
}

// RecordIndexBuild records the time taken to build a scope index
func (m *Metrics) RecordIndexBuild(ctx context.Context, scopeKind string, chunks int, duration float64) {
	if m == nil {
		return
	}
	m.IndexBuildDuration.Record(ctx, duration, metric.WithAttributes(
		attribute.String("scope.kind", scopeKind),
		attribute.Int("index.chunks", chunks),
	))
}

// RecordCircuitBreakerState records circuit breaker state changes
func (m *Metrics) RecordCircuitBreakerState(service, state string) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("service", service),
		attribute.String("state", state),
	}

	m.CircuitBreakerState.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

// RecordDatabaseOperation records database operation metrics
func (m *Metrics) RecordDatabaseOperation(operation, collection string, success bool) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("db.operation", operation),
		attribute.String("db.collection", collection),
		attribute.Bool("db.success", success),
	}

	m.DatabaseOperations.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}
