package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI    string
	DBName      string
	Port        string
	GinMode     string
	CORSOrigins []string

	// JWT
	JWTSecret    string
	JWTExpiresIn time.Duration
	JWTIssuer    string

	// Redis Configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Chunking
	ChunkSize     int
	ChunkOverlap  int
	ChunkStrategy string // "sentence" (default) or "paragraph"

	// Retrieval
	RAGTopK             int
	MaxTopK             int
	AdvancedRAG         bool
	DefaultSearchMethod string
	HybridAlpha         float64
	RRFK                int
	BM25K1              float64
	BM25B               float64
	TFIDFMaxFeatures    int

	// Index cache
	IndexCacheMaxEntries     int
	IndexMaxRecords          int
	IndexStaleSweep          time.Duration
	IndexInvalidationChannel string

	// HTTP guards
	RateLimitReqs   int
	RateLimitWindow int
	MaxRequestBytes int64

	// Scraper
	HTTPTimeout     time.Duration
	UserAgent       string
	ScraperRenderJS bool
	ScraperRPS      float64

	// Jobs
	JobTTL            time.Duration
	WorkerConcurrency int

	// Telemetry
	OTelEnabled     bool
	OTelEndpoint    string
	OTelSampleRatio float64
}

func LoadConfig() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadRetrievalConfig reads configuration without requiring server secrets.
func LoadRetrievalConfig() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateRetrieval(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017"),
		DBName:      getEnv("DB_NAME", "luma_db"),
		Port:        getEnv("PORT", "8080"),
		GinMode:     getEnv("GIN_MODE", "debug"),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173")),

		JWTSecret:    getEnv("JWT_SECRET", ""),
		JWTExpiresIn: getEnvDuration("JWT_EXPIRES_IN", 24*time.Hour),
		JWTIssuer:    getEnv("JWT_ISSUER", "luma-backend"),

		// Redis Configuration
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		ChunkSize:     getEnvInt("CHUNK_SIZE", 512),
		ChunkOverlap:  getEnvInt("CHUNK_OVERLAP", 50),
		ChunkStrategy: strings.ToLower(getEnv("CHUNK_STRATEGY", "sentence")),

		RAGTopK:             getEnvInt("RAG_TOP_K", 4),
		MaxTopK:             getEnvInt("MAX_TOP_K", 100),
		AdvancedRAG:         getEnvBool("ADVANCED_RAG", true),
		DefaultSearchMethod: strings.ToLower(getEnv("DEFAULT_SEARCH_METHOD", "hybrid")),
		HybridAlpha:         getEnvFloat64("HYBRID_ALPHA", 0.5),
		RRFK:                getEnvInt("RRF_K", 60),
		BM25K1:              getEnvFloat64("BM25_K1", 1.5),
		BM25B:               getEnvFloat64("BM25_B", 0.75),
		TFIDFMaxFeatures:    getEnvInt("TFIDF_MAX_FEATURES", 1000),

		IndexCacheMaxEntries:     getEnvInt("INDEX_CACHE_MAX_ENTRIES", 512),
		IndexMaxRecords:          getEnvInt("INDEX_MAX_RECORDS", 50000),
		IndexStaleSweep:          getEnvDuration("INDEX_STALE_SWEEP", 10*time.Minute),
		IndexInvalidationChannel: getEnv("INDEX_INVALIDATION_CHANNEL", "luma:index:invalidate"),

		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 20),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),
		MaxRequestBytes: getEnvInt64("MAX_REQUEST_BYTES", 2<<20),

		HTTPTimeout:     getEnvDuration("HTTP_TIMEOUT", 30*time.Second),
		UserAgent:       getEnv("USER_AGENT", "Mozilla/5.0 (compatible; LumaBot/1.0)"),
		ScraperRenderJS: getEnvBool("SCRAPER_RENDER_JS", false),
		ScraperRPS:      getEnvFloat64("SCRAPER_RPS", 2),

		JobTTL:            getEnvDuration("JOB_TTL", 24*time.Hour),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 10),

		OTelEnabled:     getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint:    getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OTelSampleRatio: getEnvFloat64("OTEL_SAMPLE_RATIO", 0.1),
	}
	return cfg, nil
}

// Validate checks required and mutually consistent settings.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required - set it in .env file")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	return c.ValidateRetrieval()
}

// ValidateRetrieval checks only the chunking and ranking settings. The CLI
// uses it since it never issues tokens.
func (c *Config) ValidateRetrieval() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", c.ChunkOverlap)
	}
	if c.ChunkStrategy != "sentence" && c.ChunkStrategy != "paragraph" {
		return fmt.Errorf("CHUNK_STRATEGY must be sentence or paragraph, got %q", c.ChunkStrategy)
	}
	if c.RAGTopK <= 0 || c.MaxTopK < c.RAGTopK {
		return fmt.Errorf("RAG_TOP_K must be positive and not exceed MAX_TOP_K")
	}
	if c.HybridAlpha < 0 || c.HybridAlpha > 1 {
		return fmt.Errorf("HYBRID_ALPHA must be within [0, 1], got %v", c.HybridAlpha)
	}
	switch c.DefaultSearchMethod {
	case "bm25", "tfidf", "hybrid", "rrf":
	default:
		return fmt.Errorf("DEFAULT_SEARCH_METHOD %q is not supported", c.DefaultSearchMethod)
	}
	if c.RRFK < 0 {
		return fmt.Errorf("RRF_K must not be negative")
	}
	if c.IndexCacheMaxEntries <= 0 || c.IndexMaxRecords <= 0 {
		return fmt.Errorf("INDEX_CACHE_MAX_ENTRIES and INDEX_MAX_RECORDS must be positive")
	}
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
