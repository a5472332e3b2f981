// Package crawler fetches a single web page and reduces it to readable text.
package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	colly "github.com/gocolly/colly/v2"
	"github.com/sony/gobreaker"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"luma-backend/internal/config"
	"luma-backend/internal/logger"
	"luma-backend/internal/telemetry"
)

var (
	ErrScrapingFailed = errors.New("scraping failed")
	ErrNoContent      = errors.New("no readable content")
	ErrCircuitOpen    = errors.New("scraper circuit open")
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxBodySize = 10 << 20
	defaultUserAgent   = "Mozilla/5.0 (compatible; LumaBot/1.0)"
)

// Config tunes a Scraper. Zero values fall back to defaults.
type Config struct {
	Timeout     time.Duration
	UserAgent   string
	MaxBodySize int
	// RequestsPerSecond paces outbound fetches; zero disables pacing.
	RequestsPerSecond float64

	// Optional headless-browser rendering before extraction
	RenderJS         bool
	RenderTimeout    time.Duration
	WaitSelector     string
	NetworkIdleAfter time.Duration

	Metrics *telemetry.Metrics
}

// ConfigFrom maps application settings onto scraper settings.
func ConfigFrom(cfg *config.Config, metrics *telemetry.Metrics) Config {
	return Config{
		Timeout:           cfg.HTTPTimeout,
		UserAgent:         cfg.UserAgent,
		RequestsPerSecond: cfg.ScraperRPS,
		RenderJS:          cfg.ScraperRenderJS,
		RenderTimeout:     cfg.HTTPTimeout,
		WaitSelector:      "body",
		NetworkIdleAfter:  500 * time.Millisecond,
		Metrics:           metrics,
	}
}

// Page is the cleaned result of one fetch.
type Page struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	CharCount int       `json:"char_count"`
	WordCount int       `json:"word_count"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Scraper fetches pages through a circuit breaker and an outbound rate limit.
// It is safe for concurrent use.
type Scraper struct {
	cfg       Config
	breaker   *gobreaker.CircuitBreaker
	limiter   *rate.Limiter
	transport *http.Transport
}

func NewScraper(cfg Config) *Scraper {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = cfg.Timeout
	}

	s := &Scraper{
		cfg:       cfg,
		transport: http.DefaultTransport.(*http.Transport).Clone(),
	}
	if cfg.RequestsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "scraper",
		MaxRequests: 2,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		// an empty page or a cancelled caller says nothing about upstream health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNoContent) ||
				errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			cfg.Metrics.RecordCircuitBreakerState(name, to.String())
		},
	})
	return s
}

// Fetch downloads rawURL and extracts its readable text. Failures wrap
// ErrScrapingFailed, ErrNoContent or ErrCircuitOpen.
func (s *Scraper) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	target, err := normalizeURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScrapingFailed, err)
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	ctx, span := telemetry.Tracer().Start(ctx, "Scraper.Fetch")
	defer span.End()

	result, err := s.breaker.Execute(func() (interface{}, error) {
		if s.cfg.RenderJS {
			return s.fetchRendered(ctx, target)
		}
		return s.fetchStatic(ctx, target)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		span.RecordError(err)
		return nil, err
	}

	page := result.(*Page)
	page.URL = target
	page.FetchedAt = time.Now().UTC()
	return page, nil
}

// fetchStatic downloads the page with a fresh collector.
func (s *Scraper) fetchStatic(ctx context.Context, target string) (*Page, error) {
	c := colly.NewCollector(
		colly.StdlibContext(ctx),
		colly.MaxDepth(1),
		colly.MaxBodySize(s.cfg.MaxBodySize),
		colly.UserAgent(s.cfg.UserAgent),
	)
	c.WithTransport(s.transport)
	c.SetRequestTimeout(s.cfg.Timeout)

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
		r.Headers.Set("Accept-Encoding", "gzip, br")
	})

	var (
		body        []byte
		contentType string
	)
	c.OnResponse(func(r *colly.Response) {
		contentType = r.Headers.Get("Content-Type")
		body = decodeBody(r.Body, r.Headers.Get("Content-Encoding"), contentType)
	})

	if err := c.Visit(target); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrScrapingFailed, target, err)
	}

	switch {
	case isHTML(contentType):
		return parseHTML(body)
	case strings.HasPrefix(contentType, "text/plain"):
		return plainPage(string(body))
	default:
		return nil, fmt.Errorf("%w: unsupported content type %q", ErrNoContent, contentType)
	}
}

func (s *Scraper) fetchRendered(ctx context.Context, target string) (*Page, error) {
	html, err := renderPageHTML(ctx, target, s.cfg)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: render %s: %v", ErrScrapingFailed, target, err)
	}
	return parseHTML([]byte(html))
}

// decodeBody undoes brotli encoding, which the transport leaves alone, and
// converts the declared or sniffed charset to UTF-8.
func decodeBody(raw []byte, contentEncoding, contentType string) []byte {
	body := raw
	if strings.Contains(contentEncoding, "br") {
		if decompressed, err := io.ReadAll(brotli.NewReader(bytes.NewReader(body))); err == nil {
			body = decompressed
		}
	}
	if len(body) == 0 {
		return body
	}
	utf8Reader, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return body
	}
	decoded, err := io.ReadAll(utf8Reader)
	if err != nil || len(decoded) == 0 {
		return body
	}
	return decoded
}

func isHTML(contentType string) bool {
	return contentType == "" ||
		strings.Contains(contentType, "text/html") ||
		strings.Contains(contentType, "application/xhtml+xml")
}

// normalizeURL canonicalises a user-supplied URL: https by default, lowercase
// scheme and host, no fragment, no default port.
func normalizeURL(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", errors.New("empty url")
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return "", errors.New("url has no host")
	}
	parsed.Fragment = ""
	parsed.Host = strings.ToLower(parsed.Host)

	if (parsed.Port() == "80" && parsed.Scheme == "http") || (parsed.Port() == "443" && parsed.Scheme == "https") {
		parsed.Host = parsed.Hostname()
	}
	if parsed.Path == "" {
		parsed.Path = "/"
	} else if parsed.Path != "/" {
		parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	}

	return parsed.String(), nil
}

// NormalizeURL exposes the canonical form used to deduplicate documents.
func NormalizeURL(rawURL string) (string, error) {
	return normalizeURL(rawURL)
}
