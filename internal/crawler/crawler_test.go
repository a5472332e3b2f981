package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const articleHTML = `<!doctype html>
<html><head><title> Graph   Databases </title><style>p{color:red}</style></head>
<body>
<nav><a href="/">Home</a></nav>
<header>Site banner</header>
<h1>Graph databases</h1>
<p>Graph databases store   nodes and edges.</p>
<script>var tracking = "ignored";</script>
<ul><li>Neo4j</li><li>Dgraph</li></ul>
<footer>Copyright</footer>
</body></html>`

func newTestScraper() *Scraper {
	return NewScraper(Config{Timeout: 5 * time.Second})
}

func TestScraper_FetchExtractsReadableBlocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "LumaBot")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	page, err := newTestScraper().Fetch(context.Background(), srv.URL+"/article#top")
	require.NoError(t, err)

	assert.Equal(t, srv.URL+"/article", page.URL)
	assert.Equal(t, "Graph Databases", page.Title)
	assert.Equal(t, "Graph databases\n\nGraph databases store nodes and edges.\n\nNeo4j\n\nDgraph", page.Text)
	assert.NotContains(t, page.Text, "tracking")
	assert.NotContains(t, page.Text, "Copyright")
	assert.Equal(t, 10, page.WordCount)
	assert.False(t, page.FetchedAt.IsZero())
}

func TestScraper_DecodesBrotli(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Content-Encoding", "br")
		bw := brotli.NewWriter(w)
		bw.Write([]byte(`<html><body><p>Compressed paragraph text.</p></body></html>`))
		bw.Close()
	}))
	defer srv.Close()

	page, err := newTestScraper().Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Compressed paragraph text.", page.Text)
}

func TestScraper_DecodesDeclaredCharset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		// "café" in latin-1
		w.Write([]byte("<html><body><p>caf\xe9 au lait</p></body></html>"))
	}))
	defer srv.Close()

	page, err := newTestScraper().Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "café au lait", page.Text)
}

func TestScraper_PlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("  first paragraph\n\nsecond   paragraph  "))
	}))
	defer srv.Close()

	page, err := newTestScraper().Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "first paragraph\n\nsecond paragraph", page.Text)
}

func TestScraper_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/empty":
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(`<html><body><script>only()</script></body></html>`))
		case "/binary":
			w.Header().Set("Content-Type", "application/pdf")
			w.Write([]byte("%PDF-1.4"))
		}
	}))
	defer srv.Close()

	s := newTestScraper()
	ctx := context.Background()

	_, err := s.Fetch(ctx, srv.URL+"/missing")
	assert.ErrorIs(t, err, ErrScrapingFailed)

	_, err = s.Fetch(ctx, srv.URL+"/empty")
	assert.ErrorIs(t, err, ErrNoContent)

	_, err = s.Fetch(ctx, srv.URL+"/binary")
	assert.ErrorIs(t, err, ErrNoContent)

	_, err = s.Fetch(ctx, "ftp://example.com/file")
	assert.ErrorIs(t, err, ErrScrapingFailed)
}

func TestScraper_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := newTestScraper()
	for i := 0; i < 3; i++ {
		_, err := s.Fetch(context.Background(), srv.URL)
		require.ErrorIs(t, err, ErrScrapingFailed)
	}

	_, err := s.Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 3, hits)
}

func TestScraper_NoContentDoesNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body></body></html>`))
	}))
	defer srv.Close()

	s := newTestScraper()
	for i := 0; i < 5; i++ {
		_, err := s.Fetch(context.Background(), srv.URL)
		require.ErrorIs(t, err, ErrNoContent)
	}
}

func TestScraper_RespectsCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := newTestScraper().Fetch(ctx, srv.URL)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"example.com", "https://example.com/", false},
		{"HTTPS://Example.COM:443/Docs/", "https://example.com/Docs", false},
		{"http://example.com:80/a#frag", "http://example.com/a", false},
		{"http://example.com:8080/a?q=1", "http://example.com:8080/a?q=1", false},
		{"", "", true},
		{"javascript://alert(1)", "", true},
		{"https://", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeURL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScraper_RenderJS(t *testing.T) {
	if _, err := exec.LookPath("google-chrome"); err != nil {
		if _, err := exec.LookPath("chromium"); err != nil {
			t.Skip("headless chrome not installed")
		}
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><div id="app"></div>
<script>document.getElementById("app").innerHTML = "<p>Rendered on the client.</p>";</script></body></html>`))
	}))
	defer srv.Close()

	s := NewScraper(Config{RenderJS: true, RenderTimeout: 20 * time.Second, WaitSelector: "p"})
	page, err := s.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.True(t, strings.Contains(page.Text, "Rendered on the client."))
}
