package lexical

import (
	"errors"
	"fmt"
	"time"

	"luma-backend/models"
)

// Options configures index construction.
type Options struct {
	BM25        BM25Params
	MaxFeatures int
}

// DefaultOptions returns the stock BM25 parameters and vocabulary bound.
func DefaultOptions() Options {
	return Options{BM25: DefaultBM25Params(), MaxFeatures: DefaultMaxFeatures}
}

// Corpus is the input of Build. Tokens[i] and Terms[i] belong to Refs[i].
// A nil Terms slice builds a BM25-only index.
type Corpus struct {
	Refs   []models.ChunkRef
	Tokens [][]string
	Terms  [][]string
}

// Index is a built, immutable ranking structure. Refs is positionally aligned
// with the document order inside BM25 and TFIDF.
type Index struct {
	Refs    []models.ChunkRef
	BM25    *BM25
	TFIDF   *TFIDF
	BuiltAt time.Time
}

// ErrMisaligned reports a corpus whose token lists do not match its refs.
var ErrMisaligned = errors.New("lexical: corpus is not aligned with its chunk refs")

// Build constructs an index. It returns a nil index for an empty corpus, which
// callers treat as "no results". A nil Terms slice, or terms yielding an empty
// vocabulary, builds a BM25-only index.
func Build(c Corpus, opts Options) (*Index, error) {
	if len(c.Tokens) != len(c.Refs) {
		return nil, fmt.Errorf("%w: %d refs, %d token lists", ErrMisaligned, len(c.Refs), len(c.Tokens))
	}
	if c.Terms != nil && len(c.Terms) != len(c.Refs) {
		return nil, fmt.Errorf("%w: %d refs, %d term lists", ErrMisaligned, len(c.Refs), len(c.Terms))
	}
	if len(c.Refs) == 0 {
		return nil, nil
	}
	idx := &Index{
		Refs:    c.Refs,
		BM25:    NewBM25(c.Tokens, opts.BM25),
		BuiltAt: time.Now(),
	}
	if c.Terms != nil {
		if tfidf, err := NewTFIDF(c.Terms, opts.MaxFeatures); err == nil {
			idx.TFIDF = tfidf
		}
	}
	return idx, nil
}

// Empty is nil-safe.
func (i *Index) Empty() bool {
	return i == nil || len(i.Refs) == 0
}

// Len returns the number of indexed chunks.
func (i *Index) Len() int {
	if i == nil {
		return 0
	}
	return len(i.Refs)
}

// HasTFIDF reports whether the TF-IDF signal is available.
func (i *Index) HasTFIDF() bool {
	return i != nil && i.TFIDF != nil
}

// ScoreBM25 tokenizes the query and scores every position.
func (i *Index) ScoreBM25(query string) []float64 {
	return i.BM25.Scores(Tokenize(query))
}

// ScoreTFIDF scores every position by cosine similarity, nil when TF-IDF is unavailable.
func (i *Index) ScoreTFIDF(query string) []float64 {
	if i.TFIDF == nil {
		return nil
	}
	return i.TFIDF.Scores(AnalyzeTerms(query))
}
