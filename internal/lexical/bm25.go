package lexical

import "math"

// Okapi defaults.
const (
	DefaultK1 = 1.5
	DefaultB  = 0.75
)

// BM25Params tunes term-frequency saturation (K1) and length normalization (B).
type BM25Params struct {
	K1 float64
	B  float64
}

// DefaultBM25Params returns the Okapi defaults.
func DefaultBM25Params() BM25Params {
	return BM25Params{K1: DefaultK1, B: DefaultB}
}

// BM25 holds corpus statistics for Okapi BM25 scoring. Position i of every
// slice refers to document i of the corpus it was built from.
type BM25 struct {
	params    BM25Params
	termFreqs []map[string]int
	docLens   []int
	avgDocLen float64
	idf       map[string]float64
}

// NewBM25 computes statistics over a tokenized corpus.
func NewBM25(corpus [][]string, params BM25Params) *BM25 {
	if params.K1 <= 0 {
		params.K1 = DefaultK1
	}
	if params.B < 0 || params.B > 1 {
		params.B = DefaultB
	}

	m := &BM25{
		params:    params,
		termFreqs: make([]map[string]int, len(corpus)),
		docLens:   make([]int, len(corpus)),
		idf:       make(map[string]float64),
	}

	docFreqs := make(map[string]int)
	total := 0
	for i, doc := range corpus {
		tf := make(map[string]int, len(doc))
		for _, tok := range doc {
			tf[tok]++
		}
		for tok := range tf {
			docFreqs[tok]++
		}
		m.termFreqs[i] = tf
		m.docLens[i] = len(doc)
		total += len(doc)
	}
	if len(corpus) > 0 {
		m.avgDocLen = float64(total) / float64(len(corpus))
	}

	// ln(1 + (N - n + 0.5) / (n + 0.5)) stays positive for every n <= N
	n := float64(len(corpus))
	for tok, df := range docFreqs {
		m.idf[tok] = math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))
	}
	return m
}

// Len returns the number of documents.
func (m *BM25) Len() int {
	return len(m.docLens)
}

// IDF returns the inverse document frequency of a token, 0 when unseen.
func (m *BM25) IDF(token string) float64 {
	return m.idf[token]
}

// Scores returns one score per corpus position. Documents that contain none
// of the query tokens score exactly 0.
func (m *BM25) Scores(query []string) []float64 {
	scores := make([]float64, len(m.docLens))
	if m.avgDocLen == 0 {
		return scores
	}
	k1, b := m.params.K1, m.params.B
	for _, q := range query {
		idf, ok := m.idf[q]
		if !ok {
			continue
		}
		for i, tf := range m.termFreqs {
			f := float64(tf[q])
			if f == 0 {
				continue
			}
			norm := k1 * (1 - b + b*float64(m.docLens[i])/m.avgDocLen)
			scores[i] += idf * f * (k1 + 1) / (f + norm)
		}
	}
	return scores
}
