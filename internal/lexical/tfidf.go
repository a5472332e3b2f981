package lexical

import (
	"errors"
	"math"
	"sort"
)

// DefaultMaxFeatures bounds the TF-IDF vocabulary.
const DefaultMaxFeatures = 1000

// ErrEmptyVocabulary means no document produced a single usable term.
var ErrEmptyVocabulary = errors.New("empty tf-idf vocabulary")

type sparseVector map[int]float64

// TFIDF is a unigram+bigram vector space with smoothed idf and L2-normalised
// document vectors.
type TFIDF struct {
	vocab map[string]int
	idf   []float64
	docs  []sparseVector
}

// NewTFIDF builds the vector space from per-document unigram terms (see
// AnalyzeTerms). The vocabulary keeps the maxFeatures most frequent features.
func NewTFIDF(corpus [][]string, maxFeatures int) (*TFIDF, error) {
	if maxFeatures <= 0 {
		maxFeatures = DefaultMaxFeatures
	}

	counts := make([]map[string]int, len(corpus))
	docFreqs := make(map[string]int)
	totals := make(map[string]int)
	for i, terms := range corpus {
		c := make(map[string]int)
		for _, f := range ngrams(terms) {
			c[f]++
			totals[f]++
		}
		for f := range c {
			docFreqs[f]++
		}
		counts[i] = c
	}
	if len(totals) == 0 {
		return nil, ErrEmptyVocabulary
	}

	features := make([]string, 0, len(totals))
	for f := range totals {
		features = append(features, f)
	}
	sort.Slice(features, func(i, j int) bool {
		if totals[features[i]] != totals[features[j]] {
			return totals[features[i]] > totals[features[j]]
		}
		return features[i] < features[j]
	})
	if len(features) > maxFeatures {
		features = features[:maxFeatures]
	}
	sort.Strings(features)

	m := &TFIDF{
		vocab: make(map[string]int, len(features)),
		idf:   make([]float64, len(features)),
		docs:  make([]sparseVector, len(corpus)),
	}
	n := float64(len(corpus))
	for i, f := range features {
		m.vocab[f] = i
		m.idf[i] = math.Log((1+n)/(1+float64(docFreqs[f]))) + 1
	}
	for i, c := range counts {
		m.docs[i] = m.vectorize(c)
	}
	return m, nil
}

func (m *TFIDF) vectorize(counts map[string]int) sparseVector {
	vec := make(sparseVector, len(counts))
	var norm float64
	for f, tf := range counts {
		idx, ok := m.vocab[f]
		if !ok {
			continue
		}
		w := float64(tf) * m.idf[idx]
		vec[idx] = w
		norm += w * w
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for idx, w := range vec {
		vec[idx] = w / norm
	}
	return vec
}

// Len returns the number of documents.
func (m *TFIDF) Len() int {
	return len(m.docs)
}

// VocabularySize returns the number of retained features.
func (m *TFIDF) VocabularySize() int {
	return len(m.vocab)
}

// Scores returns the cosine similarity between the query terms and every document.
func (m *TFIDF) Scores(queryTerms []string) []float64 {
	scores := make([]float64, len(m.docs))
	counts := make(map[string]int)
	for _, f := range ngrams(queryTerms) {
		counts[f]++
	}
	q := m.vectorize(counts)
	if len(q) == 0 {
		return scores
	}
	for i, doc := range m.docs {
		var dot float64
		// iterate the smaller vector
		a, b := q, doc
		if len(b) < len(a) {
			a, b = b, a
		}
		for idx, w := range a {
			dot += w * b[idx]
		}
		scores[i] = dot
	}
	return scores
}
