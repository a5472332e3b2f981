package lexical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"luma-backend/models"
)

var catCorpus = []string{
	"The cat sat on the mat.",
	"Dogs are loyal animals.",
	"Cats and dogs can be friends.",
}

func tokenizeAll(texts []string) [][]string {
	out := make([][]string, len(texts))
	for i, t := range texts {
		out[i] = Tokenize(t)
	}
	return out
}

func analyzeAll(texts []string) [][]string {
	out := make([][]string, len(texts))
	for i, t := range texts {
		out[i] = AnalyzeTerms(t)
	}
	return out
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"the", "cat", "sat", "on", "the", "mat"}, Tokenize("The cat sat on the mat."))
	assert.Equal(t, []string{"cat", "and", "dog"}, Tokenize("  Cats, and \"dogs\"!  "))
	assert.Empty(t, Tokenize(" -- ... "))
}

func TestAnalyzeTerms_DropsStopWordsAndShortTerms(t *testing.T) {
	assert.Equal(t, []string{"cats", "dogs", "friends"}, AnalyzeTerms("Cats and dogs can be friends, x y"))
	assert.Empty(t, AnalyzeTerms("the and of"))
}

func TestNgrams(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c", "a b", "b c"}, ngrams([]string{"a", "b", "c"}))
	assert.Nil(t, ngrams(nil))
}

func TestBM25_CatScenario(t *testing.T) {
	m := NewBM25(tokenizeAll(catCorpus), DefaultBM25Params())
	scores := m.Scores(Tokenize("cat"))
	require.Len(t, scores, 3)

	assert.Greater(t, scores[0], scores[1])
	assert.Greater(t, scores[2], scores[1])
	assert.Equal(t, 0.0, scores[1])
}

func TestBM25_NeverNegative(t *testing.T) {
	// a term present in every document still has a positive idf
	corpus := [][]string{{"a", "b"}, {"a"}, {"a", "c"}}
	m := NewBM25(corpus, DefaultBM25Params())
	for _, s := range m.Scores([]string{"a", "b", "c", "missing"}) {
		assert.GreaterOrEqual(t, s, 0.0)
	}
	assert.Greater(t, m.IDF("a"), 0.0)
	assert.Equal(t, 0.0, m.IDF("missing"))
}

func TestBM25_ShorterDocumentWinsOnEqualFrequency(t *testing.T) {
	corpus := [][]string{{"go", "x", "y", "z", "w"}, {"go", "x"}, {"other"}}
	m := NewBM25(corpus, DefaultBM25Params())
	scores := m.Scores([]string{"go"})
	assert.Greater(t, scores[1], scores[0])
}

func TestBM25_EmptyDocuments(t *testing.T) {
	m := NewBM25([][]string{{}, {}}, DefaultBM25Params())
	assert.Equal(t, []float64{0, 0}, m.Scores([]string{"anything"}))
}

func TestTFIDF_CosineRanksMatchingDocuments(t *testing.T) {
	m, err := NewTFIDF(analyzeAll(catCorpus), DefaultMaxFeatures)
	require.NoError(t, err)

	scores := m.Scores(AnalyzeTerms("loyal dogs"))
	require.Len(t, scores, 3)
	assert.Greater(t, scores[1], scores[2])
	assert.Greater(t, scores[2], 0.0)
	assert.Equal(t, 0.0, scores[0])
	for _, s := range scores {
		assert.LessOrEqual(t, s, 1.0+1e-9)
	}
}

func TestTFIDF_IdenticalDocumentHasUnitSimilarity(t *testing.T) {
	m, err := NewTFIDF(analyzeAll([]string{"graph databases store edges", "relational tables"}), 10)
	require.NoError(t, err)
	scores := m.Scores(AnalyzeTerms("graph databases store edges"))
	assert.InDelta(t, 1.0, scores[0], 1e-9)
	assert.Equal(t, 0.0, scores[1])
}

func TestTFIDF_MaxFeaturesBoundsVocabulary(t *testing.T) {
	m, err := NewTFIDF(analyzeAll(catCorpus), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, m.VocabularySize())
}

func TestTFIDF_EmptyVocabulary(t *testing.T) {
	_, err := NewTFIDF(analyzeAll([]string{"the and", "of it"}), 10)
	assert.ErrorIs(t, err, ErrEmptyVocabulary)
}

func TestBuild(t *testing.T) {
	refs := []models.ChunkRef{{DocumentID: "d", Index: 0}, {DocumentID: "d", Index: 1}, {DocumentID: "d", Index: 2}}

	idx, err := Build(Corpus{Refs: refs, Tokens: tokenizeAll(catCorpus), Terms: analyzeAll(catCorpus)}, DefaultOptions())
	require.NoError(t, err)
	require.NotNil(t, idx)
	assert.Equal(t, 3, idx.Len())
	assert.True(t, idx.HasTFIDF())
	assert.Len(t, idx.ScoreTFIDF("cats"), 3)

	bm25Only, err := Build(Corpus{Refs: refs, Tokens: tokenizeAll(catCorpus)}, DefaultOptions())
	require.NoError(t, err)
	require.NotNil(t, bm25Only)
	assert.False(t, bm25Only.HasTFIDF())
	assert.Nil(t, bm25Only.ScoreTFIDF("cats"))

	empty, err := Build(Corpus{}, DefaultOptions())
	require.NoError(t, err)
	assert.True(t, empty.Empty())
	assert.Equal(t, 0, empty.Len())
}

func TestBuild_MisalignedCorpus(t *testing.T) {
	refs := []models.ChunkRef{{DocumentID: "d", Index: 0}, {DocumentID: "d", Index: 1}, {DocumentID: "d", Index: 2}}
	tests := []struct {
		name   string
		corpus Corpus
	}{
		{"missing token list", Corpus{Refs: refs, Tokens: tokenizeAll(catCorpus)[:2]}},
		{"tokens without refs", Corpus{Tokens: tokenizeAll(catCorpus)}},
		{"short term lists", Corpus{Refs: refs, Tokens: tokenizeAll(catCorpus), Terms: analyzeAll(catCorpus)[:2]}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, err := Build(tt.corpus, DefaultOptions())
			assert.ErrorIs(t, err, ErrMisaligned)
			assert.Nil(t, idx)
		})
	}
}

func TestNonSpaceLen(t *testing.T) {
	assert.Equal(t, 0, NonSpaceLen(" \t\n"))
	assert.Equal(t, 2, NonSpaceLen(" a b "))
	assert.Equal(t, 5, NonSpaceLen("héllo"))
}
