package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func positions(r []Ranked) []int {
	out := make([]int, len(r))
	for i, x := range r {
		out[i] = x.Position
	}
	return out
}

func TestParseMethod(t *testing.T) {
	tests := []struct {
		in      string
		want    Method
		wantErr bool
	}{
		{"", Hybrid, false},
		{"BM25", BM25, false},
		{" rrf ", RRF, false},
		{"tfidf", TFIDF, false},
		{"semantic", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMethod(tt.in, Hybrid)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAvailable(t *testing.T) {
	assert.Equal(t, []Method{BM25}, Available(false))
	assert.Equal(t, []Method{BM25, TFIDF, Hybrid, RRF}, Available(true))
}

func TestTop_DropsZeroAndBreaksTiesByPosition(t *testing.T) {
	got := Top([]float64{0.5, 0, 0.9, 0.5, 0.1}, 3)
	assert.Equal(t, []int{2, 0, 3}, positions(got))
	assert.Equal(t, 0.9, got[0].Score)

	assert.Empty(t, Top([]float64{0, 0}, 5))
	assert.Empty(t, Top([]float64{1}, 0))
}

func TestWeightedHybrid_Normalises(t *testing.T) {
	tfidf := []float64{0.2, 0.4, 0}
	bm25 := []float64{6, 0, 3}

	got, err := WeightedHybrid(tfidf, bm25, 0.5, 3)
	require.NoError(t, err)
	// combined: 0.5*0.5+0.5*1=0.75, 0.5*1=0.5, 0.5*0.5=0.25
	assert.Equal(t, []int{0, 1, 2}, positions(got))
	assert.InDelta(t, 0.75, got[0].Score, 1e-12)
	assert.InDelta(t, 0.5, *got[0].TFIDFScore, 1e-12)
	assert.InDelta(t, 1.0, *got[0].BM25Score, 1e-12)
	assert.Nil(t, got[0].TFIDFRank)
}

func TestTopAll_KeepsZeroScores(t *testing.T) {
	got := TopAll([]float64{0, 0.4, 0, 0.1}, 3)
	assert.Equal(t, []int{1, 3, 0}, positions(got))
	assert.Equal(t, 0.0, got[2].Score)

	assert.Len(t, TopAll([]float64{0, 0}, 5), 2)
	assert.Empty(t, TopAll([]float64{1}, 0))
}

func TestWeightedHybrid_AllZeroSignalContributesNothing(t *testing.T) {
	got, err := WeightedHybrid([]float64{0, 0, 0}, []float64{1, 2, 0}, 0.5, 5)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0, 2}, positions(got))
	assert.InDelta(t, 0.5, got[0].Score, 1e-12)
	assert.Equal(t, 0.0, got[2].Score)
}

func TestFuse_ReturnsKUnlessBM25(t *testing.T) {
	// only position 2 matches the query in either signal
	s := Signals{TFIDF: []float64{0, 0, 0.8, 0}, BM25: []float64{0, 0, 1.7, 0}}
	tests := []struct {
		method Method
		want   []int
	}{
		{BM25, []int{2}},
		{TFIDF, []int{2, 0, 1}},
		{Hybrid, []int{2, 0, 1}},
		{RRF, []int{2, 0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.method.String(), func(t *testing.T) {
			got, err := Fuse(tt.method, s, 3, DefaultOptions())
			require.NoError(t, err)
			assert.Equal(t, tt.want, positions(got))
		})
	}
}

func TestWeightedHybrid_AlphaExtremes(t *testing.T) {
	tfidf := []float64{1, 0}
	bm25 := []float64{0, 1}

	onlyTFIDF, err := WeightedHybrid(tfidf, bm25, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, positions(onlyTFIDF))
	assert.Equal(t, 0.0, onlyTFIDF[1].Score)

	onlyBM25, err := WeightedHybrid(tfidf, bm25, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, positions(onlyBM25))
}

func TestReciprocalRank_AgreementWins(t *testing.T) {
	tfidf := []float64{0.1, 0.9, 0.3, 0.2}
	bm25 := []float64{1.0, 4.0, 0.5, 2.0}

	got, err := ReciprocalRank(tfidf, bm25, DefaultRRFK, 4)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, 1, got[0].Position)
	assert.InDelta(t, 2.0/61.0, got[0].Score, 1e-12)
	assert.Equal(t, 0, *got[0].TFIDFRank)
	assert.Equal(t, 0, *got[0].BM25Rank)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score)
	}
}

func TestReciprocalRank_IncludesZeroScoredPositions(t *testing.T) {
	got, err := ReciprocalRank([]float64{0, 0, 0}, []float64{0, 0, 0}, DefaultRRFK, 2)
	require.NoError(t, err)
	// all ties resolve to corpus order
	assert.Equal(t, []int{0, 1}, positions(got))
}

func TestReciprocalRank_SymmetricTieKeepsEarlierPosition(t *testing.T) {
	got, err := ReciprocalRank([]float64{1, 0}, []float64{0, 1}, DefaultRRFK, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, positions(got))
	assert.Equal(t, got[0].Score, got[1].Score)
}

func TestFuse_RequiresDeclaredSignals(t *testing.T) {
	_, err := Fuse(Hybrid, Signals{BM25: []float64{1}}, 3, DefaultOptions())
	assert.ErrorIs(t, err, ErrMissingSignal)

	_, err = Fuse(RRF, Signals{TFIDF: []float64{1}}, 3, DefaultOptions())
	assert.ErrorIs(t, err, ErrMissingSignal)

	_, err = Fuse(TFIDF, Signals{BM25: []float64{1}}, 3, DefaultOptions())
	assert.ErrorIs(t, err, ErrMissingSignal)

	_, err = Fuse(Hybrid, Signals{BM25: []float64{1, 2}, TFIDF: []float64{1}}, 3, DefaultOptions())
	assert.ErrorIs(t, err, ErrLengthMismatch)

	_, err = Fuse(Method("dense"), Signals{}, 3, DefaultOptions())
	assert.Error(t, err)
}

func TestFuse_Deterministic(t *testing.T) {
	s := Signals{TFIDF: []float64{0.3, 0.3, 0.1, 0.7}, BM25: []float64{2, 2, 5, 0}}
	for _, m := range Methods {
		a, err := Fuse(m, s, 4, DefaultOptions())
		require.NoError(t, err)
		b, err := Fuse(m, s, 4, DefaultOptions())
		require.NoError(t, err)
		assert.Equal(t, a, b, m.String())
	}
}
