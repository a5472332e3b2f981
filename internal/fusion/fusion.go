// Package fusion turns per-position score vectors into a single top-k ranking.
package fusion

import (
	"errors"
	"fmt"
	"sort"
)

const (
	DefaultAlpha = 0.5
	DefaultRRFK  = 60
)

var (
	ErrMissingSignal  = errors.New("fusion: required score vector missing")
	ErrLengthMismatch = errors.New("fusion: score vectors differ in length")
)

// Signals carries raw score vectors indexed by corpus position. A nil vector
// means the signal is unavailable.
type Signals struct {
	BM25  []float64
	TFIDF []float64
}

// Options tunes the fusing strategies.
type Options struct {
	Alpha float64
	RRFK  int
}

func DefaultOptions() Options {
	return Options{Alpha: DefaultAlpha, RRFK: DefaultRRFK}
}

// Ranked is one selected corpus position. Component fields are set only by the
// strategy that produces them: normalised scores for Hybrid, 0-based ranks for RRF.
type Ranked struct {
	Position   int
	Score      float64
	TFIDFScore *float64
	BM25Score  *float64
	TFIDFRank  *int
	BM25Rank   *int
}

// Fuse dispatches to the strategy for m.
func Fuse(m Method, s Signals, k int, opts Options) ([]Ranked, error) {
	switch m {
	case BM25:
		if s.BM25 == nil {
			return nil, fmt.Errorf("%w: bm25", ErrMissingSignal)
		}
		return Top(s.BM25, k), nil
	case TFIDF:
		if s.TFIDF == nil {
			return nil, fmt.Errorf("%w: tfidf", ErrMissingSignal)
		}
		return TopAll(s.TFIDF, k), nil
	case Hybrid:
		return WeightedHybrid(s.TFIDF, s.BM25, opts.Alpha, k)
	case RRF:
		return ReciprocalRank(s.TFIDF, s.BM25, opts.RRFK, k)
	default:
		return nil, fmt.Errorf("unknown search method %q", m)
	}
}

// Top selects up to k positions with a positive score, highest first.
func Top(scores []float64, k int) []Ranked {
	return selectTop(scores, k, true)
}

// TopAll selects the k highest positions, zero scores included.
func TopAll(scores []float64, k int) []Ranked {
	return selectTop(scores, k, false)
}

func selectTop(scores []float64, k int, positiveOnly bool) []Ranked {
	if k <= 0 {
		return []Ranked{}
	}
	order := rankOrder(scores)
	out := make([]Ranked, 0, min(k, len(order)))
	for _, pos := range order {
		if len(out) >= k || (positiveOnly && scores[pos] <= 0) {
			break
		}
		out = append(out, Ranked{Position: pos, Score: scores[pos]})
	}
	return out
}

// WeightedHybrid combines max-normalised vectors as alpha*tfidf + (1-alpha)*bm25
// and returns the top k positions by combined score.
func WeightedHybrid(tfidf, bm25 []float64, alpha float64, k int) ([]Ranked, error) {
	if err := checkPair(tfidf, bm25); err != nil {
		return nil, err
	}
	alpha = clamp01(alpha)
	nt, nb := normalize(tfidf), normalize(bm25)
	combined := make([]float64, len(nt))
	for i := range nt {
		combined[i] = alpha*nt[i] + (1-alpha)*nb[i]
	}

	out := TopAll(combined, k)
	for i := range out {
		pos := out[i].Position
		t, b := nt[pos], nb[pos]
		out[i].TFIDFScore = &t
		out[i].BM25Score = &b
	}
	return out, nil
}

// ReciprocalRank sums 1/(K+rank+1) over both rankings, rank being 0-based.
// Every position participates, so up to k results are returned even when
// raw scores are all 0.
func ReciprocalRank(tfidf, bm25 []float64, rrfK, k int) ([]Ranked, error) {
	if err := checkPair(tfidf, bm25); err != nil {
		return nil, err
	}
	if rrfK < 0 {
		rrfK = DefaultRRFK
	}
	n := len(tfidf)
	tfidfRanks := ranks(tfidf)
	bm25Ranks := ranks(bm25)
	fused := make([]float64, n)
	for pos := 0; pos < n; pos++ {
		fused[pos] = 1/float64(rrfK+tfidfRanks[pos]+1) + 1/float64(rrfK+bm25Ranks[pos]+1)
	}

	order := rankOrder(fused)
	if len(order) > k {
		order = order[:max(k, 0)]
	}
	out := make([]Ranked, len(order))
	for i, pos := range order {
		tr, br := tfidfRanks[pos], bm25Ranks[pos]
		out[i] = Ranked{Position: pos, Score: fused[pos], TFIDFRank: &tr, BM25Rank: &br}
	}
	return out, nil
}

func checkPair(tfidf, bm25 []float64) error {
	if tfidf == nil {
		return fmt.Errorf("%w: tfidf", ErrMissingSignal)
	}
	if bm25 == nil {
		return fmt.Errorf("%w: bm25", ErrMissingSignal)
	}
	if len(tfidf) != len(bm25) {
		return fmt.Errorf("%w: tfidf=%d bm25=%d", ErrLengthMismatch, len(tfidf), len(bm25))
	}
	return nil
}

// rankOrder returns positions sorted by descending score; equal scores keep
// their corpus order.
func rankOrder(scores []float64) []int {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})
	return order
}

// ranks maps each position to its 0-based rank in rankOrder.
func ranks(scores []float64) []int {
	r := make([]int, len(scores))
	for rank, pos := range rankOrder(scores) {
		r[pos] = rank
	}
	return r
}

func normalize(scores []float64) []float64 {
	out := make([]float64, len(scores))
	var top float64
	for _, s := range scores {
		if s > top {
			top = s
		}
	}
	if top <= 0 {
		return out
	}
	for i, s := range scores {
		out[i] = s / top
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
