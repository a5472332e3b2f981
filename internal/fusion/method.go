package fusion

import (
	"fmt"
	"strings"
)

// Method is the ranking strategy applied to a query. The set is closed.
type Method string

const (
	BM25   Method = "bm25"
	TFIDF  Method = "tfidf"
	Hybrid Method = "hybrid"
	RRF    Method = "rrf"
)

// Methods lists every supported method in display order.
var Methods = []Method{BM25, TFIDF, Hybrid, RRF}

// ParseMethod accepts a case-insensitive method name. Empty input returns fallback.
func ParseMethod(s string, fallback Method) (Method, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return fallback, nil
	}
	m := Method(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown search method %q", s)
	}
	return m, nil
}

func (m Method) Valid() bool {
	switch m {
	case BM25, TFIDF, Hybrid, RRF:
		return true
	}
	return false
}

// NeedsTFIDF reports whether the method consumes the TF-IDF signal.
func (m Method) NeedsTFIDF() bool {
	return m == TFIDF || m == Hybrid || m == RRF
}

// NeedsBM25 reports whether the method consumes the BM25 signal.
func (m Method) NeedsBM25() bool {
	return m == BM25 || m == Hybrid || m == RRF
}

func (m Method) String() string {
	return string(m)
}

// Available returns the methods usable for an index with or without TF-IDF.
func Available(hasTFIDF bool) []Method {
	if !hasTFIDF {
		return []Method{BM25}
	}
	return append([]Method(nil), Methods...)
}
