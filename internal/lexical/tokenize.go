// Package lexical builds BM25 and TF-IDF ranking structures over chunk token lists.
package lexical

import (
	"regexp"
	"strings"
	"unicode"

	porterstemmer "github.com/blevesearch/go-porterstemmer"
)

var termPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// Tokenize produces BM25 tokens: lowercased whitespace-split words with
// punctuation trimmed from both ends, Porter stemmed.
func Tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if f == "" {
			continue
		}
		tokens = append(tokens, porterstemmer.StemString(f))
	}
	return tokens
}

// AnalyzeTerms produces TF-IDF unigrams: lowercase word runs of at least two
// characters with English stop words removed.
func AnalyzeTerms(text string) []string {
	words := termPattern.FindAllString(strings.ToLower(text), -1)
	terms := make([]string, 0, len(words))
	for _, w := range words {
		if len([]rune(w)) < 2 {
			continue
		}
		if _, stop := englishStopWords[w]; stop {
			continue
		}
		terms = append(terms, w)
	}
	return terms
}

// ngrams expands unigrams into unigram and bigram features.
func ngrams(terms []string) []string {
	if len(terms) == 0 {
		return nil
	}
	out := make([]string, 0, 2*len(terms)-1)
	out = append(out, terms...)
	for i := 0; i+1 < len(terms); i++ {
		out = append(out, terms[i]+" "+terms[i+1])
	}
	return out
}

// NonSpaceLen counts the non-whitespace runes of s.
func NonSpaceLen(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}
