// Package chunker splits text into overlapping, sentence-aligned chunks.
package chunker

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Defaults match the extraction pipeline configuration.
const (
	DefaultChunkSize = 512
	DefaultOverlap   = 50
)

// ErrInvalidConfig is returned for a size/overlap pair that cannot make progress.
var ErrInvalidConfig = errors.New("invalid chunker config")

// placeholder stands in for abbreviation periods while splitting.
const placeholder = "\uE000"

var (
	// Order matters: U.S.A. must be protected before U.S.
	abbreviations = []string{"Dr.", "Mr.", "Mrs.", "Ms.", "U.S.A.", "U.S.", "e.g.", "i.e."}

	sentenceBoundary = regexp.MustCompile(`[.!?]\s+`)
	paragraphBreak   = regexp.MustCompile(`\n\s*\n`)
)

// Chunk is one window of source text.
type Chunk struct {
	Index         int    `json:"chunk_index"`
	Text          string `json:"text"`
	StartSentence int    `json:"start_sentence"`
	EndSentence   int    `json:"end_sentence"`
	WordCount     int    `json:"word_count"`
}

// Chunker packs sentences into chunks of at most size words, carrying up to
// overlap words of trailing sentences into the next chunk.
type Chunker struct {
	size    int
	overlap int
}

// New validates the budgets. Overlap must be strictly smaller than size.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidConfig, overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// SplitSentences splits after '.', '!' or '?' followed by whitespace, without
// breaking on common abbreviations.
func SplitSentences(text string) []string {
	protected := text
	for _, abbr := range abbreviations {
		protected = strings.ReplaceAll(protected, abbr, abbr[:len(abbr)-1]+placeholder)
	}

	var sentences []string
	start := 0
	for _, loc := range sentenceBoundary.FindAllStringIndex(protected, -1) {
		// keep the punctuation, drop the whitespace run
		sentences = appendSentence(sentences, protected[start:loc[0]+1])
		start = loc[1]
	}
	sentences = appendSentence(sentences, protected[start:])
	return sentences
}

func appendSentence(dst []string, s string) []string {
	s = strings.TrimSpace(strings.ReplaceAll(s, placeholder, "."))
	if s == "" {
		return dst
	}
	return append(dst, s)
}

// Chunk splits text into sentence-aligned chunks. Empty input yields no chunks.
// A sentence longer than the budget becomes a chunk of its own.
func (c *Chunker) Chunk(text string) []Chunk {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return nil
	}
	counts := make([]int, len(sentences))
	for i, s := range sentences {
		counts[i] = len(strings.Fields(s))
	}

	var (
		chunks     []Chunk
		current    []string
		wordCount  int
		startIndex int
	)

	for i, sentence := range sentences {
		if wordCount+counts[i] > c.size && len(current) > 0 {
			chunks = append(chunks, Chunk{
				Index:         len(chunks),
				Text:          strings.Join(current, " "),
				StartSentence: startIndex,
				EndSentence:   i - 1,
				WordCount:     wordCount,
			})

			// An oversized sentence is never shared with a neighbour.
			loneOversized := startIndex == i-1 && counts[i-1] > c.size
			nextOversized := counts[i] > c.size

			// Walk back over the closed chunk until the overlap budget is spent.
			// At least one sentence is carried when overlap is enabled, even if
			// the next chunk then runs over the size budget.
			overlapWords := 0
			j := i - 1
			for ; j >= startIndex; j-- {
				if overlapWords+counts[j] > c.overlap && (j < i-1 || c.overlap == 0) {
					break
				}
				overlapWords += counts[j]
			}
			startIndex = j + 1
			if loneOversized || nextOversized {
				startIndex = i
				overlapWords = 0
			}
			current = append([]string(nil), sentences[startIndex:i]...)
			wordCount = overlapWords
		}
		current = append(current, sentence)
		wordCount += counts[i]
	}

	if len(current) > 0 {
		chunks = append(chunks, Chunk{
			Index:         len(chunks),
			Text:          strings.Join(current, " "),
			StartSentence: startIndex,
			EndSentence:   len(sentences) - 1,
			WordCount:     wordCount,
		})
	}
	return chunks
}

// ChunkParagraphs packs blank-line separated paragraphs by word budget. The last
// paragraph of a closed chunk seeds the next one when it fits the overlap budget.
// Sentence offsets are not tracked for paragraph chunks.
func (c *Chunker) ChunkParagraphs(text string) []Chunk {
	var paragraphs []string
	for _, p := range paragraphBreak.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}

	var (
		chunks    []Chunk
		current   []string
		wordCount int
	)
	flush := func() {
		chunks = append(chunks, Chunk{
			Index:     len(chunks),
			Text:      strings.Join(current, "\n\n"),
			WordCount: wordCount,
		})
	}

	for _, para := range paragraphs {
		words := len(strings.Fields(para))
		if wordCount+words > c.size && len(current) > 0 {
			flush()
			last := current[len(current)-1]
			lastWords := len(strings.Fields(last))
			if lastWords <= c.overlap {
				current = []string{last}
				wordCount = lastWords
			} else {
				current = nil
				wordCount = 0
			}
		}
		current = append(current, para)
		wordCount += words
	}
	if len(current) > 0 {
		flush()
	}
	return chunks
}

// EstimateChunks approximates the number of chunks for progress reporting.
func (c *Chunker) EstimateChunks(text string) int {
	step := c.size - c.overlap
	if step < 1 {
		step = 1
	}
	n := len(strings.Fields(text)) / step
	if n < 1 {
		return 1
	}
	return n
}
