package services

import (
	"fmt"

	"luma-backend/internal/chunker"
	"luma-backend/internal/config"
	"luma-backend/models"
)

const (
	StrategySentence  = "sentence"
	StrategyParagraph = "paragraph"
)

// Splitter turns raw text into indexable chunks with the configured strategy.
type Splitter struct {
	chunker  *chunker.Chunker
	strategy string
}

func NewSplitter(size, overlap int, strategy string) (*Splitter, error) {
	c, err := chunker.New(size, overlap)
	if err != nil {
		return nil, err
	}
	switch strategy {
	case "", StrategySentence:
		strategy = StrategySentence
	case StrategyParagraph:
	default:
		return nil, fmt.Errorf("%w: unknown chunk strategy %q", chunker.ErrInvalidConfig, strategy)
	}
	return &Splitter{chunker: c, strategy: strategy}, nil
}

func SplitterFrom(cfg *config.Config) (*Splitter, error) {
	return NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap, cfg.ChunkStrategy)
}

func (s *Splitter) Strategy() string {
	return s.strategy
}

func (s *Splitter) Chunks(text string) []chunker.Chunk {
	if s.strategy == StrategyParagraph {
		return s.chunker.ChunkParagraphs(text)
	}
	return s.chunker.Chunk(text)
}

// Split chunks text into index input.
func (s *Splitter) Split(text string) []models.IndexChunk {
	chunks := s.Chunks(text)
	out := make([]models.IndexChunk, len(chunks))
	for i, ch := range chunks {
		out[i] = models.IndexChunk{
			Index:         ch.Index,
			Text:          ch.Text,
			StartSentence: ch.StartSentence,
			EndSentence:   ch.EndSentence,
		}
	}
	return out
}

// Estimate predicts the chunk count without chunking.
func (s *Splitter) Estimate(text string) int {
	return s.chunker.EstimateChunks(text)
}
