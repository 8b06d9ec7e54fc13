package knowledge

import (
	"fmt"

	"github.com/tmc/langchaingo/textsplitter"
)

// Default chunking parameters for document ingestion.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 0
)

// DefaultSeparators returns the default split separators, tried in order.
func DefaultSeparators() []string {
	return []string{" ", ",", "\n"}
}

// SplitterConfig controls document chunking.
type SplitterConfig struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

func (c *SplitterConfig) validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 {
		return fmt.Errorf("chunk overlap must be non-negative, got %d", c.ChunkOverlap)
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk overlap %d must be smaller than chunk size %d",
			c.ChunkOverlap, c.ChunkSize)
	}
	return nil
}

// Splitter chunks document text recursively on a separator hierarchy.
// Splitting is deterministic: the same input always yields the same chunks.
type Splitter struct {
	inner textsplitter.RecursiveCharacter
}

// NewSplitter creates a Splitter from the given config. Zero-value fields
// fall back to the defaults.
func NewSplitter(cfg SplitterConfig) (*Splitter, error) {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Separators == nil {
		cfg.Separators = DefaultSeparators()
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid splitter config: %w", err)
	}

	inner := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(cfg.ChunkSize),
		textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
		textsplitter.WithSeparators(cfg.Separators),
	)
	return &Splitter{inner: inner}, nil
}

// Split chunks the text. Empty input yields no chunks.
func (s *Splitter) Split(text string) ([]string, error) {
	if text == "" {
		return nil, nil
	}
	chunks, err := s.inner.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("split text: %w", err)
	}
	return chunks, nil
}

// SplitAll chunks multiple texts, concatenating the resulting chunks in
// input order.
func (s *Splitter) SplitAll(texts []string) ([]string, error) {
	var out []string
	for i, t := range texts {
		chunks, err := s.Split(t)
		if err != nil {
			return nil, fmt.Errorf("split text %d: %w", i, err)
		}
		out = append(out, chunks...)
	}
	return out, nil
}
