package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/biocypher/biochatter/internal/knowledge"
)

// AddStore is the slice of the knowledge store the indexer needs.
// Satisfied by *knowledge.Store.
type AddStore interface {
	Add(ctx context.Context, doc knowledge.Document) error
}

// IndexResult summarises one ingestion run.
type IndexResult struct {
	ChunksAdded  int
	FilesIndexed []string
	FilesSkipped []string
}

// Indexer ingests documents into the knowledge store: read, split into
// chunks, embed, upsert. One Document per chunk, with the source file and
// chunk index recorded in metadata.
type Indexer struct {
	store    AddStore
	splitter *knowledge.Splitter
	logger   *slog.Logger
}

// NewIndexer creates an indexer over the given store and splitter.
func NewIndexer(store AddStore, splitter *knowledge.Splitter, logger *slog.Logger) (*Indexer, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if splitter == nil {
		return nil, errors.New("splitter is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		store:    store,
		splitter: splitter,
		logger:   logger.With("component", "indexer"),
	}, nil
}

// supportedExtension reports whether the indexer can read the file type.
func supportedExtension(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".markdown":
		return true
	default:
		return false
	}
}

// IndexText splits and stores raw text under the given source label.
// Returns the number of chunks added.
func (ix *Indexer) IndexText(ctx context.Context, source, text string) (int, error) {
	chunks, err := ix.splitter.Split(text)
	if err != nil {
		return 0, fmt.Errorf("split %q: %w", source, err)
	}

	for i, chunk := range chunks {
		doc := knowledge.Document{
			ID:      uuid.NewString(),
			Content: chunk,
			Metadata: map[string]string{
				"source":      source,
				"chunk_index": strconv.Itoa(i),
			},
		}
		if err := ix.store.Add(ctx, doc); err != nil {
			return i, fmt.Errorf("store chunk %d of %q: %w", i, source, err)
		}
	}

	ix.logger.Info("indexed text", "source", source, "chunks", len(chunks))
	return len(chunks), nil
}

// IndexFile reads, splits and stores one file. Returns the number of chunks
// added.
func (ix *Indexer) IndexFile(ctx context.Context, path string) (int, error) {
	if !supportedExtension(path) {
		return 0, fmt.Errorf("unsupported file type: %q", filepath.Ext(path))
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the operator's CLI arguments
	if err != nil {
		return 0, fmt.Errorf("read %q: %w", path, err)
	}

	return ix.IndexText(ctx, filepath.Base(path), string(data))
}

// IndexFiles ingests multiple files. Unsupported or unreadable files are
// skipped with a warning and the remaining files are still processed; the
// error reports the first store failure, which aborts the run.
func (ix *Indexer) IndexFiles(ctx context.Context, paths []string) (IndexResult, error) {
	var result IndexResult

	for _, path := range paths {
		if !supportedExtension(path) {
			ix.logger.Warn("skipping unsupported file type", "path", path)
			result.FilesSkipped = append(result.FilesSkipped, path)
			continue
		}

		n, err := ix.IndexFile(ctx, path)
		if err != nil {
			if errors.Is(err, knowledge.ErrStoreUnavailable) {
				return result, err
			}
			ix.logger.Warn("skipping unreadable file", "path", path, "error", err)
			result.FilesSkipped = append(result.FilesSkipped, path)
			continue
		}

		result.ChunksAdded += n
		result.FilesIndexed = append(result.FilesIndexed, path)
	}

	return result, nil
}
