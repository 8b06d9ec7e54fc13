// Package knowledge manages the vector store backing retrieval augmentation:
// embedded document chunks in PostgreSQL with pgvector, plus the text
// splitter that produces the chunks.
package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"
)

// ErrStoreUnavailable marks failures to reach the vector database. Callers
// surface a notice and keep the session running; the error never tears down
// a conversation.
var ErrStoreUnavailable = errors.New("vector store unavailable")

// Store manages embedded documents with vector search over PostgreSQL +
// pgvector. Embedding generation happens on write and on query through the
// configured embedder.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	queries  Querier
	embedder ai.Embedder
	logger   *slog.Logger
}

// NewStore creates a Store over the given querier and embedder.
func NewStore(querier Querier, embedder ai.Embedder, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		queries:  querier,
		embedder: embedder,
		logger:   logger.With("component", "knowledge"),
	}
}

// Add embeds the document content and upserts the row.
func (s *Store) Add(ctx context.Context, doc Document) error {
	embedding, err := s.embed(ctx, doc.Content)
	if err != nil {
		return fmt.Errorf("embed document %q: %w", doc.ID, err)
	}

	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	createdAt := pgtype.Timestamptz{
		Time:  doc.CreatedAt,
		Valid: !doc.CreatedAt.IsZero(),
	}

	err = s.queries.UpsertDocument(ctx, UpsertDocumentParams{
		ID:        doc.ID,
		Content:   doc.Content,
		Embedding: embedding,
		Metadata:  metadataJSON,
		CreatedAt: createdAt,
	})
	if err != nil {
		return fmt.Errorf("%w: upsert document %q: %v", ErrStoreUnavailable, doc.ID, err)
	}

	s.logger.Debug("added document", "id", doc.ID, "content_length", len(doc.Content))
	return nil
}

// Search returns the documents most similar to the query, ordered by
// descending similarity. A per-call timeout bounds the vector search.
//
// Example:
//
//	results, err := store.Search(ctx, "tumor microenvironment",
//	    knowledge.WithTopK(3))
func (s *Store) Search(ctx context.Context, query string, opts ...SearchOption) ([]Result, error) {
	cfg := buildSearchConfig(opts)

	queryCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	embedding, err := s.embed(queryCtx, query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("query embedding timeout: %w", err)
		}
		return nil, fmt.Errorf("embed query: %w", err)
	}

	topK := cfg.topK
	if topK <= 0 || topK > math.MaxInt32 {
		return nil, fmt.Errorf("invalid top-k %d", topK)
	}

	var rows []DocumentRow
	if len(cfg.filter) > 0 {
		filterJSON, marshalErr := json.Marshal(cfg.filter)
		if marshalErr != nil {
			return nil, fmt.Errorf("marshal filter: %w", marshalErr)
		}
		rows, err = s.queries.SearchDocuments(queryCtx, SearchDocumentsParams{
			QueryEmbedding: embedding,
			FilterMetadata: filterJSON,
			ResultLimit:    int32(topK),
		})
	} else {
		rows, err = s.queries.SearchDocumentsAll(queryCtx, SearchDocumentsAllParams{
			QueryEmbedding: embedding,
			ResultLimit:    int32(topK),
		})
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("search timeout: %w", err)
		}
		return nil, fmt.Errorf("%w: search: %v", ErrStoreUnavailable, err)
	}

	return s.rowsToResults(rows), nil
}

// Count returns the number of documents matching the filter, or the total
// count for a nil/empty filter.
func (s *Store) Count(ctx context.Context, filter map[string]string) (int, error) {
	var (
		count int64
		err   error
	)

	if len(filter) > 0 {
		filterJSON, marshalErr := json.Marshal(filter)
		if marshalErr != nil {
			return 0, fmt.Errorf("marshal filter: %w", marshalErr)
		}
		count, err = s.queries.CountDocuments(ctx, filterJSON)
	} else {
		count, err = s.queries.CountDocumentsAll(ctx)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: count: %v", ErrStoreUnavailable, err)
	}

	if count > math.MaxInt {
		return 0, fmt.Errorf("document count %d exceeds platform int capacity", count)
	}
	return int(count), nil
}

// Delete removes a single document by ID.
func (s *Store) Delete(ctx context.Context, docID string) error {
	if err := s.queries.DeleteDocument(ctx, docID); err != nil {
		return fmt.Errorf("%w: delete document %q: %v", ErrStoreUnavailable, docID, err)
	}
	s.logger.Debug("deleted document", "id", docID)
	return nil
}

// DeleteBySource removes every chunk ingested from the named source file
// and returns the number of rows removed.
func (s *Store) DeleteBySource(ctx context.Context, source string) (int64, error) {
	n, err := s.queries.DeleteDocumentsBySource(ctx, source)
	if err != nil {
		return 0, fmt.Errorf("%w: delete by source %q: %v", ErrStoreUnavailable, source, err)
	}
	s.logger.Debug("deleted documents by source", "source", source, "count", n)
	return n, nil
}

func (s *Store) embed(ctx context.Context, text string) (*pgvector.Vector, error) {
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{
			{Content: []*ai.Part{ai.NewTextPart(text)}},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, errors.New("empty embedding returned")
	}
	v := pgvector.NewVector(resp.Embeddings[0].Embedding)
	return &v, nil
}

func (s *Store) rowsToResults(rows []DocumentRow) []Result {
	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		var metadata map[string]string
		if err := json.Unmarshal(row.Metadata, &metadata); err != nil {
			s.logger.Warn("failed to parse metadata", "document_id", row.ID, "error", err)
			metadata = make(map[string]string)
		}

		var createdAt time.Time
		if row.CreatedAt.Valid {
			createdAt = row.CreatedAt.Time
		}

		results = append(results, Result{
			Document: Document{
				ID:        row.ID,
				Content:   row.Content,
				Metadata:  metadata,
				CreatedAt: createdAt,
			},
			Similarity: row.Similarity,
		})
	}
	return results
}
