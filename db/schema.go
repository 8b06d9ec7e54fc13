package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier is the slice of a pgx pool the schema check needs.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// EnsureEmbeddingDimension reconciles the documents.embedding column with
// the width the configured embedder emits. The migration creates the column
// with a fixed dimension; a deployment on a different embedder would
// otherwise fail on every upsert with a pgvector dimension error.
//
// An empty table is altered in place (the hnsw index is rebuilt by the
// ALTER). A table that already holds embeddings of another width cannot be
// converted and is reported as an error telling the operator to re-index.
func EnsureEmbeddingDimension(ctx context.Context, q querier, dim int, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if dim <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", dim)
	}

	// For pgvector columns atttypmod is the declared dimension.
	var current int
	err := q.QueryRow(ctx,
		`SELECT atttypmod FROM pg_attribute
		 WHERE attrelid = 'documents'::regclass AND attname = 'embedding'`,
	).Scan(&current)
	if err != nil {
		return fmt.Errorf("reading embedding column dimension: %w", err)
	}
	if current == dim {
		return nil
	}

	var count int64
	if err := q.QueryRow(ctx, `SELECT count(*) FROM documents`).Scan(&count); err != nil {
		return fmt.Errorf("counting documents: %w", err)
	}
	if count > 0 {
		return fmt.Errorf(
			"documents table holds %d rows with %d-dimensional embeddings, but the configured embedder emits %d dimensions; clear the store and re-index to switch embedders",
			count, current, dim)
	}

	if _, err := q.Exec(ctx,
		fmt.Sprintf(`ALTER TABLE documents ALTER COLUMN embedding TYPE vector(%d)`, dim),
	); err != nil {
		return fmt.Errorf("altering embedding column to vector(%d): %w", dim, err)
	}

	logger.Info("adjusted embedding column dimension", "from", current, "to", dim)
	return nil
}
