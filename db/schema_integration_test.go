package db_test

import (
	"context"
	"strings"
	"testing"

	"github.com/biocypher/biochatter/db"
	"github.com/biocypher/biochatter/internal/testutil"
)

// TestEnsureEmbeddingDimension exercises the startup reconciliation between
// the documents.embedding column and the configured embedder width against a
// real pgvector database. Requires Docker; skipped in short mode.
func TestEnsureEmbeddingDimension(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	tdb, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	logger := testutil.QuietLogger()

	columnDim := func() int {
		var dim int
		err := tdb.Pool.QueryRow(ctx,
			`SELECT atttypmod FROM pg_attribute
			 WHERE attrelid = 'documents'::regclass AND attname = 'embedding'`,
		).Scan(&dim)
		if err != nil {
			t.Fatalf("read column dimension: %v", err)
		}
		return dim
	}

	// The migration creates the column at 768; a matching config is a no-op.
	if err := db.EnsureEmbeddingDimension(ctx, tdb.Pool, 768, logger); err != nil {
		t.Fatalf("ensure with matching dimension failed: %v", err)
	}
	if got := columnDim(); got != 768 {
		t.Fatalf("expected column to stay at 768, got %d", got)
	}

	// An empty table is altered in place to the configured width.
	if err := db.EnsureEmbeddingDimension(ctx, tdb.Pool, 4, logger); err != nil {
		t.Fatalf("ensure on empty table failed: %v", err)
	}
	if got := columnDim(); got != 4 {
		t.Fatalf("expected column altered to 4, got %d", got)
	}

	// A populated table cannot be converted; the error tells the operator
	// to re-index.
	_, err := tdb.Pool.Exec(ctx,
		`INSERT INTO documents (id, content, embedding) VALUES ('d1', 'x', '[0.1,0.2,0.3,0.4]')`)
	if err != nil {
		t.Fatalf("insert fixture row: %v", err)
	}
	err = db.EnsureEmbeddingDimension(ctx, tdb.Pool, 768, logger)
	if err == nil {
		t.Fatal("expected error for populated table with mismatched dimension")
	}
	if !strings.Contains(err.Error(), "re-index") {
		t.Errorf("expected re-index hint in error, got %v", err)
	}

	if err := db.EnsureEmbeddingDimension(ctx, tdb.Pool, 0, logger); err == nil {
		t.Error("expected error for non-positive dimension")
	}
}
