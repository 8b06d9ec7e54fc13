package knowledge_test

import (
	"context"
	"testing"

	"github.com/biocypher/biochatter/internal/knowledge"
	"github.com/biocypher/biochatter/internal/testutil"
)

// TestQueriesAgainstPostgres exercises the pgx-backed querier against a real
// pgvector database. Requires Docker; skipped in short mode.
func TestQueriesAgainstPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	g := testutil.NewGenkit(t)

	// 768 matches the embedding column dimension in the schema.
	embedder := testutil.NewMockEmbedder(768)
	queries := knowledge.NewQueries(db.Pool)
	store := knowledge.NewStore(queries, embedder.RegisterEmbedder(g), testutil.QuietLogger())

	docs := []knowledge.Document{
		{ID: "chunk-1", Content: "TP53 is a tumor suppressor gene.",
			Metadata: map[string]string{"source": "genes.txt", "chunk_index": "0"}},
		{ID: "chunk-2", Content: "BRCA1 mutations increase breast cancer risk.",
			Metadata: map[string]string{"source": "genes.txt", "chunk_index": "1"}},
		{ID: "chunk-3", Content: "The mitochondrion is the powerhouse of the cell.",
			Metadata: map[string]string{"source": "cells.txt", "chunk_index": "0"}},
	}
	for _, doc := range docs {
		if err := store.Add(ctx, doc); err != nil {
			t.Fatalf("add %q failed: %v", doc.ID, err)
		}
	}

	// Upsert with the same ID replaces, not duplicates.
	if err := store.Add(ctx, docs[0]); err != nil {
		t.Fatalf("re-add failed: %v", err)
	}
	count, err := store.Count(ctx, nil)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 documents after upsert, got %d", count)
	}

	// Identical query text embeds identically, so chunk-1 ranks first.
	results, err := store.Search(ctx, "TP53 is a tumor suppressor gene.", knowledge.WithTopK(3))
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Document.ID != "chunk-1" {
		t.Errorf("expected chunk-1 first, got %q", results[0].Document.ID)
	}
	if results[0].Similarity < 0.99 {
		t.Errorf("expected near-perfect similarity for identical text, got %f", results[0].Similarity)
	}

	// Metadata filter restricts to one source file.
	filtered, err := store.Search(ctx, "gene",
		knowledge.WithTopK(10),
		knowledge.WithFilter("source", "cells.txt"))
	if err != nil {
		t.Fatalf("filtered search failed: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Document.ID != "chunk-3" {
		t.Errorf("expected only chunk-3, got %v", filtered)
	}

	// Source-level deletion removes both genes.txt chunks.
	n, err := store.DeleteBySource(ctx, "genes.txt")
	if err != nil {
		t.Fatalf("delete by source failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 rows deleted, got %d", n)
	}
	count, err = store.Count(ctx, nil)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 document remaining, got %d", count)
	}
}
