package knowledge_test

import (
	"context"
	"errors"
	"testing"

	"github.com/biocypher/biochatter/internal/knowledge"
	"github.com/biocypher/biochatter/internal/testutil"
)

func TestStoreAddAndSearch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := testutil.NewGenkit(t)

	embedder := testutil.NewMockEmbedder(64)
	querier := testutil.NewMemQuerier()
	store := knowledge.NewStore(querier, embedder.RegisterEmbedder(g), testutil.QuietLogger())

	docs := []knowledge.Document{
		{ID: "a", Content: "The apoptosis marker is elevated in treated samples.",
			Metadata: map[string]string{"source": "paper1.txt"}},
		{ID: "b", Content: "Completely unrelated text about the weather.",
			Metadata: map[string]string{"source": "paper2.txt"}},
	}
	for _, doc := range docs {
		if err := store.Add(ctx, doc); err != nil {
			t.Fatalf("add %q failed: %v", doc.ID, err)
		}
	}

	// Identical text embeds to the identical vector, so the matching chunk
	// must rank first.
	results, err := store.Search(ctx, "The apoptosis marker is elevated in treated samples.",
		knowledge.WithTopK(2))
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Document.ID != "a" {
		t.Errorf("expected document a first, got %q", results[0].Document.ID)
	}
	if results[0].Similarity < results[1].Similarity {
		t.Error("results not ordered by descending similarity")
	}
	if results[0].Document.Metadata["source"] != "paper1.txt" {
		t.Errorf("metadata not preserved: %v", results[0].Document.Metadata)
	}
}

func TestStoreSearchWithFilter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := testutil.NewGenkit(t)

	embedder := testutil.NewMockEmbedder(64)
	querier := testutil.NewMemQuerier()
	store := knowledge.NewStore(querier, embedder.RegisterEmbedder(g), testutil.QuietLogger())

	for _, doc := range []knowledge.Document{
		{ID: "a", Content: "chunk one", Metadata: map[string]string{"source": "x.txt"}},
		{ID: "b", Content: "chunk two", Metadata: map[string]string{"source": "y.txt"}},
	} {
		if err := store.Add(ctx, doc); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}

	results, err := store.Search(ctx, "chunk",
		knowledge.WithTopK(10),
		knowledge.WithFilter("source", "x.txt"))
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 || results[0].Document.ID != "a" {
		t.Errorf("expected only document a, got %v", results)
	}
}

func TestStoreCount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := testutil.NewGenkit(t)

	embedder := testutil.NewMockEmbedder(64)
	querier := testutil.NewMemQuerier()
	store := knowledge.NewStore(querier, embedder.RegisterEmbedder(g), testutil.QuietLogger())

	count, err := store.Count(ctx, nil)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 documents, got %d", count)
	}

	if err := store.Add(ctx, knowledge.Document{ID: "a", Content: "text"}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	count, err = store.Count(ctx, nil)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 document, got %d", count)
	}
}

func TestStoreDeleteBySource(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := testutil.NewGenkit(t)

	embedder := testutil.NewMockEmbedder(64)
	querier := testutil.NewMemQuerier()
	store := knowledge.NewStore(querier, embedder.RegisterEmbedder(g), testutil.QuietLogger())

	for _, doc := range []knowledge.Document{
		{ID: "a1", Content: "one", Metadata: map[string]string{"source": "doc.txt"}},
		{ID: "a2", Content: "two", Metadata: map[string]string{"source": "doc.txt"}},
		{ID: "b1", Content: "three", Metadata: map[string]string{"source": "other.txt"}},
	} {
		if err := store.Add(ctx, doc); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}

	n, err := store.DeleteBySource(ctx, "doc.txt")
	if err != nil {
		t.Fatalf("delete by source failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 deleted, got %d", n)
	}
	if querier.Len() != 1 {
		t.Errorf("expected 1 remaining row, got %d", querier.Len())
	}
}

func TestStoreUnavailableError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := testutil.NewGenkit(t)

	embedder := testutil.NewMockEmbedder(64)
	store := knowledge.NewStore(failingQuerier{}, embedder.RegisterEmbedder(g), testutil.QuietLogger())

	if err := store.Add(ctx, knowledge.Document{ID: "a", Content: "text"}); !errors.Is(err, knowledge.ErrStoreUnavailable) {
		t.Errorf("Add: expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := store.Search(ctx, "query"); !errors.Is(err, knowledge.ErrStoreUnavailable) {
		t.Errorf("Search: expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := store.Count(ctx, nil); !errors.Is(err, knowledge.ErrStoreUnavailable) {
		t.Errorf("Count: expected ErrStoreUnavailable, got %v", err)
	}
}

// failingQuerier simulates an unreachable database.
type failingQuerier struct{}

var errConnRefused = errors.New("connection refused")

func (failingQuerier) UpsertDocument(context.Context, knowledge.UpsertDocumentParams) error {
	return errConnRefused
}

func (failingQuerier) SearchDocuments(context.Context, knowledge.SearchDocumentsParams) ([]knowledge.DocumentRow, error) {
	return nil, errConnRefused
}

func (failingQuerier) SearchDocumentsAll(context.Context, knowledge.SearchDocumentsAllParams) ([]knowledge.DocumentRow, error) {
	return nil, errConnRefused
}

func (failingQuerier) CountDocuments(context.Context, []byte) (int64, error) {
	return 0, errConnRefused
}

func (failingQuerier) CountDocumentsAll(context.Context) (int64, error) {
	return 0, errConnRefused
}

func (failingQuerier) DeleteDocument(context.Context, string) error {
	return errConnRefused
}

func (failingQuerier) DeleteDocumentsBySource(context.Context, string) (int64, error) {
	return 0, errConnRefused
}
