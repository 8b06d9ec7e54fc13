package rag_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/biocypher/biochatter/internal/conversation"
	"github.com/biocypher/biochatter/internal/knowledge"
	"github.com/biocypher/biochatter/internal/prompt"
	"github.com/biocypher/biochatter/internal/rag"
	"github.com/biocypher/biochatter/internal/testutil"
)

func newTestStore(t *testing.T) *knowledge.Store {
	t.Helper()

	g := testutil.NewGenkit(t)
	embedder := testutil.NewMockEmbedder(64)
	return knowledge.NewStore(testutil.NewMemQuerier(), embedder.RegisterEmbedder(g), testutil.QuietLogger())
}

func TestInjectAppendsRAGPrompts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	marker := "XYZZY-unique-marker-statement"
	if err := store.Add(ctx, knowledge.Document{ID: "a", Content: marker}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	agent, err := rag.New(rag.Config{
		Store:   store,
		Prompts: prompt.Default(),
		Logger:  testutil.QuietLogger(),
	})
	if err != nil {
		t.Fatalf("new agent failed: %v", err)
	}

	history := conversation.NewHistory()
	if err := agent.Inject(ctx, "anything", history); err != nil {
		t.Fatalf("inject failed: %v", err)
	}

	msgs := history.Messages()
	ragPrompts := prompt.Default().RAGAgentPrompts
	if len(msgs) != len(ragPrompts) {
		t.Fatalf("expected %d injected messages, got %d", len(ragPrompts), len(msgs))
	}
	for i, m := range msgs {
		if m.Role != conversation.RoleSystem {
			t.Errorf("message %d: expected system role, got %q", i, m.Role)
		}
	}

	// The marker travels through embedding, search and substitution into the
	// last injected message.
	last := msgs[len(msgs)-1].Content
	if !strings.Contains(last, marker) {
		t.Errorf("expected retrieved statement in last message, got %q", last)
	}
	if strings.Contains(last, prompt.PlaceholderStatements) {
		t.Errorf("placeholder not substituted: %q", last)
	}

	stmts := agent.CurrentStatements()
	if len(stmts) == 0 || stmts[0] != marker {
		t.Errorf("expected current statements to hold the marker, got %v", stmts)
	}
}

func TestInjectEmptyStoreReturnsErrNoDocuments(t *testing.T) {
	t.Parallel()

	agent, err := rag.New(rag.Config{
		Store:   newTestStore(t),
		Prompts: prompt.Default(),
		Logger:  testutil.QuietLogger(),
	})
	if err != nil {
		t.Fatalf("new agent failed: %v", err)
	}

	history := conversation.NewHistory()
	err = agent.Inject(context.Background(), "query", history)
	if !errors.Is(err, rag.ErrNoDocuments) {
		t.Fatalf("expected ErrNoDocuments, got %v", err)
	}
	if history.Count() != 0 {
		t.Errorf("expected history untouched, got %d messages", history.Count())
	}
}

func TestSearchOrdersByRelevance(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	for id, content := range map[string]string{
		"a": "statement alpha",
		"b": "statement beta",
		"c": "statement gamma",
	} {
		if err := store.Add(ctx, knowledge.Document{ID: id, Content: content}); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}

	agent, err := rag.New(rag.Config{
		Store:   store,
		Prompts: prompt.Default(),
		Logger:  testutil.QuietLogger(),
	})
	if err != nil {
		t.Fatalf("new agent failed: %v", err)
	}

	// Identical text embeds identically, so the exact match comes first.
	stmts, err := agent.Search(ctx, "statement beta", 2)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(stmts))
	}
	if stmts[0] != "statement beta" {
		t.Errorf("expected exact match first, got %q", stmts[0])
	}
}

func TestIndexerSplitsAndStores(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	splitter, err := knowledge.NewSplitter(knowledge.SplitterConfig{ChunkSize: 40})
	if err != nil {
		t.Fatalf("new splitter failed: %v", err)
	}
	ix, err := rag.NewIndexer(store, splitter, testutil.QuietLogger())
	if err != nil {
		t.Fatalf("new indexer failed: %v", err)
	}

	text := strings.Repeat("tumor suppressor pathway analysis ", 10)
	n, err := ix.IndexText(ctx, "notes.txt", text)
	if err != nil {
		t.Fatalf("index text failed: %v", err)
	}
	if n < 2 {
		t.Errorf("expected multiple chunks, got %d", n)
	}

	count, err := store.Count(ctx, map[string]string{"source": "notes.txt"})
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != n {
		t.Errorf("expected %d stored chunks, got %d", n, count)
	}
}

func TestIndexerSkipsUnsupportedFiles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	splitter, err := knowledge.NewSplitter(knowledge.SplitterConfig{})
	if err != nil {
		t.Fatalf("new splitter failed: %v", err)
	}
	ix, err := rag.NewIndexer(store, splitter, testutil.QuietLogger())
	if err != nil {
		t.Fatalf("new indexer failed: %v", err)
	}

	dir := t.TempDir()
	good := filepath.Join(dir, "paper.txt")
	if err := os.WriteFile(good, []byte("a short text about biology"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	bad := filepath.Join(dir, "figure.png")
	if err := os.WriteFile(bad, []byte{0x89, 0x50}, 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	result, err := ix.IndexFiles(ctx, []string{good, bad})
	if err != nil {
		t.Fatalf("index files failed: %v", err)
	}
	if len(result.FilesIndexed) != 1 || result.FilesIndexed[0] != good {
		t.Errorf("expected only %q indexed, got %v", good, result.FilesIndexed)
	}
	if len(result.FilesSkipped) != 1 || result.FilesSkipped[0] != bad {
		t.Errorf("expected %q skipped, got %v", bad, result.FilesSkipped)
	}
	if result.ChunksAdded == 0 {
		t.Error("expected chunks added from the supported file")
	}
}
