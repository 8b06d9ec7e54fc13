// Package rag implements retrieval augmentation: similarity search over the
// knowledge store and the policy for injecting retrieved statements into a
// conversation, plus the indexer that ingests documents into the store.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/biocypher/biochatter/internal/conversation"
	"github.com/biocypher/biochatter/internal/knowledge"
	"github.com/biocypher/biochatter/internal/prompt"
)

// ErrNoDocuments signals that the store holds no embedded documents yet.
// Informational: callers surface a notice and the query proceeds without
// injection.
var ErrNoDocuments = errors.New("no documents embedded yet")

// DefaultTopK is the number of statements retrieved per query.
const DefaultTopK = 3

// SearchStore is the slice of the knowledge store the agent needs.
// Satisfied by *knowledge.Store.
type SearchStore interface {
	Search(ctx context.Context, query string, opts ...knowledge.SearchOption) ([]knowledge.Result, error)
	Count(ctx context.Context, filter map[string]string) (int, error)
}

// Config holds the RAG agent dependencies.
type Config struct {
	Store   SearchStore
	Prompts *prompt.Set
	Logger  *slog.Logger

	// TopK is the number of statements retrieved per query. Defaults to
	// DefaultTopK.
	TopK int
}

func (c *Config) validate() error {
	if c.Store == nil {
		return errors.New("search store is required")
	}
	if c.Prompts == nil {
		return errors.New("prompt set is required")
	}
	if c.TopK < 0 {
		return fmt.Errorf("top-k must be non-negative, got %d", c.TopK)
	}
	return nil
}

// Agent retrieves document statements and injects them into conversations.
//
// Safe for concurrent use.
type Agent struct {
	store   SearchStore
	prompts *prompt.Set
	logger  *slog.Logger
	topK    int

	mu         sync.RWMutex
	statements []string
}

// New creates a RAG agent.
func New(cfg Config) (*Agent, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid rag config: %w", err)
	}
	if cfg.TopK == 0 {
		cfg.TopK = DefaultTopK
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		store:   cfg.Store,
		prompts: cfg.Prompts,
		logger:  logger.With("component", "rag"),
		topK:    cfg.TopK,
	}, nil
}

// Search returns the k most similar chunk texts for the query, ordered by
// descending similarity. k <= 0 uses the configured default.
func (a *Agent) Search(ctx context.Context, query string, k int) ([]string, error) {
	if k <= 0 {
		k = a.topK
	}
	results, err := a.store.Search(ctx, query, knowledge.WithTopK(k))
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	statements := make([]string, 0, len(results))
	for _, r := range results {
		statements = append(statements, r.Document.Content)
	}
	return statements, nil
}

// Inject retrieves statements for the query and appends the RAG prompt
// templates to the history as system messages. All templates but the last
// are appended verbatim; the last one receives the {statements} placeholder
// substitution with the retrieved chunks.
//
// Returns ErrNoDocuments when nothing is embedded yet; the history is left
// untouched in that case.
func (a *Agent) Inject(ctx context.Context, query string, history *conversation.History) error {
	count, err := a.store.Count(ctx, nil)
	if err != nil {
		return fmt.Errorf("check document count: %w", err)
	}
	if count == 0 {
		return ErrNoDocuments
	}

	statements, err := a.Search(ctx, query, a.topK)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.statements = statements
	a.mu.Unlock()

	templates := a.prompts.RAGAgentPrompts
	for i, tmpl := range templates {
		if i == len(templates)-1 {
			tmpl = prompt.Substitute(tmpl, prompt.PlaceholderStatements,
				strings.Join(statements, "; "))
		}
		history.AppendSystem(tmpl)
	}

	a.logger.Debug("injected retrieval statements", "count", len(statements))
	return nil
}

// CurrentStatements returns the statements retrieved by the most recent
// Inject, for display to the user.
func (a *Agent) CurrentStatements() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, len(a.statements))
	copy(out, a.statements)
	return out
}
