// Package app wires the application: configuration, Genkit with the
// configured provider, the vector store, and the agent pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/biocypher/biochatter/db"
	"github.com/biocypher/biochatter/internal/chat"
	"github.com/biocypher/biochatter/internal/config"
	"github.com/biocypher/biochatter/internal/correct"
	"github.com/biocypher/biochatter/internal/database"
	"github.com/biocypher/biochatter/internal/knowledge"
	"github.com/biocypher/biochatter/internal/log"
	"github.com/biocypher/biochatter/internal/prompt"
	"github.com/biocypher/biochatter/internal/rag"
	"github.com/biocypher/biochatter/internal/session"
	"github.com/biocypher/biochatter/internal/stats"
)

// App holds the wired application components. Create with Setup and release
// with Close.
type App struct {
	Config  *config.Config
	Logger  log.Logger
	Genkit  *genkit.Genkit
	Model   ai.Model
	Prompts *prompt.Set

	// Vector store components; nil when no database is configured.
	Pool    *pgxpool.Pool
	Store   *knowledge.Store
	RAG     *rag.Agent
	Indexer *rag.Indexer

	Corrector *correct.Agent
	Chat      *chat.Agent
	Stats     stats.Recorder

	cleanups []func()
}

// Setup builds the application from a validated config. A nil prompts set
// selects the built-in defaults.
func Setup(ctx context.Context, cfg *config.Config, prompts *prompt.Set, logger log.Logger) (_ *App, retErr error) {
	if prompts == nil {
		prompts = prompt.Default()
	}
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Prompts: prompts,
	}

	defer func() {
		if retErr != nil {
			_ = a.Close()
		}
	}()

	if err := a.provideGenkit(ctx); err != nil {
		return nil, err
	}
	if err := a.provideVectorStore(ctx); err != nil {
		return nil, err
	}
	a.provideStats()
	if err := a.provideAgents(); err != nil {
		return nil, err
	}

	return a, nil
}

// Close releases all resources in reverse initialization order.
func (a *App) Close() error {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
	a.cleanups = nil
	return nil
}

func (a *App) provideGenkit(ctx context.Context) error {
	cfg := a.Config

	g, model, err := initProvider(ctx, cfg.Provider, cfg.APIKey, cfg.Model)
	if err != nil {
		return err
	}
	a.Genkit = g
	a.Model = model

	a.Logger.Info("initialized genkit", "provider", cfg.Provider, "model", cfg.Model)
	return nil
}

// initProvider initializes a genkit instance for the given provider and API
// key and resolves the chat model on it.
func initProvider(ctx context.Context, provider, apiKey, model string) (*genkit.Genkit, ai.Model, error) {
	var g *genkit.Genkit
	switch provider {
	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{APIKey: apiKey}))
	case config.ProviderGemini:
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{APIKey: apiKey}))
	default:
		return nil, nil, fmt.Errorf("unsupported provider %q", provider)
	}
	if g == nil {
		return nil, nil, fmt.Errorf("initializing genkit with %s provider", provider)
	}

	var m ai.Model
	switch provider {
	case config.ProviderGemini:
		m = googlegenai.GoogleAIModel(g, model)
	default:
		m = genkit.LookupModel(g, api.NewName("openai", model))
	}
	if m == nil {
		return nil, nil, fmt.Errorf("model %q not found for provider %q", model, provider)
	}
	return g, m, nil
}

func (a *App) embedder() ai.Embedder {
	cfg := a.Config
	switch cfg.Provider {
	case config.ProviderGemini:
		return googlegenai.GoogleAIEmbedder(a.Genkit, cfg.EmbedderModel)
	default:
		return genkit.LookupEmbedder(a.Genkit, api.NewName("openai", cfg.EmbedderModel))
	}
}

// provideVectorStore builds the pgvector-backed store, the RAG agent and
// the indexer. Without a configured database URL the retrieval components
// stay nil and chat runs without augmentation.
func (a *App) provideVectorStore(ctx context.Context) error {
	cfg := a.Config
	if cfg.Database.URL == "" {
		a.Logger.Debug("no database configured, retrieval augmentation disabled")
		return nil
	}

	if err := db.Migrate(cfg.Database.URL, a.Logger); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	pool, err := database.NewPool(ctx, cfg.Database.URL, database.DefaultPoolConfig())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	a.Pool = pool
	a.cleanups = append(a.cleanups, pool.Close)

	if err := db.EnsureEmbeddingDimension(ctx, pool, cfg.RAG.EmbeddingDim, a.Logger); err != nil {
		return fmt.Errorf("reconciling embedding dimension: %w", err)
	}

	embedder := a.embedder()
	if embedder == nil {
		return fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}

	a.Store = knowledge.NewStore(knowledge.NewQueries(pool), embedder, a.Logger)

	splitter, err := knowledge.NewSplitter(knowledge.SplitterConfig{
		ChunkSize:    cfg.RAG.ChunkSize,
		ChunkOverlap: cfg.RAG.ChunkOverlap,
		Separators:   cfg.RAG.Separators,
	})
	if err != nil {
		return fmt.Errorf("creating splitter: %w", err)
	}

	a.Indexer, err = rag.NewIndexer(a.Store, splitter, a.Logger)
	if err != nil {
		return fmt.Errorf("creating indexer: %w", err)
	}

	a.RAG, err = rag.New(rag.Config{
		Store:   a.Store,
		Prompts: a.Prompts,
		Logger:  a.Logger,
		TopK:    cfg.RAG.TopK,
	})
	if err != nil {
		return fmt.Errorf("creating rag agent: %w", err)
	}

	return nil
}

func (a *App) provideStats() {
	if !a.Config.CommunityKey {
		a.Stats = stats.NopRecorder{}
		return
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})
	a.cleanups = append(a.cleanups, func() { _ = client.Close() })
	a.Stats = stats.NewRedisRecorder(client, a.Logger)
}

func (a *App) provideAgents() error {
	var err error
	a.Corrector, err = correct.New(correct.Config{
		Genkit:  a.Genkit,
		Model:   a.Model,
		Prompts: a.Prompts,
		Logger:  a.Logger,
	})
	if err != nil {
		return fmt.Errorf("creating correcting agent: %w", err)
	}

	a.Chat, err = a.NewChatAgent()
	if err != nil {
		return err
	}
	return nil
}

// NewChatAgent builds a primary agent with a fresh conversation history.
// Each concurrent session gets its own agent; the model, prompts and
// retrieval components are shared.
func (a *App) NewChatAgent() (*chat.Agent, error) {
	cfg := a.Config

	chatCfg := chat.Config{
		Genkit:          a.Genkit,
		Model:           a.Model,
		Prompts:         a.Prompts,
		Logger:          a.Logger,
		RateLimiter:     rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		Retry:           chat.DefaultRetryConfig(),
		Breaker:         chat.DefaultBreakerConfig(),
		SplitCorrection: cfg.Correction.Split,
	}
	if cfg.Correction.Enabled {
		chatCfg.Corrector = a.Corrector
	}
	if a.RAG != nil {
		chatCfg.RAG = a.RAG
	}

	agent, err := chat.New(chatCfg)
	if err != nil {
		return nil, fmt.Errorf("creating chat agent: %w", err)
	}
	agent.SetRAGEnabled(cfg.RAG.Enabled && a.RAG != nil)
	return agent, nil
}

// NewController builds a session controller over a fresh chat agent.
func (a *App) NewController() (*session.Controller, error) {
	agent, err := a.NewChatAgent()
	if err != nil {
		return nil, err
	}
	return session.New(session.Config{
		Agent:       agent,
		ValidateKey: a.ProbeKey,
		Stats:       a.Stats,
		Model:       a.Config.Model,
		Logger:      a.Logger,
	})
}

// ProbeKey checks an interactively entered API key by initializing a
// throwaway provider client with that key and issuing a minimal generation
// request. The startup key plays no part, so a wrong key is rejected even
// when the application itself was built with a valid one.
func (a *App) ProbeKey(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("empty api key")
	}

	g, model, err := initProvider(ctx, a.Config.Provider, key, a.Config.Model)
	if err != nil {
		return err
	}

	if _, err := genkit.Generate(ctx, g,
		ai.WithModel(model),
		ai.WithPrompt("Say OK."),
	); err != nil {
		return fmt.Errorf("probe request failed: %w", err)
	}
	return nil
}
