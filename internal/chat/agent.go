// Package chat implements the primary conversation agent: the two-pass
// query pipeline that sends the full message history to the model, records
// the reply, and optionally runs the correcting agent over it.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/biocypher/biochatter/internal/conversation"
	"github.com/biocypher/biochatter/internal/correct"
	"github.com/biocypher/biochatter/internal/prompt"
)

// Sentinel errors for agent lifecycle misuse.
var (
	// ErrAlreadySetUp is returned when Setup is called twice.
	ErrAlreadySetUp = errors.New("agent already set up")

	// ErrNotSetUp is returned when Query runs before Setup.
	ErrNotSetUp = errors.New("agent not set up")

	// ErrUnknownToolKind is returned for tool data with no matching template.
	ErrUnknownToolKind = errors.New("unknown tool kind")
)

// Corrector is the correction pass the agent runs over replies.
// Satisfied by *correct.Agent.
type Corrector interface {
	Correct(ctx context.Context, candidate string) (string, *conversation.TokenUsage, error)
	CorrectSplit(ctx context.Context, candidate string) (string, *conversation.TokenUsage, error)
}

// Injector is the retrieval augmentation hook run before each model call.
// Satisfied by *rag.Agent.
type Injector interface {
	Inject(ctx context.Context, query string, history *conversation.History) error
}

// Config holds the primary agent dependencies and tunables.
type Config struct {
	Genkit  *genkit.Genkit
	Model   ai.Model
	Prompts *prompt.Set
	Logger  *slog.Logger

	// RAG is the optional retrieval augmentation hook.
	RAG Injector

	// Corrector is the optional correction pass.
	Corrector Corrector

	// SplitCorrection corrects sentence by sentence instead of whole replies.
	SplitCorrection bool

	// RateLimiter bounds outgoing model calls. Nil disables limiting.
	RateLimiter *rate.Limiter

	Retry   RetryConfig
	Breaker BreakerConfig
}

func (c *Config) validate() error {
	if c.Genkit == nil {
		return errors.New("genkit instance is required")
	}
	if c.Model == nil {
		return errors.New("model is required")
	}
	if c.Prompts == nil {
		return errors.New("prompt set is required")
	}
	return nil
}

// Result is the outcome of one Query.
type Result struct {
	// Reply is the assistant's answer, or the provider error text when the
	// call failed.
	Reply string

	// Usage holds the token counters of the primary call. Nil on failure.
	Usage *conversation.TokenUsage

	// Correction is the correcting agent's output, empty when the reply
	// passed or correction is disabled.
	Correction string

	// RAGNotice carries an informational retrieval error (ErrNoDocuments,
	// ErrStoreUnavailable). The query proceeded without injection.
	RAGNotice error
}

// Agent is the primary conversation agent.
//
// Safe for concurrent use, though a chat session normally drives it from a
// single goroutine.
type Agent struct {
	genkit      *genkit.Genkit
	model       ai.Model
	prompts     *prompt.Set
	logger      *slog.Logger
	rag         Injector
	corrector   Corrector
	rateLimiter *rate.Limiter
	retryConfig RetryConfig
	breaker     *Breaker
	history     *conversation.History

	mu              sync.Mutex
	setupDone       bool
	ragEnabled      bool
	correctEnabled  bool
	splitCorrection bool
}

// New creates a primary conversation agent.
func New(cfg Config) (*Agent, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid chat config: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Agent{
		genkit:          cfg.Genkit,
		model:           cfg.Model,
		prompts:         cfg.Prompts,
		logger:          logger.With("component", "chat"),
		rag:             cfg.RAG,
		corrector:       cfg.Corrector,
		rateLimiter:     cfg.RateLimiter,
		retryConfig:     cfg.Retry,
		breaker:         NewBreaker(cfg.Breaker),
		history:         conversation.NewHistory(),
		correctEnabled:  cfg.Corrector != nil,
		splitCorrection: cfg.SplitCorrection,
	}, nil
}

// History exposes the conversation store for exports and display.
func (a *Agent) History() *conversation.History {
	return a.history
}

// Setup seeds the conversation with the primary prompts and the research
// topic. Must be called exactly once, before the first Query.
func (a *Agent) Setup(researchContext string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.setupDone {
		return ErrAlreadySetUp
	}

	for _, p := range a.prompts.PrimaryModelPrompts {
		a.history.AppendSystem(p)
	}
	a.history.AppendSystem(fmt.Sprintf("The topic of the research is %s.", researchContext))

	a.setupDone = true
	a.logger.Debug("conversation set up", "context", researchContext)
	return nil
}

// Reset clears the conversation and returns the agent to its pre-Setup
// state. The next Setup reseeds the primary prompts and research topic.
func (a *Agent) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history.Clear()
	a.setupDone = false
}

// SetDataInputManual injects free-text data input as a system message.
func (a *Agent) SetDataInputManual(dataInput string) {
	a.history.AppendSystem(
		fmt.Sprintf("The user has given information on the data input: %s.", dataInput))
}

// SetDataInputTool injects tool output through the matching tool template.
// Returns ErrUnknownToolKind when no template exists for the kind; the
// history is left untouched.
func (a *Agent) SetDataInputTool(df string, kind prompt.ToolKind) error {
	tmpl, ok := a.prompts.ToolTemplate(kind)
	if !ok {
		a.logger.Warn("no tool template for data input", "kind", kind)
		return fmt.Errorf("%w: %q", ErrUnknownToolKind, kind)
	}
	a.history.AppendSystem(prompt.Substitute(tmpl, prompt.PlaceholderData, df))
	return nil
}

// SetRAGEnabled toggles retrieval augmentation for subsequent queries.
// Has no effect when no RAG hook is attached.
func (a *Agent) SetRAGEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ragEnabled = enabled && a.rag != nil
}

// RAGEnabled reports whether retrieval augmentation is active.
func (a *Agent) RAGEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ragEnabled
}

// SetCorrectionEnabled toggles the correction pass for subsequent queries.
// Has no effect when no corrector is attached.
func (a *Agent) SetCorrectionEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.correctEnabled = enabled && a.corrector != nil
}

// SetSplitCorrection toggles sentence-by-sentence correction.
func (a *Agent) SetSplitCorrection(split bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.splitCorrection = split
}

// Query runs one turn of the conversation: append the user message, inject
// retrieval statements if enabled, send the full history to the model, and
// run the correction pass over the reply.
//
// On provider failure the user message stays in history, Reply carries the
// error text, Usage is nil, and the error is also returned so the caller
// can log it. The conversation remains usable.
func (a *Agent) Query(ctx context.Context, text string) (*Result, error) {
	a.mu.Lock()
	if !a.setupDone {
		a.mu.Unlock()
		return nil, ErrNotSetUp
	}
	ragActive := a.ragEnabled
	correctActive := a.correctEnabled
	split := a.splitCorrection
	a.mu.Unlock()

	a.history.AppendUser(text)

	result := &Result{}

	if ragActive {
		if err := a.rag.Inject(ctx, text, a.history); err != nil {
			// Retrieval problems never abort the query.
			result.RAGNotice = err
			a.logger.Warn("retrieval injection skipped", "error", err)
		}
	}

	if err := a.breaker.Allow(); err != nil {
		result.Reply = err.Error()
		return result, err
	}

	resp, err := a.generateWithRetry(ctx, conversation.ToModelMessages(a.history.Messages()))
	if err != nil {
		a.breaker.Failure()
		a.logger.Error("model call failed", "error", err)
		result.Reply = err.Error()
		return result, err
	}
	a.breaker.Success()

	reply := resp.Text()
	usage := conversation.UsageFromGeneration(resp.Usage)
	a.history.AppendAssistant(reply, usage)

	result.Reply = reply
	result.Usage = usage

	if correctActive {
		correction, corrUsage, corrErr := a.runCorrection(ctx, reply, split)
		if corrErr != nil {
			// A failed correction pass degrades to an uncorrected reply.
			a.logger.Warn("correction pass failed", "error", corrErr)
		} else {
			result.Correction = correction
			if corrUsage != nil && result.Usage != nil {
				result.Usage.TotalTokens += corrUsage.TotalTokens
			}
		}
	}

	return result, nil
}

func (a *Agent) runCorrection(ctx context.Context, reply string, split bool) (string, *conversation.TokenUsage, error) {
	if split {
		return a.corrector.CorrectSplit(ctx, reply)
	}

	out, usage, err := a.corrector.Correct(ctx, reply)
	if err != nil {
		return "", nil, err
	}
	if correct.IsOK(out) {
		return "", usage, nil
	}
	return out, usage, nil
}
