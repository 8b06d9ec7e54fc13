// Package correct implements the correcting agent: a second model pass that
// fact-checks the primary model's reply. The agent keeps no history of its
// own; every call is seeded fresh from the correcting prompt set, so it
// never sees the primary conversation.
package correct

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/biocypher/biochatter/internal/conversation"
	"github.com/biocypher/biochatter/internal/prompt"
)

// reinforcementPrompt reminds the model of the expected no-correction
// sentinel on every call.
const reinforcementPrompt = "If there is nothing to correct, please respond " +
	"with just 'OK', and nothing else!"

// Config holds the correcting agent dependencies.
type Config struct {
	Genkit  *genkit.Genkit
	Model   ai.Model
	Prompts *prompt.Set
	Logger  *slog.Logger
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

// Agent is the correcting agent.
type Agent struct {
	genkit  *genkit.Genkit
	model   ai.Model
	prompts *prompt.Set
	logger  *slog.Logger
}

// New creates a correcting agent.
func New(cfg Config) (*Agent, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid correct config: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		genkit:  cfg.Genkit,
		model:   cfg.Model,
		prompts: cfg.Prompts,
		logger:  logger.With("component", "correct"),
	}, nil
}

// Correct runs one correction pass over the candidate text and returns the
// raw corrector output. Callers apply IsOK to decide whether the output is
// the no-correction sentinel.
func (a *Agent) Correct(ctx context.Context, candidate string) (string, *conversation.TokenUsage, error) {
	msgs := make([]*ai.Message, 0, len(a.prompts.CorrectingAgentPrompts)+2)
	for _, p := range a.prompts.CorrectingAgentPrompts {
		msgs = append(msgs, ai.NewSystemTextMessage(p))
	}
	msgs = append(msgs,
		ai.NewUserTextMessage(candidate),
		ai.NewSystemTextMessage(reinforcementPrompt),
	)

	resp, err := genkit.Generate(ctx, a.genkit,
		ai.WithModel(a.model),
		ai.WithMessages(msgs...),
	)
	if err != nil {
		return "", nil, fmt.Errorf("correction call: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	a.logger.Debug("correction pass", "candidate_length", len(candidate), "ok", IsOK(text))
	return text, conversation.UsageFromGeneration(resp.Usage), nil
}

// CorrectSplit splits the candidate into sentences, corrects each one
// independently, and returns the concatenated non-sentinel corrections. An
// empty result means every sentence passed.
func (a *Agent) CorrectSplit(ctx context.Context, candidate string) (string, *conversation.TokenUsage, error) {
	total := &conversation.TokenUsage{}
	var corrections []string

	for _, sentence := range SplitSentences(candidate) {
		out, usage, err := a.Correct(ctx, sentence)
		if err != nil {
			return "", nil, err
		}
		if usage != nil {
			total.PromptTokens += usage.PromptTokens
			total.CompletionTokens += usage.CompletionTokens
			total.TotalTokens += usage.TotalTokens
		}
		if !IsOK(out) {
			corrections = append(corrections, out)
		}
	}

	return strings.Join(corrections, " "), total, nil
}

// IsOK reports whether the corrector output is the no-correction sentinel:
// "ok", case-insensitive, with an optional trailing period.
func IsOK(s string) bool {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ".")
	return strings.EqualFold(s, "ok")
}

// SplitSentences splits text on sentence-final punctuation (. ? !),
// keeping the punctuation with the sentence. Abbreviations are not handled;
// the split is intentionally naive.
func SplitSentences(text string) []string {
	var (
		out     []string
		current strings.Builder
	)
	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '?' || r == '!' {
			if s := strings.TrimSpace(current.String()); s != "" {
				out = append(out, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		out = append(out, s)
	}
	return out
}
