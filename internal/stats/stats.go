// Package stats records token usage for shared-key users. Counters live in
// a redis hash per user and day, updated with atomic increments so
// concurrent sessions never lose counts.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/biocypher/biochatter/internal/conversation"
)

// CommunityUser is the accounting identity for sessions on the shared
// community key.
const CommunityUser = "community"

// Recorder records token usage per user and model.
type Recorder interface {
	// Increment adds one call's token counters to the user's running
	// totals. Failures are reported but must never tear down a session.
	Increment(ctx context.Context, user, model string, usage conversation.TokenUsage) error
}

// UsageKey returns the redis hash key for one user and day.
func UsageKey(user string, day time.Time) string {
	return fmt.Sprintf("usage:%s:%s", day.Format("2006-01-02"), user)
}

// RedisRecorder records usage in redis via HIncrBy.
type RedisRecorder struct {
	client *redis.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewRedisRecorder creates a recorder over the given client.
func NewRedisRecorder(client *redis.Client, logger *slog.Logger) *RedisRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRecorder{
		client: client,
		logger: logger.With("component", "stats"),
		now:    time.Now,
	}
}

// Increment atomically adds the call's counters to the per-day hash. Fields
// are namespaced by model so shared keys across providers stay separable.
func (r *RedisRecorder) Increment(ctx context.Context, user, model string, usage conversation.TokenUsage) error {
	key := UsageKey(user, r.now())

	pipe := r.client.Pipeline()
	pipe.HIncrBy(ctx, key, model+":prompt_tokens", int64(usage.PromptTokens))
	pipe.HIncrBy(ctx, key, model+":completion_tokens", int64(usage.CompletionTokens))
	pipe.HIncrBy(ctx, key, model+":total_tokens", int64(usage.TotalTokens))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record usage for %q: %w", user, err)
	}

	r.logger.Debug("recorded usage", "user", user, "model", model, "total", usage.TotalTokens)
	return nil
}

// NopRecorder discards all usage. Used for sessions on individual keys,
// where no accounting applies.
type NopRecorder struct{}

// Increment implements Recorder and does nothing.
func (NopRecorder) Increment(context.Context, string, string, conversation.TokenUsage) error {
	return nil
}
