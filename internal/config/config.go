// Package config loads and validates the application configuration from
// file, environment and defaults via viper.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Validation sentinel errors.
var (
	ErrMissingAPIKey    = errors.New("api key is required")
	ErrInvalidProvider  = errors.New("provider must be one of: openai, gemini")
	ErrInvalidChunking  = errors.New("invalid chunking parameters")
	ErrInvalidTopK      = errors.New("rag top-k must be positive")
	ErrMissingDatabase  = errors.New("database url is required when rag is enabled")
	ErrInvalidRateLimit = errors.New("rate limit must be positive")
	ErrUnknownDimension = errors.New("embedder model has no known vector width; set rag.embedding_dim")
)

// Supported model providers.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config is the root application configuration.
type Config struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`

	// EmbedderModel names the embedding model used for document indexing.
	// When empty, a provider-appropriate default is chosen.
	EmbedderModel string `mapstructure:"embedder_model"`

	// CommunityKey marks a session on the shared key: usage is recorded
	// and expensive features are disabled.
	CommunityKey bool `mapstructure:"community_key"`

	// RateLimit is the maximum model calls per second.
	RateLimit float64 `mapstructure:"rate_limit"`

	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	RAG        RAGConfig        `mapstructure:"rag"`
	Correction CorrectionConfig `mapstructure:"correction"`
	Log        LogConfig        `mapstructure:"log"`
}

// DatabaseConfig points at the pgvector-enabled PostgreSQL instance.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// RedisConfig points at the usage-accounting redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RAGConfig controls retrieval augmentation.
type RAGConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	TopK         int      `mapstructure:"top_k"`
	ChunkSize    int      `mapstructure:"chunk_size"`
	ChunkOverlap int      `mapstructure:"chunk_overlap"`
	Separators   []string `mapstructure:"separators"`

	// EmbeddingDim is the vector width of the embedder model. When zero it
	// is resolved from the known-model table at load time; models missing
	// from that table must set it explicitly.
	EmbeddingDim int `mapstructure:"embedding_dim"`
}

// embedderDimensions maps known embedding models to their vector width.
var embedderDimensions = map[string]int{
	"text-embedding-004":     768,
	"text-embedding-005":     768,
	"gemini-embedding-001":   3072,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// CorrectionConfig controls the correcting agent.
type CorrectionConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Split   bool `mapstructure:"split"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// Load reads configuration from the given file (or the default location
// when path is empty), environment variables prefixed BIOCHATTER_, and
// built-in defaults. The file is optional; env and defaults alone are a
// valid configuration.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("BIOCHATTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".biochatter"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		// The default file is optional; an explicitly named one is not.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.EmbedderModel == "" {
		switch cfg.Provider {
		case ProviderGemini:
			cfg.EmbedderModel = "text-embedding-004"
		default:
			cfg.EmbedderModel = "text-embedding-3-small"
		}
	}
	if cfg.RAG.EmbeddingDim == 0 {
		cfg.RAG.EmbeddingDim = embedderDimensions[cfg.EmbedderModel]
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderOpenAI)
	v.SetDefault("model", "gpt-3.5-turbo")
	v.SetDefault("community_key", false)
	v.SetDefault("rate_limit", 1.0)

	v.SetDefault("database.url", "")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("rag.enabled", false)
	v.SetDefault("rag.top_k", 3)
	v.SetDefault("rag.chunk_size", 1000)
	v.SetDefault("rag.chunk_overlap", 0)
	v.SetDefault("rag.separators", []string{" ", ",", "\n"})

	v.SetDefault("correction.enabled", true)
	v.SetDefault("correction.split", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

// Validate fails fast on an unusable configuration.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidProvider, c.Provider)
	}

	if c.APIKey == "" {
		return ErrMissingAPIKey
	}

	if c.RateLimit <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidRateLimit, c.RateLimit)
	}

	if c.RAG.TopK <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidTopK, c.RAG.TopK)
	}
	if c.RAG.ChunkSize <= 0 || c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("%w: chunk_size=%d chunk_overlap=%d",
			ErrInvalidChunking, c.RAG.ChunkSize, c.RAG.ChunkOverlap)
	}

	if c.RAG.Enabled && c.Database.URL == "" {
		return ErrMissingDatabase
	}
	if c.Database.URL != "" && c.RAG.EmbeddingDim <= 0 {
		return fmt.Errorf("%w: embedder_model=%q", ErrUnknownDimension, c.EmbedderModel)
	}

	return nil
}

// FullModelName returns the provider-qualified model reference used by the
// Genkit plugins.
func (c *Config) FullModelName() string {
	switch c.Provider {
	case ProviderGemini:
		return "googleai/" + c.Model
	case ProviderOpenAI:
		return "openai/" + c.Model
	default:
		return c.Model
	}
}

// maskSecret hides all but the last four characters of a secret.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}

// MarshalJSON masks the API key so configs can be logged safely.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	masked := alias(c)
	masked.APIKey = maskSecret(c.APIKey)
	masked.Redis.Password = maskSecret(c.Redis.Password)
	return json.Marshal(masked)
}

// String renders the config with secrets masked.
func (c Config) String() string {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Sprintf("config (marshal error: %v)", err)
	}
	return string(data)
}
