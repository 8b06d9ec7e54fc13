// Package cmd implements the biochatter command line interface.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/biocypher/biochatter/internal/config"
	"github.com/biocypher/biochatter/internal/log"
	"github.com/biocypher/biochatter/internal/prompt"
)

var (
	configPath  string
	promptsPath string
)

var rootCmd = &cobra.Command{
	Use:   "biochatter",
	Short: "Conversational assistant for biomedical research",
	Long: `BioChatter is a conversational front end for biomedical research.

It walks you through a short setup (name, research context, optional tool
output from progeny, dorothea or gsea), then answers questions about your
results. Replies are double-checked by an independent correcting agent, and
can be grounded in your own literature via retrieval augmentation.

Running biochatter without a subcommand starts the interactive chat.`,
	SilenceUsage: true,
	RunE:         runChat,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file (default ~/.biochatter/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&promptsPath, "prompts", "",
		"prompt set JSON overriding the built-in prompts")
}

// loadConfig loads and validates configuration from the --config flag,
// environment and defaults.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadPrompts resolves the --prompts flag; nil means built-in defaults.
func loadPrompts() (*prompt.Set, error) {
	if promptsPath == "" {
		return nil, nil
	}
	f, err := os.Open(promptsPath) // #nosec G304 -- the user names their own file
	if err != nil {
		return nil, fmt.Errorf("opening prompt set: %w", err)
	}
	defer func() { _ = f.Close() }()

	set, err := prompt.Load(f)
	if err != nil {
		return nil, fmt.Errorf("loading prompt set %s: %w", promptsPath, err)
	}
	return set, nil
}

func newLogger(cfg *config.Config) log.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	return log.New(log.Config{
		Level: level,
		JSON:  cfg.Log.JSON,
	})
}
