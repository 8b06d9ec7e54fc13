package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/biocypher/biochatter/internal/app"
)

var askContext string

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a single question without an interactive session",
	Long: `Ask sends one question through the full agent pipeline (primary model
plus correcting agent, and retrieval augmentation when configured) and
prints the answer.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askContext, "context", "biomedical research",
		"research context the conversation is primed with")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	prompts, err := loadPrompts()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a, err := app.Setup(ctx, cfg, prompts, newLogger(cfg))
	if err != nil {
		return fmt.Errorf("setting up application: %w", err)
	}
	defer func() { _ = a.Close() }()

	if err := a.Chat.Setup(askContext); err != nil {
		return err
	}

	question := strings.Join(args, " ")
	result, err := a.Chat.Query(ctx, question)
	if err != nil {
		if result != nil {
			return errors.New(result.Reply)
		}
		return err
	}

	fmt.Println(result.Reply)
	if result.Correction != "" {
		fmt.Println()
		fmt.Println("Correction: " + result.Correction)
	}
	return nil
}
