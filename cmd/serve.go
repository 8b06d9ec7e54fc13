package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/biocypher/biochatter/api"
	"github.com/biocypher/biochatter/internal/app"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the assistant over HTTP",
	Long: `Serve starts the REST API. Clients create sessions, walk through the
same setup flow as the interactive chat, and exchange messages over
JSON. Requires a configured API key; interactive key entry is a chat-only
feature.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", api.DefaultAddr, "listen address")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
	logger := newLogger(cfg)

	a, err := app.Setup(ctx, cfg, prompts, logger)
	if err != nil {
		return fmt.Errorf("setting up application: %w", err)
	}
	defer func() { _ = a.Close() }()

	srv, err := api.NewServer(a.NewController, a.Pool, logger)
	if err != nil {
		return err
	}
	return srv.Run(ctx, serveAddr)
}
