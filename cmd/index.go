package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/biocypher/biochatter/internal/app"
)

var indexCmd = &cobra.Command{
	Use:   "index FILE...",
	Short: "Embed documents into the retrieval store",
	Long: `Index reads the given text files, splits them into chunks, embeds each
chunk and stores the vectors in the configured database. Indexed documents
ground chat replies when retrieval augmentation is enabled.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIndex,
}

var indexDeleteCmd = &cobra.Command{
	Use:   "forget SOURCE",
	Short: "Remove all chunks indexed from a source file",
	Args:  cobra.ExactArgs(1),
	RunE:  runForget,
}

func init() {
	indexCmd.AddCommand(indexDeleteCmd)
	rootCmd.AddCommand(indexCmd)
}

func setupForIndexing(cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Database.URL == "" {
		return nil, errors.New("no database configured; set database.url to use the retrieval store")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a, err := app.Setup(cmd.Context(), cfg, nil, newLogger(cfg))
	if err != nil {
		return nil, fmt.Errorf("setting up application: %w", err)
	}
	return a, nil
}

func runIndex(cmd *cobra.Command, args []string) error {
	a, err := setupForIndexing(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	result, err := a.Indexer.IndexFiles(cmd.Context(), args)
	for _, path := range result.FilesIndexed {
		fmt.Printf("indexed %s\n", path)
	}
	for _, path := range result.FilesSkipped {
		fmt.Printf("skipped %s\n", path)
	}
	fmt.Printf("%d chunks added\n", result.ChunksAdded)
	return err
}

func runForget(cmd *cobra.Command, args []string) error {
	a, err := setupForIndexing(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	deleted, err := a.Store.DeleteBySource(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("removed %d chunks from %s\n", deleted, args[0])
	return nil
}
