package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	flagIndexForce   bool
	flagIndexRequest bool
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Load the persisted indices or build them from the documents directory",
	Args:  cobra.NoArgs,
	RunE:  runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&flagIndexForce, "force", false, "Rebuild even when persisted indices exist")
	indexCmd.Flags().BoolVar(&flagIndexRequest, "request", false, "Ask a running worker to rebuild instead of building here")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, _ []string) error {
	cfg := loadConfig()
	if flagIndexRequest {
		cfg.NotificationsEnabled = true
	}
	app, err := newApp(cmd.Context(), cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer app.Close()

	out := cmd.OutOrStdout()
	switch {
	case flagIndexRequest:
		if err := app.Notifier.PublishRebuildRequested(cmd.Context(), cfg.DataPath); err != nil {
			return fmt.Errorf("request rebuild: %w", err)
		}
		fmt.Fprintf(out, "Rebuild of %s requested.\n", cfg.DataPath)
	case flagIndexForce:
		chunks, err := app.Rebuild(cmd.Context(), cfg.DataPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Indexed %d chunks from %s into %s.\n", chunks, cfg.DataPath, cfg.StoragePath)
	default:
		corpus, err := app.Corpus.LoadOrBuild(cmd.Context(), cfg.DataPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Corpus ready: %d chunks from %d documents, embedded with %s, built %s.\n",
			corpus.Vector.Len(), len(corpus.Summary.Documents()), corpus.EmbeddingModel(), corpus.BuiltAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}
