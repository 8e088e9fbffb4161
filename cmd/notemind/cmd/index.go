package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build the note index from scratch",
		Long: `Scan the configured notes directory, parse and chunk every file,
embed every chunk, and persist the metadata store and vector index.

This is equivalent to 'rebuild-index' but intended as the first-run command.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cleanup := setupLogging()
			defer cleanup()

			svc, err := bootstrap()
			if err != nil {
				return err
			}
			defer svc.Close()

			stats, err := svc.indexer.BuildIndex(cmd.Context())
			if err != nil {
				return fmt.Errorf("build index: %w", err)
			}

			idx, err := svc.indexer.LoadIndex()
			if err != nil {
				return fmt.Errorf("load freshly built index: %w", err)
			}
			svc.retriever.SetIndex(idx)

			_, _ = fmt.Fprintf(cmd.OutOrStdout(),
				"Indexed %d files (%d skipped), %d chunks, in %s\n",
				stats.FilesScanned, stats.FilesSkipped, stats.ChunkCount, stats.Duration)
			return nil
		},
	}
	return cmd
}

func newRebuildIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild-index",
		Short: "Rebuild the note index from scratch",
		Long:  `Identical to 'index'; provided as a separate verb matching the HTTP API's /api/rebuild-index operation.`,
		RunE:  newIndexCmd().RunE,
	}
	return cmd
}
