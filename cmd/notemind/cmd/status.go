package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// statusInfo is the structured payload printed by 'notemind status'. It shares
// indexed_files, total_chunks and index_size_mb with GET /api/status, has no
// last_update, and adds the tag count and the two store paths.
type statusInfo struct {
	IndexedFiles int     `json:"indexed_files"`
	TotalChunks  int     `json:"total_chunks"`
	TotalTags    int     `json:"total_tags"`
	IndexSizeMB  float64 `json:"index_size_mb"`
	MetadataPath string  `json:"metadata_path"`
	VectorPath   string  `json:"vector_path"`
}

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index health and status",
		Long: `Display information about the current index: number of indexed files
and chunks, tag count, and on-disk vector index size.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := bootstrap()
			if err != nil {
				return err
			}
			defer svc.Close()

			stats, err := svc.store.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("read store stats: %w", err)
			}

			var sizeMB float64
			if fi, err := os.Stat(svc.cfg.Storage.VectorIndexPath); err == nil {
				sizeMB = float64(fi.Size()) / (1024 * 1024)
			}

			info := statusInfo{
				IndexedFiles: stats.DocumentCount,
				TotalChunks:  stats.ChunkCount,
				TotalTags:    stats.TagCount,
				IndexSizeMB:  sizeMB,
				MetadataPath: svc.cfg.Storage.MetadataDBPath,
				VectorPath:   svc.cfg.Storage.VectorIndexPath,
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Indexed files:  %d\n", info.IndexedFiles)
			fmt.Fprintf(w, "Total chunks:   %d\n", info.TotalChunks)
			fmt.Fprintf(w, "Total tags:     %d\n", info.TotalTags)
			fmt.Fprintf(w, "Vector index:   %.2f MB (%s)\n", info.IndexSizeMB, info.VectorPath)
			fmt.Fprintf(w, "Metadata store: %s\n", info.MetadataPath)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
