// Package cmd provides the CLI commands for notemind.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/haruki-endo/notemind/internal/logging"
	"github.com/haruki-endo/notemind/pkg/version"
)

var (
	cfgPath  string
	debugLog bool
)

// NewRootCmd creates the root command for the notemind CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "notemind",
		Short:   "Retrieval-augmented question answering over a Markdown note corpus",
		Version: version.Version,
		Long: `notemind indexes a directory of Markdown/Logseq notes, embeds them,
and answers questions over the corpus, optionally blending in web search
results, through a small HTTP API.`,
	}
	cmd.SetVersionTemplate("notemind version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to a YAML config file (optional)")
	cmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "Enable debug logging to ~/.notemind/logs/")

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newRebuildIndexCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// setupLogging initializes file-based structured logging and sets it as the
// process default; the returned cleanup function flushes and closes the log
// file.
func setupLogging() func() {
	logCfg := logging.DefaultConfig()
	if debugLog {
		logCfg = logging.DebugConfig()
	}
	logCfg.WriteToStderr = true

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return func() {}
	}
	slog.SetDefault(logger)
	return cleanup
}
