package cmd

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/haruki-endo/notemind/internal/httpapi"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Starts the HTTP surface described in spec.md §6: GET /, GET /api/status,
POST /api/search, POST /api/chat (SSE), and POST /api/rebuild-index.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cleanup := setupLogging()
			defer cleanup()

			svc, err := bootstrap()
			if err != nil {
				return err
			}
			defer svc.Close()

			srv := httpapi.New(httpapi.Config{
				CORSOrigins:     svc.cfg.Server.CORSOrigins,
				VectorIndexPath: svc.cfg.Storage.VectorIndexPath,
			}, svc.retriever, svc.indexer, svc.store, svc.logger)

			addr := fmt.Sprintf("%s:%d", svc.cfg.Server.Host, svc.cfg.Server.Port)
			svc.logger.Info("starting HTTP server", slog.String("addr", addr))

			httpSrv := &http.Server{Addr: addr, Handler: srv}

			go func() {
				<-cmd.Context().Done()
				_ = httpSrv.Close()
			}()

			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		},
	}
	return cmd
}
