package main

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/openclaw-brain/internal/api"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP/JSON API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, "serve")
			if err != nil {
				return err
			}
			defer a.Close()

			var sync api.Syncer
			if a.sync != nil {
				sync = a.sync
			}
			srv := api.NewServer(a.memories, sync, a.recaller(), a.logger, cfg.API.AuthToken)

			if cfg.API.AuthToken == "" {
				a.logger.Warn("HTTP API: auth is DISABLED; set OPENCLAW_BRAIN_API_AUTH_TOKEN or api.auth_token for production use")
			}

			httpSrv := &http.Server{
				Addr:              cfg.API.ListenAddr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       30 * time.Second,
				WriteTimeout:      2 * time.Minute,
				IdleTimeout:       120 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("HTTP API server starting", "addr", cfg.API.ListenAddr, "remote", a.sync != nil)
				if listenErr := httpSrv.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
					errCh <- fmt.Errorf("serve: HTTP server: %w", listenErr)
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
				a.logger.Info("shutting down")
			case startErr := <-errCh:
				return startErr
			}

			const shutdownTimeout = 10 * time.Second
			if shutdownErr := api.Shutdown(httpSrv, shutdownTimeout); shutdownErr != nil {
				return fmt.Errorf("serve: graceful shutdown: %w", shutdownErr)
			}

			// ListenAndServe may still be returning after Shutdown.
			if startErr := <-errCh; startErr != nil {
				return startErr
			}
			return nil
		},
	}
	return cmd
}
