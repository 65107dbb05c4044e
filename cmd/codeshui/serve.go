package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/howard-nolan/codeshui/internal/server"
)

const shutdownGrace = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay server",
	Long: `Serve runs the relay: an HTTP service that calls Anthropic, OpenAI
and Google AI on behalf of browser clients that can't reach them
cross-origin.

The port comes from server.port, then $PORT, then 3001.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		httpServer := &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      server.New(cfg, httpClient(), logger),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}

		g, ctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			logger.Info("relay listening",
				"port", cfg.Server.Port, "allowed_origins", cfg.Server.AllowedOrigins)
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-ctx.Done()
			logger.Info("shutting down relay")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
