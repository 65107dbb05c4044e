// Package main is the entry point for codeshui: the relay server plus a
// handful of commands that drive the gateway from a shell.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/howard-nolan/codeshui/internal/config"
	"github.com/howard-nolan/codeshui/internal/gateway"
	"github.com/howard-nolan/codeshui/internal/probe"
	"github.com/howard-nolan/codeshui/internal/store"
)

var (
	configPath string

	// Set by the root command's PersistentPreRunE before any subcommand runs.
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "codeshui",
	Short: "Multi-vendor LLM gateway and relay",
	Long: `codeshui talks to Ollama, OpenAI, Anthropic, Google AI and custom
OpenAI-compatible endpoints through one request shape.

Settings come from an optional YAML file, overridden by CODESHUI_*
environment variables (and a .env file, if present).

Examples:
  codeshui serve
  codeshui config set --provider anthropic --api-key sk-ant-...
  codeshui generate "explain this regex: ^a+b?$"`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = c
		logger = newLogger(c.Log)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the process logger from the log section. Logs go to
// stderr so command output on stdout stays clean.
func newLogger(c config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func httpClient() *http.Client {
	return &http.Client{Timeout: cfg.Gateway.Timeout}
}

func hostContext() probe.HostContext {
	return probe.HostContext{DirectAccess: cfg.Gateway.DirectAccess}
}

func newGateway() *gateway.Gateway {
	return &gateway.Gateway{
		Client:       httpClient(),
		RelayURL:     cfg.Gateway.RelayURL,
		Host:         hostContext(),
		PreferDirect: cfg.Gateway.PreferDirect,
		Logger:       logger,
	}
}

// openStore builds the configuration store on the configured backend. The
// returned func releases the backend.
func openStore(ctx context.Context) (*store.Store, func(), error) {
	var (
		backend store.Backend
		closeFn = func() {}
	)

	switch cfg.Store.Backend {
	case "redis":
		rb := store.NewRedisBackend(cfg.Store.RedisAddr, cfg.Store.RedisPassword, cfg.Store.RedisDB)
		if err := rb.Ping(ctx); err != nil {
			_ = rb.Close()
			return nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Store.RedisAddr, err)
		}
		backend = rb
		closeFn = func() { _ = rb.Close() }
	default:
		backend = store.NewFileBackend(cfg.Store.Dir)
	}

	opts := []store.Option{store.WithProbeTimeout(cfg.Gateway.Timeout)}
	if cfg.Store.Key != "" {
		opts = append(opts, store.WithKey(cfg.Store.Key))
	}

	s := store.New(backend, probe.New(httpClient()), hostContext(), logger, opts...)
	return s, closeFn, nil
}
