package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"supportchat/internal/config"
	"supportchat/internal/logger"
)

var version = "1.0.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "supportchat",
		Short: "Customer support chat client",
		Long: `supportchat talks to a support backend from the terminal.

Examples:
  supportchat chat --form onboarding     # Start a new conversation
  supportchat chat --session 42          # Resume an existing session
  supportchat hours                      # Check business hours
  supportchat config validate            # Validate the config file`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", os.Getenv("SUPPORTCHAT_CONFIG_FILE"), "YAML config file")
	root.PersistentFlags().String("env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(newChatCmd())
	root.AddCommand(newHoursCmd())
	root.AddCommand(newConfigCmd())
	return root
}

// loadRuntime resolves configuration (file > env > defaults) and builds
// the logger every command shares.
func loadRuntime(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, zerolog.Nop(), fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	configPath, _ := cmd.Flags().GetString("config")
	cfg := config.LoadConfigWithPrecedence(configPath)
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, logger.NewWithWriter(cfg.Log, cmd.ErrOrStderr()), nil
}

// startMetrics serves /metrics on addr until the returned func is called.
func startMetrics(addr string, log zerolog.Logger) func() {
	if addr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Str("addr", addr).Msg("Metrics server stopped")
		}
	}()
	log.Info().Str("addr", addr).Msg("Serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
