package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kirillkom/corpus-router/internal/bootstrap"
	"github.com/kirillkom/corpus-router/internal/config"
	"github.com/kirillkom/corpus-router/internal/observability/logging"
)

var version = "dev"

var (
	flagDataPath string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:          "ragctl",
	Short:        "Build the corpus indices and ask routed questions about them",
	SilenceUsage: true,
	Long: `ragctl answers questions about a directory of documents. Each question is
routed either to a summary over the whole corpus or to the two most relevant
passages, depending on what the router model decides fits the question.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDataPath, "data", "", "Documents directory (defaults to DATA_PATH)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (defaults to LOG_LEVEL)")
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads .env and the environment, then applies the global flags.
func loadConfig() config.Config {
	_ = godotenv.Load()
	cfg := config.Load()
	if strings.TrimSpace(flagDataPath) != "" {
		cfg.DataPath = flagDataPath
	}
	if strings.TrimSpace(flagLogLevel) != "" {
		cfg.LogLevel = flagLogLevel
	}
	return cfg
}

// newApp wires the application with logs sent to logOut. Callers must Close it.
func newApp(ctx context.Context, cfg config.Config, logOut io.Writer) (*bootstrap.App, error) {
	logger := logging.NewJSONLoggerTo(logOut, "ragctl", cfg.LogLevel)
	slog.SetDefault(logger)
	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return app, nil
}
