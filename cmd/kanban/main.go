package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cheezy/kanban/internal/config"
	"github.com/cheezy/kanban/internal/orchestrator"
	"github.com/cheezy/kanban/internal/persistence"
)

func main() {
	// Signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options holds the persistent flags shared by every command.
type options struct {
	configPath string
	dbPath     string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "kanban",
		Short:         "Kanban workflow engine for human and agent workers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default: ~/.kanban and .kanban lookup)")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path, overrides database.path")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level, overrides log.level")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format (text or json), overrides log.format")

	root.AddCommand(newServeCmd(opts), newSweepCmd(opts), newCheckCmd(opts), newWatchCmd(opts))
	return root
}

// load resolves the configuration and applies flag overrides.
func (o *options) load() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.Load("", o.configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	if o.dbPath != "" {
		cfg.Database.Path = o.dbPath
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger from the log settings.
func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	hopts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	}
	return slog.New(slog.NewTextHandler(w, hopts)), nil
}

func openStore(ctx context.Context, cfg *config.Config) (*persistence.SQLiteStore, error) {
	if cfg.InMemory() {
		return persistence.NewMemoryStore(ctx)
	}
	return persistence.NewSQLiteStore(ctx, cfg.Database.Path)
}

func engineConfig(cfg *config.Config, logger *slog.Logger) orchestrator.Config {
	retry := orchestrator.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Claim.MaxAttempts
	return orchestrator.Config{
		ClaimTTL: cfg.ClaimTTL(),
		Retry:    retry,
		Logger:   logger,
	}
}
