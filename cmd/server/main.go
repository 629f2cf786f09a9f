package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/internal/engine"
)

// Version is set via ldflags at build time
var Version = "dev"

var (
	configPath string
	jsonOutput bool
	logger     *logrus.Logger
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:     "server",
	Short:   "mailsync - background email sync and cache engine",
	Long:    "Mailsync keeps a local, searchable cache of IMAP mailboxes fresh and serves it over MCP.",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		// stdout carries MCP responses and command output
		logger.SetOutput(os.Stderr)

		var err error
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			level = logrus.InfoLevel
		}
		logger.SetLevel(level)
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.SetVersionTemplate("mailsync version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file (default $MAILSYNC_CONFIG)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print machine-readable JSON")
}

// openEngine builds the engine and readies the cache without starting the scheduler
func openEngine(ctx context.Context) (*engine.Engine, error) {
	e, err := engine.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := e.Prepare(ctx); err != nil {
		closeEngine(e)
		return nil, err
	}
	return e, nil
}

func closeEngine(e *engine.Engine) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Close(ctx); err != nil {
		logger.WithError(err).Warn("Shutdown was not clean")
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
