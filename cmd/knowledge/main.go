// Package main provides the knowledge CLI for indexing and querying narrative content.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bull/narrative-knowledge/internal/app"
	"github.com/bull/narrative-knowledge/internal/config"
	"github.com/bull/narrative-knowledge/internal/logging"
)

// cli carries the application built from the --config flag to every command.
type cli struct {
	configPath string
	logLevel   string
	app        *app.App
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "knowledge",
		Short: "Narrative knowledge index tool",
		Long: `CLI tool for indexing and searching stories, characters, world elements,
scripts and chapters.

Environment variables:
  KNOWLEDGE_CONFIG   YAML configuration file (overridden by --config)
  KNOWLEDGE_BACKEND  auto, local, remote or qdrant (default: auto)
  OPENAI_API_KEY     OpenAI API key for embeddings (optional)
  IONOS_API_TOKEN    Token for the hosted collections backend (optional)
  QDRANT_HOST        Qdrant hostname (default: localhost)
  QDRANT_PORT        Qdrant gRPC port (default: 6334)`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.open(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.app == nil {
				return nil
			}
			return c.app.Close()
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", os.Getenv("KNOWLEDGE_CONFIG"), "path to YAML configuration")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newAddCmd(c),
		newRemoveCmd(c),
		newSearchCmd(c),
		newContextCmd(c),
		newEnhanceCmd(c),
		newWritingCmd(c),
		newRebuildCmd(c),
		newSyncCmd(c),
		newWatchCmd(c),
		newAskCmd(c),
		newChaptersCmd(c),
		newStatsCmd(c),
	)
	return root
}

func (c *cli) open(cmd *cobra.Command) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	a, err := app.Build(cmd.Context(), cfg, logger, nil)
	if err != nil {
		return fmt.Errorf("Failed to initialise knowledge index: %w", err)
	}
	c.app = a
	return nil
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
