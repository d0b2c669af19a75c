// Package cmd defines the CLI commands for the appscout executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jackmmaher/appscout/internal/config"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "appscout",
		Short: "App-store market research pipeline",
		Long: `appscout runs the asynchronous enrichment pipeline for app-store
market research: it queues discovery, scoring, and review-enrichment jobs,
drains them on demand, and supervises the crawl worker process that talks
to the store.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newWorkerCmd())
	return cmd
}

func loadConfig() (config.Config, error) {
	// Missing .env is the normal case outside development.
	_ = godotenv.Load()
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
