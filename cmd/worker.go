package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackmmaher/appscout/internal/crawld"
	"github.com/jackmmaher/appscout/internal/id/uuid"
	"github.com/jackmmaher/appscout/internal/logging"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the crawl worker daemon",
		Long: `Starts the crawl worker: a loopback HTTP daemon that executes
store search and review crawls on behalf of the pipeline. The API server
spawns this process on demand and reaches it on a fixed local port.`,
		RunE: runWorker,
	}
}

func runWorker(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	registry := crawld.NewRegistry()
	client := crawld.NewCollyClient(crawld.ClientConfig{}, logger)
	server := crawld.NewServer(registry, client, uuid.New(), logger)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Worker.Port)
	return serveHTTP(cmd.Context(), addr, server.Router(), logger)
}
