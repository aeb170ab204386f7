package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/outfield/enrichd/config"
	"github.com/outfield/enrichd/db"
	"github.com/outfield/enrichd/enrich"
	"github.com/outfield/enrichd/errors"
	"github.com/outfield/enrichd/job"
	"github.com/outfield/enrichd/logger"
	"github.com/outfield/enrichd/notify"
	"github.com/outfield/enrichd/provider"
	"github.com/outfield/enrichd/server"
	"github.com/outfield/enrichd/token"
)

const shutdownTimeout = 15 * time.Second

// ServeCmd starts the HTTP/WebSocket server and the worker pool
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the enrichd server and worker pool",
	Long: `Start the enrichd server: HTTP job submission and query API,
WebSocket progress streaming, and the background worker pool that
processes enrichment jobs.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	conn, err := db.Open(cfg.Database.Path, logger.Logger)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer conn.Close()

	if err := db.Migrate(conn, logger.Logger); err != nil {
		return errors.Wrap(err, "failed to migrate database")
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Provider client and token manager reference each other: the
	// manager refreshes through the client's token endpoint, the client
	// authenticates through the manager.
	providerClient := provider.NewClient(provider.Config{
		BaseURL:           cfg.Provider.BaseURL,
		TokenURL:          cfg.Provider.TokenURL,
		ClientID:          cfg.Provider.ClientID,
		ClientSecret:      cfg.Provider.ClientSecret,
		RequestsPerMinute: cfg.Provider.RequestsPerMinute,
		Timeout:           time.Duration(cfg.Provider.TimeoutSeconds) * time.Second,
	}, nil, logger.Logger)

	tokenManager := token.NewManager(
		token.NewStore(conn),
		providerClient,
		time.Duration(cfg.Token.ExpirySkewSeconds)*time.Second,
		logger.Logger,
	)
	providerClient.SetTokenSource(tokenManager)

	queue := job.NewQueue(conn)

	registry := job.NewProcessorRegistry()
	registry.Register(enrich.NewProcessor(providerClient, logger.Logger))

	submitter := job.NewSubmitter(queue, registry)

	notifier := notify.NewNotifier(queue, logger.Logger)
	notifier.Start()
	defer notifier.Stop()

	pool := job.NewWorkerPool(ctx, queue, registry, job.WorkerPoolConfig{
		Workers:      cfg.Worker.Workers,
		PollInterval: time.Duration(cfg.Worker.PollIntervalSeconds) * time.Second,
	}, logger.Logger)
	pool.Start()

	srv := server.New(ctx, cfg.Server, queue, submitter, notifier, logger.Logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Infow("Shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return err
		}
		return nil
	}

	// Stop accepting new work first, then drain
	cancel()
	pool.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "server shutdown failed")
	}

	return nil
}

// loadConfig honors the --config flag, falling back to the default
// search path and environment
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}
