package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/smartdevs17/web3rsvp-indexer/internal/config"
	"github.com/smartdevs17/web3rsvp-indexer/internal/connection"
	"github.com/smartdevs17/web3rsvp-indexer/internal/contract"
	"github.com/smartdevs17/web3rsvp-indexer/internal/indexer"
	"github.com/smartdevs17/web3rsvp-indexer/internal/ipfs"
	"github.com/smartdevs17/web3rsvp-indexer/internal/mapping"
	"github.com/smartdevs17/web3rsvp-indexer/internal/metrics"
	"github.com/smartdevs17/web3rsvp-indexer/internal/server"
	"github.com/smartdevs17/web3rsvp-indexer/internal/storage"
	"github.com/smartdevs17/web3rsvp-indexer/pkg/utils"
)

// Application wires the indexer components together
type Application struct {
	config     *config.Config
	logger     *logrus.Entry
	metrics    *metrics.Manager
	connection *connection.ConnectionManager
	storage    storage.Store
	indexer    *indexer.Indexer
	server     *server.HTTPServer
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	app := &Application{config: cfg}

	logCfg := cfg.Logging
	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.logger = utils.ComponentLogger("app")

	if err := app.initializeComponents(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	app.logger.Info("Initializing application components")

	app.metrics = metrics.NewManager()

	// Connection manager
	app.connection = connection.NewConnectionManager(&app.config.Chain)
	app.connection.SetMetricsManager(app.metrics)

	// Storage
	store, err := storage.NewStorage(&app.config.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	if err := store.Connect(); err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return fmt.Errorf("failed to migrate storage: %w", err)
	}
	app.storage = storage.NewStorageWithMetrics(store, app.metrics)

	// Metadata fetcher and handlers
	fetcher := ipfs.NewGatewayFetcher(&ipfs.GatewayConfig{
		GatewayURL: app.config.IPFS.GatewayURL,
		Timeout:    app.config.IPFS.Timeout,
		MaxSize:    app.config.IPFS.MaxSize,
	})
	fetcher.SetMetricsManager(app.metrics)

	handlers := mapping.NewHandlers(fetcher)
	handlers.SetMetricsManager(app.metrics)

	// Indexer
	decoder, err := contract.NewDecoder()
	if err != nil {
		return fmt.Errorf("failed to load contract ABI: %w", err)
	}
	app.indexer = indexer.NewIndexer(app.connection, app.storage, decoder, handlers, &indexer.Config{
		ContractAddress:    app.config.Chain.Address(),
		StartBlock:         app.config.Chain.StartBlock,
		PollInterval:       app.config.Indexer.PollInterval,
		BatchSize:          app.config.Indexer.BatchSize,
		ConfirmationBlocks: app.config.Indexer.ConfirmationBlocks,
	})
	app.indexer.SetMetricsManager(app.metrics)

	// HTTP server
	version := app.config.App.Version
	if version == "" {
		version = AppVersion
	}
	if app.config.Server.Enabled {
		app.server = server.NewHTTPServer(&server.ServerConfig{
			Port:          app.config.Server.Port,
			Host:          app.config.Server.Host,
			ReadTimeout:   app.config.Server.ReadTimeout,
			WriteTimeout:  app.config.Server.WriteTimeout,
			EnableMetrics: app.config.Server.EnableMetrics,
			EnableHealth:  app.config.Server.EnableHealth,
			Version:       version,
		}, app.storage, app.indexer, app.metrics)
	}

	app.logger.Info("All components initialized successfully")
	return nil
}

// Run indexes and serves the API until ctx is cancelled or either fails
func (app *Application) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := app.indexer.Start(gctx); err != nil {
			return fmt.Errorf("failed to start indexer: %w", err)
		}
		<-gctx.Done()
		return app.indexer.Stop()
	})

	if app.server != nil {
		g.Go(func() error {
			return app.server.Run(gctx)
		})
	}

	app.logger.WithFields(logrus.Fields{
		"contract":       app.config.Chain.ContractAddress,
		"server_enabled": app.server != nil,
	}).Info("Application started")

	return g.Wait()
}

// Backfill processes [from, to] in batches and exits
func (app *Application) Backfill(ctx context.Context, from, to uint64) error {
	batch := uint64(app.config.Indexer.BatchSize)
	if batch == 0 {
		batch = 1
	}

	for start := from; start <= to; start += batch {
		end := start + batch - 1
		if end > to || end < start {
			end = to
		}

		result, err := app.indexer.ProcessBlockRange(ctx, start, end)
		if err != nil {
			return fmt.Errorf("backfill of blocks %d-%d failed: %w", start, end, err)
		}

		app.logger.WithFields(logrus.Fields{
			"from":         result.FromBlock,
			"to":           result.ToBlock,
			"logs_handled": result.LogsHandled,
			"logs_skipped": result.LogsSkipped,
		}).Info("Backfilled block range")

		if end == to {
			break
		}
	}

	return nil
}

// Close releases the storage and node connections
func (app *Application) Close() error {
	if app.connection != nil {
		app.connection.Close()
	}
	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
	}
	return nil
}
