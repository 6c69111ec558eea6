// Package bootstrap assembles the long-lived collaborators shared by the
// server, the worker and the CLI.
package bootstrap

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/nucleus/metadata-extractor/internal/activities"
	"github.com/nucleus/metadata-extractor/internal/config"
	"github.com/nucleus/metadata-extractor/internal/credentials"
	"github.com/nucleus/metadata-extractor/internal/logging"
	"github.com/nucleus/metadata-extractor/internal/objectstore"
	"github.com/nucleus/metadata-extractor/internal/preflight"
	"github.com/nucleus/metadata-extractor/internal/source"
	"github.com/nucleus/metadata-extractor/internal/sqlquery"
	"github.com/nucleus/metadata-extractor/internal/workflows"
)

// Runtime holds the process-wide dependencies.
type Runtime struct {
	Config      *config.Config
	Logger      *zap.Logger
	Catalog     sqlquery.Catalog
	Credentials credentials.Store
	Connector   source.Connector
	Store       objectstore.ObjectStore
}

// New builds a Runtime from cfg. Close releases what it opened.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Runtime, error) {
	catalog, err := loadCatalog(cfg.QueriesFile)
	if err != nil {
		return nil, err
	}
	if _, err := catalog.Dialect(cfg.SourceDialect); err != nil {
		return nil, fmt.Errorf("source dialect: %w", err)
	}

	creds, err := NewCredentialStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	store, err := objectstore.FromConfig(cfg, logger)
	if err != nil {
		_ = creds.Close()
		return nil, fmt.Errorf("object store: %w", err)
	}
	if err := store.Ping(ctx); err != nil {
		_ = creds.Close()
		return nil, fmt.Errorf("object store unreachable: %w", err)
	}

	return &Runtime{
		Config:      cfg,
		Logger:      logger,
		Catalog:     catalog,
		Credentials: creds,
		Connector:   source.NewConnector(logger),
		Store:       store,
	}, nil
}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogLevel, cfg.LogFormat)
}

func loadCatalog(path string) (sqlquery.Catalog, error) {
	if path == "" {
		return sqlquery.Default()
	}
	catalog, err := sqlquery.Load(path)
	if err != nil {
		return sqlquery.Catalog{}, fmt.Errorf("load queries file %s: %w", path, err)
	}
	return catalog, nil
}

// NewCredentialStore returns the store selected by cfg.CredentialStore.
// The memory store only works when the server and the worker share a
// process.
func NewCredentialStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (credentials.Store, error) {
	switch cfg.CredentialStore {
	case "", "memory":
		return credentials.NewMemoryStore(), nil
	case "postgres":
		store, err := credentials.NewPostgresStore(ctx, cfg.DatabaseURL, cfg.MigrationsPath)
		if err != nil {
			return nil, fmt.Errorf("credential store: %w", err)
		}
		logger.Info("using postgres credential store")
		return store, nil
	default:
		return nil, fmt.Errorf("unknown credential store %q", cfg.CredentialStore)
	}
}

// Checker returns a preflight checker over the runtime's connector.
func (r *Runtime) Checker() *preflight.Checker {
	return preflight.NewChecker(r.Connector, r.Catalog, r.Config.SourceDialect, r.Logger)
}

// Activities returns the activity set for a worker.
func (r *Runtime) Activities() *activities.Activities {
	pusher := objectstore.NewPusher(r.Store, r.Config.ObjectStoreBucket, objectstore.PusherOptions{
		Concurrency: r.Config.UploadConcurrency,
		Rate:        r.Config.UploadRate,
		Timeout:     r.Config.UploadTimeout,
	}, r.Logger)
	return activities.New(activities.Deps{
		Credentials:    r.Credentials,
		Connector:      r.Connector,
		Catalog:        r.Catalog,
		DefaultDialect: r.Config.SourceDialect,
		Pusher:         pusher,
		BatchSize:      r.Config.BatchSize,
		Logger:         r.Logger,
	})
}

// DialTemporal connects to the configured Temporal frontend.
func (r *Runtime) DialTemporal() (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  r.Config.TemporalAddress,
		Namespace: r.Config.TemporalNamespace,
		Logger:    logging.NewTemporalLogger(r.Logger),
	})
	if err != nil {
		return nil, fmt.Errorf("dial temporal %s: %w", r.Config.TemporalAddress, err)
	}
	return c, nil
}

// NewWorker returns a worker on the configured task queue with the
// extraction workflow and its activities registered.
func (r *Runtime) NewWorker(c client.Client) worker.Worker {
	w := worker.New(c, r.Config.TemporalTaskQueue, worker.Options{})
	workflows.Register(w, workflows.New(r.Catalog, r.Config.SourceDialect), r.Activities())
	r.Logger.Info("worker registered",
		zap.String("taskQueue", r.Config.TemporalTaskQueue),
		zap.String("workflow", workflows.ExtractionWorkflowName))
	return w
}

// Close releases the credential store.
func (r *Runtime) Close() {
	if err := r.Credentials.Close(); err != nil {
		r.Logger.Warn("failed to close credential store", zap.Error(err))
	}
}
