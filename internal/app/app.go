// Package app builds the long-lived services from configuration and exposes
// the operations the CLI runs: discovery runs, package sync, on-demand lookup,
// the HTTP server and schema migration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/appgallery-ingest/internal/api"
	"github.com/JakeFAU/appgallery-ingest/internal/catalog"
	"github.com/JakeFAU/appgallery-ingest/internal/clock/system"
	"github.com/JakeFAU/appgallery-ingest/internal/config"
	"github.com/JakeFAU/appgallery-ingest/internal/credential"
	"github.com/JakeFAU/appgallery-ingest/internal/hash/sha256"
	"github.com/JakeFAU/appgallery-ingest/internal/id/uuid"
	"github.com/JakeFAU/appgallery-ingest/internal/logging"
	"github.com/JakeFAU/appgallery-ingest/internal/metrics"
	"github.com/JakeFAU/appgallery-ingest/internal/policy/ratelimit"
	"github.com/JakeFAU/appgallery-ingest/internal/policy/rating"
	"github.com/JakeFAU/appgallery-ingest/internal/progress"
	progresssinks "github.com/JakeFAU/appgallery-ingest/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/appgallery-ingest/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/appgallery-ingest/internal/publisher/pubsub"
	"github.com/JakeFAU/appgallery-ingest/internal/remote"
	"github.com/JakeFAU/appgallery-ingest/internal/scheduler"
	gcsstorage "github.com/JakeFAU/appgallery-ingest/internal/storage/gcs"
	localstorage "github.com/JakeFAU/appgallery-ingest/internal/storage/local"
	memorystorage "github.com/JakeFAU/appgallery-ingest/internal/storage/memory"
	pgstore "github.com/JakeFAU/appgallery-ingest/internal/storage/postgres"
	"github.com/JakeFAU/appgallery-ingest/internal/store"
	"github.com/JakeFAU/appgallery-ingest/internal/worker"
)

// Options override pieces Build would otherwise create from configuration.
type Options struct {
	Logger     *zap.Logger
	HTTPClient *http.Client
	// Registerer receives the progress collectors. Defaults to the global
	// Prometheus registerer.
	Registerer prometheus.Registerer
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  *system.Clock

	entities store.ChangeAwareStore
	runs     store.RunRepository
	pg       *pgstore.Store

	gcsClient    *storage.Client
	publisher    *gcppublisher.Publisher
	memPublisher *memorypublisher.Publisher
	hub          *progress.Hub

	creds     *credential.Manager
	worker    *worker.Worker
	scheduler *scheduler.Scheduler
	api       *api.Server
}

// Build creates the application's dependencies. An empty db.dsn selects the
// in-memory store.
func Build(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.API.Timeout()}
	}

	metrics.Init()
	a := &App{cfg: cfg, logger: logger, clock: system.New()}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	if err := a.setupStore(ctx); err != nil {
		return nil, err
	}
	blobs, err := a.setupBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.setupProgress(opts.Registerer); err != nil {
		return nil, err
	}

	ids := uuid.New()
	a.creds = credential.NewManager(
		credential.NewHTTPExchanger(httpClient, cfg.API.TokenURL, cfg.API.UserAgent, a.clock),
		ids,
		a.clock,
		a.clock,
		credential.Config{
			TokenValidity:    time.Duration(cfg.Credential.TokenValiditySeconds) * time.Second,
			IdentityValidity: time.Duration(cfg.Credential.IdentityValiditySeconds) * time.Second,
			Attempts:         cfg.Credential.Attempts,
			Backoff:          time.Duration(cfg.Credential.BackoffMs) * time.Millisecond,
			Timeout:          cfg.API.Timeout(),
		},
		logger,
	)

	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: cfg.RateLimit.RPS, DefaultBurst: cfg.RateLimit.Burst})
	client := remote.NewClient(
		httpClient,
		remote.Config{
			BaseURL:   cfg.API.BaseURL,
			UserAgent: cfg.API.UserAgent,
			Locale:    cfg.API.Locale,
			Timeout:   cfg.API.Timeout(),
		},
		a.creds,
		limiter,
		remote.NewExponentialRetryPolicy(
			cfg.API.MaxRetries,
			time.Duration(cfg.API.BackoffInitialMs)*time.Millisecond,
			time.Duration(cfg.API.BackoffMaxMs)*time.Millisecond,
		),
		a.clock,
		a.clock,
		logger,
	)
	logger.Info("remote client configured",
		zap.String("base_url", cfg.API.BaseURL),
		zap.String("locale", client.Locale()),
		zap.Float64("rps", cfg.RateLimit.RPS),
	)

	a.worker = worker.New(
		client,
		a.entities,
		rating.NewPrefixSkip(cfg.Rating.SkipPrefixes...),
		blobs,
		publisher,
		sha256.NewTruncated(16),
		a.clock,
		worker.Config{
			Locale:        cfg.API.Locale,
			ArchivePrefix: cfg.Storage.Prefix,
			Topic:         cfg.PubSub.TopicName,
		},
		logger,
	)

	a.scheduler = scheduler.New(a.worker, a.hub, ids, a.clock, a.clock, logger)

	a.api = api.NewServer(a.worker, a.entities, a.runs, api.Options{
		Auth:           cfg.Auth,
		RequestTimeout: 2 * cfg.API.Timeout(),
		Ready:          a.ready,
	}, logger)

	ok = true
	return a, nil
}

func (a *App) setupStore(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no db.dsn configured, using the in-memory store")
		a.entities = memorystorage.NewEntityStore(a.clock)
		a.runs = memorystorage.NewRunStore()
		return nil
	}
	pg, err := pgstore.New(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        int32(a.cfg.DB.MaxConns),
		MinConns:        int32(a.cfg.DB.MinConns),
		MaxConnLifetime: time.Duration(a.cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
	}, a.clock)
	if err != nil {
		return fmt.Errorf("postgres store init failed: %w", err)
	}
	a.pg = pg
	a.entities = pg
	a.runs = pg
	a.logger.Info("postgres store initialized", zap.Int("max_conns", a.cfg.DB.MaxConns))
	return nil
}

func (a *App) setupBlobStore(ctx context.Context) (catalog.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.StorageGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("archiving snapshots to GCS", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return blobs, nil
	case config.StorageLocal:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("archiving snapshots to disk", zap.String("path", a.cfg.Storage.LocalDir))
		return blobs, nil
	case config.StorageMemory:
		a.logger.Info("archiving snapshots in memory")
		return memorystorage.NewBlobStore(), nil
	default:
		a.logger.Info("snapshot archive disabled")
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (catalog.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" {
		if a.cfg.PubSub.Memory {
			a.memPublisher = memorypublisher.New()
			a.logger.Info("recording change notifications in memory")
			return a.memPublisher, nil
		}
		a.logger.Info("no pubsub.project_id configured, change notifications disabled")
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.publisher = gcppublisher.New(client, a.cfg.PubSub.TopicName)
	a.logger.Info("pubsub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.publisher, nil
}

func (a *App) setupProgress(reg prometheus.Registerer) error {
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinks := []progress.Sink{
		progresssinks.NewStoreSink(a.runs, a.logger),
		promSink,
	}
	if a.cfg.Progress.LogEvents {
		sinks = append(sinks, progresssinks.NewLogSink(a.logger))
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   time.Duration(a.cfg.Progress.MaxBatchWaitMs) * time.Millisecond,
		Logger:         a.logger,
	}, sinks...)
	return nil
}

func (a *App) ready(ctx context.Context) error {
	if a.pg == nil {
		return nil
	}
	return a.pg.Ping(ctx)
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Handler returns the HTTP handler served by Serve.
func (a *App) Handler() http.Handler {
	return a.api.Handler()
}

// Migrate creates the Postgres schema. It is a no-op for the in-memory store.
func (a *App) Migrate(ctx context.Context) error {
	if a.pg == nil {
		a.logger.Info("in-memory store needs no migration")
		return nil
	}
	if err := a.pg.Migrate(ctx); err != nil {
		return err
	}
	a.logger.Info("schema migrated")
	return nil
}

// Close shuts the services down in reverse dependency order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub: %w", err))
		}
	}
	if a.memPublisher != nil {
		a.logger.Info("in-memory change notifications", zap.Int("published", len(a.memPublisher.Messages())))
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close gcs client: %w", err))
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
