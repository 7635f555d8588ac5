package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/appgallery-ingest/internal/catalog"
	"github.com/JakeFAU/appgallery-ingest/internal/discovery"
	"github.com/JakeFAU/appgallery-ingest/internal/scheduler"
	"github.com/JakeFAU/appgallery-ingest/internal/store"
)

// Discovery strategies accepted by Discover.
const (
	StrategySequential   = "sequential"
	StrategyRandom       = "random"
	StrategyNeighborhood = "neighborhood"
	StrategyPackages     = "packages"
)

// Strategies lists the discovery strategies Discover accepts.
func Strategies() []string {
	return []string{StrategySequential, StrategyRandom, StrategyNeighborhood, StrategyPackages}
}

// Discover runs one scheduler pass over the named strategy.
func (a *App) Discover(ctx context.Context, strategy string) (scheduler.Summary, error) {
	src, err := a.source(ctx, strategy)
	if err != nil {
		return scheduler.Summary{}, err
	}
	return a.scheduler.Run(ctx, src, scheduler.Options{
		Name:       strategy,
		BatchSize:  a.cfg.Scheduler.BatchSize,
		Cooldown:   a.cfg.Scheduler.Cooldown(),
		MaxBatches: a.cfg.Scheduler.MaxBatches,
	})
}

// Sync refreshes every configured and already-stored package once.
func (a *App) Sync(ctx context.Context) (scheduler.Summary, error) {
	return a.Discover(ctx, StrategyPackages)
}

func (a *App) source(ctx context.Context, strategy string) (discovery.Source, error) {
	d := a.cfg.Discovery
	switch strategy {
	case StrategySequential:
		return discovery.NewSequential(d.Sequential.Prefix, d.Sequential.Start, d.Sequential.End, d.Sequential.Width), nil
	case StrategyRandom:
		return discovery.NewRandom(d.Random.Prefix, d.Random.Base, d.Random.Span, a.seed(d.Random.Seed)), nil
	case StrategyNeighborhood:
		known, err := a.entities.KnownAppIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("load known app ids: %w", err)
		}
		a.logger.Info("expanding known ids", zap.Int("known", len(known)), zap.Uint64("delta", d.Neighborhood.Delta))
		return discovery.Neighborhood(known, d.Neighborhood.Delta), nil
	case StrategyPackages:
		var known []string
		if a.cfg.Sync.IncludeKnown {
			var err error
			known, err = a.entities.KnownPackages(ctx)
			if err != nil {
				return nil, fmt.Errorf("load known packages: %w", err)
			}
		}
		return discovery.Packages(a.cfg.Sync.Packages, known, a.seed(0)), nil
	default:
		return nil, fmt.Errorf("unknown discovery strategy %q", strategy)
	}
}

func (a *App) seed(configured uint64) uint64 {
	if configured != 0 {
		return configured
	}
	return uint64(a.clock.Now().UnixNano())
}

// Lookup fetches and ingests a single entity by app id or package name.
func (a *App) Lookup(ctx context.Context, raw string, opts store.IngestOptions) (store.IngestResult, error) {
	key := catalog.ParseKey(raw)
	if err := key.Validate(); err != nil {
		return store.IngestResult{}, fmt.Errorf("invalid key %q: %w", raw, err)
	}
	return a.worker.Ingest(ctx, key, opts)
}

// SyncLoop runs Sync every sync.interval until ctx ends. A run stopped for
// lack of credentials is retried after sync.retry_delay instead.
func (a *App) SyncLoop(ctx context.Context) error {
	logger := a.logger.Named("sync")
	for {
		wait := a.cfg.Sync.Interval()
		sum, err := a.Sync(ctx)
		switch {
		case errors.Is(err, catalog.ErrCredentialsUnavailable):
			wait = a.cfg.Sync.RetryDelay()
			logger.Warn("sync stopped without credentials, retrying", zap.Duration("retry_in", wait), zap.Error(err))
		case err != nil:
			logger.Error("sync failed", zap.Error(err))
		default:
			logger.Info("sync finished",
				zap.Int64("processed", sum.Processed),
				zap.Int64("inserted", sum.Inserted),
				zap.Duration("next_in", wait),
			)
		}
		if err := a.clock.Sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

// Serve runs the HTTP server, and the periodic sync when withSync is set,
// until ctx ends or SIGINT/SIGTERM arrives.
func (a *App) Serve(ctx context.Context, withSync bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			stop()
		}
	}()

	syncDone := make(chan struct{})
	if withSync && a.cfg.Sync.IntervalSeconds > 0 {
		go func() {
			defer close(syncDone)
			_ = a.SyncLoop(ctx)
		}()
	} else {
		close(syncDone)
	}

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(a.cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case <-syncDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("sync loop did not stop before the shutdown deadline")
	}

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}
