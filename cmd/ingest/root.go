package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/appgallery-ingest/internal/app"
	"github.com/JakeFAU/appgallery-ingest/internal/config"
	"github.com/JakeFAU/appgallery-ingest/internal/scheduler"
	"github.com/JakeFAU/appgallery-ingest/internal/store"
)

type appKeyType string

const appKey appKeyType = "app"

// App is the subset of *app.App the commands use.
type App interface {
	Discover(ctx context.Context, strategy string) (scheduler.Summary, error)
	Sync(ctx context.Context) (scheduler.Summary, error)
	Lookup(ctx context.Context, raw string, opts store.IngestOptions) (store.IngestResult, error)
	Serve(ctx context.Context, withSync bool) error
	Migrate(ctx context.Context) error
	Logger() *zap.Logger
	Close(ctx context.Context) error
}

// newApp is replaced in tests.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	return app.Build(ctx, cfg, app.Options{})
}

func newRootCmd() *cobra.Command {
	v := config.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Catalog ingestion engine for app store metadata.",
		Long: `ingest discovers app store entities, fetches their metadata and ratings,
and stores only what changed since the last observation.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFrom(v, cfgFile)
			if err != nil {
				return err
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				return appInstance.Close(context.WithoutCancel(cmd.Context()))
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	flags.String("dsn", "", "postgres DSN; empty uses the in-memory store")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.Int("batch-size", 0, "candidates per batch")
	flags.Int("cooldown", 0, "pause between batches in milliseconds")
	flags.Int("max-batches", 0, "stop after this many batches (0 means no limit)")
	for key, name := range map[string]string{
		"db.dsn":                "dsn",
		"logging.level":         "log-level",
		"scheduler.batch_size":  "batch-size",
		"scheduler.cooldown_ms": "cooldown",
		"scheduler.max_batches": "max-batches",
	} {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}

	cmd.AddCommand(
		newDiscoverCmd(),
		newSyncCmd(),
		newLookupCmd(),
		newServeCmd(v),
		newMigrateCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
