package main

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/JakeFAU/appgallery-ingest/internal/app"
	"github.com/JakeFAU/appgallery-ingest/internal/store"
)

func newDiscoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover <strategy>",
		Short: "Run one discovery pass",
		Long: "Runs the batch scheduler once over a discovery strategy: " +
			strings.Join(app.Strategies(), ", ") + ".",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one strategy, got %d", len(args))
			}
			if !slices.Contains(app.Strategies(), args[0]) {
				return fmt.Errorf("unknown strategy %q (want one of %s)", args[0], strings.Join(app.Strategies(), ", "))
			}
			return nil
		},
		ValidArgs: app.Strategies(),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			sum, err := appInstance.Discover(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("discover %s: %w", args[0], err)
			}
			return printJSON(cmd.OutOrStdout(), sum)
		},
	}
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Refresh every configured and stored package once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			sum, err := appInstance.Sync(cmd.Context())
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), sum)
		},
	}
}

func newLookupCmd() *cobra.Command {
	var listedAt, comment string
	cmd := &cobra.Command{
		Use:   "lookup <app-id|package>",
		Short: "Fetch and ingest a single entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := lookupOptions(listedAt, comment)
			if err != nil {
				return err
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := appInstance.Lookup(cmd.Context(), args[0], opts)
			if err != nil {
				return fmt.Errorf("lookup %s: %w", args[0], err)
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&listedAt, "listed-at", "", "listing timestamp to record (RFC3339)")
	cmd.Flags().StringVar(&comment, "comment", "", "JSON annotation to record on the entity")
	return cmd
}

func lookupOptions(listedAt, comment string) (store.IngestOptions, error) {
	var opts store.IngestOptions
	if listedAt != "" {
		ts, err := time.Parse(time.RFC3339, listedAt)
		if err != nil {
			return opts, fmt.Errorf("--listed-at: %w", err)
		}
		opts.ListedAt = &ts
	}
	if comment != "" {
		if !json.Valid([]byte(comment)) {
			return opts, fmt.Errorf("--comment must be valid JSON")
		}
		opts.Comment = json.RawMessage(comment)
	}
	return opts, nil
}

func newServeCmd(v *viper.Viper) *cobra.Command {
	var withSync bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return appInstance.Serve(cmd.Context(), withSync)
		},
	}
	cmd.Flags().BoolVar(&withSync, "sync", false, "also run the periodic package sync")
	cmd.Flags().Int("port", 0, "listen port")
	if err := v.BindPFlag("server.port", cmd.Flags().Lookup("port")); err != nil {
		panic(fmt.Sprintf("bind flag port: %v", err))
	}
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the Postgres schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return appInstance.Migrate(cmd.Context())
		},
	}
}
