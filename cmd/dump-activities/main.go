package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sstent/fitbitkml/internal/config"
	"github.com/sstent/fitbitkml/internal/db"
	"github.com/sstent/fitbitkml/internal/dump"
	"github.com/sstent/fitbitkml/internal/fitbit"
	"github.com/sstent/fitbitkml/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "dump-activities",
	Short: "Dump every Fitbit activity to monthly JSON files",
	Long: `dump-activities pages through the Fitbit activity log and writes the
raw entries to <output-dir>/YYYY/MM.json, one file per calendar month.

With --catalog the activities are also synced into the SQLite catalog used by
"download-tcx list".`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runDump,
}

var (
	afterDate   string
	pageSize    int
	sortOrder   string
	syncCatalog bool
)

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func main() {
	Execute()
}

func init() {
	flags := rootCmd.Flags()
	flags.String("token-file", "", "Path to the OAuth tokens file (default: $FB_TOKENS_FILE, $FB_CLIENT_SECRET_FILE or tokens.json)")
	flags.StringP("output-dir", "o", "", "Directory where YYYY/MM.json files are written (default: data/fitbit_activities)")
	flags.StringVar(&afterDate, "after-date", "2008-01-01", "Fetch activities recorded on or after this YYYY-MM-DD date")
	flags.IntVar(&pageSize, "page-size", 100, "Number of activities to fetch per request (1-100)")
	flags.StringVar(&sortOrder, "sort", "desc", "Sort order passed to the Fitbit API (asc or desc)")
	flags.BoolVar(&syncCatalog, "catalog", false, "Also sync the activities into the SQLite catalog")
	flags.String("db-path", "", "SQLite catalog path (default: data/fitbit.db)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: console or json")

	_ = viper.BindPFlag(config.KeyTokenFile, flags.Lookup("token-file"))
	_ = viper.BindPFlag(config.KeyDataDir, flags.Lookup("output-dir"))
	_ = viper.BindPFlag(config.KeyDatabasePath, flags.Lookup("db-path"))
	_ = viper.BindPFlag(config.KeyLogLevel, rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag(config.KeyLogFormat, rootCmd.PersistentFlags().Lookup("log-format"))
}

func runDump(cmd *cobra.Command, args []string) error {
	if _, err := time.Parse("2006-01-02", afterDate); err != nil {
		return fmt.Errorf("--after-date must be YYYY-MM-DD, got %q", afterDate)
	}
	if pageSize < 1 || pageSize > 100 {
		return fmt.Errorf("--page-size must be between 1 and 100, got %d", pageSize)
	}
	if sortOrder != "asc" && sortOrder != "desc" {
		return fmt.Errorf("--sort must be asc or desc, got %q", sortOrder)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	logging.Info().Str("path", cfg.TokenFile).Msg("loading_tokens")
	client, err := fitbit.NewClient(cfg)
	if err != nil {
		return err
	}

	buckets := dump.NewBuckets()
	var all []fitbit.Activity
	requests, err := client.Activities(cmd.Context(), fitbit.ListOptions{
		AfterDate: afterDate,
		PageSize:  pageSize,
		Sort:      sortOrder,
	}, func(a fitbit.Activity) error {
		buckets.Add(a)
		if syncCatalog {
			all = append(all, a)
		}
		return nil
	})
	if err != nil {
		logging.Error().Err(err).Msg("fitbit_api_error")
		return err
	}

	written, err := dump.WriteMonthBuckets(buckets, cfg.DataDir)
	if err != nil {
		return err
	}

	logging.Info().
		Int("total", buckets.Total()).
		Int("requests", requests).
		Int("months", len(written)).
		Int("skipped", buckets.Skipped()).
		Str("output", cfg.DataDir).
		Msg("dump_complete")

	if !syncCatalog {
		return nil
	}

	catalog, err := db.NewDatabase(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer catalog.Close()

	stats, err := db.SyncActivities(catalog, all)
	if err != nil {
		return fmt.Errorf("catalog sync failed: %w", err)
	}
	logging.Info().
		Int("inserted", stats.Inserted).
		Int("updated", stats.Updated).
		Int("unchanged", stats.Unchanged).
		Int("skipped", stats.Skipped).
		Str("path", cfg.DatabasePath).
		Msg("catalog_synced")
	return nil
}
