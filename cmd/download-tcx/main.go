package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sstent/fitbitkml/internal/config"
	"github.com/sstent/fitbitkml/internal/db"
	"github.com/sstent/fitbitkml/internal/fitbit"
	"github.com/sstent/fitbitkml/internal/logging"
	"github.com/sstent/fitbitkml/internal/tcx"
)

var rootCmd = &cobra.Command{
	Use:   "download-tcx",
	Short: "Download TCX exports for dumped Fitbit activities",
	Long: `download-tcx reads the YYYY/MM.json activity dumps, plans one TCX download
per GPS activity and fetches the files one at a time.

The plan is saved to --plan-file and rewritten after every download, so an
interrupted run resumes where it stopped. Rate limits (HTTP 429) are waited
out; any other API error stops the run.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runDownload,
}

var (
	outputDir   string
	resumeFrom  string
	dryRun      bool
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
	flags.String("activities-dir", "", "Directory containing YYYY/MM.json activity dumps (default: data/fitbit_activities)")
	flags.StringVarP(&outputDir, "output-dir", "o", "", "Directory where TCX files are stored (default: same as --activities-dir)")
	flags.String("plan-file", "", "Path where the download plan is stored (default: data/tcx-files.json)")
	flags.StringVar(&resumeFrom, "resume-from", "", "Resume downloads using an existing plan file instead of scanning activity JSON")
	flags.BoolVar(&dryRun, "dry-run", false, "List eligible TCX URLs without downloading them")
	flags.String("rate-limit", "", "Minimum spacing between API requests, e.g. 500ms or 2 (seconds)")
	flags.Int("max-rate-limit-retries", 0, "How many HTTP 429 responses to wait out per request (default: 5)")
	flags.BoolVar(&syncCatalog, "catalog", false, "Mirror download status into the SQLite catalog")

	rootCmd.PersistentFlags().String("db-path", "", "SQLite catalog path (default: data/fitbit.db)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: console or json")

	_ = viper.BindPFlag(config.KeyTokenFile, flags.Lookup("token-file"))
	_ = viper.BindPFlag(config.KeyDataDir, flags.Lookup("activities-dir"))
	_ = viper.BindPFlag(config.KeyPlanFile, flags.Lookup("plan-file"))
	_ = viper.BindPFlag(config.KeyRateLimit, flags.Lookup("rate-limit"))
	_ = viper.BindPFlag(config.KeyMaxRateLimitRetries, flags.Lookup("max-rate-limit-retries"))
	_ = viper.BindPFlag(config.KeyDatabasePath, rootCmd.PersistentFlags().Lookup("db-path"))
	_ = viper.BindPFlag(config.KeyLogLevel, rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag(config.KeyLogFormat, rootCmd.PersistentFlags().Lookup("log-format"))
}

func runDownload(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	planPath, err := resolvePlanPath(resumeFrom, cfg.PlanFile)
	if err != nil {
		logging.Error().Str("path", resumeFrom).Msg("plan_file_missing")
		return err
	}

	plan, err := loadOrCollectPlan(planPath, cfg.DataDir, outputDir)
	if err != nil {
		return err
	}

	if dryRun {
		summary, err := tcx.NewDownloader(nil).Run(cmd.Context(), plan, tcx.RunOptions{DryRun: true})
		if err != nil {
			return err
		}
		logging.Info().
			Str("path", planPath).
			Int("total", summary.Total).
			Int("pending", summary.DryRunListed).
			Int("already_downloaded", summary.AlreadyDownloaded).
			Msg("tcx_plan_ready")
		return nil
	}

	opts := tcx.RunOptions{PlanPath: planPath}
	if syncCatalog {
		catalog, err := db.NewDatabase(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer catalog.Close()

		if _, err := db.SyncPlan(catalog, plan); err != nil {
			return fmt.Errorf("catalog sync failed: %w", err)
		}
		opts.Recorder = catalog
	}

	client, err := fitbit.NewClient(cfg)
	if err != nil {
		return err
	}

	summary, err := tcx.NewDownloader(client).Run(cmd.Context(), plan, opts)
	event := logging.Info()
	if err != nil {
		event = logging.Error().Err(err)
	}
	event.
		Int("total", summary.Total).
		Int("downloaded", summary.Downloaded).
		Int("already_downloaded", summary.AlreadyDownloaded).
		Int("remaining", plan.Summarize().Remaining()).
		Str("plan", planPath).
		Msg("tcx_download_summary")

	var apiErr *fitbit.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("fitbit API error, rerun to resume: %w", err)
	}
	return err
}

// resolvePlanPath picks the plan file. An explicit --resume-from must exist.
func resolvePlanPath(resumeFrom, planFile string) (string, error) {
	if resumeFrom == "" {
		return planFile, nil
	}
	if _, err := os.Stat(resumeFrom); err != nil {
		return "", fmt.Errorf("plan file not found: %s", resumeFrom)
	}
	return resumeFrom, nil
}

// loadOrCollectPlan loads the plan at planPath, or builds and saves a new one
// from the activity dumps when there is none yet.
func loadOrCollectPlan(planPath, activitiesDir, outputDir string) (*tcx.Plan, error) {
	if _, err := os.Stat(planPath); err == nil {
		plan, err := tcx.LoadPlan(planPath)
		if err != nil {
			return nil, err
		}
		logging.Info().Str("path", planPath).Int("entries", plan.Len()).Msg("tcx_plan_loaded")

		if plan.Len() == 0 {
			logging.Info().Str("path", planPath).Msg("tcx_plan_empty")
			return plan, nil
		}

		if changed := plan.Reconcile(); changed > 0 {
			logging.Warn().Int("changed", changed).Msg("tcx_plan_reconciled")
			if err := tcx.SavePlan(plan, planPath); err != nil {
				return nil, err
			}
		}
		stats := plan.Summarize()
		logging.Info().
			Int("total", stats.Total).
			Int("on_disk", stats.OnDisk).
			Int("remaining", stats.Remaining()).
			Msg("tcx_resume_progress")
		return plan, nil
	}

	if info, err := os.Stat(activitiesDir); err != nil || !info.IsDir() {
		logging.Error().Str("path", activitiesDir).Msg("activities_dir_missing")
		return nil, fmt.Errorf("activities directory not found: %s", activitiesDir)
	}

	plan, err := tcx.CollectPlan(activitiesDir, outputDir)
	if err != nil {
		return nil, err
	}
	if err := tcx.SavePlan(plan, planPath); err != nil {
		return nil, err
	}
	logging.Info().Str("path", planPath).Int("entries", plan.Len()).Msg("tcx_plan_created")
	return plan, nil
}
