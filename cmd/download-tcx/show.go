package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sstent/fitbitkml/internal/config"
	"github.com/sstent/fitbitkml/internal/db"
	"github.com/sstent/fitbitkml/internal/logging"
)

var showCmd = &cobra.Command{
	Use:   "show LOG_ID",
	Short: "Show one catalog activity and its download status",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	logID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid log id %q", args[0])
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	database, err := db.NewDatabase(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	return showActivity(cmd.OutOrStdout(), database, logID)
}

func showActivity(out io.Writer, repo db.ActivityRepository, logID int64) error {
	a, ok, err := repo.Get(logID)
	if err != nil {
		return fmt.Errorf("failed to get activity %d: %w", logID, err)
	}
	if !ok {
		return fmt.Errorf("activity %d is not in the catalog", logID)
	}

	fmt.Fprintln(out, formatActivity(a))
	if a.TCXLink != "" {
		fmt.Fprintf(out, "TCX link: %s\n", a.TCXLink)
	}
	return nil
}
