package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sstent/fitbitkml/internal/config"
	"github.com/sstent/fitbitkml/internal/db"
	"github.com/sstent/fitbitkml/internal/logging"
	"github.com/sstent/fitbitkml/internal/tcx"
)

const listPageSize = 20

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List activities from the local catalog",
	Long: `List catalog activities with various filters:
- All activities
- Missing activities (TCX not yet downloaded)
- Downloaded activities

The catalog is filled by "dump-activities --catalog". When a plan file exists
its download status is synced first.`,
	RunE: runList,
}

var (
	listAll        bool
	listMissing    bool
	listDownloaded bool
)

func init() {
	listCmd.Flags().BoolVar(&listAll, "all", false, "List all activities")
	listCmd.Flags().BoolVar(&listMissing, "missing", false, "List activities that have not been downloaded")
	listCmd.Flags().BoolVar(&listDownloaded, "downloaded", false, "List activities that have been downloaded")
	listCmd.MarkFlagsMutuallyExclusive("all", "missing", "downloaded")
	listCmd.MarkFlagsOneRequired("all", "missing", "downloaded")

	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
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

	if plan, err := tcx.LoadPlan(cfg.PlanFile); err == nil {
		plan.Reconcile()
		if _, err := db.SyncPlan(database, plan); err != nil {
			return fmt.Errorf("catalog sync failed: %w", err)
		}
	}

	filter := filterAll
	switch {
	case listMissing:
		filter = filterMissing
	case listDownloaded:
		filter = filterDownloaded
	}

	return listPages(cmd.OutOrStdout(), cmd.InOrStdin(), pageFetcher(database, filter))
}

type listFilter int

const (
	filterAll listFilter = iota
	filterMissing
	filterDownloaded
)

// pageFetcher picks the paginated repository query for filter.
func pageFetcher(repo db.ActivityRepository, filter listFilter) func(page, pageSize int) ([]db.Activity, error) {
	switch filter {
	case filterMissing:
		return repo.GetMissingPaginated
	case filterDownloaded:
		return repo.GetDownloadedPaginated
	default:
		return repo.GetAllPaginated
	}
}

// listPages prints pages of activities, asking before each further page.
func listPages(out io.Writer, in io.Reader, fetch func(page, pageSize int) ([]db.Activity, error)) error {
	reader := bufio.NewReader(in)
	page := 1
	totalShown := 0

	for {
		activities, err := fetch(page, listPageSize)
		if err != nil {
			return fmt.Errorf("failed to get activities: %w", err)
		}

		if len(activities) == 0 {
			if totalShown == 0 {
				fmt.Fprintln(out, "No activities found matching the criteria")
			}
			break
		}

		for _, a := range activities {
			fmt.Fprintln(out, formatActivity(a))
			totalShown++
		}

		if len(activities) < listPageSize {
			fmt.Fprintf(out, "\nTotal: %d activities shown\n", totalShown)
			break
		}

		fmt.Fprintf(out, "\nPage %d (%d activities shown) - Show more? (y/n): ", page, totalShown)
		response, _ := reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(response)) != "y" {
			break
		}
		page++
	}

	return nil
}

func formatActivity(a db.Activity) string {
	status := "not downloaded"
	switch {
	case a.Downloaded:
		status = "downloaded " + a.TCXPath
	case a.TCXLink == "":
		status = "no TCX"
	}
	name := a.Name
	if name == "" {
		name = "-"
	}
	return fmt.Sprintf("ID: %d | %s | %-16s | %8.2f | %s",
		a.LogID, a.StartTime.Format("2006-01-02 15:04:05"), name, a.Distance, status)
}
