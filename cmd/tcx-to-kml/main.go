package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sstent/fitbitkml/internal/config"
	"github.com/sstent/fitbitkml/internal/kml"
	"github.com/sstent/fitbitkml/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "tcx-to-kml",
	Short: "Convert TCX workout files to KML",
	Long: `tcx-to-kml converts GPS workout data from TCX (Training Center XML) to KML
for viewing in mapping applications.`,
	Example: `  # Convert a single file (output auto-named)
  tcx-to-kml --in workout.tcx

  # Convert with explicit output
  tcx-to-kml --in workout.tcx --out ../maps/workout.kml

  # Convert all files in a directory
  tcx-to-kml --in-dir ./tcx-files --out-dir ./kml-files

  # Force overwrite existing files and mark lap starts
  tcx-to-kml --in-dir ./tcx-files --out-dir ./kml-files --overwrite-destination --lap-markers`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runConvert,
}

var (
	inFile     string
	outFile    string
	inDir      string
	outDir     string
	overwrite  bool
	noStats    bool
	lapMarkers bool
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func main() {
	Execute()
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&inFile, "in", "", "Input TCX file to convert")
	flags.StringVar(&outFile, "out", "", "Output KML file (single file mode, default: input with .kml)")
	flags.StringVar(&inDir, "in-dir", "", "Input directory containing TCX files")
	flags.StringVar(&outDir, "out-dir", "", "Output directory for KML files (required with --in-dir)")
	flags.BoolVar(&overwrite, "overwrite-destination", false, "Overwrite existing output files")
	flags.BoolVar(&noStats, "no-stats", false, "Disable statistics output in directory mode")
	flags.BoolVar(&lapMarkers, "lap-markers", false, "Add a point placemark at the start of every lap")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: console or json")

	rootCmd.MarkFlagsMutuallyExclusive("in", "in-dir")
	rootCmd.MarkFlagsOneRequired("in", "in-dir")
	rootCmd.MarkFlagsMutuallyExclusive("out", "in-dir")
	rootCmd.MarkFlagsRequiredTogether("in-dir", "out-dir")

	_ = viper.BindPFlag(config.KeyLogLevel, rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag(config.KeyLogFormat, rootCmd.PersistentFlags().Lookup("log-format"))
}

func runConvert(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	opts := kml.ConvertOptions{Overwrite: overwrite, LapMarkers: lapMarkers}
	if inDir != "" {
		return convertDirectory(cmd.OutOrStdout(), inDir, outDir, opts, !noStats)
	}
	return convertSingle(cmd.OutOrStdout(), inFile, outFile, opts)
}

func convertSingle(out io.Writer, in, dest string, opts kml.ConvertOptions) error {
	info, err := os.Stat(in)
	if err != nil {
		return fmt.Errorf("input file does not exist: %s", in)
	}
	if info.IsDir() {
		return fmt.Errorf("input path is not a file: %s", in)
	}
	if dest == "" {
		dest = defaultOutput(in)
	}

	res, err := kml.Convert(in, dest, opts)
	if err != nil {
		return fmt.Errorf("failed to convert %s: %w", in, err)
	}
	fmt.Fprintf(out, "Converted %s -> %s\n", in, dest)
	fmt.Fprintf(out, "  Points: %d, Laps: %d\n", res.Points, res.Laps)
	return nil
}

func convertDirectory(out io.Writer, in, dest string, opts kml.ConvertOptions, showStats bool) error {
	stats, results, err := kml.ConvertDirectory(in, dest, opts)
	if err != nil {
		return err
	}

	for _, r := range results {
		relIn, _ := filepath.Rel(in, r.Input)
		if r.Err != nil {
			fmt.Fprintf(out, "FAILED %s: %v\n", relIn, r.Err)
			continue
		}
		relOut, _ := filepath.Rel(dest, r.Output)
		fmt.Fprintf(out, "Converted %s -> %s\n", relIn, relOut)
	}

	if showStats {
		printStats(out, stats)
	}

	if stats.Successful == 0 {
		return fmt.Errorf("no files converted (%d failed)", stats.Failed)
	}
	return nil
}

func printStats(out io.Writer, s kml.Stats) {
	rule := strings.Repeat("=", 50)
	fmt.Fprintf(out, "\n%s\nConversion Statistics\n%s\n", rule, rule)
	fmt.Fprintf(out, "Total files processed: %d\n", s.Total)
	fmt.Fprintf(out, "Successful conversions: %d\n", s.Successful)
	fmt.Fprintf(out, "Failed conversions: %d\n", s.Failed)
	fmt.Fprintf(out, "Total GPS points: %d\n", s.Points)
	fmt.Fprintf(out, "Total laps: %d\n", s.Laps)
	if s.Successful > 0 {
		fmt.Fprintf(out, "Average points per file: %.1f\n", s.AveragePoints())
		fmt.Fprintf(out, "Average laps per file: %.1f\n", s.AverageLaps())
	}
}

func defaultOutput(in string) string {
	return strings.TrimSuffix(in, filepath.Ext(in)) + ".kml"
}
