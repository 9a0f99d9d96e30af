package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sstent/fitbitkml/internal/config"
	"github.com/sstent/fitbitkml/internal/kml"
	"github.com/sstent/fitbitkml/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "merge-kml",
	Short: "Merge every KML file below a directory into one document",
	Long: `merge-kml collects the LineString tracks of every *.kml file below --in-dir
and writes them as red tracks into a single KML document.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runMerge,
}

var (
	mergeInDir     string
	mergeOut       string
	mergeOverwrite bool
	mergeDryRun    bool
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
	flags.StringVar(&mergeInDir, "in-dir", "", "Directory containing KML files to merge (searched recursively)")
	flags.StringVar(&mergeOut, "out", "", "Path to the merged KML file (default: MERGED.kml inside --in-dir)")
	flags.BoolVar(&mergeOverwrite, "overwrite", false, "Replace the output file if it exists")
	flags.BoolVar(&mergeDryRun, "dry-run", false, "Report what would be merged without writing")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: console or json")

	_ = rootCmd.MarkFlagRequired("in-dir")

	_ = viper.BindPFlag(config.KeyLogLevel, rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag(config.KeyLogFormat, rootCmd.PersistentFlags().Lookup("log-format"))
}

func runMerge(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	return merge(cmd.OutOrStdout(), mergeInDir, mergeOut, kml.MergeOptions{
		Overwrite: mergeOverwrite,
		DryRun:    mergeDryRun,
	})
}

func merge(out io.Writer, inDir, outFile string, opts kml.MergeOptions) error {
	if info, err := os.Stat(inDir); err != nil || !info.IsDir() {
		return fmt.Errorf("input directory not found: %s", inDir)
	}
	if outFile == "" {
		outFile = filepath.Join(inDir, kml.MergedFileName)
	}

	res, err := kml.Merge(inDir, outFile, opts)
	if err != nil {
		return err
	}

	verb := "Merged"
	if opts.DryRun {
		verb = "Would merge"
	}
	fmt.Fprintf(out, "%s %d file(s), %d placemark(s), %d point(s)", verb, res.Stats.Files, res.Stats.Placemarks, res.Stats.Points)
	if opts.DryRun {
		fmt.Fprintln(out)
	} else {
		fmt.Fprintf(out, " into %s\n", outFile)
	}

	if len(res.Skipped) > 0 {
		fmt.Fprintf(out, "Skipped %d file(s) without LineStrings:\n", len(res.Skipped))
		for _, path := range res.Skipped {
			fmt.Fprintf(out, "  - %s\n", relative(path, inDir))
		}
	}
	return nil
}

func relative(path, base string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return path
	}
	return rel
}
