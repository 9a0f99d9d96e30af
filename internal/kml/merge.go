package kml

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	gokml "github.com/twpayne/go-kml"

	"github.com/sstent/fitbitkml/internal/logging"
)

var (
	// ErrNoKMLFiles is returned when the input tree holds no KML files.
	ErrNoKMLFiles = errors.New("no KML files found")

	// ErrNoLineStrings is returned when none of the input files has a track.
	ErrNoLineStrings = errors.New("no LineStrings found in any KML files")
)

// MergedFileName is the default output name inside the input directory.
const MergedFileName = "MERGED.kml"

// MergeOptions controls a merge.
type MergeOptions struct {
	Overwrite bool
	DryRun    bool
}

// MergeStats counts what went into the merged document.
type MergeStats struct {
	Files      int
	Placemarks int
	Points     int
}

// MergeResult reports the merge. Skipped lists files without any track.
type MergeResult struct {
	Stats   MergeStats
	Merged  []string
	Skipped []string
}

// CollectFiles returns every *.kml below inDir in sorted order, leaving out
// exclude (normally the merge output).
func CollectFiles(inDir, exclude string) ([]string, error) {
	return findFiles(inDir, ".kml", exclude)
}

// Merge combines the tracks of every KML file below inDir into outFile.
// With DryRun nothing is written and the output is not checked.
func Merge(inDir, outFile string, opts MergeOptions) (MergeResult, error) {
	files, err := CollectFiles(inDir, outFile)
	if err != nil {
		return MergeResult{}, err
	}
	if len(files) == 0 {
		return MergeResult{}, fmt.Errorf("%w in %s", ErrNoKMLFiles, inDir)
	}

	var (
		res    MergeResult
		tracks []Track
	)
	for _, file := range files {
		extracted, err := ParseFile(file)
		if err != nil {
			return MergeResult{}, err
		}
		if len(extracted) == 0 {
			logging.Warn().Str("file", file).Msg("kml_no_linestrings")
			res.Skipped = append(res.Skipped, file)
			continue
		}
		res.Merged = append(res.Merged, file)
		tracks = append(tracks, extracted...)
	}
	if len(tracks) == 0 {
		return res, ErrNoLineStrings
	}

	res.Stats = MergeStats{Files: len(res.Merged), Placemarks: len(tracks)}
	for _, t := range tracks {
		res.Stats.Points += len(t.Coordinates)
	}

	if opts.DryRun {
		return res, nil
	}

	if _, err := os.Stat(outFile); err == nil && !opts.Overwrite {
		return res, fmt.Errorf("%w: %s (pass --overwrite to replace it)", ErrOutputExists, outFile)
	}
	if err := os.MkdirAll(filepath.Dir(outFile), 0o755); err != nil {
		return res, fmt.Errorf("failed to create output directory: %w", err)
	}

	children := make([]gokml.Element, 0, len(tracks))
	for _, t := range tracks {
		children = append(children, trackPlacemark(t.Name, t.Coordinates))
	}
	if err := writeDocument(outFile, gokml.KML(gokml.Document(children...))); err != nil {
		return res, err
	}

	logging.Info().
		Int("files", res.Stats.Files).
		Int("placemarks", res.Stats.Placemarks).
		Int("points", res.Stats.Points).
		Str("output", outFile).
		Msg("kml_merged")
	return res, nil
}
