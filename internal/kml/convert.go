// Package kml renders TCX tracks as KML and merges KML files into a single
// document.
package kml

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	gokml "github.com/twpayne/go-kml"

	"github.com/sstent/fitbitkml/internal/fileutil"
	"github.com/sstent/fitbitkml/internal/logging"
	"github.com/sstent/fitbitkml/internal/tcx"
)

var (
	// ErrOutputExists is returned when the destination exists and overwriting
	// was not requested.
	ErrOutputExists = errors.New("output file already exists")

	// ErrNoTCXFiles is returned by ConvertDirectory for an empty tree.
	ErrNoTCXFiles = errors.New("no TCX files found")
)

var trackColor = color.RGBA{R: 0xff, A: 0xff}

const trackWidth = 3

// ConvertOptions controls a conversion.
type ConvertOptions struct {
	Overwrite  bool
	LapMarkers bool
}

// Result describes one converted file.
type Result struct {
	Points int
	Laps   int
}

// FileResult pairs an input with its conversion outcome.
type FileResult struct {
	Input  string
	Output string
	Result Result
	Err    error
}

// Stats aggregates a directory conversion.
type Stats struct {
	Total      int
	Successful int
	Failed     int
	Points     int
	Laps       int
}

// AveragePoints is the mean number of points per converted file.
func (s Stats) AveragePoints() float64 {
	if s.Successful == 0 {
		return 0
	}
	return float64(s.Points) / float64(s.Successful)
}

// AverageLaps is the mean number of laps per converted file.
func (s Stats) AverageLaps() float64 {
	if s.Successful == 0 {
		return 0
	}
	return float64(s.Laps) / float64(s.Successful)
}

// Convert reads the TCX file at tcxPath and writes a KML document with a
// single red track to kmlPath.
func Convert(tcxPath, kmlPath string, opts ConvertOptions) (Result, error) {
	if !opts.Overwrite {
		if _, err := os.Stat(kmlPath); err == nil {
			return Result{}, fmt.Errorf("%w: %s (use --overwrite-destination to force)", ErrOutputExists, kmlPath)
		}
	}

	doc, err := tcx.ParseFile(tcxPath)
	if err != nil {
		return Result{}, err
	}

	positions := doc.Positions()
	if len(positions) == 0 {
		return Result{}, tcx.ErrNoTrackpoints
	}

	name := strings.TrimSuffix(filepath.Base(tcxPath), filepath.Ext(tcxPath))
	children := []gokml.Element{
		gokml.Name(name),
		trackPlacemark(name, trackCoordinates(positions)),
	}
	if opts.LapMarkers && doc.LapCount() > 0 {
		children = append(children, lapFolder(doc))
	}

	if err := writeDocument(kmlPath, gokml.KML(gokml.Document(children...))); err != nil {
		return Result{}, err
	}

	res := Result{Points: len(positions), Laps: doc.LapCount()}
	logging.Info().
		Str("input_file", tcxPath).
		Str("output_file", kmlPath).
		Int("points", res.Points).
		Int("laps", res.Laps).
		Msg("tcx_converted")
	return res, nil
}

// ConvertDirectory converts every *.tcx below inDir, mirroring the relative
// layout under outDir. Per-file failures are recorded and do not stop the
// run.
func ConvertDirectory(inDir, outDir string, opts ConvertOptions) (Stats, []FileResult, error) {
	inputs, err := findFiles(inDir, ".tcx", "")
	if err != nil {
		return Stats{}, nil, err
	}
	if len(inputs) == 0 {
		return Stats{}, nil, fmt.Errorf("%w in %s", ErrNoTCXFiles, inDir)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Stats{}, nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var stats Stats
	results := make([]FileResult, 0, len(inputs))
	for _, in := range inputs {
		rel, _ := filepath.Rel(inDir, in)
		out := filepath.Join(outDir, strings.TrimSuffix(rel, filepath.Ext(rel))+".kml")

		fr := FileResult{Input: in, Output: out}
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			fr.Err = err
		} else {
			fr.Result, fr.Err = Convert(in, out, opts)
		}

		stats.Total++
		if fr.Err != nil {
			stats.Failed++
			logging.Warn().Err(fr.Err).Str("input_file", in).Msg("tcx_conversion_failed")
		} else {
			stats.Successful++
			stats.Points += fr.Result.Points
			stats.Laps += fr.Result.Laps
		}
		results = append(results, fr)
	}
	return stats, results, nil
}

func trackCoordinates(points []tcx.Trackpoint) []gokml.Coordinate {
	coords := make([]gokml.Coordinate, 0, len(points))
	for _, tp := range points {
		coords = append(coords, gokml.Coordinate{Lon: tp.Position.Longitude, Lat: tp.Position.Latitude})
	}
	return coords
}

func trackPlacemark(name string, coords []gokml.Coordinate) gokml.Element {
	return gokml.Placemark(
		gokml.Name(name),
		gokml.Style(
			gokml.LineStyle(
				gokml.Color(trackColor),
				gokml.Width(trackWidth),
			),
		),
		gokml.LineString(
			gokml.Coordinates(coords...),
		),
	)
}

func lapFolder(doc *tcx.Document) gokml.Element {
	children := []gokml.Element{gokml.Name("Laps")}
	for i, lap := range doc.Laps {
		start, ok := doc.LapStart(i)
		if !ok {
			continue
		}
		children = append(children, gokml.Placemark(
			gokml.Name(fmt.Sprintf("Lap %d", i+1)),
			gokml.Description(fmt.Sprintf("%.0f m in %.0f s", lap.DistanceMeters, lap.TotalTimeSeconds)),
			gokml.Point(
				gokml.Coordinates(gokml.Coordinate{Lon: start.Position.Longitude, Lat: start.Position.Latitude}),
			),
		))
	}
	return gokml.Folder(children...)
}

func writeDocument(path string, doc *gokml.CompoundElement) error {
	var buf bytes.Buffer
	if err := doc.WriteIndent(&buf, "", "  "); err != nil {
		return fmt.Errorf("failed to encode KML: %w", err)
	}
	if err := fileutil.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// findFiles returns files below dir with the given extension
// (case-insensitive), sorted, excluding the file at exclude.
func findFiles(dir, ext, exclude string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("input directory does not exist: %s", dir)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input path is not a directory: %s", dir)
	}

	var excludeAbs string
	if exclude != "" {
		excludeAbs, _ = filepath.Abs(exclude)
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ext) {
			return nil
		}
		if excludeAbs != "" {
			if abs, _ := filepath.Abs(path); abs == excludeAbs {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}
