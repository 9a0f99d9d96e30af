package kml

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sstent/fitbitkml/internal/tcx"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func trackpoints(n int, lat0 float64) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, `<Trackpoint><Time>2024-01-01T00:00:%02dZ</Time><Position><LatitudeDegrees>%g</LatitudeDegrees><LongitudeDegrees>%g</LongitudeDegrees></Position></Trackpoint>`,
			i, lat0+float64(i)*0.001, -122.0-float64(i)*0.001)
	}
	return b.String()
}

// courseTCX has n positioned trackpoints and no laps.
func courseTCX(n int) string {
	return `<?xml version="1.0"?><TrainingCenterDatabase xmlns="http://www.garmin.com/xmlschemas/TrainingCenterDatabase/v2"><Courses><Course><Track>` +
		trackpoints(n, 37) + `</Track></Course></Courses></TrainingCenterDatabase>`
}

// lapTCX has one lap per entry in perLap.
func lapTCX(perLap ...int) string {
	var b strings.Builder
	b.WriteString(`<TrainingCenterDatabase><Activities><Activity Sport="Biking">`)
	for i, n := range perLap {
		fmt.Fprintf(&b, `<Lap StartTime="2024-01-01T00:%02d:00Z"><TotalTimeSeconds>60</TotalTimeSeconds><DistanceMeters>400</DistanceMeters><Track>%s</Track></Lap>`,
			i, trackpoints(n, 40+float64(i)))
	}
	b.WriteString(`</Activity></Activities></TrainingCenterDatabase>`)
	return b.String()
}

func TestConvertZeroLapsKeepsEveryCoordinate(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "course.tcx")
	out := filepath.Join(dir, "course.kml")
	writeFile(t, in, courseTCX(7))

	res, err := Convert(in, out, ConvertOptions{LapMarkers: true})
	require.NoError(t, err)
	assert.Equal(t, Result{Points: 7, Laps: 0}, res)

	tracks, err := ParseFile(out)
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, "course", tracks[0].Name)
	assert.Len(t, tracks[0].Coordinates, 7)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "<Point>")
	assert.NotContains(t, string(data), "Laps")
}

func TestConvertWritesLonLatRedTrack(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "ride.tcx")
	out := filepath.Join(dir, "ride.kml")
	writeFile(t, in, courseTCX(2))

	_, err := Convert(in, out, ConvertOptions{})
	require.NoError(t, err)

	tracks, err := ParseFile(out)
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.InDelta(t, -122.0, tracks[0].Coordinates[0].Lon, 1e-9)
	assert.InDelta(t, 37.0, tracks[0].Coordinates[0].Lat, 1e-9)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<color>ff0000ff</color>")
	assert.Contains(t, string(data), "<width>3</width>")
}

func TestConvertLapMarkers(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "laps.tcx")
	out := filepath.Join(dir, "laps.kml")
	writeFile(t, in, lapTCX(3, 2))

	res, err := Convert(in, out, ConvertOptions{LapMarkers: true})
	require.NoError(t, err)
	assert.Equal(t, Result{Points: 5, Laps: 2}, res)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "<Point>"))
	assert.Contains(t, string(data), "Lap 2")

	tracks, err := ParseFile(out)
	require.NoError(t, err)
	require.Len(t, tracks, 1, "lap markers are points, not tracks")
	assert.Len(t, tracks[0].Coordinates, 5)
}

func TestConvertFailures(t *testing.T) {
	dir := t.TempDir()

	existing := filepath.Join(dir, "exists.kml")
	writeFile(t, existing, "keep")
	in := filepath.Join(dir, "ok.tcx")
	writeFile(t, in, courseTCX(1))

	_, err := Convert(in, existing, ConvertOptions{})
	assert.ErrorIs(t, err, ErrOutputExists)
	data, _ := os.ReadFile(existing)
	assert.Equal(t, "keep", string(data))

	_, err = Convert(in, existing, ConvertOptions{Overwrite: true})
	assert.NoError(t, err)

	empty := filepath.Join(dir, "empty.tcx")
	writeFile(t, empty, `<TrainingCenterDatabase><Activities><Activity><Lap><Track><Trackpoint><Time>2024-01-01T00:00:00Z</Time></Trackpoint></Track></Lap></Activity></Activities></TrainingCenterDatabase>`)
	_, err = Convert(empty, filepath.Join(dir, "empty.kml"), ConvertOptions{})
	assert.ErrorIs(t, err, tcx.ErrNoTrackpoints)

	_, err = Convert(filepath.Join(dir, "missing.tcx"), filepath.Join(dir, "missing.kml"), ConvertOptions{})
	assert.Error(t, err)
}

func TestConvertDirectory(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "kml")

	writeFile(t, filepath.Join(in, "2024", "01_1.tcx"), courseTCX(4))
	writeFile(t, filepath.Join(in, "2024", "02_2.tcx"), lapTCX(2, 2, 2))
	writeFile(t, filepath.Join(in, "2023", "12_3.tcx"), `<TrainingCenterDatabase/>`)
	writeFile(t, filepath.Join(in, "notes.txt"), "ignored")

	stats, results, err := ConvertDirectory(in, out, ConvertOptions{})
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 3, Successful: 2, Failed: 1, Points: 10, Laps: 3}, stats)
	assert.InDelta(t, 5.0, stats.AveragePoints(), 1e-9)
	assert.InDelta(t, 1.5, stats.AverageLaps(), 1e-9)

	require.Len(t, results, 3)
	assert.Equal(t, filepath.Join(out, "2023", "12_3.kml"), results[0].Output)
	assert.ErrorIs(t, results[0].Err, tcx.ErrNoTrackpoints)
	assert.FileExists(t, filepath.Join(out, "2024", "01_1.kml"))
	assert.FileExists(t, filepath.Join(out, "2024", "02_2.kml"))

	// Second run without overwrite fails every existing output.
	stats, _, err = ConvertDirectory(in, out, ConvertOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Successful)
	assert.Equal(t, 3, stats.Failed)
}

func TestConvertDirectoryErrors(t *testing.T) {
	_, _, err := ConvertDirectory(t.TempDir(), t.TempDir(), ConvertOptions{})
	assert.ErrorIs(t, err, ErrNoTCXFiles)

	_, _, err = ConvertDirectory(filepath.Join(t.TempDir(), "nope"), t.TempDir(), ConvertOptions{})
	assert.Error(t, err)
}
