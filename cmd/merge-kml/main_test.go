package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sstent/fitbitkml/internal/kml"
)

func writeKML(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`<kml xmlns="http://www.opengis.net/kml/2.2"><Document>`+body+`</Document></kml>`), 0o644))
}

func TestMergeCommand(t *testing.T) {
	in := t.TempDir()
	writeKML(t, filepath.Join(in, "2024", "a.kml"), `<Placemark><name>A</name><LineString><coordinates>1,2 3,4</coordinates></LineString></Placemark>`)
	writeKML(t, filepath.Join(in, "2024", "pins.kml"), `<Placemark><Point><coordinates>1,2</coordinates></Point></Placemark>`)

	var out bytes.Buffer
	require.NoError(t, merge(&out, in, "", kml.MergeOptions{DryRun: true}))
	assert.Contains(t, out.String(), "Would merge 1 file(s), 1 placemark(s), 2 point(s)")
	assert.Contains(t, out.String(), "  - "+filepath.Join("2024", "pins.kml"))
	assert.NoFileExists(t, filepath.Join(in, kml.MergedFileName))

	out.Reset()
	require.NoError(t, merge(&out, in, "", kml.MergeOptions{}))
	assert.Contains(t, out.String(), "into "+filepath.Join(in, kml.MergedFileName))
	assert.FileExists(t, filepath.Join(in, kml.MergedFileName))

	err := merge(&out, in, "", kml.MergeOptions{})
	assert.ErrorIs(t, err, kml.ErrOutputExists)

	assert.Error(t, merge(&out, filepath.Join(in, "missing"), "", kml.MergeOptions{}))
}

func TestRelative(t *testing.T) {
	assert.Equal(t, filepath.Join("x", "y.kml"), relative(filepath.Join("/base", "x", "y.kml"), "/base"))
}
