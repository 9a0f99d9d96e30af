package kml

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	gokml "github.com/twpayne/go-kml"
)

// Track is one LineString pulled out of a KML file.
type Track struct {
	Source      string
	Name        string
	Coordinates []gokml.Coordinate
}

type placemarkXML struct {
	Name        string          `xml:"name"`
	LineStrings []lineStringXML `xml:"LineString"`
	Multi       []struct {
		LineStrings []lineStringXML `xml:"LineString"`
	} `xml:"MultiGeometry"`
}

// firstLineString returns the Placemark's first LineString, looking inside
// MultiGeometry when there is no direct one.
func (pm placemarkXML) firstLineString() (lineStringXML, bool) {
	if len(pm.LineStrings) > 0 {
		return pm.LineStrings[0], true
	}
	for _, m := range pm.Multi {
		if len(m.LineStrings) > 0 {
			return m.LineStrings[0], true
		}
	}
	return lineStringXML{}, false
}

type lineStringXML struct {
	Coordinates string `xml:"coordinates"`
}

// ParseFile extracts one track per Placemark in a KML file, taken from its
// first LineString. Placemarks without a LineString, or whose coordinates are
// all malformed, are ignored.
func ParseFile(path string) ([]Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tracks, err := parseTracks(f, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse KML file %s: %w", path, err)
	}
	for i := range tracks {
		tracks[i].Source = path
	}
	return tracks, nil
}

func parseTracks(r io.Reader, fallbackName string) ([]Track, error) {
	dec := xml.NewDecoder(r)

	var tracks []Track
	sawElement := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		sawElement = true
		if start.Name.Local != "Placemark" {
			continue
		}

		var pm placemarkXML
		if err := dec.DecodeElement(&pm, &start); err != nil {
			return nil, err
		}

		name := strings.TrimSpace(pm.Name)
		if name == "" {
			name = fallbackName
		}

		ls, ok := pm.firstLineString()
		if !ok {
			continue
		}
		coords := ParseCoordinates(ls.Coordinates)
		if len(coords) == 0 {
			continue
		}
		tracks = append(tracks, Track{Name: name, Coordinates: coords})
	}

	if !sawElement {
		return nil, fmt.Errorf("empty document")
	}
	return tracks, nil
}

// ParseCoordinates reads a whitespace-separated list of lon,lat[,alt]
// tuples. Tuples with fewer than two fields or non-numeric lon/lat are
// skipped; an unreadable altitude becomes zero.
func ParseCoordinates(raw string) []gokml.Coordinate {
	var coords []gokml.Coordinate
	for _, chunk := range strings.Fields(raw) {
		parts := strings.Split(chunk, ",")
		if len(parts) < 2 {
			continue
		}
		lon, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			continue
		}
		lat, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			continue
		}
		c := gokml.Coordinate{Lon: lon, Lat: lat}
		if len(parts) >= 3 && parts[2] != "" {
			c.Alt, _ = strconv.ParseFloat(parts[2], 64)
		}
		coords = append(coords, c)
	}
	return coords
}
