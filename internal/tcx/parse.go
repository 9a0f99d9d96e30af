// Package tcx reads Training Center XML files and downloads them from the
// Fitbit API under a resumable plan.
package tcx

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrNoTrackpoints is returned by consumers that need GPS positions when a
// document has none.
var ErrNoTrackpoints = errors.New("no GPS points found in TCX file")

// Position is a WGS84 coordinate in degrees.
type Position struct {
	Latitude  float64 `xml:"LatitudeDegrees"`
	Longitude float64 `xml:"LongitudeDegrees"`
}

// Trackpoint is a single sample. Position, altitude and heart rate are
// optional in TCX.
type Trackpoint struct {
	Time      time.Time
	Position  *Position
	Altitude  *float64
	HeartRate int

	// Lap is the index into Document.Laps, or -1 for points outside a lap
	// (courses).
	Lap int
}

// Lap summarizes one <Lap> element.
type Lap struct {
	StartTime        time.Time
	TotalTimeSeconds float64
	DistanceMeters   float64
}

// Document is the part of a TCX file the converter needs.
type Document struct {
	Sport       string
	Laps        []Lap
	Trackpoints []Trackpoint
}

// Positions returns the trackpoints that carry a position, in file order.
func (d *Document) Positions() []Trackpoint {
	out := make([]Trackpoint, 0, len(d.Trackpoints))
	for _, tp := range d.Trackpoints {
		if tp.Position != nil {
			out = append(out, tp)
		}
	}
	return out
}

// LapCount is the number of <Lap> elements seen.
func (d *Document) LapCount() int { return len(d.Laps) }

// LapStart returns the first positioned trackpoint of lap i.
func (d *Document) LapStart(i int) (Trackpoint, bool) {
	for _, tp := range d.Trackpoints {
		if tp.Lap == i && tp.Position != nil {
			return tp, true
		}
	}
	return Trackpoint{}, false
}

type rawPosition struct {
	Latitude  *float64 `xml:"LatitudeDegrees"`
	Longitude *float64 `xml:"LongitudeDegrees"`
}

// position is nil unless both degree elements are present.
func (p *rawPosition) position() *Position {
	if p == nil || p.Latitude == nil || p.Longitude == nil {
		return nil
	}
	return &Position{Latitude: *p.Latitude, Longitude: *p.Longitude}
}

type rawTrackpoint struct {
	Time      string       `xml:"Time"`
	Position  *rawPosition `xml:"Position"`
	Altitude  *float64     `xml:"AltitudeMeters"`
	HeartRate struct {
		Value int `xml:"Value"`
	} `xml:"HeartRateBpm"`
}

// ParseFile reads and parses a TCX file.
func ParseFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes a TCX document. Trackpoints are collected wherever they
// appear (activities and courses); laps only from activities.
func Parse(r io.Reader) (*Document, error) {
	dec := xml.NewDecoder(r)
	doc := &Document{}

	var (
		depth    int
		lapDepth = -1
		curLap   = -1
		sawRoot  bool
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch el := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 1 {
				if el.Name.Local != "TrainingCenterDatabase" {
					return nil, fmt.Errorf("unexpected root element <%s>", el.Name.Local)
				}
				sawRoot = true
				continue
			}

			switch {
			case el.Name.Local == "Activity":
				if doc.Sport == "" {
					doc.Sport = attr(el, "Sport")
				}

			case el.Name.Local == "Lap":
				lap := Lap{}
				if st := attr(el, "StartTime"); st != "" {
					lap.StartTime, _ = time.Parse(time.RFC3339Nano, st)
				}
				doc.Laps = append(doc.Laps, lap)
				curLap = len(doc.Laps) - 1
				lapDepth = depth

			case curLap >= 0 && depth == lapDepth+1 && (el.Name.Local == "TotalTimeSeconds" || el.Name.Local == "DistanceMeters"):
				var s string
				if err := dec.DecodeElement(&s, &el); err != nil {
					return nil, err
				}
				depth--
				v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
				if el.Name.Local == "TotalTimeSeconds" {
					doc.Laps[curLap].TotalTimeSeconds = v
				} else {
					doc.Laps[curLap].DistanceMeters = v
				}

			case el.Name.Local == "Trackpoint":
				var raw rawTrackpoint
				if err := dec.DecodeElement(&raw, &el); err != nil {
					return nil, err
				}
				depth--
				tp := Trackpoint{
					Position:  raw.Position.position(),
					Altitude:  raw.Altitude,
					HeartRate: raw.HeartRate.Value,
					Lap:       curLap,
				}
				if raw.Time != "" {
					tp.Time, _ = time.Parse(time.RFC3339Nano, strings.TrimSpace(raw.Time))
				}
				doc.Trackpoints = append(doc.Trackpoints, tp)
			}

		case xml.EndElement:
			if el.Name.Local == "Lap" && depth == lapDepth {
				curLap = -1
				lapDepth = -1
			}
			depth--
		}
	}

	if !sawRoot {
		return nil, fmt.Errorf("empty TCX document")
	}
	return doc, nil
}

func attr(el xml.StartElement, name string) string {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}
