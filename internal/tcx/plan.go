package tcx

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/sstent/fitbitkml/internal/fileutil"
	"github.com/sstent/fitbitkml/internal/dump"
	"github.com/sstent/fitbitkml/internal/fitbit"
	"github.com/sstent/fitbitkml/internal/logging"
)

// PlanItem is one TCX download task. Downloaded is only true when Path
// exists on disk.
type PlanItem struct {
	ID         string `json:"-"`
	URL        string `json:"url"`
	Path       string `json:"path"`
	Downloaded bool   `json:"downloaded"`
}

// Plan is the ordered set of download tasks persisted between runs.
type Plan struct {
	Items []*PlanItem
}

// PlanStats describes progress through a plan.
type PlanStats struct {
	Total  int
	OnDisk int
}

// Remaining is the number of items still to download.
func (s PlanStats) Remaining() int { return s.Total - s.OnDisk }

// Len returns the number of items.
func (p *Plan) Len() int { return len(p.Items) }

// Get looks up an item by ID.
func (p *Plan) Get(id string) (*PlanItem, bool) {
	for _, it := range p.Items {
		if it.ID == id {
			return it, true
		}
	}
	return nil, false
}

// Summarize counts items already marked downloaded.
func (p *Plan) Summarize() PlanStats {
	s := PlanStats{Total: len(p.Items)}
	for _, it := range p.Items {
		if it.Downloaded {
			s.OnDisk++
		}
	}
	return s
}

// Reconcile sets each item's Downloaded flag from the presence of its
// target file and returns how many flags changed.
func (p *Plan) Reconcile() int {
	changed := 0
	for _, it := range p.Items {
		exists := fileExists(it.Path)
		if exists != it.Downloaded {
			it.Downloaded = exists
			changed++
		}
	}
	return changed
}

// MarshalJSON writes the plan as an object keyed by item ID, in item order.
func (p *Plan) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, it := range p.Items {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(it.ID)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(it)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts the keyed object form and the older array form.
// Items are ordered by target path.
func (p *Plan) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	var items []*PlanItem
	switch {
	case len(data) > 0 && data[0] == '{':
		var keyed map[string]*PlanItem
		if err := json.Unmarshal(data, &keyed); err != nil {
			return err
		}
		for id, it := range keyed {
			if it == nil {
				return fmt.Errorf("plan entry %q is null", id)
			}
			it.ID = id
			items = append(items, it)
		}
	case len(data) > 0 && data[0] == '[':
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		taken := make(map[string]bool, len(items))
		for i, it := range items {
			if it == nil {
				return fmt.Errorf("plan entry %d is null", i)
			}
			it.ID = legacyID(it, taken)
			taken[it.ID] = true
		}
	default:
		return errors.New("plan file must be a JSON object or array")
	}

	for _, it := range items {
		if it.URL == "" || it.Path == "" {
			return fmt.Errorf("plan entry %q is missing url or path", it.ID)
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Path < items[j].Path })
	p.Items = items
	return nil
}

// legacyID derives an ID for an array-form entry that no earlier entry uses:
// the link's ID, else the target path stem, else the stem with a counter.
func legacyID(it *PlanItem, taken map[string]bool) string {
	stem := strings.TrimSuffix(filepath.Base(it.Path), filepath.Ext(it.Path))
	if id, ok := fitbit.TCXID(it.URL); ok && !taken[id] {
		return id
	}
	if stem != "" && !taken[stem] {
		return stem
	}
	for n := 2; ; n++ {
		id := fmt.Sprintf("%s_%d", stem, n)
		if !taken[id] {
			return id
		}
	}
}

// LoadPlan reads a plan file.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p := &Plan{}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to read plan %s: %w", path, err)
	}
	return p, nil
}

// SavePlan writes the plan as indented JSON, replacing path atomically.
func SavePlan(p *Plan, path string) error {
	raw, err := p.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	buf.WriteByte('\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create plan directory: %w", err)
	}
	if err := fileutil.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write plan %s: %w", path, err)
	}
	return nil
}

// CollectPlan scans activitiesDir for YYYY/MM.json dumps and builds a plan
// for every GPS activity with a distance and a TCX link. Targets are
// outputDir/YYYY/MM_<id>.tcx; outputDir defaults to activitiesDir.
func CollectPlan(activitiesDir, outputDir string) (*Plan, error) {
	if outputDir == "" {
		outputDir = activitiesDir
	}

	var files []string
	err := filepath.WalkDir(activitiesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".json") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", activitiesDir, err)
	}
	sort.Strings(files)

	plan := &Plan{}
	seenURLs := make(map[string]bool)
	seenIDs := make(map[string]string)

	for _, file := range files {
		rel, _ := filepath.Rel(activitiesDir, file)
		year, month, ok := yearMonth(rel)
		if !ok {
			logging.Warn().Str("path", rel).Msg("invalid_activity_file_path")
			continue
		}

		activities, err := dump.ReadMonthFile(file)
		if err != nil {
			logging.Warn().Str("path", rel).Err(err).Msg("invalid_activity_file")
			continue
		}

		for _, a := range activities {
			if a.Distance() <= 0 || !a.HasGPS() {
				continue
			}
			link := a.TCXLink()
			if link == "" || seenURLs[link] {
				continue
			}
			id, ok := fitbit.TCXID(link)
			if !ok {
				logging.Warn().Str("link", link).Msg("tcx_link_unrecognized")
				continue
			}
			if prev, dup := seenIDs[id]; dup {
				logging.Warn().Str("link", link).Str("previous", prev).Msg("tcx_id_duplicate")
				continue
			}

			target := filepath.Join(outputDir, year, month+"_"+id+".tcx")
			plan.Items = append(plan.Items, &PlanItem{
				ID:         id,
				URL:        link,
				Path:       target,
				Downloaded: fileExists(target),
			})
			seenURLs[link] = true
			seenIDs[id] = link
		}
	}

	return plan, nil
}

// yearMonth splits YYYY/MM.json into its components.
func yearMonth(rel string) (year, month string, ok bool) {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 {
		return "", "", false
	}
	year = parts[0]
	month = strings.TrimSuffix(parts[len(parts)-1], filepath.Ext(parts[len(parts)-1]))
	if year == "" || month == "" {
		return "", "", false
	}
	for _, r := range year {
		if r < '0' || r > '9' {
			return "", "", false
		}
	}
	return year, month, true
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
