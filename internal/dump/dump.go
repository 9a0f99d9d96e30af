// Package dump groups activity log entries by calendar month and writes them
// as YYYY/MM.json files.
package dump

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/goccy/go-json"

	"github.com/sstent/fitbitkml/internal/fitbit"
	"github.com/sstent/fitbitkml/internal/logging"
)

// Month identifies a bucket.
type Month struct {
	Year  int
	Month int
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, m.Month)
}

// Path returns the bucket file below root.
func (m Month) Path(root string) string {
	return filepath.Join(root, fmt.Sprintf("%04d", m.Year), fmt.Sprintf("%02d.json", m.Month))
}

// ActivityMonth dates an activity from its first recognizable start time.
func ActivityMonth(a fitbit.Activity) (Month, error) {
	t, err := a.StartTime()
	if err != nil {
		return Month{}, err
	}
	return Month{Year: t.Year(), Month: int(t.Month())}, nil
}

// Buckets accumulates activities per month, keeping arrival order inside
// each month.
type Buckets struct {
	byMonth map[Month][]fitbit.Activity
	skipped int
}

// NewBuckets returns an empty set of buckets.
func NewBuckets() *Buckets {
	return &Buckets{byMonth: make(map[Month][]fitbit.Activity)}
}

// Add files a single activity. Activities without a start time are counted
// as skipped.
func (b *Buckets) Add(a fitbit.Activity) {
	m, err := ActivityMonth(a)
	if err != nil {
		b.skipped++
		logging.Warn().Int64("activity_id", a.LogID()).Msg("activity_missing_start_time")
		return
	}
	b.byMonth[m] = append(b.byMonth[m], a)
}

// Skipped is the number of activities that could not be dated.
func (b *Buckets) Skipped() int { return b.skipped }

// Total is the number of bucketed activities.
func (b *Buckets) Total() int {
	n := 0
	for _, as := range b.byMonth {
		n += len(as)
	}
	return n
}

// Months returns the bucket keys in chronological order.
func (b *Buckets) Months() []Month {
	months := make([]Month, 0, len(b.byMonth))
	for m := range b.byMonth {
		months = append(months, m)
	}
	sort.Slice(months, func(i, j int) bool {
		if months[i].Year != months[j].Year {
			return months[i].Year < months[j].Year
		}
		return months[i].Month < months[j].Month
	})
	return months
}

// Activities returns the activities filed under m.
func (b *Buckets) Activities(m Month) []fitbit.Activity {
	return b.byMonth[m]
}

// BucketByMonth groups activities and reports how many were skipped.
func BucketByMonth(activities []fitbit.Activity) *Buckets {
	b := NewBuckets()
	for _, a := range activities {
		b.Add(a)
	}
	return b
}

// WriteMonthBuckets writes each bucket to root/YYYY/MM.json and returns the
// written paths keyed by month. Existing files are replaced.
func WriteMonthBuckets(b *Buckets, root string) (map[Month]string, error) {
	written := make(map[Month]string, len(b.byMonth))
	for _, m := range b.Months() {
		path := m.Path(root)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return written, fmt.Errorf("failed to create month directory: %w", err)
		}

		data, err := json.MarshalIndent(b.byMonth[m], "", "  ")
		if err != nil {
			return written, fmt.Errorf("failed to encode %s: %w", m, err)
		}
		data = append(data, '\n')

		if err := os.WriteFile(path, data, 0o644); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", path, err)
		}
		written[m] = path
	}
	return written, nil
}

// ReadMonthFile loads a month file. Both a bare JSON array and an object
// with an "activities" array are accepted.
func ReadMonthFile(path string) ([]fitbit.Activity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var list []fitbit.Activity
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}

	var wrapped struct {
		Activities []fitbit.Activity `json:"activities"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil || wrapped.Activities == nil {
		return nil, fmt.Errorf("unexpected JSON format in %s", path)
	}
	return wrapped.Activities, nil
}
