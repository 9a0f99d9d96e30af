package fitbit

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/sstent/fitbitkml/internal/logging"
)

// ActivityListPath is the paginated activity log endpoint.
const ActivityListPath = "/1/user/-/activities/list.json"

// Activity is one entry of the activity log, kept exactly as the API
// returned it so dumps stay lossless.
type Activity map[string]any

// startTimeFields are tried in order when dating an activity.
var startTimeFields = []string{
	"originalStartTime",
	"startDateTime",
	"startTime",
	"startDate",
	"startDateLocal",
}

// LogID returns the activity's logId, or 0.
func (a Activity) LogID() int64 {
	f, ok := toFloat(a["logId"])
	if !ok {
		return 0
	}
	return int64(f)
}

// Name returns activityName.
func (a Activity) Name() string {
	s, _ := a["activityName"].(string)
	return s
}

// Distance returns the distance field, accepting numbers and numeric strings.
func (a Activity) Distance() float64 {
	f, _ := toFloat(a["distance"])
	return f
}

// HasGPS interprets hasGps, which is sometimes a bool and sometimes a string.
func (a Activity) HasGPS() bool {
	switch v := a["hasGps"].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes":
			return true
		}
	}
	return false
}

// TCXLink returns tcxLink (or tcx_link), trimmed.
func (a Activity) TCXLink() string {
	for _, key := range []string{"tcx_link", "tcxLink"} {
		if s, ok := a[key].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// TCXID derives the file identifier from a TCX link: the last path segment
// without its .tcx suffix. ok is false when the link does not name a TCX file.
func TCXID(link string) (id string, ok bool) {
	u, err := url.Parse(link)
	if err != nil {
		return "", false
	}
	name := path.Base(u.Path)
	if len(name) <= 4 || !strings.EqualFold(name[len(name)-4:], ".tcx") {
		return "", false
	}
	return name[:len(name)-4], true
}

// StartTime returns the first parseable start time field.
func (a Activity) StartTime() (time.Time, error) {
	for _, field := range startTimeFields {
		v, ok := a[field]
		if !ok || v == nil {
			continue
		}
		if t, ok := coerceTime(v); ok {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("activity did not contain a recognizable start time")
}

func coerceTime(v any) (time.Time, bool) {
	if f, ok := v.(float64); ok {
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
	}
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	for _, layout := range []string{"2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// ListOptions controls the activity log query.
type ListOptions struct {
	AfterDate string // YYYY-MM-DD
	PageSize  int    // 1..100
	Sort      string // asc or desc
}

type activityPage struct {
	Activities []Activity `json:"activities"`
	Pagination struct {
		Next string `json:"next"`
	} `json:"pagination"`
}

// Activities walks the activity log page by page, calling fn for every
// activity, and returns the number of requests made. Pagination follows the
// server's next links until one is empty.
func (c *Client) Activities(ctx context.Context, opts ListOptions, fn func(Activity) error) (int, error) {
	if opts.PageSize < 1 || opts.PageSize > 100 {
		return 0, fmt.Errorf("page size must be between 1 and 100, got %d", opts.PageSize)
	}
	if opts.Sort != "asc" && opts.Sort != "desc" {
		return 0, fmt.Errorf("sort must be asc or desc, got %q", opts.Sort)
	}

	pageURL := ActivityListPath
	params := url.Values{
		"afterDate": {opts.AfterDate},
		"sort":      {opts.Sort},
		"limit":     {strconv.Itoa(opts.PageSize)},
		"offset":    {"0"},
	}

	requests := 0
	for {
		body, err := c.Get(ctx, pageURL, params, nil)
		if err != nil {
			return requests, err
		}
		requests++

		var page activityPage
		if err := json.Unmarshal(body, &page); err != nil {
			return requests, fmt.Errorf("failed to decode activity page %d: %w", requests, err)
		}
		for _, a := range page.Activities {
			if err := fn(a); err != nil {
				return requests, err
			}
		}
		logging.Info().Int("page", requests).Int("fetched", len(page.Activities)).Msg("fetched_activities_page")

		if page.Pagination.Next == "" {
			return requests, nil
		}
		pageURL = page.Pagination.Next
		params = nil
	}
}
