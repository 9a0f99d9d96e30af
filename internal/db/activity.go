package db

import (
	"time"

	"github.com/sstent/fitbitkml/internal/fitbit"
)

// Activity is one row of the local activity catalog.
type Activity struct {
	LogID      int64     `db:"log_id"`
	StartTime  time.Time `db:"start_time"`
	Name       string    `db:"name"`
	Distance   float64   `db:"distance"`
	HasGPS     bool      `db:"has_gps"`
	TCXLink    string    `db:"tcx_link"`
	TCXPath    string    `db:"tcx_path"`
	Downloaded bool      `db:"downloaded"`
}

// ActivityRepository provides methods for activity persistence
type ActivityRepository interface {
	Get(logID int64) (Activity, bool, error)
	GetAll() ([]Activity, error)
	GetMissing() ([]Activity, error)
	GetDownloaded() ([]Activity, error)
	GetAllPaginated(page, pageSize int) ([]Activity, error)
	GetMissingPaginated(page, pageSize int) ([]Activity, error)
	GetDownloadedPaginated(page, pageSize int) ([]Activity, error)
	Upsert(a Activity) error
	MarkDownloaded(link, path string) error
	MarkMissing(link string) error
}

var _ ActivityRepository = (*SQLiteDatabase)(nil)

// FromFitbit converts a dumped activity into a catalog row. ok is false when
// the entry has no log id or no usable start time.
func FromFitbit(a fitbit.Activity) (Activity, bool) {
	id := a.LogID()
	if id == 0 {
		return Activity{}, false
	}
	start, err := a.StartTime()
	if err != nil {
		return Activity{}, false
	}
	return Activity{
		LogID:     id,
		StartTime: start.UTC().Truncate(time.Second),
		Name:      a.Name(),
		Distance:  a.Distance(),
		HasGPS:    a.HasGPS(),
		TCXLink:   a.TCXLink(),
	}, true
}
