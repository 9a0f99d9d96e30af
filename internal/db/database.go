package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const timeLayout = "2006-01-02 15:04:05"

const selectColumns = "SELECT log_id, start_time, name, distance, has_gps, tcx_link, tcx_path, downloaded FROM activities"

// SQLiteDatabase implements ActivityRepository using SQLite
type SQLiteDatabase struct {
	db *sql.DB
}

// NewDatabase opens (creating if needed) the catalog at path
func NewDatabase(path string) (*SQLiteDatabase, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteDatabase{db: db}, nil
}

// Close closes the database connection
func (d *SQLiteDatabase) Close() error {
	return d.db.Close()
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS activities (
		log_id INTEGER PRIMARY KEY,
		start_time TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		distance REAL NOT NULL DEFAULT 0,
		has_gps BOOLEAN NOT NULL DEFAULT 0,
		tcx_link TEXT NOT NULL DEFAULT '',
		tcx_path TEXT NOT NULL DEFAULT '',
		downloaded BOOLEAN NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_tcx_link ON activities(tcx_link);
	CREATE INDEX IF NOT EXISTS idx_downloaded ON activities(downloaded);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// Upsert inserts a or refreshes its metadata. Download state is left alone.
func (d *SQLiteDatabase) Upsert(a Activity) error {
	_, err := d.db.Exec(`
		INSERT INTO activities (log_id, start_time, name, distance, has_gps, tcx_link, tcx_path, downloaded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(log_id) DO UPDATE SET
			start_time = excluded.start_time,
			name = excluded.name,
			distance = excluded.distance,
			has_gps = excluded.has_gps,
			tcx_link = excluded.tcx_link`,
		a.LogID, a.StartTime.UTC().Format(timeLayout), a.Name, a.Distance, a.HasGPS, a.TCXLink, a.TCXPath, a.Downloaded,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert activity %d: %w", a.LogID, err)
	}
	return nil
}

// Get returns the activity with the given log id.
func (d *SQLiteDatabase) Get(logID int64) (Activity, bool, error) {
	rows, err := d.db.Query(selectColumns+" WHERE log_id = ?", logID)
	if err != nil {
		return Activity{}, false, fmt.Errorf("failed to get activity %d: %w", logID, err)
	}
	defer rows.Close()

	activities, err := scanActivities(rows)
	if err != nil || len(activities) == 0 {
		return Activity{}, false, err
	}
	return activities[0], true, nil
}

// GetAll returns all activities from the database
func (d *SQLiteDatabase) GetAll() ([]Activity, error) {
	return d.GetAllPaginated(0, 0)
}

// GetMissing returns activities with a TCX link that haven't been downloaded yet
func (d *SQLiteDatabase) GetMissing() ([]Activity, error) {
	return d.GetMissingPaginated(0, 0)
}

// GetDownloaded returns activities that have been downloaded
func (d *SQLiteDatabase) GetDownloaded() ([]Activity, error) {
	return d.GetDownloadedPaginated(0, 0)
}

// GetAllPaginated returns a page of all activities, newest first. Pages
// start at 1; a pageSize of 0 returns everything.
func (d *SQLiteDatabase) GetAllPaginated(page, pageSize int) ([]Activity, error) {
	return d.query("", page, pageSize)
}

// GetMissingPaginated returns a page of activities still to download
func (d *SQLiteDatabase) GetMissingPaginated(page, pageSize int) ([]Activity, error) {
	return d.query("WHERE downloaded = 0 AND tcx_link != ''", page, pageSize)
}

// GetDownloadedPaginated returns a page of downloaded activities
func (d *SQLiteDatabase) GetDownloadedPaginated(page, pageSize int) ([]Activity, error) {
	return d.query("WHERE downloaded = 1", page, pageSize)
}

func (d *SQLiteDatabase) query(where string, page, pageSize int) ([]Activity, error) {
	query := selectColumns
	if where != "" {
		query += " " + where
	}
	query += " ORDER BY start_time DESC, log_id DESC"
	if pageSize > 0 {
		if page < 1 {
			page = 1
		}
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", pageSize, (page-1)*pageSize)
	}

	rows, err := d.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	return scanActivities(rows)
}

// MarkDownloaded records that the TCX behind link was saved to path
func (d *SQLiteDatabase) MarkDownloaded(link, path string) error {
	_, err := d.db.Exec("UPDATE activities SET downloaded = 1, tcx_path = ? WHERE tcx_link = ?", path, link)
	if err != nil {
		return fmt.Errorf("failed to mark activity as downloaded: %w", err)
	}
	return nil
}

// MarkMissing clears the download flag for link
func (d *SQLiteDatabase) MarkMissing(link string) error {
	_, err := d.db.Exec("UPDATE activities SET downloaded = 0 WHERE tcx_link = ?", link)
	if err != nil {
		return fmt.Errorf("failed to mark activity as missing: %w", err)
	}
	return nil
}

// scanActivities converts database rows to Activity objects
func scanActivities(rows *sql.Rows) ([]Activity, error) {
	var activities []Activity

	for rows.Next() {
		var a Activity
		var startTime string

		if err := rows.Scan(&a.LogID, &startTime, &a.Name, &a.Distance, &a.HasGPS, &a.TCXLink, &a.TCXPath, &a.Downloaded); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}

		a.StartTime, _ = time.Parse(timeLayout, startTime)
		activities = append(activities, a)
	}

	return activities, rows.Err()
}
