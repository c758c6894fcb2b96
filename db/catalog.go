// Package db reads the train catalog used to prefill the prediction form.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"traindelay/ml"
)

var ErrTrainNotFound = errors.New("train not found")

// Catalog is a read-only view of a pre-built sqlite database with a trains
// table. Nothing is ever written to it.
type Catalog struct {
	db  *sql.DB
	now func() time.Time
}

// TrainSummary is one line of ListTrains.
type TrainSummary struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Zone        string `json:"zone"`
	Origin      string `json:"origin,omitempty"`
	Destination string `json:"destination,omitempty"`
}

// OpenCatalog opens path read-only. The file must already exist.
func OpenCatalog(path string) (*Catalog, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("train catalog: %w", err)
	}
	database, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, err
	}
	if err := database.Ping(); err != nil {
		database.Close()
		return nil, fmt.Errorf("open train catalog %s: %w", path, err)
	}
	return &Catalog{db: database, now: time.Now}, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

const trainColumns = `train_name, type, zone, coach_count, pantry, days_of_run, classes,
        departure_time, arrival_time, num_stations, total_distance, avg_platform_count,
        min_platform_count, max_platform_count, terrain, origin, destination`

// LookupTrain returns the form input for a catalogued train, dated today.
// Columns the catalog leaves empty keep the form defaults.
func (c *Catalog) LookupTrain(ctx context.Context, name string) (ml.JourneyInput, error) {
	in := ml.DefaultJourneyInput(c.now())

	row := c.db.QueryRowContext(ctx, `
        SELECT `+trainColumns+`
        FROM trains
        WHERE train_name = ? COLLATE NOCASE
        LIMIT 1`, strings.TrimSpace(name))

	var (
		trainName                                   string
		typ, zone, pantry, days, classes            sql.NullString
		departure, arrival, terrain, origin, dest   sql.NullString
		coaches, stations, minPlatform, maxPlatform sql.NullInt64
		distance, avgPlatform                       sql.NullFloat64
	)
	err := row.Scan(&trainName, &typ, &zone, &coaches, &pantry, &days, &classes,
		&departure, &arrival, &stations, &distance, &avgPlatform,
		&minPlatform, &maxPlatform, &terrain, &origin, &dest)
	if errors.Is(err, sql.ErrNoRows) {
		return in, fmt.Errorf("%w: %q", ErrTrainNotFound, name)
	}
	if err != nil {
		return in, fmt.Errorf("lookup train %q: %w", name, err)
	}

	in.TrainName = trainName
	setString(&in.Type, typ)
	setString(&in.Zone, zone)
	setString(&in.Pantry, pantry)
	now := c.now()
	setClock(&in.DepartureTime, departure, now)
	setClock(&in.ArrivalTime, arrival, now)
	setString(&in.Origin, origin)
	setString(&in.Destination, dest)
	if days.Valid {
		in.DaysOfRun = ml.SplitLabels(days.String)
	}
	if classes.Valid {
		in.Classes = ml.SplitLabels(classes.String)
	}
	if terrain.Valid {
		in.Terrain = ml.SplitLabels(terrain.String)
	}
	setInt(&in.CoachCount, coaches)
	setInt(&in.NumStations, stations)
	setInt(&in.MinPlatformCount, minPlatform)
	setInt(&in.MaxPlatformCount, maxPlatform)
	if distance.Valid {
		in.TotalDistance = distance.Float64
	}
	if avgPlatform.Valid {
		in.AvgPlatformCount = avgPlatform.Float64
	}
	in.Normalize()
	return in, nil
}

// ListTrains returns up to limit trains ordered by name.
func (c *Catalog) ListTrains(ctx context.Context, limit int) ([]TrainSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := c.db.QueryContext(ctx, `
        SELECT train_name, type, zone, origin, destination
        FROM trains
        ORDER BY train_name
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trains := make([]TrainSummary, 0)
	for rows.Next() {
		var t TrainSummary
		var typ, zone, origin, dest sql.NullString
		if err := rows.Scan(&t.Name, &typ, &zone, &origin, &dest); err != nil {
			return nil, err
		}
		t.Type, t.Zone, t.Origin, t.Destination = typ.String, zone.String, origin.String, dest.String
		trains = append(trains, t)
	}
	return trains, rows.Err()
}

func setString(dst *string, v sql.NullString) {
	if v.Valid && strings.TrimSpace(v.String) != "" {
		*dst = v.String
	}
}

// setClock stores timetable times such as 08:32:00 in the HH:MM form the
// form uses. Values that do not parse are kept for Validate to report.
func setClock(dst *string, v sql.NullString, now time.Time) {
	value := strings.TrimSpace(v.String)
	if !v.Valid || value == "" {
		return
	}
	if t, ok := ml.ParseTimestamp(value, now); ok {
		*dst = t.Format("15:04")
		return
	}
	*dst = value
}

func setInt(dst *int, v sql.NullInt64) {
	if v.Valid {
		*dst = int(v.Int64)
	}
}
