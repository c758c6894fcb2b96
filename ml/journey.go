package ml

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Raw column names as they appear in the training data.
const (
	ColTrainName      = "Train Name"
	ColOrigin         = "Origin"
	ColDestination    = "Destination"
	ColType           = "Type"
	ColZone           = "Zone"
	ColCoachCount     = "Coach Count"
	ColPantry         = "Is Pantry Available"
	ColDepartureTime  = "Departure Time"
	ColArrivalTime    = "Arrival Time"
	ColDate           = "Date"
	ColDaysOfRun      = "Days of Run"
	ColClasses        = "Classes"
	ColNumStations    = "Num_Stations"
	ColTotalDistance  = "Total_Distance"
	ColAvgPlatform    = "Avg_Platform_Count"
	ColMinPlatform    = "Min_Platform_Count"
	ColMaxPlatform    = "Max_Platform_Count"
	ColTerrain        = "Terrain"
	timeLayout        = "15:04"
	dateLayout        = "2006-01-02"
	multiValueDivider = ","
)

var rawColumnOrder = []string{
	ColTrainName, ColOrigin, ColDestination, ColType, ColZone, ColCoachCount, ColPantry,
	ColDepartureTime, ColArrivalTime, ColDate, ColDaysOfRun, ColClasses, ColNumStations,
	ColTotalDistance, ColAvgPlatform, ColMinPlatform, ColMaxPlatform, ColTerrain,
}

var (
	TrainTypes     = []string{"Super Fast", "Express", "Rajdhani", "Duronto", "Mail"}
	Zones          = []string{"SWR", "NR", "CR", "ER", "WR", "NWR", "ECR", "SCR"}
	Weekdays       = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}
	ClassOptions   = []string{"1A", "2A", "3A", "SL", "CC", "3E"}
	TerrainOptions = []string{"Coastal", "Hills", "Plain", "Plains", "Plateau"}
)

// RawRecord is one journey row keyed by training column name. A missing key
// means the value is missing for this row.
type RawRecord map[string]string

// JourneyInput is what the prediction form collects.
type JourneyInput struct {
	TrainName        string   `json:"train_name,omitempty"`
	Origin           string   `json:"origin,omitempty"`
	Destination      string   `json:"destination,omitempty"`
	Type             string   `json:"type"`
	Zone             string   `json:"zone"`
	CoachCount       int      `json:"coach_count"`
	Pantry           string   `json:"pantry"`
	DaysOfRun        []string `json:"days_of_run"`
	Date             string   `json:"date"`
	DepartureTime    string   `json:"departure_time"`
	ArrivalTime      string   `json:"arrival_time"`
	Classes          []string `json:"classes"`
	NumStations      int      `json:"num_stations"`
	TotalDistance    float64  `json:"total_distance"`
	AvgPlatformCount float64  `json:"avg_platform_count"`
	MinPlatformCount int      `json:"min_platform_count"`
	MaxPlatformCount int      `json:"max_platform_count"`
	Terrain          []string `json:"terrain"`
}

// DefaultJourneyInput returns the values the form starts with.
func DefaultJourneyInput(now time.Time) JourneyInput {
	return JourneyInput{
		Type:             TrainTypes[0],
		Zone:             Zones[0],
		CoachCount:       20,
		Pantry:           "Yes",
		Date:             now.Format(dateLayout),
		DepartureTime:    "12:00",
		ArrivalTime:      "18:00",
		NumStations:      10,
		TotalDistance:    1000,
		AvgPlatformCount: 3,
		MinPlatformCount: 1,
		MaxPlatformCount: 5,
	}
}

// FieldError describes one invalid form field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// FieldErrors unpacks an error returned by Validate, also when it has been
// wrapped since.
func FieldErrors(err error) []*FieldError {
	var group interface{ Errors() []error }
	errs := multierr.Errors(err)
	if errors.As(err, &group) {
		errs = group.Errors()
	}
	var out []*FieldError
	for _, e := range errs {
		var fe *FieldError
		if errors.As(e, &fe) {
			out = append(out, fe)
		}
	}
	return out
}

// Normalize trims every value and brings option values to the casing used by
// the form options, so "yes" and " nr" are accepted from JSON or the CLI.
func (in *JourneyInput) Normalize() {
	// Casers keep state between calls, so each normalisation gets its own.
	titleCaser := cases.Title(language.English)
	upperCaser := cases.Upper(language.English)
	in.TrainName = strings.TrimSpace(in.TrainName)
	in.Origin = strings.TrimSpace(in.Origin)
	in.Destination = strings.TrimSpace(in.Destination)
	in.Type = matchOption(strings.TrimSpace(in.Type), TrainTypes)
	in.Zone = upperCaser.String(strings.TrimSpace(in.Zone))
	in.Pantry = titleCaser.String(strings.TrimSpace(in.Pantry))
	in.Date = strings.TrimSpace(in.Date)
	in.DepartureTime = strings.TrimSpace(in.DepartureTime)
	in.ArrivalTime = strings.TrimSpace(in.ArrivalTime)
	in.DaysOfRun = normalizeList(in.DaysOfRun, titleCaser)
	in.Classes = normalizeList(in.Classes, upperCaser)
	in.Terrain = normalizeList(in.Terrain, titleCaser)
}

func normalizeList(values []string, caser cases.Caser) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, caser.String(v))
	}
	return out
}

func matchOption(value string, options []string) string {
	folder := cases.Fold()
	folded := folder.String(value)
	for _, opt := range options {
		if folder.String(opt) == folded {
			return opt
		}
	}
	return value
}

// Validate applies the bounds of the form widgets and reports every violation.
func (in JourneyInput) Validate() error {
	var err error
	err = multierr.Append(err, checkOption("type", in.Type, TrainTypes))
	err = multierr.Append(err, checkOption("zone", in.Zone, Zones))
	err = multierr.Append(err, checkIntRange("coach_count", in.CoachCount, 5, 30))
	if in.Pantry != "Yes" && in.Pantry != "No" {
		err = multierr.Append(err, &FieldError{Field: "pantry", Message: "must be Yes or No"})
	}
	if _, perr := time.Parse(timeLayout, in.DepartureTime); perr != nil {
		err = multierr.Append(err, &FieldError{Field: "departure_time", Message: "must be HH:MM"})
	}
	if _, perr := time.Parse(timeLayout, in.ArrivalTime); perr != nil {
		err = multierr.Append(err, &FieldError{Field: "arrival_time", Message: "must be HH:MM"})
	}
	if _, perr := time.Parse(dateLayout, in.Date); perr != nil {
		err = multierr.Append(err, &FieldError{Field: "date", Message: "must be YYYY-MM-DD"})
	}
	err = multierr.Append(err, checkOptions("days_of_run", in.DaysOfRun, Weekdays))
	err = multierr.Append(err, checkOptions("classes", in.Classes, ClassOptions))
	err = multierr.Append(err, checkOptions("terrain", in.Terrain, TerrainOptions))
	err = multierr.Append(err, checkIntRange("num_stations", in.NumStations, 1, 150))
	err = multierr.Append(err, checkFloatRange("total_distance", in.TotalDistance, 1, 5000))
	err = multierr.Append(err, checkFloatRange("avg_platform_count", in.AvgPlatformCount, 1, 10))
	err = multierr.Append(err, checkIntRange("min_platform_count", in.MinPlatformCount, 1, 10))
	err = multierr.Append(err, checkIntRange("max_platform_count", in.MaxPlatformCount, 1, 10))
	return err
}

func checkOption(field, v string, options []string) error {
	if v == "" {
		return &FieldError{Field: field, Message: "is required"}
	}
	if !contains(options, v) {
		return &FieldError{Field: field, Message: fmt.Sprintf("unknown value %q, want one of %s", v, strings.Join(options, ", "))}
	}
	return nil
}

// checkOptions reports every value of a multi-select outside options.
func checkOptions(field string, values, options []string) error {
	var err error
	for _, v := range values {
		if !contains(options, v) {
			err = multierr.Append(err, &FieldError{Field: field, Message: fmt.Sprintf("unknown value %q", v)})
		}
	}
	return err
}

func checkIntRange(field string, v, lo, hi int) error {
	if v < lo || v > hi {
		return &FieldError{Field: field, Message: fmt.Sprintf("must be between %d and %d", lo, hi)}
	}
	return nil
}

func checkFloatRange(field string, v, lo, hi float64) error {
	if v < lo || v > hi {
		return &FieldError{Field: field, Message: fmt.Sprintf("must be between %g and %g", lo, hi)}
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// Record builds the raw row the form submits to the encoder.
func (in JourneyInput) Record() RawRecord {
	rec := RawRecord{
		ColType:          in.Type,
		ColZone:          in.Zone,
		ColCoachCount:    strconv.Itoa(in.CoachCount),
		ColPantry:        in.Pantry,
		ColDepartureTime: in.DepartureTime,
		ColArrivalTime:   in.ArrivalTime,
		ColDate:          in.Date,
		ColDaysOfRun:     strings.Join(in.DaysOfRun, multiValueDivider),
		ColClasses:       strings.Join(in.Classes, multiValueDivider),
		ColNumStations:   strconv.Itoa(in.NumStations),
		ColTotalDistance: strconv.FormatFloat(in.TotalDistance, 'f', -1, 64),
		ColAvgPlatform:   strconv.FormatFloat(in.AvgPlatformCount, 'f', -1, 64),
		ColMinPlatform:   strconv.Itoa(in.MinPlatformCount),
		ColMaxPlatform:   strconv.Itoa(in.MaxPlatformCount),
		ColTerrain:       strings.Join(in.Terrain, multiValueDivider),
	}
	if in.TrainName != "" {
		rec[ColTrainName] = in.TrainName
	}
	if in.Origin != "" {
		rec[ColOrigin] = in.Origin
	}
	if in.Destination != "" {
		rec[ColDestination] = in.Destination
	}
	return rec
}

// tableColumns returns the columns present in any record: known columns in
// training order first, then unknown ones sorted.
func tableColumns(records []RawRecord) []string {
	seen := make(map[string]bool)
	for _, rec := range records {
		for key := range rec {
			seen[key] = true
		}
	}
	columns := make([]string, 0, len(seen))
	for _, name := range rawColumnOrder {
		if seen[name] {
			columns = append(columns, name)
			delete(seen, name)
		}
	}
	extra := make([]string, 0, len(seen))
	for name := range seen {
		extra = append(extra, name)
	}
	sort.Strings(extra)
	return append(columns, extra...)
}
