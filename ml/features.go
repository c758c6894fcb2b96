package ml

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Derived column names produced by the encoder.
const (
	ColTravelTime      = "Travel Time"
	ColDayOfWeek       = "Day_of_Week"
	ColDepartureHour   = "Departure_Hour"
	ColDepartureMinute = "Departure_Minute"
	ColArrivalHour     = "Arrival_Hour"
	ColArrivalMinute   = "Arrival_Minute"
	ColNumberOfDays    = "Number of Days"
	ColMonth           = "Month"

	monthAverage = 5.0
	monthMax     = 10.0
	monthMin     = 2.0
	monthClass   = 1.0
)

var ErrEmptyBatch = errors.New("no records to encode")

var droppedColumns = []string{
	ColTrainName, ColDate, ColDepartureTime, ColArrivalTime, ColMonth, ColOrigin, ColDestination, ColDaysOfRun,
}

// Encoder turns raw journey rows into the numeric table a delay classifier
// was trained on.
type Encoder struct {
	// Categories fixes the code of each value of a categorical column. Columns
	// without a vocabulary are coded by their sorted distinct values in the
	// batch being encoded.
	Categories map[string][]string
	Now        func() time.Time
}

func (e *Encoder) now() time.Time {
	if e == nil || e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// EncodeFeatures encodes records with batch-derived category codes.
func EncodeFeatures(records []RawRecord) (*FeatureTable, error) {
	return (&Encoder{}).Encode(records)
}

func (e *Encoder) Encode(records []RawRecord) (*FeatureTable, error) {
	if len(records) == 0 {
		return nil, ErrEmptyBatch
	}
	now := e.now()
	f := newFrame(records)
	n := len(records)

	if cells, ok := f.text[ColPantry]; ok {
		values := make([]float64, n)
		for i, c := range cells {
			values[i] = boolFloat(c.ok && c.value == "Yes")
		}
		f.setNumeric(ColPantry, values)
	} else {
		f.setNumeric(ColPantry, make([]float64, n))
	}

	for _, col := range []string{ColType, ColZone} {
		if cells, ok := f.text[col]; ok {
			f.setNumeric(col, e.categoryCodes(col, cells))
		} else {
			f.setNumeric(col, make([]float64, n))
		}
	}

	if cells, ok := f.text[ColClasses]; ok {
		values := make([]float64, n)
		for i, c := range cells {
			values[i] = float64(CountParts(c.value))
		}
		f.setNumeric(ColClasses, values)
	} else {
		f.setNumeric(ColClasses, make([]float64, n))
	}

	if cells, ok := f.text[ColTerrain]; ok {
		f.drop(ColTerrain)
		rows := make([]map[string]bool, n)
		seen := make(map[string]bool)
		for i, c := range cells {
			rows[i] = make(map[string]bool)
			for _, label := range SplitLabels(c.value) {
				rows[i][label] = true
				seen[label] = true
			}
		}
		labels := make([]string, 0, len(seen))
		for label := range seen {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			values := make([]float64, n)
			for i := range rows {
				values[i] = boolFloat(rows[i][label])
			}
			f.setNumeric(label, values)
		}
	}

	departures := f.timestamps(ColDepartureTime, now)
	arrivals := f.timestamps(ColArrivalTime, now)
	dates := f.timestamps(ColDate, now)

	travel := make([]float64, n)
	if f.has(ColDepartureTime) && f.has(ColArrivalTime) {
		for i := 0; i < n; i++ {
			if departures[i].ok && arrivals[i].ok {
				travel[i] = TravelMinutes(departures[i].t, arrivals[i].t)
			}
		}
	} else if cells, ok := f.text[ColTravelTime]; ok {
		for i, c := range cells {
			if v, ok := parseNumber(c.value); c.ok && ok {
				travel[i] = v
			}
		}
	}
	f.setNumeric(ColTravelTime, travel)

	weekday := make([]float64, n)
	for i, d := range dates {
		if d.ok {
			weekday[i] = float64(MondayWeekday(d.t))
		}
	}
	f.setNumeric(ColDayOfWeek, weekday)

	f.setNumeric(ColDepartureHour, clockField(departures, time.Time.Hour))
	f.setNumeric(ColDepartureMinute, clockField(departures, time.Time.Minute))
	f.setNumeric(ColArrivalHour, clockField(arrivals, time.Time.Hour))
	f.setNumeric(ColArrivalMinute, clockField(arrivals, time.Time.Minute))

	months := make([]time.Month, n)
	for i := range months {
		switch {
		case !f.has(ColDate):
			months[i] = time.January
		case dates[i].ok:
			months[i] = dates[i].t.Month()
		}
	}
	for m := time.January; m <= time.December; m++ {
		average := make([]float64, n)
		maximum := make([]float64, n)
		minimum := make([]float64, n)
		class := make([]float64, n)
		for i, month := range months {
			if month == m {
				average[i], maximum[i], minimum[i], class[i] = monthAverage, monthMax, monthMin, monthClass
			}
		}
		f.setNumeric(m.String()+"_Average", average)
		f.setNumeric(m.String()+"_Max", maximum)
		f.setNumeric(m.String()+"_Min", minimum)
		f.setNumeric(m.String()+"_Class", class)
	}

	days := make([]float64, n)
	if cells, ok := f.text[ColDaysOfRun]; ok {
		for i, c := range cells {
			if c.ok {
				days[i] = float64(CountParts(c.value))
			}
		}
	}
	f.setNumeric(ColNumberOfDays, days)

	for _, col := range droppedColumns {
		f.drop(col)
	}
	f.numericOrDrop()

	return f.table(), nil
}

func (e *Encoder) categoryCodes(col string, cells []cell) []float64 {
	vocabulary, fixed := e.Categories[col]
	if !fixed {
		distinct := make(map[string]bool)
		for _, c := range cells {
			if c.ok {
				distinct[c.value] = true
			}
		}
		vocabulary = make([]string, 0, len(distinct))
		for v := range distinct {
			vocabulary = append(vocabulary, v)
		}
		sort.Strings(vocabulary)
	}
	index := make(map[string]int, len(vocabulary))
	for i, v := range vocabulary {
		index[v] = i
	}
	codes := make([]float64, len(cells))
	for i, c := range cells {
		code, known := index[c.value]
		if !c.ok || !known {
			code = -1
		}
		codes[i] = float64(code)
	}
	return codes
}

func clockField(values []stamp, field func(time.Time) int) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		if v.ok {
			out[i] = float64(field(v.t))
		}
	}
	return out
}

type cell struct {
	value string
	ok    bool
}

type stamp struct {
	t  time.Time
	ok bool
}

// frame is the in-progress table: raw text columns are replaced one by one
// with numeric ones while the column order is kept.
type frame struct {
	rows  int
	order []string
	text  map[string][]cell
	nums  map[string][]float64
}

func newFrame(records []RawRecord) *frame {
	f := &frame{
		rows:  len(records),
		order: tableColumns(records),
		text:  make(map[string][]cell),
		nums:  make(map[string][]float64),
	}
	for _, col := range f.order {
		cells := make([]cell, len(records))
		for i, rec := range records {
			v, ok := rec[col]
			cells[i] = cell{value: v, ok: ok}
		}
		f.text[col] = cells
	}
	return f
}

func (f *frame) has(col string) bool {
	_, ok := f.text[col]
	return ok
}

func (f *frame) timestamps(col string, now time.Time) []stamp {
	out := make([]stamp, f.rows)
	for i, c := range f.text[col] {
		if !c.ok {
			continue
		}
		t, ok := ParseTimestamp(c.value, now)
		out[i] = stamp{t: t, ok: ok}
	}
	return out
}

func (f *frame) setNumeric(col string, values []float64) {
	if _, isText := f.text[col]; isText {
		delete(f.text, col)
	} else if _, isNum := f.nums[col]; !isNum {
		f.order = append(f.order, col)
	}
	f.nums[col] = values
}

func (f *frame) drop(col string) {
	delete(f.text, col)
	delete(f.nums, col)
	for i, name := range f.order {
		if name == col {
			f.order = append(f.order[:i], f.order[i+1:]...)
			return
		}
	}
}

// numericOrDrop converts leftover raw columns to numbers, dropping any column
// that holds a value which is not a number.
func (f *frame) numericOrDrop() {
	for _, col := range append([]string(nil), f.order...) {
		cells, ok := f.text[col]
		if !ok {
			continue
		}
		values := make([]float64, f.rows)
		numeric := true
		for i, c := range cells {
			if !c.ok || c.value == "" {
				continue
			}
			v, ok := parseNumber(c.value)
			if !ok {
				numeric = false
				break
			}
			values[i] = v
		}
		if numeric {
			f.setNumeric(col, values)
		} else {
			f.drop(col)
		}
	}
}

func (f *frame) table() *FeatureTable {
	t := &FeatureTable{
		Columns: append([]string(nil), f.order...),
		Rows:    make([][]float64, f.rows),
	}
	for i := range t.Rows {
		row := make([]float64, len(t.Columns))
		for j, col := range t.Columns {
			row[j] = f.nums[col][i]
		}
		t.Rows[i] = row
	}
	return t
}

// FeatureTable is a dense numeric table with named columns.
type FeatureTable struct {
	Columns []string    `json:"columns"`
	Rows    [][]float64 `json:"rows"`
}

func (t *FeatureTable) Len() int {
	return len(t.Rows)
}

func (t *FeatureTable) index(name string) int {
	for i, col := range t.Columns {
		if col == name {
			return i
		}
	}
	return -1
}

// Column returns a copy of one column.
func (t *FeatureTable) Column(name string) ([]float64, bool) {
	idx := t.index(name)
	if idx < 0 {
		return nil, false
	}
	out := make([]float64, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out, true
}

// Row returns row i keyed by column name.
func (t *FeatureTable) Row(i int) (map[string]float64, error) {
	if i < 0 || i >= len(t.Rows) {
		return nil, fmt.Errorf("row %d out of range [0,%d)", i, len(t.Rows))
	}
	out := make(map[string]float64, len(t.Columns))
	for j, col := range t.Columns {
		out[col] = t.Rows[i][j]
	}
	return out, nil
}

// Align reorders the table to columns. Columns the table lacks are filled
// with zero and columns the model does not know are dropped.
func (t *FeatureTable) Align(columns []string) *FeatureTable {
	positions := make([]int, len(columns))
	for i, col := range columns {
		positions[i] = t.index(col)
	}
	aligned := &FeatureTable{
		Columns: append([]string(nil), columns...),
		Rows:    make([][]float64, len(t.Rows)),
	}
	for i, row := range t.Rows {
		out := make([]float64, len(columns))
		for j, pos := range positions {
			if pos >= 0 {
				out[j] = row[pos]
			}
		}
		aligned.Rows[i] = out
	}
	return aligned
}

// Vector returns row i ordered by columns, zero for columns the table lacks.
func (t *FeatureTable) Vector(i int, columns []string) ([]float64, error) {
	if i < 0 || i >= len(t.Rows) {
		return nil, fmt.Errorf("row %d out of range [0,%d)", i, len(t.Rows))
	}
	out := make([]float64, len(columns))
	for j, col := range columns {
		if pos := t.index(col); pos >= 0 {
			out[j] = t.Rows[i][pos]
		}
	}
	return out, nil
}
