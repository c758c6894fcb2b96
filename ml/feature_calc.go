package ml

import (
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	clockLayouts = []string{"15:04", "15:04:05"}
	dateLayouts  = []string{
		"2006-01-02",
		"2006-01-02 15:04",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		time.RFC3339,
		"01/02/2006",
	}
)

// ParseTimestamp parses the date and time forms found in journey data. Values
// that carry only a clock time are placed on the day of now.
func ParseTimestamp(value string, now time.Time) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			y, m, d := now.Date()
			return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), 0, time.UTC), true
		}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// CountParts counts comma separated parts. The empty string is one part.
func CountParts(value string) int {
	return len(strings.Split(value, multiValueDivider))
}

// SplitLabels splits a multi-select value and drops blank entries.
func SplitLabels(value string) []string {
	parts := strings.Split(value, multiValueDivider)
	labels := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			labels = append(labels, p)
		}
	}
	return labels
}

// MondayWeekday maps a date to 0 for Monday through 6 for Sunday.
func MondayWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// TravelMinutes is the signed gap between departure and arrival in minutes.
func TravelMinutes(departure, arrival time.Time) float64 {
	return arrival.Sub(departure).Minutes()
}

func parseNumber(value string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
