package scheduler

import (
	"fmt"
	"time"
)

// Schedule computes the next firing strictly after a given instant
type Schedule interface {
	Next(after time.Time) time.Time
	String() string
}

// Hourly fires at Minute past every hour
type Hourly struct {
	Minute int
}

// Next returns the first matching instant after t, in t's location.
func (h Hourly) Next(t time.Time) time.Time {
	next := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), h.Minute, 0, 0, t.Location())
	if !next.After(t) {
		next = next.Add(time.Hour)
	}
	return next
}

func (h Hourly) String() string {
	return fmt.Sprintf("hourly at :%02d", h.Minute)
}

// Daily fires once a day at Hour:Minute
type Daily struct {
	Hour   int
	Minute int
}

// ParseDaily parses a "HH:MM" time of day.
func ParseDaily(timeOfDay string) (Daily, error) {
	var d Daily
	if _, err := fmt.Sscanf(timeOfDay, "%d:%d", &d.Hour, &d.Minute); err != nil {
		return Daily{}, fmt.Errorf("invalid time format: %s (expected HH:MM)", timeOfDay)
	}
	if d.Hour < 0 || d.Hour > 23 || d.Minute < 0 || d.Minute > 59 {
		return Daily{}, fmt.Errorf("invalid time of day: %s", timeOfDay)
	}
	return d, nil
}

// Next returns the first matching instant after t, in t's location.
func (d Daily) Next(t time.Time) time.Time {
	next := time.Date(t.Year(), t.Month(), t.Day(), d.Hour, d.Minute, 0, 0, t.Location())
	if !next.After(t) {
		next = time.Date(t.Year(), t.Month(), t.Day()+1, d.Hour, d.Minute, 0, 0, t.Location())
	}
	return next
}

func (d Daily) String() string {
	return fmt.Sprintf("daily at %02d:%02d", d.Hour, d.Minute)
}

// previousDay is the calendar day before t, at midnight in t's location
func previousDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()-1, 0, 0, 0, 0, t.Location())
}
