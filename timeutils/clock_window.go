package timeutils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ClockTime represents a time of day, without a date.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses a "HH:MM" string.
func ParseClockTime(s string) (ClockTime, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return ClockTime{}, fmt.Errorf("invalid clock time '%s'", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid clock time '%s': %w", s, err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid clock time '%s': %w", s, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return ClockTime{}, fmt.Errorf("clock time '%s' out of range", s)
	}
	return ClockTime{Hour: hour, Minute: minute}, nil
}

// MinuteOfDay returns the clock time as minutes since midnight.
func (c ClockTime) MinuteOfDay() int {
	return c.Hour*60 + c.Minute
}

// ClockWindow represents a daily window of clock time, e.g. "22:00 to 06:00".
// A window whose start is after its end wraps around midnight.
type ClockWindow struct {
	Start ClockTime
	End   ClockTime
}

// ParseClockWindow parses a "HH:MM-HH:MM" string.
func ParseClockWindow(s string) (ClockWindow, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 2 {
		return ClockWindow{}, fmt.Errorf("invalid clock window '%s'", s)
	}
	start, err := ParseClockTime(parts[0])
	if err != nil {
		return ClockWindow{}, err
	}
	end, err := ParseClockTime(parts[1])
	if err != nil {
		return ClockWindow{}, err
	}
	return ClockWindow{Start: start, End: end}, nil
}

// Contains reports whether the clock time of t falls inside the window,
// inclusive of the start and exclusive of the end.
func (w ClockWindow) Contains(t time.Time) bool {
	m := t.Hour()*60 + t.Minute()
	start := w.Start.MinuteOfDay()
	end := w.End.MinuteOfDay()
	if start > end {
		// wraps midnight
		return m >= start || m < end
	}
	return m >= start && m < end
}

// Days is a string representation of the different ways to configure days.
type Days string

const (
	WeekendDays Days = "weekends"
	WeekdayDays Days = "weekdays"
	AllDays     Days = "all"
)

// DayedWindow gives a clock window on particular days.
type DayedWindow struct {
	ClockWindow
	Days Days
}

// Contains returns true if the given t is contained in the DayedWindow.
func (d DayedWindow) Contains(t time.Time) bool {
	return d.IsOnDay(t) && d.ClockWindow.Contains(t)
}

func (d DayedWindow) IsOnDay(t time.Time) bool {
	switch d.Days {
	case WeekdayDays:
		return IsWeekday(t)
	case WeekendDays:
		return !IsWeekday(t)
	default:
		// unset behaves as "all"
		return true
	}
}

// IsWeekday returns true if the given time is on a weekday.
func IsWeekday(t time.Time) bool {
	day := t.Weekday()
	return day != time.Saturday && day != time.Sunday
}
