package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/julianstephens/hagotchi/internal/constants"
)

// LoadLocation loads a timezone location from an IANA timezone name.
// If the timezone is "Local" or empty, it returns the system's local timezone.
func LoadLocation(timezone string) (*time.Location, error) {
	if timezone == "" || timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(timezone)
}

// NowInTimezone returns the current time in the specified timezone.
func NowInTimezone(timezone string) (time.Time, error) {
	loc, err := LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}
	return time.Now().In(loc), nil
}

// DateIn returns the local calendar date (YYYY-MM-DD) of t in loc.
// A nil loc means time.Local.
func DateIn(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(constants.DateFormat)
}

// ParseDate parses a YYYY-MM-DD string as a UTC midnight. Date arithmetic is
// done in UTC so DST transitions never produce 23 or 25 hour days.
func ParseDate(date string) (time.Time, error) {
	t, err := time.Parse(constants.DateFormat, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return t, nil
}

// MustParseDate is ParseDate for dates produced by this package.
func MustParseDate(date string) time.Time {
	t, err := ParseDate(date)
	if err != nil {
		panic(err)
	}
	return t
}

// AddDays shifts a YYYY-MM-DD date by n calendar days.
func AddDays(date string, n int) string {
	return MustParseDate(date).AddDate(0, 0, n).Format(constants.DateFormat)
}

// DaysBetween returns the number of calendar days from a to b (b - a).
func DaysBetween(a, b string) int {
	ta := MustParseDate(a)
	tb := MustParseDate(b)
	return int(tb.Sub(ta).Hours() / 24)
}

// WeekdayOf returns the weekday of a YYYY-MM-DD date.
func WeekdayOf(date string) time.Weekday {
	return MustParseDate(date).Weekday()
}

// ValidateDateFormat checks if the string matches the standard date format.
func ValidateDateFormat(date string) bool {
	_, err := time.Parse(constants.DateFormat, date)
	return err == nil
}

// ValidateTimeFormat checks if the string matches the standard time format.
func ValidateTimeFormat(timeStr string) bool {
	_, err := time.Parse(constants.TimeFormat, timeStr)
	return err == nil
}

// ValidateTimezone checks if the timezone name is valid.
func ValidateTimezone(timezone string) bool {
	if timezone == "" || timezone == "Local" {
		return true
	}
	_, err := time.LoadLocation(timezone)
	return err == nil
}

// ParseWeekdays parses a comma-separated list of weekdays ("mon,wed" or "1,3").
func ParseWeekdays(s string) ([]time.Weekday, error) {
	dayMap := map[string]time.Weekday{
		"sun":       time.Sunday,
		"sunday":    time.Sunday,
		"mon":       time.Monday,
		"monday":    time.Monday,
		"tue":       time.Tuesday,
		"tuesday":   time.Tuesday,
		"wed":       time.Wednesday,
		"wednesday": time.Wednesday,
		"thu":       time.Thursday,
		"thursday":  time.Thursday,
		"fri":       time.Friday,
		"friday":    time.Friday,
		"sat":       time.Saturday,
		"saturday":  time.Saturday,
	}

	if strings.TrimSpace(strings.ToLower(s)) == "daily" {
		return []time.Weekday{0, 1, 2, 3, 4, 5, 6}, nil
	}

	var weekdays []time.Weekday
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		if part == "" {
			continue
		}
		if wd, ok := dayMap[part]; ok {
			weekdays = append(weekdays, wd)
			continue
		}
		num, err := strconv.Atoi(part)
		if err != nil || num < 0 || num > 6 {
			return nil, fmt.Errorf("invalid weekday: %s", part)
		}
		weekdays = append(weekdays, time.Weekday(num))
	}

	return weekdays, nil
}
