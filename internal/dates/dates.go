// Package dates holds the civil-calendar helpers shared by the booking core.
// A civil date is a time.Time at local midnight; callers pick the location.
package dates

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	Layout       = "2006-01-02"
	MonthGridLen = 42
	WeekLen      = 7

	// DefaultSwipeThreshold is the minimum horizontal travel, in pixels, for a swipe.
	DefaultSwipeThreshold = 50.0
)

var ErrInvalidTime = errors.New("invalid time of day")

// Day truncates t to midnight in its own location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// In re-anchors the calendar date of d at midnight in loc, keeping year, month and day.
func In(d time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	y, m, day := d.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, loc)
}

func Today(now time.Time) time.Time {
	return Day(now)
}

func Parse(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	d, err := time.ParseInLocation(Layout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return d, nil
}

func Format(d time.Time) string {
	return d.Format(Layout)
}

func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func AddDays(d time.Time, n int) time.Time {
	return Day(d).AddDate(0, 0, n)
}

// WeekStart returns the Sunday on or before d.
func WeekStart(d time.Time) time.Time {
	day := Day(d)
	return day.AddDate(0, 0, -int(day.Weekday()))
}

// WeekEnd returns the Saturday on or after d.
func WeekEnd(d time.Time) time.Time {
	return WeekStart(d).AddDate(0, 0, WeekLen-1)
}

func WeekDays(d time.Time) []time.Time {
	start := WeekStart(d)
	days := make([]time.Time, WeekLen)
	for i := range days {
		days[i] = start.AddDate(0, 0, i)
	}
	return days
}

func MonthStart(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, d.Location())
}

func MonthEnd(d time.Time) time.Time {
	return MonthStart(d).AddDate(0, 1, -1)
}

// MonthGridStart is the first cell of a 6x7 month grid: the Sunday on or before the 1st.
func MonthGridStart(year int, month time.Month, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return WeekStart(time.Date(year, month, 1, 0, 0, 0, 0, loc))
}

// MonthGridRange returns the inclusive first and last date shown by a month grid.
func MonthGridRange(year int, month time.Month, loc *time.Location) (time.Time, time.Time) {
	start := MonthGridStart(year, month, loc)
	return start, start.AddDate(0, 0, MonthGridLen-1)
}

func IsWeekend(d time.Time) bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// IsPast reports whether d is strictly before today.
func IsPast(d, now time.Time) bool {
	return Day(d).Before(Today(now.In(d.Location())))
}

func IsToday(d, now time.Time) bool {
	return Day(d).Equal(Today(now.In(d.Location())))
}

// Within reports whether d lies in the inclusive range [start, end].
func Within(d, start, end time.Time) bool {
	day := Day(d)
	return !day.Before(Day(start)) && !day.After(Day(end))
}

// To24Hour converts "2:30 PM" into "14:30". 24-hour input passes through normalised.
func To24Hour(s string) (string, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return "", ErrInvalidTime
	}
	suffix := ""
	if strings.HasSuffix(s, "AM") || strings.HasSuffix(s, "PM") {
		suffix = s[len(s)-2:]
		s = strings.TrimSpace(s[:len(s)-2])
	}
	h, m, err := splitClock(s)
	if err != nil {
		return "", err
	}
	switch suffix {
	case "":
		if h > 23 {
			return "", ErrInvalidTime
		}
	case "AM", "PM":
		if h < 1 || h > 12 {
			return "", ErrInvalidTime
		}
		h %= 12
		if suffix == "PM" {
			h += 12
		}
	}
	return fmt.Sprintf("%02d:%02d", h, m), nil
}

// To12Hour converts "14:30" into "2:30 PM".
func To12Hour(s string) (string, error) {
	h, m, err := splitClock(strings.TrimSpace(s))
	if err != nil {
		return "", err
	}
	if h > 23 {
		return "", ErrInvalidTime
	}
	suffix := "AM"
	if h >= 12 {
		suffix = "PM"
	}
	h12 := h % 12
	if h12 == 0 {
		h12 = 12
	}
	return fmt.Sprintf("%d:%02d %s", h12, m, suffix), nil
}

// ValidTime reports whether s is a 24-hour HH:MM clock value.
func ValidTime(s string) bool {
	if len(s) != 5 {
		return false
	}
	h, _, err := splitClock(s)
	return err == nil && h <= 23
}

func splitClock(s string) (int, int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 || parts[0] == "" || len(parts[1]) != 2 {
		return 0, 0, ErrInvalidTime
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 {
		return 0, 0, ErrInvalidTime
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, ErrInvalidTime
	}
	return h, m, nil
}

type SwipeDirection int

const (
	SwipeNone SwipeDirection = iota
	SwipeNext
	SwipePrev
)

// Swipe classifies a horizontal gesture. A leftward swipe advances.
func Swipe(startX, endX, threshold float64) SwipeDirection {
	if threshold <= 0 {
		threshold = DefaultSwipeThreshold
	}
	delta := startX - endX
	switch {
	case delta >= threshold:
		return SwipeNext
	case -delta >= threshold:
		return SwipePrev
	default:
		return SwipeNone
	}
}
