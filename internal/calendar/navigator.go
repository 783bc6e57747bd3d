package calendar

import (
	"time"

	"fieldbook/internal/dates"
)

// WeekNavigator tracks the visible week and turns swipes into week steps.
type WeekNavigator struct {
	start     time.Time
	threshold float64
}

func NewWeekNavigator(anchor time.Time, threshold float64) *WeekNavigator {
	if threshold <= 0 {
		threshold = dates.DefaultSwipeThreshold
	}
	return &WeekNavigator{start: dates.WeekStart(anchor), threshold: threshold}
}

// Range returns the Sunday and Saturday of the current week.
func (n *WeekNavigator) Range() (time.Time, time.Time) {
	return n.start, dates.WeekEnd(n.start)
}

func (n *WeekNavigator) Current() time.Time {
	return n.start
}

func (n *WeekNavigator) Next() time.Time {
	n.start = n.start.AddDate(0, 0, dates.WeekLen)
	return n.start
}

func (n *WeekNavigator) Prev() time.Time {
	n.start = n.start.AddDate(0, 0, -dates.WeekLen)
	return n.start
}

// Swipe applies a horizontal gesture and reports whether the week changed.
func (n *WeekNavigator) Swipe(startX, endX float64) bool {
	switch dates.Swipe(startX, endX, n.threshold) {
	case dates.SwipeNext:
		n.Next()
		return true
	case dates.SwipePrev:
		n.Prev()
		return true
	default:
		return false
	}
}
