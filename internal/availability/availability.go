// Package availability decides whether a date can take another booking.
// Blocked rows and real bookings consume slots identically.
package availability

import (
	"time"

	"fieldbook/internal/dates"
	"fieldbook/internal/domain"
	"fieldbook/internal/models"
)

const (
	PublicCapacity = 1
	AdminCapacity  = 2
)

// Occupancy counts the non-cancelled rows on one date.
type Occupancy struct {
	Real    int `json:"real"`
	Blocked int `json:"blocked"`
}

func (o Occupancy) Total() int {
	return o.Real + o.Blocked
}

// Count tallies occupancy, skipping cancelled rows.
func Count(rows []*models.Booking) Occupancy {
	var occ Occupancy
	for _, b := range rows {
		if b == nil || !b.Occupies() {
			continue
		}
		if b.IsBlocked {
			occ.Blocked++
		} else {
			occ.Real++
		}
	}
	return occ
}

// CountOccupancy reads the occupancy for date out of a date-keyed map.
func CountOccupancy(daily map[string][]*models.Booking, date time.Time) Occupancy {
	return Count(daily[dates.Format(date)])
}

// Excluding counts rows other than the booking with the given id.
func Excluding(rows []*models.Booking, id string) Occupancy {
	filtered := make([]*models.Booking, 0, len(rows))
	for _, b := range rows {
		if b.ID != id {
			filtered = append(filtered, b)
		}
	}
	return Count(filtered)
}

func Capacity(role models.Role) int {
	if role == models.RoleAdmin {
		return AdminCapacity
	}
	return PublicCapacity
}

// Check returns an *domain.AvailabilityConflict when date cannot be booked by role.
func Check(date time.Time, role models.Role, occ Occupancy, now time.Time) error {
	conflict := func(reason string) error {
		return &domain.AvailabilityConflict{Date: dates.Day(date), Role: string(role), Reason: reason}
	}

	if role == models.RoleAdmin {
		if occ.Total() >= AdminCapacity {
			return conflict(domain.ReasonCapacity)
		}
		return nil
	}

	switch {
	case dates.IsPast(date, now):
		return conflict(domain.ReasonPast)
	case dates.IsToday(date, now):
		return conflict(domain.ReasonToday)
	case dates.IsWeekend(date):
		return conflict(domain.ReasonWeekend)
	case occ.Total() >= PublicCapacity:
		return conflict(domain.ReasonOccupied)
	}
	return nil
}

func IsDateAvailable(date time.Time, role models.Role, occ Occupancy, now time.Time) bool {
	return Check(date, role, occ, now) == nil
}

// CanAdminCreate reports whether an admin may add a booking or block on top of occ.
func CanAdminCreate(occ Occupancy) bool {
	return occ.Total() < AdminCapacity
}
