// Package calendar derives render-ready month and week grids from an occupancy map.
package calendar

import (
	"time"

	"fieldbook/internal/availability"
	"fieldbook/internal/dates"
	"fieldbook/internal/models"
)

type Mode string

const (
	ModeNormal Mode = "normal"
	ModeBlock  Mode = "block"
)

// Action is what a click on a cell does.
type Action string

const (
	ActionNone        Action = "none"
	ActionSelect      Action = "select"
	ActionOpenDetails Action = "open_details"
	ActionToggleBlock Action = "toggle_block"
)

type Options struct {
	Role models.Role
	Mode Mode
	// Selected is the date picked for a new booking, if any.
	Selected *time.Time
	// BlockSelection holds the date keys chosen in block mode.
	BlockSelection map[string]bool
	Now            time.Time
}

func (o Options) blockMode() bool {
	return o.Role == models.RoleAdmin && o.Mode == ModeBlock
}

type Cell struct {
	Date                      time.Time               `json:"-"`
	Key                       string                  `json:"date"`
	Day                       int                     `json:"day"`
	InMonth                   bool                    `json:"in_month"`
	IsToday                   bool                    `json:"is_today"`
	IsPast                    bool                    `json:"is_past"`
	IsWeekend                 bool                    `json:"is_weekend"`
	IsSelected                bool                    `json:"is_selected"`
	IsAvailable               bool                    `json:"is_available"`
	IsBooked                  bool                    `json:"is_booked"`
	IsBlocked                 bool                    `json:"is_blocked"`
	HasBookings               bool                    `json:"has_bookings"`
	IsAdminBlockModeCandidate bool                    `json:"is_admin_block_mode_candidate"`
	Disabled                  bool                    `json:"disabled"`
	Action                    Action                  `json:"action"`
	Occupancy                 *availability.Occupancy `json:"occupancy,omitempty"`
	Bookings                  []*models.Booking       `json:"bookings,omitempty"`
}

type MonthGrid struct {
	Year  int       `json:"year"`
	Month int       `json:"month"`
	Start string    `json:"start"`
	End   string    `json:"end"`
	Weeks [][]*Cell `json:"weeks"`
}

type WeekGrid struct {
	Start string  `json:"start"`
	End   string  `json:"end"`
	Days  []*Cell `json:"days"`
}

// BuildMonth lays out a 6x7 grid starting on the Sunday on or before the 1st.
// Cells outside the month are rendered but never clickable.
func BuildMonth(year int, month time.Month, loc *time.Location, daily map[string][]*models.Booking, opts Options) *MonthGrid {
	start, end := dates.MonthGridRange(year, month, loc)
	grid := &MonthGrid{
		Year:  year,
		Month: int(month),
		Start: dates.Format(start),
		End:   dates.Format(end),
		Weeks: make([][]*Cell, 0, dates.MonthGridLen/dates.WeekLen),
	}

	for w := 0; w < dates.MonthGridLen/dates.WeekLen; w++ {
		week := make([]*Cell, dates.WeekLen)
		for d := 0; d < dates.WeekLen; d++ {
			date := start.AddDate(0, 0, w*dates.WeekLen+d)
			week[d] = BuildCell(date, date.Month() == month, daily, opts)
		}
		grid.Weeks = append(grid.Weeks, week)
	}
	return grid
}

// BuildWeek lays out the seven days of the Sunday-started week containing anchor.
func BuildWeek(anchor time.Time, daily map[string][]*models.Booking, opts Options) *WeekGrid {
	days := dates.WeekDays(anchor)
	grid := &WeekGrid{
		Start: dates.Format(days[0]),
		End:   dates.Format(days[len(days)-1]),
		Days:  make([]*Cell, 0, len(days)),
	}
	for _, d := range days {
		grid.Days = append(grid.Days, BuildCell(d, true, daily, opts))
	}
	return grid
}

// BuildCell annotates one date. Public viewers never see blocked flags, counts or rows.
func BuildCell(date time.Time, inMonth bool, daily map[string][]*models.Booking, opts Options) *Cell {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	key := dates.Format(date)
	rows := daily[key]
	occ := availability.Count(rows)

	c := &Cell{
		Date:        date,
		Key:         key,
		Day:         date.Day(),
		InMonth:     inMonth,
		IsToday:     dates.IsToday(date, now),
		IsPast:      dates.IsPast(date, now),
		IsWeekend:   dates.IsWeekend(date),
		IsAvailable: availability.IsDateAvailable(date, opts.Role, occ, now),
		HasBookings: occ.Total() > 0,
	}

	if opts.blockMode() {
		c.IsSelected = opts.BlockSelection[key]
		c.IsAdminBlockModeCandidate = inMonth && !c.IsPast
	} else if opts.Selected != nil {
		c.IsSelected = dates.SameDay(*opts.Selected, date)
	}

	if opts.Role == models.RoleAdmin {
		c.IsBooked = occ.Real > 0
		c.IsBlocked = occ.Blocked > 0
		c.Occupancy = &occ
		for _, b := range rows {
			if b.Occupies() {
				c.Bookings = append(c.Bookings, b)
			}
		}
	} else {
		c.IsBooked = c.HasBookings
	}

	c.Action = Click(c, opts)
	c.Disabled = c.Action == ActionNone
	return c
}

// Click resolves what activating the cell does for the viewer.
func Click(c *Cell, opts Options) Action {
	if !c.InMonth {
		return ActionNone
	}
	switch {
	case opts.blockMode():
		if c.IsAdminBlockModeCandidate {
			return ActionToggleBlock
		}
		return ActionNone
	case opts.Role == models.RoleAdmin:
		if c.HasBookings {
			return ActionOpenDetails
		}
		if c.IsAvailable {
			return ActionSelect
		}
		return ActionNone
	default:
		if c.IsAvailable {
			return ActionSelect
		}
		return ActionNone
	}
}

// Cells flattens the month grid in display order.
func (g *MonthGrid) Cells() []*Cell {
	out := make([]*Cell, 0, dates.MonthGridLen)
	for _, w := range g.Weeks {
		out = append(out, w...)
	}
	return out
}

// Find returns the cell for key, or nil.
func (g *MonthGrid) Find(key string) *Cell {
	for _, c := range g.Cells() {
		if c.Key == key {
			return c
		}
	}
	return nil
}

