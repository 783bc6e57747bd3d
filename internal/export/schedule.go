package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fieldbook/internal/availability"
	"fieldbook/internal/dates"
	"fieldbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	scheduleSheet = "Schedule"
	bookingsSheet = "Bookings"
)

// Source is the read side of the booking store.
type Source interface {
	FetchRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error)
}

// Exporter renders a month of bookings as an xlsx workbook: a day-by-day
// schedule with one column per slot, and a flat list of every row.
type Exporter struct {
	src    Source
	loc    *time.Location
	logger zerolog.Logger
}

func New(src Source, loc *time.Location, logger *zerolog.Logger) *Exporter {
	if loc == nil {
		loc = time.Local
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "export").Logger()
	}
	return &Exporter{src: src, loc: loc, logger: l}
}

// FileName is the name SaveFile uses for a month.
func FileName(year int, month time.Month) string {
	return fmt.Sprintf("schedule_%04d-%02d.xlsx", year, int(month))
}

// Write streams the month's workbook to w.
func (e *Exporter) Write(ctx context.Context, w io.Writer, year int, month time.Month) error {
	f, err := e.build(ctx, year, month)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

// SaveFile writes the month's workbook into dir and returns its path.
func (e *Exporter) SaveFile(ctx context.Context, dir string, year int, month time.Month) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}
	f, err := e.build(ctx, year, month)
	if err != nil {
		return "", err
	}
	defer f.Close()

	filePath := filepath.Join(dir, FileName(year, month))
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}
	e.logger.Info().Str("file_path", filePath).Msg("schedule exported")
	return filePath, nil
}

func (e *Exporter) build(ctx context.Context, year int, month time.Month) (*excelize.File, error) {
	if month < time.January || month > time.December {
		return nil, fmt.Errorf("invalid month %d", month)
	}
	start := time.Date(year, month, 1, 0, 0, 0, 0, e.loc)
	end := dates.MonthEnd(start)

	rows, err := e.src.FetchRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("error getting bookings: %w", err)
	}

	f := excelize.NewFile()
	index, err := f.NewSheet(scheduleSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	st, err := newStyles(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	e.writeSchedule(f, st, start, end, rows)
	if err := writeBookings(f, st, rows); err != nil {
		f.Close()
		return nil, err
	}

	_ = f.DeleteSheet("Sheet1")
	return f, nil
}

type styles struct {
	title, header, free, partial, full, blocked int
}

func newStyles(f *excelize.File) (styles, error) {
	cell := func(color string) (int, error) {
		return f.NewStyle(&excelize.Style{
			Fill:      excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
			Alignment: &excelize.Alignment{Horizontal: "left", Vertical: "top", WrapText: true},
		})
	}
	var st styles
	var err error
	if st.title, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	}); err != nil {
		return st, err
	}
	if st.header, err = f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	}); err != nil {
		return st, err
	}
	if st.free, err = cell("#FFFFFF"); err != nil {
		return st, err
	}
	if st.partial, err = cell("#FFEB9C"); err != nil {
		return st, err
	}
	if st.full, err = cell("#FFC7CE"); err != nil {
		return st, err
	}
	st.blocked, err = cell("#D9D9D9")
	return st, err
}

func (e *Exporter) writeSchedule(f *excelize.File, st styles, start, end time.Time, rows []*models.Booking) {
	sh := scheduleSheet
	_ = f.SetCellValue(sh, "A1", "Schedule: "+start.Format("January 2006"))
	_ = f.MergeCell(sh, "A1", "E1")
	_ = f.SetCellStyle(sh, "A1", "A1", st.title)

	for i, h := range []string{"Date", "Day", "Slot 1", "Slot 2", "Occupancy"} {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(sh, cell, h)
		_ = f.SetCellStyle(sh, cell, cell, st.header)
	}

	byDate := make(map[string][]*models.Booking)
	for _, b := range rows {
		if b.Occupies() {
			byDate[b.DateKey()] = append(byDate[b.DateKey()], b)
		}
	}

	row := 3
	for d := start; !d.After(end); d = dates.AddDays(d, 1) {
		key := dates.Format(d)
		live := byDate[key]
		occ := availability.Count(live)

		_ = f.SetCellValue(sh, fmt.Sprintf("A%d", row), key)
		_ = f.SetCellValue(sh, fmt.Sprintf("B%d", row), d.Format("Mon"))
		for slot := 0; slot < availability.AdminCapacity; slot++ {
			cell, _ := excelize.CoordinatesToCellName(slot+3, row)
			style := st.free
			if slot < len(live) {
				_ = f.SetCellValue(sh, cell, slotText(live[slot]))
				style = st.partial
				if live[slot].IsBlocked {
					style = st.blocked
				} else if occ.Total() >= availability.AdminCapacity {
					style = st.full
				}
			}
			_ = f.SetCellStyle(sh, cell, cell, style)
		}
		_ = f.SetCellValue(sh, fmt.Sprintf("E%d", row), fmt.Sprintf("%d/%d", occ.Total(), availability.AdminCapacity))
		row++
	}

	_ = f.SetColWidth(sh, "A", "A", 12)
	_ = f.SetColWidth(sh, "B", "B", 6)
	_ = f.SetColWidth(sh, "C", "D", 40)
	_ = f.SetColWidth(sh, "E", "E", 11)
	_ = f.SetPanes(sh, &excelize.Panes{Freeze: true, YSplit: 2, TopLeftCell: "A3", ActivePane: "bottomLeft"})
}

func slotText(b *models.Booking) string {
	if b.IsBlocked {
		return fmt.Sprintf("BLOCKED (%s, %s)", b.JobNumber, b.Duration)
	}
	parts := []string{b.JobNumber, b.CustomerName, b.Service}
	when := string(b.Duration)
	if b.BookingTime != nil {
		when = *b.BookingTime + " " + when
	}
	parts = append(parts, when)
	if b.Status == models.StatusRescheduled {
		parts = append(parts, "rescheduled")
	}
	return strings.Join(parts, "\n")
}

var bookingColumns = []string{
	"Job", "Date", "Time", "Duration", "Status", "Blocked", "Customer", "Email", "Phone",
	"Site Contact", "Address", "Postcode", "Service", "Payment", "Cancellation Reason",
}

func writeBookings(f *excelize.File, st styles, rows []*models.Booking) error {
	sh := bookingsSheet
	if _, err := f.NewSheet(sh); err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	for i, h := range bookingColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sh, cell, h)
		_ = f.SetCellStyle(sh, cell, cell, st.header)
	}
	for i, b := range rows {
		clock := ""
		if b.BookingTime != nil {
			clock = *b.BookingTime
		}
		blocked := "no"
		if b.IsBlocked {
			blocked = "yes"
		}
		values := []interface{}{
			b.JobNumber, b.DateKey(), clock, string(b.Duration), string(b.Status), blocked,
			b.CustomerName, b.Email, b.Phone, strings.TrimSpace(b.SiteContactName + " " + b.SiteContactPhone),
			b.Address, b.Postcode, b.Service, b.PaymentStatus, b.CancellationReason,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sh, cell, &values); err != nil {
			return fmt.Errorf("error writing row: %w", err)
		}
	}
	_ = f.SetColWidth(sh, "A", "O", 16)
	return nil
}
