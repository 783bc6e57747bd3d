package export

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fieldbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type fakeSource struct {
	rows       []*models.Booking
	err        error
	start, end time.Time
}

func (f *fakeSource) FetchRange(_ context.Context, start, end time.Time) ([]*models.Booking, error) {
	f.start, f.end = start, end
	return f.rows, f.err
}

func march(d int) time.Time {
	return time.Date(2025, 3, d, 0, 0, 0, 0, time.UTC)
}

func sampleRows() []*models.Booking {
	clock := "09:30"
	return []*models.Booking{
		{JobNumber: "J25001", Date: march(10), BookingTime: &clock, Duration: models.DurationHalfDay, Status: models.StatusConfirmed, CustomerName: "Ada Lovelace", Service: "Boundary survey"},
		{JobNumber: "B25001", Date: march(10), Duration: models.DurationFullDay, Status: models.StatusConfirmed, IsBlocked: true},
		{JobNumber: "J25002", Date: march(11), Duration: models.DurationFullDay, Status: models.StatusCancelled, CustomerName: "Grace Hopper", CancellationReason: "weather"},
		{JobNumber: "J25003", Date: march(12), Duration: models.DurationFullDay, Status: models.StatusRescheduled, CustomerName: "Alan Turing", Service: "Set-out"},
	}
}

func TestWrite(t *testing.T) {
	src := &fakeSource{rows: sampleRows()}
	e := New(src, time.UTC, nil)

	var buf bytes.Buffer
	require.NoError(t, e.Write(context.Background(), &buf, 2025, time.March))
	assert.Equal(t, march(1), src.start)
	assert.Equal(t, march(31), src.end)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{scheduleSheet, bookingsSheet}, f.GetSheetList())

	get := func(sheet, cell string) string {
		v, err := f.GetCellValue(sheet, cell)
		require.NoError(t, err)
		return v
	}

	assert.Equal(t, "Schedule: March 2025", get(scheduleSheet, "A1"))
	assert.Equal(t, "Slot 1", get(scheduleSheet, "C2"))

	// 10 March is row 12: two header rows plus nine earlier days.
	assert.Equal(t, "2025-03-10", get(scheduleSheet, "A12"))
	assert.Equal(t, "Mon", get(scheduleSheet, "B12"))
	assert.Equal(t, "J25001\nAda Lovelace\nBoundary survey\n09:30 half-day", get(scheduleSheet, "C12"))
	assert.Equal(t, "BLOCKED (B25001, full-day)", get(scheduleSheet, "D12"))
	assert.Equal(t, "2/2", get(scheduleSheet, "E12"))

	assert.Empty(t, get(scheduleSheet, "C13"), "cancelled rows leave the slot free")
	assert.Equal(t, "0/2", get(scheduleSheet, "E13"))
	assert.Contains(t, get(scheduleSheet, "C14"), "rescheduled")
	assert.Equal(t, "2025-03-31", get(scheduleSheet, "A33"))
	assert.Empty(t, get(scheduleSheet, "A34"))

	rows, err := f.GetRows(bookingsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, "Job", rows[0][0])
	assert.Equal(t, "J25002", rows[3][0])
	assert.Equal(t, "cancelled", rows[3][4])
	assert.Equal(t, "weather", rows[3][14])
	assert.Equal(t, "yes", rows[2][5])
}

func TestSaveFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	e := New(&fakeSource{rows: sampleRows()}, time.UTC, nil)

	path, err := e.SaveFile(context.Background(), dir, 2025, time.March)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "schedule_2025-03.xlsx"), path)
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestBuildErrors(t *testing.T) {
	e := New(&fakeSource{err: errors.New("db down")}, time.UTC, nil)
	var buf bytes.Buffer
	assert.ErrorContains(t, e.Write(context.Background(), &buf, 2025, time.March), "db down")
	assert.Error(t, e.Write(context.Background(), &buf, 2025, 13))
}
