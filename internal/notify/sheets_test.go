package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fieldbook/internal/config"
	"fieldbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

func setupMockSheets(t *testing.T) (*http.ServeMux, *SheetsSender) {
	t.Helper()
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	srv, err := sheets.NewService(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	return mux, newSheetsSender(srv, config.SheetsConfig{SpreadsheetID: "sheet_id"})
}

func decodeValues(t *testing.T, r *http.Request) [][]interface{} {
	t.Helper()
	var vr sheets.ValueRange
	require.NoError(t, json.NewDecoder(r.Body).Decode(&vr))
	return vr.Values
}

func TestSheetsSender_WarmUpCache(t *testing.T) {
	mux, s := setupMockSheets(t)
	mux.HandleFunc("/v4/spreadsheets/sheet_id/values/Bookings!A:A", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{
			Values: [][]interface{}{{"ID"}, {"b-1"}, {}, {"b-3"}},
		})
	})
	require.NoError(t, s.WarmUpCache(context.Background()))

	row, ok := s.getCachedRow("b-1")
	assert.True(t, ok)
	assert.Equal(t, 2, row)
	row, _ = s.getCachedRow("b-3")
	assert.Equal(t, 4, row)
	_, ok = s.getCachedRow("ID")
	assert.False(t, ok, "header row is not a booking")
}

func TestSheetsSender_SendAppendsNewBooking(t *testing.T) {
	mux, s := setupMockSheets(t)
	mux.HandleFunc("/v4/spreadsheets/sheet_id/values/Bookings!A:A", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: [][]interface{}{{"ID"}}})
	})
	var bookingRow, eventRow []interface{}
	mux.HandleFunc("/v4/spreadsheets/sheet_id/values/Bookings!A:A:append", func(w http.ResponseWriter, r *http.Request) {
		bookingRow = decodeValues(t, r)[0]
		_ = json.NewEncoder(w).Encode(sheets.AppendValuesResponse{
			Updates: &sheets.UpdateValuesResponse{UpdatedRange: "Bookings!A7:M7"},
		})
	})
	mux.HandleFunc("/v4/spreadsheets/sheet_id/values/Events!A:A:append", func(w http.ResponseWriter, r *http.Request) {
		eventRow = decodeValues(t, r)[0]
		_ = json.NewEncoder(w).Encode(sheets.AppendValuesResponse{})
	})

	require.NoError(t, s.Send(context.Background(), models.EventCreated, testPayload(t, models.EventCreated)))

	require.Len(t, bookingRow, len(bookingHeaders))
	assert.Equal(t, "b-1", bookingRow[0])
	assert.Equal(t, "J25001", bookingRow[1])
	assert.Equal(t, "2025-03-10", bookingRow[2])
	assert.Equal(t, "14:30", bookingRow[3])

	assert.Equal(t, []interface{}{"2025-03-05T09:00:00Z", "created", "J25001", "2025-03-10", "customer", "", ""}, eventRow)

	row, ok := s.getCachedRow("b-1")
	assert.True(t, ok)
	assert.Equal(t, 7, row)
}

func TestSheetsSender_SendUpdatesCachedRow(t *testing.T) {
	mux, s := setupMockSheets(t)
	s.setCachedRow("b-1", 3)
	updated := false
	mux.HandleFunc("/v4/spreadsheets/sheet_id/values/Bookings!A3:M3", func(w http.ResponseWriter, r *http.Request) {
		updated = true
		_ = json.NewEncoder(w).Encode(sheets.UpdateValuesResponse{})
	})
	mux.HandleFunc("/v4/spreadsheets/sheet_id/values/Events!A:A:append", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.AppendValuesResponse{})
	})

	require.NoError(t, s.Send(context.Background(), models.EventModified, testPayload(t, models.EventModified)))
	assert.True(t, updated)
}

func TestSheetsSender_Unblocked(t *testing.T) {
	mux, s := setupMockSheets(t)
	s.setCachedRow("blk-1", 5)
	mux.HandleFunc("/v4/spreadsheets/sheet_id/values/Bookings!A5:M5:clear", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ClearValuesResponse{})
	})
	mux.HandleFunc("/v4/spreadsheets/sheet_id/values/Bookings!A:A", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: [][]interface{}{{"ID"}}})
	})
	mux.HandleFunc("/v4/spreadsheets/sheet_id/values/Events!A:A:append", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.AppendValuesResponse{})
	})

	payload, err := json.Marshal(models.LifecyclePayload{
		Event:      models.EventUnblocked,
		Date:       "2025-03-12",
		RemovedIDs: []string{"blk-1", "never-synced"},
		OccurredAt: occurred,
	})
	require.NoError(t, err)

	require.NoError(t, s.Send(context.Background(), models.EventUnblocked, payload))
	_, ok := s.getCachedRow("blk-1")
	assert.False(t, ok)
}

func TestSheetsSender_ReplaceBookings(t *testing.T) {
	mux, s := setupMockSheets(t)
	mux.HandleFunc("/v4/spreadsheets/sheet_id/values/Bookings!A:M:clear", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ClearValuesResponse{})
	})
	var rows [][]interface{}
	mux.HandleFunc("/v4/spreadsheets/sheet_id/values/Bookings!A1", func(w http.ResponseWriter, r *http.Request) {
		rows = decodeValues(t, r)
		_ = json.NewEncoder(w).Encode(sheets.UpdateValuesResponse{})
	})

	bookings := []*models.Booking{
		{ID: "a", Date: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)},
		{ID: "b", Date: time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)},
	}
	require.NoError(t, s.ReplaceBookings(context.Background(), bookings))
	require.Len(t, rows, 3)
	assert.Equal(t, "ID", rows[0][0])

	row, _ := s.getCachedRow("b")
	assert.Equal(t, 3, row)
}

func TestSheetsSender_TestConnection(t *testing.T) {
	mux, s := setupMockSheets(t)
	mux.HandleFunc("/v4/spreadsheets/sheet_id/values/Bookings!A1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: [][]interface{}{{"ID"}}})
	})
	assert.NoError(t, s.TestConnection(context.Background()))
}
