package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"fieldbook/internal/config"
	"fieldbook/internal/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

var errRowNotFound = errors.New("booking row not found")

var bookingHeaders = []interface{}{
	"ID", "Job", "Date", "Time", "Duration", "Status", "Blocked",
	"Customer", "Email", "Phone", "Address", "Postcode", "Updated At",
}

// lastColumn is the letter of the final bookings column.
var lastColumn = string(rune('A' + len(bookingHeaders) - 1))

var rowInRange = regexp.MustCompile(`![A-Z]+(\d+)`)

// SheetsSender mirrors bookings into a spreadsheet tab, one row per booking,
// and appends every event to an audit tab.
type SheetsSender struct {
	service       *sheets.Service
	spreadsheetID string
	eventsSheet   string
	bookingsSheet string
	rowCache      map[string]int
	cacheMu       sync.RWMutex
}

func NewSheetsSender(ctx context.Context, cfg config.SheetsConfig) (*SheetsSender, error) {
	credentialsJSON, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	jwt, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(jwt.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create sheets service: %w", err)
	}

	return newSheetsSender(srv, cfg), nil
}

func newSheetsSender(srv *sheets.Service, cfg config.SheetsConfig) *SheetsSender {
	s := &SheetsSender{
		service:       srv,
		spreadsheetID: cfg.SpreadsheetID,
		eventsSheet:   cfg.SheetName,
		bookingsSheet: cfg.BookingsSheet,
		rowCache:      make(map[string]int),
	}
	if s.eventsSheet == "" {
		s.eventsSheet = "Events"
	}
	if s.bookingsSheet == "" {
		s.bookingsSheet = "Bookings"
	}
	return s
}

func (s *SheetsSender) Name() string { return "sheets" }

func (s *SheetsSender) Send(ctx context.Context, event string, payload []byte) error {
	var p models.LifecyclePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	switch {
	case p.Booking != nil:
		if err := s.UpsertBooking(ctx, p.Booking); err != nil {
			return fmt.Errorf("upsert booking row: %w", err)
		}
	case event == models.EventUnblocked:
		for _, id := range p.RemovedIDs {
			if err := s.DeleteBookingRow(ctx, id); err != nil && !errors.Is(err, errRowNotFound) {
				return fmt.Errorf("delete booking row: %w", err)
			}
		}
	}

	return s.AppendEvent(ctx, event, &p)
}

// TestConnection reads the header cell of the bookings tab.
func (s *SheetsSender) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.bookingsSheet+"!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("unable to access spreadsheet: %w", err)
	}
	return nil
}

// AppendEvent adds one audit row to the events tab.
func (s *SheetsSender) AppendEvent(ctx context.Context, event string, p *models.LifecyclePayload) error {
	job, date := "", p.Date
	if p.Booking != nil {
		job, date = p.Booking.JobNumber, p.Booking.DateKey()
	}
	row := []interface{}{
		p.OccurredAt.UTC().Format(time.RFC3339),
		event,
		job,
		date,
		p.Actor,
		strings.Join(p.ChangedFields, ", "),
		p.Reason,
	}

	_, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, s.eventsSheet+"!A:A", &sheets.ValueRange{
		Values: [][]interface{}{row},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	return err
}

// WarmUpCache loads the booking id -> row index map from column A.
func (s *SheetsSender) WarmUpCache(ctx context.Context) error {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.bookingsSheet+"!A:A").Context(ctx).Do()
	if err != nil {
		return err
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache = make(map[string]int)
	for i, row := range resp.Values {
		if id := cellString(row); id != "" && i > 0 {
			s.rowCache[id] = i + 1
		}
	}
	return nil
}

// UpsertBooking updates the booking's row or appends one if it is not on the sheet.
func (s *SheetsSender) UpsertBooking(ctx context.Context, b *models.Booking) error {
	rowIdx, err := s.FindBookingRow(ctx, b.ID)
	if errors.Is(err, errRowNotFound) {
		return s.appendBooking(ctx, b)
	}
	if err != nil {
		return err
	}

	rangeData := fmt.Sprintf("%s!A%d:%s%d", s.bookingsSheet, rowIdx, lastColumn, rowIdx)
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, rangeData, &sheets.ValueRange{
		Values: [][]interface{}{bookingRowValues(b)},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

func (s *SheetsSender) appendBooking(ctx context.Context, b *models.Booking) error {
	resp, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, s.bookingsSheet+"!A:A", &sheets.ValueRange{
		Values: [][]interface{}{bookingRowValues(b)},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return err
	}
	if resp.Updates != nil {
		if m := rowInRange.FindStringSubmatch(resp.Updates.UpdatedRange); m != nil {
			if row, err := strconv.Atoi(m[1]); err == nil {
				s.setCachedRow(b.ID, row)
			}
		}
	}
	return nil
}

// DeleteBookingRow clears the row that holds bookingID.
func (s *SheetsSender) DeleteBookingRow(ctx context.Context, bookingID string) error {
	rowIdx, err := s.FindBookingRow(ctx, bookingID)
	if err != nil {
		return err
	}

	rangeData := fmt.Sprintf("%s!A%d:%s%d", s.bookingsSheet, rowIdx, lastColumn, rowIdx)
	_, err = s.service.Spreadsheets.Values.Clear(s.spreadsheetID, rangeData, &sheets.ClearValuesRequest{}).Context(ctx).Do()
	if err == nil {
		s.deleteCachedRow(bookingID)
	}
	return err
}

// FindBookingRow locates the 1-based row for bookingID, scanning column A on a cache miss.
func (s *SheetsSender) FindBookingRow(ctx context.Context, bookingID string) (int, error) {
	if bookingID == "" {
		return 0, errors.New("booking id is required")
	}
	if row, ok := s.getCachedRow(bookingID); ok {
		return row, nil
	}

	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.bookingsSheet+"!A:A").Context(ctx).Do()
	if err != nil {
		return 0, err
	}
	for i, row := range resp.Values {
		if cellString(row) == bookingID {
			s.setCachedRow(bookingID, i+1)
			return i + 1, nil
		}
	}
	return 0, errRowNotFound
}

// ReplaceBookings rewrites the bookings tab from scratch, headers included.
func (s *SheetsSender) ReplaceBookings(ctx context.Context, bookings []*models.Booking) error {
	_, err := s.service.Spreadsheets.Values.Clear(s.spreadsheetID, s.bookingsSheet+"!A:"+lastColumn, &sheets.ClearValuesRequest{}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("unable to clear sheet: %w", err)
	}

	values := [][]interface{}{bookingHeaders}
	for _, b := range bookings {
		values = append(values, bookingRowValues(b))
	}
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, s.bookingsSheet+"!A1", &sheets.ValueRange{
		Values: values,
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return err
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache = make(map[string]int, len(bookings))
	for i, b := range bookings {
		s.rowCache[b.ID] = i + 2
	}
	return nil
}

func (s *SheetsSender) getCachedRow(id string) (int, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	row, ok := s.rowCache[id]
	return row, ok
}

func (s *SheetsSender) setCachedRow(id string, row int) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache[id] = row
}

func (s *SheetsSender) deleteCachedRow(id string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	delete(s.rowCache, id)
}

func cellString(row []interface{}) string {
	if len(row) == 0 {
		return ""
	}
	switch v := row[0].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func bookingRowValues(b *models.Booking) []interface{} {
	clock := ""
	if b.BookingTime != nil {
		clock = *b.BookingTime
	}
	return []interface{}{
		b.ID,
		b.JobNumber,
		b.DateKey(),
		clock,
		string(b.Duration),
		string(b.Status),
		b.IsBlocked,
		b.CustomerName,
		b.Email,
		b.Phone,
		b.Address,
		b.Postcode,
		b.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
