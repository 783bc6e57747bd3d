package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fieldbook/internal/calendar"
	"fieldbook/internal/config"
	"fieldbook/internal/database"
	"fieldbook/internal/domain"
	"fieldbook/internal/events"
	"fieldbook/internal/export"
	"fieldbook/internal/models"
	"fieldbook/internal/repository"
	"fieldbook/internal/service"
	"fieldbook/internal/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testPasscode = "letmein"

var testNow = time.Date(2025, 3, 5, 9, 0, 0, 0, time.UTC) // Wednesday

type mockFiles struct {
	mock.Mock
}

func (m *mockFiles) Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	body, _ := io.ReadAll(r)
	args := m.Called(ctx, key, body, contentType)
	return args.String(0), args.Error(1)
}

func (m *mockFiles) List(ctx context.Context, prefix string, limit int) ([]models.FileInfo, error) {
	args := m.Called(ctx, prefix, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.FileInfo), args.Error(1)
}

type testServer struct {
	srv   *HTTPServer
	svc   *service.BookingService
	store *store.Store
}

type serverOption func(*config.Config, *Deps)

func withRateLimit(rps float64, burst int) serverOption {
	return func(c *config.Config, _ *Deps) {
		c.API.RateLimit = config.APIRateLimitConfig{RPS: rps, Burst: burst}
	}
}

func newTestServer(t *testing.T, files domain.FileStorage, opts ...serverOption) *testServer {
	t.Helper()
	logger := zerolog.Nop()

	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	db.SetLocation(time.UTC)
	db.SetClock(func() time.Time { return testNow })
	t.Cleanup(func() { db.Close() })

	st := store.New(db, events.NewEventBus(), &logger)
	st.SetDebounce(10 * time.Millisecond)

	svc := service.NewBookingService(st, nil, files, time.UTC, &logger)
	svc.SetClock(func() time.Time { return testNow })

	sessions := repository.NewMemorySessionRepository(time.Hour)
	sel := service.NewBlockSelectionService(sessions, svc, time.UTC, &logger)
	sel.SetClock(func() time.Time { return testNow })

	cfg := &config.Config{
		Admin: config.AdminConfig{Passcode: testPasscode, Header: "X-Admin-Passcode"},
		Calendar: config.CalendarConfig{
			SwipeThreshold:  50,
			WeekLoadTimeout: time.Second,
		},
		Files: config.FilesConfig{MaxUploadMB: 1},
	}
	deps := Deps{
		Bookings:  svc,
		Selection: sel,
		Calendar:  st,
		Exporter:  export.New(st, time.UTC, &logger),
		Sessions:  sessions,
	}
	for _, opt := range opts {
		opt(cfg, &deps)
	}

	srv := NewHTTPServer(cfg, deps, &logger)
	srv.now = func() time.Time { return testNow }
	return &testServer{srv: srv, svc: svc, store: st}
}

type request struct {
	method  string
	path    string
	body    any
	admin   bool
	session string
	header  map[string]string
}

func (ts *testServer) do(t *testing.T, req request) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader = http.NoBody
	if req.body != nil {
		switch b := req.body.(type) {
		case string:
			body = bytes.NewBufferString(b)
		default:
			data, err := json.Marshal(b)
			require.NoError(t, err)
			body = bytes.NewReader(data)
		}
	}
	r := httptest.NewRequest(req.method, req.path, body)
	if req.body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	if req.admin {
		r.Header.Set("X-Admin-Passcode", testPasscode)
	}
	if req.session != "" {
		r.Header.Set(sessionHeader, req.session)
	}
	for k, v := range req.header {
		r.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, r)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func bookingForm(date string) service.CreateRequest {
	return service.CreateRequest{
		Date:         date,
		BookingTime:  "09:30",
		Duration:     models.DurationHalfDay,
		Service:      "Boundary survey",
		CustomerName: "Ada Lovelace",
		Email:        "ada@example.com",
		Phone:        "0400000000",
		Address:      "1 Analytical Way",
		Postcode:     "2000",
	}
}

func (ts *testServer) book(t *testing.T, date string, role models.Role) *models.Booking {
	t.Helper()
	req := bookingForm(date)
	req.Role = role
	res, err := ts.svc.Create(context.Background(), req)
	require.NoError(t, err)
	return res.Booking
}

func mustDate(t *testing.T, ts *testServer, raw string) time.Time {
	t.Helper()
	d, err := ts.srv.parseDate("date", raw)
	require.NoError(t, err)
	return d
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, request{method: http.MethodGet, path: "/healthz"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReadyz(t *testing.T) {
	t.Run("Ready", func(t *testing.T) {
		ts := newTestServer(t, nil, func(_ *config.Config, d *Deps) {
			d.Ready = func(context.Context) error { return nil }
		})
		rec := ts.do(t, request{method: http.MethodGet, path: "/readyz"})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("DatabaseDown", func(t *testing.T) {
		ts := newTestServer(t, nil, func(_ *config.Config, d *Deps) {
			d.Ready = func(context.Context) error { return errors.New("database is closed") }
		})
		rec := ts.do(t, request{method: http.MethodGet, path: "/readyz"})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		body := decode[map[string]string](t, rec)
		assert.Equal(t, "database is closed", body["message"])
	})
}

func TestRequestID(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, request{method: http.MethodGet, path: "/healthz", header: map[string]string{requestIDHeader: "abc-123"}})
	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))

	rec = ts.do(t, request{method: http.MethodGet, path: "/healthz"})
	assert.Len(t, rec.Header().Get(requestIDHeader), 36)
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, nil, withRateLimit(1, 1))

	rec := ts.do(t, request{method: http.MethodGet, path: "/healthz"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, request{method: http.MethodGet, path: "/healthz"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "Too many requests. Please slow down.", decode[errorBody](t, rec).Message)
}

func TestAdminGate(t *testing.T) {
	ts := newTestServer(t, nil)
	b := ts.book(t, "2025-03-10", models.RolePublic)
	path := "/api/v1/admin/bookings/" + b.ID

	rec := ts.do(t, request{method: http.MethodGet, path: path})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, request{method: http.MethodGet, path: path, header: map[string]string{"X-Admin-Passcode": "nope"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, request{method: http.MethodGet, path: path, admin: true})
	assert.Equal(t, http.StatusOK, rec.Code)

	t.Run("EmptyPasscodeLocksAdmin", func(t *testing.T) {
		gate := NewAdminGate(config.AdminConfig{})
		r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		r.Header.Set("X-Admin-Passcode", "")
		assert.False(t, gate.allowed(r))
	})
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, request{method: http.MethodGet, path: "/api/v1/nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, request{method: http.MethodDelete, path: "/api/v1/bookings"})
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", domain.NewValidationError("email", "is required"), http.StatusBadRequest},
		{"empty selection", domain.ErrEmptySelection, http.StatusBadRequest},
		{"availability", &domain.AvailabilityConflict{Reason: domain.ReasonWeekend}, http.StatusConflict},
		{"race", &domain.ConflictError{Resource: "job_number", Err: errors.New("dup")}, http.StatusConflict},
		{"transition", domain.ErrInvalidTransition, http.StatusConflict},
		{"blocked", domain.ErrBlockedBooking, http.StatusConflict},
		{"not found", domain.ErrBookingNotFound, http.StatusNotFound},
		{"self-service", domain.ErrNoBookingFound, http.StatusNotFound},
		{"nothing to unblock", domain.ErrNothingToUnblock, http.StatusNotFound},
		{"files off", domain.ErrFilesDisabled, http.StatusServiceUnavailable},
		{"week timeout", calendar.ErrLoadTimeout, http.StatusGatewayTimeout},
		{"storage", &domain.StorageError{Op: "create", Err: errors.New("disk")}, http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, request{method: http.MethodPost, path: "/api/v1/bookings", body: `{"date":"2025-03-10","colour":"red"}`})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Contains(t, body.Fields["body"], "unknown field")

	rec = ts.do(t, request{method: http.MethodPost, path: "/api/v1/bookings", body: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTPServerStartShutdown(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.srv.server.Addr = "127.0.0.1:0"

	done := make(chan error, 1)
	go func() { done <- ts.srv.Start() }()

	time.Sleep(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ts.srv.Shutdown(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("server did not stop")
	}
}

func TestLimiterSweep(t *testing.T) {
	l := newRateLimiter(config.APIRateLimitConfig{RPS: 1, Burst: 1})
	now := testNow
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
	assert.True(t, l.allow("b"), "buckets are per key")

	now = now.Add(time.Hour)
	assert.Equal(t, 2, l.sweep())
	assert.True(t, l.allow("a"))

	assert.True(t, newRateLimiter(config.APIRateLimitConfig{}).allow("x"), "zero rps disables limiting")
}
