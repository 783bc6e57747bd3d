package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fieldbook/internal/calendar"
	"fieldbook/internal/config"
	"fieldbook/internal/dates"
	"fieldbook/internal/domain"
	"fieldbook/internal/export"
	"fieldbook/internal/metrics"
	"fieldbook/internal/models"
	"fieldbook/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Deps are the collaborators behind the HTTP API. Exporter and Sessions may be nil.
type Deps struct {
	Bookings  *service.BookingService
	Selection *service.BlockSelectionService
	Calendar  calendar.Source
	Exporter  *export.Exporter
	Sessions  domain.SessionRepository
	Ready     func(context.Context) error
}

// HTTPServer exposes the booking API, the calendar views and the live change stream.
type HTTPServer struct {
	cfg       config.APIConfig
	calendar  config.CalendarConfig
	deps      Deps
	admin     *AdminGate
	limiter   *rateLimiter
	loc       *time.Location
	maxUpload int64
	now       func() time.Time
	server    *http.Server
	logger    zerolog.Logger
}

func NewHTTPServer(cfg *config.Config, deps Deps, logger *zerolog.Logger) *HTTPServer {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "http").Logger()
	}

	s := &HTTPServer{
		cfg:       cfg.API,
		calendar:  cfg.Calendar,
		deps:      deps,
		admin:     NewAdminGate(cfg.Admin),
		limiter:   newRateLimiter(cfg.API.RateLimit),
		loc:       deps.Bookings.Location(),
		maxUpload: cfg.Files.MaxUploadMB << 20,
		now:       time.Now,
		logger:    l,
	}
	if s.maxUpload <= 0 {
		s.maxUpload = 20 << 20
	}

	mux := http.NewServeMux()
	s.routes(mux)

	handler := s.loggingMiddleware(recoverMiddleware(rateLimitMiddleware(s.limiter, mux)))

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return s
}

func (s *HTTPServer) routes(mux *http.ServeMux) {
	admin := s.admin.Wrap

	s.handle(mux, "GET /healthz", s.handleHealth)
	s.handle(mux, "GET /readyz", s.handleReady)

	s.handle(mux, "GET /api/v1/availability", s.handleAvailability)
	s.handle(mux, "GET /api/v1/calendar/month", s.handleMonth)
	s.handle(mux, "GET /api/v1/calendar/week", s.handleWeek)
	s.handle(mux, "GET /api/v1/calendar/stream", s.handleStream)

	s.handle(mux, "POST /api/v1/bookings", s.handleCreate)
	s.handle(mux, "POST /api/v1/self-service/lookup", s.handleSelfServiceLookup)
	s.handle(mux, "PATCH /api/v1/self-service/booking", s.handleSelfServiceModify)
	s.handle(mux, "POST /api/v1/self-service/files", s.handleSelfServiceFile)

	s.handle(mux, "POST /api/v1/admin/bookings", admin(s.handleAdminCreate))
	s.handle(mux, "GET /api/v1/admin/bookings/{id}", admin(s.handleGet))
	s.handle(mux, "PATCH /api/v1/admin/bookings/{id}", admin(s.handleModify))
	s.handle(mux, "POST /api/v1/admin/bookings/{id}/cancel", admin(s.handleCancel))
	s.handle(mux, "POST /api/v1/admin/bookings/{id}/complete", admin(s.handleComplete))
	s.handle(mux, "POST /api/v1/admin/bookings/{id}/files", admin(s.handleAdminFile))
	s.handle(mux, "POST /api/v1/admin/blocks", admin(s.handleBlock))
	s.handle(mux, "DELETE /api/v1/admin/blocks/{date}", admin(s.handleUnblock))
	s.handle(mux, "GET /api/v1/admin/selection", admin(s.handleSelectionList))
	s.handle(mux, "DELETE /api/v1/admin/selection", admin(s.handleSelectionClear))
	s.handle(mux, "POST /api/v1/admin/selection/{date}", admin(s.handleSelectionToggle))
	s.handle(mux, "POST /api/v1/admin/selection/commit", admin(s.handleSelectionCommit))
	s.handle(mux, "GET /api/v1/admin/files", admin(s.handleListFiles))
	s.handle(mux, "GET /api/v1/admin/export", admin(s.handleExport))
}

// handle registers h and counts requests under the route pattern.
func (s *HTTPServer) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		metrics.IncHTTP(pattern)
		h(w, r)
	})
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// SweepLimiters drops idle rate limit buckets every interval until ctx is done.
func (s *HTTPServer) SweepLimiters(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.limiter.sweep(); n > 0 {
				s.logger.Debug().Int("removed", n).Msg("rate limiters swept")
			}
		}
	}
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("not ready")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "message": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *HTTPServer) today() time.Time {
	return dates.In(s.now().In(s.loc), s.loc)
}

func (s *HTTPServer) parseDate(field, raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, domain.NewValidationError(field, "is required")
	}
	d, err := dates.Parse(raw, s.loc)
	if err != nil {
		return time.Time{}, domain.NewValidationError(field, "must be a date in YYYY-MM-DD format")
	}
	return d, nil
}

// role reads the role query parameter. The admin role needs the passcode.
func (s *HTTPServer) role(r *http.Request) (models.Role, bool) {
	role := models.Role(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("role"))))
	switch role {
	case "":
		return models.RolePublic, true
	case models.RolePublic:
		return role, true
	case models.RoleAdmin:
		return role, s.admin.allowed(r)
	default:
		return "", false
	}
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.NewValidationError(name, "must be a number")
	}
	return v, nil
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		reqLogger := s.logger.With().Str("request_id", id).Logger()
		ctx := reqLogger.WithContext(r.Context())

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r.WithContext(ctx))

		reqLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Str("remote", clientKey(r)).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				zerolog.Ctx(r.Context()).Error().Interface("panic", rec).Msg("handler panicked")
				writeMessage(w, http.StatusInternalServerError, domain.UserMessage(errors.New("panic")))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach Flush and SetWriteDeadline.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
