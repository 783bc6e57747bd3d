package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fieldbook/internal/availability"
	"fieldbook/internal/calendar"
	"fieldbook/internal/dates"
	"fieldbook/internal/domain"
	"fieldbook/internal/metrics"
	"fieldbook/internal/models"

	"github.com/rs/zerolog"
)

const streamHeartbeat = 25 * time.Second

type availabilityResponse struct {
	Message   string                 `json:"message"`
	Date      string                 `json:"date"`
	Role      models.Role            `json:"role"`
	Available bool                   `json:"available"`
	Reason    string                 `json:"reason,omitempty"`
	Capacity  int                    `json:"capacity"`
	Occupancy availability.Occupancy `json:"occupancy"`
}

func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	role, ok := s.role(r)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Admin passcode required.")
		return
	}
	date, err := s.parseDate("date", r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	occ, err := s.deps.Bookings.CheckDate(r.Context(), date, role)
	resp := availabilityResponse{
		Date:      dates.Format(date),
		Role:      role,
		Available: err == nil,
		Capacity:  availability.Capacity(role),
		Occupancy: occ,
	}

	var conflict *domain.AvailabilityConflict
	switch {
	case err == nil:
		resp.Message = fmt.Sprintf("%s is available.", date.Format("Monday 2 January 2006"))
	case errors.As(err, &conflict):
		resp.Message = domain.UserMessage(err)
		resp.Reason = conflict.Reason
	default:
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// weekResponse adds whether a swipe moved the view.
type weekResponse struct {
	*calendar.Snapshot
	Navigated bool `json:"navigated"`
}

func (s *HTTPServer) handleMonth(w http.ResponseWriter, r *http.Request) {
	role, ok := s.role(r)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Admin passcode required.")
		return
	}

	year, month, err := s.monthParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	mode := calendar.Mode(strings.ToLower(r.URL.Query().Get("mode")))
	switch mode {
	case "":
		mode = calendar.ModeNormal
	case calendar.ModeNormal:
	case calendar.ModeBlock:
		if !s.admin.allowed(r) {
			writeMessage(w, http.StatusUnauthorized, "Admin passcode required.")
			return
		}
		role = models.RoleAdmin
	default:
		writeError(w, r, domain.NewValidationError("mode", "must be normal or block"))
		return
	}

	session := s.newSession(r, calendar.ViewMonth, role, mode, time.Date(year, month, 1, 0, 0, 0, 0, s.loc))
	defer session.Close()

	if mode == calendar.ModeBlock && s.deps.Selection != nil {
		keys, err := s.deps.Selection.List(r.Context(), sessionID(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		session.SetBlockSelection(keys)
	}

	snap, err := session.Load(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *HTTPServer) handleWeek(w http.ResponseWriter, r *http.Request) {
	role, ok := s.role(r)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Admin passcode required.")
		return
	}

	anchor := s.today()
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, err := s.parseDate("date", raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		anchor = d
	}

	session := s.newSession(r, calendar.ViewWeek, role, calendar.ModeNormal, anchor)
	defer session.Close()

	moved := false
	q := r.URL.Query()
	if q.Get("swipe_start") != "" || q.Get("swipe_end") != "" {
		startX, err1 := strconv.ParseFloat(q.Get("swipe_start"), 64)
		endX, err2 := strconv.ParseFloat(q.Get("swipe_end"), 64)
		if err1 != nil || err2 != nil {
			writeError(w, r, domain.NewValidationError("swipe", "swipe_start and swipe_end must both be numbers"))
			return
		}
		moved = session.Swipe(startX, endX)
	}

	snap, err := session.Load(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, weekResponse{Snapshot: snap, Navigated: moved})
}

// handleStream serves a live calendar view as server-sent events. The first
// event is the current snapshot; later ones follow committed changes inside the window.
func (s *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request) {
	role, ok := s.role(r)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Admin passcode required.")
		return
	}

	q := r.URL.Query()
	start := s.today()
	if raw := q.Get("start"); raw != "" {
		d, err := s.parseDate("start", raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		start = d
	}
	view := calendar.ViewMonth
	if raw := q.Get("end"); raw != "" {
		end, err := s.parseDate("end", raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if end.Before(start) {
			writeError(w, r, domain.NewValidationError("end", "must not be before start"))
			return
		}
		if !end.After(dates.AddDays(start, dates.WeekLen-1)) {
			view = calendar.ViewWeek
		}
	}
	if v := calendar.View(q.Get("view")); v == calendar.ViewWeek || v == calendar.ViewMonth {
		view = v
	}

	session := s.newSession(r, view, role, calendar.ModeNormal, start)
	defer session.Close()

	updates := session.Watch()
	snap, err := session.Load(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	metrics.SessionOpened()
	defer metrics.SessionClosed()

	logger := zerolog.Ctx(r.Context())
	logger.Debug().Str("view", string(view)).Msg("calendar stream opened")
	defer logger.Debug().Msg("calendar stream closed")

	seq := 0
	send := func(snap *calendar.Snapshot) error {
		seq++
		data, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "id: %d\nevent: snapshot\ndata: %s\n\n", seq, data); err != nil {
			return err
		}
		return rc.Flush()
	}
	if err := send(snap); err != nil {
		return
	}

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := send(snap); err != nil {
				logger.Debug().Err(err).Msg("calendar stream write failed")
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func (s *HTTPServer) newSession(r *http.Request, view calendar.View, role models.Role, mode calendar.Mode, anchor time.Time) *calendar.Session {
	logger := zerolog.Ctx(r.Context())
	return calendar.NewSession(s.deps.Calendar, calendar.SessionConfig{
		View:           view,
		Role:           role,
		Mode:           mode,
		Anchor:         anchor,
		Location:       s.loc,
		LoadTimeout:    s.calendar.WeekLoadTimeout,
		SwipeThreshold: s.calendar.SwipeThreshold,
		Now:            s.now,
	}, logger)
}
