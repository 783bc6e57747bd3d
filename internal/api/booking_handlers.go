package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"fieldbook/internal/domain"
	"fieldbook/internal/models"
	"fieldbook/internal/service"

	"github.com/rs/zerolog"
)

// patchRequest is the wire form of an admin edit. The date travels as YYYY-MM-DD.
type patchRequest struct {
	models.BookingPatch
	Date *string `json:"date,omitempty"`
}

func (p patchRequest) patch(s *HTTPServer) (models.BookingPatch, error) {
	out := p.BookingPatch
	if p.Date != nil {
		d, err := s.parseDate("date", *p.Date)
		if err != nil {
			return out, err
		}
		out.Date = &d
	}
	return out, nil
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type blockRequest struct {
	Date     string          `json:"date"`
	Duration models.Duration `json:"duration"`
}

type commitRequest struct {
	Duration models.Duration `json:"duration"`
}

type selectionResponse struct {
	Message  string   `json:"message"`
	Selected *bool    `json:"selected,omitempty"`
	Dates    []string `json:"dates"`
}

func (s *HTTPServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	s.create(w, r, models.RolePublic, models.ActorCustomer)
}

func (s *HTTPServer) handleAdminCreate(w http.ResponseWriter, r *http.Request) {
	s.create(w, r, models.RoleAdmin, models.ActorAdmin)
}

func (s *HTTPServer) create(w http.ResponseWriter, r *http.Request, role models.Role, actor string) {
	var req service.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.Role, req.Actor = role, actor

	res, err := s.deps.Bookings.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *HTTPServer) handleGet(w http.ResponseWriter, r *http.Request) {
	b, err := s.deps.Bookings.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, service.Result{Message: fmt.Sprintf("Booking %s.", b.JobNumber), Booking: b})
}

func (s *HTTPServer) handleModify(w http.ResponseWriter, r *http.Request) {
	var req patchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	patch, err := req.patch(s)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.deps.Bookings.Modify(r.Context(), r.PathValue("id"), patch, models.ActorAdmin)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleCancel answers 202 while the cancellation waits for its confirming second request.
func (s *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.deps.Bookings.RequestCancel(r.Context(), sessionID(r), r.PathValue("id"), req.Reason, models.ActorAdmin)
	if err != nil {
		writeError(w, r, err)
		return
	}
	code := http.StatusOK
	if res.Pending {
		code = http.StatusAccepted
	}
	writeJSON(w, code, res)
}

func (s *HTTPServer) handleComplete(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Bookings.Complete(r.Context(), r.PathValue("id"), models.ActorAdmin)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleBlock(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	date, err := s.parseDate("date", req.Date)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.deps.Bookings.Block(r.Context(), date, req.Duration, models.ActorAdmin)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *HTTPServer) handleUnblock(w http.ResponseWriter, r *http.Request) {
	date, err := s.parseDate("date", r.PathValue("date"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.deps.Bookings.Unblock(r.Context(), date, models.ActorAdmin)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleSelectionList(w http.ResponseWriter, r *http.Request) {
	keys, err := s.deps.Selection.List(r.Context(), sessionID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, selectionResponse{Message: selectionMessage(keys), Dates: nonNil(keys)})
}

func (s *HTTPServer) handleSelectionClear(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Selection.Clear(r.Context(), sessionID(r)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, selectionResponse{Message: "Selection cleared.", Dates: []string{}})
}

func (s *HTTPServer) handleSelectionToggle(w http.ResponseWriter, r *http.Request) {
	date, err := s.parseDate("date", r.PathValue("date"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	session := sessionID(r)

	added, err := s.deps.Selection.Toggle(r.Context(), session, date)
	if err != nil {
		writeError(w, r, err)
		return
	}
	keys, err := s.deps.Selection.List(r.Context(), session)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, selectionResponse{Message: selectionMessage(keys), Selected: &added, Dates: nonNil(keys)})
}

// handleSelectionCommit blocks every selected date. A partial failure answers 409
// with the per-date outcome so the client can retry what is left.
func (s *HTTPServer) handleSelectionCommit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.deps.Selection.Commit(r.Context(), sessionID(r), req.Duration, models.ActorAdmin)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, domain.ErrBlockCommitFailed) && res != nil:
		zerolog.Ctx(r.Context()).Warn().Strs("failed", res.Failed).Msg("block selection partially committed")
		writeJSON(w, http.StatusConflict, res)
	default:
		writeError(w, r, err)
	}
}

func selectionMessage(keys []string) string {
	switch len(keys) {
	case 0:
		return "No dates selected."
	case 1:
		return "1 date selected."
	default:
		return fmt.Sprintf("%d dates selected.", len(keys))
	}
}

func nonNil(keys []string) []string {
	if keys == nil {
		return []string{}
	}
	return keys
}

// monthParam reads year and month, defaulting to the current month.
func (s *HTTPServer) monthParam(r *http.Request) (int, time.Month, error) {
	today := s.today()
	year, err := queryInt(r, "year", today.Year())
	if err != nil {
		return 0, 0, err
	}
	month, err := queryInt(r, "month", int(today.Month()))
	if err != nil {
		return 0, 0, err
	}
	if month < 1 || month > 12 {
		return 0, 0, domain.NewValidationError("month", "must be between 1 and 12")
	}
	if year < 1 || year > 9999 {
		return 0, 0, domain.NewValidationError("year", "is out of range")
	}
	return year, time.Month(month), nil
}
