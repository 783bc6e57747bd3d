package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"fieldbook/internal/calendar"
	"fieldbook/internal/domain"

	"github.com/rs/zerolog"
)

const maxJSONBody = 1 << 20

// errorBody is the JSON shape of every failed response. Message is the banner text.
type errorBody struct {
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Reason  string            `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeMessage(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, errorBody{Message: message})
}

// writeError maps a domain error onto a status code and banner.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	body := errorBody{Message: domain.UserMessage(err)}

	var validation *domain.ValidationError
	var conflict *domain.AvailabilityConflict
	switch {
	case errors.As(err, &validation):
		body.Fields = validation.Fields
	case errors.As(err, &conflict):
		body.Reason = conflict.Reason
	case errors.Is(err, calendar.ErrLoadTimeout):
		body.Message = "The calendar took too long to load. Please try again."
	}

	if code >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Int("status", code).Msg("request failed")
	}
	writeJSON(w, code, body)
}

func statusFor(err error) int {
	var validation *domain.ValidationError
	var conflict *domain.AvailabilityConflict
	var race *domain.ConflictError
	var storage *domain.StorageError

	switch {
	case errors.As(err, &validation), errors.Is(err, domain.ErrEmptySelection):
		return http.StatusBadRequest
	case errors.As(err, &conflict), errors.As(err, &race),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrBlockedBooking),
		errors.Is(err, domain.ErrBlockCommitFailed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrBookingNotFound),
		errors.Is(err, domain.ErrNoBookingFound),
		errors.Is(err, domain.ErrNothingToUnblock):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrFilesDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, calendar.ErrLoadTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &storage):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a strict JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		msg := strings.TrimPrefix(err.Error(), "json: ")
		if errors.Is(err, io.EOF) {
			msg = "is required"
		}
		return domain.NewValidationError("body", msg)
	}
	return nil
}
