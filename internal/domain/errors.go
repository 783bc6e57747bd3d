package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrBookingNotFound   = errors.New("booking not found")
	ErrNoBookingFound    = errors.New("no booking found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrBlockedBooking    = errors.New("blocked days must be unblocked, not cancelled")
	ErrNothingToUnblock  = errors.New("no blocked booking on this date")
	ErrEmptySelection    = errors.New("no dates selected")
	ErrFilesDisabled     = errors.New("file storage is not configured")
	ErrBlockCommitFailed = errors.New("some dates could not be blocked")
)

// ValidationError reports missing or malformed input, keyed by field name.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

const (
	ReasonPast     = "past"
	ReasonToday    = "same_day"
	ReasonWeekend  = "weekend"
	ReasonOccupied = "occupied"
	ReasonCapacity = "capacity"
)

// AvailabilityConflict means the date cannot take another booking for the role.
type AvailabilityConflict struct {
	Date   time.Time
	Role   string
	Reason string
}

func (e *AvailabilityConflict) Error() string {
	if e.Role == "" {
		return fmt.Sprintf("date %s is not available: %s", e.Date.Format("2006-01-02"), e.Reason)
	}
	return fmt.Sprintf("date %s is not available for %s: %s", e.Date.Format("2006-01-02"), e.Role, e.Reason)
}

// StorageError wraps a failed persistence call.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ConflictError is returned when a uniqueness race could not be resolved.
type ConflictError struct {
	Resource string
	Err      error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %v", e.Resource, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// NotificationError is logged and never returned to the caller of a lifecycle operation.
type NotificationError struct {
	Event string
	Err   error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notification %s: %v", e.Event, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

// UserMessage turns any error into the single sentence shown in the UI banner.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var validation *ValidationError
	var conflict *AvailabilityConflict
	var storage *StorageError
	var race *ConflictError

	switch {
	case errors.As(err, &validation):
		return "Please check the form: " + strings.TrimPrefix(validation.Error(), "validation failed: ")
	case errors.As(err, &conflict):
		return availabilityMessage(conflict)
	case errors.As(err, &race):
		return "Someone else saved at the same time. Please try again."
	case errors.Is(err, ErrNoBookingFound):
		return "No booking found for that job number and email."
	case errors.Is(err, ErrBookingNotFound):
		return "Booking not found."
	case errors.Is(err, ErrBlockedBooking):
		return "Blocked days must be unblocked instead of cancelled."
	case errors.Is(err, ErrInvalidTransition):
		return "This booking can no longer be changed."
	case errors.Is(err, ErrNothingToUnblock):
		return "There is no blocked booking on that date."
	case errors.Is(err, ErrEmptySelection):
		return "Select at least one date first."
	case errors.Is(err, ErrBlockCommitFailed):
		return "Some dates could not be blocked. The remaining selection has been kept so you can retry."
	case errors.Is(err, ErrFilesDisabled):
		return "File uploads are not available right now."
	case errors.As(err, &storage):
		return "Something went wrong while saving: " + storage.Err.Error()
	default:
		return "Something went wrong. Please try again."
	}
}

func availabilityMessage(c *AvailabilityConflict) string {
	date := c.Date.Format("Monday 2 January 2006")
	switch c.Reason {
	case ReasonPast:
		return fmt.Sprintf("%s is in the past.", date)
	case ReasonToday:
		return "Same-day bookings are not available."
	case ReasonWeekend:
		return "Bookings are not available on weekends."
	case ReasonOccupied:
		return fmt.Sprintf("%s is already booked.", date)
	case ReasonCapacity:
		return fmt.Sprintf("%s already has the maximum number of bookings.", date)
	default:
		return fmt.Sprintf("%s is not available.", date)
	}
}
