// Package store is the booking record facade used by the lifecycle controller and the calendar.
// It maps persistence errors onto domain errors and announces every committed write on the event bus.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"fieldbook/internal/database"
	"fieldbook/internal/domain"
	"fieldbook/internal/events"
	"fieldbook/internal/models"

	"github.com/rs/zerolog"
)

const DefaultDebounce = 500 * time.Millisecond

type Store struct {
	repo     domain.Repository
	bus      *events.EventBus
	logger   zerolog.Logger
	debounce time.Duration
}

func New(repo domain.Repository, bus *events.EventBus, logger *zerolog.Logger) *Store {
	if bus == nil {
		bus = events.NewEventBus()
	}
	return &Store{
		repo:     repo,
		bus:      bus,
		logger:   logger.With().Str("component", "store").Logger(),
		debounce: DefaultDebounce,
	}
}

// SetDebounce changes the quiet period subscriptions wait before re-fetching.
func (s *Store) SetDebounce(d time.Duration) {
	if d > 0 {
		s.debounce = d
	}
}

func (s *Store) Bus() *events.EventBus {
	return s.bus
}

// FetchRange returns the live rows with start <= date <= end.
func (s *Store) FetchRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error) {
	rows, err := s.repo.GetBookingsByDateRange(ctx, start, end)
	if err != nil {
		return nil, s.mapError("fetch_range", time.Time{}, err)
	}
	return rows, nil
}

// FetchDaily returns FetchRange grouped by civil date key.
func (s *Store) FetchDaily(ctx context.Context, start, end time.Time) (map[string][]*models.Booking, error) {
	rows, err := s.FetchRange(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return GroupByDate(rows), nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.Booking, error) {
	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, s.mapError("get", time.Time{}, err)
	}
	return b, nil
}

func (s *Store) GetByJobNumber(ctx context.Context, jobNumber string) (*models.Booking, error) {
	b, err := s.repo.GetBookingByJobNumber(ctx, strings.ToUpper(strings.TrimSpace(jobNumber)))
	if err != nil {
		return nil, s.mapError("get_by_job_number", time.Time{}, err)
	}
	return b, nil
}

// GetByJobNumberAndEmail resolves a self-service capability key. Unknown job numbers and
// mismatched emails are indistinguishable to the caller.
func (s *Store) GetByJobNumberAndEmail(ctx context.Context, jobNumber, email string) (*models.Booking, error) {
	b, err := s.GetByJobNumber(ctx, jobNumber)
	if errors.Is(err, domain.ErrBookingNotFound) {
		return nil, domain.ErrNoBookingFound
	}
	if err != nil {
		return nil, err
	}
	if b.IsBlocked || b.Email != models.NormalizeEmail(email) {
		return nil, domain.ErrNoBookingFound
	}
	return b, nil
}

// Create persists booking under the given capacity. The booking is updated in place
// with its id, job number and customer id, and also returned.
func (s *Store) Create(ctx context.Context, booking *models.Booking, capacity int) (*models.Booking, error) {
	if err := validateRecord(booking); err != nil {
		return nil, err
	}
	if err := s.repo.CreateBookingWithLock(ctx, booking, capacity); err != nil {
		return nil, s.mapError("create", booking.Date, err)
	}

	s.publish(events.OpInsert, []string{booking.ID}, booking.DateKey())
	return booking, nil
}

// Update writes the set fields of patch. capacity applies when the date moves; pass 0 to skip.
func (s *Store) Update(ctx context.Context, id string, patch models.BookingPatch, capacity int) (*models.Booking, error) {
	var oldDate string
	if patch.Date != nil {
		before, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		oldDate = before.DateKey()
	}

	var target time.Time
	if patch.Date != nil {
		target = *patch.Date
	}
	updated, err := s.repo.UpdateBookingWithLock(ctx, id, patch, capacity)
	if err != nil {
		return nil, s.mapError("update", target, err)
	}

	s.publish(events.OpUpdate, []string{id}, oldDate, updated.DateKey())
	return updated, nil
}

func (s *Store) Cancel(ctx context.Context, id, reason, actor string) (*models.Booking, error) {
	b, err := s.repo.CancelBooking(ctx, id, reason, actor)
	if err != nil {
		return nil, s.mapError("cancel", time.Time{}, err)
	}
	s.publish(events.OpUpdate, []string{id}, b.DateKey())
	return b, nil
}

func (s *Store) SetStatus(ctx context.Context, id string, status models.Status) (*models.Booking, error) {
	b, err := s.repo.UpdateBookingStatus(ctx, id, status)
	if err != nil {
		return nil, s.mapError("set_status", time.Time{}, err)
	}
	s.publish(events.OpUpdate, []string{id}, b.DateKey())
	return b, nil
}

// DeleteBlocked hard-deletes the live blocked rows on date and returns them.
func (s *Store) DeleteBlocked(ctx context.Context, date time.Time) ([]*models.Booking, error) {
	removed, err := s.repo.DeleteBlockedBookings(ctx, date)
	if err != nil {
		return nil, s.mapError("delete_blocked", date, err)
	}
	if len(removed) > 0 {
		ids := make([]string, 0, len(removed))
		for _, b := range removed {
			ids = append(ids, b.ID)
		}
		s.publish(events.OpDelete, ids, date.Format(models.DateLayout))
	}
	return removed, nil
}

func (s *Store) AppendFile(ctx context.Context, id, url string) (*models.Booking, error) {
	b, err := s.repo.AppendBookingFile(ctx, id, url)
	if err != nil {
		return nil, s.mapError("append_file", time.Time{}, err)
	}
	s.publish(events.OpUpdate, []string{id}, b.DateKey())
	return b, nil
}

func (s *Store) publish(op events.ChangeOp, ids []string, dates ...string) {
	keys := make([]string, 0, len(dates))
	for _, d := range dates {
		if d != "" && !contains(keys, d) {
			keys = append(keys, d)
		}
	}
	payload := events.ChangePayload{Op: op, BookingIDs: ids, Dates: keys}
	if err := s.bus.PublishJSON(events.TypeBookingChanged, payload); err != nil {
		s.logger.Warn().Err(err).Str("op", string(op)).Msg("failed to publish change event")
	}
}

func (s *Store) mapError(op string, date time.Time, err error) error {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return domain.ErrBookingNotFound
	case errors.Is(err, database.ErrCapacityExceeded):
		return &domain.AvailabilityConflict{Date: date, Reason: domain.ReasonCapacity}
	case errors.Is(err, database.ErrDuplicateEmail):
		return &domain.ConflictError{Resource: "customer", Err: err}
	case errors.Is(err, database.ErrConcurrentModification):
		return &domain.ConflictError{Resource: "booking", Err: err}
	}

	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		return err
	}

	s.logger.Error().Err(err).Str("op", op).Msg("storage call failed")
	return &domain.StorageError{Op: op, Err: err}
}

func validateRecord(b *models.Booking) error {
	fields := map[string]string{}
	if b.Date.IsZero() {
		fields["date"] = "is required"
	}
	if !b.Duration.Valid() {
		fields["duration"] = "must be half-day or full-day"
	}
	if !b.Status.Valid() {
		fields["status"] = "is invalid"
	}
	required := map[string]string{
		"service":       b.Service,
		"customer_name": b.CustomerName,
		"email":         b.Email,
		"phone":         b.Phone,
		"address":       b.Address,
		"postcode":      b.Postcode,
	}
	for field, value := range required {
		if strings.TrimSpace(value) == "" {
			fields[field] = "is required"
		}
	}
	if len(fields) > 0 {
		return &domain.ValidationError{Fields: fields}
	}
	return nil
}

// GroupByDate buckets rows by civil date key, preserving order within a day.
func GroupByDate(rows []*models.Booking) map[string][]*models.Booking {
	daily := make(map[string][]*models.Booking)
	for _, b := range rows {
		key := b.DateKey()
		daily[key] = append(daily[key], b)
	}
	return daily
}

// SortedKeys returns the date keys of daily in calendar order.
func SortedKeys(daily map[string][]*models.Booking) []string {
	keys := make([]string, 0, len(daily))
	for k := range daily {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
