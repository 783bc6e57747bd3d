package service

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"fieldbook/internal/availability"
	"fieldbook/internal/dates"
	"fieldbook/internal/domain"
	"fieldbook/internal/metrics"
	"fieldbook/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const bannerDate = "Monday 2 January 2006"

// Result is the outcome of a lifecycle operation: one banner message plus the affected booking.
type Result struct {
	Message string          `json:"message"`
	Booking *models.Booking `json:"booking,omitempty"`
	// Pending is set when a destructive action was armed and needs a second confirmation.
	Pending bool `json:"pending_confirmation,omitempty"`
}

// SelfServicePatch is the subset of fields a customer may change on their own booking.
type SelfServicePatch struct {
	Date             *time.Time `json:"date,omitempty"`
	BookingTime      *string    `json:"booking_time,omitempty"`
	SiteContactName  *string    `json:"site_contact_name,omitempty"`
	SiteContactPhone *string    `json:"site_contact_phone,omitempty"`
	Notes            *string    `json:"notes,omitempty"`
	BillingName      *string    `json:"billing_name,omitempty"`
	BillingEmail     *string    `json:"billing_email,omitempty"`
}

func (p SelfServicePatch) bookingPatch() models.BookingPatch {
	return models.BookingPatch{
		Date:             p.Date,
		BookingTime:      p.BookingTime,
		SiteContactName:  p.SiteContactName,
		SiteContactPhone: p.SiteContactPhone,
		Notes:            p.Notes,
		BillingName:      p.BillingName,
		BillingEmail:     p.BillingEmail,
	}
}

type BookingService struct {
	store  domain.BookingStore
	outbox domain.Outbox
	files  domain.FileStorage
	gate   *CancelGate
	loc    *time.Location
	now    func() time.Time
	logger zerolog.Logger
}

// NewBookingService wires the lifecycle controller. outbox and files may be nil.
func NewBookingService(store domain.BookingStore, outbox domain.Outbox, files domain.FileStorage, loc *time.Location, logger *zerolog.Logger) *BookingService {
	if loc == nil {
		loc = time.Local
	}
	return &BookingService{
		store:  store,
		outbox: outbox,
		files:  files,
		gate:   NewCancelGate(DefaultCancelConfirmTTL),
		loc:    loc,
		now:    time.Now,
		logger: logger.With().Str("component", "booking_service").Logger(),
	}
}

func (s *BookingService) SetClock(now func() time.Time) {
	s.now = now
	s.gate.now = now
}

func (s *BookingService) SetCancelGate(gate *CancelGate) {
	s.gate = gate
}

func (s *BookingService) Location() *time.Location {
	return s.loc
}

func (s *BookingService) today() time.Time {
	return s.now().In(s.loc)
}

// Occupancy counts the live rows on date.
func (s *BookingService) Occupancy(ctx context.Context, date time.Time) (availability.Occupancy, []*models.Booking, error) {
	day := dates.In(date, s.loc)
	rows, err := s.store.FetchRange(ctx, day, day)
	if err != nil {
		return availability.Occupancy{}, nil, err
	}
	return availability.Count(rows), rows, nil
}

// CheckDate runs the advisory availability check for role without writing anything.
func (s *BookingService) CheckDate(ctx context.Context, date time.Time, role models.Role) (availability.Occupancy, error) {
	occ, _, err := s.Occupancy(ctx, date)
	if err != nil {
		return occ, err
	}
	return occ, availability.Check(dates.In(date, s.loc), role, occ, s.today())
}

func (s *BookingService) Get(ctx context.Context, id string) (*models.Booking, error) {
	return s.store.Get(ctx, id)
}

// Create validates the form, pre-checks the date for the role and persists the booking.
// The store's transaction re-checks capacity authoritatively.
func (s *BookingService) Create(ctx context.Context, req CreateRequest) (res *Result, err error) {
	defer s.observe(models.EventCreated, time.Now(), &err)

	req.normalize()
	if err := validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	role := req.Role
	if !role.Valid() {
		role = models.RolePublic
	}
	actor := req.Actor
	if actor == "" {
		actor = actorFor(role)
	}

	date, err := dates.Parse(req.Date, s.loc)
	if err != nil {
		return nil, domain.NewValidationError("date", err.Error())
	}
	occ, _, err := s.Occupancy(ctx, date)
	if err != nil {
		return nil, err
	}
	if err := availability.Check(date, role, occ, s.today()); err != nil {
		return nil, err
	}

	created, err := s.store.Create(ctx, req.booking(date), availability.Capacity(role))
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("booking_id", created.ID).Str("job_number", created.JobNumber).
		Str("date", created.DateKey()).Str("role", string(role)).Msg("booking created")
	s.emit(ctx, &models.LifecyclePayload{
		Event:   models.EventCreated,
		Booking: created,
		Date:    created.DateKey(),
		Actor:   actor,
	})

	return &Result{
		Message: fmt.Sprintf("Booking %s confirmed for %s.", created.JobNumber, created.Date.Format(bannerDate)),
		Booking: created,
	}, nil
}

// Modify applies an admin edit. Only fields that differ from the stored booking are written.
func (s *BookingService) Modify(ctx context.Context, id string, patch models.BookingPatch, actor string) (*Result, error) {
	before, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor == "" {
		actor = models.ActorAdmin
	}
	return s.modify(ctx, before, patch, models.RoleAdmin, actor)
}

func (s *BookingService) modify(ctx context.Context, before *models.Booking, patch models.BookingPatch, role models.Role, actor string) (res *Result, err error) {
	event := models.EventModified
	start := time.Now()
	defer func() { s.observe(event, start, &err) }()

	if before.Status.Closed() {
		return nil, domain.ErrInvalidTransition
	}
	patch.Status, patch.RescheduledFrom, patch.RescheduledTo, patch.RescheduledAt, patch.RescheduledBy = nil, nil, nil, nil, nil
	if err := normalizePatch(&patch, s.loc); err != nil {
		return nil, err
	}

	change := models.Diff(before, patch)
	if change.Empty() {
		return &Result{Message: "No changes to save.", Booking: before}, nil
	}

	write := change.Patch
	capacity := 0
	if change.Reschedules() {
		event = models.EventRescheduled
		target := before.Date
		if change.Has("date") {
			target = *write.Date
			_, rows, err := s.Occupancy(ctx, target)
			if err != nil {
				return nil, err
			}
			if err := availability.Check(target, role, availability.Excluding(rows, before.ID), s.today()); err != nil {
				return nil, err
			}
			capacity = availability.Capacity(role)
		}
		now := s.now()
		from := before.Date
		write.RescheduledFrom = &from
		write.RescheduledTo = &target
		write.RescheduledAt = &now
		write.RescheduledBy = &actor
		if !before.IsBlocked && before.Status.CanTransition(models.StatusRescheduled) {
			status := models.StatusRescheduled
			write.Status = &status
		}
	}

	updated, err := s.store.Update(ctx, before.ID, write, capacity)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("booking_id", updated.ID).Str("event", event).
		Strs("changed_fields", change.ChangedFields).Msg("booking modified")
	s.emit(ctx, &models.LifecyclePayload{
		Event:         event,
		Booking:       updated,
		Date:          updated.DateKey(),
		Actor:         actor,
		ChangedFields: change.ChangedFields,
		OldValues:     change.OldValues,
		NewValues:     change.NewValues,
	})

	msg := fmt.Sprintf("Booking %s updated.", updated.JobNumber)
	if event == models.EventRescheduled {
		msg = fmt.Sprintf("Booking %s rescheduled to %s.", updated.JobNumber, updated.Date.Format(bannerDate))
	}
	return &Result{Message: msg, Booking: updated}, nil
}

// Cancel soft-cancels a booking. The reason is mandatory.
func (s *BookingService) Cancel(ctx context.Context, id, reason, actor string) (res *Result, err error) {
	defer s.observe(models.EventCancelled, time.Now(), &err)

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.NewValidationError("reason", "is required")
	}
	before, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if before.IsBlocked {
		return nil, domain.ErrBlockedBooking
	}
	if !before.Status.CanTransition(models.StatusCancelled) {
		return nil, domain.ErrInvalidTransition
	}
	if actor == "" {
		actor = models.ActorAdmin
	}

	cancelled, err := s.store.Cancel(ctx, id, reason, actor)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("booking_id", id).Str("actor", actor).Msg("booking cancelled")
	s.emit(ctx, &models.LifecyclePayload{
		Event:   models.EventCancelled,
		Booking: cancelled,
		Date:    cancelled.DateKey(),
		Actor:   actor,
		Reason:  reason,
	})
	return &Result{Message: fmt.Sprintf("Booking %s cancelled.", cancelled.JobNumber), Booking: cancelled}, nil
}

// RequestCancel is the two-step cancel: the first call for a session and booking arms the
// confirmation, a second call within the gate's TTL performs the cancellation.
func (s *BookingService) RequestCancel(ctx context.Context, session, id, reason, actor string) (*Result, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, domain.NewValidationError("reason", "is required")
	}
	key := session + "|" + id
	if !s.gate.Confirm(key) {
		return &Result{Message: "Press cancel again to confirm.", Pending: true}, nil
	}
	return s.Cancel(ctx, id, reason, actor)
}

// Complete closes a delivered job.
func (s *BookingService) Complete(ctx context.Context, id, actor string) (res *Result, err error) {
	defer s.observe(models.EventCompleted, time.Now(), &err)

	before, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if before.IsBlocked || !before.Status.CanTransition(models.StatusCompleted) {
		return nil, domain.ErrInvalidTransition
	}
	done, err := s.store.SetStatus(ctx, id, models.StatusCompleted)
	if err != nil {
		return nil, err
	}

	s.emit(ctx, &models.LifecyclePayload{
		Event:   models.EventCompleted,
		Booking: done,
		Date:    done.DateKey(),
		Actor:   actor,
	})
	return &Result{Message: fmt.Sprintf("Booking %s marked as completed.", done.JobNumber), Booking: done}, nil
}

// Block reserves a slot on date with a placeholder booking under the admin cap.
func (s *BookingService) Block(ctx context.Context, date time.Time, duration models.Duration, actor string) (res *Result, err error) {
	defer s.observe(models.EventBlocked, time.Now(), &err)

	if duration == "" {
		duration = models.DurationFullDay
	}
	if !duration.Valid() {
		return nil, domain.NewValidationError("duration", "must be half-day or full-day")
	}
	if actor == "" {
		actor = models.ActorAdmin
	}
	day := dates.In(date, s.loc)

	occ, _, err := s.Occupancy(ctx, day)
	if err != nil {
		return nil, err
	}
	if err := availability.Check(day, models.RoleAdmin, occ, s.today()); err != nil {
		return nil, err
	}

	blocked, err := s.store.Create(ctx, &models.Booking{
		Date:         day,
		Duration:     duration,
		Status:       models.StatusConfirmed,
		IsBlocked:    true,
		Service:      models.BlockedService,
		CustomerName: models.BlockedCustomerName,
		Email:        models.BlockedEmail,
		Phone:        models.BlockedPhone,
		Address:      models.BlockedAddress,
		Postcode:     models.BlockedPostcode,
	}, availability.AdminCapacity)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("date", blocked.DateKey()).Str("actor", actor).Msg("date blocked")
	s.emit(ctx, &models.LifecyclePayload{
		Event:   models.EventBlocked,
		Booking: blocked,
		Date:    blocked.DateKey(),
		Actor:   actor,
	})
	return &Result{Message: fmt.Sprintf("%s blocked.", day.Format(bannerDate)), Booking: blocked}, nil
}

// Unblock hard-deletes every live blocked row on date.
func (s *BookingService) Unblock(ctx context.Context, date time.Time, actor string) (res *Result, err error) {
	defer s.observe(models.EventUnblocked, time.Now(), &err)

	day := dates.In(date, s.loc)
	removed, err := s.store.DeleteBlocked(ctx, day)
	if err != nil {
		return nil, err
	}
	if len(removed) == 0 {
		return nil, domain.ErrNothingToUnblock
	}

	ids := make([]string, 0, len(removed))
	for _, b := range removed {
		ids = append(ids, b.ID)
	}
	if actor == "" {
		actor = models.ActorAdmin
	}
	s.logger.Info().Str("date", dates.Format(day)).Int("removed", len(ids)).Msg("date unblocked")
	s.emit(ctx, &models.LifecyclePayload{
		Event:      models.EventUnblocked,
		Date:       dates.Format(day),
		Actor:      actor,
		RemovedIDs: ids,
	})
	return &Result{Message: fmt.Sprintf("%s unblocked.", day.Format(bannerDate))}, nil
}

// SelfServiceLookup returns the booking matching both the job number and the email.
func (s *BookingService) SelfServiceLookup(ctx context.Context, jobNumber, email string) (*Result, error) {
	b, err := s.store.GetByJobNumberAndEmail(ctx, jobNumber, email)
	if err != nil {
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("Booking %s found.", b.JobNumber), Booking: b}, nil
}

// SelfServiceModify applies a customer edit under the public availability rules.
func (s *BookingService) SelfServiceModify(ctx context.Context, jobNumber, email string, patch SelfServicePatch) (*Result, error) {
	before, err := s.store.GetByJobNumberAndEmail(ctx, jobNumber, email)
	if err != nil {
		return nil, err
	}
	return s.modify(ctx, before, patch.bookingPatch(), models.RolePublic, models.ActorCustomer)
}

// AttachFile uploads a file and appends its URL to the booking.
func (s *BookingService) AttachFile(ctx context.Context, id, name string, r io.Reader, contentType string) (*Result, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.attach(ctx, b, name, r, contentType)
}

func (s *BookingService) SelfServiceAttachFile(ctx context.Context, jobNumber, email, name string, r io.Reader, contentType string) (*Result, error) {
	b, err := s.store.GetByJobNumberAndEmail(ctx, jobNumber, email)
	if err != nil {
		return nil, err
	}
	return s.attach(ctx, b, name, r, contentType)
}

func (s *BookingService) attach(ctx context.Context, b *models.Booking, name string, r io.Reader, contentType string) (*Result, error) {
	if s.files == nil {
		return nil, domain.ErrFilesDisabled
	}
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "" || name == "." || name == "/" {
		return nil, domain.NewValidationError("file", "is required")
	}
	key := fmt.Sprintf("%s/%s-%s", b.JobNumber, uuid.NewString()[:8], name)

	url, err := s.files.Upload(ctx, key, r, contentType)
	if err != nil {
		s.logger.Error().Err(err).Str("booking_id", b.ID).Msg("file upload failed")
		return nil, &domain.StorageError{Op: "upload", Err: err}
	}
	updated, err := s.store.AppendFile(ctx, b.ID, url)
	if err != nil {
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("%s attached to booking %s.", name, updated.JobNumber), Booking: updated}, nil
}

// ListFiles returns up to limit uploaded files.
func (s *BookingService) ListFiles(ctx context.Context, limit int) ([]models.FileInfo, error) {
	if s.files == nil {
		return nil, domain.ErrFilesDisabled
	}
	files, err := s.files.List(ctx, "", limit)
	if err != nil {
		return nil, &domain.StorageError{Op: "list_files", Err: err}
	}
	return files, nil
}

// emit hands a lifecycle event to the outbox. Failures are logged and never returned.
func (s *BookingService) emit(ctx context.Context, payload *models.LifecyclePayload) {
	if s.outbox == nil {
		return
	}
	payload.OccurredAt = s.now().UTC()
	if err := s.outbox.Enqueue(ctx, payload); err != nil {
		nerr := &domain.NotificationError{Event: payload.Event, Err: err}
		s.logger.Warn().Err(nerr).Str("event", payload.Event).Msg("notification enqueue failed")
	}
}

func (s *BookingService) observe(event string, start time.Time, err *error) {
	metrics.ObserveLifecycle(event, time.Since(start).Seconds(), *err)
}

func actorFor(role models.Role) string {
	if role == models.RoleAdmin {
		return models.ActorAdmin
	}
	return models.ActorCustomer
}
