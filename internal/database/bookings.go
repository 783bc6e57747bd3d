package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fieldbook/internal/models"

	"github.com/google/uuid"
)

const bookingColumns = `id, job_number, customer_id, date, booking_time, duration, status, is_blocked,
	service, customer_name, email, phone, site_contact_name, site_contact_phone, address, postcode,
	project_details, notes, billing_name, billing_email, payment_status, payment_reference, file_urls,
	cancelled_at, cancelled_by, cancellation_reason, rescheduled_from, rescheduled_to, rescheduled_at,
	rescheduled_by, version, created_at, updated_at`

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// GetBookingsByDateRange returns live rows with start <= date <= end.
func (db *DB) GetBookingsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE date >= ? AND date <= ? AND status != ?
              ORDER BY date ASC, is_blocked ASC, created_at ASC`
	return db.queryBookings(ctx, db, query, start.Format(models.DateLayout), end.Format(models.DateLayout), models.StatusCancelled)
}

// GetBookingHistory is GetBookingsByDateRange including cancelled rows.
func (db *DB) GetBookingHistory(ctx context.Context, start, end time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE date >= ? AND date <= ?
              ORDER BY date ASC, created_at ASC`
	return db.queryBookings(ctx, db, query, start.Format(models.DateLayout), end.Format(models.DateLayout))
}

func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	return db.getBooking(ctx, db, id)
}

func (db *DB) GetBookingByJobNumber(ctx context.Context, jobNumber string) (*models.Booking, error) {
	row := db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE job_number = ?`, jobNumber)
	b, err := db.scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking by job number: %w", err)
	}
	return b, nil
}

// CreateBookingWithLock inserts the booking if its date holds fewer than capacity live rows.
// It resolves the customer by email and assigns the job number inside the same transaction.
func (db *DB) CreateBookingWithLock(ctx context.Context, booking *models.Booking, capacity int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	dateKey := booking.Date.Format(models.DateLayout)
	count, err := countLive(ctx, tx, dateKey, "")
	if err != nil {
		return fmt.Errorf("failed to check availability in tx: %w", err)
	}
	if count >= capacity {
		return ErrCapacityExceeded
	}

	now := db.now()
	if !booking.IsBlocked {
		booking.Email = models.NormalizeEmail(booking.Email)
		customerID, err := findOrCreateCustomer(ctx, tx, booking.Email, booking.CustomerName, booking.Phone, now)
		if err != nil {
			return err
		}
		booking.CustomerID = customerID
	}

	prefix := models.JobNumberPrefix
	if booking.IsBlocked {
		prefix = models.BlockedNumberPrefix
	}
	jobNumber, err := nextJobNumber(ctx, tx, prefix, now)
	if err != nil {
		return err
	}

	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}
	if booking.PaymentStatus == "" {
		booking.PaymentStatus = models.PaymentUnpaid
	}
	fileURLs, err := encodeFileURLs(booking.FileURLs)
	if err != nil {
		return err
	}

	query := `INSERT INTO bookings (
                id, job_number, customer_id, date, booking_time, duration, status, is_blocked,
                service, customer_name, email, phone, site_contact_name, site_contact_phone, address, postcode,
                project_details, notes, billing_name, billing_email, payment_status, payment_reference, file_urls,
                version, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, query,
		booking.ID,
		jobNumber,
		nullString(booking.CustomerID),
		dateKey,
		booking.BookingTime,
		string(booking.Duration),
		string(booking.Status),
		booking.IsBlocked,
		booking.Service,
		booking.CustomerName,
		booking.Email,
		booking.Phone,
		booking.SiteContactName,
		booking.SiteContactPhone,
		booking.Address,
		booking.Postcode,
		booking.ProjectDetails,
		booking.Notes,
		booking.BillingName,
		booking.BillingEmail,
		booking.PaymentStatus,
		booking.PaymentReference,
		fileURLs,
		1,
		now,
		now,
	)
	if err != nil {
		if isCapacityError(err) {
			return ErrCapacityExceeded
		}
		if isUniqueViolation(err) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("failed to insert booking in tx: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit booking: %w", err)
	}

	booking.JobNumber = jobNumber
	booking.Version = 1
	booking.CreatedAt = now
	booking.UpdatedAt = now
	return nil
}

// UpdateBookingWithLock writes the set fields of patch. When the date moves,
// the target date must hold fewer than capacity other live rows.
func (db *DB) UpdateBookingWithLock(ctx context.Context, id string, patch models.BookingPatch, capacity int) (*models.Booking, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	current, err := db.getBooking(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if patch.Date != nil && capacity > 0 {
		target := patch.Date.Format(models.DateLayout)
		if target != current.DateKey() {
			count, err := countLive(ctx, tx, target, id)
			if err != nil {
				return nil, fmt.Errorf("failed to check availability in tx: %w", err)
			}
			if count >= capacity {
				return nil, ErrCapacityExceeded
			}
		}
	}

	cols, args := patch.Columns()
	if len(cols) == 0 {
		return current, nil
	}

	assignments := make([]string, 0, len(cols)+2)
	for _, c := range cols {
		assignments = append(assignments, c+" = ?")
	}
	assignments = append(assignments, "version = version + 1", "updated_at = ?")
	args = append(args, db.now(), id, current.Version)

	query := fmt.Sprintf(`UPDATE bookings SET %s WHERE id = ? AND version = ?`, strings.Join(assignments, ", "))
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		if isCapacityError(err) {
			return nil, ErrCapacityExceeded
		}
		return nil, fmt.Errorf("failed to update booking: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return nil, ErrConcurrentModification
	}

	updated, err := db.getBooking(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit booking update: %w", err)
	}
	return updated, nil
}

func (db *DB) CancelBooking(ctx context.Context, id, reason, actor string) (*models.Booking, error) {
	now := db.now()
	query := `UPDATE bookings
              SET status = ?, cancelled_at = ?, cancelled_by = ?, cancellation_reason = ?,
                  version = version + 1, updated_at = ?
              WHERE id = ? AND status != ?`
	res, err := db.ExecContext(ctx, query, models.StatusCancelled, now, actor, reason, now, id, models.StatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel booking: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		if _, err := db.GetBooking(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrConcurrentModification
	}
	return db.GetBooking(ctx, id)
}

func (db *DB) UpdateBookingStatus(ctx context.Context, id string, status models.Status) (*models.Booking, error) {
	query := `UPDATE bookings SET status = ?, version = version + 1, updated_at = ? WHERE id = ?`
	res, err := db.ExecContext(ctx, query, status, db.now(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update booking status: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return nil, ErrNotFound
	}
	return db.GetBooking(ctx, id)
}

// DeleteBlockedBookings hard-deletes the live blocked rows on date and returns them.
func (db *DB) DeleteBlockedBookings(ctx context.Context, date time.Time) ([]*models.Booking, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	dateKey := date.Format(models.DateLayout)
	rows, err := db.queryBookings(ctx, tx,
		`SELECT `+bookingColumns+` FROM bookings WHERE date = ? AND is_blocked = 1 AND status != ?`,
		dateKey, models.StatusCancelled)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM bookings WHERE date = ? AND is_blocked = 1 AND status != ?`,
		dateKey, models.StatusCancelled); err != nil {
		return nil, fmt.Errorf("failed to delete blocked bookings: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit unblock: %w", err)
	}
	return rows, nil
}

// AppendBookingFile adds url to the booking's attachments.
func (db *DB) AppendBookingFile(ctx context.Context, id, url string) (*models.Booking, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	current, err := db.getBooking(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	encoded, err := encodeFileURLs(append(current.FileURLs, url))
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE bookings SET file_urls = ?, version = version + 1, updated_at = ? WHERE id = ?`,
		encoded, db.now(), id); err != nil {
		return nil, fmt.Errorf("failed to append booking file: %w", err)
	}

	updated, err := db.getBooking(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit booking file: %w", err)
	}
	return updated, nil
}

func (db *DB) getBooking(ctx context.Context, q querier, id string) (*models.Booking, error) {
	row := q.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := db.scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

func (db *DB) queryBookings(ctx context.Context, q querier, query string, args ...any) ([]*models.Booking, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := db.scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bookings: %w", err)
	}
	return bookings, nil
}

func (db *DB) scanBooking(s scanner) (*models.Booking, error) {
	var (
		b                  models.Booking
		customerID         sql.NullString
		dateStr            string
		bookingTime        sql.NullString
		duration, status   string
		fileURLs           string
		cancelledAt        sql.NullTime
		cancelledBy        sql.NullString
		cancellationReason sql.NullString
		rescheduledFrom    sql.NullString
		rescheduledTo      sql.NullString
		rescheduledAt      sql.NullTime
		rescheduledBy      sql.NullString
	)

	err := s.Scan(
		&b.ID, &b.JobNumber, &customerID, &dateStr, &bookingTime, &duration, &status, &b.IsBlocked,
		&b.Service, &b.CustomerName, &b.Email, &b.Phone, &b.SiteContactName, &b.SiteContactPhone,
		&b.Address, &b.Postcode, &b.ProjectDetails, &b.Notes, &b.BillingName, &b.BillingEmail,
		&b.PaymentStatus, &b.PaymentReference, &fileURLs,
		&cancelledAt, &cancelledBy, &cancellationReason,
		&rescheduledFrom, &rescheduledTo, &rescheduledAt, &rescheduledBy,
		&b.Version, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.CustomerID = customerID.String
	b.Duration = models.Duration(duration)
	b.Status = models.Status(status)
	if bookingTime.Valid {
		t := bookingTime.String
		b.BookingTime = &t
	}
	if b.Date, err = db.parseDate(dateStr); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fileURLs), &b.FileURLs); err != nil {
		return nil, fmt.Errorf("failed to decode file urls for %s: %w", b.ID, err)
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time
		b.CancelledAt = &t
	}
	b.CancelledBy = cancelledBy.String
	b.CancellationReason = cancellationReason.String
	if rescheduledFrom.Valid {
		d, err := db.parseDate(rescheduledFrom.String)
		if err != nil {
			return nil, err
		}
		b.RescheduledFrom = &d
	}
	if rescheduledTo.Valid {
		d, err := db.parseDate(rescheduledTo.String)
		if err != nil {
			return nil, err
		}
		b.RescheduledTo = &d
	}
	if rescheduledAt.Valid {
		t := rescheduledAt.Time
		b.RescheduledAt = &t
	}
	b.RescheduledBy = rescheduledBy.String

	return &b, nil
}

func (db *DB) parseDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation(models.DateLayout, s, db.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse booking date %s: %w", s, err)
	}
	return d, nil
}

// countLive counts non-cancelled rows on dateKey, optionally skipping one booking.
func countLive(ctx context.Context, q querier, dateKey, excludeID string) (int, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookings WHERE date = ? AND status != ? AND id != ?`,
		dateKey, models.StatusCancelled, excludeID).Scan(&count)
	return count, err
}

func nextJobNumber(ctx context.Context, q querier, letter string, now time.Time) (string, error) {
	prefix := fmt.Sprintf("%s%02d", letter, now.Year()%100)
	var last string
	err := q.QueryRowContext(ctx,
		`SELECT job_number FROM bookings WHERE job_number LIKE ?
         ORDER BY CAST(substr(job_number, ?) AS INTEGER) DESC LIMIT 1`,
		prefix+"%", len(prefix)+1).Scan(&last)
	seq := 1
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return "", fmt.Errorf("failed to read last job number: %w", err)
	default:
		n, convErr := strconv.Atoi(strings.TrimPrefix(last, prefix))
		if convErr != nil {
			return "", fmt.Errorf("malformed job number %q: %w", last, convErr)
		}
		seq = n + 1
	}
	return fmt.Sprintf("%s%03d", prefix, seq), nil
}

func encodeFileURLs(urls []string) (string, error) {
	if urls == nil {
		urls = []string{}
	}
	raw, err := json.Marshal(urls)
	if err != nil {
		return "", fmt.Errorf("failed to encode file urls: %w", err)
	}
	return string(raw), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
