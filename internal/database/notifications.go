package database

import (
	"context"
	"fmt"
	"time"

	"fieldbook/internal/models"
)

const notificationColumns = `id, event, booking_id, payload, status, retry_count, last_error, created_at, processed_at, next_retry_at`

func (db *DB) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.Status == "" {
		n.Status = models.NotificationPending
	}
	query := `INSERT INTO notification_queue (event, booking_id, payload, status, retry_count, last_error, created_at, next_retry_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	now := db.now()
	result, err := db.ExecContext(ctx, query,
		n.Event,
		n.BookingID,
		n.Payload,
		n.Status,
		n.RetryCount,
		n.LastError,
		now,
		n.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	n.ID = id
	n.CreatedAt = now

	return nil
}

// GetPendingNotifications returns pending or retry rows whose backoff has elapsed, oldest first.
func (db *DB) GetPendingNotifications(ctx context.Context, limit int) ([]models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notification_queue
              WHERE status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)
              ORDER BY id ASC LIMIT ?`
	return db.queryNotifications(ctx, query, models.NotificationPending, models.NotificationRetry, db.now(), limit)
}

func (db *DB) GetNotification(ctx context.Context, id int64) (*models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notification_queue WHERE id = ?`
	out, err := db.queryNotifications(ctx, query, id)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return &out[0], nil
}

// RequeueFailedNotifications moves dead rows back to pending with a fresh retry budget.
func (db *DB) RequeueFailedNotifications(ctx context.Context) (int64, error) {
	res, err := db.ExecContext(ctx, `UPDATE notification_queue
              SET status = ?, retry_count = 0, next_retry_at = NULL, processed_at = NULL
              WHERE status = ?`, models.NotificationPending, models.NotificationFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue notifications: %w", err)
	}
	return res.RowsAffected()
}

func (db *DB) GetFailedNotifications(ctx context.Context) ([]models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notification_queue
              WHERE status = ? ORDER BY id DESC`
	return db.queryNotifications(ctx, query, models.NotificationFailed)
}

func (db *DB) UpdateNotificationStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var lastError *string
	if errMsg != "" {
		lastError = &errMsg
	}

	var query string
	var args []any
	switch status {
	case models.NotificationRetry:
		query = `UPDATE notification_queue SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []any{status, lastError, nextRetryAt, id}
	case models.NotificationCompleted, models.NotificationFailed:
		now := db.now()
		query = `UPDATE notification_queue SET status = ?, last_error = ?, next_retry_at = ?, processed_at = ? WHERE id = ?`
		args = []any{status, lastError, nextRetryAt, now, id}
	default:
		query = `UPDATE notification_queue SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []any{status, lastError, nextRetryAt, id}
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update notification status: %w", err)
	}
	return nil
}

func (db *DB) queryNotifications(ctx context.Context, query string, args ...any) ([]models.Notification, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(
			&n.ID, &n.Event, &n.BookingID, &n.Payload, &n.Status, &n.RetryCount,
			&n.LastError, &n.CreatedAt, &n.ProcessedAt, &n.NextRetryAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
