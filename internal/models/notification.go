package models

import "time"

// Notification is a queued lifecycle event waiting for delivery.
type Notification struct {
	ID          int64      `json:"id"`
	Event       string     `json:"event"`
	BookingID   string     `json:"booking_id"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	LastError   *string    `json:"last_error"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at"`
	NextRetryAt *time.Time `json:"next_retry_at"`
}

// LifecyclePayload is the JSON document handed to every sink.
type LifecyclePayload struct {
	Event         string         `json:"event"`
	Booking       *Booking       `json:"booking,omitempty"`
	Date          string         `json:"date,omitempty"`
	Actor         string         `json:"actor,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	ChangedFields []string       `json:"changed_fields,omitempty"`
	OldValues     map[string]any `json:"old_values,omitempty"`
	NewValues     map[string]any `json:"new_values,omitempty"`
	RemovedIDs    []string       `json:"removed_ids,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
}
