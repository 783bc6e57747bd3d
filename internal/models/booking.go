package models

import (
	"encoding/json"
	"strings"
	"time"
)

// DateLayout is the civil-date format used for storage, keys and the wire.
const DateLayout = "2006-01-02"

type Status string

const (
	StatusPending     Status = "pending"
	StatusConfirmed   Status = "confirmed"
	StatusCompleted   Status = "completed"
	StatusRescheduled Status = "rescheduled"
	StatusCancelled   Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:     {StatusConfirmed, StatusRescheduled, StatusCompleted, StatusCancelled},
	StatusConfirmed:   {StatusConfirmed, StatusRescheduled, StatusCompleted, StatusCancelled},
	StatusRescheduled: {StatusRescheduled, StatusCompleted, StatusCancelled},
	StatusCompleted:   {},
	StatusCancelled:   {},
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Closed reports whether the booking can no longer be edited.
func (s Status) Closed() bool {
	return s == StatusCancelled || s == StatusCompleted
}

func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type Duration string

const (
	DurationHalfDay Duration = "half-day"
	DurationFullDay Duration = "full-day"
)

func (d Duration) Valid() bool {
	return d == DurationHalfDay || d == DurationFullDay
}

type Role string

const (
	RolePublic Role = "public"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	return r == RolePublic || r == RoleAdmin
}

type Booking struct {
	ID          string    `json:"id"`
	JobNumber   string    `json:"job_number"`
	CustomerID  string    `json:"customer_id,omitempty"`
	Date        time.Time `json:"-"`
	BookingTime *string   `json:"booking_time"`
	Duration    Duration  `json:"duration"`
	Status      Status    `json:"status"`
	IsBlocked   bool      `json:"is_blocked"`

	Service          string `json:"service"`
	CustomerName     string `json:"customer_name"`
	Email            string `json:"email"`
	Phone            string `json:"phone"`
	SiteContactName  string `json:"site_contact_name"`
	SiteContactPhone string `json:"site_contact_phone"`
	Address          string `json:"address"`
	Postcode         string `json:"postcode"`
	ProjectDetails   string `json:"project_details"`
	Notes            string `json:"notes"`

	BillingName      string `json:"billing_name"`
	BillingEmail     string `json:"billing_email"`
	PaymentStatus    string `json:"payment_status"`
	PaymentReference string `json:"payment_reference"`

	FileURLs []string `json:"file_urls"`

	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy        string     `json:"cancelled_by,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`

	RescheduledFrom *time.Time `json:"-"`
	RescheduledTo   *time.Time `json:"-"`
	RescheduledAt   *time.Time `json:"rescheduled_at,omitempty"`
	RescheduledBy   string     `json:"rescheduled_by,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DateKey returns the booking date formatted as YYYY-MM-DD.
func (b *Booking) DateKey() string {
	return b.Date.Format(DateLayout)
}

// Occupies reports whether the row consumes a slot on its date.
func (b *Booking) Occupies() bool {
	return b.Status != StatusCancelled
}

func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	c := *b
	if b.BookingTime != nil {
		t := *b.BookingTime
		c.BookingTime = &t
	}
	c.FileURLs = append([]string(nil), b.FileURLs...)
	return &c
}

type bookingAlias Booking

type bookingJSON struct {
	*bookingAlias
	Date            string `json:"date"`
	RescheduledFrom string `json:"rescheduled_from,omitempty"`
	RescheduledTo   string `json:"rescheduled_to,omitempty"`
}

func (b Booking) MarshalJSON() ([]byte, error) {
	alias := bookingAlias(b)
	if alias.FileURLs == nil {
		alias.FileURLs = []string{}
	}
	out := bookingJSON{bookingAlias: &alias, Date: formatDate(b.Date)}
	if b.RescheduledFrom != nil {
		out.RescheduledFrom = formatDate(*b.RescheduledFrom)
	}
	if b.RescheduledTo != nil {
		out.RescheduledTo = formatDate(*b.RescheduledTo)
	}
	return json.Marshal(out)
}

func (b *Booking) UnmarshalJSON(data []byte) error {
	in := bookingJSON{bookingAlias: (*bookingAlias)(b)}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	var err error
	if b.Date, err = parseOptionalDate(in.Date); err != nil {
		return err
	}
	if in.RescheduledFrom != "" {
		d, err := time.Parse(DateLayout, in.RescheduledFrom)
		if err != nil {
			return err
		}
		b.RescheduledFrom = &d
	}
	if in.RescheduledTo != "" {
		d, err := time.Parse(DateLayout, in.RescheduledTo)
		if err != nil {
			return err
		}
		b.RescheduledTo = &d
	}
	return nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

func parseOptionalDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(DateLayout, s)
}

type Customer struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NormalizeEmail trims and lower-cases an address so that customers are keyed consistently.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// FileInfo describes an uploaded attachment.
type FileInfo struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}
