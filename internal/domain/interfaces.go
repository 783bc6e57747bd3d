package domain

import (
	"context"
	"io"
	"time"

	"fieldbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Repository is the persistence engine. Capacity arguments are enforced inside the write transaction.
type Repository interface {
	GetBookingsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error)
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	GetBookingByJobNumber(ctx context.Context, jobNumber string) (*models.Booking, error)
	CreateBookingWithLock(ctx context.Context, booking *models.Booking, capacity int) error
	UpdateBookingWithLock(ctx context.Context, id string, patch models.BookingPatch, capacity int) (*models.Booking, error)
	CancelBooking(ctx context.Context, id, reason, actor string) (*models.Booking, error)
	UpdateBookingStatus(ctx context.Context, id string, status models.Status) (*models.Booking, error)
	DeleteBlockedBookings(ctx context.Context, date time.Time) ([]*models.Booking, error)
	AppendBookingFile(ctx context.Context, id, url string) (*models.Booking, error)
}

// BookingStore is the facade the lifecycle controller talks to.
type BookingStore interface {
	FetchRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error)
	Get(ctx context.Context, id string) (*models.Booking, error)
	GetByJobNumber(ctx context.Context, jobNumber string) (*models.Booking, error)
	GetByJobNumberAndEmail(ctx context.Context, jobNumber, email string) (*models.Booking, error)
	Create(ctx context.Context, booking *models.Booking, capacity int) (*models.Booking, error)
	Update(ctx context.Context, id string, patch models.BookingPatch, capacity int) (*models.Booking, error)
	Cancel(ctx context.Context, id, reason, actor string) (*models.Booking, error)
	SetStatus(ctx context.Context, id string, status models.Status) (*models.Booking, error)
	DeleteBlocked(ctx context.Context, date time.Time) ([]*models.Booking, error)
	AppendFile(ctx context.Context, id, url string) (*models.Booking, error)
}

// Outbox accepts lifecycle events for asynchronous delivery.
type Outbox interface {
	Enqueue(ctx context.Context, payload *models.LifecyclePayload) error
}

// NotificationQueue is the durable side of the outbox.
type NotificationQueue interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	GetNotification(ctx context.Context, id int64) (*models.Notification, error)
	GetPendingNotifications(ctx context.Context, limit int) ([]models.Notification, error)
	UpdateNotificationStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
}

// Sender delivers one serialized lifecycle event to an external system.
type Sender interface {
	Name() string
	Send(ctx context.Context, event string, payload []byte) error
}

type FileStorage interface {
	Upload(ctx context.Context, key string, reader io.Reader, contentType string) (string, error)
	List(ctx context.Context, prefix string, limit int) ([]models.FileInfo, error)
}

// SessionRepository keeps short-lived per-session state: the admin block-mode
// selection and fixed-window request counters.
type SessionRepository interface {
	Members(ctx context.Context, sessionID string) ([]string, error)
	Add(ctx context.Context, sessionID, date string) error
	Remove(ctx context.Context, sessionID, date string) error
	Clear(ctx context.Context, sessionID string) error
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}
