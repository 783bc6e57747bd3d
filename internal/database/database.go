package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

var (
	ErrNotFound               = errors.New("record not found")
	ErrCapacityExceeded       = errors.New("date capacity exceeded")
	ErrDuplicateEmail         = errors.New("customer email already registered")
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// capacityTriggerMessage is raised by the schema triggers below.
const capacityTriggerMessage = "date capacity exceeded"

// hardCapacity is the absolute number of live rows a date may hold.
const hardCapacity = 2

type DB struct {
	*sql.DB
	logger *zerolog.Logger
	loc    *time.Location
	now    func() time.Time
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	memory := path == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := path + "?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on"
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if memory {
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{DB: sqlDB, logger: logger, loc: time.Local, now: time.Now}, nil
}

// SetLocation sets the zone civil dates are parsed into.
func (db *DB) SetLocation(loc *time.Location) {
	if loc != nil {
		db.loc = loc
	}
}

// SetClock overrides the clock used for timestamps and job numbers.
func (db *DB) SetClock(now func() time.Time) {
	if now != nil {
		db.now = now
	}
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS customers (
            id TEXT PRIMARY KEY,
            email TEXT NOT NULL UNIQUE,
            name TEXT NOT NULL,
            phone TEXT,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id TEXT PRIMARY KEY,
            job_number TEXT NOT NULL UNIQUE,
            customer_id TEXT REFERENCES customers(id),
            date TEXT NOT NULL,
            booking_time TEXT,
            duration TEXT NOT NULL,
            status TEXT NOT NULL,
            is_blocked INTEGER NOT NULL DEFAULT 0,
            service TEXT NOT NULL,
            customer_name TEXT NOT NULL,
            email TEXT NOT NULL,
            phone TEXT NOT NULL,
            site_contact_name TEXT NOT NULL DEFAULT '',
            site_contact_phone TEXT NOT NULL DEFAULT '',
            address TEXT NOT NULL,
            postcode TEXT NOT NULL,
            project_details TEXT NOT NULL DEFAULT '',
            notes TEXT NOT NULL DEFAULT '',
            billing_name TEXT NOT NULL DEFAULT '',
            billing_email TEXT NOT NULL DEFAULT '',
            payment_status TEXT NOT NULL DEFAULT 'unpaid',
            payment_reference TEXT NOT NULL DEFAULT '',
            file_urls TEXT NOT NULL DEFAULT '[]',
            cancelled_at DATETIME,
            cancelled_by TEXT,
            cancellation_reason TEXT,
            rescheduled_from TEXT,
            rescheduled_to TEXT,
            rescheduled_at DATETIME,
            rescheduled_by TEXT,
            version INTEGER NOT NULL DEFAULT 1,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            CHECK (NOT (is_blocked = 1 AND status = 'cancelled'))
        )`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_date ON bookings(date)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_customer_id ON bookings(customer_id)`,

		// Authoritative slot cap: no date ever holds more than two live rows.
		fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS trg_bookings_capacity_insert
            BEFORE INSERT ON bookings
            WHEN NEW.status != 'cancelled' AND
                (SELECT COUNT(*) FROM bookings WHERE date = NEW.date AND status != 'cancelled') >= %d
            BEGIN
                SELECT RAISE(ABORT, '%s');
            END`, hardCapacity, capacityTriggerMessage),
		fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS trg_bookings_capacity_update
            BEFORE UPDATE OF date ON bookings
            WHEN NEW.date != OLD.date AND NEW.status != 'cancelled' AND
                (SELECT COUNT(*) FROM bookings WHERE date = NEW.date AND status != 'cancelled' AND id != NEW.id) >= %d
            BEGIN
                SELECT RAISE(ABORT, '%s');
            END`, hardCapacity, capacityTriggerMessage),

		`CREATE TABLE IF NOT EXISTS notification_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            event TEXT NOT NULL,
            booking_id TEXT NOT NULL DEFAULT '',
            payload TEXT NOT NULL,
            status TEXT NOT NULL,
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,
		`CREATE INDEX IF NOT EXISTS idx_notification_queue_status ON notification_queue(status, next_retry_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

func isCapacityError(err error) bool {
	return err != nil && strings.Contains(err.Error(), capacityTriggerMessage)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
