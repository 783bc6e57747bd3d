package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fieldbook/internal/models"

	"github.com/google/uuid"
)

func (db *DB) GetCustomerByEmail(ctx context.Context, email string) (*models.Customer, error) {
	var c models.Customer
	var phone sql.NullString
	err := db.QueryRowContext(ctx,
		`SELECT id, email, name, phone, created_at, updated_at FROM customers WHERE email = ?`,
		models.NormalizeEmail(email),
	).Scan(&c.ID, &c.Email, &c.Name, &phone, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	c.Phone = phone.String
	return &c, nil
}

func (db *DB) CountCustomers(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM customers`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count customers: %w", err)
	}
	return n, nil
}

// findOrCreateCustomer reuses the customer keyed by email, inserting one when absent.
// A unique violation means another writer inserted first; its row is reused.
func findOrCreateCustomer(ctx context.Context, q querier, email, name, phone string, now time.Time) (string, error) {
	id, err := customerIDByEmail(ctx, q, email)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to look up customer: %w", err)
	}

	id = uuid.NewString()
	_, err = q.ExecContext(ctx,
		`INSERT INTO customers (id, email, name, phone, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, email, name, nullString(phone), now, now)
	if err == nil {
		return id, nil
	}
	if !isUniqueViolation(err) {
		return "", fmt.Errorf("failed to create customer: %w", err)
	}

	id, err = customerIDByEmail(ctx, q, email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrDuplicateEmail
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up customer after conflict: %w", err)
	}
	return id, nil
}

func customerIDByEmail(ctx context.Context, q querier, email string) (string, error) {
	var id string
	err := q.QueryRowContext(ctx, `SELECT id FROM customers WHERE email = ?`, email).Scan(&id)
	return id, err
}
