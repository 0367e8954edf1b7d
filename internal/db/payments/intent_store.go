package paymentsdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// IntentRow is the persisted shape of an issued payment intent. Amounts
// are minor-unit decimal strings; no float column exists anywhere.
type IntentRow struct {
	PaymentID   string
	CustomerID  string
	Currency    string
	AmountMinor string
	Status      string
}

// ErrDuplicateIntent signals a payment ID that was already recorded.
var ErrDuplicateIntent = errors.New("payment intent already recorded")

// ErrIntentNotFound signals a payment ID with no recorded intent.
var ErrIntentNotFound = errors.New("payment intent not found")

// IntentStore persists issued payment intents in Postgres.
type IntentStore struct {
	db *sql.DB
}

// NewIntentStore constructs a store over an open connection.
func NewIntentStore(db *sql.DB) *IntentStore {
	return &IntentStore{db: db}
}

// NewIntentStoreWithSchema initializes the schema then returns the store.
func NewIntentStoreWithSchema(ctx context.Context, db *sql.DB) (*IntentStore, error) {
	store := NewIntentStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the payment_intents table if it does not exist.
func (s *IntentStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS payment_intents (
			payment_id TEXT PRIMARY KEY,
			customer_id TEXT NOT NULL,
			currency TEXT NOT NULL,
			amount_minor TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

// Insert records a freshly issued intent.
func (s *IntentStore) Insert(ctx context.Context, row IntentRow) error {
	if row.PaymentID == "" {
		return fmt.Errorf("payment id required")
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_intents (payment_id, customer_id, currency, amount_minor, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (payment_id) DO NOTHING`,
		row.PaymentID, row.CustomerID, row.Currency, row.AmountMinor, row.Status)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrDuplicateIntent
	}
	return nil
}

// UpdateStatus transitions an intent to the given status.
func (s *IntentStore) UpdateStatus(ctx context.Context, paymentID, status string) error {
	if paymentID == "" {
		return fmt.Errorf("payment id required")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE payment_intents SET status = $2, updated_at = NOW() WHERE payment_id = $1`,
		paymentID, status)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrIntentNotFound
	}
	return nil
}

// Get returns the recorded intent for a payment ID.
func (s *IntentStore) Get(ctx context.Context, paymentID string) (IntentRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT payment_id, customer_id, currency, amount_minor, status
		FROM payment_intents WHERE payment_id = $1`, paymentID)

	var out IntentRow
	switch err := row.Scan(&out.PaymentID, &out.CustomerID, &out.Currency, &out.AmountMinor, &out.Status); err {
	case nil:
		return out, nil
	case sql.ErrNoRows:
		return IntentRow{}, ErrIntentNotFound
	default:
		return IntentRow{}, err
	}
}
