package payment

import (
	"context"
	"database/sql"
	"log"
	"time"

	paymentsdb "payflow/internal/db/payments"
)

// postgresRecorder adapts the Postgres intent store to the gateway's
// recorder and the webhook processor's status store.
type postgresRecorder struct {
	store *paymentsdb.IntentStore
}

func (r postgresRecorder) RecordIntent(ctx context.Context, req CreateIntentRequest, res IntentResponse) error {
	return r.store.Insert(ctx, paymentsdb.IntentRow{
		PaymentID:   res.PaymentID,
		CustomerID:  req.CustomerID,
		Currency:    req.Amount.Currency,
		AmountMinor: req.Amount.Amount,
		Status:      string(res.Status),
	})
}

func (r postgresRecorder) UpdateIntentStatus(ctx context.Context, paymentID string, status IntentStatus) error {
	return r.store.UpdateStatus(ctx, paymentID, string(status))
}

// BuildGateway wires the gateway and its intent persistence from config
// (Postgres DSN and logger). If the DSN is empty or initialization fails,
// it falls back to in-memory recording. The returned cleanup closes any
// external resources.
func BuildGateway(ctx context.Context, dsn string, logf func(format string, args ...any)) (Gateway, StatusStore, func()) {
	if logf == nil {
		logf = log.Printf
	}

	cleanup := func() {}
	memory := NewInMemoryRecorder()
	var recorder IntentRecorder = memory
	var statuses StatusStore = memory

	if dsn != "" {
		sqlDB, err := sql.Open("pgx", dsn)
		if err != nil {
			logf("postgres open failed, falling back to in-memory intents: %v", err)
		} else {
			setupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			store, err := paymentsdb.NewIntentStoreWithSchema(setupCtx, sqlDB)
			if err != nil {
				logf("postgres init failed, falling back to in-memory intents: %v", err)
				_ = sqlDB.Close()
			} else {
				logf("postgres intent store enabled")
				pg := postgresRecorder{store: store}
				recorder = pg
				statuses = pg
				cleanup = func() {
					if err := sqlDB.Close(); err != nil {
						logf("close postgres: %v", err)
					}
				}
			}
		}
	}

	return NewMockGateway(recorder), statuses, cleanup
}
