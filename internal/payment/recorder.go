package payment

import (
	"context"
	"fmt"
	"sync"
)

// NewInMemoryRecorder constructs an in-memory intent recorder.
func NewInMemoryRecorder() *InMemoryRecorder {
	return &InMemoryRecorder{
		intents: make(map[string]recordedIntent),
	}
}

type recordedIntent struct {
	req    CreateIntentRequest
	status IntentStatus
}

// InMemoryRecorder tracks issued intents in memory. It backs the gateway
// when no database is configured and doubles as a test inspection point.
type InMemoryRecorder struct {
	mu      sync.Mutex
	intents map[string]recordedIntent
}

// RecordIntent stores a freshly issued intent.
func (r *InMemoryRecorder) RecordIntent(_ context.Context, req CreateIntentRequest, res IntentResponse) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents[res.PaymentID] = recordedIntent{req: req, status: res.Status}
	return nil
}

// UpdateIntentStatus transitions a recorded intent's status.
func (r *InMemoryRecorder) UpdateIntentStatus(_ context.Context, paymentID string, status IntentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.intents[paymentID]
	if !ok {
		return fmt.Errorf("intent %s not recorded", paymentID)
	}
	rec.status = status
	r.intents[paymentID] = rec
	return nil
}

// Status returns a recorded intent's status (for testing/inspection).
func (r *InMemoryRecorder) Status(paymentID string) (IntentStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.intents[paymentID]
	return rec.status, ok
}

// Count returns the number of recorded intents (for testing/inspection).
func (r *InMemoryRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.intents)
}
