package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Gateway issues payment intents with a downstream provider. The core
// treats it as an opaque asynchronous call subject to the breaker's
// timeout.
type Gateway interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (IntentResponse, error)
}

// IntentRecorder persists issued intents. Recording is best-effort from
// the gateway's perspective; the intent is the durable source of truth on
// the provider side.
type IntentRecorder interface {
	RecordIntent(ctx context.Context, req CreateIntentRequest, res IntentResponse) error
}

// MockGateway stands in for a real provider: it mints an intent with a
// fresh payment ID and a pending status, optionally recording it.
type MockGateway struct {
	recorder IntentRecorder
}

// NewMockGateway constructs the mock provider. recorder may be nil.
func NewMockGateway(recorder IntentRecorder) *MockGateway {
	return &MockGateway{recorder: recorder}
}

// CreateIntent issues a new pending intent.
func (g *MockGateway) CreateIntent(ctx context.Context, req CreateIntentRequest) (IntentResponse, error) {
	if err := ctx.Err(); err != nil {
		return IntentResponse{}, err
	}
	paymentID := uuid.NewString()
	res := IntentResponse{
		PaymentID:    paymentID,
		Status:       StatusPending,
		ClientSecret: fmt.Sprintf("pi_%s_secret_%s", paymentID, uuid.NewString()[:8]),
	}
	if g.recorder != nil {
		if err := g.recorder.RecordIntent(ctx, req, res); err != nil {
			return IntentResponse{}, fmt.Errorf("record intent: %w", err)
		}
	}
	return res, nil
}
