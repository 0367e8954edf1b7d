package payment

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// IntentStatus is the lifecycle status of a payment intent.
type IntentStatus string

const (
	StatusPending   IntentStatus = "pending"
	StatusCompleted IntentStatus = "completed"
	StatusFailed    IntentStatus = "failed"
)

// CreateIntentRequest is the inbound payment request.
type CreateIntentRequest struct {
	Amount     Money  `json:"amount"`
	CustomerID string `json:"customerId"`
}

// Validate enforces the business rules checked before any store or
// breaker interaction.
func (r CreateIntentRequest) Validate() error {
	if err := r.Amount.Validate(); err != nil {
		return err
	}
	if _, err := uuid.Parse(r.CustomerID); err != nil {
		return fmt.Errorf("%w: customerId must be a UUID", ErrInvalidRequest)
	}
	return nil
}

// IntentResponse is the issued payment intent.
type IntentResponse struct {
	PaymentID    string       `json:"paymentId"`
	Status       IntentStatus `json:"status"`
	ClientSecret string       `json:"clientSecret"`
}

// Idempotency keys are time-ordered UUIDv7 values; the pattern pins the
// version nibble to 7 and the variant to RFC 4122.
var idempotencyKeyPattern = regexp.MustCompile(`^(?i)[0-9a-f]{8}-[0-9a-f]{4}-7[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// IsValidIdempotencyKey reports whether key matches the accepted UUIDv7
// format. Keys failing the pattern are rejected before any store access.
func IsValidIdempotencyKey(key string) bool {
	return idempotencyKeyPattern.MatchString(key)
}

// NewIdempotencyKey generates a time-ordered UUIDv7 idempotency key.
func NewIdempotencyKey() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate idempotency key: %w", err)
	}
	return id.String(), nil
}
