package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"payflow/internal/idempotency"
	"payflow/internal/queue"
	"payflow/internal/resilience"
)

// ScopePaymentInit namespaces idempotency records for intent issuance.
const ScopePaymentInit = "PAYMENT_INIT"

// JobWebhookProcessing names the background job carrying webhook events.
const JobWebhookProcessing = "webhook-processing"

// WebhookEvent is the payload handed to the dispatch queue.
type WebhookEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// WebhookAck is the synchronous reply for an accepted webhook.
type WebhookAck struct {
	Received bool `json:"received"`
}

// Orchestrator is the top-level entry point for the payment core. It
// composes idempotency coordination and the breaker-wrapped gateway for
// intent issuance, and the dispatch queue for webhook events.
type Orchestrator struct {
	coord   *idempotency.Coordinator
	breaker *resilience.Breaker
	gateway Gateway
	queue   queue.Enqueuer
	log     *slog.Logger
}

// NewOrchestrator wires the orchestrator from its collaborators. All are
// constructed at process start and injected; none are ambient state.
func NewOrchestrator(coord *idempotency.Coordinator, breaker *resilience.Breaker, gateway Gateway, enqueuer queue.Enqueuer, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		coord:   coord,
		breaker: breaker,
		gateway: gateway,
		queue:   enqueuer,
		log:     log,
	}
}

// CreateIntent issues a payment intent exactly once per idempotency key.
// Repeated calls with the same key replay the memoized response;
// concurrent calls race for a single execution slot and the losers
// observe a conflict.
func (o *Orchestrator) CreateIntent(ctx context.Context, req CreateIntentRequest, idempotencyKey string) (IntentResponse, error) {
	if !IsValidIdempotencyKey(idempotencyKey) {
		return IntentResponse{}, fmt.Errorf("%w: idempotency key must be a UUIDv7", ErrInvalidRequest)
	}
	if err := req.Validate(); err != nil {
		return IntentResponse{}, err
	}

	o.log.Info("creating payment intent", "idempotency_key", idempotencyKey, "currency", req.Amount.Currency)

	payload, err := o.coord.ExecuteOnce(ctx, ScopePaymentInit, idempotencyKey, func(ctx context.Context) ([]byte, error) {
		return o.callGateway(ctx, req)
	})
	if err != nil {
		return IntentResponse{}, err
	}

	var res IntentResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return IntentResponse{}, fmt.Errorf("%w: decode memoized intent: %v", idempotency.ErrCorruptRecord, err)
	}
	return res, nil
}

// callGateway fires the breaker-wrapped gateway call and serializes the
// result for memoization.
func (o *Orchestrator) callGateway(ctx context.Context, req CreateIntentRequest) ([]byte, error) {
	val, err := o.breaker.Fire(ctx, func(ctx context.Context) (any, error) {
		return o.gateway.CreateIntent(ctx, req)
	})
	if err != nil {
		if errors.Is(err, ErrServiceUnavailable) ||
			errors.Is(err, resilience.ErrCircuitOpen) ||
			errors.Is(err, resilience.ErrActionTimeout) {
			return nil, err
		}
		if errors.Is(err, ErrGatewayFailure) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrGatewayFailure, err)
	}
	res, ok := val.(IntentResponse)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected gateway result %T", ErrGatewayFailure, val)
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("marshal intent: %w", err)
	}
	return raw, nil
}

// HandleWebhook hands the event to the dispatch queue and acknowledges
// receipt immediately; processing, retries, and dead-lettering happen in
// the background.
func (o *Orchestrator) HandleWebhook(ctx context.Context, eventType string, data json.RawMessage) (WebhookAck, error) {
	payload, err := json.Marshal(WebhookEvent{Type: eventType, Data: data})
	if err != nil {
		return WebhookAck{}, fmt.Errorf("marshal webhook event: %w", err)
	}
	handle, err := o.queue.Enqueue(ctx, JobWebhookProcessing, payload)
	if err != nil {
		return WebhookAck{}, err
	}
	o.log.Debug("webhook queued", "type", eventType, "job_id", handle.ID)
	return WebhookAck{Received: true}, nil
}

// GatewayFallback is the payment path's breaker fallback. Rejections and
// timeouts surface the distinguished service unavailable condition;
// ordinary gateway errors remain gateway failures so callers can retry
// immediately.
func GatewayFallback(err error) (any, error) {
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrActionTimeout) {
		return nil, ErrServiceUnavailable
	}
	return nil, fmt.Errorf("%w: %v", ErrGatewayFailure, err)
}
