package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"payflow/internal/queue"
)

// StatusStore applies webhook-driven status transitions to recorded
// intents.
type StatusStore interface {
	UpdateIntentStatus(ctx context.Context, paymentID string, status IntentStatus) error
}

// Webhook event types recognized by the processor.
const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
)

type webhookData struct {
	PaymentID string `json:"paymentId"`
}

// WebhookProcessor consumes webhook-processing jobs from the dispatch
// queue. Errors propagate to the worker, which retries with backoff and
// dead-letters the job once attempts are exhausted.
type WebhookProcessor struct {
	statuses StatusStore
	notify   func(event WebhookEvent)
	log      *slog.Logger
}

// NewWebhookProcessor constructs a processor. notify may be nil; when set
// it is invoked after each successfully applied event.
func NewWebhookProcessor(statuses StatusStore, notify func(event WebhookEvent), log *slog.Logger) *WebhookProcessor {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookProcessor{
		statuses: statuses,
		notify:   notify,
		log:      log,
	}
}

// Process handles one queued webhook job.
func (p *WebhookProcessor) Process(ctx context.Context, job queue.Job) error {
	var event WebhookEvent
	if err := json.Unmarshal(job.Payload, &event); err != nil {
		return fmt.Errorf("decode webhook event: %w", err)
	}

	switch event.Type {
	case EventIntentSucceeded:
		if err := p.applyStatus(ctx, event, StatusCompleted); err != nil {
			return err
		}
	case EventIntentFailed:
		if err := p.applyStatus(ctx, event, StatusFailed); err != nil {
			return err
		}
	default:
		// Unrecognized events are acknowledged, not retried.
		p.log.Info("ignoring webhook event", "type", event.Type, "job_id", job.ID)
		return nil
	}

	if p.notify != nil {
		p.notify(event)
	}
	return nil
}

func (p *WebhookProcessor) applyStatus(ctx context.Context, event WebhookEvent, status IntentStatus) error {
	var data webhookData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return fmt.Errorf("decode webhook data: %w", err)
	}
	if data.PaymentID == "" {
		return fmt.Errorf("webhook event %s missing paymentId", event.Type)
	}
	if err := p.statuses.UpdateIntentStatus(ctx, data.PaymentID, status); err != nil {
		return fmt.Errorf("apply %s to %s: %w", status, data.PaymentID, err)
	}
	p.log.Info("webhook applied", "type", event.Type, "payment_id", data.PaymentID, "status", status)
	return nil
}
