package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"payflow/internal/resilience"
)

// Handler processes one job. A nil return acknowledges the job.
type Handler func(ctx context.Context, job Job) error

// WorkerConfig tunes the background consumer.
type WorkerConfig struct {
	// Concurrency is the number of consumer goroutines (default 1).
	Concurrency int
	// MaxAttempts is the delivery attempt limit per job (default 3).
	MaxAttempts int
	// Backoff is the initial retry delay, doubled per attempt (default 1s).
	Backoff time.Duration
	// PollTimeout bounds each blocking dequeue wait (default 2s).
	PollTimeout time.Duration
	Logger      *slog.Logger
	// OnProcessed and OnBuried, when set, are called after a job is
	// acknowledged or dead-lettered.
	OnProcessed func()
	OnBuried    func()
}

// Worker consumes jobs from a RedisQueue and dispatches them to
// registered handlers with bounded retries and exponential backoff.
// Failures past the attempt limit are reported to the dead-letter list
// and are invisible to the synchronous request path.
type Worker struct {
	queue       *RedisQueue
	handlers    map[string]Handler
	retry       resilience.RetryPolicy
	concurrency int
	pollTimeout time.Duration
	log         *slog.Logger
	onProcessed func()
	onBuried    func()
}

// NewWorker constructs a worker over q.
func NewWorker(q *RedisQueue, cfg WorkerConfig) *Worker {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 3
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 2 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		queue:    q,
		handlers: make(map[string]Handler),
		retry: resilience.RetryPolicy{
			MaxAttempts: attempts,
			BaseDelay:   backoff,
		},
		concurrency: concurrency,
		pollTimeout: pollTimeout,
		log:         log,
		onProcessed: cfg.OnProcessed,
		onBuried:    cfg.OnBuried,
	}
}

// Handle registers the handler for a job name. Registration must finish
// before Run is called.
func (w *Worker) Handle(name string, h Handler) {
	w.handlers[name] = h
}

// Run consumes jobs until the context ends.
func (w *Worker) Run(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		go w.consume(ctx)
	}
	<-ctx.Done()
}

func (w *Worker) consume(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, raw, ok, err := w.queue.Dequeue(ctx, w.pollTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.log.Warn("dequeue failed", "error", err)
			_ = resilience.SleepWithContext(ctx, w.pollTimeout)
			continue
		}
		if !ok {
			continue
		}
		w.process(ctx, job, raw)
	}
}

// process runs the job through its handler with retries, then settles it.
func (w *Worker) process(ctx context.Context, job Job, raw []byte) {
	handler, ok := w.handlers[job.Name]
	if !ok {
		w.log.Error("no handler for job", "job", job.Name, "id", job.ID)
		w.bury(ctx, job, raw)
		return
	}

	err := w.retry.Do(ctx, func() error {
		return handler(ctx, job)
	})
	if err != nil {
		w.log.Error("job exhausted retries", "job", job.Name, "id", job.ID, "error", err)
		w.bury(ctx, job, raw)
		return
	}
	if ackErr := w.queue.Ack(ctx, raw); ackErr != nil {
		w.log.Error("ack job", "id", job.ID, "error", ackErr)
	}
	if w.onProcessed != nil {
		w.onProcessed()
	}
}

func (w *Worker) bury(ctx context.Context, job Job, raw []byte) {
	if err := w.queue.Bury(ctx, raw); err != nil {
		w.log.Error("bury job", "id", job.ID, "error", err)
	}
	if w.onBuried != nil {
		w.onBuried()
	}
}
