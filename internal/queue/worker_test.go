package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}

func listLen(srv *miniredis.Miniredis, key string) int {
	entries, err := srv.List(key)
	if err != nil {
		return 0
	}
	return len(entries)
}

func TestWorkerProcessesAndAcks(t *testing.T) {
	q, srv := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var processed atomic.Int32
	var handled atomic.Int32
	w := NewWorker(q, WorkerConfig{
		PollTimeout: 50 * time.Millisecond,
		OnProcessed: func() { processed.Add(1) },
	})
	w.Handle("webhook-processing", func(ctx context.Context, job Job) error {
		if string(job.Payload) != `{"type":"x"}` {
			t.Errorf("unexpected payload: %s", job.Payload)
		}
		handled.Add(1)
		return nil
	})
	go w.Run(ctx)

	if _, err := q.Enqueue(ctx, "webhook-processing", []byte(`{"type":"x"}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, func() bool { return processed.Load() == 1 }, "job processed")
	if handled.Load() != 1 {
		t.Fatalf("expected one handler call, got %d", handled.Load())
	}
	if n := listLen(srv, "queue:payment-jobs:active"); n != 0 {
		t.Fatalf("expected empty active list, got %d", n)
	}
	if n := listLen(srv, "queue:payment-jobs:dead"); n != 0 {
		t.Fatalf("expected empty dead list, got %d", n)
	}
}

func TestWorkerRetriesThenSucceeds(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var processed atomic.Int32
	var attempts atomic.Int32
	w := NewWorker(q, WorkerConfig{
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
		PollTimeout: 50 * time.Millisecond,
		OnProcessed: func() { processed.Add(1) },
	})
	w.Handle("webhook-processing", func(ctx context.Context, job Job) error {
		if attempts.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})
	go w.Run(ctx)

	if _, err := q.Enqueue(ctx, "webhook-processing", nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, func() bool { return processed.Load() == 1 }, "job processed")
	if attempts.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestWorkerBuriesExhaustedJobs(t *testing.T) {
	q, srv := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var buried atomic.Int32
	var attempts atomic.Int32
	w := NewWorker(q, WorkerConfig{
		MaxAttempts: 2,
		Backoff:     time.Millisecond,
		PollTimeout: 50 * time.Millisecond,
		OnBuried:    func() { buried.Add(1) },
	})
	w.Handle("webhook-processing", func(ctx context.Context, job Job) error {
		attempts.Add(1)
		return errors.New("permanent")
	})
	go w.Run(ctx)

	if _, err := q.Enqueue(ctx, "webhook-processing", nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, func() bool { return buried.Load() == 1 }, "job buried")
	if attempts.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts.Load())
	}
	if n := listLen(srv, "queue:payment-jobs:dead"); n != 1 {
		t.Fatalf("expected 1 dead-letter entry, got %d", n)
	}
	if n := listLen(srv, "queue:payment-jobs:active"); n != 0 {
		t.Fatalf("expected empty active list, got %d", n)
	}
}

func TestWorkerBuriesUnroutableJobs(t *testing.T) {
	q, srv := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var buried atomic.Int32
	w := NewWorker(q, WorkerConfig{
		PollTimeout: 50 * time.Millisecond,
		OnBuried:    func() { buried.Add(1) },
	})
	go w.Run(ctx)

	if _, err := q.Enqueue(ctx, "unknown-job", nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, func() bool { return buried.Load() == 1 }, "job buried")
	if n := listLen(srv, "queue:payment-jobs:dead"); n != 1 {
		t.Fatalf("expected 1 dead-letter entry, got %d", n)
	}
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())

	w := NewWorker(q, WorkerConfig{PollTimeout: 20 * time.Millisecond})
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop on cancel")
	}
}
