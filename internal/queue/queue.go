package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrQueueUnavailable indicates the queue backend is unreachable.
var ErrQueueUnavailable = errors.New("dispatch queue unavailable")

// Job is the unit of background work carried by the queue.
type Job struct {
	ID         string    `msgpack:"id"`
	Name       string    `msgpack:"name"`
	Payload    []byte    `msgpack:"payload"`
	EnqueuedAt time.Time `msgpack:"enqueued_at"`
}

// JobHandle acknowledges an accepted job.
type JobHandle struct {
	ID string
}

// Enqueuer accepts work items for guaranteed background processing. The
// request path treats enqueue as fire-and-forget: no completion signal is
// awaited.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload []byte) (JobHandle, error)
}

// RedisListCmds is the minimal client surface used by RedisQueue.
// *redis.Client satisfies it.
type RedisListCmds interface {
	LPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	BRPopLPush(ctx context.Context, source, destination string, timeout time.Duration) *redis.StringCmd
	LRem(ctx context.Context, key string, count int64, value any) *redis.IntCmd
}

// RedisQueue is a durable work queue on Redis lists. Jobs move from the
// pending list to an active list on dequeue so a crashed worker leaves the
// job recoverable; completed jobs are removed, exhausted jobs land on a
// dead-letter list.
type RedisQueue struct {
	client     RedisListCmds
	pendingKey string
	activeKey  string
	deadKey    string
}

// NewRedisQueue constructs a queue named name (e.g. "payment-jobs").
func NewRedisQueue(client RedisListCmds, name string) *RedisQueue {
	if name == "" {
		name = "payment-jobs"
	}
	base := "queue:" + name
	return &RedisQueue{
		client:     client,
		pendingKey: base,
		activeKey:  base + ":active",
		deadKey:    base + ":dead",
	}
}

// Enqueue pushes a job onto the pending list.
func (q *RedisQueue) Enqueue(ctx context.Context, name string, payload []byte) (JobHandle, error) {
	job := Job{
		ID:         uuid.NewString(),
		Name:       name,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}
	raw, err := msgpack.Marshal(job)
	if err != nil {
		return JobHandle{}, fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.pendingKey, raw).Err(); err != nil {
		return JobHandle{}, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return JobHandle{ID: job.ID}, nil
}

// Dequeue blocks up to timeout for the next job, moving it to the active
// list. It returns ok=false when the wait elapsed with no work.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (Job, []byte, bool, error) {
	raw, err := q.client.BRPopLPush(ctx, q.pendingKey, q.activeKey, timeout).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Job{}, nil, false, nil
		}
		if ctx.Err() != nil {
			return Job{}, nil, false, ctx.Err()
		}
		return Job{}, nil, false, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	var job Job
	if err := msgpack.Unmarshal(raw, &job); err != nil {
		// Undecodable entries cannot be retried meaningfully; park them.
		_ = q.client.LRem(ctx, q.activeKey, 1, raw).Err()
		_ = q.client.LPush(ctx, q.deadKey, raw).Err()
		return Job{}, nil, false, fmt.Errorf("unmarshal job: %w", err)
	}
	return job, raw, true, nil
}

// Ack removes a completed job from the active list.
func (q *RedisQueue) Ack(ctx context.Context, raw []byte) error {
	if err := q.client.LRem(ctx, q.activeKey, 1, raw).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return nil
}

// Bury moves an exhausted job from the active list to the dead-letter
// list for offline inspection.
func (q *RedisQueue) Bury(ctx context.Context, raw []byte) error {
	if err := q.client.LRem(ctx, q.activeKey, 1, raw).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	if err := q.client.LPush(ctx, q.deadKey, raw).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return nil
}
