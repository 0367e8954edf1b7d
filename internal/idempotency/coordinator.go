package idempotency

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrConflict indicates another execution for the same key is in flight.
// It is not a failure of the underlying action; callers should retry after
// a short delay.
var ErrConflict = errors.New("request already in progress")

// Action produces the serialized result to memoize for a key.
type Action func(ctx context.Context) ([]byte, error)

// CoordinatorConfig tunes lock and retention windows.
type CoordinatorConfig struct {
	// LockTTL bounds the worst-case hold time of a PROCESSING marker so a
	// crashed executor cannot wedge a key permanently. It must exceed the
	// wrapped action's own timeout.
	LockTTL time.Duration
	// Retention is how long a completed result replays to retries.
	Retention time.Duration
	Logger    *slog.Logger
}

// Coordinator guarantees at-most-one in-flight execution per idempotency
// key and memoizes completed results. All mutual exclusion is delegated to
// the store's atomic set-if-absent; no in-memory locks are held.
type Coordinator struct {
	store     Store
	lockTTL   time.Duration
	retention time.Duration
	log       *slog.Logger
}

// NewCoordinator constructs a coordinator with a 30s lock TTL and 24h
// retention unless overridden.
func NewCoordinator(store Store, cfg CoordinatorConfig) *Coordinator {
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		store:     store,
		lockTTL:   lockTTL,
		retention: retention,
		log:       log,
	}
}

// ExecuteOnce runs action at most once per scope:key. Concurrent callers
// for the same key observe either the winner's in-flight marker
// (ErrConflict) or, once it finishes, the memoized payload. A failed
// action releases the key so a later request may re-attempt.
func (c *Coordinator) ExecuteOnce(ctx context.Context, scope, key string, action Action) ([]byte, error) {
	storeKey := scope + ":" + key

	raw, ok, err := c.store.Get(ctx, storeKey)
	if err != nil {
		return nil, err
	}
	if ok {
		return c.replay(storeKey, raw)
	}

	marker, err := Record{State: StateProcessing}.Encode()
	if err != nil {
		return nil, err
	}
	won, err := c.store.SetIfAbsent(ctx, storeKey, marker, c.lockTTL)
	if err != nil {
		return nil, err
	}
	if !won {
		// Lost the race between the read and the conditional write. One
		// re-read decides: the winner may already have finished.
		raw, ok, err := c.store.Get(ctx, storeKey)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrConflict
		}
		return c.replay(storeKey, raw)
	}

	payload, err := action(ctx)
	if err != nil {
		// Release the lock so the key may be re-attempted from scratch.
		if delErr := c.store.Delete(ctx, storeKey); delErr != nil {
			c.log.Error("release idempotency lock", "key", storeKey, "error", delErr)
		}
		return nil, err
	}

	completed, err := Record{State: StateCompleted, Payload: payload}.Encode()
	if err != nil {
		return nil, err
	}
	if err := c.store.SetWithExpiry(ctx, storeKey, completed, c.retention); err != nil {
		if delErr := c.store.Delete(ctx, storeKey); delErr != nil {
			c.log.Error("release idempotency lock", "key", storeKey, "error", delErr)
		}
		return nil, err
	}
	return payload, nil
}

// replay maps an existing record to its caller-visible outcome.
func (c *Coordinator) replay(storeKey, raw string) ([]byte, error) {
	rec, err := DecodeRecord(raw)
	if err != nil {
		return nil, err
	}
	if rec.State == StateProcessing {
		return nil, ErrConflict
	}
	c.log.Debug("idempotent replay", "key", storeKey)
	return rec.Payload, nil
}
