package idempotency

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable indicates the coordination store itself is
// unreachable. No safe idempotent path exists without the store, so this
// is fatal to the request and must never be treated as "key absent".
var ErrStoreUnavailable = errors.New("idempotency store unavailable")

// Store is the conditional key-value surface the coordinator depends on.
// Values are opaque strings. SetIfAbsent is the sole linearization point
// deciding which of N concurrent callers becomes the executor for a key.
type Store interface {
	// Get returns the value for key, or ok=false when absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// SetIfAbsent atomically writes value with a TTL only when key has no
	// current value, reporting whether the write won.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// SetWithExpiry unconditionally writes value with a TTL.
	SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes the key.
	Delete(ctx context.Context, key string) error
}
