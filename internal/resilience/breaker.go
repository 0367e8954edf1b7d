package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen indicates the circuit breaker is open and the call was
// rejected without invoking the action.
var ErrCircuitOpen = errors.New("circuit breaker open")

// ErrActionTimeout indicates the wrapped action did not settle within the
// breaker's timeout. The action's eventual result, if any, is discarded.
var ErrActionTimeout = errors.New("circuit breaker action timeout")

// State is the breaker's protective state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the conventional name for the state.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Event names the observable breaker occurrences. Events are emitted for
// monitoring only and never affect call outcomes.
type Event string

const (
	EventFired    Event = "fired"
	EventSuccess  Event = "success"
	EventFailure  Event = "failure"
	EventTimeout  Event = "timeout"
	EventRejected Event = "rejected"
	EventOpened   Event = "opened"
	EventClosed   Event = "closed"
	EventHalfOpen Event = "half-open"
	EventFallback Event = "fallback"
)

// Action is an asynchronous call protected by the breaker.
type Action func(ctx context.Context) (any, error)

// Fallback replaces the visible outcome when a call is rejected, times out,
// or fails. It receives the original error.
type Fallback func(err error) (any, error)

// Options configures a Breaker. Zero values fall back to defaults matching
// the generic profile: 10s timeout, 50% error threshold, 30s reset, a 10s
// rolling window split into 10 buckets, and a volume threshold of 5.
type Options struct {
	Name                     string
	Timeout                  time.Duration
	ErrorThresholdPercentage int
	ResetTimeout             time.Duration
	VolumeThreshold          int
	RollingWindow            time.Duration
	RollingBuckets           int
	Disabled                 bool
	Fallback                 Fallback
	OnEvent                  func(name string, event Event)
	Now                      func() time.Time
}

type bucket struct {
	attempts int
	failures int
	timeouts int
}

// Breaker wraps an arbitrary asynchronous action with a three-state
// protective envelope. Statistics are process-local: each instance makes
// independent open/close decisions.
type Breaker struct {
	name            string
	timeout         time.Duration
	resetTimeout    time.Duration
	errorThreshold  int
	volumeThreshold int
	bucketSpan      time.Duration
	enabled         bool
	fallback        Fallback
	onEvent         func(name string, event Event)
	now             func() time.Time

	mu            sync.Mutex
	state         State
	openedAt      time.Time
	probeInFlight bool
	buckets       []bucket
	cursor        int
	rotatedAt     time.Time
}

// NewBreaker constructs a breaker with sane defaults.
func NewBreaker(opts Options) *Breaker {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	threshold := opts.ErrorThresholdPercentage
	if threshold <= 0 {
		threshold = 50
	}
	resetTimeout := opts.ResetTimeout
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	volume := opts.VolumeThreshold
	if volume <= 0 {
		volume = 5
	}
	window := opts.RollingWindow
	if window <= 0 {
		window = 10 * time.Second
	}
	bucketCount := opts.RollingBuckets
	if bucketCount <= 0 {
		bucketCount = 10
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Breaker{
		name:            opts.Name,
		timeout:         timeout,
		resetTimeout:    resetTimeout,
		errorThreshold:  threshold,
		volumeThreshold: volume,
		bucketSpan:      window / time.Duration(bucketCount),
		enabled:         !opts.Disabled,
		fallback:        opts.Fallback,
		onEvent:         opts.OnEvent,
		now:             now,
		state:           StateClosed,
		buckets:         make([]bucket, bucketCount),
		rotatedAt:       now(),
	}
}

// Name returns the breaker's service name.
func (b *Breaker) Name() string { return b.name }

// State returns the current protective state, applying any pending
// OPEN -> HALF_OPEN transition first.
func (b *Breaker) State() State {
	b.mu.Lock()
	event := b.maybeHalfOpen(b.now())
	state := b.state
	b.mu.Unlock()
	b.emit(event)
	return state
}

// Fire invokes the action unless the breaker is open. It enforces the
// configured timeout; a timed-out action's eventual result is discarded.
// When a fallback is registered its outcome replaces rejection, timeout
// and failure errors.
func (b *Breaker) Fire(ctx context.Context, action Action) (any, error) {
	if !b.enabled {
		return action(ctx)
	}

	now := b.now()

	b.mu.Lock()
	b.rotate(now)
	halfOpenEvent := b.maybeHalfOpen(now)

	switch b.state {
	case StateOpen:
		b.mu.Unlock()
		b.emit(EventRejected)
		return b.recover(ErrCircuitOpen)
	case StateHalfOpen:
		if b.probeInFlight {
			b.mu.Unlock()
			b.emit(halfOpenEvent)
			b.emit(EventRejected)
			return b.recover(ErrCircuitOpen)
		}
		b.probeInFlight = true
	}
	b.buckets[b.cursor].attempts++
	b.mu.Unlock()
	b.emit(halfOpenEvent)

	b.emit(EventFired)
	val, err, timedOut := b.run(ctx, action)
	b.settle(err, timedOut)

	if err != nil {
		if timedOut {
			b.emit(EventTimeout)
		} else {
			b.emit(EventFailure)
		}
		return b.recover(err)
	}
	b.emit(EventSuccess)
	return val, nil
}

type fireResult struct {
	val any
	err error
}

// run executes the action under the breaker timeout. The result channel is
// buffered so a late action can still complete its send and be collected.
func (b *Breaker) run(ctx context.Context, action Action) (any, error, bool) {
	actionCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	done := make(chan fireResult, 1)
	go func() {
		val, err := action(actionCtx)
		done <- fireResult{val: val, err: err}
	}()

	select {
	case res := <-done:
		return res.val, res.err, false
	case <-actionCtx.Done():
		if errors.Is(actionCtx.Err(), context.DeadlineExceeded) {
			return nil, ErrActionTimeout, true
		}
		return nil, actionCtx.Err(), false
	}
}

// settle records the call outcome and applies state transitions.
func (b *Breaker) settle(err error, timedOut bool) {
	now := b.now()
	var event Event

	b.mu.Lock()
	wasProbe := b.state == StateHalfOpen
	if wasProbe {
		b.probeInFlight = false
	}

	if err == nil {
		if wasProbe {
			event = b.close()
		}
		b.mu.Unlock()
		b.emit(event)
		return
	}

	b.rotate(now)
	if timedOut {
		b.buckets[b.cursor].timeouts++
	} else {
		b.buckets[b.cursor].failures++
	}

	if wasProbe || b.overThreshold() {
		event = b.open(now)
	}
	b.mu.Unlock()
	b.emit(event)
}

// recover applies the fallback, if any, to a rejection/timeout/failure.
func (b *Breaker) recover(err error) (any, error) {
	if b.fallback == nil {
		return nil, err
	}
	b.emit(EventFallback)
	return b.fallback(err)
}

// open transitions to OPEN and reports the event to emit once the lock is
// released. Caller holds the lock.
func (b *Breaker) open(now time.Time) Event {
	if b.state == StateOpen {
		return ""
	}
	b.state = StateOpen
	b.openedAt = now
	b.probeInFlight = false
	return EventOpened
}

// close transitions to CLOSED and resets the rolling window. Caller holds
// the lock.
func (b *Breaker) close() Event {
	b.state = StateClosed
	for i := range b.buckets {
		b.buckets[i] = bucket{}
	}
	return EventClosed
}

// maybeHalfOpen promotes OPEN to HALF_OPEN once the reset timeout has
// elapsed. Caller holds the lock.
func (b *Breaker) maybeHalfOpen(now time.Time) Event {
	if b.state == StateOpen && now.Sub(b.openedAt) >= b.resetTimeout {
		b.state = StateHalfOpen
		b.probeInFlight = false
		return EventHalfOpen
	}
	return ""
}

// rotate advances the bucket ring to cover the current instant, clearing
// buckets that have aged out of the window. Caller holds the lock.
func (b *Breaker) rotate(now time.Time) {
	steps := int(now.Sub(b.rotatedAt) / b.bucketSpan)
	if steps <= 0 {
		return
	}
	if steps > len(b.buckets) {
		steps = len(b.buckets)
	}
	for i := 0; i < steps; i++ {
		b.cursor = (b.cursor + 1) % len(b.buckets)
		b.buckets[b.cursor] = bucket{}
	}
	b.rotatedAt = b.rotatedAt.Add(time.Duration(steps) * b.bucketSpan)
	if now.Sub(b.rotatedAt) >= b.bucketSpan*time.Duration(len(b.buckets)) {
		b.rotatedAt = now
	}
}

// overThreshold reports whether the rolling window justifies opening.
// Caller holds the lock.
func (b *Breaker) overThreshold() bool {
	var attempts, errs int
	for _, bk := range b.buckets {
		attempts += bk.attempts
		errs += bk.failures + bk.timeouts
	}
	if attempts < b.volumeThreshold {
		return false
	}
	return errs*100 >= b.errorThreshold*attempts
}

func (b *Breaker) emit(event Event) {
	if event != "" && b.onEvent != nil {
		b.onEvent(b.name, event)
	}
}
