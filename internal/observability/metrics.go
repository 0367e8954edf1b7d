package observability

import (
	"sync"
	"time"
)

// MethodSnapshot summarizes calls to one operation.
type MethodSnapshot struct {
	Count         int64   `json:"count"`
	Errors        int64   `json:"errors"`
	InFlight      int64   `json:"in_flight"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	LastLatencyMs float64 `json:"last_latency_ms"`
}

// BreakerSnapshot summarizes one circuit breaker's observed events.
type BreakerSnapshot struct {
	State  string           `json:"state"`
	Events map[string]int64 `json:"events"`
}

// QueueSnapshot summarizes dispatch queue outcomes.
type QueueSnapshot struct {
	Enqueued  int64 `json:"enqueued"`
	Processed int64 `json:"processed"`
	Buried    int64 `json:"buried"`
}

// Snapshot is the full metrics view served by the observability endpoint.
type Snapshot struct {
	UptimeSec     int64                      `json:"uptime_sec"`
	TotalRequests int64                      `json:"total_requests"`
	TotalErrors   int64                      `json:"total_errors"`
	InFlight      int64                      `json:"in_flight"`
	Breakers      map[string]BreakerSnapshot `json:"breakers,omitempty"`
	Queue         QueueSnapshot              `json:"queue"`
	Lifecycle     *LifecycleSnapshot         `json:"lifecycle,omitempty"`
	Methods       map[string]MethodSnapshot  `json:"methods"`
}

type methodStats struct {
	count        int64
	errors       int64
	inFlight     int64
	totalLatency time.Duration
	maxLatency   time.Duration
	lastLatency  time.Duration
}

type breakerStats struct {
	state  string
	events map[string]int64
}

// Metrics aggregates process-local counters for the payment service. All
// methods are safe for concurrent use.
type Metrics struct {
	mu        sync.Mutex
	start     time.Time
	methods   map[string]*methodStats
	breakers  map[string]*breakerStats
	queue     QueueSnapshot
	lifecycle lifecycleStats
}

// CallSpan tracks one in-flight operation.
type CallSpan struct {
	metrics *Metrics
	method  string
	start   time.Time
}

type lifecycleStats struct {
	shutdownAt time.Time
	inflight   int64
}

// LifecycleSnapshot records shutdown progress.
type LifecycleSnapshot struct {
	ShutdownAt         time.Time `json:"shutdown_at"`
	InFlightAtShutdown int64     `json:"inflight_at_shutdown"`
}

// NewMetrics constructs an empty Metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		start:    time.Now(),
		methods:  make(map[string]*methodStats),
		breakers: make(map[string]*breakerStats),
	}
}

// Start opens a span for the named operation.
func (m *Metrics) Start(method string) *CallSpan {
	if m == nil {
		return &CallSpan{}
	}
	m.mu.Lock()
	stats := m.ensureMethod(method)
	stats.inFlight++
	m.mu.Unlock()
	return &CallSpan{
		metrics: m,
		method:  method,
		start:   time.Now(),
	}
}

// End closes the span, recording latency and outcome.
func (s *CallSpan) End(err error) {
	if s == nil || s.metrics == nil {
		return
	}
	dur := time.Since(s.start)
	s.metrics.finish(s.method, dur, err != nil)
}

// BreakerEvent counts one breaker event; state-transition events also
// update the breaker's reported state.
func (m *Metrics) BreakerEvent(name, event string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	stats, ok := m.breakers[name]
	if !ok {
		stats = &breakerStats{state: "closed", events: make(map[string]int64)}
		m.breakers[name] = stats
	}
	stats.events[event]++
	switch event {
	case "opened":
		stats.state = "open"
	case "closed":
		stats.state = "closed"
	case "half-open":
		stats.state = "half-open"
	}
	m.mu.Unlock()
}

// JobEnqueued counts a job accepted by the dispatch queue.
func (m *Metrics) JobEnqueued() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.queue.Enqueued++
	m.mu.Unlock()
}

// JobProcessed counts a job completed by the worker.
func (m *Metrics) JobProcessed() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.queue.Processed++
	m.mu.Unlock()
}

// JobBuried counts a job moved to the dead-letter list.
func (m *Metrics) JobBuried() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.queue.Buried++
	m.mu.Unlock()
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	snap := Snapshot{
		UptimeSec: int64(now.Sub(m.start).Seconds()),
		Methods:   make(map[string]MethodSnapshot),
		Queue:     m.queue,
	}

	for method, stats := range m.methods {
		avg := 0.0
		if stats.count > 0 {
			avg = float64(stats.totalLatency.Milliseconds()) / float64(stats.count)
		}
		snap.Methods[method] = MethodSnapshot{
			Count:         stats.count,
			Errors:        stats.errors,
			InFlight:      stats.inFlight,
			AvgLatencyMs:  avg,
			MaxLatencyMs:  float64(stats.maxLatency.Milliseconds()),
			LastLatencyMs: float64(stats.lastLatency.Milliseconds()),
		}
		snap.TotalRequests += stats.count
		snap.TotalErrors += stats.errors
		snap.InFlight += stats.inFlight
	}

	if len(m.breakers) > 0 {
		snap.Breakers = make(map[string]BreakerSnapshot, len(m.breakers))
		for name, stats := range m.breakers {
			events := make(map[string]int64, len(stats.events))
			for k, v := range stats.events {
				events[k] = v
			}
			snap.Breakers[name] = BreakerSnapshot{State: stats.state, Events: events}
		}
	}

	if !m.lifecycle.shutdownAt.IsZero() {
		snap.Lifecycle = &LifecycleSnapshot{
			ShutdownAt:         m.lifecycle.shutdownAt,
			InFlightAtShutdown: m.lifecycle.inflight,
		}
	}

	return snap
}

func (m *Metrics) ensureMethod(method string) *methodStats {
	stats, ok := m.methods[method]
	if !ok {
		stats = &methodStats{}
		m.methods[method] = stats
	}
	return stats
}

func (m *Metrics) finish(method string, dur time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	stats := m.ensureMethod(method)
	stats.inFlight--
	stats.count++
	if failed {
		stats.errors++
	}
	stats.totalLatency += dur
	if dur > stats.maxLatency {
		stats.maxLatency = dur
	}
	stats.lastLatency = dur
	m.mu.Unlock()
}

// MarkShutdown records the shutdown instant and in-flight count.
func (m *Metrics) MarkShutdown(inflight int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.lifecycle.shutdownAt = time.Now()
	m.lifecycle.inflight = inflight
	m.mu.Unlock()
}
