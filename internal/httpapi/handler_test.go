package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"payflow/internal/idempotency"
	"payflow/internal/observability"
	"payflow/internal/payment"
	"payflow/internal/queue"
	"payflow/internal/realtime"
	"payflow/internal/resilience"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testKey = "018b3263-5471-7000-81d3-375837651234"

const validBody = `{"amount":"5000","currency":"USD","customerId":"8f14e45f-ceea-467f-9575-7b1ad52c1a6b"}`

type memStore struct {
	data   map[string]string
	getErr error
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]string)}
}

func (s *memStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s.getErr != nil {
		return "", false, s.getErr
	}
	val, ok := s.data[key]
	return val, ok, nil
}

func (s *memStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if _, ok := s.data[key]; ok {
		return false, nil
	}
	s.data[key] = value
	return true, nil
}

func (s *memStore) SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error {
	s.data[key] = value
	return nil
}

func (s *memStore) Delete(ctx context.Context, key string) error {
	delete(s.data, key)
	return nil
}

type stubGateway struct {
	err   error
	calls int
}

func (g *stubGateway) CreateIntent(ctx context.Context, req payment.CreateIntentRequest) (payment.IntentResponse, error) {
	g.calls++
	if g.err != nil {
		return payment.IntentResponse{}, g.err
	}
	return payment.IntentResponse{
		PaymentID:    "pay_1",
		Status:       payment.StatusPending,
		ClientSecret: "pi_secret",
	}, nil
}

type stubEnqueuer struct {
	names []string
	err   error
}

func (s *stubEnqueuer) Enqueue(ctx context.Context, name string, payload []byte) (queue.JobHandle, error) {
	if s.err != nil {
		return queue.JobHandle{}, s.err
	}
	s.names = append(s.names, name)
	return queue.JobHandle{ID: "job-1"}, nil
}

type fixture struct {
	router   *gin.Engine
	store    *memStore
	gateway  *stubGateway
	enqueuer *stubEnqueuer
	metrics  *observability.Metrics
	hub      *realtime.Hub
}

func newFixture(t *testing.T, opts resilience.Options) *fixture {
	t.Helper()

	store := newMemStore()
	gateway := &stubGateway{}
	enqueuer := &stubEnqueuer{}
	metrics := observability.NewMetrics()
	hub := realtime.NewHub(nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	coord := idempotency.NewCoordinator(store, idempotency.CoordinatorConfig{})
	if opts.Name == "" {
		opts.Name = "payment-gateway"
	}
	orc := payment.NewOrchestrator(coord, resilience.NewBreaker(opts), gateway, enqueuer, nil)

	return &fixture{
		router:   NewHandler(orc, hub, metrics, nil).Router(),
		store:    store,
		gateway:  gateway,
		enqueuer: enqueuer,
		metrics:  metrics,
		hub:      hub,
	}
}

func (f *fixture) createIntent(body, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/payments/intent", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	code, _ := body["error"].(string)
	return code
}

func TestHealth(t *testing.T) {
	f := newFixture(t, resilience.Options{})

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", w.Code)
	}
}

func TestCreateIntentCreated(t *testing.T) {
	f := newFixture(t, resilience.Options{})

	w := f.createIntent(validBody, testKey)
	if w.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}

	var res payment.IntentResponse
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.PaymentID != "pay_1" || res.Status != payment.StatusPending || res.ClientSecret == "" {
		t.Fatalf("unexpected response: %+v", res)
	}
}

func TestCreateIntentReplaysSameKey(t *testing.T) {
	f := newFixture(t, resilience.Options{})

	first := f.createIntent(validBody, testKey)
	second := f.createIntent(validBody, testKey)
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("unexpected statuses: %d %d", first.Code, second.Code)
	}
	if f.gateway.calls != 1 {
		t.Fatalf("expected one gateway call, got %d", f.gateway.calls)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("replay must return identical body")
	}
}

func TestCreateIntentMissingKey(t *testing.T) {
	f := newFixture(t, resilience.Options{})

	w := f.createIntent(validBody, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	if code := decodeError(t, w); code != "missing_idempotency_key" {
		t.Fatalf("unexpected error code: %s", code)
	}
	if f.gateway.calls != 0 {
		t.Fatalf("missing key must not reach the gateway")
	}
}

func TestCreateIntentMalformedKey(t *testing.T) {
	f := newFixture(t, resilience.Options{})

	w := f.createIntent(validBody, "not-a-uuid")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	if code := decodeError(t, w); code != "invalid_request" {
		t.Fatalf("unexpected error code: %s", code)
	}
}

func TestCreateIntentRejectsBadBodies(t *testing.T) {
	f := newFixture(t, resilience.Options{})

	bad := []string{
		`{"amount":"-100","currency":"USD","customerId":"8f14e45f-ceea-467f-9575-7b1ad52c1a6b"}`,
		`{"amount":"12.50","currency":"USD","customerId":"8f14e45f-ceea-467f-9575-7b1ad52c1a6b"}`,
		`{"amount":"5000","currency":"DOLLARS","customerId":"8f14e45f-ceea-467f-9575-7b1ad52c1a6b"}`,
		`{"amount":"5000","currency":"USD","customerId":"42"}`,
		`{"currency":"USD","customerId":"8f14e45f-ceea-467f-9575-7b1ad52c1a6b"}`,
		`not json`,
	}
	for _, body := range bad {
		w := f.createIntent(body, testKey)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %s: unexpected status %d", body, w.Code)
		}
	}
	if f.gateway.calls != 0 {
		t.Fatalf("invalid bodies must not reach the gateway")
	}
}

func TestCreateIntentConflict(t *testing.T) {
	f := newFixture(t, resilience.Options{})
	marker, _ := idempotency.Record{State: idempotency.StateProcessing}.Encode()
	f.store.data[payment.ScopePaymentInit+":"+testKey] = marker

	w := f.createIntent(validBody, testKey)
	if w.Code != http.StatusConflict {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	if code := decodeError(t, w); code != "request_in_progress" {
		t.Fatalf("unexpected error code: %s", code)
	}
}

func TestCreateIntentGatewayFailure(t *testing.T) {
	f := newFixture(t, resilience.Options{})
	f.gateway.err = payment.ErrGatewayFailure

	w := f.createIntent(validBody, testKey)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	if code := decodeError(t, w); code != "gateway_failure" {
		t.Fatalf("unexpected error code: %s", code)
	}
}

func TestCreateIntentServiceUnavailable(t *testing.T) {
	f := newFixture(t, resilience.Options{
		VolumeThreshold: 1,
		Fallback:        payment.GatewayFallback,
	})
	f.gateway.err = payment.ErrGatewayFailure

	// Trip the breaker, then expect rejection for a fresh key.
	_ = f.createIntent(validBody, testKey)
	w := f.createIntent(validBody, "018b3263-5471-7000-81d3-375837659999")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	if code := decodeError(t, w); code != "service_unavailable" {
		t.Fatalf("unexpected error code: %s", code)
	}
}

func TestCreateIntentStoreUnavailable(t *testing.T) {
	f := newFixture(t, resilience.Options{})
	f.store.getErr = idempotency.ErrStoreUnavailable

	w := f.createIntent(validBody, testKey)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	if code := decodeError(t, w); code != "store_unavailable" {
		t.Fatalf("unexpected error code: %s", code)
	}
}

func TestWebhookAccepted(t *testing.T) {
	f := newFixture(t, resilience.Options{})

	req := httptest.NewRequest(http.MethodPost, "/payments/webhooks/stripe",
		strings.NewReader(`{"type":"payment_intent.succeeded","data":{"paymentId":"pay_1"}}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	var ack payment.WebhookAck
	if err := json.Unmarshal(w.Body.Bytes(), &ack); err != nil || !ack.Received {
		t.Fatalf("unexpected ack: %s err=%v", w.Body.String(), err)
	}
	if len(f.enqueuer.names) != 1 || f.enqueuer.names[0] != payment.JobWebhookProcessing {
		t.Fatalf("unexpected enqueued jobs: %v", f.enqueuer.names)
	}
	if f.metrics.Snapshot().Queue.Enqueued != 1 {
		t.Fatalf("expected enqueue counted")
	}
}

func TestWebhookBadBody(t *testing.T) {
	f := newFixture(t, resilience.Options{})

	req := httptest.NewRequest(http.MethodPost, "/payments/webhooks/stripe", strings.NewReader(`{"type":""}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", w.Code)
	}
}

func TestWebhookEnqueueFailure(t *testing.T) {
	f := newFixture(t, resilience.Options{})
	f.enqueuer.err = queue.ErrQueueUnavailable

	req := httptest.NewRequest(http.MethodPost, "/payments/webhooks/stripe",
		strings.NewReader(`{"type":"payment_intent.succeeded","data":{}}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	if code := decodeError(t, w); code != "enqueue_failed" {
		t.Fatalf("unexpected error code: %s", code)
	}
}

func TestEventsStreamDeliversIntents(t *testing.T) {
	f := newFixture(t, resilience.Options{})

	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/payments/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && f.hub.ClientCount() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if f.hub.ClientCount() != 1 {
		t.Fatalf("expected a registered client")
	}

	if w := f.createIntent(validBody, testKey); w.Code != http.StatusCreated {
		t.Fatalf("create intent: %d", w.Code)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg realtime.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if msg.Event != "intent.created" {
		t.Fatalf("unexpected event: %+v", msg)
	}
}

func TestStatusForTotalMapping(t *testing.T) {
	cases := []struct {
		kind   payment.Kind
		status int
		code   string
	}{
		{payment.KindInvalidRequest, http.StatusBadRequest, "invalid_request"},
		{payment.KindConflict, http.StatusConflict, "request_in_progress"},
		{payment.KindServiceUnavailable, http.StatusServiceUnavailable, "service_unavailable"},
		{payment.KindGatewayFailure, http.StatusBadGateway, "gateway_failure"},
		{payment.KindStoreUnavailable, http.StatusInternalServerError, "store_unavailable"},
		{payment.KindInternal, http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		status, code := statusFor(tc.kind)
		if status != tc.status || code != tc.code {
			t.Fatalf("kind %d: expected %d/%s, got %d/%s", tc.kind, tc.status, tc.code, status, code)
		}
	}
}
