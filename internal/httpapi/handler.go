package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"payflow/internal/observability"
	"payflow/internal/payment"
	"payflow/internal/realtime"
)

// HeaderIdempotencyKey carries the caller-supplied idempotency key.
const HeaderIdempotencyKey = "X-Idempotency-Key"

// Handler exposes the payment core over HTTP.
type Handler struct {
	orchestrator *payment.Orchestrator
	hub          *realtime.Hub
	metrics      *observability.Metrics
	upgrader     websocket.Upgrader
	log          *slog.Logger
}

// NewHandler constructs the HTTP handler. hub and metrics may be nil.
func NewHandler(orc *payment.Orchestrator, hub *realtime.Hub, metrics *observability.Metrics, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		orchestrator: orc,
		hub:          hub,
		metrics:      metrics,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// Router builds the Gin engine with all routes registered.
func (h *Handler) Router() *gin.Engine {
	registerValidations()

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.POST("/payments/intent", h.createIntent)
	r.POST("/payments/webhooks/stripe", h.webhook)
	r.GET("/payments/events", h.serveEvents)

	return r
}

type createIntentBody struct {
	Amount     string `json:"amount" binding:"required,minorunit"`
	Currency   string `json:"currency" binding:"required,len=3,alpha"`
	CustomerID string `json:"customerId" binding:"required,uuid"`
}

func (h *Handler) createIntent(c *gin.Context) {
	span := h.metrics.Start("create_intent")

	var body createIntentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		span.End(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": err.Error()})
		return
	}

	key := c.GetHeader(HeaderIdempotencyKey)
	if key == "" {
		span.End(payment.ErrInvalidRequest)
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_idempotency_key"})
		return
	}

	req := payment.CreateIntentRequest{
		Amount:     payment.NewMoney(body.Amount, body.Currency),
		CustomerID: body.CustomerID,
	}

	res, err := h.orchestrator.CreateIntent(c.Request.Context(), req, key)
	span.End(err)
	if err != nil {
		status, code := statusFor(payment.Classify(err))
		if status >= http.StatusInternalServerError {
			h.log.Error("create intent failed", "error", err, "idempotency_key", key)
		}
		c.JSON(status, gin.H{"error": code})
		return
	}

	if h.hub != nil {
		h.hub.Publish("intent.created", res)
	}
	c.JSON(http.StatusCreated, res)
}

type webhookBody struct {
	Type string          `json:"type" binding:"required"`
	Data json.RawMessage `json:"data" binding:"required"`
}

func (h *Handler) webhook(c *gin.Context) {
	span := h.metrics.Start("webhook")

	var body webhookBody
	if err := c.ShouldBindJSON(&body); err != nil {
		span.End(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": err.Error()})
		return
	}

	ack, err := h.orchestrator.HandleWebhook(c.Request.Context(), body.Type, body.Data)
	span.End(err)
	if err != nil {
		h.log.Error("webhook enqueue failed", "type", body.Type, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue_failed"})
		return
	}

	h.metrics.JobEnqueued()
	c.JSON(http.StatusOK, ack)
}

// serveEvents upgrades the connection and streams payment events.
func (h *Handler) serveEvents(c *gin.Context) {
	if h.hub == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "events_disabled"})
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	h.hub.Register <- conn
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.hub.Unregister <- conn
			return
		}
	}
}

// statusFor is the total mapping from outcome kind to HTTP status.
func statusFor(kind payment.Kind) (int, string) {
	switch kind {
	case payment.KindInvalidRequest:
		return http.StatusBadRequest, "invalid_request"
	case payment.KindConflict:
		return http.StatusConflict, "request_in_progress"
	case payment.KindServiceUnavailable:
		return http.StatusServiceUnavailable, "service_unavailable"
	case payment.KindGatewayFailure:
		return http.StatusBadGateway, "gateway_failure"
	case payment.KindStoreUnavailable:
		return http.StatusInternalServerError, "store_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
