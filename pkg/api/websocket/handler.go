package websocket

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mvidal/crewd/internal/application/trace"
	"github.com/mvidal/crewd/internal/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for MVP
	},
}

// envelope wraps a broadcast payload with its channel kind so clients can
// separate raw traces from alerts on a single connection.
type envelope struct {
	Kind  string             `json:"kind"` // trace or alert
	Trace *domain.TraceEvent `json:"trace,omitempty"`
	Alert *domain.Alert      `json:"alert,omitempty"`
}

// Handler streams live trace events and alerts over WebSocket.
type Handler struct {
	hub    *trace.Hub
	buffer int
	logger *zap.Logger
}

// NewHandler creates a new WebSocket handler. buffer sizes the per-client
// send queue; slow clients drop events rather than stall the hub.
func NewHandler(hub *trace.Hub, buffer int, logger *zap.Logger) *Handler {
	if buffer < 1 {
		buffer = 64
	}
	return &Handler{
		hub:    hub,
		buffer: buffer,
		logger: logger,
	}
}

// HandleStream handles a WebSocket streaming connection.
func (h *Handler) HandleStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("client", c.ClientIP()))

	send := make(chan *envelope, h.buffer)

	push := func(env *envelope) {
		select {
		case send <- env:
		default:
			// Client is not keeping up, skip this event.
			h.logger.Warn("client send queue full, dropping event",
				zap.String("kind", env.Kind),
				zap.String("client", c.ClientIP()))
		}
	}

	subID := h.hub.Subscribe(
		func(ev *domain.TraceEvent) {
			push(&envelope{Kind: "trace", Trace: ev})
		},
		func(alert *domain.Alert) {
			push(&envelope{Kind: "alert", Alert: alert})
		},
	)
	defer h.hub.Unsubscribe(subID)

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-send:
			data, err := json.Marshal(env)
			if err != nil {
				h.logger.Error("failed to marshal event", zap.Error(err))
				continue
			}

			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Error("failed to write message", zap.Error(err))
				return
			}
		}
	}
}
