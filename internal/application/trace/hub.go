package trace

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mvidal/crewd/internal/domain"
	"github.com/mvidal/crewd/internal/ports"
)

// Hub receives trace events, persists them, and fans them out to live
// subscribers.
type Hub struct {
	storage ports.TraceStore
	metrics ports.MetricsCollector
	logger  *zap.Logger

	retentionLimit int

	mu          sync.RWMutex
	subscribers map[string]*subscriber
}

type subscriber struct {
	onTrace ports.TraceHandler
	onAlert ports.AlertHandler
}

// NewHub creates a hub with the given retention limit for persisted events.
func NewHub(storage ports.TraceStore, metrics ports.MetricsCollector, logger *zap.Logger, retentionLimit int) (*Hub, error) {
	if retentionLimit < 1 {
		return nil, domain.Errorf(domain.ErrInvalidArgument, "retention limit must be positive, got %d", retentionLimit)
	}

	return &Hub{
		storage:        storage,
		metrics:        metrics,
		logger:         logger,
		retentionLimit: retentionLimit,
		subscribers:    make(map[string]*subscriber),
	}, nil
}

// Ingest records a trace event and broadcasts it to all live subscribers.
// Missing id and timestamp are assigned at ingestion. Persistence and
// broadcast are independent: a store failure is logged, never allowed to
// suppress delivery.
func (h *Hub) Ingest(ctx context.Context, ev *domain.TraceEvent) error {
	if ev == nil {
		return domain.Errorf(domain.ErrInvalidArgument, "trace event is required")
	}
	if !ev.Type.Valid() {
		return domain.Errorf(domain.ErrInvalidArgument, "unknown trace event type %q", ev.Type)
	}

	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	if err := h.storage.Append(ctx, ev); err != nil {
		h.logger.Error("failed to persist trace event",
			zap.String("event_id", ev.ID),
			zap.String("type", string(ev.Type)),
			zap.Error(err))
	} else {
		h.trim(ctx)
	}

	h.broadcast(ev)
	h.metrics.RecordTraceIngested(string(ev.Type))

	return nil
}

// Subscribe registers a live receiver and returns its handle. onAlert may
// be nil for subscribers that only consume the raw trace stream.
func (h *Hub) Subscribe(onTrace ports.TraceHandler, onAlert ports.AlertHandler) string {
	id := uuid.New().String()

	h.mu.Lock()
	h.subscribers[id] = &subscriber{onTrace: onTrace, onAlert: onAlert}
	count := len(h.subscribers)
	h.mu.Unlock()

	h.logger.Debug("trace subscriber registered",
		zap.String("subscriber_id", id),
		zap.Int("subscribers", count))

	return id
}

// Unsubscribe deregisters a receiver. Unknown handles are ignored.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	delete(h.subscribers, id)
	h.mu.Unlock()
}

// History returns persisted events for reconnecting clients. Live delivery
// has no replay; this is the only backfill path.
func (h *Hub) History(ctx context.Context, filter ports.TraceFilter) ([]*domain.TraceEvent, error) {
	return h.storage.List(ctx, filter)
}

// broadcast pushes the event to every subscriber, and the derived alert to
// alert handlers for alerting event types.
func (h *Hub) broadcast(ev *domain.TraceEvent) {
	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	var alert *domain.Alert
	if ev.Type.Alerting() {
		alert = &domain.Alert{Kind: ev.Type, Event: ev}
	}

	for _, s := range subs {
		if s.onTrace != nil {
			s.onTrace(ev)
		}
		if alert != nil && s.onAlert != nil {
			s.onAlert(alert)
		}
	}
}

// trim enforces the retention cap, keeping the newest events.
func (h *Hub) trim(ctx context.Context) {
	if err := h.storage.Trim(ctx, h.retentionLimit); err != nil {
		h.logger.Error("failed to trim trace history", zap.Error(err))
	}
}
