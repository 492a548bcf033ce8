// Package redis relays trace hub traffic into Redis Streams.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mvidal/crewd/internal/application/trace"
	"github.com/mvidal/crewd/internal/domain"
)

const (
	traceStreamKey = "crewd:events:trace"
	alertStreamKey = "crewd:events:alert"
)

// StreamRelay subscribes to the trace hub and republishes every event and
// alert into capped Redis Streams, so dashboards and collectors outside the
// process can consume the feed without a socket into crewd.
type StreamRelay struct {
	client *redis.Client
	logger *zap.Logger
	maxLen int64

	subscriberID string
}

// NewStreamRelay creates a relay that caps each stream at maxLen entries
// (approximate trimming).
func NewStreamRelay(client *redis.Client, maxLen int64, logger *zap.Logger) *StreamRelay {
	return &StreamRelay{
		client: client,
		logger: logger,
		maxLen: maxLen,
	}
}

// Attach registers the relay on the hub.
func (r *StreamRelay) Attach(hub *trace.Hub) {
	r.subscriberID = hub.Subscribe(r.onTrace, r.onAlert)
	r.logger.Info("redis stream relay attached",
		zap.String("trace_stream", traceStreamKey),
		zap.String("alert_stream", alertStreamKey))
}

// Detach deregisters the relay from the hub.
func (r *StreamRelay) Detach(hub *trace.Hub) {
	if r.subscriberID != "" {
		hub.Unsubscribe(r.subscriberID)
		r.subscriberID = ""
	}
}

func (r *StreamRelay) onTrace(ev *domain.TraceEvent) {
	if err := r.publish(traceStreamKey, ev); err != nil {
		r.logger.Error("failed to relay trace event",
			zap.String("event_id", ev.ID),
			zap.Error(err))
	}
}

func (r *StreamRelay) onAlert(alert *domain.Alert) {
	if err := r.publish(alertStreamKey, alert); err != nil {
		r.logger.Error("failed to relay alert",
			zap.String("kind", string(alert.Kind)),
			zap.Error(err))
	}
}

func (r *StreamRelay) publish(streamKey string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: streamKey,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}

	if _, err := r.client.XAdd(context.Background(), args).Result(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}
	return nil
}
