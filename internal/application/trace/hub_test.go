package trace

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mvidal/crewd/internal/domain"
	"github.com/mvidal/crewd/internal/ports"
	"github.com/mvidal/crewd/pkg/adapters/storage/memory"
)

type nopMetrics struct{}

func (nopMetrics) RecordPoolStatus(idle, working, paused, errored, terminated int) {}
func (nopMetrics) RecordWorkerSpawned(templateID string)                           {}
func (nopMetrics) RecordWorkerTerminated()                                         {}
func (nopMetrics) RecordTransition(name string, outcome string)                    {}
func (nopMetrics) RecordAssignment(outcome string)                                 {}
func (nopMetrics) SetQueueDepth(depth int)                                         {}
func (nopMetrics) RecordTraceIngested(eventType string)                            {}
func (nopMetrics) AddTokens(count int64)                                           {}
func (nopMetrics) AddCost(usd float64)                                             {}
func (nopMetrics) ObserveAssignmentWait(d time.Duration)                           {}

// failingStore rejects every append to exercise the persist/broadcast split.
type failingStore struct {
	memory.TraceStore
}

func (s *failingStore) Append(ctx context.Context, ev *domain.TraceEvent) error {
	return errors.New("store down")
}

func newTestHub(t *testing.T, retention int) (*Hub, *memory.TraceStore) {
	t.Helper()
	store := memory.NewTraceStore()
	h, err := NewHub(store, nopMetrics{}, zap.NewNop(), retention)
	require.NoError(t, err)
	return h, store
}

func TestNewHubValidatesRetention(t *testing.T) {
	_, err := NewHub(memory.NewTraceStore(), nopMetrics{}, zap.NewNop(), 0)
	assert.True(t, domain.IsCode(err, domain.ErrInvalidArgument))
}

func TestIngestAssignsIDAndTimestamp(t *testing.T) {
	h, _ := newTestHub(t, 10)

	ev := &domain.TraceEvent{Type: domain.TraceToolCall}
	require.NoError(t, h.Ingest(context.Background(), ev))

	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestIngestValidatesEvent(t *testing.T) {
	h, _ := newTestHub(t, 10)
	ctx := context.Background()

	err := h.Ingest(ctx, nil)
	assert.True(t, domain.IsCode(err, domain.ErrInvalidArgument))

	err = h.Ingest(ctx, &domain.TraceEvent{})
	assert.True(t, domain.IsCode(err, domain.ErrInvalidArgument))

	// Unknown type strings are rejected, not stored.
	err = h.Ingest(ctx, &domain.TraceEvent{Type: "telemetry_blob"})
	assert.True(t, domain.IsCode(err, domain.ErrInvalidArgument))

	n, err := h.History(ctx, ports.TraceFilter{})
	require.NoError(t, err)
	assert.Empty(t, n)
}

func TestIngestPersistsAndBroadcasts(t *testing.T) {
	h, store := newTestHub(t, 10)

	var received []*domain.TraceEvent
	h.Subscribe(func(ev *domain.TraceEvent) {
		received = append(received, ev)
	}, nil)

	ev := &domain.TraceEvent{Type: domain.TraceAgentState, WorkerID: "w-1"}
	require.NoError(t, h.Ingest(context.Background(), ev))

	require.Len(t, received, 1)
	assert.Equal(t, ev.ID, received[0].ID)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestIngestBroadcastsDespiteStoreFailure(t *testing.T) {
	h, err := NewHub(&failingStore{}, nopMetrics{}, zap.NewNop(), 10)
	require.NoError(t, err)

	var received int
	h.Subscribe(func(ev *domain.TraceEvent) { received++ }, nil)

	require.NoError(t, h.Ingest(context.Background(), &domain.TraceEvent{Type: domain.TraceToolCall}))
	assert.Equal(t, 1, received)
}

func TestAlertChannelOnlyForAlertingTypes(t *testing.T) {
	h, _ := newTestHub(t, 10)
	ctx := context.Background()

	var traces, alerts int
	h.Subscribe(
		func(ev *domain.TraceEvent) { traces++ },
		func(alert *domain.Alert) { alerts++ },
	)

	require.NoError(t, h.Ingest(ctx, &domain.TraceEvent{Type: domain.TraceToolCall}))
	require.NoError(t, h.Ingest(ctx, &domain.TraceEvent{Type: domain.TraceMetricUpdate}))
	require.NoError(t, h.Ingest(ctx, &domain.TraceEvent{Type: domain.TraceError}))
	require.NoError(t, h.Ingest(ctx, &domain.TraceEvent{Type: domain.TraceApprovalRequired}))

	assert.Equal(t, 4, traces)
	assert.Equal(t, 2, alerts)
}

func TestAlertCarriesKindAndEvent(t *testing.T) {
	h, _ := newTestHub(t, 10)

	var got *domain.Alert
	h.Subscribe(nil, func(alert *domain.Alert) { got = alert })

	ev := &domain.TraceEvent{Type: domain.TraceError, WorkerID: "w-1"}
	require.NoError(t, h.Ingest(context.Background(), ev))

	require.NotNil(t, got)
	assert.Equal(t, domain.TraceError, got.Kind)
	assert.Equal(t, ev.ID, got.Event.ID)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h, _ := newTestHub(t, 10)
	ctx := context.Background()

	var received int
	id := h.Subscribe(func(ev *domain.TraceEvent) { received++ }, nil)

	require.NoError(t, h.Ingest(ctx, &domain.TraceEvent{Type: domain.TraceToolCall}))
	h.Unsubscribe(id)
	require.NoError(t, h.Ingest(ctx, &domain.TraceEvent{Type: domain.TraceToolCall}))

	assert.Equal(t, 1, received)

	// Unknown handles are ignored.
	h.Unsubscribe("bogus")
}

func TestRetentionKeepsNewest(t *testing.T) {
	h, store := newTestHub(t, 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, h.Ingest(ctx, &domain.TraceEvent{
			Type:     domain.TraceToolCall,
			WorkerID: fmt.Sprintf("w-%d", i),
		}))
	}

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	events, err := h.History(ctx, ports.TraceFilter{})
	require.NoError(t, err)
	require.Len(t, events, 3)

	// Newest first; the two oldest were trimmed.
	assert.Equal(t, "w-4", events[0].WorkerID)
	assert.Equal(t, "w-3", events[1].WorkerID)
	assert.Equal(t, "w-2", events[2].WorkerID)
}

func TestHistoryFilters(t *testing.T) {
	h, _ := newTestHub(t, 100)
	ctx := context.Background()

	require.NoError(t, h.Ingest(ctx, &domain.TraceEvent{Type: domain.TraceToolCall, WorkerID: "w-1", WorkItemID: "item-1"}))
	require.NoError(t, h.Ingest(ctx, &domain.TraceEvent{Type: domain.TraceError, WorkerID: "w-1", WorkItemID: "item-2"}))
	require.NoError(t, h.Ingest(ctx, &domain.TraceEvent{Type: domain.TraceToolCall, WorkerID: "w-2", WorkItemID: "item-1"}))

	byWorker, err := h.History(ctx, ports.TraceFilter{WorkerID: "w-1"})
	require.NoError(t, err)
	assert.Len(t, byWorker, 2)

	byItem, err := h.History(ctx, ports.TraceFilter{WorkItemID: "item-1"})
	require.NoError(t, err)
	assert.Len(t, byItem, 2)

	byType, err := h.History(ctx, ports.TraceFilter{Type: domain.TraceError})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, "item-2", byType[0].WorkItemID)

	limited, err := h.History(ctx, ports.TraceFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
