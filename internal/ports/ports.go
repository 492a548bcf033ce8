package ports

import (
	"context"
	"time"

	"github.com/mvidal/crewd/internal/domain"
)

// WorkItemFilter narrows WorkItemStore.List results.
type WorkItemFilter struct {
	Status domain.WorkItemStatus
	Type   domain.WorkItemType
}

// WorkItemStore persists work items. Single-entity atomicity only; callers
// needing read-modify-write atomicity serialize above the store.
type WorkItemStore interface {
	Create(ctx context.Context, item *domain.WorkItem) error
	Get(ctx context.Context, id string) (*domain.WorkItem, error)
	List(ctx context.Context, filter WorkItemFilter) ([]*domain.WorkItem, error)
	Save(ctx context.Context, item *domain.WorkItem) error
	Delete(ctx context.Context, id string) error
}

// TemplateStore persists worker templates.
type TemplateStore interface {
	Create(ctx context.Context, tpl *domain.Template) error
	Get(ctx context.Context, id string) (*domain.Template, error)
	List(ctx context.Context) ([]*domain.Template, error)
	Save(ctx context.Context, tpl *domain.Template) error
	Delete(ctx context.Context, id string) error
}

// WorkerFilter narrows WorkerStore.List results.
type WorkerFilter struct {
	Status     domain.WorkerStatus
	TemplateID string
}

// WorkerStore persists worker records. The pool is the in-memory owner of
// the worker set and writes through; the store is the durable mirror.
type WorkerStore interface {
	Save(ctx context.Context, w *domain.Worker) error
	Get(ctx context.Context, id string) (*domain.Worker, error)
	List(ctx context.Context, filter WorkerFilter) ([]*domain.Worker, error)
	Delete(ctx context.Context, id string) error
}

// TraceFilter narrows TraceStore.List results.
type TraceFilter struct {
	WorkerID   string
	WorkItemID string
	Type       domain.TraceEventType
	Limit      int
}

// TraceStore is the append-only persistence behind the trace hub.
type TraceStore interface {
	Append(ctx context.Context, ev *domain.TraceEvent) error
	List(ctx context.Context, filter TraceFilter) ([]*domain.TraceEvent, error)
	// Trim discards the oldest events beyond keep.
	Trim(ctx context.Context, keep int) error
	Count(ctx context.Context) (int, error)
}

// TraceHandler receives one trace event per call.
type TraceHandler func(ev *domain.TraceEvent)

// AlertHandler receives derived error/approval notifications.
type AlertHandler func(alert *domain.Alert)

// SessionRuntime is the opaque agent execution engine the pool spawns
// sessions against.
type SessionRuntime interface {
	// StartSession creates an execution session for a worker spawned from
	// tpl and returns its opaque identifier.
	StartSession(ctx context.Context, tpl *domain.Template) (string, error)
	// Prompt relays text into a session and returns the model's reply
	// together with the tokens consumed.
	Prompt(ctx context.Context, sessionID, text string) (string, int64, error)
	EndSession(ctx context.Context, sessionID string) error
}

// MetricsCollector records operational metrics for the orchestration core.
type MetricsCollector interface {
	RecordPoolStatus(idle, working, paused, errored, terminated int)
	RecordWorkerSpawned(templateID string)
	RecordWorkerTerminated()
	RecordTransition(name string, outcome string)
	RecordAssignment(outcome string)
	SetQueueDepth(depth int)
	RecordTraceIngested(eventType string)
	AddTokens(count int64)
	AddCost(usd float64)
	ObserveAssignmentWait(d time.Duration)
}
