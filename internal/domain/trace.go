package domain

import "time"

// TraceEventType classifies a trace event.
type TraceEventType string

const (
	TraceAgentState       TraceEventType = "agent_state"
	TraceWorkItemUpdate   TraceEventType = "work_item_update"
	TraceToolCall         TraceEventType = "tool_call"
	TraceMetricUpdate     TraceEventType = "metric_update"
	TraceError            TraceEventType = "error"
	TraceApprovalRequired TraceEventType = "approval_required"
)

// Valid reports whether t is one of the known trace event types.
func (t TraceEventType) Valid() bool {
	switch t {
	case TraceAgentState, TraceWorkItemUpdate, TraceToolCall,
		TraceMetricUpdate, TraceError, TraceApprovalRequired:
		return true
	}
	return false
}

// Alerting reports whether events of this type additionally fan out on the
// alert channel.
func (t TraceEventType) Alerting() bool {
	return t == TraceError || t == TraceApprovalRequired
}

// TraceEvent is an immutable, timestamped record of something that happened
// during execution. Append-only; never mutated after ingestion.
type TraceEvent struct {
	ID         string                 `json:"id"`
	WorkerID   string                 `json:"worker_id,omitempty"`
	WorkItemID string                 `json:"work_item_id,omitempty"`
	Type       TraceEventType         `json:"type"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Alert is the derived notification emitted alongside the raw trace
// broadcast for error and approval_required events.
type Alert struct {
	Kind  TraceEventType `json:"kind"`
	Event *TraceEvent    `json:"event"`
}
