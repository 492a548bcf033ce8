package domain

import "time"

// WorkerStatus represents the lifecycle state of a worker.
type WorkerStatus string

const (
	WorkerStatusIdle       WorkerStatus = "idle"
	WorkerStatusWorking    WorkerStatus = "working"
	WorkerStatusPaused     WorkerStatus = "paused"
	WorkerStatusError      WorkerStatus = "error"
	WorkerStatusTerminated WorkerStatus = "terminated"
)

// Active reports whether the status counts against the pool ceiling.
func (s WorkerStatus) Active() bool {
	return s == WorkerStatusIdle || s == WorkerStatusWorking
}

// Role identifies the function a worker performs on a work item.
type Role string

const (
	RoleRefiner     Role = "refiner"
	RoleImplementer Role = "implementer"
	RoleTester      Role = "tester"
	RoleReviewer    Role = "reviewer"
)

// AllRoles returns every worker role.
func AllRoles() []Role {
	return []Role{RoleRefiner, RoleImplementer, RoleTester, RoleReviewer}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleRefiner, RoleImplementer, RoleTester, RoleReviewer:
		return true
	}
	return false
}

// WorkerMetrics accumulates execution metrics for a worker. TokensUsed,
// CostUSD and ToolCalls are additive; ContextWindowUsed is an absolute
// last-write-wins reading.
type WorkerMetrics struct {
	TokensUsed         int64   `json:"tokens_used"`
	CostUSD            float64 `json:"cost_usd"`
	ToolCalls          int64   `json:"tool_calls"`
	ContextWindowUsed  int64   `json:"context_window_used"`
	ContextWindowLimit int64   `json:"context_window_limit"`
	ErrorCount         int64   `json:"error_count"`
}

// MetricsDelta carries one metrics update. The additive fields are deltas;
// ContextWindowUsed, when non-nil, replaces the current reading.
type MetricsDelta struct {
	TokensUsed        int64   `json:"tokens_used"`
	CostUSD           float64 `json:"cost_usd"`
	ToolCalls         int64   `json:"tool_calls"`
	ContextWindowUsed *int64  `json:"context_window_used,omitempty"`
}

// Worker is a stateful execution slot spawned from a template, holding at
// most one work item at a time.
type Worker struct {
	ID                string        `json:"id"`
	TemplateID        string        `json:"template_id"`
	Status            WorkerStatus  `json:"status"`
	CurrentWorkItemID string        `json:"current_work_item_id,omitempty"`
	CurrentRole       Role          `json:"current_role,omitempty"`
	SessionID         string        `json:"session_id,omitempty"`
	SpawnedAt         time.Time     `json:"spawned_at"`
	Metrics           WorkerMetrics `json:"metrics"`
}

// Clone returns a copy safe to hand outside the pool's critical section.
func (w *Worker) Clone() *Worker {
	c := *w
	return &c
}
