package domain

import "time"

// WorkItemStatus is one of the five pipeline stages.
type WorkItemStatus string

const (
	StatusBacklog    WorkItemStatus = "backlog"
	StatusReady      WorkItemStatus = "ready"
	StatusInProgress WorkItemStatus = "in_progress"
	StatusReview     WorkItemStatus = "review"
	StatusDone       WorkItemStatus = "done"
)

// Valid reports whether s is one of the five pipeline stages.
func (s WorkItemStatus) Valid() bool {
	switch s {
	case StatusBacklog, StatusReady, StatusInProgress, StatusReview, StatusDone:
		return true
	}
	return false
}

// WorkItemType classifies a work item.
type WorkItemType string

const (
	TypeFeature  WorkItemType = "feature"
	TypeBug      WorkItemType = "bug"
	TypeResearch WorkItemType = "research"
	TypeTask     WorkItemType = "task"
)

// Valid reports whether t is a known work item type.
func (t WorkItemType) Valid() bool {
	switch t {
	case TypeFeature, TypeBug, TypeResearch, TypeTask:
		return true
	}
	return false
}

// SuccessCriterion is a single checkable completion condition on a work item.
type SuccessCriterion struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Completed   bool       `json:"completed"`
	VerifiedBy  string     `json:"verified_by,omitempty"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
}

// WorkItem is a unit of trackable work moving through the pipeline.
type WorkItem struct {
	ID              string             `json:"id"`
	Title           string             `json:"title"`
	Type            WorkItemType       `json:"type"`
	Status          WorkItemStatus     `json:"status"`
	Description     string             `json:"description,omitempty"`
	SuccessCriteria []SuccessCriterion `json:"success_criteria,omitempty"`

	// AssignedWorkers maps a role to the worker currently holding it.
	AssignedWorkers map[Role]string `json:"assigned_workers,omitempty"`

	// ApprovalOverrides overrides the process-wide approval defaults for
	// individual transitions on this item.
	ApprovalOverrides map[Transition]bool `json:"approval_overrides,omitempty"`

	ParentID  string   `json:"parent_id,omitempty"`
	ChildIDs  []string `json:"child_ids,omitempty"`
	BlockedBy []string `json:"blocked_by,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Blocked reports whether unresolved blocking items prevent entry into ready.
func (w *WorkItem) Blocked() bool {
	return len(w.BlockedBy) > 0
}

// Clone returns a deep copy of the work item.
func (w *WorkItem) Clone() *WorkItem {
	c := *w
	if w.SuccessCriteria != nil {
		c.SuccessCriteria = append([]SuccessCriterion(nil), w.SuccessCriteria...)
	}
	if w.AssignedWorkers != nil {
		c.AssignedWorkers = make(map[Role]string, len(w.AssignedWorkers))
		for k, v := range w.AssignedWorkers {
			c.AssignedWorkers[k] = v
		}
	}
	if w.ApprovalOverrides != nil {
		c.ApprovalOverrides = make(map[Transition]bool, len(w.ApprovalOverrides))
		for k, v := range w.ApprovalOverrides {
			c.ApprovalOverrides[k] = v
		}
	}
	c.ChildIDs = append([]string(nil), w.ChildIDs...)
	c.BlockedBy = append([]string(nil), w.BlockedBy...)
	return &c
}
