package workflow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mvidal/crewd/internal/domain"
	"github.com/mvidal/crewd/internal/keymutex"
	"github.com/mvidal/crewd/internal/ports"
)

// Engine decides whether work item transitions may proceed and executes
// them against the store.
type Engine struct {
	storage  ports.WorkItemStore
	metrics  ports.MetricsCollector
	logger   *zap.Logger
	locks    *keymutex.KeyMutex
	defaults map[domain.Transition]bool
}

// Decision is the outcome of a CanTransition check.
type Decision struct {
	Allowed          bool   `json:"allowed"`
	RequiresApproval bool   `json:"requires_approval"`
	Reason           string `json:"reason,omitempty"`
}

// NewEngine creates a workflow engine with the given process-wide approval
// defaults. The defaults map is copied so independent engines cannot
// interfere through shared state.
func NewEngine(
	storage ports.WorkItemStore,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	defaults map[domain.Transition]bool,
) *Engine {
	d := make(map[domain.Transition]bool, len(defaults))
	for k, v := range defaults {
		d[k] = v
	}

	return &Engine{
		storage:  storage,
		metrics:  metrics,
		logger:   logger,
		locks:    keymutex.New(),
		defaults: d,
	}
}

// CanTransition reports whether item may move to target and whether the
// move needs a human approver. It never mutates the item.
func (e *Engine) CanTransition(item *domain.WorkItem, target domain.WorkItemStatus) Decision {
	name, ok := domain.TransitionFor(item.Status, target)
	if !ok {
		return Decision{
			Allowed: false,
			Reason:  "no transition from " + string(item.Status) + " to " + string(target),
		}
	}

	if target == domain.StatusReady && item.Blocked() {
		return Decision{
			Allowed: false,
			Reason:  "blocked by unresolved work items",
		}
	}

	return Decision{
		Allowed:          true,
		RequiresApproval: e.requiresApproval(item, name),
	}
}

// ExecuteTransition moves a work item to target, enforcing the approval
// gate. approvedBy is empty for unattended requests. On success the updated
// item is persisted and returned; on failure the item is left unchanged.
func (e *Engine) ExecuteTransition(ctx context.Context, itemID string, target domain.WorkItemStatus, approvedBy string) (*domain.WorkItem, error) {
	if itemID == "" {
		return nil, domain.Errorf(domain.ErrInvalidArgument, "work item id is required")
	}
	if !target.Valid() {
		return nil, domain.Errorf(domain.ErrInvalidTransition, "unknown target status %q", target)
	}

	e.locks.Lock(itemID)
	item, err := e.storage.Get(ctx, itemID)
	if err != nil {
		e.locks.Unlock(itemID)
		return nil, err
	}

	name, _ := domain.TransitionFor(item.Status, target)
	decision := e.CanTransition(item, target)
	if !decision.Allowed {
		e.locks.Unlock(itemID)
		e.metrics.RecordTransition(string(name), "rejected")
		return nil, domain.Errorf(domain.ErrInvalidTransition, "cannot move %q from %s to %s: %s",
			itemID, item.Status, target, decision.Reason)
	}

	if decision.RequiresApproval && approvedBy == "" {
		e.locks.Unlock(itemID)
		e.metrics.RecordTransition(string(name), "approval_required")
		return nil, domain.Errorf(domain.ErrApprovalRequired, "transition %s on %q requires approval", name, itemID)
	}

	now := time.Now()
	item.Status = target
	item.UpdatedAt = now

	switch name {
	case domain.TransitionReadyToInProgress:
		if item.StartedAt == nil {
			item.StartedAt = &now
		}
	case domain.TransitionReviewToDone:
		item.CompletedAt = &now
	}

	if err := e.storage.Save(ctx, item); err != nil {
		e.locks.Unlock(itemID)
		return nil, err
	}
	e.locks.Unlock(itemID)

	e.metrics.RecordTransition(string(name), "executed")
	e.logger.Info("work item transitioned",
		zap.String("work_item_id", itemID),
		zap.String("transition", string(name)),
		zap.String("approved_by", approvedBy))

	return item, nil
}

// Update applies fn to a work item inside its per-item critical section and
// persists the result. fn must not change the item's status; status moves go
// through ExecuteTransition.
func (e *Engine) Update(ctx context.Context, itemID string, fn func(item *domain.WorkItem) error) (*domain.WorkItem, error) {
	if itemID == "" {
		return nil, domain.Errorf(domain.ErrInvalidArgument, "work item id is required")
	}

	e.locks.Lock(itemID)
	defer e.locks.Unlock(itemID)

	item, err := e.storage.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}

	before := item.Status
	if err := fn(item); err != nil {
		return nil, err
	}
	if item.Status != before {
		return nil, domain.Errorf(domain.ErrInvalidState, "status changes must go through ExecuteTransition")
	}

	item.UpdatedAt = time.Now()
	if err := e.storage.Save(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// requiresApproval reads the item's override when present, else the process
// default for the transition.
func (e *Engine) requiresApproval(item *domain.WorkItem, name domain.Transition) bool {
	if item.ApprovalOverrides != nil {
		if v, ok := item.ApprovalOverrides[name]; ok {
			return v
		}
	}
	return e.defaults[name]
}
