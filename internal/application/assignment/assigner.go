package assignment

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mvidal/crewd/internal/application/pool"
	"github.com/mvidal/crewd/internal/application/workflow"
	"github.com/mvidal/crewd/internal/domain"
	"github.com/mvidal/crewd/internal/ports"
)

// Assigner mediates between assignable work items and pool workers.
type Assigner struct {
	pool      *pool.Pool
	engine    *workflow.Engine
	items     ports.WorkItemStore
	templates ports.TemplateStore
	runtime   ports.SessionRuntime
	metrics   ports.MetricsCollector
	logger    *zap.Logger

	roleTemplates map[domain.Role]string

	mu    sync.Mutex
	queue []*queuedRequest

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type queuedRequest struct {
	workItemID string
	role       domain.Role
	enqueuedAt time.Time
}

// Result reports the outcome of an assignment request.
type Result struct {
	Status     string      `json:"status"` // assigned or queued
	WorkItemID string      `json:"work_item_id"`
	Role       domain.Role `json:"role"`
	WorkerID   string      `json:"worker_id,omitempty"`
	Position   int         `json:"position,omitempty"`
}

const (
	// StatusAssigned means a worker took the item immediately.
	StatusAssigned = "assigned"
	// StatusQueued means the pool was saturated and the request waits in
	// FIFO order.
	StatusQueued = "queued"
)

// New creates an assigner. Every role must map to a spawn template;
// construction fails fast on an unmapped role.
func New(
	p *pool.Pool,
	engine *workflow.Engine,
	items ports.WorkItemStore,
	templates ports.TemplateStore,
	runtime ports.SessionRuntime,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	roleTemplates map[domain.Role]string,
) (*Assigner, error) {
	for _, role := range domain.AllRoles() {
		if roleTemplates[role] == "" {
			return nil, domain.Errorf(domain.ErrInvalidArgument, "no spawn template mapped for role %q", role)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Assigner{
		pool:          p,
		engine:        engine,
		items:         items,
		templates:     templates,
		runtime:       runtime,
		metrics:       metrics,
		logger:        logger,
		roleTemplates: roleTemplates,
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}, nil
}

// Start launches the queue drainer. Draining is driven by pool capacity
// signals, never by polling.
func (a *Assigner) Start() {
	go a.drainLoop()
}

// Stop shuts the queue drainer down.
func (a *Assigner) Stop() {
	a.cancel()
	<-a.done
}

// Assign connects a work item to a worker for the given role, queueing the
// request when the pool is saturated.
func (a *Assigner) Assign(ctx context.Context, workItemID string, role domain.Role) (*Result, error) {
	if workItemID == "" {
		return nil, domain.Errorf(domain.ErrInvalidArgument, "work item id is required")
	}
	if !role.Valid() {
		return nil, domain.Errorf(domain.ErrInvalidArgument, "unknown role %q", role)
	}

	item, err := a.items.Get(ctx, workItemID)
	if err != nil {
		return nil, err
	}

	decision := a.engine.CanTransition(item, domain.StatusInProgress)
	if !decision.Allowed {
		a.metrics.RecordAssignment("not_assignable")
		return nil, domain.Errorf(domain.ErrNotAssignable, "work item %q is not assignable: %s", workItemID, decision.Reason)
	}
	if decision.RequiresApproval {
		// The assigner acts autonomously and cannot supply an approver.
		a.metrics.RecordAssignment("not_assignable")
		return nil, domain.Errorf(domain.ErrNotAssignable, "work item %q requires approval to enter in_progress", workItemID)
	}

	worker, err := a.takeWorker(ctx, item, role)
	if err != nil {
		return nil, err
	}
	if worker == nil {
		pos := a.enqueue(workItemID, role)
		a.metrics.RecordAssignment("queued")
		a.logger.Info("pool saturated, assignment queued",
			zap.String("work_item_id", workItemID),
			zap.String("role", string(role)),
			zap.Int("position", pos))
		return &Result{Status: StatusQueued, WorkItemID: workItemID, Role: role, Position: pos}, nil
	}

	if err := a.bind(ctx, worker, item.ID, role); err != nil {
		return nil, err
	}

	a.metrics.RecordAssignment("assigned")
	return &Result{Status: StatusAssigned, WorkItemID: workItemID, Role: role, WorkerID: worker.ID}, nil
}

// QueueDepth returns the number of pending queued requests.
func (a *Assigner) QueueDepth() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}

// takeWorker returns an idle worker carrying the role, spawning one when
// none is idle and the pool has spare capacity. A nil worker with nil error
// means the pool is saturated.
func (a *Assigner) takeWorker(ctx context.Context, item *domain.WorkItem, role domain.Role) (*domain.Worker, error) {
	matching, err := a.templateIDsForRole(ctx, role, item.Type)
	if err != nil {
		return nil, err
	}

	// An empty matching set must not fall through to unfiltered reuse.
	if len(matching) > 0 {
		if idle := a.pool.IdleWorkers(matching); len(idle) > 0 {
			return idle[0], nil
		}
	}

	if !a.pool.CanSpawnMore() {
		return nil, nil
	}

	tplID := a.roleTemplates[role]
	tpl, err := a.templates.Get(ctx, tplID)
	if err != nil {
		return nil, err
	}
	if !tpl.Allows(item.Type) {
		return nil, domain.Errorf(domain.ErrNotAssignable,
			"template %q for role %s does not allow work item type %s", tpl.ID, role, item.Type)
	}

	sessionID, err := a.runtime.StartSession(ctx, tpl)
	if err != nil {
		return nil, err
	}

	worker, err := a.pool.Spawn(ctx, tpl.ID, sessionID)
	if err != nil {
		// Lost the capacity race to a concurrent spawn.
		if domain.IsCode(err, domain.ErrCapacityExceeded) {
			if endErr := a.runtime.EndSession(ctx, sessionID); endErr != nil {
				a.logger.Warn("failed to end orphaned session",
					zap.String("session_id", sessionID),
					zap.Error(endErr))
			}
			return nil, nil
		}
		return nil, err
	}
	return worker, nil
}

// bind performs the two independent single-entity writes: worker assignment
// and the item's ready_to_in_progress transition. There is no cross-entity
// rollback; a failed second write releases the worker and reports the error.
func (a *Assigner) bind(ctx context.Context, worker *domain.Worker, workItemID string, role domain.Role) error {
	if _, err := a.pool.AssignWork(ctx, worker.ID, workItemID, role); err != nil {
		return err
	}

	if _, err := a.engine.ExecuteTransition(ctx, workItemID, domain.StatusInProgress, ""); err != nil {
		a.logger.Error("work item transition failed after worker assignment, releasing worker",
			zap.String("work_item_id", workItemID),
			zap.String("worker_id", worker.ID),
			zap.Error(err))
		if _, relErr := a.pool.CompleteWork(ctx, worker.ID); relErr != nil {
			a.logger.Error("failed to release worker after partial assignment",
				zap.String("worker_id", worker.ID),
				zap.Error(relErr))
		}
		return err
	}

	if _, err := a.engine.Update(ctx, workItemID, func(item *domain.WorkItem) error {
		if item.AssignedWorkers == nil {
			item.AssignedWorkers = make(map[domain.Role]string)
		}
		item.AssignedWorkers[role] = worker.ID
		return nil
	}); err != nil {
		// Assignment record is advisory; the worker keeps the item.
		a.logger.Error("failed to record worker on work item",
			zap.String("work_item_id", workItemID),
			zap.String("worker_id", worker.ID),
			zap.Error(err))
	}

	a.logger.Info("work item assigned",
		zap.String("work_item_id", workItemID),
		zap.String("worker_id", worker.ID),
		zap.String("role", string(role)))

	return nil
}

// templateIDsForRole collects template ids whose default role matches and
// which allow the item's type.
func (a *Assigner) templateIDsForRole(ctx context.Context, role domain.Role, itemType domain.WorkItemType) (map[string]bool, error) {
	tpls, err := a.templates.List(ctx)
	if err != nil {
		return nil, err
	}

	ids := make(map[string]bool)
	for _, tpl := range tpls {
		if tpl.DefaultRole == role && tpl.Allows(itemType) {
			ids[tpl.ID] = true
		}
	}
	return ids, nil
}

// enqueue appends the request in FIFO order, de-duplicated by work item id:
// a repeat request replaces the existing queue position rather than adding
// a second entry. Returns the 1-based queue position.
func (a *Assigner) enqueue(workItemID string, role domain.Role) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, q := range a.queue {
		if q.workItemID == workItemID {
			q.role = role
			a.metrics.SetQueueDepth(len(a.queue))
			return i + 1
		}
	}

	a.queue = append(a.queue, &queuedRequest{
		workItemID: workItemID,
		role:       role,
		enqueuedAt: time.Now(),
	})
	a.metrics.SetQueueDepth(len(a.queue))
	return len(a.queue)
}

// drainLoop retries queued requests whenever the pool frees capacity.
func (a *Assigner) drainLoop() {
	defer close(a.done)

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.pool.Freed():
			a.drain()
		}
	}
}

// drain attempts queued requests in FIFO order until the pool saturates
// again or the queue empties. Requests that became ineligible are dropped.
func (a *Assigner) drain() {
	for {
		a.mu.Lock()
		if len(a.queue) == 0 {
			a.mu.Unlock()
			return
		}
		head := a.queue[0]
		a.mu.Unlock()

		item, err := a.items.Get(a.ctx, head.workItemID)
		if err != nil {
			a.dropHead(head, err)
			continue
		}

		decision := a.engine.CanTransition(item, domain.StatusInProgress)
		if !decision.Allowed || decision.RequiresApproval {
			a.dropHead(head, domain.Errorf(domain.ErrNotAssignable, "%s", decision.Reason))
			continue
		}

		worker, err := a.takeWorker(a.ctx, item, head.role)
		if err != nil {
			a.dropHead(head, err)
			continue
		}
		if worker == nil {
			// Still saturated: keep the head and wait for the next signal.
			return
		}

		if err := a.bind(a.ctx, worker, item.ID, head.role); err != nil {
			a.dropHead(head, err)
			continue
		}

		a.mu.Lock()
		if len(a.queue) > 0 && a.queue[0] == head {
			a.queue = a.queue[1:]
		}
		a.metrics.SetQueueDepth(len(a.queue))
		a.mu.Unlock()

		a.metrics.RecordAssignment("dequeued")
		a.metrics.ObserveAssignmentWait(time.Since(head.enqueuedAt))
		a.logger.Info("queued work item assigned",
			zap.String("work_item_id", head.workItemID),
			zap.String("worker_id", worker.ID),
			zap.String("role", string(head.role)))
	}
}

// dropHead removes a queue head that can no longer be served.
func (a *Assigner) dropHead(head *queuedRequest, cause error) {
	a.mu.Lock()
	if len(a.queue) > 0 && a.queue[0] == head {
		a.queue = a.queue[1:]
	}
	a.metrics.SetQueueDepth(len(a.queue))
	a.mu.Unlock()

	a.logger.Warn("dropping queued assignment",
		zap.String("work_item_id", head.workItemID),
		zap.String("role", string(head.role)),
		zap.Error(cause))
}
