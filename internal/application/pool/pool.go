package pool

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mvidal/crewd/internal/domain"
	"github.com/mvidal/crewd/internal/keymutex"
	"github.com/mvidal/crewd/internal/ports"
)

// Pool manages the worker set under a configurable concurrency ceiling.
type Pool struct {
	storage ports.WorkerStore
	metrics ports.MetricsCollector
	logger  *zap.Logger

	locks *keymutex.KeyMutex

	mu                 sync.RWMutex
	workers            map[string]*domain.Worker
	counts             map[domain.WorkerStatus]int
	maxWorkers         int
	contextWindowLimit int64

	// freed carries a non-blocking signal whenever CompleteWork or
	// Terminate releases pool capacity.
	freed chan struct{}
}

// Summary is the derived pool view returned by GetPool.
type Summary struct {
	Workers        []*domain.Worker `json:"workers"`
	Total          int              `json:"total"`
	Active         int              `json:"active"`
	Idle           int              `json:"idle"`
	Working        int              `json:"working"`
	MaxWorkers     int              `json:"max_workers"`
	TotalTokens    int64            `json:"total_tokens"`
	TotalCostUSD   float64          `json:"total_cost_usd"`
	TotalToolCalls int64            `json:"total_tool_calls"`
}

// New creates a worker pool with the given ceiling and default context
// window limit for spawned workers.
func New(
	storage ports.WorkerStore,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	maxWorkers int,
	contextWindowLimit int64,
) (*Pool, error) {
	if maxWorkers < 1 {
		return nil, domain.Errorf(domain.ErrInvalidArgument, "max workers must be positive, got %d", maxWorkers)
	}
	if contextWindowLimit < 1 {
		return nil, domain.Errorf(domain.ErrInvalidArgument, "context window limit must be positive, got %d", contextWindowLimit)
	}

	return &Pool{
		storage:            storage,
		metrics:            metrics,
		logger:             logger,
		locks:              keymutex.New(),
		workers:            make(map[string]*domain.Worker),
		counts:             make(map[domain.WorkerStatus]int),
		maxWorkers:         maxWorkers,
		contextWindowLimit: contextWindowLimit,
		freed:              make(chan struct{}, 1),
	}, nil
}

// Spawn creates a new idle worker from a template. It fails with
// CapacityExceeded when the active count has reached the ceiling and
// creates no record in that case.
func (p *Pool) Spawn(ctx context.Context, templateID, sessionID string) (*domain.Worker, error) {
	if templateID == "" {
		return nil, domain.Errorf(domain.ErrInvalidArgument, "template id is required")
	}
	if sessionID == "" {
		return nil, domain.Errorf(domain.ErrInvalidArgument, "session id is required")
	}

	w := &domain.Worker{
		ID:         uuid.New().String(),
		TemplateID: templateID,
		Status:     domain.WorkerStatusIdle,
		SessionID:  sessionID,
		SpawnedAt:  time.Now(),
		Metrics: domain.WorkerMetrics{
			ContextWindowLimit: p.contextWindowLimit,
		},
	}

	p.mu.Lock()
	if p.activeLocked() >= p.maxWorkers {
		ceiling := p.maxWorkers
		p.mu.Unlock()
		return nil, domain.Errorf(domain.ErrCapacityExceeded, "pool ceiling of %d active workers reached", ceiling)
	}
	p.workers[w.ID] = w
	p.counts[w.Status]++
	p.mu.Unlock()

	p.persist(ctx, w.Clone())
	p.metrics.RecordWorkerSpawned(templateID)
	p.recordPoolStatus()

	p.logger.Info("worker spawned",
		zap.String("worker_id", w.ID),
		zap.String("template_id", templateID),
		zap.String("session_id", sessionID))

	return w.Clone(), nil
}

// Terminate moves a worker to the terminal terminated status and clears its
// assignment. The record is retained, so a second call is a no-op
// transition rather than NotFound.
func (p *Pool) Terminate(ctx context.Context, workerID string) (*domain.Worker, error) {
	w, err := p.mutate(ctx, workerID, func(w *domain.Worker) error {
		w.CurrentWorkItemID = ""
		w.CurrentRole = ""
		w.Status = domain.WorkerStatusTerminated
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.metrics.RecordWorkerTerminated()
	// Terminated is terminal, so the per-worker mutex is no longer
	// contended and can be dropped. Later reads mint a fresh one.
	p.locks.Forget(workerID)
	p.signalFreed()

	p.logger.Info("worker terminated", zap.String("worker_id", workerID))
	return w, nil
}

// Pause suspends a worker that is currently working.
func (p *Pool) Pause(ctx context.Context, workerID string) (*domain.Worker, error) {
	return p.mutate(ctx, workerID, func(w *domain.Worker) error {
		if w.Status != domain.WorkerStatusWorking {
			return domain.Errorf(domain.ErrInvalidState, "cannot pause worker in status %q", w.Status)
		}
		w.Status = domain.WorkerStatusPaused
		return nil
	})
}

// Resume returns a paused worker to working when it still holds a work item
// assignment, idle otherwise.
func (p *Pool) Resume(ctx context.Context, workerID string) (*domain.Worker, error) {
	return p.mutate(ctx, workerID, func(w *domain.Worker) error {
		if w.Status != domain.WorkerStatusPaused {
			return domain.Errorf(domain.ErrInvalidState, "cannot resume worker in status %q", w.Status)
		}
		if w.CurrentWorkItemID != "" {
			w.Status = domain.WorkerStatusWorking
		} else {
			w.Status = domain.WorkerStatusIdle
		}
		return nil
	})
}

// AssignWork binds an idle worker to a work item under a role.
func (p *Pool) AssignWork(ctx context.Context, workerID, workItemID string, role domain.Role) (*domain.Worker, error) {
	if workItemID == "" {
		return nil, domain.Errorf(domain.ErrInvalidArgument, "work item id is required")
	}
	if !role.Valid() {
		return nil, domain.Errorf(domain.ErrInvalidArgument, "unknown role %q", role)
	}

	return p.mutate(ctx, workerID, func(w *domain.Worker) error {
		if w.Status != domain.WorkerStatusIdle {
			return domain.Errorf(domain.ErrInvalidState, "cannot assign work to worker in status %q", w.Status)
		}
		w.CurrentWorkItemID = workItemID
		w.CurrentRole = role
		w.Status = domain.WorkerStatusWorking
		return nil
	})
}

// CompleteWork clears a worker's assignment and returns it to idle.
// Terminated stays terminal.
func (p *Pool) CompleteWork(ctx context.Context, workerID string) (*domain.Worker, error) {
	w, err := p.mutate(ctx, workerID, func(w *domain.Worker) error {
		if w.Status == domain.WorkerStatusTerminated {
			return nil
		}
		w.CurrentWorkItemID = ""
		w.CurrentRole = ""
		w.Status = domain.WorkerStatusIdle
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.signalFreed()
	return w, nil
}

// ReportError increments the worker's error count and moves it to the error
// status. The work item reference is retained so operators can inspect what
// the worker was doing.
func (p *Pool) ReportError(ctx context.Context, workerID, message string) (*domain.Worker, error) {
	w, err := p.mutate(ctx, workerID, func(w *domain.Worker) error {
		w.Metrics.ErrorCount++
		if w.Status != domain.WorkerStatusTerminated {
			w.Status = domain.WorkerStatusError
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Warn("worker reported error",
		zap.String("worker_id", workerID),
		zap.String("message", message),
		zap.Int64("error_count", w.Metrics.ErrorCount))

	return w, nil
}

// UpdateMetrics applies a metrics delta to a worker. Token, cost and
// tool-call fields are additive; the context window reading is
// last-write-wins. Negative deltas are rejected, so totals never go below
// zero. Concurrent deltas on the same worker never lose updates.
func (p *Pool) UpdateMetrics(ctx context.Context, workerID string, delta domain.MetricsDelta) (*domain.Worker, error) {
	if delta.TokensUsed < 0 || delta.CostUSD < 0 || delta.ToolCalls < 0 {
		return nil, domain.Errorf(domain.ErrInvalidArgument, "metrics deltas must be non-negative")
	}
	if delta.ContextWindowUsed != nil && *delta.ContextWindowUsed < 0 {
		return nil, domain.Errorf(domain.ErrInvalidArgument, "context window used must be non-negative")
	}

	w, err := p.mutate(ctx, workerID, func(w *domain.Worker) error {
		w.Metrics.TokensUsed += delta.TokensUsed
		w.Metrics.CostUSD += delta.CostUSD
		w.Metrics.ToolCalls += delta.ToolCalls
		if delta.ContextWindowUsed != nil {
			w.Metrics.ContextWindowUsed = *delta.ContextWindowUsed
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.metrics.AddTokens(delta.TokensUsed)
	p.metrics.AddCost(delta.CostUSD)

	return w, nil
}

// Get returns a snapshot of a single worker.
func (p *Pool) Get(workerID string) (*domain.Worker, error) {
	p.locks.Lock(workerID)
	defer p.locks.Unlock(workerID)

	p.mu.RLock()
	w, ok := p.workers[workerID]
	p.mu.RUnlock()
	if !ok {
		return nil, domain.Errorf(domain.ErrNotFound, "worker %q not found", workerID)
	}
	return w.Clone(), nil
}

// GetPool returns the full worker list with derived aggregates. Purely
// computed, no side effects.
func (p *Pool) GetPool() *Summary {
	p.mu.RLock()
	ids := make([]string, 0, len(p.workers))
	for id := range p.workers {
		ids = append(ids, id)
	}
	maxWorkers := p.maxWorkers
	p.mu.RUnlock()

	summary := &Summary{MaxWorkers: maxWorkers}
	for _, id := range ids {
		w, err := p.Get(id)
		if err != nil {
			continue
		}
		summary.Workers = append(summary.Workers, w)
		summary.Total++
		switch w.Status {
		case domain.WorkerStatusIdle:
			summary.Idle++
			summary.Active++
		case domain.WorkerStatusWorking:
			summary.Working++
			summary.Active++
		}
		summary.TotalTokens += w.Metrics.TokensUsed
		summary.TotalCostUSD += w.Metrics.CostUSD
		summary.TotalToolCalls += w.Metrics.ToolCalls
	}
	return summary
}

// CanSpawnMore reports whether the active count is below the ceiling.
func (p *Pool) CanSpawnMore() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.activeLocked() < p.maxWorkers
}

// SetMaxWorkers changes the ceiling for subsequent spawns. Workers above a
// lowered ceiling are not evicted.
func (p *Pool) SetMaxWorkers(n int) error {
	if n < 1 {
		return domain.Errorf(domain.ErrInvalidArgument, "max workers must be positive, got %d", n)
	}

	p.mu.Lock()
	p.maxWorkers = n
	p.mu.Unlock()

	p.logger.Info("pool ceiling changed", zap.Int("max_workers", n))
	return nil
}

// IdleWorkers returns snapshots of all idle workers, optionally restricted
// to a set of template ids.
func (p *Pool) IdleWorkers(templateIDs map[string]bool) []*domain.Worker {
	var idle []*domain.Worker
	for _, w := range p.GetPool().Workers {
		if w.Status != domain.WorkerStatusIdle {
			continue
		}
		if len(templateIDs) > 0 && !templateIDs[w.TemplateID] {
			continue
		}
		idle = append(idle, w)
	}
	return idle
}

// Freed exposes the capacity-release signal consumed by the assignment
// queue drainer.
func (p *Pool) Freed() <-chan struct{} {
	return p.freed
}

// mutate runs fn against one worker inside its per-worker critical section,
// then writes the resulting snapshot through to storage outside the lock.
func (p *Pool) mutate(ctx context.Context, workerID string, fn func(w *domain.Worker) error) (*domain.Worker, error) {
	if workerID == "" {
		return nil, domain.Errorf(domain.ErrInvalidArgument, "worker id is required")
	}

	p.locks.Lock(workerID)

	p.mu.RLock()
	w, ok := p.workers[workerID]
	p.mu.RUnlock()
	if !ok {
		p.locks.Unlock(workerID)
		return nil, domain.Errorf(domain.ErrNotFound, "worker %q not found", workerID)
	}

	before := w.Status
	if err := fn(w); err != nil {
		p.locks.Unlock(workerID)
		return nil, err
	}
	after := w.Status

	snapshot := w.Clone()
	p.locks.Unlock(workerID)

	if before != after {
		p.mu.Lock()
		p.counts[before]--
		p.counts[after]++
		p.mu.Unlock()
		p.recordPoolStatus()
	}

	p.persist(ctx, snapshot)
	return snapshot, nil
}

// persist writes a worker snapshot through to durable storage. Failures are
// logged, not surfaced: the pool's in-memory state is authoritative.
func (p *Pool) persist(ctx context.Context, w *domain.Worker) {
	if err := p.storage.Save(ctx, w); err != nil {
		p.logger.Error("failed to persist worker",
			zap.String("worker_id", w.ID),
			zap.Error(err))
	}
}

func (p *Pool) signalFreed() {
	select {
	case p.freed <- struct{}{}:
	default:
	}
}

// activeLocked counts idle+working workers. Callers hold p.mu.
func (p *Pool) activeLocked() int {
	return p.counts[domain.WorkerStatusIdle] + p.counts[domain.WorkerStatusWorking]
}

func (p *Pool) recordPoolStatus() {
	p.mu.RLock()
	idle := p.counts[domain.WorkerStatusIdle]
	working := p.counts[domain.WorkerStatusWorking]
	paused := p.counts[domain.WorkerStatusPaused]
	errored := p.counts[domain.WorkerStatusError]
	terminated := p.counts[domain.WorkerStatusTerminated]
	p.mu.RUnlock()

	p.metrics.RecordPoolStatus(idle, working, paused, errored, terminated)
}
