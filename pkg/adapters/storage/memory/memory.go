// Package memory provides in-memory store implementations for testing.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/mvidal/crewd/internal/domain"
	"github.com/mvidal/crewd/internal/ports"
)

// WorkItemStore is a mutex-guarded in-memory work item store.
type WorkItemStore struct {
	mu    sync.RWMutex
	items map[string]*domain.WorkItem
}

// NewWorkItemStore creates an empty in-memory work item store.
func NewWorkItemStore() *WorkItemStore {
	return &WorkItemStore{items: make(map[string]*domain.WorkItem)}
}

// Create stores a new work item. Fails if the id already exists.
func (s *WorkItemStore) Create(ctx context.Context, item *domain.WorkItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[item.ID]; ok {
		return domain.Errorf(domain.ErrInvalidArgument, "work item %q already exists", item.ID)
	}
	s.items[item.ID] = item.Clone()
	return nil
}

// Get returns a copy of the work item.
func (s *WorkItemStore) Get(ctx context.Context, id string) (*domain.WorkItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, domain.Errorf(domain.ErrNotFound, "work item %q not found", id)
	}
	return item.Clone(), nil
}

// List returns copies of all work items matching the filter, ordered by
// creation time.
func (s *WorkItemStore) List(ctx context.Context, filter ports.WorkItemFilter) ([]*domain.WorkItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.WorkItem
	for _, item := range s.items {
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		if filter.Type != "" && item.Type != filter.Type {
			continue
		}
		out = append(out, item.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Save overwrites a work item. Fails NotFound if missing.
func (s *WorkItemStore) Save(ctx context.Context, item *domain.WorkItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[item.ID]; !ok {
		return domain.Errorf(domain.ErrNotFound, "work item %q not found", item.ID)
	}
	s.items[item.ID] = item.Clone()
	return nil
}

// Delete removes a work item. Fails NotFound if missing.
func (s *WorkItemStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return domain.Errorf(domain.ErrNotFound, "work item %q not found", id)
	}
	delete(s.items, id)
	return nil
}

// TemplateStore is a mutex-guarded in-memory template store.
type TemplateStore struct {
	mu        sync.RWMutex
	templates map[string]*domain.Template
}

// NewTemplateStore creates an empty in-memory template store.
func NewTemplateStore() *TemplateStore {
	return &TemplateStore{templates: make(map[string]*domain.Template)}
}

// Create stores a new template. Fails if the id already exists.
func (s *TemplateStore) Create(ctx context.Context, tpl *domain.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[tpl.ID]; ok {
		return domain.Errorf(domain.ErrInvalidArgument, "template %q already exists", tpl.ID)
	}
	c := *tpl
	s.templates[tpl.ID] = &c
	return nil
}

// Get returns a copy of the template.
func (s *TemplateStore) Get(ctx context.Context, id string) (*domain.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tpl, ok := s.templates[id]
	if !ok {
		return nil, domain.Errorf(domain.ErrNotFound, "template %q not found", id)
	}
	c := *tpl
	return &c, nil
}

// List returns copies of all templates.
func (s *TemplateStore) List(ctx context.Context) ([]*domain.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Template, 0, len(s.templates))
	for _, tpl := range s.templates {
		c := *tpl
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Save overwrites a template. Fails NotFound if missing.
func (s *TemplateStore) Save(ctx context.Context, tpl *domain.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[tpl.ID]; !ok {
		return domain.Errorf(domain.ErrNotFound, "template %q not found", tpl.ID)
	}
	c := *tpl
	s.templates[tpl.ID] = &c
	return nil
}

// Delete removes a template. Fails NotFound if missing.
func (s *TemplateStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[id]; !ok {
		return domain.Errorf(domain.ErrNotFound, "template %q not found", id)
	}
	delete(s.templates, id)
	return nil
}

// WorkerStore is a mutex-guarded in-memory worker store.
type WorkerStore struct {
	mu      sync.RWMutex
	workers map[string]*domain.Worker
}

// NewWorkerStore creates an empty in-memory worker store.
func NewWorkerStore() *WorkerStore {
	return &WorkerStore{workers: make(map[string]*domain.Worker)}
}

// Save upserts a worker record.
func (s *WorkerStore) Save(ctx context.Context, w *domain.Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.workers[w.ID] = w.Clone()
	return nil
}

// Get returns a copy of the worker record.
func (s *WorkerStore) Get(ctx context.Context, id string) (*domain.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.workers[id]
	if !ok {
		return nil, domain.Errorf(domain.ErrNotFound, "worker %q not found", id)
	}
	return w.Clone(), nil
}

// List returns copies of all workers matching the filter.
func (s *WorkerStore) List(ctx context.Context, filter ports.WorkerFilter) ([]*domain.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Worker
	for _, w := range s.workers {
		if filter.Status != "" && w.Status != filter.Status {
			continue
		}
		if filter.TemplateID != "" && w.TemplateID != filter.TemplateID {
			continue
		}
		out = append(out, w.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SpawnedAt.Before(out[j].SpawnedAt) })
	return out, nil
}

// Delete removes a worker record. Fails NotFound if missing.
func (s *WorkerStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workers[id]; !ok {
		return domain.Errorf(domain.ErrNotFound, "worker %q not found", id)
	}
	delete(s.workers, id)
	return nil
}

// TraceStore is a mutex-guarded in-memory append-only trace store.
type TraceStore struct {
	mu     sync.RWMutex
	events []*domain.TraceEvent
}

// NewTraceStore creates an empty in-memory trace store.
func NewTraceStore() *TraceStore {
	return &TraceStore{}
}

// Append records an event at the tail.
func (s *TraceStore) Append(ctx context.Context, ev *domain.TraceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *ev
	s.events = append(s.events, &c)
	return nil
}

// List returns matching events newest-first, bounded by filter.Limit.
func (s *TraceStore) List(ctx context.Context, filter ports.TraceFilter) ([]*domain.TraceEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.TraceEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		ev := s.events[i]
		if filter.WorkerID != "" && ev.WorkerID != filter.WorkerID {
			continue
		}
		if filter.WorkItemID != "" && ev.WorkItemID != filter.WorkItemID {
			continue
		}
		if filter.Type != "" && ev.Type != filter.Type {
			continue
		}
		c := *ev
		out = append(out, &c)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Trim discards the oldest events beyond keep.
func (s *TraceStore) Trim(ctx context.Context, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if keep >= 0 && len(s.events) > keep {
		s.events = append([]*domain.TraceEvent(nil), s.events[len(s.events)-keep:]...)
	}
	return nil
}

// Count returns the number of retained events.
func (s *TraceStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events), nil
}
