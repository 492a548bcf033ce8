// Package redis provides Redis-backed entity stores with JSON serialization.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mvidal/crewd/internal/domain"
	"github.com/mvidal/crewd/internal/ports"
)

const (
	workItemKeyPrefix = "crewd:workitem:"
	templateKeyPrefix = "crewd:template:"
	workerKeyPrefix   = "crewd:worker:"
	traceListKey      = "crewd:traces"
)

// WorkItemStore persists work items as JSON values.
type WorkItemStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewWorkItemStore creates a Redis work item store.
func NewWorkItemStore(client *redis.Client, logger *zap.Logger) *WorkItemStore {
	return &WorkItemStore{client: client, logger: logger}
}

// Create stores a new work item. Fails if the id already exists.
func (s *WorkItemStore) Create(ctx context.Context, item *domain.WorkItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal work item: %w", err)
	}

	ok, err := s.client.SetNX(ctx, workItemKeyPrefix+item.ID, data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create work item: %w", err)
	}
	if !ok {
		return domain.Errorf(domain.ErrInvalidArgument, "work item %q already exists", item.ID)
	}
	return nil
}

// Get retrieves a work item by id.
func (s *WorkItemStore) Get(ctx context.Context, id string) (*domain.WorkItem, error) {
	data, err := s.client.Get(ctx, workItemKeyPrefix+id).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, domain.Errorf(domain.ErrNotFound, "work item %q not found", id)
		}
		return nil, fmt.Errorf("failed to get work item: %w", err)
	}

	var item domain.WorkItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal work item: %w", err)
	}
	return &item, nil
}

// List scans all work items and filters in memory.
func (s *WorkItemStore) List(ctx context.Context, filter ports.WorkItemFilter) ([]*domain.WorkItem, error) {
	keys, err := scanKeys(ctx, s.client, workItemKeyPrefix+"*")
	if err != nil {
		return nil, err
	}

	items := make([]*domain.WorkItem, 0, len(keys))
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}

		var item domain.WorkItem
		if err := json.Unmarshal(data, &item); err != nil {
			s.logger.Warn("skipping malformed work item record", zap.String("key", key), zap.Error(err))
			continue
		}
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		if filter.Type != "" && item.Type != filter.Type {
			continue
		}
		items = append(items, &item)
	}
	return items, nil
}

// Save overwrites a work item. Fails NotFound if missing.
func (s *WorkItemStore) Save(ctx context.Context, item *domain.WorkItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal work item: %w", err)
	}

	ok, err := s.client.SetXX(ctx, workItemKeyPrefix+item.ID, data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to save work item: %w", err)
	}
	if !ok {
		return domain.Errorf(domain.ErrNotFound, "work item %q not found", item.ID)
	}
	return nil
}

// Delete removes a work item. Fails NotFound if missing.
func (s *WorkItemStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, workItemKeyPrefix+id).Result()
	if err != nil {
		return fmt.Errorf("failed to delete work item: %w", err)
	}
	if n == 0 {
		return domain.Errorf(domain.ErrNotFound, "work item %q not found", id)
	}
	return nil
}

// TemplateStore persists templates as JSON values.
type TemplateStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewTemplateStore creates a Redis template store.
func NewTemplateStore(client *redis.Client, logger *zap.Logger) *TemplateStore {
	return &TemplateStore{client: client, logger: logger}
}

// Create stores a new template. Fails if the id already exists.
func (s *TemplateStore) Create(ctx context.Context, tpl *domain.Template) error {
	data, err := json.Marshal(tpl)
	if err != nil {
		return fmt.Errorf("failed to marshal template: %w", err)
	}

	ok, err := s.client.SetNX(ctx, templateKeyPrefix+tpl.ID, data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	if !ok {
		return domain.Errorf(domain.ErrInvalidArgument, "template %q already exists", tpl.ID)
	}
	return nil
}

// Get retrieves a template by id.
func (s *TemplateStore) Get(ctx context.Context, id string) (*domain.Template, error) {
	data, err := s.client.Get(ctx, templateKeyPrefix+id).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, domain.Errorf(domain.ErrNotFound, "template %q not found", id)
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	var tpl domain.Template
	if err := json.Unmarshal(data, &tpl); err != nil {
		return nil, fmt.Errorf("failed to unmarshal template: %w", err)
	}
	return &tpl, nil
}

// List scans all templates.
func (s *TemplateStore) List(ctx context.Context) ([]*domain.Template, error) {
	keys, err := scanKeys(ctx, s.client, templateKeyPrefix+"*")
	if err != nil {
		return nil, err
	}

	tpls := make([]*domain.Template, 0, len(keys))
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}

		var tpl domain.Template
		if err := json.Unmarshal(data, &tpl); err != nil {
			s.logger.Warn("skipping malformed template record", zap.String("key", key), zap.Error(err))
			continue
		}
		tpls = append(tpls, &tpl)
	}
	return tpls, nil
}

// Save overwrites a template. Fails NotFound if missing.
func (s *TemplateStore) Save(ctx context.Context, tpl *domain.Template) error {
	data, err := json.Marshal(tpl)
	if err != nil {
		return fmt.Errorf("failed to marshal template: %w", err)
	}

	ok, err := s.client.SetXX(ctx, templateKeyPrefix+tpl.ID, data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}
	if !ok {
		return domain.Errorf(domain.ErrNotFound, "template %q not found", tpl.ID)
	}
	return nil
}

// Delete removes a template. Fails NotFound if missing.
func (s *TemplateStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, templateKeyPrefix+id).Result()
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	if n == 0 {
		return domain.Errorf(domain.ErrNotFound, "template %q not found", id)
	}
	return nil
}

// WorkerStore persists worker records as JSON values. The pool writes
// through; reads serve restarts and external inspection.
type WorkerStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewWorkerStore creates a Redis worker store.
func NewWorkerStore(client *redis.Client, logger *zap.Logger) *WorkerStore {
	return &WorkerStore{client: client, logger: logger}
}

// Save upserts a worker record.
func (s *WorkerStore) Save(ctx context.Context, w *domain.Worker) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("failed to marshal worker: %w", err)
	}

	if err := s.client.Set(ctx, workerKeyPrefix+w.ID, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save worker: %w", err)
	}
	return nil
}

// Get retrieves a worker record by id.
func (s *WorkerStore) Get(ctx context.Context, id string) (*domain.Worker, error) {
	data, err := s.client.Get(ctx, workerKeyPrefix+id).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, domain.Errorf(domain.ErrNotFound, "worker %q not found", id)
		}
		return nil, fmt.Errorf("failed to get worker: %w", err)
	}

	var w domain.Worker
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to unmarshal worker: %w", err)
	}
	return &w, nil
}

// List scans all worker records and filters in memory.
func (s *WorkerStore) List(ctx context.Context, filter ports.WorkerFilter) ([]*domain.Worker, error) {
	keys, err := scanKeys(ctx, s.client, workerKeyPrefix+"*")
	if err != nil {
		return nil, err
	}

	workers := make([]*domain.Worker, 0, len(keys))
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}

		var w domain.Worker
		if err := json.Unmarshal(data, &w); err != nil {
			s.logger.Warn("skipping malformed worker record", zap.String("key", key), zap.Error(err))
			continue
		}
		if filter.Status != "" && w.Status != filter.Status {
			continue
		}
		if filter.TemplateID != "" && w.TemplateID != filter.TemplateID {
			continue
		}
		workers = append(workers, &w)
	}
	return workers, nil
}

// Delete removes a worker record. Fails NotFound if missing.
func (s *WorkerStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, workerKeyPrefix+id).Result()
	if err != nil {
		return fmt.Errorf("failed to delete worker: %w", err)
	}
	if n == 0 {
		return domain.Errorf(domain.ErrNotFound, "worker %q not found", id)
	}
	return nil
}

// TraceStore persists trace events in a Redis list, newest at the head, so
// retention trimming is a single LTRIM.
type TraceStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewTraceStore creates a Redis trace store.
func NewTraceStore(client *redis.Client, logger *zap.Logger) *TraceStore {
	return &TraceStore{client: client, logger: logger}
}

// Append pushes an event at the head of the trace list.
func (s *TraceStore) Append(ctx context.Context, ev *domain.TraceEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal trace event: %w", err)
	}

	if err := s.client.LPush(ctx, traceListKey, data).Err(); err != nil {
		return fmt.Errorf("failed to append trace event: %w", err)
	}
	return nil
}

// List returns matching events newest-first, bounded by filter.Limit.
func (s *TraceStore) List(ctx context.Context, filter ports.TraceFilter) ([]*domain.TraceEvent, error) {
	raw, err := s.client.LRange(ctx, traceListKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read trace list: %w", err)
	}

	var out []*domain.TraceEvent
	for _, data := range raw {
		var ev domain.TraceEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			s.logger.Warn("skipping malformed trace record", zap.Error(err))
			continue
		}
		if filter.WorkerID != "" && ev.WorkerID != filter.WorkerID {
			continue
		}
		if filter.WorkItemID != "" && ev.WorkItemID != filter.WorkItemID {
			continue
		}
		if filter.Type != "" && ev.Type != filter.Type {
			continue
		}
		out = append(out, &ev)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Trim discards the oldest events beyond keep.
func (s *TraceStore) Trim(ctx context.Context, keep int) error {
	if err := s.client.LTrim(ctx, traceListKey, 0, int64(keep)-1).Err(); err != nil {
		return fmt.Errorf("failed to trim trace list: %w", err)
	}
	return nil
}

// Count returns the number of retained events.
func (s *TraceStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.LLen(ctx, traceListKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count trace list: %w", err)
	}
	return int(n), nil
}

// scanKeys collects all keys matching pattern via cursor iteration.
func scanKeys(ctx context.Context, client *redis.Client, pattern string) ([]string, error) {
	var cursor uint64
	var keys []string

	for {
		batch, next, err := client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}
