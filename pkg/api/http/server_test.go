package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mvidal/crewd/internal/application/assignment"
	"github.com/mvidal/crewd/internal/application/pool"
	"github.com/mvidal/crewd/internal/application/trace"
	"github.com/mvidal/crewd/internal/application/workflow"
	"github.com/mvidal/crewd/internal/domain"
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

type stubRuntime struct {
	mu      sync.Mutex
	started int
	prompts []string
	reply   string
	tokens  int64
}

func (r *stubRuntime) StartSession(ctx context.Context, tpl *domain.Template) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
	return fmt.Sprintf("sess-%d", r.started), nil
}

func (r *stubRuntime) Prompt(ctx context.Context, sessionID, text string) (string, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, text)
	return r.reply, r.tokens, nil
}

func (r *stubRuntime) EndSession(ctx context.Context, sessionID string) error {
	return nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	logger := zap.NewNop()
	items := memory.NewWorkItemStore()
	templates := memory.NewTemplateStore()
	rt := &stubRuntime{}

	p, err := pool.New(memory.NewWorkerStore(), nopMetrics{}, logger, 10, 200000)
	require.NoError(t, err)

	engine := workflow.NewEngine(items, nopMetrics{}, logger, map[domain.Transition]bool{
		domain.TransitionBacklogToReady: true,
		domain.TransitionReviewToDone:   true,
	})

	hub, err := trace.NewHub(memory.NewTraceStore(), nopMetrics{}, logger, 100)
	require.NoError(t, err)

	roleTemplates := map[domain.Role]string{
		domain.RoleRefiner:     "tpl-any",
		domain.RoleImplementer: "tpl-any",
		domain.RoleTester:      "tpl-any",
		domain.RoleReviewer:    "tpl-any",
	}
	require.NoError(t, templates.Create(context.Background(), &domain.Template{
		ID:        "tpl-any",
		Name:      "general",
		CreatedAt: time.Now(),
	}))

	assigner, err := assignment.New(p, engine, items, templates, rt, nopMetrics{}, logger, roleTemplates)
	require.NoError(t, err)

	return NewServer(&Config{
		Port:      0,
		Pool:      p,
		Engine:    engine,
		Assigner:  assigner,
		Hub:       hub,
		Items:     items,
		Templates: templates,
		Runtime:   rt,
		Logger:    logger,
	})
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	decode(t, rec, &body)
	assert.Equal(t, "healthy", body["status"])
}

func TestWorkItemCRUDOverHTTP(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/workitems", CreateWorkItemRequest{
		Title:           "build the parser",
		Type:            domain.TypeFeature,
		SuccessCriteria: []string{"parses valid input"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created domain.WorkItem
	decode(t, rec, &created)
	assert.Equal(t, domain.StatusBacklog, created.Status)
	require.Len(t, created.SuccessCriteria, 1)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/workitems/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/workitems?status=backlog", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Total int `json:"total"`
	}
	decode(t, rec, &list)
	assert.Equal(t, 1, list.Total)

	newTitle := "build the lexer"
	rec = doJSON(t, s, http.MethodPatch, "/api/v1/workitems/"+created.ID, UpdateWorkItemRequest{
		Title: &newTitle,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated domain.WorkItem
	decode(t, rec, &updated)
	assert.Equal(t, newTitle, updated.Title)

	rec = doJSON(t, s, http.MethodDelete, "/api/v1/workitems/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/workitems/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateWorkItemValidation(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/workitems", map[string]string{
		"title": "no type",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/workitems", map[string]string{
		"title": "bad type",
		"type":  "epic",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body ErrorResponse
	decode(t, rec, &body)
	assert.Equal(t, "invalid_argument", body.Error.Code)
}

func TestTransitionEndpointMapsApprovalConflict(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/workitems", CreateWorkItemRequest{
		Title: "gated item",
		Type:  domain.TypeTask,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created domain.WorkItem
	decode(t, rec, &created)

	// backlog_to_ready is gated in this fixture.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/workitems/"+created.ID+"/transition", TransitionRequest{
		Target: domain.StatusReady,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	var body ErrorResponse
	decode(t, rec, &body)
	assert.Equal(t, "approval_required", body.Error.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/workitems/"+created.ID+"/transition", TransitionRequest{
		Target:     domain.StatusReady,
		ApprovedBy: "alice",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// Illegal pair is a conflict too.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/workitems/"+created.ID+"/transition", TransitionRequest{
		Target: domain.StatusDone,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	decode(t, rec, &body)
	assert.Equal(t, "invalid_transition", body.Error.Code)
}

func TestAssignEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/workitems", CreateWorkItemRequest{
		Title: "assignable",
		Type:  domain.TypeFeature,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created domain.WorkItem
	decode(t, rec, &created)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/workitems/"+created.ID+"/transition", TransitionRequest{
		Target:     domain.StatusReady,
		ApprovedBy: "alice",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/workitems/"+created.ID+"/assign", AssignRequest{
		Role: domain.RoleImplementer,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result assignment.Result
	decode(t, rec, &result)
	assert.Equal(t, assignment.StatusAssigned, result.Status)
	assert.NotEmpty(t, result.WorkerID)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/workers/"+result.WorkerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var worker domain.Worker
	decode(t, rec, &worker)
	assert.Equal(t, domain.WorkerStatusWorking, worker.Status)
}

func TestSpawnAndTerminateWorker(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/workers", SpawnWorkerRequest{
		TemplateID: "tpl-any",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var worker domain.Worker
	decode(t, rec, &worker)
	assert.Equal(t, domain.WorkerStatusIdle, worker.Status)
	assert.NotEmpty(t, worker.SessionID)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/workers/"+worker.ID+"/terminate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &worker)
	assert.Equal(t, domain.WorkerStatusTerminated, worker.Status)

	// Spawning from an unknown template is a 404.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/workers", SpawnWorkerRequest{
		TemplateID: "missing",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPromptWorker(t *testing.T) {
	s := newTestServer(t)
	rt := s.runtime.(*stubRuntime)
	rt.reply = "the parser handles nested blocks"
	rt.tokens = 321

	rec := doJSON(t, s, http.MethodPost, "/api/v1/workers", SpawnWorkerRequest{
		TemplateID: "tpl-any",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var worker domain.Worker
	decode(t, rec, &worker)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/workers/"+worker.ID+"/prompt", PromptRequest{
		Text: "summarize the parser design",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Reply      string        `json:"reply"`
		TokensUsed int64         `json:"tokens_used"`
		Worker     domain.Worker `json:"worker"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, "the parser handles nested blocks", resp.Reply)
	assert.Equal(t, int64(321), resp.TokensUsed)
	assert.Equal(t, int64(321), resp.Worker.Metrics.TokensUsed)
	assert.Equal(t, []string{"summarize the parser design"}, rt.prompts)

	// A missing body is rejected before the runtime is reached.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/workers/"+worker.ID+"/prompt", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Terminated workers no longer accept prompts.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/workers/"+worker.ID+"/terminate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, s, http.MethodPost, "/api/v1/workers/"+worker.ID+"/prompt", PromptRequest{
		Text: "still there?",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPoolEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/pool", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPut, "/api/v1/pool/max-workers", SetMaxWorkersRequest{
		MaxWorkers: 3,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPut, "/api/v1/pool/max-workers", map[string]int{
		"max_workers": 0,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTraceIngestAndHistory(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/traces", IngestTraceRequest{
		WorkerID:   "w-1",
		WorkItemID: "item-1",
		Type:       domain.TraceToolCall,
		Payload:    map[string]interface{}{"tool": "grep"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/traces", IngestTraceRequest{
		WorkerID: "w-2",
		Type:     domain.TraceError,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/traces?worker_id=w-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Total int `json:"total"`
	}
	decode(t, rec, &list)
	assert.Equal(t, 1, list.Total)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/workitems/item-1/traces", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &list)
	assert.Equal(t, 1, list.Total)
}

func TestTemplateEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/templates", CreateTemplateRequest{
		Name:        "reviewer",
		DefaultRole: domain.RoleReviewer,
		Model:       "claude-sonnet-4-20250514",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var tpl domain.Template
	decode(t, rec, &tpl)
	assert.NotEmpty(t, tpl.ID)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/templates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Total int `json:"total"`
	}
	decode(t, rec, &list)
	assert.Equal(t, 2, list.Total) // fixture template plus the new one

	rec = doJSON(t, s, http.MethodDelete, "/api/v1/templates/"+tpl.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
