package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mvidal/crewd/internal/application/assignment"
	"github.com/mvidal/crewd/internal/domain"
	"github.com/mvidal/crewd/internal/ports"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError maps a core failure to its HTTP status.
func (s *Server) writeError(c *gin.Context, err error) {
	code := domain.CodeOf(err)

	var status int
	switch code {
	case domain.ErrNotFound:
		status = http.StatusNotFound
	case domain.ErrInvalidArgument:
		status = http.StatusBadRequest
	case domain.ErrInvalidState, domain.ErrInvalidTransition,
		domain.ErrApprovalRequired, domain.ErrNotAssignable,
		domain.ErrCapacityExceeded:
		status = http.StatusConflict
	default:
		code = "internal"
		status = http.StatusInternalServerError
		s.logger.Error("internal error", zap.Error(err))
	}

	c.JSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    string(code),
			Message: err.Error(),
		},
	})
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(c *gin.Context) {
	summary := s.pool.GetPool()
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"pool": gin.H{
			"total":  summary.Total,
			"active": summary.Active,
			"idle":   summary.Idle,
		},
	})
}

// CreateWorkItemRequest is the work item creation payload.
type CreateWorkItemRequest struct {
	Title           string                     `json:"title" binding:"required"`
	Type            domain.WorkItemType        `json:"type" binding:"required"`
	Description     string                     `json:"description"`
	SuccessCriteria []string                   `json:"success_criteria"`
	ParentID        string                     `json:"parent_id"`
	BlockedBy       []string                   `json:"blocked_by"`
	Overrides       map[domain.Transition]bool `json:"approval_overrides"`
}

// handleCreateWorkItem creates a work item in backlog.
func (s *Server) handleCreateWorkItem(c *gin.Context) {
	var req CreateWorkItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, domain.Errorf(domain.ErrInvalidArgument, "invalid request: %v", err))
		return
	}
	if !req.Type.Valid() {
		s.writeError(c, domain.Errorf(domain.ErrInvalidArgument, "unknown work item type %q", req.Type))
		return
	}

	now := time.Now()
	item := &domain.WorkItem{
		ID:                uuid.New().String(),
		Title:             req.Title,
		Type:              req.Type,
		Status:            domain.StatusBacklog,
		Description:       req.Description,
		ParentID:          req.ParentID,
		BlockedBy:         req.BlockedBy,
		ApprovalOverrides: req.Overrides,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	for _, desc := range req.SuccessCriteria {
		item.SuccessCriteria = append(item.SuccessCriteria, domain.SuccessCriterion{
			ID:          uuid.New().String(),
			Description: desc,
		})
	}

	if err := s.items.Create(c.Request.Context(), item); err != nil {
		s.writeError(c, err)
		return
	}

	// Record the child on its parent. Advisory only, no cascade.
	if item.ParentID != "" {
		if _, err := s.engine.Update(c.Request.Context(), item.ParentID, func(parent *domain.WorkItem) error {
			parent.ChildIDs = append(parent.ChildIDs, item.ID)
			return nil
		}); err != nil {
			s.logger.Warn("failed to record child on parent work item",
				zap.String("work_item_id", item.ID),
				zap.String("parent_id", item.ParentID),
				zap.Error(err))
		}
	}

	c.JSON(http.StatusCreated, item)
}

// handleListWorkItems lists work items, optionally filtered by status/type.
func (s *Server) handleListWorkItems(c *gin.Context) {
	filter := ports.WorkItemFilter{
		Status: domain.WorkItemStatus(c.Query("status")),
		Type:   domain.WorkItemType(c.Query("type")),
	}

	items, err := s.items.List(c.Request.Context(), filter)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"workitems": items,
		"total":     len(items),
	})
}

// handleGetWorkItem returns a single work item.
func (s *Server) handleGetWorkItem(c *gin.Context) {
	item, err := s.items.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// UpdateWorkItemRequest is the partial work item update payload. Status is
// deliberately absent; status moves go through the transition endpoint.
type UpdateWorkItemRequest struct {
	Title       *string                    `json:"title"`
	Description *string                    `json:"description"`
	BlockedBy   *[]string                  `json:"blocked_by"`
	Overrides   map[domain.Transition]bool `json:"approval_overrides"`

	// VerifyCriterion marks one success criterion verified.
	VerifyCriterion *VerifyCriterionRequest `json:"verify_criterion"`
}

// VerifyCriterionRequest marks a success criterion complete.
type VerifyCriterionRequest struct {
	CriterionID string `json:"criterion_id" binding:"required"`
	VerifiedBy  string `json:"verified_by" binding:"required"`
}

// handleUpdateWorkItem applies a partial update.
func (s *Server) handleUpdateWorkItem(c *gin.Context) {
	var req UpdateWorkItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, domain.Errorf(domain.ErrInvalidArgument, "invalid request: %v", err))
		return
	}

	item, err := s.engine.Update(c.Request.Context(), c.Param("id"), func(item *domain.WorkItem) error {
		if req.Title != nil {
			item.Title = *req.Title
		}
		if req.Description != nil {
			item.Description = *req.Description
		}
		if req.BlockedBy != nil {
			item.BlockedBy = *req.BlockedBy
		}
		for k, v := range req.Overrides {
			if item.ApprovalOverrides == nil {
				item.ApprovalOverrides = make(map[domain.Transition]bool)
			}
			item.ApprovalOverrides[k] = v
		}
		if req.VerifyCriterion != nil {
			found := false
			for i := range item.SuccessCriteria {
				if item.SuccessCriteria[i].ID == req.VerifyCriterion.CriterionID {
					now := time.Now()
					item.SuccessCriteria[i].Completed = true
					item.SuccessCriteria[i].VerifiedBy = req.VerifyCriterion.VerifiedBy
					item.SuccessCriteria[i].VerifiedAt = &now
					found = true
					break
				}
			}
			if !found {
				return domain.Errorf(domain.ErrNotFound, "success criterion %q not found", req.VerifyCriterion.CriterionID)
			}
		}
		return nil
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, item)
}

// handleDeleteWorkItem removes a work item.
func (s *Server) handleDeleteWorkItem(c *gin.Context) {
	if err := s.items.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// TransitionRequest carries a status transition request.
type TransitionRequest struct {
	Target     domain.WorkItemStatus `json:"target" binding:"required"`
	ApprovedBy string                `json:"approved_by"`
}

// handleTransition executes a work item status transition.
func (s *Server) handleTransition(c *gin.Context) {
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, domain.Errorf(domain.ErrInvalidArgument, "invalid request: %v", err))
		return
	}

	item, err := s.engine.ExecuteTransition(c.Request.Context(), c.Param("id"), req.Target, req.ApprovedBy)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, item)
}

// AssignRequest carries a work assignment request.
type AssignRequest struct {
	Role domain.Role `json:"role" binding:"required"`
}

// handleAssign routes a work item to a worker, queueing on saturation.
func (s *Server) handleAssign(c *gin.Context) {
	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, domain.Errorf(domain.ErrInvalidArgument, "invalid request: %v", err))
		return
	}

	result, err := s.assigner.Assign(c.Request.Context(), c.Param("id"), req.Role)
	if err != nil {
		s.writeError(c, err)
		return
	}

	status := http.StatusOK
	if result.Status == assignment.StatusQueued {
		status = http.StatusAccepted
	}
	c.JSON(status, result)
}

// handleWorkItemTraces returns persisted trace history for one work item.
func (s *Server) handleWorkItemTraces(c *gin.Context) {
	events, err := s.hub.History(c.Request.Context(), ports.TraceFilter{
		WorkItemID: c.Param("id"),
		Limit:      parseLimit(c.Query("limit")),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"total":  len(events),
	})
}

// CreateTemplateRequest is the template creation payload.
type CreateTemplateRequest struct {
	Name         string                 `json:"name" binding:"required"`
	Description  string                 `json:"description"`
	DefaultRole  domain.Role            `json:"default_role"`
	SystemPrompt string                 `json:"system_prompt"`
	Model        string                 `json:"model"`
	Permissions  map[string]interface{} `json:"permissions"`
	Tools        []string               `json:"tools"`
	AllowedTypes []domain.WorkItemType  `json:"allowed_types"`
}

// handleCreateTemplate creates a worker template.
func (s *Server) handleCreateTemplate(c *gin.Context) {
	var req CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, domain.Errorf(domain.ErrInvalidArgument, "invalid request: %v", err))
		return
	}
	if req.DefaultRole != "" && !req.DefaultRole.Valid() {
		s.writeError(c, domain.Errorf(domain.ErrInvalidArgument, "unknown role %q", req.DefaultRole))
		return
	}

	tpl := &domain.Template{
		ID:           uuid.New().String(),
		Name:         req.Name,
		Description:  req.Description,
		DefaultRole:  req.DefaultRole,
		SystemPrompt: req.SystemPrompt,
		Model:        req.Model,
		Permissions:  req.Permissions,
		Tools:        req.Tools,
		AllowedTypes: req.AllowedTypes,
		CreatedAt:    time.Now(),
	}

	if err := s.templates.Create(c.Request.Context(), tpl); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, tpl)
}

// handleListTemplates lists all templates.
func (s *Server) handleListTemplates(c *gin.Context) {
	tpls, err := s.templates.List(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"templates": tpls,
		"total":     len(tpls),
	})
}

// handleGetTemplate returns a single template.
func (s *Server) handleGetTemplate(c *gin.Context) {
	tpl, err := s.templates.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tpl)
}

// handleDeleteTemplate removes a template.
func (s *Server) handleDeleteTemplate(c *gin.Context) {
	if err := s.templates.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SpawnWorkerRequest is the worker spawn payload.
type SpawnWorkerRequest struct {
	TemplateID string `json:"template_id" binding:"required"`
}

// handleSpawnWorker spawns a worker from a template, minting a runtime
// session for it.
func (s *Server) handleSpawnWorker(c *gin.Context) {
	var req SpawnWorkerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, domain.Errorf(domain.ErrInvalidArgument, "invalid request: %v", err))
		return
	}

	tpl, err := s.templates.Get(c.Request.Context(), req.TemplateID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	sessionID, err := s.runtime.StartSession(c.Request.Context(), tpl)
	if err != nil {
		s.writeError(c, err)
		return
	}

	worker, err := s.pool.Spawn(c.Request.Context(), tpl.ID, sessionID)
	if err != nil {
		if endErr := s.runtime.EndSession(c.Request.Context(), sessionID); endErr != nil {
			s.logger.Warn("failed to end orphaned session",
				zap.String("session_id", sessionID),
				zap.Error(endErr))
		}
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, worker)
}

// handleGetWorker returns a single worker.
func (s *Server) handleGetWorker(c *gin.Context) {
	worker, err := s.pool.Get(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, worker)
}

// handlePauseWorker pauses a working worker.
func (s *Server) handlePauseWorker(c *gin.Context) {
	worker, err := s.pool.Pause(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, worker)
}

// handleResumeWorker resumes a paused worker.
func (s *Server) handleResumeWorker(c *gin.Context) {
	worker, err := s.pool.Resume(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, worker)
}

// handleTerminateWorker terminates a worker and ends its session.
func (s *Server) handleTerminateWorker(c *gin.Context) {
	worker, err := s.pool.Terminate(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	if worker.SessionID != "" {
		if err := s.runtime.EndSession(c.Request.Context(), worker.SessionID); err != nil {
			s.logger.Warn("failed to end session for terminated worker",
				zap.String("worker_id", worker.ID),
				zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, worker)
}

// handleCompleteWork clears a worker's assignment.
func (s *Server) handleCompleteWork(c *gin.Context) {
	worker, err := s.pool.CompleteWork(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, worker)
}

// ReportErrorRequest carries a worker error report.
type ReportErrorRequest struct {
	Message string `json:"message" binding:"required"`
}

// handleReportError records a worker execution error.
func (s *Server) handleReportError(c *gin.Context) {
	var req ReportErrorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, domain.Errorf(domain.ErrInvalidArgument, "invalid request: %v", err))
		return
	}

	worker, err := s.pool.ReportError(c.Request.Context(), c.Param("id"), req.Message)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, worker)
}

// handleUpdateMetrics applies a metrics delta to a worker.
func (s *Server) handleUpdateMetrics(c *gin.Context) {
	var delta domain.MetricsDelta
	if err := c.ShouldBindJSON(&delta); err != nil {
		s.writeError(c, domain.Errorf(domain.ErrInvalidArgument, "invalid request: %v", err))
		return
	}

	worker, err := s.pool.UpdateMetrics(c.Request.Context(), c.Param("id"), delta)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, worker)
}

// PromptRequest carries text to relay into a worker's session.
type PromptRequest struct {
	Text string `json:"text" binding:"required"`
}

// handlePromptWorker relays a prompt into a worker's runtime session and
// charges the consumed tokens against the worker's metrics.
func (s *Server) handlePromptWorker(c *gin.Context) {
	var req PromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, domain.Errorf(domain.ErrInvalidArgument, "invalid request: %v", err))
		return
	}

	worker, err := s.pool.Get(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if worker.Status == domain.WorkerStatusTerminated {
		s.writeError(c, domain.Errorf(domain.ErrInvalidState, "worker %s is terminated", worker.ID))
		return
	}
	if worker.SessionID == "" {
		s.writeError(c, domain.Errorf(domain.ErrInvalidState, "worker %s has no session", worker.ID))
		return
	}

	reply, tokens, err := s.runtime.Prompt(c.Request.Context(), worker.SessionID, req.Text)
	if err != nil {
		s.writeError(c, err)
		return
	}

	worker, err = s.pool.UpdateMetrics(c.Request.Context(), worker.ID, domain.MetricsDelta{TokensUsed: tokens})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reply":       reply,
		"tokens_used": tokens,
		"worker":      worker,
	})
}

// handleGetPool returns the pool summary.
func (s *Server) handleGetPool(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"pool":        s.pool.GetPool(),
		"queue_depth": s.assigner.QueueDepth(),
	})
}

// SetMaxWorkersRequest carries a pool ceiling change.
type SetMaxWorkersRequest struct {
	MaxWorkers int `json:"max_workers" binding:"required"`
}

// handleSetMaxWorkers changes the pool ceiling.
func (s *Server) handleSetMaxWorkers(c *gin.Context) {
	var req SetMaxWorkersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, domain.Errorf(domain.ErrInvalidArgument, "invalid request: %v", err))
		return
	}

	if err := s.pool.SetMaxWorkers(req.MaxWorkers); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"max_workers": req.MaxWorkers})
}

// IngestTraceRequest is the trace ingestion payload.
type IngestTraceRequest struct {
	WorkerID   string                 `json:"worker_id"`
	WorkItemID string                 `json:"work_item_id"`
	Type       domain.TraceEventType  `json:"type" binding:"required"`
	Payload    map[string]interface{} `json:"payload"`
	Timestamp  *time.Time             `json:"timestamp"`
}

// handleIngestTrace accepts a trace event from the execution side.
func (s *Server) handleIngestTrace(c *gin.Context) {
	var req IngestTraceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, domain.Errorf(domain.ErrInvalidArgument, "invalid request: %v", err))
		return
	}

	ev := &domain.TraceEvent{
		WorkerID:   req.WorkerID,
		WorkItemID: req.WorkItemID,
		Type:       req.Type,
		Payload:    req.Payload,
	}
	if req.Timestamp != nil {
		ev.Timestamp = *req.Timestamp
	}

	if err := s.hub.Ingest(c.Request.Context(), ev); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, ev)
}

// handleListTraces returns persisted trace history.
func (s *Server) handleListTraces(c *gin.Context) {
	events, err := s.hub.History(c.Request.Context(), ports.TraceFilter{
		WorkerID:   c.Query("worker_id"),
		WorkItemID: c.Query("work_item_id"),
		Type:       domain.TraceEventType(c.Query("type")),
		Limit:      parseLimit(c.Query("limit")),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"total":  len(events),
	})
}

func parseLimit(raw string) int {
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
