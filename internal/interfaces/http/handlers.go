package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/patholab/caseflow/internal/application/engine"
	"github.com/patholab/caseflow/internal/domain/entity"
	"github.com/patholab/caseflow/internal/domain/workflow"
	"github.com/patholab/caseflow/pkg/utils"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	workflow WorkflowService
	logger   Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(workflow WorkflowService, logger Logger) *Handlers {
	return &Handlers{
		workflow: workflow,
		logger:   logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// CreateCaseRequest carries the intake fields of a new case
type CreateCaseRequest struct {
	LabID              string `json:"lab_id" binding:"required"`
	PatientRecordID    string `json:"patient_record_id" binding:"required"`
	ReceivedAt         string `json:"received_at"`
	Requester          string `json:"requester"`
	SuggestedDiagnosis string `json:"suggested_diagnosis"`
	ClinicalNotes      string `json:"clinical_notes"`
}

// SubmitStageDataRequest carries the examination findings for a stage
type SubmitStageDataRequest struct {
	Payload string `json:"payload" binding:"required"`
}

// StageStateResponse represents one stage block in API responses
type StageStateResponse struct {
	Status     string  `json:"status"`
	FilledBy   string  `json:"filled_by,omitempty"`
	FilledAt   *string `json:"filled_at,omitempty"`
	ApprovedBy string  `json:"approved_by,omitempty"`
	ApprovedAt *string `json:"approved_at,omitempty"`
}

// CaseResponse represents a case in API responses
type CaseResponse struct {
	LabID              string                        `json:"lab_id"`
	PatientRecordID    string                        `json:"patient_record_id"`
	ReceivedAt         *string                       `json:"received_at,omitempty"`
	Requester          string                        `json:"requester,omitempty"`
	SuggestedDiagnosis string                        `json:"suggested_diagnosis,omitempty"`
	ClinicalNotes      string                        `json:"clinical_notes,omitempty"`
	Status             string                        `json:"status"`
	CreatedBy          string                        `json:"created_by,omitempty"`
	CreatedAt          string                        `json:"created_at"`
	FinalizedBy        string                        `json:"finalized_by,omitempty"`
	FinalizedAt        *string                       `json:"finalized_at,omitempty"`
	Stages             map[string]StageStateResponse `json:"stages"`
}

// StageRecordResponse represents a stage payload in API responses
type StageRecordResponse struct {
	CaseID    string `json:"case_id"`
	Stage     string `json:"stage"`
	Payload   string `json:"payload"`
	UpdatedAt string `json:"updated_at"`
}

// AuditEntryResponse represents one audit trail entry in API responses
type AuditEntryResponse struct {
	ID        int64   `json:"id"`
	CaseID    string  `json:"case_id"`
	ActorID   *string `json:"actor_id,omitempty"`
	Action    string  `json:"action"`
	Detail    string  `json:"detail,omitempty"`
	Timestamp string  `json:"timestamp"`
}

// ListCasesRequest represents query parameters for listing cases
type ListCasesRequest struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    response,
	})
}

// CreateCase handles POST /api/cases
func (h *Handlers) CreateCase(c *gin.Context) {
	actor, ok := h.actorFrom(c)
	if !ok {
		return
	}

	var req CreateCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid create case request", "error", err)
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	if err := utils.ValidateLabID(req.LabID); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}

	params := engine.CreateCaseParams{
		LabID:              req.LabID,
		PatientRecordID:    utils.SanitizeString(req.PatientRecordID),
		Requester:          utils.SanitizeString(req.Requester),
		SuggestedDiagnosis: utils.SanitizeString(req.SuggestedDiagnosis),
		ClinicalNotes:      utils.SanitizeString(req.ClinicalNotes),
	}
	if req.ReceivedAt != "" {
		receivedAt, err := time.Parse(time.RFC3339, req.ReceivedAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, Response{Success: false, Error: "received_at must be RFC 3339"})
			return
		}
		params.ReceivedAt = receivedAt
	}

	created, err := h.workflow.CreateCase(c.Request.Context(), params, actor)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    toCaseResponse(created),
	})
}

// ListCases handles GET /api/cases
func (h *Handlers) ListCases(c *gin.Context) {
	var req ListCasesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", "error", err)
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid query parameters"})
		return
	}

	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 20
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	cases, err := h.workflow.ListCases(c.Request.Context(), req.Limit, req.Offset)
	if err != nil {
		h.respondError(c, err)
		return
	}

	responseCases := make([]CaseResponse, 0, len(cases))
	for _, cs := range cases {
		responseCases = append(responseCases, toCaseResponse(cs))
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    responseCases,
	})
}

// GetCase handles GET /api/cases/:id
func (h *Handlers) GetCase(c *gin.Context) {
	cs, err := h.workflow.GetCase(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    toCaseResponse(cs),
	})
}

// GetAuditTrail handles GET /api/cases/:id/audit
func (h *Handlers) GetAuditTrail(c *gin.Context) {
	labID := c.Param("id")

	// The trail of an unknown case is empty, not an error; resolve the
	// case first so callers get a 404.
	if _, err := h.workflow.GetCase(c.Request.Context(), labID); err != nil {
		h.respondError(c, err)
		return
	}

	entries, err := h.workflow.AuditTrail(c.Request.Context(), labID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	responseEntries := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		responseEntries = append(responseEntries, AuditEntryResponse{
			ID:        e.ID,
			CaseID:    e.CaseID,
			ActorID:   e.ActorID,
			Action:    e.Action,
			Detail:    e.Detail,
			Timestamp: e.Timestamp.Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    responseEntries,
	})
}

// GetStageData handles GET /api/cases/:id/stages/:stage
func (h *Handlers) GetStageData(c *gin.Context) {
	stage, ok := h.stageFrom(c)
	if !ok {
		return
	}

	labID := c.Param("id")
	if _, err := h.workflow.GetCase(c.Request.Context(), labID); err != nil {
		h.respondError(c, err)
		return
	}

	rec, err := h.workflow.StageData(c.Request.Context(), labID, stage)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "no data recorded for stage"})
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: StageRecordResponse{
			CaseID:    rec.CaseID,
			Stage:     rec.Stage.String(),
			Payload:   rec.Payload,
			UpdatedAt: rec.UpdatedAt.Format(time.RFC3339),
		},
	})
}

// SubmitStageData handles PUT /api/cases/:id/stages/:stage
func (h *Handlers) SubmitStageData(c *gin.Context) {
	actor, ok := h.actorFrom(c)
	if !ok {
		return
	}
	stage, ok := h.stageFrom(c)
	if !ok {
		return
	}

	var req SubmitStageDataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid stage data request", "error", err)
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	rec, err := h.workflow.SubmitStageData(c.Request.Context(), c.Param("id"), actor, stage, req.Payload)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: StageRecordResponse{
			CaseID:    rec.CaseID,
			Stage:     rec.Stage.String(),
			Payload:   rec.Payload,
			UpdatedAt: rec.UpdatedAt.Format(time.RFC3339),
		},
	})
}

// RequestApproval handles POST /api/cases/:id/stages/:stage/request-approval
func (h *Handlers) RequestApproval(c *gin.Context) {
	h.stageAction(c, h.workflow.RequestApproval)
}

// ApproveStage handles POST /api/cases/:id/stages/:stage/approve
func (h *Handlers) ApproveStage(c *gin.Context) {
	h.stageAction(c, h.workflow.ApproveStage)
}

// RejectStage handles POST /api/cases/:id/stages/:stage/reject
func (h *Handlers) RejectStage(c *gin.Context) {
	h.stageAction(c, h.workflow.RejectStage)
}

// FinalizeCase handles POST /api/cases/:id/finalize
func (h *Handlers) FinalizeCase(c *gin.Context) {
	actor, ok := h.actorFrom(c)
	if !ok {
		return
	}

	labID := c.Param("id")
	if err := h.workflow.FinalizeCase(c.Request.Context(), labID, actor); err != nil {
		h.respondError(c, err)
		return
	}

	cs, err := h.workflow.GetCase(c.Request.Context(), labID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    toCaseResponse(cs),
	})
}

// stageAction runs one of the request-approval/approve/reject transitions
// and responds with the refreshed case.
func (h *Handlers) stageAction(c *gin.Context, fn func(ctx context.Context, labID string, actor entity.Actor, stage workflow.Stage) error) {
	actor, ok := h.actorFrom(c)
	if !ok {
		return
	}
	stage, ok := h.stageFrom(c)
	if !ok {
		return
	}

	labID := c.Param("id")
	if err := fn(c.Request.Context(), labID, actor, stage); err != nil {
		h.respondError(c, err)
		return
	}

	cs, err := h.workflow.GetCase(c.Request.Context(), labID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    toCaseResponse(cs),
	})
}

// actorFrom resolves the acting user from the X-Actor-ID and X-Actor-Role
// headers. Authentication itself lives upstream; these headers are the
// trusted identity the gateway forwards.
func (h *Handlers) actorFrom(c *gin.Context) (entity.Actor, bool) {
	id := c.GetHeader("X-Actor-ID")
	role := c.GetHeader("X-Actor-Role")
	if id == "" || role == "" {
		c.JSON(http.StatusUnauthorized, Response{Success: false, Error: "missing actor headers"})
		return entity.Actor{}, false
	}
	if !entity.IsValidRole(role) {
		c.JSON(http.StatusUnauthorized, Response{Success: false, Error: "unknown actor role"})
		return entity.Actor{}, false
	}
	return entity.Actor{ID: id, Role: role}, true
}

// stageFrom parses the :stage path parameter
func (h *Handlers) stageFrom(c *gin.Context) (workflow.Stage, bool) {
	stage, ok := workflow.ParseStage(c.Param("stage"))
	if !ok {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "unknown stage"})
		return "", false
	}
	return stage, true
}

// respondError maps typed workflow errors to HTTP status codes
func (h *Handlers) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, workflow.ErrCaseNotFound):
		status = http.StatusNotFound
	case errors.Is(err, workflow.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, workflow.ErrCaseExists),
		errors.Is(err, workflow.ErrStageLocked),
		errors.Is(err, workflow.ErrInvalidStageState),
		errors.Is(err, workflow.ErrAlreadyFinalized):
		status = http.StatusConflict
	case errors.Is(err, workflow.ErrStagePrerequisiteNotMet),
		errors.Is(err, workflow.ErrNoDataRecorded),
		errors.Is(err, workflow.ErrWorkflowIncomplete):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, workflow.ErrPersistence):
		status = http.StatusInternalServerError
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", "error", err)
	}
	c.JSON(status, Response{Success: false, Error: err.Error()})
}

// toCaseResponse converts domain entity to API response
func toCaseResponse(cs *entity.Case) CaseResponse {
	resp := CaseResponse{
		LabID:              cs.LabID,
		PatientRecordID:    cs.PatientRecordID,
		Requester:          cs.Requester,
		SuggestedDiagnosis: cs.SuggestedDiagnosis,
		ClinicalNotes:      cs.ClinicalNotes,
		Status:             cs.Status.String(),
		CreatedBy:          cs.CreatedBy,
		CreatedAt:          cs.CreatedAt.Format(time.RFC3339),
		FinalizedBy:        cs.FinalizedBy,
		FinalizedAt:        timeString(cs.FinalizedAt),
		Stages:             make(map[string]StageStateResponse, len(workflow.Stages)),
	}

	if !cs.ReceivedAt.IsZero() {
		received := cs.ReceivedAt.Format(time.RFC3339)
		resp.ReceivedAt = &received
	}

	for _, stage := range workflow.Stages {
		state := cs.Stage(stage)
		resp.Stages[stage.String()] = StageStateResponse{
			Status:     state.Status.String(),
			FilledBy:   state.FilledBy,
			FilledAt:   timeString(state.FilledAt),
			ApprovedBy: state.ApprovedBy,
			ApprovedAt: timeString(state.ApprovedAt),
		}
	}
	return resp
}

func timeString(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
