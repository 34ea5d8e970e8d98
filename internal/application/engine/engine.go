// Package engine implements the case workflow state machine: it validates
// and applies stage transitions, derives the aggregate case status, and
// commits stage status, stage payload, case status and audit entry as one
// atomic unit.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patholab/caseflow/internal/application/port"
	"github.com/patholab/caseflow/internal/domain/entity"
	"github.com/patholab/caseflow/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Policy decides whether an actor may approve, reject or finalize.
type Policy interface {
	CanApprove(actor entity.Actor) bool
}

// Engine orchestrates all case workflow transitions.
type Engine struct {
	cases   port.CaseRepository
	records port.StageRecordStore
	audit   port.AuditLog
	tx      port.TransactionManager
	policy  Policy
	logger  Logger
	now     func() time.Time
}

// New creates a workflow engine.
func New(
	cases port.CaseRepository,
	records port.StageRecordStore,
	audit port.AuditLog,
	tx port.TransactionManager,
	policy Policy,
	logger Logger,
) *Engine {
	return &Engine{
		cases:   cases,
		records: records,
		audit:   audit,
		tx:      tx,
		policy:  policy,
		logger:  logger,
		now:     time.Now,
	}
}

// CreateCaseParams carries the intake fields of a new case. The descriptive
// fields are opaque to the workflow.
type CreateCaseParams struct {
	LabID              string
	PatientRecordID    string
	ReceivedAt         time.Time
	Requester          string
	SuggestedDiagnosis string
	ClinicalNotes      string
}

// CreateCase registers a new case with all stages PENDING and aggregate
// status RECEIVED.
func (e *Engine) CreateCase(ctx context.Context, params CreateCaseParams, actor entity.Actor) (*entity.Case, error) {
	var created *entity.Case
	err := e.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if _, err := e.cases.GetByLabID(txCtx, params.LabID); err == nil {
			return fmt.Errorf("%w: %s", workflow.ErrCaseExists, params.LabID)
		}

		c := entity.NewCase(params.LabID, params.PatientRecordID)
		c.ReceivedAt = params.ReceivedAt
		c.Requester = params.Requester
		c.SuggestedDiagnosis = params.SuggestedDiagnosis
		c.ClinicalNotes = params.ClinicalNotes
		c.CreatedBy = actor.ID
		c.CreatedAt = e.now()

		if err := e.cases.Create(txCtx, c); err != nil {
			return err
		}
		created = c
		return e.appendAudit(txCtx, c.LabID, actor, entity.ActionCaseCreated,
			fmt.Sprintf("case %s created", c.LabID))
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("Case created", "lab_id", created.LabID, "created_by", actor.ID)
	return created, nil
}

// SubmitStageData writes or updates the stage's payload and moves the stage
// to IN_PROGRESS. Fails with StageLocked once the stage is awaiting approval
// or approved, and with StagePrerequisiteNotMet while the previous stage is
// not approved.
func (e *Engine) SubmitStageData(ctx context.Context, labID string, actor entity.Actor, stage workflow.Stage, payload string) (*entity.StageRecord, error) {
	var rec *entity.StageRecord
	err := e.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		c, err := e.cases.GetByLabID(txCtx, labID)
		if err != nil {
			return err
		}

		state := c.Stage(stage)
		if state.Status == workflow.StatusAwaitingApproval || state.Status == workflow.StatusApproved {
			return fmt.Errorf("%w: %s stage of case %s", workflow.ErrStageLocked, stage, labID)
		}
		if err := checkPrerequisite(c, stage); err != nil {
			return err
		}

		rec = &entity.StageRecord{
			CaseID:    labID,
			Stage:     stage,
			Payload:   payload,
			UpdatedAt: e.now(),
		}
		if err := e.records.Put(txCtx, rec); err != nil {
			return err
		}

		now := e.now()
		state.Status = workflow.StatusInProgress
		state.FilledBy = actor.ID
		state.FilledAt = &now
		c.RecomputeStatus()

		if err := e.cases.Save(txCtx, c); err != nil {
			return err
		}
		return e.appendAudit(txCtx, labID, actor, entity.SavedAction(stage),
			fmt.Sprintf("case %s: %s data recorded", labID, stageName(stage)))
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("Stage data recorded", "lab_id", labID, "stage", stage.String(), "actor", actor.ID)
	return rec, nil
}

// RequestApproval moves a stage from IN_PROGRESS or REJECTED to
// AWAITING_APPROVAL. The stage must have recorded data and its predecessor
// must be approved.
func (e *Engine) RequestApproval(ctx context.Context, labID string, actor entity.Actor, stage workflow.Stage) error {
	err := e.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		c, err := e.cases.GetByLabID(txCtx, labID)
		if err != nil {
			return err
		}

		rec, err := e.records.Get(txCtx, labID, stage)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("%w: %s stage of case %s", workflow.ErrNoDataRecorded, stage, labID)
		}
		if err := checkPrerequisite(c, stage); err != nil {
			return err
		}

		state := c.Stage(stage)
		if !workflow.CanTransition(state.Status, workflow.StatusAwaitingApproval) {
			return fmt.Errorf("%w: %s stage of case %s is %s", workflow.ErrInvalidStageState, stage, labID, state.Status)
		}

		state.Status = workflow.StatusAwaitingApproval
		c.RecomputeStatus()

		if err := e.cases.Save(txCtx, c); err != nil {
			return err
		}
		return e.appendAudit(txCtx, labID, actor, entity.SubmittedAction(stage),
			fmt.Sprintf("case %s: %s submitted for approval", labID, stageName(stage)))
	})
	if err != nil {
		return err
	}
	e.logger.Info("Approval requested", "lab_id", labID, "stage", stage.String(), "actor", actor.ID)
	return nil
}

// ApproveStage moves a stage from AWAITING_APPROVAL to APPROVED. Only actors
// satisfying the approver policy may call it. Approving a stage opens the
// gate for the next stage, which stays PENDING until its first submission.
func (e *Engine) ApproveStage(ctx context.Context, labID string, actor entity.Actor, stage workflow.Stage) error {
	err := e.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if !e.policy.CanApprove(actor) {
			return fmt.Errorf("%w: role %s may not approve", workflow.ErrUnauthorized, actor.Role)
		}

		c, err := e.cases.GetByLabID(txCtx, labID)
		if err != nil {
			return err
		}
		if err := checkPrerequisite(c, stage); err != nil {
			return err
		}

		state := c.Stage(stage)
		if !workflow.CanTransition(state.Status, workflow.StatusApproved) {
			return fmt.Errorf("%w: %s stage of case %s is %s", workflow.ErrInvalidStageState, stage, labID, state.Status)
		}

		now := e.now()
		state.Status = workflow.StatusApproved
		state.ApprovedBy = actor.ID
		state.ApprovedAt = &now
		c.RecomputeStatus()

		if err := e.cases.Save(txCtx, c); err != nil {
			return err
		}
		return e.appendAudit(txCtx, labID, actor, entity.ApprovedAction(stage),
			fmt.Sprintf("case %s: %s approved", labID, stageName(stage)))
	})
	if err != nil {
		return err
	}
	e.logger.Info("Stage approved", "lab_id", labID, "stage", stage.String(), "actor", actor.ID)
	return nil
}

// RejectStage moves a stage from AWAITING_APPROVAL back to REJECTED so it can
// be re-edited. Same permission and prerequisite shape as ApproveStage.
func (e *Engine) RejectStage(ctx context.Context, labID string, actor entity.Actor, stage workflow.Stage) error {
	err := e.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if !e.policy.CanApprove(actor) {
			return fmt.Errorf("%w: role %s may not reject", workflow.ErrUnauthorized, actor.Role)
		}

		c, err := e.cases.GetByLabID(txCtx, labID)
		if err != nil {
			return err
		}
		if err := checkPrerequisite(c, stage); err != nil {
			return err
		}

		state := c.Stage(stage)
		if !workflow.CanTransition(state.Status, workflow.StatusRejected) {
			return fmt.Errorf("%w: %s stage of case %s is %s", workflow.ErrInvalidStageState, stage, labID, state.Status)
		}

		state.Status = workflow.StatusRejected
		c.RecomputeStatus()

		if err := e.cases.Save(txCtx, c); err != nil {
			return err
		}
		return e.appendAudit(txCtx, labID, actor, entity.RejectedAction(stage),
			fmt.Sprintf("case %s: %s rejected", labID, stageName(stage)))
	})
	if err != nil {
		return err
	}
	e.logger.Info("Stage rejected", "lab_id", labID, "stage", stage.String(), "actor", actor.ID)
	return nil
}

// FinalizeCase signs off a case whose three stages are all approved. The
// case becomes terminal; a second call fails with AlreadyFinalized.
func (e *Engine) FinalizeCase(ctx context.Context, labID string, actor entity.Actor) error {
	err := e.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		c, err := e.cases.GetByLabID(txCtx, labID)
		if err != nil {
			return err
		}
		if c.Finalized() {
			return fmt.Errorf("%w: case %s", workflow.ErrAlreadyFinalized, labID)
		}
		if !e.policy.CanApprove(actor) {
			return fmt.Errorf("%w: role %s may not finalize", workflow.ErrUnauthorized, actor.Role)
		}
		if !c.AllStagesApproved() {
			return fmt.Errorf("%w: case %s", workflow.ErrWorkflowIncomplete, labID)
		}

		now := e.now()
		c.FinalizedBy = actor.ID
		c.FinalizedAt = &now
		c.RecomputeStatus()

		if err := e.cases.Save(txCtx, c); err != nil {
			return err
		}
		return e.appendAudit(txCtx, labID, actor, entity.ActionCaseFinalized,
			fmt.Sprintf("case %s finalized", labID))
	})
	if err != nil {
		return err
	}
	e.logger.Info("Case finalized", "lab_id", labID, "actor", actor.ID)
	return nil
}

// GetCase returns the case aggregate.
func (e *Engine) GetCase(ctx context.Context, labID string) (*entity.Case, error) {
	return e.cases.GetByLabID(ctx, labID)
}

// ListCases returns a page of cases.
func (e *Engine) ListCases(ctx context.Context, limit, offset int) ([]*entity.Case, error) {
	return e.cases.List(ctx, limit, offset)
}

// AuditTrail returns the audit entries of a case, oldest first.
func (e *Engine) AuditTrail(ctx context.Context, labID string) ([]*entity.AuditLogEntry, error) {
	return e.audit.GetByCaseID(ctx, labID)
}

// StageData returns the recorded payload of a stage, or nil when absent.
func (e *Engine) StageData(ctx context.Context, labID string, stage workflow.Stage) (*entity.StageRecord, error) {
	return e.records.Get(ctx, labID, stage)
}

// checkPrerequisite enforces the sequential gate: a stage may be acted on
// only once its predecessor is approved. The first stage has no gate.
func checkPrerequisite(c *entity.Case, stage workflow.Stage) error {
	pred, ok := stage.Predecessor()
	if !ok {
		return nil
	}
	if c.Stage(pred).Status != workflow.StatusApproved {
		return fmt.Errorf("%w: %s stage of case %s requires approved %s", workflow.ErrStagePrerequisiteNotMet, stage, c.LabID, pred)
	}
	return nil
}

func (e *Engine) appendAudit(ctx context.Context, caseID string, actor entity.Actor, action, detail string) error {
	entry := &entity.AuditLogEntry{
		CaseID:    caseID,
		Action:    action,
		Detail:    detail,
		Timestamp: e.now(),
	}
	if actor.ID != "" {
		actorID := actor.ID
		entry.ActorID = &actorID
	}
	return e.audit.Append(ctx, entry)
}

func stageName(stage workflow.Stage) string {
	return strings.ToLower(stage.String())
}
