package entity

import (
	"time"

	"github.com/patholab/caseflow/internal/domain/workflow"
)

// Audit action kinds, one per state-changing operation.
const (
	ActionCaseCreated   = "CASE_CREATED"
	ActionCaseFinalized = "CASE_FINALIZED"

	ActionGrossSaved     = "GROSS_SAVED"
	ActionGrossSubmitted = "GROSS_SUBMITTED"
	ActionGrossApproved  = "GROSS_APPROVED"
	ActionGrossRejected  = "GROSS_REJECTED"

	ActionPreparationSaved     = "PREPARATION_SAVED"
	ActionPreparationSubmitted = "PREPARATION_SUBMITTED"
	ActionPreparationApproved  = "PREPARATION_APPROVED"
	ActionPreparationRejected  = "PREPARATION_REJECTED"

	ActionMicroscopicSaved     = "MICROSCOPIC_SAVED"
	ActionMicroscopicSubmitted = "MICROSCOPIC_SUBMITTED"
	ActionMicroscopicApproved  = "MICROSCOPIC_APPROVED"
	ActionMicroscopicRejected  = "MICROSCOPIC_REJECTED"
)

var savedActions = map[workflow.Stage]string{
	workflow.StageGross:       ActionGrossSaved,
	workflow.StagePreparation: ActionPreparationSaved,
	workflow.StageMicroscopic: ActionMicroscopicSaved,
}

var submittedActions = map[workflow.Stage]string{
	workflow.StageGross:       ActionGrossSubmitted,
	workflow.StagePreparation: ActionPreparationSubmitted,
	workflow.StageMicroscopic: ActionMicroscopicSubmitted,
}

var approvedActions = map[workflow.Stage]string{
	workflow.StageGross:       ActionGrossApproved,
	workflow.StagePreparation: ActionPreparationApproved,
	workflow.StageMicroscopic: ActionMicroscopicApproved,
}

var rejectedActions = map[workflow.Stage]string{
	workflow.StageGross:       ActionGrossRejected,
	workflow.StagePreparation: ActionPreparationRejected,
	workflow.StageMicroscopic: ActionMicroscopicRejected,
}

// SavedAction returns the audit action kind for a data save on the stage.
func SavedAction(stage workflow.Stage) string { return savedActions[stage] }

// SubmittedAction returns the audit action kind for an approval request on
// the stage.
func SubmittedAction(stage workflow.Stage) string { return submittedActions[stage] }

// ApprovedAction returns the audit action kind for an approval of the stage.
func ApprovedAction(stage workflow.Stage) string { return approvedActions[stage] }

// RejectedAction returns the audit action kind for a rejection of the stage.
func RejectedAction(stage workflow.Stage) string { return rejectedActions[stage] }

// AuditLogEntry is one immutable row of the append-only audit trail. ActorID
// is nullable so history survives actor deletion.
type AuditLogEntry struct {
	ID        int64     `json:"id"`
	CaseID    string    `json:"case_id"`
	ActorID   *string   `json:"actor_id,omitempty"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}
