package entity

import (
	"time"

	"github.com/patholab/caseflow/internal/domain/workflow"
)

// StageState holds the workflow bookkeeping of a single stage. The stage
// payload itself lives in the stage record store, not here.
type StageState struct {
	Status     workflow.StageStatus `json:"status"`
	FilledBy   string               `json:"filled_by,omitempty"`
	FilledAt   *time.Time           `json:"filled_at,omitempty"`
	ApprovedBy string               `json:"approved_by,omitempty"`
	ApprovedAt *time.Time           `json:"approved_at,omitempty"`
}

// Case is the aggregate tracked through the three-stage pipeline. It owns
// the per-stage status blocks and the derived aggregate status; descriptive
// clinical content is opaque to the workflow engine.
type Case struct {
	LabID              string              `json:"lab_id"`
	PatientRecordID    string              `json:"patient_record_id"`
	ReceivedAt         time.Time           `json:"received_at"`
	Requester          string              `json:"requester"`
	SuggestedDiagnosis string              `json:"suggested_diagnosis,omitempty"`
	ClinicalNotes      string              `json:"clinical_notes,omitempty"`
	Status             workflow.CaseStatus `json:"status"`
	CreatedBy          string              `json:"created_by,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	FinalizedBy        string              `json:"finalized_by,omitempty"`
	FinalizedAt        *time.Time          `json:"finalized_at,omitempty"`

	Stages map[workflow.Stage]*StageState `json:"stages"`
}

// NewCase creates a case with all stages PENDING and aggregate status
// RECEIVED.
func NewCase(labID, patientRecordID string) *Case {
	c := &Case{
		LabID:           labID,
		PatientRecordID: patientRecordID,
		Status:          workflow.CaseReceived,
		Stages:          make(map[workflow.Stage]*StageState, len(workflow.Stages)),
	}
	for _, stage := range workflow.Stages {
		c.Stages[stage] = &StageState{Status: workflow.StatusPending}
	}
	return c
}

// Stage returns the state block for the given stage, creating a PENDING one
// if the map was loaded sparsely.
func (c *Case) Stage(stage workflow.Stage) *StageState {
	if c.Stages == nil {
		c.Stages = make(map[workflow.Stage]*StageState, len(workflow.Stages))
	}
	state, ok := c.Stages[stage]
	if !ok {
		state = &StageState{Status: workflow.StatusPending}
		c.Stages[stage] = state
	}
	return state
}

// Finalized reports whether the case has reached its terminal state.
func (c *Case) Finalized() bool {
	return c.FinalizedAt != nil
}

// AllStagesApproved reports whether every stage of the pipeline is APPROVED.
func (c *Case) AllStagesApproved() bool {
	for _, stage := range workflow.Stages {
		if c.Stage(stage).Status != workflow.StatusApproved {
			return false
		}
	}
	return true
}

// RecomputeStatus rederives the aggregate status from the per-stage statuses
// and the finalized flag. Called inside every mutating transaction; the
// stored status column is a query convenience, never an input.
func (c *Case) RecomputeStatus() {
	statuses := make(map[workflow.Stage]workflow.StageStatus, len(workflow.Stages))
	for _, stage := range workflow.Stages {
		statuses[stage] = c.Stage(stage).Status
	}
	c.Status = workflow.DeriveCaseStatus(statuses, c.Finalized())
}
