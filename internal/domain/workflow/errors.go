package workflow

import "errors"

var (
	// ErrStageLocked is returned when editing a stage that is already
	// awaiting approval or approved.
	ErrStageLocked = errors.New("stage is locked for editing")

	// ErrStagePrerequisiteNotMet is returned when acting on a stage whose
	// predecessor is not approved yet.
	ErrStagePrerequisiteNotMet = errors.New("previous stage not approved")

	// ErrNoDataRecorded is returned when requesting approval for a stage
	// that has no recorded data.
	ErrNoDataRecorded = errors.New("no stage data recorded")

	// ErrInvalidStageState is returned when a transition is not legal from
	// the current stage status.
	ErrInvalidStageState = errors.New("transition not allowed from current stage status")

	// ErrUnauthorized is returned when the actor's role does not permit
	// approval or finalization.
	ErrUnauthorized = errors.New("actor not authorized")

	// ErrWorkflowIncomplete is returned when finalizing a case before all
	// three stages are approved.
	ErrWorkflowIncomplete = errors.New("not all stages approved")

	// ErrAlreadyFinalized is returned when finalizing a case that is
	// already terminal.
	ErrAlreadyFinalized = errors.New("case already finalized")

	// ErrCaseNotFound is returned when the referenced case does not exist.
	ErrCaseNotFound = errors.New("case not found")

	// ErrCaseExists is returned when creating a case with a lab id that is
	// already taken.
	ErrCaseExists = errors.New("case already exists")

	// ErrPersistence wraps storage-layer failures. Callers should treat it
	// as transient and may retry.
	ErrPersistence = errors.New("persistence failure")
)
