package workflow

// StageStatus represents the progress marker of a single stage.
type StageStatus string

const (
	StatusPending          StageStatus = "PENDING"
	StatusInProgress       StageStatus = "IN_PROGRESS"
	StatusAwaitingApproval StageStatus = "AWAITING_APPROVAL"
	StatusApproved         StageStatus = "APPROVED"
	StatusRejected         StageStatus = "REJECTED"
)

var validStageStatuses = map[StageStatus]bool{
	StatusPending:          true,
	StatusInProgress:       true,
	StatusAwaitingApproval: true,
	StatusApproved:         true,
	StatusRejected:         true,
}

// stageTransitions is the complete legal stage-status transition matrix.
// APPROVED is terminal for a stage; everything not listed here is illegal.
var stageTransitions = map[StageStatus]map[StageStatus]bool{
	StatusPending: {
		StatusInProgress: true,
	},
	StatusInProgress: {
		StatusInProgress:       true,
		StatusAwaitingApproval: true,
	},
	StatusRejected: {
		StatusInProgress:       true,
		StatusAwaitingApproval: true,
	},
	StatusAwaitingApproval: {
		StatusApproved: true,
		StatusRejected: true,
	},
	StatusApproved: {},
}

// CanTransition reports whether a stage may move from one status to another.
func CanTransition(from, to StageStatus) bool {
	return stageTransitions[from][to]
}

// IsValid returns true if the status is a known stage status.
func (s StageStatus) IsValid() bool {
	return validStageStatuses[s]
}

// String returns the string representation of the stage status.
func (s StageStatus) String() string {
	return string(s)
}

// CaseStatus is the case-wide status derived from the three stage statuses
// and the finalized flag. It is never set independently.
type CaseStatus string

const (
	CaseReceived                    CaseStatus = "RECEIVED"
	CaseInGross                     CaseStatus = "IN_GROSS"
	CaseAwaitingGrossApproval       CaseStatus = "AWAITING_GROSS_APPROVAL"
	CaseInPreparation               CaseStatus = "IN_PREPARATION"
	CaseAwaitingPreparationApproval CaseStatus = "AWAITING_PREPARATION_APPROVAL"
	CaseInMicroscopic               CaseStatus = "IN_MICROSCOPIC"
	CaseAwaitingMicroscopicApproval CaseStatus = "AWAITING_MICROSCOPIC_APPROVAL"
	CaseAwaitingFinalApproval       CaseStatus = "AWAITING_FINAL_APPROVAL"
	CaseFinalized                   CaseStatus = "FINALIZED"
)

// String returns the string representation of the case status.
func (s CaseStatus) String() string {
	return string(s)
}

// inProgressCaseStatus maps a stage to the aggregate status while that stage
// is being worked on (or is next up after its predecessor's approval).
var inProgressCaseStatus = map[Stage]CaseStatus{
	StageGross:       CaseInGross,
	StagePreparation: CaseInPreparation,
	StageMicroscopic: CaseInMicroscopic,
}

// awaitingCaseStatus maps a stage to the aggregate status while that stage is
// awaiting approval.
var awaitingCaseStatus = map[Stage]CaseStatus{
	StageGross:       CaseAwaitingGrossApproval,
	StagePreparation: CaseAwaitingPreparationApproval,
	StageMicroscopic: CaseAwaitingMicroscopicApproval,
}

// DeriveCaseStatus computes the aggregate case status as a pure function of
// the per-stage statuses and the finalized flag. The furthest-advanced stage
// wins: an approved stage hands the aggregate to its successor, the last
// stage's approval yields AWAITING_FINAL_APPROVAL.
func DeriveCaseStatus(stages map[Stage]StageStatus, finalized bool) CaseStatus {
	if finalized {
		return CaseFinalized
	}
	for i := len(Stages) - 1; i >= 0; i-- {
		stage := Stages[i]
		switch stages[stage] {
		case StatusApproved:
			if next, ok := stage.Next(); ok {
				return inProgressCaseStatus[next]
			}
			return CaseAwaitingFinalApproval
		case StatusAwaitingApproval:
			return awaitingCaseStatus[stage]
		case StatusInProgress, StatusRejected:
			return inProgressCaseStatus[stage]
		}
	}
	return CaseReceived
}
