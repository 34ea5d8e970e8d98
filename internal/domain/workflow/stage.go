package workflow

import "strings"

// Stage represents one of the three sequential diagnostic phases of a case.
type Stage string

const (
	StageGross       Stage = "GROSS"
	StagePreparation Stage = "PREPARATION"
	StageMicroscopic Stage = "MICROSCOPIC"
)

// Stages lists the pipeline in processing order. The order is fixed: a stage
// may leave PENDING only after its predecessor is APPROVED.
var Stages = []Stage{StageGross, StagePreparation, StageMicroscopic}

// predecessors maps each stage to the stage that gates it. The first stage
// has no entry.
var predecessors = map[Stage]Stage{
	StagePreparation: StageGross,
	StageMicroscopic: StagePreparation,
}

var validStages = map[Stage]bool{
	StageGross:       true,
	StagePreparation: true,
	StageMicroscopic: true,
}

// Predecessor returns the stage that must be approved before this one can
// start, and false for the first stage.
func (s Stage) Predecessor() (Stage, bool) {
	pred, ok := predecessors[s]
	return pred, ok
}

// Next returns the stage that follows this one, and false for the last stage.
func (s Stage) Next() (Stage, bool) {
	for i, st := range Stages {
		if st == s && i+1 < len(Stages) {
			return Stages[i+1], true
		}
	}
	return "", false
}

// IsValid returns true if the stage is one of the three pipeline stages.
func (s Stage) IsValid() bool {
	return validStages[s]
}

// String returns the string representation of the stage.
func (s Stage) String() string {
	return string(s)
}

// ParseStage parses a case-insensitive stage name.
func ParseStage(raw string) (Stage, bool) {
	s := Stage(strings.ToUpper(raw))
	return s, s.IsValid()
}
