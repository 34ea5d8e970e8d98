package entity

import (
	"time"

	"github.com/patholab/caseflow/internal/domain/workflow"
)

// StageRecord is the opaque payload of one stage of one case. The workflow
// engine checks presence only; content validation is the caller's concern.
type StageRecord struct {
	CaseID    string         `json:"case_id"`
	Stage     workflow.Stage `json:"stage"`
	Payload   string         `json:"payload"`
	UpdatedAt time.Time      `json:"updated_at"`
}
