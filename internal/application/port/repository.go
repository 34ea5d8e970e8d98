package port

import (
	"context"

	"github.com/patholab/caseflow/internal/domain/entity"
	"github.com/patholab/caseflow/internal/domain/workflow"
)

// CaseRepository defines persistence operations for the Case aggregate.
// Implementations must honor the transaction carried in the context so a
// load-validate-mutate-save cycle forms one atomic unit.
type CaseRepository interface {
	Create(ctx context.Context, c *entity.Case) error
	GetByLabID(ctx context.Context, labID string) (*entity.Case, error)
	// Save persists the stage blocks, finalization fields and the derived
	// aggregate status of an existing case.
	Save(ctx context.Context, c *entity.Case) error
	List(ctx context.Context, limit, offset int) ([]*entity.Case, error)
}

// AuditLog is the append-only record of state-changing actions. Append must
// run inside the same transaction as the mutation it documents.
type AuditLog interface {
	Append(ctx context.Context, e *entity.AuditLogEntry) error
	GetByCaseID(ctx context.Context, caseID string) ([]*entity.AuditLogEntry, error)
}

// StageRecordStore holds opaque per-stage payloads keyed by case and stage.
// Get returns (nil, nil) when no record exists.
type StageRecordStore interface {
	Put(ctx context.Context, rec *entity.StageRecord) error
	Get(ctx context.Context, caseID string, stage workflow.Stage) (*entity.StageRecord, error)
}

// TransactionManager handles database transactions.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
