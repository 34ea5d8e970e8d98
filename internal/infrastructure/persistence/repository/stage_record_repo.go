package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/patholab/caseflow/internal/application/port"
	"github.com/patholab/caseflow/internal/domain/entity"
	"github.com/patholab/caseflow/internal/domain/workflow"
	sqlitedb "github.com/patholab/caseflow/internal/infrastructure/persistence/sqlite"
)

// StageRecordRepository implements port.StageRecordStore. Payloads are
// opaque blobs keyed by (case_id, stage); a resubmission overwrites.
type StageRecordRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStageRecordRepository creates a new stage record repository
func NewStageRecordRepository(db *sql.DB, logger *zap.Logger) port.StageRecordStore {
	return &StageRecordRepository{
		db:     db,
		logger: logger,
	}
}

// Put writes or overwrites the payload for a case stage
func (r *StageRecordRepository) Put(ctx context.Context, rec *entity.StageRecord) error {
	query := `
		INSERT INTO stage_records (case_id, stage, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(case_id, stage) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`

	_, err := sqlitedb.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		rec.CaseID, rec.Stage.String(), rec.Payload, rec.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to put stage record",
			zap.String("case_id", rec.CaseID),
			zap.String("stage", rec.Stage.String()),
			zap.Error(err))
		return fmt.Errorf("%w: put stage record: %v", workflow.ErrPersistence, err)
	}
	return nil
}

// Get retrieves the payload for a case stage, or (nil, nil) when absent
func (r *StageRecordRepository) Get(ctx context.Context, caseID string, stage workflow.Stage) (*entity.StageRecord, error) {
	query := `
		SELECT case_id, stage, payload, updated_at
		FROM stage_records
		WHERE case_id = ? AND stage = ?
	`

	var (
		rec      entity.StageRecord
		stageStr string
	)
	err := sqlitedb.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, caseID, stage.String()).
		Scan(&rec.CaseID, &stageStr, &rec.Payload, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get stage record",
			zap.String("case_id", caseID),
			zap.String("stage", stage.String()),
			zap.Error(err))
		return nil, fmt.Errorf("%w: query stage record: %v", workflow.ErrPersistence, err)
	}
	rec.Stage = workflow.Stage(stageStr)
	return &rec, nil
}

// Verify interface compliance
var _ port.StageRecordStore = (*StageRecordRepository)(nil)
