package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/patholab/caseflow/internal/application/port"
	"github.com/patholab/caseflow/internal/domain/entity"
	"github.com/patholab/caseflow/internal/domain/workflow"
	sqlitedb "github.com/patholab/caseflow/internal/infrastructure/persistence/sqlite"
)

// CaseRepository implements port.CaseRepository over sqlite. One row per
// case holds the three stage blocks alongside the derived aggregate status.
type CaseRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewCaseRepository creates a new case repository
func NewCaseRepository(db *sql.DB, logger *zap.Logger) port.CaseRepository {
	return &CaseRepository{
		db:     db,
		logger: logger,
	}
}

const caseColumns = `
	lab_id, patient_record_id, received_at, requester,
	suggested_diagnosis, clinical_notes, status,
	created_by, created_at, finalized_by, finalized_at,
	gross_status, gross_filled_by, gross_filled_at,
	gross_approved_by, gross_approved_at,
	preparation_status, preparation_filled_by, preparation_filled_at,
	preparation_approved_by, preparation_approved_at,
	microscopic_status, microscopic_filled_by, microscopic_filled_at,
	microscopic_approved_by, microscopic_approved_at`

// Create inserts a new case row
func (r *CaseRepository) Create(ctx context.Context, c *entity.Case) error {
	query := `
		INSERT INTO cases (` + caseColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := sqlitedb.ExecutorFrom(ctx, r.db).ExecContext(ctx, query, caseArgs(c)...)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("%w: %s", workflow.ErrCaseExists, c.LabID)
		}
		r.logger.Error("Failed to create case", zap.String("lab_id", c.LabID), zap.Error(err))
		return fmt.Errorf("%w: insert case %s: %v", workflow.ErrPersistence, c.LabID, err)
	}
	return nil
}

// GetByLabID retrieves a case by its laboratory id
func (r *CaseRepository) GetByLabID(ctx context.Context, labID string) (*entity.Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases WHERE lab_id = ?`

	row := sqlitedb.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, labID)
	c, err := scanCase(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", workflow.ErrCaseNotFound, labID)
		}
		r.logger.Error("Failed to get case", zap.String("lab_id", labID), zap.Error(err))
		return nil, fmt.Errorf("%w: query case %s: %v", workflow.ErrPersistence, labID, err)
	}
	return c, nil
}

// Save persists the stage blocks, finalization fields and the derived
// aggregate status of an existing case
func (r *CaseRepository) Save(ctx context.Context, c *entity.Case) error {
	query := `
		UPDATE cases SET
			status = ?, finalized_by = ?, finalized_at = ?,
			gross_status = ?, gross_filled_by = ?, gross_filled_at = ?,
			gross_approved_by = ?, gross_approved_at = ?,
			preparation_status = ?, preparation_filled_by = ?, preparation_filled_at = ?,
			preparation_approved_by = ?, preparation_approved_at = ?,
			microscopic_status = ?, microscopic_filled_by = ?, microscopic_filled_at = ?,
			microscopic_approved_by = ?, microscopic_approved_at = ?
		WHERE lab_id = ?
	`

	args := []interface{}{
		c.Status.String(), nullStr(c.FinalizedBy), nullTime(c.FinalizedAt),
	}
	for _, stage := range workflow.Stages {
		state := c.Stage(stage)
		args = append(args,
			state.Status.String(),
			nullStr(state.FilledBy), nullTime(state.FilledAt),
			nullStr(state.ApprovedBy), nullTime(state.ApprovedAt),
		)
	}
	args = append(args, c.LabID)

	result, err := sqlitedb.ExecutorFrom(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to save case", zap.String("lab_id", c.LabID), zap.Error(err))
		return fmt.Errorf("%w: update case %s: %v", workflow.ErrPersistence, c.LabID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", workflow.ErrPersistence, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", workflow.ErrCaseNotFound, c.LabID)
	}
	return nil
}

// List retrieves a page of cases, most recently created first
func (r *CaseRepository) List(ctx context.Context, limit, offset int) ([]*entity.Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases ORDER BY created_at DESC LIMIT ? OFFSET ?`

	rows, err := sqlitedb.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list cases", zap.Error(err))
		return nil, fmt.Errorf("%w: list cases: %v", workflow.ErrPersistence, err)
	}
	defer rows.Close()

	var cases []*entity.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan case: %v", workflow.ErrPersistence, err)
		}
		cases = append(cases, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate cases: %v", workflow.ErrPersistence, err)
	}
	return cases, nil
}

// scanner covers both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCase(row scanner) (*entity.Case, error) {
	var (
		c                      entity.Case
		receivedAt             sql.NullTime
		requester              sql.NullString
		suggestedDiagnosis     sql.NullString
		clinicalNotes          sql.NullString
		status                 string
		createdBy              sql.NullString
		finalizedBy            sql.NullString
		finalizedAt            sql.NullTime
		stageStatus            [3]string
		stageFilledBy          [3]sql.NullString
		stageFilledAt          [3]sql.NullTime
		stageApprovedBy        [3]sql.NullString
		stageApprovedAt        [3]sql.NullTime
	)

	dest := []interface{}{
		&c.LabID, &c.PatientRecordID, &receivedAt, &requester,
		&suggestedDiagnosis, &clinicalNotes, &status,
		&createdBy, &c.CreatedAt, &finalizedBy, &finalizedAt,
	}
	for i := range workflow.Stages {
		dest = append(dest,
			&stageStatus[i], &stageFilledBy[i], &stageFilledAt[i],
			&stageApprovedBy[i], &stageApprovedAt[i],
		)
	}

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	if receivedAt.Valid {
		c.ReceivedAt = receivedAt.Time
	}
	c.Requester = requester.String
	c.SuggestedDiagnosis = suggestedDiagnosis.String
	c.ClinicalNotes = clinicalNotes.String
	c.Status = workflow.CaseStatus(status)
	c.CreatedBy = createdBy.String
	c.FinalizedBy = finalizedBy.String
	c.FinalizedAt = timePtr(finalizedAt)

	c.Stages = make(map[workflow.Stage]*entity.StageState, len(workflow.Stages))
	for i, stage := range workflow.Stages {
		c.Stages[stage] = &entity.StageState{
			Status:     workflow.StageStatus(stageStatus[i]),
			FilledBy:   stageFilledBy[i].String,
			FilledAt:   timePtr(stageFilledAt[i]),
			ApprovedBy: stageApprovedBy[i].String,
			ApprovedAt: timePtr(stageApprovedAt[i]),
		}
	}
	return &c, nil
}

func caseArgs(c *entity.Case) []interface{} {
	args := []interface{}{
		c.LabID, c.PatientRecordID, nullTimeVal(c.ReceivedAt), nullStr(c.Requester),
		nullStr(c.SuggestedDiagnosis), nullStr(c.ClinicalNotes), c.Status.String(),
		nullStr(c.CreatedBy), c.CreatedAt, nullStr(c.FinalizedBy), nullTime(c.FinalizedAt),
	}
	for _, stage := range workflow.Stages {
		state := c.Stage(stage)
		args = append(args,
			state.Status.String(),
			nullStr(state.FilledBy), nullTime(state.FilledAt),
			nullStr(state.ApprovedBy), nullTime(state.ApprovedAt),
		)
	}
	return args
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimeVal(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// Verify interface compliance
var _ port.CaseRepository = (*CaseRepository)(nil)
