package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/patholab/caseflow/internal/application/port"
	"github.com/patholab/caseflow/internal/domain/entity"
	"github.com/patholab/caseflow/internal/domain/workflow"
	sqlitedb "github.com/patholab/caseflow/internal/infrastructure/persistence/sqlite"
)

// AuditLogRepository implements port.AuditLog. Entries are append-only;
// there is no update or delete path.
type AuditLogRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAuditLogRepository creates a new audit log repository
func NewAuditLogRepository(db *sql.DB, logger *zap.Logger) port.AuditLog {
	return &AuditLogRepository{
		db:     db,
		logger: logger,
	}
}

// Append inserts one audit entry
func (r *AuditLogRepository) Append(ctx context.Context, e *entity.AuditLogEntry) error {
	query := `
		INSERT INTO audit_log (case_id, actor_id, action, detail, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	var actorID sql.NullString
	if e.ActorID != nil {
		actorID = sql.NullString{String: *e.ActorID, Valid: true}
	}

	result, err := sqlitedb.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		e.CaseID, actorID, e.Action, e.Detail, e.Timestamp)
	if err != nil {
		r.logger.Error("Failed to append audit entry", zap.String("case_id", e.CaseID), zap.Error(err))
		return fmt.Errorf("%w: append audit entry: %v", workflow.ErrPersistence, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("%w: last insert id: %v", workflow.ErrPersistence, err)
	}
	e.ID = id
	return nil
}

// GetByCaseID retrieves all audit entries for a case, oldest first
func (r *AuditLogRepository) GetByCaseID(ctx context.Context, caseID string) ([]*entity.AuditLogEntry, error) {
	query := `
		SELECT id, case_id, actor_id, action, detail, timestamp
		FROM audit_log
		WHERE case_id = ?
		ORDER BY id ASC
	`

	rows, err := sqlitedb.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, caseID)
	if err != nil {
		r.logger.Error("Failed to get audit entries", zap.String("case_id", caseID), zap.Error(err))
		return nil, fmt.Errorf("%w: query audit entries: %v", workflow.ErrPersistence, err)
	}
	defer rows.Close()

	var entries []*entity.AuditLogEntry
	for rows.Next() {
		var (
			e       entity.AuditLogEntry
			actorID sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.CaseID, &actorID, &e.Action, &e.Detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("%w: scan audit entry: %v", workflow.ErrPersistence, err)
		}
		if actorID.Valid {
			v := actorID.String
			e.ActorID = &v
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate audit entries: %v", workflow.ErrPersistence, err)
	}
	return entries, nil
}

// Verify interface compliance
var _ port.AuditLog = (*AuditLogRepository)(nil)
