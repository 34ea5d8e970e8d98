package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patholab/caseflow/internal/domain/entity"
	"github.com/patholab/caseflow/internal/domain/policy"
	"github.com/patholab/caseflow/internal/domain/workflow"
)

// In-memory fakes

type fakeCaseRepo struct {
	cases   map[string]*entity.Case
	saveErr error
}

func newFakeCaseRepo() *fakeCaseRepo {
	return &fakeCaseRepo{cases: make(map[string]*entity.Case)}
}

func (f *fakeCaseRepo) Create(ctx context.Context, c *entity.Case) error {
	f.cases[c.LabID] = c
	return nil
}

func (f *fakeCaseRepo) GetByLabID(ctx context.Context, labID string) (*entity.Case, error) {
	c, ok := f.cases[labID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", workflow.ErrCaseNotFound, labID)
	}
	return c, nil
}

func (f *fakeCaseRepo) Save(ctx context.Context, c *entity.Case) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.cases[c.LabID] = c
	return nil
}

func (f *fakeCaseRepo) List(ctx context.Context, limit, offset int) ([]*entity.Case, error) {
	var out []*entity.Case
	for _, c := range f.cases {
		out = append(out, c)
	}
	return out, nil
}

type fakeRecordStore struct {
	records map[string]map[workflow.Stage]*entity.StageRecord
	putErr  error
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{records: make(map[string]map[workflow.Stage]*entity.StageRecord)}
}

func (f *fakeRecordStore) Put(ctx context.Context, rec *entity.StageRecord) error {
	if f.putErr != nil {
		return f.putErr
	}
	if f.records[rec.CaseID] == nil {
		f.records[rec.CaseID] = make(map[workflow.Stage]*entity.StageRecord)
	}
	f.records[rec.CaseID][rec.Stage] = rec
	return nil
}

func (f *fakeRecordStore) Get(ctx context.Context, caseID string, stage workflow.Stage) (*entity.StageRecord, error) {
	return f.records[caseID][stage], nil
}

type fakeAuditLog struct {
	entries []*entity.AuditLogEntry
}

func (f *fakeAuditLog) Append(ctx context.Context, e *entity.AuditLogEntry) error {
	e.ID = int64(len(f.entries) + 1)
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeAuditLog) GetByCaseID(ctx context.Context, caseID string) ([]*entity.AuditLogEntry, error) {
	var out []*entity.AuditLogEntry
	for _, e := range f.entries {
		if e.CaseID == caseID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeTxManager struct{}

func (fakeTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type nopLogger struct{}

func (nopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Error(msg string, keysAndValues ...interface{}) {}

type testEnv struct {
	engine  *Engine
	cases   *fakeCaseRepo
	records *fakeRecordStore
	audit   *fakeAuditLog
}

func newTestEnv() *testEnv {
	cases := newFakeCaseRepo()
	records := newFakeRecordStore()
	audit := &fakeAuditLog{}
	eng := New(cases, records, audit, fakeTxManager{}, policy.ApproverPolicy{}, nopLogger{})
	return &testEnv{engine: eng, cases: cases, records: records, audit: audit}
}

var (
	student   = entity.Actor{ID: "u-aluno", Name: "Student", Role: entity.RoleStudent}
	professor = entity.Actor{ID: "u-prof", Name: "Professor", Role: entity.RoleProfessor}
	admin     = entity.Actor{ID: "u-admin", Name: "Admin", Role: entity.RoleAdmin}
)

func mustCreateCase(t *testing.T, env *testEnv, labID string) *entity.Case {
	t.Helper()
	c, err := env.engine.CreateCase(context.Background(), CreateCaseParams{
		LabID:           labID,
		PatientRecordID: "PRONT-42",
		Requester:       "Dr. Souza",
	}, student)
	require.NoError(t, err)
	return c
}

func TestCreateCase(t *testing.T) {
	env := newTestEnv()
	c := mustCreateCase(t, env, "LAB001")

	assert.Equal(t, workflow.CaseReceived, c.Status)
	for _, stage := range workflow.Stages {
		assert.Equal(t, workflow.StatusPending, c.Stage(stage).Status)
	}

	entries, err := env.engine.AuditTrail(context.Background(), "LAB001")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entity.ActionCaseCreated, entries[0].Action)
	require.NotNil(t, entries[0].ActorID)
	assert.Equal(t, student.ID, *entries[0].ActorID)
}

func TestCreateCase_Duplicate(t *testing.T) {
	env := newTestEnv()
	mustCreateCase(t, env, "LAB001")

	_, err := env.engine.CreateCase(context.Background(), CreateCaseParams{LabID: "LAB001", PatientRecordID: "X"}, student)
	assert.ErrorIs(t, err, workflow.ErrCaseExists)
}

func TestSubmitStageData_Gross(t *testing.T) {
	env := newTestEnv()
	mustCreateCase(t, env, "LAB001")

	rec, err := env.engine.SubmitStageData(context.Background(), "LAB001", student, workflow.StageGross, `{"color":"brown"}`)
	require.NoError(t, err)
	assert.Equal(t, workflow.StageGross, rec.Stage)

	c, err := env.engine.GetCase(context.Background(), "LAB001")
	require.NoError(t, err)
	state := c.Stage(workflow.StageGross)
	assert.Equal(t, workflow.StatusInProgress, state.Status)
	assert.Equal(t, student.ID, state.FilledBy)
	require.NotNil(t, state.FilledAt)
	assert.Equal(t, workflow.CaseInGross, c.Status)

	entries, _ := env.engine.AuditTrail(context.Background(), "LAB001")
	require.Len(t, entries, 2)
	assert.Equal(t, entity.ActionGrossSaved, entries[1].Action)
}

func TestSubmitStageData_PrerequisiteNotMet(t *testing.T) {
	env := newTestEnv()
	mustCreateCase(t, env, "LAB001")

	_, err := env.engine.SubmitStageData(context.Background(), "LAB001", student, workflow.StagePreparation, "{}")
	assert.ErrorIs(t, err, workflow.ErrStagePrerequisiteNotMet)

	// No side effects on failure.
	assert.Nil(t, env.records.records["LAB001"][workflow.StagePreparation])
	entries, _ := env.engine.AuditTrail(context.Background(), "LAB001")
	assert.Len(t, entries, 1) // only CASE_CREATED
}

func TestSubmitStageData_LockedWhileAwaitingApproval(t *testing.T) {
	env := newTestEnv()
	mustCreateCase(t, env, "LAB001")

	_, err := env.engine.SubmitStageData(context.Background(), "LAB001", student, workflow.StageGross, "{}")
	require.NoError(t, err)
	require.NoError(t, env.engine.RequestApproval(context.Background(), "LAB001", student, workflow.StageGross))

	_, err = env.engine.SubmitStageData(context.Background(), "LAB001", student, workflow.StageGross, "{}")
	assert.ErrorIs(t, err, workflow.ErrStageLocked)
}

func TestSubmitStageData_LockedAfterApproval(t *testing.T) {
	env := newTestEnv()
	mustCreateCase(t, env, "LAB001")

	_, err := env.engine.SubmitStageData(context.Background(), "LAB001", student, workflow.StageGross, "{}")
	require.NoError(t, err)
	require.NoError(t, env.engine.RequestApproval(context.Background(), "LAB001", student, workflow.StageGross))
	require.NoError(t, env.engine.ApproveStage(context.Background(), "LAB001", professor, workflow.StageGross))

	// Late edit of an already-approved stage must not regress the case.
	_, err = env.engine.SubmitStageData(context.Background(), "LAB001", student, workflow.StageGross, "{}")
	assert.ErrorIs(t, err, workflow.ErrStageLocked)

	c, _ := env.engine.GetCase(context.Background(), "LAB001")
	assert.Equal(t, workflow.CaseInPreparation, c.Status)
}

func TestRequestApproval_NoDataRecorded(t *testing.T) {
	env := newTestEnv()
	mustCreateCase(t, env, "LAB001")

	err := env.engine.RequestApproval(context.Background(), "LAB001", student, workflow.StageGross)
	assert.ErrorIs(t, err, workflow.ErrNoDataRecorded)
}

func TestRequestApproval(t *testing.T) {
	env := newTestEnv()
	mustCreateCase(t, env, "LAB001")

	_, err := env.engine.SubmitStageData(context.Background(), "LAB001", student, workflow.StageGross, "{}")
	require.NoError(t, err)
	require.NoError(t, env.engine.RequestApproval(context.Background(), "LAB001", student, workflow.StageGross))

	c, _ := env.engine.GetCase(context.Background(), "LAB001")
	assert.Equal(t, workflow.StatusAwaitingApproval, c.Stage(workflow.StageGross).Status)
	assert.Equal(t, workflow.CaseAwaitingGrossApproval, c.Status)

	entries, _ := env.engine.AuditTrail(context.Background(), "LAB001")
	assert.Equal(t, entity.ActionGrossSubmitted, entries[len(entries)-1].Action)
}

func TestRequestApproval_PrerequisiteCheckedAgainstFreshState(t *testing.T) {
	env := newTestEnv()
	c := mustCreateCase(t, env, "LAB001")

	// Preparation has data and is IN_PROGRESS, but gross is not approved.
	// The gate must still hold.
	c.Stage(workflow.StagePreparation).Status = workflow.StatusInProgress
	env.records.records["LAB001"] = map[workflow.Stage]*entity.StageRecord{
		workflow.StagePreparation: {CaseID: "LAB001", Stage: workflow.StagePreparation, Payload: "{}"},
	}

	err := env.engine.RequestApproval(context.Background(), "LAB001", student, workflow.StagePreparation)
	assert.ErrorIs(t, err, workflow.ErrStagePrerequisiteNotMet)
}

func TestRequestApproval_InvalidState(t *testing.T) {
	env := newTestEnv()
	mustCreateCase(t, env, "LAB001")

	_, err := env.engine.SubmitStageData(context.Background(), "LAB001", student, workflow.StageGross, "{}")
	require.NoError(t, err)
	require.NoError(t, env.engine.RequestApproval(context.Background(), "LAB001", student, workflow.StageGross))
	require.NoError(t, env.engine.ApproveStage(context.Background(), "LAB001", professor, workflow.StageGross))

	err = env.engine.RequestApproval(context.Background(), "LAB001", student, workflow.StageGross)
	assert.ErrorIs(t, err, workflow.ErrInvalidStageState)
}

func TestApproveStage_Unauthorized(t *testing.T) {
	env := newTestEnv()
	mustCreateCase(t, env, "LAB001")

	_, err := env.engine.SubmitStageData(context.Background(), "LAB001", student, workflow.StageGross, "{}")
	require.NoError(t, err)
	require.NoError(t, env.engine.RequestApproval(context.Background(), "LAB001", student, workflow.StageGross))

	for _, actor := range []entity.Actor{
		student,
		{ID: "u2", Role: entity.RoleSeniorStudent},
		{ID: "u3", Role: entity.RoleLabTechnician},
	} {
		err := env.engine.ApproveStage(context.Background(), "LAB001", actor, workflow.StageGross)
		assert.ErrorIs(t, err, workflow.ErrUnauthorized, "role %s", actor.Role)
	}

	// Unauthorized regardless of stage status.
	err = env.engine.ApproveStage(context.Background(), "LAB001", student, workflow.StageMicroscopic)
	assert.ErrorIs(t, err, workflow.ErrUnauthorized)
}

func TestApproveStage_UnblocksNextStage(t *testing.T) {
	env := newTestEnv()
	mustCreateCase(t, env, "LAB001")

	_, err := env.engine.SubmitStageData(context.Background(), "LAB001", student, workflow.StagePreparation, "{}")
	require.ErrorIs(t, err, workflow.ErrStagePrerequisiteNotMet)

	_, err = env.engine.SubmitStageData(context.Background(), "LAB001", student, workflow.StageGross, "{}")
	require.NoError(t, err)
	require.NoError(t, env.engine.RequestApproval(context.Background(), "LAB001", student, workflow.StageGross))
	require.NoError(t, env.engine.ApproveStage(context.Background(), "LAB001", professor, workflow.StageGross))

	c, _ := env.engine.GetCase(context.Background(), "LAB001")
	gross := c.Stage(workflow.StageGross)
	assert.Equal(t, workflow.StatusApproved, gross.Status)
	assert.Equal(t, professor.ID, gross.ApprovedBy)
	require.NotNil(t, gross.ApprovedAt)

	// The gate opens but the next stage is not auto-started.
	assert.Equal(t, workflow.StatusPending, c.Stage(workflow.StagePreparation).Status)
	assert.Equal(t, workflow.CaseInPreparation, c.Status)

	_, err = env.engine.SubmitStageData(context.Background(), "LAB001", student, workflow.StagePreparation, "{}")
	assert.NoError(t, err)
}

func TestApproveStage_TwiceFailsInvalidState(t *testing.T) {
	env := newTestEnv()
	mustCreateCase(t, env, "LAB001")

	_, err := env.engine.SubmitStageData(context.Background(), "LAB001", student, workflow.StageGross, "{}")
	require.NoError(t, err)
	require.NoError(t, env.engine.RequestApproval(context.Background(), "LAB001", student, workflow.StageGross))
	require.NoError(t, env.engine.ApproveStage(context.Background(), "LAB001", professor, workflow.StageGross))

	err = env.engine.ApproveStage(context.Background(), "LAB001", professor, workflow.StageGross)
	assert.ErrorIs(t, err, workflow.ErrInvalidStageState)
}

func TestRejectStage(t *testing.T) {
	env := newTestEnv()
	mustCreateCase(t, env, "LAB001")

	_, err := env.engine.SubmitStageData(context.Background(), "LAB001", student, workflow.StageGross, "{}")
	require.NoError(t, err)
	require.NoError(t, env.engine.RequestApproval(context.Background(), "LAB001", student, workflow.StageGross))
	require.NoError(t, env.engine.RejectStage(context.Background(), "LAB001", professor, workflow.StageGross))

	c, _ := env.engine.GetCase(context.Background(), "LAB001")
	state := c.Stage(workflow.StageGross)
	assert.Equal(t, workflow.StatusRejected, state.Status)
	assert.Empty(t, state.ApprovedBy)
	assert.Equal(t, student.ID, state.FilledBy)
	assert.Equal(t, workflow.CaseInGross, c.Status)

	entries, _ := env.engine.AuditTrail(context.Background(), "LAB001")
	assert.Equal(t, entity.ActionGrossRejected, entries[len(entries)-1].Action)

	// A rejected stage can be re-edited and resubmitted.
	_, err = env.engine.SubmitStageData(context.Background(), "LAB001", student, workflow.StageGross, "{}")
	require.NoError(t, err)
	require.NoError(t, env.engine.RequestApproval(context.Background(), "LAB001", student, workflow.StageGross))
}

func TestRejectStage_RequiresAwaitingApproval(t *testing.T) {
	env := newTestEnv()
	mustCreateCase(t, env, "LAB001")

	_, err := env.engine.SubmitStageData(context.Background(), "LAB001", student, workflow.StageGross, "{}")
	require.NoError(t, err)

	err = env.engine.RejectStage(context.Background(), "LAB001", professor, workflow.StageGross)
	assert.ErrorIs(t, err, workflow.ErrInvalidStageState)
}

func runStage(t *testing.T, env *testEnv, labID string, stage workflow.Stage, approver entity.Actor) {
	t.Helper()
	_, err := env.engine.SubmitStageData(context.Background(), labID, student, stage, "{}")
	require.NoError(t, err)
	require.NoError(t, env.engine.RequestApproval(context.Background(), labID, student, stage))
	require.NoError(t, env.engine.ApproveStage(context.Background(), labID, approver, stage))
}

func TestFinalizeCase_WorkflowIncomplete(t *testing.T) {
	env := newTestEnv()
	mustCreateCase(t, env, "LAB001")

	err := env.engine.FinalizeCase(context.Background(), "LAB001", professor)
	assert.ErrorIs(t, err, workflow.ErrWorkflowIncomplete)

	runStage(t, env, "LAB001", workflow.StageGross, professor)
	runStage(t, env, "LAB001", workflow.StagePreparation, professor)

	err = env.engine.FinalizeCase(context.Background(), "LAB001", professor)
	assert.ErrorIs(t, err, workflow.ErrWorkflowIncomplete)
}

func TestFinalizeCase(t *testing.T) {
	env := newTestEnv()
	mustCreateCase(t, env, "LAB001")
	runStage(t, env, "LAB001", workflow.StageGross, professor)
	runStage(t, env, "LAB001", workflow.StagePreparation, professor)
	runStage(t, env, "LAB001", workflow.StageMicroscopic, admin)

	c, _ := env.engine.GetCase(context.Background(), "LAB001")
	assert.Equal(t, workflow.CaseAwaitingFinalApproval, c.Status)

	err := env.engine.FinalizeCase(context.Background(), "LAB001", student)
	assert.ErrorIs(t, err, workflow.ErrUnauthorized)

	require.NoError(t, env.engine.FinalizeCase(context.Background(), "LAB001", professor))

	c, _ = env.engine.GetCase(context.Background(), "LAB001")
	assert.Equal(t, workflow.CaseFinalized, c.Status)
	assert.Equal(t, professor.ID, c.FinalizedBy)
	require.NotNil(t, c.FinalizedAt)
}

func TestFinalizeCase_TwiceFailsAlreadyFinalized(t *testing.T) {
	env := newTestEnv()
	mustCreateCase(t, env, "LAB001")
	runStage(t, env, "LAB001", workflow.StageGross, professor)
	runStage(t, env, "LAB001", workflow.StagePreparation, professor)
	runStage(t, env, "LAB001", workflow.StageMicroscopic, professor)
	require.NoError(t, env.engine.FinalizeCase(context.Background(), "LAB001", professor))

	before := len(env.audit.entries)
	err := env.engine.FinalizeCase(context.Background(), "LAB001", professor)
	assert.ErrorIs(t, err, workflow.ErrAlreadyFinalized)
	assert.Len(t, env.audit.entries, before, "failed finalize must not add audit entries")
}

func TestAuditTrail_OneEntryPerSuccessfulCall(t *testing.T) {
	env := newTestEnv()
	mustCreateCase(t, env, "LAB001")

	// Sprinkle failing calls between successful ones; only successes count.
	_, _ = env.engine.SubmitStageData(context.Background(), "LAB001", student, workflow.StageMicroscopic, "{}")
	_ = env.engine.RequestApproval(context.Background(), "LAB001", student, workflow.StageGross)

	runStage(t, env, "LAB001", workflow.StageGross, professor)
	_ = env.engine.ApproveStage(context.Background(), "LAB001", student, workflow.StagePreparation)
	runStage(t, env, "LAB001", workflow.StagePreparation, professor)
	runStage(t, env, "LAB001", workflow.StageMicroscopic, professor)
	require.NoError(t, env.engine.FinalizeCase(context.Background(), "LAB001", professor))

	// 1 create + 3 stages x 3 transitions + 1 finalize
	entries, err := env.engine.AuditTrail(context.Background(), "LAB001")
	require.NoError(t, err)
	assert.Len(t, entries, 11)

	expected := []string{
		entity.ActionCaseCreated,
		entity.ActionGrossSaved, entity.ActionGrossSubmitted, entity.ActionGrossApproved,
		entity.ActionPreparationSaved, entity.ActionPreparationSubmitted, entity.ActionPreparationApproved,
		entity.ActionMicroscopicSaved, entity.ActionMicroscopicSubmitted, entity.ActionMicroscopicApproved,
		entity.ActionCaseFinalized,
	}
	for i, e := range entries {
		assert.Equal(t, expected[i], e.Action)
	}
}

func TestAggregateStatusProgression(t *testing.T) {
	env := newTestEnv()
	mustCreateCase(t, env, "LAB001")

	status := func() workflow.CaseStatus {
		c, err := env.engine.GetCase(context.Background(), "LAB001")
		require.NoError(t, err)
		return c.Status
	}

	assert.Equal(t, workflow.CaseReceived, status())

	_, err := env.engine.SubmitStageData(context.Background(), "LAB001", student, workflow.StageGross, "{}")
	require.NoError(t, err)
	assert.Equal(t, workflow.CaseInGross, status())

	require.NoError(t, env.engine.RequestApproval(context.Background(), "LAB001", student, workflow.StageGross))
	assert.Equal(t, workflow.CaseAwaitingGrossApproval, status())

	require.NoError(t, env.engine.ApproveStage(context.Background(), "LAB001", professor, workflow.StageGross))
	assert.Equal(t, workflow.CaseInPreparation, status())

	_, err = env.engine.SubmitStageData(context.Background(), "LAB001", student, workflow.StagePreparation, "{}")
	require.NoError(t, err)
	require.NoError(t, env.engine.RequestApproval(context.Background(), "LAB001", student, workflow.StagePreparation))
	assert.Equal(t, workflow.CaseAwaitingPreparationApproval, status())

	require.NoError(t, env.engine.ApproveStage(context.Background(), "LAB001", professor, workflow.StagePreparation))
	assert.Equal(t, workflow.CaseInMicroscopic, status())

	_, err = env.engine.SubmitStageData(context.Background(), "LAB001", student, workflow.StageMicroscopic, "{}")
	require.NoError(t, err)
	require.NoError(t, env.engine.RequestApproval(context.Background(), "LAB001", student, workflow.StageMicroscopic))
	assert.Equal(t, workflow.CaseAwaitingMicroscopicApproval, status())

	require.NoError(t, env.engine.ApproveStage(context.Background(), "LAB001", professor, workflow.StageMicroscopic))
	assert.Equal(t, workflow.CaseAwaitingFinalApproval, status())

	require.NoError(t, env.engine.FinalizeCase(context.Background(), "LAB001", professor))
	assert.Equal(t, workflow.CaseFinalized, status())
}

func TestSubmitStageData_PersistenceFailurePropagates(t *testing.T) {
	env := newTestEnv()
	mustCreateCase(t, env, "LAB001")

	env.cases.saveErr = fmt.Errorf("%w: disk full", workflow.ErrPersistence)

	_, err := env.engine.SubmitStageData(context.Background(), "LAB001", student, workflow.StageGross, "{}")
	assert.ErrorIs(t, err, workflow.ErrPersistence)

	entries, _ := env.engine.AuditTrail(context.Background(), "LAB001")
	assert.Len(t, entries, 1, "failed save must not add audit entries")
}

func TestOperations_CaseNotFound(t *testing.T) {
	env := newTestEnv()

	_, err := env.engine.SubmitStageData(context.Background(), "NOPE", student, workflow.StageGross, "{}")
	assert.ErrorIs(t, err, workflow.ErrCaseNotFound)

	err = env.engine.RequestApproval(context.Background(), "NOPE", student, workflow.StageGross)
	assert.ErrorIs(t, err, workflow.ErrCaseNotFound)

	err = env.engine.ApproveStage(context.Background(), "NOPE", professor, workflow.StageGross)
	assert.ErrorIs(t, err, workflow.ErrCaseNotFound)

	err = env.engine.FinalizeCase(context.Background(), "NOPE", professor)
	assert.ErrorIs(t, err, workflow.ErrCaseNotFound)
}
