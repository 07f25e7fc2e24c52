package wfengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/changeops/internal/errs"
	"github.com/c360studio/changeops/internal/store"
	"github.com/c360studio/changeops/internal/tenantctx"
)

func testTenantCtx() tenantctx.Context {
	return tenantctx.New("tenant-1", tenantctx.SourceHeader, tenantctx.Actor{ID: "user-1", Type: tenantctx.ActorUser}).
		WithGovernance("change-1").
		WithCapabilities(tenantctx.ProfileCodeModuleDefault)
}

// putAndActivate persists def under tc and activates it, returning the
// activated definition — the sequence every test exercising Execute
// must go through now that Execute refuses a non-active definition.
func putAndActivate(t *testing.T, engine *Engine, ctx context.Context, tc tenantctx.Context, def *WorkflowDefinition) *WorkflowDefinition {
	t.Helper()
	require.NoError(t, engine.PutDefinition(ctx, tc, def))
	activated, err := engine.Activate(ctx, tc, def.ID)
	require.NoError(t, err)
	return activated
}

func intPtr(n int) *int { return &n }

func linearDefinition() *WorkflowDefinition {
	return &WorkflowDefinition{
		Key: "ticket-triage",
		Steps: []WorkflowStep{
			{OrderIndex: 0, StepType: StepAssignment, Config: StepConfig{AssigneeType: AssigneeGroup, AssigneeValue: "support"}},
			{OrderIndex: 1, StepType: StepNotification, Config: StepConfig{Channel: "email", Recipient: "support@example.com", Body: "new ticket"}},
		},
	}
}

func decisionDefinition() *WorkflowDefinition {
	return &WorkflowDefinition{
		Key: "priority-escalation",
		Steps: []WorkflowStep{
			{OrderIndex: 0, StepType: StepDecision, Config: StepConfig{
				Field: "priority", Operator: OperatorEquals, Value: "urgent",
				OnTrueStepIndex: intPtr(2), OnFalseStepIndex: intPtr(1),
			}},
			{OrderIndex: 1, StepType: StepNotification, Config: StepConfig{Channel: "email", Body: "normal"}},
			{OrderIndex: 2, StepType: StepNotification, Config: StepConfig{Channel: "pager", Body: "urgent"}},
		},
	}
}

func approvalDefinition() *WorkflowDefinition {
	return &WorkflowDefinition{
		Key: "discount-approval",
		Steps: []WorkflowStep{
			{OrderIndex: 0, StepType: StepApproval, Config: StepConfig{AutoApprove: false}},
			{OrderIndex: 1, StepType: StepNotification, Config: StepConfig{Channel: "email", Body: "approved"}},
		},
	}
}

func TestValidateDefinition_DecisionMissingBranch(t *testing.T) {
	def := &WorkflowDefinition{Key: "bad", Steps: []WorkflowStep{
		{OrderIndex: 0, StepType: StepDecision, Config: StepConfig{Field: "x", Operator: OperatorTruthy, OnTrueStepIndex: intPtr(1)}},
		{OrderIndex: 1, StepType: StepNotification},
	}}
	problems := ValidateDefinition(def)
	require.NotEmpty(t, problems)
}

func TestValidateDefinition_DecisionTargetsUnknownIndex(t *testing.T) {
	def := &WorkflowDefinition{Key: "bad", Steps: []WorkflowStep{
		{OrderIndex: 0, StepType: StepDecision, Config: StepConfig{
			Field: "x", Operator: OperatorTruthy, OnTrueStepIndex: intPtr(1), OnFalseStepIndex: intPtr(99),
		}},
		{OrderIndex: 1, StepType: StepNotification},
	}}
	problems := ValidateDefinition(def)
	require.NotEmpty(t, problems)
}

func TestValidateDefinition_Valid(t *testing.T) {
	assert.Empty(t, ValidateDefinition(decisionDefinition()))
	assert.Empty(t, ValidateDefinition(linearDefinition()))
	assert.Empty(t, ValidateDefinition(approvalDefinition()))
}

func TestEngine_Execute_ForbidsDirectExecutionWithoutIntentID(t *testing.T) {
	engine := NewEngine(store.NewMemoryStore())
	ctx := context.Background()
	tc := testTenantCtx()

	require.NoError(t, engine.PutDefinition(ctx, tc, linearDefinition()))

	_, err := engine.Execute(ctx, tc, "whatever", "", map[string]any{})
	require.Error(t, err)
	assert.Equal(t, errs.CodeInvariantViolation, errs.CodeOf(err))
}

func TestEngine_PutDefinition_RequiresGovernance(t *testing.T) {
	engine := NewEngine(store.NewMemoryStore())
	ctx := context.Background()
	ungoverned := tenantctx.New("tenant-1", tenantctx.SourceHeader, tenantctx.Actor{ID: "user-1", Type: tenantctx.ActorUser}).
		WithCapabilities(tenantctx.ProfileCodeModuleDefault)

	err := engine.PutDefinition(ctx, ungoverned, linearDefinition())
	require.Error(t, err)
	assert.Equal(t, errs.CodeGovernanceRequired, errs.CodeOf(err))
}

func TestEngine_PutDefinition_RequiresCapability(t *testing.T) {
	engine := NewEngine(store.NewMemoryStore())
	ctx := context.Background()
	noFSWrite := tenantctx.New("tenant-1", tenantctx.SourceHeader, tenantctx.Actor{ID: "user-1", Type: tenantctx.ActorUser}).
		WithGovernance("change-1").
		WithCapabilities(tenantctx.ProfileReadOnly)

	err := engine.PutDefinition(ctx, noFSWrite, linearDefinition())
	require.Error(t, err)
	assert.Equal(t, errs.CodeCapabilityDenied, errs.CodeOf(err))
}

func TestEngine_Execute_RefusesNonActiveDefinition(t *testing.T) {
	engine := NewEngine(store.NewMemoryStore())
	ctx := context.Background()
	tc := testTenantCtx()

	def := linearDefinition()
	require.NoError(t, engine.PutDefinition(ctx, tc, def))
	assert.Equal(t, DefinitionStatusDraft, def.Status)

	_, err := engine.Execute(ctx, tc, def.ID, "intent-1", map[string]any{})
	require.Error(t, err)
	assert.Equal(t, errs.CodeStateInvalid, errs.CodeOf(err))
}

func TestEngine_Activate_RequiresChangeID(t *testing.T) {
	engine := NewEngine(store.NewMemoryStore())
	ctx := context.Background()
	tc := tenantctx.New("tenant-1", tenantctx.SourceHeader, tenantctx.Actor{ID: "user-1", Type: tenantctx.ActorUser}).
		WithGovernance("change-1").
		WithCapabilities(tenantctx.ProfileCodeModuleDefault)

	def := linearDefinition()
	def.ID = "def-no-change"
	def.TenantID = tc.Tenant.ID
	def.Status = DefinitionStatusDraft
	require.NoError(t, engine.putDefinition(ctx, def, nil))

	_, err := engine.Activate(ctx, tc, def.ID)
	require.Error(t, err)
	assert.Equal(t, errs.CodeInvariantViolation, errs.CodeOf(err))
}

func TestEngine_Execute_LinearCompletion(t *testing.T) {
	engine := NewEngine(store.NewMemoryStore())
	ctx := context.Background()
	tc := testTenantCtx()

	def := putAndActivate(t, engine, ctx, tc, linearDefinition())

	exec, err := engine.Execute(ctx, tc, def.ID, "intent-1", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, ExecutionCompleted, exec.Status)
	assert.Equal(t, "support", exec.AccumulatedInput["step_0"].(map[string]any)["assignedGroup"])
}

func TestEngine_Execute_DecisionBranchesToUrgentPath(t *testing.T) {
	engine := NewEngine(store.NewMemoryStore())
	ctx := context.Background()
	tc := testTenantCtx()

	def := putAndActivate(t, engine, ctx, tc, decisionDefinition())

	exec, err := engine.Execute(ctx, tc, def.ID, "intent-1", map[string]any{"priority": "urgent"})
	require.NoError(t, err)
	assert.Equal(t, ExecutionCompleted, exec.Status)
	assert.Equal(t, "pager", exec.AccumulatedInput["step_2"].(map[string]any)["channel"])
	assert.NotContains(t, exec.AccumulatedInput, "step_1")
}

func TestEngine_Execute_PausesOnApprovalAndResumes(t *testing.T) {
	engine := NewEngine(store.NewMemoryStore())
	ctx := context.Background()
	tc := testTenantCtx()

	def := putAndActivate(t, engine, ctx, tc, approvalDefinition())

	exec, err := engine.Execute(ctx, tc, def.ID, "intent-1", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, ExecutionPaused, exec.Status)
	require.NotNil(t, exec.PausedAtStepID)
	assert.Equal(t, 0, *exec.PausedAtStepID)

	resumed, err := engine.Resume(ctx, tc, exec.ID, 0, OutcomeApproved)
	require.NoError(t, err)
	assert.Equal(t, ExecutionCompleted, resumed.Status)
}

func TestEngine_Resume_RejectedFailsExecution(t *testing.T) {
	engine := NewEngine(store.NewMemoryStore())
	ctx := context.Background()
	tc := testTenantCtx()

	def := putAndActivate(t, engine, ctx, tc, approvalDefinition())

	exec, err := engine.Execute(ctx, tc, def.ID, "intent-1", map[string]any{})
	require.NoError(t, err)

	resumed, err := engine.Resume(ctx, tc, exec.ID, 0, OutcomeRejected)
	require.NoError(t, err)
	assert.Equal(t, ExecutionFailed, resumed.Status)
}

func TestEngine_Resume_WrongStepExecutionIDRejected(t *testing.T) {
	engine := NewEngine(store.NewMemoryStore())
	ctx := context.Background()
	tc := testTenantCtx()

	def := putAndActivate(t, engine, ctx, tc, approvalDefinition())

	exec, err := engine.Execute(ctx, tc, def.ID, "intent-1", map[string]any{})
	require.NoError(t, err)

	_, err = engine.Resume(ctx, tc, exec.ID, 5, OutcomeApproved)
	require.Error(t, err)
	assert.Equal(t, errs.CodeInvariantViolation, errs.CodeOf(err))
}

func TestEngine_Resume_AlreadyCompletedRejected(t *testing.T) {
	engine := NewEngine(store.NewMemoryStore())
	ctx := context.Background()
	tc := testTenantCtx()

	def := putAndActivate(t, engine, ctx, tc, linearDefinition())

	exec, err := engine.Execute(ctx, tc, def.ID, "intent-1", map[string]any{})
	require.NoError(t, err)

	_, err = engine.Resume(ctx, tc, exec.ID, 0, OutcomeApproved)
	require.Error(t, err)
}
