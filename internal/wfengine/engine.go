package wfengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/changeops/internal/audit"
	"github.com/c360studio/changeops/internal/errs"
	"github.com/c360studio/changeops/internal/store"
	"github.com/c360studio/changeops/internal/tenantctx"
)

const (
	collectionDefinitions = "workflow-definitions"
	collectionExecutions  = "workflow-executions"
)

// Engine implements the C7 Workflow Engine operations.
type Engine struct {
	store  store.Store
	logger *slog.Logger

	// Audit is optional; see draft.Engine.Audit.
	Audit *audit.Recorder

	// changes resolves a linked change's lifecycle status for Activate's
	// Ready/Merged gate. Nil unless WithChangeSource is supplied.
	changes ChangeStatusSource
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithAudit attaches an audit.Recorder so Execute/Resume emit a
// timeline event alongside their own state transition.
func WithAudit(rec *audit.Recorder) EngineOption {
	return func(e *Engine) { e.Audit = rec }
}

// WithChangeSource attaches the lookup Activate uses to enforce that a
// definition's linked change is Ready or Merged before activation.
func WithChangeSource(src ChangeStatusSource) EngineOption {
	return func(e *Engine) { e.changes = src }
}

// NewEngine constructs a workflow Engine.
func NewEngine(st store.Store, opts ...EngineOption) *Engine {
	e := &Engine{store: st, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// emitAudit records a pull-down event — the workflow engine's
// executions are "pulled down" into motion by the dispatcher (C8),
// never started directly, so they share an entity type with the
// intents that triggered them.
func (e *Engine) emitAudit(ctx context.Context, tc tenantctx.Context, executionID, eventType string) {
	if e.Audit == nil {
		return
	}
	if _, err := e.Audit.Emit(ctx, tc, executionID, audit.EntityPullDown, eventType, nil); err != nil {
		e.logger.Warn("wfengine: audit emit failed", "executionId", executionID, "eventType", eventType, "error", err)
	}
}

// PutDefinition validates and persists a workflow definition. Activation
// validation (decision steps carry both well-formed branches) runs every
// time a definition is written, not only on first creation. Per spec
// §4.1, a workflow definition is a governed entity: tc must carry a
// changeId and a capability profile granting FS_WRITE.
func (e *Engine) PutDefinition(ctx context.Context, tc tenantctx.Context, def *WorkflowDefinition) error {
	if err := tc.RequireGovernance(); err != nil {
		return err
	}
	if err := tc.RequireCapabilities(tenantctx.TokenFSWrite); err != nil {
		return err
	}
	if problems := ValidateDefinition(def); len(problems) > 0 {
		return problems[0]
	}
	if def.ID == "" {
		def.ID = uuid.New().String()
		def.CreatedAt = time.Now()
		def.Status = DefinitionStatusDraft
	}
	if def.ChangeID == "" {
		def.ChangeID = tc.Governance.ChangeID
	}
	def.TenantID = tc.Tenant.ID
	def.UpdatedAt = time.Now()

	data, err := json.Marshal(def)
	if err != nil {
		return err
	}
	_, err = e.store.Upsert(ctx, tc.Tenant.ID, collectionDefinitions, def.ID, data, nil)
	return err
}

func (e *Engine) putDefinition(ctx context.Context, def *WorkflowDefinition, expectedVersion *uint64) error {
	data, err := json.Marshal(def)
	if err != nil {
		return err
	}
	_, err = e.store.Upsert(ctx, def.TenantID, collectionDefinitions, def.ID, data, expectedVersion)
	return err
}

func (e *Engine) getDefinition(ctx context.Context, tenantID, definitionID string) (*WorkflowDefinition, uint64, error) {
	rec, err := e.store.Get(ctx, tenantID, collectionDefinitions, definitionID)
	if err != nil {
		return nil, 0, err
	}
	var def WorkflowDefinition
	if err := json.Unmarshal(rec.Data, &def); err != nil {
		return nil, 0, fmt.Errorf("unmarshal workflow definition: %w", err)
	}
	return &def, rec.Version, nil
}

// Activate transitions a definition from draft to active, per spec §3:
// a definition may activate only if its linked change is Ready or
// Merged. When no ChangeStatusSource is configured (the default), the
// engine only enforces that ChangeID is set, since change lifecycle
// tracking is an external collaborator this codebase does not model.
func (e *Engine) Activate(ctx context.Context, tc tenantctx.Context, definitionID string) (*WorkflowDefinition, error) {
	if err := tc.RequireGovernance(); err != nil {
		return nil, err
	}
	if err := tc.RequireCapabilities(tenantctx.TokenFSWrite); err != nil {
		return nil, err
	}

	def, version, err := e.getDefinition(ctx, tc.Tenant.ID, definitionID)
	if err != nil {
		return nil, err
	}
	if err := tc.CheckTenant(def.TenantID); err != nil {
		return nil, err
	}
	if def.Status == DefinitionStatusActive {
		return def, nil
	}
	if def.Status == DefinitionStatusRetired {
		return nil, errs.Newf(errs.CodeStateInvalid, "cannot activate retired definition %q", definitionID)
	}
	if def.ChangeID == "" {
		return nil, errs.Newf(errs.CodeInvariantViolation, "definition %q has no linked changeId to activate against", definitionID)
	}

	if e.changes != nil {
		status, err := e.changes.GetChangeStatus(ctx, tc.Tenant.ID, def.ChangeID)
		if err != nil {
			return nil, err
		}
		if status != ChangeStatusReady && status != ChangeStatusMerged {
			return nil, errs.Newf(errs.CodeInvariantViolation,
				"definition %q's linked change %q is %q, not ready or merged", definitionID, def.ChangeID, status)
		}
	}

	def.Status = DefinitionStatusActive
	def.Version++
	def.UpdatedAt = time.Now()
	if err := e.putDefinition(ctx, def, &version); err != nil {
		return nil, err
	}
	return def, nil
}

// Retire transitions an active definition to retired. Retired
// definitions can no longer be executed (see Execute's status gate)
// but remain readable for audit and history.
func (e *Engine) Retire(ctx context.Context, tc tenantctx.Context, definitionID string) (*WorkflowDefinition, error) {
	if err := tc.RequireGovernance(); err != nil {
		return nil, err
	}
	if err := tc.RequireCapabilities(tenantctx.TokenFSWrite); err != nil {
		return nil, err
	}

	def, version, err := e.getDefinition(ctx, tc.Tenant.ID, definitionID)
	if err != nil {
		return nil, err
	}
	if err := tc.CheckTenant(def.TenantID); err != nil {
		return nil, err
	}
	if def.Status == DefinitionStatusRetired {
		return def, nil
	}

	def.Status = DefinitionStatusRetired
	def.UpdatedAt = time.Now()
	if err := e.putDefinition(ctx, def, &version); err != nil {
		return nil, err
	}
	return def, nil
}

func (e *Engine) getExecution(ctx context.Context, tenantID, executionID string) (*WorkflowExecution, uint64, error) {
	rec, err := e.store.Get(ctx, tenantID, collectionExecutions, executionID)
	if err != nil {
		return nil, 0, err
	}
	var exec WorkflowExecution
	if err := json.Unmarshal(rec.Data, &exec); err != nil {
		return nil, 0, fmt.Errorf("unmarshal workflow execution: %w", err)
	}
	return &exec, rec.Version, nil
}

func (e *Engine) putExecution(ctx context.Context, exec *WorkflowExecution, expectedVersion *uint64) error {
	data, err := json.Marshal(exec)
	if err != nil {
		return err
	}
	_, err = e.store.Upsert(ctx, exec.TenantID, collectionExecutions, exec.ID, data, expectedVersion)
	return err
}

// Execute implements WorkflowExecution creation. Direct execution is
// forbidden: intentID must be non-empty, carried in by the dispatcher
// (C8) — any caller passing an empty intentID fails closed.
func (e *Engine) Execute(ctx context.Context, tc tenantctx.Context, definitionID, intentID string, input map[string]any) (*WorkflowExecution, error) {
	if intentID == "" {
		return nil, errs.New(errs.CodeInvariantViolation, "workflow execution requires a non-null intentId from the dispatcher")
	}

	def, _, err := e.getDefinition(ctx, tc.Tenant.ID, definitionID)
	if err != nil {
		return nil, err
	}
	if err := tc.CheckTenant(def.TenantID); err != nil {
		return nil, err
	}
	if def.Status != DefinitionStatusActive {
		return nil, errs.Newf(errs.CodeStateInvalid, "workflow definition %q is %q, not active", definitionID, def.Status)
	}

	accumulated := map[string]any{}
	for k, v := range input {
		accumulated[k] = v
	}

	now := time.Now()
	exec := &WorkflowExecution{
		ID:               uuid.New().String(),
		TenantID:         tc.Tenant.ID,
		DefinitionID:     def.ID,
		IntentID:         intentID,
		Status:           ExecutionRunning,
		CurrentIndex:     0,
		AccumulatedInput: accumulated,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	e.runLoop(sortedSteps(def), exec)
	exec.UpdatedAt = time.Now()

	if err := e.putExecution(ctx, exec, nil); err != nil {
		return nil, err
	}
	e.emitAudit(ctx, tc, exec.ID, "execution_"+string(exec.Status))
	return exec, nil
}

// runLoop is the index-based execution loop from spec §4.7: it walks
// steps by index, never recursing, merging each step's output into
// accumulatedInput and computing the next index until the execution
// completes, fails, or parks awaiting approval.
func (e *Engine) runLoop(steps []WorkflowStep, exec *WorkflowExecution) {
	stepAt := make(map[int]WorkflowStep, len(steps))
	for _, s := range steps {
		stepAt[s.OrderIndex] = s
	}

	for {
		step, ok := stepAt[exec.CurrentIndex]
		if !ok {
			exec.Status = ExecutionFailed
			exec.Error = fmt.Sprintf("no step at index %d", exec.CurrentIndex)
			return
		}

		output, target, paused, err := executeStep(step, exec.AccumulatedInput)
		if err != nil {
			exec.Status = ExecutionFailed
			exec.Error = err.Error()
			return
		}
		exec.AccumulatedInput[fmt.Sprintf("step_%d", step.OrderIndex)] = output

		if paused {
			exec.Status = ExecutionPaused
			idx := step.OrderIndex
			exec.PausedAtStepID = &idx
			return
		}

		next := step.OrderIndex + 1
		if target != nil {
			next = *target
		}

		if _, exists := stepAt[next]; !exists {
			if target != nil {
				exec.Status = ExecutionFailed
				exec.Error = fmt.Sprintf("step %d jumps to unknown index %d", step.OrderIndex, next)
				return
			}
			exec.Status = ExecutionCompleted
			return
		}
		exec.CurrentIndex = next
	}
}

// Resume implements resume(executionId, stepExecutionId, outcome):
// validates tenant ownership, paused state, and that stepExecutionId
// matches the step the execution is actually parked at, then continues
// or fails the execution accordingly.
func (e *Engine) Resume(ctx context.Context, tc tenantctx.Context, executionID string, stepExecutionID int, outcome ResumeOutcome) (*WorkflowExecution, error) {
	exec, storeVersion, err := e.getExecution(ctx, tc.Tenant.ID, executionID)
	if err != nil {
		return nil, err
	}
	if err := tc.CheckTenant(exec.TenantID); err != nil {
		return nil, err
	}
	if exec.Status != ExecutionPaused {
		return nil, errs.Newf(errs.CodeInvariantViolation, "cannot resume execution %q in state %q", executionID, exec.Status)
	}
	if exec.PausedAtStepID == nil || *exec.PausedAtStepID != stepExecutionID {
		return nil, errs.Newf(errs.CodeInvariantViolation,
			"stepExecutionId %d does not match the step execution %q is paused at", stepExecutionID, executionID)
	}

	switch outcome {
	case OutcomeRejected:
		exec.Status = ExecutionFailed
		exec.Error = "rejected at approval step"
		exec.PausedAtStepID = nil
	case OutcomeApproved:
		exec.AccumulatedInput[fmt.Sprintf("step_%d", stepExecutionID)] = map[string]any{"approved": true}
		exec.CurrentIndex = stepExecutionID + 1
		exec.PausedAtStepID = nil
		exec.Status = ExecutionRunning

		def, _, err := e.getDefinition(ctx, exec.TenantID, exec.DefinitionID)
		if err != nil {
			return nil, err
		}
		e.runLoop(sortedSteps(def), exec)
	default:
		return nil, errs.Newf(errs.CodeInvariantViolation, "unknown resume outcome %q", outcome)
	}

	exec.UpdatedAt = time.Now()
	if err := e.putExecution(ctx, exec, &storeVersion); err != nil {
		return nil, err
	}
	e.emitAudit(ctx, tc, exec.ID, "execution_resumed_"+string(exec.Status))
	return exec, nil
}
