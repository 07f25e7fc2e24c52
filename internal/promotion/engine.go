package promotion

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/changeops/internal/audit"
	"github.com/c360studio/changeops/internal/diff"
	"github.com/c360studio/changeops/internal/errs"
	"github.com/c360studio/changeops/internal/pkgmodel"
	"github.com/c360studio/changeops/internal/store"
	"github.com/c360studio/changeops/internal/telemetry"
	"github.com/c360studio/changeops/internal/tenantctx"
)

const collectionIntents = "promotion-intents"

// OverrideRecomposer is the narrow seam into C6, identical in shape to
// internal/draft.OverrideRecomposer — duplicated rather than imported so
// this package depends only on internal/override's behavior, not its
// package identity.
type OverrideRecomposer interface {
	Recompose(ctx context.Context, tenantID, moduleID string, baseline *pkgmodel.Package) error
}

// Engine implements the C9 Promotion State Machine.
type Engine struct {
	store  store.Store
	envs   *EnvironmentStore
	logger *slog.Logger

	// Audit is optional; see draft.Engine.Audit.
	Audit *audit.Recorder
	// Metrics is optional; see draft.Engine.Metrics. A nil Metrics is a
	// no-op collector.
	Metrics *telemetry.Metrics
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithAudit attaches an audit.Recorder so Create/Approve/Execute/Reject
// emit a timeline event alongside their own state transition.
func WithAudit(rec *audit.Recorder) EngineOption {
	return func(e *Engine) { e.Audit = rec }
}

// WithMetrics attaches a telemetry.Metrics collector so Execute/Reject
// record the outcome each promotion intent terminates in.
func WithMetrics(m *telemetry.Metrics) EngineOption {
	return func(e *Engine) { e.Metrics = m }
}

// NewEngine constructs a promotion Engine backed by st for intent
// persistence and envs for reading/writing environment baselines.
func NewEngine(st store.Store, envs *EnvironmentStore, opts ...EngineOption) *Engine {
	e := &Engine{store: st, envs: envs, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) emitAudit(ctx context.Context, tc tenantctx.Context, intentID, eventType string, d *diff.Result) {
	if e.Audit == nil {
		return
	}
	if _, err := e.Audit.Emit(ctx, tc, intentID, audit.EntityPromotionIntent, eventType, d); err != nil {
		e.logger.Warn("promotion: audit emit failed", "intentId", intentID, "eventType", eventType, "error", err)
	}
}

func (e *Engine) getIntent(ctx context.Context, tenantID, intentID string) (*PromotionIntent, uint64, error) {
	rec, err := e.store.Get(ctx, tenantID, collectionIntents, intentID)
	if err != nil {
		return nil, 0, err
	}
	var in PromotionIntent
	if err := json.Unmarshal(rec.Data, &in); err != nil {
		return nil, 0, fmt.Errorf("unmarshal promotion intent: %w", err)
	}
	return &in, rec.Version, nil
}

func (e *Engine) putIntent(ctx context.Context, in *PromotionIntent, expectedVersion *uint64) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	_, err = e.store.Upsert(ctx, in.TenantID, collectionIntents, in.ID, data, expectedVersion)
	return err
}

// Create opens a new PromotionIntent in status draft.
func (e *Engine) Create(ctx context.Context, tc tenantctx.Context, projectID, fromEnvironmentID, toEnvironmentID string) (*PromotionIntent, error) {
	if err := tc.RequireGovernance(); err != nil {
		return nil, err
	}
	now := time.Now()
	in := &PromotionIntent{
		ID:                uuid.New().String(),
		TenantID:          tc.Tenant.ID,
		ProjectID:         projectID,
		FromEnvironmentID: fromEnvironmentID,
		ToEnvironmentID:   toEnvironmentID,
		Status:            StatusDraft,
		CreatedBy:         tc.Actor.ID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.putIntent(ctx, in, nil); err != nil {
		return nil, err
	}
	e.emitAudit(ctx, tc, in.ID, "created", nil)
	return in, nil
}

// Preview implements preview: computes diff(sourceEnvPackage,
// targetEnvPackage) and stores it on the intent, transitioning
// draft -> previewed. Idempotent — re-previewing just recomputes the
// diff.
func (e *Engine) Preview(ctx context.Context, tc tenantctx.Context, intentID string) (*PromotionIntent, error) {
	in, version, err := e.getIntent(ctx, tc.Tenant.ID, intentID)
	if err != nil {
		return nil, err
	}
	if err := tc.CheckTenant(in.TenantID); err != nil {
		return nil, err
	}
	if in.Status.terminal() {
		return nil, errs.Newf(errs.CodeStateInvalid, "cannot preview promotion intent in terminal state %q", in.Status)
	}

	source, _, err := e.envs.GetBaseline(ctx, tc.Tenant.ID, in.FromEnvironmentID)
	if err != nil {
		return nil, err
	}
	target, targetVersion, err := e.envs.GetBaseline(ctx, tc.Tenant.ID, in.ToEnvironmentID)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, errs.Newf(errs.CodeStateInvalid, "source environment %q has no installed package", in.FromEnvironmentID)
	}
	if target == nil {
		target = &pkgmodel.Package{}
	}

	result := diff.Diff(target, source)
	in.Diff = &result
	in.TargetBaselineVersion = targetVersion
	in.Status = StatusPreviewed
	in.UpdatedAt = time.Now()

	if err := e.putIntent(ctx, in, &version); err != nil {
		return nil, err
	}
	e.emitAudit(ctx, tc, in.ID, "previewed", in.Diff)
	return in, nil
}

// Approve implements approve: honors the target environment's
// requiresPromotionApproval flag and unconditionally disallows
// self-approval by the creator, regardless of that flag.
func (e *Engine) Approve(ctx context.Context, tc tenantctx.Context, intentID string) (*PromotionIntent, error) {
	in, version, err := e.getIntent(ctx, tc.Tenant.ID, intentID)
	if err != nil {
		return nil, err
	}
	if err := tc.CheckTenant(in.TenantID); err != nil {
		return nil, err
	}
	if in.Status != StatusPreviewed {
		return nil, errs.Newf(errs.CodeStateInvalid, "cannot approve promotion intent in state %q, must be previewed", in.Status)
	}
	if tc.Actor.ID == in.CreatedBy {
		return nil, errs.New(errs.CodeInvariantViolation, "self-approval of a promotion intent is disallowed")
	}

	// Loaded for its RequiresPromotionApproval flag even though this
	// engine always requires an explicit approve call either way — a
	// future direct-execute shortcut for environments that don't require
	// approval can check it without another round trip.
	if _, err := e.envs.GetEnvironment(ctx, tc.Tenant.ID, in.ToEnvironmentID); err != nil {
		return nil, err
	}

	in.Status = StatusApproved
	in.ApprovedBy = tc.Actor.ID
	in.UpdatedAt = time.Now()

	if err := e.putIntent(ctx, in, &version); err != nil {
		return nil, err
	}
	e.emitAudit(ctx, tc, in.ID, "approved", nil)
	return in, nil
}

// Execute implements execute: installs the source package as the
// target's new baseline via a version-guarded C2 upsert and recomposes
// active overrides. On conflict the intent transitions to rejected with
// error set and no partial state — the baseline write and the intent
// transition never straddle a state where one happened without the
// other being recorded.
func (e *Engine) Execute(ctx context.Context, tc tenantctx.Context, intentID string, overrides OverrideRecomposer) (*PromotionIntent, error) {
	in, version, err := e.getIntent(ctx, tc.Tenant.ID, intentID)
	if err != nil {
		return nil, err
	}
	if err := tc.CheckTenant(in.TenantID); err != nil {
		return nil, err
	}
	if in.Status != StatusApproved {
		return nil, errs.Newf(errs.CodeStateInvalid, "cannot execute promotion intent in state %q, must be approved", in.Status)
	}

	source, _, err := e.envs.GetBaseline(ctx, tc.Tenant.ID, in.FromEnvironmentID)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, errs.Newf(errs.CodeStateInvalid, "source environment %q has no installed package", in.FromEnvironmentID)
	}

	newVersion, err := e.envs.putBaseline(ctx, tc.Tenant.ID, in.ToEnvironmentID, source, in.TargetBaselineVersion, SourcePromotion)
	if err != nil {
		if errs.Is(err, errs.CodeConflict) {
			in.Status = StatusRejected
			in.Error = err.Error()
			in.UpdatedAt = time.Now()
			if putErr := e.putIntent(ctx, in, &version); putErr != nil {
				return nil, putErr
			}
			e.emitAudit(ctx, tc, in.ID, "rejected_conflict", nil)
			e.Metrics.RecordPromotionOutcome("rejected_conflict")
			return in, nil
		}
		return nil, err
	}

	if overrides != nil {
		if err := overrides.Recompose(ctx, tc.Tenant.ID, in.ToEnvironmentID, source); err != nil {
			return nil, err
		}
	}

	in.Status = StatusExecuted
	in.Result = &Result{BaselineVersion: newVersion, Checksum: pkgmodel.Checksum(source)}
	in.UpdatedAt = time.Now()

	if err := e.putIntent(ctx, in, &version); err != nil {
		return nil, err
	}
	e.emitAudit(ctx, tc, in.ID, "executed", nil)
	e.Metrics.RecordPromotionOutcome("executed")
	return in, nil
}

// Reject is terminal from any non-terminal state.
func (e *Engine) Reject(ctx context.Context, tc tenantctx.Context, intentID, reason string) (*PromotionIntent, error) {
	in, version, err := e.getIntent(ctx, tc.Tenant.ID, intentID)
	if err != nil {
		return nil, err
	}
	if err := tc.CheckTenant(in.TenantID); err != nil {
		return nil, err
	}
	if in.Status.terminal() {
		return nil, errs.Newf(errs.CodeStateInvalid, "cannot reject promotion intent already in terminal state %q", in.Status)
	}

	in.Status = StatusRejected
	in.Error = reason
	in.UpdatedAt = time.Now()

	if err := e.putIntent(ctx, in, &version); err != nil {
		return nil, err
	}
	e.emitAudit(ctx, tc, in.ID, "rejected", nil)
	e.Metrics.RecordPromotionOutcome("rejected")
	return in, nil
}
