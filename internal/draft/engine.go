package draft

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
	"github.com/c360studio/changeops/internal/llmgen"
	"github.com/c360studio/changeops/internal/pkgmodel"
	"github.com/c360studio/changeops/internal/store"
	"github.com/c360studio/changeops/internal/telemetry"
	"github.com/c360studio/changeops/internal/tenantctx"
)

const (
	collectionDrafts       = "drafts"
	collectionDraftVersion = "draft-versions"

	maxRepairAttempts = 3
)

// EnvironmentPackageSource resolves the current installed baseline for
// an environment, used by Preview/Install to diff and write against. The
// environment/promotion components (C9) own the actual
// EnvironmentPackageState storage; draft depends only on this narrow
// read/write seam to avoid a import cycle.
type EnvironmentPackageSource interface {
	GetBaseline(ctx context.Context, tenantID, environmentID string) (*pkgmodel.Package, uint64, error)
	PutBaseline(ctx context.Context, tenantID, environmentID string, pkg *pkgmodel.Package, expectedVersion uint64) (uint64, error)
}

// Engine implements the C5 Draft Engine operations.
type Engine struct {
	store     store.Store
	client    *llmgen.Client
	baselines EnvironmentPackageSource
	logger    *slog.Logger

	// Audit is optional; when set, mutating operations emit an audit
	// event alongside their own state transition. Nil is a valid,
	// audit-free configuration, e.g. in unit tests.
	Audit *audit.Recorder

	// Metrics is optional; see dispatch.Dispatcher.Metrics for the
	// nil-is-a-no-op contract.
	Metrics *telemetry.Metrics
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger overrides the Engine's default logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithAudit attaches an audit.Recorder so mutating operations emit a
// timeline event alongside their own state transition.
func WithAudit(rec *audit.Recorder) EngineOption {
	return func(e *Engine) { e.Audit = rec }
}

// WithMetrics attaches a telemetry.Metrics collector so generateCandidate
// reports repair-loop attempt counts and duration.
func WithMetrics(m *telemetry.Metrics) EngineOption {
	return func(e *Engine) { e.Metrics = m }
}

// NewEngine constructs a draft Engine.
func NewEngine(st store.Store, client *llmgen.Client, baselines EnvironmentPackageSource, opts ...EngineOption) *Engine {
	e := &Engine{store: st, client: client, baselines: baselines, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// emitAudit records an audit event if an Audit recorder is configured.
// Emission errors are logged, not surfaced — audit is a secondary
// concern and must never roll back the operation it describes.
func (e *Engine) emitAudit(ctx context.Context, tc tenantctx.Context, draftID, eventType string, d *diff.Result) {
	if e.Audit == nil {
		return
	}
	if _, err := e.Audit.Emit(ctx, tc, draftID, audit.EntityDraft, eventType, d); err != nil {
		e.logger.Warn("draft: audit emit failed", "draftId", draftID, "eventType", eventType, "error", err)
	}
}

func draftKey(draftID string) string { return draftID }

func versionKey(draftID string, n int) string { return fmt.Sprintf("%s/v%d", draftID, n) }

func (e *Engine) getDraft(ctx context.Context, tenantID, draftID string) (*Draft, uint64, error) {
	rec, err := e.store.Get(ctx, tenantID, collectionDrafts, draftKey(draftID))
	if err != nil {
		return nil, 0, err
	}
	var d Draft
	if err := json.Unmarshal(rec.Data, &d); err != nil {
		return nil, 0, fmt.Errorf("unmarshal draft: %w", err)
	}
	return &d, rec.Version, nil
}

func (e *Engine) putDraft(ctx context.Context, d *Draft, expectedVersion *uint64) (uint64, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return 0, err
	}
	rec, err := e.store.Upsert(ctx, d.TenantID, collectionDrafts, draftKey(d.ID), data, expectedVersion)
	if err != nil {
		return 0, err
	}
	return rec.Version, nil
}

// generateCandidate runs the generate/repair loop: call the producer,
// validate, and on structural error send the errors back for up to
// maxRepairAttempts total attempts.
func (e *Engine) generateCandidate(ctx context.Context, messages []llmgen.Message) (*RepairResult, error) {
	var (
		candidate *pkgmodel.Package
		problems  []*errs.CodeError
	)
	start := time.Now()

	for attempt := 1; attempt <= maxRepairAttempts; attempt++ {
		resp, err := e.client.Complete(ctx, llmgen.Request{
			Capability: llmgen.CapabilityDraftGeneration,
			Messages:   messages,
			MaxTokens:  4096,
		})
		if err != nil {
			return nil, err
		}

		candidate, err = extractPackageJSON(resp.Content)
		if err != nil {
			problems = []*errs.CodeError{errs.Newf(errs.CodeValidationError, "malformed producer output: %v", err)}
			messages = buildRepairMessages(messages, &pkgmodel.Package{}, problems)
			continue
		}

		problems = candidate.Validate()
		if len(problems) == 0 {
			e.Metrics.RecordDraftAttempt(true, time.Since(start))
			return &RepairResult{
				Package:          candidate,
				Checksum:         pkgmodel.Checksum(candidate),
				ValidationErrors: nil,
				Attempts:         attempt,
				Success:          true,
			}, nil
		}

		messages = buildRepairMessages(messages, candidate, problems)
	}

	e.Metrics.RecordDraftAttempt(false, time.Since(start))
	return &RepairResult{
		Package:          candidate,
		ValidationErrors: problems,
		Attempts:         maxRepairAttempts,
		Success:          false,
	}, nil
}

// Generate implements generate(projectId, prompt, appName?) -> Draft.
func (e *Engine) Generate(ctx context.Context, tc tenantctx.Context, projectID, prompt, appName string) (*Draft, *RepairResult, error) {
	result, err := e.generateCandidate(ctx, buildGenerateMessages(prompt, appName))
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	d := &Draft{
		ID:             uuid.New().String(),
		TenantID:       tc.Tenant.ID,
		ProjectID:      projectID,
		AppName:        appName,
		Status:         StatusDraft,
		CurrentVersion: 1,
		Checksum:       result.Checksum,
		ValidationErrs: result.ValidationErrors,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if _, err := e.putDraft(ctx, d, nil); err != nil {
		return nil, nil, err
	}
	if err := e.appendVersion(ctx, d, result.Package, ReasonGenerate); err != nil {
		return nil, nil, err
	}

	e.emitAudit(ctx, tc, d.ID, "generated", nil)
	return d, result, nil
}

// appendVersion writes a new DraftVersion at d.CurrentVersion.
func (e *Engine) appendVersion(ctx context.Context, d *Draft, pkg *pkgmodel.Package, reason VersionReason) error {
	v := &DraftVersion{
		DraftID:       d.ID,
		VersionNumber: d.CurrentVersion,
		Reason:        reason,
		Package:       pkg,
		Checksum:      pkgmodel.Checksum(pkg),
		CreatedAt:     time.Now(),
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = e.store.Upsert(ctx, d.TenantID, collectionDraftVersion, versionKey(d.ID, v.VersionNumber), data, nil)
	return err
}

// Refine implements refine(draftId, prompt) -> Draft. Concurrency: two
// concurrent refinements on the same draft serialize via expectedVersion;
// the loser observes CONFLICT and must retry against the newest version.
func (e *Engine) Refine(ctx context.Context, tc tenantctx.Context, draftID, prompt string) (*Draft, *RepairResult, error) {
	d, storeVersion, err := e.getDraft(ctx, tc.Tenant.ID, draftID)
	if err != nil {
		return nil, nil, err
	}
	if err := tc.CheckTenant(d.TenantID); err != nil {
		return nil, nil, err
	}

	prior, _, err := e.getVersion(ctx, d.TenantID, draftID, d.CurrentVersion)
	if err != nil {
		return nil, nil, err
	}

	result, err := e.generateCandidate(ctx, buildRefineMessages(prior.Package, prompt))
	if err != nil {
		return nil, nil, err
	}

	d.CurrentVersion++
	d.Checksum = result.Checksum
	d.ValidationErrs = result.ValidationErrors
	d.UpdatedAt = time.Now()

	if _, err := e.putDraft(ctx, d, &storeVersion); err != nil {
		return nil, nil, err
	}
	if err := e.appendVersion(ctx, d, result.Package, ReasonRefine); err != nil {
		return nil, nil, err
	}

	e.emitAudit(ctx, tc, d.ID, "refined", nil)
	return d, result, nil
}

func (e *Engine) getVersion(ctx context.Context, tenantID, draftID string, n int) (*DraftVersion, uint64, error) {
	rec, err := e.store.Get(ctx, tenantID, collectionDraftVersion, versionKey(draftID, n))
	if err != nil {
		return nil, 0, err
	}
	var v DraftVersion
	if err := json.Unmarshal(rec.Data, &v); err != nil {
		return nil, 0, fmt.Errorf("unmarshal draft version: %w", err)
	}
	return &v, rec.Version, nil
}

// ListVersions implements listVersions(draftId).
func (e *Engine) ListVersions(ctx context.Context, tc tenantctx.Context, draftID string) ([]DraftVersion, error) {
	d, _, err := e.getDraft(ctx, tc.Tenant.ID, draftID)
	if err != nil {
		return nil, err
	}
	if err := tc.CheckTenant(d.TenantID); err != nil {
		return nil, err
	}

	versions := make([]DraftVersion, 0, d.CurrentVersion)
	for n := 1; n <= d.CurrentVersion; n++ {
		v, _, err := e.getVersion(ctx, d.TenantID, draftID, n)
		if err != nil {
			return nil, err
		}
		versions = append(versions, *v)
	}
	return versions, nil
}

// RestoreVersion implements restoreVersion(n): copy version n's package
// into the draft and append a new version "restore" whose package and
// checksum equal version n's. Calling this twice for the same n appends
// two versions, each with checksum equal to n's (restore idempotence,
// spec §8).
func (e *Engine) RestoreVersion(ctx context.Context, tc tenantctx.Context, draftID string, n int) (*Draft, error) {
	d, storeVersion, err := e.getDraft(ctx, tc.Tenant.ID, draftID)
	if err != nil {
		return nil, err
	}
	if err := tc.CheckTenant(d.TenantID); err != nil {
		return nil, err
	}

	target, _, err := e.getVersion(ctx, d.TenantID, draftID, n)
	if err != nil {
		return nil, err
	}

	d.CurrentVersion++
	d.Checksum = target.Checksum
	d.ValidationErrs = nil
	d.UpdatedAt = time.Now()

	if _, err := e.putDraft(ctx, d, &storeVersion); err != nil {
		return nil, err
	}
	if err := e.appendVersion(ctx, d, target.Package, ReasonRestore); err != nil {
		return nil, err
	}
	e.emitAudit(ctx, tc, d.ID, "restored", nil)
	return d, nil
}

// DiffVersions is a thin wrapper over C4 comparing two of a draft's
// versions.
func (e *Engine) DiffVersions(ctx context.Context, tc tenantctx.Context, draftID string, from, to int) (diff.Result, error) {
	d, _, err := e.getDraft(ctx, tc.Tenant.ID, draftID)
	if err != nil {
		return diff.Result{}, err
	}
	if err := tc.CheckTenant(d.TenantID); err != nil {
		return diff.Result{}, err
	}

	a, _, err := e.getVersion(ctx, d.TenantID, draftID, from)
	if err != nil {
		return diff.Result{}, err
	}
	b, _, err := e.getVersion(ctx, d.TenantID, draftID, to)
	if err != nil {
		return diff.Result{}, err
	}
	return diff.Diff(a.Package, b.Package), nil
}

// Discard is terminal and irreversible.
func (e *Engine) Discard(ctx context.Context, tc tenantctx.Context, draftID string) (*Draft, error) {
	d, storeVersion, err := e.getDraft(ctx, tc.Tenant.ID, draftID)
	if err != nil {
		return nil, err
	}
	if err := tc.CheckTenant(d.TenantID); err != nil {
		return nil, err
	}

	d.Status = StatusDiscarded
	d.UpdatedAt = time.Now()
	if _, err := e.putDraft(ctx, d, &storeVersion); err != nil {
		return nil, err
	}
	e.emitAudit(ctx, tc, d.ID, "discarded", nil)
	return d, nil
}
