package draft

import (
	"context"
	"time"

	"github.com/c360studio/changeops/internal/diff"
	"github.com/c360studio/changeops/internal/errs"
	"github.com/c360studio/changeops/internal/pkgmodel"
	"github.com/c360studio/changeops/internal/tenantctx"
)

// OverrideRecomposer is the narrow seam into C6: after Install writes a
// new baseline, active overrides must be recomposed against it. Draft
// depends only on this interface to avoid an import cycle with
// internal/override.
type OverrideRecomposer interface {
	Recompose(ctx context.Context, tenantID, moduleID string, baseline *pkgmodel.Package) error
}

// Preview implements preview(draftId) -> Draft: diff against the target
// environment baseline, store the diff and validation errors, and
// transition draft -> previewed. Re-previewing an unchanged checksum is
// a no-op beyond recomputing the stored diff.
func (e *Engine) Preview(ctx context.Context, tc tenantctx.Context, draftID, environmentID string) (*Draft, error) {
	d, storeVersion, err := e.getDraft(ctx, tc.Tenant.ID, draftID)
	if err != nil {
		return nil, err
	}
	if err := tc.CheckTenant(d.TenantID); err != nil {
		return nil, err
	}

	v, _, err := e.getVersion(ctx, d.TenantID, draftID, d.CurrentVersion)
	if err != nil {
		return nil, err
	}

	baseline, _, err := e.baselines.GetBaseline(ctx, tc.Tenant.ID, environmentID)
	if err != nil {
		return nil, err
	}
	if baseline == nil {
		baseline = &pkgmodel.Package{}
	}

	result := diff.Diff(baseline, v.Package)
	d.Diff = &result
	d.EnvironmentID = environmentID
	d.Status = StatusPreviewed
	d.UpdatedAt = time.Now()

	if _, err := e.putDraft(ctx, d, &storeVersion); err != nil {
		return nil, err
	}
	e.emitAudit(ctx, tc, d.ID, "previewed", &result)
	return d, nil
}

// Install implements install(draftId) -> (Draft, InstallResult). It
// refuses outside {draft, previewed} or with outstanding validation
// errors, writes the package as the environment's new baseline via a
// version-guarded C2 upsert, recomposes active overrides, and
// transitions to installed. A C2 conflict surfaces CONFLICT unchanged —
// the caller must re-preview against the refreshed baseline. Per spec
// §4.1, a package install is a governed write: tc must carry a changeId
// and a capability profile granting FS_WRITE.
func (e *Engine) Install(ctx context.Context, tc tenantctx.Context, draftID string, overrides OverrideRecomposer) (*Draft, *InstallResult, error) {
	if err := tc.RequireGovernance(); err != nil {
		return nil, nil, err
	}
	if err := tc.RequireCapabilities(tenantctx.TokenFSWrite); err != nil {
		return nil, nil, err
	}

	d, storeVersion, err := e.getDraft(ctx, tc.Tenant.ID, draftID)
	if err != nil {
		return nil, nil, err
	}
	if err := tc.CheckTenant(d.TenantID); err != nil {
		return nil, nil, err
	}

	if d.Status != StatusDraft && d.Status != StatusPreviewed {
		return nil, nil, errs.Newf(errs.CodeStateInvalid, "cannot install draft in state %q", d.Status)
	}
	if len(d.ValidationErrs) > 0 {
		return nil, nil, errs.New(errs.CodeValidationError, "draft has outstanding validation errors")
	}
	if d.EnvironmentID == "" {
		return nil, nil, errs.New(errs.CodeStateInvalid, "draft has not been previewed against an environment")
	}

	v, _, err := e.getVersion(ctx, d.TenantID, draftID, d.CurrentVersion)
	if err != nil {
		return nil, nil, err
	}

	_, baselineVersion, err := e.baselines.GetBaseline(ctx, d.TenantID, d.EnvironmentID)
	if err != nil {
		return nil, nil, err
	}

	newVersion, err := e.baselines.PutBaseline(ctx, d.TenantID, d.EnvironmentID, v.Package, baselineVersion)
	if err != nil {
		if errs.Is(err, errs.CodeConflict) {
			return nil, nil, err
		}
		return nil, nil, err
	}

	if overrides != nil {
		if err := overrides.Recompose(ctx, d.TenantID, d.EnvironmentID, v.Package); err != nil {
			return nil, nil, err
		}
	}

	d.Status = StatusInstalled
	d.UpdatedAt = time.Now()
	if _, err := e.putDraft(ctx, d, &storeVersion); err != nil {
		return nil, nil, err
	}

	e.emitAudit(ctx, tc, d.ID, "installed", d.Diff)
	return d, &InstallResult{
		EnvironmentID:   d.EnvironmentID,
		BaselineVersion: newVersion,
		Checksum:        v.Checksum,
	}, nil
}
