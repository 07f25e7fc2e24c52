package draft

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/changeops/internal/diff"
	"github.com/c360studio/changeops/internal/errs"
	"github.com/c360studio/changeops/internal/tenantctx"
)

// GenerateMulti implements generate-multi(count=k) -> variants[]: k
// independent candidate packages generated from the same prompt, for
// the caller to compare before adopting one.
func (e *Engine) GenerateMulti(ctx context.Context, prompt, appName string, count int) ([]*RepairResult, error) {
	if count <= 0 {
		count = 1
	}
	variants := make([]*RepairResult, 0, count)
	for i := 0; i < count; i++ {
		result, err := e.generateCandidate(ctx, buildGenerateMessages(prompt, appName))
		if err != nil {
			return nil, err
		}
		variants = append(variants, result)
	}
	return variants, nil
}

// DiffVariants is a thin wrapper over C4 comparing two generate-multi
// candidates that were never persisted as draft versions.
func DiffVariants(a, b *RepairResult) diff.Result {
	return diff.Diff(a.Package, b.Package)
}

// AdoptVariant implements adopt_variant: append variant.Package as a new
// version of an existing draft (draftID non-empty) or create a brand new
// draft seeded with it (draftID empty).
func (e *Engine) AdoptVariant(ctx context.Context, tc tenantctx.Context, draftID, projectID, appName string, variant *RepairResult) (*Draft, error) {
	if draftID == "" {
		now := time.Now()
		d := &Draft{
			ID:             uuid.New().String(),
			TenantID:       tc.Tenant.ID,
			ProjectID:      projectID,
			AppName:        appName,
			Status:         StatusDraft,
			CurrentVersion: 1,
			Checksum:       variant.Checksum,
			ValidationErrs: variant.ValidationErrors,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if _, err := e.putDraft(ctx, d, nil); err != nil {
			return nil, err
		}
		if err := e.appendVersion(ctx, d, variant.Package, ReasonAdoptVariant); err != nil {
			return nil, err
		}
		e.emitAudit(ctx, tc, d.ID, "adopted_variant", nil)
		return d, nil
	}

	d, storeVersion, err := e.getDraft(ctx, tc.Tenant.ID, draftID)
	if err != nil {
		return nil, err
	}
	if err := tc.CheckTenant(d.TenantID); err != nil {
		return nil, err
	}
	if d.Status == StatusDiscarded {
		return nil, errs.Newf(errs.CodeStateInvalid, "cannot adopt into discarded draft %q", draftID)
	}

	d.CurrentVersion++
	d.Checksum = variant.Checksum
	d.ValidationErrs = variant.ValidationErrors
	d.UpdatedAt = time.Now()

	if _, err := e.putDraft(ctx, d, &storeVersion); err != nil {
		return nil, err
	}
	if err := e.appendVersion(ctx, d, variant.Package, ReasonAdoptVariant); err != nil {
		return nil, err
	}
	e.emitAudit(ctx, tc, d.ID, "adopted_variant", nil)
	return d, nil
}
