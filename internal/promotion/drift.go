package promotion

import (
	"context"

	"github.com/c360studio/changeops/internal/tenantctx"
)

// LatestDraftChecksumSource is the narrow seam into C5 drift detection
// needs: the checksum of the most recently installed draft targeting a
// given environment. *draft.Engine satisfies this structurally.
type LatestDraftChecksumSource interface {
	LatestInstalledChecksum(ctx context.Context, tenantID, projectID, environmentID string) (string, bool, error)
}

// DriftStatus compares an environment's installed baseline checksum
// against the latest draft that was installed into it.
type DriftStatus struct {
	EnvironmentID       string `json:"environmentId"`
	InstalledChecksum   string `json:"installedChecksum,omitempty"`
	LatestDraftChecksum string `json:"latestDraftChecksum,omitempty"`
	HasDrift            bool   `json:"hasDrift"`
}

// DetectDrift compares each of environmentIDs' installed
// EnvironmentPackageState checksum against the latest installed draft's
// checksum for that environment, per the supplemented drift-detection
// feature (spec §9's open TODO). An environment with no installed
// baseline, or no installed draft on record, never reports drift — there
// is nothing to compare against yet.
func (e *Engine) DetectDrift(ctx context.Context, tc tenantctx.Context, projectID string, environmentIDs []string, drafts LatestDraftChecksumSource) (map[string]DriftStatus, error) {
	out := make(map[string]DriftStatus, len(environmentIDs))

	for _, envID := range environmentIDs {
		state, _, err := e.envs.GetBaselineState(ctx, tc.Tenant.ID, envID)
		if err != nil {
			return nil, err
		}
		draftChecksum, ok, err := drafts.LatestInstalledChecksum(ctx, tc.Tenant.ID, projectID, envID)
		if err != nil {
			return nil, err
		}

		status := DriftStatus{EnvironmentID: envID}
		if state != nil {
			status.InstalledChecksum = state.Checksum
		}
		if ok {
			status.LatestDraftChecksum = draftChecksum
		}
		status.HasDrift = state != nil && ok && state.Checksum != draftChecksum
		out[envID] = status
	}

	return out, nil
}
