package draft

import (
	"context"
	"encoding/json"
	"fmt"
)

// LatestInstalledChecksum returns the checksum of the most recently
// installed draft for (projectID, environmentID), and false if none has
// been installed yet. This is the seam C9's drift detection
// (internal/promotion) consumes, structurally, without this package
// depending on promotion's concrete types.
func (e *Engine) LatestInstalledChecksum(ctx context.Context, tenantID, projectID, environmentID string) (string, bool, error) {
	var latest *Draft

	cursor := ""
	for {
		records, next, err := e.store.List(ctx, tenantID, collectionDrafts, cursor, 200)
		if err != nil {
			return "", false, err
		}
		for _, rec := range records {
			var d Draft
			if err := json.Unmarshal(rec.Data, &d); err != nil {
				return "", false, fmt.Errorf("unmarshal draft: %w", err)
			}
			if d.ProjectID != projectID || d.EnvironmentID != environmentID || d.Status != StatusInstalled {
				continue
			}
			if latest == nil || d.UpdatedAt.After(latest.UpdatedAt) {
				latest = &d
			}
		}
		if next == "" {
			break
		}
		cursor = next
	}

	if latest == nil {
		return "", false, nil
	}
	return latest.Checksum, true, nil
}
