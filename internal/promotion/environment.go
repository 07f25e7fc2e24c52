// Package promotion implements the promotion state machine (C9):
// environments, the EnvironmentPackageState each one carries, and the
// draft -> previewed -> approved -> executed / rejected lifecycle that
// moves a package from one environment's baseline to another.
package promotion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360studio/changeops/internal/errs"
	"github.com/c360studio/changeops/internal/pkgmodel"
	"github.com/c360studio/changeops/internal/store"
)

const (
	collectionEnvironments = "environments"
	collectionBaselines    = "environment-packages"
)

// EnvironmentName constrains an Environment to the three stages DATA
// MODEL defines.
type EnvironmentName string

const (
	EnvironmentDev  EnvironmentName = "dev"
	EnvironmentTest EnvironmentName = "test"
	EnvironmentProd EnvironmentName = "prod"
)

// Environment is one promotion target within a project.
type Environment struct {
	ID                        string          `json:"id"`
	TenantID                  string          `json:"tenantId"`
	ProjectID                 string          `json:"projectId"`
	Name                      EnvironmentName `json:"name"`
	IsDefault                 bool            `json:"isDefault"`
	RequiresPromotionApproval bool            `json:"requiresPromotionApproval"`
	CreatedAt                 time.Time       `json:"createdAt"`
	UpdatedAt                 time.Time       `json:"updatedAt"`
}

// PackageSource is the "source" field on an EnvironmentPackageState —
// how the installed baseline got there.
type PackageSource string

const (
	SourceDraftInstall PackageSource = "draft_install"
	SourcePromotion    PackageSource = "promotion"
)

// PackageState is the materialized baseline stored per environment,
// wrapping the package payload with the metadata C4/C9 need.
type PackageState struct {
	PackageKey  string            `json:"packageKey"`
	Version     string            `json:"version"`
	Checksum    string            `json:"checksum"`
	InstalledAt time.Time         `json:"installedAt"`
	Source      PackageSource     `json:"source"`
	Package     *pkgmodel.Package `json:"package"`
}

// EnvironmentStore owns Environment records and each one's installed
// EnvironmentPackageState. It implements draft.EnvironmentPackageSource
// so C5 can preview/install directly against it, and is the same seam
// C9's execute step writes through when promoting between environments.
type EnvironmentStore struct {
	store store.Store
}

// NewEnvironmentStore constructs an EnvironmentStore.
func NewEnvironmentStore(st store.Store) *EnvironmentStore {
	return &EnvironmentStore{store: st}
}

// PutEnvironment creates or updates an Environment record.
func (s *EnvironmentStore) PutEnvironment(ctx context.Context, tenantID string, env *Environment) error {
	env.TenantID = tenantID
	env.UpdatedAt = time.Now()
	if env.CreatedAt.IsZero() {
		env.CreatedAt = env.UpdatedAt
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = s.store.Upsert(ctx, tenantID, collectionEnvironments, env.ID, data, nil)
	return err
}

// GetEnvironment loads an Environment by ID.
func (s *EnvironmentStore) GetEnvironment(ctx context.Context, tenantID, environmentID string) (*Environment, error) {
	rec, err := s.store.Get(ctx, tenantID, collectionEnvironments, environmentID)
	if err != nil {
		return nil, err
	}
	var env Environment
	if err := json.Unmarshal(rec.Data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal environment: %w", err)
	}
	return &env, nil
}

// GetBaseline implements draft.EnvironmentPackageSource: returns the
// environment's currently installed package and its store version (0,
// nil if nothing has been installed yet).
func (s *EnvironmentStore) GetBaseline(ctx context.Context, tenantID, environmentID string) (*pkgmodel.Package, uint64, error) {
	rec, err := s.store.Get(ctx, tenantID, collectionBaselines, environmentID)
	if err != nil {
		if errs.Is(err, errs.CodeNotFound) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	var ps PackageState
	if err := json.Unmarshal(rec.Data, &ps); err != nil {
		return nil, 0, fmt.Errorf("unmarshal environment package state: %w", err)
	}
	return ps.Package, rec.Version, nil
}

// GetBaselineState returns the full EnvironmentPackageState, including
// checksum/source/installedAt, for callers (audit, the CLI) that need
// more than the bare package.
func (s *EnvironmentStore) GetBaselineState(ctx context.Context, tenantID, environmentID string) (*PackageState, uint64, error) {
	rec, err := s.store.Get(ctx, tenantID, collectionBaselines, environmentID)
	if err != nil {
		if errs.Is(err, errs.CodeNotFound) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	var ps PackageState
	if err := json.Unmarshal(rec.Data, &ps); err != nil {
		return nil, 0, fmt.Errorf("unmarshal environment package state: %w", err)
	}
	return &ps, rec.Version, nil
}

// PutBaseline implements draft.EnvironmentPackageSource: writes pkg as
// environmentID's new baseline, guarded by expectedVersion (0 means
// "must not already exist"). Returns the new store version.
func (s *EnvironmentStore) PutBaseline(ctx context.Context, tenantID, environmentID string, pkg *pkgmodel.Package, expectedVersion uint64) (uint64, error) {
	return s.putBaseline(ctx, tenantID, environmentID, pkg, expectedVersion, SourceDraftInstall)
}

func (s *EnvironmentStore) putBaseline(ctx context.Context, tenantID, environmentID string, pkg *pkgmodel.Package, expectedVersion uint64, source PackageSource) (uint64, error) {
	ps := PackageState{
		PackageKey:  pkg.PackageKey,
		Version:     pkg.Version,
		Checksum:    pkgmodel.Checksum(pkg),
		InstalledAt: time.Now(),
		Source:      source,
		Package:     pkg,
	}
	data, err := json.Marshal(ps)
	if err != nil {
		return 0, err
	}
	rec, err := s.store.Upsert(ctx, tenantID, collectionBaselines, environmentID, data, &expectedVersion)
	if err != nil {
		return 0, err
	}
	return rec.Version, nil
}
