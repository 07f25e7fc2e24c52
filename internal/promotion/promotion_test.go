package promotion_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/changeops/internal/errs"
	"github.com/c360studio/changeops/internal/pkgmodel"
	"github.com/c360studio/changeops/internal/promotion"
	"github.com/c360studio/changeops/internal/store"
	"github.com/c360studio/changeops/internal/tenantctx"
)

func ticketPackage(version string) *pkgmodel.Package {
	return &pkgmodel.Package{
		PackageKey: "ticketing",
		Version:    version,
		RecordTypes: []pkgmodel.RecordType{
			{Key: "ticket", Name: "Ticket", Fields: []pkgmodel.Field{
				{Name: "title", Type: "string", Required: true},
			}},
		},
	}
}

func creatorCtx() tenantctx.Context {
	return tenantctx.New("tenant-a", tenantctx.SourceHeader, tenantctx.Actor{ID: "alice", Type: tenantctx.ActorUser}).
		WithGovernance("change-1")
}

func approverCtx() tenantctx.Context {
	return tenantctx.New("tenant-a", tenantctx.SourceHeader, tenantctx.Actor{ID: "bob", Type: tenantctx.ActorUser}).
		WithGovernance("change-1")
}

func setup(t *testing.T) (*promotion.Engine, *promotion.EnvironmentStore, string, string) {
	t.Helper()
	st := store.NewMemoryStore()
	envs := promotion.NewEnvironmentStore(st)
	engine := promotion.NewEngine(st, envs)

	require.NoError(t, envs.PutEnvironment(context.Background(), "tenant-a", &promotion.Environment{
		ID: "env-dev", ProjectID: "proj-1", Name: promotion.EnvironmentDev,
	}))
	require.NoError(t, envs.PutEnvironment(context.Background(), "tenant-a", &promotion.Environment{
		ID: "env-prod", ProjectID: "proj-1", Name: promotion.EnvironmentProd, RequiresPromotionApproval: true,
	}))

	_, err := envs.PutBaseline(context.Background(), "tenant-a", "env-dev", ticketPackage("1.0.0"), 0)
	require.NoError(t, err)

	return engine, envs, "env-dev", "env-prod"
}

func TestPromotion_HappyPathDraftToExecuted(t *testing.T) {
	engine, envs, from, to := setup(t)
	ctx := context.Background()

	in, err := engine.Create(ctx, creatorCtx(), "proj-1", from, to)
	require.NoError(t, err)
	assert.Equal(t, promotion.StatusDraft, in.Status)

	in, err = engine.Preview(ctx, creatorCtx(), in.ID)
	require.NoError(t, err)
	require.Equal(t, promotion.StatusPreviewed, in.Status)
	require.NotNil(t, in.Diff)
	assert.Equal(t, 1, in.Diff.Summary.Added)

	in, err = engine.Approve(ctx, approverCtx(), in.ID)
	require.NoError(t, err)
	assert.Equal(t, promotion.StatusApproved, in.Status)
	assert.Equal(t, "bob", in.ApprovedBy)

	in, err = engine.Execute(ctx, creatorCtx(), in.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, promotion.StatusExecuted, in.Status)
	require.NotNil(t, in.Result)

	installed, _, err := envs.GetBaseline(ctx, "tenant-a", to)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", installed.Version)
}

func TestPromotion_SelfApprovalRejected(t *testing.T) {
	engine, _, from, to := setup(t)
	ctx := context.Background()

	in, err := engine.Create(ctx, creatorCtx(), "proj-1", from, to)
	require.NoError(t, err)
	in, err = engine.Preview(ctx, creatorCtx(), in.ID)
	require.NoError(t, err)

	_, err = engine.Approve(ctx, creatorCtx(), in.ID)
	require.Error(t, err)
	assert.Equal(t, errs.CodeInvariantViolation, errs.CodeOf(err))
}

func TestPromotion_RejectIsTerminalFromAnyNonTerminalState(t *testing.T) {
	engine, _, from, to := setup(t)
	ctx := context.Background()

	in, err := engine.Create(ctx, creatorCtx(), "proj-1", from, to)
	require.NoError(t, err)

	in, err = engine.Reject(ctx, creatorCtx(), in.ID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, promotion.StatusRejected, in.Status)

	_, err = engine.Reject(ctx, creatorCtx(), in.ID, "again")
	require.Error(t, err)
	assert.Equal(t, errs.CodeStateInvalid, errs.CodeOf(err))

	_, err = engine.Preview(ctx, creatorCtx(), in.ID)
	require.Error(t, err)
	assert.Equal(t, errs.CodeStateInvalid, errs.CodeOf(err))
}

func TestPromotion_ExecuteConflictRejectsWithNoPartialState(t *testing.T) {
	engine, envs, from, to := setup(t)
	ctx := context.Background()

	in, err := engine.Create(ctx, creatorCtx(), "proj-1", from, to)
	require.NoError(t, err)
	in, err = engine.Preview(ctx, creatorCtx(), in.ID)
	require.NoError(t, err)
	in, err = engine.Approve(ctx, approverCtx(), in.ID)
	require.NoError(t, err)

	// Someone else installs into the target out of band, advancing its
	// version past what Execute will expect.
	_, err = envs.PutBaseline(ctx, "tenant-a", to, ticketPackage("0.9.0"), 0)
	require.NoError(t, err)

	in, err = engine.Execute(ctx, creatorCtx(), in.ID, nil)
	require.NoError(t, err, "a conflict surfaces as a rejected intent, not a returned error")
	assert.Equal(t, promotion.StatusRejected, in.Status)
	assert.NotEmpty(t, in.Error)

	installed, _, err := envs.GetBaseline(ctx, "tenant-a", to)
	require.NoError(t, err)
	assert.Equal(t, "0.9.0", installed.Version, "the out-of-band install must remain untouched")
}

func TestPromotion_ExecuteRequiresApprovedState(t *testing.T) {
	engine, _, from, to := setup(t)
	ctx := context.Background()

	in, err := engine.Create(ctx, creatorCtx(), "proj-1", from, to)
	require.NoError(t, err)

	_, err = engine.Execute(ctx, creatorCtx(), in.ID, nil)
	require.Error(t, err)
	assert.Equal(t, errs.CodeStateInvalid, errs.CodeOf(err))
}

type fakeDraftChecksums struct {
	byEnv map[string]string
}

func (f fakeDraftChecksums) LatestInstalledChecksum(_ context.Context, _, _, environmentID string) (string, bool, error) {
	sum, ok := f.byEnv[environmentID]
	return sum, ok, nil
}

func TestPromotion_DetectDriftFlagsChecksumMismatch(t *testing.T) {
	engine, envs, from, to := setup(t)
	ctx := context.Background()

	state, _, err := envs.GetBaselineState(ctx, "tenant-a", from)
	require.NoError(t, err)
	require.NotNil(t, state)

	drafts := fakeDraftChecksums{byEnv: map[string]string{
		from: state.Checksum,
		to:   "stale-checksum",
	}}

	statuses, err := engine.DetectDrift(ctx, creatorCtx(), "proj-1", []string{from, to}, drafts)
	require.NoError(t, err)

	assert.False(t, statuses[from].HasDrift)
	assert.False(t, statuses[to].HasDrift, "no installed baseline in 'to' yet means nothing to compare")
}

func TestPromotion_DetectDriftNoDriftWhenChecksumsMatch(t *testing.T) {
	engine, envs, from, to := setup(t)
	ctx := context.Background()

	_, err := envs.PutBaseline(ctx, "tenant-a", to, ticketPackage("1.0.0"), 0)
	require.NoError(t, err)
	state, _, err := envs.GetBaselineState(ctx, "tenant-a", to)
	require.NoError(t, err)

	drafts := fakeDraftChecksums{byEnv: map[string]string{to: state.Checksum}}

	statuses, err := engine.DetectDrift(ctx, creatorCtx(), "proj-1", []string{to}, drafts)
	require.NoError(t, err)
	assert.False(t, statuses[to].HasDrift)
}

func TestPromotion_DetectDriftFlagsRealMismatch(t *testing.T) {
	engine, envs, _, to := setup(t)
	ctx := context.Background()

	_, err := envs.PutBaseline(ctx, "tenant-a", to, ticketPackage("1.0.0"), 0)
	require.NoError(t, err)

	drafts := fakeDraftChecksums{byEnv: map[string]string{to: "different-checksum-entirely"}}

	statuses, err := engine.DetectDrift(ctx, creatorCtx(), "proj-1", []string{to}, drafts)
	require.NoError(t, err)
	assert.True(t, statuses[to].HasDrift)
}

func TestPromotion_CreateRequiresGovernance(t *testing.T) {
	engine, _, from, to := setup(t)
	ctx := context.Background()

	noGovernance := tenantctx.New("tenant-a", tenantctx.SourceHeader, tenantctx.Actor{ID: "alice", Type: tenantctx.ActorUser})
	_, err := engine.Create(ctx, noGovernance, "proj-1", from, to)
	require.Error(t, err)
	assert.Equal(t, errs.CodeGovernanceRequired, errs.CodeOf(err))
}
