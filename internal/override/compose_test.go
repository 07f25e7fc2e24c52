package override

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/changeops/internal/errs"
	"github.com/c360studio/changeops/internal/pkgmodel"
	"github.com/c360studio/changeops/internal/store"
	"github.com/c360studio/changeops/internal/tenantctx"
)

func governedCtx() tenantctx.Context {
	return tenantctx.New("tenant-1", tenantctx.SourceHeader, tenantctx.Actor{ID: "user-1", Type: tenantctx.ActorUser}).
		WithGovernance("change-1").
		WithCapabilities(tenantctx.ProfileCodeModuleDefault)
}

func ticketBaseline() *pkgmodel.Package {
	return &pkgmodel.Package{
		PackageKey: "vibe.helpdesk",
		RecordTypes: []pkgmodel.RecordType{
			{
				Key:  "ticket",
				Name: "Ticket",
				Fields: []pkgmodel.Field{
					{Name: "priority", Type: "string", Required: true},
					{Name: "title", Type: "string"},
					{Name: "notes", Type: "string"},
				},
			},
		},
		AssignmentRules: []pkgmodel.AssignmentRule{
			{RecordTypeKey: "ticket", StrategyType: "group", Config: pkgmodel.AssignmentRuleConfig{GroupKey: "support"}},
		},
	}
}

func TestComposeRecordType_MoveFieldAndToggleVisible(t *testing.T) {
	baseline, _ := ticketBaseline().FindRecordType("ticket")
	ov := Override{
		ID:     "ov-1",
		Status: StatusActive,
		Ops: []Op{
			{Kind: OpMoveField, FieldName: "notes", ToSectionID: "details"},
			{Kind: OpToggleVisible, FieldName: "notes", Value: false},
		},
	}

	ert := composeRecordType(baseline, nil, []Override{ov})

	assert.Empty(t, ert.CompositionErrors)
	assert.Equal(t, "details", ert.Fields["notes"].SectionID)
	assert.False(t, ert.Fields["notes"].Visible)
	assert.Equal(t, defaultSectionID, ert.Fields["title"].SectionID)
}

func TestComposeRecordType_RequiredInvariantRejectsUnset(t *testing.T) {
	baseline, _ := ticketBaseline().FindRecordType("ticket")
	ov := Override{
		ID:     "ov-1",
		Status: StatusActive,
		Ops: []Op{
			{Kind: OpToggleRequired, FieldName: "priority", Value: false},
		},
	}

	ert := composeRecordType(baseline, nil, []Override{ov})

	assert.NotEmpty(t, ert.CompositionErrors)
	assert.True(t, ert.Fields["priority"].Required, "baseline-required field must remain required despite override")
}

func TestComposeRecordType_UnknownFieldReferenceRecordsError(t *testing.T) {
	baseline, _ := ticketBaseline().FindRecordType("ticket")
	ov := Override{
		ID:     "ov-1",
		Status: StatusActive,
		Ops:    []Op{{Kind: OpMoveField, FieldName: "does_not_exist", ToSectionID: "details"}},
	}

	ert := composeRecordType(baseline, nil, []Override{ov})

	assert.NotEmpty(t, ert.CompositionErrors)
	assert.Equal(t, defaultSectionID, ert.Fields["title"].SectionID, "unaffected fields still compose")
}

func TestComposeRecordType_DeterministicOrderingByCreatedAtThenID(t *testing.T) {
	baseline, _ := ticketBaseline().FindRecordType("ticket")
	t0 := time.Now()

	// Two overrides move the same field to different sections; the later
	// one (by createdAt, then id) must win.
	first := Override{ID: "a", Status: StatusActive, CreatedAt: t0, Ops: []Op{{Kind: OpMoveField, FieldName: "notes", ToSectionID: "first"}}}
	second := Override{ID: "b", Status: StatusActive, CreatedAt: t0.Add(time.Second), Ops: []Op{{Kind: OpMoveField, FieldName: "notes", ToSectionID: "second"}}}

	ert := composeRecordType(baseline, nil, []Override{second, first})
	assert.Equal(t, "second", ert.Fields["notes"].SectionID)
}

func TestComposeRecordType_SetAssignmentConfigMergesOnlySetFields(t *testing.T) {
	baseline, _ := ticketBaseline().FindRecordType("ticket")
	rule := &pkgmodel.AssignmentRule{StrategyType: "group", Config: pkgmodel.AssignmentRuleConfig{GroupKey: "support"}}
	ov := Override{
		ID:     "ov-1",
		Status: StatusActive,
		Ops: []Op{
			{Kind: OpSetAssignmentConfig, AssignmentConfig: &pkgmodel.AssignmentRuleConfig{UserID: "escalation-oncall"}},
		},
	}

	ert := composeRecordType(baseline, rule, []Override{ov})

	require.NotNil(t, ert.AssignmentRule)
	assert.Equal(t, "escalation-oncall", ert.AssignmentRule.Config.UserID)
	assert.Equal(t, "support", ert.AssignmentRule.Config.GroupKey, "fields the op left unset keep the baseline value")
}

func TestComposer_ActivateRejectsRequiredInvariantViolation(t *testing.T) {
	c := NewComposer(store.NewMemoryStore())
	baseline := ticketBaseline()

	err := c.Activate(context.Background(), governedCtx(), &Override{
		TenantID:      "tenant-1",
		ModuleID:      "dev",
		RecordTypeKey: "ticket",
		Ops:           []Op{{Kind: OpToggleRequired, FieldName: "priority", Value: false}},
	}, baseline)

	require.Error(t, err)
}

func TestComposer_ActivateRequiresGovernance(t *testing.T) {
	c := NewComposer(store.NewMemoryStore())
	baseline := ticketBaseline()
	ungoverned := tenantctx.New("tenant-1", tenantctx.SourceHeader, tenantctx.Actor{ID: "user-1", Type: tenantctx.ActorUser}).
		WithCapabilities(tenantctx.ProfileCodeModuleDefault)

	err := c.Activate(context.Background(), ungoverned, &Override{
		TenantID:      "tenant-1",
		ModuleID:      "dev",
		RecordTypeKey: "ticket",
		Ops:           []Op{{Kind: OpMoveField, FieldName: "notes", ToSectionID: "details"}},
	}, baseline)

	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CodeGovernanceRequired))
}

func TestComposer_ActivateRequiresCapability(t *testing.T) {
	c := NewComposer(store.NewMemoryStore())
	baseline := ticketBaseline()
	noFSWrite := tenantctx.New("tenant-1", tenantctx.SourceHeader, tenantctx.Actor{ID: "user-1", Type: tenantctx.ActorUser}).
		WithGovernance("change-1").
		WithCapabilities(tenantctx.ProfileReadOnly)

	err := c.Activate(context.Background(), noFSWrite, &Override{
		TenantID:      "tenant-1",
		ModuleID:      "dev",
		RecordTypeKey: "ticket",
		Ops:           []Op{{Kind: OpMoveField, FieldName: "notes", ToSectionID: "details"}},
	}, baseline)

	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CodeCapabilityDenied))
}

func TestComposer_ActivateThenRecompose(t *testing.T) {
	c := NewComposer(store.NewMemoryStore())
	ctx := context.Background()
	baseline := ticketBaseline()

	ov := &Override{
		TenantID:      "tenant-1",
		ModuleID:      "dev",
		RecordTypeKey: "ticket",
		Ops:           []Op{{Kind: OpMoveField, FieldName: "notes", ToSectionID: "details"}},
	}
	require.NoError(t, c.Activate(ctx, governedCtx(), ov, baseline))
	assert.NotEmpty(t, ov.ID)

	require.NoError(t, c.Recompose(ctx, "tenant-1", "dev", baseline))

	ert, err := c.GetEffective(ctx, "tenant-1", "dev", "ticket")
	require.NoError(t, err)
	assert.Equal(t, "details", ert.Fields["notes"].SectionID)
}

func TestComposer_RecomposeSurvivesUnresolvedOverrideAfterBaselineShrinks(t *testing.T) {
	c := NewComposer(store.NewMemoryStore())
	ctx := context.Background()
	baseline := ticketBaseline()

	ov := &Override{
		TenantID:      "tenant-1",
		ModuleID:      "dev",
		RecordTypeKey: "ticket",
		Ops:           []Op{{Kind: OpMoveField, FieldName: "notes", ToSectionID: "details"}},
	}
	require.NoError(t, c.Activate(ctx, governedCtx(), ov, baseline))

	shrunk := ticketBaseline()
	shrunk.RecordTypes[0].Fields = shrunk.RecordTypes[0].Fields[:2] // drops "notes"

	require.NoError(t, c.Recompose(ctx, "tenant-1", "dev", shrunk))

	ert, err := c.GetEffective(ctx, "tenant-1", "dev", "ticket")
	require.NoError(t, err)
	assert.NotEmpty(t, ert.CompositionErrors, "override targeting a dropped field degrades, it is not silently satisfied")
}
