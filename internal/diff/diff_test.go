package diff

import (
	"testing"

	"github.com/c360studio/changeops/internal/pkgmodel"
	"github.com/stretchr/testify/assert"
)

func ticketPackage(fields ...pkgmodel.Field) *pkgmodel.Package {
	return &pkgmodel.Package{
		PackageKey: "vibe.helpdesk",
		Version:    "1",
		RecordTypes: []pkgmodel.RecordType{
			{Key: "ticket", Name: "Ticket", Fields: fields},
		},
	}
}

func TestDiff_AllZeroForIdenticalPackages(t *testing.T) {
	p := ticketPackage(pkgmodel.Field{Name: "priority", Required: true})

	result := Diff(p, p)

	assert.Empty(t, result.AddedRecordTypes)
	assert.Empty(t, result.RemovedRecordTypes)
	assert.Empty(t, result.ModifiedRecordTypes)
	assert.Equal(t, Summary{}, result.Summary)
}

func TestDiff_AddedRecordType(t *testing.T) {
	a := &pkgmodel.Package{PackageKey: "vibe.helpdesk"}
	b := ticketPackage(pkgmodel.Field{Name: "priority"}, pkgmodel.Field{Name: "title"})

	result := Diff(a, b)

	assert.Equal(t, []AddedRecordType{{Key: "ticket", FieldCount: 2}}, result.AddedRecordTypes)
	assert.Equal(t, Summary{Added: 1}, result.Summary)
}

func TestDiff_RemovedRecordType(t *testing.T) {
	a := ticketPackage(pkgmodel.Field{Name: "priority"})
	b := &pkgmodel.Package{PackageKey: "vibe.helpdesk"}

	result := Diff(a, b)

	assert.Equal(t, []RemovedRecordType{{Key: "ticket"}}, result.RemovedRecordTypes)
	assert.Equal(t, Summary{Removed: 1}, result.Summary)
}

func TestDiff_ModifiedRecordTypeFieldSymmetricDifference(t *testing.T) {
	a := ticketPackage(
		pkgmodel.Field{Name: "priority", Required: true},
		pkgmodel.Field{Name: "legacy_status"},
	)
	b := ticketPackage(
		pkgmodel.Field{Name: "priority", Required: true},
		pkgmodel.Field{Name: "severity"},
	)

	result := Diff(a, b)

	assert.Len(t, result.ModifiedRecordTypes, 1)
	mod := result.ModifiedRecordTypes[0]
	assert.Equal(t, "ticket", mod.Key)
	assert.Equal(t, []string{"severity"}, mod.AddedFields)
	assert.Equal(t, []string{"legacy_status"}, mod.RemovedFields)
	assert.False(t, mod.BaseTypeChanged)
	assert.Equal(t, Summary{Modified: 1}, result.Summary)
}

func TestDiff_BaseTypeChanged(t *testing.T) {
	a := &pkgmodel.Package{RecordTypes: []pkgmodel.RecordType{{Key: "bug", BaseType: "issue"}}}
	b := &pkgmodel.Package{RecordTypes: []pkgmodel.RecordType{{Key: "bug", BaseType: "ticket"}}}

	result := Diff(a, b)

	assert.Len(t, result.ModifiedRecordTypes, 1)
	assert.True(t, result.ModifiedRecordTypes[0].BaseTypeChanged)
}

func TestProject_RecordTypesPrecedeWorkflowsAndSlas(t *testing.T) {
	target := &pkgmodel.Package{
		RecordTypes: []pkgmodel.RecordType{{Key: "ticket"}},
		SlaPolicies: []pkgmodel.SlaPolicy{{RecordTypeKey: "ticket", DurationMinutes: 60}},
		Workflows:   []pkgmodel.Workflow{{Key: "triage", RecordTypeKey: "ticket"}},
	}

	plan := Project(nil, target)

	indexOf := func(kind EntityKind) int {
		for i, op := range plan {
			if op.Entity == kind {
				return i
			}
		}
		return -1
	}

	recordTypeIdx := indexOf(EntityRecordType)
	slaIdx := indexOf(EntitySlaPolicy)
	workflowIdx := indexOf(EntityWorkflow)

	assert.GreaterOrEqual(t, recordTypeIdx, 0)
	assert.Less(t, recordTypeIdx, slaIdx)
	assert.Less(t, recordTypeIdx, workflowIdx)
}

func TestProject_RemovalsWhenEntityDroppedFromTarget(t *testing.T) {
	current := &pkgmodel.Package{
		RecordTypes: []pkgmodel.RecordType{{Key: "ticket"}, {Key: "comment"}},
	}
	target := &pkgmodel.Package{
		RecordTypes: []pkgmodel.RecordType{{Key: "ticket"}},
	}

	plan := Project(current, target)

	assert.Contains(t, plan, Op{Kind: OpUpdate, Entity: EntityRecordType, Key: "ticket"})
	assert.Contains(t, plan, Op{Kind: OpRemove, Entity: EntityRecordType, Key: "comment"})
}
