package pkgmodel

import (
	"testing"

	"github.com/c360studio/changeops/internal/errs"
	"github.com/stretchr/testify/assert"
)

func TestValidate_DuplicateRecordTypeKey(t *testing.T) {
	p := &Package{
		RecordTypes: []RecordType{{Key: "ticket"}, {Key: "ticket"}},
	}

	problems := p.Validate()

	assert.Len(t, problems, 1)
	assert.Equal(t, errs.CodeValidationError, problems[0].Code)
}

func TestValidate_UnresolvedBaseType(t *testing.T) {
	p := &Package{
		RecordTypes: []RecordType{{Key: "bug", BaseType: "issue"}},
	}

	problems := p.Validate()

	assert.Len(t, problems, 1)
	assert.Equal(t, "issue", problems[0].BaseTypeKey)
}

func TestValidate_UnresolvedReferencesAcrossEntities(t *testing.T) {
	p := &Package{
		RecordTypes:     []RecordType{{Key: "ticket"}},
		SlaPolicies:     []SlaPolicy{{RecordTypeKey: "missing"}},
		AssignmentRules: []AssignmentRule{{RecordTypeKey: "missing"}},
		Workflows:       []Workflow{{Key: "wf", RecordTypeKey: "missing"}},
	}

	problems := p.Validate()

	assert.Len(t, problems, 3)
}

func TestValidate_DuplicateStepOrdering(t *testing.T) {
	p := &Package{
		RecordTypes: []RecordType{{Key: "ticket"}},
		Workflows: []Workflow{{
			Key:           "triage",
			RecordTypeKey: "ticket",
			Steps: []WorkflowStep{
				{Name: "a", Ordering: 0},
				{Name: "b", Ordering: 0},
			},
		}},
	}

	problems := p.Validate()

	assert.Len(t, problems, 1)
}

func TestValidate_ValidPackageHasNoProblems(t *testing.T) {
	p := &Package{
		PackageKey: "vibe.helpdesk",
		RecordTypes: []RecordType{
			{Key: "ticket", Fields: []Field{{Name: "priority", Required: true}}},
		},
		SlaPolicies:     []SlaPolicy{{RecordTypeKey: "ticket", DurationMinutes: 60}},
		AssignmentRules: []AssignmentRule{{RecordTypeKey: "ticket", StrategyType: "group"}},
		Workflows: []Workflow{{
			Key:           "triage",
			RecordTypeKey: "ticket",
			Steps:         []WorkflowStep{{Name: "assign", Ordering: 0}, {Name: "notify", Ordering: 1}},
		}},
	}

	assert.Empty(t, p.Validate())
}

func TestChecksum_StableAcrossFieldReordering(t *testing.T) {
	p1 := &Package{
		PackageKey: "vibe.helpdesk",
		RecordTypes: []RecordType{
			{Key: "ticket", Fields: []Field{
				{Name: "priority", Required: true},
				{Name: "title"},
			}},
		},
	}
	p2 := &Package{
		PackageKey: "vibe.helpdesk",
		RecordTypes: []RecordType{
			{Key: "ticket", Fields: []Field{
				{Name: "title"},
				{Name: "priority", Required: true},
			}},
		},
	}

	assert.Equal(t, Checksum(p1), Checksum(p2))
}

func TestChecksum_ChangesWithStructuralChange(t *testing.T) {
	base := &Package{
		PackageKey:  "vibe.helpdesk",
		RecordTypes: []RecordType{{Key: "ticket", Fields: []Field{{Name: "priority"}}}},
	}
	changed := &Package{
		PackageKey:  "vibe.helpdesk",
		RecordTypes: []RecordType{{Key: "ticket", Fields: []Field{{Name: "severity"}}}},
	}

	assert.NotEqual(t, Checksum(base), Checksum(changed))
}

func TestChecksum_StableAcrossRecordTypeReordering(t *testing.T) {
	p1 := &Package{RecordTypes: []RecordType{{Key: "a"}, {Key: "b"}}}
	p2 := &Package{RecordTypes: []RecordType{{Key: "b"}, {Key: "a"}}}

	assert.Equal(t, Checksum(p1), Checksum(p2))
}
