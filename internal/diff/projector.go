package diff

import (
	"sort"

	"github.com/c360studio/changeops/internal/pkgmodel"
)

// OpKind is the projector's verb for one entity in the plan.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpRemove OpKind = "remove"
)

// EntityKind distinguishes the four entity families a package projects
// onto an environment. RecordTypes always precede Workflows and SLAs in
// the resulting plan, since both depend on record types existing first.
type EntityKind string

const (
	EntityRecordType     EntityKind = "recordType"
	EntitySlaPolicy       EntityKind = "slaPolicy"
	EntityAssignmentRule  EntityKind = "assignmentRule"
	EntityWorkflow        EntityKind = "workflow"
)

// Op is one step of a projection plan.
type Op struct {
	Kind   OpKind     `json:"kind"`
	Entity EntityKind `json:"entity"`
	Key    string     `json:"key"`
}

// Project turns target (the package being installed or promoted) into
// an ordered plan of create/update/remove operations against current
// (the environment's existing EnvironmentPackageState, nil if the
// environment has nothing installed yet). Record types are always
// planned before workflows, SLA policies, and assignment rules, since
// those entities reference record types by key.
func Project(current, target *pkgmodel.Package) []Op {
	var plan []Op

	plan = append(plan, projectRecordTypes(current, target)...)
	plan = append(plan, projectSlaPolicies(current, target)...)
	plan = append(plan, projectAssignmentRules(current, target)...)
	plan = append(plan, projectWorkflows(current, target)...)

	return plan
}

func projectRecordTypes(current, target *pkgmodel.Package) []Op {
	curr := map[string]pkgmodel.RecordType{}
	if current != nil {
		curr = indexRecordTypes(current)
	}
	want := indexRecordTypes(target)

	var ops []Op
	for _, key := range sortedKeys(want) {
		if _, ok := curr[key]; ok {
			ops = append(ops, Op{Kind: OpUpdate, Entity: EntityRecordType, Key: key})
		} else {
			ops = append(ops, Op{Kind: OpCreate, Entity: EntityRecordType, Key: key})
		}
	}
	for _, key := range sortedKeys(curr) {
		if _, ok := want[key]; !ok {
			ops = append(ops, Op{Kind: OpRemove, Entity: EntityRecordType, Key: key})
		}
	}
	return ops
}

func projectSlaPolicies(current, target *pkgmodel.Package) []Op {
	currKeys := map[string]bool{}
	if current != nil {
		for _, s := range current.SlaPolicies {
			currKeys[s.RecordTypeKey] = true
		}
	}
	wantKeys := map[string]bool{}
	for _, s := range target.SlaPolicies {
		wantKeys[s.RecordTypeKey] = true
	}
	return diffKeyedOps(currKeys, wantKeys, EntitySlaPolicy)
}

func projectAssignmentRules(current, target *pkgmodel.Package) []Op {
	currKeys := map[string]bool{}
	if current != nil {
		for _, r := range current.AssignmentRules {
			currKeys[r.RecordTypeKey] = true
		}
	}
	wantKeys := map[string]bool{}
	for _, r := range target.AssignmentRules {
		wantKeys[r.RecordTypeKey] = true
	}
	return diffKeyedOps(currKeys, wantKeys, EntityAssignmentRule)
}

func projectWorkflows(current, target *pkgmodel.Package) []Op {
	currKeys := map[string]bool{}
	if current != nil {
		for _, wf := range current.Workflows {
			currKeys[wf.Key] = true
		}
	}
	wantKeys := map[string]bool{}
	for _, wf := range target.Workflows {
		wantKeys[wf.Key] = true
	}
	return diffKeyedOps(currKeys, wantKeys, EntityWorkflow)
}

func diffKeyedOps(curr, want map[string]bool, kind EntityKind) []Op {
	var ops []Op
	for _, key := range sortedStringKeys(want) {
		if curr[key] {
			ops = append(ops, Op{Kind: OpUpdate, Entity: kind, Key: key})
		} else {
			ops = append(ops, Op{Kind: OpCreate, Entity: kind, Key: key})
		}
	}
	for _, key := range sortedStringKeys(curr) {
		if !want[key] {
			ops = append(ops, Op{Kind: OpRemove, Entity: kind, Key: key})
		}
	}
	return ops
}

func sortedStringKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
