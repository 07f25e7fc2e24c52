// Package pkgmodel implements the canonical in-memory shape of an
// application package (C3): record types, SLA policies, assignment
// rules, workflows, roles, plus structural validation and the
// deterministic checksum used throughout C5-C9.
package pkgmodel

import (
	"fmt"
	"sort"

	"github.com/c360studio/changeops/internal/errs"
)

// Package is the logical value object describing an application. It is
// never persisted flat — C2 stores it as the payload of a Draft /
// DraftVersion / EnvironmentPackageState record.
type Package struct {
	PackageKey       string            `json:"packageKey"`
	Version          string            `json:"version"`
	RecordTypes      []RecordType      `json:"recordTypes"`
	SlaPolicies      []SlaPolicy       `json:"slaPolicies"`
	AssignmentRules  []AssignmentRule  `json:"assignmentRules"`
	Workflows        []Workflow        `json:"workflows"`
	Roles            []Role            `json:"roles"`
}

// RecordType describes one entity type in the package. BaseType is a
// reference that must resolve to another record type's Key (see
// Validate) — it is not a field-inheritance mechanism, a record type's
// Fields are always its complete field list.
type RecordType struct {
	Key      string  `json:"key"`
	Name     string  `json:"name"`
	BaseType string  `json:"baseType,omitempty"`
	Fields   []Field `json:"fields"`
}

// Field describes one field of a record type. Required is absolute: no
// override or assignment rule may weaken a field the package declares
// required (see override.ApplyRequiredInvariant).
type Field struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Required  bool   `json:"required,omitempty"`
	Default   any    `json:"default,omitempty"`
	Reference string `json:"reference,omitempty"`
}

// SlaPolicy attaches a response-time policy to a record type.
type SlaPolicy struct {
	RecordTypeKey   string `json:"recordTypeKey"`
	DurationMinutes int    `json:"durationMinutes"`
}

// AssignmentRule attaches an assignment strategy to a record type.
type AssignmentRule struct {
	RecordTypeKey string               `json:"recordTypeKey"`
	StrategyType  string               `json:"strategyType"`
	Config        AssignmentRuleConfig `json:"config"`
}

// AssignmentRuleConfig is the strategy-specific configuration for an
// assignment rule. Exactly one of GroupKey/UserID/Field is meaningful,
// depending on StrategyType.
type AssignmentRuleConfig struct {
	GroupKey string `json:"groupKey,omitempty"`
	UserID   string `json:"userId,omitempty"`
	Field    string `json:"field,omitempty"`
}

// Workflow describes a multi-step process attached to a record type.
type Workflow struct {
	Key           string         `json:"key"`
	Name          string         `json:"name"`
	RecordTypeKey string         `json:"recordTypeKey"`
	TriggerEvent  string         `json:"triggerEvent,omitempty"`
	Steps         []WorkflowStep `json:"steps"`
}

// WorkflowStep is one step of a Workflow's package-level definition
// (distinct from the runtime WorkflowDefinition/WorkflowStep in
// internal/wfengine, which is what gets activated and executed).
type WorkflowStep struct {
	Name     string         `json:"name"`
	StepType string         `json:"stepType"`
	Ordering int            `json:"ordering"`
	Config   map[string]any `json:"config,omitempty"`
}

// Role is a named access role shipped with the package.
type Role struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Validate checks every structural invariant from DATA MODEL §3 and
// returns all violations found (not just the first), so a single
// generate/patch round can report everything wrong with a candidate at
// once.
func (p *Package) Validate() []*errs.CodeError {
	var problems []*errs.CodeError

	recordTypeKeys := make(map[string]RecordType, len(p.RecordTypes))
	seen := make(map[string]bool, len(p.RecordTypes))
	for _, rt := range p.RecordTypes {
		if seen[rt.Key] {
			problems = append(problems, errs.Newf(errs.CodeValidationError,
				"duplicate record type key %q", rt.Key).WithRecordType(rt.Key))
			continue
		}
		seen[rt.Key] = true
		recordTypeKeys[rt.Key] = rt
	}

	for _, rt := range p.RecordTypes {
		if rt.BaseType != "" {
			if _, ok := recordTypeKeys[rt.BaseType]; !ok {
				problems = append(problems, errs.Newf(errs.CodeValidationError,
					"record type %q declares baseType %q which does not resolve", rt.Key, rt.BaseType).
					WithRecordType(rt.Key).WithBaseType(rt.BaseType))
			}
		}
		problems = append(problems, validateFieldNamesUnique(rt)...)
	}

	for _, sla := range p.SlaPolicies {
		if _, ok := recordTypeKeys[sla.RecordTypeKey]; !ok {
			problems = append(problems, errs.Newf(errs.CodeValidationError,
				"SLA policy references unknown record type %q", sla.RecordTypeKey).
				WithRecordType(sla.RecordTypeKey))
		}
	}

	for _, rule := range p.AssignmentRules {
		if _, ok := recordTypeKeys[rule.RecordTypeKey]; !ok {
			problems = append(problems, errs.Newf(errs.CodeValidationError,
				"assignment rule references unknown record type %q", rule.RecordTypeKey).
				WithRecordType(rule.RecordTypeKey))
		}
	}

	for _, wf := range p.Workflows {
		if _, ok := recordTypeKeys[wf.RecordTypeKey]; !ok {
			problems = append(problems, errs.Newf(errs.CodeValidationError,
				"workflow %q references unknown record type %q", wf.Key, wf.RecordTypeKey).
				WithRecordType(wf.RecordTypeKey))
		}
		problems = append(problems, validateStepOrderingUnique(wf)...)
	}

	return problems
}

func validateFieldNamesUnique(rt RecordType) []*errs.CodeError {
	var problems []*errs.CodeError
	seen := make(map[string]bool, len(rt.Fields))
	for _, f := range rt.Fields {
		if seen[f.Name] {
			problems = append(problems, errs.Newf(errs.CodeValidationError,
				"record type %q has duplicate field %q", rt.Key, f.Name).WithRecordType(rt.Key))
		}
		seen[f.Name] = true
	}
	return problems
}

func validateStepOrderingUnique(wf Workflow) []*errs.CodeError {
	var problems []*errs.CodeError
	seen := make(map[int]bool, len(wf.Steps))
	for _, step := range wf.Steps {
		if seen[step.Ordering] {
			problems = append(problems, errs.Newf(errs.CodeValidationError,
				"workflow %q has duplicate step ordering %d", wf.Key, step.Ordering).
				WithDetails(map[string]any{"workflow": wf.Key, "ordering": step.Ordering}))
		}
		seen[step.Ordering] = true
	}
	return problems
}

// FindRecordType returns the record type with the given key, if present.
func (p *Package) FindRecordType(key string) (RecordType, bool) {
	for _, rt := range p.RecordTypes {
		if rt.Key == key {
			return rt, true
		}
	}
	return RecordType{}, false
}

// RequiredFieldNames returns the set of field names on rt that are
// declared required. Used by the override composer to enforce the
// required invariant.
func (rt RecordType) RequiredFieldNames() map[string]bool {
	out := make(map[string]bool)
	for _, f := range rt.Fields {
		if f.Required {
			out[f.Name] = true
		}
	}
	return out
}

// SortedRecordTypeKeys returns record type keys in lexical order, useful
// for deterministic iteration (projection ordering, test fixtures).
func (p *Package) SortedRecordTypeKeys() []string {
	keys := make([]string, 0, len(p.RecordTypes))
	for _, rt := range p.RecordTypes {
		keys = append(keys, rt.Key)
	}
	sort.Strings(keys)
	return keys
}

// String implements fmt.Stringer for debug/log output.
func (p *Package) String() string {
	return fmt.Sprintf("Package{key=%s version=%s recordTypes=%d workflows=%d}",
		p.PackageKey, p.Version, len(p.RecordTypes), len(p.Workflows))
}
