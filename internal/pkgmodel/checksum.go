package pkgmodel

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Checksum computes the deterministic SHA-256 checksum used to detect
// drift between a package's intended shape and whatever is installed in
// an environment (C4) or promoted (C9). Two packages that are
// semantically identical but built with different map iteration order,
// slice order, or JSON key order must produce the same checksum, so we
// never hash p directly — we first walk it into a canonical form with
// every map's keys sorted and every order-insignificant slice
// (RecordTypes, SlaPolicies, AssignmentRules, Workflows, Roles, and each
// Workflow's Fields) sorted by its natural key.
func Checksum(p *Package) string {
	canon := canonicalPackage(p)
	buf, err := json.Marshal(canon)
	if err != nil {
		// canonicalPackage only ever produces json-marshalable primitives;
		// a failure here means a caller handed us a non-serializable
		// Default value inside a Field, which Validate would already have
		// rejected upstream.
		panic("pkgmodel: checksum: " + err.Error())
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// canonicalForm is the sorted, order-independent shape of a Package that
// Checksum hashes. Field names are fixed so JSON key order never varies.
type canonicalForm struct {
	PackageKey      string                  `json:"packageKey"`
	Version         string                  `json:"version"`
	RecordTypes     []canonicalRecordType   `json:"recordTypes"`
	SlaPolicies     []SlaPolicy             `json:"slaPolicies"`
	AssignmentRules []AssignmentRule        `json:"assignmentRules"`
	Workflows       []canonicalWorkflow     `json:"workflows"`
	Roles           []Role                  `json:"roles"`
}

type canonicalRecordType struct {
	Key      string  `json:"key"`
	Name     string  `json:"name"`
	BaseType string  `json:"baseType,omitempty"`
	Fields   []Field `json:"fields"`
}

type canonicalWorkflow struct {
	Key           string         `json:"key"`
	Name          string         `json:"name"`
	RecordTypeKey string         `json:"recordTypeKey"`
	TriggerEvent  string         `json:"triggerEvent,omitempty"`
	Steps         []WorkflowStep `json:"steps"`
}

func canonicalPackage(p *Package) canonicalForm {
	out := canonicalForm{
		PackageKey: p.PackageKey,
		Version:    p.Version,
	}

	recordTypes := append([]RecordType(nil), p.RecordTypes...)
	sort.Slice(recordTypes, func(i, j int) bool { return recordTypes[i].Key < recordTypes[j].Key })
	for _, rt := range recordTypes {
		fields := append([]Field(nil), rt.Fields...)
		sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
		out.RecordTypes = append(out.RecordTypes, canonicalRecordType{
			Key:      rt.Key,
			Name:     rt.Name,
			BaseType: rt.BaseType,
			Fields:   fields,
		})
	}

	slas := append([]SlaPolicy(nil), p.SlaPolicies...)
	sort.Slice(slas, func(i, j int) bool { return slas[i].RecordTypeKey < slas[j].RecordTypeKey })
	out.SlaPolicies = slas

	rules := append([]AssignmentRule(nil), p.AssignmentRules...)
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].RecordTypeKey != rules[j].RecordTypeKey {
			return rules[i].RecordTypeKey < rules[j].RecordTypeKey
		}
		return rules[i].StrategyType < rules[j].StrategyType
	})
	out.AssignmentRules = rules

	workflows := append([]Workflow(nil), p.Workflows...)
	sort.Slice(workflows, func(i, j int) bool { return workflows[i].Key < workflows[j].Key })
	for _, wf := range workflows {
		steps := append([]WorkflowStep(nil), wf.Steps...)
		sort.Slice(steps, func(i, j int) bool { return steps[i].Ordering < steps[j].Ordering })
		out.Workflows = append(out.Workflows, canonicalWorkflow{
			Key:           wf.Key,
			Name:          wf.Name,
			RecordTypeKey: wf.RecordTypeKey,
			TriggerEvent:  wf.TriggerEvent,
			Steps:         steps,
		})
	}

	roles := append([]Role(nil), p.Roles...)
	sort.Slice(roles, func(i, j int) bool { return roles[i].Key < roles[j].Key })
	out.Roles = roles

	return out
}
