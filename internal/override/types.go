// Package override implements the override composer (C6): layering a
// tenant's active overrides onto an installed module's baseline entity to
// produce an effective, UI-facing shape — field placement into sections,
// required/read-only/visible toggles, and assignment-rule config tweaks —
// without ever mutating the baseline itself.
package override

import (
	"time"

	"github.com/c360studio/changeops/internal/pkgmodel"
)

// OpKind enumerates the typed override operations a patch may contain.
type OpKind string

const (
	OpMoveField            OpKind = "moveField"
	OpToggleRequired        OpKind = "toggleRequired"
	OpToggleReadOnly        OpKind = "toggleReadOnly"
	OpToggleVisible         OpKind = "toggleVisible"
	OpChangeSection         OpKind = "changeSection"
	OpSetAssignmentConfig   OpKind = "setAssignmentConfig"
)

// Op is one step of an override's operation list. Only the fields
// relevant to Kind are meaningful; see applyOp for the mapping.
type Op struct {
	Kind             OpKind                       `json:"kind"`
	FieldName        string                       `json:"fieldName,omitempty"`
	ToSectionID      string                       `json:"toSectionId,omitempty"`
	Value            bool                         `json:"value,omitempty"`
	AssignmentConfig *pkgmodel.AssignmentRuleConfig `json:"assignmentConfig,omitempty"`
}

// Status tracks whether an override still participates in composition.
// Spec §4.6: a baseline change that invalidates an active override marks
// composition errors, it does not flip Status to retired automatically.
type Status string

const (
	StatusDraft   Status = "draft"
	StatusActive  Status = "active"
	StatusRetired Status = "retired"
)

// Override is one tenant-authored patch layered onto a module baseline.
type Override struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenantId"`
	ModuleID      string    `json:"moduleId"`
	RecordTypeKey string    `json:"recordTypeKey"`
	Ops           []Op      `json:"ops"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// EffectiveField is one field of a record type after override composition.
type EffectiveField struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	SectionID string `json:"sectionId"`
	Required  bool   `json:"required"`
	ReadOnly  bool   `json:"readOnly"`
	Visible   bool   `json:"visible"`
}

// EffectiveAssignmentRule is a record type's assignment rule after any
// setAssignmentConfig overrides have been merged onto the baseline config.
type EffectiveAssignmentRule struct {
	StrategyType string                       `json:"strategyType"`
	Config       pkgmodel.AssignmentRuleConfig `json:"config"`
}

// EffectiveRecordType is the composed, UI-facing shape of a baseline
// record type: every field annotated with its effective placement and
// toggles, plus whatever composition errors surfaced along the way.
type EffectiveRecordType struct {
	Key              string                     `json:"key"`
	DefaultSectionID string                     `json:"defaultSectionId"`
	Fields           map[string]*EffectiveField `json:"fields"`
	AssignmentRule   *EffectiveAssignmentRule   `json:"assignmentRule,omitempty"`

	// CompositionErrors accumulates problems found while layering
	// overrides onto the baseline (unresolved field references, orphaned
	// placements, required-invariant violations). Non-empty does not mean
	// the overrides were retired — only that this composed view degrades
	// to the baseline value for the affected property.
	CompositionErrors []string `json:"compositionErrors,omitempty"`
}

const defaultSectionID = "default"

func newEffectiveRecordType(rt pkgmodel.RecordType) *EffectiveRecordType {
	out := &EffectiveRecordType{
		Key:              rt.Key,
		DefaultSectionID: defaultSectionID,
		Fields:           make(map[string]*EffectiveField, len(rt.Fields)),
	}
	for _, f := range rt.Fields {
		out.Fields[f.Name] = &EffectiveField{
			Name:      f.Name,
			Type:      f.Type,
			SectionID: defaultSectionID,
			Required:  f.Required,
			ReadOnly:  false,
			Visible:   true,
		}
	}
	return out
}
