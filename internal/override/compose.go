package override

import (
	"fmt"
	"sort"

	"dario.cat/mergo"

	"github.com/c360studio/changeops/internal/errs"
	"github.com/c360studio/changeops/internal/pkgmodel"
)

// sortOverrides orders overrides (createdAt ASC, id ASC) per spec §4.6 —
// deterministic regardless of storage iteration order.
func sortOverrides(overrides []Override) []Override {
	sorted := append([]Override(nil), overrides...)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

// validateOp checks an op is well-formed and resolves against the current
// effective record type, without applying it. Used both at activation
// (single override) and during composition (every override, every time).
func validateOp(ert *EffectiveRecordType, op Op) error {
	switch op.Kind {
	case OpMoveField:
		if op.FieldName == "" || op.ToSectionID == "" {
			return fmt.Errorf("moveField requires fieldName and toSectionId")
		}
		if _, ok := ert.Fields[op.FieldName]; !ok {
			return fmt.Errorf("moveField: unknown field %q", op.FieldName)
		}
	case OpToggleRequired, OpToggleReadOnly, OpToggleVisible:
		if op.FieldName == "" {
			return fmt.Errorf("%s requires fieldName", op.Kind)
		}
		if _, ok := ert.Fields[op.FieldName]; !ok {
			return fmt.Errorf("%s: unknown field %q", op.Kind, op.FieldName)
		}
	case OpChangeSection:
		if op.ToSectionID == "" {
			return fmt.Errorf("changeSection requires toSectionId")
		}
	case OpSetAssignmentConfig:
		if op.AssignmentConfig == nil {
			return fmt.Errorf("setAssignmentConfig requires assignmentConfig")
		}
		if ert.AssignmentRule == nil {
			return fmt.Errorf("setAssignmentConfig: record type %q has no baseline assignment rule", ert.Key)
		}
	default:
		return fmt.Errorf("unknown op kind %q", op.Kind)
	}
	return nil
}

// applyOp mutates ert in place. The caller must have already validated the
// op with validateOp; applyOp only returns an error for the
// required-invariant check, which depends on the field's baseline value
// and so is checked here rather than in validateOp.
func applyOp(ert *EffectiveRecordType, baselineRequired map[string]bool, op Op) error {
	switch op.Kind {
	case OpMoveField:
		ert.Fields[op.FieldName].SectionID = op.ToSectionID
	case OpChangeSection:
		ert.DefaultSectionID = op.ToSectionID
		for _, f := range ert.Fields {
			if f.SectionID == defaultSectionID {
				f.SectionID = op.ToSectionID
			}
		}
	case OpToggleRequired:
		if baselineRequired[op.FieldName] && !op.Value {
			return errs.Newf(errs.CodeInvariantViolation,
				"override cannot unset required on baseline-required field %q", op.FieldName).
				WithRecordType(ert.Key)
		}
		ert.Fields[op.FieldName].Required = op.Value
	case OpToggleReadOnly:
		ert.Fields[op.FieldName].ReadOnly = op.Value
	case OpToggleVisible:
		ert.Fields[op.FieldName].Visible = op.Value
	case OpSetAssignmentConfig:
		// mergo.WithOverride overwrites dst with every non-zero src field,
		// leaving omitted (zero-value) fields in the patch untouched — the
		// same "last active override wins, but only for fields it sets"
		// semantics the assignment rule config's groupKey?|userId?|field?
		// shape calls for.
		return mergo.Merge(&ert.AssignmentRule.Config, *op.AssignmentConfig, mergo.WithOverride)
	}
	return nil
}

// composeRecordType layers overrides (already filtered to one
// tenant/module/recordType) onto a baseline record type and, if present,
// its assignment rule. Composition never aborts outright: an op that
// fails validation or violates the required invariant is skipped and
// recorded in CompositionErrors, and the remaining ops of every override
// still apply. This matches spec §4.6 — a baseline change invalidating an
// active override degrades the composed view, it does not retire the
// override.
func composeRecordType(baseline pkgmodel.RecordType, rule *pkgmodel.AssignmentRule, overrides []Override) *EffectiveRecordType {
	ert := newEffectiveRecordType(baseline)
	if rule != nil {
		ert.AssignmentRule = &EffectiveAssignmentRule{StrategyType: rule.StrategyType, Config: rule.Config}
	}

	baselineRequired := baseline.RequiredFieldNames()

	for _, ov := range sortOverrides(overrides) {
		if ov.Status != StatusActive {
			continue
		}
		for _, op := range ov.Ops {
			if err := validateOp(ert, op); err != nil {
				ert.CompositionErrors = append(ert.CompositionErrors,
					fmt.Sprintf("override %s: %v", ov.ID, err))
				continue
			}
			if err := applyOp(ert, baselineRequired, op); err != nil {
				ert.CompositionErrors = append(ert.CompositionErrors,
					fmt.Sprintf("override %s: %v", ov.ID, err))
			}
		}
	}

	for name, required := range baselineRequired {
		if required && !ert.Fields[name].Required {
			ert.CompositionErrors = append(ert.CompositionErrors,
				fmt.Sprintf("INVARIANT_VIOLATION: field %q resolved not-required despite baseline requirement", name))
			ert.Fields[name].Required = true
		}
	}

	return ert
}
