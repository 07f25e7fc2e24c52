package wfengine

import (
	"sort"

	"github.com/c360studio/changeops/internal/errs"
)

// ValidateDefinition implements activation validation: decision steps
// must carry both branches, and every branch/jump target must refer to
// an orderIndex that actually exists in the definition. Returns every
// violation found, not just the first.
func ValidateDefinition(def *WorkflowDefinition) []*errs.CodeError {
	var problems []*errs.CodeError

	indexes := make(map[int]bool, len(def.Steps))
	seen := make(map[int]bool, len(def.Steps))
	for _, s := range def.Steps {
		if seen[s.OrderIndex] {
			problems = append(problems, errs.Newf(errs.CodeValidationError,
				"workflow %q has duplicate orderIndex %d", def.Key, s.OrderIndex))
			continue
		}
		seen[s.OrderIndex] = true
		indexes[s.OrderIndex] = true
	}

	for _, s := range def.Steps {
		if s.StepType != StepDecision {
			continue
		}
		if s.Config.OnTrueStepIndex == nil || s.Config.OnFalseStepIndex == nil {
			problems = append(problems, errs.Newf(errs.CodeValidationError,
				"decision step %d in workflow %q must set both onTrueStepIndex and onFalseStepIndex", s.OrderIndex, def.Key))
			continue
		}
		if !indexes[*s.Config.OnTrueStepIndex] {
			problems = append(problems, errs.Newf(errs.CodeValidationError,
				"decision step %d in workflow %q: onTrueStepIndex %d does not exist", s.OrderIndex, def.Key, *s.Config.OnTrueStepIndex))
		}
		if !indexes[*s.Config.OnFalseStepIndex] {
			problems = append(problems, errs.Newf(errs.CodeValidationError,
				"decision step %d in workflow %q: onFalseStepIndex %d does not exist", s.OrderIndex, def.Key, *s.Config.OnFalseStepIndex))
		}
	}

	return problems
}

// sortedSteps returns def.Steps sorted by OrderIndex ascending, per
// spec §4.7 step 1 — the runtime loop walks this array by index, it
// never recurses over the definition's natural storage order.
func sortedSteps(def *WorkflowDefinition) []WorkflowStep {
	steps := append([]WorkflowStep(nil), def.Steps...)
	sort.Slice(steps, func(i, j int) bool { return steps[i].OrderIndex < steps[j].OrderIndex })
	return steps
}
