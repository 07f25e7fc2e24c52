package wfengine

import "fmt"

// executeStep runs one step against accumulatedInput and reports its
// output, an optional decision jump target, and whether it parked the
// execution awaiting approval. It never recurses into further steps —
// the caller's index-based loop decides what runs next.
func executeStep(step WorkflowStep, accumulated map[string]any) (output any, decisionTarget *int, paused bool, err error) {
	switch step.StepType {
	case StepAssignment:
		assignedTo, assignedGroup := resolveAssignee(step.Config, accumulated)
		return map[string]any{"assignedTo": assignedTo, "assignedGroup": assignedGroup}, nil, false, nil

	case StepApproval:
		if step.Config.AutoApprove {
			return map[string]any{"approved": true}, nil, false, nil
		}
		return map[string]any{"approved": false, "status": "awaiting_approval"}, nil, true, nil

	case StepNotification:
		return map[string]any{
			"channel":   step.Config.Channel,
			"recipient": step.Config.Recipient,
			"body":      step.Config.Body,
		}, nil, false, nil

	case StepDecision:
		target := step.Config.OnFalseStepIndex
		if evaluateDecision(step.Config, accumulated) {
			target = step.Config.OnTrueStepIndex
		}
		if target == nil {
			return nil, nil, false, fmt.Errorf("decision step %d missing branch target", step.OrderIndex)
		}
		return map[string]any{"targetStepIndex": *target}, target, false, nil

	default:
		return nil, nil, false, fmt.Errorf("unknown step type %q", step.StepType)
	}
}

func resolveAssignee(cfg StepConfig, accumulated map[string]any) (assignedTo, assignedGroup string) {
	switch cfg.AssigneeType {
	case AssigneeUser:
		return cfg.AssigneeValue, ""
	case AssigneeGroup:
		return "", cfg.AssigneeValue
	case AssigneeFieldLookup:
		if v, ok := accumulated[cfg.AssigneeValue]; ok {
			if s, ok := v.(string); ok {
				return s, ""
			}
		}
		return "", ""
	default:
		return "", ""
	}
}

func evaluateDecision(cfg StepConfig, accumulated map[string]any) bool {
	fieldVal := accumulated[cfg.Field]
	switch cfg.Operator {
	case OperatorEquals:
		return fmt.Sprintf("%v", fieldVal) == fmt.Sprintf("%v", cfg.Value)
	case OperatorNotEquals:
		return fmt.Sprintf("%v", fieldVal) != fmt.Sprintf("%v", cfg.Value)
	case OperatorTruthy:
		return isTruthy(fieldVal)
	case OperatorFalsy:
		return !isTruthy(fieldVal)
	default:
		return false
	}
}

func isTruthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	default:
		return true
	}
}
