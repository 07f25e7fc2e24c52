package dispatch

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// idempotencyKey hashes triggerID and a disambiguator (the record
// event's eventID, or a schedule's firedAt) into the stable key spec
// §4.8 requires: two fires of the same trigger for the same
// eventId/firedAt must collapse to one dispatched intent.
func idempotencyKey(triggerID, disambiguator string) string {
	h := sha256.Sum256([]byte(triggerID + "|" + disambiguator))
	return hex.EncodeToString(h[:])
}

// MatchRecordEvent returns the active record-event triggers (of the
// event's tenant/recordType) whose fieldConditions (if any) are
// satisfied by ev.After, each paired with the idempotencyKey its
// resulting intent must carry.
func MatchRecordEvent(triggers []WorkflowTrigger, ev RecordEvent) []WorkflowTrigger {
	var matched []WorkflowTrigger
	for _, t := range triggers {
		if t.Type != TriggerRecordEvent || !t.Enabled {
			continue
		}
		if t.TenantID != ev.TenantID || t.RecordType != ev.RecordType {
			continue
		}
		if t.Event != "" && t.Event != ev.Event {
			continue
		}
		if !fieldConditionsMatch(t.FieldConditions, ev.After) {
			continue
		}
		matched = append(matched, t)
	}
	return matched
}

func fieldConditionsMatch(conds []FieldCondition, after map[string]any) bool {
	for _, c := range conds {
		v := after[c.Field]
		if !evaluateCondition(c, v) {
			return false
		}
	}
	return true
}

func evaluateCondition(c FieldCondition, v any) bool {
	switch c.Operator {
	case ConditionEquals:
		return fmt.Sprintf("%v", v) == fmt.Sprintf("%v", c.Value)
	case ConditionNotEquals:
		return fmt.Sprintf("%v", v) != fmt.Sprintf("%v", c.Value)
	case ConditionTruthy:
		return isTruthy(v)
	case ConditionFalsy:
		return !isTruthy(v)
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

// RecordEventIntent builds the pending intent a matched record-event
// trigger emits.
func RecordEventIntent(t WorkflowTrigger, ev RecordEvent) *WorkflowExecutionIntent {
	now := time.Now()
	return &WorkflowExecutionIntent{
		TenantID:       t.TenantID,
		TriggerID:      t.ID,
		DefinitionID:   t.DefinitionID,
		IdempotencyKey: idempotencyKey(t.ID, ev.EventID),
		Status:         IntentPending,
		Input:          map[string]any{"recordType": ev.RecordType, "event": ev.Event, "before": ev.Before, "after": ev.After},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
