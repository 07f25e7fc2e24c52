package dispatch

import (
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts the standard five-field crontab syntax (minute hour
// dom month dow) — schedule triggers never need the seconds field.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// DueFireTime reports whether spec's next scheduled fire after lastCheck
// falls within (lastCheck, now], per spec §4.8's schedule-trigger rule,
// and if so returns that fire time.
func DueFireTime(spec ScheduleSpec, lastCheck, now time.Time) (time.Time, bool) {
	if lastCheck.IsZero() {
		lastCheck = now.Add(-time.Second)
	}

	switch {
	case spec.Cron != "":
		sched, err := cronParser.Parse(spec.Cron)
		if err != nil {
			return time.Time{}, false
		}
		next := sched.Next(lastCheck)
		if next.After(now) {
			return time.Time{}, false
		}
		return next, true

	case spec.IntervalSeconds > 0:
		next := lastCheck.Add(time.Duration(spec.IntervalSeconds) * time.Second)
		if next.After(now) {
			return time.Time{}, false
		}
		return next, true

	default:
		return time.Time{}, false
	}
}

// ScheduleIntent builds the pending intent a due schedule trigger emits.
func ScheduleIntent(t WorkflowTrigger, firedAt time.Time) *WorkflowExecutionIntent {
	now := time.Now()
	return &WorkflowExecutionIntent{
		TenantID:       t.TenantID,
		TriggerID:      t.ID,
		DefinitionID:   t.DefinitionID,
		IdempotencyKey: idempotencyKey(t.ID, firedAt.Format(time.RFC3339Nano)),
		Status:         IntentPending,
		Input:          map[string]any{"firedAt": firedAt},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
