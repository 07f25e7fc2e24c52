// Package dispatch implements the trigger and intent dispatcher (C8):
// matching record events and schedules against active triggers, emitting
// idempotent execution intents, and fairly dispatching them into the
// workflow engine (C7).
package dispatch

import "time"

// TriggerType is what causes a WorkflowTrigger to fire.
type TriggerType string

const (
	TriggerRecordEvent TriggerType = "record_event"
	TriggerSchedule    TriggerType = "schedule"
	TriggerManual      TriggerType = "manual"
)

// ConditionOperator is how a FieldCondition compares against a record
// event's "after" snapshot.
type ConditionOperator string

const (
	ConditionEquals    ConditionOperator = "equals"
	ConditionNotEquals ConditionOperator = "not_equals"
	ConditionTruthy    ConditionOperator = "truthy"
	ConditionFalsy     ConditionOperator = "falsy"
)

// FieldCondition narrows a record-event trigger to fire only when a
// field of the event's "after" snapshot satisfies it.
type FieldCondition struct {
	Field    string            `json:"field"`
	Operator ConditionOperator `json:"operator"`
	Value    any               `json:"value,omitempty"`
}

// ScheduleSpec is the fire-time source for a schedule trigger: exactly
// one of Cron or IntervalSeconds is meaningful.
type ScheduleSpec struct {
	Cron            string `json:"cron,omitempty"`
	IntervalSeconds int    `json:"intervalSeconds,omitempty"`
}

// WorkflowTrigger is the activatable rule that causes a workflow
// definition to execute.
type WorkflowTrigger struct {
	ID              string           `json:"id"`
	TenantID        string           `json:"tenantId"`
	Type            TriggerType      `json:"type"`
	Enabled         bool             `json:"enabled"`
	DefinitionID    string           `json:"definitionId"`
	RecordType      string           `json:"recordType,omitempty"`
	Event           string           `json:"event,omitempty"`
	FieldConditions []FieldCondition `json:"fieldConditions,omitempty"`
	Schedule        *ScheduleSpec    `json:"schedule,omitempty"`
	LastCheck       time.Time        `json:"lastCheck,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// RecordEvent is an incoming mutation on a module record, the input to
// record-event trigger matching.
type RecordEvent struct {
	TenantID   string         `json:"tenantId"`
	EventID    string         `json:"eventId"`
	RecordType string         `json:"recordType"`
	Event      string         `json:"event"`
	Before     map[string]any `json:"before,omitempty"`
	After      map[string]any `json:"after,omitempty"`
}

// IntentStatus is a WorkflowExecutionIntent's lifecycle state.
type IntentStatus string

const (
	IntentPending    IntentStatus = "pending"
	IntentDispatched IntentStatus = "dispatched"
	IntentFailed     IntentStatus = "failed"
	IntentDuplicate  IntentStatus = "duplicate"
)

// WorkflowExecutionIntent is one emitted request to start a workflow
// execution. The dispatcher consumes pending intents and turns them into
// wfengine.WorkflowExecution instances.
type WorkflowExecutionIntent struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenantId"`
	TriggerID      string         `json:"triggerId"`
	DefinitionID   string         `json:"definitionId"`
	IdempotencyKey string         `json:"idempotencyKey"`
	Status         IntentStatus   `json:"status"`
	ExecutionID    string         `json:"executionId,omitempty"`
	Error          string         `json:"error,omitempty"`
	Input          map[string]any `json:"input"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}
