// Package wfengine implements the workflow engine (C7): an index-based
// step executor (never recursive) with assignment/approval/notification/
// decision step types, pause-on-approval, and decision branching.
package wfengine

import (
	"context"
	"time"
)

// StepType is the kind of work a WorkflowStep performs.
type StepType string

const (
	StepAssignment   StepType = "assignment"
	StepApproval     StepType = "approval"
	StepNotification StepType = "notification"
	StepDecision     StepType = "decision"
)

// AssigneeType selects how an assignment step resolves its target.
type AssigneeType string

const (
	AssigneeUser        AssigneeType = "user"
	AssigneeGroup       AssigneeType = "group"
	AssigneeFieldLookup AssigneeType = "field_lookup"
)

// Operator is a decision step's comparison against accumulatedInput.
type Operator string

const (
	OperatorEquals    Operator = "equals"
	OperatorNotEquals Operator = "not_equals"
	OperatorTruthy    Operator = "truthy"
	OperatorFalsy     Operator = "falsy"
)

// StepConfig carries every step type's configuration in one struct; only
// the fields relevant to StepType are meaningful for a given step.
type StepConfig struct {
	// assignment
	AssigneeType  AssigneeType `json:"assigneeType,omitempty"`
	AssigneeValue string       `json:"assigneeValue,omitempty"`

	// approval
	AutoApprove bool `json:"autoApprove,omitempty"`

	// notification
	Channel   string `json:"channel,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Body      string `json:"body,omitempty"`

	// decision
	Field            string   `json:"field,omitempty"`
	Operator         Operator `json:"operator,omitempty"`
	Value            any      `json:"value,omitempty"`
	OnTrueStepIndex  *int     `json:"onTrueStepIndex,omitempty"`
	OnFalseStepIndex *int     `json:"onFalseStepIndex,omitempty"`
}

// WorkflowStep is one step of a definition, identified by OrderIndex
// (its position in the execution array, also its jump target).
type WorkflowStep struct {
	Name       string     `json:"name"`
	OrderIndex int        `json:"orderIndex"`
	StepType   StepType   `json:"stepType"`
	Config     StepConfig `json:"config"`
}

// DefinitionStatus is a WorkflowDefinition's lifecycle state.
type DefinitionStatus string

const (
	DefinitionStatusDraft    DefinitionStatus = "draft"
	DefinitionStatusActive   DefinitionStatus = "active"
	DefinitionStatusRetired  DefinitionStatus = "retired"
)

// TriggerType names what pulls a definition down into execution.
// Duplicated from dispatch.TriggerType's values rather than imported:
// internal/dispatch already imports this package for WorkflowRunner, so
// the reverse import would cycle.
type TriggerType string

const (
	TriggerRecordEvent TriggerType = "record_event"
	TriggerSchedule    TriggerType = "schedule"
	TriggerManual      TriggerType = "manual"
)

// WorkflowDefinition is an activatable, versioned process definition.
type WorkflowDefinition struct {
	ID            string           `json:"id"`
	TenantID      string           `json:"tenantId"`
	Key           string           `json:"key"`
	Name          string           `json:"name"`
	TriggerType   TriggerType      `json:"triggerType"`
	TriggerConfig map[string]any   `json:"triggerConfig,omitempty"`
	Status        DefinitionStatus `json:"status"`
	Version       int              `json:"version"`
	ChangeID      string           `json:"changeId,omitempty"`
	Steps         []WorkflowStep   `json:"steps"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// ChangeStatus is the lifecycle state of the change a definition links
// to, as reported by a ChangeStatusSource.
type ChangeStatus string

const (
	ChangeStatusReady  ChangeStatus = "ready"
	ChangeStatusMerged ChangeStatus = "merged"
)

// ChangeStatusSource resolves the status of the change a definition is
// linked to. It is optional: Engine.Activate only enforces it when one
// is configured via WithChangeSource, since this codebase does not
// itself model change-tracking lifecycle (an external collaborator, per
// spec's out-of-scope list) — without one, Activate falls back to
// requiring only that ChangeID is set.
type ChangeStatusSource interface {
	GetChangeStatus(ctx context.Context, tenantID, changeID string) (ChangeStatus, error)
}

// ExecutionStatus is a WorkflowExecution's lifecycle state.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionPaused    ExecutionStatus = "paused"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// ResumeOutcome is what an approval decides for a paused execution.
type ResumeOutcome string

const (
	OutcomeApproved ResumeOutcome = "approved"
	OutcomeRejected ResumeOutcome = "rejected"
)

// WorkflowExecution is one run of a WorkflowDefinition. It is never
// constructed directly by a caller — only Engine.Execute, invoked by the
// dispatcher (C8) with a non-empty IntentID, may create one.
type WorkflowExecution struct {
	ID               string          `json:"id"`
	TenantID         string          `json:"tenantId"`
	DefinitionID     string          `json:"definitionId"`
	IntentID         string          `json:"intentId"`
	Status           ExecutionStatus `json:"status"`
	CurrentIndex     int             `json:"currentIndex"`
	AccumulatedInput map[string]any  `json:"accumulatedInput"`
	PausedAtStepID   *int            `json:"pausedAtStepId,omitempty"`
	Error            string          `json:"error,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}
