package promotion

import (
	"time"

	"github.com/c360studio/changeops/internal/diff"
)

// Status is a PromotionIntent's position in the state machine:
//
//	draft --preview--> previewed --approve--> approved --execute--> executed
//	  |                   |                      |
//	  +-------reject------+---------reject-------+--> rejected
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPreviewed Status = "previewed"
	StatusApproved  Status = "approved"
	StatusExecuted  Status = "executed"
	StatusRejected  Status = "rejected"
)

// Result is recorded on executed (or failed) intents.
type Result struct {
	BaselineVersion uint64 `json:"baselineVersion"`
	Checksum        string `json:"checksum"`
}

// PromotionIntent is one request to move a package from one
// environment's baseline to another, per spec §4.9.
type PromotionIntent struct {
	ID                string       `json:"id"`
	TenantID          string       `json:"tenantId"`
	ProjectID         string       `json:"projectId"`
	FromEnvironmentID string       `json:"fromEnvironmentId"`
	ToEnvironmentID   string       `json:"toEnvironmentId"`
	Status            Status       `json:"status"`
	Diff              *diff.Result `json:"diff,omitempty"`
	// TargetBaselineVersion is the target environment's store version
	// observed at preview time. Execute writes guarded by this version, so
	// any installation into the target between preview and execute is
	// caught as a CONFLICT rather than silently overwritten.
	TargetBaselineVersion uint64    `json:"targetBaselineVersion"`
	Result                *Result   `json:"result,omitempty"`
	Error                 string    `json:"error,omitempty"`
	CreatedBy             string    `json:"createdBy"`
	ApprovedBy            string    `json:"approvedBy,omitempty"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

// terminal reports whether s has no outbound transitions.
func (s Status) terminal() bool {
	return s == StatusExecuted || s == StatusRejected
}
