// Package audit implements the audit trail and timeline (C10): every
// mutating operation in C5-C9 emits an Event, and a tenant-scoped
// reverse-chronological Timeline query merges them with diff summaries
// attached where available.
package audit

import (
	"time"

	"github.com/c360studio/changeops/internal/diff"
)

// EntityType is what kind of entity an Event describes.
type EntityType string

const (
	EntityChange          EntityType = "change"
	EntityDraft           EntityType = "draft"
	EntityPromotionIntent EntityType = "promotion-intent"
	EntityPullDown        EntityType = "pull-down"
)

// Event is one emitted audit record.
type Event struct {
	ID         string       `json:"id"`
	TenantID   string       `json:"tenantId"`
	EntityID   string       `json:"entityId"`
	EntityType EntityType   `json:"entityType"`
	EventType  string       `json:"eventType"`
	Actor      string       `json:"actor"`
	CreatedAt  time.Time    `json:"createdAtIso"`
	RequestID  string       `json:"requestId,omitempty"`
	Source     string       `json:"source,omitempty"`
	Diff       *diff.Result `json:"diff,omitempty"`
}
