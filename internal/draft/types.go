// Package draft implements the Draft Engine (C5): LLM-backed package
// generation with a bounded repair loop, the draft/version lifecycle
// (generate/refine/patch/preview/install/discard/restore), multi-variant
// generation, and an SSE-shaped event stream for long-running preview
// calls.
package draft

import (
	"time"

	"github.com/c360studio/changeops/internal/diff"
	"github.com/c360studio/changeops/internal/errs"
	"github.com/c360studio/changeops/internal/pkgmodel"
)

// Status is a Draft's lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPreviewed Status = "previewed"
	StatusInstalled Status = "installed"
	StatusDiscarded Status = "discarded"
)

// VersionReason records why a DraftVersion was appended.
type VersionReason string

const (
	ReasonGenerate      VersionReason = "generate"
	ReasonRefine        VersionReason = "refine"
	ReasonPatch         VersionReason = "patch"
	ReasonRestore       VersionReason = "restore"
	ReasonAdoptVariant  VersionReason = "adopt_variant"
)

// Draft is the mutable envelope around a sequence of DraftVersions. Only
// CurrentVersion's Package is "live"; prior versions are immutable
// history, never mutated in place (the refine invariant in spec §4.5).
type Draft struct {
	ID             string              `json:"id"`
	TenantID       string              `json:"tenantId"`
	ProjectID      string              `json:"projectId"`
	EnvironmentID  string              `json:"environmentId"`
	AppName        string              `json:"appName"`
	Status         Status              `json:"status"`
	CurrentVersion int                 `json:"currentVersion"`
	Checksum       string              `json:"checksum"`
	ValidationErrs []*errs.CodeError   `json:"validationErrors,omitempty"`
	Diff           *diff.Result        `json:"diff,omitempty"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
}

// DraftVersion is one immutable snapshot of a draft's candidate package.
type DraftVersion struct {
	DraftID       string          `json:"draftId"`
	VersionNumber int             `json:"versionNumber"`
	Reason        VersionReason   `json:"reason"`
	Package       *pkgmodel.Package `json:"package"`
	Checksum      string          `json:"checksum"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// RepairResult is the outcome of one generate/refine/variant attempt,
// including however many repair rounds it took.
type RepairResult struct {
	Package          *pkgmodel.Package `json:"package"`
	Checksum         string            `json:"checksum"`
	Diff             *diff.Result      `json:"diff,omitempty"`
	ValidationErrors []*errs.CodeError `json:"validationErrors"`
	SchemaErrors     []string          `json:"schemaErrors,omitempty"`
	Attempts         int               `json:"attempts"`
	Success          bool              `json:"success"`
}

// InstallResult reports the outcome of Install.
type InstallResult struct {
	EnvironmentID  string `json:"environmentId"`
	BaselineVersion uint64 `json:"baselineVersion"`
	Checksum       string `json:"checksum"`
}

// PatchOpKind enumerates the explicit patch operations allowed in
// Engine.Patch. Every op is applied in order; any failing validation
// rejects the whole batch (all-or-nothing), per spec §4.5.
type PatchOpKind string

const (
	PatchAddField           PatchOpKind = "add_field"
	PatchRenameField        PatchOpKind = "rename_field"
	PatchRemoveField        PatchOpKind = "remove_field"
	PatchSetSLA             PatchOpKind = "set_sla"
	PatchSetAssignmentGroup PatchOpKind = "set_assignment_group"
)

// PatchOp is one explicit, typed mutation applied to a draft's current
// package to produce its next version.
type PatchOp struct {
	Op              PatchOpKind `json:"op"`
	RecordTypeKey   string      `json:"recordTypeKey"`
	FieldName       string      `json:"fieldName,omitempty"`
	NewFieldName    string      `json:"newFieldName,omitempty"`
	FieldType       string      `json:"fieldType,omitempty"`
	Required        bool        `json:"required,omitempty"`
	DurationMinutes int         `json:"durationMinutes,omitempty"`
	GroupKey        string      `json:"groupKey,omitempty"`
}

// StreamStage identifies one stage of a preview/stream event sequence.
// Stage events are strictly monotone; "complete" carries the final
// RepairResult.
type StreamStage string

const (
	StageGeneration StreamStage = "generation"
	StageValidation StreamStage = "validation"
	StageRepair     StreamStage = "repair"
	StageProjection StreamStage = "projection"
	StageDiff       StreamStage = "diff"
	StageComplete   StreamStage = "complete"
	StageError      StreamStage = "error"
)

// StreamEvent is one frame of a preview/stream or preview/stream-tokens
// sequence. VariantIndex is only meaningful when a generate-multi stream
// multiplexes several variants over one channel.
type StreamEvent struct {
	Stage        StreamStage   `json:"stage"`
	VariantIndex int           `json:"variantIndex,omitempty"`
	Token        string        `json:"token,omitempty"`
	Result       *RepairResult `json:"result,omitempty"`
	Err          string        `json:"error,omitempty"`
}
