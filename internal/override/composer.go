package override

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/changeops/internal/audit"
	"github.com/c360studio/changeops/internal/draft"
	"github.com/c360studio/changeops/internal/errs"
	"github.com/c360studio/changeops/internal/pkgmodel"
	"github.com/c360studio/changeops/internal/store"
	"github.com/c360studio/changeops/internal/tenantctx"
)

var _ draft.OverrideRecomposer = (*Composer)(nil)

const (
	collectionOverrides = "overrides"
	collectionComposed  = "composed-record-types"
	listPageSize        = 200
)

// Composer owns override storage and recomposition. It satisfies
// draft.OverrideRecomposer so the draft engine can trigger a recompose
// after every install without importing this package's concrete types.
type Composer struct {
	store  store.Store
	logger *slog.Logger

	// Audit is optional; see draft.Engine.Audit.
	Audit *audit.Recorder
}

// ComposerOption configures a Composer.
type ComposerOption func(*Composer)

// WithAudit attaches an audit.Recorder so Activate emits a timeline
// event alongside persisting the override.
func WithAudit(rec *audit.Recorder) ComposerOption {
	return func(c *Composer) { c.Audit = rec }
}

// NewComposer constructs a Composer over st.
func NewComposer(st store.Store, opts ...ComposerOption) *Composer {
	c := &Composer{store: st, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// emitAudit records an event against the override's own id, carrying
// the actor that activated it.
func (c *Composer) emitAudit(ctx context.Context, tc tenantctx.Context, id, eventType string) {
	if c.Audit == nil {
		return
	}
	if _, err := c.Audit.Emit(ctx, tc, id, audit.EntityChange, eventType, nil); err != nil {
		c.logger.Warn("override: audit emit failed", "id", id, "eventType", eventType, "error", err)
	}
}

func overrideKey(moduleID, recordTypeKey, id string) string {
	return fmt.Sprintf("%s/%s/%s", moduleID, recordTypeKey, id)
}

func composedKey(moduleID, recordTypeKey string) string {
	return fmt.Sprintf("%s/%s", moduleID, recordTypeKey)
}

// Activate validates ov's ops against the current baseline record type in
// isolation (not yet combined with other active overrides) and persists
// it with Status=active. A validation or required-invariant failure
// rejects the override outright — nothing is written. Per spec §4.1, an
// override is a governed entity: tc must carry a changeId and a
// capability profile granting FS_WRITE, or the activation fails closed
// before anything is probed.
func (c *Composer) Activate(ctx context.Context, tc tenantctx.Context, ov *Override, baseline *pkgmodel.Package) error {
	if err := tc.RequireGovernance(); err != nil {
		return err
	}
	if err := tc.RequireCapabilities(tenantctx.TokenFSWrite); err != nil {
		return err
	}

	rt, ok := baseline.FindRecordType(ov.RecordTypeKey)
	if !ok {
		return errs.Newf(errs.CodeValidationError, "override targets unknown record type %q", ov.RecordTypeKey).
			WithRecordType(ov.RecordTypeKey)
	}

	rule := findAssignmentRule(baseline, ov.RecordTypeKey)
	probe := composeRecordType(rt, rule, []Override{{
		ID: ov.ID, Status: StatusActive, Ops: ov.Ops,
	}})
	if len(probe.CompositionErrors) > 0 {
		return errs.Newf(errs.CodeInvariantViolation, "override %s rejected at activation: %v", ov.ID, probe.CompositionErrors)
	}

	now := time.Now()
	if ov.ID == "" {
		ov.ID = uuid.New().String()
		ov.CreatedAt = now
	}
	ov.Status = StatusActive
	ov.UpdatedAt = now

	data, err := json.Marshal(ov)
	if err != nil {
		return err
	}
	if _, err := c.store.Upsert(ctx, ov.TenantID, collectionOverrides, overrideKey(ov.ModuleID, ov.RecordTypeKey, ov.ID), data, nil); err != nil {
		return err
	}
	c.emitAudit(ctx, tc, ov.ID, "override_activated")
	return nil
}

func findAssignmentRule(p *pkgmodel.Package, recordTypeKey string) *pkgmodel.AssignmentRule {
	for i, r := range p.AssignmentRules {
		if r.RecordTypeKey == recordTypeKey {
			return &p.AssignmentRules[i]
		}
	}
	return nil
}

func (c *Composer) listOverrides(ctx context.Context, tenantID, moduleID, recordTypeKey string) ([]Override, error) {
	var out []Override
	cursor := ""
	prefix := moduleID + "/" + recordTypeKey + "/"
	for {
		records, next, err := c.store.List(ctx, tenantID, collectionOverrides, cursor, listPageSize)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			if len(rec.Key) < len(prefix) || rec.Key[:len(prefix)] != prefix {
				continue
			}
			var ov Override
			if err := json.Unmarshal(rec.Data, &ov); err != nil {
				return nil, fmt.Errorf("unmarshal override %s: %w", rec.Key, err)
			}
			out = append(out, ov)
		}
		if next == "" {
			break
		}
		cursor = next
	}
	return out, nil
}

// Recompose implements draft.OverrideRecomposer: after a new baseline is
// installed for moduleID, every record type with at least one override
// is recomposed and the result persisted so reads don't recompute it.
// Overrides whose target no longer resolves are not retired; the
// composition error surfaces on the stored EffectiveRecordType instead.
func (c *Composer) Recompose(ctx context.Context, tenantID, moduleID string, baseline *pkgmodel.Package) error {
	for _, rt := range baseline.RecordTypes {
		overrides, err := c.listOverrides(ctx, tenantID, moduleID, rt.Key)
		if err != nil {
			return err
		}
		if len(overrides) == 0 {
			continue
		}

		rule := findAssignmentRule(baseline, rt.Key)
		ert := composeRecordType(rt, rule, overrides)

		data, err := json.Marshal(ert)
		if err != nil {
			return err
		}
		if _, err := c.store.Upsert(ctx, tenantID, collectionComposed, composedKey(moduleID, rt.Key), data, nil); err != nil {
			return err
		}
	}
	return nil
}

// GetEffective returns the last composed view of a record type, or
// store.ErrNotFound if it has never had an override recomposed onto it.
func (c *Composer) GetEffective(ctx context.Context, tenantID, moduleID, recordTypeKey string) (*EffectiveRecordType, error) {
	rec, err := c.store.Get(ctx, tenantID, collectionComposed, composedKey(moduleID, recordTypeKey))
	if err != nil {
		return nil, err
	}
	var ert EffectiveRecordType
	if err := json.Unmarshal(rec.Data, &ert); err != nil {
		return nil, fmt.Errorf("unmarshal composed record type: %w", err)
	}
	return &ert, nil
}
