package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/changeops/internal/diff"
	"github.com/c360studio/changeops/internal/store"
	"github.com/c360studio/changeops/internal/tenantctx"
)

const collectionEvents = "audit-events"

// Recorder emits Events and answers Timeline queries. Every mutating
// operation across C5-C9 holds a Recorder and calls Emit alongside its
// own state transition; emission failures are never allowed to roll
// back the operation that produced them — callers log and continue,
// per spec §4.10 treating audit as best-effort relative to the
// governed write it describes.
type Recorder struct {
	store store.Store
}

// NewRecorder constructs a Recorder backed by st.
func NewRecorder(st store.Store) *Recorder {
	return &Recorder{store: st}
}

// Emit appends a new Event for entityID/entityType. requestID and
// source are taken from tc when present; diffSummary, if non-nil, is
// attached so timeline consumers can render a change summary without a
// second lookup.
func (r *Recorder) Emit(ctx context.Context, tc tenantctx.Context, entityID string, entityType EntityType, eventType string, diffSummary *diff.Result) (*Event, error) {
	ev := &Event{
		ID:         uuid.New().String(),
		TenantID:   tc.Tenant.ID,
		EntityID:   entityID,
		EntityType: entityType,
		EventType:  eventType,
		Actor:      tc.Actor.ID,
		CreatedAt:  time.Now(),
		Source:     string(tc.Tenant.Source),
		Diff:       diffSummary,
	}
	if tc.Governance.ChangeID != "" {
		ev.RequestID = tc.Governance.ChangeID
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	if _, err := r.store.Upsert(ctx, ev.TenantID, collectionEvents, ev.ID, data, nil); err != nil {
		return nil, err
	}
	return ev, nil
}

// Filter narrows a Timeline query. An empty EntityType or EntityID
// matches everything.
type Filter struct {
	EntityType EntityType
	EntityID   string
}

// Timeline returns up to limit Events for tc's tenant, most recent
// first, optionally narrowed by filter. Paging uses the same opaque
// cursor format as internal/store, but the offset is taken over the
// time-sorted result rather than the store's native key order — the
// underlying collection is keyed by a random event ID, so only an
// application-level sort produces a meaningful chronology.
func (r *Recorder) Timeline(ctx context.Context, tc tenantctx.Context, filter Filter, cursor string, limit int) ([]Event, string, error) {
	offset, err := store.DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	var all []Event
	scanCursor := ""
	for {
		records, next, err := r.store.List(ctx, tc.Tenant.ID, collectionEvents, scanCursor, 200)
		if err != nil {
			return nil, "", err
		}
		for _, rec := range records {
			var ev Event
			if err := json.Unmarshal(rec.Data, &ev); err != nil {
				return nil, "", fmt.Errorf("unmarshal audit event: %w", err)
			}
			if filter.EntityType != "" && ev.EntityType != filter.EntityType {
				continue
			}
			if filter.EntityID != "" && ev.EntityID != filter.EntityID {
				continue
			}
			all = append(all, ev)
		}
		if next == "" {
			break
		}
		scanCursor = next
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	if offset >= len(all) {
		return nil, "", nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	page := all[offset:end]

	next := ""
	if end < len(all) {
		next = store.EncodeCursor(end)
	}
	return page, next, nil
}
