package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/changeops/internal/audit"
	"github.com/c360studio/changeops/internal/diff"
	"github.com/c360studio/changeops/internal/store"
	"github.com/c360studio/changeops/internal/tenantctx"
)

func tenantACtx(actor string) tenantctx.Context {
	return tenantctx.New("tenant-a", tenantctx.SourceHeader, tenantctx.Actor{ID: actor, Type: tenantctx.ActorUser}).
		WithGovernance("change-1")
}

func TestRecorder_EmitAttachesActorAndRequestID(t *testing.T) {
	st := store.NewMemoryStore()
	rec := audit.NewRecorder(st)
	ctx := context.Background()

	ev, err := rec.Emit(ctx, tenantACtx("alice"), "draft-1", audit.EntityDraft, "generated", nil)
	require.NoError(t, err)
	assert.Equal(t, "alice", ev.Actor)
	assert.Equal(t, "change-1", ev.RequestID)
	assert.Equal(t, "tenant-a", ev.TenantID)
	assert.Equal(t, audit.EntityDraft, ev.EntityType)
}

func TestRecorder_TimelineIsReverseChronologicalAndTenantScoped(t *testing.T) {
	st := store.NewMemoryStore()
	rec := audit.NewRecorder(st)
	ctx := context.Background()

	_, err := rec.Emit(ctx, tenantACtx("alice"), "draft-1", audit.EntityDraft, "generated", nil)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = rec.Emit(ctx, tenantACtx("alice"), "draft-1", audit.EntityDraft, "previewed", nil)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = rec.Emit(ctx, tenantACtx("alice"), "draft-1", audit.EntityDraft, "installed", nil)
	require.NoError(t, err)

	otherTenant := tenantctx.New("tenant-b", tenantctx.SourceHeader, tenantctx.Actor{ID: "mallory", Type: tenantctx.ActorUser})
	_, err = rec.Emit(ctx, otherTenant, "draft-9", audit.EntityDraft, "generated", nil)
	require.NoError(t, err)

	events, next, err := rec.Timeline(ctx, tenantACtx("alice"), audit.Filter{}, "", 10)
	require.NoError(t, err)
	assert.Empty(t, next)
	require.Len(t, events, 3)
	assert.Equal(t, "installed", events[0].EventType)
	assert.Equal(t, "previewed", events[1].EventType)
	assert.Equal(t, "generated", events[2].EventType)
}

func TestRecorder_TimelinePaginates(t *testing.T) {
	st := store.NewMemoryStore()
	rec := audit.NewRecorder(st)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := rec.Emit(ctx, tenantACtx("alice"), "draft-1", audit.EntityDraft, "step", nil)
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}

	first, next, err := rec.Timeline(ctx, tenantACtx("alice"), audit.Filter{}, "", 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.NotEmpty(t, next)

	second, _, err := rec.Timeline(ctx, tenantACtx("alice"), audit.Filter{}, next, 2)
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.NotEqual(t, first[0].ID, second[0].ID)
}

func TestRecorder_TimelineFiltersByEntity(t *testing.T) {
	st := store.NewMemoryStore()
	rec := audit.NewRecorder(st)
	ctx := context.Background()

	_, err := rec.Emit(ctx, tenantACtx("alice"), "draft-1", audit.EntityDraft, "generated", nil)
	require.NoError(t, err)
	_, err = rec.Emit(ctx, tenantACtx("alice"), "promo-1", audit.EntityPromotionIntent, "executed", nil)
	require.NoError(t, err)

	events, _, err := rec.Timeline(ctx, tenantACtx("alice"), audit.Filter{EntityType: audit.EntityPromotionIntent}, "", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "promo-1", events[0].EntityID)
}

func TestRenderMarkdown_IncludesEventTypeAndDiffSummary(t *testing.T) {
	events := []audit.Event{
		{
			ID: "e1", TenantID: "tenant-a", EntityID: "draft-1", EntityType: audit.EntityDraft,
			EventType: "installed", Actor: "alice", CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			Diff: &diff.Result{Summary: diff.Summary{Added: 1, Removed: 0, Modified: 2}},
		},
	}

	out, err := audit.RenderMarkdown(events)
	require.NoError(t, err)
	assert.Contains(t, out, "installed")
	assert.Contains(t, out, "draft-1")
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "+1/-0/~2")
}

func TestRenderMarkdown_EmptyEventsProducesEmptyList(t *testing.T) {
	out, err := audit.RenderMarkdown(nil)
	require.NoError(t, err)
	assert.NotContains(t, out, "<li>")
}
