package dispatch_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/changeops/internal/dispatch"
	"github.com/c360studio/changeops/internal/store"
	"github.com/c360studio/changeops/internal/tenantctx"
	"github.com/c360studio/changeops/internal/wfengine"
)

func testTenantCtx() tenantctx.Context {
	return tenantctx.New("tenant-a", tenantctx.SourceSystem, tenantctx.Actor{ID: "tester", Type: tenantctx.ActorSystem})
}

func TestMatchRecordEvent_FiltersByTenantTypeAndConditions(t *testing.T) {
	triggers := []dispatch.WorkflowTrigger{
		{ID: "t1", TenantID: "tenant-a", Type: dispatch.TriggerRecordEvent, Enabled: true, RecordType: "ticket", Event: "updated",
			FieldConditions: []dispatch.FieldCondition{{Field: "priority", Operator: dispatch.ConditionEquals, Value: "urgent"}}},
		{ID: "t2", TenantID: "tenant-a", Type: dispatch.TriggerRecordEvent, Enabled: false, RecordType: "ticket", Event: "updated"},
		{ID: "t3", TenantID: "tenant-b", Type: dispatch.TriggerRecordEvent, Enabled: true, RecordType: "ticket", Event: "updated"},
		{ID: "t4", TenantID: "tenant-a", Type: dispatch.TriggerSchedule, Enabled: true},
	}

	ev := dispatch.RecordEvent{
		TenantID:   "tenant-a",
		EventID:    "evt-1",
		RecordType: "ticket",
		Event:      "updated",
		After:      map[string]any{"priority": "urgent"},
	}

	matched := dispatch.MatchRecordEvent(triggers, ev)
	require.Len(t, matched, 1)
	assert.Equal(t, "t1", matched[0].ID)
}

func TestMatchRecordEvent_ConditionMismatchExcludes(t *testing.T) {
	triggers := []dispatch.WorkflowTrigger{
		{ID: "t1", TenantID: "tenant-a", Type: dispatch.TriggerRecordEvent, Enabled: true, RecordType: "ticket", Event: "updated",
			FieldConditions: []dispatch.FieldCondition{{Field: "priority", Operator: dispatch.ConditionEquals, Value: "urgent"}}},
	}
	ev := dispatch.RecordEvent{
		TenantID: "tenant-a", EventID: "evt-1", RecordType: "ticket", Event: "updated",
		After: map[string]any{"priority": "low"},
	}
	assert.Empty(t, dispatch.MatchRecordEvent(triggers, ev))
}

func TestRecordEventIntent_SameEventIDProducesSameIdempotencyKey(t *testing.T) {
	tr := dispatch.WorkflowTrigger{ID: "t1", TenantID: "tenant-a", DefinitionID: "def-1"}
	ev := dispatch.RecordEvent{TenantID: "tenant-a", EventID: "evt-1", RecordType: "ticket", Event: "updated"}

	a := dispatch.RecordEventIntent(tr, ev)
	b := dispatch.RecordEventIntent(tr, ev)
	assert.Equal(t, a.IdempotencyKey, b.IdempotencyKey)

	ev2 := ev
	ev2.EventID = "evt-2"
	c := dispatch.RecordEventIntent(tr, ev2)
	assert.NotEqual(t, a.IdempotencyKey, c.IdempotencyKey)
}

func TestDueFireTime_IntervalFiresOncePerWindow(t *testing.T) {
	spec := dispatch.ScheduleSpec{IntervalSeconds: 60}
	last := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	// 30s later: not due yet.
	_, due := dispatch.DueFireTime(spec, last, last.Add(30*time.Second))
	assert.False(t, due)

	// 60s later: due.
	fireAt, due := dispatch.DueFireTime(spec, last, last.Add(60*time.Second))
	require.True(t, due)
	assert.Equal(t, last.Add(60*time.Second), fireAt)
}

func TestDueFireTime_CronMatchesStandardExpression(t *testing.T) {
	spec := dispatch.ScheduleSpec{Cron: "0 * * * *"} // top of every hour
	last := time.Date(2026, 1, 1, 11, 59, 0, 0, time.UTC)
	now := time.Date(2026, 1, 1, 12, 0, 30, 0, time.UTC)

	fireAt, due := dispatch.DueFireTime(spec, last, now)
	require.True(t, due)
	assert.Equal(t, time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), fireAt)
}

func TestDueFireTime_NotYetDue(t *testing.T) {
	spec := dispatch.ScheduleSpec{Cron: "0 * * * *"}
	last := time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC)
	now := time.Date(2026, 1, 1, 11, 30, 0, 0, time.UTC)

	_, due := dispatch.DueFireTime(spec, last, now)
	assert.False(t, due)
}

func TestDueFireTime_InvalidSpecNeverDue(t *testing.T) {
	_, due := dispatch.DueFireTime(dispatch.ScheduleSpec{}, time.Time{}, time.Now())
	assert.False(t, due)
}

// fakeRunner records every Execute call and returns a canned execution.
type fakeRunner struct {
	calls []string
	fail  map[string]bool
}

func (f *fakeRunner) Execute(_ context.Context, tc tenantctx.Context, definitionID, intentID string, _ map[string]any) (*wfengine.WorkflowExecution, error) {
	f.calls = append(f.calls, tc.Tenant.ID+"/"+intentID)
	if f.fail[intentID] {
		return nil, assertError("boom")
	}
	return &wfengine.WorkflowExecution{ID: "exec-" + intentID, TenantID: tc.Tenant.ID, DefinitionID: definitionID, IntentID: intentID, Status: wfengine.ExecutionCompleted}, nil
}

type assertError string

func (e assertError) Error() string { return string(e) }

func TestDispatcher_EnqueueDeduplicatesIdempotencyKey(t *testing.T) {
	st := store.NewMemoryStore()
	runner := &fakeRunner{}
	d := dispatch.NewDispatcher(st, runner, 4)

	first := &dispatch.WorkflowExecutionIntent{TenantID: "tenant-a", TriggerID: "t1", DefinitionID: "def-1", IdempotencyKey: "key-1", Input: map[string]any{}}
	second := &dispatch.WorkflowExecutionIntent{TenantID: "tenant-a", TriggerID: "t1", DefinitionID: "def-1", IdempotencyKey: "key-1", Input: map[string]any{}}

	out1, err := d.Enqueue(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, dispatch.IntentPending, out1.Status)

	out2, err := d.Enqueue(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, dispatch.IntentDuplicate, out2.Status)
}

func TestDispatcher_DispatchPendingFairAcrossTenants(t *testing.T) {
	st := store.NewMemoryStore()
	runner := &fakeRunner{}
	d := dispatch.NewDispatcher(st, runner, 1)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := d.Enqueue(ctx, &dispatch.WorkflowExecutionIntent{
			TenantID: "tenant-a", TriggerID: "t1", DefinitionID: "def-1",
			IdempotencyKey: "a-key-" + string(rune('0'+i)), Input: map[string]any{},
		})
		require.NoError(t, err)
	}
	_, err := d.Enqueue(ctx, &dispatch.WorkflowExecutionIntent{
		TenantID: "tenant-b", TriggerID: "t2", DefinitionID: "def-1",
		IdempotencyKey: "b-key-0", Input: map[string]any{},
	})
	require.NoError(t, err)

	err = d.DispatchPending(ctx, []string{"tenant-a", "tenant-b"})
	require.NoError(t, err)
	assert.Len(t, runner.calls, 3)
}

func TestDispatcher_DispatchOneMarksFailedOnRunnerError(t *testing.T) {
	st := store.NewMemoryStore()

	in := &dispatch.WorkflowExecutionIntent{TenantID: "tenant-a", TriggerID: "t1", DefinitionID: "def-1", IdempotencyKey: "fail-key", Input: map[string]any{}}
	runner := &fakeRunner{}
	d := dispatch.NewDispatcher(st, runner, 1)

	ctx := context.Background()
	enqueued, err := d.Enqueue(ctx, in)
	require.NoError(t, err)
	runner.fail = map[string]bool{enqueued.ID: true}

	require.NoError(t, d.DispatchPending(ctx, []string{"tenant-a"}))

	stale, err := d.RecoverStalePending(ctx, "tenant-a", 0)
	require.NoError(t, err)
	assert.Empty(t, stale, "a failed intent is no longer pending, so it is not recoverable")
}

func TestDispatcher_RecoverStalePendingRespectsHorizon(t *testing.T) {
	st := store.NewMemoryStore()
	runner := &fakeRunner{}
	d := dispatch.NewDispatcher(st, runner, 1)

	ctx := context.Background()
	in := &dispatch.WorkflowExecutionIntent{TenantID: "tenant-a", TriggerID: "t1", DefinitionID: "def-1", IdempotencyKey: "stale-key", Input: map[string]any{}}
	_, err := d.Enqueue(ctx, in)
	require.NoError(t, err)

	stale, err := d.RecoverStalePending(ctx, "tenant-a", -time.Hour)
	require.NoError(t, err)
	assert.Len(t, stale, 1)

	fresh, err := d.RecoverStalePending(ctx, "tenant-a", time.Hour)
	require.NoError(t, err)
	assert.Empty(t, fresh)
}
