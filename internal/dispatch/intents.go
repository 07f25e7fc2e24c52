package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/changeops/internal/audit"
	"github.com/c360studio/changeops/internal/errs"
	"github.com/c360studio/changeops/internal/store"
	"github.com/c360studio/changeops/internal/telemetry"
	"github.com/c360studio/changeops/internal/tenantctx"
	"github.com/c360studio/changeops/internal/wfengine"
)

const (
	collectionTriggers    = "workflow-triggers"
	collectionIntents     = "workflow-intents"
	collectionIdempotency = "intent-idempotency"

	listPageSize = 200
)

// WorkflowRunner is the narrow seam into C7 the dispatcher depends on —
// *wfengine.Engine satisfies it directly, but tests can fake it without
// standing up a real Engine/store pair.
type WorkflowRunner interface {
	Execute(ctx context.Context, tc tenantctx.Context, definitionID, intentID string, input map[string]any) (*wfengine.WorkflowExecution, error)
}

// Dispatcher implements the C8 intent dispatcher: idempotent intent
// admission plus bounded-concurrency, fair dispatch into the workflow
// engine.
type Dispatcher struct {
	store       store.Store
	runner      WorkflowRunner
	concurrency int
	logger      *slog.Logger

	// Audit is optional; see draft.Engine.Audit.
	Audit *audit.Recorder

	// Metrics is optional; a nil *telemetry.Metrics is a safe no-op, so
	// Enqueue/dispatchOne/DispatchPending always record through it rather
	// than branching on whether metrics are configured.
	Metrics *telemetry.Metrics
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithAudit attaches an audit.Recorder so Enqueue/dispatchOne emit a
// timeline event alongside their own state transition.
func WithAudit(rec *audit.Recorder) DispatcherOption {
	return func(d *Dispatcher) { d.Audit = rec }
}

// WithMetrics attaches a telemetry.Metrics collector so Enqueue,
// dispatchOne, and DispatchPending report queue depth and dispatch
// latency.
func WithMetrics(m *telemetry.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.Metrics = m }
}

// NewDispatcher constructs a Dispatcher with concurrency W.
func NewDispatcher(st store.Store, runner WorkflowRunner, concurrency int, opts ...DispatcherOption) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	d := &Dispatcher{store: st, runner: runner, concurrency: concurrency, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// emitAudit records a pull-down event for intent id — the dispatcher is
// what pulls a pending intent down off the queue into an execution.
func (d *Dispatcher) emitAudit(ctx context.Context, tenantID, id, eventType string) {
	if d.Audit == nil {
		return
	}
	tc := tenantctx.New(tenantID, tenantctx.SourceSystem, tenantctx.Actor{ID: "dispatcher", Type: tenantctx.ActorSystem})
	if _, err := d.Audit.Emit(ctx, tc, id, audit.EntityPullDown, eventType, nil); err != nil {
		d.logger.Warn("dispatch: audit emit failed", "intentId", id, "eventType", eventType, "error", err)
	}
}

func (d *Dispatcher) putIntent(ctx context.Context, in *WorkflowExecutionIntent) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	_, err = d.store.Upsert(ctx, in.TenantID, collectionIntents, in.ID, data, nil)
	return err
}

func (d *Dispatcher) listByStatus(ctx context.Context, tenantID string, status IntentStatus) ([]WorkflowExecutionIntent, error) {
	var out []WorkflowExecutionIntent
	cursor := ""
	for {
		records, next, err := d.store.List(ctx, tenantID, collectionIntents, cursor, listPageSize)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			var in WorkflowExecutionIntent
			if err := json.Unmarshal(rec.Data, &in); err != nil {
				return nil, fmt.Errorf("unmarshal intent %s: %w", rec.Key, err)
			}
			if in.Status == status {
				out = append(out, in)
			}
		}
		if next == "" {
			break
		}
		cursor = next
	}
	return out, nil
}

// Enqueue admits intent, claiming its idempotencyKey atomically. If the
// key is already claimed (by this or an earlier intent), the new intent
// is persisted with Status=duplicate and never dispatched — spec §4.8's
// "an intent whose idempotencyKey already exists for that tenant is
// marked duplicate without executing."
func (d *Dispatcher) Enqueue(ctx context.Context, intent *WorkflowExecutionIntent) (*WorkflowExecutionIntent, error) {
	if intent.ID == "" {
		intent.ID = uuid.New().String()
	}
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = time.Now()
	}
	intent.UpdatedAt = time.Now()

	zero := uint64(0)
	_, err := d.store.Upsert(ctx, intent.TenantID, collectionIdempotency, intent.IdempotencyKey, []byte(intent.ID), &zero)
	if err != nil {
		if errs.Is(err, errs.CodeConflict) {
			intent.Status = IntentDuplicate
			if putErr := d.putIntent(ctx, intent); putErr != nil {
				return nil, putErr
			}
			d.emitAudit(ctx, intent.TenantID, intent.ID, "intent_duplicate")
			d.Metrics.RecordIntentEnqueued("duplicate")
			return intent, nil
		}
		return nil, err
	}

	intent.Status = IntentPending
	if err := d.putIntent(ctx, intent); err != nil {
		return nil, err
	}
	d.emitAudit(ctx, intent.TenantID, intent.ID, "intent_enqueued")
	d.Metrics.RecordIntentEnqueued("admitted")
	return intent, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, in WorkflowExecutionIntent) {
	start := time.Now()
	tc := tenantctx.New(in.TenantID, tenantctx.SourceSystem, tenantctx.Actor{ID: "dispatcher", Type: tenantctx.ActorSystem})

	exec, err := d.runner.Execute(ctx, tc, in.DefinitionID, in.ID, in.Input)
	if err != nil {
		in.Status = IntentFailed
		in.Error = err.Error()
	} else {
		in.Status = IntentDispatched
		in.ExecutionID = exec.ID
	}
	in.UpdatedAt = time.Now()
	d.putIntent(ctx, &in) //nolint:errcheck // best-effort status write; the execution itself already landed
	d.emitAudit(ctx, in.TenantID, in.ID, "intent_"+string(in.Status))
	d.Metrics.RecordIntentDispatched(string(in.Status), time.Since(start))
}

// fanOutFair interleaves each tenant's FIFO-ordered queue round-robin,
// so dispatch order honors "FIFO within a tenant, round-robin across
// tenants" without one busy tenant starving the others.
func fanOutFair(tenantIDs []string, queues map[string][]WorkflowExecutionIntent) []WorkflowExecutionIntent {
	var out []WorkflowExecutionIntent
	for {
		progressed := false
		for _, tid := range tenantIDs {
			q := queues[tid]
			if len(q) == 0 {
				continue
			}
			out = append(out, q[0])
			queues[tid] = q[1:]
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return out
}

// DispatchPending drains every pending intent across tenantIDs, fanning
// out fairly and bounding in-flight executions to the dispatcher's
// configured concurrency W.
func (d *Dispatcher) DispatchPending(ctx context.Context, tenantIDs []string) error {
	queues := make(map[string][]WorkflowExecutionIntent, len(tenantIDs))
	for _, tid := range tenantIDs {
		pending, err := d.listByStatus(ctx, tid, IntentPending)
		if err != nil {
			return err
		}
		sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
		queues[tid] = pending
		d.Metrics.SetPendingIntents(tid, len(pending))
	}

	ordered := fanOutFair(tenantIDs, queues)

	sem := make(chan struct{}, d.concurrency)
	var wg sync.WaitGroup
	for _, in := range ordered {
		in := in
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			d.dispatchOne(ctx, in)
		}()
	}
	wg.Wait()
	return nil
}

// RecoverStalePending implements the startup recovery re-scan: pending
// intents older than horizon survived a dispatcher crash without being
// picked up, and are returned so the caller can feed them back into
// DispatchPending.
func (d *Dispatcher) RecoverStalePending(ctx context.Context, tenantID string, horizon time.Duration) ([]WorkflowExecutionIntent, error) {
	pending, err := d.listByStatus(ctx, tenantID, IntentPending)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-horizon)
	var stale []WorkflowExecutionIntent
	for _, in := range pending {
		if in.CreatedAt.Before(cutoff) {
			stale = append(stale, in)
		}
	}
	return stale, nil
}
