package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_RecordIntentEnqueued(t *testing.T) {
	m := NewMetrics("changeops_test")
	m.RecordIntentEnqueued("admitted")
	m.RecordIntentEnqueued("admitted")
	m.RecordIntentEnqueued("duplicate")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.intentsEnqueued.WithLabelValues("admitted")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.intentsEnqueued.WithLabelValues("duplicate")))
}

func TestMetrics_RecordIntentDispatched(t *testing.T) {
	m := NewMetrics("changeops_test")
	m.RecordIntentDispatched("dispatched", 10*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.intentsDispatched.WithLabelValues("dispatched")))
}

func TestMetrics_SetPendingIntents(t *testing.T) {
	m := NewMetrics("changeops_test")
	m.SetPendingIntents("tenant-1", 3)
	m.SetPendingIntents("tenant-1", 5)

	assert.Equal(t, float64(5), testutil.ToFloat64(m.intentsPending.WithLabelValues("tenant-1")))
}

func TestMetrics_RecordDraftAttempt(t *testing.T) {
	m := NewMetrics("changeops_test")
	m.RecordDraftAttempt(true, 50*time.Millisecond)
	m.RecordDraftAttempt(false, 5*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.draftAttempts.WithLabelValues("true")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.draftAttempts.WithLabelValues("false")))
}

func TestMetrics_RecordPromotionOutcome(t *testing.T) {
	m := NewMetrics("changeops_test")
	m.RecordPromotionOutcome("executed")
	m.RecordPromotionOutcome("executed")
	m.RecordPromotionOutcome("rejected_conflict")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.promotionOutcomes.WithLabelValues("executed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.promotionOutcomes.WithLabelValues("rejected_conflict")))
}

func TestMetrics_NilIsNoOp(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordIntentEnqueued("admitted")
		m.RecordIntentDispatched("dispatched", time.Second)
		m.SetPendingIntents("tenant-1", 1)
		m.RecordDraftAttempt(true, time.Second)
		m.RecordPromotionOutcome("executed")
		m.Handler()
	})
}
