package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vincentbai/browsetrace/internal/metrics"
)

func counterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	require.NoError(t, counter.Write(&metric))
	return metric.GetCounter().GetValue()
}

func TestTrackerCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewTracker(reg)

	m.Submitted("click")
	m.Submitted("click")
	m.Dropped(metrics.ReasonQueueFull)
	m.Delivered(metrics.PathBeacon)
	m.ExitOutcome("confirmed")
	m.Recovery("delivered")

	assert.InDelta(t, 2, counterValue(t, m.EventsSubmitted.WithLabelValues("click")), 0)
	assert.InDelta(t, 1, counterValue(t, m.EventsDropped.WithLabelValues(metrics.ReasonQueueFull)), 0)
	assert.InDelta(t, 1, counterValue(t, m.EventsDelivered.WithLabelValues(metrics.PathBeacon)), 0)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, family := range families {
		names = append(names, family.GetName())
	}
	assert.Contains(t, names, "browsetrace_events_submitted_total")
	assert.Contains(t, names, "browsetrace_exit_outcomes_total")
	assert.Contains(t, names, "browsetrace_recoveries_total")
}

func TestNilTrackerIsNoop(t *testing.T) {
	var m *metrics.Tracker
	assert.NotPanics(t, func() {
		m.Submitted("click")
		m.Dropped(metrics.ReasonClosed)
		m.Delivered(metrics.PathDirect)
		m.ExitOutcome("confirmed")
		m.Recovery("failed")
	})
}

func TestCollectorCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewCollector(reg)

	m.Received(metrics.PathEvents, 3)
	m.Reject(metrics.PathBeacon)

	assert.InDelta(t, 3, counterValue(t, m.EventsReceived.WithLabelValues(metrics.PathEvents)), 0)
	assert.InDelta(t, 1, counterValue(t, m.Rejected.WithLabelValues(metrics.PathBeacon)), 0)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 2)
	assert.Equal(t, "browsetrace_collector_events_received_total", families[0].GetName())
}
