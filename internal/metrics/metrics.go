// Package metrics provides the Prometheus counters of the tracker and the collector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// MetricsNamespace is the namespace for all browsetrace metrics.
	MetricsNamespace = "browsetrace"

	// CollectorSubsystem is the subsystem for collector metrics.
	CollectorSubsystem = "collector"
)

// Drop reasons.
const (
	ReasonQueueFull   = "queue_full"
	ReasonExhausted   = "retries_exhausted"
	ReasonClosed      = "closed"
	ReasonConsent     = "consent"
	ReasonBuildFailed = "build_failed"
)

// Delivery paths.
const (
	PathQueue  = "queue"
	PathDirect = "direct"
	PathBeacon = "beacon"
	PathEvents = "events"
)

// Tracker holds the client-side counters. A nil *Tracker records nothing.
type Tracker struct {
	EventsSubmitted *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec
	EventsDelivered *prometheus.CounterVec
	ExitOutcomes    *prometheus.CounterVec
	Recoveries      *prometheus.CounterVec
}

// NewTracker creates and registers the tracker metrics.
func NewTracker(reg prometheus.Registerer) *Tracker {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Tracker{
		EventsSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "events_submitted_total",
			Help:      "Total number of events handed to a delivery path",
		}, []string{"type"}),
		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "events_dropped_total",
			Help:      "Total number of events that were never delivered",
		}, []string{"reason"}),
		EventsDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "events_delivered_total",
			Help:      "Total number of events acknowledged by the collector",
		}, []string{"path"}),
		ExitOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "exit_outcomes_total",
			Help:      "Final states of durable exit sends",
		}, []string{"state"}),
		Recoveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "recoveries_total",
			Help:      "Pending exit recovery attempts by result",
		}, []string{"result"}),
	}
}

func (m *Tracker) Submitted(eventType string) {
	if m != nil {
		m.EventsSubmitted.WithLabelValues(eventType).Inc()
	}
}

func (m *Tracker) Dropped(reason string) {
	if m != nil {
		m.EventsDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Tracker) Delivered(path string) {
	if m != nil {
		m.EventsDelivered.WithLabelValues(path).Inc()
	}
}

func (m *Tracker) ExitOutcome(state string) {
	if m != nil {
		m.ExitOutcomes.WithLabelValues(state).Inc()
	}
}

func (m *Tracker) Recovery(result string) {
	if m != nil {
		m.Recoveries.WithLabelValues(result).Inc()
	}
}

// Collector holds the server-side counters.
type Collector struct {
	EventsReceived *prometheus.CounterVec
	Rejected       *prometheus.CounterVec
}

// NewCollector creates and registers the collector metrics.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		EventsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: CollectorSubsystem,
			Name:      "events_received_total",
			Help:      "Total number of events stored, by write path",
		}, []string{"path"}),
		Rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: CollectorSubsystem,
			Name:      "rejected_total",
			Help:      "Total number of rejected requests, by write path",
		}, []string{"path"}),
	}
}

func (m *Collector) Received(path string, n int) {
	if m != nil {
		m.EventsReceived.WithLabelValues(path).Add(float64(n))
	}
}

func (m *Collector) Reject(path string) {
	if m != nil {
		m.Rejected.WithLabelValues(path).Inc()
	}
}
