// Package etcmetrics exposes the ETC mesh node's runtime counters as
// Prometheus metrics.
package etcmetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dantte-lp/etcmesh/internal/mesh"
)

// -------------------------------------------------------------------------
// Prometheus metric constants
// -------------------------------------------------------------------------

const (
	namespace = "etcmesh"
	subsystem = "node"
)

const labelReason = "reason"

// -------------------------------------------------------------------------
// Collector holds Prometheus ETC metrics
// -------------------------------------------------------------------------

// Collector holds every ETC Prometheus metric for one node and implements
// mesh.MetricsReporter directly, so it can be passed straight into
// mesh.CoreConfig.Metrics.
type Collector struct {
	BeaconsReceived  *prometheus.CounterVec
	BeaconsAccepted  prometheus.Counter
	BestParentChange prometheus.Counter
	BeaconsSent      prometheus.Counter

	EventsTriggered  prometheus.Counter
	EventsObserved   prometheus.Counter
	EventsSuppressed prometheus.Counter

	CollectsSent     prometheus.Counter
	CollectsReceived prometheus.Counter
	CommandsSent     prometheus.Counter
	CommandsReceived prometheus.Counter

	EmergencyBroadcasts prometheus.Counter
	RouteInvalidations  prometheus.Counter

	UnicastDelivered   prometheus.Counter
	UnicastUndelivered prometheus.Counter

	FramesDropped *prometheus.CounterVec
}

// NewCollector creates a Collector with every ETC metric registered
// against reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()
	reg.MustRegister(
		c.BeaconsReceived, c.BeaconsAccepted, c.BestParentChange, c.BeaconsSent,
		c.EventsTriggered, c.EventsObserved, c.EventsSuppressed,
		c.CollectsSent, c.CollectsReceived, c.CommandsSent, c.CommandsReceived,
		c.EmergencyBroadcasts, c.RouteInvalidations,
		c.UnicastDelivered, c.UnicastUndelivered,
		c.FramesDropped,
	)
	return c
}

func newMetrics() *Collector {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
		})
	}

	return &Collector{
		BeaconsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "beacons_received_total", Help: "Beacons received, labeled by acceptance outcome.",
		}, []string{"accepted"}),
		BeaconsAccepted:  counter("beacons_accepted_total", "Beacons accepted into the parent list."),
		BestParentChange: counter("best_parent_changes_total", "Times the best parent changed."),
		BeaconsSent:      counter("beacons_sent_total", "Beacons originated or forwarded."),

		EventsTriggered:  counter("events_triggered_total", "etc_trigger calls that returned Started."),
		EventsObserved:   counter("events_observed_total", "Events observed (triggered, received, or forwarded)."),
		EventsSuppressed: counter("events_suppressed_total", "etc_trigger calls or event receptions suppressed."),

		CollectsSent:     counter("collects_sent_total", "COLLECT frames enqueued for send."),
		CollectsReceived: counter("collects_received_total", "COLLECT frames received."),
		CommandsSent:     counter("commands_sent_total", "COMMAND frames enqueued for send."),
		CommandsReceived: counter("commands_received_total", "COMMAND frames received."),

		EmergencyBroadcasts: counter("emergency_broadcasts_total", "EMERGENCY_COMMAND frames originated or rebroadcast."),
		RouteInvalidations:  counter("route_invalidations_total", "Tree invalidations and forward-hop removals."),

		UnicastDelivered:   counter("unicast_delivered_total", "Unicast buffer entries delivered."),
		UnicastUndelivered: counter("unicast_undelivered_total", "Unicast buffer entries given up on."),

		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "frames_dropped_total", Help: "Frames dropped, labeled by reason.",
		}, []string{labelReason}),
	}
}

// -------------------------------------------------------------------------
// mesh.MetricsReporter implementation
// -------------------------------------------------------------------------

var _ mesh.MetricsReporter = (*Collector)(nil)

func (c *Collector) BeaconReceived(accepted, becameBest bool) {
	label := "false"
	if accepted {
		label = "true"
		c.BeaconsAccepted.Inc()
	}
	c.BeaconsReceived.WithLabelValues(label).Inc()
	if becameBest {
		c.BestParentChange.Inc()
	}
}

func (c *Collector) BeaconSent() { c.BeaconsSent.Inc() }

func (c *Collector) EventObserved(triggered bool) {
	c.EventsObserved.Inc()
	if triggered {
		c.EventsTriggered.Inc()
	}
}

func (c *Collector) EventSuppressed() { c.EventsSuppressed.Inc() }

func (c *Collector) CollectSent()     { c.CollectsSent.Inc() }
func (c *Collector) CollectReceived() { c.CollectsReceived.Inc() }
func (c *Collector) CommandSent()     { c.CommandsSent.Inc() }
func (c *Collector) CommandReceived() { c.CommandsReceived.Inc() }

func (c *Collector) EmergencyBroadcast() { c.EmergencyBroadcasts.Inc() }
func (c *Collector) RouteInvalidated()   { c.RouteInvalidations.Inc() }

func (c *Collector) UnicastOutcome(outcome mesh.SendOutcome) {
	if outcome == mesh.OutcomeDelivered {
		c.UnicastDelivered.Inc()
		return
	}
	c.UnicastUndelivered.Inc()
}

func (c *Collector) FrameDropped(reason string) {
	c.FramesDropped.WithLabelValues(reason).Inc()
}
