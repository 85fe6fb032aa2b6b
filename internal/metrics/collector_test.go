package etcmetrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/dantte-lp/etcmesh/internal/mesh"
	etcmetrics "github.com/dantte-lp/etcmesh/internal/metrics"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}

func vecValue(t *testing.T, vec *prometheus.CounterVec, label string) float64 {
	t.Helper()
	var m dto.Metric
	if err := vec.WithLabelValues(label).Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestNewCollectorRegistersEveryMetric(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := etcmetrics.NewCollector(reg)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("no metric families registered")
	}
	if c.BeaconsReceived == nil || c.FramesDropped == nil {
		t.Fatal("Collector has nil metric fields")
	}
}

func TestCollectorImplementsMetricsReporter(t *testing.T) {
	var _ mesh.MetricsReporter = etcmetrics.NewCollector(prometheus.NewRegistry())
}

func TestBeaconReceivedAcceptedIncrementsAcceptedAndBest(t *testing.T) {
	c := etcmetrics.NewCollector(prometheus.NewRegistry())

	c.BeaconReceived(true, true)

	if got := vecValue(t, c.BeaconsReceived, "true"); got != 1 {
		t.Errorf("BeaconsReceived{accepted=true} = %v, want 1", got)
	}
	if got := counterValue(t, c.BeaconsAccepted); got != 1 {
		t.Errorf("BeaconsAccepted = %v, want 1", got)
	}
	if got := counterValue(t, c.BestParentChange); got != 1 {
		t.Errorf("BestParentChange = %v, want 1", got)
	}
}

func TestBeaconReceivedRejectedSkipsAcceptedAndBest(t *testing.T) {
	c := etcmetrics.NewCollector(prometheus.NewRegistry())

	c.BeaconReceived(false, false)

	if got := vecValue(t, c.BeaconsReceived, "false"); got != 1 {
		t.Errorf("BeaconsReceived{accepted=false} = %v, want 1", got)
	}
	if got := counterValue(t, c.BeaconsAccepted); got != 0 {
		t.Errorf("BeaconsAccepted = %v, want 0", got)
	}
	if got := counterValue(t, c.BestParentChange); got != 0 {
		t.Errorf("BestParentChange = %v, want 0", got)
	}
}

func TestEventObservedTriggeredIncrementsBothCounters(t *testing.T) {
	c := etcmetrics.NewCollector(prometheus.NewRegistry())

	c.EventObserved(true)

	if got := counterValue(t, c.EventsObserved); got != 1 {
		t.Errorf("EventsObserved = %v, want 1", got)
	}
	if got := counterValue(t, c.EventsTriggered); got != 1 {
		t.Errorf("EventsTriggered = %v, want 1", got)
	}
}

func TestEventObservedNotTriggeredOnlyCountsObserved(t *testing.T) {
	c := etcmetrics.NewCollector(prometheus.NewRegistry())

	c.EventObserved(false)

	if got := counterValue(t, c.EventsObserved); got != 1 {
		t.Errorf("EventsObserved = %v, want 1", got)
	}
	if got := counterValue(t, c.EventsTriggered); got != 0 {
		t.Errorf("EventsTriggered = %v, want 0", got)
	}
}

func TestUnicastOutcomeDeliveredVsUndelivered(t *testing.T) {
	c := etcmetrics.NewCollector(prometheus.NewRegistry())

	c.UnicastOutcome(mesh.OutcomeDelivered)
	c.UnicastOutcome(mesh.SendOutcome(0xFF)) // any non-delivered outcome counts as undelivered

	if got := counterValue(t, c.UnicastDelivered); got != 1 {
		t.Errorf("UnicastDelivered = %v, want 1", got)
	}
	if got := counterValue(t, c.UnicastUndelivered); got != 1 {
		t.Errorf("UnicastUndelivered = %v, want 1", got)
	}
}

func TestFrameDroppedLabelsByReason(t *testing.T) {
	c := etcmetrics.NewCollector(prometheus.NewRegistry())

	c.FrameDropped("malformed")
	c.FrameDropped("malformed")
	c.FrameDropped("max-hops")

	if got := vecValue(t, c.FramesDropped, "malformed"); got != 2 {
		t.Errorf("FramesDropped{reason=malformed} = %v, want 2", got)
	}
	if got := vecValue(t, c.FramesDropped, "max-hops"); got != 1 {
		t.Errorf("FramesDropped{reason=max-hops} = %v, want 1", got)
	}
}

func TestSimpleCountersIncrementOnce(t *testing.T) {
	c := etcmetrics.NewCollector(prometheus.NewRegistry())

	c.BeaconSent()
	c.EventSuppressed()
	c.CollectSent()
	c.CollectReceived()
	c.CommandSent()
	c.CommandReceived()
	c.EmergencyBroadcast()
	c.RouteInvalidated()

	for name, counter := range map[string]prometheus.Counter{
		"BeaconsSent":         c.BeaconsSent,
		"EventsSuppressed":    c.EventsSuppressed,
		"CollectsSent":        c.CollectsSent,
		"CollectsReceived":    c.CollectsReceived,
		"CommandsSent":        c.CommandsSent,
		"CommandsReceived":    c.CommandsReceived,
		"EmergencyBroadcasts": c.EmergencyBroadcasts,
		"RouteInvalidations":  c.RouteInvalidations,
	} {
		if got := counterValue(t, counter); got != 1 {
			t.Errorf("%s = %v, want 1", name, got)
		}
	}
}
