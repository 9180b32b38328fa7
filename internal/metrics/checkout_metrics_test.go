package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewCheckoutMetrics(t *testing.T) {
	m := newCheckoutMetricsWithRegisterer(prometheus.NewRegistry())

	if m == nil {
		t.Fatal("NewCheckoutMetrics should not return nil")
	}
	if m.placementStarted == nil || m.placementCompleted == nil || m.placementFailed == nil {
		t.Error("placement counters should not be nil")
	}
	if m.placementDuration == nil || m.stepDuration == nil {
		t.Error("duration histograms should not be nil")
	}
	if m.activePlacements == nil {
		t.Error("activePlacements gauge should not be nil")
	}
}

// Повторная регистрация в одном registry переиспользует коллекторы.
func TestCheckoutMetrics_RegisterTwice(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := newCheckoutMetricsWithRegisterer(registry)
	second := newCheckoutMetricsWithRegisterer(registry)

	first.RecordPlacementStarted()
	second.RecordPlacementStarted()

	if got := testutil.ToFloat64(first.placementStarted); got != 2 {
		t.Fatalf("placementStarted = %v, want 2", got)
	}
}

func TestCheckoutMetrics_Counters(t *testing.T) {
	m := newCheckoutMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordPlacementStarted()
	m.RecordPlacementCompleted()
	m.RecordPlacementStarted()
	m.RecordPlacementFailed()
	m.RecordOrderCancelled()
	m.RecordOrderDelivered()
	m.RecordStockCompensation()
	m.RecordOutboxEvent()
	m.RecordPlacementWarning("voucher")
	m.RecordPlacementDuration(50 * time.Millisecond)
	m.RecordStepDuration("reserve", 5*time.Millisecond)

	if got := testutil.ToFloat64(m.placementStarted); got != 2 {
		t.Fatalf("placementStarted = %v", got)
	}
	if got := testutil.ToFloat64(m.placementCompleted); got != 1 {
		t.Fatalf("placementCompleted = %v", got)
	}
	if got := testutil.ToFloat64(m.placementFailed); got != 1 {
		t.Fatalf("placementFailed = %v", got)
	}
	if got := testutil.ToFloat64(m.activePlacements); got != 0 {
		t.Fatalf("activePlacements = %v, want 0 after both placements finished", got)
	}
	if got := testutil.ToFloat64(m.placementWarnings.WithLabelValues("voucher")); got != 1 {
		t.Fatalf("placementWarnings = %v", got)
	}
	if got := testutil.ToFloat64(m.stockCompensations); got != 1 {
		t.Fatalf("stockCompensations = %v", got)
	}
}
