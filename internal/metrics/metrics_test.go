package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistersEveryCollectorExactlyOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.TradesTotal.WithLabelValues("BUY").Inc()
	m.TicksTotal.Inc()
	m.ActiveMatches.Set(3)

	if got := testutil.ToFloat64(m.TradesTotal.WithLabelValues("BUY")); got != 1 {
		t.Fatalf("TradesTotal{BUY} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TicksTotal); got != 1 {
		t.Fatalf("TicksTotal = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ActiveMatches); got != 3 {
		t.Fatalf("ActiveMatches = %v, want 3", got)
	}
}

func TestNewPanicsOnDoubleRegistrationAgainstTheSameRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	defer func() {
		if recover() == nil {
			t.Fatal("expected registering the same collectors twice to panic")
		}
	}()
	New(reg)
}
