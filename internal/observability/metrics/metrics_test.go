package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBookingMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBookingMetrics(reg)
	m.ObserveBooking("booked", 0.01)
	m.ObserveBooking("booked", 0.02)
	m.ObserveBooking("conflict", 0.01)
	m.ObserveCancellation(true)
	m.ObserveCancellation(false)
	m.ObserveLedger("consume", nil)
	m.ObserveLedger("consume", errors.New("insufficient"))

	if got := testutil.ToFloat64(m.bookingsTotal.WithLabelValues("booked")); got != 2 {
		t.Fatalf("expected 2 booked, got %v", got)
	}
	if got := testutil.ToFloat64(m.cancellationsTotal.WithLabelValues("forfeited")); got != 1 {
		t.Fatalf("expected 1 forfeited, got %v", got)
	}
	if got := testutil.ToFloat64(m.ledgerOpsTotal.WithLabelValues("consume", "error")); got != 1 {
		t.Fatalf("expected 1 consume error, got %v", got)
	}
	if n := testutil.CollectAndCount(m.bookingDuration); n != 1 {
		t.Fatalf("expected histogram collected once, got %d", n)
	}
}

func TestBookingMetricsNilSafe(t *testing.T) {
	var m *BookingMetrics
	m.ObserveBooking("booked", 0.1)
	m.ObserveCancellation(true)
	m.ObserveLedger("issue", nil)
}
