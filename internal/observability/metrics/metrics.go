package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for scheduling and ledger flows.
type BookingMetrics struct {
	bookingsTotal      *prometheus.CounterVec
	cancellationsTotal *prometheus.CounterVec
	ledgerOpsTotal     *prometheus.CounterVec
	bookingDuration    prometheus.Histogram
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookline",
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		cancellationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookline",
			Name:      "cancellations_total",
			Help:      "Cancellations by credit outcome",
		}, []string{"outcome"}),
		ledgerOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookline",
			Name:      "ledger_operations_total",
			Help:      "Credit ledger operations",
		}, []string{"op", "status"}),
		bookingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bookline",
			Name:      "booking_duration_seconds",
			Help:      "Latency of the booking transaction including lock wait",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.cancellationsTotal, m.ledgerOpsTotal, m.bookingDuration)
	return m
}

// ObserveBooking records one booking attempt. outcome is "booked" or an error class.
func (m *BookingMetrics) ObserveBooking(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
	m.bookingDuration.Observe(seconds)
}

func (m *BookingMetrics) ObserveCancellation(refunded bool) {
	if m == nil {
		return
	}
	outcome := "forfeited"
	if refunded {
		outcome = "refunded"
	}
	m.cancellationsTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveLedger(op string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ledgerOpsTotal.WithLabelValues(op, status).Inc()
}
