package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the flash-call flow.
// All methods are safe on a nil receiver so metrics stay optional in tests.
type Metrics struct {
	Initiations   *prometheus.CounterVec
	Verifications *prometheus.CounterVec
	CallLatency   prometheus.Histogram
	SweptSessions prometheus.Counter
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in
// main and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Initiations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flashcall_initiations_total",
			Help: "Flash-call initiations by status",
		}, []string{"status"}), // status: "initiated", "invalid", "failed"

		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flashcall_verifications_total",
			Help: "Verification attempts by outcome",
		}, []string{"outcome"}),

		CallLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "flashcall_call_placement_duration_seconds",
			Help:    "Duration of outbound call placement requests",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		SweptSessions: f.NewCounter(prometheus.CounterOpts{
			Name: "flashcall_swept_sessions_total",
			Help: "Expired sessions removed by the cleanup sweep",
		}),
	}
}

func (m *Metrics) IncInitiation(status string) {
	if m != nil {
		m.Initiations.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) IncVerification(outcome string) {
	if m != nil {
		m.Verifications.WithLabelValues(outcome).Inc()
	}
}

// ObserveCallLatency records how long the provider took to accept or reject a call.
func (m *Metrics) ObserveCallLatency(d time.Duration) {
	if m != nil {
		m.CallLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) AddSwept(n int) {
	if m != nil && n > 0 {
		m.SweptSessions.Add(float64(n))
	}
}

// RegisterStoredSessions exposes the number of sessions held by an in-process
// store. Only the memory backend can answer this cheaply.
func RegisterStoredSessions(reg prometheus.Registerer, count func() int) prometheus.GaugeFunc {
	return promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "flashcall_stored_sessions",
		Help: "Verification sessions currently held by the in-memory store",
	}, func() float64 { return float64(count()) })
}
