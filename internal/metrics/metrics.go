package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PhaseTotal counts finished phases by gateway, phase and outcome.
	PhaseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "multipay_phase_total",
		Help: "Payment phases by gateway and outcome.",
	}, []string{"gateway", "phase", "outcome"})

	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "multipay_phase_duration_seconds",
		Help:    "Time spent in each payment phase.",
		Buckets: prometheus.DefBuckets,
	}, []string{"gateway", "phase"})
)

// ObservePhase records one finished phase. outcome is a short tag such as
// "ok" or an error kind.
func ObservePhase(gateway, phase, outcome string, started time.Time) {
	PhaseTotal.WithLabelValues(gateway, phase, outcome).Inc()
	PhaseDuration.WithLabelValues(gateway, phase).Observe(time.Since(started).Seconds())
}
