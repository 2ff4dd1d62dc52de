package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func phaseCount(gateway, phase, outcome string) float64 {
	return testutil.ToFloat64(PhaseTotal.WithLabelValues(gateway, phase, outcome))
}

func TestObservePhase(t *testing.T) {
	before := phaseCount("test-gw", "purchase", "ok")

	ObservePhase("test-gw", "purchase", "ok", time.Now().Add(-time.Second))
	ObservePhase("test-gw", "purchase", "ok", time.Now())

	assert.Equal(t, before+2, phaseCount("test-gw", "purchase", "ok"))
	assert.Zero(t, phaseCount("test-gw", "purchase", "purchase_failed"))
	assert.Equal(t, 1, testutil.CollectAndCount(PhaseDuration, "multipay_phase_duration_seconds"))
}
