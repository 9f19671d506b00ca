package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshot_ReflectsIncrementedCounters(t *testing.T) {
	r := New()
	r.RowsProcessed.WithLabelValues("BTCUSDT").Add(3)
	r.RowsProcessed.WithLabelValues("ETHUSDT").Add(1)

	snap := r.Snapshot()
	assert.Equal(t, 3.0, snap.Counters["ofi_cvd_rows_processed_total|symbol=BTCUSDT"])
	assert.Equal(t, 1.0, snap.Counters["ofi_cvd_rows_processed_total|symbol=ETHUSDT"])
}

func TestSnapshot_ReflectsGaugeValue(t *testing.T) {
	r := New()
	r.SinkDegraded.WithLabelValues("sqlite").Set(1)

	snap := r.Snapshot()
	assert.Equal(t, 1.0, snap.Gauges["ofi_cvd_sink_degraded|sink=sqlite"])
}

func TestSnapshot_NeverRegisteredOnGlobalDefaultRegisterer(t *testing.T) {
	r1 := New()
	r2 := New()
	// Constructing a second Registry must not panic with an
	// AlreadyRegisteredError, proving each Registry owns an independent
	// prometheus.Registry rather than sharing the global default one.
	assert.NotNil(t, r1)
	assert.NotNil(t, r2)
}

func TestDeadletterDepth_IsGauge(t *testing.T) {
	r := New()
	r.DeadletterDepth.Set(4)
	snap := r.Snapshot()
	assert.Equal(t, 4.0, snap.Gauges["ofi_cvd_deadletter_depth"])
}
