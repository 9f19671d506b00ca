// Package telemetry holds the process-local counters/gauges instrumenting
// CoreAlgorithm, the sinks, and the backtest simulator. Grounded on
// internal/interfaces/http/metrics.go's MetricsRegistry (same
// prometheus.NewCounterVec/GaugeVec/HistogramVec shapes), repurposed onto
// a private *prometheus.Registry read only via Snapshot() — the
// Prometheus/InfluxDB push exporter and HTTP /metrics endpoint are
// explicit Non-goals, but the counters themselves are ambient
// instrumentation and are kept.
package telemetry

import (
	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every metric this process emits, bound to a private
// prometheus.Registry rather than the global default so nothing is ever
// accidentally served over HTTP.
type Registry struct {
	reg *prometheus.Registry

	RowsProcessed   *prometheus.CounterVec
	SignalsEmitted  *prometheus.CounterVec
	GuardTrips      *prometheus.CounterVec
	SinkWrites      *prometheus.CounterVec
	SinkFailures    *prometheus.CounterVec
	SinkDegraded    *prometheus.GaugeVec
	TradeCount      *prometheus.CounterVec
	ProcessLatency  *prometheus.HistogramVec
	DeadletterDepth prometheus.Gauge
}

// New builds a Registry with every metric registered.
func New() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.RowsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ofi_cvd_rows_processed_total",
		Help: "Total AlignedFeatureRows processed by CoreAlgorithm, by symbol.",
	}, []string{"symbol"})

	r.SignalsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ofi_cvd_signals_emitted_total",
		Help: "Total signals emitted, by symbol and confirm status.",
	}, []string{"symbol", "confirm"})

	r.GuardTrips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ofi_cvd_guard_trips_total",
		Help: "Total gating-guard trips, by guard reason.",
	}, []string{"reason"})

	r.SinkWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ofi_cvd_sink_writes_total",
		Help: "Total rows accepted by a sink, by sink name.",
	}, []string{"sink"})

	r.SinkFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ofi_cvd_sink_failures_total",
		Help: "Total rows rejected by a sink after retry, by sink name.",
	}, []string{"sink"})

	r.SinkDegraded = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ofi_cvd_sink_degraded",
		Help: "1 if a sink is currently degraded (breaker open), else 0.",
	}, []string{"sink"})

	r.TradeCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ofi_cvd_trades_total",
		Help: "Total backtest trades emitted, by exit reason.",
	}, []string{"reason"})

	r.ProcessLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ofi_cvd_process_latency_ms",
		Help:    "CoreAlgorithm.Process latency in milliseconds.",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 25, 50, 100},
	}, []string{"symbol"})

	r.DeadletterDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ofi_cvd_deadletter_depth",
		Help: "Current number of undelivered batches held in the deadletter file.",
	})

	r.reg.MustRegister(
		r.RowsProcessed, r.SignalsEmitted, r.GuardTrips,
		r.SinkWrites, r.SinkFailures, r.SinkDegraded,
		r.TradeCount, r.ProcessLatency, r.DeadletterDepth,
	)

	return r
}

// Snapshot is a point-in-time flattened read of every counter/gauge value,
// keyed by metric name and label values, for embedding into the run
// manifest's harvester_metrics field without
// exposing a live Prometheus scrape surface.
type Snapshot struct {
	Counters map[string]float64
	Gauges   map[string]float64
}

// Snapshot gathers every registered metric family and flattens it into
// plain counter/gauge maps, label values joined into the key with "|".
func (r *Registry) Snapshot() Snapshot {
	snap := Snapshot{Counters: map[string]float64{}, Gauges: map[string]float64{}}

	families, err := r.reg.Gather()
	if err != nil {
		return snap
	}

	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			key := metricKey(fam.GetName(), m)
			switch fam.GetType().String() {
			case "COUNTER":
				snap.Counters[key] = m.GetCounter().GetValue()
			case "GAUGE":
				snap.Gauges[key] = m.GetGauge().GetValue()
			case "HISTOGRAM":
				snap.Counters[key+"|count"] = float64(m.GetHistogram().GetSampleCount())
				snap.Counters[key+"|sum"] = m.GetHistogram().GetSampleSum()
			}
		}
	}
	return snap
}

func metricKey(name string, m *dto.Metric) string {
	key := name
	for _, lp := range m.GetLabel() {
		key += "|" + lp.GetName() + "=" + lp.GetValue()
	}
	return key
}
