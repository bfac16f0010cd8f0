package bus

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Bus's Prometheus instrumentation: counters for scanner
// passes, sends, edits, dedup skips and spawned workers, plus one gauge of
// live tracking records. Grounded on tombee-conductor's
// internal/controller/filewatcher/metrics.go, adapted from package-level
// promauto vars to a per-instance Registry: a Bus is constructed more than
// once in tests, and a shared global registry would panic on the second
// registration.
type Metrics struct {
	Registry *prometheus.Registry

	ScansTotal       *prometheus.CounterVec
	SendsTotal       *prometheus.CounterVec
	EditsTotal       *prometheus.CounterVec
	DedupSkipsTotal  prometheus.Counter
	WorkersSpawned   prometheus.Counter
	TrackingLive     prometheus.Gauge
}

// NewMetrics builds a Metrics bound to a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		ScansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quiescebus_bus_scans_total",
			Help: "Scanner passes completed, by scanner name.",
		}, []string{"scanner"}),
		SendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quiescebus_bus_sends_total",
			Help: "Outbound chat sends, by result (ok/error).",
		}, []string{"result"}),
		EditsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quiescebus_bus_edits_total",
			Help: "Outbound chat edits, by result (ok/error/deduped).",
		}, []string{"result"}),
		DedupSkipsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quiescebus_bus_dedup_skips_total",
			Help: "Edits suppressed because the rendered text was unchanged.",
		}),
		WorkersSpawned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quiescebus_bus_workers_spawned_total",
			Help: "Worker subprocesses spawned.",
		}),
		TrackingLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quiescebus_bus_tracking_live",
			Help: "Live tracking records at last sample.",
		}),
	}
	reg.MustRegister(m.ScansTotal, m.SendsTotal, m.EditsTotal, m.DedupSkipsTotal, m.WorkersSpawned, m.TrackingLive)
	return m
}
