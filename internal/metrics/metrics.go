// Package metrics wires the ingestion core's operational counters into
// prometheus/client_golang, grounded on the teacher's MetricsRegistry pattern.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds every Prometheus collector the ingestion core emits against.
type Registry struct {
	Reconnects      *prometheus.CounterVec
	Desyncs         *prometheus.CounterVec
	MessagesIn      *prometheus.CounterVec
	SubscribeLatency *prometheus.HistogramVec
	BreakerOpens    *prometheus.CounterVec
}

// NewRegistry constructs a Registry with all collectors defined but not yet
// registered against any prometheus.Registerer.
func NewRegistry() *Registry {
	return &Registry{
		Reconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketdata_reconnects_total",
				Help: "Total number of reconnect attempts per exchange.",
			},
			[]string{"exchange"},
		),
		Desyncs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketdata_sequencer_desyncs_total",
				Help: "Total number of L2 sequencer desync events per exchange.",
			},
			[]string{"exchange"},
		),
		MessagesIn: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketdata_messages_in_total",
				Help: "Total number of normalized events emitted per exchange and kind.",
			},
			[]string{"exchange", "kind"},
		),
		SubscribeLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketdata_subscribe_latency_seconds",
				Help:    "Time from sending subscribe frames to validation completing.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"exchange"},
		),
		BreakerOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketdata_circuit_breaker_opens_total",
				Help: "Total number of times a venue's connection circuit breaker tripped open.",
			},
			[]string{"exchange"},
		),
	}
}

// MustRegister registers every collector against reg, panicking on duplicate
// registration (mirrors promauto's fail-fast behavior at startup).
func (r *Registry) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(r.Reconnects, r.Desyncs, r.MessagesIn, r.SubscribeLatency, r.BreakerOpens)
}
