package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the engine's Prometheus instrumentation. Each engine owns its
// own collectors so tests can build engines side by side.
type Metrics struct {
	accepted          *prometheus.CounterVec
	dropped           *prometheus.CounterVec
	observations      *prometheus.CounterVec
	transportFailures *prometheus.CounterVec
	storageFailures   prometheus.Counter
	alerts            prometheus.Counter
	lifecycleState    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		accepted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "giftscout",
				Subsystem: "telemetry",
				Name:      "events_accepted_total",
				Help:      "Events accepted past sampling and validation, by kind",
			},
			[]string{"kind"},
		),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "giftscout",
				Subsystem: "telemetry",
				Name:      "events_dropped_total",
				Help:      "Events dropped before recording or forwarding, by kind and reason",
			},
			[]string{"kind", "reason"},
		),
		observations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "giftscout",
				Subsystem: "telemetry",
				Name:      "metric_observations_total",
				Help:      "Classified metric observations by metric and rating",
			},
			[]string{"metric", "rating"},
		),
		transportFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "giftscout",
				Subsystem: "telemetry",
				Name:      "transport_failures_total",
				Help:      "Failed network sends by destination",
			},
			[]string{"destination"},
		),
		storageFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "giftscout",
			Subsystem: "telemetry",
			Name:      "storage_failures_total",
			Help:      "Failed ledger loads and persists",
		}),
		alerts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "giftscout",
			Subsystem: "telemetry",
			Name:      "degradation_alerts_total",
			Help:      "Performance degradation alerts raised",
		}),
		lifecycleState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "giftscout",
			Subsystem: "telemetry",
			Name:      "transport_state",
			Help:      "Transport lifecycle state (0 uninitialized, 1 initializing, 2 ready, 3 failed, 4 abandoned)",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.accepted,
			m.dropped,
			m.observations,
			m.transportFailures,
			m.storageFailures,
			m.alerts,
			m.lifecycleState,
		)
	}
	return m
}
