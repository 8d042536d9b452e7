package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AuditMetrics holds all Prometheus metrics for the audit pipeline.
type AuditMetrics struct {
	EventsTotal         *prometheus.CounterVec
	SinkWritesTotal     *prometheus.CounterVec
	SinkWriteDuration   *prometheus.HistogramVec
	SpoolActive         prometheus.Gauge
	IdentityCacheHits   prometheus.Counter
	IdentityCacheMisses prometheus.Counter
	ConsumerRecords     *prometheus.CounterVec
}

// NewAuditMetrics initializes the metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewAuditMetrics(reg prometheus.Registerer) *AuditMetrics {
	factory := promauto.With(reg)

	return &AuditMetrics{
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "audit_trail",
			Subsystem: "logger",
			Name:      "events_total",
			Help:      "Total number of audit events dispatched by kind.",
		}, []string{"kind"}), // kind: Request, Response, Info, Warning, Error
		SinkWritesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "audit_trail",
			Subsystem: "sink",
			Name:      "writes_total",
			Help:      "Total number of sink writes by outcome.",
		}, []string{"sink", "status"}), // status: ok, error
		SinkWriteDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "audit_trail",
			Subsystem: "sink",
			Name:      "write_duration_seconds",
			Help:      "Latency of a single sink write.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sink"}),
		SpoolActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "audit_trail",
			Subsystem: "sink",
			Name:      "spool_active_gauge",
			Help:      "Indicates if the local spool is receiving stream writes (1 for active, 0 for inactive).",
		}),
		IdentityCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "audit_trail",
			Subsystem: "identity",
			Name:      "cache_hits_total",
			Help:      "Total number of API key identity cache hits.",
		}),
		IdentityCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "audit_trail",
			Subsystem: "identity",
			Name:      "cache_misses_total",
			Help:      "Total number of API key identity cache misses.",
		}),
		ConsumerRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "audit_trail",
			Subsystem: "consumer",
			Name:      "records_total",
			Help:      "Total number of stream records handled by the consumer by outcome.",
		}, []string{"status"}), // status: written, dlq
	}
}
