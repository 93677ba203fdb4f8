// Package metrics defines the Prometheus instrumentation for fusiond.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fusion_alerts_total",
			Help: "Total number of alerts received",
		},
		[]string{"source_system", "status"},
	)

	AlertsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fusion_alerts_deduplicated_total",
			Help: "Total number of redelivered alerts suppressed at ingestion",
		},
	)

	NormalizationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fusion_normalization_failures_total",
			Help: "Total number of alerts that failed normalization",
		},
		[]string{"source_system"},
	)

	// Correlation metrics
	OpenGroups = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fusion_correlation_open_groups",
			Help: "Number of currently open correlation groups",
		},
	)

	GroupsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fusion_correlation_groups_closed_total",
			Help: "Total number of correlation groups closed",
		},
		[]string{"reason"}, // expired, burst, shutdown
	)

	// Gateway metrics. The gateway is the only place outbound call volume is
	// tracked, which is what keeps the token-bucket accounting honest.
	GatewayCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fusion_gateway_calls_total",
			Help: "Total outbound enrichment calls by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	GatewayLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fusion_gateway_call_duration_seconds",
			Help:    "Duration of outbound enrichment calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fusion_gateway_circuit_open",
			Help: "1 when the provider circuit breaker is open",
		},
		[]string{"provider"},
	)

	// Enrichment metrics
	EnrichmentCompleteness = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fusion_enrichment_completeness",
			Help:    "Fraction of enrichment sources that returned OK per group",
			Buckets: []float64{0, 0.25, 0.5, 0.75, 1},
		},
	)

	// Routing metrics
	GroupsRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fusion_groups_routed_total",
			Help: "Total number of groups routed by disposition",
		},
		[]string{"disposition", "band"},
	)

	ApprovalTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fusion_approval_timeouts_total",
			Help: "Destructive actions abandoned because confirmation timed out",
		},
	)

	// Ingestion buffer metrics, watched by operators when the state store
	// becomes unavailable.
	IngestBufferDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fusion_ingest_buffer_depth",
			Help: "Alerts buffered while the pipeline is paused",
		},
	)

	IngestPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fusion_ingest_paused",
			Help: "1 when ingestion is paused due to state store unavailability",
		},
	)
)
