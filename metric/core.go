package metric

import "github.com/prometheus/client_golang/prometheus"

// CoreMetrics contains pipeline-level metrics shared by every stage.
type CoreMetrics struct {
	StageEventsTotal   *prometheus.CounterVec
	StageDuration      *prometheus.HistogramVec
	StageErrorsTotal   *prometheus.CounterVec
	JobsTotal          *prometheus.CounterVec
	JobRetriesTotal    *prometheus.CounterVec
	EntityChangesTotal *prometheus.CounterVec
	AlertsTotal        *prometheus.CounterVec
	BusConnected       prometheus.Gauge
	QueueDepth         *prometheus.GaugeVec
}

// NewCoreMetrics creates the core pipeline metrics.
func NewCoreMetrics() *CoreMetrics {
	return &CoreMetrics{
		StageEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "syncd",
				Subsystem: "pipeline",
				Name:      "stage_events_total",
				Help:      "Events handled per pipeline stage",
			},
			[]string{"stage", "integration", "entity_type"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "syncd",
				Subsystem: "pipeline",
				Name:      "stage_duration_seconds",
				Help:      "Time spent handling one event per stage",
				Buckets:   []float64{0.01, 0.05, 0.25, 1, 5, 30, 120, 600},
			},
			[]string{"stage", "integration"},
		),
		StageErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "syncd",
				Subsystem: "pipeline",
				Name:      "stage_errors_total",
				Help:      "Errors per pipeline stage by class",
			},
			[]string{"stage", "integration", "class"},
		),
		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "syncd",
				Subsystem: "queue",
				Name:      "jobs_total",
				Help:      "Jobs by terminal status",
			},
			[]string{"action", "status"},
		),
		JobRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "syncd",
				Subsystem: "queue",
				Name:      "job_retries_total",
				Help:      "Job retry attempts",
			},
			[]string{"action"},
		),
		EntityChangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "syncd",
				Subsystem: "entities",
				Name:      "changes_total",
				Help:      "Entity changes detected by the normalize stage",
			},
			[]string{"integration", "entity_type", "change"},
		),
		AlertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "syncd",
				Subsystem: "analysis",
				Name:      "alerts_total",
				Help:      "Alerts raised or transitioned by the analysis engine",
			},
			[]string{"rule", "transition"},
		),
		BusConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "syncd",
				Subsystem: "bus",
				Name:      "connected",
				Help:      "Whether the NATS connection is healthy (0/1)",
			},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "syncd",
				Subsystem: "queue",
				Name:      "depth",
				Help:      "Jobs per queue state",
			},
			[]string{"state"},
		),
	}
}
