// Package metrics provides Prometheus metrics for the sync engine
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/johndauphine/airport-sync/internal/progress"
)

var (
	// Import metrics
	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airport_sync_records_total",
			Help: "Records processed by imports, by category and outcome",
		},
		[]string{"job_type", "category", "outcome"},
	)

	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airport_sync_jobs_total",
			Help: "Finished import jobs by status",
		},
		[]string{"job_type", "status"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "airport_sync_job_duration_seconds",
			Help:    "Wall time of import jobs",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		},
		[]string{"job_type"},
	)

	JobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "airport_sync_jobs_active",
			Help: "Import jobs currently running",
		},
	)

	// Population metrics
	PopulationBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airport_sync_population_batches_total",
			Help: "Population batches sent, by source and status",
		},
		[]string{"source", "status"},
	)

	PopulationAirports = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airport_sync_population_airports_total",
			Help: "Airports marked handled by the population schedulers",
		},
		[]string{"source"},
	)
)

// Job status labels.
const (
	StatusSucceeded = "succeeded"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// JobMetrics records metrics for one import job.
type JobMetrics struct {
	jobType string
	started time.Time
}

// StartJob marks a job as running.
func StartJob(jobType string) *JobMetrics {
	JobsActive.Inc()
	return &JobMetrics{jobType: jobType, started: time.Now()}
}

// Finish records the job outcome and the per-category counters of snap.
func (m *JobMetrics) Finish(status string, snap progress.Snapshot) {
	JobsActive.Dec()
	JobsTotal.WithLabelValues(m.jobType, status).Inc()
	JobDuration.WithLabelValues(m.jobType).Observe(time.Since(m.started).Seconds())

	for category, c := range snap.Elements {
		add(m.jobType, category, "new", c.New)
		add(m.jobType, category, "updated", c.Updated)
		add(m.jobType, category, "skipped", c.Skipped)
	}
}

func add(jobType, category, outcome string, n int64) {
	if n > 0 {
		RecordsTotal.WithLabelValues(jobType, category, outcome).Add(float64(n))
	}
}

// RecordPopulationBatch records one population call for source.
func RecordPopulationBatch(source string, airports int, err error) {
	if err != nil {
		PopulationBatches.WithLabelValues(source, StatusFailed).Inc()
		return
	}
	PopulationBatches.WithLabelValues(source, StatusSucceeded).Inc()
	PopulationAirports.WithLabelValues(source).Add(float64(airports))
}
