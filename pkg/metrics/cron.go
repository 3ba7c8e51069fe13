package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CronJobMetrics tracks per-job outcomes of the worker's sweep cycles.
type CronJobMetrics struct {
	duration  *prometheus.HistogramVec
	succeeded *prometheus.CounterVec
	failed    *prometheus.CounterVec
}

// NewCronJobMetrics registers the sweep metrics on the provided registerer.
// A nil registerer yields a no-op recorder for tests and tooling.
func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cron_job_duration_seconds",
		Help:    "Wall time of one job run.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	succeeded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cron_jobs_succeeded",
		Help: "Job runs that completed cleanly.",
	}, []string{"job"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cron_jobs_failed",
		Help: "Job runs that returned an error.",
	}, []string{"job"})
	reg.MustRegister(duration, succeeded, failed)
	return &CronJobMetrics{
		duration:  duration,
		succeeded: succeeded,
		failed:    failed,
	}
}

// ObserveDuration records how long the named job ran.
func (m *CronJobMetrics) ObserveDuration(job string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(job)).Observe(duration.Seconds())
}

// IncSuccess counts a clean run of the named job.
func (m *CronJobMetrics) IncSuccess(job string) {
	if m == nil || m.succeeded == nil {
		return
	}
	m.succeeded.WithLabelValues(normalizeLabel(job)).Inc()
}

// IncFailure counts a failed run of the named job.
func (m *CronJobMetrics) IncFailure(job string) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(job)).Inc()
}

func normalizeLabel(job string) string {
	if job == "" {
		return "unknown"
	}
	return job
}
