// Package metrics exposes Prometheus instrumentation for the ad pipeline.
// A nil *Collector is valid and records nothing, so tests and tools that do
// not serve /metrics can pass nil.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the pipeline metric families.
type Collector struct {
	jobsSubmitted   prometheus.Counter
	jobsCompleted   prometheus.Counter
	jobsFailed      prometheus.Counter
	jobsCancelled   prometheus.Counter
	stageExecutions *prometheus.CounterVec
	stageRetries    *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	gpuLeasesInUse  prometheus.Gauge
	gpuLeaseWait    prometheus.Histogram
}

// NewCollector registers the pipeline metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		jobsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "adforge_jobs_submitted_total",
			Help: "Total number of ad jobs submitted",
		}),
		jobsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "adforge_jobs_completed_total",
			Help: "Total number of ad jobs completed successfully",
		}),
		jobsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "adforge_jobs_failed_total",
			Help: "Total number of ad jobs that exhausted retries",
		}),
		jobsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "adforge_jobs_cancelled_total",
			Help: "Total number of ad jobs cancelled by the caller",
		}),
		stageExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "adforge_stage_executions_total",
			Help: "Total stage attempts by stage and outcome",
		}, []string{"stage", "status"}),
		stageRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "adforge_stage_retries_total",
			Help: "Total stage retries by stage",
		}, []string{"stage"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "adforge_stage_duration_seconds",
			Help:    "Stage attempt duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"stage"}),
		gpuLeasesInUse: factory.NewGauge(prometheus.GaugeOpts{
			Name: "adforge_gpu_leases_in_use",
			Help: "GPU slots currently leased",
		}),
		gpuLeaseWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "adforge_gpu_lease_wait_seconds",
			Help:    "Time spent waiting for a GPU lease",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
	}
}

func (c *Collector) JobSubmitted() {
	if c == nil {
		return
	}
	c.jobsSubmitted.Inc()
}

func (c *Collector) JobCompleted() {
	if c == nil {
		return
	}
	c.jobsCompleted.Inc()
}

func (c *Collector) JobFailed() {
	if c == nil {
		return
	}
	c.jobsFailed.Inc()
}

func (c *Collector) JobCancelled() {
	if c == nil {
		return
	}
	c.jobsCancelled.Inc()
}

func (c *Collector) StageExecuted(stage, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.stageExecutions.WithLabelValues(stage, status).Inc()
	c.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

func (c *Collector) StageRetried(stage string) {
	if c == nil {
		return
	}
	c.stageRetries.WithLabelValues(stage).Inc()
}

func (c *Collector) SetGPULeasesInUse(n int) {
	if c == nil {
		return
	}
	c.gpuLeasesInUse.Set(float64(n))
}

func (c *Collector) ObserveGPULeaseWait(d time.Duration) {
	if c == nil {
		return
	}
	c.gpuLeaseWait.Observe(d.Seconds())
}
