// Package metrics exposes pipeline counters and timings to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teranos/vidscope/pulse/async"
)

// Metrics holds all application collectors on a private registry
type Metrics struct {
	JobsStarted     *prometheus.CounterVec
	JobsCompleted   *prometheus.CounterVec
	JobsFailed      *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	FramesDecoded   prometheus.Counter
	Detections      prometheus.Counter
	HeatmapsWritten prometheus.Counter

	registry *prometheus.Registry
}

// New creates the collectors and registers them
func New() *Metrics {
	m := &Metrics{
		JobsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vidscope_jobs_started_total",
			Help: "Jobs picked up by a worker",
		}, []string{"handler"}),
		JobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vidscope_jobs_completed_total",
			Help: "Jobs that finished without error",
		}, []string{"handler"}),
		JobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vidscope_jobs_failed_total",
			Help: "Jobs that finished with an error, by failure class",
		}, []string{"handler", "code"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vidscope_stage_duration_seconds",
			Help:    "Wall time of each pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"stage"}),
		FramesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vidscope_frames_decoded_total",
			Help: "Frames decoded across all stages",
		}),
		Detections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vidscope_detections_total",
			Help: "Detections kept after confidence filtering",
		}),
		HeatmapsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vidscope_heatmaps_written_total",
			Help: "Heatmap images uploaded",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.JobsStarted,
		m.JobsCompleted,
		m.JobsFailed,
		m.StageDuration,
		m.FramesDecoded,
		m.Detections,
		m.HeatmapsWritten,
	)
	return m
}

// RegisterGauge adds a gauge computed on scrape
func (m *Metrics) RegisterGauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn))
}

// ObserveStage records how long a stage took
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// JobStarted implements async.JobObserver
func (m *Metrics) JobStarted(job *async.Job) {
	m.JobsStarted.WithLabelValues(job.HandlerName).Inc()
}

// JobFinished implements async.JobObserver
func (m *Metrics) JobFinished(job *async.Job, err error, elapsed time.Duration) {
	if err != nil {
		code := async.ClassifyError(job.Stage, err).Code
		m.JobsFailed.WithLabelValues(job.HandlerName, string(code)).Inc()
		return
	}
	m.JobsCompleted.WithLabelValues(job.HandlerName).Inc()
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
