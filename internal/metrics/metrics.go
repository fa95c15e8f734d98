package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/treehealth/ndvi-monitor/internal/errs"
)

var (
	// Processing runs
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ndvi_processing_runs_total",
			Help: "Total number of processing runs by method and status",
		},
		[]string{"method", "status"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ndvi_processing_run_duration_seconds",
			Help:    "Duration of processing runs in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"method"},
	)

	SamplesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ndvi_samples_written_total",
			Help: "Total number of samples upserted",
		},
	)

	UnresolvedKeys = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ndvi_unresolved_keys_total",
			Help: "Sampler results that matched no registered point",
		},
	)

	LastAlertsCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ndvi_alerts_last_run",
			Help: "Number of decline alerts after the most recent run",
		},
	)

	// Sampler
	SamplerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ndvi_sampler_request_duration_seconds",
			Help:    "Duration of sampler calls in seconds",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"outcome"},
	)

	SamplerPoints = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ndvi_sampler_points_total",
			Help: "Points sent to the sampler and values received back",
		},
		[]string{"direction"},
	)
)

// RecordRun records a finished processing run
func RecordRun(method, status string, duration time.Duration, written, alerts int) {
	RunsTotal.WithLabelValues(method, status).Inc()
	RunDuration.WithLabelValues(method).Observe(duration.Seconds())
	SamplesWritten.Add(float64(written))
	LastAlertsCount.Set(float64(alerts))
}

// RecordSamplerCall records one sampler request; outcome is derived from the error kind
func RecordSamplerCall(duration time.Duration, sent, received int, err error) {
	outcome := "success"
	if err != nil {
		outcome = string(errs.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	SamplerDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	SamplerPoints.WithLabelValues("sent").Add(float64(sent))
	SamplerPoints.WithLabelValues("received").Add(float64(received))
}
