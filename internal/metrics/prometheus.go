// Package metrics exposes Prometheus metrics for the speech service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exchange kinds used as label values.
const (
	KindSpeech = "speech"
	KindChat   = "chat"
)

// Outcome label values.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeCancelled = "cancelled"
)

// Metrics contains all Prometheus metrics for the speech service.
type Metrics struct {
	registry *prometheus.Registry

	Jobs           *prometheus.CounterVec
	Attempts       *prometheus.CounterVec
	Failures       *prometheus.CounterVec
	JobDuration    *prometheus.HistogramVec
	AudioBytes     prometheus.Counter
	ChatTokens     prometheus.Counter
	InFlight       prometheus.Gauge
	CancelRequests *prometheus.CounterVec
}

// New creates all metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		Jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speech_jobs_total",
			Help: "Total number of finished jobs by kind and outcome",
		}, []string{"kind", "outcome"}),
		Attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speech_exchange_attempts_total",
			Help: "Total number of remote exchanges attempted",
		}, []string{"kind"}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speech_exchange_failures_total",
			Help: "Total number of remote exchanges that failed",
		}, []string{"kind"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "speech_job_duration_seconds",
			Help:    "Duration of jobs from receipt to reply",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		}, []string{"kind"}),
		AudioBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "speech_audio_bytes_total",
			Help: "Total PCM bytes produced",
		}),
		ChatTokens: factory.NewCounter(prometheus.CounterOpts{
			Name: "speech_chat_tokens_total",
			Help: "Total tokens reported by the chat API",
		}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "speech_jobs_in_flight",
			Help: "Current number of jobs being processed",
		}),
		CancelRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speech_cancel_requests_total",
			Help: "Total cancel requests by whether a job was found",
		}, []string{"found"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordAttempt counts one exchange and whether it failed.
func (m *Metrics) RecordAttempt(kind string, failed bool) {
	m.Attempts.WithLabelValues(kind).Inc()

	if failed {
		m.Failures.WithLabelValues(kind).Inc()
	}
}

// JobStarted marks one more job in flight.
func (m *Metrics) JobStarted() {
	m.InFlight.Inc()
}

// JobFinished records the outcome and duration of a job.
func (m *Metrics) JobFinished(kind, outcome string, durationSeconds float64) {
	m.InFlight.Dec()
	m.Jobs.WithLabelValues(kind, outcome).Inc()
	m.JobDuration.WithLabelValues(kind).Observe(durationSeconds)
}

// RecordAudio adds produced PCM bytes.
func (m *Metrics) RecordAudio(bytes int) {
	m.AudioBytes.Add(float64(bytes))
}

// RecordTokens adds chat tokens.
func (m *Metrics) RecordTokens(tokens int) {
	if tokens > 0 {
		m.ChatTokens.Add(float64(tokens))
	}
}

// RecordCancel counts a cancel request.
func (m *Metrics) RecordCancel(found bool) {
	label := "false"
	if found {
		label = "true"
	}

	m.CancelRequests.WithLabelValues(label).Inc()
}
