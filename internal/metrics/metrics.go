// Package metrics exposes service and HTTP counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"loanflow/internal/loan"
)

// Collector implements loan.Metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry

	sessions    *prometheus.CounterVec
	steps       *prometheus.CounterVec
	validation  *prometheus.CounterVec
	uploads     *prometheus.CounterVec
	submissions *prometheus.HistogramVec
	otpSent     *prometheus.CounterVec
	otpConfirm  *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInflight prometheus.Gauge
}

var _ loan.Metrics = (*Collector)(nil)

// New registers every metric, plus the Go runtime and process collectors,
// on a fresh registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loanflow_sessions_started_total",
			Help: "Form sessions created, by flow.",
		}, []string{"flow"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loanflow_steps_entered_total",
			Help: "Steps entered, by flow and step.",
		}, []string{"flow", "step"}),
		validation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loanflow_validation_errors_total",
			Help: "Field errors reported when advancing, by flow and step.",
		}, []string{"flow", "step"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loanflow_documents_uploaded_total",
			Help: "Document uploads to the object store, by flow and outcome.",
		}, []string{"flow", "outcome"}),
		submissions: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loanflow_submission_duration_seconds",
			Help:    "Submission latency, by flow and outcome.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"flow", "outcome"}),
		otpSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loanflow_otp_sent_total",
			Help: "Verification codes requested, by outcome.",
		}, []string{"outcome"}),
		otpConfirm: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loanflow_otp_confirmed_total",
			Help: "Verification code confirmations, by outcome.",
		}, []string{"outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loanflow_http_requests_total",
			Help: "HTTP requests served.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loanflow_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		httpInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loanflow_http_inflight_requests",
			Help: "HTTP requests in flight.",
		}),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.sessions, c.steps, c.validation, c.uploads, c.submissions,
		c.otpSent, c.otpConfirm,
		c.httpRequests, c.httpDuration, c.httpInflight,
	)
	return c
}

// Registry returns the registry the collector writes to.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) SessionStarted(flow string) {
	c.sessions.WithLabelValues(flow).Inc()
}

func (c *Collector) StepEntered(flow, step string) {
	c.steps.WithLabelValues(flow, step).Inc()
}

func (c *Collector) ValidationFailed(flow, step string, fields int) {
	c.validation.WithLabelValues(flow, step).Add(float64(fields))
}

func (c *Collector) DocumentUploaded(flow, outcome string) {
	c.uploads.WithLabelValues(flow, outcome).Inc()
}

func (c *Collector) SubmissionFinished(flow, outcome string, d time.Duration) {
	c.submissions.WithLabelValues(flow, outcome).Observe(d.Seconds())
}

func (c *Collector) ChallengeSent(outcome string) {
	c.otpSent.WithLabelValues(outcome).Inc()
}

func (c *Collector) ChallengeConfirmed(outcome string) {
	c.otpConfirm.WithLabelValues(outcome).Inc()
}

// RequestStarted marks one request in flight and returns the func that
// records it once served.
func (c *Collector) RequestStarted(method string) func(route string, status int, d time.Duration) {
	c.httpInflight.Inc()
	return func(route string, status int, d time.Duration) {
		c.httpInflight.Dec()
		c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		c.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
	}
}
