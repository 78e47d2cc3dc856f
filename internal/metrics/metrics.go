package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/campaign/backend/internal/ledger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const namespace = "campaign"

// Recorder owns the service's Prometheus registry. It implements ledger.Observer.
type Recorder struct {
	registry *prometheus.Registry

	submissions      prometheus.Counter
	transitions      *prometheus.CounterVec
	partialFailures  *prometheus.CounterVec
	driftCorrections prometheus.Counter
	raised           prometheus.Gauge
	streams          *prometheus.GaugeVec

	requests  *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

// NewRecorder registers every collector on a fresh registry.
func NewRecorder() *Recorder {
	recorder := &Recorder{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "payment_requests_submitted_total",
			Help:      "Total payment requests accepted from contributors.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "payment_request_transitions_total",
			Help:      "Moderator actions on payment requests by action and outcome.",
		}, []string{"action", "outcome"}),
		partialFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "approval_partial_failures_total",
			Help:      "Approvals that stopped after some writes were applied, by failed step.",
		}, []string{"step"}),
		driftCorrections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "raised_drift_corrections_total",
			Help:      "Reconciliations that found the running total out of sync.",
		}),
		raised: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "raised_amount",
			Help:      "Running total after the most recent recomputation.",
		}),
		streams: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "open_streams",
			Help:      "Open server-sent event streams by view.",
		}, []string{"view"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		}, []string{"route", "method", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	recorder.registry.MustRegister(
		recorder.submissions,
		recorder.transitions,
		recorder.partialFailures,
		recorder.driftCorrections,
		recorder.raised,
		recorder.streams,
		recorder.requests,
		recorder.durations,
	)
	return recorder
}

func (r *Recorder) RequestSubmitted() {
	r.submissions.Inc()
}

func (r *Recorder) RequestTransition(action, outcome string) {
	r.transitions.WithLabelValues(action, outcome).Inc()
}

func (r *Recorder) ApprovalPartialFailure(step ledger.ApprovalStep) {
	r.partialFailures.WithLabelValues(string(step)).Inc()
}

func (r *Recorder) RaisedRecomputed(raised decimal.Decimal) {
	r.raised.Set(raised.InexactFloat64())
}

func (r *Recorder) DriftCorrected(decimal.Decimal) {
	r.driftCorrections.Inc()
}

// StreamOpened tracks a new event stream for view and returns the matching close func.
func (r *Recorder) StreamOpened(view string) func() {
	gauge := r.streams.WithLabelValues(view)
	gauge.Inc()
	return gauge.Dec
}

// Middleware records request counts and latencies by matched route.
func (r *Recorder) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		r.requests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		r.durations.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
