package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the capture engine.
type Metrics struct {
	registry          *prometheus.Registry
	jobsStarted       *prometheus.CounterVec
	jobsFinished      *prometheus.CounterVec
	reconnects        prometheus.Counter
	activeJobs        prometheus.Gauge
	droppedEvents     prometheus.Gauge
	resolverFallbacks *prometheus.CounterVec
	requestsTotal     prometheus.Counter
	errorsTotal       prometheus.Counter
}

// New creates and registers metrics on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kickclient_jobs_started_total",
			Help: "Capture jobs whose first process launched, by kind",
		}, []string{"kind"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kickclient_jobs_finished_total",
			Help: "Capture jobs that reached a terminal state, by kind and state",
		}, []string{"kind", "state"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kickclient_reconnects_total",
			Help: "Reconnect attempts across all live jobs",
		}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kickclient_active_jobs",
			Help: "Jobs currently registered",
		}),
		droppedEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kickclient_events_dropped",
			Help: "Events discarded because a subscriber's buffer was full",
		}),
		resolverFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kickclient_resolver_fallbacks_total",
			Help: "Quality resolutions that degraded to the source option, by reason",
		}, []string{"reason"}),
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kickclient_api_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kickclient_api_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
	}
	m.registry.MustRegister(
		m.jobsStarted,
		m.jobsFinished,
		m.reconnects,
		m.activeJobs,
		m.droppedEvents,
		m.resolverFallbacks,
		m.requestsTotal,
		m.errorsTotal,
	)
	return m
}

// JobStarted counts a launched job.
func (m *Metrics) JobStarted(kind string) { m.jobsStarted.WithLabelValues(kind).Inc() }

// JobFinished counts a job reaching state.
func (m *Metrics) JobFinished(kind, state string) { m.jobsFinished.WithLabelValues(kind, state).Inc() }

// IncReconnects counts one reconnect attempt.
func (m *Metrics) IncReconnects() { m.reconnects.Inc() }

// SetActiveJobs sets the active jobs gauge.
func (m *Metrics) SetActiveJobs(n int) { m.activeJobs.Set(float64(n)) }

// SetDroppedEvents sets the dropped events gauge from the bus total.
func (m *Metrics) SetDroppedEvents(n uint64) { m.droppedEvents.Set(float64(n)) }

// ResolverFallback implements stream.FallbackObserver.
func (m *Metrics) ResolverFallback(reason string) { m.resolverFallbacks.WithLabelValues(reason).Inc() }

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() { m.requestsTotal.Inc() }

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() { m.errorsTotal.Inc() }

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		h.ServeHTTP(w, r)
	})
}
