package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus collectors for the usage dashboard.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Aggregation metrics.
	AggregationRunsTotal   *prometheus.CounterVec
	AggregationRunDuration *prometheus.HistogramVec
	RowsWrittenTotal       prometheus.Counter

	// Usage lookup metrics.
	UsageLookupsTotal       *prometheus.CounterVec
	UsageLookupDuration     prometheus.Histogram
	UsageLookupRetriesTotal prometheus.Counter

	RateLimitRejectionsTotal *prometheus.CounterVec

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usagedash_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "usagedash_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path_pattern"}),

		AggregationRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usagedash_aggregation_runs_total",
			Help: "Total number of aggregation runs by mode and outcome.",
		}, []string{"mode", "status"}),

		AggregationRunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "usagedash_aggregation_run_duration_seconds",
			Help:    "Duration of aggregation runs in seconds.",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"mode"}),

		RowsWrittenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usagedash_rows_written_total",
			Help: "Total number of daily metric rows upserted.",
		}),

		UsageLookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usagedash_usage_lookups_total",
			Help: "Total number of per-conversation usage lookups.",
		}, []string{"status"}),

		UsageLookupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "usagedash_usage_lookup_duration_seconds",
			Help:    "Usage lookup duration in seconds, retries included.",
			Buckets: prometheus.DefBuckets,
		}),

		UsageLookupRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usagedash_usage_lookup_retries_total",
			Help: "Total number of retried usage lookup attempts.",
		}),

		RateLimitRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usagedash_ratelimit_rejections_total",
			Help: "Total number of rate limit rejections.",
		}, []string{"route"}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "usagedash_server_start_time_seconds",
			Help: "Unix timestamp when the server started.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AggregationRunsTotal,
		m.AggregationRunDuration,
		m.RowsWrittenTotal,
		m.UsageLookupsTotal,
		m.UsageLookupDuration,
		m.UsageLookupRetriesTotal,
		m.RateLimitRejectionsTotal,
		m.ServerStartTime,
	)

	m.ServerStartTime.Set(float64(time.Now().Unix()))

	// Go runtime and process collectors.
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterDBPoolCollector registers a custom DB pool stats collector.
func (m *Metrics) RegisterDBPoolCollector(statFunc DBPoolStatFunc) {
	m.registry.MustRegister(NewDBPoolCollector(statFunc))
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, pattern string, status int, seconds float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, pattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pattern).Observe(seconds)
}

// ObserveRun records the outcome and duration of an aggregation run.
func (m *Metrics) ObserveRun(mode, status string, seconds float64) {
	m.AggregationRunsTotal.WithLabelValues(mode, status).Inc()
	m.AggregationRunDuration.WithLabelValues(mode).Observe(seconds)
}

// ObserveLookup records the outcome and duration of a usage lookup.
func (m *Metrics) ObserveLookup(status string, seconds float64) {
	m.UsageLookupsTotal.WithLabelValues(status).Inc()
	m.UsageLookupDuration.Observe(seconds)
}

// AddRowsWritten adds n to the upserted rows counter.
func (m *Metrics) AddRowsWritten(n int) {
	m.RowsWrittenTotal.Add(float64(n))
}

// IncLookupRetry increments the usage lookup retry counter.
func (m *Metrics) IncLookupRetry() {
	m.UsageLookupRetriesTotal.Inc()
}

// IncRateLimitRejection increments the rate limit rejection counter.
func (m *Metrics) IncRateLimitRejection(route string) {
	m.RateLimitRejectionsTotal.WithLabelValues(route).Inc()
}
