package metrics

import (
	"net/http"
	"time"

	"admetrics/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "admetrics"

type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Cache metrics
	CacheLookupsTotal   *prometheus.CounterVec
	CacheLookupDuration *prometheus.HistogramVec
	CacheWriteFailures  *prometheus.CounterVec
	BackgroundRefreshes *prometheus.CounterVec

	// Platform API metrics
	PlatformFetchesTotal  *prometheus.CounterVec
	PlatformFetchDuration *prometheus.HistogramVec
}

// New registers every collector on reg, or on a fresh registry when reg is
// nil, so several instances can live in one process.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
		),

		CacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Metrics lookups by the tier or path that answered them",
			},
			[]string{"outcome"},
		),

		CacheLookupDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cache_lookup_duration_seconds",
				Help:      "Metrics lookup duration in seconds",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 15, 30, 60},
			},
			[]string{"outcome"},
		),

		CacheWriteFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_write_failures_total",
				Help:      "Total number of failed cache tier writes",
			},
			[]string{"tier"},
		),

		BackgroundRefreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "background_refreshes_total",
				Help:      "Background refresh events by status",
			},
			[]string{"status"},
		),

		PlatformFetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "platform_fetches_total",
				Help:      "Total number of ad platform API fetches",
			},
			[]string{"platform", "status"},
		),

		PlatformFetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "platform_fetch_duration_seconds",
				Help:      "Ad platform API fetch duration in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"platform"},
		),
	}
}

// Handler serves this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer exposes the registry for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// HTTP requests in flight counter
func (m *Metrics) IncHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Inc()
}

// HTTP requests in flight counter
func (m *Metrics) DecHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Dec()
}

func (m *Metrics) RecordLookup(outcome string, duration time.Duration) {
	m.CacheLookupsTotal.WithLabelValues(outcome).Inc()
	m.CacheLookupDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *Metrics) RecordPlatformFetch(platform domain.Platform, status string, duration time.Duration) {
	m.PlatformFetchesTotal.WithLabelValues(string(platform), status).Inc()
	if status != "blocked" {
		m.PlatformFetchDuration.WithLabelValues(string(platform)).Observe(duration.Seconds())
	}
}

func (m *Metrics) RecordRefresh(status string) {
	m.BackgroundRefreshes.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordCacheWriteFailure(tier domain.SourceTier) {
	m.CacheWriteFailures.WithLabelValues(string(tier)).Inc()
}

var _ domain.Recorder = (*Metrics)(nil)

// Nop discards everything.
type Nop struct{}

func (Nop) RecordLookup(string, time.Duration)                         {}
func (Nop) RecordPlatformFetch(domain.Platform, string, time.Duration) {}
func (Nop) RecordRefresh(string)                                       {}
func (Nop) RecordCacheWriteFailure(domain.SourceTier)                  {}

var _ domain.Recorder = Nop{}
