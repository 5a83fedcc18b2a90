package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// Poller tick outcomes per source: stored, acquire_failed, insert_failed.
	// Watch for: acquire_failed climbing (hardware or upstream trouble).
	PollerTicksTotal *prometheus.CounterVec

	// Full reconnects after a lost store connection.
	PollerReconnectsTotal *prometheus.CounterVec

	// Failed connect or schema attempts while Connecting.
	PollerConnectFailuresTotal *prometheus.CounterVec

	// Current poller state as a number (see poller.State).
	PollerState *prometheus.GaugeVec

	// Weather API calls by status: success, error, breaker_open.
	WeatherAPICallsTotal *prometheus.CounterVec

	// Weather API latency. Watch for: p95 near the acquire timeout.
	WeatherAPIDuration *prometheus.HistogramVec

	// Read path queries by source and outcome: ok, error.
	QueriesTotal *prometheus.CounterVec

	// Read path query latency per source.
	QueryDuration *prometheus.HistogramVec

	// HTTP request rate by route template.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency by route template.
	HTTPRequestDuration *prometheus.HistogramVec

	// Connected dashboard stream clients.
	StreamClients prometheus.Gauge
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	PollerTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "envmon_poller_ticks_total",
			Help: "Poller ticks by source and outcome",
		},
		[]string{"source", "outcome"},
	)
	PollerReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "envmon_poller_reconnects_total",
			Help: "Store reconnects after a failed insert",
		},
		[]string{"source"},
	)
	PollerConnectFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "envmon_poller_connect_failures_total",
			Help: "Failed store connect or schema attempts",
		},
		[]string{"source"},
	)
	PollerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "envmon_poller_state",
			Help: "Current poller state (0 connecting, 1 ready, 2 polling, 3 stopped)",
		},
		[]string{"source"},
	)
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "envmon_weather_api_calls_total",
			Help: "Weather API calls by status",
		},
		[]string{"status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "envmon_weather_api_duration_seconds",
			Help:    "Weather API latency in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "envmon_queries_total",
			Help: "Read path queries by source and outcome",
		},
		[]string{"source", "outcome"},
	)
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "envmon_query_duration_seconds",
			Help:    "Read path query latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "envmon_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "envmon_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	StreamClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "envmon_stream_clients",
			Help: "Connected dashboard stream clients",
		},
	)

	registry.MustRegister(
		PollerTicksTotal, PollerReconnectsTotal, PollerConnectFailuresTotal, PollerState,
		WeatherAPICallsTotal, WeatherAPIDuration,
		QueriesTotal, QueryDuration,
		HTTPRequestsTotal, HTTPRequestDuration, StreamClients,
	)
}

// Handler returns an http.Handler that serves application and runtime metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
