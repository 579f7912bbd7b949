package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch results recorded by the selection coordinator.
const (
	FetchOK    = "ok"
	FetchError = "error"
	FetchStale = "stale"
)

var (
	apiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of backend API requests labeled by endpoint and status code",
		},
		[]string{"endpoint", "status"},
	)
	apiRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of backend API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)
	authOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_outcomes_total",
			Help: "Telegram authentication outcomes labeled by resulting status and reason",
		},
		[]string{"status", "reason"},
	)
	authTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_state_transitions_total",
			Help: "Total number of auth state transitions",
		},
		[]string{"from", "to"},
	)
	selectionFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "selection_fetches_total",
			Help: "Coordinator fetch completions labeled by kind and result (ok, error, stale)",
		},
		[]string{"kind", "result"},
	)
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Dashboard HTTP requests labeled by route and status code",
		},
		[]string{"route", "status"},
	)
	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of dashboard HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors split by type and severity",
		},
		[]string{"type", "severity"},
	)
	botsLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bots_loaded",
			Help: "Number of bots in the currently cached bot list",
		},
	)
)

// RecordAPIRequest counts a backend call; status 0 means the request never got a response.
func RecordAPIRequest(endpoint string, status int, duration time.Duration) {
	if endpoint == "" {
		endpoint = "unknown"
	}

	label := "network_error"
	if status > 0 {
		label = strconv.Itoa(status)
	}

	apiRequestsTotal.WithLabelValues(endpoint, label).Inc()
	apiRequestDurationSeconds.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordHTTPRequest counts a request served by the dashboard HTTP surface.
func RecordHTTPRequest(route string, status int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}

	httpRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	httpRequestDurationSeconds.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordAuthOutcome counts how an authentication attempt settled.
func RecordAuthOutcome(status, reason string) {
	if status == "" {
		status = "unknown"
	}
	if reason == "" {
		reason = "none"
	}

	authOutcomesTotal.WithLabelValues(status, reason).Inc()
}

// RecordAuthTransition tracks auth state machine transitions.
func RecordAuthTransition(from, to string) {
	if from == "" {
		from = "unknown"
	}
	if to == "" {
		to = "unknown"
	}

	authTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordFetch counts a coordinator fetch completion.
func RecordFetch(kind, result string) {
	if kind == "" {
		kind = "unknown"
	}
	if result == "" {
		result = "unknown"
	}

	selectionFetchesTotal.WithLabelValues(kind, result).Inc()
}

// RecordError increments error counters with metadata.
func RecordError(errType, severity string) {
	if errType == "" {
		errType = "unknown"
	}
	if severity == "" {
		severity = "unknown"
	}

	errorsTotal.WithLabelValues(errType, severity).Inc()
}

// SetBotsLoaded updates the cached bot list gauge.
func SetBotsLoaded(count int) {
	botsLoaded.Set(float64(count))
}
