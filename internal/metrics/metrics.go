package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	commandsCreated     *prometheus.CounterVec
	commandTransitions  *prometheus.CounterVec
	commandsDelivered   prometheus.Counter
	dispatchDuration    *prometheus.HistogramVec
	heartbeats          prometheus.Counter
	feedsRecorded       *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feeder",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "feeder",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	commandsCreated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feeder",
		Name:      "commands_created_total",
		Help:      "Commands created, by type and origin",
	}, []string{"type", "origin"})

	commandTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feeder",
		Name:      "command_transitions_total",
		Help:      "Command status transitions, by target status",
	}, []string{"status"})

	commandsDelivered := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "feeder",
		Name:      "commands_delivered_total",
		Help:      "Commands handed out to polling devices",
	})

	dispatchDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "feeder",
		Name:      "dispatch_duration_seconds",
		Help:      "Duration of direct device calls, by outcome",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"outcome"})

	heartbeats := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "feeder",
		Name:      "heartbeats_total",
		Help:      "Device heartbeats accepted",
	})

	feedsRecorded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feeder",
		Name:      "feeds_recorded_total",
		Help:      "Feeding history entries recorded, by feed type",
	}, []string{"feed_type"})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		commandsCreated,
		commandTransitions,
		commandsDelivered,
		dispatchDuration,
		heartbeats,
		feedsRecorded,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		commandsCreated:     commandsCreated,
		commandTransitions:  commandTransitions,
		commandsDelivered:   commandsDelivered,
		dispatchDuration:    dispatchDuration,
		heartbeats:          heartbeats,
		feedsRecorded:       feedsRecorded,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

func (m *Metrics) IncCommandCreated(commandType, origin string) {
	if m == nil {
		return
	}
	m.commandsCreated.WithLabelValues(commandType, origin).Inc()
}

func (m *Metrics) IncCommandTransition(status string) {
	if m == nil {
		return
	}
	m.commandTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) AddCommandsDelivered(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.commandsDelivered.Add(float64(n))
}

// ObserveDispatch records a direct device call. outcome is one of
// "ok", "rejected" or "unreachable".
func (m *Metrics) ObserveDispatch(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dispatchDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *Metrics) IncHeartbeat() {
	if m == nil {
		return
	}
	m.heartbeats.Inc()
}

func (m *Metrics) IncFeedRecorded(feedType string) {
	if m == nil {
		return
	}
	m.feedsRecorded.WithLabelValues(feedType).Inc()
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
