package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/corpus-router/internal/core/domain"
	"github.com/kirillkom/corpus-router/internal/core/stream"
)

const namespace = "corpus_router"

// HTTPServerMetrics owns the API server registry: request metrics plus the
// routing outcomes reported by the query router.
type HTTPServerMetrics struct {
	registry *prometheus.Registry
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	routeTotal            *prometheus.CounterVec
	selectionFailureTotal *prometheus.CounterVec
	streamTotal           *prometheus.CounterVec
	streamTokens          *prometheus.HistogramVec
	queryDuration         *prometheus.HistogramVec
	activeSessions        prometheus.Gauge
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	routeTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "routes_total",
			Help:      "Total routed queries by pipeline and whether the fallback answered.",
		},
		[]string{"service", "pipeline", "fallback"},
	)
	selectionFailureTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "selection_failures_total",
			Help:      "Total queries whose pipeline selection failed.",
		},
		[]string{"service"},
	)
	streamTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "completed_total",
			Help:      "Total answer streams by pipeline and terminal state.",
		},
		[]string{"service", "pipeline", "state"},
	)
	streamTokens := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "tokens",
			Help:      "Distribution of fragments streamed per answer.",
			Buckets:   []float64{1, 8, 32, 64, 128, 256, 512, 1024},
		},
		[]string{"service", "pipeline"},
	)
	queryDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "duration_seconds",
			Help:      "Time from routing decision to terminal stream state.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"service", "pipeline"},
	)
	activeSessions := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of open chat sessions.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		routeTotal,
		selectionFailureTotal,
		streamTotal,
		streamTokens,
		queryDuration,
		activeSessions,
	)

	return &HTTPServerMetrics{
		registry:              registry,
		service:               service,
		requestTotal:          requestTotal,
		requestDuration:       requestDuration,
		requestInFlight:       requestInFlight,
		routeTotal:            routeTotal,
		selectionFailureTotal: selectionFailureTotal,
		streamTotal:           streamTotal,
		streamTokens:          streamTokens,
		queryDuration:         queryDuration,
		activeSessions:        activeSessions,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			m.service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(m.service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath folds session ids so label cardinality stays bounded.
func normalizePath(path string) string {
	const prefix = "/v1/sessions/"
	if !strings.HasPrefix(path, prefix) {
		return path
	}
	rest := strings.TrimPrefix(path, prefix)
	if rest == "" {
		return path
	}
	if _, action, ok := strings.Cut(rest, "/"); ok {
		return prefix + "{session_id}/" + action
	}
	return prefix + "{session_id}"
}

func (m *HTTPServerMetrics) ObserveRoute(pipeline domain.PipelineName, fallback bool) {
	m.routeTotal.WithLabelValues(m.service, string(pipeline), strconv.FormatBool(fallback)).Inc()
}

func (m *HTTPServerMetrics) ObserveSelectionFailure() {
	m.selectionFailureTotal.WithLabelValues(m.service).Inc()
}

func (m *HTTPServerMetrics) ObserveStream(pipeline domain.PipelineName, state stream.State, tokens int, duration time.Duration) {
	m.streamTotal.WithLabelValues(m.service, string(pipeline), state.String()).Inc()
	m.streamTokens.WithLabelValues(m.service, string(pipeline)).Observe(float64(tokens))
	m.queryDuration.WithLabelValues(m.service, string(pipeline)).Observe(duration.Seconds())
}

func (m *HTTPServerMetrics) SessionOpened() { m.activeSessions.Inc() }

func (m *HTTPServerMetrics) SessionClosed() { m.activeSessions.Dec() }

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
