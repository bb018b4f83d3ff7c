package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Provider metrics
	providerRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_chat_provider_request_duration_seconds",
		Help:    "Time until provider response headers arrive",
		Buckets: prometheus.DefBuckets,
	}, []string{"host", "outcome"})

	providerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_chat_provider_requests_total",
		Help: "Total number of provider requests",
	}, []string{"host", "outcome"})

	// Stream metrics
	streamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_chat_stream_duration_seconds",
		Help:    "Duration of assistant streams",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"provider", "outcome"})

	streamsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_chat_streams_total",
		Help: "Total number of assistant streams by outcome",
	}, []string{"provider", "outcome"})

	streamFragments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_chat_stream_fragments_total",
		Help: "Split stream fragments by recovery result",
	}, []string{"provider", "result"})

	activeStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "llm_chat_active_streams",
		Help: "Number of streams in flight",
	})

	// Title metrics
	titlesGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_chat_titles_total",
		Help: "Title generation attempts",
	}, []string{"status"})

	// Rate limit metrics
	rateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_chat_rate_limit_exceeded_total",
		Help: "Total number of rate limit exceeded events",
	}, []string{"route"})

	// Storage metrics
	storageOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_chat_storage_operations_total",
		Help: "Total number of storage operations",
	}, []string{"operation", "status"})

	storageOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_chat_storage_operation_duration_seconds",
		Help:    "Duration of storage operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// HTTP metrics
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_chat_http_requests_total",
		Help: "Total number of API requests",
	}, []string{"route", "method", "code"})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "llm_chat_active_sessions",
		Help: "Number of live chat sessions",
	})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveProviderRequest records a provider round trip; outcome is a status code or failure kind
func (m *Metrics) ObserveProviderRequest(host, outcome string, duration time.Duration) {
	providerRequestDuration.WithLabelValues(host, outcome).Observe(duration.Seconds())
	providerRequestsTotal.WithLabelValues(host, outcome).Inc()
}

// RecordStream records a finished stream
func (m *Metrics) RecordStream(provider, outcome string, duration time.Duration) {
	streamDuration.WithLabelValues(provider, outcome).Observe(duration.Seconds())
	streamsTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordFragments records fragment recovery counters of one stream
func (m *Metrics) RecordFragments(provider string, recovered, dropped int) {
	if recovered > 0 {
		streamFragments.WithLabelValues(provider, "recovered").Add(float64(recovered))
	}
	if dropped > 0 {
		streamFragments.WithLabelValues(provider, "dropped").Add(float64(dropped))
	}
}

// StreamStarted increments the active stream gauge
func (m *Metrics) StreamStarted() {
	activeStreams.Inc()
}

// StreamFinished decrements the active stream gauge
func (m *Metrics) StreamFinished() {
	activeStreams.Dec()
}

// RecordTitle records a title generation attempt
func (m *Metrics) RecordTitle(status string) {
	titlesGenerated.WithLabelValues(status).Inc()
}

// RecordRateLimitExceeded records a rate limit exceeded event
func (m *Metrics) RecordRateLimitExceeded(route string) {
	rateLimitExceeded.WithLabelValues(route).Inc()
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(operation, status string, duration time.Duration) {
	storageOperations.WithLabelValues(operation, status).Inc()
	storageOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetActiveSessions sets the number of live sessions
func (m *Metrics) SetActiveSessions(count float64) {
	activeSessions.Set(count)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps server-sent events working through the recorder
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Instrument counts API requests by route template
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unknown"
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
	})
}

// NewMetricsServer builds the metrics HTTP server
func NewMetricsServer(port int, path string) *http.Server {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}
