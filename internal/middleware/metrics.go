package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Message metrics
	messagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gemini_bot_messages_received_total",
		Help: "Total number of messages received",
	}, []string{"kind"})

	commandsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gemini_bot_commands_executed_total",
		Help: "Total number of commands executed",
	}, []string{"command"})

	// Streaming delivery metrics
	streamsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gemini_bot_streams_total",
		Help: "Total number of streaming deliveries by outcome",
	}, []string{"status"})

	streamEdits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gemini_bot_stream_edits_total",
		Help: "Total number of live placeholder edits sent",
	})

	// Model metrics
	modelRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gemini_bot_model_request_duration_seconds",
		Help:    "Duration of model requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"model", "status"})

	tokensUsed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gemini_bot_tokens_used_total",
		Help: "Total number of tokens reported by model responses",
	})

	// Rate limit metrics
	rateLimitExceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gemini_bot_rate_limit_exceeded_total",
		Help: "Total number of rate limit exceeded events",
	})

	// Storage metrics
	storageOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gemini_bot_store_operations_total",
		Help: "Total number of key-value store operations",
	}, []string{"operation", "status"})

	storageOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gemini_bot_store_operation_duration_seconds",
		Help:    "Duration of key-value store operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordMessageReceived records a received message by kind (text, photo, document, callback)
func (m *Metrics) RecordMessageReceived(kind string) {
	messagesReceived.WithLabelValues(kind).Inc()
}

// RecordCommandExecuted records an executed command
func (m *Metrics) RecordCommandExecuted(command string) {
	commandsExecuted.WithLabelValues(command).Inc()
}

// RecordStream records a finished streaming delivery (finalized, empty, failed)
func (m *Metrics) RecordStream(status string) {
	streamsTotal.WithLabelValues(status).Inc()
}

// RecordStreamEdit records one live placeholder edit
func (m *Metrics) RecordStreamEdit() {
	streamEdits.Inc()
}

// RecordModelRequest records a model request
func (m *Metrics) RecordModelRequest(model, status string, duration time.Duration) {
	modelRequestDuration.WithLabelValues(model, status).Observe(duration.Seconds())
}

// RecordTokens records tokens reported by a response
func (m *Metrics) RecordTokens(total int) {
	tokensUsed.Add(float64(total))
}

// RecordRateLimitExceeded records a rate limit exceeded event
func (m *Metrics) RecordRateLimitExceeded() {
	rateLimitExceeded.Inc()
}

// RecordStoreOperation records a key-value store operation
func (m *Metrics) RecordStoreOperation(operation, status string, duration time.Duration) {
	storageOperations.WithLabelValues(operation, status).Inc()
	storageOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// StartMetricsServer starts the metrics HTTP server
func StartMetricsServer(port int, path string) error {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
