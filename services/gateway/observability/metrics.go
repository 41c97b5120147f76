// Package observability provides Prometheus metrics for the gateway.
//
// # Description
//
// Counters, histograms, and gauges for the invocation endpoints:
//   - Request counters (by endpoint, status)
//   - Token throughput (by action, model)
//   - Stream duration histograms and an active-stream gauge
//   - Error counters keyed by the gateway's failure codes
//   - Fallback counters (by provider)
//
// Metrics are exposed on /metrics for Prometheus scraping.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "ollama_gateway"
	requestSubsystem = "requests"
)

// GatewayMetrics holds the gateway's Prometheus metrics. Initialize once at
// startup via InitMetrics.
type GatewayMetrics struct {
	// RequestsTotal counts invocations by endpoint and status.
	// Labels: endpoint (chat, generate, embeddings, ...), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// TokensTotal counts tokens attributed to finished invocations.
	// Labels: action (chat, chat_stream, chat_fallback, ...), model
	TokensTotal *prometheus.CounterVec

	// ActiveStreams tracks currently open streaming responses.
	// Labels: endpoint (chat, generate)
	ActiveStreams *prometheus.GaugeVec

	// StreamDurationSeconds measures total stream duration.
	// Labels: endpoint, status (success, error)
	StreamDurationSeconds *prometheus.HistogramVec

	// ErrorsTotal counts failures by endpoint and gateway error code.
	// Labels: endpoint, code (ValidationError, ProviderUnavailable, ...)
	ErrorsTotal *prometheus.CounterVec

	// FallbacksTotal counts completed fallback substitutions by provider.
	// Labels: provider (openai, anthropic, azure)
	FallbacksTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance, set by InitMetrics.
var DefaultMetrics *GatewayMetrics

// InitMetrics creates and registers the gateway metrics on the default
// Prometheus registry. Idempotent: repeated calls return the existing
// instance instead of re-registering.
func InitMetrics() *GatewayMetrics {
	if DefaultMetrics != nil {
		return DefaultMetrics
	}
	DefaultMetrics = &GatewayMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: requestSubsystem,
				Name:      "total",
				Help:      "Total invocations by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		TokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "tokens_total",
				Help:      "Tokens attributed to finished invocations by action and model",
			},
			[]string{"action", "model"},
		),

		ActiveStreams: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_streams",
				Help:      "Currently open streaming responses",
			},
			[]string{"endpoint"},
		),

		StreamDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "status"},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "errors_total",
				Help:      "Failures by endpoint and gateway error code",
			},
			[]string{"endpoint", "code"},
		),

		FallbacksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "fallbacks_total",
				Help:      "Completed fallback substitutions by provider",
			},
			[]string{"provider"},
		),
	}
	return DefaultMetrics
}

// RecordRequest records one finished invocation.
func (m *GatewayMetrics) RecordRequest(endpoint string, success bool) {
	m.RequestsTotal.WithLabelValues(endpoint, statusLabel(success)).Inc()
}

// RecordError records one classified failure.
func (m *GatewayMetrics) RecordError(endpoint, code string) {
	m.ErrorsTotal.WithLabelValues(endpoint, code).Inc()
}

// RecordTokens adds a finished invocation's token count.
func (m *GatewayMetrics) RecordTokens(action, model string, tokens int) {
	if tokens <= 0 {
		return
	}
	m.TokensTotal.WithLabelValues(action, model).Add(float64(tokens))
}

// RecordFallback records one completed fallback substitution.
func (m *GatewayMetrics) RecordFallback(provider string) {
	m.FallbacksTotal.WithLabelValues(provider).Inc()
}

// StreamStarted increments the active-streams gauge.
func (m *GatewayMetrics) StreamStarted(endpoint string) {
	m.ActiveStreams.WithLabelValues(endpoint).Inc()
}

// StreamEnded decrements the active-streams gauge and records the stream's
// duration.
func (m *GatewayMetrics) StreamEnded(endpoint string, seconds float64, success bool) {
	m.ActiveStreams.WithLabelValues(endpoint).Dec()
	m.StreamDurationSeconds.WithLabelValues(endpoint, statusLabel(success)).Observe(seconds)
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
