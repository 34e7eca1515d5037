package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the bot.
//
// Each Metrics owns its registry so tests and multiple instances never
// collide on the global default registerer.
type Metrics struct {
	registry *prometheus.Registry

	// UpdatesReceived counts Telegram updates by kind.
	// Labels: kind (text|photo|voice|callback|command)
	UpdatesReceived *prometheus.CounterVec

	// ProviderRequests counts provider calls.
	// Labels: provider (gemini|huggingface), model, status (success|error|skipped)
	ProviderRequests *prometheus.CounterVec

	// ProviderDuration measures provider call latency in seconds.
	// Labels: provider, model
	ProviderDuration *prometheus.HistogramVec

	// Replies counts final outcomes by the tier that produced them.
	// Labels: operation (chat|vision|transcribe), tier (gemini|huggingface|none)
	Replies *prometheus.CounterVec

	// ActiveSessions tracks the number of cached conversation sessions.
	ActiveSessions prometheus.Gauge

	// TempFilesRemoved counts deleted temporary media files.
	// Labels: reason (consumed|chat_cleanup|expired)
	TempFilesRemoved *prometheus.CounterVec

	// Errors counts errors by component and type.
	// Labels: component, error_type
	Errors *prometheus.CounterVec
}

// NewMetrics creates a registry with process/go collectors and all bot metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		UpdatesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prophet_updates_total",
				Help: "Telegram updates received by kind",
			},
			[]string{"kind"},
		),

		ProviderRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prophet_provider_requests_total",
				Help: "Inference provider requests by provider, model and status",
			},
			[]string{"provider", "model", "status"},
		),

		ProviderDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prophet_provider_request_duration_seconds",
				Help:    "Duration of inference provider requests in seconds",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		Replies: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prophet_replies_total",
				Help: "Engine outcomes by operation and the provider tier that answered",
			},
			[]string{"operation", "tier"},
		),

		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "prophet_active_sessions",
				Help: "Number of cached Gemini chat sessions",
			},
		),

		TempFilesRemoved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prophet_temp_files_removed_total",
				Help: "Temporary media files removed by reason",
			},
			[]string{"reason"},
		),

		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prophet_errors_total",
				Help: "Errors by component and type",
			},
			[]string{"component", "error_type"},
		),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler serving this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveProvider records one provider call.
func (m *Metrics) ObserveProvider(provider, model string, started time.Time, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ProviderRequests.WithLabelValues(provider, model, status).Inc()
	m.ProviderDuration.WithLabelValues(provider, model).Observe(time.Since(started).Seconds())
}

// SkipProvider records a provider attempt skipped without a call.
func (m *Metrics) SkipProvider(provider, model string) {
	if m == nil {
		return
	}
	m.ProviderRequests.WithLabelValues(provider, model, "skipped").Inc()
}

// RecordReply records which tier produced the final answer.
func (m *Metrics) RecordReply(operation, tier string) {
	if m == nil {
		return
	}
	m.Replies.WithLabelValues(operation, tier).Inc()
}

// RecordUpdate counts an inbound update.
func (m *Metrics) RecordUpdate(kind string) {
	if m == nil {
		return
	}
	m.UpdatesReceived.WithLabelValues(kind).Inc()
}

// RecordError counts an error.
func (m *Metrics) RecordError(component, errorType string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(component, errorType).Inc()
}

// RecordTempRemoved counts removed temporary files.
func (m *Metrics) RecordTempRemoved(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TempFilesRemoved.WithLabelValues(reason).Add(float64(n))
}

// SetActiveSessions sets the session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}
