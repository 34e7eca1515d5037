// Package observability provides the logging, metrics, and tracing used by
// the bot.
//
// Logging is log/slog with a handler that redacts secrets (bot tokens, HF
// tokens, API keys) and stamps request_id, chat_id, and channel from the
// context onto every record. Metrics are Prometheus collectors on a private
// registry exposed by the health server. Tracing is OpenTelemetry with an
// OTLP gRPC exporter, or a no-op tracer when no endpoint is configured.
package observability
