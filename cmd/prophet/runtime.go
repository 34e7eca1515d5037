package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aiprophet/prophet/internal/config"
	"github.com/aiprophet/prophet/internal/engine"
	"github.com/aiprophet/prophet/internal/observability"
	"github.com/aiprophet/prophet/internal/providers"
	"github.com/aiprophet/prophet/internal/tools/websearch"
)

// hfTokenMissing is logged when the fallback tier has no credentials.
const hfTokenMissing = "HF_TOKEN is not set! Voice and WebSearch fallback will fail."

// loadConfig loads configuration and builds the process logger from it.
func loadConfig(configPath string, debug bool) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// tokenHint shows enough of a secret to tell which one is loaded.
func tokenHint(token string) string {
	if len(token) <= 5 {
		return "***"
	}
	return token[:5] + "..."
}

// buildProviders constructs the two provider tiers. A tier that is not
// configured comes back as a nil interface so the engine skips it.
func buildProviders(ctx context.Context, cfg *config.Config, logger *slog.Logger) (engine.SessionFactory, engine.Fallback, error) {
	var gemini engine.SessionFactory
	if cfg.GeminiEnabled() {
		google, err := providers.NewGoogleProvider(ctx, providers.GoogleConfig{
			APIKey:       cfg.Gemini.APIKey,
			SystemPrompt: cfg.Prompt.System,
			Temperature:  cfg.Gemini.Temperature,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("gemini provider: %w", err)
		}
		gemini = google
	} else {
		logger.Warn("GEMINI_API_KEY is not set, answering through the fallback tier only")
	}

	var fallback engine.Fallback
	if cfg.HuggingFaceEnabled() {
		logger.Info("hugging face token loaded", "prefix", tokenHint(cfg.HuggingFace.Token))
		fallback = providers.NewHuggingFace(providers.HuggingFaceConfig{
			Token:        cfg.HuggingFace.Token,
			InferenceURL: cfg.HuggingFace.InferenceURL,
			ChatURL:      cfg.HuggingFace.ChatURL,
			Tasks:        cfg.HuggingFace.Tasks,
			SystemPrompt: cfg.Prompt.System,
			MaxNewTokens: cfg.HuggingFace.MaxNewTokens,
			Temperature:  cfg.GeminiTemperature(),
			Timeout:      cfg.HuggingFace.Timeout,
		})
	} else {
		logger.Warn(hfTokenMissing)
	}

	return gemini, fallback, nil
}

// buildEngine wires the providers into the fallback engine.
func buildEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics, tracer *observability.Tracer) (*engine.Engine, error) {
	gemini, fallback, err := buildProviders(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Config{
		Models:         cfg.Gemini.Models,
		QuotaCooldown:  cfg.Engine.QuotaCooldown,
		RequestTimeout: cfg.Engine.RequestTimeout,
	}, gemini, fallback,
		engine.WithLogger(logger),
		engine.WithMetrics(metrics),
		engine.WithTracer(tracer),
	), nil
}

func buildSearcher(cfg *config.Config, client *http.Client, logger *slog.Logger) *websearch.Searcher {
	return websearch.New(websearch.Config{
		Endpoint:   cfg.Search.Endpoint,
		MaxResults: cfg.Search.MaxResults,
		HTTPClient: client,
		Logger:     logger,
	})
}
