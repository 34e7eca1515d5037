package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aiprophet/prophet/internal/channels"
	"github.com/aiprophet/prophet/internal/channels/telegram"
	"github.com/aiprophet/prophet/internal/config"
	"github.com/aiprophet/prophet/internal/media"
	"github.com/aiprophet/prophet/internal/net/dnspin"
	"github.com/aiprophet/prophet/internal/observability"
	"github.com/aiprophet/prophet/internal/state"
	"github.com/aiprophet/prophet/internal/web"
)

// runServe implements the serve command: bot polling plus the health
// server, until a shutdown signal arrives.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, logger, err := loadConfig(configPath, debug)
	if err != nil {
		return err
	}
	if err := cfg.RequireTelegram(); err != nil {
		return err
	}

	logger.Info("starting AI Prophet",
		"version", version,
		"commit", commit,
		"config", configPath,
		"debug", debug,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics := observability.NewMetrics()
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "ai-prophet",
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Insecure:       cfg.Tracing.Insecure,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	botClient := telegramClient(ctx, cfg, logger)

	eng, err := buildEngine(ctx, cfg, logger, metrics, tracer)
	if err != nil {
		return err
	}

	store, err := state.Open(cfg.State.Driver, cfg.State.Path)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	temp, err := media.NewTempStore(cfg.Media.TempDir, logger, metrics)
	if err != nil {
		return err
	}
	sweeper := media.NewSweeper(temp, cfg.Media.SweepInterval, cfg.Media.MaxAge, logger)
	if err := sweeper.Start(); err != nil {
		return err
	}
	defer sweeper.Stop()

	adapter, err := telegram.New(telegram.Config{
		Token:              cfg.Telegram.Token,
		OwnerUsername:      cfg.Telegram.OwnerUsername,
		AdminCommand:       cfg.Telegram.AdminCommand,
		MiniAppURL:         cfg.Telegram.MiniAppURL,
		DropPendingUpdates: *cfg.Telegram.DropPendingUpdates,
		PollTimeout:        cfg.Telegram.PollTimeout,
		Workers:            cfg.Telegram.Workers,
		RateLimit:          cfg.Telegram.RateLimit,
		RateBurst:          cfg.Telegram.RateBurst,
		MaxDownloadBytes:   cfg.Telegram.MaxDownloadBytes,
		SearchResults:      cfg.Search.MaxResults,
		HTTPClient:         botClient,
		Logger:             logger,
	}, telegram.Deps{
		Engine:  eng,
		State:   store,
		Temp:    temp,
		Search:  buildSearcher(cfg, nil, logger),
		Metrics: metrics,
		Tracer:  tracer,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telegram adapter: %w", err)
	}

	server := web.NewServer(web.Config{
		Addr:            cfg.Server.Addr(),
		Health:          healthRegistry(cfg, adapter.Status),
		Metrics:         metrics.Handler(),
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Logger:          logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return adapter.Run(gctx) })

	logger.Info("AI Prophet started", "http_addr", cfg.Server.Addr())

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("AI Prophet stopped gracefully")
	return nil
}

// telegramClient builds the Bot API client, pinned to a resolved
// api.telegram.org address when the platform's DNS cannot be trusted.
func telegramClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) *http.Client {
	base := &http.Client{Timeout: cfg.Telegram.PollTimeout + 30*time.Second}
	pinner := dnspin.New(dnspin.Config{
		Mode:        dnspin.Mode(cfg.Network.DNSPatch),
		Host:        cfg.Network.PinHost,
		Nameservers: cfg.Network.Nameservers,
		Timeout:     cfg.Network.DNSTimeout,
		Attempts:    cfg.Network.Attempts,
		RetryDelay:  cfg.Network.RetryDelay,
		Logger:      logger,
	})
	client, _ := pinner.Apply(ctx, base)
	return client
}

// healthRegistry reports Telegram polling as critical and the provider
// tiers as optional.
func healthRegistry(cfg *config.Config, telegramStatus func() channels.Status) *web.HealthRegistry {
	reg := web.NewHealthRegistry(5 * time.Second)
	reg.Register("telegram", true, func(context.Context) error {
		status := telegramStatus()
		if status.Connected {
			return nil
		}
		if status.Error != "" {
			return errors.New(status.Error)
		}
		return errors.New("not polling")
	})
	reg.Register("gemini", false, configuredCheck(cfg.GeminiEnabled(), "GEMINI_API_KEY not set"))
	reg.Register("huggingface", false, configuredCheck(cfg.HuggingFaceEnabled(), "HF_TOKEN not set"))
	return reg
}

func configuredCheck(ok bool, msg string) web.HealthChecker {
	return func(context.Context) error {
		if ok {
			return nil
		}
		return errors.New(msg)
	}
}
