// Package main is the entry point for the ai-gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/howard-nolan/ai-gateway/internal/config"
	"github.com/howard-nolan/ai-gateway/internal/logging"
	"github.com/howard-nolan/ai-gateway/internal/provider"
	"github.com/howard-nolan/ai-gateway/internal/server"
	"github.com/howard-nolan/ai-gateway/internal/tracker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	os.Exit(run())
}

// run holds the real main so deferred cleanup still happens before the
// process exits with a code (os.Exit skips defers).
func run() int {
	configPath := os.Getenv("GATEWAY_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	logger.Info("loaded API keys",
		zap.Int("user_keys", len(cfg.UserKeys())),
		zap.Int("admin_keys", len(cfg.AdminKeys())),
	)

	// One shared HTTP client for all backends. No overall timeout —
	// streaming completions can legitimately run for minutes; the
	// request context handles client disconnects.
	httpClient := &http.Client{}

	// Backend selection: the local server is always the primary. When
	// hosted credentials are fully configured, non-streaming requests
	// that fail on the primary fall back to the hosted provider.
	ollama := provider.NewOllamaProvider(cfg.Ollama.BaseURL, httpClient, logger.Named("ollama"))

	var p provider.Provider = ollama
	if cfg.OpenAIEnabled() {
		openai := provider.NewOpenAIProvider(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, httpClient, logger.Named("openai"))
		p = provider.NewFallbackProvider(ollama, openai, cfg.FallbackModel, logger.Named("fallback"))
		logger.Info("hosted backend configured, fallback composition active",
			zap.String("primary", ollama.Name()),
			zap.String("backup", openai.Name()),
			zap.String("fallback_model", cfg.FallbackModel),
		)
	} else {
		logger.Info("no hosted backend configured, using local backend only")
	}

	// Usage stats survive restarts: load what the previous run saved,
	// start fresh when there's nothing (or nothing readable) on disk.
	trk, err := tracker.Load(cfg.StatsFile)
	if err != nil {
		logger.Info("starting with fresh stats", zap.String("path", cfg.StatsFile), zap.Error(err))
		trk = tracker.New()
	} else {
		logger.Info("loaded persisted stats", zap.String("path", cfg.StatsFile))
	}

	srv := server.New(cfg, p, trk, logger)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv,
		// No WriteTimeout: it would cut off long streams. Header reads
		// still get a bound so idle connections can't pin goroutines.
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("ai-gateway listening", zap.String("addr", cfg.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	exitCode := 0
	if err := g.Wait(); err != nil {
		logger.Error("server error", zap.Error(err))
		exitCode = 1
	}

	// Persist stats on the way out. A failed save is an abnormal exit —
	// the operator should know the telemetry didn't make it to disk.
	if err := trk.Save(cfg.StatsFile); err != nil {
		logger.Error("failed to save stats", zap.String("path", cfg.StatsFile), zap.Error(err))
		return 1
	}
	logger.Info("saved stats", zap.String("path", cfg.StatsFile))

	return exitCode
}
