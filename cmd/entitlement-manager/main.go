// cmd/entitlement-manager/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"play-entitlements/internal/api"
	"play-entitlements/internal/app"
	"play-entitlements/internal/common/camunda"
	"play-entitlements/internal/common/config"
	"play-entitlements/internal/common/logger"
	"play-entitlements/internal/common/observability"

	ce "play-entitlements/internal/workers/billing/check-entitlement"
	in "play-entitlements/internal/workers/billing/ingest-notification"
	rp "play-entitlements/internal/workers/billing/register-purchase"
	vp "play-entitlements/internal/workers/billing/verify-purchase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zapLog := logger.New("info", "console")
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting entitlement manager...",
		zap.String("environment", cfg.App.Environment),
		zap.String("store", cfg.Store.Driver),
		zap.String("auth", cfg.Auth.Provider),
	)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	tracing, err := observability.NewTracing(cfg.Tracing, cfg.App.Name)
	if err != nil {
		zapLog.Fatal("tracing init failed", zap.Error(err))
	}
	defer tracing.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := app.Build(ctx, cfg, log, obs, app.Options{})
	if err != nil {
		zapLog.Fatal("engine init failed", zap.Error(err))
	}
	defer engine.Close()

	// --- Zeebe workers ---
	var workers []*camunda.Worker
	if cfg.Camunda.Enabled {
		zeebe, err := camunda.NewClientWithConfig(ctx, camunda.ConfigFrom(cfg.Camunda))
		if err != nil {
			zapLog.Fatal("zeebe client failed", zap.Error(err))
		}
		defer zeebe.Close()
		zapLog.Info("Zeebe client connected successfully")

		workers = startWorkers(zeebe, cfg, engine, log)
		zapLog.Info("Zeebe workers registered", zap.Int("count", len(workers)))
	}

	// --- HTTP ---
	srv := api.NewServer(api.Dependencies{
		Registrar:     engine.Registrar,
		Ingester:      engine.Ingester,
		Entitlements:  engine.Entitlements,
		Authenticator: engine.Authenticator,
		PushVerifier:  engine.PushVerifier,
		Readiness:     engine.ReadinessChecks(),
		Logger:        log,
	}, api.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: config.GetDuration(cfg.Server.WriteTimeout),
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      srv.Routes(),
		ReadTimeout:  config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.Server.WriteTimeout),
		IdleTimeout:  time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.Server.Address))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zapLog.Info("Shutdown signal received, draining...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
		defer cancel()

		for _, w := range workers {
			w.Stop()
		}
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		zapLog.Error("entitlement manager stopped with error", zap.Error(err))
		return
	}
	zapLog.Info("Entitlement manager stopped gracefully")
}

func startWorkers(zeebe *camunda.Client, cfg *config.Config, engine *app.App, log logger.Logger) []*camunda.Worker {
	handlers := []struct {
		taskType string
		handler  camunda.JobHandler
	}{
		{vp.TaskType, vp.NewHandler(vp.ConfigFrom(cfg.Billing), engine.Verifier, log)},
		{rp.TaskType, rp.NewHandler(rp.ConfigFrom(cfg.Billing), engine.Registrar, log)},
		{in.TaskType, in.NewHandler(in.ConfigFrom(cfg.Ingest), engine.Ingester, log)},
		{ce.TaskType, engine.Entitlements},
	}

	var started []*camunda.Worker
	for _, h := range handlers {
		wcfg := config.GetWorkerConfig(cfg, h.taskType)
		if !wcfg.Enabled {
			log.Info("worker disabled", map[string]interface{}{"taskType": h.taskType})
			continue
		}
		maxJobs := wcfg.MaxJobsActive
		if maxJobs == 0 {
			maxJobs = cfg.Camunda.MaxJobsActive
		}
		w := camunda.NewWorker(zeebe.GetClient(), h.taskType, maxJobs, config.GetDuration(wcfg.Timeout), h.handler, log)
		started = append(started, w)
	}
	return started
}
