package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/medspa-nurture/cmd/mainconfig"
	"github.com/wolfman30/medspa-nurture/internal/api/router"
	"github.com/wolfman30/medspa-nurture/internal/app/bootstrap"
	appconfig "github.com/wolfman30/medspa-nurture/internal/config"
	"github.com/wolfman30/medspa-nurture/internal/engine"
	"github.com/wolfman30/medspa-nurture/internal/http/handlers"
	"github.com/wolfman30/medspa-nurture/internal/inbound"
	"github.com/wolfman30/medspa-nurture/pkg/logging"
)

func main() {
	mainconfig.LoadEnv()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting medspa-nurture API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsHandler, registry := setupMetrics()
	rt, err := bootstrap.BuildRuntime(ctx, cfg, registry, logger)
	if err != nil {
		logger.Error("failed to build engine runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	queue, inline, err := mainconfig.BuildEventQueue(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build event queue", "error", err)
		os.Exit(1)
	}
	background := startInlineWorkers(ctx, cfg, rt, queue, inline, logger)

	routerCfg := &router.Config{
		Logger:          logger,
		Sessions:        handlers.NewSessionsHandler(rt.Engine, logger),
		AutoTag:         handlers.NewAutoTagHandler(rt.Rules, rt.AutoTag, logger),
		Flows:           handlers.NewFlowsHandler(rt.Flows, logger),
		Events:          handlers.NewEventsHandler(inbound.NewPublisher(queue), logger),
		AdminAuthSecret: cfg.AdminJWTSecret,
		MetricsHandler:  metricsHandler,
		Ready:           rt.Ready,
	}
	if rt.Calendars != nil {
		routerCfg.BusinessHours = handlers.NewBusinessHoursHandler(rt.Calendars, logger)
	}
	r := router.New(routerCfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	cancel()
	for _, w := range background {
		w.Wait()
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func setupMetrics() (http.Handler, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), registry
}

type waiter interface {
	Wait()
}

type sweeperRun struct {
	done chan struct{}
}

func (s sweeperRun) Wait() { <-s.done }

// startInlineWorkers runs the background loops in-process when their state is
// process-local: the dispatcher and idle sweeper for the memory store, and the
// event worker for the memory queue.
func startInlineWorkers(ctx context.Context, cfg *appconfig.Config, rt *bootstrap.Runtime, queue inbound.Queue, inlineQueue bool, logger *logging.Logger) []waiter {
	var out []waiter
	if rt.Pool == nil {
		sender, provider, reason := bootstrap.BuildDripSender(cfg, rt, logger)
		logger.Info("inline drip dispatcher enabled", "provider", provider, "reason", reason)
		dispatcher := bootstrap.BuildDispatcher(cfg, rt, sender, logger)
		dispatcher.Start(ctx)
		out = append(out, dispatcher)

		sweeper := engine.NewIdleSweeper(rt.Engine, cfg.IdleAbandonAfter, logger).
			WithInterval(cfg.IdleSweepInterval)
		run := sweeperRun{done: make(chan struct{})}
		go func() {
			defer close(run.done)
			sweeper.Run(ctx)
		}()
		out = append(out, run)
	}
	if inlineQueue {
		worker := bootstrap.BuildEventWorker(cfg, rt, queue, logger)
		worker.Start(ctx)
		logger.Info("inline event worker enabled")
		out = append(out, worker)
	}
	return out
}
