package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/wolfman30/medspa-nurture/cmd/mainconfig"
	"github.com/wolfman30/medspa-nurture/internal/app/bootstrap"
	"github.com/wolfman30/medspa-nurture/internal/config"
	"github.com/wolfman30/medspa-nurture/internal/engine"
	"github.com/wolfman30/medspa-nurture/pkg/logging"
)

func main() {
	mainconfig.LoadEnv()
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DatabaseURL == "" || cfg.UseMemoryStore {
		logger.Error("drip worker requires DATABASE_URL; the API runs drips inline for the memory store")
		os.Exit(1)
	}

	rt, err := bootstrap.BuildRuntime(ctx, cfg, nil, logger)
	if err != nil {
		logger.Error("failed to build engine runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	sender, provider, reason := bootstrap.BuildDripSender(cfg, rt, logger)
	logger.Info("drip worker starting",
		"provider", provider,
		"fallback_reason", reason,
		"workers", cfg.DripWorkerCount,
		"interval", cfg.DripSweepInterval.String(),
	)

	dispatcher := bootstrap.BuildDispatcher(cfg, rt, sender, logger)
	dispatcher.Start(ctx)

	sweeper := engine.NewIdleSweeper(rt.Engine, cfg.IdleAbandonAfter, logger).
		WithInterval(cfg.IdleSweepInterval).
		WithBatchSize(cfg.DripBatchSize)
	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		sweeper.Run(ctx)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("drip worker shutting down")
	cancel()
	dispatcher.Wait()
	<-sweeperDone
}
