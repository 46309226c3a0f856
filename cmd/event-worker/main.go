package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/wolfman30/medspa-nurture/cmd/mainconfig"
	"github.com/wolfman30/medspa-nurture/internal/app/bootstrap"
	appconfig "github.com/wolfman30/medspa-nurture/internal/config"
	"github.com/wolfman30/medspa-nurture/pkg/logging"
)

func main() {
	mainconfig.LoadEnv()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.UseMemoryQueue || cfg.EventQueueURL == "" {
		logger.Error("event worker requires EVENT_QUEUE_URL; the API consumes the memory queue inline")
		os.Exit(1)
	}

	rt, err := bootstrap.BuildRuntime(ctx, cfg, nil, logger)
	if err != nil {
		logger.Error("failed to build engine runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	queue, _, err := mainconfig.BuildEventQueue(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build event queue", "error", err)
		os.Exit(1)
	}

	worker := bootstrap.BuildEventWorker(cfg, rt, queue, logger)
	worker.Start(ctx)
	logger.Info("event worker started", "workers", cfg.EventWorkerCount, "queue_url", cfg.EventQueueURL)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("event worker shutting down")
	cancel()
	worker.Wait()
}
