package bootstrap

import (
	appconfig "github.com/wolfman30/medspa-nurture/internal/config"
	"github.com/wolfman30/medspa-nurture/internal/inbound"
	"github.com/wolfman30/medspa-nurture/pkg/logging"
)

// BuildEventWorker wires the inbound worker to the runtime's engine and
// auto-tagger. Event ids are de-duplicated in Postgres when available.
func BuildEventWorker(cfg *appconfig.Config, rt *Runtime, queue inbound.Queue, logger *logging.Logger) *inbound.Worker {
	var processed inbound.ProcessedStore = inbound.NewMemoryProcessedStore()
	if rt.Pool != nil {
		processed = inbound.NewPostgresProcessedStore(rt.Pool)
	}
	return inbound.NewWorker(queue, rt.Engine, rt.AutoTag, logger,
		inbound.WithWorkerCount(cfg.EventWorkerCount),
		inbound.WithProcessedStore(processed),
	)
}
