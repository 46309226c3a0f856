package bootstrap

import (
	"time"

	appconfig "github.com/wolfman30/medspa-nurture/internal/config"
	"github.com/wolfman30/medspa-nurture/internal/drip"
	"github.com/wolfman30/medspa-nurture/internal/messaging"
	"github.com/wolfman30/medspa-nurture/internal/messaging/templates"
	"github.com/wolfman30/medspa-nurture/pkg/logging"
)

const contactCacheTTL = 10 * time.Minute

// BuildDripSender creates the drip transport. Phone numbers come from the
// contacts table when Postgres is available; otherwise contact ids are
// treated as phone numbers. The provider name and fallback reason are
// returned for startup logging.
func BuildDripSender(cfg *appconfig.Config, rt *Runtime, logger *logging.Logger) (drip.Sender, string, string) {
	if cfg == nil || rt == nil {
		return nil, "", "missing config"
	}
	var contacts messaging.PhoneResolver = messaging.ContactIDIsPhone
	if rt.Pool != nil {
		contacts = messaging.NewContactDirectory(rt.Pool, contactCacheTTL)
	}
	return messaging.BuildSender(messaging.TwilioConfig{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		FromNumber: cfg.TwilioFromNumber,
	}, contacts, rt.Metrics, logger)
}

// BuildDispatcher wires the drip dispatcher with template rendering against
// session answers.
func BuildDispatcher(cfg *appconfig.Config, rt *Runtime, sender drip.Sender, logger *logging.Logger) *drip.Dispatcher {
	return drip.NewDispatcher(rt.Scheduler, sender, logger,
		drip.WithWorkers(cfg.DripWorkerCount),
		drip.WithInterval(cfg.DripSweepInterval),
		drip.WithBatchSize(cfg.DripBatchSize),
		drip.WithTemplates(templates.Renderer{}, rt.Engine),
		drip.WithDispatchMetrics(rt.Metrics),
	)
}
