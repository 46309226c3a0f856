package messaging

import (
	"github.com/wolfman30/medspa-nurture/internal/drip"
	"github.com/wolfman30/medspa-nurture/internal/observability/metrics"
	"github.com/wolfman30/medspa-nurture/pkg/logging"
)

const (
	// ProviderTwilio sends through Twilio.
	ProviderTwilio = providerTwilio
	// ProviderLog only logs outbound drips.
	ProviderLog = "log"
)

// BuildSender picks the drip transport from the available credentials. It
// returns the sender, the provider name, and why Twilio was not used when it
// falls back to logging.
func BuildSender(cfg TwilioConfig, contacts PhoneResolver, m *metrics.EngineMetrics, logger *logging.Logger) (drip.Sender, string, string) {
	if logger == nil {
		logger = logging.Default()
	}
	sender, err := NewTwilioSender(cfg, contacts, logger)
	if err != nil {
		logger.Warn("messaging: twilio unavailable, drips will only be logged", "reason", err.Error())
		return NewLogSender(logger), ProviderLog, err.Error()
	}
	return sender.WithMetrics(m), ProviderTwilio, ""
}
