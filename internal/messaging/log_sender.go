package messaging

import (
	"context"

	"github.com/google/uuid"

	"github.com/wolfman30/medspa-nurture/internal/drip"
	"github.com/wolfman30/medspa-nurture/pkg/logging"
)

// LogSender logs drips instead of sending them. Used when no SMS provider is
// configured.
type LogSender struct {
	logger *logging.Logger
}

func NewLogSender(logger *logging.Logger) *LogSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) SendDrip(_ context.Context, msg drip.Message) (string, error) {
	id := "log-" + uuid.NewString()
	s.logger.Info("log sender: would send drip", "org_id", msg.OrgID, "contact_id", msg.ContactID,
		"drip_id", msg.DripID, "step_id", msg.StepID, "body", msg.Body)
	return id, nil
}
