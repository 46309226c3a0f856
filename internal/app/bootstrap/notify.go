package bootstrap

import (
	"context"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	appconfig "github.com/wolfman30/medspa-nurture/internal/config"
	"github.com/wolfman30/medspa-nurture/internal/engine"
	"github.com/wolfman30/medspa-nurture/internal/notify"
	"github.com/wolfman30/medspa-nurture/pkg/logging"
)

// BuildNotifier wires owner follow-up e-mails. It returns nil when no owner
// address is configured. SendGrid is preferred, then SES; with neither the
// e-mails are only logged.
func BuildNotifier(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) engine.CompletionNotifier {
	if cfg == nil || strings.TrimSpace(cfg.OwnerNotifyEmail) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return notify.NewFollowUpNotifier(buildEmailSender(ctx, cfg, logger), notify.StaticRecipient(cfg.OwnerNotifyEmail), logger)
}

func buildEmailSender(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) notify.EmailSender {
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		logger.Info("owner follow-up notifications enabled", "provider", "sendgrid")
		return sg
	}

	if strings.TrimSpace(cfg.SESFromEmail) != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			logger.Warn("ses unavailable; owner follow-up e-mails will only be logged", "error", err)
		} else if ses := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); ses != nil {
			logger.Info("owner follow-up notifications enabled", "provider", "ses")
			return ses
		}
	}

	logger.Warn("no e-mail provider configured; owner follow-up e-mails will only be logged")
	return notify.NewStubEmailSender(logger)
}
