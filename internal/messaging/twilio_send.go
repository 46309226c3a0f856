package messaging

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/medspa-nurture/internal/drip"
	"github.com/wolfman30/medspa-nurture/internal/observability/metrics"
	"github.com/wolfman30/medspa-nurture/pkg/logging"
)

var twilioSendTracer = otel.Tracer("nurture.internal.messaging.twilio_send")

const providerTwilio = "twilio"

// messageCreator is the slice of the Twilio REST API the sender needs.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioConfig holds Twilio credentials and the default sending number.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// TwilioSender delivers drips as SMS through the Twilio REST API.
type TwilioSender struct {
	api      messageCreator
	from     string
	contacts PhoneResolver
	attempts int
	backoff  func(attempt int) time.Duration
	metrics  *metrics.EngineMetrics
	logger   *logging.Logger
}

// NewTwilioSender builds a sender. Contacts resolves the recipient number for
// each drip.
func NewTwilioSender(cfg TwilioConfig, contacts PhoneResolver, logger *logging.Logger) (*TwilioSender, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("messaging: twilio credentials missing")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newTwilioSender(client.Api, cfg.FromNumber, contacts, logger)
}

func newTwilioSender(api messageCreator, from string, contacts PhoneResolver, logger *logging.Logger) (*TwilioSender, error) {
	from = NormalizeE164(from)
	if from == "" {
		return nil, errors.New("messaging: twilio from number required")
	}
	if contacts == nil {
		return nil, errors.New("messaging: phone resolver required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &TwilioSender{
		api:      api,
		from:     from,
		contacts: contacts,
		attempts: 3,
		backoff: func(int) time.Duration {
			return time.Duration(200+rand.Intn(300)) * time.Millisecond
		},
		logger: logger,
	}, nil
}

// WithMetrics counts sends by outcome.
func (s *TwilioSender) WithMetrics(m *metrics.EngineMetrics) *TwilioSender {
	s.metrics = m
	return s
}

var _ drip.Sender = (*TwilioSender)(nil)

// SendDrip resolves the contact's number and posts the message, retrying
// transient failures. It returns the Twilio message SID.
func (s *TwilioSender) SendDrip(ctx context.Context, msg drip.Message) (string, error) {
	if strings.TrimSpace(msg.Body) == "" {
		return "", errors.New("messaging: body required")
	}

	ctx, span := twilioSendTracer.Start(ctx, "messaging.twilio.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("nurture.org_id", msg.OrgID),
		attribute.String("nurture.drip_id", msg.DripID),
	)

	raw, err := s.contacts.ContactPhone(ctx, msg.OrgID, msg.ContactID)
	if err != nil {
		span.RecordError(err)
		s.metrics.ObserveOutbound(providerTwilio, "no_recipient")
		return "", fmt.Errorf("messaging: resolve contact %s: %w", msg.ContactID, err)
	}
	to := NormalizeE164(raw)
	if to == "" {
		s.metrics.ObserveOutbound(providerTwilio, "no_recipient")
		return "", fmt.Errorf("messaging: contact %s has no usable phone number", msg.ContactID)
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(msg.Body)

	var lastErr error
retry:
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break retry
		}
		resp, err := s.api.CreateMessage(params)
		if err == nil {
			sid := ""
			if resp != nil && resp.Sid != nil {
				sid = *resp.Sid
			}
			s.metrics.ObserveOutbound(providerTwilio, "sent")
			s.logger.Info("twilio sms sent", "org_id", msg.OrgID, "drip_id", msg.DripID, "sid", sid)
			return sid, nil
		}
		lastErr = err
		if !retryable(err) {
			break retry
		}
		if attempt < s.attempts {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				break retry
			case <-time.After(s.backoff(attempt)):
			}
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "twilio send failed")
	s.metrics.ObserveOutbound(providerTwilio, "failed")
	return "", fmt.Errorf("messaging: twilio send: %w", lastErr)
}

// retryable reports whether a Twilio error is worth another attempt. Client
// errors other than rate limiting are not.
func retryable(err error) bool {
	var apiErr *twilioclient.TwilioRestError
	if errors.As(err, &apiErr) {
		return apiErr.Status == 429 || apiErr.Status >= 500
	}
	return true
}
