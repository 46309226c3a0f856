package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/wolfman30/medspa-nurture/internal/flow"
	"github.com/wolfman30/medspa-nurture/internal/session"
	"github.com/wolfman30/medspa-nurture/pkg/logging"
)

// RecipientResolver returns the owner address for an org, or "" when the org
// has none.
type RecipientResolver interface {
	OwnerEmail(ctx context.Context, orgID string) (string, error)
}

// StaticRecipient sends every org's notifications to one address.
type StaticRecipient string

func (r StaticRecipient) OwnerEmail(context.Context, string) (string, error) {
	return string(r), nil
}

// FollowUpNotifier e-mails the owner when a session finishes on a flow that
// needs a human to take over.
type FollowUpNotifier struct {
	email      EmailSender
	recipients RecipientResolver
	logger     *logging.Logger
}

func NewFollowUpNotifier(email EmailSender, recipients RecipientResolver, logger *logging.Logger) *FollowUpNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &FollowUpNotifier{email: email, recipients: recipients, logger: logger}
}

// SessionCompleted sends the follow-up e-mail.
func (n *FollowUpNotifier) SessionCompleted(ctx context.Context, s *session.Session, def *flow.Definition) error {
	if n.email == nil || n.recipients == nil {
		n.logger.Debug("notify: follow-up email not configured", "session_id", s.ID)
		return nil
	}
	to, err := n.recipients.OwnerEmail(ctx, s.OrgID)
	if err != nil {
		return fmt.Errorf("notify: resolve owner email: %w", err)
	}
	if to == "" {
		n.logger.Debug("notify: org has no owner email", "org_id", s.OrgID)
		return nil
	}

	msg := EmailMessage{
		To:      to,
		Subject: fmt.Sprintf("Follow up: %s finished %q", s.ContactID, def.Name),
		Body:    followUpBody(s, def),
	}
	if err := n.email.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: follow-up email: %w", err)
	}
	n.logger.Info("notify: follow-up email sent", "org_id", s.OrgID, "session_id", s.ID)
	return nil
}

func followUpBody(s *session.Session, def *flow.Definition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Contact %s completed the %q flow and needs a follow-up.\n\n", s.ContactID, def.Name)
	fmt.Fprintf(&b, "Profile completion: %d%%\n", s.CompletionPercentage)
	if s.AppointmentBooked {
		b.WriteString("Appointment booked: yes")
		if s.AppointmentTime != nil {
			fmt.Fprintf(&b, " (%s)", s.AppointmentTime.Format("Mon Jan 2 15:04 MST"))
		}
		b.WriteString("\n")
	}

	asked := make(map[string]bool, len(def.RequiredQuestions))
	if len(def.RequiredQuestions) > 0 || len(s.AnsweredQuestions) > 0 {
		b.WriteString("\nAnswers:\n")
	}
	for _, q := range def.RequiredQuestions {
		asked[q.FieldKey] = true
		answer := s.AnsweredQuestions[q.FieldKey]
		if answer == "" {
			answer = "(not answered)"
		}
		fmt.Fprintf(&b, "- %s: %s\n", q.Question, answer)
	}
	var extra []string
	for k := range s.AnsweredQuestions {
		if !asked[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		fmt.Fprintf(&b, "- %s: %s\n", k, s.AnsweredQuestions[k])
	}
	return b.String()
}
