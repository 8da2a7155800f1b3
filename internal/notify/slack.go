// Package notify tells the sales channel about booked appointments.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/slack-go/slack"

	"github.com/david/govbid-leads/internal/lead"
	"github.com/david/govbid-leads/internal/logger"
	"github.com/david/govbid-leads/internal/models"
)

// Slack posts to an incoming webhook when a lead reaches Appointment Set.
type Slack struct {
	webhookURL string
	http       *http.Client
	log        *logger.Logger
}

func NewSlack(webhookURL string, timeout time.Duration, log *logger.Logger) *Slack {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Slack{webhookURL: webhookURL, http: &http.Client{Timeout: timeout}, log: log.Component("notify")}
}

func (s *Slack) LeadChanged(ctx context.Context, c lead.Change) error {
	if c.To != models.StatusAppointmentSet {
		return nil
	}
	msg := &slack.WebhookMessage{
		Text: AppointmentText(c.Lead),
	}
	if err := slack.PostWebhookCustomHTTPContext(ctx, s.webhookURL, s.http, msg); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	s.log.Info("Appointment notification sent", "lead_id", c.Lead.ID)
	return nil
}

// AppointmentText is the channel message for a booked lead.
func AppointmentText(l *models.Lead) string {
	name := l.BusinessName
	if name == "" {
		name = "A business"
	}
	text := fmt.Sprintf(":calendar: Appointment set: *%s* booked an intro call", name)
	if l.Opportunity != nil && l.Opportunity.Title != "" {
		text += fmt.Sprintf(" about <%s|%s>", l.Opportunity.URL, l.Opportunity.Title)
	}
	return text + fmt.Sprintf(" (lead %s)", l.ID)
}

var _ lead.Hook = (*Slack)(nil)
