// Package conversation drives outreach: the first message, replies to
// inbound messages, and post-conversation analysis.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/david/govbid-leads/internal/ai"
	"github.com/david/govbid-leads/internal/apperr"
	"github.com/david/govbid-leads/internal/db"
	"github.com/david/govbid-leads/internal/lead"
	"github.com/david/govbid-leads/internal/logger"
	"github.com/david/govbid-leads/internal/models"
)

type Store interface {
	ListLeadsByStatus(ctx context.Context, status models.LeadStatus, limit int) ([]models.Lead, error)
	FindOpenLeadByRecipient(ctx context.Context, recipientID string) (*models.Lead, error)
	AppendConversation(ctx context.Context, leadID uuid.UUID, sender models.Sender, message string) (*models.ConversationLogEntry, error)
	ListConversation(ctx context.Context, leadID uuid.UUID) ([]models.ConversationLogEntry, error)
	ListUnanalyzedLeads(ctx context.Context, statuses []models.LeadStatus, limit int) ([]models.Lead, error)
	InsertLearning(ctx context.Context, l *models.Learning) error
}

type Messenger interface {
	SendMessage(ctx context.Context, recipientID, text string) error
}

// Driver is the text side of a conversation.
type Driver interface {
	ComposeInitialMessage(ctx context.Context, l *models.Lead, o *models.Opportunity) string
	ComposeReply(ctx context.Context, l *models.Lead, history []models.ConversationLogEntry) string
	Analyze(ctx context.Context, history []models.ConversationLogEntry) ai.Analysis
}

// Booker is the slice of the booking service the driver hands off to.
type Booker interface {
	OfferLead(ctx context.Context, l *models.Lead) (*models.Lead, []models.Slot, error)
	BookChoice(ctx context.Context, leadID uuid.UUID, choice int) (*models.Appointment, error)
	Reschedule(ctx context.Context, leadID uuid.UUID) (*models.Lead, []models.Slot, error)
}

// FinishedStatuses are the statuses whose transcripts are analyzed.
var FinishedStatuses = []models.LeadStatus{
	models.StatusAppointmentSet,
	models.StatusDisqualified,
	models.StatusEngagementFailed,
	models.StatusNoShowFollowUp,
}

type Service struct {
	store  Store
	leads  *lead.Manager
	driver Driver
	msg    Messenger
	booker Booker
	log    *logger.Logger
}

func NewService(store Store, leads *lead.Manager, driver Driver, msg Messenger, booker Booker, log *logger.Logger) *Service {
	return &Service{store: store, leads: leads, driver: driver, msg: msg, booker: booker, log: log.Component("conversation")}
}

// Initiate sends the first message to a Prospected lead. A delivery failure
// leaves the lead in Engagement Failed.
func (s *Service) Initiate(ctx context.Context, leadID uuid.UUID) (*models.Lead, error) {
	l, err := s.leads.Get(ctx, leadID)
	if err != nil {
		return nil, err
	}
	return s.initiate(ctx, l)
}

func (s *Service) initiate(ctx context.Context, l *models.Lead) (*models.Lead, error) {
	if l.Opportunity == nil {
		return nil, apperr.Internal("Lead has no opportunity loaded")
	}
	if _, err := lead.Next(l.Status, lead.OpEngage); err != nil {
		return nil, err
	}
	if l.RecipientID == "" {
		return nil, apperr.BadRequest("Lead has no messaging recipient")
	}

	l, err := s.leads.Apply(ctx, l, lead.OpEngage, nil)
	if err != nil {
		return nil, err
	}

	text := s.driver.ComposeInitialMessage(ctx, l, l.Opportunity)
	if err := s.msg.SendMessage(ctx, l.RecipientID, text); err != nil {
		s.log.Warn("Initial message failed", "lead_id", l.ID, "error", err)
		if _, ferr := s.leads.Apply(ctx, l, lead.OpFailEngagement, nil); ferr != nil {
			s.log.Error("Failed to mark engagement failure", "lead_id", l.ID, "error", ferr)
		}
		return nil, apperr.Unavailable("Failed to send message", err)
	}

	if _, err := s.store.AppendConversation(ctx, l.ID, models.SenderAI, text); err != nil {
		return nil, fmt.Errorf("log initial message: %w", err)
	}
	return s.leads.Apply(ctx, l, lead.OpMessage, nil)
}

// InitiateAll contacts up to limit Prospected leads. Per-lead failures are
// logged and counted.
func (s *Service) InitiateAll(ctx context.Context, limit int) (contacted, failed int, err error) {
	leads, err := s.store.ListLeadsByStatus(ctx, models.StatusProspected, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("list prospected leads: %w", err)
	}
	for i := range leads {
		if err := ctx.Err(); err != nil {
			return contacted, failed, err
		}
		l := leads[i]
		if _, err := s.initiate(ctx, &l); err != nil {
			s.log.Warn("Could not contact lead", "lead_id", l.ID, "error", err)
			failed++
			continue
		}
		contacted++
	}
	s.log.Info("Contact batch finished", "candidates", len(leads), "contacted", contacted, "failed", failed)
	return contacted, failed, nil
}

// HandleInbound records a message from a business and answers it according
// to the lead's position in the funnel. Messages from unknown senders are
// ignored.
func (s *Service) HandleInbound(ctx context.Context, senderID, text string) error {
	l, err := s.store.FindOpenLeadByRecipient(ctx, senderID)
	if errors.Is(err, db.ErrNotFound) {
		s.log.Debug("Inbound message from unknown sender", "sender_id", senderID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("find lead for sender: %w", err)
	}
	if _, err := s.store.AppendConversation(ctx, l.ID, models.SenderBusiness, text); err != nil {
		return fmt.Errorf("log inbound message: %w", err)
	}

	switch l.Status {
	case models.StatusMessaged, models.StatusNoShowFollowUp:
		_, _, err := s.booker.OfferLead(ctx, l)
		return err

	case models.StatusAppointmentOffered:
		if n, ok := parseChoice(text); ok {
			_, err := s.booker.BookChoice(ctx, l.ID, n)
			if !apperr.Is(err, apperr.KindValidation) {
				return err
			}
			s.log.Info("Inbound choice was not offered", "lead_id", l.ID, "choice", n)
		}
	}

	history, err := s.store.ListConversation(ctx, l.ID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	reply := s.driver.ComposeReply(ctx, l, history)
	if reply == ai.RescheduleSentinel {
		if l.Status == models.StatusAppointmentSet {
			_, _, err := s.booker.Reschedule(ctx, l.ID)
			return err
		}
		reply = "No problem. Let me know which of the times above works best."
	}

	if err := s.msg.SendMessage(ctx, l.RecipientID, reply); err != nil {
		return apperr.Unavailable("Failed to send reply", err)
	}
	if _, err := s.store.AppendConversation(ctx, l.ID, models.SenderAI, reply); err != nil {
		s.log.Warn("Failed to log reply", "lead_id", l.ID, "error", err)
	}
	return nil
}

// parseChoice reads a numbered slot choice such as "2" or "#2 please".
func parseChoice(text string) (int, bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return 0, false
	}
	tok := strings.Trim(fields[0], "#.,!)")
	n, err := strconv.Atoi(tok)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// AnalyzeFinished writes a learning for each finished conversation not yet
// analyzed. Analysis failures are stored as the failure tag.
func (s *Service) AnalyzeFinished(ctx context.Context, limit int) (analyzed, errs int, err error) {
	leads, err := s.store.ListUnanalyzedLeads(ctx, FinishedStatuses, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("list finished conversations: %w", err)
	}
	for _, l := range leads {
		if err := ctx.Err(); err != nil {
			return analyzed, errs, err
		}
		history, err := s.store.ListConversation(ctx, l.ID)
		if err != nil || len(history) == 0 {
			s.log.Warn("Skipping conversation without transcript", "lead_id", l.ID, "error", err)
			errs++
			continue
		}

		res := s.driver.Analyze(ctx, history)
		last := history[len(history)-1].ID
		learning := &models.Learning{
			LeadID:              l.ID,
			ConversationEntryID: &last,
			OutcomeTag:          res.Tag,
			Summary:             res.Summary,
		}
		if err := s.store.InsertLearning(ctx, learning); err != nil {
			s.log.Warn("Failed to store learning", "lead_id", l.ID, "error", err)
			errs++
			continue
		}
		analyzed++
	}
	s.log.Info("Analysis batch finished", "candidates", len(leads), "analyzed", analyzed, "errors", errs)
	return analyzed, errs, nil
}
