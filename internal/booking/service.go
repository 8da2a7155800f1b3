// Package booking offers appointment slots to leads, books them on the
// calendar, and handles reschedules and no-shows.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/david/govbid-leads/internal/ai"
	"github.com/david/govbid-leads/internal/apperr"
	"github.com/david/govbid-leads/internal/calendar"
	"github.com/david/govbid-leads/internal/db"
	"github.com/david/govbid-leads/internal/lead"
	"github.com/david/govbid-leads/internal/logger"
	"github.com/david/govbid-leads/internal/models"
)

type Store interface {
	ReplaceSlotOffers(ctx context.Context, leadID uuid.UUID, slots []models.Slot) error
	ListSlotOffers(ctx context.Context, leadID uuid.UUID) ([]models.SlotOffer, error)
	BookAppointment(ctx context.Context, a *models.Appointment, expected, next models.LeadStatus) error
	CloseAppointment(ctx context.Context, appointmentID uuid.UUID, status models.AppointmentStatus, expected, next models.LeadStatus) error
	GetAppointment(ctx context.Context, id uuid.UUID) (*models.Appointment, error)
	ActiveAppointment(ctx context.Context, leadID uuid.UUID) (*models.Appointment, error)
	MarkAttended(ctx context.Context, id uuid.UUID, at time.Time) error
	ListNoShowCandidates(ctx context.Context, cutoff time.Time, limit int) ([]models.Appointment, error)
	AppendConversation(ctx context.Context, leadID uuid.UUID, sender models.Sender, message string) (*models.ConversationLogEntry, error)
}

// Messenger delivers a direct message to a lead's recipient id.
type Messenger interface {
	SendMessage(ctx context.Context, recipientID, text string) error
}

type Service struct {
	store        Store
	leads        *lead.Manager
	cal          calendar.Provider
	msg          Messenger
	slotsOffered int
	now          func() time.Time
	log          *logger.Logger
}

func NewService(store Store, leads *lead.Manager, cal calendar.Provider, msg Messenger, slotsOffered int, log *logger.Logger) *Service {
	if slotsOffered <= 0 {
		slotsOffered = 3
	}
	return &Service{
		store: store, leads: leads, cal: cal, msg: msg, slotsOffered: slotsOffered,
		now: time.Now, log: log.Component("booking"),
	}
}

// Availability lists open calendar slots.
func (s *Service) Availability(ctx context.Context) ([]models.Slot, error) {
	slots, err := s.cal.ListAvailability(ctx)
	if err != nil {
		return nil, apperr.Unavailable("Calendar is unavailable", err)
	}
	return slots, nil
}

// Offer sends a Messaged or No-Show Follow-up lead a set of slots and moves
// it to Appointment Offered.
func (s *Service) Offer(ctx context.Context, leadID uuid.UUID) (*models.Lead, []models.Slot, error) {
	l, err := s.leads.Get(ctx, leadID)
	if err != nil {
		return nil, nil, err
	}
	return s.OfferLead(ctx, l)
}

// OfferLead is Offer for an already loaded lead.
func (s *Service) OfferLead(ctx context.Context, l *models.Lead) (*models.Lead, []models.Slot, error) {
	if _, err := lead.Next(l.Status, lead.OpOfferAppointment); err != nil {
		return nil, nil, err
	}
	slots, err := s.sendOffer(ctx, l)
	if err != nil {
		return nil, nil, err
	}
	l, err = s.leads.Apply(ctx, l, lead.OpOfferAppointment, nil)
	if err != nil {
		return nil, nil, err
	}
	return l, slots, nil
}

// sendOffer stores the first slots as the lead's offers and messages them.
func (s *Service) sendOffer(ctx context.Context, l *models.Lead) ([]models.Slot, error) {
	if l.RecipientID == "" {
		return nil, apperr.BadRequest("Lead has no messaging recipient")
	}
	slots, err := s.Availability(ctx)
	if err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		return nil, apperr.Unavailable("No appointment slots are available", nil)
	}
	if len(slots) > s.slotsOffered {
		slots = slots[:s.slotsOffered]
	}
	if err := s.store.ReplaceSlotOffers(ctx, l.ID, slots); err != nil {
		return nil, fmt.Errorf("store slot offers: %w", err)
	}

	text := ai.ComposeSlotOffer(l.BusinessName, slots)
	if err := s.msg.SendMessage(ctx, l.RecipientID, text); err != nil {
		return nil, apperr.Unavailable("Failed to send slot offer", err)
	}
	s.logOutbound(ctx, l.ID, text)
	return slots, nil
}

// BookChoice books the offer numbered choice (1-based) as listed in the
// offer message.
func (s *Service) BookChoice(ctx context.Context, leadID uuid.UUID, choice int) (*models.Appointment, error) {
	offers, err := s.store.ListSlotOffers(ctx, leadID)
	if err != nil {
		return nil, fmt.Errorf("load slot offers: %w", err)
	}
	for _, o := range offers {
		if o.Position == choice {
			return s.Book(ctx, leadID, o.Start)
		}
	}
	return nil, apperr.Validation(fmt.Sprintf("Choice %d was not offered", choice))
}

// Book reserves an offered slot. The calendar event is created first; if the
// lead moved on before the booking commits, the event is cancelled again.
func (s *Service) Book(ctx context.Context, leadID uuid.UUID, start time.Time) (*models.Appointment, error) {
	l, err := s.leads.Get(ctx, leadID)
	if err != nil {
		return nil, err
	}
	from := l.Status
	to, err := lead.Next(from, lead.OpBookAppointment)
	if err != nil {
		return nil, err
	}

	offers, err := s.store.ListSlotOffers(ctx, leadID)
	if err != nil {
		return nil, fmt.Errorf("load slot offers: %w", err)
	}
	var slot *models.Slot
	for i := range offers {
		if offers[i].Start.Equal(start) {
			slot = &offers[i].Slot
			break
		}
	}
	if slot == nil {
		return nil, apperr.Validation("Selected time was not offered to this lead")
	}

	title := "GovBid intro call"
	if name := strings.TrimSpace(l.BusinessName); name != "" {
		title += ": " + name
	}
	eventID, err := s.cal.CreateEvent(ctx, *slot, title)
	if err != nil {
		return nil, apperr.Unavailable("Failed to create calendar event", err)
	}

	appt := &models.Appointment{
		LeadID:          l.ID,
		Title:           title,
		StartTime:       slot.Start,
		EndTime:         slot.End,
		Status:          models.AppointmentConfirmed,
		ExternalEventID: eventID,
	}
	if err := s.store.BookAppointment(ctx, appt, from, to); err != nil {
		if cerr := s.cal.CancelEvent(context.WithoutCancel(ctx), eventID); cerr != nil {
			s.log.Error("Failed to cancel orphaned calendar event", "event_id", eventID, "error", cerr)
		}
		if errors.Is(err, db.ErrStatusChanged) {
			return nil, s.staleLead(ctx, l.ID, lead.OpBookAppointment)
		}
		return nil, fmt.Errorf("book appointment: %w", err)
	}

	s.commit(ctx, l, lead.OpBookAppointment, from, to)
	s.log.Info("Appointment booked", "lead_id", l.ID, "appointment_id", appt.ID, "start", appt.StartTime)

	if l.RecipientID != "" {
		text := ai.ComposeConfirmation(appt.StartTime)
		if err := s.msg.SendMessage(ctx, l.RecipientID, text); err != nil {
			s.log.Warn("Failed to send booking confirmation", "lead_id", l.ID, "error", err)
		} else {
			s.logOutbound(ctx, l.ID, text)
		}
	}
	return appt, nil
}

// Reschedule cancels the lead's confirmed appointment, returns the lead to
// Appointment Offered and sends fresh slots. The cancelled row is kept.
func (s *Service) Reschedule(ctx context.Context, leadID uuid.UUID) (*models.Lead, []models.Slot, error) {
	l, err := s.leads.Get(ctx, leadID)
	if err != nil {
		return nil, nil, err
	}
	from := l.Status
	to, err := lead.Next(from, lead.OpReschedule)
	if err != nil {
		return nil, nil, err
	}

	appt, err := s.store.ActiveAppointment(ctx, leadID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil, apperr.NotFound("Lead has no confirmed appointment")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load appointment: %w", err)
	}

	if err := s.cal.CancelEvent(ctx, appt.ExternalEventID); err != nil {
		return nil, nil, apperr.Unavailable("Failed to cancel calendar event", err)
	}
	if err := s.store.CloseAppointment(ctx, appt.ID, models.AppointmentCancelled, from, to); err != nil {
		if errors.Is(err, db.ErrStatusChanged) {
			return nil, nil, s.staleLead(ctx, l.ID, lead.OpReschedule)
		}
		return nil, nil, fmt.Errorf("cancel appointment: %w", err)
	}
	s.commit(ctx, l, lead.OpReschedule, from, to)
	s.log.Info("Appointment cancelled for reschedule", "lead_id", l.ID, "appointment_id", appt.ID)

	slots, err := s.sendOffer(ctx, l)
	if err != nil {
		return l, nil, err
	}
	return l, slots, nil
}

// CancelAppointment cancels a specific appointment and re-offers slots.
func (s *Service) CancelAppointment(ctx context.Context, appointmentID uuid.UUID) (*models.Lead, []models.Slot, error) {
	appt, err := s.getAppointment(ctx, appointmentID)
	if err != nil {
		return nil, nil, err
	}
	if appt.Status != models.AppointmentConfirmed {
		return nil, nil, apperr.Conflict(fmt.Sprintf("Appointment is %s", appt.Status))
	}
	return s.Reschedule(ctx, appt.LeadID)
}

// MarkAttended records that the meeting happened, which exempts it from
// no-show detection.
func (s *Service) MarkAttended(ctx context.Context, appointmentID uuid.UUID) (*models.Appointment, error) {
	appt, err := s.getAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	at := s.now().UTC()
	if err := s.store.MarkAttended(ctx, appointmentID, at); err != nil {
		if errors.Is(err, db.ErrStatusChanged) {
			return nil, apperr.Conflict("Appointment is not awaiting attendance")
		}
		return nil, err
	}
	appt.AttendedAt = &at
	return appt, nil
}

// DetectNoShows closes confirmed appointments that ended more than grace ago
// without attendance and sends each lead a follow-up.
func (s *Service) DetectNoShows(ctx context.Context, grace time.Duration, limit int) (int, error) {
	cutoff := s.now().Add(-grace)
	appts, err := s.store.ListNoShowCandidates(ctx, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("list no-show candidates: %w", err)
	}

	marked := 0
	for _, appt := range appts {
		if err := ctx.Err(); err != nil {
			return marked, err
		}
		l, err := s.leads.Get(ctx, appt.LeadID)
		if err != nil {
			s.log.Warn("No-show lead lookup failed", "appointment_id", appt.ID, "error", err)
			continue
		}
		from := l.Status
		to, err := lead.Next(from, lead.OpNoShow)
		if err != nil {
			s.log.Warn("Skipping no-show for lead in unexpected status", "lead_id", l.ID, "status", from)
			continue
		}
		if err := s.store.CloseAppointment(ctx, appt.ID, models.AppointmentNoShow, from, to); err != nil {
			s.log.Warn("Failed to mark no-show", "appointment_id", appt.ID, "error", err)
			continue
		}
		s.commit(ctx, l, lead.OpNoShow, from, to)
		marked++

		if l.RecipientID == "" {
			continue
		}
		text := ai.ComposeNoShowFollowUp(l.BusinessName)
		if err := s.msg.SendMessage(ctx, l.RecipientID, text); err != nil {
			s.log.Warn("No-show follow-up failed", "lead_id", l.ID, "error", err)
			continue
		}
		s.logOutbound(ctx, l.ID, text)
	}
	if marked > 0 {
		s.log.Info("No-shows recorded", "count", marked)
	}
	return marked, nil
}

func (s *Service) getAppointment(ctx context.Context, id uuid.UUID) (*models.Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.NotFound("Appointment not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	return appt, nil
}

// commit updates l in memory after a transactional status change and runs
// the lead hooks.
func (s *Service) commit(ctx context.Context, l *models.Lead, op lead.Operation, from, to models.LeadStatus) {
	now := s.now().UTC()
	l.Status = to
	l.LastUpdatedAt = now
	s.leads.Announce(ctx, lead.Change{Lead: l, Op: op, From: from, To: to, At: now})
}

func (s *Service) staleLead(ctx context.Context, id uuid.UUID, op lead.Operation) error {
	current, err := s.leads.Get(ctx, id)
	if err != nil {
		return err
	}
	return &lead.TransitionError{Op: op, From: current.Status}
}

func (s *Service) logOutbound(ctx context.Context, leadID uuid.UUID, text string) {
	if _, err := s.store.AppendConversation(ctx, leadID, models.SenderAI, text); err != nil {
		s.log.Warn("Failed to log outbound message", "lead_id", leadID, "error", err)
	}
}
