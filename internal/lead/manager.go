package lead

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/david/govbid-leads/internal/apperr"
	"github.com/david/govbid-leads/internal/db"
	"github.com/david/govbid-leads/internal/logger"
	"github.com/david/govbid-leads/internal/models"
)

// Repository is the slice of the store the manager needs.
type Repository interface {
	GetLead(ctx context.Context, id uuid.UUID) (*models.Lead, error)
	UpdateLeadStatus(ctx context.Context, id uuid.UUID, expected, next models.LeadStatus, business *models.BusinessFields) error
	InsertOpportunity(ctx context.Context, o *models.Opportunity) (bool, error)
	EnsurePlaceholderLead(ctx context.Context, opportunityID uuid.UUID, origin models.LeadOrigin) (*models.Lead, bool, error)
	SetWorkItemID(ctx context.Context, leadID uuid.UUID, workItemID int) error
}

// TicketClient opens a work item for a new lead.
type TicketClient interface {
	CreateWorkItem(ctx context.Context, title, description string, status models.LeadStatus) (int, error)
}

// Change describes a committed status change.
type Change struct {
	Lead *models.Lead
	Op   Operation
	From models.LeadStatus
	To   models.LeadStatus
	At   time.Time
}

// Hook observes committed changes. Hook failures are logged and never undo
// the change.
type Hook interface {
	LeadChanged(ctx context.Context, c Change) error
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, c Change) error

func (f HookFunc) LeadChanged(ctx context.Context, c Change) error { return f(ctx, c) }

type Manager struct {
	repo    Repository
	tickets TicketClient
	hooks   []Hook
	log     *logger.Logger
}

// NewManager wires the manager. tickets may be nil when work item tracking is
// not configured.
func NewManager(repo Repository, tickets TicketClient, log *logger.Logger, hooks ...Hook) *Manager {
	return &Manager{repo: repo, tickets: tickets, hooks: hooks, log: log.Component("lead")}
}

// AddHook registers h for every later change.
func (m *Manager) AddHook(h Hook) {
	m.hooks = append(m.hooks, h)
}

// Get loads a lead, mapping a missing row to a NotFound error.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*models.Lead, error) {
	l, err := m.repo.GetLead(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.NotFound("Lead not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load lead %s: %w", id, err)
	}
	return l, nil
}

// Transition loads the lead and applies op to it.
func (m *Manager) Transition(ctx context.Context, id uuid.UUID, op Operation, business *models.BusinessFields) (*models.Lead, error) {
	l, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.Apply(ctx, l, op, business)
}

// Apply moves l through op with a single guarded update. On success l is
// updated in place and hooks run. A lead that moved concurrently yields a
// TransitionError carrying its fresh status.
func (m *Manager) Apply(ctx context.Context, l *models.Lead, op Operation, business *models.BusinessFields) (*models.Lead, error) {
	from := l.Status
	to, err := Next(from, op)
	if err != nil {
		return nil, err
	}

	err = m.repo.UpdateLeadStatus(ctx, l.ID, from, to, business)
	if errors.Is(err, db.ErrStatusChanged) {
		current, getErr := m.Get(ctx, l.ID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, &TransitionError{Op: op, From: current.Status}
	}
	if err != nil {
		return nil, fmt.Errorf("%s lead %s: %w", op, l.ID, err)
	}

	now := time.Now().UTC()
	l.Status = to
	l.LastUpdatedAt = now
	if business != nil {
		applyBusiness(l, business)
	}
	m.log.Info("Lead status changed", "lead_id", l.ID, "op", op, "from", from, "to", to)

	m.Announce(ctx, Change{Lead: l, Op: op, From: from, To: to, At: now})
	return l, nil
}

// Announce runs hooks for a change committed outside Apply, such as a
// booking written in its own transaction.
func (m *Manager) Announce(ctx context.Context, c Change) {
	for _, h := range m.hooks {
		if err := h.LeadChanged(ctx, c); err != nil {
			m.log.Warn("Lead change hook failed", "lead_id", c.Lead.ID, "to", c.To, "error", err)
		}
	}
}

func applyBusiness(l *models.Lead, b *models.BusinessFields) {
	if b.Name != "" {
		l.BusinessName = b.Name
	}
	if b.PageID != "" {
		l.BusinessPageID = b.PageID
		l.RecipientID = b.PageID
	}
	if b.PageURL != "" {
		l.BusinessPageURL = b.PageURL
	}
	if b.Phone != "" {
		l.BusinessPhone = b.Phone
	}
}

// CreateInput is the body of a manual lead request.
type CreateInput struct {
	ExternalID string    `json:"sam_gov_id" validate:"required"`
	Title      string    `json:"title" validate:"required"`
	URL        string    `json:"url" validate:"required,url"`
	Agency     string    `json:"agency" validate:"required"`
	PostedDate time.Time `json:"posted_date" validate:"required"`
	NAICSCode  string    `json:"naics_code" validate:"omitempty,numeric"`
	PSCCode    string    `json:"psc_code"`
}

// Create registers an operator-supplied opportunity and its Identified lead.
// A second lead for the same opportunity is a Conflict. The work item is
// best-effort: the lead exists even when ticket creation fails.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*models.Lead, error) {
	opp := &models.Opportunity{
		ExternalID: strings.TrimSpace(in.ExternalID),
		Title:      strings.TrimSpace(in.Title),
		Agency:     strings.TrimSpace(in.Agency),
		URL:        strings.TrimSpace(in.URL),
		PostedDate: in.PostedDate,
		NAICSCode:  strings.TrimSpace(in.NAICSCode),
		PSCCode:    strings.TrimSpace(in.PSCCode),
	}
	if _, err := m.repo.InsertOpportunity(ctx, opp); err != nil {
		return nil, fmt.Errorf("save opportunity %s: %w", opp.ExternalID, err)
	}

	l, created, err := m.repo.EnsurePlaceholderLead(ctx, opp.ID, models.OriginManual)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, apperr.Conflict(fmt.Sprintf("A lead for SAM.gov ID '%s' already exists.", opp.ExternalID))
	}
	m.log.Info("Lead created", "lead_id", l.ID, "external_id", opp.ExternalID)

	if m.tickets != nil {
		desc := fmt.Sprintf("Agency: %s<br/>Source: SAM.gov<br/>Opportunity: <a href=\"%s\">%s</a>", opp.Agency, opp.URL, opp.URL)
		id, err := m.tickets.CreateWorkItem(ctx, "New Lead: "+opp.Title, desc, l.Status)
		if err != nil {
			m.log.Warn("Work item creation failed", "lead_id", l.ID, "error", err)
			return l, nil
		}
		if err := m.repo.SetWorkItemID(ctx, l.ID, id); err != nil {
			m.log.Warn("Failed to store work item id", "lead_id", l.ID, "work_item_id", id, "error", err)
			return l, nil
		}
		l.WorkItemID = &id
	}
	return l, nil
}
