package lead

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/david/govbid-leads/internal/db"
	"github.com/david/govbid-leads/internal/models"
)

// memStore is an in-memory stand-in for db.Store with the same guarded
// update semantics.
type memStore struct {
	mu               sync.Mutex
	opportunities    map[uuid.UUID]*models.Opportunity
	leads            map[uuid.UUID]*models.Lead
	logs             []models.ConversationLogEntry
	updates          int
	candidateQueries int
	nearest          *models.Opportunity
}

func newMemStore() *memStore {
	return &memStore{
		opportunities: make(map[uuid.UUID]*models.Opportunity),
		leads:         make(map[uuid.UUID]*models.Lead),
	}
}

func (m *memStore) addOpportunity(o models.Opportunity) *models.Opportunity {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	m.opportunities[o.ID] = &o
	return &o
}

func (m *memStore) addLead(oppID uuid.UUID, status models.LeadStatus) *models.Lead {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := &models.Lead{ID: uuid.New(), OpportunityID: oppID, Status: status, Origin: models.OriginSweep}
	m.leads[l.ID] = l
	return l
}

func (m *memStore) GetLead(_ context.Context, id uuid.UUID) (*models.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *l
	if o, ok := m.opportunities[l.OpportunityID]; ok {
		oc := *o
		cp.Opportunity = &oc
	}
	return &cp, nil
}

func (m *memStore) UpdateLeadStatus(_ context.Context, id uuid.UUID, expected, next models.LeadStatus, b *models.BusinessFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	if !ok || l.Status != expected {
		return db.ErrStatusChanged
	}
	m.updates++
	l.Status = next
	l.LastUpdatedAt = time.Now()
	if b != nil {
		applyBusiness(l, b)
	}
	return nil
}

func (m *memStore) InsertOpportunity(_ context.Context, o *models.Opportunity) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.opportunities {
		if existing.ExternalID == o.ExternalID {
			o.ID = existing.ID
			return false, nil
		}
	}
	o.ID = uuid.New()
	cp := *o
	m.opportunities[o.ID] = &cp
	return true, nil
}

func (m *memStore) EnsurePlaceholderLead(_ context.Context, oppID uuid.UUID, origin models.LeadOrigin) (*models.Lead, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.leads {
		if l.OpportunityID == oppID && l.Origin != models.OriginComment {
			cp := *l
			return &cp, false, nil
		}
	}
	l := &models.Lead{ID: uuid.New(), OpportunityID: oppID, Status: models.StatusIdentified, Origin: origin}
	m.leads[l.ID] = l
	cp := *l
	return &cp, true, nil
}

func (m *memStore) SetWorkItemID(_ context.Context, leadID uuid.UUID, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.leads[leadID]; ok {
		l.WorkItemID = &id
	}
	return nil
}

func (m *memStore) ListPromotionCandidates(_ context.Context, after *db.CandidateCursor, limit int) ([]db.PromotionCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []db.PromotionCandidate
	for _, o := range m.opportunities {
		var leadID *uuid.UUID
		hasLead := false
		for _, l := range m.leads {
			if l.OpportunityID != o.ID {
				continue
			}
			hasLead = true
			if l.Origin != models.OriginComment && l.Status == models.StatusIdentified {
				id := l.ID
				leadID = &id
			}
		}
		if !hasLead || leadID != nil {
			all = append(all, db.PromotionCandidate{Opportunity: *o, LeadID: leadID})
		}
	}
	sort.Slice(all, func(i, j int) bool { return candidateBefore(all[i].Cursor(), all[j].Cursor()) })

	var out []db.PromotionCandidate
	for _, c := range all {
		if after != nil && !candidateBefore(after, c.Cursor()) {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, c)
	}
	m.candidateQueries++
	return out, nil
}

// candidateBefore orders by posted date then id, both descending.
func candidateBefore(a, b *db.CandidateCursor) bool {
	if !a.PostedDate.Equal(b.PostedDate) {
		return a.PostedDate.After(b.PostedDate)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) > 0
}

func (m *memStore) NearestOpportunity(_ context.Context, _ []float32, _ float64) (*models.Opportunity, error) {
	if m.nearest == nil {
		return nil, db.ErrNotFound
	}
	return m.nearest, nil
}

func (m *memStore) CreateLead(_ context.Context, l *models.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.ID = uuid.New()
	cp := *l
	cp.Opportunity = nil
	m.leads[l.ID] = &cp
	return nil
}

func (m *memStore) AppendConversation(_ context.Context, leadID uuid.UUID, sender models.Sender, msg string) (*models.ConversationLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := models.ConversationLogEntry{ID: uuid.New(), LeadID: leadID, Sender: sender, Message: msg, Timestamp: time.Now()}
	m.logs = append(m.logs, e)
	return &e, nil
}

func (m *memStore) status(id uuid.UUID) models.LeadStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leads[id].Status
}

// fakeMatcher answers from a fixed term table and records every call.
type fakeMatcher struct {
	pages map[string]models.BusinessFields
	calls []string
}

func (f *fakeMatcher) FindBusiness(_ context.Context, term string) (models.BusinessFields, bool) {
	f.calls = append(f.calls, term)
	b, ok := f.pages[term]
	return b, ok
}

type fakeCodes struct{}

func (fakeCodes) NAICSDescription(code string) string {
	if code == "238160" {
		return "Roofing Contractors"
	}
	return ""
}

func (fakeCodes) PSCDescription(code string) string {
	if code == "Z1AA" {
		return "Maintenance of Office Buildings"
	}
	return ""
}
