package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/david/govbid-leads/internal/ai"
	"github.com/david/govbid-leads/internal/apperr"
	"github.com/david/govbid-leads/internal/db"
	"github.com/david/govbid-leads/internal/lead"
	"github.com/david/govbid-leads/internal/logger"
	"github.com/david/govbid-leads/internal/models"
)

type memStore struct {
	mu        sync.Mutex
	opps      map[uuid.UUID]*models.Opportunity
	leads     map[uuid.UUID]*models.Lead
	logs      []models.ConversationLogEntry
	learnings []models.Learning
}

func newMemStore() *memStore {
	return &memStore{opps: make(map[uuid.UUID]*models.Opportunity), leads: make(map[uuid.UUID]*models.Lead)}
}

func (m *memStore) add(status models.LeadStatus, recipient string) *models.Lead {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := &models.Opportunity{ID: uuid.New(), ExternalID: "SAM-1", Title: "Roofing Contract", Agency: "GSA", URL: "https://sam.gov/opp/SAM-1/view"}
	m.opps[o.ID] = o
	l := &models.Lead{ID: uuid.New(), OpportunityID: o.ID, Status: status, RecipientID: recipient, LastUpdatedAt: time.Now()}
	m.leads[l.ID] = l
	return l
}

func (m *memStore) status(id uuid.UUID) models.LeadStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leads[id].Status
}

func (m *memStore) entries(id uuid.UUID) []models.ConversationLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ConversationLogEntry
	for _, e := range m.logs {
		if e.LeadID == id {
			out = append(out, e)
		}
	}
	return out
}

func (m *memStore) withOpp(l *models.Lead) models.Lead {
	cp := *l
	if o, ok := m.opps[l.OpportunityID]; ok {
		oc := *o
		cp.Opportunity = &oc
	}
	return cp
}

func (m *memStore) GetLead(_ context.Context, id uuid.UUID) (*models.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := m.withOpp(l)
	return &cp, nil
}

func (m *memStore) UpdateLeadStatus(_ context.Context, id uuid.UUID, expected, next models.LeadStatus, b *models.BusinessFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	if !ok || l.Status != expected {
		return db.ErrStatusChanged
	}
	l.Status = next
	l.LastUpdatedAt = time.Now()
	if b != nil {
		if b.Name != "" {
			l.BusinessName = b.Name
		}
		if b.PageID != "" {
			l.BusinessPageID, l.RecipientID = b.PageID, b.PageID
		}
	}
	return nil
}

func (m *memStore) InsertOpportunity(context.Context, *models.Opportunity) (bool, error) {
	return false, errors.New("not used")
}

func (m *memStore) EnsurePlaceholderLead(context.Context, uuid.UUID, models.LeadOrigin) (*models.Lead, bool, error) {
	return nil, false, errors.New("not used")
}

func (m *memStore) SetWorkItemID(context.Context, uuid.UUID, int) error { return nil }

func (m *memStore) ListLeadsByStatus(_ context.Context, status models.LeadStatus, _ int) ([]models.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Lead
	for _, l := range m.leads {
		if l.Status == status {
			out = append(out, m.withOpp(l))
		}
	}
	return out, nil
}

func (m *memStore) FindOpenLeadByRecipient(_ context.Context, recipientID string) (*models.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.leads {
		if l.RecipientID == recipientID && l.Status != models.StatusDisqualified {
			cp := m.withOpp(l)
			return &cp, nil
		}
	}
	return nil, db.ErrNotFound
}

func (m *memStore) AppendConversation(_ context.Context, leadID uuid.UUID, sender models.Sender, msg string) (*models.ConversationLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := models.ConversationLogEntry{ID: uuid.New(), LeadID: leadID, Sender: sender, Message: msg, Timestamp: time.Now()}
	m.logs = append(m.logs, e)
	return &e, nil
}

func (m *memStore) ListConversation(ctx context.Context, leadID uuid.UUID) ([]models.ConversationLogEntry, error) {
	return m.entries(leadID), nil
}

func (m *memStore) ListUnanalyzedLeads(_ context.Context, statuses []models.LeadStatus, _ int) ([]models.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Lead
	for _, l := range m.leads {
		if l.AnalyzedForLearning {
			continue
		}
		for _, st := range statuses {
			if l.Status == st {
				out = append(out, *l)
			}
		}
	}
	return out, nil
}

func (m *memStore) InsertLearning(_ context.Context, l *models.Learning) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.ID = uuid.New()
	m.learnings = append(m.learnings, *l)
	m.leads[l.LeadID].AnalyzedForLearning = true
	return nil
}

type fakeMessenger struct {
	sent map[string][]string
	err  error
}

func (f *fakeMessenger) SendMessage(_ context.Context, recipientID, text string) error {
	if f.err != nil {
		return f.err
	}
	if f.sent == nil {
		f.sent = make(map[string][]string)
	}
	f.sent[recipientID] = append(f.sent[recipientID], text)
	return nil
}

type fakeBooker struct {
	offered     []uuid.UUID
	choices     []int
	rescheduled []uuid.UUID
	bookErr     error
}

func (f *fakeBooker) OfferLead(_ context.Context, l *models.Lead) (*models.Lead, []models.Slot, error) {
	f.offered = append(f.offered, l.ID)
	return l, nil, nil
}

func (f *fakeBooker) BookChoice(_ context.Context, _ uuid.UUID, choice int) (*models.Appointment, error) {
	f.choices = append(f.choices, choice)
	return &models.Appointment{}, f.bookErr
}

func (f *fakeBooker) Reschedule(_ context.Context, id uuid.UUID) (*models.Lead, []models.Slot, error) {
	f.rescheduled = append(f.rescheduled, id)
	return nil, nil, nil
}

type fakeDriver struct {
	analysis ai.Analysis
}

func (fakeDriver) ComposeInitialMessage(_ context.Context, l *models.Lead, o *models.Opportunity) string {
	return ai.InitialTemplate(l.BusinessName, o)
}

func (fakeDriver) ComposeReply(_ context.Context, _ *models.Lead, history []models.ConversationLogEntry) string {
	if ai.WantsReschedule(history) {
		return ai.RescheduleSentinel
	}
	return "Happy to help."
}

func (f fakeDriver) Analyze(context.Context, []models.ConversationLogEntry) ai.Analysis {
	return f.analysis
}

type fixture struct {
	store  *memStore
	msg    *fakeMessenger
	booker *fakeBooker
	mgr    *lead.Manager
	svc    *Service
}

func newFixture() *fixture {
	f := &fixture{store: newMemStore(), msg: &fakeMessenger{}, booker: &fakeBooker{}}
	f.mgr = lead.NewManager(f.store, nil, logger.Nop())
	f.svc = NewService(f.store, f.mgr, fakeDriver{analysis: ai.FailedAnalysis()}, f.msg, f.booker, logger.Nop())
	return f
}

// Identified lead → matched business → first message.
func TestRoofingScenario(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	l := f.store.add(models.StatusIdentified, "")

	biz := &models.BusinessFields{Name: "TBs Roofing", PageID: "1234"}
	prospected, err := f.mgr.Transition(ctx, l.ID, lead.OpProspect, biz)
	if err != nil {
		t.Fatalf("prospect: %v", err)
	}
	if prospected.Status != models.StatusProspected || prospected.BusinessName != "TBs Roofing" {
		t.Fatalf("after prospect: %+v", prospected)
	}

	got, err := f.svc.Initiate(ctx, l.ID)
	if err != nil {
		t.Fatalf("Initiate() error: %v", err)
	}
	if got.Status != models.StatusMessaged {
		t.Fatalf("status = %q, want Messaged", got.Status)
	}
	entries := f.store.entries(l.ID)
	if len(entries) != 1 || entries[0].Sender != models.SenderAI {
		t.Fatalf("conversation log = %+v", entries)
	}
	if sent := f.msg.sent["1234"]; len(sent) != 1 {
		t.Fatalf("messages to page = %v", sent)
	}
}

func TestInitiate_RejectsIdentifiedLead(t *testing.T) {
	f := newFixture()
	l := f.store.add(models.StatusIdentified, "1234")

	_, err := f.svc.Initiate(context.Background(), l.ID)
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if st := f.store.status(l.ID); st != models.StatusIdentified {
		t.Fatalf("status mutated to %q", st)
	}
}

func TestInitiate_SendFailureMarksEngagementFailed(t *testing.T) {
	f := newFixture()
	f.msg.err = errors.New("graph down")
	l := f.store.add(models.StatusProspected, "1234")

	_, err := f.svc.Initiate(context.Background(), l.ID)
	if !apperr.Is(err, apperr.KindUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if st := f.store.status(l.ID); st != models.StatusEngagementFailed {
		t.Fatalf("status = %q", st)
	}
	if n := len(f.store.entries(l.ID)); n != 0 {
		t.Fatalf("logged %d entries for failed send", n)
	}
}

func TestInitiateAll_CountsFailures(t *testing.T) {
	f := newFixture()
	f.store.add(models.StatusProspected, "a")
	f.store.add(models.StatusProspected, "")

	contacted, failed, err := f.svc.InitiateAll(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if contacted != 1 || failed != 1 {
		t.Fatalf("contacted=%d failed=%d", contacted, failed)
	}
}

func TestHandleInbound(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown sender ignored", func(t *testing.T) {
		f := newFixture()
		if err := f.svc.HandleInbound(ctx, "nobody", "hi"); err != nil {
			t.Fatal(err)
		}
		if len(f.store.logs) != 0 {
			t.Fatal("logged message from unknown sender")
		}
	})

	t.Run("messaged lead gets slots", func(t *testing.T) {
		f := newFixture()
		l := f.store.add(models.StatusMessaged, "p1")
		if err := f.svc.HandleInbound(ctx, "p1", "Sure, sounds good"); err != nil {
			t.Fatal(err)
		}
		if len(f.booker.offered) != 1 || f.booker.offered[0] != l.ID {
			t.Fatalf("offered = %v", f.booker.offered)
		}
		if e := f.store.entries(l.ID); len(e) != 1 || e[0].Sender != models.SenderBusiness {
			t.Fatalf("entries = %+v", e)
		}
	})

	t.Run("numeric choice books", func(t *testing.T) {
		f := newFixture()
		f.store.add(models.StatusAppointmentOffered, "p1")
		if err := f.svc.HandleInbound(ctx, "p1", "2 please"); err != nil {
			t.Fatal(err)
		}
		if len(f.booker.choices) != 1 || f.booker.choices[0] != 2 {
			t.Fatalf("choices = %v", f.booker.choices)
		}
	})

	t.Run("choice not offered falls back to reply", func(t *testing.T) {
		f := newFixture()
		f.booker.bookErr = apperr.Validation("Choice 9 was not offered")
		f.store.add(models.StatusAppointmentOffered, "p1")
		if err := f.svc.HandleInbound(ctx, "p1", "9"); err != nil {
			t.Fatal(err)
		}
		if len(f.msg.sent["p1"]) != 1 {
			t.Fatalf("sent = %v", f.msg.sent)
		}
	})

	t.Run("reschedule request", func(t *testing.T) {
		f := newFixture()
		l := f.store.add(models.StatusAppointmentSet, "p1")
		if err := f.svc.HandleInbound(ctx, "p1", "Can we Reschedule?"); err != nil {
			t.Fatal(err)
		}
		if len(f.booker.rescheduled) != 1 || f.booker.rescheduled[0] != l.ID {
			t.Fatalf("rescheduled = %v", f.booker.rescheduled)
		}
		if len(f.msg.sent["p1"]) != 0 {
			t.Fatalf("sentinel leaked to the business: %v", f.msg.sent)
		}
	})
}

func TestParseChoice(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"2", 2, true},
		{"#3 works", 3, true},
		{"1.", 1, true},
		{"0", 0, false},
		{"tomorrow", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseChoice(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("parseChoice(%q) = %d, %v", tt.in, got, ok)
		}
	}
}

func TestAnalyzeFinished(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	done := f.store.add(models.StatusAppointmentSet, "p1")
	f.store.AppendConversation(ctx, done.ID, models.SenderAI, "Hello")
	last, _ := f.store.AppendConversation(ctx, done.ID, models.SenderBusiness, "Booked, thanks")
	f.store.add(models.StatusMessaged, "p2")

	analyzed, errs, err := f.svc.AnalyzeFinished(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if analyzed != 1 || errs != 0 {
		t.Fatalf("analyzed=%d errs=%d", analyzed, errs)
	}
	got := f.store.learnings[0]
	if got.OutcomeTag != ai.TagAnalysisFailed || got.ConversationEntryID == nil || *got.ConversationEntryID != last.ID {
		t.Fatalf("learning = %+v", got)
	}

	analyzed, _, _ = f.svc.AnalyzeFinished(ctx, 10)
	if analyzed != 0 {
		t.Fatalf("re-analyzed %d leads", analyzed)
	}
}
