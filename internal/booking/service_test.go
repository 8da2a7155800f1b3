package booking

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/david/govbid-leads/internal/apperr"
	"github.com/david/govbid-leads/internal/calendar"
	"github.com/david/govbid-leads/internal/db"
	"github.com/david/govbid-leads/internal/lead"
	"github.com/david/govbid-leads/internal/logger"
	"github.com/david/govbid-leads/internal/models"
)

type memStore struct {
	mu       sync.Mutex
	leads    map[uuid.UUID]*models.Lead
	offers   map[uuid.UUID][]models.SlotOffer
	appts    map[uuid.UUID]*models.Appointment
	logs     []models.ConversationLogEntry
	bookFail error
}

func newMemStore() *memStore {
	return &memStore{
		leads:  make(map[uuid.UUID]*models.Lead),
		offers: make(map[uuid.UUID][]models.SlotOffer),
		appts:  make(map[uuid.UUID]*models.Appointment),
	}
}

func (m *memStore) addLead(status models.LeadStatus) *models.Lead {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := &models.Lead{ID: uuid.New(), Status: status, BusinessName: "TBs Roofing", RecipientID: "page-1"}
	m.leads[l.ID] = l
	return l
}

func (m *memStore) status(id uuid.UUID) models.LeadStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leads[id].Status
}

func (m *memStore) GetLead(_ context.Context, id uuid.UUID) (*models.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *memStore) UpdateLeadStatus(_ context.Context, id uuid.UUID, expected, next models.LeadStatus, _ *models.BusinessFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.moveLocked(id, expected, next)
}

func (m *memStore) moveLocked(id uuid.UUID, expected, next models.LeadStatus) error {
	l, ok := m.leads[id]
	if !ok || l.Status != expected {
		return db.ErrStatusChanged
	}
	l.Status = next
	return nil
}

func (m *memStore) InsertOpportunity(context.Context, *models.Opportunity) (bool, error) {
	return false, errors.New("not used")
}

func (m *memStore) EnsurePlaceholderLead(context.Context, uuid.UUID, models.LeadOrigin) (*models.Lead, bool, error) {
	return nil, false, errors.New("not used")
}

func (m *memStore) SetWorkItemID(context.Context, uuid.UUID, int) error { return nil }

func (m *memStore) ReplaceSlotOffers(_ context.Context, leadID uuid.UUID, slots []models.Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	offers := make([]models.SlotOffer, len(slots))
	for i, s := range slots {
		offers[i] = models.SlotOffer{LeadID: leadID, Position: i + 1, Slot: s}
	}
	m.offers[leadID] = offers
	return nil
}

func (m *memStore) ListSlotOffers(_ context.Context, leadID uuid.UUID) ([]models.SlotOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.SlotOffer(nil), m.offers[leadID]...), nil
}

func (m *memStore) BookAppointment(_ context.Context, a *models.Appointment, expected, next models.LeadStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bookFail != nil {
		return m.bookFail
	}
	if err := m.moveLocked(a.LeadID, expected, next); err != nil {
		return err
	}
	delete(m.offers, a.LeadID)
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	cp := *a
	m.appts[a.ID] = &cp
	return nil
}

func (m *memStore) CloseAppointment(_ context.Context, id uuid.UUID, status models.AppointmentStatus, expected, next models.LeadStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || a.Status != models.AppointmentConfirmed {
		return db.ErrStatusChanged
	}
	if err := m.moveLocked(a.LeadID, expected, next); err != nil {
		return err
	}
	a.Status = status
	return nil
}

func (m *memStore) GetAppointment(_ context.Context, id uuid.UUID) (*models.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) ActiveAppointment(_ context.Context, leadID uuid.UUID) (*models.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.appts {
		if a.LeadID == leadID && a.Status == models.AppointmentConfirmed {
			cp := *a
			return &cp, nil
		}
	}
	return nil, db.ErrNotFound
}

func (m *memStore) MarkAttended(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || a.Status != models.AppointmentConfirmed || a.AttendedAt != nil {
		return db.ErrStatusChanged
	}
	a.AttendedAt = &at
	return nil
}

func (m *memStore) ListNoShowCandidates(_ context.Context, cutoff time.Time, _ int) ([]models.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Appointment
	for _, a := range m.appts {
		if a.Status == models.AppointmentConfirmed && a.AttendedAt == nil && a.EndTime.Before(cutoff) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memStore) AppendConversation(_ context.Context, leadID uuid.UUID, sender models.Sender, msg string) (*models.ConversationLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := models.ConversationLogEntry{ID: uuid.New(), LeadID: leadID, Sender: sender, Message: msg, Timestamp: time.Now()}
	m.logs = append(m.logs, e)
	return &e, nil
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeMessenger) SendMessage(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeMessenger) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

type fixture struct {
	store *memStore
	cal   *calendar.Mock
	msg   *fakeMessenger
	svc   *Service
	seen  []lead.Change
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: newMemStore(), cal: calendar.NewMock(), msg: &fakeMessenger{}}
	mgr := lead.NewManager(f.store, nil, logger.Nop(), lead.HookFunc(func(_ context.Context, c lead.Change) error {
		f.seen = append(f.seen, c)
		return nil
	}))
	f.svc = NewService(f.store, mgr, f.cal, f.msg, 3, logger.Nop())
	return f
}

func TestOffer_SendsSlotsAndMovesLead(t *testing.T) {
	f := newFixture(t)
	l := f.store.addLead(models.StatusMessaged)

	got, slots, err := f.svc.Offer(context.Background(), l.ID)
	if err != nil {
		t.Fatalf("Offer() error: %v", err)
	}
	if got.Status != models.StatusAppointmentOffered {
		t.Fatalf("status = %q", got.Status)
	}
	if len(slots) != 3 {
		t.Fatalf("offered %d slots, want 3", len(slots))
	}
	offers, _ := f.store.ListSlotOffers(context.Background(), l.ID)
	if len(offers) != 3 || offers[0].Position != 1 {
		t.Fatalf("stored offers = %+v", offers)
	}
	if !strings.Contains(f.msg.last(), "1.") {
		t.Errorf("offer message missing numbered choices: %q", f.msg.last())
	}
	if len(f.store.logs) != 1 || f.store.logs[0].Sender != models.SenderAI {
		t.Errorf("conversation log = %+v", f.store.logs)
	}
}

func TestOffer_RejectsWrongStatus(t *testing.T) {
	f := newFixture(t)
	l := f.store.addLead(models.StatusEngaged)

	_, _, err := f.svc.Offer(context.Background(), l.ID)
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(f.msg.sent) != 0 {
		t.Errorf("message sent for rejected offer")
	}
}

func TestBookChoice_BooksOfferedSlot(t *testing.T) {
	f := newFixture(t)
	l := f.store.addLead(models.StatusMessaged)
	ctx := context.Background()
	if _, _, err := f.svc.Offer(ctx, l.ID); err != nil {
		t.Fatal(err)
	}
	offers, _ := f.store.ListSlotOffers(ctx, l.ID)

	appt, err := f.svc.BookChoice(ctx, l.ID, 2)
	if err != nil {
		t.Fatalf("BookChoice() error: %v", err)
	}
	if !appt.StartTime.Equal(offers[1].Start) {
		t.Errorf("start = %v, want %v", appt.StartTime, offers[1].Start)
	}
	if appt.Status != models.AppointmentConfirmed || appt.ExternalEventID == "" {
		t.Errorf("appointment = %+v", appt)
	}
	if st := f.store.status(l.ID); st != models.StatusAppointmentSet {
		t.Errorf("lead status = %q", st)
	}
	if len(f.cal.Events()) != 1 {
		t.Errorf("calendar events = %v", f.cal.Events())
	}
	last := f.seen[len(f.seen)-1]
	if last.To != models.StatusAppointmentSet || last.Op != lead.OpBookAppointment {
		t.Errorf("hook saw %+v", last)
	}
	if !strings.Contains(f.msg.last(), "all set") {
		t.Errorf("confirmation = %q", f.msg.last())
	}
}

func TestBook_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("choice not offered", func(t *testing.T) {
		f := newFixture(t)
		l := f.store.addLead(models.StatusMessaged)
		if _, _, err := f.svc.Offer(ctx, l.ID); err != nil {
			t.Fatal(err)
		}
		_, err := f.svc.BookChoice(ctx, l.ID, 7)
		if !apperr.Is(err, apperr.KindValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})

	t.Run("time not offered", func(t *testing.T) {
		f := newFixture(t)
		l := f.store.addLead(models.StatusMessaged)
		if _, _, err := f.svc.Offer(ctx, l.ID); err != nil {
			t.Fatal(err)
		}
		_, err := f.svc.Book(ctx, l.ID, time.Now().Add(-time.Hour))
		if !apperr.Is(err, apperr.KindValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
		if len(f.cal.Events()) != 0 {
			t.Errorf("event created for rejected booking")
		}
	})

	t.Run("lead moved during booking cancels event", func(t *testing.T) {
		f := newFixture(t)
		l := f.store.addLead(models.StatusMessaged)
		if _, _, err := f.svc.Offer(ctx, l.ID); err != nil {
			t.Fatal(err)
		}
		offers, _ := f.store.ListSlotOffers(ctx, l.ID)
		f.store.bookFail = db.ErrStatusChanged

		_, err := f.svc.Book(ctx, l.ID, offers[0].Start)
		var te *lead.TransitionError
		if !errors.As(err, &te) {
			t.Fatalf("expected TransitionError, got %v", err)
		}
		if len(f.cal.Events()) != 0 {
			t.Errorf("orphaned events = %v", f.cal.Events())
		}
	})
}

func TestReschedule_CancelsAndReoffers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.store.addLead(models.StatusMessaged)
	if _, _, err := f.svc.Offer(ctx, l.ID); err != nil {
		t.Fatal(err)
	}
	appt, err := f.svc.BookChoice(ctx, l.ID, 1)
	if err != nil {
		t.Fatal(err)
	}

	got, slots, err := f.svc.Reschedule(ctx, l.ID)
	if err != nil {
		t.Fatalf("Reschedule() error: %v", err)
	}
	if got.Status != models.StatusAppointmentOffered {
		t.Errorf("status = %q", got.Status)
	}
	if len(slots) == 0 {
		t.Errorf("no slots re-offered")
	}
	old, _ := f.store.GetAppointment(ctx, appt.ID)
	if old.Status != models.AppointmentCancelled {
		t.Errorf("old appointment status = %q", old.Status)
	}
	if len(f.cal.Events()) != 0 {
		t.Errorf("calendar events = %v", f.cal.Events())
	}
}

func TestReschedule_AfterCalendarRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.store.addLead(models.StatusMessaged)
	if _, _, err := f.svc.Offer(ctx, l.ID); err != nil {
		t.Fatal(err)
	}
	appt, err := f.svc.BookChoice(ctx, l.ID, 1)
	if err != nil {
		t.Fatal(err)
	}

	// A new process starts with an empty calendar that never saw the event.
	f.cal = calendar.NewMock()
	f.svc.cal = f.cal

	got, _, err := f.svc.Reschedule(ctx, l.ID)
	if err != nil {
		t.Fatalf("Reschedule() error: %v", err)
	}
	if got.Status != models.StatusAppointmentOffered {
		t.Errorf("status = %q", got.Status)
	}
	if st := f.store.status(l.ID); st != models.StatusAppointmentOffered {
		t.Errorf("stored status = %q", st)
	}
	old, _ := f.store.GetAppointment(ctx, appt.ID)
	if old.Status != models.AppointmentCancelled {
		t.Errorf("old appointment status = %q", old.Status)
	}
}

func TestMarkAttended_Once(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.store.addLead(models.StatusMessaged)
	if _, _, err := f.svc.Offer(ctx, l.ID); err != nil {
		t.Fatal(err)
	}
	appt, err := f.svc.BookChoice(ctx, l.ID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.MarkAttended(ctx, appt.ID); err != nil {
		t.Fatalf("MarkAttended() error: %v", err)
	}
	if _, err := f.svc.MarkAttended(ctx, appt.ID); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("second MarkAttended() = %v, want conflict", err)
	}
}

func TestDetectNoShows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.store.addLead(models.StatusMessaged)
	if _, _, err := f.svc.Offer(ctx, l.ID); err != nil {
		t.Fatal(err)
	}
	appt, err := f.svc.BookChoice(ctx, l.ID, 1)
	if err != nil {
		t.Fatal(err)
	}

	// A day after the meeting, well past any grace period.
	f.svc.now = func() time.Time { return appt.EndTime.Add(24 * time.Hour) }

	n, err := f.svc.DetectNoShows(ctx, 30*time.Minute, 10)
	if err != nil {
		t.Fatalf("DetectNoShows() error: %v", err)
	}
	if n != 1 {
		t.Fatalf("marked %d, want 1", n)
	}
	if st := f.store.status(l.ID); st != models.StatusNoShowFollowUp {
		t.Errorf("lead status = %q", st)
	}
	closed, _ := f.store.GetAppointment(ctx, appt.ID)
	if closed.Status != models.AppointmentNoShow {
		t.Errorf("appointment status = %q", closed.Status)
	}

	n, err = f.svc.DetectNoShows(ctx, 30*time.Minute, 10)
	if err != nil || n != 0 {
		t.Errorf("second pass = %d, %v", n, err)
	}

	// No-Show Follow-up can be offered again.
	if _, _, err := f.svc.Offer(ctx, l.ID); err != nil {
		t.Errorf("re-offer after no-show: %v", err)
	}
}
