// Package calendar is the appointment calendar boundary and its mock.
package calendar

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/david/govbid-leads/internal/models"
)

// SlotLength is the length of every bookable slot.
const SlotLength = 15 * time.Minute

// Provider is an external calendar.
type Provider interface {
	ListAvailability(ctx context.Context) ([]models.Slot, error)
	CreateEvent(ctx context.Context, slot models.Slot, title string) (string, error)
	CancelEvent(ctx context.Context, eventID string) error
}

// Mock generates a fixed grid of slots: the next three days, 09:00 to 16:45
// UTC, every quarter hour. Booked slots drop out of the grid.
type Mock struct {
	mu     sync.Mutex
	now    func() time.Time
	events map[string]models.Slot
}

func NewMock() *Mock {
	return &Mock{now: time.Now, events: make(map[string]models.Slot)}
}

func (m *Mock) ListAvailability(_ context.Context) ([]models.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	taken := make(map[time.Time]bool, len(m.events))
	for _, s := range m.events {
		taken[s.Start] = true
	}

	now := m.now().UTC()
	var slots []models.Slot
	for day := 1; day <= 3; day++ {
		d := now.AddDate(0, 0, day)
		for hour := 9; hour < 17; hour++ {
			for _, minute := range []int{0, 15, 30, 45} {
				start := time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, time.UTC)
				if taken[start] {
					continue
				}
				slots = append(slots, models.Slot{Start: start, End: start.Add(SlotLength)})
			}
		}
	}
	return slots, nil
}

func (m *Mock) CreateEvent(_ context.Context, slot models.Slot, title string) (string, error) {
	if title == "" {
		return "", fmt.Errorf("event title is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := fmt.Sprintf("mock_event_%d_%s", m.now().Unix(), uuid.NewString()[:8])
	m.events[id] = models.Slot{Start: slot.Start.UTC(), End: slot.End.UTC()}
	return id, nil
}

// CancelEvent frees the slot. Unknown ids count as already cancelled: the
// mock forgets its events on restart, and bookings may come from another
// process.
func (m *Mock) CancelEvent(_ context.Context, eventID string) error {
	if eventID == "" {
		return fmt.Errorf("event id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, eventID)
	return nil
}

// Events lists booked event ids in order, for inspection.
func (m *Mock) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.events))
	for id := range m.events {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
