package calendar

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/david/govbid-leads/internal/models"
)

func TestMock_ListAvailability(t *testing.T) {
	m := NewMock()
	m.now = func() time.Time { return time.Date(2025, 6, 1, 22, 10, 0, 0, time.UTC) }

	slots, err := m.ListAvailability(context.Background())
	if err != nil {
		t.Fatalf("ListAvailability: %v", err)
	}
	if len(slots) != 3*8*4 {
		t.Fatalf("expected 96 slots, got %d", len(slots))
	}
	first, last := slots[0], slots[len(slots)-1]
	if !first.Start.Equal(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected first slot %v", first.Start)
	}
	if !last.Start.Equal(time.Date(2025, 6, 4, 16, 45, 0, 0, time.UTC)) {
		t.Fatalf("unexpected last slot %v", last.Start)
	}
	if first.End.Sub(first.Start) != SlotLength {
		t.Fatalf("unexpected slot length %v", first.End.Sub(first.Start))
	}
}

func TestMock_CancelUnknownEvent(t *testing.T) {
	if err := NewMock().CancelEvent(context.Background(), "mock_event_1700000000_deadbeef"); err != nil {
		t.Fatalf("CancelEvent on a fresh mock: %v", err)
	}
}

func TestMock_CreateAndCancel(t *testing.T) {
	m := NewMock()
	ctx := context.Background()
	slots, _ := m.ListAvailability(ctx)

	id, err := m.CreateEvent(ctx, slots[0], "Intro call")
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if !strings.HasPrefix(id, "mock_event_") {
		t.Fatalf("unexpected id %q", id)
	}

	after, _ := m.ListAvailability(ctx)
	if len(after) != len(slots)-1 {
		t.Fatalf("booked slot should leave the grid: %d -> %d", len(slots), len(after))
	}

	if err := m.CancelEvent(ctx, id); err != nil {
		t.Fatalf("CancelEvent: %v", err)
	}
	if err := m.CancelEvent(ctx, id); err != nil {
		t.Fatalf("second cancel should be a no-op: %v", err)
	}
	if again, _ := m.ListAvailability(ctx); len(again) != len(slots) {
		t.Fatalf("cancelled slot should return to the grid: %d -> %d", len(slots), len(again))
	}
	if err := m.CancelEvent(ctx, ""); err == nil {
		t.Fatal("empty id should fail")
	}
	if _, err := m.CreateEvent(ctx, models.Slot{}, ""); err == nil {
		t.Fatal("empty title should fail")
	}
}
