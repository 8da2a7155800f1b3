package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/david/govbid-leads/internal/lead"
	"github.com/david/govbid-leads/internal/logger"
	"github.com/david/govbid-leads/internal/models"
)

func TestSlack_OnlyAppointmentSet(t *testing.T) {
	var texts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		texts = append(texts, body.Text)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	s := NewSlack(srv.URL, 0, logger.Nop())
	l := &models.Lead{ID: uuid.New(), BusinessName: "TBs Roofing"}
	ctx := context.Background()

	if err := s.LeadChanged(ctx, lead.Change{Lead: l, To: models.StatusMessaged}); err != nil {
		t.Fatal(err)
	}
	if err := s.LeadChanged(ctx, lead.Change{Lead: l, To: models.StatusAppointmentSet}); err != nil {
		t.Fatal(err)
	}
	if len(texts) != 1 || !strings.Contains(texts[0], "TBs Roofing") {
		t.Fatalf("posted = %v", texts)
	}
}

func TestSlack_WebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_token", http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewSlack(srv.URL, 0, logger.Nop())
	err := s.LeadChanged(context.Background(), lead.Change{Lead: &models.Lead{ID: uuid.New()}, To: models.StatusAppointmentSet})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestAppointmentText(t *testing.T) {
	l := &models.Lead{ID: uuid.New(), Opportunity: &models.Opportunity{Title: "Roofing Contract", URL: "https://sam.gov/x"}}
	got := AppointmentText(l)
	if !strings.Contains(got, "A business") || !strings.Contains(got, "<https://sam.gov/x|Roofing Contract>") {
		t.Fatalf("text = %q", got)
	}
}
