package lead

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/david/govbid-leads/internal/logger"
	"github.com/david/govbid-leads/internal/models"
)

type fakeFinder struct {
	opp   *models.Opportunity
	codes []string
}

func (f *fakeFinder) FindByNAICS(_ context.Context, code string) (*models.Opportunity, error) {
	f.codes = append(f.codes, code)
	if f.opp == nil {
		return nil, nil
	}
	cp := *f.opp
	return &cp, nil
}

type fakeCoder map[string]string

func (f fakeCoder) FindCodeForKeywords(text string) (string, bool) {
	code, ok := f[text]
	return code, ok
}

type fakeReplier struct {
	replies map[string]string
	names   map[string]string
	err     error
}

func (f *fakeReplier) PrivateReply(_ context.Context, commentID, text string) error {
	if f.err != nil {
		return f.err
	}
	if f.replies == nil {
		f.replies = map[string]string{}
	}
	f.replies[commentID] = text
	return nil
}

func (f *fakeReplier) UserName(_ context.Context, userID string) (string, error) {
	name, ok := f.names[userID]
	if !ok {
		return "", errors.New("no profile")
	}
	return name, nil
}

func TestCommentKeywords(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"I am looking for a roofing contract!", "roofing contract"},
		{"The, and, of", ""},
		{"Painting in Denver, anyone?", "painting denver anyone"},
	}
	for _, tt := range tests {
		if got := CommentKeywords(tt.in); got != tt.want {
			t.Errorf("CommentKeywords(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHandleComment_CreatesMessagedLead(t *testing.T) {
	store := newMemStore()
	finder := &fakeFinder{opp: &models.Opportunity{ExternalID: "SAM-42", Title: "Roof Repair", URL: "https://sam.gov/opp/42"}}
	replier := &fakeReplier{names: map[string]string{}}
	h := NewCommentHandler(store, NewManager(store, nil, logger.Nop()), finder,
		fakeCoder{"roofing contract": "238160"}, nil, replier, logger.Nop())

	l, err := h.HandleComment(context.Background(), Comment{
		CommentID: "c-1", FromID: "user-9", Message: "I am looking for a roofing contract",
	})
	if err != nil {
		t.Fatalf("HandleComment: %v", err)
	}
	if l == nil {
		t.Fatal("expected a lead")
	}
	if l.Status != models.StatusMessaged || l.Origin != models.OriginComment {
		t.Fatalf("unexpected lead: %+v", l)
	}
	if l.BusinessName != "there" || l.RecipientID != "user-9" {
		t.Fatalf("expected default name and commenter recipient, got %+v", l)
	}
	reply := replier.replies["c-1"]
	if !strings.Contains(reply, "Roof Repair") || !strings.Contains(reply, "https://sam.gov/opp/42") {
		t.Fatalf("reply missing opportunity details: %q", reply)
	}
	if len(store.logs) != 1 || store.logs[0].Sender != models.SenderAI {
		t.Fatalf("expected one AI log entry, got %+v", store.logs)
	}
	if len(store.opportunities) != 1 {
		t.Fatalf("expected the found opportunity to be stored, got %d", len(store.opportunities))
	}
}

func TestHandleComment_ReplyFailureMarksEngagementFailed(t *testing.T) {
	store := newMemStore()
	finder := &fakeFinder{opp: &models.Opportunity{ExternalID: "SAM-43", Title: "Paving", URL: "https://sam.gov/opp/43"}}
	h := NewCommentHandler(store, NewManager(store, nil, logger.Nop()), finder,
		fakeCoder{"paving": "238990"}, nil, &fakeReplier{err: errors.New("graph down")}, logger.Nop())

	l, err := h.HandleComment(context.Background(), Comment{CommentID: "c-2", FromID: "u", FromName: "Dana", Message: "paving"})
	if err != nil {
		t.Fatalf("HandleComment: %v", err)
	}
	if store.status(l.ID) != models.StatusEngagementFailed {
		t.Fatalf("expected Engagement Failed, got %s", store.status(l.ID))
	}
	if len(store.logs) != 0 {
		t.Fatalf("no log entry should be written on failure, got %d", len(store.logs))
	}
}

func TestHandleComment_NothingToDo(t *testing.T) {
	store := newMemStore()
	finder := &fakeFinder{}
	h := NewCommentHandler(store, NewManager(store, nil, logger.Nop()), finder,
		fakeCoder{}, nil, &fakeReplier{}, logger.Nop())

	for _, msg := range []string{"the and of", "completely unrelated words"} {
		l, err := h.HandleComment(context.Background(), Comment{CommentID: "c", FromID: "u", Message: msg})
		if err != nil || l != nil {
			t.Fatalf("%q: expected no lead and no error, got %v %v", msg, l, err)
		}
	}
	if len(finder.codes) != 0 {
		t.Fatalf("finder should not be called without a code, got %v", finder.codes)
	}
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(context.Context, string) ([]float32, error) { return []float32{0.1, 0.2}, nil }

func TestHandleComment_PrefersNearestStoredOpportunity(t *testing.T) {
	store := newMemStore()
	stored := store.addOpportunity(models.Opportunity{ExternalID: "SAM-1", Title: "Roofing Contract", URL: "https://sam.gov/opp/1"})
	store.nearest = stored
	finder := &fakeFinder{}
	h := NewCommentHandler(store, NewManager(store, nil, logger.Nop()), finder,
		fakeCoder{"roofing": "238160"}, fakeEmbedder{}, &fakeReplier{}, logger.Nop())

	l, err := h.HandleComment(context.Background(), Comment{CommentID: "c", FromID: "u", FromName: "Sam", Message: "roofing"})
	if err != nil {
		t.Fatalf("HandleComment: %v", err)
	}
	if l.OpportunityID != stored.ID {
		t.Fatalf("expected stored opportunity, got %s", l.OpportunityID)
	}
	if len(finder.codes) != 0 {
		t.Fatalf("live search should be skipped, got %v", finder.codes)
	}
}
