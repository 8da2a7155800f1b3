package lead

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/david/govbid-leads/internal/db"
	"github.com/david/govbid-leads/internal/logger"
	"github.com/david/govbid-leads/internal/models"
)

// nearestMaxDistance is the cosine distance beyond which a stored
// opportunity is not considered related to a comment.
const nearestMaxDistance = 0.35

var commentStopWords = map[string]bool{
	"i": true, "am": true, "looking": true, "for": true, "a": true, "an": true, "the": true,
	"in": true, "on": true, "of": true, "and": true, "is": true, "are": true,
}

// Comment is a new comment left on the page feed.
type Comment struct {
	CommentID string
	FromID    string
	FromName  string
	Message   string
}

type CommentStore interface {
	NearestOpportunity(ctx context.Context, embedding []float32, maxDistance float64) (*models.Opportunity, error)
	InsertOpportunity(ctx context.Context, o *models.Opportunity) (bool, error)
	CreateLead(ctx context.Context, l *models.Lead) error
	AppendConversation(ctx context.Context, leadID uuid.UUID, sender models.Sender, message string) (*models.ConversationLogEntry, error)
}

// OpportunityFinder looks up a current opportunity for an industry code.
type OpportunityFinder interface {
	FindByNAICS(ctx context.Context, code string) (*models.Opportunity, error)
}

// KeywordCoder maps free text to the best-scoring industry code.
type KeywordCoder interface {
	FindCodeForKeywords(text string) (string, bool)
}

// Embedder produces a vector for free text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CommentReplier answers a comment privately and resolves user names.
type CommentReplier interface {
	PrivateReply(ctx context.Context, commentID, text string) error
	UserName(ctx context.Context, userID string) (string, error)
}

type CommentHandler struct {
	store    CommentStore
	manager  *Manager
	finder   OpportunityFinder
	coder    KeywordCoder
	embedder Embedder
	replier  CommentReplier
	log      *logger.Logger
}

// NewCommentHandler wires the handler. embedder may be nil, in which case
// only the industry code lookup is used.
func NewCommentHandler(store CommentStore, manager *Manager, finder OpportunityFinder, coder KeywordCoder,
	embedder Embedder, replier CommentReplier, log *logger.Logger) *CommentHandler {
	return &CommentHandler{
		store: store, manager: manager, finder: finder, coder: coder,
		embedder: embedder, replier: replier, log: log.Component("comments"),
	}
}

// CommentKeywords drops filler words and punctuation from a comment.
func CommentKeywords(text string) string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:")
		if w == "" || commentStopWords[w] {
			continue
		}
		out = append(out, w)
	}
	return strings.Join(out, " ")
}

// HandleComment turns a comment into an Engaged lead and replies privately
// with a matching opportunity. It returns nil with no lead when nothing in
// the comment points at an opportunity.
func (h *CommentHandler) HandleComment(ctx context.Context, c Comment) (*models.Lead, error) {
	keywords := CommentKeywords(c.Message)
	if keywords == "" {
		h.log.Info("No usable keywords in comment", "comment_id", c.CommentID)
		return nil, nil
	}

	opp, err := h.findOpportunity(ctx, keywords)
	if err != nil {
		return nil, err
	}
	if opp == nil {
		h.log.Info("No opportunity for comment", "comment_id", c.CommentID, "keywords", keywords)
		return nil, nil
	}

	name := strings.TrimSpace(c.FromName)
	if name == "" {
		if n, err := h.replier.UserName(ctx, c.FromID); err == nil {
			name = strings.TrimSpace(n)
		} else {
			h.log.Warn("User name lookup failed", "user_id", c.FromID, "error", err)
		}
	}
	if name == "" {
		name = "there"
	}

	l := &models.Lead{
		OpportunityID: opp.ID,
		Status:        models.StatusEngaged,
		Origin:        models.OriginComment,
		BusinessName:  name,
		RecipientID:   c.FromID,
		Opportunity:   opp,
	}
	if err := h.store.CreateLead(ctx, l); err != nil {
		return nil, fmt.Errorf("create comment lead: %w", err)
	}
	h.log.Info("Lead created from comment", "lead_id", l.ID, "user", name)

	msg := fmt.Sprintf("Hi %s, thanks for your comment! Based on what you said, I found a government contract "+
		"opportunity you might be perfect for: '%s'. You can see the details here: %s. "+
		"Would you be interested in learning more?", name, opp.Title, opp.URL)

	if err := h.replier.PrivateReply(ctx, c.CommentID, msg); err != nil {
		h.log.Warn("Private reply failed", "comment_id", c.CommentID, "error", err)
		if _, terr := h.manager.Apply(ctx, l, OpFailEngagement, nil); terr != nil {
			return l, terr
		}
		return l, nil
	}

	if _, err := h.store.AppendConversation(ctx, l.ID, models.SenderAI, msg); err != nil {
		return l, fmt.Errorf("log private reply: %w", err)
	}
	return h.manager.Apply(ctx, l, OpMessage, nil)
}

// findOpportunity prefers a stored opportunity close in meaning to the
// keywords, then falls back to a live search by industry code.
func (h *CommentHandler) findOpportunity(ctx context.Context, keywords string) (*models.Opportunity, error) {
	if h.embedder != nil {
		vec, err := h.embedder.Embed(ctx, keywords)
		if err != nil {
			h.log.Warn("Embedding comment failed", "error", err)
		} else {
			opp, err := h.store.NearestOpportunity(ctx, vec, nearestMaxDistance)
			switch {
			case err == nil:
				return opp, nil
			case !errors.Is(err, db.ErrNotFound):
				h.log.Warn("Nearest opportunity lookup failed", "error", err)
			}
		}
	}

	code, ok := h.coder.FindCodeForKeywords(keywords)
	if !ok {
		return nil, nil
	}
	opp, err := h.finder.FindByNAICS(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("search opportunities for NAICS %s: %w", code, err)
	}
	if opp == nil || opp.ExternalID == "" {
		return nil, nil
	}
	if _, err := h.store.InsertOpportunity(ctx, opp); err != nil {
		return nil, fmt.Errorf("save opportunity %s: %w", opp.ExternalID, err)
	}
	return opp, nil
}
