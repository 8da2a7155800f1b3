package lead

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/david/govbid-leads/internal/apperr"
	"github.com/david/govbid-leads/internal/db"
	"github.com/david/govbid-leads/internal/logger"
	"github.com/david/govbid-leads/internal/models"
)

// BusinessMatcher finds the business behind a free-text search term. Absence
// and provider failures both come back as ok=false.
type BusinessMatcher interface {
	FindBusiness(ctx context.Context, term string) (models.BusinessFields, bool)
}

// CodeResolver turns classification codes into descriptive search terms.
type CodeResolver interface {
	NAICSDescription(code string) string
	PSCDescription(code string) string
}

// CandidateStore lists opportunities waiting for a business match.
type CandidateStore interface {
	ListPromotionCandidates(ctx context.Context, after *db.CandidateCursor, limit int) ([]db.PromotionCandidate, error)
	EnsurePlaceholderLead(ctx context.Context, opportunityID uuid.UUID, origin models.LeadOrigin) (*models.Lead, bool, error)
}

// SweepStats summarizes one promotion sweep.
type SweepStats struct {
	Candidates int `json:"candidates"`
	Prospected int `json:"prospected"`
	Unmatched  int `json:"unmatched"`
	Skipped    int `json:"skipped"`
	Errors     int `json:"errors"`
}

type Promoter struct {
	store   CandidateStore
	manager *Manager
	matcher BusinessMatcher
	codes   CodeResolver
	log     *logger.Logger
}

func NewPromoter(store CandidateStore, manager *Manager, matcher BusinessMatcher, codes CodeResolver, log *logger.Logger) *Promoter {
	return &Promoter{store: store, manager: manager, matcher: matcher, codes: codes, log: log.Component("promoter")}
}

// SearchTerms lists the terms tried against the matcher, in order: title,
// NAICS description, PSC description. Blank and repeated terms are dropped.
func SearchTerms(o models.Opportunity, codes CodeResolver) []string {
	candidates := []string{o.Title}
	if codes != nil {
		if o.NAICSCode != "" {
			candidates = append(candidates, codes.NAICSDescription(o.NAICSCode))
		}
		if o.PSCCode != "" {
			candidates = append(candidates, codes.PSCDescription(o.PSCCode))
		}
	}

	seen := make(map[string]bool, len(candidates))
	terms := make([]string, 0, len(candidates))
	for _, t := range candidates {
		t = strings.TrimSpace(t)
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		seen[key] = true
		terms = append(terms, t)
	}
	return terms
}

// match walks the terms until one yields a business.
func (p *Promoter) match(ctx context.Context, o models.Opportunity) (models.BusinessFields, string, bool) {
	for _, term := range SearchTerms(o, p.codes) {
		if ctx.Err() != nil {
			return models.BusinessFields{}, "", false
		}
		if biz, ok := p.matcher.FindBusiness(ctx, term); ok {
			return biz, term, true
		}
		p.log.Debug("No business for term", "external_id", o.ExternalID, "term", term)
	}
	return models.BusinessFields{}, "", false
}

// Sweep tries to prospect every candidate, reading them pageSize at a time.
// Unmatched opportunities are left untouched so the next sweep retries them.
func (p *Promoter) Sweep(ctx context.Context, pageSize int) (SweepStats, error) {
	if pageSize <= 0 {
		pageSize = 500
	}
	var (
		stats SweepStats
		after *db.CandidateCursor
	)
	for {
		page, err := p.store.ListPromotionCandidates(ctx, after, pageSize)
		if err != nil {
			return stats, err
		}
		stats.Candidates += len(page)
		for _, c := range page {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			p.promote(ctx, c, &stats)
		}
		if len(page) < pageSize {
			break
		}
		after = page[len(page)-1].Cursor()
	}

	p.log.Info("Promotion sweep finished",
		"candidates", stats.Candidates, "prospected", stats.Prospected,
		"unmatched", stats.Unmatched, "skipped", stats.Skipped, "errors", stats.Errors)
	return stats, nil
}

func (p *Promoter) promote(ctx context.Context, c db.PromotionCandidate, stats *SweepStats) {
	biz, term, ok := p.match(ctx, c.Opportunity)
	if !ok {
		stats.Unmatched++
		return
	}

	var (
		l   *models.Lead
		err error
	)
	if c.LeadID != nil {
		l, err = p.manager.Get(ctx, *c.LeadID)
	} else {
		l, _, err = p.store.EnsurePlaceholderLead(ctx, c.Opportunity.ID, models.OriginSweep)
	}
	if err != nil {
		stats.Errors++
		p.log.Warn("Failed to load lead for opportunity", "external_id", c.Opportunity.ExternalID, "error", err)
		return
	}

	if _, err := p.manager.Apply(ctx, l, OpProspect, &biz); err != nil {
		var te *TransitionError
		if errors.As(err, &te) {
			stats.Skipped++
			return
		}
		stats.Errors++
		p.log.Warn("Failed to prospect lead", "lead_id", l.ID, "error", err)
		return
	}
	stats.Prospected++
	p.log.Info("Lead prospected", "lead_id", l.ID, "business", biz.Name, "term", term)
}

// ProspectOne matches a single Identified lead. Without a match the lead is
// marked Prospecting Failed and a NotFound error is returned.
func (p *Promoter) ProspectOne(ctx context.Context, id uuid.UUID) (*models.Lead, error) {
	l, err := p.manager.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := Next(l.Status, OpProspect); err != nil {
		return nil, err
	}
	if l.Opportunity == nil {
		return nil, apperr.Internal("Lead has no opportunity loaded")
	}

	biz, _, ok := p.match(ctx, *l.Opportunity)
	if !ok {
		if _, err := p.manager.Apply(ctx, l, OpFailProspecting, nil); err != nil {
			return nil, err
		}
		return nil, apperr.NotFound("Could not find a matching business for this opportunity.")
	}
	return p.manager.Apply(ctx, l, OpProspect, &biz)
}
