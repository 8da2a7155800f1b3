package sam

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/david/govbid-leads/internal/config"
	"github.com/david/govbid-leads/internal/db"
	"github.com/david/govbid-leads/internal/logger"
	"github.com/david/govbid-leads/internal/models"
)

// JobName is the run name ingestion is recorded under.
const JobName = "opportunities.fetch"

type Searcher interface {
	Search(ctx context.Context, p SearchParams) ([]Notice, int, error)
	FetchDescription(ctx context.Context, descriptionURL string) (string, error)
}

type Store interface {
	InsertOpportunity(ctx context.Context, o *models.Opportunity) (bool, error)
	EnsurePlaceholderLead(ctx context.Context, opportunityID uuid.UUID, origin models.LeadOrigin) (*models.Lead, bool, error)
	SetOpportunityDescription(ctx context.Context, id uuid.UUID, description string) error
	SetOpportunityEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error
	TrackRun(ctx context.Context, job string, fn func(context.Context) (db.RunStats, error)) (db.RunStats, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Window is the posted-date range searched.
type Window struct {
	From time.Time
	To   time.Time
}

// LastDays returns the window ending now and reaching back days.
func LastDays(days int) Window {
	now := time.Now().UTC()
	return Window{From: now.AddDate(0, 0, -days), To: now}
}

type IngestStats struct {
	Found        int `json:"found"`
	Inserted     int `json:"new_opportunities_added"`
	LeadsCreated int `json:"new_leads_created"`
	Errors       int `json:"errors"`
}

type Ingester struct {
	search   Searcher
	store    Store
	embedder Embedder
	cfg      config.IngestConfig
	log      *logger.Logger
}

// NewIngester wires ingestion. embedder may be nil.
func NewIngester(search Searcher, store Store, embedder Embedder, cfg config.IngestConfig, log *logger.Logger) *Ingester {
	return &Ingester{search: search, store: store, embedder: embedder, cfg: cfg, log: log.Component("ingest")}
}

// Run searches every configured keyword over w and stores new postings. A
// failed keyword is logged and counted; the run fails only when every
// keyword does.
func (in *Ingester) Run(ctx context.Context, w Window) (IngestStats, error) {
	var stats IngestStats
	_, err := in.store.TrackRun(ctx, JobName, func(ctx context.Context) (db.RunStats, error) {
		var err error
		stats, err = in.run(ctx, w)
		return db.RunStats{Found: stats.Found, Saved: stats.Inserted, Errors: stats.Errors}, err
	})
	return stats, err
}

func (in *Ingester) run(ctx context.Context, w Window) (IngestStats, error) {
	var stats IngestStats
	notices, failed, err := in.collect(ctx, w)
	if err != nil {
		return stats, err
	}
	stats.Found = len(notices)
	stats.Errors = failed

	for i := range notices {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		n := &notices[i]
		inserted, err := in.store.InsertOpportunity(ctx, &n.Opportunity)
		if err != nil {
			stats.Errors++
			in.log.Warn("Failed to save opportunity", "external_id", n.ExternalID, "error", err)
			continue
		}
		if !inserted {
			continue
		}
		stats.Inserted++
		in.enrich(ctx, n)

		if in.cfg.CreatePlaceholders {
			_, created, err := in.store.EnsurePlaceholderLead(ctx, n.ID, models.OriginSweep)
			if err != nil {
				stats.Errors++
				in.log.Warn("Failed to create placeholder lead", "external_id", n.ExternalID, "error", err)
				continue
			}
			if created {
				stats.LeadsCreated++
			}
		}
	}

	in.log.Info("Ingestion finished", "found", stats.Found, "inserted", stats.Inserted,
		"leads_created", stats.LeadsCreated, "errors", stats.Errors)
	return stats, nil
}

// collect runs the keyword searches concurrently and dedupes by external id,
// keeping the first posting seen for each.
func (in *Ingester) collect(ctx context.Context, w Window) ([]Notice, int, error) {
	var (
		mu      sync.Mutex
		seen    = make(map[string]bool)
		out     []Notice
		failed  int
		lastErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	limit := in.cfg.Concurrency
	if limit <= 0 {
		limit = 4
	}
	g.SetLimit(limit)

	for _, kw := range in.cfg.Keywords {
		g.Go(func() error {
			notices, _, err := in.search.Search(gctx, SearchParams{
				PostedFrom: w.From, PostedTo: w.To, Keyword: kw, Limit: in.cfg.Limit,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				lastErr = err
				in.log.Warn("Keyword search failed", "keyword", kw, "error", err)
				return nil
			}
			for _, n := range notices {
				if seen[n.ExternalID] {
					continue
				}
				seen[n.ExternalID] = true
				out = append(out, n)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, failed, err
	}
	if len(in.cfg.Keywords) > 0 && failed == len(in.cfg.Keywords) {
		return nil, failed, fmt.Errorf("all keyword searches failed: %w", lastErr)
	}
	return out, failed, nil
}

// enrich adds the description and title embedding. Failures only log.
func (in *Ingester) enrich(ctx context.Context, n *Notice) {
	if in.cfg.EnrichDescriptions && n.DescriptionURL != "" {
		text, err := in.search.FetchDescription(ctx, n.DescriptionURL)
		switch {
		case err != nil:
			in.log.Warn("Description fetch failed", "external_id", n.ExternalID, "error", err)
		case text != "":
			if err := in.store.SetOpportunityDescription(ctx, n.ID, text); err != nil {
				in.log.Warn("Failed to store description", "external_id", n.ExternalID, "error", err)
			}
			n.Description = text
		}
	}

	if in.embedder == nil {
		return
	}
	vec, err := in.embedder.Embed(ctx, n.Title)
	if err != nil {
		in.log.Warn("Embedding failed", "external_id", n.ExternalID, "error", err)
		return
	}
	if err := in.store.SetOpportunityEmbedding(ctx, n.ID, vec); err != nil && !errors.Is(err, context.Canceled) {
		in.log.Warn("Failed to store embedding", "external_id", n.ExternalID, "error", err)
	}
}
