// Package pipeline runs the batch stages of the lead funnel and records
// each run.
package pipeline

import (
	"context"
	"time"

	"github.com/david/govbid-leads/internal/config"
	"github.com/david/govbid-leads/internal/db"
	"github.com/david/govbid-leads/internal/lead"
	"github.com/david/govbid-leads/internal/logger"
	"github.com/david/govbid-leads/internal/sam"
	"github.com/david/govbid-leads/internal/scheduler"
)

// promotePageSize is how many candidates a sweep reads per query.
const promotePageSize = 500

type RunTracker interface {
	TrackRun(ctx context.Context, job string, fn func(context.Context) (db.RunStats, error)) (db.RunStats, error)
}

type Ingester interface {
	Run(ctx context.Context, w sam.Window) (sam.IngestStats, error)
}

type Promoter interface {
	Sweep(ctx context.Context, limit int) (lead.SweepStats, error)
}

type Conversations interface {
	InitiateAll(ctx context.Context, limit int) (contacted, failed int, err error)
	AnalyzeFinished(ctx context.Context, limit int) (analyzed, errs int, err error)
}

type NoShowDetector interface {
	DetectNoShows(ctx context.Context, grace time.Duration, limit int) (int, error)
}

// BatchStats summarizes a contact, analysis or no-show run.
type BatchStats struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
}

type Runner struct {
	ingester Ingester
	promoter Promoter
	convo    Conversations
	noShows  NoShowDetector
	runs     RunTracker
	cfg      *config.Pipeline
	log      *logger.Logger
}

func NewRunner(ingester Ingester, promoter Promoter, convo Conversations, noShows NoShowDetector, runs RunTracker, cfg *config.Pipeline, log *logger.Logger) *Runner {
	return &Runner{
		ingester: ingester, promoter: promoter, convo: convo, noShows: noShows,
		runs: runs, cfg: cfg, log: log.Component("pipeline"),
	}
}

// Ingest fetches recent SAM postings. The ingester records its own run.
func (r *Runner) Ingest(ctx context.Context) (sam.IngestStats, error) {
	return r.ingester.Run(ctx, sam.LastDays(r.cfg.Ingest.LookbackDays))
}

func (r *Runner) Promote(ctx context.Context) (lead.SweepStats, error) {
	var stats lead.SweepStats
	_, err := r.runs.TrackRun(ctx, scheduler.TaskPromoteLeads, func(ctx context.Context) (db.RunStats, error) {
		var err error
		stats, err = r.promoter.Sweep(ctx, promotePageSize)
		return db.RunStats{Found: stats.Candidates, Saved: stats.Prospected, Errors: stats.Errors}, err
	})
	return stats, err
}

func (r *Runner) Contact(ctx context.Context) (BatchStats, error) {
	return r.batch(ctx, scheduler.TaskInitiateConversations, func(ctx context.Context) (int, int, error) {
		return r.convo.InitiateAll(ctx, r.cfg.Outreach.ContactBatch)
	})
}

func (r *Runner) Analyze(ctx context.Context) (BatchStats, error) {
	return r.batch(ctx, scheduler.TaskAnalyzeConversations, func(ctx context.Context) (int, int, error) {
		return r.convo.AnalyzeFinished(ctx, r.cfg.Outreach.AnalyzeBatch)
	})
}

func (r *Runner) NoShows(ctx context.Context) (BatchStats, error) {
	return r.batch(ctx, scheduler.TaskDetectNoShows, func(ctx context.Context) (int, int, error) {
		n, err := r.noShows.DetectNoShows(ctx, r.cfg.Booking.NoShowGrace, 100)
		return n, 0, err
	})
}

func (r *Runner) batch(ctx context.Context, job string, fn func(context.Context) (int, int, error)) (BatchStats, error) {
	var stats BatchStats
	_, err := r.runs.TrackRun(ctx, job, func(ctx context.Context) (db.RunStats, error) {
		var err error
		stats.Processed, stats.Errors, err = fn(ctx)
		return db.RunStats{Found: stats.Processed + stats.Errors, Saved: stats.Processed, Errors: stats.Errors}, err
	})
	return stats, err
}

// The methods below satisfy scheduler.Jobs.

func (r *Runner) FetchOpportunities(ctx context.Context) error {
	_, err := r.Ingest(ctx)
	return err
}

func (r *Runner) PromoteLeads(ctx context.Context) error {
	_, err := r.Promote(ctx)
	return err
}

func (r *Runner) InitiateConversations(ctx context.Context) error {
	_, err := r.Contact(ctx)
	return err
}

func (r *Runner) AnalyzeConversations(ctx context.Context) error {
	_, err := r.Analyze(ctx)
	return err
}

func (r *Runner) DetectNoShows(ctx context.Context) error {
	_, err := r.NoShows(ctx)
	return err
}

var _ scheduler.Jobs = (*Runner)(nil)
