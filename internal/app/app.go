// Package app builds the object graph shared by the server, worker and CLI
// binaries.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/david/govbid-leads/internal/ai"
	"github.com/david/govbid-leads/internal/api"
	"github.com/david/govbid-leads/internal/auth"
	"github.com/david/govbid-leads/internal/booking"
	"github.com/david/govbid-leads/internal/calendar"
	"github.com/david/govbid-leads/internal/codes"
	"github.com/david/govbid-leads/internal/config"
	"github.com/david/govbid-leads/internal/conversation"
	"github.com/david/govbid-leads/internal/db"
	"github.com/david/govbid-leads/internal/devops"
	"github.com/david/govbid-leads/internal/events"
	"github.com/david/govbid-leads/internal/facebook"
	"github.com/david/govbid-leads/internal/lead"
	"github.com/david/govbid-leads/internal/logger"
	"github.com/david/govbid-leads/internal/notify"
	"github.com/david/govbid-leads/internal/pipeline"
	"github.com/david/govbid-leads/internal/sam"
)

type App struct {
	Config *config.Config
	Log    *logger.Logger
	Pool   *pgxpool.Pool
	Store  *db.Store

	Leads         *lead.Manager
	Promoter      *lead.Promoter
	Comments      *lead.CommentHandler
	Booking       *booking.Service
	Conversations *conversation.Service
	Runner        *pipeline.Runner
	Auth          *auth.Service

	events events.Sink
}

// New connects to Postgres, applies migrations and wires every service.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.ApplyMigrations(ctx, pool, log); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	a, err := Wire(pool, cfg, log)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return a, nil
}

// Wire builds the services on an open pool.
func Wire(pool *pgxpool.Pool, cfg *config.Config, log *logger.Logger) (*App, error) {
	store := db.NewStore(pool)
	p := cfg.Pipeline

	resolver, err := codes.NewResolver()
	if err != nil {
		return nil, err
	}

	var (
		chat     ai.ChatModel
		embedder *ai.Client
	)
	if cfg.LLMEnabled() {
		llm := ai.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.EmbedModel, cfg.HTTPTimeout)
		chat = llm
		if cfg.EmbedModel != "" {
			embedder = llm
		}
	} else {
		log.Warn("No LLM configured; using message templates")
	}
	composer := ai.NewComposer(chat, log)

	graph := facebook.NewClient(cfg.GraphBaseURL, cfg.FacebookAccessToken, cfg.HTTPTimeout,
		p.Outreach.GraphRPS, p.Outreach.GraphBurst, log)
	samClient := sam.NewClient(cfg.SAMBaseURL, cfg.SAMAPIKey, cfg.HTTPTimeout, log)

	sink := events.New(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.HTTPTimeout, log)
	hooks := []lead.Hook{sink}

	var tickets lead.TicketClient
	if cfg.DevOpsEnabled() {
		ado := devops.NewClient(cfg.DevOpsOrgURL, cfg.DevOpsProject, cfg.DevOpsPAT, cfg.HTTPTimeout, log)
		tickets = ado
		hooks = append(hooks, devops.NewSyncHook(ado))
	} else {
		log.Warn("Azure DevOps is not configured; work items are disabled")
	}
	if cfg.SlackWebhookURL != "" {
		hooks = append(hooks, notify.NewSlack(cfg.SlackWebhookURL, cfg.HTTPTimeout, log))
	}

	manager := lead.NewManager(store, tickets, log, hooks...)
	promoter := lead.NewPromoter(store, manager, facebook.NewMatcher(graph, log), resolver, log)

	var ingestEmbedder sam.Embedder
	var commentEmbedder lead.Embedder
	if embedder != nil {
		ingestEmbedder = embedder
		commentEmbedder = embedder
	}
	ingester := sam.NewIngester(samClient, store, ingestEmbedder, p.Ingest, log)
	comments := lead.NewCommentHandler(store, manager, samClient, resolver, commentEmbedder, graph, log)

	book := booking.NewService(store, manager, calendar.NewMock(), graph, p.Booking.SlotsOffered, log)
	convo := conversation.NewService(store, manager, composer, graph, book, log)
	runner := pipeline.NewRunner(ingester, promoter, convo, book, store, p, log)

	authSvc, err := auth.NewService(store, cfg.JWTSecret, log)
	if err != nil {
		return nil, err
	}

	return &App{
		Config:        cfg,
		Log:           log,
		Pool:          pool,
		Store:         store,
		Leads:         manager,
		Promoter:      promoter,
		Comments:      comments,
		Booking:       book,
		Conversations: convo,
		Runner:        runner,
		Auth:          authSvc,
		events:        sink,
	}, nil
}

// Server builds the HTTP API over the wired services.
func (a *App) Server() *api.Server {
	return api.NewServer(api.Deps{
		Store:         a.Store,
		Leads:         a.Leads,
		Prospector:    a.Promoter,
		Conversations: a.Conversations,
		Booking:       a.Booking,
		Comments:      a.Comments,
		Pipeline:      a.Runner,
		Auth:          a.Auth,
		AdminSecret:   a.Config.AdminSecret,
		VerifyToken:   a.Config.FacebookVerifyToken,
		CORSOrigins:   a.Config.CORSOrigins,
		WebhookRPS:    a.Config.Pipeline.Outreach.WebhookRPS,
		WebhookBurst:  a.Config.Pipeline.Outreach.WebhookBurst,
		JobTimeout:    a.Config.JobTimeout,
	}, a.Log)
}

// Close flushes the event sink and closes the pool.
func (a *App) Close() {
	if err := a.events.Close(); err != nil {
		a.Log.Warn("Closing event sink failed", "error", err)
	}
	a.Pool.Close()
}
