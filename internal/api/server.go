package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/david/govbid-leads/internal/apperr"
	"github.com/david/govbid-leads/internal/auth"
	"github.com/david/govbid-leads/internal/db"
	"github.com/david/govbid-leads/internal/lead"
	"github.com/david/govbid-leads/internal/logger"
	"github.com/david/govbid-leads/internal/models"
	"github.com/david/govbid-leads/internal/pipeline"
	"github.com/david/govbid-leads/internal/sam"
	"github.com/david/govbid-leads/internal/validate"
)

// Store is the read side used by the listing endpoints.
type Store interface {
	ListLeads(ctx context.Context, f db.LeadFilter) ([]models.Lead, error)
	ListConversation(ctx context.Context, leadID uuid.UUID) ([]models.ConversationLogEntry, error)
	ListAppointments(ctx context.Context, leadID uuid.UUID) ([]models.Appointment, error)
	ListAvailableOpportunities(ctx context.Context, limit, offset int) ([]models.Opportunity, error)
	ListLearnings(ctx context.Context, limit int) ([]models.Learning, error)
	ListRuns(ctx context.Context, limit int) ([]models.PipelineRun, error)
}

type Leads interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Lead, error)
	Transition(ctx context.Context, id uuid.UUID, op lead.Operation, business *models.BusinessFields) (*models.Lead, error)
	Create(ctx context.Context, in lead.CreateInput) (*models.Lead, error)
}

type Prospector interface {
	ProspectOne(ctx context.Context, id uuid.UUID) (*models.Lead, error)
}

type Conversations interface {
	Initiate(ctx context.Context, leadID uuid.UUID) (*models.Lead, error)
	HandleInbound(ctx context.Context, senderID, text string) error
}

type Booking interface {
	Availability(ctx context.Context) ([]models.Slot, error)
	Offer(ctx context.Context, leadID uuid.UUID) (*models.Lead, []models.Slot, error)
	Book(ctx context.Context, leadID uuid.UUID, start time.Time) (*models.Appointment, error)
	CancelAppointment(ctx context.Context, appointmentID uuid.UUID) (*models.Lead, []models.Slot, error)
	MarkAttended(ctx context.Context, appointmentID uuid.UUID) (*models.Appointment, error)
}

type Comments interface {
	HandleComment(ctx context.Context, c lead.Comment) (*models.Lead, error)
}

// Pipeline runs the batch jobs on demand.
type Pipeline interface {
	Ingest(ctx context.Context) (sam.IngestStats, error)
	Promote(ctx context.Context) (lead.SweepStats, error)
	Contact(ctx context.Context) (pipeline.BatchStats, error)
	Analyze(ctx context.Context) (pipeline.BatchStats, error)
	NoShows(ctx context.Context) (pipeline.BatchStats, error)
}

// Deps wires the server to its collaborators.
type Deps struct {
	Store         Store
	Leads         Leads
	Prospector    Prospector
	Conversations Conversations
	Booking       Booking
	Comments      Comments
	Pipeline      Pipeline
	Auth          *auth.Service

	AdminSecret  string
	VerifyToken  string
	CORSOrigins  []string
	WebhookRPS   float64
	WebhookBurst int
	JobTimeout   time.Duration
}

type Server struct {
	Echo *echo.Echo
	deps Deps
	log  *logger.Logger

	// Background job tracking
	jobMu      sync.Mutex
	runningJob *backgroundJob
}

type backgroundJob struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Status    string             `json:"status"` // running, completed, failed
	StartedAt time.Time          `json:"started_at"`
	EndedAt   time.Time          `json:"ended_at,omitempty"`
	Result    any                `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	Cancel    context.CancelFunc `json:"-"`
}

func NewServer(d Deps, log *logger.Logger) *Server {
	if d.JobTimeout <= 0 {
		d.JobTimeout = 30 * time.Minute
	}
	s := &Server{Echo: echo.New(), deps: d, log: log.Component("api")}

	e := s.Echo
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validate.New()
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
		RequestIDHandler: func(c echo.Context, id string) {
			ctx := context.WithValue(c.Request().Context(), logger.RequestIDKey, id)
			c.SetRequest(c.Request().WithContext(ctx))
		},
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:     true,
		LogURI:        true,
		LogStatus:     true,
		LogLatency:    true,
		LogRemoteIP:   true,
		LogRequestID:  true,
		LogError:      true,
		HandleError:   true,
		LogValuesFunc: s.logRequest,
	}))
	e.Use(middleware.Recover())

	// CORS: allow frontend origins from config or default to localhost
	origins := append([]string{"http://localhost:4200"}, d.CORSOrigins...)
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-Admin-Secret"},
	}))

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)

	hooks := s.Echo.Group("/webhooks")
	hooks.Use(s.webhookLimiter())
	hooks.GET("/facebook", s.handleVerifyWebhook)
	hooks.POST("/facebook", s.handleWebhookEvent)

	api := s.Echo.Group("/api/v1")

	// Auth Routes
	api.POST("/auth/signup", s.handleSignup)
	api.POST("/auth/login", s.handleLogin)

	// Operator Routes
	op := api.Group("")
	op.Use(s.deps.Auth.Middleware)
	op.GET("/leads", s.handleListLeads)
	op.POST("/leads", s.handleCreateLead)
	op.GET("/leads/:id", s.handleGetLead)
	op.POST("/leads/:id/prospect", s.handleProspectLead)
	op.POST("/leads/:id/initiate", s.handleInitiateConversation)
	op.POST("/leads/:id/transition", s.handleTransitionLead)
	op.POST("/leads/:id/offer", s.handleOfferSlots)
	op.POST("/leads/:id/appointments", s.handleBookAppointment)
	op.POST("/appointments/:id/cancel", s.handleCancelAppointment)
	op.POST("/appointments/:id/attended", s.handleMarkAttended)
	op.GET("/opportunities", s.handleListOpportunities)
	op.GET("/availability", s.handleAvailability)
	op.GET("/learnings", s.handleListLearnings)

	// Admin Routes (pipeline)
	admin := api.Group("/pipeline")
	admin.Use(auth.AdminMiddleware(s.deps.AdminSecret))
	admin.POST("/run-opportunity-pipeline", s.handleRunOpportunityPipeline)
	admin.POST("/promote", s.jobHandler("promote", func(ctx context.Context) (any, error) { return s.deps.Pipeline.Promote(ctx) }))
	admin.POST("/contact", s.jobHandler("contact", func(ctx context.Context) (any, error) { return s.deps.Pipeline.Contact(ctx) }))
	admin.POST("/analyze", s.jobHandler("analyze", func(ctx context.Context) (any, error) { return s.deps.Pipeline.Analyze(ctx) }))
	admin.POST("/no-shows", s.jobHandler("no-shows", func(ctx context.Context) (any, error) { return s.deps.Pipeline.NoShows(ctx) }))
	admin.GET("/jobs/:id", s.handleJobStatus)
	admin.GET("/runs", s.handleListRuns)
}

// Start serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.log.Info("HTTP server listening", "addr", addr)
	if err := s.Echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and cancels a running background job.
func (s *Server) Shutdown(ctx context.Context) error {
	s.jobMu.Lock()
	if s.runningJob != nil && s.runningJob.Status == "running" {
		s.runningJob.Cancel()
	}
	s.jobMu.Unlock()
	return s.Echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// handleError renders every error as {"error": message}.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	msg := "Internal server error"
	var he *echo.HTTPError
	var ae *apperr.Error
	switch {
	case errors.As(err, &he):
		status = he.Code
		msg = fmt.Sprint(he.Message)
	case errors.As(err, &ae):
		status = ae.HTTPStatus()
		if status < http.StatusInternalServerError || ae.Kind == apperr.KindUnavailable {
			msg = ae.Error()
		}
	}

	if status >= http.StatusInternalServerError {
		s.log.WithContext(c.Request().Context()).Error("Request failed",
			"method", c.Request().Method, "path", c.Path(), "status", status, "error", err)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, map[string]string{"error": msg})
	}
	if err != nil {
		s.log.Warn("Failed to write error response", "error", err)
	}
}

func (s *Server) logRequest(c echo.Context, v middleware.RequestLoggerValues) error {
	level := slog.LevelInfo
	switch {
	case v.Status >= http.StatusInternalServerError:
		level = slog.LevelError
	case v.Status >= http.StatusBadRequest:
		level = slog.LevelWarn
	}
	attrs := []slog.Attr{
		slog.String("method", v.Method),
		slog.String("uri", v.URI),
		slog.Int("status", v.Status),
		slog.Duration("latency", v.Latency),
		slog.String("remote_ip", v.RemoteIP),
		slog.String("request_id", v.RequestID),
	}
	if v.Error != nil {
		attrs = append(attrs, slog.String("error", v.Error.Error()))
	}
	s.log.LogAttrs(c.Request().Context(), level, "request", attrs...)
	return nil
}

// webhookLimiter caps inbound webhook calls per client IP.
func (s *Server) webhookLimiter() echo.MiddlewareFunc {
	rps, burst := s.deps.WebhookRPS, s.deps.WebhookBurst
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = 20
	}
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(rps),
			Burst:     burst,
			ExpiresIn: 3 * time.Minute,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return apperr.New(apperr.KindForbidden, "Unable to identify client")
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return echo.NewHTTPError(http.StatusTooManyRequests, "Too many requests")
		},
	})
}

func (s *Server) handleSignup(c echo.Context) error {
	var req auth.SignupRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	resp, err := s.deps.Auth.Signup(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleLogin(c echo.Context) error {
	var req auth.LoginRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	resp, err := s.deps.Auth.Login(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// bindValid decodes the request body into dst and runs struct validation.
func bindValid(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return apperr.BadRequest("Invalid request body")
	}
	if err := c.Validate(dst); err != nil {
		return apperr.Validation(err.Error())
	}
	return nil
}

func paramID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.BadRequest("Invalid ID")
	}
	return id, nil
}
