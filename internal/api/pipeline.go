package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/david/govbid-leads/internal/apperr"
	"github.com/david/govbid-leads/internal/models"
)

// handleRunOpportunityPipeline fetches SAM.gov postings synchronously and
// reports what was stored.
func (s *Server) handleRunOpportunityPipeline(c echo.Context) error {
	stats, err := s.deps.Pipeline.Ingest(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"message":                 "Opportunity pipeline run complete.",
		"new_opportunities_added": stats.Inserted,
		"new_leads_created":       stats.LeadsCreated,
	})
}

// jobHandler starts fn in the background and returns 202 with a poll URL.
// Only one job runs at a time.
func (s *Server) jobHandler(name string, fn func(context.Context) (any, error)) echo.HandlerFunc {
	return func(c echo.Context) error {
		s.jobMu.Lock()
		if s.runningJob != nil && s.runningJob.Status == "running" {
			job := s.runningJob
			s.jobMu.Unlock()
			return c.JSON(http.StatusConflict, map[string]interface{}{
				"error":  fmt.Sprintf("A %s job is already running", job.Name),
				"job_id": job.ID,
			})
		}

		// context.WithoutCancel detaches from the request but keeps the
		// request id for logging.
		jobCtx, jobCancel := context.WithTimeout(
			context.WithoutCancel(c.Request().Context()), s.deps.JobTimeout,
		)

		job := &backgroundJob{
			ID:        uuid.New().String()[:8],
			Name:      name,
			Status:    "running",
			StartedAt: time.Now(),
			Cancel:    jobCancel,
		}
		s.runningJob = job
		s.jobMu.Unlock()

		log := s.log.WithContext(jobCtx).With("job", name, "job_id", job.ID)
		go func() {
			defer jobCancel()
			result, err := fn(jobCtx)

			s.jobMu.Lock()
			job.EndedAt = time.Now()
			job.Result = result
			if err != nil {
				job.Status = "failed"
				job.Error = err.Error()
			} else {
				job.Status = "completed"
			}
			s.jobMu.Unlock()

			if err != nil {
				log.Error("Background job failed", "error", err)
				return
			}
			log.Info("Background job completed", "duration", job.EndedAt.Sub(job.StartedAt).String())
		}()

		return c.JSON(http.StatusAccepted, map[string]interface{}{
			"message": fmt.Sprintf("%s job started", name),
			"job_id":  job.ID,
			"poll":    fmt.Sprintf("/api/v1/pipeline/jobs/%s", job.ID),
		})
	}
}

func (s *Server) handleJobStatus(c echo.Context) error {
	queried := c.Param("id")

	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	job := s.runningJob
	if job == nil || job.ID != queried {
		return apperr.NotFound("job not found")
	}

	resp := map[string]interface{}{
		"id":         job.ID,
		"name":       job.Name,
		"status":     job.Status,
		"started_at": job.StartedAt,
	}
	if !job.EndedAt.IsZero() {
		resp["ended_at"] = job.EndedAt
		resp["duration"] = job.EndedAt.Sub(job.StartedAt).String()
	}
	if job.Result != nil {
		resp["result"] = job.Result
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListRuns(c echo.Context) error {
	limit, _ := pageParams(c, 20, 200)
	runs, err := s.deps.Store.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	if runs == nil {
		runs = []models.PipelineRun{}
	}
	return c.JSON(http.StatusOK, runs)
}
