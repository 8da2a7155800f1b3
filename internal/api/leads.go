package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/david/govbid-leads/internal/apperr"
	"github.com/david/govbid-leads/internal/db"
	"github.com/david/govbid-leads/internal/lead"
	"github.com/david/govbid-leads/internal/models"
)

type leadDetail struct {
	*models.Lead
	Conversation []models.ConversationLogEntry `json:"conversation"`
	Appointments []models.Appointment          `json:"appointments"`
}

type transitionRequest struct {
	Operation string `json:"operation" validate:"required"`
}

// pageParams reads limit/offset query params, keeping defaults for invalid
// values.
func pageParams(c echo.Context, defLimit, maxLimit int) (limit, offset int) {
	limit = defLimit
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 && l <= maxLimit {
		limit = l
	}
	if o, err := strconv.Atoi(c.QueryParam("offset")); err == nil && o >= 0 {
		offset = o
	}
	return limit, offset
}

func (s *Server) handleListLeads(c echo.Context) error {
	limit, offset := pageParams(c, 50, 200)
	filter := db.LeadFilter{Limit: limit, Offset: offset}
	if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
		st, ok := models.ParseLeadStatus(raw)
		if !ok {
			return apperr.Validation(fmt.Sprintf("Unknown status %q", raw))
		}
		filter.Status = st
	}

	leads, err := s.deps.Store.ListLeads(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	if leads == nil {
		leads = []models.Lead{}
	}
	return c.JSON(http.StatusOK, leads)
}

func (s *Server) handleGetLead(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	l, err := s.deps.Leads.Get(ctx, id)
	if err != nil {
		return err
	}
	convo, err := s.deps.Store.ListConversation(ctx, id)
	if err != nil {
		return err
	}
	appts, err := s.deps.Store.ListAppointments(ctx, id)
	if err != nil {
		return err
	}
	if convo == nil {
		convo = []models.ConversationLogEntry{}
	}
	if appts == nil {
		appts = []models.Appointment{}
	}
	return c.JSON(http.StatusOK, leadDetail{Lead: l, Conversation: convo, Appointments: appts})
}

func (s *Server) handleCreateLead(c echo.Context) error {
	var in lead.CreateInput
	if err := bindValid(c, &in); err != nil {
		return err
	}
	l, err := s.deps.Leads.Create(c.Request().Context(), in)
	if err != nil {
		return err
	}

	resp := map[string]interface{}{
		"message": "Lead created successfully.",
		"lead_id": l.ID,
	}
	if l.WorkItemID != nil {
		resp["message"] = "Lead and Azure DevOps work item created successfully."
		resp["azure_devops_work_item_id"] = *l.WorkItemID
	}
	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleProspectLead(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	l, err := s.deps.Prospector.ProspectOne(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Lead successfully prospected.",
		"lead":    l,
	})
}

func (s *Server) handleInitiateConversation(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	l, err := s.deps.Conversations.Initiate(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Conversation initiated.",
		"lead":    l,
	})
}

// handleTransitionLead applies a named operation from the transition table.
func (s *Server) handleTransitionLead(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req transitionRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	op, ok := lead.ParseOperation(strings.TrimSpace(req.Operation))
	if !ok {
		return apperr.Validation(fmt.Sprintf("Unknown operation %q", req.Operation))
	}

	l, err := s.deps.Leads.Transition(c.Request().Context(), id, op, nil)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, l)
}

func (s *Server) handleListOpportunities(c echo.Context) error {
	limit, offset := pageParams(c, 20, 100)
	opps, err := s.deps.Store.ListAvailableOpportunities(c.Request().Context(), limit, offset)
	if err != nil {
		return err
	}
	if opps == nil {
		opps = []models.Opportunity{}
	}
	return c.JSON(http.StatusOK, opps)
}

func (s *Server) handleListLearnings(c echo.Context) error {
	limit, _ := pageParams(c, 50, 500)
	learnings, err := s.deps.Store.ListLearnings(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	if learnings == nil {
		learnings = []models.Learning{}
	}
	return c.JSON(http.StatusOK, learnings)
}
