package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/david/govbid-leads/internal/models"
)

type offerResponse struct {
	Lead  *models.Lead  `json:"lead"`
	Slots []models.Slot `json:"slots"`
}

type bookRequest struct {
	Start time.Time `json:"start" validate:"required"`
}

func (s *Server) handleAvailability(c echo.Context) error {
	slots, err := s.deps.Booking.Availability(c.Request().Context())
	if err != nil {
		return err
	}
	if slots == nil {
		slots = []models.Slot{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"slots": slots})
}

func (s *Server) handleOfferSlots(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	l, slots, err := s.deps.Booking.Offer(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, offerResponse{Lead: l, Slots: slots})
}

func (s *Server) handleBookAppointment(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req bookRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	appt, err := s.deps.Booking.Book(c.Request().Context(), id, req.Start)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, appt)
}

// handleCancelAppointment cancels the booking and re-offers fresh slots.
func (s *Server) handleCancelAppointment(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	l, slots, err := s.deps.Booking.CancelAppointment(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, offerResponse{Lead: l, Slots: slots})
}

func (s *Server) handleMarkAttended(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	appt, err := s.deps.Booking.MarkAttended(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, appt)
}
