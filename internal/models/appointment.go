package models

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	AppointmentTentative AppointmentStatus = "tentative"
	AppointmentConfirmed AppointmentStatus = "confirmed"
	AppointmentCancelled AppointmentStatus = "cancelled"
	AppointmentNoShow    AppointmentStatus = "no-show"
)

type Appointment struct {
	ID              uuid.UUID         `json:"id"`
	LeadID          uuid.UUID         `json:"lead_id"`
	Title           string            `json:"title"`
	StartTime       time.Time         `json:"start_time"`
	EndTime         time.Time         `json:"end_time"`
	Status          AppointmentStatus `json:"status"`
	ExternalEventID string            `json:"external_event_id"`
	AttendedAt      *time.Time        `json:"attended_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Slot is a bookable calendar window.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// SlotOffer is a slot that was presented to a lead, numbered from 1.
type SlotOffer struct {
	LeadID   uuid.UUID `json:"lead_id"`
	Position int       `json:"position"`
	Slot
}
