package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// LeadStatus is an element of the lead lifecycle vocabulary.
type LeadStatus string

const (
	StatusIdentified         LeadStatus = "Identified"
	StatusProspected         LeadStatus = "Prospected"
	StatusEngaged            LeadStatus = "Engaged"
	StatusMessaged           LeadStatus = "Messaged"
	StatusAppointmentOffered LeadStatus = "Appointment Offered"
	StatusAppointmentSet     LeadStatus = "Appointment Set"
	StatusProspectingFailed  LeadStatus = "Prospecting Failed"
	StatusEngagementFailed   LeadStatus = "Engagement Failed"
	StatusDisqualified       LeadStatus = "Disqualified"
	StatusNoShowFollowUp     LeadStatus = "No-Show Follow-up"
)

// AllStatuses lists the vocabulary in lifecycle order.
var AllStatuses = []LeadStatus{
	StatusIdentified,
	StatusProspected,
	StatusEngaged,
	StatusMessaged,
	StatusAppointmentOffered,
	StatusAppointmentSet,
	StatusProspectingFailed,
	StatusEngagementFailed,
	StatusDisqualified,
	StatusNoShowFollowUp,
}

// ParseLeadStatus matches s case-insensitively against the vocabulary.
func ParseLeadStatus(s string) (LeadStatus, bool) {
	for _, st := range AllStatuses {
		if strings.EqualFold(string(st), strings.TrimSpace(s)) {
			return st, true
		}
	}
	return "", false
}

// LeadOrigin records how a lead entered the pipeline.
type LeadOrigin string

const (
	OriginSweep   LeadOrigin = "sweep"
	OriginManual  LeadOrigin = "manual"
	OriginComment LeadOrigin = "comment"
)

type Lead struct {
	ID                  uuid.UUID    `json:"id"`
	OpportunityID       uuid.UUID    `json:"opportunity_id"`
	Status              LeadStatus   `json:"status"`
	Origin              LeadOrigin   `json:"origin"`
	BusinessName        string       `json:"business_name,omitempty"`
	BusinessPageID      string       `json:"business_page_id,omitempty"`
	BusinessPageURL     string       `json:"facebook_page_url,omitempty"`
	BusinessPhone       string       `json:"business_phone,omitempty"`
	RecipientID         string       `json:"recipient_id,omitempty"`
	WorkItemID          *int         `json:"azure_devops_work_item_id,omitempty"`
	AnalyzedForLearning bool         `json:"analyzed_for_learning"`
	CreatedAt           time.Time    `json:"created_at"`
	LastUpdatedAt       time.Time    `json:"last_updated_at"`
	Opportunity         *Opportunity `json:"opportunity,omitempty"`
}

// BusinessFields carries the matcher output written alongside a status change.
type BusinessFields struct {
	Name    string
	PageID  string
	PageURL string
	Phone   string
}
