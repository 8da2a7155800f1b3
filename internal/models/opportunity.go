package models

import (
	"time"

	"github.com/google/uuid"
)

// Opportunity is a government contract posting ingested from SAM.gov.
// ExternalID is the SAM notice id and is unique across the table.
type Opportunity struct {
	ID          uuid.UUID  `json:"id"`
	ExternalID  string     `json:"external_id"`
	Title       string     `json:"title"`
	Agency      string     `json:"agency"`
	URL         string     `json:"url"`
	PostedDate  time.Time  `json:"posted_date"`
	NAICSCode   string     `json:"naics_code,omitempty"`
	PSCCode     string     `json:"psc_code,omitempty"`
	Description string     `json:"description,omitempty"`
	Embedding   []float32  `json:"-"`
	CreatedAt   time.Time  `json:"created_at"`
	LeadID      *uuid.UUID `json:"lead_id,omitempty"`
}
