package models

import (
	"time"

	"github.com/google/uuid"
)

type Sender string

const (
	SenderAI       Sender = "AI"
	SenderBusiness Sender = "Business"
)

// ConversationLogEntry is append-only; rows are never updated.
type ConversationLogEntry struct {
	ID        uuid.UUID `json:"id"`
	LeadID    uuid.UUID `json:"lead_id"`
	Sender    Sender    `json:"sender"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Learning summarizes one finished conversation.
type Learning struct {
	ID                  uuid.UUID  `json:"id"`
	LeadID              uuid.UUID  `json:"lead_id"`
	ConversationEntryID *uuid.UUID `json:"conversation_id,omitempty"`
	OutcomeTag          string     `json:"outcome_tag"`
	Summary             string     `json:"summary"`
	CreatedAt           time.Time  `json:"created_at"`
}
