package models

import (
	"time"

	"github.com/google/uuid"
)

// PipelineRun records one execution of a background job.
type PipelineRun struct {
	RunID       uuid.UUID  `json:"run_id"`
	Job         string     `json:"job"`
	Status      string     `json:"status"` // running, completed, failed
	ItemsFound  int        `json:"items_found"`
	ItemsSaved  int        `json:"items_saved"`
	Errors      int        `json:"errors"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Operator is a dashboard user.
type Operator struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
