package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/david/govbid-leads/internal/models"
)

// AppendConversation adds one transcript entry. Entries are never updated.
func (s *Store) AppendConversation(ctx context.Context, leadID uuid.UUID, sender models.Sender, message string) (*models.ConversationLogEntry, error) {
	e := models.ConversationLogEntry{LeadID: leadID, Sender: sender, Message: message}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO conversation_logs (lead_id, sender, message)
		VALUES ($1, $2, $3)
		RETURNING id, timestamp`, leadID, string(sender), message).Scan(&e.ID, &e.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("append conversation: %w", err)
	}
	return &e, nil
}

// ListConversation returns the transcript for a lead in timestamp order.
func (s *Store) ListConversation(ctx context.Context, leadID uuid.UUID) ([]models.ConversationLogEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, lead_id, sender, message, timestamp
		FROM conversation_logs
		WHERE lead_id = $1
		ORDER BY timestamp ASC, id ASC`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.ConversationLogEntry
	for rows.Next() {
		var e models.ConversationLogEntry
		var sender string
		if err := rows.Scan(&e.ID, &e.LeadID, &sender, &e.Message, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Sender = models.Sender(sender)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
