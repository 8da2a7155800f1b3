package db

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/david/govbid-leads/internal/models"
)

// InsertLearning stores the analysis and flags the lead as analyzed.
func (s *Store) InsertLearning(ctx context.Context, l *models.Learning) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO learnings (lead_id, conversation_id, outcome_tag, summary)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at`, l.LeadID, l.ConversationEntryID, l.OutcomeTag, l.Summary,
		).Scan(&l.ID, &l.CreatedAt)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, "UPDATE leads SET analyzed_for_learning = TRUE WHERE id = $1", l.LeadID)
		return err
	})
}

func (s *Store) ListLearnings(ctx context.Context, limit int) ([]models.Learning, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, lead_id, conversation_id, outcome_tag, summary, created_at
		FROM learnings ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Learning
	for rows.Next() {
		var l models.Learning
		if err := rows.Scan(&l.ID, &l.LeadID, &l.ConversationEntryID, &l.OutcomeTag, &l.Summary, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
