package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/david/govbid-leads/internal/models"
)

const appointmentCols = `id, lead_id, title, start_time, end_time, status, external_event_id, attended_at, created_at`

func scanAppointment(scan func(dest ...interface{}) error) (models.Appointment, error) {
	var a models.Appointment
	var status string
	err := scan(&a.ID, &a.LeadID, &a.Title, &a.StartTime, &a.EndTime, &status, &a.ExternalEventID, &a.AttendedAt, &a.CreatedAt)
	a.Status = models.AppointmentStatus(status)
	return a, err
}

// ReplaceSlotOffers stores the slots most recently offered to a lead,
// numbered from 1, dropping any earlier offer.
func (s *Store) ReplaceSlotOffers(ctx context.Context, leadID uuid.UUID, slots []models.Slot) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "DELETE FROM slot_offers WHERE lead_id = $1", leadID); err != nil {
			return err
		}
		for i, slot := range slots {
			if _, err := tx.Exec(ctx, `
				INSERT INTO slot_offers (lead_id, position, start_time, end_time)
				VALUES ($1, $2, $3, $4)`, leadID, i+1, slot.Start, slot.End); err != nil {
				return fmt.Errorf("insert slot offer: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) ListSlotOffers(ctx context.Context, leadID uuid.UUID) ([]models.SlotOffer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT lead_id, position, start_time, end_time
		FROM slot_offers WHERE lead_id = $1 ORDER BY position`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var offers []models.SlotOffer
	for rows.Next() {
		var o models.SlotOffer
		if err := rows.Scan(&o.LeadID, &o.Position, &o.Start, &o.End); err != nil {
			return nil, err
		}
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

// BookAppointment inserts a confirmed appointment and moves the lead from
// expected to next in one transaction. Nothing is written when the lead is
// no longer in expected.
func (s *Store) BookAppointment(ctx context.Context, a *models.Appointment, expected, next models.LeadStatus) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := updateLeadStatus(ctx, tx, a.LeadID, expected, next, nil); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, "DELETE FROM slot_offers WHERE lead_id = $1", a.LeadID); err != nil {
			return err
		}
		return tx.QueryRow(ctx, `
			INSERT INTO appointments (lead_id, title, start_time, end_time, status, external_event_id)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, created_at`,
			a.LeadID, a.Title, a.StartTime, a.EndTime, string(a.Status), a.ExternalEventID,
		).Scan(&a.ID, &a.CreatedAt)
	})
}

// CloseAppointment sets a confirmed appointment to status (cancelled or
// no-show) and moves its lead from expected to next in one transaction.
func (s *Store) CloseAppointment(ctx context.Context, appointmentID uuid.UUID, status models.AppointmentStatus, expected, next models.LeadStatus) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var leadID uuid.UUID
		err := tx.QueryRow(ctx, `
			UPDATE appointments SET status = $2
			WHERE id = $1 AND status = 'confirmed'
			RETURNING lead_id`, appointmentID, string(status)).Scan(&leadID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrStatusChanged
		}
		if err != nil {
			return err
		}
		return updateLeadStatus(ctx, tx, leadID, expected, next, nil)
	})
}

func (s *Store) GetAppointment(ctx context.Context, id uuid.UUID) (*models.Appointment, error) {
	a, err := scanAppointment(s.pool.QueryRow(ctx, "SELECT "+appointmentCols+" FROM appointments WHERE id = $1", id).Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ActiveAppointment returns the lead's confirmed appointment.
func (s *Store) ActiveAppointment(ctx context.Context, leadID uuid.UUID) (*models.Appointment, error) {
	a, err := scanAppointment(s.pool.QueryRow(ctx, `
		SELECT `+appointmentCols+` FROM appointments
		WHERE lead_id = $1 AND status = 'confirmed'
		ORDER BY start_time DESC LIMIT 1`, leadID).Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) ListAppointments(ctx context.Context, leadID uuid.UUID) ([]models.Appointment, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+appointmentCols+" FROM appointments WHERE lead_id = $1 ORDER BY start_time", leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func (s *Store) MarkAttended(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE appointments SET attended_at = $2
		WHERE id = $1 AND status = 'confirmed' AND attended_at IS NULL`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusChanged
	}
	return nil
}

// ListNoShowCandidates returns confirmed, unattended appointments that ended
// before cutoff.
func (s *Store) ListNoShowCandidates(ctx context.Context, cutoff time.Time, limit int) ([]models.Appointment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+appointmentCols+` FROM appointments
		WHERE status = 'confirmed' AND attended_at IS NULL AND end_time < $1
		ORDER BY end_time ASC
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func collectAppointments(rows pgx.Rows) ([]models.Appointment, error) {
	var out []models.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
