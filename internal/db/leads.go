package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/david/govbid-leads/internal/models"
)

const leadCols = `l.id, l.opportunity_id, l.status, l.origin,
	COALESCE(l.business_name, ''), COALESCE(l.business_page_id, ''), COALESCE(l.facebook_page_url, ''),
	COALESCE(l.business_phone, ''), COALESCE(l.recipient_id, ''), l.azure_devops_work_item_id,
	l.analyzed_for_learning, l.created_at, l.last_updated_at`

func scanLead(scan func(dest ...interface{}) error, withOpportunity bool) (models.Lead, error) {
	var l models.Lead
	var status, origin string
	dest := []interface{}{
		&l.ID, &l.OpportunityID, &status, &origin,
		&l.BusinessName, &l.BusinessPageID, &l.BusinessPageURL,
		&l.BusinessPhone, &l.RecipientID, &l.WorkItemID,
		&l.AnalyzedForLearning, &l.CreatedAt, &l.LastUpdatedAt,
	}
	var o models.Opportunity
	if withOpportunity {
		dest = append(dest, &o.ID, &o.ExternalID, &o.Title, &o.Agency, &o.URL, &o.PostedDate,
			&o.NAICSCode, &o.PSCCode, &o.Description, &o.CreatedAt)
	}
	if err := scan(dest...); err != nil {
		return l, err
	}
	l.Status = models.LeadStatus(status)
	l.Origin = models.LeadOrigin(origin)
	if withOpportunity {
		l.Opportunity = &o
	}
	return l, nil
}

// CreateLead inserts l as given; comment and manual leads use this path.
func (s *Store) CreateLead(ctx context.Context, l *models.Lead) error {
	if l.Status == "" {
		l.Status = models.StatusIdentified
	}
	if l.Origin == "" {
		l.Origin = models.OriginManual
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO leads (opportunity_id, status, origin, business_name, business_page_id, facebook_page_url, business_phone, recipient_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, last_updated_at`,
		l.OpportunityID, string(l.Status), string(l.Origin),
		nilIfEmpty(l.BusinessName), nilIfEmpty(l.BusinessPageID), nilIfEmpty(l.BusinessPageURL),
		nilIfEmpty(l.BusinessPhone), nilIfEmpty(l.RecipientID),
	).Scan(&l.ID, &l.CreatedAt, &l.LastUpdatedAt)
	if err != nil {
		return fmt.Errorf("insert lead: %w", err)
	}
	return nil
}

// EnsurePlaceholderLead creates an Identified lead for the opportunity unless
// a non-comment lead already exists for it. The unique partial index makes
// concurrent sweeps converge on one row.
func (s *Store) EnsurePlaceholderLead(ctx context.Context, opportunityID uuid.UUID, origin models.LeadOrigin) (*models.Lead, bool, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO leads (opportunity_id, status, origin)
		VALUES ($1, $2, $3)
		ON CONFLICT (opportunity_id) WHERE origin <> 'comment' DO NOTHING
		RETURNING id`, opportunityID, string(models.StatusIdentified), string(origin)).Scan(&id)
	created := true
	if errors.Is(err, pgx.ErrNoRows) {
		created = false
		err = s.pool.QueryRow(ctx,
			"SELECT id FROM leads WHERE opportunity_id = $1 AND origin <> 'comment'", opportunityID).Scan(&id)
	}
	if err != nil {
		return nil, false, fmt.Errorf("ensure placeholder lead: %w", err)
	}
	l, err := s.GetLead(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return l, created, nil
}

func (s *Store) GetLead(ctx context.Context, id uuid.UUID) (*models.Lead, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+leadCols+`, `+opportunityCols+`
		FROM leads l JOIN opportunities o ON o.id = l.opportunity_id
		WHERE l.id = $1`, id)
	l, err := scanLead(row.Scan, true)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// LeadFilter narrows ListLeads. Zero values mean no filter.
type LeadFilter struct {
	Status models.LeadStatus
	Limit  int
	Offset int
}

func (s *Store) ListLeads(ctx context.Context, f LeadFilter) ([]models.Lead, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args := []interface{}{limit, f.Offset}
	where := ""
	if f.Status != "" {
		where = "WHERE l.status = $3"
		args = append(args, string(f.Status))
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+leadCols+`, `+opportunityCols+`
		FROM leads l JOIN opportunities o ON o.id = l.opportunity_id
		`+where+`
		ORDER BY l.last_updated_at DESC
		LIMIT $1 OFFSET $2`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLeads(rows, true)
}

// ListLeadsByStatus returns the oldest leads in status first.
func (s *Store) ListLeadsByStatus(ctx context.Context, status models.LeadStatus, limit int) ([]models.Lead, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+leadCols+`, `+opportunityCols+`
		FROM leads l JOIN opportunities o ON o.id = l.opportunity_id
		WHERE l.status = $1
		ORDER BY l.last_updated_at ASC
		LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLeads(rows, true)
}

// CountLeadsByStatus returns the number of leads per status.
func (s *Store) CountLeadsByStatus(ctx context.Context) (map[models.LeadStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM leads GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.LeadStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[models.LeadStatus(status)] = n
	}
	return counts, rows.Err()
}

// LeadExistsForExternalID reports whether any lead references the
// opportunity with the given SAM id.
func (s *Store) LeadExistsForExternalID(ctx context.Context, externalID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM leads l JOIN opportunities o ON o.id = l.opportunity_id
			WHERE o.external_id = $1)`, externalID).Scan(&exists)
	return exists, err
}

// FindOpenLeadByRecipient returns the most recently updated lead that
// messages recipientID, skipping disqualified ones.
func (s *Store) FindOpenLeadByRecipient(ctx context.Context, recipientID string) (*models.Lead, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+leadCols+`, `+opportunityCols+`
		FROM leads l JOIN opportunities o ON o.id = l.opportunity_id
		WHERE l.recipient_id = $1 AND l.status <> $2
		ORDER BY l.last_updated_at DESC
		LIMIT 1`, recipientID, string(models.StatusDisqualified))
	l, err := scanLead(row.Scan, true)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// UpdateLeadStatus moves a lead from expected to next in one conditional
// statement. Non-empty business fields are written in the same statement.
// ErrStatusChanged means no row had id and status = expected.
func (s *Store) UpdateLeadStatus(ctx context.Context, id uuid.UUID, expected, next models.LeadStatus, business *models.BusinessFields) error {
	return updateLeadStatus(ctx, s.pool, id, expected, next, business)
}

func updateLeadStatus(ctx context.Context, q querier, id uuid.UUID, expected, next models.LeadStatus, business *models.BusinessFields) error {
	var b models.BusinessFields
	if business != nil {
		b = *business
	}
	tag, err := q.Exec(ctx, `
		UPDATE leads SET
			status = $3,
			last_updated_at = NOW(),
			business_name = COALESCE($4, business_name),
			business_page_id = COALESCE($5, business_page_id),
			facebook_page_url = COALESCE($6, facebook_page_url),
			business_phone = COALESCE($7, business_phone),
			recipient_id = COALESCE($8, recipient_id)
		WHERE id = $1 AND status = $2`,
		id, string(expected), string(next),
		nilIfEmpty(b.Name), nilIfEmpty(b.PageID), nilIfEmpty(b.PageURL), nilIfEmpty(b.Phone), nilIfEmpty(b.PageID),
	)
	if err != nil {
		return fmt.Errorf("update lead status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusChanged
	}
	return nil
}

func (s *Store) SetWorkItemID(ctx context.Context, leadID uuid.UUID, workItemID int) error {
	_, err := s.pool.Exec(ctx, "UPDATE leads SET azure_devops_work_item_id = $2 WHERE id = $1", leadID, workItemID)
	return err
}

// ListUnanalyzedLeads returns leads in one of statuses that have a transcript
// and no learning yet.
func (s *Store) ListUnanalyzedLeads(ctx context.Context, statuses []models.LeadStatus, limit int) ([]models.Lead, error) {
	if limit <= 0 {
		limit = 50
	}
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+leadCols+`
		FROM leads l
		WHERE l.status = ANY($1) AND l.analyzed_for_learning = FALSE
		  AND EXISTS (SELECT 1 FROM conversation_logs c WHERE c.lead_id = l.id)
		ORDER BY l.last_updated_at ASC
		LIMIT $2`, names, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLeads(rows, false)
}

func collectLeads(rows pgx.Rows, withOpportunity bool) ([]models.Lead, error) {
	var leads []models.Lead
	for rows.Next() {
		l, err := scanLead(rows.Scan, withOpportunity)
		if err != nil {
			return nil, err
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}
