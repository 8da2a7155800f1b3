package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/david/govbid-leads/internal/models"
)

var (
	// ErrNotFound is returned when a row lookup matches nothing.
	ErrNotFound = errors.New("not found")
	// ErrStatusChanged is returned by guarded updates when the row's current
	// status no longer equals the expected one.
	ErrStatusChanged = errors.New("status changed concurrently")
	// ErrDuplicate is returned when a unique key already exists.
	ErrDuplicate = errors.New("already exists")
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const opportunityCols = `o.id, o.external_id, o.title, o.agency, o.url, o.posted_date,
	COALESCE(o.naics_code, ''), COALESCE(o.psc_code, ''), COALESCE(o.description, ''), o.created_at`

func scanOpportunity(scan func(dest ...interface{}) error) (models.Opportunity, error) {
	var o models.Opportunity
	err := scan(&o.ID, &o.ExternalID, &o.Title, &o.Agency, &o.URL, &o.PostedDate,
		&o.NAICSCode, &o.PSCCode, &o.Description, &o.CreatedAt)
	return o, err
}

// InsertOpportunity stores o unless a row with the same external id exists.
// Either way o.ID is filled in; inserted reports whether this call created it.
func (s *Store) InsertOpportunity(ctx context.Context, o *models.Opportunity) (bool, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO opportunities (external_id, title, agency, url, posted_date, naics_code, psc_code, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (external_id) DO NOTHING
		RETURNING id, created_at`,
		o.ExternalID, o.Title, o.Agency, o.URL, o.PostedDate,
		nilIfEmpty(o.NAICSCode), nilIfEmpty(o.PSCCode), nilIfEmpty(o.Description),
	).Scan(&o.ID, &o.CreatedAt)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("insert opportunity %s: %w", o.ExternalID, err)
	}

	existing, err := s.GetOpportunityByExternalID(ctx, o.ExternalID)
	if err != nil {
		return false, err
	}
	o.ID = existing.ID
	o.CreatedAt = existing.CreatedAt
	return false, nil
}

func (s *Store) GetOpportunity(ctx context.Context, id uuid.UUID) (*models.Opportunity, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+opportunityCols+" FROM opportunities o WHERE o.id = $1", id)
	o, err := scanOpportunity(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) GetOpportunityByExternalID(ctx context.Context, externalID string) (*models.Opportunity, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+opportunityCols+" FROM opportunities o WHERE o.external_id = $1", externalID)
	o, err := scanOpportunity(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ListAvailableOpportunities returns opportunities that have no lead yet,
// newest posting first.
func (s *Store) ListAvailableOpportunities(ctx context.Context, limit, offset int) ([]models.Opportunity, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+opportunityCols+`
		FROM opportunities o
		WHERE NOT EXISTS (SELECT 1 FROM leads l WHERE l.opportunity_id = o.id)
		ORDER BY o.posted_date DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var opps []models.Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows.Scan)
		if err != nil {
			return nil, err
		}
		opps = append(opps, o)
	}
	return opps, rows.Err()
}

// PromotionCandidate is an opportunity awaiting a business match. LeadID is
// set when an Identified placeholder lead already exists.
type PromotionCandidate struct {
	Opportunity models.Opportunity
	LeadID      *uuid.UUID
}

// CandidateCursor is the position of the last candidate of a page.
type CandidateCursor struct {
	PostedDate time.Time
	ID         uuid.UUID
}

// Cursor returns the position to continue listing after c.
func (c PromotionCandidate) Cursor() *CandidateCursor {
	return &CandidateCursor{PostedDate: c.Opportunity.PostedDate, ID: c.Opportunity.ID}
}

// ListPromotionCandidates returns opportunities without any lead plus those
// whose sweep/manual lead is still Identified, newest first. Pass the cursor
// of the previous page's last row as after to continue; nil starts over.
func (s *Store) ListPromotionCandidates(ctx context.Context, after *CandidateCursor, limit int) ([]PromotionCandidate, error) {
	if limit <= 0 {
		limit = 500
	}
	var cur CandidateCursor
	if after != nil {
		cur = *after
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+opportunityCols+`, l.id
		FROM opportunities o
		LEFT JOIN leads l ON l.opportunity_id = o.id AND l.origin <> 'comment'
		WHERE ((l.id IS NULL AND NOT EXISTS (SELECT 1 FROM leads c WHERE c.opportunity_id = o.id))
		       OR l.status = $1)
		  AND ($2::boolean OR (o.posted_date, o.id) < ($3::timestamptz, $4::uuid))
		ORDER BY o.posted_date DESC, o.id DESC
		LIMIT $5`, string(models.StatusIdentified), after == nil, cur.PostedDate, cur.ID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PromotionCandidate
	for rows.Next() {
		var c PromotionCandidate
		var leadID *uuid.UUID
		err := rows.Scan(&c.Opportunity.ID, &c.Opportunity.ExternalID, &c.Opportunity.Title, &c.Opportunity.Agency,
			&c.Opportunity.URL, &c.Opportunity.PostedDate, &c.Opportunity.NAICSCode, &c.Opportunity.PSCCode,
			&c.Opportunity.Description, &c.Opportunity.CreatedAt, &leadID)
		if err != nil {
			return nil, err
		}
		c.LeadID = leadID
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) SetOpportunityEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error {
	_, err := s.pool.Exec(ctx, "UPDATE opportunities SET embedding = $2 WHERE id = $1", id, pgvector.NewVector(embedding))
	return err
}

// SetOpportunityDescription fills the enrichment text once it is fetched.
func (s *Store) SetOpportunityDescription(ctx context.Context, id uuid.UUID, description string) error {
	_, err := s.pool.Exec(ctx, "UPDATE opportunities SET description = $2 WHERE id = $1", id, nilIfEmpty(description))
	return err
}

// NearestOpportunity returns the stored opportunity whose title embedding is
// closest (cosine distance) to embedding, provided it is within maxDistance.
func (s *Store) NearestOpportunity(ctx context.Context, embedding []float32, maxDistance float64) (*models.Opportunity, error) {
	vec := pgvector.NewVector(embedding)
	var distance float64
	var o models.Opportunity
	err := s.pool.QueryRow(ctx, `
		SELECT `+opportunityCols+`, o.embedding <=> $1 AS distance
		FROM opportunities o
		WHERE o.embedding IS NOT NULL AND vector_dims(o.embedding) = vector_dims($1)
		ORDER BY o.embedding <=> $1
		LIMIT 1`, vec).Scan(&o.ID, &o.ExternalID, &o.Title, &o.Agency, &o.URL, &o.PostedDate,
		&o.NAICSCode, &o.PSCCode, &o.Description, &o.CreatedAt, &distance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if distance > maxDistance {
		return nil, ErrNotFound
	}
	return &o, nil
}

func nilIfEmpty(s string) interface{} {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
