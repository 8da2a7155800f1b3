package db

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/david/govbid-leads/internal/models"
)

// CreateOperator inserts an operator. An email already registered yields
// ErrDuplicate.
func (s *Store) CreateOperator(ctx context.Context, email, passwordHash string) (*models.Operator, error) {
	op := models.Operator{Email: strings.ToLower(strings.TrimSpace(email))}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO operators (email, password_hash)
		VALUES ($1, $2)
		ON CONFLICT (email) DO NOTHING
		RETURNING id, created_at`, op.Email, passwordHash,
	).Scan(&op.ID, &op.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, err
	}
	return &op, nil
}

func (s *Store) GetOperatorByEmail(ctx context.Context, email string) (*models.Operator, error) {
	var op models.Operator
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, created_at FROM operators WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email)),
	).Scan(&op.ID, &op.Email, &op.PasswordHash, &op.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &op, nil
}
