// Package auth signs operators up and in, and guards operator and admin
// routes.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/david/govbid-leads/internal/apperr"
	"github.com/david/govbid-leads/internal/db"
	"github.com/david/govbid-leads/internal/logger"
	"github.com/david/govbid-leads/internal/models"
)

const tokenTTL = 24 * time.Hour

type Store interface {
	CreateOperator(ctx context.Context, email, passwordHash string) (*models.Operator, error)
	GetOperatorByEmail(ctx context.Context, email string) (*models.Operator, error)
}

type SignupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type AuthResponse struct {
	Token    string          `json:"token"`
	Operator models.Operator `json:"operator"`
}

type Service struct {
	store  Store
	secret []byte
	now    func() time.Time
}

// NewService uses secret to sign tokens. An empty secret is replaced by a
// random one, so tokens do not survive a restart.
func NewService(store Store, secret string, log *logger.Logger) (*Service, error) {
	key := []byte(strings.TrimSpace(secret))
	if len(key) == 0 {
		buf := make([]byte, 48)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generate JWT fallback secret: %w", err)
		}
		key = []byte(base64.RawURLEncoding.EncodeToString(buf))
		log.Warn("JWT_SECRET is not set; using ephemeral in-memory fallback secret")
	}
	return &Service{store: store, secret: key, now: time.Now}, nil
}

func (s *Service) Signup(ctx context.Context, req SignupRequest) (*AuthResponse, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing failed: %w", err)
	}

	op, err := s.store.CreateOperator(ctx, req.Email, string(hash))
	if errors.Is(err, db.ErrDuplicate) {
		return nil, apperr.Conflict("An operator with this email already exists")
	}
	if err != nil {
		return nil, fmt.Errorf("create operator: %w", err)
	}

	token, err := s.generateToken(op.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{Token: token, Operator: *op}, nil
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	op, err := s.store.GetOperatorByEmail(ctx, req.Email)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.Unauthorized("Invalid email or password")
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(req.Password)); err != nil {
		return nil, apperr.Unauthorized("Invalid email or password")
	}

	token, err := s.generateToken(op.ID)
	if err != nil {
		return nil, err
	}
	op.PasswordHash = ""
	return &AuthResponse{Token: token, Operator: *op}, nil
}

func (s *Service) generateToken(operatorID uuid.UUID) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   operatorID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ParseToken validates a bearer token and returns the operator id it names.
func (s *Service) ParseToken(tokenString string) (uuid.UUID, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return uuid.Nil, apperr.Unauthorized("Invalid or expired token")
	}

	sub, err := token.Claims.GetSubject()
	if err != nil {
		return uuid.Nil, apperr.Unauthorized("Invalid token subject")
	}
	id, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, apperr.Unauthorized("Invalid operator ID in token")
	}
	return id, nil
}
