package auth

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/david/govbid-leads/internal/apperr"
)

type contextKey string

const OperatorIDKey contextKey = "operator_id"

// Middleware validates the bearer JWT and stores the operator id on the
// echo context.
func (s *Service) Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, ok := bearer(c)
		if !ok {
			return apperr.Unauthorized("Missing or malformed Authorization header")
		}
		id, err := s.ParseToken(token)
		if err != nil {
			return err
		}
		c.Set(string(OperatorIDKey), id)
		return next(c)
	}
}

// OperatorID returns the id stored by Middleware.
func OperatorID(c echo.Context) (uuid.UUID, error) {
	id, ok := c.Get(string(OperatorIDKey)).(uuid.UUID)
	if !ok {
		return uuid.Nil, errors.New("operator ID not found in context")
	}
	return id, nil
}

// AdminMiddleware accepts the shared admin secret in X-Admin-Secret or as a
// bearer token. An empty secret disables the admin routes.
func AdminMiddleware(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if secret == "" {
				return apperr.Unauthorized("Admin access is not configured")
			}
			given := c.Request().Header.Get("X-Admin-Secret")
			if given == "" {
				given, _ = bearer(c)
			}
			if subtle.ConstantTimeCompare([]byte(given), []byte(secret)) != 1 {
				return apperr.Unauthorized("Invalid admin secret")
			}
			return next(c)
		}
	}
}

func bearer(c echo.Context) (string, bool) {
	parts := strings.SplitN(c.Request().Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
