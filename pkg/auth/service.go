package auth

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Common authentication errors.
var (
	ErrMissingAuthorization = errors.New("missing authorization")
	ErrInvalidAuthFormat    = errors.New("invalid authorization header format")
)

// AuthService extracts and validates the bearer token of a request.
type AuthService interface {
	// ValidateRequest reads the Authorization header ("Bearer <token>") and
	// returns the validated claims with the raw token.
	ValidateRequest(r *http.Request) (*Claims, string, error)
}

type authService struct {
	validator TokenValidator
	logger    *zap.Logger
}

var _ AuthService = (*authService)(nil)

// NewAuthService creates a new AuthService backed by validator.
func NewAuthService(validator TokenValidator, logger *zap.Logger) AuthService {
	return &authService{
		validator: validator,
		logger:    logger.Named("auth"),
	}
}

func (s *authService) ValidateRequest(r *http.Request) (*Claims, string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		s.logger.Debug("No JWT found in request",
			zap.String("path", r.URL.Path),
			zap.String("method", r.Method))
		return nil, "", ErrMissingAuthorization
	}

	scheme, tokenString, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tokenString) == "" {
		s.logger.Debug("Invalid Authorization header format", zap.String("path", r.URL.Path))
		return nil, "", ErrInvalidAuthFormat
	}
	tokenString = strings.TrimSpace(tokenString)

	claims, err := s.validator.ValidateToken(r.Context(), tokenString)
	if err != nil {
		s.logger.Debug("JWT validation failed",
			zap.Error(err),
			zap.String("path", r.URL.Path))
		return nil, "", err
	}

	return claims, tokenString, nil
}
