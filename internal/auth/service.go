package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"taskdeck/internal/store"
)

// ErrUnauthorized is returned for any credential that fails validation.
// Callers map it to 401 without leaking which check failed.
var ErrUnauthorized = errors.New("unauthorized")

// Service validates the three credential kinds taskdeck accepts:
// session bearer tokens (end users), the shared service token
// (trusted services such as the agent), and HMAC service JWTs.
type Service struct {
	sessions     *store.SessionRepository
	serviceToken string
	jwtSecret    []byte
	log          *logrus.Logger
}

// NewService creates an authentication service backed by the session table.
func NewService(sessions *store.SessionRepository, serviceToken, jwtSecret string, log *logrus.Logger) *Service {
	return &Service{
		sessions:     sessions,
		serviceToken: serviceToken,
		jwtSecret:    []byte(jwtSecret),
		log:          log,
	}
}

// ValidateSessionToken resolves a session bearer token to its user.
func (s *Service) ValidateSessionToken(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	session, err := s.sessions.LookupToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("session lookup: %w", err)
	}
	return &User{ID: session.UserID}, nil
}

// ValidateServiceToken checks the shared secret presented by trusted
// services. Constant-time comparison; an unconfigured token rejects all.
func (s *Service) ValidateServiceToken(token string) bool {
	if s.serviceToken == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.serviceToken)) == 1
}

// GenerateServiceJWT issues a short-lived HMAC token identifying a service.
func (s *Service) GenerateServiceJWT(service string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := ServiceClaims{
		Service: service,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   service,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateServiceJWT verifies a service JWT and returns the service name.
func (s *Service) ValidateServiceJWT(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ServiceClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", ErrUnauthorized
	}
	claims, ok := token.Claims.(*ServiceClaims)
	if !ok || !token.Valid || claims.Service == "" {
		return "", ErrUnauthorized
	}
	return claims.Service, nil
}
