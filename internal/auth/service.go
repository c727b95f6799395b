package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chat-sync/internal/models"
	"chat-sync/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
)

// Authenticator performs the credential exchange against the server.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (string, error)
	Register(ctx context.Context, username, password string) error
}

// Claims are the fields the client reads from an access token.
type Claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

type Service struct {
	api Authenticator
	now func() time.Time
}

func NewService(api Authenticator) *Service {
	return &Service{
		api: api,
		now: time.Now,
	}
}

func (s *Service) Register(ctx context.Context, username, password, confirm string) error {
	username = strings.TrimSpace(username)
	if err := validateCredentials(username, password); err != nil {
		return err
	}
	if password != confirm {
		return fmt.Errorf("passwords do not match: %w", models.ErrValidation)
	}
	if err := s.api.Register(ctx, username, password); err != nil {
		return err
	}
	logger.Info("Registered user %s", username)
	return nil
}

// Login exchanges credentials for a session.
func (s *Service) Login(ctx context.Context, username, password string) (models.Session, error) {
	username = strings.TrimSpace(username)
	if err := validateCredentials(username, password); err != nil {
		return models.Session{}, err
	}
	token, err := s.api.Login(ctx, username, password)
	if err != nil {
		return models.Session{}, err
	}
	sess, err := s.Resume(token, username)
	if err != nil {
		return models.Session{}, err
	}
	logger.Info("Logged in as %s", sess.Username)
	return sess, nil
}

// Resume builds a session from a token obtained earlier. An expired token
// is rejected before any connection is attempted.
func (s *Service) Resume(token, username string) (models.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return models.Session{}, fmt.Errorf("no token: %w", models.ErrValidation)
	}

	sess := models.Session{Username: username, Token: token}
	claims, err := ParseToken(token)
	if err != nil {
		logger.Debug("Token is not a readable JWT, skipping expiry check: %v", err)
	} else {
		if sess.Username == "" {
			sess.Username = claims.Username
		}
		if sess.Username == "" {
			sess.Username = claims.Subject
		}
		if claims.ExpiresAt != nil {
			sess.ExpiresAt = claims.ExpiresAt.Time
		}
	}

	if sess.Expired(s.now()) {
		return models.Session{}, fmt.Errorf("token expired at %s: %w", sess.ExpiresAt.Format(time.RFC3339), models.ErrUnauthorized)
	}
	if sess.Username == "" {
		return models.Session{}, fmt.Errorf("token carries no username and none was given: %w", models.ErrValidation)
	}
	return sess, nil
}

// ParseToken reads the token's claims without verifying the signature; the
// client holds no key and the server remains the authority.
func ParseToken(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	return claims, nil
}

func validateCredentials(username, password string) error {
	if username == "" {
		return fmt.Errorf("username is required: %w", models.ErrValidation)
	}
	if password == "" {
		return fmt.Errorf("password is required: %w", models.ErrValidation)
	}
	return nil
}
