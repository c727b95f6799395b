package handlers

import (
	"context"
	"fmt"

	"chat-sync/internal/auth"
	"chat-sync/internal/config"
	"chat-sync/internal/models"
	"chat-sync/pkg/logger"
)

type AuthHandlers struct {
	authService *auth.Service
}

func NewAuthHandlers(authService *auth.Service) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
	}
}

// Authenticate resolves the startup session. A configured token is used as
// is; otherwise the username and password are exchanged, after registering
// the account first when register is set.
func (h *AuthHandlers) Authenticate(ctx context.Context, cfg config.SessionConfig, register bool) (models.Session, error) {
	if cfg.Token != "" {
		sess, err := h.authService.Resume(cfg.Token, cfg.Username)
		if err != nil {
			return models.Session{}, fmt.Errorf("stored token rejected: %w", err)
		}
		logger.Info("Using stored token for %s", sess.Username)
		return sess, nil
	}

	if register {
		if err := h.authService.Register(ctx, cfg.Username, cfg.Password, cfg.Password); err != nil {
			logger.Error("Registration error: %v", err)
			return models.Session{}, fmt.Errorf("registration failed: %w", err)
		}
	}

	sess, err := h.authService.Login(ctx, cfg.Username, cfg.Password)
	if err != nil {
		logger.Error("Login error: %v", err)
		return models.Session{}, fmt.Errorf("login failed: %w", err)
	}
	return sess, nil
}
