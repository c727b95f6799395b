package models

import "time"

// Session is the explicit per-user context handed to every component
// instead of ambient lookups.
type Session struct {
	Username  string
	Token     string
	ExpiresAt time.Time
}

func (s Session) Authenticated() bool {
	return s.Token != ""
}

func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

type ConnectionStatus string

const (
	StatusIdle       ConnectionStatus = "idle"
	StatusConnecting ConnectionStatus = "connecting"
	StatusOpen       ConnectionStatus = "open"
	StatusClosed     ConnectionStatus = "closed"
)
