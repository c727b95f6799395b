package models

import (
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"
)

var (
	// ErrValidation marks a precondition the caller should have checked; it is never surfaced.
	ErrValidation      = errors.New("validation failed")
	ErrNotOpen         = errors.New("live channel is not open")
	ErrHistoryNotFound = errors.New("history not found")
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
)

// TransportError reports a channel that failed to open or closed abnormally.
type TransportError struct {
	RoomID string
	Code   int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport error in room %s (code %d): %v", e.RoomID, e.Code, e.Err)
	}
	return fmt.Sprintf("transport error in room %s (code %d)", e.RoomID, e.Code)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError reports an inbound payload that is not in a recognized shape.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unrecognized payload %q: %v", truncate(e.Raw, 64), e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// DeliveryError reports a message that could not be sent on any path.
type DeliveryError struct {
	RoomID string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("failed to deliver message to room %s: %v", e.RoomID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// HTTPError carries a non-2xx response from the request/response service.
type HTTPError struct {
	StatusCode int
	Detail     string
}

func (e *HTTPError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("unexpected status code %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("unexpected status code %d", e.StatusCode)
}

// Is lets callers test HTTP failures against the sentinels.
func (e *HTTPError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	}
	return false
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
