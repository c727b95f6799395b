package websocket

import (
	"fmt"
	"net/url"
	"strings"
)

// Endpoint derives the room's live channel URL from the request/response base address.
func Endpoint(baseURL, roomID, token string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q in base url", u.Scheme)
	}
	if roomID == "" {
		return "", fmt.Errorf("room id is required")
	}
	if u.Path == "" {
		u.Path = "/"
	}
	u = u.JoinPath("chat", "rooms", roomID, "ws")
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}
