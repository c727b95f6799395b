package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"chat-sync/internal/ingest"
	"chat-sync/internal/models"
	"chat-sync/pkg/logger"
)

// Client talks to the chat server's request/response endpoints.
type Client struct {
	baseURL *url.URL
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported api url scheme %q", u.Scheme)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return &Client{
		baseURL: u,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Login exchanges a username and password for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	form := url.Values{
		"grant_type":    {""},
		"username":      {username},
		"password":      {password},
		"scope":         {""},
		"client_id":     {""},
		"client_secret": {""},
	}
	body, err := c.do(ctx, http.MethodPost, "", c.baseURL.JoinPath("auth", "token"),
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return "", fmt.Errorf("failed to log in: %w", err)
	}
	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token response has no access_token")
	}
	return tok.AccessToken, nil
}

func (c *Client) Register(ctx context.Context, username, password string) error {
	payload := map[string]string{"username": username, "password": password}
	if _, err := c.doJSON(ctx, http.MethodPost, "", c.baseURL.JoinPath("auth", "register"), payload); err != nil {
		return fmt.Errorf("failed to register: %w", err)
	}
	return nil
}

// ListRooms returns the rooms visible to the token holder. An unrecognized
// response shape yields an empty list.
func (c *Client) ListRooms(ctx context.Context, token string) ([]models.Room, error) {
	body, err := c.do(ctx, http.MethodGet, token, c.baseURL.JoinPath("chat", "rooms/"), nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	rooms, ok := ingest.NormalizeRooms(body)
	if !ok {
		logger.Warn("Unrecognized room list shape: %.120s", body)
	}
	return rooms, nil
}

func (c *Client) CreateRoom(ctx context.Context, token string, req models.CreateRoomRequest) (models.Room, error) {
	body, err := c.doJSON(ctx, http.MethodPost, token, c.baseURL.JoinPath("chat", "rooms/"), req)
	if err != nil {
		return models.Room{}, fmt.Errorf("failed to create room %s: %w", req.Name, err)
	}
	var room models.Room
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &room); err != nil {
			logger.Debug("Ignoring undecodable create-room response: %v", err)
		}
	}
	return room, nil
}

// ListMessages fetches one page of history as the raw response body. A room
// the server has no history for returns models.ErrHistoryNotFound.
func (c *Client) ListMessages(ctx context.Context, token, roomID string, page, pageSize int) ([]byte, error) {
	u := c.baseURL.JoinPath("chat", roomID, "messages")
	u.RawQuery = url.Values{
		"page":      {strconv.Itoa(page)},
		"page_size": {strconv.Itoa(pageSize)},
	}.Encode()

	body, err := c.do(ctx, http.MethodGet, token, u, nil, "")
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("room %s: %w", roomID, models.ErrHistoryNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list messages for room %s: %w", roomID, err)
	}
	return body, nil
}

// PostMessage delivers a message without the live channel.
func (c *Client) PostMessage(ctx context.Context, token, roomID string, msg models.OutgoingMessage) (models.PostResult, error) {
	body, err := c.doJSON(ctx, http.MethodPost, token, c.baseURL.JoinPath("chat", roomID, "messages"), msg)
	if err != nil {
		return models.PostResult{}, fmt.Errorf("failed to post message to room %s: %w", roomID, err)
	}
	var res models.PostResult
	if err := json.Unmarshal(body, &res); err != nil {
		logger.Debug("Post to room %s succeeded without a decodable id: %v", roomID, err)
		return models.PostResult{}, nil
	}
	return res, nil
}

func (c *Client) DeleteMessage(ctx context.Context, token, roomID, messageID string) error {
	if _, err := c.do(ctx, http.MethodDelete, token, c.baseURL.JoinPath("chat", roomID, "messages", messageID), nil, ""); err != nil {
		return fmt.Errorf("failed to delete message %s: %w", messageID, err)
	}
	return nil
}

// ListParticipants returns a room's members. A room without a participant
// record yet yields an empty list.
func (c *Client) ListParticipants(ctx context.Context, token, roomID string) ([]models.Participant, error) {
	body, err := c.do(ctx, http.MethodGet, token, c.baseURL.JoinPath("chat", roomID, "participants/"), nil, "")
	if errors.Is(err, models.ErrNotFound) {
		return []models.Participant{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list participants for room %s: %w", roomID, err)
	}
	participants := []models.Participant{}
	if len(bytes.TrimSpace(body)) == 0 || string(bytes.TrimSpace(body)) == "null" {
		return participants, nil
	}
	if err := json.Unmarshal(body, &participants); err != nil {
		return nil, fmt.Errorf("failed to decode participants: %w", err)
	}
	return participants, nil
}

type friendsResponse struct {
	Friends []models.Friend `json:"friends"`
}

func (c *Client) ListFriends(ctx context.Context, token string) ([]models.Friend, error) {
	body, err := c.do(ctx, http.MethodGet, token, c.baseURL.JoinPath("friends/"), nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list friends: %w", err)
	}
	var resp friendsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode friends: %w", err)
	}
	if resp.Friends == nil {
		resp.Friends = []models.Friend{}
	}
	return resp.Friends, nil
}

func (c *Client) AddFriend(ctx context.Context, token, username string) error {
	if _, err := c.doJSON(ctx, http.MethodPost, token, c.baseURL.JoinPath("friends/"), models.AddFriendRequest{Username: username}); err != nil {
		return fmt.Errorf("failed to add friend %s: %w", username, err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, token string, u *url.URL, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return c.do(ctx, method, token, u, bytes.NewReader(raw), "application/json; charset=UTF-8")
}

func (c *Client) do(ctx context.Context, method, token string, u *url.URL, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")

	logger.Debug("%s %s", method, u.Path)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &models.HTTPError{StatusCode: resp.StatusCode, Detail: errorDetail(raw)}
	}
	return raw, nil
}

// errorDetail extracts the server's explanation from detail, message or error.
func errorDetail(body []byte) string {
	var fields struct {
		Detail  json.RawMessage `json:"detail"`
		Message json.RawMessage `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &fields); err != nil {
		return ""
	}
	for _, raw := range []json.RawMessage{fields.Detail, fields.Message, fields.Error} {
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		return string(raw)
	}
	return ""
}
