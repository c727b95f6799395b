package models

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventSystem   EventType = "system"
	EventUserList EventType = "user_list"
)

// InboundEvent covers every push payload shape the server emits; the two
// field-naming conventions are resolved by the accessor methods.
type InboundEvent struct {
	Type            EventType       `json:"type"`
	ID              FlexID          `json:"id"`
	Content         string          `json:"content"`
	Message         string          `json:"message"`
	Timestamp       Timestamp       `json:"timestamp"`
	CreatedAt       Timestamp       `json:"created_at"`
	SenderUsername  string          `json:"sender_username"`
	Username        string          `json:"username"`
	IsDeleted       bool            `json:"is_deleted"`
	ClientTimestamp Timestamp       `json:"client_timestamp"`
	Users           json.RawMessage `json:"users,omitempty"`
}

func (e InboundEvent) Body() string {
	if e.Content != "" {
		return e.Content
	}
	return e.Message
}

func (e InboundEvent) Author() string {
	if e.SenderUsername != "" {
		return e.SenderUsername
	}
	return e.Username
}

// ChatTime prefers the server's created_at over the event timestamp.
func (e InboundEvent) ChatTime() (time.Time, bool) {
	return firstSet(e.CreatedAt, e.Timestamp)
}

func (e InboundEvent) SystemTime() (time.Time, bool) {
	return firstSet(e.Timestamp, e.CreatedAt)
}

func firstSet(ts ...Timestamp) (time.Time, bool) {
	for _, t := range ts {
		if !t.IsZero() {
			return t.Time, true
		}
	}
	return time.Time{}, false
}

// OutgoingMessage is the body sent over both delivery paths.
type OutgoingMessage struct {
	Content        string `json:"content"`
	SenderUsername string `json:"sender_username"`
	Timestamp      string `json:"timestamp"`
}

func NewOutgoingMessage(content, sender string, now time.Time) OutgoingMessage {
	return OutgoingMessage{
		Content:        content,
		SenderUsername: sender,
		Timestamp:      now.UTC().Format(ISOMillis),
	}
}

type PostResult struct {
	ID FlexID `json:"id"`
}
