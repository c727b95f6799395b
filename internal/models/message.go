package models

import (
	"fmt"
	"strings"
	"time"
)

type MessageKind string

const (
	KindUser   MessageKind = "user"
	KindSystem MessageKind = "system"
	KindError  MessageKind = "error"
)

const (
	// TombstoneMarker replaces the content of a deleted message.
	TombstoneMarker = "[deleted message]"
	// FailedMarker is appended to a provisional message whose delivery failed.
	FailedMarker = " (failed to send)"
	// ProvisionalPrefix marks client-assigned ids awaiting a durable one.
	ProvisionalPrefix = "temp-"
	SystemAuthor      = "System"
	UnknownAuthor     = "unknown"
)

// Message is the canonical timeline entry. Ordering is by CreatedAt;
// ClientSentAt only takes part in duplicate-window comparisons.
type Message struct {
	ID           string      `json:"id"`
	RoomID       string      `json:"room_id"`
	AuthorName   string      `json:"author_name"`
	Content      string      `json:"content"`
	CreatedAt    time.Time   `json:"created_at"`
	ClientSentAt *time.Time  `json:"client_sent_at,omitempty"`
	Kind         MessageKind `json:"kind"`
	Deleted      bool        `json:"deleted"`
}

func (m Message) Provisional() bool {
	return strings.HasPrefix(m.ID, ProvisionalPrefix)
}

// Notice reports whether the message is a system or error line rather than chat.
func (m Message) Notice() bool {
	return m.Kind == KindSystem || m.Kind == KindError
}

// ProvisionalID builds a temporary id from the generation time.
func ProvisionalID(now time.Time) string {
	return fmt.Sprintf("%s%d", ProvisionalPrefix, now.UnixNano())
}

func NewProvisional(roomID, author, content string, now time.Time) Message {
	sent := now
	return Message{
		ID:           ProvisionalID(now),
		RoomID:       roomID,
		AuthorName:   author,
		Content:      content,
		CreatedAt:    now,
		ClientSentAt: &sent,
		Kind:         KindUser,
	}
}

// NewNotice builds a system- or error-kind message authored by the client itself.
func NewNotice(id, roomID, content string, kind MessageKind, now time.Time) Message {
	return Message{
		ID:         id,
		RoomID:     roomID,
		AuthorName: SystemAuthor,
		Content:    content,
		CreatedAt:  now,
		Kind:       kind,
	}
}

func WithinWindow(a, b time.Time, window time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d < window
}
