package ingest

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"chat-sync/internal/models"

	"github.com/google/uuid"
)

// Shape tags which history response layout was recognized.
type Shape int

const (
	ShapeUnrecognized Shape = iota
	ShapeBare
	ShapeMessages
	ShapeItems
)

func (s Shape) String() string {
	switch s {
	case ShapeBare:
		return "bare"
	case ShapeMessages:
		return "messages"
	case ShapeItems:
		return "items"
	default:
		return "unrecognized"
	}
}

// History is the tagged result of normalizing a history page body.
// An unrecognized shape yields no messages rather than an error.
type History struct {
	Shape      Shape
	Messages   []models.Message
	TotalCount *int
}

func (h History) Recognized() bool {
	return h.Shape != ShapeUnrecognized
}

var historyEnvelopes = []struct {
	field string
	shape Shape
}{
	{"messages", ShapeMessages},
	{"items", ShapeItems},
}

// NormalizeHistory maps any accepted history body onto canonical messages,
// oldest first as the server returned them.
func NormalizeHistory(roomID string, body []byte, now time.Time) History {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return History{}
	}

	if body[0] == '[' {
		var items []models.InboundEvent
		if err := json.Unmarshal(body, &items); err != nil {
			return History{}
		}
		return History{Shape: ShapeBare, Messages: chatMessages(roomID, items, now)}
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return History{}
	}
	for _, e := range historyEnvelopes {
		raw, ok := envelope[e.field]
		if !ok {
			continue
		}
		var items []models.InboundEvent
		if err := json.Unmarshal(raw, &items); err != nil || items == nil {
			continue
		}
		return History{
			Shape:      e.shape,
			Messages:   chatMessages(roomID, items, now),
			TotalCount: totalCount(envelope),
		}
	}
	return History{}
}

func totalCount(envelope map[string]json.RawMessage) *int {
	raw, ok := envelope["total_count"]
	if !ok {
		return nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil
	}
	v := int(n)
	return &v
}

func chatMessages(roomID string, items []models.InboundEvent, now time.Time) []models.Message {
	out := make([]models.Message, 0, len(items))
	for _, ev := range items {
		m, _ := chatMessage(roomID, ev, now)
		if blank(m.Content) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// chatMessage converts a wire event to a user-kind message. The boolean
// reports whether the id came from the server.
func chatMessage(roomID string, ev models.InboundEvent, now time.Time) (models.Message, bool) {
	m := models.Message{
		ID:         ev.ID.String(),
		RoomID:     roomID,
		AuthorName: ev.Author(),
		Content:    ev.Body(),
		Kind:       models.KindUser,
		Deleted:    ev.IsDeleted,
	}
	serverID := m.ID != ""
	if !serverID {
		m.ID = "msg-" + uuid.NewString()
	}
	if m.AuthorName == "" {
		m.AuthorName = models.UnknownAuthor
	}
	if m.Deleted {
		m.Content = models.TombstoneMarker
	}
	if t, ok := ev.ChatTime(); ok {
		m.CreatedAt = t
	} else {
		m.CreatedAt = now
	}
	if !ev.ClientTimestamp.IsZero() {
		sent := ev.ClientTimestamp.Time
		m.ClientSentAt = &sent
	}
	return m, serverID
}

func systemMessage(roomID string, ev models.InboundEvent, now time.Time) models.Message {
	id := ev.ID.String()
	if id == "" {
		id = "system-" + uuid.NewString()
	}
	m := models.NewNotice(id, roomID, ev.Body(), models.KindSystem, now)
	if t, ok := ev.SystemTime(); ok {
		m.CreatedAt = t
	}
	return m
}

var roomEnvelopes = []string{"items", "chat_rooms", "rooms"}

// NormalizeRooms accepts a bare room array or one wrapped under a known field.
// The boolean is false when the shape was not recognized.
func NormalizeRooms(body []byte) ([]models.Room, bool) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, false
	}
	if body[0] == '[' {
		var rooms []models.Room
		if err := json.Unmarshal(body, &rooms); err != nil {
			return nil, false
		}
		return rooms, true
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, false
	}
	for _, field := range roomEnvelopes {
		raw, ok := envelope[field]
		if !ok {
			continue
		}
		var rooms []models.Room
		if err := json.Unmarshal(raw, &rooms); err == nil && rooms != nil {
			return rooms, true
		}
	}
	return nil, false
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
