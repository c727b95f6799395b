package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"chat-sync/internal/models"

	"github.com/google/uuid"
)

type Class int

const (
	ClassChat Class = iota
	ClassSystem
	ClassPresence
	ClassRaw
)

func (c Class) String() string {
	switch c {
	case ClassChat:
		return "chat"
	case ClassSystem:
		return "system"
	case ClassPresence:
		return "presence"
	default:
		return "raw"
	}
}

// Inbound is one classified push payload.
type Inbound struct {
	Class    Class
	Message  models.Message
	ServerID bool
	Users    []string
	Err      error
}

var errNotObject = errors.New("payload is not a JSON object")

// Classify turns a raw push payload into an Inbound. Payloads that are not
// JSON objects are kept as system-kind messages carrying the raw text.
func Classify(roomID string, raw []byte, now time.Time) Inbound {
	var ev models.InboundEvent
	if err := decodeObject(raw, &ev); err != nil {
		text := string(raw)
		return Inbound{
			Class:   ClassRaw,
			Message: models.NewNotice("text-"+uuid.NewString(), roomID, text, models.KindSystem, now),
			Err:     &models.ParseError{Raw: text, Err: err},
		}
	}

	switch ev.Type {
	case models.EventSystem:
		return Inbound{Class: ClassSystem, Message: systemMessage(roomID, ev, now)}
	case models.EventUserList:
		return Inbound{Class: ClassPresence, Users: decodeUsers(ev.Users)}
	default:
		m, serverID := chatMessage(roomID, ev, now)
		return Inbound{Class: ClassChat, Message: m, ServerID: serverID}
	}
}

func decodeObject(raw []byte, ev *models.InboundEvent) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return errNotObject
	}
	return json.Unmarshal(trimmed, ev)
}

// decodeUsers accepts a list of names or a list of objects with a username.
func decodeUsers(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err == nil {
		return names
	}
	var objs []struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(raw, &objs); err != nil {
		return nil
	}
	names = make([]string, 0, len(objs))
	for _, o := range objs {
		if name := strings.TrimSpace(o.Username); name != "" {
			names = append(names, name)
		}
	}
	return names
}
