package ingest

import (
	"time"

	"chat-sync/internal/models"
	"chat-sync/internal/timeline"
	"chat-sync/pkg/logger"
)

type Outcome int

const (
	OutcomeAppended Outcome = iota
	OutcomeDuplicate
	OutcomeAdopted
	OutcomeDiscarded
	OutcomePresence
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAppended:
		return "appended"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeAdopted:
		return "adopted"
	case OutcomeDiscarded:
		return "discarded"
	default:
		return "presence"
	}
}

// PresenceHandler receives user_list events, which never enter the timeline.
type PresenceHandler interface {
	UpdatePresence(roomID string, users []string)
}

type logPresence struct{}

func (logPresence) UpdatePresence(roomID string, users []string) {
	logger.Debug("Presence update for room %s: %v", roomID, users)
}

// Pipeline is the single path by which inbound messages reach the store.
type Pipeline struct {
	store        *timeline.Store
	presence     PresenceHandler
	chatWindow   time.Duration
	systemWindow time.Duration
	now          func() time.Time
}

func NewPipeline(store *timeline.Store, presence PresenceHandler, chatWindow, systemWindow time.Duration) *Pipeline {
	if presence == nil {
		presence = logPresence{}
	}
	return &Pipeline{
		store:        store,
		presence:     presence,
		chatWindow:   chatWindow,
		systemWindow: systemWindow,
		now:          time.Now,
	}
}

// Push classifies a raw live-channel payload and merges it into the store.
func (p *Pipeline) Push(roomID string, raw []byte) Outcome {
	in := Classify(roomID, raw, p.now())
	if in.Err != nil {
		logger.Warn("Displaying unparsed payload as text: %v", in.Err)
	}

	switch in.Class {
	case ClassPresence:
		p.presence.UpdatePresence(roomID, in.Users)
		return OutcomePresence
	case ClassSystem:
		return p.AppendSystem(in.Message)
	case ClassRaw:
		if blank(in.Message.Content) {
			return OutcomeDiscarded
		}
		p.store.Append(in.Message)
		return OutcomeAppended
	default:
		return p.appendChat(in.Message, in.ServerID)
	}
}

// AppendSystem appends a system-kind message unless it is blank or repeats a
// notice with the same content inside the system window.
func (p *Pipeline) AppendSystem(m models.Message) Outcome {
	if blank(m.Content) {
		logger.Debug("Ignoring empty system message")
		return OutcomeDiscarded
	}
	if p.duplicateSystem(m) {
		logger.Debug("Ignoring duplicate system message: %s", m.Content)
		return OutcomeDuplicate
	}
	p.store.Append(m)
	return OutcomeAppended
}

func (p *Pipeline) appendChat(m models.Message, serverID bool) Outcome {
	if blank(m.Content) {
		logger.Debug("Ignoring empty chat message %s", m.ID)
		return OutcomeDiscarded
	}
	match, dup := p.duplicateChat(m)
	if !dup {
		p.store.Append(m)
		return OutcomeAppended
	}
	if serverID && match.Provisional() && !m.Provisional() {
		// echo of our own provisional send: adopt the durable id in place
		if p.store.ResolveID(match.ID, m.ID) {
			logger.Debug("Provisional %s confirmed as %s by echo", match.ID, m.ID)
			return OutcomeAdopted
		}
	}
	logger.Debug("Ignoring duplicate chat message %s", m.ID)
	return OutcomeDuplicate
}

func (p *Pipeline) duplicateChat(c models.Message) (models.Message, bool) {
	return p.store.First(func(m models.Message) bool {
		if m.ID == c.ID {
			return true
		}
		return m.Content == c.Content && m.AuthorName == c.AuthorName && p.closeInTime(m, c)
	})
}

// closeInTime compares creation times, and client send times where known,
// against the chat window.
func (p *Pipeline) closeInTime(a, b models.Message) bool {
	if models.WithinWindow(a.CreatedAt, b.CreatedAt, p.chatWindow) {
		return true
	}
	if a.ClientSentAt != nil && models.WithinWindow(*a.ClientSentAt, b.CreatedAt, p.chatWindow) {
		return true
	}
	if b.ClientSentAt != nil && models.WithinWindow(*b.ClientSentAt, a.CreatedAt, p.chatWindow) {
		return true
	}
	return a.ClientSentAt != nil && b.ClientSentAt != nil &&
		models.WithinWindow(*a.ClientSentAt, *b.ClientSentAt, p.chatWindow)
}

func (p *Pipeline) duplicateSystem(c models.Message) bool {
	return p.store.Any(func(m models.Message) bool {
		return m.Notice() && m.Content == c.Content && models.WithinWindow(m.CreatedAt, c.CreatedAt, p.systemWindow)
	})
}

// ApplyPage merges a history page. replace overwrites the timeline; otherwise
// the page goes ahead of the existing entries, skipping ids already present.
func (p *Pipeline) ApplyPage(roomID string, msgs []models.Message, replace bool) int {
	if replace {
		p.store.Replace(roomID, msgs)
		return len(msgs)
	}
	fresh := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		id := m.ID
		if p.store.Any(func(existing models.Message) bool { return existing.ID == id }) {
			continue
		}
		fresh = append(fresh, m)
	}
	p.store.Prepend(fresh)
	return len(fresh)
}
