// Package timeline holds the ordered message set of the active room.
//
// The store is append-only: entries keep the position they were inserted at
// and are never re-sorted. Writers are expected to run on a single goroutine;
// the lock exists so readers on other goroutines get consistent snapshots.
package timeline

import (
	"sync"

	"chat-sync/internal/models"
)

type ChangeKind int

const (
	ChangeReset ChangeKind = iota
	ChangeReplaced
	ChangePrepended
	ChangeAppended
	ChangeUpdated
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeReset:
		return "reset"
	case ChangeReplaced:
		return "replaced"
	case ChangePrepended:
		return "prepended"
	case ChangeAppended:
		return "appended"
	case ChangeUpdated:
		return "updated"
	default:
		return "unknown"
	}
}

// Change describes one mutation. Messages holds the entries it touched.
type Change struct {
	Kind     ChangeKind
	RoomID   string
	Messages []models.Message
}

type Observer func(Change)

type Store struct {
	mu        sync.RWMutex
	roomID    string
	messages  []models.Message
	observers []Observer
}

func NewStore() *Store {
	return &Store{}
}

// Observe registers fn to be called after every mutation, outside the lock.
func (s *Store) Observe(fn Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *Store) RoomID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID
}

// Reset discards the timeline and binds the store to roomID.
func (s *Store) Reset(roomID string) {
	s.mu.Lock()
	s.roomID = roomID
	s.messages = nil
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeReset, RoomID: roomID})
}

// Replace overwrites the timeline with msgs for roomID.
func (s *Store) Replace(roomID string, msgs []models.Message) {
	s.mu.Lock()
	s.roomID = roomID
	s.messages = append([]models.Message(nil), msgs...)
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeReplaced, RoomID: roomID, Messages: clone(msgs)})
}

// Prepend inserts msgs ahead of the existing entries without reordering them.
func (s *Store) Prepend(msgs []models.Message) {
	if len(msgs) == 0 {
		return
	}
	s.mu.Lock()
	merged := make([]models.Message, 0, len(msgs)+len(s.messages))
	merged = append(merged, msgs...)
	merged = append(merged, s.messages...)
	s.messages = merged
	roomID := s.roomID
	s.mu.Unlock()
	s.notify(Change{Kind: ChangePrepended, RoomID: roomID, Messages: clone(msgs)})
}

func (s *Store) Append(m models.Message) {
	s.mu.Lock()
	s.messages = append(s.messages, m)
	roomID := s.roomID
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeAppended, RoomID: roomID, Messages: []models.Message{m}})
}

// Any reports whether some entry satisfies pred.
func (s *Store) Any(pred func(models.Message) bool) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages {
		if pred(m) {
			return true
		}
	}
	return false
}

// First returns the earliest entry satisfying pred.
func (s *Store) First(pred func(models.Message) bool) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages {
		if pred(m) {
			return m, true
		}
	}
	return models.Message{}, false
}

func (s *Store) Find(id string) (models.Message, bool) {
	return s.First(func(m models.Message) bool { return m.ID == id })
}

// Update applies fn to the entry with the given id in place.
func (s *Store) Update(id string, fn func(*models.Message)) bool {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	fn(&s.messages[idx])
	updated := s.messages[idx]
	roomID := s.roomID
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeUpdated, RoomID: roomID, Messages: []models.Message{updated}})
	return true
}

// ResolveID gives the provisional entry oldID its durable id in place.
// Any other entry already carrying newID is dropped so the id stays unique.
func (s *Store) ResolveID(oldID, newID string) bool {
	if oldID == newID || newID == "" {
		return false
	}
	s.mu.Lock()
	idx := s.indexOf(oldID)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	s.messages[idx].ID = newID
	kept := s.messages[:0]
	for i, m := range s.messages {
		if i != idx && m.ID == newID {
			continue
		}
		kept = append(kept, m)
	}
	s.messages = kept
	resolved, _ := s.find(newID)
	roomID := s.roomID
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeUpdated, RoomID: roomID, Messages: []models.Message{resolved}})
	return true
}

func (s *Store) Snapshot() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.messages)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

func (s *Store) indexOf(id string) int {
	for i, m := range s.messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) find(id string) (models.Message, bool) {
	if i := s.indexOf(id); i >= 0 {
		return s.messages[i], true
	}
	return models.Message{}, false
}

func (s *Store) notify(c Change) {
	s.mu.RLock()
	observers := append([]Observer(nil), s.observers...)
	s.mu.RUnlock()
	for _, fn := range observers {
		fn(c)
	}
}

func clone(msgs []models.Message) []models.Message {
	if msgs == nil {
		return nil
	}
	return append([]models.Message(nil), msgs...)
}
