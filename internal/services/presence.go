package services

import (
	"sort"
	"sync"

	"chat-sync/pkg/logger"
)

// Presence tracks who the server reports online in each room.
type Presence struct {
	mu     sync.RWMutex
	online map[string]map[string]bool
}

func NewPresence() *Presence {
	return &Presence{online: make(map[string]map[string]bool)}
}

// UpdatePresence replaces the room's online set with users.
func (p *Presence) UpdatePresence(roomID string, users []string) {
	set := make(map[string]bool, len(users))
	for _, u := range users {
		if u != "" {
			set[u] = true
		}
	}
	p.mu.Lock()
	p.online[roomID] = set
	p.mu.Unlock()
	logger.Debug("%d users online in room %s", len(set), roomID)
}

func (p *Presence) Online(roomID string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	users := make([]string, 0, len(p.online[roomID]))
	for u := range p.online[roomID] {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

func (p *Presence) OnlineCount(roomID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.online[roomID])
}

func (p *Presence) Forget(roomID string) {
	p.mu.Lock()
	delete(p.online, roomID)
	p.mu.Unlock()
}
