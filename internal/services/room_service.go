package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"chat-sync/internal/models"
	"chat-sync/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// RoomAPI is the slice of the request/response client the directory needs.
type RoomAPI interface {
	ListRooms(ctx context.Context, token string) ([]models.Room, error)
	CreateRoom(ctx context.Context, token string, req models.CreateRoomRequest) (models.Room, error)
	ListParticipants(ctx context.Context, token, roomID string) ([]models.Participant, error)
	ListFriends(ctx context.Context, token string) ([]models.Friend, error)
	AddFriend(ctx context.Context, token, username string) error
}

const participantFetchLimit = 4

// RoomService caches the room list, per-room participants and friends.
type RoomService struct {
	api RoomAPI

	mu           sync.RWMutex
	rooms        []models.Room
	participants map[string][]models.Participant
	friends      []models.Friend
	loadedAll    bool
}

func NewRoomService(api RoomAPI) *RoomService {
	return &RoomService{
		api:          api,
		participants: make(map[string][]models.Participant),
	}
}

// RefreshRooms reloads the room list. The first non-empty load also fetches
// every room's participants.
func (s *RoomService) RefreshRooms(ctx context.Context, sess models.Session) ([]models.Room, error) {
	rooms, err := s.api.ListRooms(ctx, sess.Token)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.rooms = rooms
	loadAll := !s.loadedAll && len(rooms) > 0
	if loadAll {
		s.loadedAll = true
	}
	s.mu.Unlock()

	logger.Info("Loaded %d rooms", len(rooms))
	if loadAll {
		s.LoadAllParticipants(ctx, sess)
	}
	return s.Rooms(), nil
}

func (s *RoomService) Rooms() []models.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Room, len(s.rooms))
	copy(out, s.rooms)
	return out
}

func (s *RoomService) Room(roomID string) (models.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rooms {
		if r.ID.String() == roomID {
			return r, true
		}
	}
	return models.Room{}, false
}

// Participants fetches and caches one room's members.
func (s *RoomService) Participants(ctx context.Context, sess models.Session, roomID string) ([]models.Participant, error) {
	ps, err := s.api.ListParticipants(ctx, sess.Token, roomID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.participants[roomID] = ps
	s.mu.Unlock()
	return ps, nil
}

// LoadAllParticipants fetches participants for every known room in
// parallel. A failing room is logged and skipped.
func (s *RoomService) LoadAllParticipants(ctx context.Context, sess models.Session) {
	rooms := s.Rooms()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(participantFetchLimit)
	for _, room := range rooms {
		roomID := room.ID.String()
		g.Go(func() error {
			if _, err := s.Participants(gctx, sess, roomID); err != nil {
				logger.Warn("Error loading participants for room %s: %v", roomID, err)
			}
			return nil
		})
	}
	g.Wait()
}

func (s *RoomService) CachedParticipants(roomID string) ([]models.Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ps, ok := s.participants[roomID]
	return ps, ok
}

// CreateRoom creates a room with the session user and the invitees, then
// refreshes the room list.
func (s *RoomService) CreateRoom(ctx context.Context, sess models.Session, name string, invitees []string) (models.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Room{}, fmt.Errorf("room name is required: %w", models.ErrValidation)
	}

	req := models.CreateRoomRequest{Name: name, Participants: roomMembers(sess.Username, invitees)}
	room, err := s.api.CreateRoom(ctx, sess.Token, req)
	if err != nil {
		return models.Room{}, err
	}
	logger.Info("Created room %s with %d participants", name, len(req.Participants))

	if _, err := s.RefreshRooms(ctx, sess); err != nil {
		logger.Warn("Error refreshing rooms after create: %v", err)
	}
	return room, nil
}

func roomMembers(self string, invitees []string) []string {
	members := []string{self}
	seen := map[string]bool{self: true}
	for _, u := range invitees {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		members = append(members, u)
	}
	return members
}

func (s *RoomService) Friends(ctx context.Context, sess models.Session) ([]models.Friend, error) {
	friends, err := s.api.ListFriends(ctx, sess.Token)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.friends = friends
	s.mu.Unlock()
	return friends, nil
}

func (s *RoomService) AddFriend(ctx context.Context, sess models.Session, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("friend name is required: %w", models.ErrValidation)
	}
	if err := s.api.AddFriend(ctx, sess.Token, username); err != nil {
		return err
	}
	s.mu.Lock()
	s.friends = append(s.friends, models.Friend{Username: username})
	s.mu.Unlock()
	return nil
}
