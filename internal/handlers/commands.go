package handlers

import (
	"context"
	"fmt"
	"strings"

	"chat-sync/internal/history"
	"chat-sync/internal/models"
	"chat-sync/pkg/logger"
)

// Engine is the part of the realtime engine the command line drives.
type Engine interface {
	SelectRoom(roomID string)
	Deselect()
	LoadOlder()
	Send(body string)
	DeleteMessage(id string)
	ActiveRoom() string
	Status() models.ConnectionStatus
	Cursor() history.Cursor
}

// Directory is the room, participant and friend catalogue.
type Directory interface {
	RefreshRooms(ctx context.Context, sess models.Session) ([]models.Room, error)
	Rooms() []models.Room
	Room(roomID string) (models.Room, bool)
	Participants(ctx context.Context, sess models.Session, roomID string) ([]models.Participant, error)
	CachedParticipants(roomID string) ([]models.Participant, bool)
	CreateRoom(ctx context.Context, sess models.Session, name string, invitees []string) (models.Room, error)
	Friends(ctx context.Context, sess models.Session) ([]models.Friend, error)
	AddFriend(ctx context.Context, sess models.Session, username string) error
}

// PresenceView exposes who the live channel reports as online.
type PresenceView interface {
	Online(roomID string) []string
	OnlineCount(roomID string) int
	Forget(roomID string)
}

type CommandHandlers struct {
	engine    Engine
	directory Directory
	presence  PresenceView
	session   models.Session
	out       *TerminalPresenter
}

func NewCommandHandlers(engine Engine, directory Directory, presence PresenceView, sess models.Session, out *TerminalPresenter) *CommandHandlers {
	return &CommandHandlers{
		engine:    engine,
		directory: directory,
		presence:  presence,
		session:   sess,
		out:       out,
	}
}

const helpText = `Commands:
  /rooms                 list rooms (selects the first one if none is active)
  /join <room-id>        switch to a room
  /leave                 leave the current room
  /older                 load an older page of history
  /delete <message-id>   delete one of your messages
  /who                   list participants and who is online
  /friends               list friends
  /friend <username>     add a friend
  /create <name> [users] create a room with the given members
  /status                show connection state
  /help                  show this help
  /quit                  exit
Anything else is sent to the current room.
`

// Handle runs one input line. quit reports that the user asked to exit.
func (h *CommandHandlers) Handle(ctx context.Context, line string) (quit bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		h.engine.Send(line)
		return false, nil
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		h.out.Printf("%s", helpText)
	case "/rooms":
		err = h.listRooms(ctx)
	case "/join":
		err = h.join(args)
	case "/leave":
		if active := h.engine.ActiveRoom(); active != "" {
			h.presence.Forget(active)
		}
		h.engine.Deselect()
	case "/older":
		h.older()
	case "/delete":
		if len(args) != 1 {
			return false, fmt.Errorf("%w: usage /delete <message-id>", models.ErrValidation)
		}
		h.engine.DeleteMessage(args[0])
	case "/who":
		err = h.who(ctx)
	case "/friends":
		err = h.friends(ctx)
	case "/friend":
		if len(args) != 1 {
			return false, fmt.Errorf("%w: usage /friend <username>", models.ErrValidation)
		}
		if err = h.directory.AddFriend(ctx, h.session, args[0]); err == nil {
			h.out.Printf("Added %s as a friend\n", args[0])
		}
	case "/create":
		err = h.create(ctx, args)
	case "/status":
		h.status()
	default:
		return false, fmt.Errorf("%w: unknown command %s, try /help", models.ErrValidation, cmd)
	}

	if err != nil {
		logger.Error("Command %s failed: %v", cmd, err)
	}
	return false, err
}

func (h *CommandHandlers) listRooms(ctx context.Context) error {
	rooms, err := h.directory.RefreshRooms(ctx, h.session)
	if err != nil {
		return err
	}
	if len(rooms) == 0 {
		h.out.Printf("No rooms yet. Use /create <name> to start one.\n")
		return nil
	}

	active := h.engine.ActiveRoom()
	for _, r := range rooms {
		marker := " "
		if string(r.ID) == active {
			marker = "*"
		}
		h.out.Printf("%s %s  %s (%d members)\n", marker, r.ID, r.Name, r.ParticipantCount)
	}
	if active == "" {
		h.engine.SelectRoom(string(rooms[0].ID))
	}
	return nil
}

func (h *CommandHandlers) join(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: usage /join <room-id>", models.ErrValidation)
	}
	roomID := args[0]
	if _, ok := h.directory.Room(roomID); !ok {
		// fall back to a name match so users can type what they see
		for _, r := range h.directory.Rooms() {
			if strings.EqualFold(r.Name, roomID) {
				roomID = string(r.ID)
				break
			}
		}
	}
	h.engine.SelectRoom(roomID)
	return nil
}

func (h *CommandHandlers) older() {
	if h.engine.ActiveRoom() == "" {
		h.out.Printf("No room selected\n")
		return
	}
	if !h.engine.Cursor().HasMore {
		h.out.Printf("No older messages\n")
		return
	}
	h.engine.LoadOlder()
}

func (h *CommandHandlers) who(ctx context.Context) error {
	roomID := h.engine.ActiveRoom()
	if roomID == "" {
		h.out.Printf("No room selected\n")
		return nil
	}
	participants, err := h.directory.Participants(ctx, h.session, roomID)
	if err != nil {
		cached, ok := h.directory.CachedParticipants(roomID)
		if !ok {
			return err
		}
		logger.Warn("Showing cached participants for room %s: %v", roomID, err)
		participants = cached
	}
	online := make(map[string]bool)
	for _, u := range h.presence.Online(roomID) {
		online[u] = true
	}
	for _, p := range participants {
		tags := ""
		if p.IsAdmin {
			tags += " [admin]"
		}
		if online[p.Username] {
			tags += " [online]"
		}
		h.out.Printf("  %s%s\n", p.Username, tags)
	}
	return nil
}

func (h *CommandHandlers) friends(ctx context.Context) error {
	friends, err := h.directory.Friends(ctx, h.session)
	if err != nil {
		return err
	}
	if len(friends) == 0 {
		h.out.Printf("No friends yet\n")
		return nil
	}
	for _, f := range friends {
		h.out.Printf("  %s\n", f.Username)
	}
	return nil
}

func (h *CommandHandlers) create(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: usage /create <name> [usernames...]", models.ErrValidation)
	}
	room, err := h.directory.CreateRoom(ctx, h.session, args[0], args[1:])
	if err != nil {
		return err
	}
	h.out.Printf("Created room %s (%s)\n", room.Name, room.ID)
	if room.ID != "" {
		h.engine.SelectRoom(string(room.ID))
	}
	return nil
}

func (h *CommandHandlers) status() {
	active := h.engine.ActiveRoom()
	if active == "" {
		h.out.Printf("Signed in as %s, no room selected\n", h.session.Username)
		return
	}
	cur := h.engine.Cursor()
	h.out.Printf("Signed in as %s, room %s is %s with %d online (page %d, more history: %t)\n",
		h.session.Username, active, h.engine.Status(), h.presence.OnlineCount(active), cur.Page, cur.HasMore)
}
