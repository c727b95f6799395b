package database

import (
	"context"

	"chat-sync/internal/models"
)

type MessageRepository interface {
	SaveMessages(ctx context.Context, msgs []models.Message) (int, error)
	LoadRecentMessages(ctx context.Context, roomID string, limit int) ([]models.Message, error)
	MarkDeleted(ctx context.Context, roomID, messageID string) error
}

type RoomRepository interface {
	SaveRooms(ctx context.Context, rooms []models.Room) error
	ListRooms(ctx context.Context) ([]models.Room, error)
}

// Archive is the local transcript store. It never feeds the live timeline.
type Archive interface {
	MessageRepository
	RoomRepository
	Close() error
}
