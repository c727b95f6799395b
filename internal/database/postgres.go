package database

import (
	"context"
	"fmt"
	"time"

	"chat-sync/internal/models"
	"chat-sync/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS archived_rooms (
		room_id    TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS archived_messages (
		room_id     TEXT NOT NULL,
		message_id  TEXT NOT NULL,
		author      TEXT NOT NULL,
		content     TEXT NOT NULL,
		deleted     BOOLEAN NOT NULL DEFAULT FALSE,
		created_at  TIMESTAMPTZ NOT NULL,
		archived_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (room_id, message_id)
	)`,
	`CREATE INDEX IF NOT EXISTS archived_messages_room_created
		ON archived_messages (room_id, created_at DESC)`,
}

type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &PostgresDB{pool: pool}
	if err := db.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("Connected to transcript archive")
	return db, nil
}

func (db *PostgresDB) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply archive schema: %w", err)
		}
	}
	return nil
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

// Archivable filters msgs down to durable chat messages.
func Archivable(msgs []models.Message) []models.Message {
	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Notice() || m.Provisional() || m.ID == "" || m.RoomID == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}

// SaveMessages upserts the durable messages in msgs and reports how many were written.
func (db *PostgresDB) SaveMessages(ctx context.Context, msgs []models.Message) (int, error) {
	msgs = Archivable(msgs)
	if len(msgs) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO archived_messages (room_id, message_id, author, content, deleted, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (room_id, message_id)
		DO UPDATE SET author = EXCLUDED.author, content = EXCLUDED.content,
			deleted = EXCLUDED.deleted, archived_at = NOW()`

	batch := &pgx.Batch{}
	for _, m := range msgs {
		batch.Queue(query, m.RoomID, m.ID, m.AuthorName, m.Content, m.Deleted, m.CreatedAt.UTC())
	}

	br := db.pool.SendBatch(ctx, batch)
	defer br.Close()

	saved := 0
	for range msgs {
		if _, err := br.Exec(); err != nil {
			return saved, fmt.Errorf("failed to archive message: %w", err)
		}
		saved++
	}
	return saved, nil
}

// LoadRecentMessages returns up to limit archived messages, oldest first.
func (db *PostgresDB) LoadRecentMessages(ctx context.Context, roomID string, limit int) ([]models.Message, error) {
	query := `
		SELECT message_id, room_id, author, content, deleted, created_at
		FROM archived_messages
		WHERE room_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := db.pool.Query(ctx, query, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var (
			msg       models.Message
			createdAt time.Time
		)
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.AuthorName, &msg.Content, &msg.Deleted, &createdAt); err != nil {
			return nil, err
		}
		msg.CreatedAt = createdAt.UTC()
		msg.Kind = models.KindUser
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to show oldest first
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func (db *PostgresDB) MarkDeleted(ctx context.Context, roomID, messageID string) error {
	query := `
		UPDATE archived_messages
		SET deleted = TRUE, content = $3, archived_at = NOW()
		WHERE room_id = $1 AND message_id = $2`

	_, err := db.pool.Exec(ctx, query, roomID, messageID, models.TombstoneMarker)
	return err
}

func (db *PostgresDB) SaveRooms(ctx context.Context, rooms []models.Room) error {
	if len(rooms) == 0 {
		return nil
	}
	query := `
		INSERT INTO archived_rooms (room_id, name, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (room_id) DO UPDATE SET name = EXCLUDED.name, updated_at = NOW()`

	batch := &pgx.Batch{}
	for _, r := range rooms {
		batch.Queue(query, r.ID.String(), r.Name)
	}
	return db.pool.SendBatch(ctx, batch).Close()
}

func (db *PostgresDB) ListRooms(ctx context.Context) ([]models.Room, error) {
	rows, err := db.pool.Query(ctx, `SELECT room_id, name FROM archived_rooms ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []models.Room
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		rooms = append(rooms, models.Room{ID: models.FlexID(id), Name: name})
	}
	return rooms, rows.Err()
}
