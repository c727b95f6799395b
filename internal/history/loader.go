package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chat-sync/internal/ingest"
	"chat-sync/internal/models"
	"chat-sync/pkg/logger"

	"golang.org/x/sync/singleflight"
)

const DefaultPageSize = 20

// Fetcher issues the paginated history request and returns the raw body.
// A room without history must yield models.ErrHistoryNotFound.
type Fetcher interface {
	ListMessages(ctx context.Context, token, roomID string, page, pageSize int) ([]byte, error)
}

// Cursor tracks backward pagination for the active room.
type Cursor struct {
	Page    int
	HasMore bool
}

func InitialCursor() Cursor {
	return Cursor{Page: 1, HasMore: true}
}

type Page struct {
	RoomID   string
	Number   int
	Replace  bool
	Messages []models.Message
	HasMore  bool
	Shape    ingest.Shape
}

type Loader struct {
	fetcher  Fetcher
	pageSize int
	group    singleflight.Group
	now      func() time.Time

	mu     sync.Mutex
	roomID string
	cursor Cursor
}

func NewLoader(fetcher Fetcher, pageSize int) *Loader {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Loader{
		fetcher:  fetcher,
		pageSize: pageSize,
		now:      time.Now,
		cursor:   InitialCursor(),
	}
}

// Fetch loads one page of history for roomID. Concurrent calls for the same
// room and page share a single request.
func (l *Loader) Fetch(ctx context.Context, sess models.Session, roomID string, number int, replace bool) (Page, error) {
	key := fmt.Sprintf("%s/%d", roomID, number)
	v, err, shared := l.group.Do(key, func() (interface{}, error) {
		return l.fetch(ctx, sess, roomID, number)
	})
	if err != nil {
		return Page{}, err
	}
	if shared {
		logger.Debug("History page %s shared with a concurrent load", key)
	}
	page := v.(Page)
	page.Replace = replace
	page.Messages = append([]models.Message(nil), page.Messages...)
	return page, nil
}

func (l *Loader) fetch(ctx context.Context, sess models.Session, roomID string, number int) (Page, error) {
	body, err := l.fetcher.ListMessages(ctx, sess.Token, roomID, number, l.pageSize)
	if errors.Is(err, models.ErrHistoryNotFound) {
		logger.Info("No history yet for room %s", roomID)
		return Page{RoomID: roomID, Number: number, HasMore: false}, nil
	}
	if err != nil {
		return Page{}, fmt.Errorf("failed to load page %d of room %s: %w", number, roomID, err)
	}

	h := ingest.NormalizeHistory(roomID, body, l.now())
	if !h.Recognized() {
		logger.Warn("Unrecognized history response for room %s; treating as empty", roomID)
	}
	return Page{
		RoomID:   roomID,
		Number:   number,
		Messages: h.Messages,
		HasMore:  HasMore(len(h.Messages), number, l.pageSize, h.TotalCount),
		Shape:    h.Shape,
	}, nil
}

// HasMore uses the server total when given. Without it a full page is taken
// to mean more pages exist, which is wrong when the last page is exactly full.
func HasMore(fetched, page, pageSize int, total *int) bool {
	if total != nil {
		return fetched > 0 && fetched*page < *total
	}
	return fetched == pageSize
}

// Reset rebinds the cursor to roomID at {1, true}.
func (l *Loader) Reset(roomID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roomID = roomID
	l.cursor = InitialCursor()
}

// Advance records an applied page. Pages for another room are ignored.
func (l *Loader) Advance(p Page) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p.RoomID != l.roomID {
		return false
	}
	l.cursor = Cursor{Page: p.Number, HasMore: p.HasMore}
	return true
}

func (l *Loader) Cursor() Cursor {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cursor
}

func (l *Loader) RoomID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.roomID
}
