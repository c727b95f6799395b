package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"chat-sync/internal/models"
	"chat-sync/internal/timeline"
	"chat-sync/pkg/logger"
)

// LiveSender is the primary delivery path.
type LiveSender interface {
	Status() models.ConnectionStatus
	Send(payload []byte) error
}

// Poster is the request/response fallback path.
type Poster interface {
	PostMessage(ctx context.Context, token, roomID string, msg models.OutgoingMessage) (models.PostResult, error)
}

// Pending is a message that went to the fallback path and awaits its outcome.
type Pending struct {
	RoomID        string
	ProvisionalID string
	Token         string
	Outgoing      models.OutgoingMessage
}

type Coordinator struct {
	store  *timeline.Store
	live   LiveSender
	poster Poster
	now    func() time.Time
}

func NewCoordinator(store *timeline.Store, live LiveSender, poster Poster) *Coordinator {
	return &Coordinator{
		store:  store,
		live:   live,
		poster: poster,
		now:    time.Now,
	}
}

// Begin runs the synchronous part of a send. It returns ok=false when the
// message left over the live channel, in which case the echo will bring it
// into the timeline. Otherwise a provisional entry has been appended and the
// returned Pending must be passed to Deliver.
func (c *Coordinator) Begin(sess models.Session, roomID, body string) (Pending, bool, error) {
	content := strings.TrimSpace(body)
	switch {
	case content == "":
		return Pending{}, false, fmt.Errorf("empty message: %w", models.ErrValidation)
	case roomID == "":
		return Pending{}, false, fmt.Errorf("no active room: %w", models.ErrValidation)
	case !sess.Authenticated():
		return Pending{}, false, fmt.Errorf("no credential: %w", models.ErrValidation)
	}

	now := c.now()
	out := models.NewOutgoingMessage(content, sess.Username, now)

	if c.live != nil && c.live.Status() == models.StatusOpen {
		payload, err := json.Marshal(out)
		if err == nil {
			err = c.live.Send(payload)
		}
		if err == nil {
			logger.Debug("Sent message to room %s over live channel", roomID)
			return Pending{}, false, nil
		}
		logger.Warn("Live send to room %s failed, falling back: %v", roomID, err)
	}

	m := models.NewProvisional(roomID, sess.Username, content, now)
	c.store.Append(m)
	logger.Debug("Appended provisional message %s to room %s", m.ID, roomID)

	return Pending{
		RoomID:        roomID,
		ProvisionalID: m.ID,
		Token:         sess.Token,
		Outgoing:      out,
	}, true, nil
}

// Deliver issues the fallback request. It touches no local state.
func (c *Coordinator) Deliver(ctx context.Context, p Pending) (models.PostResult, error) {
	return c.poster.PostMessage(ctx, p.Token, p.RoomID, p.Outgoing)
}

// Reconcile applies the fallback outcome to the provisional entry. A
// failure marks the entry and comes back as a *models.DeliveryError for the
// user; outcomes for a room that is no longer active are dropped.
func (c *Coordinator) Reconcile(p Pending, res models.PostResult, err error) error {
	if c.store.RoomID() != p.RoomID {
		logger.Debug("Dropping send outcome for inactive room %s", p.RoomID)
		return nil
	}
	if err != nil {
		c.store.Update(p.ProvisionalID, func(m *models.Message) {
			if !strings.HasSuffix(m.Content, models.FailedMarker) {
				m.Content += models.FailedMarker
			}
		})
		logger.Error("Failed to send message to room %s: %v", p.RoomID, err)
		return &models.DeliveryError{RoomID: p.RoomID, Err: err}
	}
	if id := res.ID.String(); id != "" {
		if c.store.ResolveID(p.ProvisionalID, id) {
			logger.Debug("Provisional %s confirmed as %s", p.ProvisionalID, id)
		}
	}
	return nil
}

// Send runs the whole protocol inline.
func (c *Coordinator) Send(ctx context.Context, sess models.Session, roomID, body string) error {
	p, pending, err := c.Begin(sess, roomID, body)
	if err != nil || !pending {
		return err
	}
	res, err := c.Deliver(ctx, p)
	return c.Reconcile(p, res, err)
}
