package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"chat-sync/internal/models"
	"chat-sync/pkg/logger"

	"github.com/gorilla/websocket"
)

var ErrSendBufferFull = errors.New("send buffer full")

type EventKind int

const (
	EventOpened EventKind = iota
	EventData
	EventError
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventData:
		return "data"
	case EventError:
		return "error"
	default:
		return "closed"
	}
}

// Event is a lifecycle or data notification tagged with the generation of
// the connection attempt that produced it.
type Event struct {
	Kind   EventKind
	Gen    uint64
	RoomID string
	Data   []byte
	Code   int
	Reason string
	Err    error

	conn Conn
}

// Conn is the subset of *websocket.Conn the channel drives.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

type Dialer interface {
	DialContext(ctx context.Context, urlStr string, header http.Header) (Conn, *http.Response, error)
}

// GorillaDialer adapts *websocket.Dialer to Dialer.
type GorillaDialer struct {
	Dialer *websocket.Dialer
}

func (d GorillaDialer) DialContext(ctx context.Context, urlStr string, header http.Header) (Conn, *http.Response, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, urlStr, header)
	if err != nil {
		return nil, resp, err
	}
	return conn, resp, nil
}

type Options struct {
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
	SendBuffer   int
}

func (o Options) withDefaults() Options {
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	return o
}

// State is a point-in-time view of the channel.
type State struct {
	RoomID       string
	Status       models.ConnectionStatus
	Generation   uint64
	LastOpenedAt time.Time
	RetryCount   int
}

// Channel owns at most one live connection at a time. Its state only
// changes through Connect, Apply, Abort and Close; events from superseded
// attempts are recognized by their generation and dropped.
type Channel struct {
	dialer  Dialer
	baseURL string
	opts    Options
	events  chan Event
	done    chan struct{}
	once    sync.Once

	mu           sync.Mutex
	roomID       string
	gen          uint64
	status       models.ConnectionStatus
	conn         Conn
	send         chan []byte
	cancel       context.CancelFunc
	lastOpenedAt time.Time
	retryCount   int
}

func NewChannel(dialer Dialer, baseURL string, opts Options) *Channel {
	if dialer == nil {
		dialer = GorillaDialer{}
	}
	return &Channel{
		dialer:  dialer,
		baseURL: baseURL,
		opts:    opts.withDefaults(),
		events:  make(chan Event, 64),
		done:    make(chan struct{}),
		status:  models.StatusIdle,
	}
}

func (c *Channel) Events() <-chan Event {
	return c.events
}

// Connect discards any existing connection and starts a new attempt for
// roomID. It returns the generation of the new attempt.
func (c *Channel) Connect(roomID, token string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if roomID == c.roomID && c.gen > 0 && c.status != models.StatusOpen {
		c.retryCount++
	} else if roomID != c.roomID {
		c.retryCount = 0
	}
	c.teardownLocked(websocket.CloseNormalClosure, "reconnecting")
	c.gen++
	gen := c.gen
	c.roomID = roomID
	c.status = models.StatusConnecting

	endpoint, err := Endpoint(c.baseURL, roomID, token)
	if err != nil {
		go c.fail(gen, roomID, websocket.CloseAbnormalClosure, err)
		return gen
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	logger.Info("Connecting to room %s (attempt %d)", roomID, gen)
	go c.dial(ctx, gen, roomID, endpoint, header)
	return gen
}

func (c *Channel) dial(ctx context.Context, gen uint64, roomID, endpoint string, header http.Header) {
	conn, resp, err := c.dialer.DialContext(ctx, endpoint, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if ctx.Err() != nil {
			logger.Debug("Dial for room %s abandoned: %v", roomID, ctx.Err())
			return
		}
		c.fail(gen, roomID, handshakeCode(resp), fmt.Errorf("dial %s: %w", roomID, err))
		return
	}
	c.emit(Event{Kind: EventOpened, Gen: gen, RoomID: roomID, conn: conn})
}

func (c *Channel) fail(gen uint64, roomID string, code int, err error) {
	c.emit(Event{Kind: EventError, Gen: gen, RoomID: roomID, Code: code, Err: err})
	c.emit(Event{Kind: EventClosed, Gen: gen, RoomID: roomID, Code: code, Reason: err.Error()})
}

func (c *Channel) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
		if ev.conn != nil {
			ev.conn.Close()
		}
	}
}

// Apply folds an event into the channel state. It reports false for events
// from a superseded attempt, which the caller must ignore.
func (c *Channel) Apply(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ev.Gen != c.gen {
		if ev.conn != nil {
			ev.conn.Close()
		}
		return false
	}

	switch ev.Kind {
	case EventOpened:
		if c.status != models.StatusConnecting {
			ev.conn.Close()
			return false
		}
		c.cancel = nil
		c.status = models.StatusOpen
		c.conn = ev.conn
		c.send = make(chan []byte, c.opts.SendBuffer)
		c.lastOpenedAt = time.Now()
		c.retryCount = 0
		go c.readPump(ev.Gen, ev.RoomID, ev.conn)
		go c.writePump(ev.conn, c.send)
		logger.Info("Connected to room %s", ev.RoomID)
	case EventData:
		return c.status == models.StatusOpen
	case EventError:
		logger.Error("Live channel error in room %s: %v", ev.RoomID, ev.Err)
	case EventClosed:
		if c.status == models.StatusClosed || c.status == models.StatusIdle {
			return false
		}
		c.status = models.StatusClosed
		c.conn = nil
		if c.send != nil {
			close(c.send)
			c.send = nil
		}
		c.cancel = nil
		logger.Info("Live channel for room %s closed with code %d", ev.RoomID, ev.Code)
	}
	return true
}

// Abort cancels attempt gen if it is still connecting. Nothing the attempt
// produces afterwards changes state.
func (c *Channel) Abort(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.status != models.StatusConnecting {
		return false
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
	c.status = models.StatusClosed
	logger.Warn("Connect to room %s timed out; closed with code %d", c.roomID, CloseConnectTimeout)
	return true
}

// Send queues payload for transmission on the open connection.
func (c *Channel) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != models.StatusOpen || c.send == nil {
		return models.ErrNotOpen
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close shuts the current connection down normally. Later events from it are stale.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.teardownLocked(websocket.CloseNormalClosure, "")
	c.gen++
	c.status = models.StatusIdle
	c.retryCount = 0
}

// Shutdown closes the channel and releases goroutines blocked on delivering events.
func (c *Channel) Shutdown() {
	c.Close()
	c.once.Do(func() { close(c.done) })
}

func (c *Channel) Status() models.ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		RoomID:       c.roomID,
		Status:       c.status,
		Generation:   c.gen,
		LastOpenedAt: c.lastOpenedAt,
		RetryCount:   c.retryCount,
	}
}

func (c *Channel) teardownLocked(code int, reason string) {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		deadline := time.Now().Add(c.opts.WriteWait)
		if err := c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline); err != nil {
			logger.Debug("Error sending close frame: %v", err)
		}
		c.conn.Close()
		c.conn = nil
	}
	if c.send != nil {
		close(c.send)
		c.send = nil
	}
}

func (c *Channel) readPump(gen uint64, roomID string, conn Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("WebSocket read error in room %s: %v", roomID, err)
			}
			code, reason := closeDetails(err)
			c.emit(Event{Kind: EventClosed, Gen: gen, RoomID: roomID, Code: code, Reason: reason})
			return
		}
		c.emit(Event{Kind: EventData, Gen: gen, RoomID: roomID, Data: data})
	}
}

func (c *Channel) writePump(conn Conn, send <-chan []byte) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-send:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Error("Write error: %v", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func closeDetails(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	return websocket.CloseAbnormalClosure, err.Error()
}
