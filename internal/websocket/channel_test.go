package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"chat-sync/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRoomServer(t *testing.T, handle func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Query().Get("token") == "expired":
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		case r.URL.Path == "/chat/rooms/missing/ws":
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func nextEvent(t *testing.T, ch *Channel) Event {
	t.Helper()
	select {
	case ev := <-ch.Events():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for channel event")
		return Event{}
	}
}

func TestChannelRoundTrip(t *testing.T) {
	received := make(chan string, 1)
	srv := newRoomServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"id":1,"content":"hi"}`))
		_, msg, err := conn.ReadMessage()
		if err == nil {
			received <- string(msg)
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "boom"))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	ch := NewChannel(GorillaDialer{}, srv.URL, Options{})
	defer ch.Shutdown()

	gen := ch.Connect("general", "tok")
	assert.Equal(t, models.StatusConnecting, ch.Status())

	ev := nextEvent(t, ch)
	require.Equal(t, EventOpened, ev.Kind)
	assert.Equal(t, gen, ev.Gen)
	require.True(t, ch.Apply(ev))
	assert.Equal(t, models.StatusOpen, ch.Status())

	ev = nextEvent(t, ch)
	require.Equal(t, EventData, ev.Kind)
	assert.True(t, ch.Apply(ev))
	assert.JSONEq(t, `{"id":1,"content":"hi"}`, string(ev.Data))

	require.NoError(t, ch.Send([]byte("hello")))
	select {
	case got := <-received:
		assert.Equal(t, "hello", got)
	case <-time.After(5 * time.Second):
		t.Fatal("server never received the message")
	}

	ev = nextEvent(t, ch)
	require.Equal(t, EventClosed, ev.Kind)
	assert.Equal(t, websocket.CloseInternalServerErr, ev.Code)
	assert.True(t, ch.Apply(ev))
	assert.Equal(t, models.StatusClosed, ch.Status())
	assert.ErrorIs(t, ch.Send([]byte("late")), models.ErrNotOpen)
}

func TestChannelHandshakeRejection(t *testing.T) {
	srv := newRoomServer(t, func(*websocket.Conn) {})

	tests := []struct {
		name  string
		room  string
		token string
		code  int
	}{
		{"forbidden", "general", "expired", websocket.ClosePolicyViolation},
		{"room missing", "missing", "tok", websocket.CloseTryAgainLater},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := NewChannel(GorillaDialer{}, srv.URL, Options{})
			defer ch.Shutdown()

			ch.Connect(tt.room, tt.token)

			ev := nextEvent(t, ch)
			require.Equal(t, EventError, ev.Kind)
			assert.Error(t, ev.Err)
			assert.True(t, ch.Apply(ev))
			assert.Equal(t, models.StatusConnecting, ch.Status())

			ev = nextEvent(t, ch)
			require.Equal(t, EventClosed, ev.Kind)
			assert.Equal(t, tt.code, ev.Code)
			assert.True(t, ch.Apply(ev))
			assert.Equal(t, models.StatusClosed, ch.Status())
		})
	}
}

type fakeConn struct {
	mu     sync.Mutex
	closed bool
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
}
func (c *fakeConn) WriteMessage(int, []byte) error            { return nil }
func (c *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error           { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error          { return nil }
func (c *fakeConn) SetPongHandler(func(string) error)         {}
func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// gatedDialer holds every dial until released or cancelled.
type gatedDialer struct {
	release chan struct{}
	conns   chan *fakeConn
}

func (d *gatedDialer) DialContext(ctx context.Context, _ string, _ http.Header) (Conn, *http.Response, error) {
	select {
	case <-d.release:
		conn := &fakeConn{}
		d.conns <- conn
		return conn, nil, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

func TestChannelIgnoresSupersededAttempt(t *testing.T) {
	d := &gatedDialer{release: make(chan struct{}), conns: make(chan *fakeConn, 2)}
	ch := NewChannel(d, "http://chat.local", Options{})
	defer ch.Shutdown()

	first := ch.Connect("general", "tok")
	second := ch.Connect("general", "tok")
	require.Greater(t, second, first)

	stale := Event{Kind: EventOpened, Gen: first, RoomID: "general", conn: &fakeConn{}}
	assert.False(t, ch.Apply(stale))
	assert.True(t, stale.conn.(*fakeConn).isClosed())
	assert.Equal(t, models.StatusConnecting, ch.Status())

	assert.False(t, ch.Apply(Event{Kind: EventClosed, Gen: first, Code: 1006}))
	assert.Equal(t, models.StatusConnecting, ch.Status())
	assert.Equal(t, 1, ch.State().RetryCount)

	close(d.release)
	ev := nextEvent(t, ch)
	require.Equal(t, second, ev.Gen)
	require.True(t, ch.Apply(ev))
	assert.Equal(t, models.StatusOpen, ch.Status())
	assert.Equal(t, 0, ch.State().RetryCount)
}

func TestChannelAbortStopsConnectingAttempt(t *testing.T) {
	d := &gatedDialer{release: make(chan struct{}), conns: make(chan *fakeConn, 1)}
	ch := NewChannel(d, "http://chat.local", Options{})
	defer ch.Shutdown()

	gen := ch.Connect("general", "tok")
	require.True(t, ch.Abort(gen))
	assert.Equal(t, models.StatusClosed, ch.Status())
	assert.False(t, ch.Abort(gen))

	// the cancelled dial emits nothing
	select {
	case ev := <-ch.Events():
		t.Fatalf("unexpected event after abort: %v", ev.Kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestChannelAbortIgnoresOpenChannel(t *testing.T) {
	d := &gatedDialer{release: make(chan struct{}), conns: make(chan *fakeConn, 1)}
	close(d.release)
	ch := NewChannel(d, "http://chat.local", Options{})
	defer ch.Shutdown()

	gen := ch.Connect("general", "tok")
	require.True(t, ch.Apply(nextEvent(t, ch)))

	assert.False(t, ch.Abort(gen))
	assert.Equal(t, models.StatusOpen, ch.Status())
}

func TestChannelCloseMakesLaterEventsStale(t *testing.T) {
	d := &gatedDialer{release: make(chan struct{}), conns: make(chan *fakeConn, 1)}
	close(d.release)
	ch := NewChannel(d, "http://chat.local", Options{})
	defer ch.Shutdown()

	gen := ch.Connect("general", "tok")
	require.True(t, ch.Apply(nextEvent(t, ch)))
	conn := <-d.conns

	ch.Close()
	assert.Equal(t, models.StatusIdle, ch.Status())
	assert.True(t, conn.isClosed())
	assert.False(t, ch.Apply(Event{Kind: EventClosed, Gen: gen, Code: 1006}))
	assert.ErrorIs(t, ch.Send([]byte("x")), models.ErrNotOpen)
}

func TestEndpoint(t *testing.T) {
	tests := []struct {
		base string
		want string
		ok   bool
	}{
		{"http://localhost:8000", "ws://localhost:8000/chat/rooms/general/ws?token=abc", true},
		{"https://chat.example.com/api/", "wss://chat.example.com/api/chat/rooms/general/ws?token=abc", true},
		{"wss://chat.example.com", "wss://chat.example.com/chat/rooms/general/ws?token=abc", true},
		{"ftp://chat.example.com", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			got, err := Endpoint(tt.base, "general", "abc")
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyClose(t *testing.T) {
	tests := []struct {
		code       int
		class      CloseClass
		reconnects bool
	}{
		{1000, CloseNormal, false},
		{1001, CloseNormal, false},
		{1006, CloseAbnormal, true},
		{1008, CloseAuthFailed, true},
		{1011, CloseServerError, true},
		{1013, CloseRoomMissing, true},
		{CloseConnectTimeout, CloseAbnormal, true},
	}
	for _, tt := range tests {
		class := ClassifyClose(tt.code)
		assert.Equal(t, tt.class, class, "code %d", tt.code)
		assert.Equal(t, tt.reconnects, class.Reconnects(), "code %d", tt.code)
		assert.NotEmpty(t, class.Notice())
	}
}

func TestHandshakeCode(t *testing.T) {
	assert.Equal(t, 1006, handshakeCode(nil))
	assert.Equal(t, 1008, handshakeCode(&http.Response{StatusCode: 401}))
	assert.Equal(t, 1008, handshakeCode(&http.Response{StatusCode: 403}))
	assert.Equal(t, 1013, handshakeCode(&http.Response{StatusCode: 404}))
	assert.Equal(t, 1011, handshakeCode(&http.Response{StatusCode: 502}))
	assert.Equal(t, 1006, handshakeCode(&http.Response{StatusCode: 400}))
}
