// Package engine runs the realtime synchronization loop for the active room.
//
// Every state change happens on the goroutine executing Run: user actions,
// request completions, timer expiries and live channel events are all
// queued onto it. Completions re-check that their room is still active
// before they touch the timeline.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"chat-sync/internal/config"
	"chat-sync/internal/delivery"
	"chat-sync/internal/history"
	"chat-sync/internal/ingest"
	"chat-sync/internal/models"
	"chat-sync/internal/timeline"
	"chat-sync/internal/websocket"
	"chat-sync/pkg/logger"

	"github.com/google/uuid"
)

const (
	ConnectedNotice = "Connected to the chat room."
	ErrorNotice     = "Chat connection error. Reconnecting automatically shortly."
	TimeoutNotice   = "Cannot reach the chat server. Check your network connection."
	HistoryNotice   = "Could not load messages for this room."
	DeleteNotice    = "Could not delete the message."
)

// LiveChannel is the persistent connection as the engine drives it.
type LiveChannel interface {
	Connect(roomID, token string) uint64
	Apply(ev websocket.Event) bool
	Abort(gen uint64) bool
	Send(payload []byte) error
	Close()
	Status() models.ConnectionStatus
	State() websocket.State
	Events() <-chan websocket.Event
}

type Deleter interface {
	DeleteMessage(ctx context.Context, token, roomID, messageID string) error
}

// Archive receives durable messages as they are applied. It is optional.
type Archive interface {
	SaveMessages(ctx context.Context, msgs []models.Message) (int, error)
	MarkDeleted(ctx context.Context, roomID, messageID string) error
}

// Presenter is notified from the engine loop; implementations must not block.
type Presenter interface {
	TimelineChanged(change timeline.Change)
	ScrollToLatest(roomID string)
	StatusChanged(state websocket.State)
	Alert(err error)
}

type nopPresenter struct{}

func (nopPresenter) TimelineChanged(timeline.Change) {}
func (nopPresenter) ScrollToLatest(string)           {}
func (nopPresenter) StatusChanged(websocket.State)   {}
func (nopPresenter) Alert(err error)                 { logger.Error("%v", err) }

type Deps struct {
	Channel   LiveChannel
	Fetcher   history.Fetcher
	Poster    delivery.Poster
	Deleter   Deleter
	Presence  ingest.PresenceHandler
	Presenter Presenter
	Archive   Archive
	Scheduler Scheduler
}

type Engine struct {
	cfg       config.SyncConfig
	channel   LiveChannel
	deleter   Deleter
	presenter Presenter
	archive   Archive
	sched     Scheduler

	store    *timeline.Store
	pipeline *ingest.Pipeline
	loader   *history.Loader
	sender   *delivery.Coordinator

	tasks chan func()
	done  chan struct{}
	once  sync.Once
	spawn func(func())
	now   func() time.Time

	// owned by the loop
	ctx       context.Context
	sess      models.Session
	active    string
	loading   bool
	loadSeq   uint64
	watchdog  timerSlot
	reconnect timerSlot
	health    timerSlot

	mu         sync.RWMutex
	activeCopy string
}

func New(cfg config.SyncConfig, sess models.Session, deps Deps) *Engine {
	if deps.Presenter == nil {
		deps.Presenter = nopPresenter{}
	}
	if deps.Scheduler == nil {
		deps.Scheduler = realScheduler{}
	}

	store := timeline.NewStore()
	e := &Engine{
		cfg:       cfg,
		channel:   deps.Channel,
		deleter:   deps.Deleter,
		presenter: deps.Presenter,
		archive:   deps.Archive,
		sched:     deps.Scheduler,
		store:     store,
		pipeline:  ingest.NewPipeline(store, deps.Presence, cfg.ChatDedupWindow, cfg.SystemDedupWindow),
		loader:    history.NewLoader(deps.Fetcher, cfg.PageSize),
		sender:    delivery.NewCoordinator(store, deps.Channel, deps.Poster),
		tasks:     make(chan func(), 256),
		done:      make(chan struct{}),
		spawn:     func(f func()) { go f() },
		now:       time.Now,
		ctx:       context.Background(),
		sess:      sess,
	}
	store.Observe(e.onChange)
	return e
}

// Run processes queued work until ctx is cancelled, then tears the room down.
func (e *Engine) Run(ctx context.Context) error {
	e.ctx = ctx
	defer func() {
		e.teardown()
		e.once.Do(func() { close(e.done) })
	}()

	logger.Info("Sync engine started for %s", e.sess.Username)
	for {
		select {
		case <-ctx.Done():
			logger.Info("Sync engine stopping")
			return nil
		case fn := <-e.tasks:
			fn()
		case ev := <-e.channel.Events():
			e.handleEvent(ev)
		}
	}
}

func (e *Engine) enqueue(fn func()) {
	select {
	case e.tasks <- fn:
	case <-e.done:
	}
}

// async runs work off the loop and queues apply with its result.
func (e *Engine) async(work func(ctx context.Context) func()) {
	ctx := e.ctx
	e.spawn(func() {
		apply := work(ctx)
		e.enqueue(apply)
	})
}

func (e *Engine) SelectRoom(roomID string) { e.enqueue(func() { e.selectRoom(roomID) }) }
func (e *Engine) Deselect()                { e.enqueue(e.teardown) }
func (e *Engine) LoadOlder()               { e.enqueue(e.loadOlder) }
func (e *Engine) Send(body string)         { e.enqueue(func() { e.send(body) }) }

func (e *Engine) LoadPage(roomID string, page int, replace bool) {
	e.enqueue(func() { e.loadPage(roomID, page, replace) })
}

func (e *Engine) DeleteMessage(id string) {
	e.enqueue(func() { e.deleteMessage(id) })
}

func (e *Engine) Snapshot() []models.Message      { return e.store.Snapshot() }
func (e *Engine) Status() models.ConnectionStatus { return e.channel.Status() }
func (e *Engine) Cursor() history.Cursor          { return e.loader.Cursor() }

func (e *Engine) ActiveRoom() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.activeCopy
}

func (e *Engine) setActive(roomID string) {
	e.active = roomID
	e.mu.Lock()
	e.activeCopy = roomID
	e.mu.Unlock()
}

func (e *Engine) selectRoom(roomID string) {
	if roomID == "" {
		e.teardown()
		return
	}
	if roomID == e.active {
		return
	}
	if !e.sess.Authenticated() {
		logger.Warn("Cannot select room %s without a credential", roomID)
		return
	}

	e.teardown()
	e.setActive(roomID)
	e.store.Reset(roomID)
	e.loader.Reset(roomID)
	logger.Info("Selected room %s", roomID)

	e.loadPage(roomID, 1, true)
	e.connect()
	e.scheduleHealth()
}

// teardown cancels everything tied to the active room.
func (e *Engine) teardown() {
	e.watchdog.stop()
	e.reconnect.stop()
	e.health.stop()
	if e.active == "" {
		return
	}
	logger.Info("Leaving room %s", e.active)
	e.channel.Close()
	e.setActive("")
	e.store.Reset("")
	e.loader.Reset("")
	e.loading = false
	e.presenter.StatusChanged(e.channel.State())
}

func (e *Engine) connect() {
	if e.active == "" || !e.sess.Authenticated() {
		return
	}
	gen := e.channel.Connect(e.active, e.sess.Token)
	e.watchdog.arm(e.sched, e.cfg.ConnectTimeout, e.enqueue, func() { e.onWatchdog(gen) })
	e.presenter.StatusChanged(e.channel.State())
}

func (e *Engine) onWatchdog(gen uint64) {
	if !e.channel.Abort(gen) {
		return
	}
	e.notice("timeout", TimeoutNotice, models.KindError)
	e.presenter.StatusChanged(e.channel.State())
}

func (e *Engine) scheduleHealth() {
	e.health.arm(e.sched, e.cfg.HealthInterval, e.enqueue, e.onHealth)
}

// onHealth reconnects the active room whenever its channel is not open.
func (e *Engine) onHealth() {
	if e.active == "" {
		return
	}
	if st := e.channel.Status(); st != models.StatusOpen {
		logger.Info("Health check found room %s %s; reconnecting", e.active, st)
		e.connect()
	}
	e.scheduleHealth()
}

func (e *Engine) scheduleReconnect(roomID string) {
	logger.Info("Reconnecting to room %s in %s", roomID, e.cfg.ReconnectDelay)
	e.reconnect.arm(e.sched, e.cfg.ReconnectDelay, e.enqueue, func() { e.onReconnect(roomID) })
}

func (e *Engine) onReconnect(roomID string) {
	if roomID != e.active {
		logger.Debug("Suppressing reconnect to inactive room %s", roomID)
		return
	}
	if st := e.channel.Status(); st == models.StatusOpen || st == models.StatusConnecting {
		return
	}
	e.connect()
}

func (e *Engine) handleEvent(ev websocket.Event) {
	if !e.channel.Apply(ev) {
		return
	}

	switch ev.Kind {
	case websocket.EventOpened:
		e.watchdog.stop()
		e.reconnect.stop()
		e.pipeline.AppendSystem(models.NewNotice("system-connect-"+uuid.NewString(), ev.RoomID, ConnectedNotice, models.KindSystem, e.now()))
		e.presenter.StatusChanged(e.channel.State())

	case websocket.EventData:
		switch e.pipeline.Push(ev.RoomID, ev.Data) {
		case ingest.OutcomeAppended, ingest.OutcomeAdopted:
			e.presenter.ScrollToLatest(ev.RoomID)
		}

	case websocket.EventError:
		e.notice("error", ErrorNotice, models.KindError)

	case websocket.EventClosed:
		e.watchdog.stop()
		e.presenter.StatusChanged(e.channel.State())
		class := websocket.ClassifyClose(ev.Code)
		if !class.Reconnects() {
			logger.Info("Live channel for room %s closed normally", ev.RoomID)
			return
		}
		logger.Warn("%v", &models.TransportError{RoomID: ev.RoomID, Code: ev.Code, Err: errors.New(class.String())})
		e.notice("close", class.Notice(), models.KindError)
		e.scheduleReconnect(ev.RoomID)
	}
}

func (e *Engine) notice(prefix, content string, kind models.MessageKind) {
	if e.active == "" {
		return
	}
	id := fmt.Sprintf("%s-%s", prefix, uuid.NewString())
	e.pipeline.AppendSystem(models.NewNotice(id, e.active, content, kind, e.now()))
}

func (e *Engine) loadOlder() {
	cur := e.loader.Cursor()
	if e.active == "" || e.loading || !cur.HasMore {
		return
	}
	e.loadPage(e.active, cur.Page+1, false)
}

func (e *Engine) loadPage(roomID string, page int, replace bool) {
	if roomID == "" || roomID != e.active || !e.sess.Authenticated() {
		return
	}
	if page < 1 {
		page = 1
	}
	e.loading = true
	e.loadSeq++
	seq := e.loadSeq
	sess := e.sess

	e.async(func(ctx context.Context) func() {
		p, err := e.loader.Fetch(ctx, sess, roomID, page, replace)
		return func() { e.applyPage(seq, roomID, p, err) }
	})
}

func (e *Engine) applyPage(seq uint64, roomID string, p history.Page, err error) {
	if seq != e.loadSeq {
		logger.Debug("Discarding superseded history page %d of room %s", p.Number, roomID)
		return
	}
	e.loading = false
	if roomID != e.active {
		logger.Debug("Discarding history page for inactive room %s", roomID)
		return
	}
	if err != nil {
		logger.Error("Error loading history for room %s: %v", roomID, err)
		e.notice("history", HistoryNotice, models.KindError)
		return
	}

	e.loader.Advance(p)
	n := e.pipeline.ApplyPage(roomID, p.Messages, p.Replace)
	logger.Debug("Applied page %d of room %s (%s): %d messages, hasMore=%t", p.Number, roomID, p.Shape, n, p.HasMore)
	if p.Replace {
		e.presenter.ScrollToLatest(roomID)
	}
}

func (e *Engine) send(body string) {
	p, pending, err := e.sender.Begin(e.sess, e.active, body)
	if err != nil {
		logger.Debug("Send ignored: %v", err)
		return
	}
	if !pending {
		return
	}
	e.presenter.ScrollToLatest(p.RoomID)

	e.async(func(ctx context.Context) func() {
		res, err := e.sender.Deliver(ctx, p)
		return func() {
			if err := e.sender.Reconcile(p, res, err); err != nil {
				e.presenter.Alert(err)
			}
		}
	})
}

func (e *Engine) deleteMessage(id string) {
	if e.active == "" || !e.sess.Authenticated() || id == "" {
		return
	}
	if _, ok := e.store.Find(id); !ok {
		logger.Debug("Delete ignored: message %s not in timeline", id)
		return
	}
	if strings.HasPrefix(id, models.ProvisionalPrefix) {
		logger.Debug("Delete ignored: message %s is not confirmed yet", id)
		return
	}
	roomID, sess := e.active, e.sess

	e.async(func(ctx context.Context) func() {
		err := e.deleter.DeleteMessage(ctx, sess.Token, roomID, id)
		return func() {
			if err != nil {
				logger.Error("Error deleting message %s: %v", id, err)
				if roomID == e.active {
					e.notice("delete", DeleteNotice, models.KindError)
				}
				return
			}
			logger.Info("Deleted message %s in room %s", id, roomID)
			e.archiveDelete(roomID, id)
			e.loadPage(roomID, 1, true)
		}
	})
}

// onChange forwards store mutations to the presenter and the archive.
func (e *Engine) onChange(c timeline.Change) {
	e.presenter.TimelineChanged(c)
	if e.archive == nil || c.Kind == timeline.ChangeReset {
		return
	}
	msgs := c.Messages
	e.spawn(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := e.archive.SaveMessages(ctx, msgs); err != nil {
			logger.Warn("Error archiving messages: %v", err)
		}
	})
}

func (e *Engine) archiveDelete(roomID, id string) {
	if e.archive == nil {
		return
	}
	e.spawn(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.archive.MarkDeleted(ctx, roomID, id); err != nil {
			logger.Warn("Error archiving deletion of %s: %v", id, err)
		}
	})
}
