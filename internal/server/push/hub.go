// Package push serves the WebSocket push channel: per-thread rooms, personal
// delivery to every connection of a user and the client commands.
package push

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/and161185/leaguechat/internal/auth"
	"github.com/and161185/leaguechat/internal/convert"
	"github.com/and161185/leaguechat/internal/errs"
	"github.com/and161185/leaguechat/internal/metrics"
	"github.com/and161185/leaguechat/internal/model"
	"github.com/and161185/leaguechat/internal/service"
	"github.com/and161185/leaguechat/internal/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 64 << 10
	commandTimeout = 5 * time.Second
)

// Backend is what the hub needs from the chat service.
type Backend interface {
	CanJoin(ctx context.Context, caller, threadID string) error
	MarkAllAsRead(ctx context.Context, caller, threadID, userID string) error
}

type client struct {
	userID string
	ws     *websocket.Conn
	send   chan wire.Frame
	rooms  map[string]struct{} // guarded by Hub.mu
	once   sync.Once
	done   chan struct{}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub tracks connected clients and fans events out to them.
type Hub struct {
	backend  Backend
	verifier *auth.Verifier
	upgrader websocket.Upgrader
	log      *zap.Logger
	met      *metrics.Metrics
	sendBuf  int

	mu     sync.RWMutex
	byUser map[string]map[*client]struct{}
	rooms  map[string]map[*client]struct{}
}

var _ service.Publisher = (*Hub)(nil)

type Option func(*Hub)

func WithLogger(l *zap.Logger) Option       { return func(h *Hub) { h.log = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(h *Hub) { h.met = m } }
func WithSendBuffer(n int) Option           { return func(h *Hub) { h.sendBuf = n } }

// WithCheckOrigin overrides the upgrader's origin check.
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

// NewHub returns a hub authenticating handshakes with verifier.
func NewHub(backend Backend, verifier *auth.Verifier, opts ...Option) *Hub {
	h := &Hub{
		backend:  backend,
		verifier: verifier,
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		log:      zap.NewNop(),
		sendBuf:  64,
		byUser:   make(map[string]map[*client]struct{}),
		rooms:    make(map[string]map[*client]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	if h.log == nil {
		h.log = zap.NewNop()
	}
	return h
}

// ServeHTTP upgrades an authenticated request and serves the connection until
// it closes. The token comes from the Authorization header or the
// access_token query parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tok, ok := auth.FromHeader(r.Header.Get("Authorization"))
	if !ok {
		tok = r.URL.Query().Get("access_token")
	}
	id, err := h.verifier.Verify(tok)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("upgrade failed", zap.Error(err))
		return
	}
	c := &client{
		userID: id.UserID,
		ws:     ws,
		send:   make(chan wire.Frame, h.sendBuf),
		rooms:  make(map[string]struct{}),
		done:   make(chan struct{}),
	}
	h.register(c)
	h.log.Debug("push client connected", zap.String("user", c.userID))

	go h.writePump(c)
	h.readPump(r.Context(), c)

	h.unregister(c)
	c.close()
	_ = ws.Close()
	h.log.Debug("push client disconnected", zap.String("user", c.userID))
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.byUser[c.userID]
	if set == nil {
		set = make(map[*client]struct{})
		h.byUser[c.userID] = set
	}
	set[c] = struct{}{}
	h.met.ConnOpened()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.byUser[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.byUser, c.userID)
	}
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	h.met.ConnClosed()
}

func (h *Hub) leaveLocked(c *client, room string) {
	delete(c.rooms, room)
	if members := h.rooms[room]; members != nil {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) join(c *client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.rooms[room]
	if members == nil {
		members = make(map[*client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) leave(c *client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

// enqueue hands f to c without blocking. A client whose buffer is full is
// disconnected; it resynchronizes on reconnect.
func (h *Hub) enqueue(c *client, f wire.Frame) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- f:
		h.met.FrameOut(f.Type)
	default:
		h.log.Warn("push client too slow, dropping", zap.String("user", c.userID))
		c.close()
	}
}

// Publish delivers ev to the room of threadID and to every connection of userIDs.
// A connection reached both ways receives the event once.
func (h *Hub) Publish(threadID string, userIDs []string, ev model.Event) {
	f, err := convert.ToFrame(ev)
	if err != nil {
		h.log.Error("encode event", zap.Error(err))
		return
	}
	h.mu.RLock()
	targets := make(map[*client]struct{}, len(h.rooms[threadID]))
	for c := range h.rooms[threadID] {
		targets[c] = struct{}{}
	}
	for _, uid := range userIDs {
		for c := range h.byUser[uid] {
			targets[c] = struct{}{}
		}
	}
	h.mu.RUnlock()
	for c := range targets {
		h.enqueue(c, f)
	}
}

// PublishUser delivers ev to every connection of userID.
func (h *Hub) PublishUser(userID string, ev model.Event) {
	h.Publish("", []string{userID}, ev)
}

// RoomSize returns the number of connections joined to threadID.
func (h *Hub) RoomSize(threadID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[threadID])
}

// Connections returns the number of connections of userID.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	var all []*client
	for _, set := range h.byUser {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range all {
		c.close()
	}
}

func (h *Hub) readPump(ctx context.Context, c *client) {
	c.ws.SetReadLimit(maxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var f wire.Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("push read", zap.String("user", c.userID), zap.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		h.met.FrameIn(f.Type)
		h.command(ctx, c, f)
	}
}

func (h *Hub) command(ctx context.Context, c *client, f wire.Frame) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var err error
	switch f.Type {
	case wire.CmdJoin:
		if err = h.backend.CanJoin(ctx, c.userID, f.ThreadID); err == nil {
			h.join(c, f.ThreadID)
		}
	case wire.CmdLeave:
		h.leave(c, f.ThreadID)
	case wire.CmdMarkRead:
		var req model.ReadRequest
		if req, err = convert.FromReadFrame(f); err != nil {
			break
		}
		if req.UserID != "" && req.UserID != c.userID {
			err = errs.ErrForbidden
			break
		}
		err = h.backend.MarkAllAsRead(ctx, c.userID, req.ThreadID, c.userID)
	default:
		err = errors.New("unknown command " + f.Type)
	}
	if err != nil {
		h.log.Info("push command rejected",
			zap.String("user", c.userID),
			zap.String("type", f.Type),
			zap.String("thread", f.ThreadID),
			zap.Error(err),
		)
		h.enqueue(c, convert.ErrorFrame(f.ThreadID, err))
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case f := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(f); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			return
		}
	}
}
