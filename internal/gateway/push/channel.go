// Package push implements gateway.PushChannel over a WebSocket connection.
package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/and161185/leaguechat/internal/convert"
	"github.com/and161185/leaguechat/internal/errs"
	"github.com/and161185/leaguechat/internal/gateway"
	"github.com/and161185/leaguechat/internal/model"
	"github.com/and161185/leaguechat/internal/wire"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

// Config configures a Channel.
type Config struct {
	URL   string // ws:// or wss:// endpoint
	Token string // bearer token sent on the handshake

	// Reconnect redials after an unexpected drop, at most once per ReconnectEvery.
	Reconnect      bool
	ReconnectEvery time.Duration

	Dialer *websocket.Dialer
	Logger *zap.Logger
}

// Channel is a reconnecting WebSocket push channel. Room membership survives
// reconnects: joined rooms are re-announced on every new connection.
type Channel struct {
	cfg     Config
	log     *zap.Logger
	dialer  *websocket.Dialer
	limiter *rate.Limiter

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	stop      context.CancelFunc
	done      chan struct{}
	nextID    uint64
	handlers  map[model.EventKind]map[uint64]gateway.Handler
	status    map[uint64]func(bool)
	rooms     map[string]struct{}

	writeMu sync.Mutex
}

var _ gateway.PushChannel = (*Channel)(nil)

// New returns a disconnected channel.
func New(cfg Config) *Channel {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	d := cfg.Dialer
	if d == nil {
		d = websocket.DefaultDialer
	}
	every := cfg.ReconnectEvery
	if every <= 0 {
		every = 2 * time.Second
	}
	return &Channel{
		cfg:      cfg,
		log:      log,
		dialer:   d,
		limiter:  rate.NewLimiter(rate.Every(every), 1),
		handlers: map[model.EventKind]map[uint64]gateway.Handler{},
		status:   map[uint64]func(bool){},
		rooms:    map[string]struct{}{},
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	h := http.Header{}
	if c.cfg.Token != "" {
		h.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, h)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("push dial: %w", errs.ErrUnauthorized)
		}
		return nil, fmt.Errorf("push dial: %w: %v", errs.ErrUnavailable, err)
	}
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	return conn, nil
}

// Connect dials the endpoint and starts the read loop. Connecting an already
// connected channel is a no-op.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.stop != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	loopCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.mu.Lock()
	if c.stop != nil {
		c.mu.Unlock()
		stop()
		conn.Close()
		return nil
	}
	c.stop, c.done = stop, done
	c.mu.Unlock()

	if !c.attach(loopCtx, conn) {
		conn.Close()
		close(done)
		return nil
	}
	go c.run(loopCtx, conn, done)
	return nil
}

// Disconnect closes the connection and stops reconnecting.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	stop, done, conn := c.stop, c.done, c.conn
	c.stop, c.done = nil, nil
	if stop != nil {
		// canceled under mu so a concurrent attach either lands before us or is refused
		stop()
	}
	c.mu.Unlock()
	if stop == nil {
		return nil
	}
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		conn.Close()
	}
	<-done
	return nil
}

// attach makes conn current, re-announces rooms and reports connected.
// It refuses conn once ctx is canceled; the caller then owns conn.
func (c *Channel) attach(ctx context.Context, conn *websocket.Conn) bool {
	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		return false
	}
	c.conn = conn
	rooms := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}
	c.mu.Unlock()

	for _, r := range rooms {
		if err := c.writeTo(conn, convert.JoinFrame(r), time.Now().Add(writeWait)); err != nil {
			c.log.Warn("rejoin failed", zap.String("thread", r), zap.Error(err))
		}
	}
	c.setConnected(true)
	return true
}

func (c *Channel) detach() {
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	c.setConnected(false)
}

func (c *Channel) run(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		err := c.readLoop(conn)
		conn.Close()
		if ctx.Err() != nil {
			c.detach()
			return
		}
		c.log.Info("push connection lost", zap.Error(err))
		if !c.cfg.Reconnect {
			c.mu.Lock()
			if c.stop != nil {
				c.stop()
			}
			c.stop, c.done = nil, nil
			c.mu.Unlock()
			c.detach()
			return
		}
		c.detach()

		for {
			if err := c.limiter.Wait(ctx); err != nil {
				return
			}
			next, err := c.dial(ctx)
			if err == nil {
				conn = next
				break
			}
			c.log.Debug("push redial failed", zap.Error(err))
		}
		if !c.attach(ctx, conn) {
			conn.Close()
			return
		}
	}
}

func (c *Channel) readLoop(conn *websocket.Conn) error {
	for {
		var f wire.Frame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if f.Type == wire.TypeError {
			c.log.Warn("push command rejected", zap.String("thread", f.ThreadID), zap.ByteString("data", f.Data))
			continue
		}
		ev, err := convert.FromFrame(f)
		if err != nil {
			c.log.Debug("dropping frame", zap.String("type", f.Type), zap.Error(err))
			continue
		}
		c.dispatch(ev)
	}
}

func (c *Channel) dispatch(ev model.Event) {
	c.mu.Lock()
	hs := make([]gateway.Handler, 0, len(c.handlers[ev.Kind()]))
	for _, h := range c.handlers[ev.Kind()] {
		hs = append(hs, h)
	}
	c.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (c *Channel) setConnected(v bool) {
	c.mu.Lock()
	if c.connected == v {
		c.mu.Unlock()
		return
	}
	c.connected = v
	obs := make([]func(bool), 0, len(c.status))
	for _, fn := range c.status {
		obs = append(obs, fn)
	}
	c.mu.Unlock()
	for _, fn := range obs {
		fn(v)
	}
}

func (c *Channel) On(kind model.EventKind, h gateway.Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	if c.handlers[kind] == nil {
		c.handlers[kind] = map[uint64]gateway.Handler{}
	}
	c.handlers[kind][id] = h
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[kind], id)
	}
}

func (c *Channel) OnStatus(fn func(bool)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.status[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.status, id)
	}
}

func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// JoinThread subscribes to a room. The subscription is remembered while disconnected.
func (c *Channel) JoinThread(threadID string) error {
	c.mu.Lock()
	if _, ok := c.rooms[threadID]; ok {
		c.mu.Unlock()
		return nil
	}
	c.rooms[threadID] = struct{}{}
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return c.writeTo(conn, convert.JoinFrame(threadID), time.Now().Add(writeWait))
}

func (c *Channel) LeaveThread(threadID string) error {
	c.mu.Lock()
	if _, ok := c.rooms[threadID]; !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.rooms, threadID)
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return c.writeTo(conn, convert.LeaveFrame(threadID), time.Now().Add(writeWait))
}

// MarkRead sends a read request. It fails with errs.ErrNotConnected while disconnected.
func (c *Channel) MarkRead(ctx context.Context, req model.ReadRequest) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errs.ErrNotConnected
	}
	f, err := convert.ReadFrame(req)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return c.writeTo(conn, f, deadline)
}

func (c *Channel) writeTo(conn *websocket.Conn, f wire.Frame, deadline time.Time) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(f); err != nil {
		return fmt.Errorf("push write %s: %w", f.Type, err)
	}
	return nil
}

// Rooms returns the remembered room subscriptions.
func (c *Channel) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	return out
}
