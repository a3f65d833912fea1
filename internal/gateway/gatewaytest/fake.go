// Package gatewaytest provides in-memory gateway fakes for tests.
package gatewaytest

import (
	"context"
	"sync"

	"github.com/and161185/leaguechat/internal/errs"
	"github.com/and161185/leaguechat/internal/gateway"
	"github.com/and161185/leaguechat/internal/model"
)

// API is a scriptable gateway.API. Zero value returns empty results.
type API struct {
	mu sync.Mutex

	Threads    []model.Thread
	ThreadsErr error

	Thread    model.Thread
	ThreadErr error

	Messages    map[string][]model.Message
	MessagesErr error

	Sent    model.Message
	SendErr error

	DeleteErr   error
	MarkReadErr error

	Created   model.Thread
	CreateErr error

	// Block, when set, is received from before every call returns.
	Block chan struct{}

	Calls    []string
	SendReqs []model.SendRequest
	Deleted  []string
	MarkedBy []string // "threadID/userID"
}

var _ gateway.API = (*API)(nil)

func (a *API) record(call string) {
	a.mu.Lock()
	a.Calls = append(a.Calls, call)
	a.mu.Unlock()
}

func (a *API) wait(ctx context.Context) error {
	if a.Block == nil {
		return nil
	}
	select {
	case <-a.Block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *API) ListThreads(ctx context.Context, _ string) ([]model.Thread, error) {
	a.record("ListThreads")
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.Thread(nil), a.Threads...), a.ThreadsErr
}

func (a *API) GetThread(ctx context.Context, _ string) (model.Thread, error) {
	a.record("GetThread")
	if err := a.wait(ctx); err != nil {
		return model.Thread{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Thread, a.ThreadErr
}

func (a *API) GetMessages(ctx context.Context, threadID string, _, _ int) ([]model.Message, error) {
	a.record("GetMessages")
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.MessagesErr != nil {
		return nil, a.MessagesErr
	}
	return append([]model.Message(nil), a.Messages[threadID]...), nil
}

func (a *API) SendMessage(ctx context.Context, req model.SendRequest) (model.Message, error) {
	a.record("SendMessage")
	if err := a.wait(ctx); err != nil {
		return model.Message{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.SendReqs = append(a.SendReqs, req)
	return a.Sent, a.SendErr
}

func (a *API) DeleteMessage(ctx context.Context, messageID string) error {
	a.record("DeleteMessage")
	if err := a.wait(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.DeleteErr == nil {
		a.Deleted = append(a.Deleted, messageID)
	}
	return a.DeleteErr
}

func (a *API) MarkAllAsRead(ctx context.Context, threadID, userID string) error {
	a.record("MarkAllAsRead")
	if err := a.wait(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.MarkedBy = append(a.MarkedBy, threadID+"/"+userID)
	return a.MarkReadErr
}

func (a *API) CreateThread(ctx context.Context, _ string, _ []string, _ bool) (model.Thread, error) {
	a.record("CreateThread")
	if err := a.wait(ctx); err != nil {
		return model.Thread{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Created, a.CreateErr
}

// Channel is an in-memory gateway.PushChannel. Deliver pushes events to listeners.
type Channel struct {
	mu        sync.Mutex
	connected bool
	nextID    int
	handlers  map[model.EventKind]map[int]gateway.Handler
	status    map[int]func(bool)
	rooms     map[string]int // joined rooms
	leaves    []string
	reads     []model.ReadRequest

	ConnectErr  error
	MarkReadErr error
}

var _ gateway.PushChannel = (*Channel)(nil)

// NewChannel returns a channel in the given connectivity state.
func NewChannel(connected bool) *Channel {
	return &Channel{
		connected: connected,
		handlers:  map[model.EventKind]map[int]gateway.Handler{},
		status:    map[int]func(bool){},
		rooms:     map[string]int{},
	}
}

func (c *Channel) Connect(context.Context) error {
	if c.ConnectErr != nil {
		return c.ConnectErr
	}
	c.SetConnected(true)
	return nil
}

func (c *Channel) Disconnect() error {
	c.SetConnected(false)
	return nil
}

// SetConnected flips connectivity and notifies status observers.
func (c *Channel) SetConnected(v bool) {
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
		c.handlers[kind] = map[int]gateway.Handler{}
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

func (c *Channel) JoinThread(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[id]; ok {
		return nil
	}
	c.rooms[id] = 1
	return nil
}

func (c *Channel) LeaveThread(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[id]; !ok {
		return nil
	}
	delete(c.rooms, id)
	c.leaves = append(c.leaves, id)
	return nil
}

func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Channel) MarkRead(_ context.Context, req model.ReadRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return errs.ErrNotConnected
	}
	if c.MarkReadErr != nil {
		return c.MarkReadErr
	}
	c.reads = append(c.reads, req)
	return nil
}

// Deliver dispatches ev to the listeners of its kind and reports how many received it.
func (c *Channel) Deliver(ev model.Event) int {
	c.mu.Lock()
	hs := make([]gateway.Handler, 0, len(c.handlers[ev.Kind()]))
	for _, h := range c.handlers[ev.Kind()] {
		hs = append(hs, h)
	}
	c.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
	return len(hs)
}

// Listeners returns the number of handlers registered for kind.
func (c *Channel) Listeners(kind model.EventKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers[kind])
}

// Rooms returns the currently joined rooms.
func (c *Channel) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	return out
}

// Leaves returns the rooms left so far, in order.
func (c *Channel) Leaves() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.leaves...)
}

// Reads returns the read requests sent so far.
func (c *Channel) Reads() []model.ReadRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.ReadRequest(nil), c.reads...)
}
