// Package reconciler bridges push-channel events into the synchronization store
// and manages room membership for the open thread.
package reconciler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/leaguechat/internal/gateway"
	"github.com/and161185/leaguechat/internal/model"
	"github.com/and161185/leaguechat/internal/store"
)

const (
	// readTimeout bounds a single auto read receipt.
	readTimeout   = 5 * time.Second
	// resyncTimeout bounds the reload that follows a reconnect.
	resyncTimeout = 15 * time.Second
)

var kinds = []model.EventKind{
	model.EventNewMessage,
	model.EventMessageSent,
	model.EventMessageDeleted,
	model.EventMessageRead,
	model.EventUnreadCount,
}

// Reconciler applies push events to a store for the current user.
type Reconciler struct {
	st  *store.Store
	ch  gateway.PushChannel
	me  model.User
	log *zap.Logger
	now func() time.Time

	mu        sync.Mutex
	started   bool
	offStatus func()
	offEvents []func() // non-nil only while connected
	room      string   // joined thread, "" when none
	dropped   bool     // listeners were removed by a disconnect
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.log = l
		}
	}
}

// WithClock sets the clock used for receipts that arrive without a time.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// New returns a reconciler for me. Call Start to begin tracking the channel.
func New(st *store.Store, ch gateway.PushChannel, me model.User, opts ...Option) *Reconciler {
	r := &Reconciler{
		st:  st,
		ch:  ch,
		me:  me,
		log: zap.NewNop(),
		now: time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start observes connectivity. Listeners are installed whenever the channel
// reports connected and removed when it drops.
func (r *Reconciler) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	off := r.ch.OnStatus(r.setConnected)
	r.mu.Lock()
	r.offStatus = off
	r.mu.Unlock()
	r.setConnected(r.ch.IsConnected())
}

// Stop leaves the joined room and removes every listener.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return
	}
	r.started = false
	r.dropped = false
	if r.offStatus != nil {
		r.offStatus()
		r.offStatus = nil
	}
	r.uninstall()
	r.leave()
}

// Connected reports whether listeners are currently installed.
func (r *Reconciler) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offEvents != nil
}

// OpenThread joins the room of threadID, leaving any other joined room.
// Opening the joined thread again is a no-op.
func (r *Reconciler) OpenThread(threadID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.room == threadID {
		return
	}
	r.leave()
	r.room = threadID
	if r.offEvents != nil {
		r.join()
	}
}

// CloseThread leaves the joined room. Closing with no room joined is a no-op.
func (r *Reconciler) CloseThread() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leave()
}

func (r *Reconciler) setConnected(connected bool) {
	r.st.SetConnected(connected)

	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	if !connected {
		if r.offEvents != nil {
			r.dropped = true
		}
		r.uninstall()
		r.mu.Unlock()
		return
	}
	resync := false
	if r.offEvents == nil {
		for _, k := range kinds {
			r.offEvents = append(r.offEvents, r.ch.On(k, r.handle))
		}
		r.log.Debug("push listeners installed", zap.String("user", r.me.ID))
		resync, r.dropped = r.dropped, false
	}
	r.join()
	room := r.room
	r.mu.Unlock()

	if resync {
		r.resync(room)
	}
}

// resync reloads what may have been missed while the channel was down:
// the thread list and, when a thread is open, its messages.
func (r *Reconciler) resync(room string) {
	ctx, cancel := context.WithTimeout(context.Background(), resyncTimeout)
	defer cancel()

	log := r.log.With(zap.String("user", r.me.ID), zap.String("thread", room))
	log.Info("resynchronizing after reconnect")
	if err := r.st.LoadThreads(ctx, r.me.ID); err != nil {
		log.Warn("thread reload failed", zap.Error(err))
	}
	if room == "" {
		return
	}
	if err := r.st.LoadMessages(ctx, room); err != nil {
		log.Warn("message reload failed", zap.Error(err))
		return
	}
	if err := r.st.MarkThreadRead(ctx, room, r.me.ID); err != nil {
		log.Info("mark thread read failed", zap.Error(err))
	}
}

func (r *Reconciler) uninstall() {
	for _, off := range r.offEvents {
		off()
	}
	r.offEvents = nil
}

func (r *Reconciler) join() {
	if r.room == "" {
		return
	}
	if err := r.ch.JoinThread(r.room); err != nil {
		r.log.Warn("join thread failed", zap.String("thread", r.room), zap.Error(err))
	}
}

func (r *Reconciler) leave() {
	if r.room == "" {
		return
	}
	if err := r.ch.LeaveThread(r.room); err != nil {
		r.log.Warn("leave thread failed", zap.String("thread", r.room), zap.Error(err))
	}
	r.room = ""
}

func (r *Reconciler) handle(ev model.Event) {
	if e, ok := ev.(model.MessageRead); ok && e.ReadAt.IsZero() {
		e.ReadAt = r.now()
		ev = e
	}

	var reads []model.ReadRequest
	r.st.Update(func(st store.State) (store.State, bool) {
		next, rr, changed := Fold(st, ev, r.me)
		reads = rr
		return next, changed
	})

	for _, req := range reads {
		ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
		if err := r.ch.MarkRead(ctx, req); err != nil {
			r.log.Info("auto read receipt failed",
				zap.String("thread", req.ThreadID),
				zap.String("message", req.MessageID),
				zap.Error(err),
			)
		}
		cancel()
	}
}
