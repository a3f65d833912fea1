// Package store is the client-side synchronization store: the single writer of
// chat state. Every mutation goes through Reduce and is published to subscribers
// as an immutable State snapshot.
package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/leaguechat/internal/errs"
	"github.com/and161185/leaguechat/internal/gateway"
	"github.com/and161185/leaguechat/internal/model"
	"github.com/and161185/leaguechat/internal/unread"
)

// DefaultPageSize is the number of messages fetched by LoadMessages.
const DefaultPageSize = 50

// Store holds chat state and exposes the named mutations.
type Store struct {
	api      gateway.API
	log      *zap.Logger
	pageSize int
	now      func() time.Time

	mu    sync.Mutex
	state State

	// emitMu orders notifications so subscribers observe states in commit order.
	// It is never acquired while mu is held.
	emitMu  sync.Mutex
	seq     uint64
	emitted uint64
	subMu   sync.Mutex
	subs    map[uint64]func(State)
	nextSub uint64

	unread unread.Counter
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Nil keeps the nop logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithPageSize sets the LoadMessages page size.
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithClock overrides time.Now, used for locally produced read receipts.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns an empty store backed by api.
func New(api gateway.API, opts ...Option) *Store {
	s := &Store{
		api:      api,
		log:      zap.NewNop(),
		pageSize: DefaultPageSize,
		now:      time.Now,
		state:    emptyState(),
		subs:     map[uint64]func(State){},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Snapshot returns the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn to receive committed states in commit order. When
// mutations race, a subscriber may only see the newest of them. fn runs on
// the mutating goroutine; it may call Snapshot but must not mutate the store
// synchronously.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	s.subMu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

// Reduce applies fn to the current state atomically and publishes the result.
func (s *Store) Reduce(fn func(State) State) State {
	next, _ := s.apply(func(st State) (State, bool) { return fn(st), true })
	return next
}

// Update is Reduce for transitions that may be no-ops: subscribers are only
// notified when fn reports a change.
func (s *Store) Update(fn func(State) (State, bool)) bool {
	_, ok := s.apply(fn)
	return ok
}

// apply commits fn's result and notifies subscribers when fn reports a change.
func (s *Store) apply(fn func(State) (State, bool)) (State, bool) {
	s.mu.Lock()
	next, changed := fn(s.state)
	if !changed {
		s.mu.Unlock()
		return next, false
	}
	s.state = next
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if seq <= s.emitted {
		// a later commit already published a state that includes this one
		return next, true
	}
	s.emitted = seq

	s.subMu.Lock()
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()
	for _, fn := range subs {
		fn(next)
	}
	return next, true
}

func (s *Store) beginLoad() {
	s.Reduce(func(st State) State { return st.withLoading(1) })
}

func (s *Store) endLoad() {
	s.Reduce(func(st State) State { return st.withLoading(-1) })
}

func (s *Store) fail(e *errs.Error) {
	s.logFailure(e)
	s.Reduce(func(st State) State { return st.WithError(e) })
}

func (s *Store) logFailure(e *errs.Error) {
	s.log.Warn("store operation failed",
		zap.String("op", e.Op),
		zap.Stringer("kind", e.Kind),
		zap.Error(e.Err),
	)
}

// SetCurrentThread marks threadID as the open thread; "" clears it.
// It does not load messages or join rooms.
func (s *Store) SetCurrentThread(threadID string) {
	s.apply(func(st State) (State, bool) {
		if st.CurrentThreadID == threadID {
			return st, false
		}
		st.CurrentThreadID = threadID
		return st, true
	})
}

// SetConnected mirrors push-channel connectivity.
func (s *Store) SetConnected(v bool) {
	s.apply(func(st State) (State, bool) {
		if st.IsConnected == v {
			return st, false
		}
		st.IsConnected = v
		return st, true
	})
}

// SetReplyingTo sets the reply context; nil clears it.
func (s *Store) SetReplyingTo(m *model.Message) {
	s.Reduce(func(st State) State {
		if m == nil {
			st.ReplyingTo = nil
			return st
		}
		c := m.Clone()
		st.ReplyingTo = &c
		return st
	})
}

// ClearError empties the error slot.
func (s *Store) ClearError() {
	s.apply(func(st State) (State, bool) {
		if st.LastError == nil {
			return st, false
		}
		return st.WithError(nil), true
	})
}

// LoadThreads replaces the thread collection with the user's threads.
// On failure the collection is cleared.
func (s *Store) LoadThreads(ctx context.Context, userID string) error {
	const op = "loadThreads"
	s.beginLoad()
	defer s.endLoad()

	threads, err := s.api.ListThreads(ctx, userID)
	if err != nil {
		e := errs.Classify(errs.KindLoad, op, err)
		s.logFailure(e)
		s.Reduce(func(st State) State { return st.ReplaceThreads(nil).WithError(e) })
		return e
	}
	s.Reduce(func(st State) State { return st.ReplaceThreads(threads) })
	return nil
}

// LoadMessages replaces a thread's message list with its newest page.
// On failure the previous list is kept.
func (s *Store) LoadMessages(ctx context.Context, threadID string) error {
	const op = "loadMessages"
	s.beginLoad()
	defer s.endLoad()

	msgs, err := s.api.GetMessages(ctx, threadID, 1, s.pageSize)
	if err != nil {
		e := errs.Classify(errs.KindLoad, op, err)
		s.fail(e)
		return e
	}
	s.Reduce(func(st State) State { return st.SetMessages(threadID, msgs) })
	return nil
}

// AddMessage appends m to its thread; a known id is a no-op.
func (s *Store) AddMessage(m model.Message) bool {
	_, ok := s.apply(func(st State) (State, bool) { return st.AddMessage(m) })
	return ok
}

// UpdateMessage merges p into the message with id in whichever thread holds it.
func (s *Store) UpdateMessage(id string, p MessagePatch) bool {
	_, ok := s.apply(func(st State) (State, bool) { return st.UpdateMessage(id, p) })
	return ok
}

// DeleteMessage tombstones a message locally.
func (s *Store) DeleteMessage(id, threadID string) bool {
	_, ok := s.apply(func(st State) (State, bool) { return st.DeleteMessage(id, threadID) })
	return ok
}

// HandleDeleteMessage deletes through the gateway and tombstones only after it confirms.
func (s *Store) HandleDeleteMessage(ctx context.Context, id, threadID string) error {
	const op = "deleteMessage"
	if err := s.api.DeleteMessage(ctx, id); err != nil {
		e := errs.Classify(errs.KindDelete, op, err)
		s.fail(e)
		return e
	}
	s.DeleteMessage(id, threadID)
	return nil
}

// MarkMessageAsRead records a receipt by reader, once per reader.
func (s *Store) MarkMessageAsRead(messageID, threadID, readerID, readerName string) bool {
	r := model.ReadReceipt{UserID: readerID, UserName: readerName, ReadAt: s.now()}
	_, ok := s.apply(func(st State) (State, bool) { return st.MarkMessageAsRead(messageID, threadID, r) })
	return ok
}

// AddThread inserts or replaces t and re-sorts. Threads without an id are rejected.
func (s *Store) AddThread(t model.Thread) bool {
	return s.upsertThread("addThread", t)
}

// UpdateThread is AddThread for a thread already known; unknown ids are inserted.
func (s *Store) UpdateThread(t model.Thread) bool {
	return s.upsertThread("updateThread", t)
}

func (s *Store) upsertThread(op string, t model.Thread) bool {
	if !t.Valid() {
		s.log.Warn("rejected thread without id", zap.String("op", op), zap.Stringer("kind", errs.KindInvalidThread))
		return false
	}
	_, ok := s.apply(func(st State) (State, bool) { return st.UpsertThread(t.Clone()) })
	return ok
}

// SetUnreadCount overwrites a thread's unread count.
func (s *Store) SetUnreadCount(threadID string, n int) bool {
	_, ok := s.apply(func(st State) (State, bool) {
		t, found := st.Thread(threadID)
		if !found || t.UnreadCount == n {
			return st, false
		}
		return st.SetUnreadCount(threadID, n)
	})
	return ok
}

// SendResult is the outcome of SendMessage. Err is nil on success.
type SendResult struct {
	Message model.Message
	Err     error
}

// OK reports whether the send was accepted.
func (r SendResult) OK() bool { return r.Err == nil }

// SendMessage posts req. On success the stored message is added and the thread
// touched; on failure nothing is appended and LastError is set.
func (s *Store) SendMessage(ctx context.Context, req model.SendRequest) SendResult {
	const op = "sendMessage"
	if req.Type == "" {
		req.Type = model.MessageText
	}
	m, err := s.api.SendMessage(ctx, req)
	if err != nil {
		e := errs.Classify(errs.KindSend, op, err)
		s.fail(e)
		return SendResult{Err: e}
	}
	if m.ThreadID == "" {
		m.ThreadID = req.ThreadID
	}
	s.apply(func(st State) (State, bool) {
		st, added := st.AddMessage(m)
		st, touched := st.TouchThread(m)
		return st, added || touched
	})
	return SendResult{Message: m}
}

// MarkThreadRead marks the thread read upstream and zeroes its unread count.
// Failure is logged and returned but never stored in LastError.
func (s *Store) MarkThreadRead(ctx context.Context, threadID, userID string) error {
	const op = "markThreadRead"
	if err := s.api.MarkAllAsRead(ctx, threadID, userID); err != nil {
		e := errs.Classify(errs.KindMarkRead, op, err)
		s.log.Info("mark read failed", zap.String("thread", threadID), zap.Error(err))
		return e
	}
	s.SetUnreadCount(threadID, 0)
	return nil
}

// CreateThread creates a thread upstream and inserts it.
func (s *Store) CreateThread(ctx context.Context, creatorID string, participantIDs []string, isGroup bool) (model.Thread, error) {
	const op = "createThread"
	t, err := s.api.CreateThread(ctx, creatorID, participantIDs, isGroup)
	if err != nil {
		e := errs.Classify(errs.KindLoad, op, err)
		s.fail(e)
		return model.Thread{}, e
	}
	if !s.AddThread(t) {
		e := errs.Classify(errs.KindInvalidThread, op, errs.ErrInvalidThread)
		return model.Thread{}, e
	}
	return t, nil
}

// RefreshThread overwrites a thread with the server's copy.
func (s *Store) RefreshThread(ctx context.Context, threadID string) error {
	const op = "refreshThread"
	t, err := s.api.GetThread(ctx, threadID)
	if err != nil {
		e := errs.Classify(errs.KindLoad, op, err)
		s.fail(e)
		return e
	}
	s.UpdateThread(t)
	return nil
}

// Hydrate installs previously cached threads and messages. The next load replaces them.
func (s *Store) Hydrate(threads []model.Thread, messages map[string][]model.Message) {
	s.Reduce(func(st State) State {
		st = st.ReplaceThreads(threads)
		for id, msgs := range messages {
			st = st.SetMessages(id, msgs)
		}
		return st
	})
}

// GetTotalUnreadCount sums UnreadCount across threads.
func (s *Store) GetTotalUnreadCount() int {
	st := s.Snapshot()
	return s.unread.Total(st.threadsRev, st.Threads)
}
