package store

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/and161185/leaguechat/internal/errs"
	"github.com/and161185/leaguechat/internal/model"
)

// State is an immutable snapshot of the chat state. Transitions return a new
// State and never modify slices or maps reachable from the receiver, so a
// snapshot handed to a subscriber stays valid. Callers must treat it as read-only.
type State struct {
	Threads          []model.Thread             // sorted by UpdatedAt desc
	MessagesByThread map[string][]model.Message // producer-ordered per thread
	CurrentThreadID  string                     // "" when no conversation is open
	IsConnected      bool
	IsLoading        bool
	LastError        *errs.Error // single slot; newest error wins
	ReplyingTo       *model.Message

	inflight   int
	threadsRev uint64
}

func emptyState() State {
	return State{MessagesByThread: map[string][]model.Message{}}
}

// ThreadsRev changes whenever the thread collection changes.
func (s State) ThreadsRev() uint64 { return s.threadsRev }

// Thread returns the thread with the given id.
func (s State) Thread(id string) (model.Thread, bool) {
	if i := s.threadIndex(id); i >= 0 {
		return s.Threads[i], true
	}
	return model.Thread{}, false
}

// CurrentThread returns the open thread, if any.
func (s State) CurrentThread() (model.Thread, bool) {
	if s.CurrentThreadID == "" {
		return model.Thread{}, false
	}
	return s.Thread(s.CurrentThreadID)
}

// Messages returns the message list of a thread.
func (s State) Messages(threadID string) []model.Message {
	return s.MessagesByThread[threadID]
}

// Message looks a message up within a thread.
func (s State) Message(threadID, id string) (model.Message, bool) {
	if i := indexOf(s.MessagesByThread[threadID], id); i >= 0 {
		return s.MessagesByThread[threadID][i], true
	}
	return model.Message{}, false
}

// FindMessage looks a message up across all threads.
func (s State) FindMessage(id string) (model.Message, bool) {
	for _, msgs := range s.MessagesByThread {
		if i := indexOf(msgs, id); i >= 0 {
			return msgs[i], true
		}
	}
	return model.Message{}, false
}

func (s State) threadIndex(id string) int {
	for i := range s.Threads {
		if s.Threads[i].ID == id {
			return i
		}
	}
	return -1
}

func indexOf(msgs []model.Message, id string) int {
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}

func sortThreads(ts []model.Thread) {
	sort.SliceStable(ts, func(i, j int) bool { return ts[i].UpdatedAt.After(ts[j].UpdatedAt) })
}

// withThreads installs ts (already owned by the new state), re-sorts and bumps the revision.
func (s State) withThreads(ts []model.Thread) State {
	sortThreads(ts)
	s.Threads = ts
	s.threadsRev++
	return s
}

func (s State) withMessages(threadID string, msgs []model.Message) State {
	m := make(map[string][]model.Message, len(s.MessagesByThread)+1)
	for k, v := range s.MessagesByThread {
		m[k] = v
	}
	m[threadID] = msgs
	s.MessagesByThread = m
	return s
}

// ReplaceThreads replaces the collection with in, deduplicated by id (last write wins).
func (s State) ReplaceThreads(in []model.Thread) State {
	out := make([]model.Thread, 0, len(in))
	pos := make(map[string]int, len(in))
	for _, t := range in {
		if !t.Valid() {
			continue
		}
		if i, ok := pos[t.ID]; ok {
			out[i] = t
			continue
		}
		pos[t.ID] = len(out)
		out = append(out, t)
	}
	return s.withThreads(out)
}

// UpsertThread inserts t or replaces the entry with the same id.
// Invalid threads leave the state unchanged.
func (s State) UpsertThread(t model.Thread) (State, bool) {
	if !t.Valid() {
		return s, false
	}
	out := make([]model.Thread, len(s.Threads), len(s.Threads)+1)
	copy(out, s.Threads)
	if i := s.threadIndex(t.ID); i >= 0 {
		out[i] = t
	} else {
		out = append(out, t)
	}
	return s.withThreads(out), true
}

// SetUnreadCount overwrites a thread's unread count.
func (s State) SetUnreadCount(threadID string, n int) (State, bool) {
	t, ok := s.Thread(threadID)
	if !ok {
		return s, false
	}
	if n < 0 {
		n = 0
	}
	t.UnreadCount = n
	return s.UpsertThread(t)
}

// IncrementUnread adds one to a thread's unread count.
func (s State) IncrementUnread(threadID string) (State, bool) {
	t, ok := s.Thread(threadID)
	if !ok {
		return s, false
	}
	return s.SetUnreadCount(threadID, t.UnreadCount+1)
}

// TouchThread points the thread's LastMessage at m and advances UpdatedAt to
// m.Timestamp when that is later. UpdatedAt never moves backwards here.
func (s State) TouchThread(m model.Message) (State, bool) {
	t, ok := s.Thread(m.ThreadID)
	if !ok {
		return s, false
	}
	t = t.Clone()
	lm := m.Clone()
	t.LastMessage = &lm
	if m.Timestamp.After(t.UpdatedAt) {
		t.UpdatedAt = m.Timestamp
	}
	return s.UpsertThread(t)
}

// SetMessages replaces a thread's message list.
func (s State) SetMessages(threadID string, msgs []model.Message) State {
	return s.withMessages(threadID, append([]model.Message(nil), msgs...))
}

// AddMessage appends m to its thread unless a message with the same id is already there.
func (s State) AddMessage(m model.Message) (State, bool) {
	cur := s.MessagesByThread[m.ThreadID]
	if indexOf(cur, m.ID) >= 0 {
		return s, false
	}
	next := make([]model.Message, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, m)
	return s.withMessages(m.ThreadID, next), true
}

// replaceMessage swaps the message at index i of threadID for m.
func (s State) replaceMessage(threadID string, i int, m model.Message) State {
	cur := s.MessagesByThread[threadID]
	next := make([]model.Message, len(cur))
	copy(next, cur)
	next[i] = m
	s = s.withMessages(threadID, next)

	// keep the denormalized pointer in step when it refers to the same message
	if t, ok := s.Thread(threadID); ok && t.LastMessage != nil && t.LastMessage.ID == m.ID {
		t = t.Clone()
		lm := m.Clone()
		t.LastMessage = &lm
		s, _ = s.UpsertThread(t)
	}
	return s
}

// MessagePatch lists the fields UpdateMessage may change; nil fields are kept.
type MessagePatch struct {
	Content     *string
	IsDelivered *bool
	IsRead      *bool
	IsEdited    *bool
	Timestamp   *time.Time
	Payload     json.RawMessage
}

func (p MessagePatch) apply(m model.Message) model.Message {
	m = m.Clone()
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.IsDelivered != nil {
		m.IsDelivered = *p.IsDelivered
	}
	if p.IsRead != nil {
		m.IsRead = *p.IsRead
	}
	if p.IsEdited != nil {
		m.Metadata.IsEdited = *p.IsEdited
	}
	if p.Timestamp != nil {
		m.Timestamp = *p.Timestamp
	}
	if p.Payload != nil {
		m.Payload = append(json.RawMessage(nil), p.Payload...)
	}
	return m
}

// UpdateMessage merges p into the message with the given id, wherever it lives.
func (s State) UpdateMessage(id string, p MessagePatch) (State, bool) {
	for threadID, msgs := range s.MessagesByThread {
		if i := indexOf(msgs, id); i >= 0 {
			return s.replaceMessage(threadID, i, p.apply(msgs[i])), true
		}
	}
	return s, false
}

// DeleteMessage tombstones the message in place. Position and identity are preserved.
func (s State) DeleteMessage(id, threadID string) (State, bool) {
	msgs := s.MessagesByThread[threadID]
	i := indexOf(msgs, id)
	if i < 0 {
		return s, false
	}
	if msgs[i].Metadata.IsDeleted {
		return s, false
	}
	s = s.replaceMessage(threadID, i, msgs[i].Tombstone())
	if s.ReplyingTo != nil && s.ReplyingTo.ID == id {
		s.ReplyingTo = nil
	}
	return s, true
}

// MarkMessageAsRead records r on the message, at most once per reader.
func (s State) MarkMessageAsRead(messageID, threadID string, r model.ReadReceipt) (State, bool) {
	msgs := s.MessagesByThread[threadID]
	i := indexOf(msgs, messageID)
	if i < 0 {
		return s, false
	}
	m, changed := msgs[i].WithReceipt(r)
	if !changed {
		return s, false
	}
	return s.replaceMessage(threadID, i, m), true
}

// WithError stores e in the single error slot.
func (s State) WithError(e *errs.Error) State {
	s.LastError = e
	return s
}

func (s State) withLoading(delta int) State {
	s.inflight += delta
	if s.inflight < 0 {
		s.inflight = 0
	}
	s.IsLoading = s.inflight > 0
	return s
}
