// Package chat orchestrates user intents (open, send, delete, reply) over the
// store and the reconciler.
package chat

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/and161185/leaguechat/internal/errs"
	"github.com/and161185/leaguechat/internal/model"
	"github.com/and161185/leaguechat/internal/reconciler"
	"github.com/and161185/leaguechat/internal/store"
)

// Session is one user's view of the chat.
type Session struct {
	st  *store.Store
	rec *reconciler.Reconciler
	me  model.User
	log *zap.Logger
}

// NewSession wires a session. A nil logger is replaced by a nop logger.
func NewSession(st *store.Store, rec *reconciler.Reconciler, me model.User, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{st: st, rec: rec, me: me, log: log}
}

// Me returns the session user.
func (s *Session) Me() model.User { return s.me }

// Store returns the underlying store.
func (s *Session) Store() *store.Store { return s.st }

// Start begins tracking the push channel.
func (s *Session) Start() { s.rec.Start() }

// Stop closes the open thread and detaches from the push channel.
func (s *Session) Stop() {
	s.Close()
	s.rec.Stop()
}

// Refresh reloads the thread list.
func (s *Session) Refresh(ctx context.Context) error {
	return s.st.LoadThreads(ctx, s.me.ID)
}

// Open focuses threadID: it becomes current, its room is joined, its newest
// page is loaded and it is marked read. Mark-read failure does not fail Open.
func (s *Session) Open(ctx context.Context, threadID string) error {
	if threadID == "" {
		return fmt.Errorf("open: %w", errs.ErrInvalidArgument)
	}
	s.st.SetReplyingTo(nil)
	s.st.SetCurrentThread(threadID)
	s.rec.OpenThread(threadID)

	if err := s.st.LoadMessages(ctx, threadID); err != nil {
		return err
	}
	if err := s.st.MarkThreadRead(ctx, threadID, s.me.ID); err != nil {
		s.log.Debug("open: mark read skipped", zap.String("thread", threadID), zap.Error(err))
	}
	return nil
}

// Close leaves the open thread, if any.
func (s *Session) Close() {
	s.rec.CloseThread()
	s.st.SetCurrentThread("")
	s.st.SetReplyingTo(nil)
}

func (s *Session) current() (string, error) {
	id := s.st.Snapshot().CurrentThreadID
	if id == "" {
		return "", errs.ErrInvalidThread
	}
	return id, nil
}

// Send posts content to the open thread, as a reply when a reply context is set.
// The reply context is cleared on success and kept on failure.
func (s *Session) Send(ctx context.Context, content string) store.SendResult {
	content = strings.TrimSpace(content)
	if content == "" {
		return store.SendResult{Err: fmt.Errorf("send: empty message: %w", errs.ErrInvalidArgument)}
	}
	threadID, err := s.current()
	if err != nil {
		return store.SendResult{Err: fmt.Errorf("send: %w", err)}
	}

	req := model.SendRequest{ThreadID: threadID, SenderID: s.me.ID, Content: content, Type: model.MessageText}
	if r := s.st.Snapshot().ReplyingTo; r != nil && r.ThreadID == threadID {
		req.ReplyToID = r.ID
	}

	res := s.st.SendMessage(ctx, req)
	if res.OK() && req.ReplyToID != "" {
		s.st.SetReplyingTo(nil)
	}
	return res
}

// Delete removes one of the open thread's messages once the backend confirms.
func (s *Session) Delete(ctx context.Context, messageID string) error {
	threadID, err := s.current()
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if _, ok := s.st.Snapshot().Message(threadID, messageID); !ok {
		return fmt.Errorf("delete %s: %w", messageID, errs.ErrNotFound)
	}
	return s.st.HandleDeleteMessage(ctx, messageID, threadID)
}

// ReplyTo sets the reply context to a message of the open thread.
func (s *Session) ReplyTo(messageID string) error {
	threadID, err := s.current()
	if err != nil {
		return fmt.Errorf("reply: %w", err)
	}
	m, ok := s.st.Snapshot().Message(threadID, messageID)
	if !ok || m.Metadata.IsDeleted {
		return fmt.Errorf("reply %s: %w", messageID, errs.ErrNotFound)
	}
	s.st.SetReplyingTo(&m)
	return nil
}

// CancelReply clears the reply context.
func (s *Session) CancelReply() { s.st.SetReplyingTo(nil) }

// StartThread creates a thread with the given participants.
func (s *Session) StartThread(ctx context.Context, participantIDs []string, group bool) (model.Thread, error) {
	if len(participantIDs) == 0 {
		return model.Thread{}, fmt.Errorf("start thread: no participants: %w", errs.ErrInvalidArgument)
	}
	return s.st.CreateThread(ctx, s.me.ID, participantIDs, group)
}
