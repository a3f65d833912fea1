// Package service contains the backend chat service: validation, persistence
// and fan-out of push events.
package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/leaguechat/internal/errs"
	"github.com/and161185/leaguechat/internal/limiter"
	"github.com/and161185/leaguechat/internal/metrics"
	"github.com/and161185/leaguechat/internal/model"
	"github.com/and161185/leaguechat/internal/repository"
)

const (
	DefaultMaxMessageLen = 4000
	MaxPageSize          = 200
)

// Publisher delivers push events. Publish reaches every connection of the
// listed users plus every connection joined to the thread's room.
type Publisher interface {
	Publish(threadID string, userIDs []string, ev model.Event)
	PublishUser(userID string, ev model.Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, []string, model.Event) {}
func (nopPublisher) PublishUser(string, model.Event)       {}

// ChatService implements the chat API on top of the repositories.
type ChatService struct {
	users   repository.UserRepository
	threads repository.ThreadRepository
	msgs    repository.MessageRepository
	pub     Publisher
	lim     limiter.Limiter
	met     *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
	newID   func() (uuid.UUID, error)
	maxLen  int
}

type Option func(*ChatService)

func WithPublisher(p Publisher) Option      { return func(s *ChatService) { s.pub = p } }
func WithLimiter(l limiter.Limiter) Option  { return func(s *ChatService) { s.lim = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(s *ChatService) { s.met = m } }
func WithLogger(l *zap.Logger) Option       { return func(s *ChatService) { s.log = l } }
func WithClock(now func() time.Time) Option { return func(s *ChatService) { s.now = now } }
func WithMaxMessageLen(n int) Option        { return func(s *ChatService) { s.maxLen = n } }

// NewChatService constructs the service. Without WithPublisher events are dropped;
// without WithLimiter sends are unlimited.
func NewChatService(users repository.UserRepository, threads repository.ThreadRepository,
	msgs repository.MessageRepository, opts ...Option) *ChatService {
	s := &ChatService{
		users:   users,
		threads: threads,
		msgs:    msgs,
		pub:     nopPublisher{},
		log:     zap.NewNop(),
		now:     time.Now,
		newID:   uuid.NewV4,
		maxLen:  DefaultMaxMessageLen,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.maxLen <= 0 {
		s.maxLen = DefaultMaxMessageLen
	}
	return s
}

func validID(id string) bool {
	_, err := uuid.FromString(id)
	return err == nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), errs.ErrInvalidArgument)
}

// members returns the participants of threadID after checking caller is one of them.
func (s *ChatService) members(ctx context.Context, threadID, caller string) ([]string, error) {
	if !validID(threadID) {
		return nil, errs.ErrNotFound
	}
	ids, err := s.threads.ParticipantIDs(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, errs.ErrNotFound
	}
	if !slices.Contains(ids, caller) {
		return nil, errs.ErrForbidden
	}
	return ids, nil
}

// CanJoin reports whether caller may join the push room of threadID.
func (s *ChatService) CanJoin(ctx context.Context, caller, threadID string) error {
	_, err := s.members(ctx, threadID, caller)
	return err
}

// ListThreads returns the caller's threads. userID may be empty or the caller.
func (s *ChatService) ListThreads(ctx context.Context, caller, userID string) ([]model.Thread, error) {
	if userID != "" && userID != caller {
		return nil, errs.ErrForbidden
	}
	out, err := s.threads.ListForUser(ctx, caller)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []model.Thread{}
	}
	return out, nil
}

// GetThread returns one thread with the caller's unread count.
func (s *ChatService) GetThread(ctx context.Context, caller, threadID string) (model.Thread, error) {
	if _, err := s.members(ctx, threadID, caller); err != nil {
		return model.Thread{}, err
	}
	t, err := s.threads.Get(ctx, threadID)
	if err != nil {
		return model.Thread{}, err
	}
	n, err := s.msgs.UnreadCount(ctx, threadID, caller)
	if err != nil {
		return model.Thread{}, err
	}
	t.UnreadCount = n
	return t, nil
}

// GetMessages returns one page of a thread in ascending timestamp order.
func (s *ChatService) GetMessages(ctx context.Context, caller, threadID string, page, pageSize int) ([]model.Message, error) {
	if page < 1 {
		return nil, invalid("page must be >= 1")
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		return nil, invalid("page size must be in [1, %d]", MaxPageSize)
	}
	if _, err := s.members(ctx, threadID, caller); err != nil {
		return nil, err
	}
	return s.msgs.Page(ctx, threadID, page, pageSize)
}

// SendMessage validates, rate limits, stores and fans out a message.
func (s *ChatService) SendMessage(ctx context.Context, caller string, req model.SendRequest) (model.Message, error) {
	if req.SenderID != "" && req.SenderID != caller {
		return model.Message{}, errs.ErrForbidden
	}
	if req.Type == "" {
		req.Type = model.MessageText
	}
	content := strings.TrimSpace(req.Content)
	switch req.Type {
	case model.MessageText:
		if content == "" {
			return model.Message{}, invalid("empty content")
		}
	case model.MessageEvent:
		if len(req.Payload) == 0 {
			return model.Message{}, invalid("event message without payload")
		}
	default:
		return model.Message{}, invalid("unknown message type %q", req.Type)
	}
	if utf8.RuneCountInString(content) > s.maxLen {
		return model.Message{}, invalid("content longer than %d characters", s.maxLen)
	}

	if s.lim != nil {
		ok, wait, err := s.lim.Allow(ctx, caller)
		if err != nil {
			return model.Message{}, err
		}
		if !ok {
			s.met.RateLimited()
			s.log.Info("send rate limited", zap.String("user", caller), zap.Duration("retryAfter", wait))
			return model.Message{}, errs.ErrRateLimited
		}
	}

	members, err := s.members(ctx, req.ThreadID, caller)
	if err != nil {
		return model.Message{}, err
	}
	if req.ReplyToID != "" {
		if !validID(req.ReplyToID) {
			return model.Message{}, invalid("bad reply target")
		}
		parent, err := s.msgs.Get(ctx, req.ReplyToID)
		if err != nil {
			return model.Message{}, fmt.Errorf("reply target: %w", err)
		}
		if parent.ThreadID != req.ThreadID {
			return model.Message{}, invalid("reply target belongs to another thread")
		}
	}

	id, err := s.newID()
	if err != nil {
		return model.Message{}, err
	}
	m := model.Message{
		ID:               id.String(),
		ThreadID:         req.ThreadID,
		SenderID:         caller,
		Content:          content,
		Timestamp:        s.now().UTC(),
		IsDelivered:      true,
		ReplyToMessageID: req.ReplyToID,
		Type:             req.Type,
		Payload:          req.Payload,
	}
	if err := s.msgs.Insert(ctx, m); err != nil {
		return model.Message{}, err
	}
	s.met.MessageSent()

	others := make([]string, 0, len(members))
	for _, uid := range members {
		if uid != caller {
			others = append(others, uid)
		}
	}
	s.pub.Publish(m.ThreadID, others, model.NewMessage{Message: m})
	s.pub.PublishUser(caller, model.MessageSent{ThreadID: m.ThreadID, Message: &m})
	return m, nil
}

// DeleteMessage tombstones a message. Only its sender may delete it; deleting
// an already deleted message succeeds without publishing.
func (s *ChatService) DeleteMessage(ctx context.Context, caller, messageID string) error {
	if !validID(messageID) {
		return errs.ErrNotFound
	}
	m, err := s.msgs.Get(ctx, messageID)
	if err != nil {
		return err
	}
	if m.SenderID != caller {
		return errs.ErrForbidden
	}
	if m.Metadata.IsDeleted {
		return nil
	}
	if err := s.msgs.SoftDelete(ctx, messageID); err != nil {
		return err
	}
	members, err := s.threads.ParticipantIDs(ctx, m.ThreadID)
	if err != nil {
		s.log.Warn("delete fan-out skipped", zap.String("thread", m.ThreadID), zap.Error(err))
		return nil
	}
	s.pub.Publish(m.ThreadID, members, model.MessageDeleted{MessageID: messageID, ThreadID: m.ThreadID})
	return nil
}

// MarkAllAsRead records receipts for the caller and publishes them. The caller
// receives the authoritative unread count of zero.
func (s *ChatService) MarkAllAsRead(ctx context.Context, caller, threadID, userID string) error {
	if userID != "" && userID != caller {
		return errs.ErrForbidden
	}
	members, err := s.members(ctx, threadID, caller)
	if err != nil {
		return err
	}
	at := s.now().UTC()
	ids, err := s.msgs.MarkThreadRead(ctx, threadID, caller, at)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		var name string
		if u, err := s.users.Get(ctx, caller); err == nil {
			name = u.Name
		}
		for _, mid := range ids {
			s.pub.Publish(threadID, members, model.MessageRead{
				MessageID: mid, ThreadID: threadID, ReaderID: caller, ReaderName: name, ReadAt: at,
			})
		}
	}
	s.pub.PublishUser(caller, model.UnreadCount{ThreadID: threadID, Count: 0})
	return nil
}

// CreateThread creates a group thread, or returns the existing direct thread
// between the creator and the single other participant.
func (s *ChatService) CreateThread(ctx context.Context, caller, creatorID string, participantIDs []string, isGroup bool, name string) (model.Thread, error) {
	if creatorID != "" && creatorID != caller {
		return model.Thread{}, errs.ErrForbidden
	}
	ids := []string{caller}
	for _, id := range participantIDs {
		id = strings.TrimSpace(id)
		if !validID(id) {
			return model.Thread{}, invalid("bad participant id %q", id)
		}
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	if len(ids) < 2 {
		return model.Thread{}, invalid("a thread needs another participant")
	}

	typ := model.ThreadGroup
	if !isGroup {
		if len(ids) != 2 {
			return model.Thread{}, invalid("a direct thread has exactly two participants")
		}
		typ = model.ThreadDirect
		existing, err := s.threads.FindDirect(ctx, ids[0], ids[1])
		switch {
		case err == nil:
			return s.GetThread(ctx, caller, existing)
		case !errors.Is(err, errs.ErrNotFound):
			return model.Thread{}, err
		}
	}

	id, err := s.newID()
	if err != nil {
		return model.Thread{}, err
	}
	now := s.now().UTC()
	t := model.Thread{
		ID:        id.String(),
		Name:      strings.TrimSpace(name),
		Type:      typ,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.threads.Create(ctx, t, ids); err != nil {
		return model.Thread{}, err
	}
	s.log.Info("thread created", zap.String("thread", t.ID), zap.String("type", string(typ)), zap.Int("participants", len(ids)))
	return s.threads.Get(ctx, t.ID)
}
