package service

import (
	"context"
	"sync"
	"time"

	"github.com/and161185/leaguechat/internal/errs"
	"github.com/and161185/leaguechat/internal/limiter"
	"github.com/and161185/leaguechat/internal/model"
	"github.com/and161185/leaguechat/internal/repository"
)

type fakeUsers struct {
	byID     map[string]model.User
	upserted []model.User
	err      error
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func (f *fakeUsers) Upsert(_ context.Context, u model.User) error {
	if f.err != nil {
		return f.err
	}
	f.upserted = append(f.upserted, u)
	return nil
}

func (f *fakeUsers) Get(_ context.Context, id string) (model.User, error) {
	if u, ok := f.byID[id]; ok {
		return u, nil
	}
	return model.User{}, errs.ErrNotFound
}

type fakeThreads struct {
	parts   map[string][]string
	threads map[string]model.Thread
	direct  string
	created []model.Thread
	listed  []model.Thread
	err     error
}

var _ repository.ThreadRepository = (*fakeThreads)(nil)

func (f *fakeThreads) Create(_ context.Context, t model.Thread, ids []string) error {
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, t)
	if f.threads == nil {
		f.threads = map[string]model.Thread{}
	}
	if f.parts == nil {
		f.parts = map[string][]string{}
	}
	f.threads[t.ID] = t
	f.parts[t.ID] = append([]string(nil), ids...)
	return nil
}

func (f *fakeThreads) Get(_ context.Context, id string) (model.Thread, error) {
	if t, ok := f.threads[id]; ok {
		return t, nil
	}
	return model.Thread{}, errs.ErrNotFound
}

func (f *fakeThreads) ListForUser(context.Context, string) ([]model.Thread, error) {
	return f.listed, f.err
}

func (f *fakeThreads) FindDirect(context.Context, string, string) (string, error) {
	if f.direct == "" {
		return "", errs.ErrNotFound
	}
	return f.direct, nil
}

func (f *fakeThreads) ParticipantIDs(_ context.Context, id string) ([]string, error) {
	return f.parts[id], f.err
}

type fakeMsgs struct {
	byID     map[string]model.Message
	inserted []model.Message
	deleted  []string
	markedBy string
	readIDs  []string
	unread   int
	pageIn   [3]any
}

var _ repository.MessageRepository = (*fakeMsgs)(nil)

func (f *fakeMsgs) Insert(_ context.Context, m model.Message) error {
	f.inserted = append(f.inserted, m)
	return nil
}

func (f *fakeMsgs) Get(_ context.Context, id string) (model.Message, error) {
	if m, ok := f.byID[id]; ok {
		return m, nil
	}
	return model.Message{}, errs.ErrNotFound
}

func (f *fakeMsgs) Page(_ context.Context, tid string, page, size int) ([]model.Message, error) {
	f.pageIn = [3]any{tid, page, size}
	return []model.Message{}, nil
}

func (f *fakeMsgs) SoftDelete(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeMsgs) MarkThreadRead(_ context.Context, _ string, userID string, _ time.Time) ([]string, error) {
	f.markedBy = userID
	return f.readIDs, nil
}

func (f *fakeMsgs) UnreadCount(context.Context, string, string) (int, error) { return f.unread, nil }

type published struct {
	thread string
	users  []string
	user   string
	ev     model.Event
}

type fakePub struct {
	mu  sync.Mutex
	out []published
}

var _ Publisher = (*fakePub)(nil)

func (p *fakePub) Publish(tid string, users []string, ev model.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out = append(p.out, published{thread: tid, users: users, ev: ev})
}

func (p *fakePub) PublishUser(uid string, ev model.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out = append(p.out, published{user: uid, ev: ev})
}

type denyLimiter struct{}

var _ limiter.Limiter = denyLimiter{}

func (denyLimiter) Allow(context.Context, string) (bool, time.Duration, error) {
	return false, time.Second, nil
}
