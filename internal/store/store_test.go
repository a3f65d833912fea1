package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/leaguechat/internal/errs"
	"github.com/and161185/leaguechat/internal/gateway/gatewaytest"
	"github.com/and161185/leaguechat/internal/model"
)

func newStore(t *testing.T, api *gatewaytest.API) *Store {
	t.Helper()
	return New(api, WithLogger(zaptest.NewLogger(t)), WithClock(func() time.Time { return t0 }))
}

func TestStore_LoadThreads(t *testing.T) {
	t.Parallel()

	api := &gatewaytest.API{Threads: []model.Thread{thread("a", 1), thread("b", 2), thread("a", 3)}}
	s := newStore(t, api)

	require.NoError(t, s.LoadThreads(context.Background(), "u1"))
	st := s.Snapshot()
	require.Equal(t, []string{"a", "b"}, ids(st.Threads))
	require.False(t, st.IsLoading)
	require.Nil(t, st.LastError)
}

func TestStore_LoadThreads_FailureClearsList(t *testing.T) {
	t.Parallel()

	api := &gatewaytest.API{Threads: []model.Thread{thread("a", 1)}}
	s := newStore(t, api)
	require.NoError(t, s.LoadThreads(context.Background(), "u1"))

	api.ThreadsErr = errs.ErrUnavailable
	err := s.LoadThreads(context.Background(), "u1")
	require.ErrorIs(t, err, errs.ErrUnavailable)

	st := s.Snapshot()
	require.Empty(t, st.Threads)
	require.False(t, st.IsLoading)
	require.NotNil(t, st.LastError)
	require.Equal(t, errs.KindLoad, st.LastError.Kind)
}

func TestStore_LoadThreads_FailurePublishesOneState(t *testing.T) {
	t.Parallel()

	api := &gatewaytest.API{Threads: []model.Thread{thread("a", 1)}}
	s := newStore(t, api)
	require.NoError(t, s.LoadThreads(context.Background(), "u1"))

	var mu sync.Mutex
	var seen []State
	off := s.Subscribe(func(st State) {
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
	})
	defer off()

	api.ThreadsErr = errs.ErrUnavailable
	require.Error(t, s.LoadThreads(context.Background(), "u1"))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	for _, st := range seen {
		if len(st.Threads) == 0 {
			require.NotNil(t, st.LastError, "cleared list published without its error")
		}
	}
}

func TestStore_LoadMessages_FailureKeepsPrevious(t *testing.T) {
	t.Parallel()

	api := &gatewaytest.API{Messages: map[string][]model.Message{"a": {msg("m1", "a", "u2")}}}
	s := newStore(t, api)
	require.NoError(t, s.LoadMessages(context.Background(), "a"))
	require.Len(t, s.Snapshot().Messages("a"), 1)

	api.MessagesErr = errors.New("boom")
	require.Error(t, s.LoadMessages(context.Background(), "a"))

	st := s.Snapshot()
	require.Len(t, st.Messages("a"), 1)
	require.Equal(t, errs.KindLoad, st.LastError.Kind)
	require.False(t, st.IsLoading)
}

func TestStore_LoadMessages_Replaces(t *testing.T) {
	t.Parallel()

	api := &gatewaytest.API{Messages: map[string][]model.Message{"a": {msg("m2", "a", "u2")}}}
	s := newStore(t, api)
	s.AddMessage(msg("m1", "a", "u2"))

	require.NoError(t, s.LoadMessages(context.Background(), "a"))
	got := s.Snapshot().Messages("a")
	require.Len(t, got, 1)
	require.Equal(t, "m2", got[0].ID)
}

func TestStore_IsLoadingDuringCall(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	api := &gatewaytest.API{Block: block}
	s := newStore(t, api)

	done := make(chan error, 1)
	go func() { done <- s.LoadThreads(context.Background(), "u1") }()

	require.Eventually(t, func() bool { return s.Snapshot().IsLoading }, time.Second, 5*time.Millisecond)
	close(block)
	require.NoError(t, <-done)
	require.False(t, s.Snapshot().IsLoading)
}

func TestStore_CanceledLoadReleasesLoading(t *testing.T) {
	t.Parallel()

	api := &gatewaytest.API{Block: make(chan struct{})}
	s := newStore(t, api)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.LoadMessages(ctx, "a")
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, s.Snapshot().IsLoading)
}

func TestStore_SendMessage_Success(t *testing.T) {
	t.Parallel()

	sent := msg("m9", "a", "u1")
	sent.Timestamp = t0.Add(time.Hour)
	api := &gatewaytest.API{Sent: sent}
	s := newStore(t, api)
	s.AddThread(thread("a", 0))

	res := s.SendMessage(context.Background(), model.SendRequest{ThreadID: "a", SenderID: "u1", Content: "hi"})
	require.True(t, res.OK())
	require.Equal(t, "m9", res.Message.ID)
	require.Equal(t, model.MessageText, api.SendReqs[0].Type)

	st := s.Snapshot()
	require.Len(t, st.Messages("a"), 1)
	th, _ := st.Thread("a")
	require.Equal(t, "m9", th.LastMessage.ID)
	require.Equal(t, sent.Timestamp, th.UpdatedAt)

	// echo of the same id is absorbed
	require.False(t, s.AddMessage(sent))
}

func TestStore_SendMessage_Failure(t *testing.T) {
	t.Parallel()

	api := &gatewaytest.API{SendErr: errs.ErrRateLimited}
	s := newStore(t, api)

	res := s.SendMessage(context.Background(), model.SendRequest{ThreadID: "a", SenderID: "u1", Content: "hi"})
	require.False(t, res.OK())
	require.ErrorIs(t, res.Err, errs.ErrRateLimited)
	kind, ok := errs.KindOf(res.Err)
	require.True(t, ok)
	require.Equal(t, errs.KindSend, kind)

	st := s.Snapshot()
	require.Empty(t, st.Messages("a"))
	require.Equal(t, errs.KindSend, st.LastError.Kind)
}

func TestStore_HandleDeleteMessage_ConfirmationGated(t *testing.T) {
	t.Parallel()

	api := &gatewaytest.API{DeleteErr: errs.ErrForbidden}
	s := newStore(t, api)
	s.AddMessage(msg("m1", "a", "u1"))

	err := s.HandleDeleteMessage(context.Background(), "m1", "a")
	require.ErrorIs(t, err, errs.ErrForbidden)
	m, _ := s.Snapshot().Message("a", "m1")
	require.Equal(t, "hi m1", m.Content)
	require.Equal(t, errs.KindDelete, s.Snapshot().LastError.Kind)

	api.DeleteErr = nil
	require.NoError(t, s.HandleDeleteMessage(context.Background(), "m1", "a"))
	m, _ = s.Snapshot().Message("a", "m1")
	require.Equal(t, model.TombstoneContent, m.Content)
	require.Equal(t, []string{"m1"}, api.Deleted)
}

func TestStore_MarkMessageAsRead_UsesClock(t *testing.T) {
	t.Parallel()

	s := newStore(t, &gatewaytest.API{})
	s.AddMessage(msg("m1", "a", "u1"))

	require.True(t, s.MarkMessageAsRead("m1", "a", "u2", "Bob"))
	require.False(t, s.MarkMessageAsRead("m1", "a", "u2", "Bob"))

	m, _ := s.Snapshot().Message("a", "m1")
	require.Equal(t, []model.ReadReceipt{{UserID: "u2", UserName: "Bob", ReadAt: t0}}, m.Metadata.ReadBy)
}

func TestStore_AddThread_RejectsInvalid(t *testing.T) {
	t.Parallel()

	s := newStore(t, &gatewaytest.API{})
	require.False(t, s.AddThread(model.Thread{Name: "x"}))
	require.Empty(t, s.Snapshot().Threads)
	require.Nil(t, s.Snapshot().LastError)
}

func TestStore_MarkThreadRead(t *testing.T) {
	t.Parallel()

	api := &gatewaytest.API{}
	s := newStore(t, api)
	th := thread("a", 0)
	th.UnreadCount = 4
	s.AddThread(th)

	require.NoError(t, s.MarkThreadRead(context.Background(), "a", "u1"))
	require.Equal(t, 0, s.GetTotalUnreadCount())
	require.Equal(t, []string{"a/u1"}, api.MarkedBy)

	s.SetUnreadCount("a", 2)
	api.MarkReadErr = errs.ErrUnavailable
	err := s.MarkThreadRead(context.Background(), "a", "u1")
	kind, _ := errs.KindOf(err)
	require.Equal(t, errs.KindMarkRead, kind)
	require.Nil(t, s.Snapshot().LastError)
	require.Equal(t, 2, s.GetTotalUnreadCount())
}

func TestStore_CreateAndRefreshThread(t *testing.T) {
	t.Parallel()

	created := thread("new", time.Hour)
	api := &gatewaytest.API{Created: created}
	s := newStore(t, api)

	got, err := s.CreateThread(context.Background(), "u1", []string{"u2"}, false)
	require.NoError(t, err)
	require.Equal(t, "new", got.ID)

	refreshed := created
	refreshed.Name = "renamed"
	refreshed.UpdatedAt = t0 // server overwrite may move UpdatedAt back
	api.Thread = refreshed
	require.NoError(t, s.RefreshThread(context.Background(), "new"))
	th, _ := s.Snapshot().Thread("new")
	require.Equal(t, "renamed", th.Name)
	require.Equal(t, t0, th.UpdatedAt)

	api.Created = model.Thread{}
	_, err = s.CreateThread(context.Background(), "u1", []string{"u2"}, false)
	require.ErrorIs(t, err, errs.ErrInvalidThread)
}

func TestStore_GetTotalUnreadCount(t *testing.T) {
	t.Parallel()

	s := newStore(t, &gatewaytest.API{})
	require.Equal(t, 0, s.GetTotalUnreadCount())

	a, b := thread("a", 0), thread("b", 1)
	a.UnreadCount, b.UnreadCount = 2, 5
	s.AddThread(a)
	s.AddThread(b)
	require.Equal(t, 7, s.GetTotalUnreadCount())

	s.SetUnreadCount("b", 1)
	require.Equal(t, 3, s.GetTotalUnreadCount())
}

func TestStore_Subscribe(t *testing.T) {
	t.Parallel()

	s := newStore(t, &gatewaytest.API{})
	var mu sync.Mutex
	var seen []int
	off := s.Subscribe(func(st State) {
		mu.Lock()
		seen = append(seen, len(st.Messages("a")))
		mu.Unlock()
	})

	s.AddMessage(msg("m1", "a", "u1"))
	s.AddMessage(msg("m1", "a", "u1")) // no-op, not published
	s.AddMessage(msg("m2", "a", "u1"))
	off()
	off()
	s.AddMessage(msg("m3", "a", "u1"))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1, 2}, seen)
}

func TestStore_ConcurrentAddsAreSerialized(t *testing.T) {
	t.Parallel()

	s := newStore(t, &gatewaytest.API{})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := msg(fmt.Sprintf("m%d", i), "a", "u1")
			s.AddMessage(m)
			s.AddMessage(m)
		}(i)
	}
	wg.Wait()
	require.Len(t, s.Snapshot().Messages("a"), 50)
}

func TestStore_SubscriberMaySnapshotDuringConcurrentMutations(t *testing.T) {
	t.Parallel()

	s := newStore(t, &gatewaytest.API{})
	off := s.Subscribe(func(State) {
		_ = s.Snapshot()
	})
	defer off()

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					s.AddMessage(msg(fmt.Sprintf("m%d-%d", i, j), "a", "u1"))
				}
			}(i)
		}
		wg.Wait()
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("store deadlocked")
	}
	require.Len(t, s.Snapshot().Messages("a"), 1000)
}

func TestStore_SubscriberSeesNewestState(t *testing.T) {
	t.Parallel()

	s := newStore(t, &gatewaytest.API{})
	var mu sync.Mutex
	last, regressed := -1, false
	off := s.Subscribe(func(st State) {
		mu.Lock()
		defer mu.Unlock()
		n := len(st.Messages("a"))
		if n < last {
			regressed = true
		}
		last = n
	})
	defer off()

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.AddMessage(msg(fmt.Sprintf("m%d", i), "a", "u1"))
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.False(t, regressed, "subscriber saw an older state after a newer one")
	require.Equal(t, 30, last)
}

func TestStore_Hydrate(t *testing.T) {
	t.Parallel()

	s := newStore(t, &gatewaytest.API{})
	s.Hydrate([]model.Thread{thread("a", 0), thread("b", 1)}, map[string][]model.Message{"a": {msg("m1", "a", "u1")}})

	st := s.Snapshot()
	require.Equal(t, []string{"b", "a"}, ids(st.Threads))
	require.Len(t, st.Messages("a"), 1)
}

func TestStore_SetCurrentThreadAndReply(t *testing.T) {
	t.Parallel()

	s := newStore(t, &gatewaytest.API{})
	s.SetCurrentThread("a")
	require.Equal(t, "a", s.Snapshot().CurrentThreadID)

	m := msg("m1", "a", "u2")
	s.SetReplyingTo(&m)
	m.Content = "mutated"
	require.Equal(t, "hi m1", s.Snapshot().ReplyingTo.Content)

	s.SetReplyingTo(nil)
	s.SetCurrentThread("")
	st := s.Snapshot()
	require.Nil(t, st.ReplyingTo)
	require.Empty(t, st.CurrentThreadID)
}
