package cache

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/leaguechat/internal/gateway/gatewaytest"
	"github.com/and161185/leaguechat/internal/model"
	"github.com/and161185/leaguechat/internal/store"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testSealer(t *testing.T, user string) *Sealer {
	t.Helper()
	s, err := NewSealer([]byte("correct horse"), user)
	require.NoError(t, err)
	return s
}

func openMem(t *testing.T, fs vfs.FS, seal *Sealer) *Cache {
	t.Helper()
	c, err := Open("cache", seal, zaptest.NewLogger(t), WithFS(fs))
	require.NoError(t, err)
	return c
}

func TestSealer_RoundTripAndBinding(t *testing.T) {
	t.Parallel()
	s := testSealer(t, "u1")

	sealed, err := s.Seal([]byte("thread:T1"), []byte("payload"))
	require.NoError(t, err)
	require.False(t, bytes.Contains(sealed, []byte("payload")))

	plain, err := s.Open([]byte("thread:T1"), sealed)
	require.NoError(t, err)
	require.Equal(t, "payload", string(plain))

	_, err = s.Open([]byte("thread:T2"), sealed)
	require.Error(t, err, "record name is bound")

	_, err = testSealer(t, "u2").Open([]byte("thread:T1"), sealed)
	require.Error(t, err, "user is bound")

	_, err = s.Open([]byte("thread:T1"), sealed[:5])
	require.Error(t, err)

	_, err = NewSealer(nil, "u1")
	require.Error(t, err)
}

func TestCache_SaveLoad(t *testing.T) {
	t.Parallel()
	fs := vfs.NewMem()
	seal := testSealer(t, "u1")
	c := openMem(t, fs, seal)

	var st store.State
	st, _ = st.UpsertThread(model.Thread{ID: "T1", Name: "Division A", UpdatedAt: t0, UnreadCount: 2})
	st, _ = st.UpsertThread(model.Thread{ID: "T2", UpdatedAt: t0.Add(time.Minute)})
	for i := 0; i < MaxMessages+5; i++ {
		st, _ = st.AddMessage(model.Message{ID: fmt.Sprintf("m%03d", i), ThreadID: "T1", Content: "x", Timestamp: t0})
	}
	require.NoError(t, c.Save(st))

	// a smaller state replaces the previous one
	st2, _ := st.UpsertThread(model.Thread{ID: "T3", UpdatedAt: t0.Add(time.Hour)})
	st2 = st2.ReplaceThreads([]model.Thread{{ID: "T3", UpdatedAt: t0}})
	require.NoError(t, c.Save(st2))
	require.NoError(t, c.Close())

	c = openMem(t, fs, seal)
	defer c.Close()
	threads, msgs, err := c.Load()
	require.NoError(t, err)
	require.Len(t, threads, 1)
	require.Equal(t, "T3", threads[0].ID)
	require.Len(t, msgs["T1"], MaxMessages)
	require.Equal(t, "m005", msgs["T1"][0].ID)
}

func TestCache_RecordsAreSealed(t *testing.T) {
	t.Parallel()
	c := openMem(t, vfs.NewMem(), testSealer(t, "u1"))
	defer c.Close()

	var st store.State
	st, _ = st.UpsertThread(model.Thread{ID: "T1", Name: "secret-name"})
	require.NoError(t, c.Save(st))

	v, closer, err := c.db.Get([]byte("thread:T1"))
	require.NoError(t, err)
	defer closer.Close()
	require.False(t, bytes.Contains(v, []byte("secret-name")))
}

func TestCache_WrongSecretSkipsRecords(t *testing.T) {
	t.Parallel()
	fs := vfs.NewMem()
	c := openMem(t, fs, testSealer(t, "u1"))
	var st store.State
	st, _ = st.UpsertThread(model.Thread{ID: "T1"})
	require.NoError(t, c.Save(st))
	require.NoError(t, c.Close())

	other, err := NewSealer([]byte("wrong"), "u1")
	require.NoError(t, err)
	c = openMem(t, fs, other)
	defer c.Close()
	threads, _, err := c.Load()
	require.NoError(t, err)
	require.Empty(t, threads)
}

func TestCache_AttachAndRestore(t *testing.T) {
	t.Parallel()
	fs := vfs.NewMem()
	seal := testSealer(t, "u1")
	c := openMem(t, fs, seal)

	s := store.New(&gatewaytest.API{})
	detach := c.Attach(s)
	s.AddThread(model.Thread{ID: "T1", UpdatedAt: t0})
	s.AddThread(model.Thread{ID: "T2", UpdatedAt: t0.Add(time.Minute)})
	s.AddMessage(model.Message{ID: "m1", ThreadID: "T1", Content: "hi", Timestamp: t0})
	detach()
	detach()
	require.NoError(t, c.Close())

	c = openMem(t, fs, seal)
	defer c.Close()
	fresh := store.New(&gatewaytest.API{})
	require.NoError(t, c.Restore(fresh))

	snap := fresh.Snapshot()
	require.Len(t, snap.Threads, 2)
	require.Equal(t, "T2", snap.Threads[0].ID)
	require.Len(t, snap.Messages("T1"), 1)
}

func TestCache_RestoreEmpty(t *testing.T) {
	t.Parallel()
	c := openMem(t, vfs.NewMem(), testSealer(t, "u1"))
	defer c.Close()

	s := store.New(&gatewaytest.API{})
	var calls int
	off := s.Subscribe(func(store.State) { calls++ })
	defer off()
	require.NoError(t, c.Restore(s))
	require.Equal(t, 0, calls)
}

func TestUpperBound(t *testing.T) {
	t.Parallel()
	require.Equal(t, []byte("thread;"), upperBound(threadPrefix))
	require.True(t, pebble.DefaultComparer.Compare([]byte("thread:zzz"), upperBound(threadPrefix)) < 0)
}
