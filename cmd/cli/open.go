package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/leaguechat/internal/cache"
	"github.com/and161185/leaguechat/internal/chat"
	"github.com/and161185/leaguechat/internal/gateway/push"
	"github.com/and161185/leaguechat/internal/model"
	"github.com/and161185/leaguechat/internal/reconciler"
	"github.com/and161185/leaguechat/internal/store"
)

const shortID = 8

const openHelp = `plain lines are sent to the thread
/reply ID   reply to a message (id prefix is enough)
/cancel     drop the reply context
/rm ID      delete one of your messages
/quit       leave
`

func newOpenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "open THREAD_ID",
		Short: "Follow a thread interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd.Context(), args[0], cmd.InOrStdin())
		},
	}
}

func (a *app) open(ctx context.Context, threadID string, in io.Reader) error {
	tok, me, err := a.identity()
	if err != nil {
		return err
	}
	api, closer, err := a.api(tok)
	if err != nil {
		return err
	}
	defer closer.Close()

	st := store.New(api, store.WithLogger(a.log.Named("store")), store.WithPageSize(a.cfg.Client.PageSize))

	if c := a.openCache(me.ID); c != nil {
		defer c.Close()
		if err := c.Restore(st); err != nil {
			a.log.Warn("cache restore", zap.Error(err))
		}
		detach := c.Attach(st)
		defer detach()
	}

	ch := push.New(push.Config{
		URL:            a.cfg.Client.PushURL,
		Token:          tok,
		Reconnect:      true,
		ReconnectEvery: a.cfg.Client.ReconnectEvery,
		Logger:         a.log.Named("push"),
	})
	rec := reconciler.New(st, ch, me, reconciler.WithLogger(a.log.Named("reconciler")))
	sess := chat.NewSession(st, rec, me, a.log.Named("session"))

	tail := newTail(a.out, me.ID)
	unsubscribe := st.Subscribe(tail.update)
	defer unsubscribe()

	sess.Start()
	defer sess.Stop()
	cctx, cancel := withTimeout(ctx)
	if err := ch.Connect(cctx); err != nil {
		fmt.Fprintf(a.out, "! live updates unavailable: %v\n", err)
	}
	cancel()
	defer func() { _ = ch.Disconnect() }()

	octx, cancel := withTimeout(ctx)
	defer cancel()
	if err := sess.Refresh(octx); err != nil {
		return err
	}
	tail.header(threadID, st.Snapshot())
	if err := sess.Open(octx, threadID); err != nil {
		return err
	}
	return a.prompt(ctx, sess, tail, in)
}

// openCache returns the warm cache when a cache secret is configured.
func (a *app) openCache(userID string) *cache.Cache {
	secret := a.cfg.Client.CacheSecret
	if secret == "" {
		return nil
	}
	dir := a.cfg.Client.CacheDir
	if dir == "" {
		dir = filepath.Join(cfgDir(), "cache")
	}
	seal, err := cache.NewSealer([]byte(secret), userID)
	if err != nil {
		a.log.Warn("cache disabled", zap.Error(err))
		return nil
	}
	c, err := cache.Open(filepath.Join(dir, userID), seal, a.log.Named("cache"))
	if err != nil {
		a.log.Warn("cache disabled", zap.Error(err))
		return nil
	}
	return c
}

// prompt reads commands until /quit, EOF or cancellation.
func (a *app) prompt(ctx context.Context, sess *chat.Session, tail *tail, in io.Reader) error {
	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := a.exec(ctx, sess, line)
			if err != nil {
				tail.notice("! %v", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// exec runs one input line.
func (a *app) exec(ctx context.Context, sess *chat.Session, line string) (quit bool, err error) {
	cmd, arg := parseLine(line)
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	snap := sess.Store().Snapshot()
	switch cmd {
	case "":
		return false, nil
	case "quit":
		return true, nil
	case "help":
		fmt.Fprint(a.out, openHelp)
	case "cancel":
		sess.CancelReply()
	case "reply", "rm":
		id, err := resolveID(snap.Messages(snap.CurrentThreadID), arg)
		if err != nil {
			return false, err
		}
		if cmd == "reply" {
			return false, sess.ReplyTo(id)
		}
		return false, sess.Delete(ctx, id)
	case "send":
		return false, sess.Send(ctx, arg).Err
	default:
		return false, fmt.Errorf("unknown command /%s (try /help)", cmd)
	}
	return false, nil
}

// parseLine splits "/cmd arg" into its parts. Anything else is a message.
// A leading "//" escapes a message that starts with a slash.
func parseLine(line string) (cmd, arg string) {
	t := strings.TrimSpace(line)
	switch {
	case t == "":
		return "", ""
	case strings.HasPrefix(t, "//"):
		return "send", t[1:]
	case strings.HasPrefix(t, "/"):
		name, rest, _ := strings.Cut(t[1:], " ")
		return strings.ToLower(name), strings.TrimSpace(rest)
	default:
		return "send", t
	}
}

// resolveID finds the message whose id starts with prefix.
func resolveID(msgs []model.Message, prefix string) (string, error) {
	if prefix == "" {
		return "", errors.New("need a message id")
	}
	var exact, found string
	matches := 0
	for _, m := range msgs {
		switch {
		case m.ID == prefix:
			exact = m.ID
		case strings.HasPrefix(m.ID, prefix):
			found = m.ID
			matches++
		}
	}
	switch {
	case exact != "":
		return exact, nil
	case matches > 1:
		return "", fmt.Errorf("id %q is ambiguous", prefix)
	case matches == 0:
		return "", fmt.Errorf("no message %q in this thread", prefix)
	}
	return found, nil
}

// tail prints the open thread as its state changes.
type tail struct {
	mu        sync.Mutex
	w         io.Writer
	me        string
	printed   map[string]*seen
	connected *bool
	replying  string
	lastErr   string
}

type seen struct {
	deleted bool
	reads   int
}

func newTail(w io.Writer, me string) *tail {
	if w == nil {
		w = os.Stdout
	}
	return &tail{w: w, me: me, printed: map[string]*seen{}}
}

func (t *tail) notice(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, format+"\n", args...)
}

func (t *tail) header(threadID string, st store.State) {
	th, ok := st.Thread(threadID)
	if !ok {
		return
	}
	t.notice("== %s (%d participants) == /help for commands", th.DisplayName(t.me), len(th.Participants))
}

func (t *tail) update(st store.State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected == nil || *t.connected != st.IsConnected {
		v := st.IsConnected
		if t.connected != nil || !v {
			if v {
				fmt.Fprintln(t.w, "-- live")
			} else {
				fmt.Fprintln(t.w, "-- offline, retrying")
			}
		}
		t.connected = &v
	}

	if e := st.LastError; e != nil && e.Error() != t.lastErr {
		t.lastErr = e.Error()
		fmt.Fprintf(t.w, "! %s\n", t.lastErr)
	} else if e == nil {
		t.lastErr = ""
	}

	th, ok := st.CurrentThread()
	if !ok {
		return
	}
	for _, m := range st.Messages(st.CurrentThreadID) {
		p, ok := t.printed[m.ID]
		if !ok {
			fmt.Fprintln(t.w, t.format(th, m, st))
			t.printed[m.ID] = &seen{deleted: m.Metadata.IsDeleted, reads: len(m.Metadata.ReadBy)}
			continue
		}
		if !p.deleted && m.Metadata.IsDeleted {
			fmt.Fprintf(t.w, "[%s] message deleted\n", short(m.ID))
			p.deleted = true
		}
		if m.SenderID == t.me && len(m.Metadata.ReadBy) > p.reads {
			for _, r := range m.Metadata.ReadBy[p.reads:] {
				fmt.Fprintf(t.w, "[%s] read by %s\n", short(m.ID), readerName(th, r))
			}
		}
		p.reads = len(m.Metadata.ReadBy)
	}

	replying := ""
	if st.ReplyingTo != nil {
		replying = st.ReplyingTo.ID
	}
	if replying != t.replying {
		if replying != "" {
			fmt.Fprintf(t.w, "-- replying to [%s] %s\n", short(replying), snippet(st.ReplyingTo.Content, 30))
		} else if t.replying != "" {
			fmt.Fprintln(t.w, "-- reply cleared")
		}
		t.replying = replying
	}
}

func (t *tail) format(th model.Thread, m model.Message, st store.State) string {
	who := m.SenderID
	if p, ok := th.Participant(m.SenderID); ok && p.Name != "" {
		who = p.Name
	}
	if m.SenderID == t.me {
		who = "you"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s %s: ", short(m.ID), humanize.Time(m.Timestamp), who)
	if m.ReplyToMessageID != "" {
		if r, ok := st.Message(m.ThreadID, m.ReplyToMessageID); ok {
			fmt.Fprintf(&b, "(re %s) ", snippet(r.Content, 20))
		} else {
			fmt.Fprintf(&b, "(re [%s]) ", short(m.ReplyToMessageID))
		}
	}
	b.WriteString(m.Content)
	if n := len(m.Metadata.ReadBy); n > 0 && m.SenderID == t.me {
		fmt.Fprintf(&b, "  (read by %d)", n)
	}
	return b.String()
}

func readerName(th model.Thread, r model.ReadReceipt) string {
	if r.UserName != "" {
		return r.UserName
	}
	if p, ok := th.Participant(r.UserID); ok && p.Name != "" {
		return p.Name
	}
	return r.UserID
}

func short(id string) string {
	if len(id) > shortID {
		return id[:shortID]
	}
	return id
}
