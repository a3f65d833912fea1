package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/and161185/leaguechat/internal/auth"
	"github.com/and161185/leaguechat/internal/model"
	"github.com/and161185/leaguechat/internal/store"
	"github.com/and161185/leaguechat/internal/unread"
)

const callTimeout = 30 * time.Second

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, callTimeout)
}

func newLoginCmd(a *app) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "login --token TOKEN",
		Short: "Store an access token issued by the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token = strings.TrimSpace(token)
			if token == "" {
				return errors.New("need --token")
			}
			id, exp, err := auth.Inspect(token)
			if err != nil {
				return err
			}
			if exp.IsZero() {
				exp = time.Now().Add(24 * time.Hour)
			}
			if time.Now().After(exp) {
				return errors.New("token already expired")
			}
			if err := saveToken(token, exp); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "logged in as %s (%s), expires %s\n", displayUser(id), id.UserID, humanize.Time(exp))
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "bearer token")
	return cmd
}

func displayUser(id auth.Identity) string {
	if id.Name != "" {
		return id.Name
	}
	return id.UserID
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tok, exp, err := loadToken()
			if err != nil {
				return err
			}
			id, _, err := auth.Inspect(tok)
			if err != nil {
				return err
			}
			if a.asJSON {
				printJSON(a.out, map[string]any{"user_id": id.UserID, "name": id.Name, "expires_at": exp})
				return nil
			}
			fmt.Fprintf(a.out, "%s (%s), token expires %s\n", displayUser(id), id.UserID, humanize.Time(exp))
			return nil
		},
	}
}

func newThreadsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "threads",
		Short: "List your threads, newest activity first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tok, me, err := a.identity()
			if err != nil {
				return err
			}
			api, closer, err := a.api(tok)
			if err != nil {
				return err
			}
			defer closer.Close()

			st := store.New(api, store.WithLogger(a.log), store.WithPageSize(a.cfg.Client.PageSize))
			ctx, cancel := withTimeout(cmd.Context())
			defer cancel()
			if err := st.LoadThreads(ctx, me.ID); err != nil {
				return err
			}
			threads := st.Snapshot().Threads
			if a.asJSON {
				printJSON(a.out, threads)
				return nil
			}
			printThreads(a.out, threads, me.ID, time.Now())
			return nil
		},
	}
}

func printThreads(w io.Writer, threads []model.Thread, me string, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tUNREAD\tACTIVE\tLAST")
	for _, t := range threads {
		last := ""
		if t.LastMessage != nil {
			last = snippet(t.LastMessage.Content, 40)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			t.ID, t.DisplayName(me), t.Type, t.UnreadCount, humanize.RelTime(t.UpdatedAt, now, "ago", "from now"), last)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "%d unread\n", unread.Total(threads))
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func newNewCmd(a *app) *cobra.Command {
	var group bool
	cmd := &cobra.Command{
		Use:   "new USER_ID...",
		Short: "Start a direct or group thread",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !group && len(args) > 1 {
				return errors.New("a direct thread has one other participant; use --group")
			}
			tok, me, err := a.identity()
			if err != nil {
				return err
			}
			api, closer, err := a.api(tok)
			if err != nil {
				return err
			}
			defer closer.Close()

			st := store.New(api, store.WithLogger(a.log))
			ctx, cancel := withTimeout(cmd.Context())
			defer cancel()
			t, err := st.CreateThread(ctx, me.ID, args, group)
			if err != nil {
				return err
			}
			if a.asJSON {
				printJSON(a.out, t)
				return nil
			}
			fmt.Fprintln(a.out, t.ID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&group, "group", false, "create a group thread")
	return cmd
}

func newSendCmd(a *app) *cobra.Command {
	var replyTo string
	cmd := &cobra.Command{
		Use:   "send THREAD_ID TEXT...",
		Short: "Send a message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, me, err := a.identity()
			if err != nil {
				return err
			}
			api, closer, err := a.api(tok)
			if err != nil {
				return err
			}
			defer closer.Close()

			st := store.New(api, store.WithLogger(a.log))
			ctx, cancel := withTimeout(cmd.Context())
			defer cancel()
			res := st.SendMessage(ctx, model.SendRequest{
				ThreadID:  args[0],
				SenderID:  me.ID,
				Content:   strings.Join(args[1:], " "),
				ReplyToID: replyTo,
				Type:      model.MessageText,
			})
			if !res.OK() {
				return res.Err
			}
			if a.asJSON {
				printJSON(a.out, res.Message)
				return nil
			}
			fmt.Fprintln(a.out, res.Message.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&replyTo, "reply", "", "id of the message to reply to")
	return cmd
}

func newRmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm MESSAGE_ID",
		Short: "Delete one of your messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, _, err := a.identity()
			if err != nil {
				return err
			}
			api, closer, err := a.api(tok)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, cancel := withTimeout(cmd.Context())
			defer cancel()
			if err := api.DeleteMessage(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "deleted")
			return nil
		},
	}
}
