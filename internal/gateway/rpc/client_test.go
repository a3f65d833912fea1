package rpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/and161185/leaguechat/internal/errs"
	"github.com/and161185/leaguechat/internal/model"
	"github.com/and161185/leaguechat/internal/wire"
)

type stubChat struct {
	auth    []string
	sendReq model.SendRequest
	err     error
}

func (s *stubChat) authFrom(ctx context.Context) {
	md, _ := metadata.FromIncomingContext(ctx)
	s.auth = md.Get("authorization")
}

func (s *stubChat) ListThreads(ctx context.Context, in *wire.ListThreadsRequest) (*wire.ListThreadsResponse, error) {
	s.authFrom(ctx)
	if s.err != nil {
		return nil, s.err
	}
	return &wire.ListThreadsResponse{Threads: []model.Thread{{ID: "T1", Name: "for " + in.UserID}}}, nil
}

func (s *stubChat) GetThread(_ context.Context, in *wire.GetThreadRequest) (*wire.GetThreadResponse, error) {
	if in.ThreadID != "T1" {
		return nil, status.Error(codes.NotFound, "no such thread")
	}
	return &wire.GetThreadResponse{Thread: model.Thread{ID: "T1"}}, nil
}

func (s *stubChat) GetMessages(_ context.Context, in *wire.GetMessagesRequest) (*wire.GetMessagesResponse, error) {
	out := make([]model.Message, 0, in.PageSize)
	for i := 0; i < in.PageSize; i++ {
		out = append(out, model.Message{ID: string(rune('a' + i)), ThreadID: in.ThreadID})
	}
	return &wire.GetMessagesResponse{Messages: out}, nil
}

func (s *stubChat) SendMessage(_ context.Context, in *wire.SendMessageRequest) (*wire.SendMessageResponse, error) {
	s.sendReq = in.SendRequest
	if s.err != nil {
		return nil, s.err
	}
	return &wire.SendMessageResponse{Message: model.Message{ID: "m1", ThreadID: in.ThreadID, Content: in.Content}}, nil
}

func (s *stubChat) DeleteMessage(context.Context, *wire.DeleteMessageRequest) (*wire.Empty, error) {
	return nil, status.Error(codes.PermissionDenied, "not the sender")
}

func (s *stubChat) MarkAllAsRead(context.Context, *wire.MarkAllAsReadRequest) (*wire.Empty, error) {
	return &wire.Empty{}, nil
}

func (s *stubChat) CreateThread(_ context.Context, in *wire.CreateThreadRequest) (*wire.CreateThreadResponse, error) {
	typ := model.ThreadDirect
	if in.IsGroup {
		typ = model.ThreadGroup
	}
	return &wire.CreateThreadResponse{Thread: model.Thread{ID: "T9", Type: typ}}, nil
}

func startBuf(t *testing.T, srv wire.ChatServer, token string) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	wire.RegisterChatServer(gs, srv)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	c, err := Dial(DialConfig{Addr: "passthrough:///bufnet", Plaintext: true, Token: token},
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func ctx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

func TestClient_RoundTrips(t *testing.T) {
	t.Parallel()
	stub := &stubChat{}
	c := startBuf(t, stub, "tok")

	threads, err := c.ListThreads(ctx(t), "u1")
	require.NoError(t, err)
	require.Equal(t, "for u1", threads[0].Name)
	require.Equal(t, []string{"Bearer tok"}, stub.auth)

	th, err := c.GetThread(ctx(t), "T1")
	require.NoError(t, err)
	require.Equal(t, "T1", th.ID)

	msgs, err := c.GetMessages(ctx(t), "T1", 1, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	m, err := c.SendMessage(ctx(t), model.SendRequest{ThreadID: "T1", SenderID: "u1", Content: "hi", ReplyToID: "m0"})
	require.NoError(t, err)
	require.Equal(t, "hi", m.Content)
	require.Equal(t, "m0", stub.sendReq.ReplyToID)

	require.NoError(t, c.MarkAllAsRead(ctx(t), "T1", "u1"))

	created, err := c.CreateThread(ctx(t), "u1", []string{"u2", "u3"}, true)
	require.NoError(t, err)
	require.Equal(t, model.ThreadGroup, created.Type)
}

func TestClient_MapsStatusToSentinels(t *testing.T) {
	t.Parallel()
	stub := &stubChat{err: status.Error(codes.ResourceExhausted, "slow down")}
	c := startBuf(t, stub, "")

	_, err := c.SendMessage(ctx(t), model.SendRequest{ThreadID: "T1", Content: "x"})
	require.ErrorIs(t, err, errs.ErrRateLimited)
	require.Contains(t, err.Error(), "slow down")

	_, err = c.GetThread(ctx(t), "nope")
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.ErrorIs(t, c.DeleteMessage(ctx(t), "m1"), errs.ErrForbidden)

	stub.err = status.Error(codes.Unauthenticated, "no auth")
	_, err = c.ListThreads(ctx(t), "u1")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	require.Empty(t, stub.auth)
}

func TestFromStatus_PassesUnknownThrough(t *testing.T) {
	t.Parallel()

	err := fromStatus("/x", status.Error(codes.Internal, "boom"))
	require.Equal(t, codes.Internal, status.Code(err))
	require.ErrorIs(t, fromStatus("/x", status.Error(codes.Unavailable, "down")), errs.ErrUnavailable)
}

func TestDialOptions_BadCA(t *testing.T) {
	t.Parallel()

	_, err := DialOptions(DialConfig{Addr: "x", CAFile: "/nonexistent/ca.pem"})
	require.Error(t, err)

	opts, err := DialOptions(DialConfig{Addr: "x", SkipTLS: true, Token: "t"})
	require.NoError(t, err)
	require.Len(t, opts, 3)
}
