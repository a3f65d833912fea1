package grpcserver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/leaguechat/internal/auth"
)

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "127.0.0.1:12345" }

func TestLoggingUnary_Passthrough(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	ic := LoggingUnary(log)

	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: fakeAddr{}})

	h := func(ctx context.Context, req any) (any, error) { return "ok", nil }
	info := &grpc.UnaryServerInfo{FullMethod: "/leaguechat.v1.Chat/Method"}

	resp, err := ic(ctx, "req", info, h)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if s, _ := resp.(string); s != "ok" {
		t.Fatalf("resp mismatch: %v", resp)
	}

	wantErr := errors.New("boom")
	hErr := func(ctx context.Context, req any) (any, error) { return nil, wantErr }
	_, err = ic(ctx, "req", info, hErr)
	if !errors.Is(err, wantErr) {
		t.Fatalf("want original error, got: %v", err)
	}
}

func TestRecoverUnary_CatchesPanic(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	ic := RecoverUnary(log)

	ctx := context.Background()
	info := &grpc.UnaryServerInfo{FullMethod: "/leaguechat.v1.Chat/Panic"}

	panicH := func(ctx context.Context, req any) (any, error) {
		panic("oh no")
	}

	_, err := ic(ctx, "req", info, panicH)
	if err == nil {
		t.Fatalf("expected error from panic")
	}
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Internal {
		t.Fatalf("want codes.Internal, got: %v", err)
	}
}

func TestRecoverUnary_NoPanicPassThrough(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	ic := RecoverUnary(log)

	ctx := context.Background()
	info := &grpc.UnaryServerInfo{FullMethod: "/leaguechat.v1.Chat/Ok"}

	h := func(ctx context.Context, req any) (any, error) { return 42, nil }

	resp, err := ic(ctx, "req", info, h)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if resp.(int) != 42 {
		t.Fatalf("resp mismatch: %v", resp)
	}
}

func TestLoggingUnary_DurationFieldDoesNotBlock(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	ic := LoggingUnary(log)

	ctx := context.Background()
	info := &grpc.UnaryServerInfo{FullMethod: "/leaguechat.v1.Chat/Sleep"}
	h := func(ctx context.Context, req any) (any, error) {
		time.Sleep(5 * time.Millisecond)
		return "done", nil
	}

	start := time.Now()
	resp, err := ic(ctx, "req", info, h)
	if err != nil || resp.(string) != "done" {
		t.Fatalf("unexpected result: %v, %v", resp, err)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Fatalf("duration should reflect handler time")
	}
}

func TestLoggingUnary_RecordsCaller(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	ic := LoggingUnary(zap.New(core))

	ctx := WithIdentity(context.Background(), auth.Identity{UserID: "u1"})
	info := &grpc.UnaryServerInfo{FullMethod: "/leaguechat.v1.Chat/GetThread"}
	_, _ = ic(ctx, nil, info, func(context.Context, any) (any, error) {
		return nil, status.Error(codes.NotFound, "nope")
	})
	_, _ = ic(ctx, nil, info, func(context.Context, any) (any, error) {
		return nil, status.Error(codes.Internal, "db down")
	})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("want 2 entries, got %d", len(entries))
	}
	f := entries[0].ContextMap()
	if f["user"] != "u1" || f["code"] != "NotFound" {
		t.Fatalf("fields: %v", f)
	}
	if entries[1].Level != zap.WarnLevel {
		t.Fatalf("internal errors should warn, got %v", entries[1].Level)
	}
}

func TestAuthUnary(t *testing.T) {
	t.Parallel()

	key := []byte("secret")
	uid := uuid.Must(uuid.NewV4())
	tok, _, err := auth.NewIssuer(key, time.Hour).Issue(uid, "Alice")
	if err != nil {
		t.Fatal(err)
	}
	ic := AuthUnary(auth.NewVerifier(key))
	info := &grpc.UnaryServerInfo{FullMethod: "/leaguechat.v1.Chat/ListThreads"}

	var got auth.Identity
	h := func(ctx context.Context, _ any) (any, error) {
		got, _ = IdentityFromCtx(ctx)
		return "ok", nil
	}

	withMD := func(v string) context.Context {
		return metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", v))
	}

	if _, err := ic(withMD("Bearer "+tok), nil, info, h); err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
	if got.UserID != uid.String() || got.Name != "Alice" {
		t.Fatalf("identity = %+v", got)
	}

	for name, ctx := range map[string]context.Context{
		"no metadata": context.Background(),
		"basic":       withMD("Basic abc"),
		"bad token":   withMD("Bearer junk"),
	} {
		_, err := ic(ctx, nil, info, h)
		if status.Code(err) != codes.Unauthenticated {
			t.Fatalf("%s: want Unauthenticated, got %v", name, err)
		}
	}

	health := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	if _, err := ic(context.Background(), nil, health, h); err != nil {
		t.Fatalf("health check must be public: %v", err)
	}
}
