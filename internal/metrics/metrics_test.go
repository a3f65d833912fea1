package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestUnaryInterceptor(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	ic := m.UnaryInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/leaguechat.v1.Chat/GetThreads"}

	_, err := ic(context.Background(), nil, info, func(context.Context, any) (any, error) { return "ok", nil })
	require.NoError(t, err)
	_, err = ic(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return nil, status.Error(codes.NotFound, "x")
	})
	require.Error(t, err)

	require.Equal(t, 1.0, testutil.ToFloat64(m.rpcs.WithLabelValues(info.FullMethod, "OK")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.rpcs.WithLabelValues(info.FullMethod, "NotFound")))
	require.Equal(t, 1, testutil.CollectAndCount(m.rpcDuration))
}

func TestCountersAndHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ConnOpened()
	m.ConnOpened()
	m.ConnClosed()
	m.FrameOut("new_message")
	m.FrameIn("join")
	m.MessageSent()
	m.RateLimited()

	require.Equal(t, 1.0, testutil.ToFloat64(m.pushConns))
	require.Equal(t, 1.0, testutil.ToFloat64(m.pushFrames.WithLabelValues("out", "new_message")))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	require.True(t, strings.Contains(string(body), "leaguechat_messages_sent_total 1"))
	require.True(t, strings.Contains(string(body), "leaguechat_rate_limited_total 1"))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ConnOpened()
	m.FrameOut("x")
	m.MessageSent()
	resp, err := m.UnaryInterceptor()(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/m"},
		func(context.Context, any) (any, error) { return 1, nil })
	require.NoError(t, err)
	require.Equal(t, 1, resp)
}
