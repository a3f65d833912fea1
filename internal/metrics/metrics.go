// Package metrics holds the prometheus collectors of the backend.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

const namespace = "leaguechat"

// Metrics groups the backend collectors. A nil *Metrics records nothing.
type Metrics struct {
	rpcs        *prometheus.CounterVec
	rpcDuration *prometheus.HistogramVec
	pushConns   prometheus.Gauge
	pushFrames  *prometheus.CounterVec
	sent        prometheus.Counter
	limited     prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rpcs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "Unary RPCs handled, by method and status code.",
		}, []string{"method", "code"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_duration_seconds",
			Help:      "Unary RPC latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		pushConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "push_connections",
			Help:      "Open push connections.",
		}),
		pushFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_frames_total",
			Help:      "Push frames by direction and type.",
		}, []string{"direction", "type"}),
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages persisted.",
		}),
		limited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Writes rejected by the per-user rate limit.",
		}),
	}
	reg.MustRegister(m.rpcs, m.rpcDuration, m.pushConns, m.pushFrames, m.sent, m.limited)
	return m
}

// Handler serves the registry in the prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// UnaryInterceptor counts and times every unary RPC.
func (m *Metrics) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if m != nil {
			m.rpcDuration.WithLabelValues(info.FullMethod).Observe(time.Since(start).Seconds())
			m.rpcs.WithLabelValues(info.FullMethod, status.Code(err).String()).Inc()
		}
		return resp, err
	}
}

func (m *Metrics) ConnOpened() {
	if m != nil {
		m.pushConns.Inc()
	}
}

func (m *Metrics) ConnClosed() {
	if m != nil {
		m.pushConns.Dec()
	}
}

// FrameIn counts a command received from a client.
func (m *Metrics) FrameIn(typ string) {
	if m != nil {
		m.pushFrames.WithLabelValues("in", typ).Inc()
	}
}

// FrameOut counts an event delivered to a client.
func (m *Metrics) FrameOut(typ string) {
	if m != nil {
		m.pushFrames.WithLabelValues("out", typ).Inc()
	}
}

func (m *Metrics) MessageSent() {
	if m != nil {
		m.sent.Inc()
	}
}

func (m *Metrics) RateLimited() {
	if m != nil {
		m.limited.Inc()
	}
}
