// Command leaguechat-server runs the reference chat backend: the gRPC API,
// the WebSocket push hub and the metrics endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/and161185/leaguechat/internal/auth"
	"github.com/and161185/leaguechat/internal/config"
	"github.com/and161185/leaguechat/internal/limiter"
	"github.com/and161185/leaguechat/internal/logging"
	"github.com/and161185/leaguechat/internal/metrics"
	"github.com/and161185/leaguechat/internal/migrate"
	"github.com/and161185/leaguechat/internal/model"
	"github.com/and161185/leaguechat/internal/repository/postgres"
	grpcserver "github.com/and161185/leaguechat/internal/server/grpc"
	"github.com/and161185/leaguechat/internal/server/push"
	"github.com/and161185/leaguechat/internal/service"
	"github.com/and161185/leaguechat/internal/wire"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const shutdownGrace = 5 * time.Second

func main() {
	cfgPath := flag.String("config", "", "YAML config file")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the environment")
	issue := flag.String("issue", "", "provision a user with this name, print its token and exit")
	userID := flag.String("user-id", "", "with -issue: reuse this user id")
	flag.Parse()

	cfg, err := config.Load(*cfgPath, *envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Dev)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Server.Validate(); err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *issue != "" {
		if err := provision(ctx, cfg.Server, *issue, *userID); err != nil {
			logger.Fatal("issue token", zap.Error(err))
		}
		return
	}

	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("grpc", cfg.Server.GRPCAddr),
		zap.String("http", cfg.Server.HTTPAddr),
	)
	if err := run(ctx, cfg.Server, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// provision creates or refreshes a user and prints a bearer token for it.
func provision(ctx context.Context, cfg config.Server, name, id string) error {
	if err := migrate.Up(ctx, cfg.DatabaseDSN, zap.NewNop()); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	db, err := postgres.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	acc := service.NewAccounts(postgres.NewUserRepo(db), auth.NewIssuer([]byte(cfg.JWTSecret), cfg.TokenTTL))
	u, tok, exp, err := acc.Provision(ctx, model.User{ID: id, Name: name})
	if err != nil {
		return err
	}
	fmt.Printf("user_id: %s\nexpires: %s\ntoken:   %s\n", u.ID, exp.Format(time.RFC3339), tok)
	return nil
}

func run(ctx context.Context, cfg config.Server, logger *zap.Logger) error {
	if err := migrate.Up(ctx, cfg.DatabaseDSN, logger); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}

	db, err := postgres.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	met := metrics.New(reg)

	verifier := auth.NewVerifier([]byte(cfg.JWTSecret))

	// the hub needs the service for membership checks and the service
	// publishes through the hub
	var chat *service.ChatService
	hub := push.NewHub(backendFunc{chat: func() *service.ChatService { return chat }}, verifier,
		push.WithLogger(logger.Named("push")),
		push.WithMetrics(met),
	)
	defer hub.Close()

	chat = service.NewChatService(
		postgres.NewUserRepo(db),
		postgres.NewThreadRepo(db),
		postgres.NewMessageRepo(db),
		service.WithPublisher(hub),
		service.WithLimiter(limiter.NewPool(cfg.SendRate.RPS, cfg.SendRate.Burst, 10*time.Minute)),
		service.WithMetrics(met),
		service.WithLogger(logger.Named("chat")),
		service.WithMaxMessageLen(cfg.MaxMessageLen),
	)

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			grpcserver.LoggingUnary(logger),
			met.UnaryInterceptor(),
			grpcserver.AuthUnary(verifier),
		),
	}
	if cfg.TLS.CertFile != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			return fmt.Errorf("load TLS cert/key: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	} else {
		logger.Warn("TLS disabled, serving plaintext gRPC")
	}
	gs := grpc.NewServer(opts...)
	wire.RegisterChatServer(gs, grpcserver.New(chat, logger))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	r := mux.NewRouter()
	r.Handle("/ws", hub).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler(reg)).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	hsrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr), zap.Bool("tls", cfg.TLS.CertFile != ""))
		errCh <- gs.Serve(lis)
	}()
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := hsrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	hs.Shutdown()
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	_ = hsrv.Shutdown(sctx)

	done := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-sctx.Done():
		gs.Stop()
	}
	return runErr
}

// backendFunc resolves the chat service lazily so hub and service can be
// constructed in either order.
type backendFunc struct {
	chat func() *service.ChatService
}

func (b backendFunc) CanJoin(ctx context.Context, caller, threadID string) error {
	return b.chat().CanJoin(ctx, caller, threadID)
}

func (b backendFunc) MarkAllAsRead(ctx context.Context, caller, threadID, userID string) error {
	return b.chat().MarkAllAsRead(ctx, caller, threadID, userID)
}
