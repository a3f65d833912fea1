// Package grpcserver exposes the chat API over gRPC.
package grpcserver

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/leaguechat/internal/errs"
	"github.com/and161185/leaguechat/internal/model"
	"github.com/and161185/leaguechat/internal/wire"
)

// ChatAPI is the service the handlers delegate to. caller is the
// authenticated user id.
type ChatAPI interface {
	ListThreads(ctx context.Context, caller, userID string) ([]model.Thread, error)
	GetThread(ctx context.Context, caller, threadID string) (model.Thread, error)
	GetMessages(ctx context.Context, caller, threadID string, page, pageSize int) ([]model.Message, error)
	SendMessage(ctx context.Context, caller string, req model.SendRequest) (model.Message, error)
	DeleteMessage(ctx context.Context, caller, messageID string) error
	MarkAllAsRead(ctx context.Context, caller, threadID, userID string) error
	CreateThread(ctx context.Context, caller, creatorID string, participantIDs []string, isGroup bool, name string) (model.Thread, error)
}

// Server wires the chat service into gRPC handlers.
type Server struct {
	chat ChatAPI
	log  *zap.Logger
}

var _ wire.ChatServer = (*Server)(nil)

// New constructs a gRPC server with injected services.
func New(chat ChatAPI, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{chat: chat, log: log}
}

func caller(ctx context.Context) (string, error) {
	id, ok := IdentityFromCtx(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "no auth")
	}
	return id.UserID, nil
}

// toStatus maps service errors onto gRPC codes.
func (s *Server) toStatus(op string, err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, errs.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, errs.ErrUnauthorized):
		code = codes.Unauthenticated
	case errors.Is(err, errs.ErrForbidden):
		code = codes.PermissionDenied
	case errors.Is(err, errs.ErrRateLimited):
		code = codes.ResourceExhausted
	case errors.Is(err, errs.ErrInvalidArgument):
		code = codes.InvalidArgument
	case errors.Is(err, errs.ErrAlreadyExists):
		code = codes.AlreadyExists
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	default:
		s.log.Error(op, zap.Error(err))
		return status.Errorf(codes.Internal, "%s failed", op)
	}
	return status.Error(code, err.Error())
}

// --- threads ---

func (s *Server) ListThreads(ctx context.Context, req *wire.ListThreadsRequest) (*wire.ListThreadsResponse, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	threads, err := s.chat.ListThreads(ctx, uid, req.UserID)
	if err != nil {
		return nil, s.toStatus("list threads", err)
	}
	return &wire.ListThreadsResponse{Threads: threads}, nil
}

func (s *Server) GetThread(ctx context.Context, req *wire.GetThreadRequest) (*wire.GetThreadResponse, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if req.ThreadID == "" {
		return nil, status.Error(codes.InvalidArgument, "empty threadId")
	}
	t, err := s.chat.GetThread(ctx, uid, req.ThreadID)
	if err != nil {
		return nil, s.toStatus("get thread", err)
	}
	return &wire.GetThreadResponse{Thread: t}, nil
}

// CreateThread creates a direct or group thread.
func (s *Server) CreateThread(ctx context.Context, req *wire.CreateThreadRequest) (*wire.CreateThreadResponse, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	t, err := s.chat.CreateThread(ctx, uid, req.CreatorID, req.ParticipantIDs, req.IsGroup, req.Name)
	if err != nil {
		return nil, s.toStatus("create thread", err)
	}
	return &wire.CreateThreadResponse{Thread: t}, nil
}

// --- messages ---

// GetMessages returns one page in ascending timestamp order.
func (s *Server) GetMessages(ctx context.Context, req *wire.GetMessagesRequest) (*wire.GetMessagesResponse, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	msgs, err := s.chat.GetMessages(ctx, uid, req.ThreadID, req.Page, req.PageSize)
	if err != nil {
		return nil, s.toStatus("get messages", err)
	}
	return &wire.GetMessagesResponse{Messages: msgs}, nil
}

func (s *Server) SendMessage(ctx context.Context, req *wire.SendMessageRequest) (*wire.SendMessageResponse, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	m, err := s.chat.SendMessage(ctx, uid, req.SendRequest)
	if err != nil {
		return nil, s.toStatus("send message", err)
	}
	return &wire.SendMessageResponse{Message: m}, nil
}

func (s *Server) DeleteMessage(ctx context.Context, req *wire.DeleteMessageRequest) (*wire.Empty, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.chat.DeleteMessage(ctx, uid, req.MessageID); err != nil {
		return nil, s.toStatus("delete message", err)
	}
	return &wire.Empty{}, nil
}

func (s *Server) MarkAllAsRead(ctx context.Context, req *wire.MarkAllAsReadRequest) (*wire.Empty, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.chat.MarkAllAsRead(ctx, uid, req.ThreadID, req.UserID); err != nil {
		return nil, s.toStatus("mark read", err)
	}
	return &wire.Empty{}, nil
}
