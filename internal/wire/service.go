package wire

import (
	"context"

	"google.golang.org/grpc"

	"github.com/and161185/leaguechat/internal/model"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "leaguechat.v1.Chat"

// Full method names.
const (
	MethodListThreads   = "/" + ServiceName + "/ListThreads"
	MethodGetThread     = "/" + ServiceName + "/GetThread"
	MethodGetMessages   = "/" + ServiceName + "/GetMessages"
	MethodSendMessage   = "/" + ServiceName + "/SendMessage"
	MethodDeleteMessage = "/" + ServiceName + "/DeleteMessage"
	MethodMarkAllAsRead = "/" + ServiceName + "/MarkAllAsRead"
	MethodCreateThread  = "/" + ServiceName + "/CreateThread"
)

type ListThreadsRequest struct {
	UserID string `json:"userId"`
}

type ListThreadsResponse struct {
	Threads []model.Thread `json:"threads"`
}

type GetThreadRequest struct {
	ThreadID string `json:"threadId"`
}

type GetThreadResponse struct {
	Thread model.Thread `json:"thread"`
}

type GetMessagesRequest struct {
	ThreadID string `json:"threadId"`
	Page     int    `json:"page"`
	PageSize int    `json:"pageSize"`
}

type GetMessagesResponse struct {
	Messages []model.Message `json:"messages"`
}

type SendMessageRequest struct {
	model.SendRequest
}

type SendMessageResponse struct {
	Message model.Message `json:"message"`
}

type DeleteMessageRequest struct {
	MessageID string `json:"messageId"`
}

type MarkAllAsReadRequest struct {
	ThreadID string `json:"threadId"`
	UserID   string `json:"userId"`
}

type CreateThreadRequest struct {
	CreatorID      string   `json:"creatorId"`
	ParticipantIDs []string `json:"participantIds"`
	IsGroup        bool     `json:"isGroup"`
	Name           string   `json:"name,omitempty"`
}

type CreateThreadResponse struct {
	Thread model.Thread `json:"thread"`
}

// Empty is the response of calls that return nothing.
type Empty struct{}

// ChatServer is the server side of the chat service.
type ChatServer interface {
	ListThreads(context.Context, *ListThreadsRequest) (*ListThreadsResponse, error)
	GetThread(context.Context, *GetThreadRequest) (*GetThreadResponse, error)
	GetMessages(context.Context, *GetMessagesRequest) (*GetMessagesResponse, error)
	SendMessage(context.Context, *SendMessageRequest) (*SendMessageResponse, error)
	DeleteMessage(context.Context, *DeleteMessageRequest) (*Empty, error)
	MarkAllAsRead(context.Context, *MarkAllAsReadRequest) (*Empty, error)
	CreateThread(context.Context, *CreateThreadRequest) (*CreateThreadResponse, error)
}

func unary[Req, Resp any](name string, call func(ChatServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	full := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ChatServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ChatServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes the chat service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChatServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("ListThreads", ChatServer.ListThreads),
		unary("GetThread", ChatServer.GetThread),
		unary("GetMessages", ChatServer.GetMessages),
		unary("SendMessage", ChatServer.SendMessage),
		unary("DeleteMessage", ChatServer.DeleteMessage),
		unary("MarkAllAsRead", ChatServer.MarkAllAsRead),
		unary("CreateThread", ChatServer.CreateThread),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "leaguechat/v1/chat",
}

// RegisterChatServer registers srv on s.
func RegisterChatServer(s grpc.ServiceRegistrar, srv ChatServer) {
	s.RegisterService(&ServiceDesc, srv)
}
