package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/leaguechat/internal/errs"
	"github.com/and161185/leaguechat/internal/gateway"
	"github.com/and161185/leaguechat/internal/model"
	"github.com/and161185/leaguechat/internal/wire"
)

// Client is a gateway.API backed by a gRPC connection.
type Client struct {
	cc grpc.ClientConnInterface
}

var _ gateway.API = (*Client)(nil)

// NewClient wraps an existing connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Close closes the connection when the client owns one.
func (c *Client) Close() error {
	if cl, ok := c.cc.(interface{ Close() error }); ok {
		return cl.Close()
	}
	return nil
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	if err := c.cc.Invoke(ctx, method, req, resp); err != nil {
		return fromStatus(method, err)
	}
	return nil
}

// fromStatus maps a gRPC status onto the errs sentinels.
func fromStatus(method string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%s: %w", method, err)
	}
	var target error
	switch st.Code() {
	case codes.NotFound:
		target = errs.ErrNotFound
	case codes.Unauthenticated:
		target = errs.ErrUnauthorized
	case codes.PermissionDenied:
		target = errs.ErrForbidden
	case codes.ResourceExhausted:
		target = errs.ErrRateLimited
	case codes.InvalidArgument:
		target = errs.ErrInvalidArgument
	case codes.AlreadyExists:
		target = errs.ErrAlreadyExists
	case codes.Unavailable, codes.DeadlineExceeded:
		target = errs.ErrUnavailable
	case codes.Canceled:
		target = context.Canceled
	default:
		return fmt.Errorf("%s: %w", method, err)
	}
	return fmt.Errorf("%s: %w: %s", method, target, st.Message())
}

func (c *Client) ListThreads(ctx context.Context, userID string) ([]model.Thread, error) {
	var resp wire.ListThreadsResponse
	if err := c.invoke(ctx, wire.MethodListThreads, &wire.ListThreadsRequest{UserID: userID}, &resp); err != nil {
		return nil, err
	}
	return resp.Threads, nil
}

func (c *Client) GetThread(ctx context.Context, threadID string) (model.Thread, error) {
	var resp wire.GetThreadResponse
	if err := c.invoke(ctx, wire.MethodGetThread, &wire.GetThreadRequest{ThreadID: threadID}, &resp); err != nil {
		return model.Thread{}, err
	}
	return resp.Thread, nil
}

func (c *Client) GetMessages(ctx context.Context, threadID string, page, pageSize int) ([]model.Message, error) {
	var resp wire.GetMessagesResponse
	req := &wire.GetMessagesRequest{ThreadID: threadID, Page: page, PageSize: pageSize}
	if err := c.invoke(ctx, wire.MethodGetMessages, req, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) SendMessage(ctx context.Context, req model.SendRequest) (model.Message, error) {
	var resp wire.SendMessageResponse
	if err := c.invoke(ctx, wire.MethodSendMessage, &wire.SendMessageRequest{SendRequest: req}, &resp); err != nil {
		return model.Message{}, err
	}
	return resp.Message, nil
}

func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	return c.invoke(ctx, wire.MethodDeleteMessage, &wire.DeleteMessageRequest{MessageID: messageID}, &wire.Empty{})
}

func (c *Client) MarkAllAsRead(ctx context.Context, threadID, userID string) error {
	req := &wire.MarkAllAsReadRequest{ThreadID: threadID, UserID: userID}
	return c.invoke(ctx, wire.MethodMarkAllAsRead, req, &wire.Empty{})
}

func (c *Client) CreateThread(ctx context.Context, creatorID string, participantIDs []string, isGroup bool) (model.Thread, error) {
	var resp wire.CreateThreadResponse
	req := &wire.CreateThreadRequest{CreatorID: creatorID, ParticipantIDs: participantIDs, IsGroup: isGroup}
	if err := c.invoke(ctx, wire.MethodCreateThread, req, &resp); err != nil {
		return model.Thread{}, err
	}
	return resp.Thread, nil
}
