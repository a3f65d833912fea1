// Package gateway defines the transport contract the sync engine depends on:
// a request/response API and a push channel. Both are fallible and owned externally.
package gateway

import (
	"context"

	"github.com/and161185/leaguechat/internal/model"
)

// API is the request/response backend.
type API interface {
	// ListThreads returns the threads the user participates in.
	ListThreads(ctx context.Context, userID string) ([]model.Thread, error)
	// GetThread returns a single thread.
	GetThread(ctx context.Context, threadID string) (model.Thread, error)
	// GetMessages returns one page of a thread in ascending timestamp order. Page 1 is the newest.
	GetMessages(ctx context.Context, threadID string, page, pageSize int) ([]model.Message, error)
	// SendMessage posts a message and returns the stored copy.
	SendMessage(ctx context.Context, req model.SendRequest) (model.Message, error)
	// DeleteMessage tombstones a message.
	DeleteMessage(ctx context.Context, messageID string) error
	// MarkAllAsRead marks every message of the thread read for the user.
	MarkAllAsRead(ctx context.Context, threadID, userID string) error
	// CreateThread creates a direct or group thread.
	CreateThread(ctx context.Context, creatorID string, participantIDs []string, isGroup bool) (model.Thread, error)
}

// Handler receives push events of one kind.
type Handler func(model.Event)

// PushChannel is the asynchronous event channel. Room membership calls are idempotent.
type PushChannel interface {
	Connect(ctx context.Context) error
	Disconnect() error
	// On registers h for events of kind; the returned func removes it.
	On(kind model.EventKind, h Handler) (off func())
	// OnStatus registers a connectivity observer; the returned func removes it.
	OnStatus(fn func(connected bool)) (off func())
	JoinThread(threadID string) error
	LeaveThread(threadID string) error
	IsConnected() bool
	// MarkRead sends a read request upstream.
	MarkRead(ctx context.Context, req model.ReadRequest) error
}
