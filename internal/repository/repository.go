// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/and161185/leaguechat/internal/model"
)

// UserRepository stores participant profiles.
type UserRepository interface {
	// Upsert inserts u or updates its profile fields.
	Upsert(ctx context.Context, u model.User) error
	// Get loads a user by ID.
	Get(ctx context.Context, id string) (model.User, error)
}

// ThreadRepository stores threads and their participants.
type ThreadRepository interface {
	// Create inserts t with the given participants in one transaction.
	Create(ctx context.Context, t model.Thread, participantIDs []string) error
	// Get loads a thread with participants and last message.
	Get(ctx context.Context, id string) (model.Thread, error)
	// ListForUser returns the threads of userID, newest activity first,
	// with unread counts computed for userID.
	ListForUser(ctx context.Context, userID string) ([]model.Thread, error)
	// FindDirect returns the direct thread between a and b.
	FindDirect(ctx context.Context, a, b string) (string, error)
	// ParticipantIDs lists the user ids of a thread.
	ParticipantIDs(ctx context.Context, threadID string) ([]string, error)
}

// MessageRepository stores messages and read receipts.
type MessageRepository interface {
	// Insert stores m and moves its thread's updated_at to m.Timestamp.
	Insert(ctx context.Context, m model.Message) error
	// Get loads one message with its receipts.
	Get(ctx context.Context, id string) (model.Message, error)
	// Page returns page (1-based, newest first) of a thread in ascending order.
	Page(ctx context.Context, threadID string, page, pageSize int) ([]model.Message, error)
	// SoftDelete tombstones a message.
	SoftDelete(ctx context.Context, id string) error
	// MarkThreadRead records receipts for every unread message of the thread not
	// sent by userID and returns the ids that were newly marked.
	MarkThreadRead(ctx context.Context, threadID, userID string, at time.Time) ([]string, error)
	// UnreadCount counts messages of the thread userID has not read.
	UnreadCount(ctx context.Context, threadID, userID string) (int, error)
}
