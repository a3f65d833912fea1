package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/leaguechat/internal/errs"
	"github.com/and161185/leaguechat/internal/model"
)

// MessageRepo implements MessageRepository using PostgreSQL.
type MessageRepo struct{ db *DB }

// NewMessageRepo constructs a message repository.
func NewMessageRepo(db *DB) *MessageRepo { return &MessageRepo{db: db} }

// Insert stores the message and bumps the thread activity time.
func (r *MessageRepo) Insert(ctx context.Context, m model.Message) error {
	const ins = `
INSERT INTO messages (id, thread_id, sender_id, content, type, payload, reply_to, created_at)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, '')::uuid, $8)`
	const touch = `UPDATE threads SET updated_at = GREATEST(updated_at, $2) WHERE id=$1`

	err := r.db.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, ins, m.ID, m.ThreadID, m.SenderID, m.Content, string(m.Type),
			[]byte(m.Payload), m.ReplyToMessageID, m.Timestamp); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, touch, m.ThreadID, m.Timestamp)
		return err
	})
	switch {
	case isForeignKeyViolation(err):
		return errs.ErrNotFound
	case isUniqueViolation(err):
		return errs.ErrAlreadyExists
	}
	return err
}

// Get loads one message with its receipts.
func (r *MessageRepo) Get(ctx context.Context, id string) (model.Message, error) {
	q := `SELECT ` + messageCols + ` FROM messages WHERE id=$1`
	m, err := scanMessage(r.db.Pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
		return model.Message{}, errs.ErrNotFound
	}
	if err != nil {
		return model.Message{}, err
	}
	out := []model.Message{m}
	if err := r.db.attachReceipts(ctx, out); err != nil {
		return model.Message{}, err
	}
	return out[0], nil
}

// Page returns one page of the thread, oldest first within the page.
func (r *MessageRepo) Page(ctx context.Context, threadID string, page, pageSize int) ([]model.Message, error) {
	if page < 1 {
		page = 1
	}
	q := `
SELECT ` + messageCols + `
FROM messages
WHERE thread_id=$1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3`
	rows, err := r.db.Pool.Query(ctx, q, threadID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Message, 0, pageSize)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if err := r.db.attachReceipts(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// SoftDelete clears the content and flags the message deleted.
func (r *MessageRepo) SoftDelete(ctx context.Context, id string) error {
	const q = `UPDATE messages SET deleted=true, content='', payload=NULL WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// MarkThreadRead inserts missing receipts and returns the affected message ids.
func (r *MessageRepo) MarkThreadRead(ctx context.Context, threadID, userID string, at time.Time) ([]string, error) {
	const q = `
INSERT INTO message_reads (message_id, user_id, read_at)
SELECT m.id, $2, $3 FROM messages m
WHERE m.thread_id = $1 AND m.sender_id <> $2 AND NOT m.deleted
ON CONFLICT (message_id, user_id) DO NOTHING
RETURNING message_id::text`
	rows, err := r.db.Pool.Query(ctx, q, threadID, userID, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UnreadCount counts live messages of the thread from others that userID has not read.
func (r *MessageRepo) UnreadCount(ctx context.Context, threadID, userID string) (int, error) {
	const q = `
SELECT count(*) FROM messages m
WHERE m.thread_id = $1 AND m.sender_id <> $2 AND NOT m.deleted
  AND NOT EXISTS (SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.user_id = $2)`
	var n int64
	if err := r.db.Pool.QueryRow(ctx, q, threadID, userID).Scan(&n); err != nil {
		return 0, err
	}
	return int(n), nil
}
