package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/and161185/leaguechat/internal/model"
)

type rowScanner interface {
	Scan(dest ...any) error
}

const messageCols = `id::text, thread_id::text, sender_id::text, content, type, payload,
COALESCE(reply_to::text, ''), is_edited, deleted, created_at`

func scanMessage(s rowScanner) (model.Message, error) {
	var (
		m       model.Message
		typ     string
		payload []byte
		deleted bool
	)
	if err := s.Scan(&m.ID, &m.ThreadID, &m.SenderID, &m.Content, &typ, &payload,
		&m.ReplyToMessageID, &m.Metadata.IsEdited, &deleted, &m.Timestamp); err != nil {
		return model.Message{}, err
	}
	m.Type = model.MessageType(typ)
	if len(payload) > 0 {
		m.Payload = json.RawMessage(payload)
	}
	m.IsDelivered = true
	if deleted {
		m = m.Tombstone()
	}
	return m, nil
}

const threadCols = `t.id::text, t.name, t.type, t.sport, t.metadata, t.created_at, t.updated_at`

func scanThread(s rowScanner, extra ...any) (model.Thread, error) {
	var (
		t    model.Thread
		typ  string
		meta []byte
	)
	dest := append([]any{&t.ID, &t.Name, &typ, &t.Sport, &meta, &t.CreatedAt, &t.UpdatedAt}, extra...)
	if err := s.Scan(dest...); err != nil {
		return model.Thread{}, err
	}
	t.Type = model.ThreadType(typ)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &t.Metadata); err != nil {
			return model.Thread{}, fmt.Errorf("thread %s metadata: %w", t.ID, err)
		}
		if len(t.Metadata) == 0 {
			t.Metadata = nil
		}
	}
	return t, nil
}

// attachReceipts loads the read receipts of msgs in one query.
func (db *DB) attachReceipts(ctx context.Context, msgs []model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	idx := make(map[string]int, len(msgs))
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		idx[m.ID] = i
		ids[i] = m.ID
	}
	const q = `
SELECT r.message_id::text, r.user_id::text, u.name, r.read_at
FROM message_reads r JOIN users u ON u.id = r.user_id
WHERE r.message_id = ANY($1::uuid[])
ORDER BY r.read_at, r.user_id`
	rows, err := db.Pool.Query(ctx, q, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			mid string
			rr  model.ReadReceipt
			at  time.Time
		)
		if err := rows.Scan(&mid, &rr.UserID, &rr.UserName, &at); err != nil {
			return err
		}
		rr.ReadAt = at
		if i, ok := idx[mid]; ok {
			msgs[i], _ = msgs[i].WithReceipt(rr)
		}
	}
	return rows.Err()
}
