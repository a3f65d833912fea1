package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/leaguechat/internal/errs"
	"github.com/and161185/leaguechat/internal/model"
)

// ThreadRepo implements ThreadRepository using PostgreSQL.
type ThreadRepo struct{ db *DB }

// NewThreadRepo constructs a thread repository.
func NewThreadRepo(db *DB) *ThreadRepo { return &ThreadRepo{db: db} }

// Create inserts the thread and its participant rows.
func (r *ThreadRepo) Create(ctx context.Context, t model.Thread, participantIDs []string) error {
	meta := []byte("{}")
	if len(t.Metadata) > 0 {
		var err error
		if meta, err = json.Marshal(t.Metadata); err != nil {
			return err
		}
	}
	const insThread = `
INSERT INTO threads (id, name, type, sport, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)`
	const insPart = `INSERT INTO thread_participants (thread_id, user_id) VALUES ($1, $2)`

	err := r.db.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insThread, t.ID, t.Name, string(t.Type), t.Sport, meta, t.CreatedAt); err != nil {
			return err
		}
		for _, uid := range participantIDs {
			if _, err := tx.Exec(ctx, insPart, t.ID, uid); err != nil {
				return fmt.Errorf("participant %s: %w", uid, err)
			}
		}
		return nil
	})
	switch {
	case isForeignKeyViolation(err):
		return fmt.Errorf("unknown participant: %w", errs.ErrNotFound)
	case isUniqueViolation(err):
		return errs.ErrAlreadyExists
	}
	return err
}

// Get loads one thread with participants and last message.
func (r *ThreadRepo) Get(ctx context.Context, id string) (model.Thread, error) {
	q := `SELECT ` + threadCols + ` FROM threads t WHERE t.id=$1`
	t, err := scanThread(r.db.Pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
		return model.Thread{}, errs.ErrNotFound
	}
	if err != nil {
		return model.Thread{}, err
	}
	out := []model.Thread{t}
	if err := r.decorate(ctx, out); err != nil {
		return model.Thread{}, err
	}
	return out[0], nil
}

// ListForUser returns the user's threads ordered by updated_at descending.
func (r *ThreadRepo) ListForUser(ctx context.Context, userID string) ([]model.Thread, error) {
	q := `
SELECT ` + threadCols + `,
  (SELECT count(*) FROM messages m
   WHERE m.thread_id = t.id AND m.sender_id <> $1 AND NOT m.deleted
     AND NOT EXISTS (SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.user_id = $1))
FROM threads t
JOIN thread_participants p ON p.thread_id = t.id AND p.user_id = $1
ORDER BY t.updated_at DESC, t.id`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Thread
	for rows.Next() {
		var unread int64
		t, err := scanThread(rows, &unread)
		if err != nil {
			return nil, err
		}
		t.UnreadCount = int(unread)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.decorate(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// decorate fills participants and last messages of threads in place.
func (r *ThreadRepo) decorate(ctx context.Context, threads []model.Thread) error {
	if len(threads) == 0 {
		return nil
	}
	idx := make(map[string]int, len(threads))
	ids := make([]string, len(threads))
	for i, t := range threads {
		idx[t.ID] = i
		ids[i] = t.ID
	}

	const qp = `
SELECT tp.thread_id::text, u.id::text, u.name, COALESCE(u.username, ''), u.avatar_url
FROM thread_participants tp JOIN users u ON u.id = tp.user_id
WHERE tp.thread_id = ANY($1::uuid[])
ORDER BY tp.joined_at, u.id`
	rows, err := r.db.Pool.Query(ctx, qp, ids)
	if err != nil {
		return err
	}
	for rows.Next() {
		var (
			tid string
			u   model.User
		)
		if err := rows.Scan(&tid, &u.ID, &u.Name, &u.Username, &u.AvatarURL); err != nil {
			rows.Close()
			return err
		}
		if i, ok := idx[tid]; ok {
			threads[i].Participants = append(threads[i].Participants, u)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	qm := `
SELECT DISTINCT ON (thread_id) ` + messageCols + `
FROM messages
WHERE thread_id = ANY($1::uuid[])
ORDER BY thread_id, created_at DESC, id DESC`
	rows, err = r.db.Pool.Query(ctx, qm, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return err
		}
		if i, ok := idx[m.ThreadID]; ok {
			threads[i].LastMessage = &m
		}
	}
	return rows.Err()
}

// FindDirect returns the id of the direct thread shared by a and b.
func (r *ThreadRepo) FindDirect(ctx context.Context, a, b string) (string, error) {
	const q = `
SELECT t.id::text FROM threads t
JOIN thread_participants pa ON pa.thread_id = t.id AND pa.user_id = $1
JOIN thread_participants pb ON pb.thread_id = t.id AND pb.user_id = $2
WHERE t.type = 'direct'
ORDER BY t.created_at
LIMIT 1`
	var id string
	err := r.db.Pool.QueryRow(ctx, q, a, b).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", errs.ErrNotFound
	}
	return id, err
}

// ParticipantIDs lists the members of a thread.
func (r *ThreadRepo) ParticipantIDs(ctx context.Context, threadID string) ([]string, error) {
	const q = `SELECT user_id::text FROM thread_participants WHERE thread_id=$1 ORDER BY joined_at, user_id`
	rows, err := r.db.Pool.Query(ctx, q, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
