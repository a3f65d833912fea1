package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/leaguechat/internal/errs"
	"github.com/and161185/leaguechat/internal/model"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

// Upsert inserts the user or refreshes its profile.
func (r *UserRepo) Upsert(ctx context.Context, u model.User) error {
	const q = `
INSERT INTO users (id, name, username, avatar_url)
VALUES ($1, $2, NULLIF($3, ''), $4)
ON CONFLICT (id) DO UPDATE
SET name = EXCLUDED.name, username = EXCLUDED.username, avatar_url = EXCLUDED.avatar_url`
	_, err := r.db.Pool.Exec(ctx, q, u.ID, u.Name, u.Username, u.AvatarURL)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// Get selects a user by ID.
func (r *UserRepo) Get(ctx context.Context, id string) (model.User, error) {
	const q = `
SELECT id::text, name, COALESCE(username, ''), avatar_url
FROM users WHERE id=$1`
	var u model.User
	err := r.db.Pool.QueryRow(ctx, q, id).Scan(&u.ID, &u.Name, &u.Username, &u.AvatarURL)
	if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
		return model.User{}, errs.ErrNotFound
	}
	return u, err
}
