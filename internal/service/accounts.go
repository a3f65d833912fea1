package service

import (
	"context"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/leaguechat/internal/auth"
	"github.com/and161185/leaguechat/internal/model"
	"github.com/and161185/leaguechat/internal/repository"
)

// Accounts provisions chat users and mints their access tokens. Profiles are
// owned by an external service; this only mirrors them for the backend.
type Accounts struct {
	users  repository.UserRepository
	issuer *auth.Issuer
}

// NewAccounts constructs Accounts.
func NewAccounts(users repository.UserRepository, issuer *auth.Issuer) *Accounts {
	return &Accounts{users: users, issuer: issuer}
}

// Provision stores u (a new id is generated when u.ID is empty) and returns
// the stored user with a fresh token.
func (a *Accounts) Provision(ctx context.Context, u model.User) (model.User, string, time.Time, error) {
	u.Name = strings.TrimSpace(u.Name)
	u.Username = strings.TrimSpace(u.Username)
	if u.Name == "" && u.Username == "" {
		return model.User{}, "", time.Time{}, invalid("name or username required")
	}
	var id uuid.UUID
	var err error
	if u.ID == "" {
		id, err = uuid.NewV4()
	} else {
		id, err = uuid.FromString(u.ID)
	}
	if err != nil {
		return model.User{}, "", time.Time{}, invalid("bad user id")
	}
	u.ID = id.String()
	if err := a.users.Upsert(ctx, u); err != nil {
		return model.User{}, "", time.Time{}, err
	}
	name := u.Name
	if name == "" {
		name = u.Username
	}
	tok, exp, err := a.issuer.Issue(id, name)
	if err != nil {
		return model.User{}, "", time.Time{}, err
	}
	return u, tok, exp, nil
}
