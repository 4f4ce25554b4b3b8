package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fleetkeeper/internal/common"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/models"
)

type userRepo struct{ s *Store }

func (r userRepo) Create(ctx context.Context, user *models.User) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.fail("users.Create", user.UserName); err != nil {
		return nil, err
	}
	if _, ok := r.s.users[user.UserName]; ok {
		return nil, fmt.Errorf("%w: username %q taken", common.ErrStorageIntegrity, user.UserName)
	}
	r.s.seq++
	user.ID = fmt.Sprintf("user-%d", r.s.seq)
	user.CreatedAt = time.Now().UTC()
	cp := *user
	r.s.users[user.UserName] = &cp
	r.s.undo(ctx, func() { delete(r.s.users, cp.UserName) })
	return user, nil
}

func (r userRepo) GetUserByLogin(_ context.Context, login string) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[login]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *u
	return &cp, nil
}

type refreshTokenRepo struct{ s *Store }

func (r refreshTokenRepo) Create(ctx context.Context, userID, token string, validity time.Duration) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.fail("refreshtokens.Create", userID); err != nil {
		return err
	}
	r.s.refreshTokens[token] = &models.RefreshToken{
		UserID: userID, Token: token, Expires: time.Now().Add(validity), CreatedAt: time.Now(),
	}
	r.s.undo(ctx, func() { delete(r.s.refreshTokens, token) })
	return nil
}

func (r refreshTokenRepo) Find(_ context.Context, token string) (*models.RefreshToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.refreshTokens[token]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *t
	return &cp, nil
}

func (r refreshTokenRepo) Delete(ctx context.Context, token string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	old, ok := r.s.refreshTokens[token]
	if !ok {
		return nil
	}
	delete(r.s.refreshTokens, token)
	r.s.undo(ctx, func() { r.s.refreshTokens[token] = old })
	return nil
}

// ExpireToken moves the expiry of token into the past.
func (s *Store) ExpireToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.refreshTokens[token]; ok {
		t.Expires = time.Now().Add(-time.Minute)
	}
}
