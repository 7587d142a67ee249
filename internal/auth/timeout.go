package auth

import (
	"context"
	"time"
)

// timeoutStore bounds every store call with its own deadline so a hung
// backend surfaces as ErrStoreUnavailable instead of stalling the request.
type timeoutStore struct {
	inner Store
	d     time.Duration
}

// NewTimeoutStore wraps store so that each call runs under a deadline of d.
// A non-positive d returns store unchanged.
func NewTimeoutStore(store Store, d time.Duration) Store {
	if d <= 0 {
		return store
	}
	return &timeoutStore{inner: store, d: d}
}

func (t *timeoutStore) Users() UserStore       { return timeoutUsers{t} }
func (t *timeoutStore) Grants() GrantStore     { return timeoutGrants{t} }
func (t *timeoutStore) Sessions() SessionStore { return timeoutSessions{t} }

func (t *timeoutStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, t.d)
}

type timeoutUsers struct{ t *timeoutStore }

func (s timeoutUsers) Create(ctx context.Context, u *User) error {
	ctx, cancel := s.t.bound(ctx)
	defer cancel()
	return s.t.inner.Users().Create(ctx, u)
}

func (s timeoutUsers) Find(ctx context.Context, id string) (*User, error) {
	ctx, cancel := s.t.bound(ctx)
	defer cancel()
	return s.t.inner.Users().Find(ctx, id)
}

func (s timeoutUsers) FindByHandle(ctx context.Context, handle string) (*User, error) {
	ctx, cancel := s.t.bound(ctx)
	defer cancel()
	return s.t.inner.Users().FindByHandle(ctx, handle)
}

func (s timeoutUsers) Update(ctx context.Context, u *User) error {
	ctx, cancel := s.t.bound(ctx)
	defer cancel()
	return s.t.inner.Users().Update(ctx, u)
}

func (s timeoutUsers) UpdatePassword(ctx context.Context, id, digest string) error {
	ctx, cancel := s.t.bound(ctx)
	defer cancel()
	return s.t.inner.Users().UpdatePassword(ctx, id, digest)
}

func (s timeoutUsers) SetLastLogin(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := s.t.bound(ctx)
	defer cancel()
	return s.t.inner.Users().SetLastLogin(ctx, id, at)
}

func (s timeoutUsers) List(ctx context.Context, limit, offset int) ([]*User, int, error) {
	ctx, cancel := s.t.bound(ctx)
	defer cancel()
	return s.t.inner.Users().List(ctx, limit, offset)
}

type timeoutGrants struct{ t *timeoutStore }

func (s timeoutGrants) Upsert(ctx context.Context, g *JunctionGrant) error {
	ctx, cancel := s.t.bound(ctx)
	defer cancel()
	return s.t.inner.Grants().Upsert(ctx, g)
}

func (s timeoutGrants) Delete(ctx context.Context, userID string, junctionID int64) error {
	ctx, cancel := s.t.bound(ctx)
	defer cancel()
	return s.t.inner.Grants().Delete(ctx, userID, junctionID)
}

func (s timeoutGrants) ListByUser(ctx context.Context, userID string) ([]JunctionGrant, error) {
	ctx, cancel := s.t.bound(ctx)
	defer cancel()
	return s.t.inner.Grants().ListByUser(ctx, userID)
}

type timeoutSessions struct{ t *timeoutStore }

func (s timeoutSessions) Create(ctx context.Context, sess *Session) error {
	ctx, cancel := s.t.bound(ctx)
	defer cancel()
	return s.t.inner.Sessions().Create(ctx, sess)
}

func (s timeoutSessions) Consume(ctx context.Context, refreshDigest string, now time.Time) (*Session, error) {
	ctx, cancel := s.t.bound(ctx)
	defer cancel()
	return s.t.inner.Sessions().Consume(ctx, refreshDigest, now)
}

func (s timeoutSessions) Revoke(ctx context.Context, sessionID string) error {
	ctx, cancel := s.t.bound(ctx)
	defer cancel()
	return s.t.inner.Sessions().Revoke(ctx, sessionID)
}

func (s timeoutSessions) RevokeAllForUser(ctx context.Context, userID string) error {
	ctx, cancel := s.t.bound(ctx)
	defer cancel()
	return s.t.inner.Sessions().RevokeAllForUser(ctx, userID)
}
