package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Users() UserStore
	Grants() GrantStore
	Sessions() SessionStore
}

// UserStore manages accounts.
type UserStore interface {
	// Create persists a new user; a handle collision yields ErrDuplicateHandle.
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByHandle(ctx context.Context, handle string) (*User, error)
	Update(ctx context.Context, u *User) error
	UpdatePassword(ctx context.Context, id, digest string) error
	SetLastLogin(ctx context.Context, id string, at time.Time) error
	// List returns one page of users plus the total count.
	List(ctx context.Context, limit, offset int) ([]*User, int, error)
}

// GrantStore manages per-junction grants.
type GrantStore interface {
	// Upsert inserts or overwrites the grant for (user, junction).
	Upsert(ctx context.Context, g *JunctionGrant) error
	// Delete removes a grant; deleting an absent grant is not an error.
	Delete(ctx context.Context, userID string, junctionID int64) error
	ListByUser(ctx context.Context, userID string) ([]JunctionGrant, error)
}

// SessionStore manages refresh sessions.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	// Consume atomically deactivates the active, unexpired session holding
	// the given refresh digest and returns it. A digest that matches no such
	// session yields ErrSessionRevoked: the token was already rotated,
	// revoked, expired, or never existed.
	Consume(ctx context.Context, refreshDigest string, now time.Time) (*Session, error)
	// Revoke deactivates a session; revoking an inactive or unknown session
	// is not an error.
	Revoke(ctx context.Context, sessionID string) error
	RevokeAllForUser(ctx context.Context, userID string) error
}
