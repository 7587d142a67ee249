package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"flextraff.org/internal/audit"
	"flextraff.org/internal/ids"
	"flextraff.org/internal/obs"
)

const (
	defaultAccessTTL  = 30 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// Service owns the credential and session lifecycle: login, refresh
// rotation, logout, and token verification.
type Service struct {
	store    Store
	codec    *TokenCodec
	recorder *audit.Recorder
	cache    *GrantCache

	now        func() time.Time
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithGrantCache lets logout/deactivation drop cached grant snapshots.
func WithGrantCache(cache *GrantCache) ServiceOption {
	return func(s *Service) { s.cache = cache }
}

// NewService constructs the credential service.
func NewService(store Store, codec *TokenCodec, recorder *audit.Recorder, opts ...ServiceOption) *Service {
	s := &Service{
		store:      store,
		codec:      codec,
		recorder:   recorder,
		now:        time.Now,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TokenPair is what a successful login or refresh returns.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        string    `json:"session_id"`
}

// Authenticate verifies credentials and opens a session. Unknown handle and
// wrong password are indistinguishable to the caller, and every path costs
// one bcrypt comparison. Inactive accounts fail before the stored digest is
// compared, so the error kind never reveals whether their password matched.
func (s *Service) Authenticate(ctx context.Context, handle, password string, meta ClientMeta) (TokenPair, *User, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" || password == "" {
		checkDummyPassword(password)
		s.auditLoginFailure(ctx, handle, meta, "missing_credentials")
		obs.ObserveLogin("invalid_credentials")
		return TokenPair{}, nil, ErrInvalidCredentials
	}

	user, err := s.store.Users().FindByHandle(ctx, handle)
	if err != nil {
		checkDummyPassword(password)
		if errors.Is(err, ErrNotFound) {
			s.auditLoginFailure(ctx, handle, meta, "unknown_handle")
			obs.ObserveLogin("invalid_credentials")
			return TokenPair{}, nil, ErrInvalidCredentials
		}
		obs.ObserveLogin("error")
		return TokenPair{}, nil, storeErr(err)
	}
	if !user.Active {
		checkDummyPassword(password)
		s.auditLoginFailure(ctx, handle, meta, "inactive")
		obs.ObserveLogin("inactive")
		return TokenPair{}, nil, ErrAccountInactive
	}
	if !CheckPassword(user.PasswordDigest, password) {
		s.auditLoginFailure(ctx, handle, meta, "wrong_password")
		obs.ObserveLogin("invalid_credentials")
		return TokenPair{}, nil, ErrInvalidCredentials
	}

	pair, err := s.mintPair(ctx, user, meta)
	if err != nil {
		obs.ObserveLogin("error")
		return TokenPair{}, nil, err
	}

	now := s.now().UTC()
	if err := s.store.Users().SetLastLogin(ctx, user.ID, now); err != nil {
		obs.Warn("set last login failed", map[string]any{"user_id": user.ID, "error": err.Error()})
	}
	user.LastLoginAt = &now

	s.recorder.Record(ctx, audit.Event{
		Actor:  user.ID,
		Action: audit.ActionLogin,
		Detail: map[string]any{"handle": user.Handle, "session_id": pair.SessionID},
		Origin: meta.IP,
	})
	obs.ObserveLogin("success")
	return pair, user, nil
}

// Refresh rotates a refresh token: the presented token is consumed and a new
// session is opened. A token that was already used, revoked, or expired
// yields ErrSessionRevoked; between two concurrent calls with the same token
// exactly one wins.
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta ClientMeta) (TokenPair, *User, error) {
	claims, err := s.codec.Verify(refreshToken, KindRefresh)
	if err != nil {
		return TokenPair{}, nil, err
	}

	session, err := s.store.Sessions().Consume(ctx, digest(refreshToken), s.now().UTC())
	if err != nil {
		if errors.Is(err, ErrSessionRevoked) {
			return TokenPair{}, nil, ErrSessionRevoked
		}
		return TokenPair{}, nil, storeErr(err)
	}

	user, err := s.store.Users().Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, nil, ErrSessionRevoked
		}
		return TokenPair{}, nil, storeErr(err)
	}
	if !user.Active {
		return TokenPair{}, nil, ErrAccountInactive
	}

	pair, err := s.mintPair(ctx, user, meta)
	if err != nil {
		return TokenPair{}, nil, err
	}

	s.recorder.Record(ctx, audit.Event{
		Actor:  user.ID,
		Action: audit.ActionRefresh,
		Detail: map[string]any{"rotated_session": session.ID, "session_id": pair.SessionID},
		Origin: meta.IP,
	})
	obs.ObserveRefreshRotation()
	return pair, user, nil
}

// Logout revokes the session behind a refresh token. Idempotent: revoking an
// already-dead session succeeds.
func (s *Service) Logout(ctx context.Context, refreshToken string, meta ClientMeta) error {
	claims, err := s.codec.Verify(refreshToken, KindRefresh)
	if err != nil {
		// Expired tokens still identify a session worth closing, but a
		// malformed one identifies nothing.
		if !errors.Is(err, ErrTokenExpired) {
			return err
		}
	}

	session, err := s.store.Sessions().Consume(ctx, digest(refreshToken), s.now().UTC())
	if err != nil {
		if errors.Is(err, ErrSessionRevoked) {
			return nil
		}
		return storeErr(err)
	}

	actor := ""
	if claims != nil {
		actor = claims.Subject
	}
	s.recorder.Record(ctx, audit.Event{
		Actor:  actor,
		Action: audit.ActionLogout,
		Detail: map[string]any{"session_id": session.ID},
		Origin: meta.IP,
	})
	return nil
}

// RevokeAll closes every session of a user. Used on deactivation and by
// admins responding to credential theft.
func (s *Service) RevokeAll(ctx context.Context, userID string) error {
	if err := s.store.Sessions().RevokeAllForUser(ctx, userID); err != nil {
		return storeErr(err)
	}
	if s.cache != nil {
		_ = s.cache.Invalidate(ctx, userID)
	}
	return nil
}

// RevokeSession closes one session by id without needing its refresh token.
// Idempotent: revoking an inactive or unknown session succeeds.
func (s *Service) RevokeSession(ctx context.Context, sessionID, actor string, meta ClientMeta) error {
	if err := s.store.Sessions().Revoke(ctx, sessionID); err != nil {
		return storeErr(err)
	}
	s.recorder.Record(ctx, audit.Event{
		Actor:  actor,
		Action: audit.ActionLogout,
		Detail: map[string]any{"session_id": sessionID, "forced": true},
		Origin: meta.IP,
	})
	return nil
}

// VerifyAccess validates an access token and returns its claims.
func (s *Service) VerifyAccess(token string) (*Claims, error) {
	return s.codec.Verify(token, KindAccess)
}

func (s *Service) mintPair(ctx context.Context, user *User, meta ClientMeta) (TokenPair, error) {
	snapshot, err := s.grantSnapshot(ctx, user)
	if err != nil {
		return TokenPair{}, err
	}

	accessToken, accessExp, err := s.codec.Issue(user, snapshot, KindAccess, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refreshToken, refreshExp, err := s.codec.Issue(user, nil, KindRefresh, s.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}

	now := s.now().UTC()
	session := &Session{
		ID:            ids.New(),
		UserID:        user.ID,
		RefreshDigest: digest(refreshToken),
		IssuedAt:      now,
		ExpiresAt:     refreshExp,
		Active:        true,
		ClientIP:      meta.IP,
		UserAgent:     meta.UserAgent,
	}
	if err := s.store.Sessions().Create(ctx, session); err != nil {
		return TokenPair{}, storeErr(err)
	}

	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		SessionID:        session.ID,
	}, nil
}

func (s *Service) grantSnapshot(ctx context.Context, user *User) ([]JunctionClaim, error) {
	if user.Role == RoleAdmin {
		return nil, nil
	}
	grants, err := s.store.Grants().ListByUser(ctx, user.ID)
	if err != nil {
		return nil, storeErr(err)
	}
	snapshot := make([]JunctionClaim, 0, len(grants))
	for _, g := range grants {
		snapshot = append(snapshot, JunctionClaim{ID: g.JunctionID, Level: g.Level})
	}
	return snapshot, nil
}

func (s *Service) auditLoginFailure(ctx context.Context, handle string, meta ClientMeta, reason string) {
	s.recorder.Record(ctx, audit.Event{
		Action: audit.ActionLoginFailed,
		Detail: map[string]any{"handle": handle, "reason": reason},
		Origin: meta.IP,
	})
}

// digest returns the sha256 hex of a refresh token; only the digest is
// stored, so a leaked sessions table cannot replay refreshes.
func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// storeErr maps context deadline trouble to ErrStoreUnavailable and passes
// sentinel errors through.
func storeErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrStoreUnavailable
	}
	return err
}
