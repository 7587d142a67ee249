package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"flextraff.org/internal/audit"
	"flextraff.org/internal/ids"
)

// Admin owns account and grant administration. Every mutation emits one
// audit event; bulk operations emit exactly one event for the whole batch.
type Admin struct {
	store    Store
	recorder *audit.Recorder
	cache    *GrantCache
	sessions *Service
	now      func() time.Time
}

// AdminOption configures Admin behavior.
type AdminOption func(*Admin)

// WithAdminClock overrides the time source (useful for tests).
func WithAdminClock(fn func() time.Time) AdminOption {
	return func(a *Admin) {
		if fn != nil {
			a.now = fn
		}
	}
}

// WithAdminGrantCache lets grant mutations invalidate cached snapshots.
func WithAdminGrantCache(cache *GrantCache) AdminOption {
	return func(a *Admin) { a.cache = cache }
}

// NewAdmin constructs the administrator. sessions is used to revoke a user's
// sessions on deactivation.
func NewAdmin(store Store, recorder *audit.Recorder, sessions *Service, opts ...AdminOption) *Admin {
	a := &Admin{
		store:    store,
		recorder: recorder,
		sessions: sessions,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewUserInput is the profile for CreateUser.
type NewUserInput struct {
	Handle      string
	Password    string
	DisplayName string
	Email       string
	Role        Role
}

// CreateUser provisions an account. Handles are unique case-insensitively.
func (a *Admin) CreateUser(ctx context.Context, in NewUserInput, actor string, meta ClientMeta) (*User, error) {
	in.Handle = strings.TrimSpace(in.Handle)
	if in.Handle == "" || in.Password == "" {
		return nil, ErrInvalidInput
	}
	if !in.Role.Valid() {
		return nil, ErrInvalidInput
	}
	digest, err := HashPassword(in.Password)
	if err != nil {
		return nil, ErrInvalidInput
	}

	now := a.now().UTC()
	user := &User{
		ID:             ids.New(),
		Handle:         in.Handle,
		PasswordDigest: digest,
		DisplayName:    in.DisplayName,
		Email:          in.Email,
		Role:           in.Role,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := a.store.Users().Create(ctx, user); err != nil {
		return nil, storeErr(err)
	}

	a.recorder.Record(ctx, audit.Event{
		Actor:  actor,
		Action: audit.ActionUserCreate,
		Detail: map[string]any{"user_id": user.ID, "handle": user.Handle, "role": user.Role},
		Origin: meta.IP,
	})
	return user, nil
}

// UpdateUser applies a partial profile update. Setting Active=true here is
// the reactivation path.
func (a *Admin) UpdateUser(ctx context.Context, id string, patch UserPatch, actor string, meta ClientMeta) (*User, error) {
	user, err := a.store.Users().Find(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}

	changed := map[string]any{"user_id": id}
	if patch.DisplayName != nil {
		user.DisplayName = *patch.DisplayName
		changed["display_name"] = *patch.DisplayName
	}
	if patch.Email != nil {
		user.Email = *patch.Email
		changed["email"] = *patch.Email
	}
	if patch.Role != nil {
		if !patch.Role.Valid() {
			return nil, ErrInvalidInput
		}
		user.Role = *patch.Role
		changed["role"] = *patch.Role
	}
	if patch.Active != nil {
		user.Active = *patch.Active
		changed["active"] = *patch.Active
	}
	user.UpdatedAt = a.now().UTC()

	if err := a.store.Users().Update(ctx, user); err != nil {
		return nil, storeErr(err)
	}

	a.recorder.Record(ctx, audit.Event{
		Actor:  actor,
		Action: audit.ActionUserUpdate,
		Detail: changed,
		Origin: meta.IP,
	})
	return user, nil
}

// Deactivate disables the account, closes all its sessions, and drops its
// cached grant snapshot. In-flight access tokens remain valid until expiry;
// the live authorizer stops honoring them immediately after invalidation.
func (a *Admin) Deactivate(ctx context.Context, id, actor string, meta ClientMeta) error {
	user, err := a.store.Users().Find(ctx, id)
	if err != nil {
		return storeErr(err)
	}
	if user.Active {
		user.Active = false
		user.UpdatedAt = a.now().UTC()
		if err := a.store.Users().Update(ctx, user); err != nil {
			return storeErr(err)
		}
	}
	if a.sessions != nil {
		if err := a.sessions.RevokeAll(ctx, id); err != nil {
			return err
		}
	}
	a.invalidate(ctx, id)

	a.recorder.Record(ctx, audit.Event{
		Actor:  actor,
		Action: audit.ActionUserDeactivate,
		Detail: map[string]any{"user_id": id},
		Origin: meta.IP,
	})
	return nil
}

// ChangePassword replaces the stored digest. Authorization is the caller's
// concern; the HTTP layer gates this behind the admin role.
func (a *Admin) ChangePassword(ctx context.Context, id, password, actor string, meta ClientMeta) error {
	if password == "" {
		return ErrInvalidInput
	}
	digest, err := HashPassword(password)
	if err != nil {
		return ErrInvalidInput
	}
	if err := a.store.Users().UpdatePassword(ctx, id, digest); err != nil {
		return storeErr(err)
	}

	a.recorder.Record(ctx, audit.Event{
		Actor:  actor,
		Action: audit.ActionPasswordChange,
		Detail: map[string]any{"user_id": id},
		Origin: meta.IP,
	})
	return nil
}

// GetUser returns one account.
func (a *Admin) GetUser(ctx context.Context, id string) (*User, error) {
	user, err := a.store.Users().Find(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	return user, nil
}

// ListUsers returns one page of accounts plus the total count.
func (a *Admin) ListUsers(ctx context.Context, limit, offset int) ([]*User, int, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	users, total, err := a.store.Users().List(ctx, limit, offset)
	if err != nil {
		return nil, 0, storeErr(err)
	}
	return users, total, nil
}

// Grant gives (or overwrites) a user's capability on one junction.
func (a *Admin) Grant(ctx context.Context, userID string, junctionID int64, level AccessLevel, actor string, meta ClientMeta) error {
	if err := a.grantRow(ctx, userID, junctionID, level, actor); err != nil {
		return err
	}
	a.invalidate(ctx, userID)

	a.recorder.Record(ctx, audit.Event{
		Actor:      actor,
		JunctionID: junctionID,
		Action:     audit.ActionGrantAdd,
		Detail:     map[string]any{"user_id": userID, "level": level},
		Origin:     meta.IP,
	})
	return nil
}

// Revoke removes a grant. Revoking an absent grant succeeds.
func (a *Admin) Revoke(ctx context.Context, userID string, junctionID int64, actor string, meta ClientMeta) error {
	if err := a.store.Grants().Delete(ctx, userID, junctionID); err != nil {
		return storeErr(err)
	}
	a.invalidate(ctx, userID)

	a.recorder.Record(ctx, audit.Event{
		Actor:      actor,
		JunctionID: junctionID,
		Action:     audit.ActionGrantRemove,
		Detail:     map[string]any{"user_id": userID},
		Origin:     meta.IP,
	})
	return nil
}

// ListGrants returns every grant held by the user.
func (a *Admin) ListGrants(ctx context.Context, userID string) ([]JunctionGrant, error) {
	if _, err := a.store.Users().Find(ctx, userID); err != nil {
		return nil, storeErr(err)
	}
	grants, err := a.store.Grants().ListByUser(ctx, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	return grants, nil
}

// BulkFailure names one junction a bulk operation could not process.
type BulkFailure struct {
	JunctionID int64  `json:"junction_id"`
	Error      string `json:"error"`
}

// BulkResult partitions a bulk operation's junction ids by outcome.
type BulkResult struct {
	Succeeded []int64       `json:"succeeded"`
	Failed    []BulkFailure `json:"failed"`
}

// BulkGrant applies one grant per junction id. Rows are mutated
// independently; a failure on one id does not stop the rest. One audit
// event covers the whole batch and is written after all row mutations.
func (a *Admin) BulkGrant(ctx context.Context, userID string, junctionIDs []int64, level AccessLevel, actor string, meta ClientMeta) (BulkResult, error) {
	if _, err := a.store.Users().Find(ctx, userID); err != nil {
		return BulkResult{}, storeErr(err)
	}
	if !level.Valid() {
		return BulkResult{}, ErrInvalidInput
	}

	result := BulkResult{Succeeded: []int64{}, Failed: []BulkFailure{}}
	for _, id := range junctionIDs {
		if err := a.grantRow(ctx, userID, id, level, actor); err != nil {
			result.Failed = append(result.Failed, BulkFailure{JunctionID: id, Error: err.Error()})
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	a.invalidate(ctx, userID)

	a.recorder.Record(ctx, audit.Event{
		Actor:  actor,
		Action: audit.ActionGrantBulkAdd,
		Detail: map[string]any{
			"user_id":   userID,
			"level":     level,
			"succeeded": result.Succeeded,
			"failed":    result.Failed,
		},
		Origin: meta.IP,
	})
	return result, nil
}

// BulkRevoke removes one grant per junction id with the same per-row
// independence and single-event audit shape as BulkGrant.
func (a *Admin) BulkRevoke(ctx context.Context, userID string, junctionIDs []int64, actor string, meta ClientMeta) (BulkResult, error) {
	if _, err := a.store.Users().Find(ctx, userID); err != nil {
		return BulkResult{}, storeErr(err)
	}

	result := BulkResult{Succeeded: []int64{}, Failed: []BulkFailure{}}
	for _, id := range junctionIDs {
		if err := a.store.Grants().Delete(ctx, userID, id); err != nil {
			result.Failed = append(result.Failed, BulkFailure{JunctionID: id, Error: storeErr(err).Error()})
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	a.invalidate(ctx, userID)

	a.recorder.Record(ctx, audit.Event{
		Actor:  actor,
		Action: audit.ActionGrantBulkRemove,
		Detail: map[string]any{
			"user_id":   userID,
			"succeeded": result.Succeeded,
			"failed":    result.Failed,
		},
		Origin: meta.IP,
	})
	return result, nil
}

func (a *Admin) grantRow(ctx context.Context, userID string, junctionID int64, level AccessLevel, actor string) error {
	if junctionID <= 0 {
		return ErrInvalidInput
	}
	if !level.Valid() {
		return ErrInvalidInput
	}
	grant := &JunctionGrant{
		UserID:     userID,
		JunctionID: junctionID,
		Level:      level,
		GrantedBy:  actor,
		GrantedAt:  a.now().UTC(),
	}
	if err := a.store.Grants().Upsert(ctx, grant); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return storeErr(err)
	}
	return nil
}

func (a *Admin) invalidate(ctx context.Context, userID string) {
	if a.cache != nil {
		_ = a.cache.Invalidate(ctx, userID)
	}
}
