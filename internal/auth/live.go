package auth

import (
	"context"
	"errors"

	"flextraff.org/internal/obs"
)

// Authorizer decides access for verified claims. ClaimsAuthorizer trusts the
// token's grant snapshot; StoreAuthorizer consults the grant store so that
// revocations take effect before the access token expires.
type Authorizer interface {
	Authorize(ctx context.Context, claims *Claims, junctionID int64, required AccessLevel) (Decision, error)
	FilterAccessible(ctx context.Context, claims *Claims, ids []int64, required AccessLevel) ([]int64, error)
}

// ClaimsAuthorizer is the default snapshot-based Authorizer. Staleness is
// bounded by the access token TTL.
type ClaimsAuthorizer struct{}

func (ClaimsAuthorizer) Authorize(_ context.Context, claims *Claims, junctionID int64, required AccessLevel) (Decision, error) {
	d := Authorize(claims, junctionID, required)
	observeDecision(d)
	return d, nil
}

func (ClaimsAuthorizer) FilterAccessible(_ context.Context, claims *Claims, ids []int64, required AccessLevel) ([]int64, error) {
	return FilterAccessible(claims, ids, required), nil
}

// StoreAuthorizer looks grants up per request, through an optional Redis
// snapshot cache. Lookups that time out are retried once; the retry is safe
// because reads have no side effects.
type StoreAuthorizer struct {
	grants GrantStore
	cache  *GrantCache
}

// NewStoreAuthorizer constructs a live authorizer. cache may be nil.
func NewStoreAuthorizer(grants GrantStore, cache *GrantCache) *StoreAuthorizer {
	return &StoreAuthorizer{grants: grants, cache: cache}
}

func (a *StoreAuthorizer) Authorize(ctx context.Context, claims *Claims, junctionID int64, required AccessLevel) (Decision, error) {
	d, err := a.decide(ctx, claims, junctionID, required)
	if err != nil {
		return Decision{}, err
	}
	observeDecision(d)
	return d, nil
}

func (a *StoreAuthorizer) decide(ctx context.Context, claims *Claims, junctionID int64, required AccessLevel) (Decision, error) {
	if claims.Role == RoleAdmin {
		return allow(), nil
	}
	grants, err := a.loadGrants(ctx, claims.Subject)
	if err != nil {
		return Decision{}, err
	}
	for _, g := range grants {
		if g.JunctionID != junctionID {
			continue
		}
		if g.Level.Satisfies(required) {
			return allow(), nil
		}
		return deny(DenyInsufficientLevel), nil
	}
	return deny(DenyNotGranted), nil
}

func observeDecision(d Decision) {
	if d.Allowed {
		obs.ObserveAuthz("allow")
		return
	}
	obs.ObserveAuthz(string(d.Reason))
}

func (a *StoreAuthorizer) FilterAccessible(ctx context.Context, claims *Claims, ids []int64, required AccessLevel) ([]int64, error) {
	if claims.Role == RoleAdmin {
		out := make([]int64, len(ids))
		copy(out, ids)
		return out, nil
	}
	grants, err := a.loadGrants(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	levels := make(map[int64]AccessLevel, len(grants))
	for _, g := range grants {
		levels[g.JunctionID] = g.Level
	}
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if l, ok := levels[id]; ok && l.Satisfies(required) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (a *StoreAuthorizer) loadGrants(ctx context.Context, userID string) ([]JunctionGrant, error) {
	if a.cache != nil {
		if grants, ok, err := a.cache.Get(ctx, userID); err == nil && ok {
			return grants, nil
		}
	}
	grants, err := a.grants.ListByUser(ctx, userID)
	if errors.Is(err, context.DeadlineExceeded) {
		grants, err = a.grants.ListByUser(ctx, userID)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrStoreUnavailable
		}
		return nil, err
	}
	if a.cache != nil {
		_ = a.cache.Put(ctx, userID, grants)
	}
	return grants, nil
}
