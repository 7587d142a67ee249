package auth

// DenyReason explains a negative access decision.
type DenyReason string

const (
	DenyNotGranted        DenyReason = "not_granted"
	DenyInsufficientLevel DenyReason = "insufficient_level"
)

// Decision is the outcome of an access check. Reason is empty when Allowed.
type Decision struct {
	Allowed bool
	Reason  DenyReason
}

func allow() Decision            { return Decision{Allowed: true} }
func deny(r DenyReason) Decision { return Decision{Reason: r} }

// Authorize decides whether the claims permit acting on a junction at the
// required level. Pure function over the token snapshot; ADMIN bypasses the
// grant table entirely.
func Authorize(claims *Claims, junctionID int64, required AccessLevel) Decision {
	if claims.Role == RoleAdmin {
		return allow()
	}
	for _, j := range claims.Junctions {
		if j.ID != junctionID {
			continue
		}
		if j.Level.Satisfies(required) {
			return allow()
		}
		return deny(DenyInsufficientLevel)
	}
	return deny(DenyNotGranted)
}

// FilterAccessible returns the subset of ids the claims can act on at the
// required level, preserving input order. An empty result is a valid answer.
func FilterAccessible(claims *Claims, ids []int64, required AccessLevel) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if Authorize(claims, id, required).Allowed {
			out = append(out, id)
		}
	}
	return out
}
