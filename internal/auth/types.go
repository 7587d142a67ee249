package auth

import "time"

// Role classifies an account. The set is closed; persistence and claims use
// the string values directly.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleOperator Role = "OPERATOR"
	RoleObserver Role = "OBSERVER"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleOperator, RoleObserver:
		return true
	}
	return false
}

// AccessLevel is the capability a grant confers on a single junction.
type AccessLevel string

const (
	LevelOperator AccessLevel = "OPERATOR"
	LevelObserver AccessLevel = "OBSERVER"
)

// Valid reports whether l is one of the known levels.
func (l AccessLevel) Valid() bool {
	switch l {
	case LevelOperator, LevelObserver:
		return true
	}
	return false
}

// Satisfies reports whether a grant at level l covers the required level.
// OPERATOR subsumes OBSERVER.
func (l AccessLevel) Satisfies(required AccessLevel) bool {
	switch required {
	case LevelObserver:
		return l == LevelObserver || l == LevelOperator
	case LevelOperator:
		return l == LevelOperator
	}
	return false
}

// User represents an operator account. Accounts are created by admins and
// deactivated rather than deleted.
type User struct {
	ID             string
	Handle         string
	PasswordDigest string
	DisplayName    string
	Email          string
	Role           Role
	Active         bool
	LastLoginAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// JunctionGrant gives a user a capability level on one junction.
// (user, junction) is unique; re-granting overwrites the level.
type JunctionGrant struct {
	UserID     string
	JunctionID int64
	Level      AccessLevel
	GrantedBy  string
	GrantedAt  time.Time
}

// Session anchors one refresh-token lineage. The row stores only a sha256
// digest of the refresh token, never the token itself.
type Session struct {
	ID            string
	UserID        string
	RefreshDigest string
	IssuedAt      time.Time
	ExpiresAt     time.Time
	LastUsedAt    *time.Time
	Active        bool
	ClientIP      string
	UserAgent     string
}

// ClientMeta carries request provenance into sessions and audit events.
type ClientMeta struct {
	IP        string
	UserAgent string
}

// JunctionClaim is the per-junction slice of a token's grant snapshot.
type JunctionClaim struct {
	ID    int64       `json:"id"`
	Level AccessLevel `json:"level"`
}

// UserPatch describes a partial update applied by an admin. Nil fields are
// left unchanged.
type UserPatch struct {
	DisplayName *string
	Email       *string
	Role        *Role
	Active      *bool
}
