package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenKind discriminates access tokens from refresh tokens. Verify rejects
// a token presented for the wrong purpose.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

const defaultIssuer = "flextraff"

// Claims is the JWT payload carried by both token kinds. Junctions is a
// snapshot of the subject's grants at issue time; its staleness is bounded
// by the access TTL.
type Claims struct {
	Handle    string          `json:"handle"`
	Role      Role            `json:"role"`
	Junctions []JunctionClaim `json:"junctions,omitempty"`
	Kind      TokenKind       `json:"kind"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies HS256 JWTs.
type TokenCodec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// CodecOption configures a TokenCodec.
type CodecOption func(*TokenCodec)

// WithIssuer overrides the issuer claim.
func WithIssuer(issuer string) CodecOption {
	return func(c *TokenCodec) {
		if strings.TrimSpace(issuer) != "" {
			c.issuer = issuer
		}
	}
}

// WithCodecClock overrides the time source (useful for tests).
func WithCodecClock(fn func() time.Time) CodecOption {
	return func(c *TokenCodec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewTokenCodec constructs a codec over the given signing secret.
func NewTokenCodec(secret []byte, opts ...CodecOption) (*TokenCodec, error) {
	if len(secret) < 32 {
		return nil, errors.New("auth: signing secret must be at least 32 bytes")
	}
	c := &TokenCodec{
		secret: secret,
		issuer: defaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue signs a token of the given kind for the user. The grant snapshot is
// embedded for access tokens; refresh tokens carry only identity.
func (c *TokenCodec) Issue(user *User, junctions []JunctionClaim, kind TokenKind, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		return "", time.Time{}, errors.New("auth: ttl must be greater than zero")
	}
	now := c.now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		Handle: user.Handle,
		Role:   user.Role,
		Kind:   kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	if kind == KindAccess {
		claims.Junctions = junctions
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify parses the token, checks the signature and expiry, and requires the
// expected kind. Expired-but-authentic tokens yield ErrTokenExpired; every
// other defect yields ErrTokenMalformed.
func (c *TokenCodec) Verify(token string, kind TokenKind) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenMalformed
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrTokenMalformed
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return c.now().UTC() }))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenMalformed
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenMalformed
	}
	if claims.Issuer != c.issuer {
		return nil, ErrTokenMalformed
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrTokenMalformed
	}
	if claims.Kind != kind {
		return nil, ErrTokenMalformed
	}
	if !claims.Role.Valid() {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}
