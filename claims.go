package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenKind distinguishes access tokens from refresh tokens.
type TokenKind string

const (
	// TokenKindAccess is the short-lived credential sent on every request.
	TokenKindAccess TokenKind = "access"
	// TokenKindRefresh is the longer-lived credential used only to mint new
	// access tokens.
	TokenKindRefresh TokenKind = "refresh"
)

// AuthClaims is the read side of a verified token. Methods return plain
// strings so middleware packages can mirror the interface without importing
// this package.
type AuthClaims interface {
	Subject() string
	UserID() int64
	Role() string
	TokenKind() string
	HasRole(role string) bool
	IsAtLeast(minRole string) bool
	HasAuthority(authority string) bool
	Expires() time.Time
	IssuedAt() time.Time
}

// JWTClaims is the concrete claim set carried by Career Compass tokens.
// The subject is the account email; uid carries the numeric id.
type JWTClaims struct {
	jwt.RegisteredClaims
	UID             int64       `json:"uid,omitempty"`
	Email           string      `json:"email,omitempty"`
	UserRole        Role        `json:"role,omitempty"`
	UserAuthorities []Authority `json:"authorities,omitempty"`
	Kind            TokenKind   `json:"kind,omitempty"`
}

var _ AuthClaims = (*JWTClaims)(nil)

// Subject returns the subject claim
func (c *JWTClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// UserID returns the numeric account id
func (c *JWTClaims) UserID() int64 {
	return c.UID
}

// Role returns the account's role at issuance time
func (c *JWTClaims) Role() string {
	return string(c.UserRole)
}

// TokenKind returns "access" or "refresh"
func (c *JWTClaims) TokenKind() string {
	return string(c.Kind)
}

// HasRole checks for an exact role match
func (c *JWTClaims) HasRole(role string) bool {
	return string(c.UserRole) == role
}

// IsAtLeast checks the role against the hierarchy
func (c *JWTClaims) IsAtLeast(minRole string) bool {
	return c.UserRole.IsAtLeast(Role(minRole))
}

// HasAuthority checks the fine-grained authority snapshot
func (c *JWTClaims) HasAuthority(authority string) bool {
	for _, a := range c.UserAuthorities {
		if string(a) == authority {
			return true
		}
	}
	return false
}

// Expires returns the expiration time
func (c *JWTClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *JWTClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}

// ensureTokenID assigns a random jti when the claims carry none.
func ensureTokenID(claims *jwt.RegisteredClaims) {
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}
}
