package auth

import (
	"crypto/subtle"
	"time"

	"github.com/uptrace/bun"
)

// User is the account model. The auth core only mutates the security-relevant
// subset; profile fields are owned by the rest of the application.
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`

	ID       int64  `bun:"id,pk,autoincrement" json:"id,omitempty"`
	Email    string `bun:"email,notnull,unique" json:"email,omitempty"`
	Username string `bun:"username,unique,nullzero" json:"username,omitempty"`

	// PasswordHash is the bcrypt hash, never the plaintext.
	PasswordHash string `bun:"password_hash,notnull" json:"-"`

	FirstName string `bun:"first_name,notnull" json:"first_name,omitempty"`
	LastName  string `bun:"last_name,notnull" json:"last_name,omitempty"`
	Phone     string `bun:"phone_number,nullzero" json:"phone_number,omitempty"`

	Role        Role        `bun:"role,notnull" json:"role,omitempty"`
	Authorities []Authority `bun:"authorities,type:jsonb,nullzero" json:"authorities,omitempty"`

	Enabled       bool `bun:"enabled,notnull" json:"enabled"`
	EmailVerified bool `bun:"email_verified,notnull" json:"email_verified"`
	AccountLocked bool `bun:"account_locked,notnull" json:"account_locked"`

	FailedLoginAttempts int        `bun:"failed_login_attempts,notnull" json:"failed_login_attempts,omitempty"`
	LockedAt            *time.Time `bun:"locked_at,nullzero" json:"locked_at,omitempty"`

	PasswordResetToken     string     `bun:"password_reset_token,nullzero" json:"-"`
	PasswordResetExpiresAt *time.Time `bun:"password_reset_expires_at,nullzero" json:"-"`
	PasswordChangedAt      *time.Time `bun:"password_changed_at,nullzero" json:"password_changed_at,omitempty"`

	LastLoginAt *time.Time `bun:"last_login_at,nullzero" json:"last_login_at,omitempty"`
	LastLoginIP string     `bun:"last_login_ip,nullzero" json:"last_login_ip,omitempty"`

	DeletedAt      *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
	DeletedBy      *int64     `bun:"deleted_by,nullzero" json:"deleted_by,omitempty"`
	DeletionReason string     `bun:"deletion_reason,nullzero" json:"deletion_reason,omitempty"`

	Version   int64      `bun:"version,notnull,default:0" json:"version,omitempty"`
	CreatedAt *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// IsDeleted reports whether the account is soft deleted.
func (u *User) IsDeleted() bool {
	return u.DeletedAt != nil
}

// CanAuthenticate reports whether the account may hold an authenticated
// session at all. Soft-deleted accounts are treated as disabled regardless
// of the enabled flag.
func (u *User) CanAuthenticate() bool {
	return u.Enabled && !u.IsDeleted()
}

// FullName joins first and last name.
func (u *User) FullName() string {
	if u.FirstName == "" {
		return u.LastName
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// HasAuthority checks the fine-grained authority set.
func (u *User) HasAuthority(authority Authority) bool {
	for _, a := range u.Authorities {
		if a == authority {
			return true
		}
	}
	return false
}

// IsResetTokenValid reports whether token matches the outstanding reset token
// and the token has not expired. The comparison is constant time; the token
// is high entropy so equality is the only signal.
func (u *User) IsResetTokenValid(token string, now time.Time) bool {
	if u.PasswordResetToken == "" || u.PasswordResetExpiresAt == nil {
		return false
	}
	if !now.Before(*u.PasswordResetExpiresAt) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(u.PasswordResetToken), []byte(token)) == 1
}

// RecordFailedAttempt increments the failed-attempt counter and locks the
// account once the counter reaches threshold. Attempts past the threshold
// keep counting but do not move locked_at.
func (u *User) RecordFailedAttempt(threshold int, now time.Time) {
	u.FailedLoginAttempts++
	if u.FailedLoginAttempts >= threshold {
		u.AccountLocked = true
		if u.LockedAt == nil {
			u.LockedAt = &now
		}
	}
}

// ClearLockout resets the failed-attempt counter and unlocks the account.
// Only successful password verification or a completed reset may call this.
func (u *User) ClearLockout() {
	u.FailedLoginAttempts = 0
	u.AccountLocked = false
	u.LockedAt = nil
}

// SoftDelete marks the account deleted. Not reversible through the auth flow.
func (u *User) SoftDelete(deletedBy int64, reason string, now time.Time) {
	u.DeletedAt = &now
	u.DeletedBy = &deletedBy
	u.DeletionReason = reason
	u.Enabled = false
}

// Restore reverses a soft delete. Administrative operation, never part of
// the authentication flow.
func (u *User) Restore() {
	u.DeletedAt = nil
	u.DeletedBy = nil
	u.DeletionReason = ""
	u.Enabled = true
}
