package auth

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// ErrIdentityNotFound is returned when no account matches the identifier.
// Soft-deleted accounts surface this error too; they do not exist as far as
// authentication is concerned.
var ErrIdentityNotFound = goerrors.New("identity not found", goerrors.CategoryNotFound).
	WithTextCode("IDENTITY_NOT_FOUND").
	WithCode(goerrors.CodeNotFound)

// ErrDuplicateIdentity is returned on registration when the email or
// username is already taken.
var ErrDuplicateIdentity = goerrors.New("email or username already registered", goerrors.CategoryConflict).
	WithTextCode("DUPLICATE_IDENTITY").
	WithCode(goerrors.CodeConflict)

// ErrInvalidCredentials is returned when the password does not match.
var ErrInvalidCredentials = goerrors.New("invalid credentials", goerrors.CategoryAuth).
	WithTextCode("INVALID_CREDENTIALS").
	WithCode(goerrors.CodeUnauthorized)

// ErrAccountLocked is returned for login attempts against an account locked
// after too many failed attempts.
var ErrAccountLocked = goerrors.New("account locked after too many failed login attempts", goerrors.CategoryAuth).
	WithTextCode("ACCOUNT_LOCKED").
	WithCode(goerrors.CodeUnauthorized)

// ErrAccountDisabled is returned for login attempts against a disabled account.
var ErrAccountDisabled = goerrors.New("account disabled", goerrors.CategoryAuth).
	WithTextCode("ACCOUNT_DISABLED").
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenExpired is returned when a token's exp claim is in the past.
var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode("TOKEN_EXPIRED").
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed covers every other token verification failure: bad
// encoding, wrong signature, unexpected signing method, missing claims.
var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithTextCode("TOKEN_MALFORMED").
	WithCode(goerrors.CodeUnauthorized)

// ErrResetTokenInvalid is returned when a password reset token is unknown,
// expired, or already consumed.
var ErrResetTokenInvalid = goerrors.New("password reset token is invalid or expired", goerrors.CategoryValidation).
	WithTextCode("RESET_TOKEN_INVALID").
	WithCode(goerrors.CodeBadRequest)

// ErrVersionConflict is returned when an optimistic-concurrency save loses
// the race against a concurrent writer.
var ErrVersionConflict = goerrors.New("record was modified concurrently", goerrors.CategoryConflict).
	WithTextCode("VERSION_CONFLICT").
	WithCode(goerrors.CodeConflict)

// ErrMismatchedHashAndPassword is the hasher-level mismatch error. The
// orchestrator maps it to ErrInvalidCredentials before it reaches callers.
var ErrMismatchedHashAndPassword = goerrors.New("hashed password does not match", goerrors.CategoryAuth).
	WithTextCode("PASSWORD_MISMATCH").
	WithCode(goerrors.CodeUnauthorized)

// ErrNoEmptyString is returned when hashing an empty password.
var ErrNoEmptyString = goerrors.New("value must not be empty", goerrors.CategoryValidation).
	WithTextCode("EMPTY_VALUE").
	WithCode(goerrors.CodeBadRequest)

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if goerrors.Is(err, ErrTokenExpired) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	if goerrors.Is(err, ErrTokenMalformed) {
		return true
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}
