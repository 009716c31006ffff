// Package auth implements the authentication and account-security core for
// the Career Compass job board: bcrypt credential hashing, JWT access and
// refresh tokens, the account lockout lifecycle, password reset, and a
// fail-open request authentication gate.
package auth
