package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the work factor used when none is configured.
const DefaultBcryptCost = 12

// PasswordHasher wraps bcrypt with a configurable cost. The produced hash is
// self describing: algorithm, cost, and salt travel inside the output, so
// verification needs no external parameters.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher returns a hasher with the given cost. Costs outside
// bcrypt's supported range fall back to DefaultBcryptCost.
func NewPasswordHasher(cost int) PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return PasswordHasher{cost: cost}
}

// Hash generates a salted hash for the given password.
func (h PasswordHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	out, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	return string(out), err
}

// Compare validates the given cleartext password against a hash. bcrypt's
// comparison is constant time with respect to the password bytes.
func (h PasswordHasher) Compare(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatchedHashAndPassword
		}
		return err
	}
	return nil
}

// HashPassword will generate a password hash using the default cost
func HashPassword(password string) (string, error) {
	return NewPasswordHasher(DefaultBcryptCost).Hash(password)
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	return NewPasswordHasher(DefaultBcryptCost).Compare(password, hash)
}
