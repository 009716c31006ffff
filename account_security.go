package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// resetTokenBytes gives 256 bits of entropy, hex encoded to 64 characters.
const resetTokenBytes = 32

// AccountSecurity drives the lockout and password lifecycle over a user
// record: failed-attempt bookkeeping, lock transitions, password reset, and
// password change. All mutations go through the store's atomic operations.
type AccountSecurity struct {
	repo          RepositoryManager
	hasher        PasswordHasher
	logger        Logger
	activitySink  ActivitySink
	lockThreshold int
	resetTokenTTL time.Duration
	now           func() time.Time
}

// AccountSecurityOption customizes AccountSecurity construction.
type AccountSecurityOption func(*AccountSecurity)

// WithSecurityClock injects a custom clock (useful for tests).
func WithSecurityClock(clock func() time.Time) AccountSecurityOption {
	return func(s *AccountSecurity) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithSecurityLogger overrides the default logger.
func WithSecurityLogger(logger Logger) AccountSecurityOption {
	return func(s *AccountSecurity) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSecurityHasher overrides the password hasher.
func WithSecurityHasher(hasher PasswordHasher) AccountSecurityOption {
	return func(s *AccountSecurity) {
		s.hasher = hasher
	}
}

// WithLockoutThreshold overrides the failed-attempt lock threshold.
func WithLockoutThreshold(threshold int) AccountSecurityOption {
	return func(s *AccountSecurity) {
		if threshold > 0 {
			s.lockThreshold = threshold
		}
	}
}

// WithResetTokenTTL overrides the reset token lifetime.
func WithResetTokenTTL(ttl time.Duration) AccountSecurityOption {
	return func(s *AccountSecurity) {
		if ttl > 0 {
			s.resetTokenTTL = ttl
		}
	}
}

// WithSecurityActivitySink sets the ActivitySink used to publish events.
func WithSecurityActivitySink(sink ActivitySink) AccountSecurityOption {
	return func(s *AccountSecurity) {
		s.activitySink = normalizeActivitySink(sink)
	}
}

// NewAccountSecurity returns an AccountSecurity with the default threshold
// (5 attempts), reset TTL (24h), and bcrypt cost.
func NewAccountSecurity(repo RepositoryManager, opts ...AccountSecurityOption) *AccountSecurity {
	s := &AccountSecurity{
		repo:          repo,
		hasher:        NewPasswordHasher(DefaultBcryptCost),
		logger:        defLogger{},
		activitySink:  noopActivitySink{},
		lockThreshold: DefaultLockoutThreshold,
		resetTokenTTL: DefaultResetTokenTTL,
		now:           time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s
}

// LockoutThreshold returns the configured lock threshold.
func (s *AccountSecurity) LockoutThreshold() int {
	return s.lockThreshold
}

// RecordFailedAttempt increments the account's failed-attempt counter and
// locks it once the counter reaches the threshold. The increment happens in
// the store so concurrent failures never lose an update.
func (s *AccountSecurity) RecordFailedAttempt(ctx context.Context, user *User) (*User, error) {
	updated, err := s.repo.Users().TrackFailedAttempt(ctx, user.ID, s.lockThreshold, s.now())
	if err != nil {
		return nil, err
	}

	if updated.AccountLocked && !user.AccountLocked {
		s.logger.Warn("account locked after failed login attempts", "email", updated.Email, "attempts", updated.FailedLoginAttempts)
		s.emitEvent(ctx, ActivityEventAccountLocked, updated, "", nil)
	}

	return updated, nil
}

// RecordSuccessfulLogin resets the failed-attempt counter, clears the lock
// state, and records last-login metadata. Only successful password
// verification should reach this.
func (s *AccountSecurity) RecordSuccessfulLogin(ctx context.Context, user *User, ip string) error {
	return s.repo.Users().TrackSuccessfulLogin(ctx, user.ID, s.now(), ip)
}

// BeginPasswordReset generates a random reset token for the account,
// overwriting any previous outstanding token. At most one reset token is
// valid per account at a time.
func (s *AccountSecurity) BeginPasswordReset(ctx context.Context, email string) (string, error) {
	user, err := s.repo.Users().GetByEmail(ctx, email)
	if err != nil {
		return "", err
	}

	token, err := generateResetToken()
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate reset token")
	}

	expiresAt := s.now().Add(s.resetTokenTTL)
	if err := s.repo.Users().SetResetToken(ctx, user.Email, token, expiresAt); err != nil {
		return "", err
	}

	s.logger.Info("password reset token issued", "email", user.Email)
	s.emitEvent(ctx, ActivityEventPasswordResetRequested, user, "", map[string]any{
		"expires_at": expiresAt,
	})

	return token, nil
}

// CompletePasswordReset consumes a reset token: sets the new password hash,
// clears the token, and clears lock state. A reset proves control of the
// mailbox, so it unlocks a locked account.
func (s *AccountSecurity) CompletePasswordReset(ctx context.Context, token, newPassword string) error {
	user, err := s.repo.Users().GetByResetToken(ctx, token)
	if err != nil {
		if goerrors.Is(err, ErrIdentityNotFound) {
			return ErrResetTokenInvalid
		}
		return err
	}

	if !user.IsResetTokenValid(token, s.now()) {
		return ErrResetTokenInvalid
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	at := s.now()
	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := s.repo.Users().UpdatePasswordTx(ctx, tx, user.ID, hash, at); err != nil {
			return err
		}
		return s.repo.Users().ResetFailedAttemptsTx(ctx, tx, user.ID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("password reset completed", "email", user.Email)
	s.emitEvent(ctx, ActivityEventPasswordResetCompleted, user, "", nil)

	return nil
}

// ChangePassword verifies the current password before setting the new one.
// Any outstanding reset token is cleared as a side effect.
func (s *AccountSecurity) ChangePassword(ctx context.Context, user *User, currentPassword, newPassword string) error {
	if err := s.hasher.Compare(currentPassword, user.PasswordHash); err != nil {
		if goerrors.Is(err, ErrMismatchedHashAndPassword) {
			return ErrInvalidCredentials
		}
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	if err := s.repo.Users().UpdatePassword(ctx, user.ID, hash, s.now()); err != nil {
		return err
	}

	s.emitEvent(ctx, ActivityEventPasswordChanged, user, "", nil)

	return nil
}

func (s *AccountSecurity) emitEvent(ctx context.Context, eventType ActivityEventType, user *User, ip string, metadata map[string]any) {
	event := ActivityEvent{
		EventType:  eventType,
		UserID:     user.ID,
		Email:      user.Email,
		IP:         ip,
		Metadata:   metadata,
		OccurredAt: s.now(),
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if err := normalizeActivitySink(s.activitySink).Record(ctx, event); err != nil {
		s.logger.Warn("activity sink record error: %v", err)
	}
}

func generateResetToken() (string, error) {
	buf := make([]byte, resetTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
