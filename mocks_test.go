package auth_test

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/uptrace/bun"

	auth "github.com/careercompass/go-auth"
)

// memoryUsers is an in-memory Users store used by the orchestration tests.
// Mutations mirror the SQL semantics of the bun-backed store: targeted,
// atomic under the mutex, soft-delete aware.
type memoryUsers struct {
	mu   sync.Mutex
	seq  int64
	byID map[int64]*auth.User
}

var _ auth.Users = (*memoryUsers)(nil)

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{byID: map[int64]*auth.User{}}
}

func (m *memoryUsers) add(user *auth.User) *auth.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user.ID == 0 {
		m.seq++
		user.ID = m.seq
	}
	if user.Role == "" {
		user.Role = auth.RoleUser
	}
	user.Email = auth.NormalizeEmail(user.Email)
	m.byID[user.ID] = cloneUser(user)
	return cloneUser(user)
}

func cloneUser(u *auth.User) *auth.User {
	c := *u
	if len(u.Authorities) > 0 {
		c.Authorities = append([]auth.Authority(nil), u.Authorities...)
	}
	return &c
}

func (m *memoryUsers) find(match func(*auth.User) bool) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.DeletedAt == nil && match(u) {
			return cloneUser(u), nil
		}
	}
	return nil, auth.ErrIdentityNotFound
}

func (m *memoryUsers) GetByID(ctx context.Context, id int64) (*auth.User, error) {
	return m.find(func(u *auth.User) bool { return u.ID == id })
}

func (m *memoryUsers) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	want := auth.NormalizeEmail(email)
	return m.find(func(u *auth.User) bool { return u.Email == want })
}

func (m *memoryUsers) GetByResetToken(ctx context.Context, token string) (*auth.User, error) {
	return m.find(func(u *auth.User) bool {
		return u.PasswordResetToken != "" && u.PasswordResetToken == token
	})
}

func (m *memoryUsers) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := m.GetByEmail(ctx, email)
	return err == nil, nil
}

func (m *memoryUsers) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	_, err := m.find(func(u *auth.User) bool { return u.Username == username })
	return err == nil, nil
}

func (m *memoryUsers) Create(ctx context.Context, record *auth.User) (*auth.User, error) {
	return m.add(record), nil
}

func (m *memoryUsers) CreateTx(ctx context.Context, tx bun.IDB, record *auth.User) (*auth.User, error) {
	return m.Create(ctx, record)
}

func (m *memoryUsers) Save(ctx context.Context, record *auth.User) (*auth.User, error) {
	if record.ID == 0 {
		return m.Create(ctx, record)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.byID[record.ID]
	if !ok {
		return nil, auth.ErrIdentityNotFound
	}
	if current.Version != record.Version {
		return nil, auth.ErrVersionConflict
	}
	record.Version++
	m.byID[record.ID] = cloneUser(record)
	return cloneUser(record), nil
}

func (m *memoryUsers) SaveTx(ctx context.Context, tx bun.IDB, record *auth.User) (*auth.User, error) {
	return m.Save(ctx, record)
}

func (m *memoryUsers) mutate(id int64, f func(*auth.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok || u.DeletedAt != nil {
		return auth.ErrIdentityNotFound
	}
	f(u)
	u.Version++
	return nil
}

func (m *memoryUsers) mutateByEmail(email string, f func(*auth.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := auth.NormalizeEmail(email)
	for _, u := range m.byID {
		if u.DeletedAt == nil && u.Email == want {
			f(u)
			u.Version++
			return nil
		}
	}
	return auth.ErrIdentityNotFound
}

func (m *memoryUsers) TrackFailedAttempt(ctx context.Context, id int64, threshold int, at time.Time) (*auth.User, error) {
	err := m.mutate(id, func(u *auth.User) {
		u.FailedLoginAttempts++
		if u.FailedLoginAttempts >= threshold {
			u.AccountLocked = true
			if u.LockedAt == nil {
				lockedAt := at
				u.LockedAt = &lockedAt
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return m.GetByID(ctx, id)
}

func (m *memoryUsers) TrackFailedAttemptTx(ctx context.Context, tx bun.IDB, id int64, threshold int, at time.Time) (*auth.User, error) {
	return m.TrackFailedAttempt(ctx, id, threshold, at)
}

func (m *memoryUsers) TrackSuccessfulLogin(ctx context.Context, id int64, at time.Time, ip string) error {
	return m.mutate(id, func(u *auth.User) {
		loginAt := at
		u.LastLoginAt = &loginAt
		u.LastLoginIP = ip
		u.FailedLoginAttempts = 0
		u.LockedAt = nil
		u.AccountLocked = false
	})
}

func (m *memoryUsers) TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, id int64, at time.Time, ip string) error {
	return m.TrackSuccessfulLogin(ctx, id, at, ip)
}

func (m *memoryUsers) ResetFailedAttempts(ctx context.Context, id int64) error {
	return m.mutate(id, func(u *auth.User) {
		u.FailedLoginAttempts = 0
		u.LockedAt = nil
		u.AccountLocked = false
	})
}

func (m *memoryUsers) ResetFailedAttemptsTx(ctx context.Context, tx bun.IDB, id int64) error {
	return m.ResetFailedAttempts(ctx, id)
}

func (m *memoryUsers) Lock(ctx context.Context, id int64, at time.Time) error {
	return m.mutate(id, func(u *auth.User) {
		u.AccountLocked = true
		lockedAt := at
		u.LockedAt = &lockedAt
	})
}

func (m *memoryUsers) LockTx(ctx context.Context, tx bun.IDB, id int64, at time.Time) error {
	return m.Lock(ctx, id, at)
}

func (m *memoryUsers) UpdatePassword(ctx context.Context, id int64, hash string, at time.Time) error {
	return m.mutate(id, func(u *auth.User) {
		u.PasswordHash = hash
		changedAt := at
		u.PasswordChangedAt = &changedAt
		u.PasswordResetToken = ""
		u.PasswordResetExpiresAt = nil
	})
}

func (m *memoryUsers) UpdatePasswordTx(ctx context.Context, tx bun.IDB, id int64, hash string, at time.Time) error {
	return m.UpdatePassword(ctx, id, hash, at)
}

func (m *memoryUsers) SetResetToken(ctx context.Context, email, token string, expiresAt time.Time) error {
	return m.mutateByEmail(email, func(u *auth.User) {
		u.PasswordResetToken = token
		expiry := expiresAt
		u.PasswordResetExpiresAt = &expiry
	})
}

func (m *memoryUsers) SetResetTokenTx(ctx context.Context, tx bun.IDB, email, token string, expiresAt time.Time) error {
	return m.SetResetToken(ctx, email, token, expiresAt)
}

func (m *memoryUsers) VerifyEmail(ctx context.Context, email string) error {
	return m.mutateByEmail(email, func(u *auth.User) {
		u.EmailVerified = true
	})
}

func (m *memoryUsers) VerifyEmailTx(ctx context.Context, tx bun.IDB, email string) error {
	return m.VerifyEmail(ctx, email)
}

// memoryRepo satisfies RepositoryManager for tests that do not need a real
// database. RunInTx executes the callback with a zero transaction; the
// in-memory store ignores it.
type memoryRepo struct {
	users *memoryUsers
}

var _ auth.RepositoryManager = (*memoryRepo)(nil)

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{users: newMemoryUsers()}
}

func (m *memoryRepo) Users() auth.Users { return m.users }

func (m *memoryRepo) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	return f(ctx, bun.Tx{})
}

func (m *memoryRepo) Validate() error { return nil }
func (m *memoryRepo) MustValidate()   {}

// MockLogger implements auth.Logger for testing
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Debug(format string, args ...any) { m.Called(format, args) }
func (m *MockLogger) Info(format string, args ...any)  { m.Called(format, args) }
func (m *MockLogger) Warn(format string, args ...any)  { m.Called(format, args) }
func (m *MockLogger) Error(format string, args ...any) { m.Called(format, args) }

// capturingSink collects activity events for assertions.
type capturingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (c *capturingSink) Record(ctx context.Context, evt auth.ActivityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *capturingSink) byType(t auth.ActivityEventType) []auth.ActivityEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []auth.ActivityEvent
	for _, e := range c.events {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}
