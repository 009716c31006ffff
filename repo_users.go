package auth

import (
	"context"
	"database/sql"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// Targeted security mutations run as raw UPDATEs so concurrent logins are
// serialized by the database row, never by a read-modify-write in process.
var trackFailedAttemptSQL = `UPDATE "users"
SET
	"failed_login_attempts" = "failed_login_attempts" + 1,
	"locked_at" = CASE
		WHEN "failed_login_attempts" + 1 >= ? AND "locked_at" IS NULL THEN ?
		ELSE "locked_at"
	END,
	"account_locked" = CASE
		WHEN "failed_login_attempts" + 1 >= ? THEN TRUE
		ELSE "account_locked"
	END,
	"version" = "version" + 1,
	"updated_at" = ?
WHERE
	"id" = ?
	AND "deleted_at" IS NULL
RETURNING *;`

var trackSuccessfulLoginSQL = `UPDATE "users"
SET
	"last_login_at" = ?,
	"last_login_ip" = ?,
	"failed_login_attempts" = 0,
	"locked_at" = NULL,
	"account_locked" = FALSE,
	"version" = "version" + 1,
	"updated_at" = ?
WHERE
	"id" = ?
	AND "deleted_at" IS NULL;`

var resetFailedAttemptsSQL = `UPDATE "users"
SET
	"failed_login_attempts" = 0,
	"locked_at" = NULL,
	"account_locked" = FALSE,
	"version" = "version" + 1
WHERE
	"id" = ?
	AND "deleted_at" IS NULL;`

var lockAccountSQL = `UPDATE "users"
SET
	"account_locked" = TRUE,
	"locked_at" = ?,
	"version" = "version" + 1
WHERE
	"id" = ?
	AND "deleted_at" IS NULL;`

var updatePasswordSQL = `UPDATE "users"
SET
	"password_hash" = ?,
	"password_changed_at" = ?,
	"password_reset_token" = NULL,
	"password_reset_expires_at" = NULL,
	"version" = "version" + 1,
	"updated_at" = ?
WHERE
	"id" = ?
	AND "deleted_at" IS NULL;`

var setResetTokenSQL = `UPDATE "users"
SET
	"password_reset_token" = ?,
	"password_reset_expires_at" = ?,
	"version" = "version" + 1
WHERE
	"email" = ?
	AND "deleted_at" IS NULL;`

var verifyEmailSQL = `UPDATE "users"
SET
	"email_verified" = TRUE,
	"version" = "version" + 1
WHERE
	"email" = ?
	AND "deleted_at" IS NULL;`

// Users is the account store contract the auth core consumes. Every security
// mutation is a targeted, atomic statement; none requires reading the whole
// record first.
type Users interface {
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByResetToken(ctx context.Context, token string) (*User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)

	Create(ctx context.Context, record *User) (*User, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *User) (*User, error)
	Save(ctx context.Context, record *User) (*User, error)
	SaveTx(ctx context.Context, tx bun.IDB, record *User) (*User, error)

	// TrackFailedAttempt atomically increments the failed-attempt counter,
	// locking the account when the counter reaches threshold, and returns
	// the updated record.
	TrackFailedAttempt(ctx context.Context, id int64, threshold int, at time.Time) (*User, error)
	TrackFailedAttemptTx(ctx context.Context, tx bun.IDB, id int64, threshold int, at time.Time) (*User, error)

	// TrackSuccessfulLogin clears the lockout state and records last-login
	// metadata in a single statement.
	TrackSuccessfulLogin(ctx context.Context, id int64, at time.Time, ip string) error
	TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, id int64, at time.Time, ip string) error

	ResetFailedAttempts(ctx context.Context, id int64) error
	ResetFailedAttemptsTx(ctx context.Context, tx bun.IDB, id int64) error
	Lock(ctx context.Context, id int64, at time.Time) error
	LockTx(ctx context.Context, tx bun.IDB, id int64, at time.Time) error
	UpdatePassword(ctx context.Context, id int64, hash string, at time.Time) error
	UpdatePasswordTx(ctx context.Context, tx bun.IDB, id int64, hash string, at time.Time) error
	SetResetToken(ctx context.Context, email, token string, expiresAt time.Time) error
	SetResetTokenTx(ctx context.Context, tx bun.IDB, email, token string, expiresAt time.Time) error
	VerifyEmail(ctx context.Context, email string) error
	VerifyEmailTx(ctx context.Context, tx bun.IDB, email string) error
}

type users struct {
	db *bun.DB
}

var _ Users = (*users)(nil)

// NewUsersRepository returns the bun-backed Users store.
func NewUsersRepository(db *bun.DB) Users {
	return &users{db: db}
}

// NormalizeEmail lowercases and trims an email so lookups are
// case-insensitive regardless of how the client typed it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (a *users) GetByID(ctx context.Context, id int64) (*User, error) {
	record := &User{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	return record, a.mapLookupErr(err, "id")
}

func (a *users) GetByEmail(ctx context.Context, email string) (*User, error) {
	record := &User{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", NormalizeEmail(email)).
		Limit(1).
		Scan(ctx)
	return record, a.mapLookupErr(err, "email")
}

func (a *users) GetByResetToken(ctx context.Context, token string) (*User, error) {
	record := &User{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.password_reset_token = ?", token).
		Limit(1).
		Scan(ctx)
	return record, a.mapLookupErr(err, "password_reset_token")
}

func (a *users) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return a.db.NewSelect().
		Model((*User)(nil)).
		Where("?TableAlias.email = ?", NormalizeEmail(email)).
		Exists(ctx)
}

func (a *users) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return a.db.NewSelect().
		Model((*User)(nil)).
		Where("?TableAlias.username = ?", username).
		Exists(ctx)
}

func (a *users) Create(ctx context.Context, record *User) (*User, error) {
	return a.CreateTx(ctx, a.db, record)
}

func (a *users) CreateTx(ctx context.Context, tx bun.IDB, record *User) (*User, error) {
	prepareUserDefaults(record)
	if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
		return nil, err
	}
	return record, nil
}

func (a *users) Save(ctx context.Context, record *User) (*User, error) {
	return a.SaveTx(ctx, a.db, record)
}

// SaveTx upserts the record. Updates carry an optimistic-concurrency check:
// the version column must still match, and is bumped on success.
func (a *users) SaveTx(ctx context.Context, tx bun.IDB, record *User) (*User, error) {
	if record.ID == 0 {
		return a.CreateTx(ctx, tx, record)
	}

	prev := record.Version
	record.Version = prev + 1
	now := time.Now()
	record.UpdatedAt = &now

	res, err := tx.NewUpdate().
		Model(record).
		WherePK().
		Where("?TableAlias.version = ?", prev).
		Exec(ctx)
	if err != nil {
		record.Version = prev
		return nil, err
	}

	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		record.Version = prev
		return nil, ErrVersionConflict
	}

	return record, nil
}

func (a *users) TrackFailedAttempt(ctx context.Context, id int64, threshold int, at time.Time) (*User, error) {
	return a.TrackFailedAttemptTx(ctx, a.db, id, threshold, at)
}

func (a *users) TrackFailedAttemptTx(ctx context.Context, tx bun.IDB, id int64, threshold int, at time.Time) (*User, error) {
	record := &User{}
	err := tx.NewRaw(trackFailedAttemptSQL, threshold, at, threshold, at, id).Scan(ctx, record)
	if err != nil {
		return nil, a.mapLookupErr(err, "id")
	}
	return record, nil
}

func (a *users) TrackSuccessfulLogin(ctx context.Context, id int64, at time.Time, ip string) error {
	return a.TrackSuccessfulLoginTx(ctx, a.db, id, at, ip)
}

func (a *users) TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, id int64, at time.Time, ip string) error {
	return a.execTargeted(ctx, tx, trackSuccessfulLoginSQL, at, ip, at, id)
}

func (a *users) ResetFailedAttempts(ctx context.Context, id int64) error {
	return a.ResetFailedAttemptsTx(ctx, a.db, id)
}

func (a *users) ResetFailedAttemptsTx(ctx context.Context, tx bun.IDB, id int64) error {
	return a.execTargeted(ctx, tx, resetFailedAttemptsSQL, id)
}

func (a *users) Lock(ctx context.Context, id int64, at time.Time) error {
	return a.LockTx(ctx, a.db, id, at)
}

func (a *users) LockTx(ctx context.Context, tx bun.IDB, id int64, at time.Time) error {
	return a.execTargeted(ctx, tx, lockAccountSQL, at, id)
}

func (a *users) UpdatePassword(ctx context.Context, id int64, hash string, at time.Time) error {
	return a.UpdatePasswordTx(ctx, a.db, id, hash, at)
}

func (a *users) UpdatePasswordTx(ctx context.Context, tx bun.IDB, id int64, hash string, at time.Time) error {
	return a.execTargeted(ctx, tx, updatePasswordSQL, hash, at, at, id)
}

func (a *users) SetResetToken(ctx context.Context, email, token string, expiresAt time.Time) error {
	return a.SetResetTokenTx(ctx, a.db, email, token, expiresAt)
}

func (a *users) SetResetTokenTx(ctx context.Context, tx bun.IDB, email, token string, expiresAt time.Time) error {
	return a.execTargeted(ctx, tx, setResetTokenSQL, token, expiresAt, NormalizeEmail(email))
}

func (a *users) VerifyEmail(ctx context.Context, email string) error {
	return a.VerifyEmailTx(ctx, a.db, email)
}

func (a *users) VerifyEmailTx(ctx context.Context, tx bun.IDB, email string) error {
	return a.execTargeted(ctx, tx, verifyEmailSQL, NormalizeEmail(email))
}

func (a *users) execTargeted(ctx context.Context, tx bun.IDB, query string, args ...any) error {
	res, err := tx.NewRaw(query, args...).Exec(ctx)
	if err != nil {
		return err
	}

	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrIdentityNotFound
	}

	return nil
}

func (a *users) mapLookupErr(err error, column string) error {
	if err == nil {
		return nil
	}
	if goerrors.Is(err, sql.ErrNoRows) {
		return ErrIdentityNotFound
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, "user lookup by "+column+" failed")
}

func prepareUserDefaults(record *User) {
	record.Email = NormalizeEmail(record.Email)
	if record.Role == "" {
		record.Role = RoleUser
	}
}
