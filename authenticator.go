package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// TokenTypeBearer is the token_type value returned with every token pair.
const TokenTypeBearer = "Bearer"

// Profile is the account snapshot returned to authenticated callers.
// It never carries the password hash or reset token.
type Profile struct {
	ID            int64      `json:"id"`
	Email         string     `json:"email"`
	Username      string     `json:"username,omitempty"`
	FirstName     string     `json:"first_name,omitempty"`
	LastName      string     `json:"last_name,omitempty"`
	FullName      string     `json:"full_name,omitempty"`
	Phone         string     `json:"phone_number,omitempty"`
	Role          Role       `json:"role"`
	Enabled       bool       `json:"enabled"`
	EmailVerified bool       `json:"email_verified"`
	AccountLocked bool       `json:"account_locked"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
}

// AuthResponse is returned by register, login, and refresh.
type AuthResponse struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int64    `json:"expires_in"`
	Profile      *Profile `json:"profile,omitempty"`
}

// Auther composes the hasher, token service, store, and account security
// lifecycle into the register/login/refresh/logout/reset use cases.
type Auther struct {
	repo         RepositoryManager
	security     *AccountSecurity
	tokenService TokenService
	hasher       PasswordHasher
	logger       Logger
	activitySink ActivitySink
	accessTTL    time.Duration
	now          func() time.Time
}

// NewAuthenticator returns a new Auther wired from the given configuration.
func NewAuthenticator(repo RepositoryManager, cfg *Config) *Auther {
	hasher := NewPasswordHasher(cfg.BcryptCost)

	tokenService := NewTokenService(
		[]byte(cfg.SigningKey),
		cfg.AccessTokenTTL(),
		cfg.RefreshTokenTTL(),
		cfg.Issuer,
		defLogger{},
	)

	security := NewAccountSecurity(repo,
		WithSecurityHasher(hasher),
		WithLockoutThreshold(cfg.LockoutThreshold),
		WithResetTokenTTL(cfg.ResetTokenTTL),
	)

	return &Auther{
		repo:         repo,
		security:     security,
		tokenService: tokenService,
		hasher:       hasher,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
		accessTTL:    cfg.AccessTokenTTL(),
		now:          time.Now,
	}
}

// WithLogger sets the logger on the Auther and its security lifecycle.
func (a *Auther) WithLogger(logger Logger) *Auther {
	a.logger = logger
	WithSecurityLogger(logger)(a.security)
	return a
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (a *Auther) WithActivitySink(sink ActivitySink) *Auther {
	a.activitySink = normalizeActivitySink(sink)
	WithSecurityActivitySink(sink)(a.security)
	return a
}

// WithTokenService sets a custom token service.
func (a *Auther) WithTokenService(ts TokenService) *Auther {
	a.tokenService = ts
	return a
}

// WithClock injects a custom clock (useful for tests).
func (a *Auther) WithClock(clock func() time.Time) *Auther {
	if clock != nil {
		a.now = clock
		WithSecurityClock(clock)(a.security)
	}
	return a
}

// TokenService returns the TokenService instance used by this Auther.
func (a *Auther) TokenService() TokenService {
	return a.tokenService
}

// Security returns the account security lifecycle used by this Auther.
func (a *Auther) Security() *AccountSecurity {
	return a.security
}

// Register creates a new account in the active state and issues a token
// pair. Fails with ErrDuplicateIdentity when the email or username is taken.
func (a *Auther) Register(ctx context.Context, payload RegisterPayload) (*AuthResponse, error) {
	if err := payload.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid registration payload")
	}

	email := NormalizeEmail(payload.Email)

	if exists, err := a.repo.Users().ExistsByEmail(ctx, email); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrDuplicateIdentity
	}

	if payload.Username != "" {
		if exists, err := a.repo.Users().ExistsByUsername(ctx, payload.Username); err != nil {
			return nil, err
		} else if exists {
			return nil, ErrDuplicateIdentity
		}
	}

	hash, err := a.hasher.Hash(payload.Password)
	if err != nil {
		return nil, err
	}

	now := a.now()
	user := &User{
		Email:             email,
		Username:          payload.Username,
		PasswordHash:      hash,
		FirstName:         payload.FirstName,
		LastName:          payload.LastName,
		Phone:             payload.Phone,
		Role:              RoleUser,
		Enabled:           true,
		EmailVerified:     false,
		PasswordChangedAt: &now,
	}

	created, err := a.repo.Users().Create(ctx, user)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryConflict, "could not create user")
	}

	a.logger.Info("user registered", "email", created.Email)
	a.emitAuthEvent(ctx, ActivityEventRegister, created, "", nil)

	return a.buildAuthResponse(created)
}

// Login verifies credentials and issues a token pair. Locked and disabled
// checks run before password verification so a locked account reveals
// nothing about whether the password would have matched.
func (a *Auther) Login(ctx context.Context, email, password, ip string) (*AuthResponse, error) {
	user, err := a.repo.Users().GetByEmail(ctx, email)
	if err != nil {
		a.logger.Error("Login identity lookup failed", "email", email, "error", err)
		return nil, err
	}

	if user.AccountLocked {
		a.logger.Warn("Login attempted for locked account", "email", user.Email)
		a.emitAuthEvent(ctx, ActivityEventLoginFailure, user, ip, map[string]any{"reason": "locked"})
		return nil, ErrAccountLocked
	}

	if !user.CanAuthenticate() {
		a.emitAuthEvent(ctx, ActivityEventLoginFailure, user, ip, map[string]any{"reason": "disabled"})
		return nil, ErrAccountDisabled
	}

	if err := a.hasher.Compare(password, user.PasswordHash); err != nil {
		if _, serr := a.security.RecordFailedAttempt(ctx, user); serr != nil {
			a.logger.Error("failed to record login attempt", "email", user.Email, "error", serr)
		}
		a.logger.Warn("Failed login attempt", "email", user.Email)
		a.emitAuthEvent(ctx, ActivityEventLoginFailure, user, ip, map[string]any{"reason": "bad_password"})
		return nil, ErrInvalidCredentials
	}

	if err := a.security.RecordSuccessfulLogin(ctx, user, ip); err != nil {
		return nil, err
	}

	now := a.now()
	user.ClearLockout()
	user.LastLoginAt = &now
	user.LastLoginIP = ip

	a.logger.Info("user logged in", "email", user.Email)
	a.emitAuthEvent(ctx, ActivityEventLoginSuccess, user, ip, nil)

	return a.buildAuthResponse(user)
}

// Refresh verifies a refresh token, re-resolves the account, and issues a
// fresh token pair. Account-resolution failures surface as a malformed-token
// error so the refresh endpoint leaks nothing about account state.
func (a *Auther) Refresh(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	claims, err := a.tokenService.Validate(refreshToken)
	if err != nil {
		return nil, err
	}

	if claims.Kind != TokenKindRefresh {
		return nil, ErrTokenMalformed
	}

	user, err := a.repo.Users().GetByEmail(ctx, claims.Subject())
	if err != nil {
		a.logger.Warn("Refresh for unresolvable account", "subject", claims.Subject())
		return nil, ErrTokenMalformed
	}

	if user.AccountLocked || !user.CanAuthenticate() {
		a.logger.Warn("Refresh for inactive account", "email", user.Email)
		return nil, ErrTokenMalformed
	}

	a.emitAuthEvent(ctx, ActivityEventTokenRefresh, user, "", nil)

	return a.buildAuthResponse(user)
}

// Logout is advisory: tokens are stateless and cannot be revoked server
// side, so this only records the event. It has no failure mode.
func (a *Auther) Logout(ctx context.Context, accessToken string) {
	subject, err := a.tokenService.ExtractSubject(accessToken)
	if err != nil {
		a.logger.Debug("invalid token during logout", "error", err)
		return
	}

	a.logger.Info("user logged out", "email", subject)
	a.emitAuthEvent(ctx, ActivityEventLogout, &User{Email: subject}, "", nil)
}

// CurrentUser verifies an access token and returns the live profile.
func (a *Auther) CurrentUser(ctx context.Context, accessToken string) (*Profile, error) {
	claims, err := a.tokenService.Validate(accessToken)
	if err != nil {
		return nil, err
	}

	if claims.Kind != TokenKindAccess {
		return nil, ErrTokenMalformed
	}

	user, err := a.repo.Users().GetByEmail(ctx, claims.Subject())
	if err != nil {
		return nil, err
	}

	return newProfile(user), nil
}

// InitiatePasswordReset starts the reset flow and returns the opaque token
// the notification channel should deliver to the account owner.
func (a *Auther) InitiatePasswordReset(ctx context.Context, email string) (string, error) {
	return a.security.BeginPasswordReset(ctx, email)
}

// ResetPassword consumes a reset token and sets the new password.
func (a *Auther) ResetPassword(ctx context.Context, token, newPassword string) error {
	return a.security.CompletePasswordReset(ctx, token, newPassword)
}

func (a *Auther) buildAuthResponse(user *User) (*AuthResponse, error) {
	access, refresh, err := a.tokenService.IssuePair(user)
	if err != nil {
		return nil, err
	}

	return &AuthResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    TokenTypeBearer,
		ExpiresIn:    int64(a.accessTTL.Seconds()),
		Profile:      newProfile(user),
	}, nil
}

func (a *Auther) emitAuthEvent(ctx context.Context, eventType ActivityEventType, user *User, ip string, metadata map[string]any) {
	event := ActivityEvent{
		EventType:  eventType,
		UserID:     user.ID,
		Email:      user.Email,
		IP:         ip,
		Metadata:   metadata,
		OccurredAt: a.now(),
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if err := normalizeActivitySink(a.activitySink).Record(ctx, event); err != nil {
		a.logger.Warn("activity sink record error: %v", err)
	}
}

func newProfile(u *User) *Profile {
	return &Profile{
		ID:            u.ID,
		Email:         u.Email,
		Username:      u.Username,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		FullName:      u.FullName(),
		Phone:         u.Phone,
		Role:          u.Role,
		Enabled:       u.Enabled,
		EmailVerified: u.EmailVerified,
		AccountLocked: u.AccountLocked,
		LastLoginAt:   u.LastLoginAt,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}
