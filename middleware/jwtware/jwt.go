// Package jwtware provides the per-request authentication gate. It is
// deliberately fail-open: extraction or validation failures are logged and
// the request proceeds unauthenticated, so a stray malformed header can
// never break access to public resources. Rejecting unauthenticated access
// to protected routes is the job of the Require* guards.
package jwtware

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// ErrJWTMissingOrMalformed signals that no well-formed bearer token was
// present on the request.
var ErrJWTMissingOrMalformed = errors.New("missing or malformed JWT")

// Defaults for Config fields.
const (
	DefaultContextKey = "auth_claims"
	DefaultAccountKey = "auth_account"
	DefaultAuthScheme = "Bearer"
)

// AuthClaims mirrors the claims interface from the auth package so this
// middleware has no import cycle with it.
type AuthClaims interface {
	Subject() string
	UserID() int64
	Role() string
	TokenKind() string
	HasRole(role string) bool
	IsAtLeast(minRole string) bool
	HasAuthority(authority string) bool
}

// TokenValidator verifies a raw token and returns its claims.
type TokenValidator interface {
	Validate(tokenString string) (AuthClaims, error)
}

// AccountResolver re-resolves the token subject to a live account at request
// time. Returning an error means the token no longer authenticates anyone
// (account deleted, disabled, or locked since issuance).
type AccountResolver func(ctx context.Context, claims AuthClaims) (any, error)

// Logger is the minimal logging surface the gate needs.
type Logger interface {
	Debug(format string, args ...any)
	Warn(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Config holds the gate options.
type Config struct {
	// TokenValidator is required.
	TokenValidator TokenValidator
	// AccountResolver is optional; when set, its failures also degrade to
	// an unauthenticated request.
	AccountResolver AccountResolver
	// ContextKey is the Locals key the verified claims are stored under.
	ContextKey string
	// AccountKey is the Locals key the resolved account is stored under.
	AccountKey string
	// AuthScheme is the authorization header scheme, "Bearer" by default.
	AuthScheme string
	// ContextEnricher propagates the principal into the request's standard
	// context for handlers that work with context.Context.
	ContextEnricher func(ctx context.Context, claims AuthClaims, account any) context.Context
	// Filter skips the gate entirely when it returns true.
	Filter func(c *fiber.Ctx) bool

	Logger Logger
}

func configDefault(config ...Config) Config {
	cfg := Config{}
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.TokenValidator == nil {
		panic("jwtware: Config.TokenValidator is required")
	}
	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}
	if cfg.AccountKey == "" {
		cfg.AccountKey = DefaultAccountKey
	}
	if cfg.AuthScheme == "" {
		cfg.AuthScheme = DefaultAuthScheme
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}

	return cfg
}

// New returns the authentication gate middleware.
func New(config ...Config) fiber.Handler {
	cfg := configDefault(config...)

	return func(c *fiber.Ctx) error {
		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		raw, err := extractBearerToken(c, cfg.AuthScheme)
		if err != nil {
			// No token is not an error; the request is simply anonymous.
			return c.Next()
		}

		claims, err := cfg.TokenValidator.Validate(raw)
		if err != nil {
			cfg.Logger.Debug("token validation failed, proceeding unauthenticated", "error", err)
			return c.Next()
		}

		var account any
		if cfg.AccountResolver != nil {
			account, err = cfg.AccountResolver(c.UserContext(), claims)
			if err != nil {
				cfg.Logger.Warn("token subject no longer resolves to an active account", "subject", claims.Subject(), "error", err)
				return c.Next()
			}
			c.Locals(cfg.AccountKey, account)
		}

		c.Locals(cfg.ContextKey, claims)

		if cfg.ContextEnricher != nil {
			c.SetUserContext(cfg.ContextEnricher(c.UserContext(), claims, account))
		}

		return c.Next()
	}
}

// ClaimsFromCtx returns the verified claims stored by the gate, if any.
func ClaimsFromCtx(c *fiber.Ctx, key ...string) (AuthClaims, bool) {
	k := DefaultContextKey
	if len(key) > 0 && key[0] != "" {
		k = key[0]
	}

	claims, ok := c.Locals(k).(AuthClaims)
	return claims, ok
}

// RequireAuthenticated rejects requests that carry no verified principal.
func RequireAuthenticated(key ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := ClaimsFromCtx(c, key...); !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "authentication required")
		}
		return c.Next()
	}
}

// RequireRole rejects requests whose principal lacks the exact role.
func RequireRole(role string, key ...string) fiber.Handler {
	return requireClaims(key, func(claims AuthClaims) bool {
		return claims.HasRole(role)
	})
}

// RequireAtLeast rejects requests whose principal is below minRole in the
// role hierarchy.
func RequireAtLeast(minRole string, key ...string) fiber.Handler {
	return requireClaims(key, func(claims AuthClaims) bool {
		return claims.IsAtLeast(minRole)
	})
}

// RequireAuthority rejects requests whose principal lacks the fine-grained
// authority.
func RequireAuthority(authority string, key ...string) fiber.Handler {
	return requireClaims(key, func(claims AuthClaims) bool {
		return claims.HasAuthority(authority)
	})
}

func requireClaims(key []string, allowed func(AuthClaims) bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := ClaimsFromCtx(c, key...)
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "authentication required")
		}
		if !allowed(claims) {
			return fiber.NewError(fiber.StatusForbidden, "insufficient permissions")
		}
		return c.Next()
	}
}

func extractBearerToken(c *fiber.Ctx, scheme string) (string, error) {
	header := c.Get(fiber.HeaderAuthorization)
	if header == "" {
		return "", ErrJWTMissingOrMalformed
	}

	prefix := scheme + " "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", ErrJWTMissingOrMalformed
	}

	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", ErrJWTMissingOrMalformed
	}

	return token, nil
}
