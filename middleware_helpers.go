package auth

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/careercompass/go-auth/middleware/jwtware"
)

type tokenValidatorAdapter struct {
	ts TokenService
}

func (a tokenValidatorAdapter) Validate(tokenString string) (jwtware.AuthClaims, error) {
	claims, err := a.ts.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// NewTokenValidator adapts a TokenService to the gate's validator interface.
func NewTokenValidator(ts TokenService) jwtware.TokenValidator {
	return tokenValidatorAdapter{ts: ts}
}

// ResolveAccount maps verified claims to a live account. A token is only as
// good as the account behind it: refresh tokens never authenticate requests,
// and accounts disabled, deleted, or locked since issuance are rejected here
// rather than trusted until expiry.
func (a *Auther) ResolveAccount(ctx context.Context, claims jwtware.AuthClaims) (any, error) {
	if claims.TokenKind() != string(TokenKindAccess) {
		return nil, ErrTokenMalformed
	}

	user, err := a.repo.Users().GetByEmail(ctx, claims.Subject())
	if err != nil {
		return nil, err
	}

	if !user.CanAuthenticate() {
		return nil, ErrAccountDisabled
	}

	if user.AccountLocked {
		return nil, ErrAccountLocked
	}

	return user, nil
}

// GateMiddleware returns the fail-open authentication gate for this Auther:
// it validates bearer tokens, re-resolves the live account, and establishes
// the request-scoped principal in both fiber Locals and the request context.
func (a *Auther) GateMiddleware() fiber.Handler {
	return jwtware.New(jwtware.Config{
		TokenValidator:  NewTokenValidator(a.tokenService),
		AccountResolver: a.ResolveAccount,
		Logger:          a.logger,
		ContextEnricher: func(ctx context.Context, claims jwtware.AuthClaims, account any) context.Context {
			if c, ok := claims.(AuthClaims); ok {
				ctx = WithClaimsContext(ctx, c)
			}
			if user, ok := account.(*User); ok {
				ctx = WithContext(ctx, user)
			}
			return ctx
		},
	})
}
