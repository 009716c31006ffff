package jwtware_test

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careercompass/go-auth/middleware/jwtware"
)

var roleLevels = map[string]int{
	"USER":        0,
	"RECRUITER":   1,
	"ADMIN":       2,
	"SUPER_ADMIN": 3,
}

type fakeClaims struct {
	subject     string
	uid         int64
	role        string
	kind        string
	authorities []string
}

func (c *fakeClaims) Subject() string   { return c.subject }
func (c *fakeClaims) UserID() int64     { return c.uid }
func (c *fakeClaims) Role() string      { return c.role }
func (c *fakeClaims) TokenKind() string { return c.kind }

func (c *fakeClaims) HasRole(role string) bool { return c.role == role }

func (c *fakeClaims) IsAtLeast(minRole string) bool {
	current, ok := roleLevels[c.role]
	if !ok {
		return false
	}
	min, ok := roleLevels[minRole]
	if !ok {
		return false
	}
	return current >= min
}

func (c *fakeClaims) HasAuthority(authority string) bool {
	for _, a := range c.authorities {
		if a == authority {
			return true
		}
	}
	return false
}

type fakeValidator map[string]*fakeClaims

func (v fakeValidator) Validate(tokenString string) (jwtware.AuthClaims, error) {
	claims, ok := v[tokenString]
	if !ok {
		return nil, errors.New("signature verification failed")
	}
	return claims, nil
}

func newTestApp(cfg jwtware.Config) *fiber.App {
	app := fiber.New()
	app.Use(jwtware.New(cfg))

	app.Get("/public", func(c *fiber.Ctx) error {
		if claims, ok := jwtware.ClaimsFromCtx(c); ok {
			return c.SendString("hello " + claims.Subject())
		}
		return c.SendString("hello anonymous")
	})

	app.Get("/me", jwtware.RequireAuthenticated(), func(c *fiber.Ctx) error {
		claims, _ := jwtware.ClaimsFromCtx(c)
		return c.SendString(claims.Subject())
	})

	app.Get("/admin", jwtware.RequireAtLeast("ADMIN"), func(c *fiber.Ctx) error {
		return c.SendString("admin ok")
	})

	app.Get("/recruiter", jwtware.RequireRole("RECRUITER"), func(c *fiber.Ctx) error {
		return c.SendString("recruiter ok")
	})

	app.Get("/analytics", jwtware.RequireAuthority("VIEW_ANALYTICS"), func(c *fiber.Ctx) error {
		return c.SendString("analytics ok")
	})

	return app
}

func defaultValidator() fakeValidator {
	return fakeValidator{
		"user-token": {
			subject: "jane.doe@example.com",
			uid:     1,
			role:    "USER",
			kind:    "access",
		},
		"admin-token": {
			subject:     "admin@example.com",
			uid:         2,
			role:        "ADMIN",
			kind:        "access",
			authorities: []string{"VIEW_ANALYTICS"},
		},
	}
}

func doRequest(t *testing.T, app *fiber.App, path, token string) (int, string) {
	t.Helper()

	req := httptest.NewRequest(fiber.MethodGet, path, nil)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

func TestGateFailOpen(t *testing.T) {
	app := newTestApp(jwtware.Config{TokenValidator: defaultValidator()})

	// No token: public routes work, the request is simply anonymous.
	status, body := doRequest(t, app, "/public", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "hello anonymous", body)

	// Invalid token degrades to anonymous instead of erroring.
	status, body = doRequest(t, app, "/public", "forged-token")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "hello anonymous", body)
}

func TestGateValidToken(t *testing.T) {
	app := newTestApp(jwtware.Config{TokenValidator: defaultValidator()})

	status, body := doRequest(t, app, "/public", "user-token")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "hello jane.doe@example.com", body)

	status, body = doRequest(t, app, "/me", "user-token")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "jane.doe@example.com", body)
}

func TestGateMalformedAuthorizationHeader(t *testing.T) {
	app := newTestApp(jwtware.Config{TokenValidator: defaultValidator()})

	tests := []string{
		"user-token",        // no scheme
		"Basic dXNlcjpwdw==", // wrong scheme
		"Bearer ",           // empty token
	}

	for _, header := range tests {
		req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
		req.Header.Set(fiber.HeaderAuthorization, header)

		resp, err := app.Test(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode, "header %q", header)
	}
}

func TestRequireAuthenticated(t *testing.T) {
	app := newTestApp(jwtware.Config{TokenValidator: defaultValidator()})

	status, _ := doRequest(t, app, "/me", "")
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = doRequest(t, app, "/me", "forged-token")
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestRequireRoleGuards(t *testing.T) {
	app := newTestApp(jwtware.Config{TokenValidator: defaultValidator()})

	// Exact role match required.
	status, _ := doRequest(t, app, "/recruiter", "admin-token")
	assert.Equal(t, fiber.StatusForbidden, status)

	// Hierarchy check.
	status, _ = doRequest(t, app, "/admin", "user-token")
	assert.Equal(t, fiber.StatusForbidden, status)

	status, body := doRequest(t, app, "/admin", "admin-token")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "admin ok", body)

	// Fine-grained authority.
	status, _ = doRequest(t, app, "/analytics", "user-token")
	assert.Equal(t, fiber.StatusForbidden, status)

	status, _ = doRequest(t, app, "/analytics", "admin-token")
	assert.Equal(t, fiber.StatusOK, status)

	// Unauthenticated requests get 401, not 403.
	status, _ = doRequest(t, app, "/admin", "")
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestGateAccountResolver(t *testing.T) {
	type account struct{ email string }

	resolver := func(ctx context.Context, claims jwtware.AuthClaims) (any, error) {
		if claims.Subject() == "jane.doe@example.com" {
			return &account{email: claims.Subject()}, nil
		}
		return nil, errors.New("account disabled")
	}

	app := fiber.New()
	app.Use(jwtware.New(jwtware.Config{
		TokenValidator:  defaultValidator(),
		AccountResolver: resolver,
	}))
	app.Get("/me", jwtware.RequireAuthenticated(), func(c *fiber.Ctx) error {
		acct, ok := c.Locals(jwtware.DefaultAccountKey).(*account)
		require.True(t, ok)
		return c.SendString(acct.email)
	})

	status, body := doRequest(t, app, "/me", "user-token")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "jane.doe@example.com", body)

	// Resolver failure degrades the request to unauthenticated.
	status, _ = doRequest(t, app, "/me", "admin-token")
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestGateContextEnricher(t *testing.T) {
	type ctxKey struct{}

	app := fiber.New()
	app.Use(jwtware.New(jwtware.Config{
		TokenValidator: defaultValidator(),
		ContextEnricher: func(ctx context.Context, claims jwtware.AuthClaims, account any) context.Context {
			return context.WithValue(ctx, ctxKey{}, claims.Subject())
		},
	}))
	app.Get("/me", func(c *fiber.Ctx) error {
		subject, _ := c.UserContext().Value(ctxKey{}).(string)
		return c.SendString(subject)
	})

	status, body := doRequest(t, app, "/me", "user-token")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "jane.doe@example.com", body)
}

func TestGateFilterSkips(t *testing.T) {
	app := fiber.New()
	app.Use(jwtware.New(jwtware.Config{
		TokenValidator: defaultValidator(),
		Filter: func(c *fiber.Ctx) bool {
			return c.Path() == "/healthz"
		},
	}))
	app.Get("/healthz", func(c *fiber.Ctx) error {
		_, ok := jwtware.ClaimsFromCtx(c)
		assert.False(t, ok, "filtered routes never see claims")
		return c.SendString("ok")
	})

	status, _ := doRequest(t, app, "/healthz", "user-token")
	assert.Equal(t, fiber.StatusOK, status)
}

func TestNewPanicsWithoutValidator(t *testing.T) {
	assert.Panics(t, func() {
		jwtware.New(jwtware.Config{})
	})
}

func TestCustomContextKey(t *testing.T) {
	app := fiber.New()
	app.Use(jwtware.New(jwtware.Config{
		TokenValidator: defaultValidator(),
		ContextKey:     "principal",
	}))
	app.Get("/me", jwtware.RequireAuthenticated("principal"), func(c *fiber.Ctx) error {
		claims, ok := jwtware.ClaimsFromCtx(c, "principal")
		require.True(t, ok)
		return c.SendString(claims.Subject())
	})

	status, body := doRequest(t, app, "/me", "user-token")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "jane.doe@example.com", body)
}
