package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

// TokenService signs and verifies the compact session tokens. Tokens are
// stateless: validity is signature plus expiry, never a server-side table.
type TokenService interface {
	IssueAccessToken(user *User) (string, error)
	IssueRefreshToken(user *User) (string, error)
	IssuePair(user *User) (access string, refresh string, err error)
	SignClaims(claims *JWTClaims) (string, error)
	Validate(tokenString string) (*JWTClaims, error)
	ExtractSubject(tokenString string) (string, error)
}

// TokenServiceImpl implements the TokenService interface
type TokenServiceImpl struct {
	signingKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	logger     Logger
	now        func() time.Time
}

// NewTokenService creates a new TokenService instance. The signing key is
// process-wide configuration handed in once; rotating it invalidates every
// outstanding token.
func NewTokenService(signingKey []byte, accessTTL, refreshTTL time.Duration, issuer string, logger Logger) TokenService {
	if logger == nil {
		logger = defLogger{}
	}
	return &TokenServiceImpl{
		signingKey: signingKey,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		issuer:     issuer,
		logger:     logger,
		now:        time.Now,
	}
}

// IssueAccessToken creates an access token carrying the account's identity,
// role, and authority snapshot.
func (ts *TokenServiceImpl) IssueAccessToken(user *User) (string, error) {
	return ts.SignClaims(ts.newClaims(user, TokenKindAccess, ts.accessTTL))
}

// IssueRefreshToken creates a refresh token. Refresh tokens carry the same
// subject but are only accepted by the refresh flow, never by the gate.
func (ts *TokenServiceImpl) IssueRefreshToken(user *User) (string, error) {
	return ts.SignClaims(ts.newClaims(user, TokenKindRefresh, ts.refreshTTL))
}

// IssuePair creates an access and refresh token in one call.
func (ts *TokenServiceImpl) IssuePair(user *User) (string, string, error) {
	access, err := ts.IssueAccessToken(user)
	if err != nil {
		return "", "", err
	}

	refresh, err := ts.IssueRefreshToken(user)
	if err != nil {
		return "", "", err
	}

	return access, refresh, nil
}

// SignClaims signs arbitrary JWT claims using the configured signing key.
func (ts *TokenServiceImpl) SignClaims(claims *JWTClaims) (string, error) {
	if claims == nil {
		return "", goerrors.New("claims must not be nil", goerrors.CategoryInternal)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedString, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}

	return signedString, nil
}

// Validate parses and verifies a token string: signature first, then expiry,
// then structural validity of the required claims. Failures map to
// ErrTokenExpired or ErrTokenMalformed so callers can degrade gracefully.
func (ts *TokenServiceImpl) Validate(tokenString string) (*JWTClaims, error) {
	claims, err := ts.parse(tokenString)
	if err != nil {
		return nil, err
	}

	if claims.RegisteredClaims.Subject == "" || claims.UID == 0 {
		ts.logger.Debug("TokenService validate rejected token missing required claims")
		return nil, ErrTokenMalformed
	}

	switch claims.Kind {
	case TokenKindAccess, TokenKindRefresh:
	default:
		ts.logger.Debug("TokenService validate rejected token with unknown kind", "kind", claims.Kind)
		return nil, ErrTokenMalformed
	}

	return claims, nil
}

// ExtractSubject verifies the token and returns just the subject. Used by
// flows that need identity without a fully authenticated context.
func (ts *TokenServiceImpl) ExtractSubject(tokenString string) (string, error) {
	claims, err := ts.parse(tokenString)
	if err != nil {
		return "", err
	}

	if claims.RegisteredClaims.Subject == "" {
		return "", ErrTokenMalformed
	}

	return claims.RegisteredClaims.Subject, nil
}

func (ts *TokenServiceImpl) parse(tokenString string) (*JWTClaims, error) {
	parserOptions := make([]jwt.ParserOption, 0, 1)
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("TokenService encountered unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if goerrors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, goerrors.Wrap(err, ErrTokenMalformed.Category, ErrTokenMalformed.Message).
			WithTextCode(ErrTokenMalformed.TextCode)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		ts.logger.Error("TokenService could not decode or validate claims")
		return nil, ErrTokenMalformed
	}

	return claims, nil
}

func (ts *TokenServiceImpl) newClaims(user *User, kind TokenKind, ttl time.Duration) *JWTClaims {
	now := ts.now()

	claims := &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   user.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UID:             user.ID,
		Email:           user.Email,
		UserRole:        user.Role,
		UserAuthorities: user.Authorities,
		Kind:            kind,
	}

	ensureTokenID(&claims.RegisteredClaims)

	return claims
}
