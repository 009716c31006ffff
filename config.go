package auth

import (
	"os"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/joho/godotenv"
)

// Defaults for the configuration surface. TTLs are kept in milliseconds to
// match the wire configuration the deployment uses.
const (
	DefaultAccessTokenTTLMs  int64 = 86400000  // 24h
	DefaultRefreshTokenTTLMs int64 = 604800000 // 7d
	DefaultLockoutThreshold        = 5
	DefaultResetTokenTTL           = 24 * time.Hour
)

// Config is the process-wide auth configuration, read once at startup and
// never mutated afterwards.
type Config struct {
	// SigningKey must be high entropy; rotating it invalidates all
	// outstanding tokens.
	SigningKey string
	Issuer     string

	AccessTokenTTLMs  int64
	RefreshTokenTTLMs int64

	LockoutThreshold int
	ResetTokenTTL    time.Duration
	BcryptCost       int
}

// LoadConfig reads configuration from the environment, optionally loading
// .env files first. Missing .env files are not an error.
func LoadConfig(files ...string) (*Config, error) {
	_ = godotenv.Load(files...)

	cfg := &Config{
		SigningKey:        os.Getenv("AUTH_SIGNING_KEY"),
		Issuer:            os.Getenv("AUTH_ISSUER"),
		AccessTokenTTLMs:  envInt64("AUTH_ACCESS_TOKEN_TTL_MS", DefaultAccessTokenTTLMs),
		RefreshTokenTTLMs: envInt64("AUTH_REFRESH_TOKEN_TTL_MS", DefaultRefreshTokenTTLMs),
		LockoutThreshold:  int(envInt64("AUTH_LOCKOUT_THRESHOLD", DefaultLockoutThreshold)),
		ResetTokenTTL:     time.Duration(envInt64("AUTH_RESET_TOKEN_TTL_MS", DefaultResetTokenTTL.Milliseconds())) * time.Millisecond,
		BcryptCost:        int(envInt64("AUTH_BCRYPT_COST", DefaultBcryptCost)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate will run validation rules
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.SigningKey, validation.Required, validation.Length(32, 0)),
		validation.Field(&c.AccessTokenTTLMs, validation.Required, validation.Min(int64(1))),
		validation.Field(&c.RefreshTokenTTLMs, validation.Required, validation.Min(int64(1))),
		validation.Field(&c.LockoutThreshold, validation.Required, validation.Min(1)),
		validation.Field(&c.BcryptCost, validation.Required, validation.Min(4), validation.Max(31)),
	)
}

// AccessTokenTTL returns the access token lifetime as a duration.
func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMs) * time.Millisecond
}

// RefreshTokenTTL returns the refresh token lifetime as a duration.
func (c Config) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenTTLMs) * time.Millisecond
}

func envInt64(key string, def int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}

	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}

	return val
}
