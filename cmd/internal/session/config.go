package session

import (
	"os"
	"strconv"
	"time"

	"sessiond/cmd/security/token"
)

// SignerMode selects the access-token signing backend.
type SignerMode string

const (
	// SignerPaseto signs access tokens as PASETO v4.public (Ed25519).
	SignerPaseto SignerMode = "paseto"
	// SignerJWT signs access tokens as JWT HS256.
	SignerJWT SignerMode = "jwt"
)

// Config defines all runtime configuration for the session subsystem.
//
// It controls access-token TTL, the fixed refresh-credential window, clock
// skew tolerance, refresh entropy size, credential hashing mode, and the
// signing backend. It is intentionally explicit and environment-driven so
// production deployments can tune security parameters without code changes.
type Config struct {
	// Issuer is the value set in the issuer claim of access tokens.
	Issuer string

	// AccessTokenTTL defines the lifetime of signed access tokens.
	AccessTokenTTL time.Duration

	// RefreshTTL is the fixed credential window. It is set at creation and
	// never extended on use; rotation starts a fresh window on the successor.
	RefreshTTL time.Duration

	// ClockSkew defines the allowed time skew during token validation.
	ClockSkew time.Duration

	// RefreshTokenBytes defines the number of random bytes used to generate
	// opaque refresh tokens.
	RefreshTokenBytes int

	// TokenHMACKey switches credential hashing from SHA-256 to keyed
	// HMAC-SHA256 when non-empty. Must be at least token.MinHMACKeyBytes.
	TokenHMACKey string

	// SignerMode selects the access-token backend. Empty means SignerPaseto.
	SignerMode SignerMode

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key used to sign
	// PASETO v4.public access tokens (SignerPaseto).
	PasetoV4SecretKeyHex string

	// JWTSecret is the HMAC secret used to sign JWT access tokens (SignerJWT).
	JWTSecret string
}

// DefaultConfig returns a secure default configuration suitable for
// development. Production environments should override values via
// environment variables.
func DefaultConfig() Config {
	return Config{
		Issuer:            "sessiond",
		AccessTokenTTL:    15 * time.Minute,
		RefreshTTL:        30 * 24 * time.Hour,
		ClockSkew:         30 * time.Second,
		RefreshTokenBytes: 32,
		SignerMode:        SignerPaseto,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required, depending on SESSIOND_SIGNER_MODE:
//   - SESSIOND_PASETO_V4_SECRET_KEY_HEX (paseto mode, the default)
//   - SESSIOND_JWT_SECRET (jwt mode)
//
// Optional (durations must be valid Go duration strings):
//   - SESSIOND_AUTH_ISSUER
//   - SESSIOND_ACCESS_TTL
//   - SESSIOND_REFRESH_TTL
//   - SESSIOND_CLOCK_SKEW
//   - SESSIOND_REFRESH_TOKEN_BYTES
//   - SESSIOND_TOKEN_HMAC_KEY
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("SESSIOND_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("SESSIOND_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}

	if v := os.Getenv("SESSIOND_REFRESH_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTTL = d
	}

	if v := os.Getenv("SESSIOND_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	if v := os.Getenv("SESSIOND_REFRESH_TOKEN_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 32 || n > 64 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTokenBytes = n
	}

	if v := os.Getenv("SESSIOND_TOKEN_HMAC_KEY"); v != "" {
		if len(v) < token.MinHMACKeyBytes {
			return Config{}, ErrConfig
		}
		cfg.TokenHMACKey = v
	}

	if v := os.Getenv("SESSIOND_SIGNER_MODE"); v != "" {
		switch SignerMode(v) {
		case SignerPaseto, SignerJWT:
			cfg.SignerMode = SignerMode(v)
		default:
			return Config{}, ErrConfig
		}
	}

	cfg.PasetoV4SecretKeyHex = os.Getenv("SESSIOND_PASETO_V4_SECRET_KEY_HEX")
	cfg.JWTSecret = os.Getenv("SESSIOND_JWT_SECRET")

	switch cfg.SignerMode {
	case SignerPaseto:
		if cfg.PasetoV4SecretKeyHex == "" {
			return Config{}, ErrConfig
		}
	case SignerJWT:
		if len(cfg.JWTSecret) < 32 {
			return Config{}, ErrConfig
		}
	}

	// The access token must expire well before the credential it pairs with.
	if cfg.AccessTokenTTL >= cfg.RefreshTTL {
		return Config{}, ErrConfig
	}

	return cfg, nil
}
