package session

import "time"

// Claims carries the identity claims minted into access tokens. Role claims
// live under "roles". Claims are re-resolved on every rotation, never cached
// from issuance time.
type Claims map[string]any

// AccessClaims is the verified identity envelope extracted from an access
// token.
type AccessClaims struct {
	SubjectID   string
	DisplayName string
	Claims      Claims
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Issuer      string
}

// AccessTokenIssuer adapts the external signing capability. Implementations
// are stateless; the TTL is fixed by configuration, not negotiated per call.
type AccessTokenIssuer interface {
	Issue(subjectID, displayName string, claims Claims, now time.Time) (token string, exp time.Time, err error)
	Verify(token string, now time.Time) (AccessClaims, error)
}

// NewAccessTokenIssuer builds the signing backend selected by cfg.SignerMode.
func NewAccessTokenIssuer(cfg Config) (AccessTokenIssuer, error) {
	switch cfg.SignerMode {
	case SignerPaseto, "":
		return NewPasetoV4PublicIssuer(cfg)
	case SignerJWT:
		return NewJWTIssuer(cfg)
	default:
		return nil, ErrConfig
	}
}

// reservedClaim reports whether key is a registered claim managed by the
// issuer itself rather than caller-supplied.
func reservedClaim(key string) bool {
	switch key {
	case "iss", "sub", "aud", "exp", "nbf", "iat", "jti", "name":
		return true
	}
	return false
}
