package session

import (
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

type pasetoV4PublicIssuer struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewPasetoV4PublicIssuer builds an AccessTokenIssuer based on PASETO
// v4.public.
//
// It uses an Ed25519 asymmetric keypair and enforces issuer and expiration
// rules. Clock skew is applied during verification via ValidAt to tolerate
// minor clock differences.
func NewPasetoV4PublicIssuer(cfg Config) (AccessTokenIssuer, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.PasetoV4SecretKeyHex)
	if err != nil {
		return nil, ErrConfig
	}

	return &pasetoV4PublicIssuer{
		issuer:    cfg.Issuer,
		ttl:       cfg.AccessTokenTTL,
		clockSkew: cfg.ClockSkew,
		secret:    secret,
		public:    secret.Public(),
	}, nil
}

func (m *pasetoV4PublicIssuer) Issue(subjectID, displayName string, claims Claims, now time.Time) (string, time.Time, error) {
	exp := now.Add(m.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetSubject(subjectID)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now) // Access tokens valid immediately.
	tok.SetExpiration(exp)

	if displayName != "" {
		_ = tok.Set("name", displayName)
	}
	for k, v := range claims {
		if reservedClaim(k) {
			continue
		}
		_ = tok.Set(k, v)
	}

	return tok.V4Sign(m.secret, nil), exp, nil
}

func (m *pasetoV4PublicIssuer) Verify(token string, now time.Time) (AccessClaims, error) {
	// Clock-skew tolerance:
	// Validate slightly in the future to avoid failing "nbf" when clocks
	// differ. This also makes expiration checks slightly stricter.
	validNow := now.Add(m.clockSkew)

	// Build a fresh parser per call to avoid accumulating rules across
	// verifies. ValidAt enforces iat, nbf, and exp against the caller's
	// clock; the library's NotExpired rule would check the wall clock
	// instead and must not be added here.
	p := paseto.NewParser()
	p.AddRule(paseto.IssuedBy(m.issuer))
	p.AddRule(paseto.ValidAt(validNow))

	parsed, err := p.ParseV4Public(m.public, token, nil)
	if err != nil {
		return AccessClaims{}, ErrInvalidOrExpiredToken
	}

	sub, err := parsed.GetSubject()
	if err != nil || sub == "" {
		return AccessClaims{}, ErrInvalidOrExpiredToken
	}

	iss, _ := parsed.GetIssuer()
	exp, _ := parsed.GetExpiration()
	iat, _ := parsed.GetIssuedAt()
	name, _ := parsed.GetString("name")

	claims := Claims{}
	for k, v := range parsed.Claims() {
		if reservedClaim(k) {
			continue
		}
		claims[k] = v
	}

	return AccessClaims{
		SubjectID:   sub,
		DisplayName: name,
		Claims:      claims,
		IssuedAt:    iat,
		ExpiresAt:   exp,
		Issuer:      iss,
	}, nil
}
