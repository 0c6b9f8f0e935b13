package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type jwtIssuer struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration
	secret    []byte
}

// NewJWTIssuer builds an AccessTokenIssuer that signs JWTs with HS256.
func NewJWTIssuer(cfg Config) (AccessTokenIssuer, error) {
	if len(cfg.JWTSecret) < 32 {
		return nil, ErrConfig
	}

	return &jwtIssuer{
		issuer:    cfg.Issuer,
		ttl:       cfg.AccessTokenTTL,
		clockSkew: cfg.ClockSkew,
		secret:    []byte(cfg.JWTSecret),
	}, nil
}

func (m *jwtIssuer) Issue(subjectID, displayName string, claims Claims, now time.Time) (string, time.Time, error) {
	exp := now.Add(m.ttl)

	mc := jwt.MapClaims{
		"iss": m.issuer,
		"sub": subjectID,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": exp.Unix(),
	}
	if displayName != "" {
		mc["name"] = displayName
	}
	for k, v := range claims {
		if reservedClaim(k) {
			continue
		}
		mc[k] = v
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, mc).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (m *jwtIssuer) Verify(token string, now time.Time) (AccessClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(m.clockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	parsed, err := parser.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !parsed.Valid {
		return AccessClaims{}, ErrInvalidOrExpiredToken
	}

	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return AccessClaims{}, ErrInvalidOrExpiredToken
	}

	sub, err := mc.GetSubject()
	if err != nil || sub == "" {
		return AccessClaims{}, ErrInvalidOrExpiredToken
	}

	out := AccessClaims{SubjectID: sub, Issuer: m.issuer}
	if name, ok := mc["name"].(string); ok {
		out.DisplayName = name
	}
	if t, err := mc.GetExpirationTime(); err == nil && t != nil {
		out.ExpiresAt = t.Time
	}
	if t, err := mc.GetIssuedAt(); err == nil && t != nil {
		out.IssuedAt = t.Time
	}

	out.Claims = Claims{}
	for k, v := range mc {
		if reservedClaim(k) {
			continue
		}
		out.Claims[k] = v
	}

	return out, nil
}
