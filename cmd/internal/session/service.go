package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"sessiond/cmd/internal/audit"
	"sessiond/cmd/internal/directory"
	"sessiond/cmd/security/token"
)

// Basic sanity bound on presented tokens to avoid pathological inputs.
const maxPresentedTokenLen = 4096

// Service implements the session-credential lifecycle operations: Issue,
// Rotate, and Revoke.
//
// The service holds no in-process mutable shared state; every concurrent
// race is resolved by the store's conditional mark-rotated and mark-revoked
// primitives. Callers supply now explicitly so expiry logic is deterministic
// under test.
type Service struct {
	cfg    Config
	store  Store
	tokens AccessTokenIssuer
	users  directory.Directory
	audit  audit.Sink

	hash func(string) string
}

// Issued is the result of issuing or rotating a session credential.
//
// RefreshToken is the raw token: it is returned exactly once and can never
// be recovered from stored state afterwards.
type Issued struct {
	CredentialID string
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
}

// NewService constructs a Service from its collaborators. A nil sink
// disables auditing.
func NewService(cfg Config, store Store, tokens AccessTokenIssuer, users directory.Directory, sink audit.Sink) (*Service, error) {
	if store == nil || tokens == nil || users == nil {
		return nil, ErrConfig
	}
	if cfg.RefreshTokenBytes < 32 {
		return nil, ErrConfig
	}

	hash, err := token.Hasher([]byte(cfg.TokenHMACKey))
	if err != nil {
		return nil, ErrConfig
	}

	if sink == nil {
		sink = audit.NopSink{}
	}

	return &Service{
		cfg:    cfg,
		store:  store,
		tokens: tokens,
		users:  users,
		audit:  sink,
		hash:   hash,
	}, nil
}

// Issue creates a fresh credential chain root for an authenticated subject
// and mints the paired access token. The caller's identity resolution has
// already happened upstream; claims are taken as given here and only
// re-resolved on rotation.
func (s *Service) Issue(ctx context.Context, now time.Time, subjectID, displayName string, claims Claims) (Issued, error) {
	cred, plain, err := s.insertFreshCredential(ctx, now, subjectID)
	if err != nil {
		return Issued{}, err
	}

	accessToken, accessExp, err := s.tokens.Issue(subjectID, displayName, claims, now)
	if err != nil {
		return Issued{}, err
	}

	metricIssued.Inc()
	s.audit.Record(ctx, audit.Event{
		Action:       audit.SessionIssued,
		At:           now,
		SubjectID:    &cred.SubjectID,
		CredentialID: &cred.ID,
	})

	return Issued{
		CredentialID: cred.ID,
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: plain,
		RefreshExp:   cred.ExpiresAt,
	}, nil
}

// Rotate exchanges a still-valid refresh token for a successor pair.
//
// Every failure mode of the presented token (unknown, expired, already
// revoked, or a lost race against a concurrent rotation of the same token)
// collapses into ErrInvalidOrExpiredToken, so an attacker holding a stale
// token learns nothing from the error shape.
//
// The old credential is revoked before the successor row is inserted: a
// crash between the two steps leaves the chain safely terminated rather than
// with two live credentials.
func (s *Service) Rotate(ctx context.Context, now time.Time, refreshTokenPlain string) (Issued, error) {
	refreshTokenPlain = strings.TrimSpace(refreshTokenPlain)
	if refreshTokenPlain == "" || len(refreshTokenPlain) > maxPresentedTokenLen {
		return Issued{}, ErrInvalidOrExpiredToken
	}

	old, err := s.store.FindUsableByHash(ctx, s.hash(refreshTokenPlain), now)
	if errors.Is(err, ErrCredentialNotFound) {
		return Issued{}, ErrInvalidOrExpiredToken
	}
	if err != nil {
		return Issued{}, err
	}

	// Re-resolve the subject so role changes take effect on rotation. A
	// subject that no longer resolves must not mint tokens; the
	// undifferentiated error avoids leaking account existence.
	user, err := s.users.FindUser(ctx, old.SubjectID)
	if errors.Is(err, directory.ErrUserNotFound) {
		return Issued{}, ErrInvalidOrExpiredToken
	}
	if err != nil {
		return Issued{}, err
	}

	newPlain, newHash, err := newOpaqueRefreshToken(s.cfg.RefreshTokenBytes, s.hash)
	if err != nil {
		return Issued{}, err
	}

	won, err := s.store.MarkRotated(ctx, now, old.ID, newHash)
	if err != nil {
		return Issued{}, err
	}
	if !won {
		// Another caller rotated or revoked the credential first. The loser
		// must not insert the successor: that would create a live but
		// unlinked session.
		metricRotationConflicts.Inc()
		return Issued{}, ErrInvalidOrExpiredToken
	}

	successor := Credential{
		ID:        ulid.Make().String(),
		SubjectID: old.SubjectID,
		TokenHash: newHash,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.RefreshTTL), // fresh window, not inherited
	}
	if err := s.store.Insert(ctx, successor); err != nil {
		// The old credential is already revoked, so the chain stays closed.
		// A hash collision here cannot be retried: the old record's
		// replaced_by link already points at newHash.
		if errors.Is(err, ErrDuplicateHash) {
			metricDuplicateHash.Inc()
		}
		return Issued{}, err
	}

	accessToken, accessExp, err := s.tokens.Issue(user.ID, user.DisplayName, Claims{"roles": user.Roles}, now)
	if err != nil {
		return Issued{}, err
	}

	metricRotated.Inc()
	s.audit.Record(ctx, audit.Event{
		Action:       audit.SessionRotated,
		At:           now,
		SubjectID:    &old.SubjectID,
		CredentialID: &old.ID,
		Meta:         map[string]any{"successor_id": successor.ID},
	})

	return Issued{
		CredentialID: successor.ID,
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: newPlain,
		RefreshExp:   successor.ExpiresAt,
	}, nil
}

// Revoke terminates the session backing the presented token.
//
// It is idempotent and always succeeds from the caller's point of view:
// revoking an unknown, expired, or already-revoked token is observably
// identical to revoking a live one, so no existence information leaks. Only
// transient store failures are reported.
func (s *Service) Revoke(ctx context.Context, now time.Time, refreshTokenPlain string) error {
	refreshTokenPlain = strings.TrimSpace(refreshTokenPlain)
	if refreshTokenPlain == "" || len(refreshTokenPlain) > maxPresentedTokenLen {
		return nil
	}

	affected, err := s.store.MarkRevokedByHash(ctx, now, s.hash(refreshTokenPlain))
	if err != nil {
		return err
	}

	// Audit only real terminations; no-op revokes would pollute the trail.
	// The caller is never told the difference.
	if affected {
		metricRevoked.Inc()
		s.audit.Record(ctx, audit.Event{
			Action: audit.SessionRevoked,
			At:     now,
		})
	}

	return nil
}

// VerifyAccessToken verifies a signed access token without a store lookup.
func (s *Service) VerifyAccessToken(tok string, now time.Time) (AccessClaims, error) {
	return s.tokens.Verify(tok, now)
}

// insertFreshCredential generates an opaque token and inserts its credential
// row. A duplicate hash is retried once with a new token; a second collision
// means the entropy source is compromised and the error is fatal rather than
// retried indefinitely.
func (s *Service) insertFreshCredential(ctx context.Context, now time.Time, subjectID string) (Credential, string, error) {
	var lastErr error

	for attempt := 0; attempt < 2; attempt++ {
		plain, hashHex, err := newOpaqueRefreshToken(s.cfg.RefreshTokenBytes, s.hash)
		if err != nil {
			return Credential{}, "", err
		}

		cred := Credential{
			ID:        ulid.Make().String(),
			SubjectID: subjectID,
			TokenHash: hashHex,
			CreatedAt: now,
			ExpiresAt: now.Add(s.cfg.RefreshTTL),
		}

		err = s.store.Insert(ctx, cred)
		if err == nil {
			return cred, plain, nil
		}
		if !errors.Is(err, ErrDuplicateHash) {
			return Credential{}, "", err
		}

		metricDuplicateHash.Inc()
		lastErr = err
	}

	return Credential{}, "", lastErr
}
