package session

import (
	"context"
	"time"
)

// Credential is one row of the refresh-credential table: a single issued or
// rotated refresh token, identified by the hash of its raw value.
//
// The raw token is never persisted. Rows are never deleted by this subsystem;
// revoked rows form the rotation chain kept for audit and forensics.
type Credential struct {
	ID        string
	SubjectID string
	TokenHash string

	CreatedAt time.Time

	// ExpiresAt is fixed at creation (fixed-window policy) and never extended
	// on use. Rotation starts a fresh window on the successor row.
	ExpiresAt time.Time

	// RevokedAt is set exactly once and never cleared. A non-nil value is
	// terminal: the credential can no longer be rotated or revoked.
	RevokedAt *time.Time

	// ReplacedByTokenHash links a rotated credential to its successor's hash,
	// forming a forward-only chain.
	ReplacedByTokenHash *string
}

// Usable reports whether the credential may still be rotated or revoked.
func (c Credential) Usable(now time.Time) bool {
	return c.RevokedAt == nil && c.ExpiresAt.After(now)
}

// Store abstracts persistence for refresh credentials.
//
// MarkRotated and MarkRevokedByHash are the system's only synchronization
// points: implementations must make the revoked-at-is-null check and the
// write a single indivisible step (a conditional UPDATE, a server-side
// script, or an equivalent primitive). A separate read followed by a write
// reintroduces the double-rotation race this contract exists to close.
type Store interface {
	// Insert adds a new credential row. Returns ErrDuplicateHash when the
	// token hash already exists.
	Insert(ctx context.Context, cred Credential) error

	// FindUsableByHash returns the credential for tokenHash only while it is
	// usable: not revoked and not expired as of now. Returns
	// ErrCredentialNotFound otherwise; the store evaluates the predicate.
	FindUsableByHash(ctx context.Context, tokenHash string, now time.Time) (Credential, error)

	// MarkRotated conditionally revokes credential id and links its successor
	// hash, only if revoked_at is still null. Returns false when another
	// caller rotated or revoked it first; a lost race is not an error.
	MarkRotated(ctx context.Context, now time.Time, id string, replacedByTokenHash string) (bool, error)

	// MarkRevokedByHash conditionally revokes the credential matching
	// tokenHash, only if revoked_at is still null. Returns false when no row
	// was affected.
	MarkRevokedByHash(ctx context.Context, now time.Time, tokenHash string) (bool, error)
}
