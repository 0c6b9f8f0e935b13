// Package session implements the session-credential lifecycle: issuance,
// rotation, and revocation of long-lived refresh credentials paired with
// short-lived signed access tokens.
//
// Refresh tokens are opaque random strings stored only as hashes; the raw
// token is returned to the caller exactly once and is never recoverable from
// stored state. Rotation is single-use: the old credential is revoked through
// the store's conditional mark-rotated primitive before the successor row is
// inserted, so concurrent rotations of the same token have exactly one
// winner and a crash mid-rotation leaves the chain terminated, never
// duplicated.
//
// Access tokens are minted through an AccessTokenIssuer adapter (PASETO
// v4.public or JWT HS256). Claims are re-resolved from the user directory on
// every rotation so role changes take effect without waiting for expiry.
package session
