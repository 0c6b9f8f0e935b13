// Package token provides refresh-credential hashing primitives for sessiond.
//
// It is the single source of truth for credential hashing behavior.
//
// The hash is a deterministic lookup key, not a password hash: the raw token
// already carries full entropy, so there is no per-token salt (a salt would
// defeat index lookup by hash). Output is a stable 64-char hex digest.
//
// Modes:
//   - SHA-256(token) when no HMAC key is configured (dev default).
//   - HMAC-SHA256(token, key) when a deployment supplies a key of at least
//     MinHMACKeyBytes bytes.
package token
