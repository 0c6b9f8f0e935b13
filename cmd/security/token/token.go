package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// MinHMACKeyBytes is the minimum accepted HMAC key length.
const MinHMACKeyBytes = 32

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// Hasher returns the credential hashing function for the given key.
//
// An empty key selects plain SHA-256. A non-empty key selects keyed
// HMAC-SHA256; keys shorter than MinHMACKeyBytes are rejected so a
// deployment cannot silently run with weak keyed hashing.
func Hasher(key []byte) (func(string) string, error) {
	if len(key) == 0 {
		return HashSHA256Hex, nil
	}
	if len(key) < MinHMACKeyBytes {
		return nil, ErrHMACKeyTooShort
	}

	k := make([]byte, len(key))
	copy(k, key)
	return func(s string) string { return HashHMACSHA256Hex(s, k) }, nil
}
