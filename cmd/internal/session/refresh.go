package session

import (
	"crypto/rand"
	"encoding/base64"
)

// newOpaqueRefreshToken draws nBytes from the OS CSPRNG and returns the raw
// token together with its storage hash. An error from the random source is
// unrecoverable: callers must fail the operation rather than degrade to
// weaker randomness.
func newOpaqueRefreshToken(nBytes int, hash func(string) string) (plain string, hashHex string, err error) {
	b := make([]byte, nBytes)
	if _, err = rand.Read(b); err != nil {
		return "", "", err
	}

	// URL-safe, no padding.
	plain = base64.RawURLEncoding.EncodeToString(b)

	return plain, hash(plain), nil
}
