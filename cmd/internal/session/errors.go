package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidOrExpiredToken is the single undifferentiated failure for a
	// presented refresh token: unknown, expired, already revoked, or lost a
	// rotation race. Callers must re-authenticate; they are deliberately not
	// told which case occurred.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired refresh token")

	// ErrStoreUnavailable classifies transient store failures (connection
	// loss, timeout). Safe for the caller to retry with backoff.
	ErrStoreUnavailable = errors.New("credential store unavailable")

	// ErrDuplicateHash is returned by Store.Insert when the token hash already
	// exists. Issue retries once with a fresh token; a recurrence means the
	// entropy source is compromised and the error is fatal.
	ErrDuplicateHash = errors.New("duplicate token hash")

	// ErrCredentialNotFound is returned by stores when no usable credential
	// matches a hash. The service maps it to ErrInvalidOrExpiredToken.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// StoreError wraps an infrastructure failure from a Store implementation.
// It unwraps to ErrStoreUnavailable so callers can classify retryable
// failures with errors.Is instead of string matching.
type StoreError struct {
	Op  string
	Err error
}

func (e StoreError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrStoreUnavailable, e.Err)
}

func (e StoreError) Unwrap() error { return ErrStoreUnavailable }

func storeFailure(op string, err error) error {
	return StoreError{Op: op, Err: err}
}
