// Package directory exposes the identity-resolution capability consumed by
// the session subsystem: resolving a subject id to its current display name
// and role claims. Account storage, registration, and password verification
// live outside this system.
package directory

import (
	"context"
	"errors"
	"sync"
)

// ErrUserNotFound is returned when a subject id does not resolve.
var ErrUserNotFound = errors.New("user not found")

// User is the resolved identity used to mint access-token claims.
type User struct {
	ID          string
	DisplayName string
	Roles       []string
}

// Directory resolves subjects by id.
//
// Rotation re-resolves the subject through this interface every time so that
// role and permission changes take effect on the next rotation, not at the
// credential's original issuance.
type Directory interface {
	FindUser(ctx context.Context, id string) (User, error)
}

// StaticDirectory is an in-memory Directory for tests and DB-less dev mode.
type StaticDirectory struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewStaticDirectory creates an empty StaticDirectory.
func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{users: make(map[string]User)}
}

// Put inserts or replaces a user.
func (d *StaticDirectory) Put(u User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

// Delete removes a user.
func (d *StaticDirectory) Delete(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.users, id)
}

// FindUser resolves a subject by id.
func (d *StaticDirectory) FindUser(_ context.Context, id string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}

	roles := make([]string, len(u.Roles))
	copy(roles, u.Roles)
	u.Roles = roles
	return u, nil
}
