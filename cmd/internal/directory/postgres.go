package directory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDirectory resolves subjects from sessiond.users.
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

// NewPostgresDirectory creates a Postgres-backed Directory.
func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{pool: pool}
}

// FindUser loads a subject's current identity and roles.
func (d *PostgresDirectory) FindUser(ctx context.Context, id string) (User, error) {
	var u User

	err := d.pool.QueryRow(ctx, `
		SELECT id, display_name, roles
		FROM sessiond.users
		WHERE id = $1
	`, id).Scan(&u.ID, &u.DisplayName, &u.Roles)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}

	return u, nil
}
