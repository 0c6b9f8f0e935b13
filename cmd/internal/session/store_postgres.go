package session

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the Postgres error code for unique constraint breaks.
const uniqueViolation = "23505"

// PostgresStore implements Store using PostgreSQL
// (sessiond.refresh_credentials).
//
// Conditional mutations are single UPDATE statements guarded by
// revoked_at IS NULL; the affected-row count is the race outcome. No
// transaction or row lock is needed: the predicate itself is the correctness
// guard.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed credential store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Insert adds a new credential row.
func (s *PostgresStore) Insert(ctx context.Context, cred Credential) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessiond.refresh_credentials (
			id, subject_id, token_hash,
			created_at, expires_at, revoked_at, replaced_by_token_hash
		) VALUES ($1, $2, $3, $4, $5, NULL, NULL)
	`, cred.ID, cred.SubjectID, cred.TokenHash, cred.CreatedAt, cred.ExpiresAt)
	if isUniqueViolation(err) {
		return ErrDuplicateHash
	}
	if err != nil {
		return storeFailure("postgres.insert", err)
	}

	return nil
}

// FindUsableByHash loads the credential for tokenHash while it is neither
// revoked nor expired. The predicate runs in the database so the store is the
// source of truth for expiry.
func (s *PostgresStore) FindUsableByHash(ctx context.Context, tokenHash string, now time.Time) (Credential, error) {
	var cred Credential

	err := s.pool.QueryRow(ctx, `
		SELECT
			id, subject_id, token_hash,
			created_at, expires_at, revoked_at, replaced_by_token_hash
		FROM sessiond.refresh_credentials
		WHERE token_hash = $1
		  AND revoked_at IS NULL
		  AND expires_at > $2
	`, tokenHash, now).Scan(
		&cred.ID,
		&cred.SubjectID,
		&cred.TokenHash,
		&cred.CreatedAt,
		&cred.ExpiresAt,
		&cred.RevokedAt,
		&cred.ReplacedByTokenHash,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Credential{}, ErrCredentialNotFound
	}
	if err != nil {
		return Credential{}, storeFailure("postgres.find_usable", err)
	}

	return cred, nil
}

// MarkRotated conditionally revokes the old credential and links its
// successor hash in one statement.
func (s *PostgresStore) MarkRotated(ctx context.Context, now time.Time, id string, replacedByTokenHash string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessiond.refresh_credentials
		SET revoked_at = $2,
		    replaced_by_token_hash = $3
		WHERE id = $1
		  AND revoked_at IS NULL
	`, id, now, replacedByTokenHash)
	if err != nil {
		return false, storeFailure("postgres.mark_rotated", err)
	}

	return tag.RowsAffected() == 1, nil
}

// MarkRevokedByHash conditionally revokes the credential matching tokenHash.
func (s *PostgresStore) MarkRevokedByHash(ctx context.Context, now time.Time, tokenHash string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessiond.refresh_credentials
		SET revoked_at = $2
		WHERE token_hash = $1
		  AND revoked_at IS NULL
	`, tokenHash, now)
	if err != nil {
		return false, storeFailure("postgres.mark_revoked", err)
	}

	return tag.RowsAffected() == 1, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
