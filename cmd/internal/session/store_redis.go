package session

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis.
//
// Every conditional mutation runs as a Lua script so the revoked-check and
// the write execute as one atomic server-side step; client-side
// WATCH/read/write sequences would reopen the rotation race.
//
// Records live under two keys: {prefix}:cred:{tokenHash} (a Redis hash with
// the row fields) and {prefix}:id:{id} (the hash index used by MarkRotated).
// Rows are never deleted by this subsystem, but keys carry a retention TTL
// past expiry so an external retention policy has a hook.
//
// MarkRotated resolves the credential key from the id key inside its script,
// so the two keys must live on the same node. On standalone Redis this
// always holds; on Redis Cluster the prefix must be hash-tagged (for
// example "{sessiond}") so every key maps to one slot.
type RedisStore struct {
	rdb       redis.UniversalClient
	prefix    string
	retention time.Duration
}

// DefaultRedisRetention keeps revoked and expired records around for
// forensics before Redis reclaims them.
const DefaultRedisRetention = 30 * 24 * time.Hour

// NewRedisStore creates a Redis-backed credential store. An empty prefix
// defaults to "sessiond"; a non-positive retention disables key expiry.
func NewRedisStore(rdb redis.UniversalClient, prefix string, retention time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "sessiond"
	}
	return &RedisStore{rdb: rdb, prefix: prefix, retention: retention}
}

var insertCredentialLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1],
  'id', ARGV[1],
  'subject_id', ARGV[2],
  'created_at', ARGV[3],
  'expires_at', ARGV[4],
  'revoked_at', '',
  'replaced_by', '')
redis.call('SET', KEYS[2], ARGV[5])
local keepUntil = tonumber(ARGV[6])
if keepUntil > 0 then
  redis.call('PEXPIREAT', KEYS[1], keepUntil)
  redis.call('PEXPIREAT', KEYS[2], keepUntil)
end
return 1
`)

var markRotatedLua = redis.NewScript(`
local hash = redis.call('GET', KEYS[1])
if not hash then
  return 0
end
local key = ARGV[1] .. ':cred:' .. hash
if redis.call('EXISTS', key) == 0 then
  return 0
end
if redis.call('HGET', key, 'revoked_at') ~= '' then
  return 0
end
redis.call('HSET', key, 'revoked_at', ARGV[2], 'replaced_by', ARGV[3])
return 1
`)

var markRevokedLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
if redis.call('HGET', KEYS[1], 'revoked_at') ~= '' then
  return 0
end
redis.call('HSET', KEYS[1], 'revoked_at', ARGV[1])
return 1
`)

func (s *RedisStore) credKey(tokenHash string) string { return s.prefix + ":cred:" + tokenHash }
func (s *RedisStore) idKey(id string) string          { return s.prefix + ":id:" + id }

// Insert adds a new credential record.
func (s *RedisStore) Insert(ctx context.Context, cred Credential) error {
	var keepUntil int64
	if s.retention > 0 {
		keepUntil = cred.ExpiresAt.Add(s.retention).UnixMilli()
	}

	n, err := insertCredentialLua.Run(ctx, s.rdb,
		[]string{s.credKey(cred.TokenHash), s.idKey(cred.ID)},
		cred.ID,
		cred.SubjectID,
		cred.CreatedAt.UTC().Format(time.RFC3339Nano),
		cred.ExpiresAt.UTC().Format(time.RFC3339Nano),
		cred.TokenHash,
		strconv.FormatInt(keepUntil, 10),
	).Int64()
	if err != nil {
		return storeFailure("redis.insert", err)
	}
	if n == 0 {
		return ErrDuplicateHash
	}

	return nil
}

// FindUsableByHash returns the credential for tokenHash while usable.
func (s *RedisStore) FindUsableByHash(ctx context.Context, tokenHash string, now time.Time) (Credential, error) {
	fields, err := s.rdb.HGetAll(ctx, s.credKey(tokenHash)).Result()
	if err != nil {
		return Credential{}, storeFailure("redis.find_usable", err)
	}
	if len(fields) == 0 {
		return Credential{}, ErrCredentialNotFound
	}

	cred, err := decodeCredential(tokenHash, fields)
	if err != nil {
		return Credential{}, storeFailure("redis.find_usable", err)
	}
	if !cred.Usable(now) {
		return Credential{}, ErrCredentialNotFound
	}

	return cred, nil
}

// MarkRotated conditionally revokes credential id and links its successor.
func (s *RedisStore) MarkRotated(ctx context.Context, now time.Time, id string, replacedByTokenHash string) (bool, error) {
	n, err := markRotatedLua.Run(ctx, s.rdb,
		[]string{s.idKey(id)},
		s.prefix,
		now.UTC().Format(time.RFC3339Nano),
		replacedByTokenHash,
	).Int64()
	if err != nil {
		return false, storeFailure("redis.mark_rotated", err)
	}

	return n == 1, nil
}

// MarkRevokedByHash conditionally revokes the credential for tokenHash.
func (s *RedisStore) MarkRevokedByHash(ctx context.Context, now time.Time, tokenHash string) (bool, error) {
	n, err := markRevokedLua.Run(ctx, s.rdb,
		[]string{s.credKey(tokenHash)},
		now.UTC().Format(time.RFC3339Nano),
	).Int64()
	if err != nil {
		return false, storeFailure("redis.mark_revoked", err)
	}

	return n == 1, nil
}

func decodeCredential(tokenHash string, fields map[string]string) (Credential, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return Credential{}, errors.New("corrupt created_at")
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, fields["expires_at"])
	if err != nil {
		return Credential{}, errors.New("corrupt expires_at")
	}

	cred := Credential{
		ID:        fields["id"],
		SubjectID: fields["subject_id"],
		TokenHash: tokenHash,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}

	if v := fields["revoked_at"]; v != "" {
		at, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return Credential{}, errors.New("corrupt revoked_at")
		}
		cred.RevokedAt = &at
	}
	if v := fields["replaced_by"]; v != "" {
		cred.ReplacedByTokenHash = &v
	}

	return cred, nil
}
