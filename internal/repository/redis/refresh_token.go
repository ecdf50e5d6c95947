package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/dtroode/authkeeper/internal/model"
)

// Key layout under prefix:
//
//	rt:<hash>    record blob, looked up by refresh digest
//	rtid:<id>    hash {hash, user}
//	rtu:<user>   set of record ids
//	rtexp        sorted set of ids scored by expiry (unix ms)
//
// Scripts build keys from prefix, so the store targets a single node.
const luaHelpers = `
local prefix = ARGV[1]

local function remove(id)
  local idKey = prefix .. "rtid:" .. id
  local h = redis.call("HMGET", idKey, "hash", "user")
  redis.call("ZREM", prefix .. "rtexp", id)
  if not h[1] then
    return 0
  end
  redis.call("DEL", idKey, prefix .. "rt:" .. h[1])
  redis.call("SREM", prefix .. "rtu:" .. h[2], id)
  return 1
end

local function taken(id, hash)
  return redis.call("EXISTS", prefix .. "rt:" .. hash) == 1 or redis.call("EXISTS", prefix .. "rtid:" .. id) == 1
end

local function insert(id, hash, user, blob, ttl, score)
  redis.call("SET", prefix .. "rt:" .. hash, blob, "PX", ttl)
  redis.call("HSET", prefix .. "rtid:" .. id, "hash", hash, "user", user)
  redis.call("PEXPIRE", prefix .. "rtid:" .. id, ttl)
  redis.call("SADD", prefix .. "rtu:" .. user, id)
  redis.call("ZADD", prefix .. "rtexp", score, id)
end
`

const (
	statusMissing int64 = 0
	statusTaken   int64 = 2
)

// ARGV: prefix, id, hash, user, blob, ttl, score
var createLua = goredis.NewScript(luaHelpers + `
if taken(ARGV[2], ARGV[3]) then
  return 2
end
insert(ARGV[2], ARGV[3], ARGV[4], ARGV[5], ARGV[6], ARGV[7])
return 1
`)

// ARGV: prefix, id, hash, user, blob, ttl, score, oldID
var rotateLua = goredis.NewScript(luaHelpers + `
if redis.call("EXISTS", prefix .. "rtid:" .. ARGV[8]) == 0 then
  return 0
end
if taken(ARGV[2], ARGV[3]) then
  return 2
end
remove(ARGV[8])
insert(ARGV[2], ARGV[3], ARGV[4], ARGV[5], ARGV[6], ARGV[7])
return 1
`)

// ARGV: prefix, id, hash, user, blob, ttl, score
var replaceLua = goredis.NewScript(luaHelpers + `
if taken(ARGV[2], ARGV[3]) then
  return 2
end
local userKey = prefix .. "rtu:" .. ARGV[4]
for _, id in ipairs(redis.call("SMEMBERS", userKey)) do
  remove(id)
end
redis.call("DEL", userKey)
insert(ARGV[2], ARGV[3], ARGV[4], ARGV[5], ARGV[6], ARGV[7])
return 1
`)

// ARGV: prefix, id
var deleteLua = goredis.NewScript(luaHelpers + `
return remove(ARGV[2])
`)

// ARGV: prefix, user
var deleteUserLua = goredis.NewScript(luaHelpers + `
local userKey = prefix .. "rtu:" .. ARGV[2]
local n = 0
for _, id in ipairs(redis.call("SMEMBERS", userKey)) do
  n = n + remove(id)
end
redis.call("DEL", userKey)
return n
`)

// ARGV: prefix, before (unix ms, exclusive)
var deleteExpiredLua = goredis.NewScript(luaHelpers + `
local n = 0
for _, id in ipairs(redis.call("ZRANGEBYSCORE", prefix .. "rtexp", "-inf", "(" .. ARGV[2])) do
  n = n + remove(id)
end
return n
`)

var _ model.SessionStore = (*RefreshTokenRepository)(nil)

// RefreshTokenRepository is a redis backed session store. Compound operations
// run as Lua scripts and are atomic on the server.
type RefreshTokenRepository struct {
	client    goredis.UniversalClient
	prefix    string
	retention time.Duration
	now       func() time.Time
}

// NewRefreshTokenRepository creates session store. Records outlive their
// expiry by retention so that late refresh attempts are reported as expired.
func NewRefreshTokenRepository(client goredis.UniversalClient, prefix string, retention time.Duration) *RefreshTokenRepository {
	return &RefreshTokenRepository{
		client:    client,
		prefix:    prefix,
		retention: retention,
		now:       time.Now,
	}
}

type record struct {
	ID        uuid.UUID `json:"id"`
	TokenHash string    `json:"token_hash"`
	UserID    uuid.UUID `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *RefreshTokenRepository) args(token model.RefreshToken) ([]any, error) {
	blob, err := json.Marshal(record(token))
	if err != nil {
		return nil, fmt.Errorf("failed to encode refresh token: %w", err)
	}

	ttl := token.ExpiresAt.Sub(r.now()) + r.retention
	if ttl < time.Second {
		ttl = time.Second
	}

	return []any{
		r.prefix,
		token.ID.String(),
		token.TokenHash,
		token.UserID.String(),
		blob,
		ttl.Milliseconds(),
		token.ExpiresAt.UnixMilli(),
	}, nil
}

func (r *RefreshTokenRepository) Create(ctx context.Context, token model.RefreshToken) error {
	args, err := r.args(token)
	if err != nil {
		return err
	}

	status, err := createLua.Run(ctx, r.client, nil, args...).Int64()
	if err != nil {
		return fmt.Errorf("failed to create refresh token: %w", err)
	}
	if status == statusTaken {
		return model.ErrAlreadyExists
	}

	return nil
}

func (r *RefreshTokenRepository) GetByHash(ctx context.Context, tokenHash string) (model.RefreshToken, error) {
	blob, err := r.client.Get(ctx, r.prefix+"rt:"+tokenHash).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return model.RefreshToken{}, model.ErrNotFound
		}
		return model.RefreshToken{}, fmt.Errorf("failed to get refresh token by hash: %w", err)
	}

	var rec record
	if err := json.Unmarshal(blob, &rec); err != nil {
		return model.RefreshToken{}, fmt.Errorf("failed to decode refresh token: %w", err)
	}

	return model.RefreshToken(rec), nil
}

func (r *RefreshTokenRepository) DeleteByID(ctx context.Context, id uuid.UUID) (bool, error) {
	n, err := deleteLua.Run(ctx, r.client, nil, r.prefix, id.String()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return n > 0, nil
}

func (r *RefreshTokenRepository) DeleteAllByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := deleteUserLua.Run(ctx, r.client, nil, r.prefix, userID.String()).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to delete refresh tokens by user: %w", err)
	}
	return n, nil
}

// Rotate removes oldID and stores next in one script run. Of concurrent
// callers with the same oldID only the first finds it.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldID uuid.UUID, next model.RefreshToken) error {
	args, err := r.args(next)
	if err != nil {
		return err
	}

	status, err := rotateLua.Run(ctx, r.client, nil, append(args, oldID.String())...).Int64()
	if err != nil {
		return fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	switch status {
	case statusMissing:
		return model.ErrNotFound
	case statusTaken:
		return model.ErrAlreadyExists
	}

	return nil
}

func (r *RefreshTokenRepository) ReplaceAllForUser(ctx context.Context, next model.RefreshToken) error {
	args, err := r.args(next)
	if err != nil {
		return err
	}

	status, err := replaceLua.Run(ctx, r.client, nil, args...).Int64()
	if err != nil {
		return fmt.Errorf("failed to replace user sessions: %w", err)
	}
	if status == statusTaken {
		return model.ErrAlreadyExists
	}

	return nil
}

// DeleteExpired removes records whose expiry is before the instant. Records
// already evicted by key TTL are dropped from the index but not counted.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	n, err := deleteExpiredLua.Run(ctx, r.client, nil, r.prefix, strconv.FormatInt(before.UnixMilli(), 10)).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired refresh tokens: %w", err)
	}
	return n, nil
}
