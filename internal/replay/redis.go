package replay

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on a Redis keyspace. Nonce reservations use
// SETNX and volume counters use a small Lua script so both stay single
// atomic operations on the server.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a replay store on the given client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "replay"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// addVolumeScript increments the used-volume counter only when the result
// stays within the stored limit. Returns {1, newTotal} on success and
// {0, currentTotal} when the budget would be exceeded.
var addVolumeScript = redis.NewScript(`
local used_key = KEYS[1]
local limit_key = KEYS[2]
local amount = tonumber(ARGV[1])

local limit = tonumber(redis.call('GET', limit_key))
if limit == nil then
  return {-1, 0}
end

local used = tonumber(redis.call('GET', used_key))
if used == nil then used = 0 end

if used + amount > limit then
  return {0, used}
end

local total = redis.call('INCRBY', used_key, amount)
return {1, total}
`)

func (s *RedisStore) nonceKey(sessionKey string, nonce uint64) string {
	return fmt.Sprintf("%s:nonce:%s:%d", s.prefix, sessionKey, nonce)
}

func (s *RedisStore) sessionKeys(sessionKey string) (used, limit, expires string) {
	base := s.prefix + ":session:" + sessionKey
	return base + ":used", base + ":limit", base + ":expires"
}

// Session loads the stored budget for a session key.
func (s *RedisStore) Session(ctx context.Context, sessionKey string) (*SessionState, error) {
	usedKey, limitKey, expKey := s.sessionKeys(sessionKey)

	vals, err := s.client.MGet(ctx, usedKey, limitKey, expKey).Result()
	if err != nil {
		return nil, fmt.Errorf("replay: session lookup failed: %w", err)
	}
	if vals[1] == nil {
		return nil, ErrSessionUnknown
	}

	state := &SessionState{}
	if vals[0] != nil {
		state.VolumeUsed, _ = strconv.ParseInt(vals[0].(string), 10, 64)
	}
	state.VolumeLimit, _ = strconv.ParseInt(vals[1].(string), 10, 64)
	if vals[2] != nil {
		unix, _ := strconv.ParseInt(vals[2].(string), 10, 64)
		if unix > 0 {
			state.ExpiresAt = time.Unix(unix, 0)
		}
	}
	return state, nil
}

// PutSession stores a session budget.
func (s *RedisStore) PutSession(ctx context.Context, sessionKey string, state *SessionState) error {
	usedKey, limitKey, expKey := s.sessionKeys(sessionKey)

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, usedKey, state.VolumeUsed, 0)
	pipe.Set(ctx, limitKey, state.VolumeLimit, 0)
	var unix int64
	if !state.ExpiresAt.IsZero() {
		unix = state.ExpiresAt.Unix()
	}
	pipe.Set(ctx, expKey, unix, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("replay: session store failed: %w", err)
	}
	return nil
}

// ReserveNonce reserves a nonce with SETNX; a prior reservation surfaces as
// ErrNonceReused.
func (s *RedisStore) ReserveNonce(ctx context.Context, sessionKey string, nonce uint64) error {
	ok, err := s.client.SetNX(ctx, s.nonceKey(sessionKey, nonce), 1, 0).Result()
	if err != nil {
		return fmt.Errorf("replay: nonce reservation failed: %w", err)
	}
	if !ok {
		return ErrNonceReused
	}
	return nil
}

// ReleaseNonce drops a reservation made in this validation attempt.
func (s *RedisStore) ReleaseNonce(ctx context.Context, sessionKey string, nonce uint64) error {
	if err := s.client.Del(ctx, s.nonceKey(sessionKey, nonce)).Err(); err != nil {
		return fmt.Errorf("replay: nonce release failed: %w", err)
	}
	return nil
}

// AddVolume runs the atomic check-and-increment script.
func (s *RedisStore) AddVolume(ctx context.Context, sessionKey string, amount int64) (int64, error) {
	usedKey, limitKey, _ := s.sessionKeys(sessionKey)

	res, err := addVolumeScript.Run(ctx, s.client, []string{usedKey, limitKey}, amount).Result()
	if err != nil {
		return 0, fmt.Errorf("replay: volume increment failed: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return 0, fmt.Errorf("replay: unexpected script result %v", res)
	}
	status, _ := vals[0].(int64)
	total, _ := vals[1].(int64)

	switch status {
	case 1:
		return total, nil
	case 0:
		return total, ErrVolumeExceeded
	default:
		return 0, ErrSessionUnknown
	}
}
